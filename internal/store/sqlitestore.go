package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"ragchat/internal/models"
	sqlm "ragchat/internal/storage/sqlite"
)

// SQLiteStore persists conversations in a single sqlite file.
type SQLiteStore struct {
	db *sql.DB
}

func NewSQLite(path string) (*SQLiteStore, error) {
	if path == "" {
		return nil, errors.New("sqlite path required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	if err := (sqlm.Manager{}).UpToLatest(context.Background(), db); err != nil {
		db.Close()
		return nil, err
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) CreateConversation(title string) (*models.Conversation, error) {
	c := &models.Conversation{
		ID:        uuid.NewString(),
		Title:     title,
		CreatedAt: time.Now().UTC(),
	}
	_, err := s.db.Exec(`INSERT INTO conversations(id, title, created_at) VALUES(?,?,?)`,
		c.ID, c.Title, c.CreatedAt.Format(time.RFC3339))
	if err != nil {
		return nil, err
	}
	return c, nil
}

func (s *SQLiteStore) GetConversation(id string) (*models.Conversation, error) {
	c := &models.Conversation{ID: id}
	var created string
	err := s.db.QueryRow(`SELECT title, created_at FROM conversations WHERE id=?`, id).
		Scan(&c.Title, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	c.CreatedAt, _ = time.Parse(time.RFC3339, created)

	// rowid is insertion-monotonic; created_at alone is second-granularity
	// and cannot break ties between turns appended in the same second
	rows, err := s.db.Query(`SELECT id, sender, content, sources, created_at
        FROM conversation_messages WHERE conv_id=? ORDER BY rowid`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var m models.ChatMessage
		var sender, ts string
		var sources sql.NullString
		if err := rows.Scan(&m.ID, &sender, &m.Text, &sources, &ts); err != nil {
			return nil, err
		}
		m.Sender = models.Sender(sender)
		if sources.Valid && sources.String != "" {
			_ = json.Unmarshal([]byte(sources.String), &m.Sources)
		}
		m.CreatedAt, _ = time.Parse(time.RFC3339, ts)
		c.Messages = append(c.Messages, m)
	}
	return c, rows.Err()
}

func (s *SQLiteStore) ListConversations() ([]*models.Conversation, error) {
	rows, err := s.db.Query(`SELECT id, title, created_at FROM conversations ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*models.Conversation
	for rows.Next() {
		c := &models.Conversation{}
		var created string
		if err := rows.Scan(&c.ID, &c.Title, &created); err != nil {
			return nil, err
		}
		c.CreatedAt, _ = time.Parse(time.RFC3339, created)
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) AppendMessage(convID string, msg models.ChatMessage) error {
	var exists int
	if err := s.db.QueryRow(`SELECT COUNT(1) FROM conversations WHERE id=?`, convID).Scan(&exists); err != nil {
		return err
	}
	if exists == 0 {
		return ErrNotFound
	}
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	var sources any
	if len(msg.Sources) > 0 {
		b, err := json.Marshal(msg.Sources)
		if err != nil {
			return err
		}
		sources = string(b)
	}
	_, err := s.db.Exec(`INSERT INTO conversation_messages(id, conv_id, sender, content, sources, created_at)
        VALUES(?,?,?,?,?,?)`,
		msg.ID, convID, string(msg.Sender), msg.Text, sources, msg.CreatedAt.Format(time.RFC3339))
	return err
}

// CleanupConversations deletes conversations older than ttlDays along with
// their messages.
func (s *SQLiteStore) CleanupConversations(ttlDays int) (int, error) {
	if ttlDays <= 0 {
		return 0, nil
	}
	cutoff := time.Now().UTC().AddDate(0, 0, -ttlDays).Format(time.RFC3339)
	rows, err := s.db.Query(`SELECT id FROM conversations WHERE created_at < ?`, cutoff)
	if err != nil {
		return 0, err
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return 0, err
		}
		ids = append(ids, id)
	}
	rows.Close()
	for _, id := range ids {
		if _, err := s.db.Exec(`DELETE FROM conversation_messages WHERE conv_id=?`, id); err != nil {
			return 0, err
		}
		if _, err := s.db.Exec(`DELETE FROM conversations WHERE id=?`, id); err != nil {
			return 0, err
		}
	}
	return len(ids), nil
}

func (s *SQLiteStore) Close() error { return s.db.Close() }
