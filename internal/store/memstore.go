package store

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"ragchat/internal/models"
)

// MemStore is the in-memory conversation store used when no sqlite path is
// configured. Contents are lost on process exit.
type MemStore struct {
	mu    sync.Mutex
	convs map[string]*models.Conversation
}

func NewMem() *MemStore {
	return &MemStore{convs: make(map[string]*models.Conversation)}
}

func (s *MemStore) CreateConversation(title string) (*models.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := &models.Conversation{
		ID:        uuid.NewString(),
		Title:     title,
		CreatedAt: time.Now().UTC(),
	}
	s.convs[c.ID] = c
	return &models.Conversation{ID: c.ID, Title: c.Title, CreatedAt: c.CreatedAt}, nil
}

func (s *MemStore) GetConversation(id string) (*models.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.convs[id]
	if !ok {
		return nil, ErrNotFound
	}
	out := &models.Conversation{ID: c.ID, Title: c.Title, CreatedAt: c.CreatedAt}
	out.Messages = append(out.Messages, c.Messages...)
	return out, nil
}

func (s *MemStore) ListConversations() ([]*models.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*models.Conversation, 0, len(s.convs))
	for _, c := range s.convs {
		out = append(out, &models.Conversation{ID: c.ID, Title: c.Title, CreatedAt: c.CreatedAt})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *MemStore) AppendMessage(convID string, msg models.ChatMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.convs[convID]
	if !ok {
		return ErrNotFound
	}
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	c.Messages = append(c.Messages, msg)
	return nil
}

func (s *MemStore) CleanupConversations(ttlDays int) (int, error) {
	if ttlDays <= 0 {
		return 0, nil
	}
	cutoff := time.Now().UTC().AddDate(0, 0, -ttlDays)
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for id, c := range s.convs {
		if c.CreatedAt.Before(cutoff) {
			delete(s.convs, id)
			removed++
		}
	}
	return removed, nil
}

func (s *MemStore) Close() error { return nil }
