// Package corpus owns the in-memory document set: loaded from a JSON file
// and embedded exactly once per process lifetime.
package corpus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"

	"go.uber.org/zap"

	"ragchat/internal/llm"
	"ragchat/internal/models"
)

// ErrLoad reports a fatal corpus problem (unreadable file or malformed
// JSON). It is not retried: every subsequent Load returns the same error.
var ErrLoad = errors.New("corpus load failed")

// Store loads and caches the document corpus. The first Load reads the
// file, parses it, and embeds every document; concurrent first callers
// block on that single computation. Documents are read-only afterwards.
type Store struct {
	path string
	emb  llm.Embedder
	lg   *zap.Logger

	once sync.Once
	docs []models.Document
	err  error
}

func NewStore(path string, emb llm.Embedder, lg *zap.Logger) *Store {
	if lg == nil {
		lg = zap.NewNop()
	}
	return &Store{path: path, emb: emb, lg: lg}
}

// Load returns the corpus with embeddings populated. A document whose
// embedding call fails keeps a nil embedding and is skipped by ranking;
// the load itself still succeeds.
func (s *Store) Load(ctx context.Context) ([]models.Document, error) {
	s.once.Do(func() {
		// embedding is detached from the triggering request: a canceled
		// first caller must not poison the process-lifetime cache
		ctx := context.Background()
		b, err := os.ReadFile(s.path)
		if err != nil {
			s.err = fmt.Errorf("%w: %v", ErrLoad, err)
			return
		}
		var docs []models.Document
		if err := json.Unmarshal(b, &docs); err != nil {
			s.err = fmt.Errorf("%w: %v", ErrLoad, err)
			return
		}
		for i := range docs {
			vec, err := s.emb.Embed(ctx, docs[i].Content)
			if err != nil {
				s.lg.Warn("corpus.embed_failed",
					zap.String("doc", docs[i].ID),
					zap.Error(err))
				continue
			}
			docs[i].Embedding = vec
		}
		s.docs = docs
		s.lg.Info("corpus.loaded", zap.String("path", s.path), zap.Int("documents", len(docs)))
	})
	return s.docs, s.err
}
