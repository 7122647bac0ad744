// Package retrieval answers "given this question, which document bodies
// are most relevant" by combining the corpus store, an embedder, and the
// cosine ranker.
package retrieval

import (
	"context"
	"errors"
	"fmt"

	"ragchat/internal/corpus"
	"ragchat/internal/llm"
	"ragchat/internal/models"
	"ragchat/internal/rank"
)

// ErrContextUnavailable reports that the live question could not be
// embedded, so no retrieval context can be produced.
var ErrContextUnavailable = errors.New("retrieval context unavailable")

// DefaultK is the number of documents injected into the prompt when the
// caller does not choose one.
const DefaultK = 3

type Service struct {
	store *corpus.Store
	emb   llm.Embedder
}

func NewService(store *corpus.Store, emb llm.Embedder) *Service {
	return &Service{store: store, emb: emb}
}

// TopDocuments returns the k highest-scoring documents for the question,
// most relevant first. Corpus load failures propagate unchanged; a failed
// question embedding maps to ErrContextUnavailable.
func (s *Service) TopDocuments(ctx context.Context, question string, k int) ([]models.Scored, error) {
	docs, err := s.store.Load(ctx)
	if err != nil {
		return nil, err
	}
	qvec, err := s.emb.Embed(ctx, question)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrContextUnavailable, err)
	}
	return rank.Top(qvec, docs, k), nil
}

// Context projects TopDocuments down to the document bodies, in rank order.
func (s *Service) Context(ctx context.Context, question string, k int) ([]string, error) {
	scored, err := s.TopDocuments(ctx, question, k)
	if err != nil {
		return nil, err
	}
	out := make([]string, len(scored))
	for i, sd := range scored {
		out[i] = sd.Document.Content
	}
	return out, nil
}
