package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"ragchat/internal/config"
	"ragchat/internal/models"
	"ragchat/internal/retrieval"
	"ragchat/internal/store"
)

// sseWriter emits data-only SSE frames and flushes after each one. Writes
// stop once the request context is done.
type sseWriter struct {
	w   http.ResponseWriter
	fl  http.Flusher
	ctx context.Context
}

func newSSEWriter(w http.ResponseWriter, r *http.Request) *sseWriter {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	fl, _ := w.(http.Flusher)
	w.WriteHeader(http.StatusOK)
	if fl != nil {
		fl.Flush()
	}
	return &sseWriter{w: w, fl: fl, ctx: r.Context()}
}

func (s *sseWriter) send(v any) bool {
	if s.ctx.Err() != nil {
		return false
	}
	b, err := json.Marshal(v)
	if err != nil {
		return false
	}
	if _, err := fmt.Fprintf(s.w, "data: %s\n\n", b); err != nil {
		return false
	}
	if s.fl != nil {
		s.fl.Flush()
	}
	return true
}

type errorFrame struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// handleAsk answers POST /ask. Validation happens before the stream is
// committed; after the SSE headers are flushed every failure is reported
// as an in-stream error frame and the transport is closed.
func (a *API) handleAsk(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req struct {
		Question       any    `json:"question"`
		ConversationID string `json:"conversationID"`
		K              int    `json:"k"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Missing or invalid question")
		return
	}
	// whitespace-only questions pass through: only absent, non-string, or
	// empty values are rejected
	question, ok := req.Question.(string)
	if !ok || question == "" {
		writeError(w, http.StatusBadRequest, "Missing or invalid question")
		return
	}
	k := req.K
	if k <= 0 {
		k = config.IntEnv("RAGCHAT_RETRIEVAL_K", retrieval.DefaultK)
	}

	a.recordTurn(req.ConversationID, models.ChatMessage{
		Text:   question,
		Sender: models.SenderUser,
	})

	// headers committed from here on
	out := newSSEWriter(w, r)
	ctx := r.Context()

	scored, err := a.retr.TopDocuments(ctx, question, k)
	if err != nil && a.gen != nil {
		a.lg.Warn("ask.retrieval_failed", zap.Error(err))
		out.send(errorFrame{Error: "Failed to retrieve context", Details: err.Error()})
		return
	}

	// degraded echo mode: retrieval still ran above, its output is
	// intentionally unused
	if a.gen == nil {
		answer := "You asked: " + question
		out.send(map[string]string{"answer": answer})
		a.recordTurn(req.ConversationID, models.ChatMessage{
			Text:   answer,
			Sender: models.SenderAssistant,
		})
		a.metrics.recordAsk(0)
		return
	}

	contexts := make([]string, len(scored))
	sources := make([]string, len(scored))
	for i, s := range scored {
		contexts[i] = s.Document.Content
		sources[i] = s.Document.Title
	}
	prompt := question
	if len(contexts) > 0 {
		prompt = strings.Join(contexts, "\n\n") + "\n\n" + question
	}

	genTimeout := time.Duration(config.IntEnv("RAGCHAT_GEN_TIMEOUT_MS", 60_000)) * time.Millisecond
	genCtx, cancel := context.WithTimeout(ctx, genTimeout)
	defer cancel()
	answer, err := a.gen.Generate(genCtx, prompt)
	if err != nil {
		a.lg.Warn("ask.generation_failed", zap.Error(err))
		out.send(errorFrame{Error: "Failed to generate answer", Details: err.Error()})
		return
	}

	segments := splitSentences(answer)
	for _, seg := range segments {
		if !out.send(map[string]string{"segment": seg}) {
			return // client gone, stop writing
		}
	}
	a.metrics.recordAsk(len(segments))
	a.recordTurn(req.ConversationID, models.ChatMessage{
		Text:    answer,
		Sender:  models.SenderAssistant,
		Sources: sources,
	})
}

// recordTurn appends a message to an existing conversation. An empty ID
// means the client opted out of persistence; an unknown ID is logged and
// skipped so the stream is unaffected.
func (a *API) recordTurn(convID string, msg models.ChatMessage) {
	if convID == "" {
		return
	}
	if err := a.conv.AppendMessage(convID, msg); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			a.lg.Warn("ask.unknown_conversation", zap.String("conversation_id", convID))
			return
		}
		a.lg.Warn("ask.record_failed", zap.Error(err))
	}
}

// splitSentences cuts an answer on sentence boundaries: a period followed
// by whitespace. Each sentence keeps its terminating period; segments are
// trimmed and empties dropped.
func splitSentences(s string) []string {
	var out []string
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] != '.' || i+1 >= len(s) || !isSpace(s[i+1]) {
			continue
		}
		if seg := strings.TrimSpace(s[start : i+1]); seg != "" {
			out = append(out, seg)
		}
		i++
		for i < len(s) && isSpace(s[i]) {
			i++
		}
		start = i
		i--
	}
	if start < len(s) {
		if seg := strings.TrimSpace(s[start:]); seg != "" {
			out = append(out, seg)
		}
	}
	return out
}

func isSpace(b byte) bool {
	return b == ' ' || b == '\t' || b == '\n' || b == '\r'
}
