package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"ragchat/internal/store"
)

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// handleDocuments lists the loaded corpus without content or embeddings.
func (a *API) handleDocuments(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	docs, err := a.corpus.Load(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load documents")
		return
	}
	type docInfo struct {
		ID    string `json:"id"`
		Title string `json:"title"`
	}
	out := make([]docInfo, len(docs))
	for i, d := range docs {
		out[i] = docInfo{ID: d.ID, Title: d.Title}
	}
	writeJSON(w, http.StatusOK, map[string]any{"documents": out, "count": len(out)})
}

func (a *API) handleConversations(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		convs, err := a.conv.ListConversations()
		if err != nil {
			writeError(w, http.StatusInternalServerError, "Failed to list conversations")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"conversations": convs, "count": len(convs)})
	case http.MethodPost:
		var req struct {
			Title string `json:"title"`
		}
		if r.Body != nil {
			_ = json.NewDecoder(r.Body).Decode(&req) // empty body means untitled
		}
		conv, err := a.conv.CreateConversation(strings.TrimSpace(req.Title))
		if err != nil {
			writeError(w, http.StatusInternalServerError, "Failed to create conversation")
			return
		}
		writeJSON(w, http.StatusCreated, conv)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

// handleConversation serves GET /conversations/{id}.
func (a *API) handleConversation(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	id := strings.TrimPrefix(r.URL.Path, "/conversations/")
	if id == "" || strings.Contains(id, "/") {
		writeError(w, http.StatusNotFound, "conversation not found")
		return
	}
	conv, err := a.conv.GetConversation(id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "conversation not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to load conversation")
		return
	}
	writeJSON(w, http.StatusOK, conv)
}
