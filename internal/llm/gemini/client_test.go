package gemini

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"ragchat/internal/embed"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	t.Setenv("GEMINI_API_KEY", "test-key")
	t.Setenv("RAGCHAT_GEMINI_BASE_URL", srv.URL)
	c := NewFromEnv()
	if c == nil {
		t.Fatal("expected client with key set")
	}
	return c
}

func TestNewFromEnvWithoutKey(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "")
	if c := NewFromEnv(); c != nil {
		t.Fatal("expected nil client without key")
	}
}

func TestGenerate(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if !strings.Contains(r.URL.Path, ":generateContent") {
			t.Errorf("path=%s", r.URL.Path)
		}
		if r.URL.Query().Get("key") != "test-key" {
			t.Errorf("missing key param")
		}
		var req struct {
			Contents []struct {
				Parts []struct {
					Text string `json:"text"`
				} `json:"parts"`
			} `json:"contents"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		if len(req.Contents) != 1 || req.Contents[0].Parts[0].Text != "hello" {
			t.Errorf("unexpected request body")
		}
		_, _ = w.Write([]byte(`{"candidates":[{"content":{"parts":[{"text":"Hi "},{"text":"there."}]}}]}`))
	})
	got, err := c.Generate(context.Background(), "hello")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if got != "Hi there." {
		t.Fatalf("answer=%q", got)
	}
}

func TestGenerateHTTPError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "quota exceeded", http.StatusTooManyRequests)
	})
	if _, err := c.Generate(context.Background(), "hello"); err == nil {
		t.Fatal("expected error on non-2xx")
	}
}

func TestEmbed(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if !strings.Contains(r.URL.Path, ":embedContent") {
			t.Errorf("path=%s", r.URL.Path)
		}
		_, _ = w.Write([]byte(`{"embedding":{"values":[0.1,0.2,0.3]}}`))
	})
	vec, err := c.Embed(context.Background(), "hello")
	if err != nil {
		t.Fatalf("embed: %v", err)
	}
	if len(vec) != 3 {
		t.Fatalf("vector=%v", vec)
	}
}

func TestEmbedMissingValues(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{}`))
	})
	_, err := c.Embed(context.Background(), "hello")
	if !errors.Is(err, embed.ErrUnavailable) {
		t.Fatalf("want ErrUnavailable, got %v", err)
	}
}

func TestEmbedTransportFailure(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {})
	c.baseURL = "http://127.0.0.1:1" // nothing listens here
	_, err := c.Embed(context.Background(), "hello")
	if !errors.Is(err, embed.ErrUnavailable) {
		t.Fatalf("want ErrUnavailable, got %v", err)
	}
}
