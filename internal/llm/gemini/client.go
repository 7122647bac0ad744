// Package gemini implements llm.Generator and llm.Embedder against the
// Google generative-language HTTP API.
package gemini

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"ragchat/internal/embed"
)

const defaultBaseURL = "https://generativelanguage.googleapis.com/v1beta"

type Client struct {
	baseURL    string
	apiKey     string
	chatModel  string
	embedModel string
	http       *http.Client
}

// NewFromEnv builds a client from GEMINI_API_KEY and the RAGCHAT_* model
// settings. It returns nil when no API key is configured; callers treat a
// nil client as the supported degraded mode.
func NewFromEnv() *Client {
	key := os.Getenv("GEMINI_API_KEY")
	if key == "" {
		return nil
	}
	base := os.Getenv("RAGCHAT_GEMINI_BASE_URL")
	if base == "" {
		base = defaultBaseURL
	}
	chatModel := os.Getenv("RAGCHAT_CHAT_MODEL")
	if chatModel == "" {
		chatModel = "gemini-1.5-flash"
	}
	embedModel := os.Getenv("RAGCHAT_EMBEDDING_MODEL")
	if embedModel == "" {
		embedModel = "embedding-001"
	}
	return &Client{
		baseURL:    strings.TrimRight(base, "/"),
		apiKey:     key,
		chatModel:  chatModel,
		embedModel: embedModel,
		http:       &http.Client{Timeout: 60 * time.Second},
	}
}

type part struct {
	Text string `json:"text"`
}

type content struct {
	Parts []part `json:"parts"`
}

// Generate implements llm.Generator. It sends the whole prompt in one call
// and returns the concatenated candidate text.
func (c *Client) Generate(ctx context.Context, prompt string) (string, error) {
	body := map[string]any{
		"contents": []content{{Parts: []part{{Text: prompt}}}},
	}
	var out struct {
		Candidates []struct {
			Content content `json:"content"`
		} `json:"candidates"`
	}
	if err := c.post(ctx, c.chatModel, "generateContent", body, &out); err != nil {
		return "", err
	}
	if len(out.Candidates) == 0 {
		return "", nil
	}
	var b strings.Builder
	for _, p := range out.Candidates[0].Content.Parts {
		b.WriteString(p.Text)
	}
	return b.String(), nil
}

// Embed implements llm.Embedder. A transport failure or a response without
// the vector field maps to embed.ErrUnavailable.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	body := map[string]any{
		"content": content{Parts: []part{{Text: text}}},
	}
	var out struct {
		Embedding struct {
			Values []float32 `json:"values"`
		} `json:"embedding"`
	}
	if err := c.post(ctx, c.embedModel, "embedContent", body, &out); err != nil {
		return nil, fmt.Errorf("%w: %v", embed.ErrUnavailable, err)
	}
	if len(out.Embedding.Values) == 0 {
		return nil, fmt.Errorf("%w: response missing embedding values", embed.ErrUnavailable)
	}
	return out.Embedding.Values, nil
}

func (c *Client) post(ctx context.Context, model, method string, body, out any) error {
	b, err := json.Marshal(body)
	if err != nil {
		return err
	}
	url := fmt.Sprintf("%s/models/%s:%s?key=%s", c.baseURL, model, method, c.apiKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		data, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("%s http %d: %s", method, resp.StatusCode, strings.TrimSpace(string(data)))
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
