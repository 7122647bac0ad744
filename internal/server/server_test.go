package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap"

	"ragchat/internal/embed"
	"ragchat/internal/models"
	"ragchat/internal/store"
)

type genFunc func(ctx context.Context, prompt string) (string, error)

func (f genFunc) Generate(ctx context.Context, prompt string) (string, error) {
	return f(ctx, prompt)
}

func writeTestCorpus(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "documents.json")
	docs := `[
		{"id":"d1","title":"Paris","content":"Paris is the capital of France."},
		{"id":"d2","title":"Berlin","content":"Berlin is the capital of Germany."},
		{"id":"d3","title":"Rome","content":"Rome is the capital of Italy."}
	]`
	if err := os.WriteFile(path, []byte(docs), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func newTestAPI(t *testing.T, gen genFunc) *API {
	t.Helper()
	if gen == nil {
		// nil generator puts the server in degraded echo mode
		return NewAPI(writeTestCorpus(t), embed.Fallback{}, nil, store.NewMem(), zap.NewNop())
	}
	return NewAPI(writeTestCorpus(t), embed.Fallback{}, gen, store.NewMem(), zap.NewNop())
}

// sseFrames decodes every data frame in an SSE body into maps.
func sseFrames(t *testing.T, body string) []map[string]any {
	t.Helper()
	var frames []map[string]any
	for _, block := range strings.Split(body, "\n\n") {
		block = strings.TrimSpace(block)
		if !strings.HasPrefix(block, "data: ") {
			continue
		}
		var m map[string]any
		if err := json.Unmarshal([]byte(strings.TrimPrefix(block, "data: ")), &m); err != nil {
			t.Fatalf("bad frame %q: %v", block, err)
		}
		frames = append(frames, m)
	}
	return frames
}

func postAsk(api *API, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/ask", strings.NewReader(body))
	rec := httptest.NewRecorder()
	api.mux().ServeHTTP(rec, req)
	return rec
}

func TestAskRejectsInvalidQuestion(t *testing.T) {
	api := newTestAPI(t, nil)
	for _, body := range []string{
		`{}`,
		`{"question":123}`,
		`{"question":""}`,
		`not json`,
	} {
		rec := postAsk(api, body)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("body %q: status = %d, want 400", body, rec.Code)
		}
		var got map[string]string
		if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
			t.Fatalf("body %q: %v", body, err)
		}
		if got["error"] != "Missing or invalid question" {
			t.Errorf("body %q: error = %q", body, got["error"])
		}
	}
}

func TestAskAcceptsWhitespaceQuestion(t *testing.T) {
	api := newTestAPI(t, nil)
	rec := postAsk(api, `{"question":"   "}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	frames := sseFrames(t, rec.Body.String())
	if len(frames) != 1 {
		t.Fatalf("frames = %d, want 1", len(frames))
	}
	if got := frames[0]["answer"]; got != "You asked:    " {
		t.Errorf("answer = %q", got)
	}
}

func TestAskEchoModeSingleFrame(t *testing.T) {
	api := newTestAPI(t, nil) // no generator: degraded echo
	rec := postAsk(api, `{"question":"What is the capital of France?"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("Content-Type = %q", ct)
	}
	frames := sseFrames(t, rec.Body.String())
	if len(frames) != 1 {
		t.Fatalf("frames = %d, want 1", len(frames))
	}
	if got := frames[0]["answer"]; got != "You asked: What is the capital of France?" {
		t.Errorf("answer = %q", got)
	}
}

func TestAskStreamsSegmentsInOrder(t *testing.T) {
	api := newTestAPI(t, func(ctx context.Context, prompt string) (string, error) {
		if !strings.Contains(prompt, "capital") {
			t.Errorf("prompt missing question: %q", prompt)
		}
		return "Paris is the capital. It is in France.", nil
	})
	rec := postAsk(api, `{"question":"Where is Paris?"}`)
	frames := sseFrames(t, rec.Body.String())
	if len(frames) != 2 {
		t.Fatalf("frames = %d, want 2: %v", len(frames), frames)
	}
	want := []string{"Paris is the capital.", "It is in France."}
	for i, w := range want {
		if got := frames[i]["segment"]; got != w {
			t.Errorf("segment[%d] = %q, want %q", i, got, w)
		}
	}
}

func TestAskAugmentsPromptWithContext(t *testing.T) {
	var prompt string
	api := newTestAPI(t, func(ctx context.Context, p string) (string, error) {
		prompt = p
		return "ok.", nil
	})
	postAsk(api, `{"question":"Where is Paris?"}`)
	if !strings.Contains(prompt, "\n\n") {
		t.Fatalf("prompt has no context separator: %q", prompt)
	}
	if !strings.HasSuffix(prompt, "Where is Paris?") {
		t.Errorf("question not last in prompt: %q", prompt)
	}
	if !strings.Contains(prompt, "capital of") {
		t.Errorf("no document content in prompt: %q", prompt)
	}
}

func TestAskGenerationFailureStreamsError(t *testing.T) {
	api := newTestAPI(t, func(ctx context.Context, prompt string) (string, error) {
		return "", errors.New("upstream 500")
	})
	rec := postAsk(api, `{"question":"Where is Paris?"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 (error is in-stream)", rec.Code)
	}
	frames := sseFrames(t, rec.Body.String())
	if len(frames) != 1 {
		t.Fatalf("frames = %d, want 1", len(frames))
	}
	if frames[0]["error"] != "Failed to generate answer" {
		t.Errorf("error = %q", frames[0]["error"])
	}
	if frames[0]["details"] != "upstream 500" {
		t.Errorf("details = %q", frames[0]["details"])
	}
}

func TestAskClientDisconnectStopsSegments(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	api := newTestAPI(t, func(_ context.Context, prompt string) (string, error) {
		cancel() // client goes away while the answer is being generated
		return "Paris is the capital. It is in France.", nil
	})
	req := httptest.NewRequest(http.MethodPost, "/ask", strings.NewReader(`{"question":"Where is Paris?"}`)).WithContext(ctx)
	rec := httptest.NewRecorder()
	api.mux().ServeHTTP(rec, req)
	if frames := sseFrames(t, rec.Body.String()); len(frames) != 0 {
		t.Fatalf("frames = %d after disconnect, want 0", len(frames))
	}
}

func TestAskRecordsConversationTurns(t *testing.T) {
	api := newTestAPI(t, func(ctx context.Context, prompt string) (string, error) {
		return "Paris.", nil
	})
	conv, err := api.conv.CreateConversation("trip")
	if err != nil {
		t.Fatal(err)
	}
	postAsk(api, `{"question":"Where is Paris?","conversationID":"`+conv.ID+`"}`)
	got, err := api.conv.GetConversation(conv.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(got.Messages) != 2 {
		t.Fatalf("messages = %d, want 2", len(got.Messages))
	}
	if got.Messages[0].Sender != models.SenderUser || got.Messages[1].Sender != models.SenderAssistant {
		t.Errorf("senders = %q, %q", got.Messages[0].Sender, got.Messages[1].Sender)
	}
	if len(got.Messages[1].Sources) == 0 {
		t.Error("assistant message has no sources")
	}
}

func TestAskUnknownConversationStillStreams(t *testing.T) {
	api := newTestAPI(t, nil)
	rec := postAsk(api, `{"question":"hi","conversationID":"nope"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if len(sseFrames(t, rec.Body.String())) != 1 {
		t.Error("unknown conversation must not break the stream")
	}
}

func TestHealth(t *testing.T) {
	api := newTestAPI(t, nil)
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	api.mux().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if got := strings.TrimSpace(rec.Body.String()); got != `{"ok":true}` {
		t.Errorf("body = %q", got)
	}
}

func TestDocumentsListsCorpus(t *testing.T) {
	api := newTestAPI(t, nil)
	req := httptest.NewRequest(http.MethodGet, "/documents", nil)
	rec := httptest.NewRecorder()
	api.mux().ServeHTTP(rec, req)
	var got struct {
		Documents []struct{ ID, Title string } `json:"documents"`
		Count     int                          `json:"count"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatal(err)
	}
	if got.Count != 3 || len(got.Documents) != 3 {
		t.Fatalf("count = %d, docs = %d", got.Count, len(got.Documents))
	}
	if got.Documents[0].ID != "d1" || got.Documents[0].Title != "Paris" {
		t.Errorf("first doc = %+v", got.Documents[0])
	}
	if strings.Contains(rec.Body.String(), "capital of France") {
		t.Error("document listing leaked content")
	}
}

func TestConversationEndpoints(t *testing.T) {
	api := newTestAPI(t, nil)
	m := api.mux()

	rec := httptest.NewRecorder()
	m.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/conversations", strings.NewReader(`{"title":"trip"}`)))
	if rec.Code != http.StatusCreated {
		t.Fatalf("create status = %d", rec.Code)
	}
	var conv models.Conversation
	if err := json.Unmarshal(rec.Body.Bytes(), &conv); err != nil {
		t.Fatal(err)
	}
	if conv.ID == "" || conv.Title != "trip" {
		t.Fatalf("conv = %+v", conv)
	}

	rec = httptest.NewRecorder()
	m.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/conversations/"+conv.ID, nil))
	if rec.Code != http.StatusOK {
		t.Errorf("get status = %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	m.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/conversations/absent", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("missing conversation status = %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	m.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/conversations", nil))
	var list struct {
		Count int `json:"count"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &list); err != nil {
		t.Fatal(err)
	}
	if list.Count != 1 {
		t.Errorf("list count = %d, want 1", list.Count)
	}
}

func TestMetricsExposition(t *testing.T) {
	api := newTestAPI(t, nil)
	postAsk(api, `{"question":"hi"}`)

	handler := api.logMiddleware(api.mux())
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	body := rec.Body.String()
	for _, want := range []string{"ragchat_ask_requests_total", "ragchat_build_info"} {
		if !strings.Contains(body, want) {
			t.Errorf("metrics missing %q", want)
		}
	}
}

func TestSplitSentences(t *testing.T) {
	cases := []struct {
		in   string
		want []string
	}{
		{"Paris is the capital. It is in France.", []string{"Paris is the capital.", "It is in France."}},
		{"One sentence only", []string{"One sentence only"}},
		{"Trailing period.", []string{"Trailing period."}},
		{"", nil},
		{"A.  B.", []string{"A.", "B."}},
		{"Version 1.2 works. Done.", []string{"Version 1.2 works.", "Done."}},
	}
	for _, tc := range cases {
		got := splitSentences(tc.in)
		if len(got) != len(tc.want) {
			t.Errorf("splitSentences(%q) = %v, want %v", tc.in, got, tc.want)
			continue
		}
		for i := range got {
			if got[i] != tc.want[i] {
				t.Errorf("splitSentences(%q)[%d] = %q, want %q", tc.in, i, got[i], tc.want[i])
			}
		}
	}
}

func TestRateLimiterRefills(t *testing.T) {
	rl := newRateLimiter(1)
	if ok, _ := rl.allow("1.2.3.4"); !ok {
		t.Fatal("first request should pass")
	}
	if ok, retry := rl.allow("1.2.3.4"); ok {
		t.Fatal("second immediate request should be limited")
	} else if retry < 1 {
		t.Errorf("retry = %d, want >= 1", retry)
	}
	if ok, _ := rl.allow("5.6.7.8"); !ok {
		t.Error("different client must have its own bucket")
	}
}
