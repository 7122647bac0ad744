// Package server exposes the question-answering HTTP API: a health probe,
// the SSE /ask endpoint, corpus and conversation listings, and metrics.
package server

import (
	"context"
	crand "crypto/rand"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"

	"ragchat/internal/config"
	"ragchat/internal/corpus"
	"ragchat/internal/embed"
	"ragchat/internal/llm"
	"ragchat/internal/llm/gemini"
	mylog "ragchat/internal/log"
	"ragchat/internal/retrieval"
	"ragchat/internal/store"
)

type API struct {
	corpus *corpus.Store
	retr   *retrieval.Service
	gen    llm.Generator
	cache  *embed.Cache // nil when the embed cache is disabled
	conv   store.ConversationStore
	lg     *zap.Logger

	metrics *metricsCollector
}

// NewAPI wires the retrieval pipeline. gen may be nil: that is the
// supported no-credential degraded mode, in which /ask echoes the
// question. emb must not be nil; callers pass the fallback embedder when
// no backend is configured.
func NewAPI(corpusPath string, emb llm.Embedder, gen llm.Generator, conv store.ConversationStore, lg *zap.Logger) *API {
	if lg == nil {
		lg = zap.NewNop()
	}
	if conv == nil {
		conv = store.NewMem()
	}
	a := &API{gen: gen, conv: conv, lg: lg, metrics: newMetrics()}
	if os.Getenv("RAGCHAT_EMBED_CACHE_DISABLE") != "1" {
		a.cache = embed.NewCache(emb)
		emb = a.cache
	}
	a.corpus = corpus.NewStore(corpusPath, emb, lg)
	a.retr = retrieval.NewService(a.corpus, emb)
	return a
}

func (a *API) mux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", a.handleHealth)
	mux.HandleFunc("/ask", a.handleAsk)
	mux.HandleFunc("/documents", a.handleDocuments)
	mux.HandleFunc("/conversations", a.handleConversations)
	mux.HandleFunc("/conversations/", a.handleConversation)
	mux.HandleFunc("/metrics", a.handleMetrics)
	return mux
}

// Run starts the HTTP server with everything wired from the environment
// and shuts down gracefully on SIGINT/SIGTERM.
func Run(addr string) error {
	lg := mylog.New()
	defer func() { _ = lg.Sync() }()

	corpusPath := os.Getenv("RAGCHAT_CORPUS_PATH")
	if corpusPath == "" {
		corpusPath = "data/documents.json"
	}

	var emb llm.Embedder
	var gen llm.Generator
	if c := gemini.NewFromEnv(); c != nil {
		emb, gen = c, c
		lg.Info("generator.configured", zap.String("api_key", mylog.Redact(os.Getenv("GEMINI_API_KEY"))))
	} else {
		emb = embed.Fallback{}
		lg.Info("generator.degraded", zap.String("reason", "GEMINI_API_KEY not set"))
	}

	var conv store.ConversationStore
	if path := os.Getenv("RAGCHAT_SQLITE_PATH"); path != "" {
		ss, err := store.NewSQLite(path)
		if err != nil {
			lg.Warn("sqlite.init_failed", zap.Error(err))
			conv = store.NewMem()
		} else {
			conv = ss
			defer ss.Close()
		}
	} else {
		conv = store.NewMem()
	}

	api := NewAPI(corpusPath, emb, gen, conv, lg)

	// background conversation cleanup (TTL retention)
	if os.Getenv("RAGCHAT_CONV_CLEAN_DISABLE") == "" {
		ttlDays := config.IntEnv("RAGCHAT_CONV_TTL_DAYS", 30)
		interval := 24 * time.Hour
		if v := os.Getenv("RAGCHAT_CONV_CLEAN_INTERVAL"); v != "" {
			if d, err := time.ParseDuration(v); err == nil && d > 0 {
				interval = d
			}
		}
		go func() {
			t := time.NewTicker(interval)
			defer t.Stop()
			for range t.C {
				if n, err := conv.CleanupConversations(ttlDays); err == nil && n > 0 {
					lg.Info("conversations.cleaned", zap.Int("removed", n))
				}
			}
		}()
	}

	srv := &http.Server{
		Addr:              addr,
		Handler:           api.logMiddleware(rateLimitMiddleware(api.mux())),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errs := make(chan error, 1)
	go func() {
		lg.Info("server.listening", zap.String("addr", addr))
		errs <- srv.ListenAndServe()
	}()

	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigc:
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
		lg.Info("server.shutdown", zap.String("signal", sig.String()))
		return nil
	case err := <-errs:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
	nbytes int
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.status = code
	sr.ResponseWriter.WriteHeader(code)
}

func (sr *statusRecorder) Write(b []byte) (int, error) {
	if sr.status == 0 {
		sr.status = http.StatusOK
	}
	n, err := sr.ResponseWriter.Write(b)
	sr.nbytes += n
	return n, err
}

// Flush keeps SSE streaming working through the recorder.
func (sr *statusRecorder) Flush() {
	if fl, ok := sr.ResponseWriter.(http.Flusher); ok {
		fl.Flush()
	}
}

// newRequestID returns a short, unique request identifier.
func newRequestID() string {
	var b [12]byte
	if _, err := crand.Read(b[:]); err != nil {
		return fmt.Sprintf("%d", time.Now().UnixNano())
	}
	const hexdigits = "0123456789abcdef"
	out := make([]byte, 24)
	for i, v := range b {
		out[i*2] = hexdigits[v>>4]
		out[i*2+1] = hexdigits[v&0x0f]
	}
	return string(out)
}

// clientIP extracts the best-effort client IP from headers or RemoteAddr.
func clientIP(r *http.Request) string {
	if xff := strings.TrimSpace(r.Header.Get("X-Forwarded-For")); xff != "" {
		if idx := strings.IndexByte(xff, ','); idx >= 0 {
			return strings.TrimSpace(xff[:idx])
		}
		return xff
	}
	host := r.RemoteAddr
	if i := strings.LastIndexByte(host, ':'); i > 0 {
		return host[:i]
	}
	return host
}

func (a *API) logMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		reqID := strings.TrimSpace(r.Header.Get("X-Request-ID"))
		if reqID == "" {
			reqID = newRequestID()
		}
		w.Header().Set("X-Request-ID", reqID)
		rec := &statusRecorder{ResponseWriter: w}
		next.ServeHTTP(rec, r)
		dur := time.Since(start)
		a.lg.Info("http.req",
			zap.String("req_id", reqID),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.String("remote_ip", clientIP(r)),
			zap.Int("status", rec.status),
			zap.Int64("duration_ms", dur.Milliseconds()),
			zap.Int("bytes", rec.nbytes),
		)
		a.metrics.recordRequest(r.Method, r.URL.Path, rec.status, dur)
	})
}

// rateLimiter provides simple token-bucket rate limiting by key.
type rateLimiter struct {
	mu      sync.Mutex
	rps     float64
	buckets map[string]*bucket
}

type bucket struct {
	tokens float64
	last   time.Time
}

func newRateLimiter(rps float64) *rateLimiter {
	return &rateLimiter{rps: rps, buckets: make(map[string]*bucket)}
}

// allow reports whether a request with key is allowed now and, if not, the
// seconds until the next token.
func (rl *rateLimiter) allow(key string) (bool, int) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	if rl.rps <= 0 {
		return true, 0
	}
	b := rl.buckets[key]
	now := time.Now()
	if b == nil {
		b = &bucket{tokens: rl.rps, last: now}
		rl.buckets[key] = b
	}
	elapsed := now.Sub(b.last).Seconds()
	b.tokens = minFloat(b.tokens+elapsed*rl.rps, rl.rps)
	b.last = now
	if b.tokens >= 1 {
		b.tokens -= 1
		return true, 0
	}
	need := 1 - b.tokens
	wait := int(need/rl.rps + 0.999)
	if wait < 1 {
		wait = 1
	}
	return false, wait
}

func minFloat(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}

// rateLimitMiddleware enforces a per-client RPS limit when
// RAGCHAT_RATE_LIMIT_RPS is set.
func rateLimitMiddleware(next http.Handler) http.Handler {
	var once sync.Once
	var limiter *rateLimiter
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		once.Do(func() {
			rps := 0.0
			if v := os.Getenv("RAGCHAT_RATE_LIMIT_RPS"); v != "" {
				if f, err := strconv.ParseFloat(v, 64); err == nil && f > 0 {
					rps = f
				}
			}
			limiter = newRateLimiter(rps)
		})
		if limiter.rps <= 0 {
			next.ServeHTTP(w, r)
			return
		}
		if ok, wait := limiter.allow("ip:" + clientIP(r)); !ok {
			w.Header().Set("Retry-After", strconv.Itoa(wait))
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}
