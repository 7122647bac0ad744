package server

import (
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"ragchat/internal/version"
)

// metricsCollector is a lightweight in-process counter set exposed by
// /metrics in Prometheus text exposition format.
type metricsCollector struct {
	mu sync.Mutex
	// counters keyed by method|path|status
	reqTotal map[string]int
	// duration sum/count keyed by method|path
	durSum   map[string]float64
	durCount map[string]int

	askRequests int
	askSegments int
}

func newMetrics() *metricsCollector {
	return &metricsCollector{
		reqTotal: make(map[string]int),
		durSum:   make(map[string]float64),
		durCount: make(map[string]int),
	}
}

// normalizeMetricPath collapses variable path segments for metric labels.
func normalizeMetricPath(p string) string {
	if strings.HasPrefix(p, "/conversations/") {
		return "/conversations/:id"
	}
	return p
}

func (m *metricsCollector) recordRequest(method, path string, status int, dur time.Duration) {
	path = normalizeMetricPath(path)
	mkey := fmt.Sprintf("%s|%s|%d", method, path, status)
	dkey := method + "|" + path
	m.mu.Lock()
	m.reqTotal[mkey]++
	m.durSum[dkey] += dur.Seconds()
	m.durCount[dkey]++
	m.mu.Unlock()
}

func (m *metricsCollector) recordAsk(segments int) {
	m.mu.Lock()
	m.askRequests++
	m.askSegments += segments
	m.mu.Unlock()
}

func (a *API) handleMetrics(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var cacheHits, cacheMisses, cacheEvicts int
	if a.cache != nil {
		st := a.cache.Stats()
		cacheHits, cacheMisses, cacheEvicts = st.Hits, st.Misses, st.Evictions
	}

	format := strings.ToLower(r.URL.Query().Get("format"))
	if format == "json" || strings.Contains(r.Header.Get("Accept"), "application/json") {
		a.metrics.mu.Lock()
		out := map[string]int{
			"askRequests":         a.metrics.askRequests,
			"askSegments":         a.metrics.askSegments,
			"embedCacheHits":      cacheHits,
			"embedCacheMisses":    cacheMisses,
			"embedCacheEvictions": cacheEvicts,
		}
		a.metrics.mu.Unlock()
		writeJSON(w, http.StatusOK, out)
		return
	}

	w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
	a.metrics.mu.Lock()
	io.WriteString(w, "# HELP ragchat_ask_requests_total Questions received on /ask.\n")
	io.WriteString(w, "# TYPE ragchat_ask_requests_total counter\n")
	io.WriteString(w, fmt.Sprintf("ragchat_ask_requests_total %d\n", a.metrics.askRequests))
	io.WriteString(w, "# HELP ragchat_ask_segments_total Answer segments streamed.\n")
	io.WriteString(w, "# TYPE ragchat_ask_segments_total counter\n")
	io.WriteString(w, fmt.Sprintf("ragchat_ask_segments_total %d\n", a.metrics.askSegments))
	for key, v := range a.metrics.reqTotal {
		parts := strings.Split(key, "|")
		if len(parts) == 3 {
			io.WriteString(w, "# TYPE ragchat_http_requests_total counter\n")
			io.WriteString(w, fmt.Sprintf("ragchat_http_requests_total{method=%q,path=%q,status=%q} %d\n",
				parts[0], parts[1], parts[2], v))
		}
	}
	for key, sum := range a.metrics.durSum {
		cnt := a.metrics.durCount[key]
		parts := strings.Split(key, "|")
		if len(parts) == 2 {
			io.WriteString(w, "# TYPE ragchat_http_request_duration_seconds summary\n")
			io.WriteString(w, fmt.Sprintf("ragchat_http_request_duration_seconds_sum{method=%q,path=%q} %f\n", parts[0], parts[1], sum))
			io.WriteString(w, fmt.Sprintf("ragchat_http_request_duration_seconds_count{method=%q,path=%q} %d\n", parts[0], parts[1], cnt))
		}
	}
	a.metrics.mu.Unlock()
	io.WriteString(w, "# HELP ragchat_embed_cache_hits_total Embedding cache hits.\n")
	io.WriteString(w, "# TYPE ragchat_embed_cache_hits_total counter\n")
	io.WriteString(w, fmt.Sprintf("ragchat_embed_cache_hits_total %d\n", cacheHits))
	io.WriteString(w, "# HELP ragchat_embed_cache_misses_total Embedding cache misses.\n")
	io.WriteString(w, "# TYPE ragchat_embed_cache_misses_total counter\n")
	io.WriteString(w, fmt.Sprintf("ragchat_embed_cache_misses_total %d\n", cacheMisses))
	io.WriteString(w, "# HELP ragchat_embed_cache_evictions_total Embedding cache evictions (TTL).\n")
	io.WriteString(w, "# TYPE ragchat_embed_cache_evictions_total counter\n")
	io.WriteString(w, fmt.Sprintf("ragchat_embed_cache_evictions_total %d\n", cacheEvicts))
	io.WriteString(w, "# HELP ragchat_build_info Build information.\n")
	io.WriteString(w, "# TYPE ragchat_build_info gauge\n")
	io.WriteString(w, fmt.Sprintf("ragchat_build_info{version=%q,commit=%q} 1\n", version.Version, version.Commit))
}
