package config

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// KnownKeys defines the environment variable keys ragchat recognizes.
var KnownKeys = []string{
	"RAGCHAT_ADDR",
	"RAGCHAT_SERVER_URL",
	"RAGCHAT_CORPUS_PATH",
	"RAGCHAT_SQLITE_PATH",
	"RAGCHAT_GEMINI_BASE_URL",
	"RAGCHAT_CHAT_MODEL",
	"RAGCHAT_EMBEDDING_MODEL",
	"RAGCHAT_RETRIEVAL_K",
	"RAGCHAT_GEN_TIMEOUT_MS",
	"RAGCHAT_RATE_LIMIT_RPS",
	"RAGCHAT_EMBED_CACHE_TTL_SEC",
	"RAGCHAT_EMBED_CACHE_DISABLE",
	"RAGCHAT_CONV_TTL_DAYS",
	"RAGCHAT_CONV_CLEAN_INTERVAL",
	"RAGCHAT_CONV_CLEAN_DISABLE",
	"RAGCHAT_LOG_LEVEL",
	"GEMINI_API_KEY",
}

// LoadAndApply loads a local .env file (if present) and then
// ~/.ragchat/config.yaml (or .yml/.json), applying values into the process
// environment for known keys that are not already set. Environment
// variables always take precedence over file values.
func LoadAndApply() error {
	_ = godotenv.Load()

	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return nil // non-fatal
	}
	base := filepath.Join(home, ".ragchat")
	paths := []string{
		filepath.Join(base, "config.yaml"),
		filepath.Join(base, "config.yml"),
		filepath.Join(base, "config.json"),
	}
	var data map[string]any
	for _, p := range paths {
		b, err := os.ReadFile(p)
		if err != nil {
			continue
		}
		if strings.HasSuffix(p, ".json") {
			if m, err := parseJSON(b); err == nil {
				data = m
				break
			}
		} else {
			if m, err := parseYAMLShallow(string(b)); err == nil {
				data = m
				break
			}
		}
	}
	if len(data) == 0 {
		return nil
	}
	for _, key := range KnownKeys {
		if os.Getenv(key) != "" {
			continue
		}
		if v, ok := lookupInsensitive(data, key); ok {
			os.Setenv(key, toString(v))
		}
	}
	return nil
}

// Addr returns the listen address, honoring RAGCHAT_ADDR and falling back
// to PORT (":<port>") and finally :3000.
func Addr() string {
	if v := os.Getenv("RAGCHAT_ADDR"); v != "" {
		return v
	}
	if v := os.Getenv("PORT"); v != "" {
		return ":" + v
	}
	return ":3000"
}

// IntEnv parses key as a positive integer, returning def when unset or invalid.
func IntEnv(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return def
}

func parseJSON(b []byte) (map[string]any, error) {
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, err
	}
	return m, nil
}

// parseYAMLShallow parses very shallow YAML with top-level key: value pairs.
// It ignores nested objects/arrays and comments. Values can be quoted
// strings, booleans, or numbers; everything else is treated as string.
func parseYAMLShallow(s string) (map[string]any, error) {
	m := make(map[string]any)
	rd := bufio.NewScanner(strings.NewReader(s))
	for rd.Scan() {
		line := strings.TrimSpace(rd.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		// skip indented (nested) lines
		if strings.HasPrefix(rd.Text(), " ") || strings.HasPrefix(rd.Text(), "\t") {
			continue
		}
		i := strings.IndexRune(line, ':')
		if i <= 0 {
			continue
		}
		key := strings.TrimSpace(line[:i])
		val := strings.TrimSpace(line[i+1:])
		if j := strings.Index(val, " #"); j >= 0 {
			val = strings.TrimSpace(val[:j])
		}
		if (strings.HasPrefix(val, "\"") && strings.HasSuffix(val, "\"")) ||
			(strings.HasPrefix(val, "'") && strings.HasSuffix(val, "'")) {
			val = strings.TrimSuffix(strings.TrimPrefix(val, string(val[0])), string(val[len(val)-1]))
		}
		if b, err := strconv.ParseBool(strings.ToLower(val)); err == nil {
			m[key] = b
			continue
		}
		if n, err := strconv.ParseFloat(val, 64); err == nil {
			m[key] = n
			continue
		}
		m[key] = val
	}
	if err := rd.Err(); err != nil {
		return nil, err
	}
	if len(m) == 0 {
		return nil, errors.New("empty or unsupported YAML")
	}
	return m, nil
}

func lookupInsensitive(m map[string]any, key string) (any, bool) {
	if v, ok := m[key]; ok {
		return v, true
	}
	for k, v := range m {
		if strings.EqualFold(k, key) {
			return v, true
		}
	}
	return nil, false
}

func toString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case bool:
		if t {
			return "true"
		}
		return "false"
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case float64:
		if t == float64(int64(t)) {
			return strconv.FormatInt(int64(t), 10)
		}
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		return fmt.Sprint(v)
	}
}
