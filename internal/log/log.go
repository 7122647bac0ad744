package log

import (
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New builds the process logger. Level comes from RAGCHAT_LOG_LEVEL
// (debug|info|warn|error), defaulting to info. Output is JSON on stderr.
func New() *zap.Logger {
	lvl := zapcore.InfoLevel
	switch strings.ToLower(os.Getenv("RAGCHAT_LOG_LEVEL")) {
	case "debug":
		lvl = zapcore.DebugLevel
	case "warn":
		lvl = zapcore.WarnLevel
	case "error":
		lvl = zapcore.ErrorLevel
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.OutputPaths = []string{"stderr"}
	lg, err := cfg.Build()
	if err != nil {
		return zap.NewNop()
	}
	return lg
}

// Redact masks a secret value keeping only a short head and tail, so
// credentials can be logged for diagnostics without leaking.
func Redact(s string) string {
	n := len(s)
	if n <= 8 {
		return "***"
	}
	return fmt.Sprintf("%s***%s", s[:4], s[n-4:])
}
