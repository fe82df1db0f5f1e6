package obs

import (
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// LogConfig selects the level and service name stamped on every entry.
type LogConfig struct {
	Level       string
	ServiceName string
}

var (
	loggerMu sync.RWMutex
	logger   = newLogger(os.Stdout, LogConfig{Level: "info", ServiceName: "gatehouse"})
)

// NewLogger builds a JSON logger writing to w.
func NewLogger(w io.Writer, cfg LogConfig) zerolog.Logger {
	return newLogger(w, cfg)
}

func newLogger(w io.Writer, cfg LogConfig) zerolog.Logger {
	level, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(cfg.Level)))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	zerolog.TimeFieldFormat = time.RFC3339Nano
	ctx := zerolog.New(w).Level(level).With().Timestamp()
	if cfg.ServiceName != "" {
		ctx = ctx.Str("service", cfg.ServiceName)
	}
	return ctx.Logger()
}

// Configure replaces the shared logger.
func Configure(w io.Writer, cfg LogConfig) zerolog.Logger {
	l := newLogger(w, cfg)
	loggerMu.Lock()
	logger = l
	loggerMu.Unlock()
	return l
}

// SetOutput redirects the shared logger, keeping its level. It returns a
// function restoring the previous logger.
func SetOutput(w io.Writer) func() {
	loggerMu.Lock()
	prev := logger
	logger = prev.Output(w)
	loggerMu.Unlock()
	return func() {
		loggerMu.Lock()
		logger = prev
		loggerMu.Unlock()
	}
}

// Logger returns the shared structured logger used across the service.
func Logger() zerolog.Logger {
	loggerMu.RLock()
	defer loggerMu.RUnlock()
	return logger
}

// RequestLog is one access-log record.
type RequestLog struct {
	RequestID  string
	Method     string
	Path       string
	Status     int
	Duration   time.Duration
	RemoteIP   string
	UserAgent  string
	BytesWrote int
}

// LogRequest emits one access-log line.
func LogRequest(r RequestLog) {
	l := Logger()
	ev := l.Info()
	if r.Status >= 500 {
		ev = l.Error()
	}
	ev.Str("request_id", r.RequestID).
		Str("method", r.Method).
		Str("path", r.Path).
		Int("status", r.Status).
		Float64("duration_ms", float64(r.Duration.Microseconds())/1000).
		Str("remote_ip", r.RemoteIP).
		Str("user_agent", r.UserAgent).
		Int("bytes", r.BytesWrote).
		Msg("request_complete")
}
