// Package runlog writes the audit trail of describe and reason attempts as one JSON
// object per line.
package runlog

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Status values for Record.Status.
const (
	StatusOK       = "ok"
	StatusDegraded = "degraded"
	StatusError    = "error"
)

// Record is one audited attempt.
type Record struct {
	Event     string
	RequestID string
	SessionID string
	ImageName string
	Model     string
	Latency   time.Duration
	Status    string
	Tier      string
	Intent    string
	Turn      int
	Err       error
}

// Logger appends Records to a JSON lines sink.
type Logger struct {
	z     *zap.Logger
	close func() error
}

func encoderConfig() zapcore.EncoderConfig {
	return zapcore.EncoderConfig{
		TimeKey:        "ts",
		MessageKey:     "event",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeTime:     zapcore.RFC3339NanoTimeEncoder,
		EncodeDuration: zapcore.MillisDurationEncoder,
	}
}

// New returns a Logger writing to ws.
func New(ws zapcore.WriteSyncer) *Logger {
	core := zapcore.NewCore(zapcore.NewJSONEncoder(encoderConfig()), ws, zapcore.InfoLevel)
	return &Logger{z: zap.New(core), close: func() error { return nil }}
}

// Open appends to the file at path, creating it and its directory if needed.
func Open(path string) (*Logger, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create run log directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open run log: %w", err)
	}
	l := New(zapcore.Lock(f))
	l.close = f.Close
	return l, nil
}

// Nop returns a Logger that discards everything.
func Nop() *Logger {
	return &Logger{z: zap.NewNop(), close: func() error { return nil }}
}

// Write appends one record. Empty optional fields are omitted.
func (l *Logger) Write(r Record) {
	fields := []zap.Field{
		zap.String("request_id", r.RequestID),
		zap.String("model", r.Model),
		zap.Int64("latency_ms", r.Latency.Milliseconds()),
		zap.String("status", r.Status),
	}
	if r.SessionID != "" {
		fields = append(fields, zap.String("session_id", r.SessionID))
	}
	if r.ImageName != "" {
		fields = append(fields, zap.String("image_name", r.ImageName))
	}
	if r.Tier != "" {
		fields = append(fields, zap.String("tier", r.Tier))
	}
	if r.Intent != "" {
		fields = append(fields, zap.String("intent", r.Intent))
	}
	if r.Turn > 0 {
		fields = append(fields, zap.Int("turn", r.Turn))
	}
	if r.Err != nil {
		fields = append(fields, zap.String("error", r.Err.Error()))
	}
	l.z.Info(r.Event, fields...)
}

// Close flushes and closes the underlying file.
func (l *Logger) Close() error {
	_ = l.z.Sync()
	return l.close()
}
