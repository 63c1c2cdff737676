// Package logging builds the zap logger used for diagnostics and, in JSON
// mode, for monitor status records.
package logging

import (
	"io"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/dkoosis/ratewatch/pkg/ratemonitor"
)

// Log formats.
const (
	FormatText = "text"
	FormatJSON = "json"
)

// New returns a logger writing to w. JSON format emits one object per line;
// text format uses zap's console encoder without colors. Debug lowers the
// level from info to debug.
func New(w io.Writer, format string, debug bool) *zap.Logger {
	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "ts"
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	encCfg.EncodeDuration = zapcore.StringDurationEncoder

	var enc zapcore.Encoder
	if format == FormatJSON {
		enc = zapcore.NewJSONEncoder(encCfg)
	} else {
		encCfg.EncodeLevel = zapcore.CapitalLevelEncoder
		enc = zapcore.NewConsoleEncoder(encCfg)
	}

	level := zapcore.InfoLevel
	if debug {
		level = zapcore.DebugLevel
	}
	core := zapcore.NewCore(enc, zapcore.Lock(zapcore.AddSync(w)), level)
	return zap.New(core)
}

// NoticeSink writes monitor notices as structured log records.
type NoticeSink struct {
	log *zap.Logger
}

// NewNoticeSink adapts log to ratemonitor.Sink.
func NewNoticeSink(log *zap.Logger) *NoticeSink {
	return &NoticeSink{log: log}
}

// Notify implements ratemonitor.Sink.
func (s *NoticeSink) Notify(n ratemonitor.Notice) {
	fields := []zap.Field{zap.String("kind", n.Kind.String())}
	if n.Test != "" {
		fields = append(fields, zap.String("test", n.Test))
	}
	if n.Completed > 0 {
		fields = append(fields,
			zap.Int("failed", n.Failed),
			zap.Int("completed", n.Completed),
			zap.Int("percent", n.Percent))
	}

	switch n.Kind {
	case ratemonitor.NoticeCritical, ratemonitor.NoticeTerminating, ratemonitor.NoticeTerminated:
		s.log.Warn(n.Text, fields...)
	default:
		s.log.Info(n.Text, fields...)
	}
}
