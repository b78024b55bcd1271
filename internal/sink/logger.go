package sink

import (
	"go.uber.org/zap"
)

// Logger writes lines to a zap logger at the matching level.
type Logger struct {
	log *zap.Logger
}

// NewLogger wraps log. A nil logger is replaced by zap.NewNop.
func NewLogger(log *zap.Logger) *Logger {
	if log == nil {
		log = zap.NewNop()
	}
	return &Logger{log: log}
}

func (l *Logger) Emit(line Line) {
	fields := []zap.Field{zap.Time("at", line.At)}
	switch line.Level {
	case LevelDebug:
		l.log.Debug(line.Text, fields...)
	case LevelWarn:
		l.log.Warn(line.Text, fields...)
	case LevelError:
		l.log.Error(line.Text, fields...)
	default:
		l.log.Info(line.Text, fields...)
	}
}

func (l *Logger) EmitTagObserved(tagID string) {
	l.log.Info("tag observed", zap.String("tag_id", tagID))
}
