package logger

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/Checker-Finance/execution-core/pkg/eventbus"
	"github.com/Checker-Finance/execution-core/pkg/model"
)

// Level maps a bus log level to its zap level. Fatal maps to Error: the
// process decides separately whether to exit.
func Level(l model.LogLevel) zapcore.Level {
	switch l {
	case model.LogDebug:
		return zapcore.DebugLevel
	case model.LogInfo:
		return zapcore.InfoLevel
	case model.LogWarn:
		return zapcore.WarnLevel
	default:
		return zapcore.ErrorLevel
	}
}

// EventSink returns a bus handler writing every Log event to l.
func EventSink(l *zap.Logger) eventbus.Handler {
	l = l.WithOptions(zap.AddCallerSkip(1))
	return func(ev model.Event) error {
		le, ok := ev.(model.LogEvent)
		if !ok {
			return nil
		}
		fields := []zap.Field{
			zap.String("source", le.Source),
			zap.String("bus_level", le.Level.String()),
			zap.Time("event_time", le.Timestamp),
		}
		if le.Error != "" {
			fields = append(fields, zap.String("error", le.Error))
		}
		if ce := l.Check(Level(le.Level), le.Message); ce != nil {
			ce.Write(fields...)
		}
		return nil
	}
}
