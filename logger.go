package sockframe

import (
	"fmt"

	"github.com/rs/zerolog"
	"go.uber.org/zap"
)

// Logger handles structured logging for the pool, broker and server.
type Logger interface {
	Print(v ...any)                 // Info level
	Printf(format string, v ...any) // Info level formatted
	Infof(format string, v ...any)  // Info level with formatting
	Warnf(format string, v ...any)  // Warning level
	Errorf(format string, v ...any) // Error level
}

// NoopLogger provides a default no-op logger.
type NoopLogger struct{}

func (l *NoopLogger) Print(_ ...any)            {}
func (l *NoopLogger) Printf(_ string, _ ...any) {}
func (l *NoopLogger) Infof(_ string, _ ...any)  {}
func (l *NoopLogger) Warnf(_ string, _ ...any)  {}
func (l *NoopLogger) Errorf(_ string, _ ...any) {}

type zerologLogger struct {
	l zerolog.Logger
}

// NewZerologLogger adapts a zerolog.Logger.
func NewZerologLogger(l zerolog.Logger) Logger {
	return &zerologLogger{l: l}
}

func (z *zerologLogger) Print(v ...any)                 { z.l.Info().Msg(fmt.Sprint(v...)) }
func (z *zerologLogger) Printf(format string, v ...any) { z.l.Info().Msgf(format, v...) }
func (z *zerologLogger) Infof(format string, v ...any)  { z.l.Info().Msgf(format, v...) }
func (z *zerologLogger) Warnf(format string, v ...any)  { z.l.Warn().Msgf(format, v...) }
func (z *zerologLogger) Errorf(format string, v ...any) { z.l.Error().Msgf(format, v...) }

type zapLogger struct {
	s *zap.SugaredLogger
}

// NewZapLogger adapts a zap.Logger.
func NewZapLogger(l *zap.Logger) Logger {
	return &zapLogger{s: l.Sugar()}
}

func (z *zapLogger) Print(v ...any)                 { z.s.Info(v...) }
func (z *zapLogger) Printf(format string, v ...any) { z.s.Infof(format, v...) }
func (z *zapLogger) Infof(format string, v ...any)  { z.s.Infof(format, v...) }
func (z *zapLogger) Warnf(format string, v ...any)  { z.s.Warnf(format, v...) }
func (z *zapLogger) Errorf(format string, v ...any) { z.s.Errorf(format, v...) }
