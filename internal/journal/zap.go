package journal

import (
	"context"

	"go.uber.org/zap"

	"github.com/Secineralyr/Cotonestrum/internal/domain"
)

// ZapSink writes entries to a zap logger, at error level for error entries
// and info level otherwise.
type ZapSink struct {
	logger *zap.Logger
}

// NewZapSink creates a new ZapSink.
func NewZapSink(logger *zap.Logger) *ZapSink {
	return &ZapSink{logger: logger.Named("journal")}
}

// Write implements Sink.
func (s *ZapSink) Write(_ context.Context, entry *domain.JournalEntry) {
	fields := []zap.Field{
		zap.String("op", entry.Op),
	}
	if entry.Text != "" {
		fields = append(fields, zap.String("text", entry.Text))
	}
	if len(entry.Frame) > 0 && s.logger.Core().Enabled(zap.DebugLevel) {
		fields = append(fields, zap.ByteString("frame", entry.Frame))
	}

	if entry.IsError {
		s.logger.Error(entry.Subject, fields...)
		return
	}
	s.logger.Info(entry.Subject, fields...)
}
