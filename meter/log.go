package meter

import (
	"log/slog"

	"github.com/kriralabs/usagemeter"
)

// LogMeter logs consumption events using slog.
type LogMeter struct {
	Logger *slog.Logger
}

var _ usagemeter.Meter = (*LogMeter)(nil)

// NewLogMeter creates a LogMeter with the given logger.
// If logger is nil, slog.Default() is used.
func NewLogMeter(logger *slog.Logger) *LogMeter {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogMeter{Logger: logger}
}

func (m *LogMeter) OnConsume(e usagemeter.ConsumeEvent) {
	m.Logger.Info("consume",
		"event_id", e.ID,
		"user_id", e.UserID,
		"plan", e.Plan,
		"amount", e.Amount,
		"tokens", e.Tokens,
		"source", e.Source,
		"provider", e.Provider,
		"model", e.Model,
		"used", e.Used,
		"limit", e.Limit,
	)
}

func (m *LogMeter) OnReject(e usagemeter.RejectEvent) {
	m.Logger.Warn("consume_rejected",
		"user_id", e.UserID,
		"plan", e.Plan,
		"amount", e.Amount,
		"reason", e.Reason,
	)
}
