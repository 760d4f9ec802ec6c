package notify

import (
	"go.uber.org/zap"

	"tradecore/internal/models"
	"tradecore/pkg/utils"
)

// LogSender writes every notification through the structured logger. It is
// the default sender when no Telegram token is configured, and the sole
// sender in tests that only need to observe delivery, not transport it.
type LogSender struct{}

// Send logs n at a level matching its severity. It never returns an error —
// a logging backend has no failure mode worth surfacing to the Dispatcher.
func (LogSender) Send(n *models.Notification) error {
	fields := []zap.Field{
		utils.String("type", n.Type),
		utils.String("severity", n.Severity),
	}
	if n.PositionID != "" {
		fields = append(fields, utils.String("position_id", n.PositionID))
	}
	if n.PairID != "" {
		fields = append(fields, utils.String("pair_id", n.PairID))
	}

	switch n.Severity {
	case models.SeverityCritical, models.SeverityError:
		utils.Error(n.Message, fields...)
	case models.SeverityWarn:
		utils.Warn(n.Message, fields...)
	default:
		utils.Info(n.Message, fields...)
	}
	return nil
}
