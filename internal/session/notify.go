package session

import (
	"context"

	"go.uber.org/zap"

	"github.com/shehryarbajwa/chatpilot/pkg/models"
)

// LogNotifier reports settled runs to the log
type LogNotifier struct {
	Log *zap.Logger
}

func (n LogNotifier) Notify(_ context.Context, rec *models.SessionRecord) {
	if n.Log == nil {
		return
	}
	fields := []zap.Field{
		zap.String("session", rec.ID),
		zap.String("status", string(rec.Status)),
		zap.Int64("elapsedMs", rec.ElapsedMs),
	}
	if rec.Error != nil {
		n.Log.Warn("Session settled with error", append(fields,
			zap.String("category", rec.Error.Category),
			zap.String("message", rec.Error.Message))...)
		return
	}
	if rec.Usage != nil {
		fields = append(fields, zap.Int("totalTokens", rec.Usage.TotalTokens))
	}
	n.Log.Info("Session settled", fields...)
}
