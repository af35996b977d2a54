package pipeline

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"

	"github.com/tinywideclouds/go-push-relay/pkg/dispatch"
	"github.com/tinywideclouds/go-push-relay/pkg/notification"
)

// Sender is the gateway operation the processor drives.
type Sender interface {
	SendNotification(ctx context.Context, req notification.SendRequest) (json.RawMessage, error)
}

// NewProcessor runs one SendNotification per message. Nothing is retried:
// the outcome is logged and the message is always acknowledged.
func NewProcessor(sender Sender, logger *slog.Logger) messagepipeline.StreamProcessor[notification.SendRequest] {
	logger = logger.With("component", "IngressProcessor")

	return func(ctx context.Context, original messagepipeline.Message, req *notification.SendRequest) error {
		procLogger := logger.With("user_id", req.UserID, "pubsub_msg_id", original.ID)

		if _, err := sender.SendNotification(ctx, *req); err != nil {
			procLogger.Warn("Ingress notification dropped", "kind", dispatch.KindOf(err), "err", err)
			return nil
		}
		procLogger.Debug("Ingress notification dispatched")
		return nil
	}
}
