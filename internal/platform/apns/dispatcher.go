// Package apns delivers notifications through the Apple Push Notification
// Service using token-based authentication. The delivery address is an APNs
// device token.
package apns

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/sideshow/apns2"
	"github.com/sideshow/apns2/payload"
	"github.com/sideshow/apns2/token"

	"github.com/tinywideclouds/go-push-relay/pkg/dispatch"
)

// APNSClient is the subset of *apns2.Client the dispatcher uses.
type APNSClient interface {
	PushWithContext(ctx apns2.Context, n *apns2.Notification) (*apns2.Response, error)
}

// Config holds the credentials required to sign APNs tokens.
type Config struct {
	KeyID    string
	TeamID   string
	BundleID string
	// P8KeyContent is the raw content of the .p8 file
	P8KeyContent string
	Development  bool
}

type Dispatcher struct {
	client APNSClient
	topic  string // app bundle id
	logger *slog.Logger
}

// NewDispatcher parses the P8 key immediately so bad credentials fail at
// startup.
func NewDispatcher(cfg Config, logger *slog.Logger) (*Dispatcher, error) {
	authKey, err := token.AuthKeyFromBytes([]byte(cfg.P8KeyContent))
	if err != nil {
		return nil, fmt.Errorf("failed to parse APNs P8 key: %w", err)
	}

	client := apns2.NewTokenClient(&token.Token{
		AuthKey: authKey,
		KeyID:   cfg.KeyID,
		TeamID:  cfg.TeamID,
	})
	if cfg.Development {
		client = client.Development()
	} else {
		client = client.Production()
	}

	return NewDispatcherWithClient(client, cfg.BundleID, logger), nil
}

func NewDispatcherWithClient(client APNSClient, topic string, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		client: client,
		topic:  topic,
		logger: logger.With("component", "APNSDispatcher"),
	}
}

func (d *Dispatcher) Dispatch(ctx context.Context, msg dispatch.Message) (json.RawMessage, error) {
	if d.client == nil || d.topic == "" {
		return nil, dispatch.NewError(dispatch.KindConfigurationMissing, "apns credentials are not configured", nil)
	}
	if err := msg.Validate(); err != nil {
		return nil, err
	}

	builder := payload.NewPayload().
		AlertTitle(msg.Title).
		AlertBody(msg.Body)
	if msg.Sound != nil && msg.Sound.IOSSound != "" {
		builder.Sound(msg.Sound.IOSSound)
	}
	for k, v := range dispatch.MergeData(msg.Data) {
		builder.Custom(k, v)
	}

	res, err := d.client.PushWithContext(ctx, &apns2.Notification{
		DeviceToken: msg.Address,
		Topic:       d.topic,
		Payload:     builder,
	})
	if err != nil {
		d.logger.Warn("APNs transport failed", "err", err)
		return nil, &dispatch.Error{Kind: dispatch.KindNetworkError, Message: "apns request failed", Details: err.Error(), Err: err}
	}

	if !res.Sent() {
		kind := classifyStatus(res.StatusCode)
		d.logger.Warn("APNs rejected notification", "kind", kind, "status", res.StatusCode, "reason", res.Reason)
		return nil, &dispatch.Error{
			Kind:    kind,
			Message: "apns rejected notification",
			Status:  res.StatusCode,
			Details: map[string]any{"status": res.StatusCode, "reason": res.Reason},
		}
	}

	ack, _ := json.Marshal(map[string]string{"id": res.ApnsID})
	return ack, nil
}

func classifyStatus(status int) dispatch.Kind {
	switch status {
	case http.StatusForbidden:
		return dispatch.KindAuthFailed
	case http.StatusTooManyRequests:
		return dispatch.KindRateLimited
	case http.StatusBadRequest, http.StatusRequestEntityTooLarge:
		return dispatch.KindInvalidPayload
	case http.StatusGone:
		return dispatch.KindProviderRejected
	default:
		return dispatch.KindProviderError
	}
}
