// Package fcm delivers notifications through Firebase Cloud Messaging. The
// delivery address is an FCM registration token.
package fcm

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/errorutils"
	"firebase.google.com/go/v4/messaging"
	"google.golang.org/api/option"

	"github.com/tinywideclouds/go-push-relay/pkg/dispatch"
)

// MessagingClient is the subset of *messaging.Client the dispatcher uses.
type MessagingClient interface {
	Send(ctx context.Context, msg *messaging.Message) (string, error)
}

// NewMessagingClient builds a Firebase messaging client. An empty
// credentialsFile falls back to application default credentials.
func NewMessagingClient(ctx context.Context, projectID, credentialsFile string) (*messaging.Client, error) {
	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}
	var conf *firebase.Config
	if projectID != "" {
		conf = &firebase.Config{ProjectID: projectID}
	}

	app, err := firebase.NewApp(ctx, conf, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize firebase app: %w", err)
	}
	client, err := app.Messaging(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create firebase messaging client: %w", err)
	}
	return client, nil
}

type Dispatcher struct {
	client MessagingClient
	logger *slog.Logger
}

// NewDispatcher accepts a nil client; every dispatch then fails with
// configuration_missing.
func NewDispatcher(client MessagingClient, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		client: client,
		logger: logger.With("component", "FCMDispatcher"),
	}
}

func (d *Dispatcher) Dispatch(ctx context.Context, msg dispatch.Message) (json.RawMessage, error) {
	if d.client == nil {
		return nil, dispatch.NewError(dispatch.KindConfigurationMissing, "fcm credentials are not configured", nil)
	}
	if err := msg.Validate(); err != nil {
		return nil, err
	}

	data, err := stringifyData(dispatch.MergeData(msg.Data))
	if err != nil {
		return nil, dispatch.Wrap(dispatch.KindInvalidPayload, "notification data is not encodable", err)
	}

	fm := &messaging.Message{
		Token: msg.Address,
		Data:  data,
		Notification: &messaging.Notification{
			Title: msg.Title,
			Body:  msg.Body,
		},
	}
	if msg.Sound != nil {
		if msg.Sound.AndroidSound != "" || msg.Sound.AndroidChannelID != "" {
			fm.Android = &messaging.AndroidConfig{
				Notification: &messaging.AndroidNotification{
					Sound:     msg.Sound.AndroidSound,
					ChannelID: msg.Sound.AndroidChannelID,
				},
			}
		}
		if msg.Sound.IOSSound != "" {
			fm.APNS = &messaging.APNSConfig{
				Payload: &messaging.APNSPayload{Aps: &messaging.Aps{Sound: msg.Sound.IOSSound}},
			}
		}
	}

	id, err := d.client.Send(ctx, fm)
	if err != nil {
		classified := classify(err)
		d.logger.Warn("FCM send failed", "kind", classified.Kind, "err", err)
		return nil, classified
	}

	ack, _ := json.Marshal(map[string]string{"id": id})
	return ack, nil
}

func classify(err error) *dispatch.Error {
	kind := dispatch.KindProviderError
	switch {
	case errorutils.IsUnauthenticated(err), errorutils.IsPermissionDenied(err), messaging.IsThirdPartyAuthError(err):
		kind = dispatch.KindAuthFailed
	case errorutils.IsResourceExhausted(err), messaging.IsQuotaExceeded(err):
		kind = dispatch.KindRateLimited
	case messaging.IsUnregistered(err), messaging.IsSenderIDMismatch(err):
		kind = dispatch.KindProviderRejected
	case errorutils.IsInvalidArgument(err):
		kind = dispatch.KindInvalidPayload
	case errorutils.HTTPResponse(err) == nil:
		kind = dispatch.KindNetworkError
	}
	return &dispatch.Error{Kind: kind, Message: "fcm send failed", Details: err.Error(), Err: err}
}

// stringifyData converts the data block to FCM's string map. Strings are
// kept verbatim, everything else is JSON encoded.
func stringifyData(data map[string]any) (map[string]string, error) {
	out := make(map[string]string, len(data))
	for k, v := range data {
		switch val := v.(type) {
		case string:
			out[k] = val
		case json.RawMessage:
			var s string
			if json.Unmarshal(val, &s) == nil {
				out[k] = s
			} else {
				out[k] = string(val)
			}
		case nil:
			continue
		default:
			b, err := json.Marshal(val)
			if err != nil {
				return nil, fmt.Errorf("encode data field %q: %w", k, err)
			}
			out[k] = string(b)
		}
	}
	return out, nil
}
