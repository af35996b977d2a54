// Package gateway implements the device-registry operations and the two send
// flows on top of a DeviceRegistry and a single Dispatcher. Every failure it
// returns is a classified *dispatch.Error.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/tinywideclouds/go-microservice-base/pkg/middleware"

	"github.com/tinywideclouds/go-push-relay/internal/observability/metrics"
	"github.com/tinywideclouds/go-push-relay/pkg/dispatch"
	"github.com/tinywideclouds/go-push-relay/pkg/notification"
)

const (
	OpRegisterDevice                = "register_device"
	OpSendNotification              = "send_notification"
	OpSendAuthorizationNotification = "send_authorization_notification"
	OpDeleteDevice                  = "delete_device"
)

// Config holds the optional behaviour of the gateway.
type Config struct {
	Welcome WelcomeConfig
}

type Gateway struct {
	registry   dispatch.DeviceRegistry
	dispatcher dispatch.Dispatcher
	welcome    *Welcomer
	logger     *slog.Logger
}

func New(registry dispatch.DeviceRegistry, dispatcher dispatch.Dispatcher, cfg Config, logger *slog.Logger) *Gateway {
	logger = logger.With("component", "Gateway")
	g := &Gateway{
		registry:   registry,
		dispatcher: dispatcher,
		logger:     logger,
	}
	if cfg.Welcome.Enabled {
		g.welcome = NewWelcomer(dispatcher, cfg.Welcome, logger)
	}
	return g
}

// Close cancels pending welcome notifications and waits for them to exit.
func (g *Gateway) Close() {
	g.welcome.Stop()
}

// RegisterDevice upserts the registration for req.UserID.
func (g *Gateway) RegisterDevice(ctx context.Context, req notification.RegisterRequest) (device *notification.Device, err error) {
	defer func() { g.record(ctx, OpRegisterDevice, err, "user_id", req.UserID) }()

	if req.UserID == "" || req.PushToken == "" || req.DeviceInfo == nil {
		return nil, dispatch.NewError(dispatch.KindInvalidInput, "missing required fields", map[string]bool{
			"userId":     req.UserID == "",
			"pushToken":  req.PushToken == "",
			"deviceInfo": req.DeviceInfo == nil,
		})
	}

	device, err = g.registry.Upsert(ctx, notification.Device{
		UserID:    req.UserID,
		PushToken: req.PushToken,
		DeviceInfo: notification.DeviceInfo{
			Platform: req.DeviceInfo.Platform,
			Model:    req.DeviceInfo.Model,
			Version:  req.DeviceInfo.Version,
		},
		UpdatedAt: time.Now().UTC(),
	})
	if err != nil {
		return nil, &dispatch.Error{
			Kind:    dispatch.KindRegistryUnavailable,
			Message: "failed to register device",
			Details: err.Error(),
			Err:     err,
		}
	}

	g.welcome.Schedule(device.UserID, device.PushToken)
	return device, nil
}

// SendNotification delivers a plain notification to the user's device.
func (g *Gateway) SendNotification(ctx context.Context, req notification.SendRequest) (result json.RawMessage, err error) {
	defer func() { g.record(ctx, OpSendNotification, err, "user_id", req.UserID) }()

	if req.UserID == "" || req.Title == "" || req.Message == "" {
		return nil, dispatch.NewError(dispatch.KindInvalidInput, "missing required fields", map[string]bool{
			"userId":  req.UserID == "",
			"title":   req.Title == "",
			"message": req.Message == "",
		})
	}

	device, err := g.lookup(ctx, req.UserID, "device not found")
	if err != nil {
		return nil, err
	}

	result, err = g.dispatcher.Dispatch(ctx, dispatch.Message{
		Address: device.PushToken,
		Title:   req.Title,
		Body:    req.Message,
	})
	if err != nil {
		return nil, dispatch.Wrap(dispatch.KindDispatchFailed, "failed to send notification", err)
	}
	return result, nil
}

// DeleteDevice removes the registration for userID.
func (g *Gateway) DeleteDevice(ctx context.Context, userID string) (err error) {
	defer func() { g.record(ctx, OpDeleteDevice, err, "user_id", userID) }()

	if userID == "" {
		return dispatch.NewError(dispatch.KindInvalidInput, "user id is required", nil)
	}

	if err := g.registry.Delete(ctx, userID); err != nil {
		if errors.Is(err, dispatch.ErrDeviceNotFound) {
			return &dispatch.Error{Kind: dispatch.KindDeviceNotFound, Message: "device not found", Err: err}
		}
		return &dispatch.Error{
			Kind:    dispatch.KindRegistryUnavailable,
			Message: "failed to delete device",
			Details: err.Error(),
			Err:     err,
		}
	}
	return nil
}

// lookup fetches a registration that has a usable delivery address.
func (g *Gateway) lookup(ctx context.Context, userID, notFoundMsg string) (*notification.Device, error) {
	device, err := g.registry.Get(ctx, userID)
	if err != nil {
		if errors.Is(err, dispatch.ErrDeviceNotFound) {
			return nil, &dispatch.Error{
				Kind:    dispatch.KindDeviceNotFound,
				Message: notFoundMsg,
				Details: map[string]string{"userId": userID},
				Err:     err,
			}
		}
		return nil, &dispatch.Error{
			Kind:    dispatch.KindRegistryUnavailable,
			Message: "failed to look up device",
			Details: err.Error(),
			Err:     err,
		}
	}
	if device.PushToken == "" {
		return nil, dispatch.NewError(dispatch.KindDeviceNotFound, notFoundMsg, map[string]string{
			"userId": userID,
			"reason": "no delivery address",
		})
	}
	return device, nil
}

// record emits the single outcome log entry and metric of an operation. The
// authenticated caller, when the auth gate verified one, is logged with it.
func (g *Gateway) record(ctx context.Context, op string, err error, attrs ...any) {
	if caller, ok := middleware.GetUserIDFromContext(ctx); ok && caller != "" {
		attrs = append(attrs, "caller", caller)
	}
	if err == nil {
		metrics.OperationsTotal.WithLabelValues(op, "success").Inc()
		g.logger.Info("Operation succeeded", append([]any{"operation", op, "outcome", "success"}, attrs...)...)
		return
	}

	kind := dispatch.KindOf(err)
	outcome := string(kind)
	if kind == dispatch.KindUnknown {
		outcome = "unknown"
	}
	metrics.OperationsTotal.WithLabelValues(op, outcome).Inc()

	args := append([]any{"operation", op, "outcome", outcome, "err", err}, attrs...)
	if details := dispatch.DetailsOf(err); details != nil {
		args = append(args, "details", details)
	}
	switch kind {
	case dispatch.KindInvalidInput, dispatch.KindDeviceNotFound:
		g.logger.Warn("Operation rejected", args...)
	default:
		g.logger.Error("Operation failed", args...)
	}
}
