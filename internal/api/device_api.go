// Package api exposes the gateway operations over HTTP using the
// {success, error, details} JSON envelope.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/tinywideclouds/go-push-relay/internal/gateway"
	"github.com/tinywideclouds/go-push-relay/pkg/dispatch"
	"github.com/tinywideclouds/go-push-relay/pkg/notification"
)

// maxBodyBytes bounds every request body the API decodes.
const maxBodyBytes = 1 << 20

// Gateway is the subset of *gateway.Gateway the handlers call.
type Gateway interface {
	RegisterDevice(ctx context.Context, req notification.RegisterRequest) (*notification.Device, error)
	SendNotification(ctx context.Context, req notification.SendRequest) (json.RawMessage, error)
	SendAuthorizationNotification(ctx context.Context, req notification.AuthorizationRequest) (*gateway.AuthorizationResult, error)
	DeleteDevice(ctx context.Context, userID string) error
}

type DeviceAPI struct {
	Gateway Gateway
	Logger  *slog.Logger
}

func NewDeviceAPI(gw Gateway, logger *slog.Logger) *DeviceAPI {
	return &DeviceAPI{
		Gateway: gw,
		Logger:  logger.With("component", "DeviceAPI"),
	}
}

type registeredDevice struct {
	UserID    string `json:"userId"`
	PushToken string `json:"pushToken"`
}

// RegisterDevice handles POST /devices.
func (api *DeviceAPI) RegisterDevice(w http.ResponseWriter, r *http.Request) {
	var req notification.RegisterRequest
	if !api.decode(w, r, &req) {
		return
	}

	device, err := api.Gateway.RegisterDevice(r.Context(), req)
	if err != nil {
		api.writeError(w, err)
		return
	}

	WriteJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"device":  registeredDevice{UserID: device.UserID, PushToken: device.PushToken},
	})
}

// SendNotification handles POST /notify.
func (api *DeviceAPI) SendNotification(w http.ResponseWriter, r *http.Request) {
	var req notification.SendRequest
	if !api.decode(w, r, &req) {
		return
	}

	result, err := api.Gateway.SendNotification(r.Context(), req)
	if err != nil {
		api.writeError(w, err)
		return
	}

	WriteJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"result":  result,
	})
}

// SendAuthorizationNotification handles POST /notify-file-upload.
func (api *DeviceAPI) SendAuthorizationNotification(w http.ResponseWriter, r *http.Request) {
	var req notification.AuthorizationRequest
	if !api.decode(w, r, &req) {
		return
	}

	res, err := api.Gateway.SendAuthorizationNotification(r.Context(), req)
	if err != nil {
		api.writeError(w, err)
		return
	}

	WriteJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"result":  res.Result,
		"details": res.Details,
	})
}

// DeleteDevice handles DELETE /devices/{userId}.
func (api *DeviceAPI) DeleteDevice(w http.ResponseWriter, r *http.Request) {
	if err := api.Gateway.DeleteDevice(r.Context(), r.PathValue("userId")); err != nil {
		api.writeError(w, err)
		return
	}

	WriteJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": "Device deleted successfully",
	})
}

func (api *DeviceAPI) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(v); err != nil {
		api.Logger.Warn("Request body rejected", "path", r.URL.Path, "err", err)
		var details any
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) && typeErr.Field != "" {
			details = map[string]string{"field": typeErr.Field, "expected": typeErr.Type.String()}
		}
		WriteEnvelopeError(w, http.StatusBadRequest, "invalid json", details)
		return false
	}
	return true
}

func (api *DeviceAPI) writeError(w http.ResponseWriter, err error) {
	var de *dispatch.Error
	if !errors.As(err, &de) {
		api.Logger.Error("Unclassified error reached the API", "err", err)
		WriteEnvelopeError(w, http.StatusInternalServerError, "internal error", nil)
		return
	}
	WriteEnvelopeError(w, StatusFor(de.Kind), de.Message, dispatch.DetailsOf(err))
}
