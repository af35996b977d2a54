// Package dispatch defines the contracts shared by the gateway, the device
// registries and the push-provider clients.
package dispatch

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/tinywideclouds/go-push-relay/pkg/notification"
)

// ErrDeviceNotFound is returned by a DeviceRegistry when no registration
// exists for the requested user.
var ErrDeviceNotFound = errors.New("device not found")

// Dispatcher defines the contract for a component that delivers one
// notification to one provider-issued address (OneSignal, FCM, APNs).
type Dispatcher interface {
	// Dispatch issues exactly one outbound call. On success it returns the
	// provider's acknowledgment body unmodified. Failures are *Error values.
	Dispatch(ctx context.Context, msg Message) (json.RawMessage, error)
}

// DeviceRegistry defines the contract for the single-record-per-user device
// store. Concurrency safety is delegated to the backing store's native
// per-key atomicity.
type DeviceRegistry interface {
	// Upsert creates or overwrites the registration keyed by device.UserID.
	Upsert(ctx context.Context, device notification.Device) (*notification.Device, error)

	// Get returns the registration for userID or ErrDeviceNotFound.
	Get(ctx context.Context, userID string) (*notification.Device, error)

	// Delete removes the registration for userID or returns ErrDeviceNotFound
	// if there was none.
	Delete(ctx context.Context, userID string) error
}
