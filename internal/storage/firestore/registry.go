package firestore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/tinywideclouds/go-push-relay/pkg/dispatch"
	"github.com/tinywideclouds/go-push-relay/pkg/notification"
)

const DefaultCollection = "devices"

// Registry implements dispatch.DeviceRegistry on Cloud Firestore. Each user
// owns exactly one document, so upsert and delete are single-document writes.
type Registry struct {
	client     *firestore.Client
	collection string
}

func NewRegistry(client *firestore.Client, collection string) *Registry {
	if collection == "" {
		collection = DefaultCollection
	}
	return &Registry{client: client, collection: collection}
}

// deviceRecord is the stored document.
type deviceRecord struct {
	UserID     string                  `firestore:"user_id"`
	PushToken  string                  `firestore:"push_token"`
	DeviceInfo notification.DeviceInfo `firestore:"device_info"`
	UpdatedAt  time.Time               `firestore:"updated_at"`
}

func (r *Registry) Upsert(ctx context.Context, device notification.Device) (*notification.Device, error) {
	if device.UpdatedAt.IsZero() {
		device.UpdatedAt = time.Now().UTC()
	}
	record := deviceRecord{
		UserID:     device.UserID,
		PushToken:  device.PushToken,
		DeviceInfo: device.DeviceInfo,
		UpdatedAt:  device.UpdatedAt,
	}

	if _, err := r.deviceRef(device.UserID).Set(ctx, record); err != nil {
		return nil, fmt.Errorf("firestore set device %s: %w", device.UserID, err)
	}
	return &device, nil
}

func (r *Registry) Get(ctx context.Context, userID string) (*notification.Device, error) {
	snap, err := r.deviceRef(userID).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, dispatch.ErrDeviceNotFound
		}
		return nil, fmt.Errorf("firestore get device %s: %w", userID, err)
	}

	var record deviceRecord
	if err := snap.DataTo(&record); err != nil {
		return nil, fmt.Errorf("firestore decode device %s: %w", userID, err)
	}
	return &notification.Device{
		UserID:     record.UserID,
		PushToken:  record.PushToken,
		DeviceInfo: record.DeviceInfo,
		UpdatedAt:  record.UpdatedAt,
	}, nil
}

// Delete removes the user's document. The Exists precondition makes a
// missing document surface as NotFound instead of a silent no-op.
func (r *Registry) Delete(ctx context.Context, userID string) error {
	if _, err := r.deviceRef(userID).Delete(ctx, firestore.Exists); err != nil {
		if status.Code(err) == codes.NotFound {
			return dispatch.ErrDeviceNotFound
		}
		return fmt.Errorf("firestore delete device %s: %w", userID, err)
	}
	return nil
}

// deviceRef: devices/{sha256(userID)}
func (r *Registry) deviceRef(userID string) *firestore.DocumentRef {
	return r.client.Collection(r.collection).Doc(hashKey(userID))
}

// hashKey keeps arbitrary user ids (slashes included) valid as document ids.
func hashKey(k string) string {
	sum := sha256.Sum256([]byte(k))
	return hex.EncodeToString(sum[:])
}
