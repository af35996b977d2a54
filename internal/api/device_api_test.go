package api_test

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/tinywideclouds/go-push-relay/internal/api"
	"github.com/tinywideclouds/go-push-relay/internal/gateway"
	"github.com/tinywideclouds/go-push-relay/pkg/dispatch"
	"github.com/tinywideclouds/go-push-relay/pkg/notification"
)

// --- Mocks ---
type MockGateway struct {
	mock.Mock
}

func (m *MockGateway) RegisterDevice(ctx context.Context, req notification.RegisterRequest) (*notification.Device, error) {
	args := m.Called(ctx, req)
	var d *notification.Device
	if v := args.Get(0); v != nil {
		d = v.(*notification.Device)
	}
	return d, args.Error(1)
}

func (m *MockGateway) SendNotification(ctx context.Context, req notification.SendRequest) (json.RawMessage, error) {
	args := m.Called(ctx, req)
	var raw json.RawMessage
	if v := args.Get(0); v != nil {
		raw = v.(json.RawMessage)
	}
	return raw, args.Error(1)
}

func (m *MockGateway) SendAuthorizationNotification(ctx context.Context, req notification.AuthorizationRequest) (*gateway.AuthorizationResult, error) {
	args := m.Called(ctx, req)
	var res *gateway.AuthorizationResult
	if v := args.Get(0); v != nil {
		res = v.(*gateway.AuthorizationResult)
	}
	return res, args.Error(1)
}

func (m *MockGateway) DeleteDevice(ctx context.Context, userID string) error {
	return m.Called(ctx, userID).Error(0)
}

// --- Setup ---
func setupAPI() (*http.ServeMux, *MockGateway) {
	gw := new(MockGateway)
	handler := api.NewDeviceAPI(gw, slog.New(slog.NewTextHandler(io.Discard, nil)))

	mux := http.NewServeMux()
	mux.HandleFunc("POST /devices", handler.RegisterDevice)
	mux.HandleFunc("POST /notify", handler.SendNotification)
	mux.HandleFunc("POST /notify-file-upload", handler.SendAuthorizationNotification)
	mux.HandleFunc("DELETE /devices/{userId}", handler.DeleteDevice)
	mux.HandleFunc("DELETE /devices/{$}", handler.DeleteDevice)
	return mux, gw
}

func do(mux http.Handler, method, path, body string) (*httptest.ResponseRecorder, map[string]any) {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)

	var decoded map[string]any
	_ = json.Unmarshal(w.Body.Bytes(), &decoded)
	return w, decoded
}

// --- Tests ---

func TestRegisterDevice(t *testing.T) {
	t.Run("returns the stored registration", func(t *testing.T) {
		mux, gw := setupAPI()
		gw.On("RegisterDevice", mock.Anything, mock.MatchedBy(func(r notification.RegisterRequest) bool {
			return r.UserID == "u1" && r.PushToken == "p1" && r.DeviceInfo != nil && r.DeviceInfo.Platform == "ios"
		})).Return(&notification.Device{UserID: "u1", PushToken: "p1"}, nil)

		w, body := do(mux, http.MethodPost, "/devices", `{"userId":"u1","pushToken":"p1","deviceInfo":{"platform":"ios"}}`)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, true, body["success"])
		assert.Equal(t, map[string]any{"userId": "u1", "pushToken": "p1"}, body["device"])
		gw.AssertExpectations(t)
	})

	t.Run("accepts the legacy playerId field", func(t *testing.T) {
		mux, gw := setupAPI()
		gw.On("RegisterDevice", mock.Anything, mock.MatchedBy(func(r notification.RegisterRequest) bool {
			return r.PushToken == "legacy"
		})).Return(&notification.Device{UserID: "u1", PushToken: "legacy"}, nil)

		w, _ := do(mux, http.MethodPost, "/devices", `{"userId":"u1","playerId":"legacy","deviceInfo":{}}`)

		assert.Equal(t, http.StatusOK, w.Code)
		gw.AssertExpectations(t)
	})

	t.Run("maps invalid input to 400 with details", func(t *testing.T) {
		mux, gw := setupAPI()
		gw.On("RegisterDevice", mock.Anything, mock.Anything).
			Return(nil, dispatch.NewError(dispatch.KindInvalidInput, "missing required fields", map[string]bool{"pushToken": true}))

		w, body := do(mux, http.MethodPost, "/devices", `{"userId":"u1"}`)

		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, false, body["success"])
		assert.Equal(t, "missing required fields", body["error"])
		assert.Equal(t, map[string]any{"pushToken": true}, body["details"])
	})

	t.Run("rejects malformed json", func(t *testing.T) {
		mux, gw := setupAPI()

		w, body := do(mux, http.MethodPost, "/devices", `{not json`)

		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, false, body["success"])
		gw.AssertNotCalled(t, "RegisterDevice", mock.Anything, mock.Anything)
	})
}

func TestSendNotification(t *testing.T) {
	t.Run("names the mistyped field of a rejected body", func(t *testing.T) {
		mux, gw := setupAPI()

		w, body := do(mux, http.MethodPost, "/notify", `{"userId":"u1","title":5,"message":"Hello"}`)

		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, "invalid json", body["error"])
		assert.Equal(t, map[string]any{"field": "title", "expected": "string"}, body["details"])
		gw.AssertNotCalled(t, "SendNotification", mock.Anything, mock.Anything)
	})

	t.Run("wraps the provider acknowledgment", func(t *testing.T) {
		mux, gw := setupAPI()
		gw.On("SendNotification", mock.Anything, notification.SendRequest{UserID: "u1", Title: "Hi", Message: "Hello"}).
			Return(json.RawMessage(`{"id":"n1","recipients":1}`), nil)

		w, body := do(mux, http.MethodPost, "/notify", `{"userId":"u1","title":"Hi","message":"Hello"}`)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, true, body["success"])
		assert.Equal(t, map[string]any{"id": "n1", "recipients": float64(1)}, body["result"])
	})

	t.Run("maps a missing device to 404", func(t *testing.T) {
		mux, gw := setupAPI()
		gw.On("SendNotification", mock.Anything, mock.Anything).
			Return(nil, dispatch.NewError(dispatch.KindDeviceNotFound, "device not found", nil))

		w, body := do(mux, http.MethodPost, "/notify", `{"userId":"u1","title":"Hi","message":"Hello"}`)

		assert.Equal(t, http.StatusNotFound, w.Code)
		assert.Equal(t, "device not found", body["error"])
		assert.NotContains(t, body, "details")
	})

	t.Run("surfaces provider rejections as 500 with the error list", func(t *testing.T) {
		mux, gw := setupAPI()
		rejected := dispatch.NewError(dispatch.KindProviderRejected, "provider rejected", json.RawMessage(`["All included players are not subscribed"]`))
		gw.On("SendNotification", mock.Anything, mock.Anything).
			Return(nil, dispatch.Wrap(dispatch.KindDispatchFailed, "failed to send notification", rejected))

		w, body := do(mux, http.MethodPost, "/notify", `{"userId":"u1","title":"Hi","message":"Hello"}`)

		assert.Equal(t, http.StatusInternalServerError, w.Code)
		assert.Equal(t, "failed to send notification", body["error"])
		assert.Equal(t, []any{"All included players are not subscribed"}, body["details"])
	})
}

func TestSendAuthorizationNotification(t *testing.T) {
	t.Run("rejects a non-numeric status", func(t *testing.T) {
		mux, gw := setupAPI()

		w, body := do(mux, http.MethodPost, "/notify-file-upload",
			`{"receiverId":"r1","senderId":"s1","fileName":"a.pdf","fileId":1,"additionalData":{"status":"pending"}}`)

		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, "invalid json", body["error"])
		gw.AssertNotCalled(t, "SendAuthorizationNotification", mock.Anything, mock.Anything)
	})

	const reqBody = `{"receiverId":"r1","senderId":"s1","fileName":"a.pdf","fileId":"f1","additionalData":{}}`

	t.Run("returns result and details", func(t *testing.T) {
		mux, gw := setupAPI()
		gw.On("SendAuthorizationNotification", mock.Anything, mock.Anything).Return(&gateway.AuthorizationResult{
			Result:  json.RawMessage(`{"id":"n1"}`),
			Details: gateway.AuthorizationDetails{ReceiverID: "r1", SenderID: "s1", FileID: "f1", FileName: "a.pdf", Language: "en"},
		}, nil)

		w, body := do(mux, http.MethodPost, "/notify-file-upload", reqBody)

		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, map[string]any{"id": "n1"}, body["result"])
		assert.Equal(t, map[string]any{
			"receiverId": "r1", "senderId": "s1", "fileId": "f1", "fileName": "a.pdf", "language": "en",
		}, body["details"])
	})

	t.Run("maps provider kinds to their statuses", func(t *testing.T) {
		testCases := []struct {
			kind dispatch.Kind
			want int
		}{
			{dispatch.KindInvalidPayload, http.StatusBadRequest},
			{dispatch.KindAuthFailed, http.StatusUnauthorized},
			{dispatch.KindRateLimited, http.StatusTooManyRequests},
			{dispatch.KindDeviceNotFound, http.StatusNotFound},
			{dispatch.KindDispatchFailed, http.StatusInternalServerError},
		}
		for _, tc := range testCases {
			t.Run(string(tc.kind), func(t *testing.T) {
				mux, gw := setupAPI()
				gw.On("SendAuthorizationNotification", mock.Anything, mock.Anything).
					Return(nil, dispatch.NewError(tc.kind, "failed", nil))

				w, body := do(mux, http.MethodPost, "/notify-file-upload", reqBody)

				assert.Equal(t, tc.want, w.Code)
				assert.Equal(t, false, body["success"])
			})
		}
	})
}

func TestDeleteDevice(t *testing.T) {
	t.Run("deletes by path id", func(t *testing.T) {
		mux, gw := setupAPI()
		gw.On("DeleteDevice", mock.Anything, "u1").Return(nil)

		w, body := do(mux, http.MethodDelete, "/devices/u1", "")

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "Device deleted successfully", body["message"])
	})

	t.Run("passes an empty id through for validation", func(t *testing.T) {
		mux, gw := setupAPI()
		gw.On("DeleteDevice", mock.Anything, "").
			Return(dispatch.NewError(dispatch.KindInvalidInput, "user id is required", nil))

		w, _ := do(mux, http.MethodDelete, "/devices/", "")

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("maps a missing device to 404", func(t *testing.T) {
		mux, gw := setupAPI()
		gw.On("DeleteDevice", mock.Anything, "ghost").
			Return(dispatch.NewError(dispatch.KindDeviceNotFound, "device not found", nil))

		w, _ := do(mux, http.MethodDelete, "/devices/ghost", "")

		assert.Equal(t, http.StatusNotFound, w.Code)
	})
}
