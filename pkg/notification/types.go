// Package notification contains the public domain models of the relay: the
// stored device registration and the request shapes accepted by the gateway.
package notification

import (
	"encoding/json"
	"reflect"
	"strconv"
	"strings"
	"time"
)

// DeviceInfo describes the installed app instance. All fields are optional.
type DeviceInfo struct {
	Platform string `json:"platform,omitempty" firestore:"platform,omitempty"`
	Model    string `json:"model,omitempty" firestore:"model,omitempty"`
	Version  string `json:"version,omitempty" firestore:"version,omitempty"`
}

// Device is the single registration kept per user.
type Device struct {
	UserID     string     `json:"userId"`
	PushToken  string     `json:"pushToken"`
	DeviceInfo DeviceInfo `json:"deviceInfo"`
	UpdatedAt  time.Time  `json:"updatedAt,omitempty"`
}

// RegisterRequest is the body of POST /devices.
type RegisterRequest struct {
	UserID     string      `json:"userId"`
	PushToken  string      `json:"pushToken"`
	DeviceInfo *DeviceInfo `json:"deviceInfo"`
}

// UnmarshalJSON accepts the legacy "playerId" field as an alias for pushToken.
func (r *RegisterRequest) UnmarshalJSON(b []byte) error {
	type plain RegisterRequest
	aux := struct {
		*plain
		PlayerID string `json:"playerId"`
	}{plain: (*plain)(r)}
	if err := json.Unmarshal(b, &aux); err != nil {
		return err
	}
	if r.PushToken == "" {
		r.PushToken = aux.PlayerID
	}
	return nil
}

// SendRequest is the body of POST /notify and of ingress messages.
type SendRequest struct {
	UserID  string `json:"userId"`
	Title   string `json:"title"`
	Message string `json:"message"`
}

// UserSummary is the reduced view of a user embedded in authorization payloads.
type UserSummary struct {
	ID                   string `json:"id"`
	DisplayName          string `json:"displayName"`
	LocalizedDisplayName string `json:"localizedDisplayName"`
}

// UnmarshalJSON accepts the legacy "arabicDisplayName" field as an alias for
// localizedDisplayName and drops every other field.
func (u *UserSummary) UnmarshalJSON(b []byte) error {
	var aux struct {
		ID                   json.RawMessage `json:"id"`
		DisplayName          string          `json:"displayName"`
		LocalizedDisplayName string          `json:"localizedDisplayName"`
		ArabicDisplayName    string          `json:"arabicDisplayName"`
	}
	if err := json.Unmarshal(b, &aux); err != nil {
		return err
	}
	u.ID = rawString(aux.ID)
	u.DisplayName = aux.DisplayName
	u.LocalizedDisplayName = aux.LocalizedDisplayName
	if u.LocalizedDisplayName == "" {
		u.LocalizedDisplayName = aux.ArabicDisplayName
	}
	return nil
}

// rawString renders a JSON string or number id as a plain string.
func rawString(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}

// LooseInt is an integer that may arrive as a JSON number or as a numeric
// string ("2").
type LooseInt int

func (n *LooseInt) UnmarshalJSON(b []byte) error {
	var v int
	if err := json.Unmarshal(b, &v); err == nil {
		*n = LooseInt(v)
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return &json.UnmarshalTypeError{Value: string(b), Type: reflect.TypeOf(v)}
	}
	v, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return &json.UnmarshalTypeError{Value: "string " + strconv.Quote(s), Type: reflect.TypeOf(v)}
	}
	*n = LooseInt(v)
	return nil
}

// OwnerDetails pairs the document owner with the user whose authorization is
// requested.
type OwnerDetails struct {
	OwnerUser            *UserSummary `json:"ownerUser"`
	AuthRequiredFromUser *UserSummary `json:"authRequiredFromUser"`
}

// AuthorizationData is the caller-supplied additionalData of an
// authorization-required notification. Capability flags are accepted but
// always overridden to true on dispatch.
type AuthorizationData struct {
	WorkflowID                    json.RawMessage `json:"workflowId,omitempty"`
	FileID                        json.RawMessage `json:"fileId,omitempty"`
	FileName                      string          `json:"fileName,omitempty"`
	UniqueCode                    string          `json:"uniqueCode,omitempty"`
	Description                   string          `json:"description,omitempty"`
	UploadDate                    string          `json:"uploadDate,omitempty"`
	OwnerDetails                  *OwnerDetails   `json:"ownerDetails,omitempty"`
	AuthRequired                  *bool           `json:"authRequired,omitempty"`
	CanForward                    *bool           `json:"canForward,omitempty"`
	CanChangeResponsibleByManager *bool           `json:"canChangeResponsibleByManager,omitempty"`
	CanReject                     *bool           `json:"canReject,omitempty"`
	Status                        *LooseInt       `json:"status,omitempty"`
	StepNumber                    *LooseInt       `json:"stepNumber,omitempty"`
	Notes                         string          `json:"notes,omitempty"`
}

// AuthorizationRequest is the body of POST /notify-file-upload.
type AuthorizationRequest struct {
	ReceiverID     string             `json:"receiverId"`
	SenderID       string             `json:"senderId"`
	FileName       string             `json:"fileName"`
	FileID         json.RawMessage    `json:"fileId"`
	AdditionalData *AuthorizationData `json:"additionalData"`
	Language       string             `json:"language,omitempty"`
}

// FileIDString renders the file id whether it was sent as a string or a number.
func (r AuthorizationRequest) FileIDString() string {
	return rawString(r.FileID)
}
