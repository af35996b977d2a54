package dispatch

import (
	"errors"
	"fmt"
)

// Kind classifies a failure anywhere between the HTTP edge and the provider.
type Kind string

const (
	KindUnknown              Kind = ""
	KindUnauthorized         Kind = "unauthorized"
	KindInvalidInput         Kind = "invalid_input"
	KindDeviceNotFound       Kind = "device_not_found"
	KindRegistryUnavailable  Kind = "registry_unavailable"
	KindConfigurationMissing Kind = "configuration_missing"
	KindNetworkError         Kind = "network_error"
	KindAuthFailed           Kind = "auth_failed"
	KindRateLimited          Kind = "rate_limited"
	KindInvalidPayload       Kind = "invalid_payload"
	KindProviderRejected     Kind = "provider_rejected"
	KindProviderError        Kind = "provider_error"
	KindDispatchFailed       Kind = "dispatch_failed"
)

// Error is the classified failure type. Details carries operator-facing
// diagnostics (provider bodies, missing field flags) and must never hold
// credentials.
type Error struct {
	Kind    Kind
	Message string
	// Status is the provider HTTP status when one was received.
	Status  int
	Details any
	Err     error
}

// NewError builds an *Error without an underlying cause.
func NewError(kind Kind, message string, details any) *Error {
	return &Error{Kind: kind, Message: message, Details: details}
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = string(e.Kind)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf returns the kind of the outermost *Error in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// DetailsOf returns the first non-nil Details found walking err's chain.
func DetailsOf(err error) any {
	for err != nil {
		var e *Error
		if !errors.As(err, &e) {
			return nil
		}
		if e.Details != nil {
			return e.Details
		}
		err = e.Err
	}
	return nil
}

// Wrap classifies cause under kind, keeping the cause's details reachable.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Err: cause}
}
