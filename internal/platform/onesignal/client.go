// Package onesignal provides the dispatcher for the OneSignal REST API.
package onesignal

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/tinywideclouds/go-push-relay/pkg/dispatch"
)

const (
	DefaultEndpoint   = "https://onesignal.com/api/v1/notifications"
	DefaultAuthScheme = "Basic"
	defaultLocale     = "en"
	defaultTimeout    = 30 * time.Second
)

// Config holds the provider credentials. It is copied into the Dispatcher at
// construction and never re-read.
type Config struct {
	AppID  string
	APIKey string
	// Endpoint overrides DefaultEndpoint (tests, regional hosts).
	Endpoint string
	// AuthScheme is the Authorization header scheme, DefaultAuthScheme if empty.
	AuthScheme string
	Timeout    time.Duration
	// HTTPClient replaces the default client when set.
	HTTPClient *http.Client
}

type Dispatcher struct {
	appID      string
	apiKey     string
	endpoint   string
	authScheme string
	httpClient *http.Client
	logger     *slog.Logger
}

func NewDispatcher(cfg Config, logger *slog.Logger) *Dispatcher {
	d := &Dispatcher{
		appID:      cfg.AppID,
		apiKey:     cfg.APIKey,
		endpoint:   cfg.Endpoint,
		authScheme: cfg.AuthScheme,
		httpClient: cfg.HTTPClient,
		logger:     logger.With("component", "OneSignalDispatcher"),
	}
	if d.endpoint == "" {
		d.endpoint = DefaultEndpoint
	}
	if d.authScheme == "" {
		d.authScheme = DefaultAuthScheme
	}
	if d.httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		d.httpClient = &http.Client{Timeout: timeout}
	}
	return d
}

// Configured reports whether both credentials are present.
func (d *Dispatcher) Configured() bool {
	return d.appID != "" && d.apiKey != ""
}

type notificationBody struct {
	AppID            string            `json:"app_id"`
	IncludePlayerIDs []string          `json:"include_player_ids"`
	Contents         map[string]string `json:"contents"`
	Headings         map[string]string `json:"headings"`
	Data             map[string]any    `json:"data"`
	IOSSound         string            `json:"ios_sound,omitempty"`
	AndroidSound     string            `json:"android_sound,omitempty"`
	AndroidChannelID string            `json:"android_channel_id,omitempty"`
}

// Dispatch sends one notification to one player id. There is no retry: a
// failed attempt is returned immediately as a classified *dispatch.Error.
func (d *Dispatcher) Dispatch(ctx context.Context, msg dispatch.Message) (json.RawMessage, error) {
	if !d.Configured() {
		return nil, dispatch.NewError(dispatch.KindConfigurationMissing, "onesignal configuration missing", nil)
	}
	if err := msg.Validate(); err != nil {
		return nil, err
	}

	body := notificationBody{
		AppID:            d.appID,
		IncludePlayerIDs: []string{msg.Address},
		Contents:         map[string]string{defaultLocale: msg.Body},
		Headings:         map[string]string{defaultLocale: msg.Title},
		Data:             dispatch.MergeData(msg.Data),
	}
	if msg.Sound != nil {
		body.IOSSound = msg.Sound.IOSSound
		body.AndroidSound = msg.Sound.AndroidSound
		body.AndroidChannelID = msg.Sound.AndroidChannelID
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, dispatch.Wrap(dispatch.KindInvalidPayload, "failed to marshal notification payload", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, dispatch.Wrap(dispatch.KindNetworkError, "failed to build provider request", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", d.authScheme+" "+d.apiKey)

	d.logger.Debug("Sending notification", "player_id", msg.Address, "title", msg.Title)

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return nil, &dispatch.Error{
			Kind:    dispatch.KindNetworkError,
			Message: "onesignal transport failed",
			Details: err.Error(),
			Err:     err,
		}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &dispatch.Error{
			Kind:    dispatch.KindNetworkError,
			Message: "failed to read provider response",
			Status:  resp.StatusCode,
			Details: err.Error(),
			Err:     err,
		}
	}

	if err := classify(resp.StatusCode, respBody); err != nil {
		d.logger.Warn("OneSignal rejected notification",
			"player_id", msg.Address,
			"status", resp.StatusCode,
			"kind", err.Kind,
		)
		return nil, err
	}

	d.logger.Debug("Notification accepted", "player_id", msg.Address, "status", resp.StatusCode)
	return json.RawMessage(respBody), nil
}

// classify maps a provider response to a *dispatch.Error, or nil on success.
// The status code decides first; the body text is inspected only for
// statuses that carry no specific meaning.
func classify(status int, body []byte) *dispatch.Error {
	detail := bodyDetail(body)

	switch {
	case status == http.StatusBadRequest:
		return &dispatch.Error{Kind: dispatch.KindInvalidPayload, Message: "invalid notification payload", Status: status, Details: detail}
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return &dispatch.Error{Kind: dispatch.KindAuthFailed, Message: "onesignal authentication failed", Status: status, Details: detail}
	case status == http.StatusTooManyRequests:
		return &dispatch.Error{Kind: dispatch.KindRateLimited, Message: "onesignal rate limit exceeded", Status: status, Details: detail}
	case status >= 200 && status < 300:
		if errs, ok := embeddedErrors(body); ok {
			return &dispatch.Error{Kind: dispatch.KindProviderRejected, Message: "onesignal rejected notification", Status: status, Details: errs}
		}
		return nil
	}

	kind := kindFromText(body)
	if kind == dispatch.KindUnknown {
		kind = dispatch.KindProviderError
	}
	return &dispatch.Error{
		Kind:    kind,
		Message: fmt.Sprintf("onesignal returned status %d", status),
		Status:  status,
		Details: map[string]any{"status": status, "body": detail},
	}
}

// embeddedErrors extracts a non-empty "errors" member from a 2xx body.
// OneSignal reports it either as a list of strings or as an object such as
// {"invalid_player_ids": [...]}.
func embeddedErrors(body []byte) (json.RawMessage, bool) {
	var ack struct {
		Errors json.RawMessage `json:"errors"`
	}
	if err := json.Unmarshal(body, &ack); err != nil || len(ack.Errors) == 0 {
		return nil, false
	}
	switch strings.TrimSpace(string(ack.Errors)) {
	case "null", "[]", "{}", `""`:
		return nil, false
	}
	return ack.Errors, true
}

func kindFromText(body []byte) dispatch.Kind {
	text := strings.ToLower(string(body))
	switch {
	case strings.Contains(text, "rate limit"), strings.Contains(text, "too many requests"):
		return dispatch.KindRateLimited
	case strings.Contains(text, "authentication"), strings.Contains(text, "unauthorized"),
		strings.Contains(text, "api key"):
		return dispatch.KindAuthFailed
	}
	return dispatch.KindUnknown
}

// bodyDetail returns the body as JSON when it parses, else as text.
func bodyDetail(body []byte) any {
	if len(body) == 0 {
		return nil
	}
	if json.Valid(body) {
		return json.RawMessage(body)
	}
	return string(body)
}
