// Package pipeline adapts Pub/Sub messages into gateway send operations.
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"

	"github.com/tinywideclouds/go-push-relay/pkg/notification"
)

// SendRequestTransformer decodes a message payload into a SendRequest.
// Malformed payloads are skipped; field validation is left to the gateway so
// both ingress paths reject the same inputs.
func SendRequestTransformer(
	_ context.Context,
	msg *messagepipeline.Message,
) (*notification.SendRequest, bool, error) {
	var req notification.SendRequest
	if err := json.Unmarshal(msg.Payload, &req); err != nil {
		return nil, true, fmt.Errorf("failed to unmarshal send request from message %s: %w", msg.ID, err)
	}
	return &req, false, nil
}
