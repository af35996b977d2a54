package pipeline_test

import (
	"context"
	"testing"

	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tinywideclouds/go-push-relay/internal/pipeline"
	"github.com/tinywideclouds/go-push-relay/pkg/notification"
)

func TestSendRequestTransformer(t *testing.T) {
	ctx := context.Background()

	testCases := []struct {
		name                  string
		payload               string
		expected              *notification.SendRequest
		expectedErrorContains string
	}{
		{
			name:     "Happy Path - Valid Request",
			payload:  `{"userId":"u1","title":"Hi","message":"Hello"}`,
			expected: &notification.SendRequest{UserID: "u1", Title: "Hi", Message: "Hello"},
		},
		{
			name:     "Incomplete requests pass through for gateway validation",
			payload:  `{"userId":"u1"}`,
			expected: &notification.SendRequest{UserID: "u1"},
		},
		{
			name:                  "Failure - Malformed JSON",
			payload:               "not-json",
			expectedErrorContains: "failed to unmarshal send request from message msg-1",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			msg := &messagepipeline.Message{
				MessageData: messagepipeline.MessageData{ID: "msg-1", Payload: []byte(tc.payload)},
			}

			req, skip, err := pipeline.SendRequestTransformer(ctx, msg)

			if tc.expectedErrorContains != "" {
				require.Error(t, err)
				assert.True(t, skip)
				assert.Contains(t, err.Error(), tc.expectedErrorContains)
				return
			}
			require.NoError(t, err)
			assert.False(t, skip)
			assert.Equal(t, tc.expected, req)
		})
	}
}
