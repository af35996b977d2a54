package notification_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tinywideclouds/go-push-relay/pkg/notification"
)

func TestLooseInt(t *testing.T) {
	testCases := []struct {
		name    string
		input   string
		want    notification.LooseInt
		wantErr bool
	}{
		{name: "number", input: `3`, want: 3},
		{name: "numeric string", input: `"2"`, want: 2},
		{name: "padded numeric string", input: `" 7 "`, want: 7},
		{name: "word", input: `"pending"`, wantErr: true},
		{name: "boolean", input: `true`, wantErr: true},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			var n notification.LooseInt
			err := json.Unmarshal([]byte(tc.input), &n)
			if tc.wantErr {
				var typeErr *json.UnmarshalTypeError
				assert.ErrorAs(t, err, &typeErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, n)
		})
	}
}

func TestUserSummary_LegacyAlias(t *testing.T) {
	var u notification.UserSummary
	require.NoError(t, json.Unmarshal([]byte(`{"id":12,"displayName":"A","arabicDisplayName":"ب","email":"x"}`), &u))
	assert.Equal(t, notification.UserSummary{ID: "12", DisplayName: "A", LocalizedDisplayName: "ب"}, u)
}
