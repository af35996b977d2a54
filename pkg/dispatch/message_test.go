package dispatch_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tinywideclouds/go-push-relay/pkg/dispatch"
)

func TestMergeData(t *testing.T) {
	t.Run("Forces capability flags even when caller sends false", func(t *testing.T) {
		in := map[string]any{
			"authRequired":                  false,
			"canForward":                    false,
			"canChangeResponsibleByManager": false,
			"canReject":                     false,
		}
		out := dispatch.MergeData(in)

		for _, flag := range []string{
			dispatch.FlagAuthRequired,
			dispatch.FlagCanForward,
			dispatch.FlagCanChangeResponsibleByManager,
			dispatch.FlagCanReject,
		} {
			assert.Equal(t, true, out[flag], flag)
		}
		assert.Equal(t, false, in["canReject"], "input must not be mutated")
	})

	t.Run("Defaults status and stepNumber only when absent", func(t *testing.T) {
		out := dispatch.MergeData(nil)
		assert.Equal(t, 0, out[dispatch.FieldStatus])
		assert.Equal(t, 1, out[dispatch.FieldStepNumber])

		out = dispatch.MergeData(map[string]any{"status": 4, "stepNumber": 0})
		assert.Equal(t, 4, out[dispatch.FieldStatus])
		assert.Equal(t, 0, out[dispatch.FieldStepNumber])
	})

	t.Run("Keeps arbitrary caller data", func(t *testing.T) {
		out := dispatch.MergeData(map[string]any{"fileId": "f-9"})
		assert.Equal(t, "f-9", out["fileId"])
	})
}

func TestMessageValidate(t *testing.T) {
	require.NoError(t, dispatch.Message{Address: "p", Title: "t", Body: "b"}.Validate())

	err := dispatch.Message{Address: "p", Body: "b"}.Validate()
	require.Error(t, err)
	assert.Equal(t, dispatch.KindInvalidInput, dispatch.KindOf(err))
	assert.Equal(t, map[string]bool{"address": false, "title": true, "message": false}, dispatch.DetailsOf(err))
}
