package dispatch_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/tinywideclouds/go-push-relay/pkg/dispatch"
)

func TestErrorInspection(t *testing.T) {
	inner := &dispatch.Error{Kind: dispatch.KindProviderRejected, Status: 200, Details: []string{"not subscribed"}}
	outer := dispatch.Wrap(dispatch.KindDispatchFailed, "failed to send notification", inner)

	t.Run("KindOf reports the outermost kind", func(t *testing.T) {
		assert.Equal(t, dispatch.KindDispatchFailed, dispatch.KindOf(outer))
		assert.Equal(t, dispatch.KindDispatchFailed, dispatch.KindOf(fmt.Errorf("ctx: %w", outer)))
	})

	t.Run("DetailsOf reaches the wrapped details", func(t *testing.T) {
		assert.Equal(t, []string{"not subscribed"}, dispatch.DetailsOf(outer))
	})

	t.Run("Unclassified errors", func(t *testing.T) {
		plain := errors.New("boom")
		assert.Equal(t, dispatch.KindUnknown, dispatch.KindOf(plain))
		assert.Nil(t, dispatch.DetailsOf(plain))
	})

	t.Run("Error string includes the cause", func(t *testing.T) {
		assert.Equal(t, "failed to send notification: provider_rejected", outer.Error())
	})
}
