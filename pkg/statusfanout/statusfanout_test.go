package statusfanout

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewClient_DisabledIsNoOp(t *testing.T) {
	c, err := NewClient(context.Background(), &Config{Enabled: false})
	require.NoError(t, err)
	assert.False(t, c.IsEnabled())
}

func TestNewClient_EnabledRequiresProjectID(t *testing.T) {
	_, err := NewClient(context.Background(), &Config{Enabled: true})
	assert.Error(t, err)
}

func TestPublish_DisabledClientDoesNotPanic(t *testing.T) {
	c, err := NewClient(context.Background(), &Config{Enabled: false})
	require.NoError(t, err)

	assert.NotPanics(t, func() {
		c.Publish(context.Background(), Event{
			BundleID: "bundle-1",
			ItemID:   "item-1",
			Stage:    StagePosted,
		})
	})
}

func TestClose_DisabledClientIsNoOp(t *testing.T) {
	c, err := NewClient(context.Background(), &Config{Enabled: false})
	require.NoError(t, err)
	assert.NoError(t, c.Close())
}
