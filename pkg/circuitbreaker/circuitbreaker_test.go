package circuitbreaker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBreaker_TripsAfterThreshold(t *testing.T) {
	b := New(Config{FailureThreshold: 0.5, Window: 4, OpenTimeout: time.Hour})
	for i := 0; i < 2; i++ {
		require.True(t, b.Allow())
		b.Record(true)
	}
	for i := 0; i < 2; i++ {
		require.True(t, b.Allow())
		b.Record(false)
	}
	assert.Equal(t, Open, b.State())
	assert.False(t, b.Allow())
}

func TestBreaker_HalfOpenRecoversOnSuccess(t *testing.T) {
	b := New(Config{FailureThreshold: 0.5, Window: 2, OpenTimeout: time.Millisecond})
	b.Allow()
	b.Record(false)
	b.Allow()
	b.Record(false)
	require.Equal(t, Open, b.State())

	time.Sleep(5 * time.Millisecond)
	require.True(t, b.Allow())
	b.Record(true)
	assert.Equal(t, Closed, b.State())
}

func TestBreaker_Do_ReturnsErrOpenWhenTripped(t *testing.T) {
	b := New(Config{FailureThreshold: 0.1, Window: 1, OpenTimeout: time.Hour})
	err := b.Do(context.Background(), func(ctx context.Context) error {
		return errors.New("boom")
	})
	require.Error(t, err)

	err = b.Do(context.Background(), func(ctx context.Context) error { return nil })
	assert.ErrorIs(t, err, ErrOpen)
}
