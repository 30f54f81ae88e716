package id

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_Monotonic(t *testing.T) {
	prev := New()
	for i := 0; i < 1000; i++ {
		next := New()
		require.Greater(t, next, prev)
		prev = next
	}
}

func TestTime_RoundTrip(t *testing.T) {
	ts := time.Date(2026, 3, 1, 12, 30, 0, 0, time.UTC)
	got, ok := Time(At(ts))
	require.True(t, ok)
	assert.True(t, got.Equal(ts))

	_, ok = Time("not-a-ulid")
	assert.False(t, ok)
}
