package circuit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBreaker_OpensAfterThreshold(t *testing.T) {
	b := NewBreaker("test", 2, time.Minute)
	assert.True(t, b.Allow())

	b.RecordFailure()
	assert.True(t, b.Allow())

	b.RecordFailure()
	assert.False(t, b.Allow())

	state, failures := b.Snapshot()
	assert.Equal(t, StateOpen, state)
	assert.Equal(t, 2, failures)
}

func TestBreaker_HalfOpenProbe(t *testing.T) {
	b := NewBreaker("test", 1, 10*time.Millisecond)
	b.RecordFailure()
	assert.False(t, b.Allow())

	time.Sleep(20 * time.Millisecond)
	assert.True(t, b.Allow())

	b.RecordSuccess()
	state, _ := b.Snapshot()
	assert.Equal(t, StateClosed, state)
	assert.True(t, b.Allow())
}

func TestBreaker_HalfOpenFailureReopens(t *testing.T) {
	b := NewBreaker("test", 1, 10*time.Millisecond)
	b.RecordFailure()
	time.Sleep(20 * time.Millisecond)
	assert.True(t, b.Allow())

	b.RecordFailure()
	assert.False(t, b.Allow())
}
