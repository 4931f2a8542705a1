package throttle

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestIsHeavy(t *testing.T) {
	assert.True(t, IsHeavy(5000, false))
	assert.True(t, IsHeavy(10, true))
	assert.False(t, IsHeavy(10, false))
}

func TestAllowConsumesBurstThenRejects(t *testing.T) {
	g := NewGate(Limits{RatePerSec: 1, Burst: 2, HeavyQueryConcurrency: 1, UserQueryConcurrency: 1}, nil)
	ctx := context.Background()

	ok, _, err := g.Allow(ctx, "alice")
	assert.NoError(t, err)
	assert.True(t, ok)

	ok, _, err = g.Allow(ctx, "alice")
	assert.NoError(t, err)
	assert.True(t, ok)

	ok, retryAfter, err := g.Allow(ctx, "alice")
	assert.NoError(t, err)
	assert.False(t, ok)
	assert.Greater(t, retryAfter, time.Duration(0))
}

func TestAllowTracksActorsIndependently(t *testing.T) {
	g := NewGate(Limits{RatePerSec: 1, Burst: 1, HeavyQueryConcurrency: 1, UserQueryConcurrency: 1}, nil)
	ctx := context.Background()

	ok, _, _ := g.Allow(ctx, "alice")
	assert.True(t, ok)
	ok, _, _ = g.Allow(ctx, "alice")
	assert.False(t, ok)

	ok, _, _ = g.Allow(ctx, "bob")
	assert.True(t, ok)
}

func TestAcquireHeavyBlocksBeyondCapacity(t *testing.T) {
	g := NewGate(Limits{HeavyQueryConcurrency: 1, UserQueryConcurrency: 5}, nil)
	release, err := g.AcquireHeavy(context.Background())
	assert.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = g.AcquireHeavy(ctx)
	assert.Error(t, err)

	release()
	_, err = g.AcquireHeavy(context.Background())
	assert.NoError(t, err)
}

func TestAcquireUserSemaphoresArePerActor(t *testing.T) {
	g := NewGate(Limits{HeavyQueryConcurrency: 5, UserQueryConcurrency: 1}, nil)
	releaseAlice, err := g.AcquireUser(context.Background(), "alice")
	assert.NoError(t, err)

	_, err = g.AcquireUser(context.Background(), "bob")
	assert.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = g.AcquireUser(ctx, "alice")
	assert.Error(t, err)

	releaseAlice()
}

type fakeBackend struct {
	allowed     bool
	retryAfter  time.Duration
	errToReturn error
}

func (f *fakeBackend) Allow(context.Context, string, float64, float64) (bool, time.Duration, error) {
	return f.allowed, f.retryAfter, f.errToReturn
}

func TestAllowPrefersSharedBackend(t *testing.T) {
	g := NewGate(DefaultLimits(), &fakeBackend{allowed: false, retryAfter: 3 * time.Second})
	ok, retryAfter, err := g.Allow(context.Background(), "alice")
	assert.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 3*time.Second, retryAfter)
}

func TestAllowFallsBackToLocalWhenSharedErrors(t *testing.T) {
	g := NewGate(Limits{RatePerSec: 1, Burst: 1}, &fakeBackend{errToReturn: errBackendUnavailable})
	ok, _, err := g.Allow(context.Background(), "alice")
	assert.NoError(t, err)
	assert.True(t, ok)
}

var errBackendUnavailable = errors.New("backend unavailable")
