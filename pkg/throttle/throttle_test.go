package throttle

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

func TestThrottle_SpacesSameOrigin(t *testing.T) {
	thr := New(rate.Every(50*time.Millisecond), 1)

	start := time.Now()
	require.NoError(t, thr.Wait(context.Background(), "https://mirror.example/a"))
	require.NoError(t, thr.Wait(context.Background(), "https://mirror.example/b"))
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond, "second call to the same origin must wait")
}

func TestThrottle_DistinctOriginsIndependent(t *testing.T) {
	thr := New(rate.Every(time.Hour), 1)

	start := time.Now()
	require.NoError(t, thr.Wait(context.Background(), "https://one.example/x"))
	require.NoError(t, thr.Wait(context.Background(), "https://two.example/x"))
	assert.Less(t, time.Since(start), time.Second, "different origins must not block each other")
}

func TestThrottle_BadURL(t *testing.T) {
	thr := New(rate.Inf, 1)
	assert.Error(t, thr.Wait(context.Background(), "not a url"))
	assert.Error(t, thr.Wait(context.Background(), ""))
}

func TestThrottle_CanceledContext(t *testing.T) {
	thr := New(rate.Every(time.Hour), 1)
	require.NoError(t, thr.Wait(context.Background(), "https://mirror.example/a"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.Error(t, thr.Wait(ctx, "https://mirror.example/b"))
}
