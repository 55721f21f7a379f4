// Copyright 2024 OnChain Media Corporation
// SPDX-License-Identifier: Apache-2.0

package audit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// frozen pins the limiter clock so no tokens refill between calls.
func frozen(rl *RateLimiter) *time.Time {
	now := time.Now()
	rl.lastRefill = now
	rl.now = func() time.Time { return now }
	return &now
}

func TestNewRateLimiter(t *testing.T) {
	rl := NewRateLimiter(RateLimitConfig{Enabled: true, RequestsPerSec: 100, BurstSize: 200})
	require.NotNil(t, rl)
	assert.True(t, rl.enabled)
	assert.Equal(t, float64(200), rl.maxTokens)
	assert.Equal(t, time.Second, rl.maxWait)

	defaults := NewRateLimiter(RateLimitConfig{Enabled: true})
	assert.Equal(t, float64(200), defaults.maxTokens)
	assert.Equal(t, float64(100), defaults.refillRate)
}

func TestRateLimiterAllow(t *testing.T) {
	rl := NewRateLimiter(RateLimitConfig{Enabled: true, RequestsPerSec: 10, BurstSize: 5})
	frozen(rl)

	for i := 0; i < 5; i++ {
		assert.True(t, rl.Allow(), "request %d", i+1)
	}
	assert.False(t, rl.Allow(), "burst exhausted")
}

func TestRateLimiterAllowN(t *testing.T) {
	rl := NewRateLimiter(RateLimitConfig{Enabled: true, RequestsPerSec: 100, BurstSize: 10})
	frozen(rl)

	assert.True(t, rl.AllowN(5))
	assert.True(t, rl.AllowN(5))
	assert.False(t, rl.AllowN(5))
}

func TestRateLimiterDisabled(t *testing.T) {
	rl := NewRateLimiter(RateLimitConfig{Enabled: false, RequestsPerSec: 1, BurstSize: 1})
	for i := 0; i < 100; i++ {
		require.True(t, rl.Allow())
	}

	var nilLimiter *RateLimiter
	assert.True(t, nilLimiter.Allow())
	assert.NoError(t, nilLimiter.Wait(context.Background()))
}

func TestRateLimiterRefill(t *testing.T) {
	rl := NewRateLimiter(RateLimitConfig{Enabled: true, RequestsPerSec: 1000, BurstSize: 1})
	now := frozen(rl)

	assert.True(t, rl.Allow())
	assert.False(t, rl.Allow())

	*now = now.Add(10 * time.Millisecond)
	assert.True(t, rl.Allow())
}

func TestRateLimiterWait(t *testing.T) {
	rl := NewRateLimiter(RateLimitConfig{Enabled: true, RequestsPerSec: 1, BurstSize: 1, MaxWait: 20 * time.Millisecond})
	frozen(rl)

	require.NoError(t, rl.Wait(context.Background()))
	assert.ErrorIs(t, rl.Wait(context.Background()), ErrRateLimited)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	rl.maxWait = time.Minute
	assert.ErrorIs(t, rl.Wait(ctx), context.Canceled)
}

func TestRateLimiterGetStats(t *testing.T) {
	rl := NewRateLimiter(RateLimitConfig{Enabled: true, RequestsPerSec: 100, BurstSize: 50})
	frozen(rl)

	stats := rl.GetStats()
	assert.True(t, stats.Enabled)
	assert.Equal(t, float64(50), stats.MaxTokens)
	assert.Equal(t, float64(50), stats.AvailableTokens)
	assert.Equal(t, float64(100), stats.RefillRate)
}
