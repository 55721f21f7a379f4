// Copyright 2024 OnChain Media Corporation
// SPDX-License-Identifier: Apache-2.0

package audit

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrRateLimited is returned when no token became available in time.
var ErrRateLimited = errors.New("rate limit exceeded")

// RateLimiter implements a token bucket rate limiter.
type RateLimiter struct {
	mu         sync.Mutex
	tokens     float64
	maxTokens  float64
	refillRate float64 // tokens per second
	lastRefill time.Time
	enabled    bool
	maxWait    time.Duration
	now        func() time.Time
}

// RateLimitConfig holds rate limiter configuration.
type RateLimitConfig struct {
	Enabled        bool
	RequestsPerSec float64
	BurstSize      int
	// MaxWait bounds how long Wait blocks; zero means one second.
	MaxWait time.Duration
}

// DefaultRateLimitConfig returns default rate limit configuration.
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		Enabled:        true,
		RequestsPerSec: 100,
		BurstSize:      200,
		MaxWait:        time.Second,
	}
}

// NewRateLimiter creates a new rate limiter.
func NewRateLimiter(cfg RateLimitConfig) *RateLimiter {
	maxTokens := float64(cfg.BurstSize)
	if maxTokens <= 0 {
		maxTokens = 200
	}

	refillRate := cfg.RequestsPerSec
	if refillRate <= 0 {
		refillRate = 100
	}

	maxWait := cfg.MaxWait
	if maxWait <= 0 {
		maxWait = time.Second
	}

	return &RateLimiter{
		tokens:     maxTokens,
		maxTokens:  maxTokens,
		refillRate: refillRate,
		lastRefill: time.Now(),
		enabled:    cfg.Enabled,
		maxWait:    maxWait,
		now:        time.Now,
	}
}

// Allow takes one token if available.
func (r *RateLimiter) Allow() bool {
	return r.AllowN(1)
}

// AllowN takes n tokens if all are available.
func (r *RateLimiter) AllowN(n int) bool {
	if r == nil || !r.enabled {
		return true
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.refill()

	needed := float64(n)
	if r.tokens >= needed {
		r.tokens -= needed
		return true
	}
	return false
}

// Wait blocks until a token is available or ctx is done, giving up with
// ErrRateLimited after the configured MaxWait.
func (r *RateLimiter) Wait(ctx context.Context) error {
	if r.Allow() {
		return nil
	}

	deadline := time.NewTimer(r.maxWait)
	defer deadline.Stop()
	tick := time.NewTicker(r.interval())
	defer tick.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline.C:
			return ErrRateLimited
		case <-tick.C:
			if r.Allow() {
				return nil
			}
		}
	}
}

// interval is the time one token takes to refill, at least a millisecond.
func (r *RateLimiter) interval() time.Duration {
	d := time.Duration(float64(time.Second) / r.refillRate)
	if d < time.Millisecond {
		d = time.Millisecond
	}
	return d
}

// refill adds tokens based on elapsed time.
func (r *RateLimiter) refill() {
	now := r.now()
	elapsed := now.Sub(r.lastRefill).Seconds()
	r.lastRefill = now

	r.tokens += elapsed * r.refillRate
	if r.tokens > r.maxTokens {
		r.tokens = r.maxTokens
	}
}

// Stats is a snapshot of the limiter.
type Stats struct {
	Enabled         bool    `json:"enabled"`
	AvailableTokens float64 `json:"available_tokens"`
	MaxTokens       float64 `json:"max_tokens"`
	RefillRate      float64 `json:"refill_rate"`
}

// GetStats returns current rate limiter statistics.
func (r *RateLimiter) GetStats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.refill()

	return Stats{
		Enabled:         r.enabled,
		AvailableTokens: r.tokens,
		MaxTokens:       r.maxTokens,
		RefillRate:      r.refillRate,
	}
}
