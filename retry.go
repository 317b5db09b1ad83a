// Copyright 2026 The Zaparoo Project Contributors.
// SPDX-License-Identifier: Apache-2.0
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package canon

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"
)

// RetryConfig bounds retries of whole-session operations such as Init.
// Frame retransmission inside a protocol exchange has its own fixed bound
// and does not use this.
type RetryConfig struct {
	// Retryable decides whether an error is worth another attempt.
	// Defaults to IsRetryable.
	Retryable func(error) bool
	// OnRetry, when set, is called before sleeping ahead of attempt+1.
	OnRetry func(attempt int, err error, wait time.Duration)
	// MaxAttempts of zero or less runs the operation once.
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	// BackoffMultiplier grows the wait after every failed attempt.
	BackoffMultiplier float64
	// Jitter adds up to Jitter*wait of random delay.
	Jitter float64
	// RetryTimeout caps all attempts together; zero means no cap.
	RetryTimeout time.Duration
}

// DefaultRetryConfig returns the connection retry configuration.
func DefaultRetryConfig() *RetryConfig {
	return &RetryConfig{
		MaxAttempts:       DefaultConnectionRetries,
		InitialBackoff:    ConnectionInitialBackoff,
		MaxBackoff:        ConnectionMaxBackoff,
		BackoffMultiplier: ConnectionBackoffMultiplier,
		Jitter:            ConnectionJitter,
		RetryTimeout:      ConnectionRetryTimeout,
	}
}

// RetryableFunc is one attempt of a retried operation.
type RetryableFunc func() error

// RetryWithConfig runs fn until it succeeds, fails with an error that is
// not retryable, or runs out of attempts or time. Once an attempt has
// failed, the last attempt's error is returned rather than the context's.
func RetryWithConfig(ctx context.Context, config *RetryConfig, fn RetryableFunc) error {
	if config == nil {
		config = DefaultRetryConfig()
	}
	if config.MaxAttempts <= 0 {
		return fn()
	}
	if config.RetryTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, config.RetryTimeout)
		defer cancel()
	}

	retryable := config.Retryable
	if retryable == nil {
		retryable = IsRetryable
	}

	var lastErr error
	wait := config.InitialBackoff
	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			if lastErr != nil {
				return lastErr
			}
			return fmt.Errorf("retry context cancelled: %w", err)
		}

		lastErr = fn()
		if lastErr == nil || !retryable(lastErr) || attempt >= config.MaxAttempts {
			return lastErr
		}

		sleep := withJitter(wait, config.Jitter)
		Debugf("attempt %d/%d failed, retrying in %v: %v", attempt, config.MaxAttempts, sleep, lastErr)
		if config.OnRetry != nil {
			config.OnRetry(attempt, lastErr, sleep)
		}
		if !sleepCtx(ctx, sleep) {
			return lastErr
		}
		wait = nextBackoff(wait, config)
	}
}

// sleepCtx reports whether d elapsed before ctx ended.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func nextBackoff(wait time.Duration, config *RetryConfig) time.Duration {
	return min(time.Duration(float64(wait)*config.BackoffMultiplier), config.MaxBackoff)
}

func withJitter(wait time.Duration, factor float64) time.Duration {
	if factor <= 0 || wait <= 0 {
		return wait
	}
	//nolint:gosec // backoff spread, not security sensitive
	return wait + time.Duration(rand.Float64()*factor*float64(wait))
}
