// Copyright 2023-2025 Buf Technologies, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package ratelimit provides a lock-free token bucket used to protect the
// registry's read endpoints. There are two parameters per acquisition:
//
//   - burst size: maximum number of requests allowed into the system as a burst
//   - average rate: expected number of requests per time unit
//
// Both parameters are supplied on each call rather than at construction, so a
// single bucket can track consumption while its thresholds are reconfigured
// at runtime.
package ratelimit

import (
	"sync/atomic"

	"github.com/bufbuild/disco/internal"
)

// Unit is the time unit the average rate is expressed in.
type Unit int64

const (
	// PerSecond means averageRate tokens are replenished every second.
	PerSecond = Unit(1000)
	// PerMinute means averageRate tokens are replenished every minute.
	PerMinute = Unit(60 * 1000)
)

// TokenBucket is a token bucket over two atomics: the number of consumed
// tokens and the timestamp of the last refill. It is safe for concurrent use
// and never blocks.
//
// The refill window is claimed once per elapsed quantum: of all goroutines
// that observe the same elapsed time, only the one winning the CAS on the
// refill timestamp replenishes tokens. The others consume against whatever
// level they observe. Under contention the consumed level can therefore lag
// by up to one quantum, which is acceptable.
type TokenBucket struct {
	clock      internal.Clock
	msPerUnit  int64
	consumed   atomic.Int64
	lastRefill atomic.Int64
}

// Option customizes a TokenBucket.
type Option interface {
	apply(*TokenBucket)
}

type optionFunc func(*TokenBucket)

func (f optionFunc) apply(b *TokenBucket) { f(b) }

// WithClock substitutes the clock Acquire reads the current time from.
func WithClock(clock internal.Clock) Option {
	return optionFunc(func(b *TokenBucket) {
		b.clock = clock
	})
}

// NewTokenBucket creates a bucket whose average rate is interpreted in the
// given unit.
func NewTokenBucket(unit Unit, opts ...Option) *TokenBucket {
	bucket := &TokenBucket{
		clock:     internal.NewRealClock(),
		msPerUnit: int64(unit),
	}
	for _, opt := range opts {
		opt.apply(bucket)
	}
	return bucket
}

// Acquire attempts to take one token, refilling the bucket first based on the
// wall clock. If burstSize or averageRate is not positive, the call admits
// unconditionally instead of failing.
func (b *TokenBucket) Acquire(burstSize, averageRate int64) bool {
	return b.AcquireAt(burstSize, averageRate, b.clock.Now().UnixMilli())
}

// AcquireAt is Acquire with an explicit current time in milliseconds.
func (b *TokenBucket) AcquireAt(burstSize, averageRate, nowMillis int64) bool {
	if burstSize <= 0 || averageRate <= 0 {
		return true
	}
	b.refill(burstSize, averageRate, nowMillis)
	return b.consume(burstSize)
}

func (b *TokenBucket) refill(burstSize, averageRate, nowMillis int64) {
	refillTime := b.lastRefill.Load()
	newTokens := (nowMillis - refillTime) * averageRate / b.msPerUnit
	if newTokens <= 0 {
		return
	}
	newRefillTime := nowMillis
	if refillTime != 0 {
		// Advance by the time the minted tokens account for, not to now.
		// This keeps fractional quanta earning tokens on a later call.
		newRefillTime = refillTime + newTokens*b.msPerUnit/averageRate
	}
	if !b.lastRefill.CompareAndSwap(refillTime, newRefillTime) {
		return
	}
	for {
		current := b.consumed.Load()
		// The burst size may have shrunk since the last call; clamp before
		// crediting so the level can never exceed the current ceiling.
		adjusted := min(current, burstSize)
		next := max(0, adjusted-newTokens)
		if b.consumed.CompareAndSwap(current, next) {
			return
		}
	}
}

func (b *TokenBucket) consume(burstSize int64) bool {
	for {
		current := b.consumed.Load()
		if current >= burstSize {
			return false
		}
		if b.consumed.CompareAndSwap(current, current+1) {
			return true
		}
	}
}

// Reset returns the bucket to its initial state: nothing consumed and no
// refill recorded.
func (b *TokenBucket) Reset() {
	b.consumed.Store(0)
	b.lastRefill.Store(0)
}
