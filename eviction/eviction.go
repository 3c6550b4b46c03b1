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

// Package eviction bounds how many stale registrations the registry may
// expire during a single sweep. When the registry is already missing more
// than a tolerated fraction of its expected members, further losses probably
// reflect a network incident rather than dead instances, and the sweep must
// pause rather than evict its way through a partition.
package eviction

import "sync"

// Strategy decides how many registry entries may be evicted in one sweep.
type Strategy interface {
	// AllowedToEvict returns the number of entries that may be expired now,
	// given the expected registry size and the actual current size.
	AllowedToEvict(expectedSize, actualSize int) int
}

// PercentageDrop is a Strategy tolerating a configured percentage drop of
// the expected registry size. The eviction quota is whatever remains of that
// tolerance after accounting for entries already missing.
type PercentageDrop struct {
	dropRatio float64
}

// NewPercentageDrop creates a strategy from an integer percentage in [0,100].
func NewPercentageDrop(allowedPercentageDrop int) *PercentageDrop {
	return &PercentageDrop{dropRatio: float64(allowedPercentageDrop) / 100}
}

func (s *PercentageDrop) AllowedToEvict(expectedSize, actualSize int) int {
	maxAllowed := int(s.dropRatio * float64(expectedSize))
	currentDrop := expectedSize - actualSize
	delta := maxAllowed - currentDrop
	if delta <= 0 {
		return 0
	}
	return delta
}

// MovingAverage tracks an exponentially weighted moving average of observed
// registration counts. Sweeps feed it the current count and read Expected to
// obtain the expectedSize input for a Strategy, so a slow decline moves the
// baseline while a sudden drop moves it only partway.
type MovingAverage struct {
	mu          sync.Mutex
	smoothing   float64
	value       float64
	initialized bool
}

// NewMovingAverage creates an average with the given smoothing factor in
// (0,1]. Higher factors weigh recent observations more heavily.
func NewMovingAverage(smoothing float64) *MovingAverage {
	return &MovingAverage{smoothing: smoothing}
}

// Update folds a new observed registration count into the average.
func (a *MovingAverage) Update(count int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.initialized {
		a.value = float64(count)
		a.initialized = true
		return
	}
	a.value = a.smoothing*float64(count) + (1-a.smoothing)*a.value
}

// Expected returns the current expected registry size, rounded to nearest.
func (a *MovingAverage) Expected() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return int(a.value + 0.5)
}
