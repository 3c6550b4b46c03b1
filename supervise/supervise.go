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

// Package supervise runs a periodic task under a hard per-tick timeout with
// exponential back-off. A hanging task widens the schedule instead of piling
// up concurrent invocations; a single successful run snaps the schedule back
// to its base interval.
package supervise

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bufbuild/disco/internal"
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"golang.org/x/sync/semaphore"
)

// Task is the periodic work a Supervisor drives. The context is cancelled
// when the tick's timeout expires or the supervisor is cancelled; tasks
// should honor it on any blocking operation.
type Task func(ctx context.Context) error

// Stats is a snapshot of a supervisor's tick outcome counters.
type Stats struct {
	Success int64
	Timeout int64
	// Rejected counts ticks that found the previous invocation still
	// holding the worker slot.
	Rejected int64
	// Faulted counts ticks whose task returned an error or panicked.
	Faulted int64
}

// Supervisor schedules a Task on a recurring interval, enforcing a timeout
// per tick. At most one invocation of the task is in flight at a time: a
// tick that fires while an earlier invocation is still running counts as
// rejected and does not launch another.
//
// The delay between ticks starts at the base timeout. Each timed-out tick
// doubles it, bounded by base times the back-off bound; a successful tick
// resets it.
type Supervisor struct {
	name     string
	logger   log.Logger
	clock    internal.Clock
	task     Task
	timeout  time.Duration
	maxDelay time.Duration
	delay    atomic.Int64

	// slot is the single worker slot; it is held for the full task run,
	// including past a tick timeout.
	slot *semaphore.Weighted

	startOnce sync.Once
	started   atomic.Bool
	cancel    context.CancelFunc
	done      chan struct{}

	success  atomic.Int64
	timeouts atomic.Int64
	rejected atomic.Int64
	faulted  atomic.Int64
}

// Option customizes a Supervisor.
type Option interface {
	apply(*Supervisor)
}

type optionFunc func(*Supervisor)

func (f optionFunc) apply(s *Supervisor) { f(s) }

// WithLogger sets the logger used for tick outcomes. The default discards
// everything.
func WithLogger(logger log.Logger) Option {
	return optionFunc(func(s *Supervisor) {
		s.logger = logger
	})
}

// WithClock substitutes the clock used for scheduling and timeouts.
func WithClock(clock internal.Clock) Option {
	return optionFunc(func(s *Supervisor) {
		s.clock = clock
	})
}

// New creates a supervisor for the given task. The timeout is both the base
// scheduling interval and the per-tick deadline; expBackOffBound (>= 1)
// bounds the back-off at timeout*expBackOffBound. The supervisor does not
// tick until Start is called.
func New(name string, timeout time.Duration, expBackOffBound int, task Task, opts ...Option) (*Supervisor, error) {
	if timeout <= 0 {
		return nil, fmt.Errorf("supervise: timeout must be positive, got %v", timeout)
	}
	if expBackOffBound < 1 {
		return nil, fmt.Errorf("supervise: back-off bound must be >= 1, got %d", expBackOffBound)
	}
	if task == nil {
		return nil, fmt.Errorf("supervise: task must not be nil")
	}
	supervisor := &Supervisor{
		name:     name,
		logger:   log.NewNopLogger(),
		clock:    internal.NewRealClock(),
		task:     task,
		timeout:  timeout,
		maxDelay: timeout * time.Duration(expBackOffBound),
		slot:     semaphore.NewWeighted(1),
		done:     make(chan struct{}),
	}
	supervisor.delay.Store(int64(timeout))
	for _, opt := range opts {
		opt.apply(supervisor)
	}
	supervisor.logger = log.With(supervisor.logger, "supervisor", name)
	return supervisor, nil
}

// Start begins ticking. The first tick fires after the base timeout.
// Subsequent calls are no-ops.
func (s *Supervisor) Start() {
	s.startOnce.Do(func() {
		ctx, cancel := context.WithCancel(context.Background())
		s.cancel = cancel
		s.started.Store(true)
		go s.run(ctx)
	})
}

// Cancel stops the schedule. No tick fires after Cancel returns, but an
// in-flight task invocation runs to completion on its own goroutine with a
// cancelled context. Cancelling a supervisor that was never started is a
// no-op.
func (s *Supervisor) Cancel() {
	if !s.started.Load() {
		return
	}
	s.cancel()
	<-s.done
}

// Stats returns a snapshot of the outcome counters.
func (s *Supervisor) Stats() Stats {
	return Stats{
		Success:  s.success.Load(),
		Timeout:  s.timeouts.Load(),
		Rejected: s.rejected.Load(),
		Faulted:  s.faulted.Load(),
	}
}

// Delay reports the current inter-tick delay.
func (s *Supervisor) Delay() time.Duration {
	return time.Duration(s.delay.Load())
}

func (s *Supervisor) run(ctx context.Context) {
	defer close(s.done)
	timer := s.clock.NewTimer(s.Delay())
	for {
		select {
		case <-ctx.Done():
			if !timer.Stop() {
				<-timer.Chan()
			}
			return
		case <-timer.Chan():
			s.tick(ctx)
			timer.Reset(s.Delay())
		}
	}
}

// tick launches the task, waits for it up to the timeout, and adjusts the
// delay based on the outcome.
func (s *Supervisor) tick(ctx context.Context) {
	if !s.slot.TryAcquire(1) {
		// The previous invocation is still running.
		s.rejected.Add(1)
		level.Warn(s.logger).Log("msg", "task still in flight, rejecting tick")
		return
	}
	taskCtx, cancelTask := context.WithCancel(ctx)
	defer cancelTask()

	result := make(chan error, 1)
	go func() {
		defer s.slot.Release(1)
		result <- s.invoke(taskCtx)
	}()

	timer := s.clock.NewTimer(s.timeout)
	select {
	case err := <-result:
		if !timer.Stop() {
			<-timer.Chan()
		}
		if err != nil {
			s.faulted.Add(1)
			level.Warn(s.logger).Log("msg", "task failed", "err", err)
			return
		}
		s.delay.Store(int64(s.timeout))
		s.success.Add(1)
	case <-timer.Chan():
		s.timeouts.Add(1)
		level.Warn(s.logger).Log("msg", "task timed out", "timeout", s.timeout)
		current := s.delay.Load()
		next := min(int64(s.maxDelay), current*2)
		s.delay.CompareAndSwap(current, next)
	}
}

func (s *Supervisor) invoke(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task panicked: %v", r)
		}
	}()
	return s.task(ctx)
}
