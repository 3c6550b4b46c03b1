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

// Package gate rate-limits the registry's read endpoints. Registrations and
// heartbeats must always get through and are cheap, so only registry fetches
// are throttled. Delta fetches are much smaller than full fetches, and
// dropping one tends to trigger a full fetch next, so they get relatively
// higher priority: one bucket caps all fetches together and a second,
// narrower bucket caps full fetches alone.
package gate

import (
	"net/http"
	"regexp"
	"strings"
	"sync/atomic"

	"github.com/bufbuild/disco/ratelimit"
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
)

// IdentityHeader is the request header naming the calling client for the
// privileged check.
const IdentityHeader = "DiscoveryIdentity-Name"

// Default privileged client identities: the standard client every
// application uses, and peer registry servers replicating traffic.
const (
	DefaultClientName = "DefaultClient"
	DefaultServerName = "DefaultServer"
)

// Target classifies an inbound read request.
type Target int

const (
	// TargetOther covers writes, heartbeats and anything else that is
	// never throttled.
	TargetOther = Target(0)
	// TargetFullFetch is a request for the entire registry snapshot.
	TargetFullFetch = Target(1)
	// TargetDeltaFetch is a request for changes since the last snapshot.
	TargetDeltaFetch = Target(2)
	// TargetApplication is a fetch scoped to one application.
	TargetApplication = Target(3)
)

func (t Target) String() string {
	switch t {
	case TargetFullFetch:
		return "FullFetch"
	case TargetDeltaFetch:
		return "DeltaFetch"
	case TargetApplication:
		return "Application"
	default:
		return "Other"
	}
}

var targetPattern = regexp.MustCompile(`^.*/apps(/[^/]*)?$`)

// Classify determines the throttling target of a request from its method
// and URL shape.
func Classify(req *http.Request) Target {
	if req.Method != http.MethodGet {
		return TargetOther
	}
	match := targetPattern.FindStringSubmatch(req.URL.Path)
	if match == nil {
		return TargetOther
	}
	switch tail := match[1]; tail {
	case "", "/":
		return TargetFullFetch
	case "/delta":
		return TargetDeltaFetch
	default:
		return TargetApplication
	}
}

// Config is the gate's configuration surface. It is consulted on every
// request so a dynamic config source can retune the gate at runtime.
type Config interface {
	// Enabled reports whether overload is enforced with a 503. When false
	// the gate only counts would-be drops so thresholds can be sized
	// before activation.
	Enabled() bool
	// ThrottleStandardClients disables the privileged exemption, making
	// the standard client and peer servers subject to throttling too.
	ThrottleStandardClients() bool
	// PrivilegedClients names additional identities exempt from
	// throttling, on top of the built-in defaults.
	PrivilegedClients() []string
	// BurstSize is the shared burst ceiling of both buckets.
	BurstSize() int64
	// RegistryFetchAverageRate is the combined per-second rate across all
	// fetch targets.
	RegistryFetchAverageRate() int64
	// FullFetchAverageRate is the narrower per-second rate for full
	// fetches alone.
	FullFetchAverageRate() int64
}

// SimpleConfig is a plain-struct Config.
type SimpleConfig struct {
	Enforce          bool
	ThrottleStandard bool
	Privileged       []string
	Burst            int64
	FetchRate        int64
	FullFetchRate    int64
}

var _ Config = (*SimpleConfig)(nil)

func (c *SimpleConfig) Enabled() bool { return c.Enforce }
func (c *SimpleConfig) ThrottleStandardClients() bool { return c.ThrottleStandard }
func (c *SimpleConfig) PrivilegedClients() []string { return c.Privileged }
func (c *SimpleConfig) BurstSize() int64 { return c.Burst }
func (c *SimpleConfig) RegistryFetchAverageRate() int64 { return c.FetchRate }
func (c *SimpleConfig) FullFetchAverageRate() int64 { return c.FullFetchRate }

// Stats is a snapshot of the gate's drop counters.
type Stats struct {
	// RateLimited counts requests dropped with a 503.
	RateLimited     int64
	RateLimitedFull int64
	// Candidates counts requests that would have been dropped were
	// enforcement enabled.
	Candidates     int64
	CandidatesFull int64
}

// Filter is the request gate. Wrap the registry's read mux with Handler.
type Filter struct {
	config Config
	logger log.Logger

	// fetchBucket admits any fetch; fullFetchBucket additionally gates
	// full fetches.
	fetchBucket     *ratelimit.TokenBucket
	fullFetchBucket *ratelimit.TokenBucket

	rateLimited     atomic.Int64
	rateLimitedFull atomic.Int64
	candidates      atomic.Int64
	candidatesFull  atomic.Int64
}

// Option customizes a Filter.
type Option interface {
	apply(*Filter)
}

type optionFunc func(*Filter)

func (f optionFunc) apply(filter *Filter) { f(filter) }

// WithLogger sets the logger for per-request throttling decisions, which
// are logged at debug.
func WithLogger(logger log.Logger) Option {
	return optionFunc(func(f *Filter) {
		f.logger = logger
	})
}

// New creates a gate over the given configuration.
func New(config Config, opts ...Option) *Filter {
	filter := &Filter{
		config:          config,
		logger:          log.NewNopLogger(),
		fetchBucket:     ratelimit.NewTokenBucket(ratelimit.PerSecond),
		fullFetchBucket: ratelimit.NewTokenBucket(ratelimit.PerSecond),
	}
	for _, opt := range opts {
		opt.apply(filter)
	}
	return filter
}

// Handler wraps next with the gate. Non-fetch requests pass through
// untouched; overloaded fetches are answered with 503 Service Unavailable
// when enforcement is on.
func (f *Filter) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(writer http.ResponseWriter, req *http.Request) {
		target := Classify(req)
		if target == TargetOther {
			next.ServeHTTP(writer, req)
			return
		}
		if f.isRateLimited(req, target) {
			f.incrementStats(target)
			if f.config.Enabled() {
				writer.WriteHeader(http.StatusServiceUnavailable)
				return
			}
		}
		next.ServeHTTP(writer, req)
	})
}

func (f *Filter) isRateLimited(req *http.Request, target Target) bool {
	if f.isPrivileged(req) {
		level.Debug(f.logger).Log("msg", "privileged request", "target", target)
		return false
	}
	if f.isOverloaded(target) {
		level.Debug(f.logger).Log("msg", "overloaded request, discarding", "target", target)
		return true
	}
	level.Debug(f.logger).Log("msg", "request admitted", "target", target)
	return false
}

func (f *Filter) isPrivileged(req *http.Request) bool {
	if f.config.ThrottleStandardClients() {
		return false
	}
	clientName := req.Header.Get(IdentityHeader)
	if clientName == DefaultClientName || clientName == DefaultServerName {
		return true
	}
	for _, privileged := range f.config.PrivilegedClients() {
		if strings.EqualFold(privileged, clientName) {
			return true
		}
	}
	return false
}

func (f *Filter) isOverloaded(target Target) bool {
	burstSize := f.config.BurstSize()
	// The combined bucket is consulted first and unconditionally so every
	// fetch, full or not, draws from the shared allowance.
	overloaded := !f.fetchBucket.Acquire(burstSize, f.config.RegistryFetchAverageRate())
	if target == TargetFullFetch {
		overloaded = !f.fullFetchBucket.Acquire(burstSize, f.config.FullFetchAverageRate()) || overloaded
	}
	return overloaded
}

func (f *Filter) incrementStats(target Target) {
	if f.config.Enabled() {
		f.rateLimited.Add(1)
		if target == TargetFullFetch {
			f.rateLimitedFull.Add(1)
		}
	} else {
		f.candidates.Add(1)
		if target == TargetFullFetch {
			f.candidatesFull.Add(1)
		}
	}
}

// Stats returns a snapshot of the drop counters.
func (f *Filter) Stats() Stats {
	return Stats{
		RateLimited:     f.rateLimited.Load(),
		RateLimitedFull: f.rateLimitedFull.Load(),
		Candidates:      f.candidates.Load(),
		CandidatesFull:  f.candidatesFull.Load(),
	}
}

// Reset returns both buckets to their initial state.
func (f *Filter) Reset() {
	f.fetchBucket.Reset()
	f.fullFetchBucket.Reset()
}
