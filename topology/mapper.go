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

// Package topology maintains the availability-zone to region mapping the
// client uses to locate registry endpoints across a multi-region deployment.
// The mapping is derived per region from a ZoneResolver (static configuration
// or DNS TXT discovery) with a built-in default table as fallback, so a
// misconfigured deployment still boots with sensible behavior for the
// canonical cloud regions.
package topology

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
)

// DefaultZone is the sentinel zone name that config-driven resolvers return
// when they have no real zone information for a region.
const DefaultZone = "defaultZone"

// ErrNoZones is returned when a region yields no availability zones and the
// built-in default table has no entry for it either. This is a configuration
// error: registry information for the region cannot be fetched.
var ErrNoZones = errors.New("no availability zone information for region")

// ZoneResolver returns all availability zones in a region.
type ZoneResolver interface {
	Zones(ctx context.Context, region string) ([]string, error)
}

// ZoneResolverFunc adapts a function to the ZoneResolver interface.
type ZoneResolverFunc func(ctx context.Context, region string) ([]string, error)

func (f ZoneResolverFunc) Zones(ctx context.Context, region string) ([]string, error) {
	return f(ctx, region)
}

// Mapper maintains the zone-to-region table. Rebuilds are serialized and
// replace the table atomically: concurrent lookups observe either the whole
// pre-rebuild table or the whole post-rebuild table, never a partial merge.
type Mapper struct {
	resolver ZoneResolver
	logger   log.Logger
	defaults map[string][]string

	mu             sync.Mutex
	regionsToFetch []string
	table          atomic.Value // holds *zoneTable
}

type zoneTable struct {
	zoneToRegion map[string]string
	regions      map[string]struct{}
}

// Option customizes a Mapper.
type Option interface {
	apply(*Mapper)
}

type optionFunc func(*Mapper)

func (f optionFunc) apply(m *Mapper) { f(m) }

// WithLogger sets the logger used for rebuild progress and fallbacks.
func WithLogger(logger log.Logger) Option {
	return optionFunc(func(m *Mapper) {
		m.logger = logger
	})
}

// NewMapper creates a mapper over the given zone resolver. The mapping is
// empty until SetRegionsToFetch is called.
func NewMapper(resolver ZoneResolver, opts ...Option) *Mapper {
	mapper := &Mapper{
		resolver: resolver,
		logger:   log.NewNopLogger(),
		defaults: defaultRegionZones(),
	}
	for _, opt := range opts {
		opt.apply(mapper)
	}
	mapper.table.Store(&zoneTable{
		zoneToRegion: map[string]string{},
		regions:      map[string]struct{}{},
	})
	return mapper
}

// SetRegionsToFetch rebuilds the mapping for the given regions. A nil slice
// erases the mapping. The rebuild is atomic from the caller's perspective.
func (m *Mapper) SetRegionsToFetch(ctx context.Context, regions []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rebuild(ctx, regions)
}

// Refresh repeats the last SetRegionsToFetch, re-resolving every region.
func (m *Mapper) Refresh(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	level.Info(m.logger).Log("msg", "refreshing availability zone to region mappings")
	return m.rebuild(ctx, m.regionsToFetch)
}

// rebuild must be called with m.mu held.
func (m *Mapper) rebuild(ctx context.Context, regions []string) error {
	if regions == nil {
		level.Info(m.logger).Log("msg", "regions to fetch is nil, erasing older mapping if any")
		m.regionsToFetch = nil
		m.table.Store(&zoneTable{
			zoneToRegion: map[string]string{},
			regions:      map[string]struct{}{},
		})
		return nil
	}
	next := &zoneTable{
		zoneToRegion: make(map[string]string),
		regions:      make(map[string]struct{}, len(regions)),
	}
	for _, region := range regions {
		zones, err := m.resolver.Zones(ctx, region)
		if err != nil {
			level.Warn(m.logger).Log("msg", "zone resolution failed, checking default mapping", "region", region, "err", err)
			zones = nil
		}
		if len(zones) == 0 || (len(zones) == 1 && zones[0] == DefaultZone) {
			defaultZones, ok := m.defaults[region]
			if !ok {
				return fmt.Errorf("%w: %s", ErrNoZones, region)
			}
			level.Info(m.logger).Log("msg", "no availability zone information for region, using default mapping", "region", region)
			zones = defaultZones
		}
		for _, zone := range zones {
			next.zoneToRegion[zone] = region
		}
		next.regions[region] = struct{}{}
	}
	m.regionsToFetch = append([]string(nil), regions...)
	m.table.Store(next)
	level.Info(m.logger).Log("msg", "rebuilt availability zone to region mapping", "zones", len(next.zoneToRegion))
	return nil
}

// RegionFor returns the region the given availability zone belongs to, or
// the empty string when the zone maps to the local region. When the zone is
// not in the table, the last character is stripped and the remainder matched
// against the known regions, catching zones of a known region that were not
// listed explicitly.
func (m *Mapper) RegionFor(zone string) string {
	table := m.table.Load().(*zoneTable)
	if region, ok := table.zoneToRegion[zone]; ok {
		return region
	}
	if zone == "" {
		return ""
	}
	possible := zone[:len(zone)-1]
	if _, ok := table.regions[possible]; ok {
		return possible
	}
	return ""
}

// defaultRegionZones seeds a handful of canonical cloud regions so a
// misconfigured deployment still resolves them.
func defaultRegionZones() map[string][]string {
	return map[string][]string{
		"us-east-1": {"us-east-1a", "us-east-1c", "us-east-1d", "us-east-1e"},
		"us-west-1": {"us-west-1a", "us-west-1c"},
		"us-west-2": {"us-west-2a", "us-west-2b", "us-west-2c"},
		"eu-west-1": {"eu-west-1a", "eu-west-1b", "eu-west-1c"},
	}
}
