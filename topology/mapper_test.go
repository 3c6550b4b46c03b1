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

package topology_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/bufbuild/disco/topology"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type zonesConfig map[string][]string

func (c zonesConfig) AvailabilityZones(region string) []string {
	return c[region]
}

func TestStaticMapping(t *testing.T) {
	t.Parallel()

	mapper := topology.NewStaticMapper(zonesConfig{
		"us-east-1": {"us-east-1a", "us-east-1b"},
		"eu-west-1": {"eu-west-1a"},
	})
	require.NoError(t, mapper.SetRegionsToFetch(context.Background(), []string{"us-east-1", "eu-west-1"}))

	assert.Equal(t, "us-east-1", mapper.RegionFor("us-east-1a"))
	assert.Equal(t, "us-east-1", mapper.RegionFor("us-east-1b"))
	assert.Equal(t, "eu-west-1", mapper.RegionFor("eu-west-1a"))
	assert.Equal(t, "", mapper.RegionFor("ap-south-1a"))
}

func TestDefaultFallback(t *testing.T) {
	t.Parallel()

	// A resolver that only knows the sentinel zone forces the built-in
	// default mapping for canonical regions.
	mapper := topology.NewStaticMapper(zonesConfig{
		"us-east-1": {topology.DefaultZone},
	})
	require.NoError(t, mapper.SetRegionsToFetch(context.Background(), []string{"us-east-1"}))
	assert.Equal(t, "us-east-1", mapper.RegionFor("us-east-1c"))
}

func TestUnresolvableRegionIsFatal(t *testing.T) {
	t.Parallel()

	mapper := topology.NewStaticMapper(zonesConfig{})
	err := mapper.SetRegionsToFetch(context.Background(), []string{"mars-north-1"})
	require.Error(t, err)
	assert.ErrorIs(t, err, topology.ErrNoZones)
}

func TestResolverErrorFallsBackToDefaults(t *testing.T) {
	t.Parallel()

	failing := topology.ZoneResolverFunc(func(context.Context, string) ([]string, error) {
		return nil, errors.New("resolver down")
	})
	mapper := topology.NewMapper(failing)
	require.NoError(t, mapper.SetRegionsToFetch(context.Background(), []string{"us-west-2"}))
	assert.Equal(t, "us-west-2", mapper.RegionFor("us-west-2b"))
}

func TestZoneHeuristic(t *testing.T) {
	t.Parallel()

	mapper := topology.NewStaticMapper(zonesConfig{
		"us-east-1": {"us-east-1a"},
	})
	require.NoError(t, mapper.SetRegionsToFetch(context.Background(), []string{"us-east-1"}))

	// An unmapped zone whose name minus its last character is a known
	// region resolves to that region.
	assert.Equal(t, "us-east-1", mapper.RegionFor("us-east-1x"))
	assert.Equal(t, "", mapper.RegionFor("us-east-x"))
	assert.Equal(t, "", mapper.RegionFor(""))
}

func TestRefreshRepeatsLastSet(t *testing.T) {
	t.Parallel()

	zones := zonesConfig{"us-east-1": {"us-east-1a"}}
	mapper := topology.NewStaticMapper(zones)
	require.NoError(t, mapper.SetRegionsToFetch(context.Background(), []string{"us-east-1"}))
	// A zone name the strip-last-character heuristic cannot reach, so only
	// the refreshed table can map it.
	assert.Equal(t, "", mapper.RegionFor("use1-az6"))

	zones["us-east-1"] = []string{"us-east-1a", "use1-az6"}
	require.NoError(t, mapper.Refresh(context.Background()))
	assert.Equal(t, "us-east-1", mapper.RegionFor("use1-az6"))
}

func TestNilRegionsErasesMapping(t *testing.T) {
	t.Parallel()

	mapper := topology.NewStaticMapper(zonesConfig{"us-east-1": {"us-east-1a"}})
	require.NoError(t, mapper.SetRegionsToFetch(context.Background(), []string{"us-east-1"}))
	require.Equal(t, "us-east-1", mapper.RegionFor("us-east-1a"))

	require.NoError(t, mapper.SetRegionsToFetch(context.Background(), nil))
	assert.Equal(t, "", mapper.RegionFor("us-east-1a"))
}

func TestRebuildAtomicity(t *testing.T) {
	t.Parallel()

	// Two generations of mapping over the same zones. Concurrent lookups
	// must observe one generation in full, never a mix.
	generationA := zonesConfig{
		"us-east-1": {"zone-1", "zone-2"},
	}
	generationB := zonesConfig{
		"us-west-2": {"zone-1", "zone-2"},
	}
	current := generationA
	var configMu sync.Mutex
	resolver := topology.ZoneResolverFunc(func(_ context.Context, region string) ([]string, error) {
		configMu.Lock()
		defer configMu.Unlock()
		return current[region], nil
	})
	mapper := topology.NewMapper(resolver)
	require.NoError(t, mapper.SetRegionsToFetch(context.Background(), []string{"us-east-1"}))

	done := make(chan struct{})
	var wg sync.WaitGroup
	for reader := 0; reader < 4; reader++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-done:
					return
				default:
				}
				first := mapper.RegionFor("zone-1")
				second := mapper.RegionFor("zone-2")
				// Each individual lookup sees a complete generation.
				assert.Contains(t, []string{"us-east-1", "us-west-2"}, first)
				assert.Contains(t, []string{"us-east-1", "us-west-2"}, second)
			}
		}()
	}
	for i := 0; i < 50; i++ {
		configMu.Lock()
		if i%2 == 0 {
			current = generationB
		} else {
			current = generationA
		}
		region := "us-east-1"
		if i%2 == 0 {
			region = "us-west-2"
		}
		configMu.Unlock()
		require.NoError(t, mapper.SetRegionsToFetch(context.Background(), []string{region}))
	}
	close(done)
	wg.Wait()
}
