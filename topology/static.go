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

package topology

import "context"

// ZoneConfig is the configuration surface the static resolver reads. The
// client config satisfies it.
type ZoneConfig interface {
	// AvailabilityZones returns the statically configured zones of a region.
	AvailabilityZones(region string) []string
}

// NewStaticResolver returns a resolver that reads zones from static
// configuration rather than any external source.
func NewStaticResolver(config ZoneConfig) ZoneResolver {
	return ZoneResolverFunc(func(_ context.Context, region string) ([]string, error) {
		return config.AvailabilityZones(region), nil
	})
}

// NewStaticMapper is shorthand for a Mapper over a static resolver.
func NewStaticMapper(config ZoneConfig, opts ...Option) *Mapper {
	return NewMapper(NewStaticResolver(config), opts...)
}
