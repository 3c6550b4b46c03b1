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

package disco

// ClientConfig supplies the discovery client's own settings: where the
// registry lives and how often to talk to it. Instance identity lives in
// [appinfo.InstanceConfig] instead.
type ClientConfig interface {
	// Region is the region this client runs in.
	Region() string
	// RemoteRegions lists the additional regions whose registry content
	// this client fetches. The zone-to-region mapping is built for them.
	RemoteRegions() []string
	// AvailabilityZones returns the statically configured zones of a
	// region, consulted when UseDNSForTopology is off.
	AvailabilityZones(region string) []string
	// UseDNSForTopology selects DNS TXT discovery over static
	// configuration for the zone-to-region mapping.
	UseDNSForTopology() bool
	// DomainName is the base discovery domain for DNS TXT lookups of the
	// form txt.<region>.<domain>.
	DomainName() string
	// RegistryFetchIntervalSeconds is how often the registry view is
	// refreshed.
	RegistryFetchIntervalSeconds() int
}

// SimpleClientConfig is a plain-struct ClientConfig.
type SimpleClientConfig struct {
	LocalRegion       string
	Regions           []string
	Zones             map[string][]string
	UseDNS            bool
	Domain            string
	FetchIntervalSecs int
}

var _ ClientConfig = (*SimpleClientConfig)(nil)

func (c *SimpleClientConfig) Region() string { return c.LocalRegion }
func (c *SimpleClientConfig) RemoteRegions() []string { return c.Regions }
func (c *SimpleClientConfig) UseDNSForTopology() bool { return c.UseDNS }
func (c *SimpleClientConfig) DomainName() string { return c.Domain }

func (c *SimpleClientConfig) AvailabilityZones(region string) []string {
	return c.Zones[region]
}

func (c *SimpleClientConfig) RegistryFetchIntervalSeconds() int {
	if c.FetchIntervalSecs <= 0 {
		return 30
	}
	return c.FetchIntervalSecs
}
