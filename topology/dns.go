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

import (
	"context"
	"sort"
	"strings"

	"github.com/bufbuild/disco/dnsutil"
)

// NewDNSResolver returns a resolver that discovers a region's zones from the
// zone keys of its DNS-based discovery host map. The domain is the
// deployment's base discovery domain; the TXT record consulted per region is
// txt.<region>.<domain>.
func NewDNSResolver(domain string, resolver *dnsutil.Resolver) ZoneResolver {
	return ZoneResolverFunc(func(ctx context.Context, region string) ([]string, error) {
		hostsByZone, err := ZoneDiscoveryHosts(ctx, resolver, domain, region)
		if err != nil {
			return nil, err
		}
		zones := make([]string, 0, len(hostsByZone))
		for zone := range hostsByZone {
			zones = append(zones, zone)
		}
		sort.Strings(zones)
		return zones, nil
	})
}

// NewDNSMapper is shorthand for a Mapper over a DNS-based resolver.
func NewDNSMapper(domain string, resolver *dnsutil.Resolver, opts ...Option) *Mapper {
	return NewMapper(NewDNSResolver(domain, resolver), opts...)
}

// ZoneDiscoveryHosts returns the discovery host names of a region keyed by
// availability zone. The TXT record at txt.<region>.<domain> lists one DNS
// name per zone (the zone is the name's first label); the TXT record at
// txt.<zone-name> lists that zone's discovery hosts.
func ZoneDiscoveryHosts(ctx context.Context, resolver *dnsutil.Resolver, domain, region string) (map[string][]string, error) {
	regionRecord := "txt." + region + "." + domain
	zoneNames := resolver.TXTEntries(ctx, regionRecord)
	hostsByZone := make(map[string][]string, len(zoneNames))
	for _, zoneName := range zoneNames {
		zone, _, _ := strings.Cut(zoneName, ".")
		zone = strings.ToLower(zone)
		hosts := resolver.TXTEntries(ctx, "txt."+zoneName)
		hostsByZone[zone] = append(hostsByZone[zone], hosts...)
	}
	return hostsByZone, nil
}
