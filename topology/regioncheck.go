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
	"github.com/bufbuild/disco/appinfo"
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
)

// RegionChecker determines which region a registered instance belongs to,
// based on its cloud availability-zone metadata and the zone-to-region
// mapping.
type RegionChecker struct {
	mapper      *Mapper
	localRegion string
	logger      log.Logger
}

// NewRegionChecker creates a checker that classifies instances against the
// given local region. A nil logger discards warnings.
func NewRegionChecker(mapper *Mapper, localRegion string, logger log.Logger) *RegionChecker {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	return &RegionChecker{
		mapper:      mapper,
		localRegion: localRegion,
		logger:      logger,
	}
}

// InstanceRegion returns the region of the given instance. An instance with
// no data-center info at all yields the local region; one whose data-center
// info carries no availability zone yields "", which also counts as local.
func (c *RegionChecker) InstanceRegion(info *appinfo.InstanceInfo) string {
	dataCenterInfo := info.DataCenterInfo()
	if dataCenterInfo == nil {
		level.Warn(c.logger).Log(
			"msg", "cannot determine region, no data center info; treating as local",
			"instance", info.ID(), "app", info.AppName(), "local", c.localRegion,
		)
		return c.localRegion
	}
	if cloudInfo, ok := dataCenterInfo.(*appinfo.CloudInfo); ok {
		if zone := cloudInfo.Get(appinfo.MetadataAvailabilityZone); zone != "" {
			return c.mapper.RegionFor(zone)
		}
	}
	return ""
}

// IsLocalRegion reports whether the given region (as returned by
// InstanceRegion) is the local one. The empty region counts as local.
func (c *RegionChecker) IsLocalRegion(region string) bool {
	return region == "" || region == c.localRegion
}

// LocalRegion returns the region this checker considers local.
func (c *RegionChecker) LocalRegion() string {
	return c.localRegion
}
