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
	"testing"

	"github.com/bufbuild/disco/appinfo"
	"github.com/bufbuild/disco/topology"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegionChecker(t *testing.T) {
	t.Parallel()

	mapper := topology.NewStaticMapper(zonesConfig{
		"us-west-2": {"us-west-2a", "us-west-2b"},
	})
	require.NoError(t, mapper.SetRegionsToFetch(context.Background(), []string{"us-west-2"}))
	checker := topology.NewRegionChecker(mapper, "us-east-1", nil)

	remote := appinfo.NewBuilder().
		SetAppName("billing").
		SetHostName("billing-1.example.com").
		SetDataCenterInfo(appinfo.NewCloudInfo(map[string]string{
			"instance-id":       "i-12345",
			"availability-zone": "us-west-2a",
		})).
		Build()
	region := checker.InstanceRegion(remote)
	assert.Equal(t, "us-west-2", region)
	assert.False(t, checker.IsLocalRegion(region))

	// A generic data center has no zone metadata and counts as local.
	local := appinfo.NewBuilder().
		SetAppName("billing").
		SetHostName("billing-2.example.com").
		Build()
	region = checker.InstanceRegion(local)
	assert.Equal(t, "", region)
	assert.True(t, checker.IsLocalRegion(region))

	assert.Equal(t, "us-east-1", checker.LocalRegion())
	assert.True(t, checker.IsLocalRegion("us-east-1"))
}
