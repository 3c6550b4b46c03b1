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

package appinfo_test

import (
	"testing"

	"github.com/bufbuild/disco/appinfo"
	"github.com/stretchr/testify/assert"
)

func TestResolveDefaultAddress(t *testing.T) {
	t.Parallel()

	cloud := appinfo.NewBuilder().
		SetAppName("billing").
		SetHostName("internal-host").
		SetIPAddr("10.0.0.5").
		SetDataCenterInfo(appinfo.NewCloudInfo(map[string]string{
			"instance-id":     "i-12345",
			"public-hostname": "ec2-1-2-3-4.example.com",
		})).
		Build()

	// Cloud metadata keys are consulted by name, in order.
	address := appinfo.ResolveDefaultAddress(cloud, []string{"public-hostname", "local-ipv4", "hostname"})
	assert.Equal(t, "ec2-1-2-3-4.example.com", address)

	// Absent keys are skipped until something has a value.
	address = appinfo.ResolveDefaultAddress(cloud, []string{"local-ipv4", "ip"})
	assert.Equal(t, "10.0.0.5", address)

	// An exhausted order falls back to the host name.
	address = appinfo.ResolveDefaultAddress(cloud, []string{"local-ipv4"})
	assert.Equal(t, "internal-host", address)

	// No order at all means the host name.
	assert.Equal(t, "internal-host", appinfo.ResolveDefaultAddress(cloud, nil))

	// A generic data center only resolves the named descriptor fields.
	generic := appinfo.NewBuilder().
		SetAppName("billing").
		SetHostName("host-a").
		Build()
	assert.Equal(t, "host-a", appinfo.ResolveDefaultAddress(generic, []string{"public-hostname", "hostname"}))
}
