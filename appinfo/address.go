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

package appinfo

// Field names usable in an address resolution order. Any other entry is
// looked up as a cloud metadata key.
const (
	AddressFieldHostName = "hostname"
	AddressFieldIP       = "ip"
)

// ResolveDefaultAddress picks the advertised address of an instance by
// walking the configured resolution order and returning the first field
// with a value. An empty or exhausted order falls back to the host name.
//
// Entries other than the named descriptor fields are resolved against the
// instance's cloud metadata, so a cloud deployment can prefer, say,
// public-hostname over local-ipv4.
func ResolveDefaultAddress(info *InstanceInfo, order []string) string {
	cloudInfo, _ := info.DataCenterInfo().(*CloudInfo)
	for _, field := range order {
		switch field {
		case AddressFieldHostName:
			if hostName := info.HostName(); hostName != "" {
				return hostName
			}
		case AddressFieldIP:
			if ipAddr := info.IPAddr(); ipAddr != "" {
				return ipAddr
			}
		default:
			if cloudInfo == nil {
				continue
			}
			if value := cloudInfo.Get(MetadataKey(field)); value != "" {
				return value
			}
		}
	}
	return info.HostName()
}
