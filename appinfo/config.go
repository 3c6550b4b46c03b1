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

// InstanceConfig supplies the information needed to build and keep current
// the local instance descriptor.
type InstanceConfig interface {
	// InstanceID returns the configured unique id, or "" to derive one from
	// the data-center info or host name.
	InstanceID() string
	AppName() string
	AppGroupName() string
	// HostName returns the instance host name. When refresh is true, a
	// config backed by a mutable source re-resolves before answering.
	HostName(refresh bool) string
	IPAddress() string
	NonSecurePort() int
	NonSecurePortEnabled() bool
	SecurePort() int
	SecurePortEnabled() bool
	VirtualHostName() string
	SecureVirtualHostName() string
	LeaseRenewalIntervalInSeconds() int
	LeaseExpirationDurationInSeconds() int
	DataCenterInfo() DataCenterInfo
	MetadataMap() map[string]string
	// DefaultAddressResolutionOrder is the ordered list of descriptor
	// fields used to pick the advertised address. Empty means host name.
	DefaultAddressResolutionOrder() []string
}

// RefreshableInstanceConfig is implemented by configs that can re-resolve
// the advertised address from a mutable source, such as cloud metadata.
type RefreshableInstanceConfig interface {
	InstanceConfig
	// ResolveDefaultAddress returns the up-to-date advertised address,
	// refreshing the underlying source first when refresh is true.
	ResolveDefaultAddress(refresh bool) string
}

// SimpleInstanceConfig is a plain-struct InstanceConfig for deployments
// whose instance identity is fixed at startup.
type SimpleInstanceConfig struct {
	ID                     string
	Application            string
	ApplicationGroup       string
	Host                   string
	IP                     string
	Port                   int
	PortEnabled            bool
	TLSPort                int
	TLSPortEnabled         bool
	VIPAddr                string
	SecureVIPAddr          string
	LeaseRenewalInterval   int
	LeaseExpirationSeconds int
	DataCenter             DataCenterInfo
	Metadata               map[string]string
	AddressResolutionOrder []string
}

var _ InstanceConfig = (*SimpleInstanceConfig)(nil)

func (c *SimpleInstanceConfig) InstanceID() string { return c.ID }
func (c *SimpleInstanceConfig) AppName() string { return c.Application }
func (c *SimpleInstanceConfig) AppGroupName() string { return c.ApplicationGroup }
func (c *SimpleInstanceConfig) HostName(_ bool) string { return c.Host }
func (c *SimpleInstanceConfig) IPAddress() string { return c.IP }
func (c *SimpleInstanceConfig) NonSecurePort() int { return c.Port }
func (c *SimpleInstanceConfig) NonSecurePortEnabled() bool { return c.PortEnabled }
func (c *SimpleInstanceConfig) SecurePort() int { return c.TLSPort }
func (c *SimpleInstanceConfig) SecurePortEnabled() bool { return c.TLSPortEnabled }
func (c *SimpleInstanceConfig) VirtualHostName() string { return c.VIPAddr }
func (c *SimpleInstanceConfig) SecureVirtualHostName() string { return c.SecureVIPAddr }
func (c *SimpleInstanceConfig) DataCenterInfo() DataCenterInfo { return c.DataCenter }
func (c *SimpleInstanceConfig) MetadataMap() map[string]string { return c.Metadata }
func (c *SimpleInstanceConfig) DefaultAddressResolutionOrder() []string {
	return c.AddressResolutionOrder
}

func (c *SimpleInstanceConfig) LeaseRenewalIntervalInSeconds() int {
	if c.LeaseRenewalInterval <= 0 {
		return DefaultLeaseRenewalInterval
	}
	return c.LeaseRenewalInterval
}

func (c *SimpleInstanceConfig) LeaseExpirationDurationInSeconds() int {
	if c.LeaseExpirationSeconds <= 0 {
		return DefaultLeaseExpirationDuration
	}
	return c.LeaseExpirationSeconds
}

// NewInstanceInfo builds the startup descriptor from configuration. The id
// is the configured id when one is set, otherwise the data-center info's id
// when it carries one (cloud instances), otherwise the host name.
func NewInstanceInfo(config InstanceConfig) *InstanceInfo {
	builder := NewBuilder().
		SetAppName(config.AppName()).
		SetAppGroupName(config.AppGroupName()).
		SetHostName(config.HostName(false)).
		SetIPAddr(config.IPAddress()).
		SetPort(config.NonSecurePort(), config.NonSecurePortEnabled()).
		SetSecurePort(config.SecurePort(), config.SecurePortEnabled()).
		SetVIPAddress(config.VirtualHostName()).
		SetSecureVIPAddress(config.SecureVirtualHostName()).
		SetLeaseInfo(LeaseInfo{
			RenewalIntervalInSeconds:    config.LeaseRenewalIntervalInSeconds(),
			ExpirationDurationInSeconds: config.LeaseExpirationDurationInSeconds(),
		}).
		SetMetadata(config.MetadataMap())
	if dataCenterInfo := config.DataCenterInfo(); dataCenterInfo != nil {
		builder.SetDataCenterInfo(dataCenterInfo)
		if identified, ok := dataCenterInfo.(UniqueIdentifier); ok && identified.ID() != "" {
			builder.SetID(identified.ID())
		}
	}
	if config.InstanceID() != "" {
		builder.SetID(config.InstanceID())
	}
	return builder.Build()
}
