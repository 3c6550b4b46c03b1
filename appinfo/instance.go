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

import (
	"sync"
	"time"
)

// InstanceInfo is the authoritative descriptor of one running process: the
// record that is registered with the registry and renewed by heartbeats. It
// is created once at startup via a Builder and lives for the process
// lifetime; mutation afterwards goes through the Manager.
//
// The id is immutable after Build. All other fields are guarded by the
// descriptor's own lock so readers observe a consistent snapshot while the
// Manager is mid-update.
type InstanceInfo struct {
	id string

	mu                sync.RWMutex
	appName           string
	appGroupName      string
	hostName          string
	ipAddr            string
	port              int
	portEnabled       bool
	securePort        int
	securePortEnabled bool
	vipAddress        string
	secureVIPAddress  string
	status            Status
	leaseInfo         LeaseInfo
	dataCenterInfo    DataCenterInfo
	metadata          map[string]string

	dirty              bool
	statusDirty        bool
	lastDirtyTimestamp int64
}

// ID returns the unique id of this instance, scoped to its application name.
func (info *InstanceInfo) ID() string { return info.id }

func (info *InstanceInfo) AppName() string {
	info.mu.RLock()
	defer info.mu.RUnlock()
	return info.appName
}

func (info *InstanceInfo) AppGroupName() string {
	info.mu.RLock()
	defer info.mu.RUnlock()
	return info.appGroupName
}

func (info *InstanceInfo) HostName() string {
	info.mu.RLock()
	defer info.mu.RUnlock()
	return info.hostName
}

func (info *InstanceInfo) IPAddr() string {
	info.mu.RLock()
	defer info.mu.RUnlock()
	return info.ipAddr
}

// Port returns the non-secure port and whether it is enabled.
func (info *InstanceInfo) Port() (int, bool) {
	info.mu.RLock()
	defer info.mu.RUnlock()
	return info.port, info.portEnabled
}

// SecurePort returns the secure port and whether it is enabled.
func (info *InstanceInfo) SecurePort() (int, bool) {
	info.mu.RLock()
	defer info.mu.RUnlock()
	return info.securePort, info.securePortEnabled
}

func (info *InstanceInfo) VIPAddress() string {
	info.mu.RLock()
	defer info.mu.RUnlock()
	return info.vipAddress
}

// SecureVIPAddress returns the secure virtual host name, or "" when the
// secure port is disabled: with no secure port there is nothing the name
// could route to.
func (info *InstanceInfo) SecureVIPAddress() string {
	info.mu.RLock()
	defer info.mu.RUnlock()
	if !info.securePortEnabled {
		return ""
	}
	return info.secureVIPAddress
}

func (info *InstanceInfo) Status() Status {
	info.mu.RLock()
	defer info.mu.RUnlock()
	return info.status
}

func (info *InstanceInfo) LeaseInfo() LeaseInfo {
	info.mu.RLock()
	defer info.mu.RUnlock()
	return info.leaseInfo
}

func (info *InstanceInfo) DataCenterInfo() DataCenterInfo {
	info.mu.RLock()
	defer info.mu.RUnlock()
	return info.dataCenterInfo
}

// Metadata returns a copy of the open-ended instance metadata.
func (info *InstanceInfo) Metadata() map[string]string {
	info.mu.RLock()
	defer info.mu.RUnlock()
	metadata := make(map[string]string, len(info.metadata))
	for k, v := range info.metadata {
		metadata[k] = v
	}
	return metadata
}

// IsDirty reports whether the descriptor has changes pending a push to the
// registry, along with the timestamp of the latest change.
func (info *InstanceInfo) IsDirty() (bool, int64) {
	info.mu.RLock()
	defer info.mu.RUnlock()
	return info.dirty, info.lastDirtyTimestamp
}

// IsStatusDirty reports whether a status-only push is pending.
func (info *InstanceInfo) IsStatusDirty() bool {
	info.mu.RLock()
	defer info.mu.RUnlock()
	return info.statusDirty
}

// SetDirty marks the descriptor as needing a push. The flag is
// set-or-left-set: nothing on the update paths clears it.
func (info *InstanceInfo) SetDirty() {
	info.mu.Lock()
	defer info.mu.Unlock()
	info.markDirtyLocked()
}

// UnsetDirty clears the dirty flag, but only if no change happened after the
// given timestamp. The push pipeline calls this with the timestamp it read
// before pushing.
func (info *InstanceInfo) UnsetDirty(pushedTimestamp int64) {
	info.mu.Lock()
	defer info.mu.Unlock()
	if info.lastDirtyTimestamp <= pushedTimestamp {
		info.dirty = false
		info.statusDirty = false
	}
}

func (info *InstanceInfo) markDirtyLocked() {
	info.dirty = true
	info.lastDirtyTimestamp = time.Now().UnixMilli()
}

// setStatus applies a status transition and reports the previous status and
// whether anything changed. Called with the Manager's exclusivity already in
// force.
func (info *InstanceInfo) setStatus(next Status) (Status, bool) {
	info.mu.Lock()
	defer info.mu.Unlock()
	prev := info.status
	if prev == next {
		return prev, false
	}
	info.status = next
	info.statusDirty = true
	info.markDirtyLocked()
	return prev, true
}

// registerRuntimeMetadata merges user metadata into the descriptor.
func (info *InstanceInfo) registerRuntimeMetadata(runtimeMetadata map[string]string) {
	info.mu.Lock()
	defer info.mu.Unlock()
	for k, v := range runtimeMetadata {
		info.metadata[k] = v
	}
	info.markDirtyLocked()
}

func (info *InstanceInfo) setLeaseInfo(leaseInfo LeaseInfo) {
	info.mu.Lock()
	defer info.mu.Unlock()
	info.leaseInfo = leaseInfo
	info.markDirtyLocked()
}

// setAddressInfo rebuilds the host and ip fields, keeping either when the
// new value is empty, and installs the given data-center info.
func (info *InstanceInfo) setAddressInfo(hostName, ipAddr string, dataCenterInfo DataCenterInfo) {
	info.mu.Lock()
	defer info.mu.Unlock()
	if hostName != "" {
		info.hostName = hostName
	}
	if ipAddr != "" {
		info.ipAddr = ipAddr
	}
	if dataCenterInfo != nil {
		info.dataCenterInfo = dataCenterInfo
	}
	info.markDirtyLocked()
}

// Builder assembles a new InstanceInfo. It must not be used after Build.
type Builder struct {
	info *InstanceInfo
}

// NewBuilder starts a descriptor with defaults: status STARTING, default
// lease parameters, a generic data center and empty metadata.
func NewBuilder() *Builder {
	return &Builder{info: &InstanceInfo{
		status:         StatusStarting,
		leaseInfo:      DefaultLeaseInfo(),
		dataCenterInfo: BasicDataCenterInfo{},
		metadata:       map[string]string{},
	}}
}

// SetID sets the unique instance id. The id is immutable after Build.
func (b *Builder) SetID(id string) *Builder {
	b.info.id = id
	return b
}

func (b *Builder) SetAppName(appName string) *Builder {
	b.info.appName = appName
	return b
}

func (b *Builder) SetAppGroupName(appGroupName string) *Builder {
	b.info.appGroupName = appGroupName
	return b
}

func (b *Builder) SetHostName(hostName string) *Builder {
	b.info.hostName = hostName
	return b
}

func (b *Builder) SetIPAddr(ipAddr string) *Builder {
	b.info.ipAddr = ipAddr
	return b
}

func (b *Builder) SetPort(port int, enabled bool) *Builder {
	b.info.port = port
	b.info.portEnabled = enabled
	return b
}

func (b *Builder) SetSecurePort(port int, enabled bool) *Builder {
	b.info.securePort = port
	b.info.securePortEnabled = enabled
	return b
}

func (b *Builder) SetVIPAddress(vipAddress string) *Builder {
	b.info.vipAddress = vipAddress
	return b
}

func (b *Builder) SetSecureVIPAddress(secureVIPAddress string) *Builder {
	b.info.secureVIPAddress = secureVIPAddress
	return b
}

func (b *Builder) SetStatus(status Status) *Builder {
	b.info.status = status
	return b
}

func (b *Builder) SetLeaseInfo(leaseInfo LeaseInfo) *Builder {
	b.info.leaseInfo = leaseInfo
	return b
}

func (b *Builder) SetDataCenterInfo(dataCenterInfo DataCenterInfo) *Builder {
	b.info.dataCenterInfo = dataCenterInfo
	return b
}

func (b *Builder) SetMetadata(metadata map[string]string) *Builder {
	for k, v := range metadata {
		b.info.metadata[k] = v
	}
	return b
}

// Build finalizes the descriptor. If no id was set, the host name is used,
// matching the common case where one instance runs per host.
func (b *Builder) Build() *InstanceInfo {
	info := b.info
	if info.id == "" {
		info.id = info.hostName
	}
	b.info = nil
	return info
}
