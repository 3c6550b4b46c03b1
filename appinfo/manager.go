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
	"sync/atomic"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
)

// Manager owns the local instance descriptor: it is the single writer of
// the descriptor's status and the dispatcher of status-change events.
// Status transitions are linearizable; listeners always observe
// (previous, current) pairs consistent with the order SetStatus calls
// returned to their callers.
type Manager struct {
	config InstanceConfig
	logger log.Logger
	mapper StatusMapper

	mu        sync.Mutex
	info      *InstanceInfo
	listeners map[string]StatusChangeListener
}

// ManagerOption customizes a Manager.
type ManagerOption interface {
	apply(*Manager)
}

type managerOptionFunc func(*Manager)

func (f managerOptionFunc) apply(m *Manager) { f(m) }

// WithManagerLogger sets the logger used for listener faults and refreshes.
func WithManagerLogger(logger log.Logger) ManagerOption {
	return managerOptionFunc(func(m *Manager) {
		m.logger = logger
	})
}

// WithStatusMapper installs a mapper applied to every requested status
// before it takes effect.
func WithStatusMapper(mapper StatusMapper) ManagerOption {
	return managerOptionFunc(func(m *Manager) {
		m.mapper = mapper
	})
}

// NewManager creates a manager around a descriptor built from config. If
// info is nil it is built with NewInstanceInfo.
func NewManager(config InstanceConfig, info *InstanceInfo, opts ...ManagerOption) *Manager {
	if info == nil {
		info = NewInstanceInfo(config)
	}
	manager := &Manager{
		config:    config,
		logger:    log.NewNopLogger(),
		info:      info,
		listeners: map[string]StatusChangeListener{},
	}
	for _, opt := range opts {
		opt.apply(manager)
	}
	return manager
}

// Info returns the live instance descriptor. The descriptor pointer never
// changes after construction, so this is safe to call from status-change
// listeners.
func (m *Manager) Info() *InstanceInfo {
	return m.info
}

// RegisterAppMetadata merges application metadata into the descriptor's
// runtime metadata. The merged data rides along on the next push to the
// registry.
func (m *Manager) RegisterAppMetadata(appMetadata map[string]string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.info.registerRuntimeMetadata(appMetadata)
}

// SetStatus applies a status transition through the configured mapper and
// notifies every registered listener of an effective change. Setting the
// current status again is a no-op and produces no event.
func (m *Manager) SetStatus(status Status) {
	m.mu.Lock()
	defer m.mu.Unlock()
	next := status
	if m.mapper != nil {
		mapped, ok := m.mapper(status)
		if !ok {
			return
		}
		next = mapped
	}
	prev, changed := m.info.setStatus(next)
	if !changed {
		return
	}
	event := StatusChangeEvent{Previous: prev, Current: next}
	for _, listener := range m.listeners {
		m.notify(listener, event)
	}
}

func (m *Manager) notify(listener StatusChangeListener, event StatusChangeEvent) {
	defer func() {
		if r := recover(); r != nil {
			level.Warn(m.logger).Log("msg", "failed to notify listener", "listener", listener.ID(), "panic", r)
		}
	}()
	listener.Notify(event)
}

// RegisterStatusChangeListener adds a listener keyed by its id, replacing
// any previous listener with the same id.
func (m *Manager) RegisterStatusChangeListener(listener StatusChangeListener) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners[listener.ID()] = listener
}

// UnregisterStatusChangeListener removes the listener with the given id.
func (m *Manager) UnregisterStatusChangeListener(listenerID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.listeners, listenerID)
}

// RefreshDataCenterInfoIfRequired re-resolves the advertised address and, if
// it changed, rebuilds the descriptor's host and ip fields and marks it
// dirty. For cloud instances a changed spot-instance termination action also
// refreshes the data-center info.
func (m *Manager) RefreshDataCenterInfoIfRequired() {
	m.mu.Lock()
	defer m.mu.Unlock()

	existingAddress := m.info.HostName()
	existingSpotAction := ""
	if cloudInfo, ok := m.info.DataCenterInfo().(*CloudInfo); ok {
		existingSpotAction = cloudInfo.Get(MetadataSpotInstanceAction)
	}

	var newAddress string
	if refreshable, ok := m.config.(RefreshableInstanceConfig); ok {
		newAddress = refreshable.ResolveDefaultAddress(true)
	} else {
		newAddress = m.config.HostName(true)
	}
	if newAddress != "" && newAddress != existingAddress {
		level.Warn(m.logger).Log("msg", "instance address changed", "from", existingAddress, "to", newAddress)
		m.info.setAddressInfo(newAddress, m.config.IPAddress(), m.config.DataCenterInfo())
	}

	if cloudInfo, ok := m.config.DataCenterInfo().(*CloudInfo); ok {
		newSpotAction := cloudInfo.Get(MetadataSpotInstanceAction)
		if newSpotAction != "" && newSpotAction != existingSpotAction {
			level.Info(m.logger).Log(
				"msg", "spot instance termination action changed",
				"from", existingSpotAction, "to", newSpotAction,
			)
			m.info.setAddressInfo("", "", m.config.DataCenterInfo())
		}
	}
}

// RefreshLeaseInfoIfRequired compares the descriptor's lease parameters
// against configuration and, on difference, installs a new lease record and
// marks the descriptor dirty.
func (m *Manager) RefreshLeaseInfoIfRequired() {
	m.mu.Lock()
	defer m.mu.Unlock()

	current := m.info.LeaseInfo()
	renewal := m.config.LeaseRenewalIntervalInSeconds()
	expiration := m.config.LeaseExpirationDurationInSeconds()
	if current.RenewalIntervalInSeconds != renewal || current.ExpirationDurationInSeconds != expiration {
		m.info.setLeaseInfo(LeaseInfo{
			RenewalIntervalInSeconds:    renewal,
			ExpirationDurationInSeconds: expiration,
		})
	}
}

// defaultManager is the process-wide fallback for legacy callers that
// cannot be injected. It is a migration aid, not a contract: new code
// should receive the manager by injection.
var defaultManager atomic.Pointer[Manager]

// SetDefault installs the process-wide default manager.
func SetDefault(manager *Manager) {
	defaultManager.Store(manager)
}

// Default returns the process-wide default manager, or nil if none was set.
func Default() *Manager {
	return defaultManager.Load()
}
