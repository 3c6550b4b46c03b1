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

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/bufbuild/disco/appinfo"
	"github.com/bufbuild/disco/dnsutil"
	"github.com/bufbuild/disco/supervise"
	"github.com/bufbuild/disco/topology"
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
)

// defaultBackOffBound bounds the supervisors' exponential back-off at ten
// times the base interval.
const defaultBackOffBound = 10

// RegistryTransport is the wire protocol to the registry, supplied by the
// caller. Implementations must be safe for concurrent use: the heartbeat
// and fetch loops run on separate goroutines.
type RegistryTransport interface {
	// Register pushes the full instance descriptor to the registry.
	Register(ctx context.Context, info *appinfo.InstanceInfo) error
	// Heartbeat renews the instance's lease.
	Heartbeat(ctx context.Context, info *appinfo.InstanceInfo) error
	// FetchRegistry refreshes the local view of the registry, as a delta
	// when the transport has a snapshot to diff against.
	FetchRegistry(ctx context.Context) error
}

// Client ties the discovery client together: it owns the instance manager,
// keeps the zone-to-region topology current, and runs the heartbeat and
// registry-fetch loops under supervision.
type Client struct {
	logger    log.Logger
	manager   *appinfo.Manager
	mapper    *topology.Mapper
	transport RegistryTransport

	heartbeat *supervise.Supervisor
	refresh   *supervise.Supervisor

	startOnce sync.Once
	closeOnce sync.Once
}

// ClientOption customizes a Client.
type ClientOption interface {
	apply(*clientOptions)
}

type clientOptionFunc func(*clientOptions)

func (f clientOptionFunc) apply(opts *clientOptions) { f(opts) }

type clientOptions struct {
	logger       log.Logger
	statusMapper appinfo.StatusMapper
	mapper       *topology.Mapper
	dnsResolver  *dnsutil.Resolver
	backOffBound int
}

// WithLogger sets the logger shared by the client and its components.
func WithLogger(logger log.Logger) ClientOption {
	return clientOptionFunc(func(opts *clientOptions) {
		opts.logger = logger
	})
}

// WithStatusMapper installs a status mapper on the instance manager.
func WithStatusMapper(mapper appinfo.StatusMapper) ClientOption {
	return clientOptionFunc(func(opts *clientOptions) {
		opts.statusMapper = mapper
	})
}

// WithTopologyMapper substitutes a custom zone-to-region mapper in place of
// the one derived from configuration.
func WithTopologyMapper(mapper *topology.Mapper) ClientOption {
	return clientOptionFunc(func(opts *clientOptions) {
		opts.mapper = mapper
	})
}

// WithDNSResolver substitutes the DNS resolver used for DNS-based topology
// discovery.
func WithDNSResolver(resolver *dnsutil.Resolver) ClientOption {
	return clientOptionFunc(func(opts *clientOptions) {
		opts.dnsResolver = resolver
	})
}

// WithBackOffBound bounds the supervisors' back-off at the given multiple
// of their base interval.
func WithBackOffBound(bound int) ClientOption {
	return clientOptionFunc(func(opts *clientOptions) {
		opts.backOffBound = bound
	})
}

// NewClient assembles a client from instance and client configuration. The
// zone-to-region mapping for the configured remote regions is built
// immediately; a region that resolves to no zones and has no default
// mapping fails construction.
func NewClient(
	ctx context.Context,
	instanceConfig appinfo.InstanceConfig,
	clientConfig ClientConfig,
	transport RegistryTransport,
	opts ...ClientOption,
) (*Client, error) {
	if transport == nil {
		return nil, fmt.Errorf("disco: transport must not be nil")
	}
	options := clientOptions{
		logger:       log.NewNopLogger(),
		backOffBound: defaultBackOffBound,
	}
	for _, opt := range opts {
		opt.apply(&options)
	}

	manager := appinfo.NewManager(
		instanceConfig,
		nil,
		appinfo.WithManagerLogger(options.logger),
		appinfo.WithStatusMapper(options.statusMapper),
	)

	mapper := options.mapper
	if mapper == nil {
		if clientConfig.UseDNSForTopology() {
			resolver := options.dnsResolver
			if resolver == nil {
				resolver = dnsutil.NewResolver(dnsutil.WithLogger(options.logger))
			}
			mapper = topology.NewDNSMapper(clientConfig.DomainName(), resolver, topology.WithLogger(options.logger))
		} else {
			mapper = topology.NewStaticMapper(clientConfig, topology.WithLogger(options.logger))
		}
	}
	if regions := clientConfig.RemoteRegions(); len(regions) > 0 {
		if err := mapper.SetRegionsToFetch(ctx, regions); err != nil {
			return nil, err
		}
	}

	client := &Client{
		logger:    options.logger,
		manager:   manager,
		mapper:    mapper,
		transport: transport,
	}

	heartbeatInterval := time.Duration(instanceConfig.LeaseRenewalIntervalInSeconds()) * time.Second
	heartbeat, err := supervise.New(
		"heartbeat",
		heartbeatInterval,
		options.backOffBound,
		client.heartbeatTick,
		supervise.WithLogger(options.logger),
	)
	if err != nil {
		return nil, err
	}
	refreshInterval := time.Duration(clientConfig.RegistryFetchIntervalSeconds()) * time.Second
	refresh, err := supervise.New(
		"registry-refresh",
		refreshInterval,
		options.backOffBound,
		client.refreshTick,
		supervise.WithLogger(options.logger),
	)
	if err != nil {
		return nil, err
	}
	client.heartbeat = heartbeat
	client.refresh = refresh
	return client, nil
}

// Manager returns the instance manager owning the local descriptor.
func (c *Client) Manager() *appinfo.Manager {
	return c.manager
}

// TopologyMapper returns the zone-to-region mapper in use.
func (c *Client) TopologyMapper() *topology.Mapper {
	return c.mapper
}

// Start registers the instance with the registry and begins the heartbeat
// and registry-fetch loops. A failed initial registration is logged, not
// fatal; the client does not call Register again, and the heartbeat loop
// only calls the transport's Heartbeat.
func (c *Client) Start(ctx context.Context) {
	c.startOnce.Do(func() {
		if err := c.transport.Register(ctx, c.manager.Info()); err != nil {
			level.Warn(c.logger).Log("msg", "initial registration failed, continuing with heartbeats", "err", err)
		}
		c.heartbeat.Start()
		c.refresh.Start()
	})
}

// Close stops both loops. In-flight transport calls run to completion with
// a cancelled context.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		c.heartbeat.Cancel()
		c.refresh.Cancel()
	})
}

// heartbeatTick keeps the descriptor current and renews the lease.
func (c *Client) heartbeatTick(ctx context.Context) error {
	c.manager.RefreshDataCenterInfoIfRequired()
	c.manager.RefreshLeaseInfoIfRequired()
	return c.transport.Heartbeat(ctx, c.manager.Info())
}

// refreshTick refreshes the registry view and the zone-to-region mapping.
func (c *Client) refreshTick(ctx context.Context) error {
	if err := c.transport.FetchRegistry(ctx); err != nil {
		return err
	}
	return c.mapper.Refresh(ctx)
}
