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
	"context"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"time"

	"github.com/bufbuild/disco/internal"
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
)

// MetadataKey names one entry of the cloud instance metadata.
type MetadataKey string

const (
	MetadataInstanceID          = MetadataKey("instance-id")
	MetadataAMIID               = MetadataKey("ami-id")
	MetadataInstanceType        = MetadataKey("instance-type")
	MetadataLocalIPv4           = MetadataKey("local-ipv4")
	MetadataLocalHostname       = MetadataKey("local-hostname")
	MetadataAvailabilityZone    = MetadataKey("availability-zone")
	MetadataPublicHostname      = MetadataKey("public-hostname")
	MetadataPublicIPv4          = MetadataKey("public-ipv4")
	MetadataSpotTerminationTime = MetadataKey("termination-time")
	MetadataSpotInstanceAction  = MetadataKey("instance-action")
	MetadataMAC                 = MetadataKey("mac")
	MetadataVPCID               = MetadataKey("vpc-id")
	MetadataAccountID           = MetadataKey("accountId")
)

// CloudInfo is the cloud variant of DataCenterInfo, carrying the instance
// metadata fetched from the cloud metadata service.
type CloudInfo struct {
	metadata map[string]string
}

// NewCloudInfo creates a CloudInfo from already-known metadata. Most callers
// use a CloudInfoBuilder instead.
func NewCloudInfo(metadata map[string]string) *CloudInfo {
	copied := make(map[string]string, len(metadata))
	for k, v := range metadata {
		copied[k] = v
	}
	return &CloudInfo{metadata: copied}
}

func (c *CloudInfo) Name() DataCenterName { return DataCenterCloud }

// ID returns the cloud-assigned instance id.
func (c *CloudInfo) ID() string { return c.Get(MetadataInstanceID) }

// Get returns the metadata value for the given key, or "" when absent.
func (c *CloudInfo) Get(key MetadataKey) string { return c.metadata[key.name()] }

// Metadata returns a copy of all fetched metadata.
func (c *CloudInfo) Metadata() map[string]string {
	metadata := make(map[string]string, len(c.metadata))
	for k, v := range c.metadata {
		metadata[k] = v
	}
	return metadata
}

func (k MetadataKey) name() string { return string(k) }

// metadataTarget describes how one key is fetched from the metadata service.
type metadataTarget struct {
	key MetadataKey
	// path under <base>/meta-data/, "" for keys fetched another way
	path string
	// vpc-id lives under the interface directory of the instance's mac, so
	// the mac must already have been fetched.
	needsMAC bool
	// accountId is parsed out of the instance identity document.
	document bool
}

// metadataTargets is the fetch order. instance-id comes first because it
// doubles as the fail-fast probe; mac precedes vpc-id.
var metadataTargets = []metadataTarget{
	{key: MetadataInstanceID, path: "instance-id"},
	{key: MetadataAMIID, path: "ami-id"},
	{key: MetadataInstanceType, path: "instance-type"},
	{key: MetadataLocalIPv4, path: "local-ipv4"},
	{key: MetadataLocalHostname, path: "local-hostname"},
	{key: MetadataAvailabilityZone, path: "placement/availability-zone"},
	{key: MetadataPublicHostname, path: "public-hostname"},
	{key: MetadataPublicIPv4, path: "public-ipv4"},
	{key: MetadataSpotTerminationTime, path: "spot/termination-time"},
	{key: MetadataSpotInstanceAction, path: "spot/instance-action"},
	{key: MetadataMAC, path: "mac"},
	{key: MetadataVPCID, needsMAC: true},
	{key: MetadataAccountID, document: true},
}

var accountIDPattern = regexp.MustCompile(`"accountId"\s?:\s?"([A-Za-z0-9]*)"`)

const defaultMetadataBaseURL = "http://169.254.169.254/latest/"

// CloudInfoBuilder fetches instance metadata from the cloud metadata
// service, key by key, with per-key retries. Keys that cannot be fetched are
// simply absent; metadata service flakiness must not take down startup.
type CloudInfoBuilder struct {
	httpClient    *http.Client
	clock         internal.Clock
	logger        log.Logger
	baseURL       string
	retries       int
	retryInterval time.Duration
	failFast      bool
	seed          map[string]string
}

// BuilderOption customizes a CloudInfoBuilder.
type BuilderOption interface {
	apply(*CloudInfoBuilder)
}

type builderOptionFunc func(*CloudInfoBuilder)

func (f builderOptionFunc) apply(b *CloudInfoBuilder) { f(b) }

// WithHTTPClient substitutes the HTTP client used against the metadata
// service. The default has a short timeout suitable for a link-local
// endpoint.
func WithHTTPClient(client *http.Client) BuilderOption {
	return builderOptionFunc(func(b *CloudInfoBuilder) {
		b.httpClient = client
	})
}

// WithBaseURL points the builder at a different metadata endpoint.
func WithBaseURL(baseURL string) BuilderOption {
	return builderOptionFunc(func(b *CloudInfoBuilder) {
		b.baseURL = baseURL
	})
}

// WithRetries sets how many attempts are made per key.
func WithRetries(retries int) BuilderOption {
	return builderOptionFunc(func(b *CloudInfoBuilder) {
		b.retries = retries
	})
}

// WithRetryInterval sets the sleep between failed attempts on one key.
func WithRetryInterval(interval time.Duration) BuilderOption {
	return builderOptionFunc(func(b *CloudInfoBuilder) {
		b.retryInterval = interval
	})
}

// WithFailFast makes Build give up on the remaining keys when instance-id
// cannot be fetched after the configured retries.
func WithFailFast(failFast bool) BuilderOption {
	return builderOptionFunc(func(b *CloudInfoBuilder) {
		b.failFast = failFast
	})
}

// WithBuilderLogger sets the logger for fetch failures.
func WithBuilderLogger(logger log.Logger) BuilderOption {
	return builderOptionFunc(func(b *CloudInfoBuilder) {
		b.logger = logger
	})
}

// WithBuilderClock substitutes the clock used to pace retries.
func WithBuilderClock(clock internal.Clock) BuilderOption {
	return builderOptionFunc(func(b *CloudInfoBuilder) {
		b.clock = clock
	})
}

// WithMetadata seeds a key manually before any fetching.
func WithMetadata(key MetadataKey, value string) BuilderOption {
	return builderOptionFunc(func(b *CloudInfoBuilder) {
		b.seed[key.name()] = value
	})
}

// NewCloudInfoBuilder creates a builder with the production metadata
// endpoint, three attempts per key and a 100ms pause between attempts.
func NewCloudInfoBuilder(opts ...BuilderOption) *CloudInfoBuilder {
	builder := &CloudInfoBuilder{
		httpClient:    &http.Client{Timeout: 2 * time.Second},
		clock:         internal.NewRealClock(),
		logger:        log.NewNopLogger(),
		baseURL:       defaultMetadataBaseURL,
		retries:       3,
		retryInterval: 100 * time.Millisecond,
		seed:          map[string]string{},
	}
	for _, opt := range opts {
		opt.apply(builder)
	}
	return builder
}

// Build fetches every metadata key and returns the resulting CloudInfo.
// Whatever could be fetched is returned even when fail-fast aborts early.
func (b *CloudInfoBuilder) Build(ctx context.Context) *CloudInfo {
	metadata := make(map[string]string, len(metadataTargets)+len(b.seed))
	for k, v := range b.seed {
		metadata[k] = v
	}
	for _, target := range metadataTargets {
		if _, ok := metadata[target.key.name()]; ok {
			continue
		}
		value, err := b.fetchWithRetries(ctx, target, metadata)
		if err == nil && value != "" {
			metadata[target.key.name()] = value
		}
		if target.key == MetadataInstanceID && b.failFast {
			if _, ok := metadata[MetadataInstanceID.name()]; !ok {
				level.Warn(b.logger).Log(
					"msg", "skipping remaining cloud metadata, could not load instance-id",
					"retries", b.retries,
				)
				break
			}
		}
	}
	return &CloudInfo{metadata: metadata}
}

func (b *CloudInfoBuilder) fetchWithRetries(ctx context.Context, target metadataTarget, known map[string]string) (string, error) {
	var lastErr error
	for attempt := 0; attempt < b.retries; attempt++ {
		if attempt > 0 {
			b.clock.Sleep(b.retryInterval)
		}
		value, err := b.fetch(ctx, target, known)
		if err == nil {
			return value, nil
		}
		lastErr = err
		level.Warn(b.logger).Log("msg", "cannot get value for metadata key", "key", target.key, "err", err)
	}
	return "", lastErr
}

func (b *CloudInfoBuilder) fetch(ctx context.Context, target metadataTarget, known map[string]string) (string, error) {
	url, err := b.targetURL(target, known)
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		return "", err
	}
	resp, err := b.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("metadata service returned %d for %s", resp.StatusCode, url)
	}
	if target.document {
		match := accountIDPattern.FindSubmatch(body)
		if match == nil {
			return "", fmt.Errorf("no accountId in instance identity document")
		}
		return string(match[1]), nil
	}
	return firstLine(body), nil
}

func (b *CloudInfoBuilder) targetURL(target metadataTarget, known map[string]string) (string, error) {
	switch {
	case target.document:
		return b.baseURL + "dynamic/instance-identity/document", nil
	case target.needsMAC:
		mac, ok := known[MetadataMAC.name()]
		if !ok {
			return "", fmt.Errorf("no mac address available to resolve %s", target.key)
		}
		return b.baseURL + "meta-data/network/interfaces/macs/" + mac + "/" + target.key.name(), nil
	default:
		return b.baseURL + "meta-data/" + target.path, nil
	}
}

func firstLine(body []byte) string {
	for i, c := range body {
		if c == '\n' || c == '\r' {
			return string(body[:i])
		}
	}
	return string(body)
}
