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

// Package dnsutil wraps the platform DNS interface with the lookups the
// discovery client needs: CNAME chain resolution, A-record listing and TXT
// entry sets. A DNS misconfiguration must never take the client down, so
// every failure here degrades to a benign fallback with a warning log.
package dnsutil

import (
	"context"
	"net"
	"net/netip"
	"sort"
	"strings"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
)

// Lookups is the subset of [*net.Resolver] the Resolver relies on. It exists
// so tests can substitute canned answers without a live DNS server.
type Lookups interface {
	LookupCNAME(ctx context.Context, host string) (string, error)
	LookupIPAddr(ctx context.Context, host string) ([]net.IPAddr, error)
	LookupTXT(ctx context.Context, name string) ([]string, error)
}

// Resolver performs the lookups, logging and absorbing failures.
type Resolver struct {
	lookups Lookups
	logger  log.Logger
}

// Option customizes a Resolver.
type Option interface {
	apply(*Resolver)
}

type optionFunc func(*Resolver)

func (f optionFunc) apply(r *Resolver) { f(r) }

// WithLogger sets the logger used for lookup failures.
func WithLogger(logger log.Logger) Option {
	return optionFunc(func(r *Resolver) {
		r.logger = logger
	})
}

// WithLookups substitutes the underlying DNS interface. The default is
// [net.DefaultResolver].
func WithLookups(lookups Lookups) Option {
	return optionFunc(func(r *Resolver) {
		r.lookups = lookups
	})
}

// NewResolver creates a Resolver backed by [net.DefaultResolver] unless
// overridden with WithLookups.
func NewResolver(opts ...Option) *Resolver {
	resolver := &Resolver{
		lookups: net.DefaultResolver,
		logger:  log.NewNopLogger(),
	}
	for _, opt := range opts {
		opt.apply(resolver)
	}
	return resolver
}

// Resolve follows the CNAME chain from host and returns the terminal
// A-record target. If host is local, an IP literal, or resolution fails,
// the original host is returned unchanged.
func (r *Resolver) Resolve(ctx context.Context, host string) string {
	if isLocalOrIP(host) {
		return host
	}
	canonical, err := r.lookups.LookupCNAME(ctx, host)
	if err != nil {
		level.Warn(r.logger).Log("msg", "cannot resolve host, returning original value", "host", host, "err", err)
		return host
	}
	canonical = strings.TrimSuffix(canonical, ".")
	addrs, err := r.lookups.LookupIPAddr(ctx, canonical)
	if err != nil || len(addrs) == 0 {
		if err != nil {
			level.Warn(r.logger).Log("msg", "no A-record behind CNAME chain", "host", canonical, "err", err)
		}
		if canonical != "" {
			return canonical
		}
		return host
	}
	return addrs[0].IP.String()
}

// ARecords returns the IPs from an A-record lookup on host, but only when
// there is no CNAME on the same name. It returns nil when a CNAME is
// present, when host is local or an IP literal, or when the lookup fails.
func (r *Resolver) ARecords(ctx context.Context, host string) []string {
	if isLocalOrIP(host) {
		return nil
	}
	canonical, err := r.lookups.LookupCNAME(ctx, host)
	if err != nil {
		level.Warn(r.logger).Log("msg", "cannot load A-record", "host", host, "err", err)
		return nil
	}
	if strings.TrimSuffix(canonical, ".") != strings.TrimSuffix(host, ".") {
		// The name is a CNAME; its A-records belong to the target.
		return nil
	}
	addrs, err := r.lookups.LookupIPAddr(ctx, host)
	if err != nil {
		level.Warn(r.logger).Log("msg", "cannot load A-record", "host", host, "err", err)
		return nil
	}
	records := make([]string, len(addrs))
	for i, addr := range addrs {
		records[i] = addr.IP.String()
	}
	return records
}

// TXTEntries fetches the TXT record at name, strips one layer of surrounding
// quotes if present, splits on ASCII space and returns the entries sorted.
// A missing or empty record, or a failed lookup, yields an empty set.
func (r *Resolver) TXTEntries(ctx context.Context, name string) []string {
	records, err := r.lookups.LookupTXT(ctx, name)
	if err != nil {
		level.Warn(r.logger).Log("msg", "cannot load TXT record", "name", name, "err", err)
		return nil
	}
	set := make(map[string]struct{})
	for _, record := range records {
		record = stripQuotes(record)
		if strings.TrimSpace(record) == "" {
			continue
		}
		for _, entry := range strings.Split(record, " ") {
			if entry != "" {
				set[entry] = struct{}{}
			}
		}
	}
	entries := make([]string, 0, len(set))
	for entry := range set {
		entries = append(entries, entry)
	}
	sort.Strings(entries)
	return entries
}

func stripQuotes(value string) string {
	if len(value) >= 2 && strings.HasPrefix(value, `"`) && strings.HasSuffix(value, `"`) {
		return value[1 : len(value)-1]
	}
	return value
}

func isLocalOrIP(host string) bool {
	if host == "localhost" {
		return true
	}
	_, err := netip.ParseAddr(host)
	return err == nil
}
