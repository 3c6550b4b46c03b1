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

// Package disco provides the client-side core of a service-discovery
// system: instances register themselves with a central registry, renew
// their registration through periodic heartbeats, and discover peers by
// fetching a view of the registry.
//
// The [Client] in this package composes the pieces the sub-packages
// provide:
//
//   - [appinfo.Manager] owns the local instance descriptor, its status
//     and its status-change listeners.
//   - [supervise.Supervisor] drives the heartbeat and registry-fetch
//     loops with per-tick timeouts and exponential back-off.
//   - [topology.Mapper] maintains the availability-zone to region table
//     used to locate registry endpoints across a multi-region deployment.
//
// The wire protocol between client and registry is deliberately not part
// of this module; the client drives a caller-supplied [RegistryTransport].
// The registry-side admission pieces live in the gate, ratelimit and
// eviction packages.
package disco
