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

package disco_test

import (
	"context"
	"sync/atomic"
	"testing"

	"github.com/bufbuild/disco"
	"github.com/bufbuild/disco/appinfo"
	"github.com/bufbuild/disco/topology"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeTransport struct {
	registers  atomic.Int64
	heartbeats atomic.Int64
	fetches    atomic.Int64
}

func (f *fakeTransport) Register(_ context.Context, _ *appinfo.InstanceInfo) error {
	f.registers.Add(1)
	return nil
}

func (f *fakeTransport) Heartbeat(_ context.Context, _ *appinfo.InstanceInfo) error {
	f.heartbeats.Add(1)
	return nil
}

func (f *fakeTransport) FetchRegistry(_ context.Context) error {
	f.fetches.Add(1)
	return nil
}

func testInstanceConfig() *appinfo.SimpleInstanceConfig {
	return &appinfo.SimpleInstanceConfig{
		Application: "billing",
		Host:        "billing-1.example.com",
		IP:          "10.0.0.5",
		Port:        8080,
		PortEnabled: true,
	}
}

func TestNewClientBuildsTopology(t *testing.T) {
	t.Parallel()

	transport := &fakeTransport{}
	client, err := disco.NewClient(
		context.Background(),
		testInstanceConfig(),
		&disco.SimpleClientConfig{
			LocalRegion: "us-east-1",
			Regions:     []string{"us-west-2"},
			Zones:       map[string][]string{"us-west-2": {"us-west-2a"}},
		},
		transport,
	)
	require.NoError(t, err)
	defer client.Close()

	assert.Equal(t, "us-west-2", client.TopologyMapper().RegionFor("us-west-2a"))
	assert.Equal(t, "billing", client.Manager().Info().AppName())
}

func TestNewClientRejectsNilTransport(t *testing.T) {
	t.Parallel()

	_, err := disco.NewClient(
		context.Background(),
		testInstanceConfig(),
		&disco.SimpleClientConfig{},
		nil,
	)
	assert.Error(t, err)
}

func TestNewClientFailsOnUnresolvableRegion(t *testing.T) {
	t.Parallel()

	_, err := disco.NewClient(
		context.Background(),
		testInstanceConfig(),
		&disco.SimpleClientConfig{
			Regions: []string{"mars-north-1"},
		},
		&fakeTransport{},
	)
	require.Error(t, err)
	assert.ErrorIs(t, err, topology.ErrNoZones)
}

func TestStartRegistersOnce(t *testing.T) {
	t.Parallel()

	transport := &fakeTransport{}
	client, err := disco.NewClient(
		context.Background(),
		testInstanceConfig(),
		&disco.SimpleClientConfig{},
		transport,
	)
	require.NoError(t, err)

	client.Start(context.Background())
	client.Start(context.Background())
	assert.Equal(t, int64(1), transport.registers.Load())

	client.Close()
	client.Close()
}

func TestClientStatusFlow(t *testing.T) {
	t.Parallel()

	client, err := disco.NewClient(
		context.Background(),
		testInstanceConfig(),
		&disco.SimpleClientConfig{},
		&fakeTransport{},
	)
	require.NoError(t, err)
	defer client.Close()

	var events []appinfo.StatusChangeEvent
	client.Manager().RegisterStatusChangeListener(appinfo.ListenerFunc("test", func(event appinfo.StatusChangeEvent) {
		events = append(events, event)
	}))
	client.Manager().SetStatus(appinfo.StatusUp)
	assert.Equal(t, []appinfo.StatusChangeEvent{
		{Previous: appinfo.StatusStarting, Current: appinfo.StatusUp},
	}, events)
}
