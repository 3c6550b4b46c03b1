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

package gate_test

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/bufbuild/disco/gate"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassify(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		method string
		path   string
		want   gate.Target
	}{
		{method: http.MethodGet, path: "/v2/apps", want: gate.TargetFullFetch},
		{method: http.MethodGet, path: "/v2/apps/", want: gate.TargetFullFetch},
		{method: http.MethodGet, path: "/v2/apps/delta", want: gate.TargetDeltaFetch},
		{method: http.MethodGet, path: "/v2/apps/FOO", want: gate.TargetApplication},
		{method: http.MethodPost, path: "/v2/apps/FOO", want: gate.TargetOther},
		{method: http.MethodGet, path: "/v2/vips/foo", want: gate.TargetOther},
		{method: http.MethodGet, path: "/apps", want: gate.TargetFullFetch},
		{method: http.MethodPut, path: "/v2/apps/FOO/instance-1", want: gate.TargetOther},
	}
	for _, testCase := range testCases {
		req := httptest.NewRequest(testCase.method, testCase.path, http.NoBody)
		assert.Equal(t, testCase.want, gate.Classify(req), "%s %s", testCase.method, testCase.path)
	}
}

func serve(t *testing.T, filter *gate.Filter, method, path string, headers map[string]string) int {
	t.Helper()
	handler := filter.Handler(http.HandlerFunc(func(writer http.ResponseWriter, _ *http.Request) {
		writer.WriteHeader(http.StatusOK)
	}))
	req := httptest.NewRequest(method, path, http.NoBody)
	for name, value := range headers {
		req.Header.Set(name, value)
	}
	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, req)
	return recorder.Code
}

func TestEnforcementDropsOverload(t *testing.T) {
	t.Parallel()

	filter := gate.New(&gate.SimpleConfig{
		Enforce:       true,
		Burst:         2,
		FetchRate:     1,
		FullFetchRate: 1,
	})
	// Burst admits the first two fetches; the third overflows.
	require.Equal(t, http.StatusOK, serve(t, filter, http.MethodGet, "/v2/apps/FOO", nil))
	require.Equal(t, http.StatusOK, serve(t, filter, http.MethodGet, "/v2/apps/FOO", nil))
	assert.Equal(t, http.StatusServiceUnavailable, serve(t, filter, http.MethodGet, "/v2/apps/FOO", nil))

	stats := filter.Stats()
	assert.Equal(t, int64(1), stats.RateLimited)
	assert.Equal(t, int64(0), stats.Candidates)
}

func TestDisabledCountsCandidates(t *testing.T) {
	t.Parallel()

	filter := gate.New(&gate.SimpleConfig{
		Enforce:       false,
		Burst:         1,
		FetchRate:     1,
		FullFetchRate: 1,
	})
	require.Equal(t, http.StatusOK, serve(t, filter, http.MethodGet, "/v2/apps", nil))
	// Overloaded, but still admitted: only the candidates counter moves.
	assert.Equal(t, http.StatusOK, serve(t, filter, http.MethodGet, "/v2/apps", nil))

	stats := filter.Stats()
	assert.Equal(t, int64(0), stats.RateLimited)
	assert.Equal(t, int64(1), stats.Candidates)
	assert.Equal(t, int64(1), stats.CandidatesFull)
}

func TestOtherRequestsAlwaysAdmitted(t *testing.T) {
	t.Parallel()

	filter := gate.New(&gate.SimpleConfig{
		Enforce:       true,
		Burst:         1,
		FetchRate:     1,
		FullFetchRate: 1,
	})
	for i := 0; i < 10; i++ {
		assert.Equal(t, http.StatusOK, serve(t, filter, http.MethodPost, "/v2/apps/FOO", nil))
	}
	assert.Equal(t, gate.Stats{}, filter.Stats())
}

func TestPrivilegedClientsBypass(t *testing.T) {
	t.Parallel()

	filter := gate.New(&gate.SimpleConfig{
		Enforce:       true,
		Privileged:    []string{"MonitoringTool"},
		Burst:         1,
		FetchRate:     1,
		FullFetchRate: 1,
	})
	for _, identity := range []string{gate.DefaultClientName, gate.DefaultServerName, "MonitoringTool"} {
		for i := 0; i < 5; i++ {
			code := serve(t, filter, http.MethodGet, "/v2/apps", map[string]string{
				gate.IdentityHeader: identity,
			})
			assert.Equal(t, http.StatusOK, code, "identity %s", identity)
		}
	}
}

func TestThrottleStandardClients(t *testing.T) {
	t.Parallel()

	filter := gate.New(&gate.SimpleConfig{
		Enforce:          true,
		ThrottleStandard: true,
		Burst:            1,
		FetchRate:        1,
		FullFetchRate:    1,
	})
	headers := map[string]string{gate.IdentityHeader: gate.DefaultClientName}
	require.Equal(t, http.StatusOK, serve(t, filter, http.MethodGet, "/v2/apps", headers))
	assert.Equal(t, http.StatusServiceUnavailable, serve(t, filter, http.MethodGet, "/v2/apps", headers))
}

func TestFullFetchHasNarrowerCeiling(t *testing.T) {
	t.Parallel()

	// The combined bucket has room for plenty, but the full-only bucket is
	// exhausted after one full fetch. Delta fetches must keep flowing.
	filter := gate.New(&gate.SimpleConfig{
		Enforce:       true,
		Burst:         1,
		FetchRate:     0, // zero rate admits everything on the combined bucket
		FullFetchRate: 1,
	})
	require.Equal(t, http.StatusOK, serve(t, filter, http.MethodGet, "/v2/apps", nil))
	assert.Equal(t, http.StatusServiceUnavailable, serve(t, filter, http.MethodGet, "/v2/apps", nil))
	assert.Equal(t, http.StatusOK, serve(t, filter, http.MethodGet, "/v2/apps/delta", nil))
}
