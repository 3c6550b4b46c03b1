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

package supervise

import "context"

// Tick drives a single tick synchronously, for deterministic tests.
func (s *Supervisor) Tick(ctx context.Context) {
	s.tick(ctx)
}

// WaitIdle blocks until no task invocation holds the worker slot.
func (s *Supervisor) WaitIdle() {
	_ = s.slot.Acquire(context.Background(), 1)
	s.slot.Release(1)
}
