// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package gateway mediates every call blueprint makes to an embedding or
// generation model.
//
// A Gateway wraps an ai.Provider and adds the guarantees the pipeline relies on:
//
//   - a process-wide concurrency ceiling shared by all jobs (callers queue)
//   - a per-call timeout
//   - classification of provider errors into core.ErrTransientProvider and
//     core.ErrFatalInput, with cancellation by the caller reported as
//     core.ErrCancelled
//   - in-call exponential backoff for transient errors
//   - dimension checks and L2 normalization of embeddings
//   - JSON Schema validation of structured generation output
//
// The gateway never decides whether a job is retried; it only classifies.
package gateway
