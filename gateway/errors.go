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

package gateway

import "errors"

var (
	// ErrProviderRequired is returned when New is called without a provider.
	ErrProviderRequired = errors.New("ai provider is required")

	// ErrInvalidOption is returned for out-of-range option values.
	ErrInvalidOption = errors.New("invalid gateway option")

	// ErrInvalidMaxAttempts is returned when maxAttempts is <= 0.
	ErrInvalidMaxAttempts = errors.New("maxAttempts must be greater than 0")

	// ErrDimensionMismatch is returned when the provider's vector has the wrong length.
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")

	// ErrInvalidOutput is returned when generated JSON fails to parse or validate.
	ErrInvalidOutput = errors.New("model output does not match schema")

	// ErrInvalidSchema is returned when a schema definition cannot be compiled.
	ErrInvalidSchema = errors.New("invalid json schema")
)
