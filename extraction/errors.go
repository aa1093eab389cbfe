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

package extraction

import "errors"

var (
	// ErrExtractorRequired is returned when no extractor is configured.
	ErrExtractorRequired = errors.New("extractor is required")

	// ErrStoreRequired is returned when no entity store is configured.
	ErrStoreRequired = errors.New("entity store is required")

	// ErrInvalidOption is returned for out-of-range options.
	ErrInvalidOption = errors.New("invalid extraction option")

	// ErrDecode is returned when validated output cannot be decoded.
	ErrDecode = errors.New("decode extraction output")
)
