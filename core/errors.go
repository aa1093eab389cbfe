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

package core

import (
	"context"
	"errors"
)

// Pipeline error taxonomy. Callers classify with errors.Is.
var (
	// ErrTransientProvider indicates a timeout, rate limit or other
	// recoverable failure of the external model provider.
	ErrTransientProvider = errors.New("transient provider error")

	// ErrFatalInput indicates content the provider or parser rejects.
	// Retrying will not help.
	ErrFatalInput = errors.New("fatal input error")

	// ErrConsistency indicates a storage invariant would be violated,
	// e.g. a vector of the wrong dimension.
	ErrConsistency = errors.New("consistency error")

	// ErrCancelled indicates the owning job was cancelled. It is not a failure.
	ErrCancelled = errors.New("cancelled")
)

var (
	// ErrInvalidTransition indicates a job, step or review state change that
	// the state machine does not allow.
	ErrInvalidTransition = errors.New("invalid state transition")

	// ErrInvalidDocument indicates a Document failed validation.
	ErrInvalidDocument = errors.New("invalid document")

	// ErrInvalidChunk indicates a DocumentChunk failed validation.
	ErrInvalidChunk = errors.New("invalid chunk")

	// ErrInvalidEntity indicates an extracted entity failed validation.
	ErrInvalidEntity = errors.New("invalid entity")

	// ErrInvalidEvent indicates a progress event is malformed.
	ErrInvalidEvent = errors.New("invalid progress event")

	// ErrEmptyContent indicates text content is empty.
	ErrEmptyContent = errors.New("content cannot be empty")

	// ErrConfidenceRange indicates a confidence outside [0,1].
	ErrConfidenceRange = errors.New("confidence must be between 0 and 1")

	// ErrUnknownEntityKind indicates an EntityKind value outside the known set.
	ErrUnknownEntityKind = errors.New("unknown entity kind")
)

// IsRetryable reports whether err is worth another attempt.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrTransientProvider)
}

// IsCancellation reports whether err signals cooperative cancellation
// rather than a failure.
func IsCancellation(err error) bool {
	return errors.Is(err, ErrCancelled) || errors.Is(err, context.Canceled)
}
