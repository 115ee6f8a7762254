/*
Copyright 2025 The prioserve Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package types

import (
	"errors"
)

// --- High-Level Outcome Errors ---

var (
	// ErrRejected is a sentinel error indicating a request was refused by the queue and never became pending. Errors
	// returned by `Enqueue` wrap this error.
	//
	// Callers should use `errors.Is(err, ErrRejected)` to check for this general class of failure.
	ErrRejected = errors.New("request rejected")
)

// --- Rejection Errors ---

var (
	// ErrQueueAtCapacity indicates that the queue was configured with a bound and that bound was reached. The queue's
	// state is unchanged.
	ErrQueueAtCapacity = errors.New("queue at capacity")

	// ErrQueueClosed is the closed signal. `Dequeue` returns it, unwrapped, once the queue has been closed; workers must
	// treat it as normal termination rather than a failure to retry. `Enqueue` returns it wrapped by `ErrRejected`.
	ErrQueueClosed = errors.New("queue closed")
)
