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

import "strconv"

// QueueOutcome represents the final state of a request's lifecycle within the server. It is a low-cardinality value
// intended for metric labels and journal rows; the accompanying error, if any, carries the details.
type QueueOutcome int

const (
	// QueueOutcomeDispatched indicates the request was dequeued by a worker and handed to a processor.
	QueueOutcomeDispatched QueueOutcome = iota

	// QueueOutcomeRejectedCapacity indicates `Enqueue` refused the request because the configured bound was reached.
	QueueOutcomeRejectedCapacity

	// QueueOutcomeRejectedClosed indicates `Enqueue` refused the request because the queue was already closed.
	QueueOutcomeRejectedClosed

	// QueueOutcomeDrained indicates the request was still pending when the queue closed and was removed by `Drain`.
	QueueOutcomeDrained
)

// String returns a human-readable string representation of the QueueOutcome.
func (o QueueOutcome) String() string {
	switch o {
	case QueueOutcomeDispatched:
		return "Dispatched"
	case QueueOutcomeRejectedCapacity:
		return "RejectedCapacity"
	case QueueOutcomeRejectedClosed:
		return "RejectedClosed"
	case QueueOutcomeDrained:
		return "Drained"
	default:
		// Return the integer value for unknown outcomes to aid in debugging.
		return "UnknownOutcome(" + strconv.Itoa(int(o)) + ")"
	}
}
