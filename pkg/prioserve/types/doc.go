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

// Package types defines the core data structures shared by the prioserve listener, queue, ordering policies, and
// workers.
//
// The central value is `Request`, an immutable record describing one parsed inbound request. It carries every field an
// ordering policy needs (`Kind`, `Authenticated`, `ReceivedAt`, `Sequence`) plus the diagnostic fields used for
// reporting (`Method`, `Path`). Ownership of a `Request`, and of the connection it carries, moves from the listener to
// the queue and finally to exactly one worker.
package types
