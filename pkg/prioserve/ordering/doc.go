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

// Package ordering provides the comparison policies that define dispatch order for the prioserve request queue.
//
// A Policy is a pure, total three-way comparison over two requests. The queue treats the request for which `Compare`
// returns a positive value as the higher priority one, so the root of its heap is always the request every other
// pending request compares less than or equal to.
//
// # Standard Implementations
//
//   - CategoryAuthFCFS ("category-auth-fcfs"): the default. Orders by category rank, then by the authentication bit,
//     then by arrival (earlier first), then by the parser's sequence stamp.
//
//   - WeightedScore ("weighted-score"): orders by the sum of a per-category weight and an authentication bonus, then
//     by arrival. With the default weights an authenticated index request outranks a not-found request while an
//     anonymous one does not.
//
// Policies are registered by name with `MustRegister` from init functions and constructed with `New`.
package ordering
