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

package ordering

import (
	"fmt"
	"maps"
	"math"
	"sync"

	"github.com/prioserve/prioserve/pkg/prioserve/types"
)

// unrankedRank is the rank of any kind missing from a RankTable. It sorts below every configurable rank.
const unrankedRank = math.MinInt32

// Policy defines a total order over requests.
//
// Conformance:
//   - Compare(a, b) > 0 means a is dispatched before b; < 0 means after; 0 means the two requests are
//     indistinguishable by every ranking field.
//   - The order MUST be total and transitive, and Compare(a, a) MUST be 0.
//   - Compare MUST NOT panic, including for nil requests and unrecognized kinds. A nil request ranks below every
//     non-nil request.
type Policy interface {
	// Name returns the registered name of the policy.
	Name() string
	// Compare returns the three-way comparison of a against b.
	Compare(a, b *types.Request) int
}

// RankTable maps each request kind to its category rank. Higher ranks are dispatched first.
type RankTable map[types.Kind]int

// Rank returns the rank for k. Kinds absent from the table get the lowest possible rank.
func (t RankTable) Rank(k types.Kind) int {
	if r, ok := t[k]; ok {
		return r
	}
	return unrankedRank
}

// Params configures a policy at construction.
type Params struct {
	// Ranks overrides the policy's default rank (or weight) table. Entries are merged over the defaults.
	Ranks RankTable
	// AuthBonus is the score added to authenticated requests by score-based policies. Zero selects the policy default.
	AuthBonus int
}

// Factory constructs a Policy.
type Factory func(params Params) (Policy, error)

var (
	// mu guards the registration map.
	mu sync.RWMutex
	// registered stores the factories for all registered policies.
	registered = make(map[string]Factory)
)

// MustRegister registers a policy factory, and panics if the name is already registered.
// This is intended to be called from init() functions.
func MustRegister(name string, factory Factory) {
	mu.Lock()
	defer mu.Unlock()
	if _, ok := registered[name]; ok {
		panic(fmt.Sprintf("ordering policy already registered with name %q", name))
	}
	registered[name] = factory
}

// New creates the policy registered under name.
func New(name string, params Params) (Policy, error) {
	mu.RLock()
	factory, ok := registered[name]
	mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("no ordering policy registered with name %q", name)
	}
	return factory(params)
}

// Registered returns the names of all registered policies.
func Registered() []string {
	mu.RLock()
	defer mu.RUnlock()
	names := make([]string, 0, len(registered))
	for name := range registered {
		names = append(names, name)
	}
	return names
}

// mergeRanks returns defaults overlaid with overrides.
func mergeRanks(defaults, overrides RankTable) RankTable {
	merged := maps.Clone(defaults)
	maps.Copy(merged, overrides)
	return merged
}

// compareNil handles the nil cases shared by every policy. The boolean is true when the result is decided.
func compareNil(a, b *types.Request) (int, bool) {
	switch {
	case a == nil && b == nil:
		return 0, true
	case a == nil:
		return -1, true
	case b == nil:
		return 1, true
	}
	return 0, false
}

// compareArrival orders the earlier request first, falling back to the sequence stamp when timestamps collide.
func compareArrival(a, b *types.Request) int {
	// time.Compare uses the monotonic reading when both values carry one.
	if c := a.ReceivedAt().Compare(b.ReceivedAt()); c != 0 {
		return -c
	}
	switch {
	case a.Sequence() < b.Sequence():
		return 1
	case a.Sequence() > b.Sequence():
		return -1
	}
	return 0
}

// compareBool ranks true above false.
func compareBool(a, b bool) int {
	switch {
	case a == b:
		return 0
	case a:
		return 1
	}
	return -1
}

// compareInt ranks the larger value first.
func compareInt(a, b int) int {
	switch {
	case a > b:
		return 1
	case a < b:
		return -1
	}
	return 0
}

// PolicyFunc adapts a plain comparison function to the Policy interface.
type PolicyFunc func(a, b *types.Request) int

// Name returns a fixed name for ad-hoc policies.
func (f PolicyFunc) Name() string { return "func" }

// Compare calls f.
func (f PolicyFunc) Compare(a, b *types.Request) int { return f(a, b) }
