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
	"github.com/prioserve/prioserve/pkg/prioserve/types"
)

// CategoryAuthFCFSName is the name of the default ordering policy.
//
// Ranking, most significant first:
//  1. Category rank (higher first). Unrecognized kinds rank below every table entry.
//  2. Authenticated before anonymous.
//  3. Earlier `ReceivedAt` first.
//  4. Smaller `Sequence` first.
const CategoryAuthFCFSName = "category-auth-fcfs"

func init() {
	MustRegister(CategoryAuthFCFSName, func(params Params) (Policy, error) {
		return NewCategoryAuthFCFS(params.Ranks), nil
	})
}

// DefaultRanks returns the default category ranks: resource pages outrank not-found.
func DefaultRanks() RankTable {
	return RankTable{
		types.KindShopping: 2,
		types.KindIndex:    1,
		types.KindNotFound: 0,
	}
}

// CategoryAuthFCFS implements the default lexicographic ordering.
type CategoryAuthFCFS struct {
	ranks RankTable
}

var _ Policy = &CategoryAuthFCFS{}

// NewCategoryAuthFCFS creates the policy with overrides merged over `DefaultRanks`.
func NewCategoryAuthFCFS(overrides RankTable) *CategoryAuthFCFS {
	return &CategoryAuthFCFS{ranks: mergeRanks(DefaultRanks(), overrides)}
}

func (p *CategoryAuthFCFS) Name() string {
	return CategoryAuthFCFSName
}

// Compare implements Policy.
func (p *CategoryAuthFCFS) Compare(a, b *types.Request) int {
	if c, decided := compareNil(a, b); decided {
		return c
	}
	if c := compareInt(p.ranks.Rank(a.Kind()), p.ranks.Rank(b.Kind())); c != 0 {
		return c
	}
	if c := compareBool(a.Authenticated(), b.Authenticated()); c != 0 {
		return c
	}
	return compareArrival(a, b)
}
