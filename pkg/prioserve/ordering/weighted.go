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

	"github.com/prioserve/prioserve/pkg/prioserve/types"
)

// WeightedScoreName is the name of the additive scoring policy.
//
// Each request scores `weight(kind) + authBonus` when authenticated, or `weight(kind)` otherwise. Higher scores are
// dispatched first and equal scores fall back to arrival order. Unlike CategoryAuthFCFS the authentication bit can lift
// a request above a higher-weighted category.
const WeightedScoreName = "weighted-score"

// defaultAuthBonus lets an authenticated index request pass a not-found request but not a shopping request.
const defaultAuthBonus = 2

func init() {
	MustRegister(WeightedScoreName, func(params Params) (Policy, error) {
		return NewWeightedScore(params.Ranks, params.AuthBonus)
	})
}

// DefaultWeights returns the default per-category weights of the weighted-score policy.
func DefaultWeights() RankTable {
	return RankTable{
		types.KindShopping: 3,
		types.KindNotFound: 1,
		types.KindIndex:    0,
	}
}

// WeightedScore implements the additive ordering.
type WeightedScore struct {
	weights   RankTable
	authBonus int
}

var _ Policy = &WeightedScore{}

// NewWeightedScore creates the policy. A zero authBonus selects the default bonus.
func NewWeightedScore(overrides RankTable, authBonus int) (*WeightedScore, error) {
	if authBonus < 0 {
		return nil, fmt.Errorf("auth bonus cannot be negative, but got %d", authBonus)
	}
	if authBonus == 0 {
		authBonus = defaultAuthBonus
	}
	return &WeightedScore{weights: mergeRanks(DefaultWeights(), overrides), authBonus: authBonus}, nil
}

func (p *WeightedScore) Name() string {
	return WeightedScoreName
}

func (p *WeightedScore) score(r *types.Request) int {
	s := p.weights.Rank(r.Kind())
	if r.Authenticated() {
		s += p.authBonus
	}
	return s
}

// Compare implements Policy.
func (p *WeightedScore) Compare(a, b *types.Request) int {
	if c, decided := compareNil(a, b); decided {
		return c
	}
	if c := compareInt(p.score(a), p.score(b)); c != 0 {
		return c
	}
	return compareArrival(a, b)
}
