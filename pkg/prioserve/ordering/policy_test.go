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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prioserve/prioserve/pkg/prioserve/types"
	testutil "github.com/prioserve/prioserve/pkg/prioserve/util/testing"
)

// requestUniverse builds a set of requests covering every combination of kind (including an unrecognized one),
// authentication, and a few colliding and distinct arrival stamps.
func requestUniverse() []*types.Request {
	kinds := append([]types.Kind{types.Kind(42)}, types.KnownKinds...)
	var reqs []*types.Request
	var seq uint64
	for _, k := range kinds {
		for _, auth := range []bool{false, true} {
			for _, offset := range []time.Duration{0, 0, time.Millisecond} {
				seq++
				w := testutil.MakeRequest(k).At(offset).Seq(seq)
				if auth {
					w.Authenticated()
				}
				reqs = append(reqs, w.Obj())
			}
		}
	}
	return reqs
}

// TestPolicyConformance runs every registered policy through the contract checks: reflexivity, antisymmetry,
// transitivity, consistency with equals, and nil handling.
func TestPolicyConformance(t *testing.T) {
	t.Parallel()

	names := Registered()
	require.NotEmpty(t, names, "at least one policy must be registered")

	for _, name := range names {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			policy, err := New(name, Params{})
			require.NoError(t, err, "factory failed for policy %s", name)
			require.Equal(t, name, policy.Name(), "Name() should match the registered name")

			t.Run("Nil_Sanity", func(t *testing.T) {
				t.Parallel()
				item := testutil.MakeRequest(types.KindIndex).Obj()
				assert.Equal(t, 0, policy.Compare(nil, nil), "Compare(nil, nil) should be 0")
				assert.Positive(t, policy.Compare(item, nil), "a request should outrank nil")
				assert.Negative(t, policy.Compare(nil, item), "nil should rank below a request")
			})

			t.Run("Total_Order", func(t *testing.T) {
				t.Parallel()
				reqs := requestUniverse()
				for _, a := range reqs {
					assert.Equal(t, 0, policy.Compare(a, a), "Compare(a, a) must be 0 for %s", a)
					for _, b := range reqs {
						ab, ba := policy.Compare(a, b), policy.Compare(b, a)
						assert.Equal(t, -ab, ba, "Compare must be antisymmetric for %s vs %s", a, b)
						if a != b {
							assert.NotZero(t, ab, "distinct sequence stamps must never compare equal: %s vs %s", a, b)
						}
						for _, c := range reqs {
							if ab > 0 && policy.Compare(b, c) > 0 {
								assert.Positive(t, policy.Compare(a, c), "transitivity violated: %s > %s > %s", a, b, c)
							}
						}
					}
				}
			})
		})
	}
}

func TestNew_UnknownPolicy(t *testing.T) {
	t.Parallel()
	_, err := New("does-not-exist", Params{})
	require.Error(t, err)
}

func TestMustRegister_DuplicatePanics(t *testing.T) {
	t.Parallel()
	assert.Panics(t, func() {
		MustRegister(CategoryAuthFCFSName, func(Params) (Policy, error) { return nil, nil })
	})
}

func TestRankTable_Rank(t *testing.T) {
	t.Parallel()
	table := RankTable{types.KindIndex: -5}
	assert.Equal(t, -5, table.Rank(types.KindIndex))
	assert.Less(t, table.Rank(types.KindShopping), table.Rank(types.KindIndex),
		"missing kinds must rank below every configured rank")
}
