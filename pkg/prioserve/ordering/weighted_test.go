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
	"slices"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"github.com/prioserve/prioserve/pkg/prioserve/types"
	testutil "github.com/prioserve/prioserve/pkg/prioserve/util/testing"
)

// TestWeightedScore_DemoOrder checks the additive ranking: authenticated shopping, shopping, authenticated index,
// not-found, index.
func TestWeightedScore_DemoOrder(t *testing.T) {
	t.Parallel()
	policy, err := NewWeightedScore(nil, 0)
	require.NoError(t, err)

	shopping := testutil.MakeRequest(types.KindShopping).Seq(1).Obj()
	notFound := testutil.MakeRequest(types.KindNotFound).At(time.Millisecond).Seq(2).Obj()
	index := testutil.MakeRequest(types.KindIndex).At(2 * time.Millisecond).Seq(3).Obj()
	authIndex := testutil.MakeRequest(types.KindIndex).Authenticated().At(3 * time.Millisecond).Seq(4).Obj()
	authShopping := testutil.MakeRequest(types.KindShopping).Authenticated().At(4 * time.Millisecond).Seq(5).Obj()

	got := []*types.Request{shopping, notFound, index, authIndex, authShopping}
	slices.SortFunc(got, func(a, b *types.Request) int { return -policy.Compare(a, b) })

	want := []uint64{5, 1, 4, 2, 3}
	seqs := make([]uint64, len(got))
	for i, r := range got {
		seqs[i] = r.Sequence()
	}
	if diff := cmp.Diff(want, seqs); diff != "" {
		t.Errorf("unexpected dispatch order (-want +got):\n%s", diff)
	}
}

func TestNewWeightedScore_NegativeBonus(t *testing.T) {
	t.Parallel()
	_, err := NewWeightedScore(nil, -1)
	require.Error(t, err)
}
