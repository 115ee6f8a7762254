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

package queue

import (
	"github.com/prioserve/prioserve/pkg/prioserve/ordering"
	"github.com/prioserve/prioserve/pkg/prioserve/types"
)

// heapSort sorts items in place into descending priority order. It builds a min-heap over the slice and repeatedly
// swaps the minimum to the end of the shrinking heap, so the lowest-priority request ends up last.
func heapSort(items []*types.Request, policy ordering.Policy) {
	n := len(items)
	for i := n/2 - 1; i >= 0; i-- {
		siftDownMin(items, n, i, policy)
	}
	for end := n - 1; end > 0; end-- {
		items[0], items[end] = items[end], items[0]
		siftDownMin(items, end, 0, policy)
	}
}

// siftDownMin restores the min-heap property for the subtree rooted at i within items[:n].
func siftDownMin(items []*types.Request, n, i int, policy ordering.Policy) {
	for {
		smallest := i
		left, right := 2*i+1, 2*i+2
		if left < n && policy.Compare(items[left], items[smallest]) < 0 {
			smallest = left
		}
		if right < n && policy.Compare(items[right], items[smallest]) < 0 {
			smallest = right
		}
		if smallest == i {
			return
		}
		items[i], items[smallest] = items[smallest], items[i]
		i = smallest
	}
}
