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

package collectors

import (
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/prioserve/prioserve/pkg/prioserve/ordering"
	"github.com/prioserve/prioserve/pkg/prioserve/queue"
	"github.com/prioserve/prioserve/pkg/prioserve/types"
	prioservetesting "github.com/prioserve/prioserve/pkg/prioserve/util/testing"
)

func TestNoMetricsCollected(t *testing.T) {
	collector := &queueMetricsCollector{}

	if err := testutil.CollectAndCompare(collector, strings.NewReader(""), ""); err != nil {
		t.Fatal(err)
	}
}

func TestMetricsCollected(t *testing.T) {
	q := queue.New(ordering.NewCategoryAuthFCFS(nil), queue.WithCapacity(10))
	for range 3 {
		if err := q.Enqueue(prioservetesting.MakeRequest(types.KindIndex).Obj()); err != nil {
			t.Fatal(err)
		}
	}
	collector := NewQueueMetricsCollector(q)

	wantOpen := `
		# HELP prioserve_queue_capacity Configured bound on pending requests; 0 when the queue is unbounded.
		# TYPE prioserve_queue_capacity gauge
		prioserve_queue_capacity 10
		# HELP prioserve_queue_closed 1 once the queue has been closed for shutdown, 0 otherwise.
		# TYPE prioserve_queue_closed gauge
		prioserve_queue_closed 0
		# HELP prioserve_queue_length Number of requests pending in the priority queue.
		# TYPE prioserve_queue_length gauge
		prioserve_queue_length 3
	`
	if err := testutil.CollectAndCompare(collector, strings.NewReader(wantOpen)); err != nil {
		t.Fatal(err)
	}

	q.Close()
	_ = q.Drain()
	wantClosed := `
		# HELP prioserve_queue_closed 1 once the queue has been closed for shutdown, 0 otherwise.
		# TYPE prioserve_queue_closed gauge
		prioserve_queue_closed 1
		# HELP prioserve_queue_length Number of requests pending in the priority queue.
		# TYPE prioserve_queue_length gauge
		prioserve_queue_length 0
	`
	if err := testutil.CollectAndCompare(collector, strings.NewReader(wantClosed),
		"prioserve_queue_closed", "prioserve_queue_length"); err != nil {
		t.Fatal(err)
	}
}
