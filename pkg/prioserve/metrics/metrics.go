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

package metrics

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"sigs.k8s.io/controller-runtime/pkg/log"
	"sigs.k8s.io/controller-runtime/pkg/metrics"

	logutil "github.com/prioserve/prioserve/pkg/common/observability/logging"
	"github.com/prioserve/prioserve/pkg/prioserve/types"
)

const (
	// Namespace prefixes every prioserve metric.
	Namespace = "prioserve"
)

var (
	// --- Common Label Sets ---
	KindLabels        = []string{"kind"}
	KindAuthLabels    = []string{"kind", "authenticated"}
	KindOutcomeLabels = []string{"kind", "outcome"}

	// LatencyBuckets covers queue waits and page rendering, from 100us to 1 minute.
	LatencyBuckets = []float64{
		0.0001, 0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60,
	}
)

var (
	requestsEnqueued = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "requests_enqueued_total",
			Help:      "Counter of requests accepted into the priority queue, by kind and authentication.",
		},
		KindAuthLabels,
	)

	requestsRejected = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "requests_rejected_total",
			Help:      "Counter of requests answered with 503 instead of being processed, by kind and outcome.",
		},
		KindOutcomeLabels,
	)

	requestsProcessed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "requests_processed_total",
			Help:      "Counter of dequeued requests handled by a worker, by kind and whether the response was written.",
		},
		[]string{"kind", "success"},
	)

	requestQueueDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "request_queue_duration_seconds",
			Help:      "Time a request spent pending in the priority queue before a worker dequeued it.",
			Buckets:   LatencyBuckets,
		},
		KindLabels,
	)

	requestProcessingDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "request_processing_duration_seconds",
			Help:      "Time a worker spent producing and writing the response for a request.",
			Buckets:   LatencyBuckets,
		},
		KindLabels,
	)

	malformedRequests = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "malformed_requests_total",
			Help:      "Counter of connections discarded because the request could not be parsed.",
		},
	)

	workersBusy = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "workers_busy",
			Help:      "Number of workers currently processing a request.",
		},
	)

	info = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "info",
			Help:      "General information about the running prioserve process.",
		},
		[]string{"commit", "build_ref", "ordering_policy"},
	)
)

var (
	registerMetrics sync.Once

	// collectorsMu serializes the replace-on-conflict registration of custom collectors.
	collectorsMu sync.Mutex
)

// Register registers all prioserve metrics with the controller-runtime registry, plus any custom collectors. The
// built-in metrics are registered on the first call only. A custom collector replaces an already registered one with
// the same descriptors, so per-instance collectors such as the queue collector always report the newest instance.
func Register(customCollectors ...prometheus.Collector) {
	registerMetrics.Do(func() {
		metrics.Registry.MustRegister(requestsEnqueued)
		metrics.Registry.MustRegister(requestsRejected)
		metrics.Registry.MustRegister(requestsProcessed)
		metrics.Registry.MustRegister(requestQueueDuration)
		metrics.Registry.MustRegister(requestProcessingDuration)
		metrics.Registry.MustRegister(malformedRequests)
		metrics.Registry.MustRegister(workersBusy)
		metrics.Registry.MustRegister(info)
	})

	collectorsMu.Lock()
	defer collectorsMu.Unlock()
	for _, collector := range customCollectors {
		registerReplacing(metrics.Registry, collector)
	}
}

func registerReplacing(reg prometheus.Registerer, c prometheus.Collector) {
	err := reg.Register(c)
	if err == nil {
		return
	}
	var are prometheus.AlreadyRegisteredError
	if !errors.As(err, &are) {
		panic(err)
	}
	reg.Unregister(are.ExistingCollector)
	reg.MustRegister(c)
}

// Reset clears all labelled metric values and the busy-worker gauge. Plain counters keep their value; tests compare
// deltas for those. It is intended for tests.
func Reset() {
	requestsEnqueued.Reset()
	requestsRejected.Reset()
	requestsProcessed.Reset()
	requestQueueDuration.Reset()
	requestProcessingDuration.Reset()
	workersBusy.Set(0)
	info.Reset()
}

// RecordRequestEnqueued counts a request accepted by the queue.
func RecordRequestEnqueued(kind types.Kind, authenticated bool) {
	requestsEnqueued.WithLabelValues(kind.String(), strconv.FormatBool(authenticated)).Inc()
}

// RecordRequestRejected counts a request that was answered with 503.
func RecordRequestRejected(kind types.Kind, outcome types.QueueOutcome) {
	requestsRejected.WithLabelValues(kind.String(), outcome.String()).Inc()
}

// RecordRequestProcessed counts a dequeued request once its response attempt finished.
func RecordRequestProcessed(kind types.Kind, success bool) {
	requestsProcessed.WithLabelValues(kind.String(), strconv.FormatBool(success)).Inc()
}

// RecordQueueDuration observes how long a request waited between receipt and dequeue. Negative durations are
// dropped and reported as false.
func RecordQueueDuration(ctx context.Context, kind types.Kind, received, dequeued time.Time) bool {
	if dequeued.Before(received) {
		log.FromContext(ctx).V(logutil.DEFAULT).Error(nil, "Request dequeued before it was received",
			"kind", kind, "receivedAt", received, "dequeuedAt", dequeued)
		return false
	}
	requestQueueDuration.WithLabelValues(kind.String()).Observe(dequeued.Sub(received).Seconds())
	return true
}

// RecordProcessingDuration observes the time spent rendering and writing a response.
func RecordProcessingDuration(kind types.Kind, d time.Duration) {
	requestProcessingDuration.WithLabelValues(kind.String()).Observe(d.Seconds())
}

// RecordMalformedRequest counts a connection discarded by the parser.
func RecordMalformedRequest() {
	malformedRequests.Inc()
}

// IncWorkersBusy marks one more worker as processing.
func IncWorkersBusy() {
	workersBusy.Inc()
}

// DecWorkersBusy marks one worker as idle again.
func DecWorkersBusy() {
	workersBusy.Dec()
}

// RecordInfo publishes build and configuration information.
func RecordInfo(commit, buildRef, orderingPolicy string) {
	info.WithLabelValues(commit, buildRef, orderingPolicy).Set(1)
}
