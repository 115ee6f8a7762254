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
	"github.com/prometheus/client_golang/prometheus"
)

var (
	descQueueLength = prometheus.NewDesc(
		"prioserve_queue_length",
		"Number of requests pending in the priority queue.",
		nil, nil,
	)
	descQueueCapacity = prometheus.NewDesc(
		"prioserve_queue_capacity",
		"Configured bound on pending requests; 0 when the queue is unbounded.",
		nil, nil,
	)
	descQueueClosed = prometheus.NewDesc(
		"prioserve_queue_closed",
		"1 once the queue has been closed for shutdown, 0 otherwise.",
		nil, nil,
	)
)

// QueueStats is the read-only view of the queue the collector scrapes.
type QueueStats interface {
	Len() int
	Capacity() int
	IsClosed() bool
}

type queueMetricsCollector struct {
	queue QueueStats
}

// Check if queueMetricsCollector implements necessary interface
var _ prometheus.Collector = &queueMetricsCollector{}

// NewQueueMetricsCollector implements the prometheus.Collector interface and
// exposes the live state of the priority queue at scrape time.
func NewQueueMetricsCollector(queue QueueStats) prometheus.Collector {
	return &queueMetricsCollector{
		queue: queue,
	}
}

// Describe implements the prometheus.Collector interface.
func (c *queueMetricsCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- descQueueLength
	ch <- descQueueCapacity
	ch <- descQueueClosed
}

// Collect implements the prometheus.Collector interface.
func (c *queueMetricsCollector) Collect(ch chan<- prometheus.Metric) {
	if c.queue == nil {
		return
	}
	closed := 0.0
	if c.queue.IsClosed() {
		closed = 1
	}
	ch <- prometheus.MustNewConstMetric(descQueueLength, prometheus.GaugeValue, float64(c.queue.Len()))
	ch <- prometheus.MustNewConstMetric(descQueueCapacity, prometheus.GaugeValue, float64(c.queue.Capacity()))
	ch <- prometheus.MustNewConstMetric(descQueueClosed, prometheus.GaugeValue, closed)
}
