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

// Package worker runs the fixed pool of consumers that take requests from the priority queue and hand them to the
// processor.
//
// The pool adds no ordering or buffering of its own: each worker blocks in the queue until work exists, so every
// ordering guarantee comes from the queue. Workers stop when the queue reports `types.ErrQueueClosed`, which is normal
// termination, or when the context passed to `Run` is cancelled.
package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-logr/logr"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelcodes "go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
	"k8s.io/utils/clock"
	"sigs.k8s.io/controller-runtime/pkg/log"

	logutil "github.com/prioserve/prioserve/pkg/common/observability/logging"
	"github.com/prioserve/prioserve/pkg/prioserve/journal"
	"github.com/prioserve/prioserve/pkg/prioserve/metrics"
	"github.com/prioserve/prioserve/pkg/prioserve/types"
)

const (
	// DefaultWorkers is the pool size used when none is configured.
	DefaultWorkers = 4

	tracerName = "github.com/prioserve/prioserve/pkg/prioserve/worker"
)

// Source is the blocking supply of requests, satisfied by `*queue.RequestQueue`.
type Source interface {
	DequeueContext(ctx context.Context) (*types.Request, error)
}

// Processor answers requests. `Process` is called for dispatched requests and `Reject` for requests that will never
// be processed.
type Processor interface {
	Process(ctx context.Context, req *types.Request) error
	Reject(req *types.Request) error
}

// Recorder persists finished requests. A nil Recorder disables recording.
type Recorder interface {
	Record(ctx context.Context, e journal.Entry) error
}

// Option configures a Pool.
type Option func(*Pool)

// WithWorkers sets the number of concurrent workers. Non-positive values keep the default.
func WithWorkers(n int) Option {
	return func(p *Pool) {
		if n > 0 {
			p.workers = n
		}
	}
}

// WithClock sets the clock used to measure queue waits and processing time.
func WithClock(clk clock.PassiveClock) Option {
	return func(p *Pool) {
		p.clock = clk
	}
}

// WithRecorder journals every finished request.
func WithRecorder(r Recorder) Option {
	return func(p *Pool) {
		p.recorder = r
	}
}

// WithTracerProvider sets the provider of the per-request spans. The global provider is used otherwise.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(p *Pool) {
		p.tracer = tp.Tracer(tracerName)
	}
}

// WithProcessingDelay makes each worker pause before processing a request. It simulates slow work so the effect of
// the ordering policy is observable on the index page.
func WithProcessingDelay(d time.Duration) Option {
	return func(p *Pool) {
		p.processingDelay = d
	}
}

// Pool is a fixed-size group of workers.
type Pool struct {
	source          Source
	processor       Processor
	recorder        Recorder
	clock           clock.PassiveClock
	tracer          trace.Tracer
	workers         int
	processingDelay time.Duration
}

// NewPool creates a pool that feeds requests from source to processor.
func NewPool(source Source, processor Processor, opts ...Option) *Pool {
	p := &Pool{
		source:    source,
		processor: processor,
		clock:     clock.RealClock{},
		tracer:    otel.Tracer(tracerName),
		workers:   DefaultWorkers,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Workers returns the configured pool size.
func (p *Pool) Workers() int {
	return p.workers
}

// Run starts the workers and blocks until all of them have exited. It returns nil when the workers stopped because
// the queue closed or ctx was cancelled. After cancellation a worker keeps handling whatever the queue still yields
// and exits once it finds the queue empty.
func (p *Pool) Run(ctx context.Context) error {
	logger := log.FromContext(ctx).WithName("worker-pool")
	logger.V(logutil.DEFAULT).Info("Worker pool starting", "workers", p.workers)
	defer logger.V(logutil.DEFAULT).Info("Worker pool stopped")

	g, gctx := errgroup.WithContext(ctx)
	for id := range p.workers {
		g.Go(func() error {
			return p.work(log.IntoContext(gctx, logger.WithValues("worker", id)))
		})
	}
	return g.Wait()
}

func (p *Pool) work(ctx context.Context) error {
	logger := log.FromContext(ctx)
	for {
		req, err := p.source.DequeueContext(ctx)
		if err == nil {
			// A dequeued request is owned by this worker and must be answered, even after cancellation.
			p.handle(ctx, logger, req)
			continue
		}
		switch {
		case errors.Is(err, types.ErrQueueClosed):
			logger.V(logutil.VERBOSE).Info("Queue closed, worker exiting")
			return nil
		case ctx.Err() != nil:
			logger.V(logutil.VERBOSE).Info("Context cancelled, worker exiting")
			return nil
		default:
			return fmt.Errorf("dequeue: %w", err)
		}
	}
}

func (p *Pool) handle(ctx context.Context, logger logr.Logger, req *types.Request) {
	metrics.IncWorkersBusy()
	defer metrics.DecWorkersBusy()

	dequeuedAt := p.clock.Now()
	wait := dequeuedAt.Sub(req.ReceivedAt())
	metrics.RecordQueueDuration(ctx, req.Kind(), req.ReceivedAt(), dequeuedAt)
	logger = logger.WithValues("requestID", req.ID(), "kind", req.Kind())
	logger.V(logutil.TRACE).Info("Request dequeued", "authenticated", req.Authenticated(), "wait", wait)

	ctx, span := p.tracer.Start(ctx, "prioserve.process", trace.WithAttributes(requestAttributes(req)...),
		trace.WithAttributes(attribute.Int64("prioserve.queue_wait_ms", wait.Milliseconds())))
	defer span.End()

	if p.processingDelay > 0 {
		timer := time.NewTimer(p.processingDelay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
		}
	}

	start := p.clock.Now()
	err := p.processor.Process(ctx, req)
	metrics.RecordProcessingDuration(req.Kind(), p.clock.Since(start))
	metrics.RecordRequestProcessed(req.Kind(), err == nil)
	if err != nil {
		logger.Error(err, "Failed to process request")
		span.RecordError(err)
		span.SetStatus(otelcodes.Error, "processing failed")
	}

	p.record(ctx, logger, journal.NewEntry(req, types.QueueOutcomeDispatched, err == nil, wait, p.clock.Now()))
}

// Release answers each request with 503 and records it with the given outcome. It is used for requests refused by the
// queue and for requests still pending when the queue closed.
func (p *Pool) Release(ctx context.Context, outcome types.QueueOutcome, reqs ...*types.Request) {
	logger := log.FromContext(ctx)
	for _, req := range reqs {
		_, span := p.tracer.Start(ctx, "prioserve.release", trace.WithAttributes(requestAttributes(req)...),
			trace.WithAttributes(attribute.String("prioserve.outcome", outcome.String())))
		metrics.RecordRequestRejected(req.Kind(), outcome)
		err := p.processor.Reject(req)
		if err != nil {
			logger.V(logutil.DEFAULT).Error(err, "Failed to reject request", "requestID", req.ID(), "outcome", outcome)
			span.RecordError(err)
			span.SetStatus(otelcodes.Error, "reject failed")
		}
		span.End()
		wait := p.clock.Since(req.ReceivedAt())
		p.record(ctx, logger, journal.NewEntry(req, outcome, err == nil, wait, p.clock.Now()))
	}
}

func requestAttributes(req *types.Request) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String("prioserve.request_id", req.ID()),
		attribute.String("prioserve.kind", req.Kind().String()),
		attribute.Bool("prioserve.authenticated", req.Authenticated()),
		attribute.String("http.request.method", req.Method()),
		attribute.String("url.path", req.Path()),
	}
}

func (p *Pool) record(ctx context.Context, logger logr.Logger, e journal.Entry) {
	if p.recorder == nil {
		return
	}
	// Journal writes must survive shutdown cancellation so the final requests are still recorded.
	if err := p.recorder.Record(context.WithoutCancel(ctx), e); err != nil {
		logger.V(logutil.DEFAULT).Error(err, "Failed to journal request", "requestID", e.RequestID)
	}
}
