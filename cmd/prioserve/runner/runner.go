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

// Package runner assembles a prioserve process from its configuration and drives its lifecycle: start, drain and
// stop.
package runner

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	healthPb "google.golang.org/grpc/health/grpc_health_v1"
	"k8s.io/utils/clock"
	"sigs.k8s.io/controller-runtime/pkg/log"
	ctrlmetrics "sigs.k8s.io/controller-runtime/pkg/metrics"

	"github.com/prioserve/prioserve/internal/runnable"
	logutil "github.com/prioserve/prioserve/pkg/common/observability/logging"
	"github.com/prioserve/prioserve/pkg/prioserve/admin"
	"github.com/prioserve/prioserve/pkg/prioserve/config"
	"github.com/prioserve/prioserve/pkg/prioserve/handlers"
	"github.com/prioserve/prioserve/pkg/prioserve/journal"
	"github.com/prioserve/prioserve/pkg/prioserve/metrics"
	"github.com/prioserve/prioserve/pkg/prioserve/metrics/collectors"
	"github.com/prioserve/prioserve/pkg/prioserve/queue"
	"github.com/prioserve/prioserve/pkg/prioserve/request"
	"github.com/prioserve/prioserve/pkg/prioserve/server"
	"github.com/prioserve/prioserve/pkg/prioserve/types"
	"github.com/prioserve/prioserve/pkg/prioserve/worker"
	"github.com/prioserve/prioserve/version"
)

// instance is one wired prioserve process.
type instance struct {
	cfg      *config.Config
	queue    *queue.RequestQueue
	pool     *worker.Pool
	listener *server.Server
	admin    *admin.Server
	health   *grpc.Server
	journal  *journal.Journal
}

// newInstance builds every component from cfg. cfg must already be validated.
func newInstance(ctx context.Context, cfg *config.Config) (*instance, error) {
	logger := log.FromContext(ctx)

	policy, err := cfg.Policy()
	if err != nil {
		return nil, fmt.Errorf("failed to create ordering policy: %w", err)
	}
	verifier, err := cfg.Verifier()
	if err != nil {
		return nil, fmt.Errorf("failed to create token verifier: %w", err)
	}
	if verifier.Open() {
		logger.Info("No token digests configured, any non-empty Authorization header is treated as authenticated")
	}

	in := &instance{cfg: cfg}
	in.queue = queue.New(policy, queue.WithCapacity(cfg.MaxQueueLength))

	metrics.Register(collectors.NewQueueMetricsCollector(in.queue))
	metrics.RecordInfo(version.CommitSHA, version.BuildRef, policy.Name())

	poolOpts := []worker.Option{
		worker.WithWorkers(cfg.Workers),
		worker.WithProcessingDelay(cfg.ProcessingDelay),
	}
	var journalReader admin.JournalReader
	if cfg.JournalPath != "" {
		in.journal, err = journal.Open(ctx, cfg.JournalPath)
		if err != nil {
			return nil, err
		}
		poolOpts = append(poolOpts, worker.WithRecorder(in.journal))
		journalReader = in.journal
		logger.Info("Journaling processed requests", "path", cfg.JournalPath)
	}

	processor := handlers.NewProcessor(in.queue, cfg.WriteTimeout)
	in.pool = worker.NewPool(in.queue, processor, poolOpts...)
	in.listener = server.New(server.Config{
		Address:             cfg.ListenAddress,
		ReadTimeout:         cfg.ReadTimeout,
		MaxConcurrentParses: cfg.MaxConcurrentParses,
	}, request.NewParser(clock.RealClock{}, verifier), in.queue, in.pool)

	if cfg.AdminAddress != "" {
		in.admin = admin.New(in.queue, journalReader, ctrlmetrics.Registry, logger.WithName("admin"))
		if cfg.EnablePprof {
			in.admin.EnableProfiling()
		}
	}
	if cfg.HealthPort > 0 {
		in.health = grpc.NewServer()
		healthPb.RegisterHealthServer(in.health, &healthServer{queue: in.queue})
	}

	logger.Info("prioserve configured", "orderingPolicy", policy.Name(), "workers", in.pool.Workers(),
		"maxQueueLength", cfg.MaxQueueLength)
	return in, nil
}

// run serves until ctx is cancelled or a server fails, then shuts down:
//  1. stop accepting connections,
//  2. wait up to the grace period for pending requests to be processed,
//  3. close the queue and wait for the workers,
//  4. answer whatever is left with 503.
func (in *instance) run(ctx context.Context) error {
	logger := log.FromContext(ctx)

	// Workers outlive the signal: they stop when the queue closes.
	workCtx, cancelWork := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelWork()
	poolDone := make(chan error, 1)
	go func() { poolDone <- in.pool.Run(workCtx) }()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return in.listener.ListenAndServe(gctx) })
	if in.admin != nil {
		g.Go(func() error { return in.admin.Run(gctx, in.cfg.AdminAddress) })
	}
	if in.health != nil {
		g.Go(func() error { return runnable.GRPCServer("health", in.health, in.cfg.HealthPort).Start(gctx) })
	}
	serveErr := g.Wait()
	if serveErr != nil {
		logger.Error(serveErr, "Server failed, shutting down")
	}

	in.drain(ctx)
	in.queue.Close()
	poolErr := <-poolDone

	if leftover := in.queue.Drain(); len(leftover) > 0 {
		logger.Info("Answering requests still pending at shutdown with 503", "count", len(leftover))
		in.pool.Release(ctx, types.QueueOutcomeDrained, leftover...)
	}
	logger.Info("prioserve stopped")
	return errors.Join(serveErr, poolErr)
}

// drain waits up to the shutdown grace period for the workers to empty the queue.
func (in *instance) drain(ctx context.Context) {
	grace := in.cfg.ShutdownGracePeriod
	if grace <= 0 {
		return
	}
	logger := log.FromContext(ctx)
	logger.Info("Waiting for pending requests", "pending", in.queue.Len(), "gracePeriod", grace)

	waitCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), grace)
	defer cancel()
	if err := in.queue.WaitEmpty(waitCtx); err != nil {
		logger.V(logutil.DEFAULT).Info("Queue not drained within grace period", "pending", in.queue.Len(),
			"reason", err.Error())
	}
}

// close releases resources that outlive run.
func (in *instance) close() error {
	if in.journal != nil {
		return in.journal.Close()
	}
	return nil
}
