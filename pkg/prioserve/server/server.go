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

// Package server is the producer side of prioserve: it accepts client connections, parses one request per
// connection and enqueues it. The connection stays open and travels with the request until a worker answers it.
package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
	"sigs.k8s.io/controller-runtime/pkg/log"

	logutil "github.com/prioserve/prioserve/pkg/common/observability/logging"
	"github.com/prioserve/prioserve/pkg/prioserve/metrics"
	"github.com/prioserve/prioserve/pkg/prioserve/request"
	"github.com/prioserve/prioserve/pkg/prioserve/types"
)

const (
	// DefaultMaxConcurrentParses bounds the connections being read at the same time.
	DefaultMaxConcurrentParses = 256

	minAcceptBackoff = 5 * time.Millisecond
	maxAcceptBackoff = time.Second
)

// Parser reads one request from a connection.
type Parser interface {
	Parse(r io.Reader, conn net.Conn) (*types.Request, error)
}

// Enqueuer accepts parsed requests, satisfied by `*queue.RequestQueue`.
type Enqueuer interface {
	Enqueue(req *types.Request) error
}

// Releaser answers requests that the queue refused.
type Releaser interface {
	Release(ctx context.Context, outcome types.QueueOutcome, reqs ...*types.Request)
}

// Config holds the listener settings.
type Config struct {
	// Address is the TCP address to listen on, e.g. ":8080".
	Address string
	// ReadTimeout bounds the time a client may take to send its request head. Zero disables the deadline.
	ReadTimeout time.Duration
	// MaxConcurrentParses bounds the connections being read at once. Accepting pauses while the bound is reached.
	MaxConcurrentParses int64
}

// Server accepts connections and feeds the queue.
type Server struct {
	cfg      Config
	parser   Parser
	queue    Enqueuer
	releaser Releaser
	parses   *semaphore.Weighted

	mu   sync.Mutex
	addr net.Addr
}

// New creates a Server.
func New(cfg Config, parser Parser, queue Enqueuer, releaser Releaser) *Server {
	if cfg.MaxConcurrentParses <= 0 {
		cfg.MaxConcurrentParses = DefaultMaxConcurrentParses
	}
	return &Server{
		cfg:      cfg,
		parser:   parser,
		queue:    queue,
		releaser: releaser,
		parses:   semaphore.NewWeighted(cfg.MaxConcurrentParses),
	}
}

// Addr returns the address the server is listening on, or nil before it started.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

// ListenAndServe listens on the configured address and serves until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context) error {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", s.cfg.Address)
	if err != nil {
		return fmt.Errorf("failed to listen on %q: %w", s.cfg.Address, err)
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is cancelled, then closes ln and waits for in-flight parses to finish.
// Requests already enqueued are unaffected. It returns nil on cancellation.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	logger := log.FromContext(ctx).WithName("listener")
	s.mu.Lock()
	s.addr = ln.Addr()
	s.mu.Unlock()
	logger.Info("Listening for requests", "address", ln.Addr().String())

	stop := context.AfterFunc(ctx, func() { _ = ln.Close() })
	defer stop()

	var wg sync.WaitGroup
	defer wg.Wait()

	var backoff time.Duration
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				logger.Info("Listener stopped")
				return nil
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				backoff = nextBackoff(backoff)
				logger.V(logutil.DEFAULT).Error(err, "Accept failed, retrying", "backoff", backoff)
				select {
				case <-time.After(backoff):
					continue
				case <-ctx.Done():
					return nil
				}
			}
			_ = ln.Close()
			return fmt.Errorf("accept: %w", err)
		}
		backoff = 0

		if err := s.parses.Acquire(ctx, 1); err != nil {
			_ = conn.Close()
			return nil
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer s.parses.Release(1)
			s.serveConn(ctx, conn)
		}()
	}
}

func (s *Server) serveConn(ctx context.Context, conn net.Conn) {
	logger := log.FromContext(ctx).WithValues("remote", conn.RemoteAddr().String())

	if s.cfg.ReadTimeout > 0 {
		_ = conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
	}
	req, err := s.parser.Parse(conn, conn)
	if err != nil {
		if errors.Is(err, request.ErrMalformedRequest) {
			metrics.RecordMalformedRequest()
			logger.V(logutil.DEBUG).Info("Discarding malformed request", "error", err.Error())
		} else {
			logger.V(logutil.DEBUG).Info("Failed to read request", "error", err.Error())
		}
		_ = conn.Close()
		return
	}
	_ = conn.SetReadDeadline(time.Time{})

	logger = logger.WithValues("requestID", req.ID())
	if err := s.queue.Enqueue(req); err != nil {
		outcome := types.QueueOutcomeRejectedCapacity
		if errors.Is(err, types.ErrQueueClosed) {
			outcome = types.QueueOutcomeRejectedClosed
		}
		logger.V(logutil.VERBOSE).Info("Request rejected", "outcome", outcome, "error", err.Error())
		s.releaser.Release(ctx, outcome, req)
		return
	}
	metrics.RecordRequestEnqueued(req.Kind(), req.Authenticated())
	logger.V(logutil.TRACE).Info("Request enqueued", "kind", req.Kind(), "authenticated", req.Authenticated(),
		"sequence", req.Sequence())
}

func nextBackoff(current time.Duration) time.Duration {
	if current == 0 {
		return minAcceptBackoff
	}
	return min(current*2, maxAcceptBackoff)
}
