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

// Package admin serves the operator-facing HTTP endpoints of prioserve: liveness, readiness, Prometheus metrics and
// read-only debug views of the queue and the journal.
package admin

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-logr/logr"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sugawarayuuta/sonnet"
	"sigs.k8s.io/controller-runtime/pkg/log"

	logutil "github.com/prioserve/prioserve/pkg/common/observability/logging"
	"github.com/prioserve/prioserve/pkg/common/observability/profiling"
	"github.com/prioserve/prioserve/pkg/prioserve/journal"
	"github.com/prioserve/prioserve/pkg/prioserve/types"
)

const (
	defaultJournalLimit = 50
	maxJournalLimit     = 1000
	shutdownTimeout     = 5 * time.Second
)

// QueueSource is the read-only view of the queue the admin endpoints need.
type QueueSource interface {
	Snapshot() []*types.Request
	Len() int
	Capacity() int
	IsClosed() bool
}

// JournalReader reads recent journal entries.
type JournalReader interface {
	Recent(ctx context.Context, limit int) ([]journal.Entry, error)
}

// QueueReport is the body of /debug/queue.
type QueueReport struct {
	Length   int                 `json:"length"`
	Capacity int                 `json:"capacity"`
	Closed   bool                `json:"closed"`
	Pending  []types.RequestView `json:"pending"`
}

// JournalEntry is one finished request as shown by /debug/journal.
type JournalEntry struct {
	RequestID     string    `json:"requestId"`
	Kind          string    `json:"kind"`
	Method        string    `json:"method"`
	Path          string    `json:"path"`
	Authenticated bool      `json:"authenticated"`
	Outcome       string    `json:"outcome"`
	Success       bool      `json:"success"`
	ReceivedAt    time.Time `json:"receivedAt"`
	CompletedAt   time.Time `json:"completedAt"`
	QueueWaitMs   float64   `json:"queueWaitMs"`
}

// Server is the admin HTTP server.
type Server struct {
	queue    QueueSource
	journal  JournalReader
	gatherer prometheus.Gatherer
	engine   *gin.Engine
}

// New creates the admin server. journal may be nil when journaling is disabled.
func New(queue QueueSource, journal JournalReader, gatherer prometheus.Gatherer, logger logr.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)
	s := &Server{
		queue:    queue,
		journal:  journal,
		gatherer: gatherer,
		engine:   gin.New(),
	}
	s.engine.Use(gin.Recovery(), requestLogger(logger))

	s.engine.GET("/healthz", s.healthz)
	s.engine.GET("/readyz", s.readyz)
	s.engine.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	s.engine.GET("/debug/queue", s.debugQueue)
	s.engine.GET("/debug/journal", s.debugJournal)
	return s
}

// EnableProfiling adds the /debug/pprof endpoints. Call it before Run.
func (s *Server) EnableProfiling() {
	profiling.SetupPprofHandlers(s.engine)
}

// Handler returns the HTTP handler of the admin endpoints.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Run serves on addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	logger := log.FromContext(ctx).WithName("admin")
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Admin server starting", "address", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	logger.Info("Admin server stopped")
	return <-errCh
}

func (s *Server) healthz(c *gin.Context) {
	c.String(http.StatusOK, "ok")
}

func (s *Server) readyz(c *gin.Context) {
	if s.queue.IsClosed() {
		c.String(http.StatusServiceUnavailable, "queue closed")
		return
	}
	c.String(http.StatusOK, "ok")
}

func (s *Server) debugQueue(c *gin.Context) {
	snapshot := s.queue.Snapshot()
	report := QueueReport{
		Length:   len(snapshot),
		Capacity: s.queue.Capacity(),
		Closed:   s.queue.IsClosed(),
		Pending:  make([]types.RequestView, 0, len(snapshot)),
	}
	for i, r := range snapshot {
		report.Pending = append(report.Pending, r.View(i))
	}
	s.writeJSON(c, http.StatusOK, report)
}

func (s *Server) debugJournal(c *gin.Context) {
	if s.journal == nil {
		s.writeJSON(c, http.StatusNotFound, gin.H{"error": "journal disabled"})
		return
	}
	limit := defaultJournalLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > maxJournalLimit {
			s.writeJSON(c, http.StatusBadRequest, gin.H{"error": "limit must be an integer in [1, " + strconv.Itoa(maxJournalLimit) + "]"})
			return
		}
		limit = n
	}

	entries, err := s.journal.Recent(c.Request.Context(), limit)
	if err != nil {
		log.FromContext(c.Request.Context()).Error(err, "Failed to read journal")
		s.writeJSON(c, http.StatusInternalServerError, gin.H{"error": "failed to read journal"})
		return
	}
	out := make([]JournalEntry, 0, len(entries))
	for _, e := range entries {
		out = append(out, JournalEntry{
			RequestID:     e.RequestID,
			Kind:          e.Kind.String(),
			Method:        e.Method,
			Path:          e.Path,
			Authenticated: e.Authenticated,
			Outcome:       e.Outcome.String(),
			Success:       e.Success,
			ReceivedAt:    e.ReceivedAt,
			CompletedAt:   e.CompletedAt,
			QueueWaitMs:   float64(e.QueueWait) / float64(time.Millisecond),
		})
	}
	s.writeJSON(c, http.StatusOK, out)
}

func (s *Server) writeJSON(c *gin.Context, code int, v any) {
	body, err := sonnet.Marshal(v)
	if err != nil {
		c.AbortWithStatus(http.StatusInternalServerError)
		return
	}
	c.Data(code, "application/json; charset=utf-8", body)
}

// requestLogger logs each admin request at trace verbosity.
func requestLogger(logger logr.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.V(logutil.TRACE).Info("Admin request served",
			"method", c.Request.Method, "path", c.Request.URL.Path, "status", c.Writer.Status(), "latency", time.Since(start))
	}
}
