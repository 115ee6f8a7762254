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

package server

import (
	"context"
	"io"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	logutil "github.com/prioserve/prioserve/pkg/common/observability/logging"
	"github.com/prioserve/prioserve/pkg/prioserve/handlers"
	"github.com/prioserve/prioserve/pkg/prioserve/ordering"
	"github.com/prioserve/prioserve/pkg/prioserve/queue"
	"github.com/prioserve/prioserve/pkg/prioserve/request"
	"github.com/prioserve/prioserve/pkg/prioserve/types"
	"github.com/prioserve/prioserve/pkg/prioserve/worker"
)

const testTimeout = 2 * time.Second

type harness struct {
	queue  *queue.RequestQueue
	server *Server
	addr   string
	cancel context.CancelFunc
	done   chan error
}

func startServer(t *testing.T, capacity int) *harness {
	t.Helper()
	ctx, cancel := context.WithCancel(logutil.NewTestLoggerIntoContext(context.Background()))

	q := queue.New(ordering.NewCategoryAuthFCFS(nil), queue.WithCapacity(capacity))
	pool := worker.NewPool(q, handlers.NewProcessor(q, time.Second))
	srv := New(Config{ReadTimeout: 500 * time.Millisecond}, request.NewParser(nil, nil), q, pool)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	h := &harness{queue: q, server: srv, addr: ln.Addr().String(), cancel: cancel, done: make(chan error, 1)}
	go func() { h.done <- srv.Serve(ctx, ln) }()
	t.Cleanup(h.stop)
	return h
}

func (h *harness) stop() {
	h.cancel()
	<-h.done
	h.queue.Close()
	for _, r := range h.queue.Drain() {
		if c := r.Conn(); c != nil {
			_ = c.Close()
		}
	}
}

func send(t *testing.T, addr, raw string) net.Conn {
	t.Helper()
	conn, err := net.DialTimeout("tcp", addr, testTimeout)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	_, err = io.WriteString(conn, raw)
	require.NoError(t, err)
	return conn
}

func readAll(t *testing.T, conn net.Conn) string {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(testTimeout)))
	// A reset after the server closes is as good as EOF here; only the bytes matter.
	b, _ := io.ReadAll(conn)
	return string(b)
}

func TestServer_EnqueuesParsedRequests(t *testing.T) {
	t.Parallel()
	h := startServer(t, 0)

	send(t, h.addr, "GET / HTTP/1.1\r\nHost: localhost\r\n\r\n")
	send(t, h.addr, "GET /shopping HTTP/1.1\r\nAuthorization: token\r\n\r\n")

	require.Eventually(t, func() bool { return h.queue.Len() == 2 }, testTimeout, 5*time.Millisecond)
	snapshot := h.queue.Snapshot()
	assert.Equal(t, types.KindShopping, snapshot[0].Kind())
	assert.Equal(t, types.KindIndex, snapshot[1].Kind())
	assert.NotNil(t, snapshot[0].Conn(), "the connection travels with the request")
	assert.NotNil(t, h.server.Addr())
}

func TestServer_DiscardsMalformedRequests(t *testing.T) {
	t.Parallel()
	h := startServer(t, 0)

	conn := send(t, h.addr, "GARBAGE\r\n\r\n")
	assert.Empty(t, readAll(t, conn), "malformed requests are closed without a response")
	assert.Zero(t, h.queue.Len())
}

func TestServer_ReadTimeout(t *testing.T) {
	t.Parallel()
	h := startServer(t, 0)

	conn := send(t, h.addr, "GET / HTTP/1.1\r\n")
	assert.Empty(t, readAll(t, conn), "stalled clients are disconnected")
	assert.Zero(t, h.queue.Len())
}

func TestServer_RejectsAtCapacity(t *testing.T) {
	t.Parallel()
	h := startServer(t, 1)

	send(t, h.addr, "GET / HTTP/1.1\r\n\r\n")
	require.Eventually(t, func() bool { return h.queue.Len() == 1 }, testTimeout, 5*time.Millisecond)

	rejected := send(t, h.addr, "GET /shopping HTTP/1.1\r\n\r\n")
	got := readAll(t, rejected)
	assert.True(t, strings.HasPrefix(got, "HTTP/1.1 503 Service Unavailable"), "got %q", got)
	assert.Equal(t, 1, h.queue.Len())
}

func TestServer_RejectsAfterQueueClosed(t *testing.T) {
	t.Parallel()
	h := startServer(t, 0)
	h.queue.Close()

	got := readAll(t, send(t, h.addr, "GET / HTTP/1.1\r\n\r\n"))
	assert.True(t, strings.HasPrefix(got, "HTTP/1.1 503 Service Unavailable"), "got %q", got)
}

func TestServer_StopsOnCancel(t *testing.T) {
	t.Parallel()
	h := startServer(t, 0)
	h.cancel()

	select {
	case err := <-h.done:
		assert.NoError(t, err)
		h.done <- err
	case <-time.After(testTimeout):
		t.Fatal("Serve did not return after cancellation")
	}

	_, err := net.DialTimeout("tcp", h.addr, 100*time.Millisecond)
	assert.Error(t, err, "listener must be closed")
}

func TestServer_ListenAndServeInvalidAddress(t *testing.T) {
	t.Parallel()
	srv := New(Config{Address: "256.0.0.1:-1"}, request.NewParser(nil, nil), queue.New(ordering.NewCategoryAuthFCFS(nil)), nil)
	assert.Error(t, srv.ListenAndServe(context.Background()))
}

func TestNextBackoff(t *testing.T) {
	t.Parallel()
	assert.Equal(t, minAcceptBackoff, nextBackoff(0))
	assert.Equal(t, 2*minAcceptBackoff, nextBackoff(minAcceptBackoff))
	assert.Equal(t, maxAcceptBackoff, nextBackoff(maxAcceptBackoff))
}
