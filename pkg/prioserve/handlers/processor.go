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

// Package handlers produces the response for each dequeued request and writes it to the client connection.
//
// Dispatch is by `types.Kind`. The index page lists the pending requests of the queue it was constructed with, so the
// queue is injected rather than shared through package state.
package handlers

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"html/template"
	"net"
	"strconv"
	"time"

	"sigs.k8s.io/controller-runtime/pkg/log"

	logutil "github.com/prioserve/prioserve/pkg/common/observability/logging"
	"github.com/prioserve/prioserve/pkg/prioserve/types"
)

// SnapshotSource returns the pending requests in descending priority order.
type SnapshotSource interface {
	Snapshot() []*types.Request
}

var (
	indexPage = template.Must(template.New("index").Parse(
		`<html><body><h1>Request Queue</h1>` +
			`{{if .}}<ul>{{range .}}<li>{{.Method}} {{.Path}}</li>{{end}}</ul>` +
			`{{else}}<p>Request Queue is empty!</p>{{end}}</body></html>`))

	shoppingPage = []byte(`<html><body><h1>Shopping!</h1></body></html>`)
	notFoundPage = []byte(`<html><body><h1>idk what you're looking for!</h1></body></html>`)
	unavailPage  = []byte(`<html><body><h1>Service Unavailable</h1></body></html>`)
)

// ErrNoConnection is returned when a request has no client connection to answer on.
var ErrNoConnection = errors.New("request has no client connection")

// Processor renders and writes responses. It is safe for concurrent use by multiple workers.
type Processor struct {
	queue        SnapshotSource
	writeTimeout time.Duration
}

// NewProcessor creates a Processor whose index page reflects queue. A zero writeTimeout disables write deadlines.
func NewProcessor(queue SnapshotSource, writeTimeout time.Duration) *Processor {
	return &Processor{queue: queue, writeTimeout: writeTimeout}
}

// Process renders the page for req, writes it to the request's connection and closes the connection.
func (p *Processor) Process(ctx context.Context, req *types.Request) error {
	logger := log.FromContext(ctx).WithValues("requestID", req.ID(), "kind", req.Kind())

	body, err := p.Render(req)
	if err != nil {
		if conn := req.Conn(); conn != nil {
			_ = conn.Close()
		}
		return fmt.Errorf("rendering %s: %w", req, err)
	}
	if err := writeResponse(req.Conn(), "200 OK", body, p.writeTimeout); err != nil {
		return fmt.Errorf("responding to %s: %w", req, err)
	}
	logger.V(logutil.DEBUG).Info("Request processed", "method", req.Method(), "path", req.Path())
	return nil
}

// Reject answers req with 503 Service Unavailable and closes its connection.
func (p *Processor) Reject(req *types.Request) error {
	return WriteUnavailable(req.Conn(), p.writeTimeout)
}

// Render returns the HTML body for req.
func (p *Processor) Render(req *types.Request) ([]byte, error) {
	switch req.Kind() {
	case types.KindIndex:
		return p.renderIndex()
	case types.KindShopping:
		return shoppingPage, nil
	default:
		return notFoundPage, nil
	}
}

func (p *Processor) renderIndex() ([]byte, error) {
	var views []types.RequestView
	if p.queue != nil {
		snapshot := p.queue.Snapshot()
		views = make([]types.RequestView, 0, len(snapshot))
		for i, r := range snapshot {
			views = append(views, r.View(i))
		}
	}
	var buf bytes.Buffer
	if err := indexPage.Execute(&buf, views); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// WriteUnavailable answers conn with 503 Service Unavailable and closes it. It is used for requests the queue refuses
// and for requests still pending at shutdown.
func WriteUnavailable(conn net.Conn, writeTimeout time.Duration) error {
	return writeResponse(conn, "503 Service Unavailable", unavailPage, writeTimeout)
}

// writeResponse writes a complete response and always closes conn.
func writeResponse(conn net.Conn, status string, body []byte, writeTimeout time.Duration) error {
	if conn == nil {
		return ErrNoConnection
	}
	defer conn.Close()

	if writeTimeout > 0 {
		if err := conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
			return err
		}
	}

	var buf bytes.Buffer
	buf.Grow(len(body) + 128)
	buf.WriteString("HTTP/1.1 " + status + "\r\n")
	buf.WriteString("Content-Type: text/html\r\n")
	buf.WriteString("Content-Length: " + strconv.Itoa(len(body)) + "\r\n")
	buf.WriteString("Connection: close\r\n")
	buf.WriteString("\r\n")
	buf.Write(body)

	_, err := conn.Write(buf.Bytes())
	return err
}
