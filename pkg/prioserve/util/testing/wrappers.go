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

// Package testing holds builders shared by prioserve tests.
package testing

import (
	"net"
	"time"

	"github.com/prioserve/prioserve/pkg/prioserve/types"
)

// Epoch is a fixed base time for deterministic request timestamps.
var Epoch = time.Date(2025, time.January, 1, 0, 0, 0, 0, time.UTC)

// RequestWrapper builds a types.Request.
type RequestWrapper struct {
	params types.RequestParams
}

// MakeRequest creates a wrapper for a GET request of the given kind, with a path that classifies back to that kind.
func MakeRequest(kind types.Kind) *RequestWrapper {
	path := "/missing"
	switch kind {
	case types.KindIndex:
		path = "/"
	case types.KindShopping:
		path = "/shopping"
	}
	return &RequestWrapper{
		params: types.RequestParams{
			Kind:       kind,
			ReceivedAt: Epoch,
			Method:     "GET",
			Path:       path,
			Headers:    map[string]string{},
		},
	}
}

// Authenticated marks the request as carrying a recognized token.
func (w *RequestWrapper) Authenticated() *RequestWrapper {
	w.params.Authenticated = true
	w.params.Headers["Authorization"] = "Bearer test-token"
	return w
}

// At sets the receive time to Epoch plus offset.
func (w *RequestWrapper) At(offset time.Duration) *RequestWrapper {
	w.params.ReceivedAt = Epoch.Add(offset)
	return w
}

// Seq sets the sequence stamp.
func (w *RequestWrapper) Seq(seq uint64) *RequestWrapper {
	w.params.Sequence = seq
	return w
}

// Method sets the method token.
func (w *RequestWrapper) Method(method string) *RequestWrapper {
	w.params.Method = method
	return w
}

// Path sets the path token without reclassifying the request.
func (w *RequestWrapper) Path(path string) *RequestWrapper {
	w.params.Path = path
	return w
}

// Conn attaches a client connection.
func (w *RequestWrapper) Conn(conn net.Conn) *RequestWrapper {
	w.params.Conn = conn
	return w
}

// Obj returns the built request.
func (w *RequestWrapper) Obj() *types.Request {
	return types.NewRequest(w.params)
}
