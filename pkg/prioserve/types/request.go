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

package types

import (
	"fmt"
	"maps"
	"net"
	"time"

	"github.com/google/uuid"
)

// Kind classifies a request by the resource it targets. It is a closed set: adding a resource means adding a variant
// here and a rank for it in every ordering policy table.
type Kind int

const (
	// KindNotFound is any path that does not name a known resource.
	KindNotFound Kind = iota
	// KindIndex is the queue status page ("/").
	KindIndex
	// KindShopping is the shopping page ("/shopping").
	KindShopping
)

// KnownKinds lists every recognized kind in declaration order.
var KnownKinds = []Kind{KindNotFound, KindIndex, KindShopping}

var kindNames = map[Kind]string{
	KindNotFound: "not-found",
	KindIndex:    "index",
	KindShopping: "shopping",
}

// String returns the stable, lower-case name of the kind. Unrecognized kinds render as "unknown(N)".
func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("unknown(%d)", int(k))
}

// IsKnown reports whether k is one of the declared variants.
func (k Kind) IsKnown() bool {
	_, ok := kindNames[k]
	return ok
}

// ParseKind maps a kind name (as produced by String) back to its Kind.
func ParseKind(name string) (Kind, error) {
	for k, n := range kindNames {
		if n == name {
			return k, nil
		}
	}
	return 0, fmt.Errorf("unknown request kind %q", name)
}

// KindForPath classifies a request path.
func KindForPath(path string) Kind {
	switch path {
	case "/":
		return KindIndex
	case "/shopping":
		return KindShopping
	default:
		return KindNotFound
	}
}

// RequestParams carries the values used to construct a `Request`.
type RequestParams struct {
	Kind          Kind
	Authenticated bool
	// ReceivedAt is the time the request was parsed. Values taken from `time.Now()` keep their monotonic reading, which
	// is what ordering comparisons use.
	ReceivedAt time.Time
	// Sequence is a strictly increasing stamp assigned by the parser. It breaks ties between requests whose
	// `ReceivedAt` collide.
	Sequence uint64
	Method   string
	Path     string
	Headers  map[string]string
	// Conn is the client connection the response is written to. It may be nil for requests that never need a response
	// (e.g., in tests).
	Conn net.Conn
}

// Request is one parsed inbound request. It is immutable after construction; accessors never expose internal state
// that could be mutated by a caller.
type Request struct {
	id            string
	kind          Kind
	authenticated bool
	receivedAt    time.Time
	sequence      uint64
	method        string
	path          string
	headers       map[string]string
	conn          net.Conn
}

// NewRequest builds a `Request` from p. The header map is copied.
func NewRequest(p RequestParams) *Request {
	headers := make(map[string]string, len(p.Headers))
	maps.Copy(headers, p.Headers)
	return &Request{
		id:            uuid.NewString(),
		kind:          p.Kind,
		authenticated: p.Authenticated,
		receivedAt:    p.ReceivedAt,
		sequence:      p.Sequence,
		method:        p.Method,
		path:          p.Path,
		headers:       headers,
		conn:          p.Conn,
	}
}

// ID returns a unique identifier used only for log correlation.
func (r *Request) ID() string { return r.id }

// Kind returns the resource category of the request.
func (r *Request) Kind() Kind { return r.kind }

// Authenticated reports whether the request carried a recognized authorization token.
func (r *Request) Authenticated() bool { return r.authenticated }

// ReceivedAt returns the time the request was parsed.
func (r *Request) ReceivedAt() time.Time { return r.receivedAt }

// Sequence returns the parser-assigned arrival stamp.
func (r *Request) Sequence() uint64 { return r.sequence }

// Method returns the method token of the request line.
func (r *Request) Method() string { return r.method }

// Path returns the path token of the request line.
func (r *Request) Path() string { return r.path }

// Header returns the value of the named header and whether it was present. Names are matched exactly.
func (r *Request) Header(name string) (string, bool) {
	v, ok := r.headers[name]
	return v, ok
}

// Headers returns a copy of all headers.
func (r *Request) Headers() map[string]string {
	return maps.Clone(r.headers)
}

// Conn returns the client connection, or nil.
func (r *Request) Conn() net.Conn { return r.conn }

// View returns the reporting projection of the request at the given queue position.
func (r *Request) View(position int) RequestView {
	return RequestView{Position: position, Method: r.method, Path: r.path}
}

// String implements fmt.Stringer for log output.
func (r *Request) String() string {
	return fmt.Sprintf("%s %s (kind=%s, auth=%t, seq=%d)", r.method, r.path, r.kind, r.authenticated, r.sequence)
}

// RequestView is the read-only projection of a queued request shown by status pages. It deliberately omits every
// field that is not safe or not meaningful to expose (headers, heap positions, connection).
type RequestView struct {
	// Position is the 0-based rank of the request in dispatch order.
	Position int    `json:"position"`
	Method   string `json:"method"`
	Path     string `json:"path"`
}
