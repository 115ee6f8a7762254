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

// Package request turns the raw bytes a client sends into a classified, stamped `types.Request`.
//
// The accepted wire format is a minimal HTTP/1.1 request head:
//
//	METHOD PATH HTTP/1.1
//	Name: Value
//	...
//	<blank line or EOF>
//
// Any message body is ignored. Input that does not follow this shape is rejected with an error wrapping
// `ErrMalformedRequest` and never reaches the queue.
package request

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"sync/atomic"

	"k8s.io/utils/clock"

	"github.com/prioserve/prioserve/pkg/prioserve/types"
)

const (
	// Protocol is the only protocol token accepted on the request line.
	Protocol = "HTTP/1.1"
	// AuthorizationHeader is the header inspected to decide whether a request is authenticated.
	AuthorizationHeader = "Authorization"

	headerSeparator = ": "
	maxLineBytes    = 8 << 10
	maxHeaders      = 100
)

var (
	// ErrMalformedRequest is the base error for every input the parser refuses.
	ErrMalformedRequest = errors.New("malformed request")

	// ErrEmptyRequest indicates the client closed the connection before sending a request line.
	ErrEmptyRequest = fmt.Errorf("%w: empty request", ErrMalformedRequest)
	// ErrMalformedRequestLine indicates the request line is not exactly three non-empty space-separated tokens.
	ErrMalformedRequestLine = fmt.Errorf("%w: invalid request line", ErrMalformedRequest)
	// ErrUnsupportedProtocol indicates a protocol token other than HTTP/1.1.
	ErrUnsupportedProtocol = fmt.Errorf("%w: unsupported protocol", ErrMalformedRequest)
	// ErrMalformedHeader indicates a header line that does not split into exactly a name and a value.
	ErrMalformedHeader = fmt.Errorf("%w: invalid header line", ErrMalformedRequest)
	// ErrDuplicateHeader indicates the same header name appeared twice.
	ErrDuplicateHeader = fmt.Errorf("%w: duplicate header", ErrMalformedRequest)
)

// Authenticator decides whether an Authorization header value is recognized.
type Authenticator interface {
	Authenticate(headerValue string) bool
}

// Parser reads request heads and stamps them with a receive time and a strictly increasing sequence number. It is
// safe for concurrent use.
type Parser struct {
	clock         clock.PassiveClock
	authenticator Authenticator
	seq           atomic.Uint64
}

// NewParser creates a Parser. clk supplies receive times; authenticator may be nil, in which case no request is
// authenticated.
func NewParser(clk clock.PassiveClock, authenticator Authenticator) *Parser {
	if clk == nil {
		clk = clock.RealClock{}
	}
	return &Parser{clock: clk, authenticator: authenticator}
}

// Parse reads one request head from r and returns the classified request bound to conn.
// The receive time is taken once the request line has been read, so slow header senders do not jump ahead of
// requests that started arriving later.
func (p *Parser) Parse(r io.Reader, conn net.Conn) (*types.Request, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 1024), maxLineBytes)

	if !scanner.Scan() {
		if err := scanErr(scanner); err != nil {
			return nil, err
		}
		return nil, ErrEmptyRequest
	}
	receivedAt := p.clock.Now()

	method, path, err := parseRequestLine(scanner.Text())
	if err != nil {
		return nil, err
	}

	headers := make(map[string]string)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			break
		}
		if len(headers) == maxHeaders {
			return nil, fmt.Errorf("%w: more than %d headers", ErrMalformedHeader, maxHeaders)
		}
		name, value, err := parseHeader(line)
		if err != nil {
			return nil, err
		}
		if _, dup := headers[name]; dup {
			return nil, fmt.Errorf("%w: %q", ErrDuplicateHeader, name)
		}
		headers[name] = value
	}
	if err := scanErr(scanner); err != nil {
		return nil, err
	}

	authenticated := false
	if v, ok := headers[AuthorizationHeader]; ok && p.authenticator != nil {
		authenticated = p.authenticator.Authenticate(v)
	}

	return types.NewRequest(types.RequestParams{
		Kind:          types.KindForPath(path),
		Authenticated: authenticated,
		ReceivedAt:    receivedAt,
		Sequence:      p.seq.Add(1),
		Method:        method,
		Path:          path,
		Headers:       headers,
		Conn:          conn,
	}), nil
}

func parseRequestLine(line string) (method, path string, err error) {
	parts := strings.Split(line, " ")
	if len(parts) != 3 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("%w: %q", ErrMalformedRequestLine, line)
	}
	if parts[2] != Protocol {
		return "", "", fmt.Errorf("%w: %q", ErrUnsupportedProtocol, parts[2])
	}
	return parts[0], parts[1], nil
}

func parseHeader(line string) (name, value string, err error) {
	parts := strings.Split(line, headerSeparator)
	if len(parts) != 2 || parts[0] == "" {
		return "", "", fmt.Errorf("%w: %q", ErrMalformedHeader, line)
	}
	return parts[0], parts[1], nil
}

// scanErr maps scanner failures: over-long lines are malformed input, anything else is an I/O error.
func scanErr(s *bufio.Scanner) error {
	err := s.Err()
	if err == nil {
		return nil
	}
	if errors.Is(err, bufio.ErrTooLong) {
		return fmt.Errorf("%w: line exceeds %d bytes", ErrMalformedRequest, maxLineBytes)
	}
	return fmt.Errorf("reading request: %w", err)
}
