// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package wire

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
)

// Status is a parsed status line.
type Status struct {
	Proto  string
	Code   int
	Reason string
}

// OK reports a 2xx code.
func (s Status) OK() bool { return s.Code >= 200 && s.Code < 300 }

// ParseStatusLine parses "HTTP/1.1 200 OK". The reason may be empty.
func ParseStatusLine(line string) (Status, error) {
	proto, rest, ok := strings.Cut(line, " ")
	if !ok || !strings.HasPrefix(proto, "HTTP/") {
		return Status{}, fmt.Errorf("%w: %q", ErrMalformedStatus, line)
	}
	code, reason, _ := strings.Cut(strings.TrimLeft(rest, " "), " ")
	n, err := strconv.Atoi(code)
	if err != nil || len(code) != 3 || n < 100 {
		return Status{}, fmt.Errorf("%w: %q", ErrMalformedStatus, line)
	}
	return Status{Proto: proto, Code: n, Reason: strings.TrimSpace(reason)}, nil
}

// ResponseHead accumulates an upstream status line and header block
// fed one line at a time.
type ResponseHead struct {
	Status Status
	Header Header

	// Chunked is set by a Transfer-Encoding ending in chunked.
	Chunked bool

	// ContentLength is -1 when undeclared.
	ContentLength int64

	lines int
	size  int
}

// AddLine feeds one line without its terminator. It reports done after
// the blank line that ends the block. A non-2xx status line fails
// immediately with a [*StatusError].
func (h *ResponseHead) AddLine(line string) (done bool, err error) {
	h.size += len(line)
	if h.size > MaxHeaderBytes {
		return false, ErrTooLarge
	}
	if h.lines++; h.lines == 1 {
		st, err := ParseStatusLine(line)
		if err != nil {
			return false, err
		}
		h.Status = st
		h.ContentLength = -1
		if !st.OK() {
			return false, &StatusError{Code: st.Code, Message: st.Reason}
		}
		return false, nil
	}
	if line == "" {
		return true, nil
	}
	f, err := ParseField(line)
	if err != nil {
		// Tolerated: the relay only needs framing fields.
		return false, nil
	}
	h.Header = append(h.Header, f)
	switch {
	case strings.EqualFold(f.Name, "Transfer-Encoding"):
		h.Chunked = h.Header.Chunked()
	case strings.EqualFold(f.Name, "Content-Length"):
		cl, err := Header{f}.ContentLength()
		if err != nil {
			return false, err
		}
		h.ContentLength = cl
	}
	return false, nil
}

// ContentType returns the upstream Content-Type, or application/json.
func (h *ResponseHead) ContentType() string {
	if ct := h.Header.Get("Content-Type"); ct != "" {
		return ct
	}
	return "application/json"
}

// StreamHeader is sent to the client before the first relayed chunk.
func StreamHeader() []byte {
	return []byte("HTTP/1.1 200 OK\r\n" +
		"Content-Type: text/event-stream\r\n" +
		"Transfer-Encoding: chunked\r\n" +
		"Connection: keep-alive\r\n\r\n")
}

// BodyResponse returns a complete 200 response carrying body.
func BodyResponse(contentType string, body []byte) []byte {
	b := make([]byte, 0, 128+len(body))
	b = append(b, "HTTP/1.1 200 OK\r\n"...)
	b = Header{
		{Name: "Content-Type", Value: contentType},
		{Name: "Content-Length", Value: strconv.Itoa(len(body))},
		{Name: "Connection", Value: "keep-alive"},
	}.appendTo(b)
	b = append(b, "\r\n"...)
	return append(b, body...)
}

// ErrorResponse returns the plain-text response sent when an exchange
// fails. Codes outside 100..599 become 500; an empty message becomes
// the standard status text.
func ErrorResponse(code int, message string) []byte {
	if code < 100 || code > 599 {
		code = http.StatusInternalServerError
	}
	if message == "" {
		message = http.StatusText(code)
	}
	b := make([]byte, 0, 96+2*len(message))
	b = append(b, "HTTP/1.1 "...)
	b = strconv.AppendInt(b, int64(code), 10)
	b = append(b, ' ')
	b = append(b, message...)
	b = append(b, "\r\nContent-Type: text/plain\r\nConnection: close\r\n\r\nError: "...)
	b = append(b, message...)
	return append(b, "\r\n"...)
}

// ErrorFor maps err to an error response: the upstream status for a
// [*StatusError], 500 Internal Server Error otherwise.
func ErrorFor(err error) []byte {
	var se *StatusError
	if errors.As(err, &se) {
		return ErrorResponse(se.Code, se.Message)
	}
	return ErrorResponse(http.StatusInternalServerError, "")
}
