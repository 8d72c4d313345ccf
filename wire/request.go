// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package wire

import (
	"fmt"
	"mime"
	"slices"
	"strconv"
	"strings"
)

var methods = []string{"GET", "POST", "PUT", "DELETE", "PATCH", "OPTIONS", "HEAD"}

// Request is a parsed client request.
type Request struct {
	Method string
	Target string
	Proto  string
	Header Header
	Body   []byte
}

// RequestComplete reports whether buf holds a whole request: a header
// block and, when Content-Length is declared, that many body bytes.
// Without Content-Length the request is complete at the end of the
// header block and the body is whatever arrived with it.
func RequestComplete(buf []byte) (bool, error) {
	_, ok, err := RequestLength(buf)
	return ok, err
}

// RequestLength is RequestComplete that also returns how many bytes of
// buf the request spans. Bytes past n belong to the next request.
func RequestLength(buf []byte) (n int, ok bool, err error) {
	end := headerEnd(buf)
	if end < 0 {
		if len(buf) > MaxHeaderBytes {
			return 0, false, ErrTooLarge
		}
		return 0, false, nil
	}
	var h Header
	for i, line := range splitLines(buf[:end]) {
		if f, err := ParseField(line); i > 0 && err == nil {
			h = append(h, f)
		}
	}
	cl, err := h.ContentLength()
	switch {
	case err != nil:
		return 0, false, err
	case cl < 0:
		return len(buf), true, nil
	case int64(len(buf)-end) < cl:
		return 0, false, nil
	}
	return end + int(cl), true, nil
}

// ParseRequest parses a complete request held in buf.
//
// The request line must carry a whitelisted method, a target and a
// protocol. Header lines run until a blank line and the rest is the
// body, cut to Content-Length when declared. A Content-Type, if
// present, must be application/json, and the body must not be empty.
func ParseRequest(buf []byte) (*Request, error) {
	end := headerEnd(buf)
	if end < 0 {
		return nil, fmt.Errorf("%w: unterminated header block", ErrMalformedRequest)
	}
	lines := splitLines(buf[:end])
	if len(lines) == 0 {
		return nil, fmt.Errorf("%w: missing request line", ErrMalformedRequest)
	}
	parts := strings.Fields(lines[0])
	if len(parts) != 3 || !strings.HasPrefix(parts[2], "HTTP/") {
		return nil, fmt.Errorf("%w: request line %q", ErrMalformedRequest, lines[0])
	}
	if !slices.Contains(methods, parts[0]) {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedMethod, parts[0])
	}
	r := &Request{Method: parts[0], Target: parts[1], Proto: parts[2]}
	for _, line := range lines[1:] {
		f, err := ParseField(line)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrMalformedRequest, err)
		}
		r.Header = append(r.Header, f)
	}
	if ct := r.Header.Get("Content-Type"); ct != "" {
		mt, _, err := mime.ParseMediaType(ct)
		if err != nil || mt != "application/json" {
			return nil, fmt.Errorf("%w: %q", ErrContentType, ct)
		}
	}
	body := buf[end:]
	n, err := r.Header.ContentLength()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedRequest, err)
	}
	if n >= 0 {
		if int64(len(body)) < n {
			return nil, fmt.Errorf("%w: body has %d of %d bytes", ErrMalformedRequest, len(body), n)
		}
		body = body[:n]
	}
	if len(body) == 0 {
		return nil, ErrEmptyBody
	}
	r.Body = body
	return r, nil
}

// AppendRequest appends r to b in origin form. Host and Content-Length
// are written from host and len(r.Body); fields of the same name in
// r.Header are skipped.
func AppendRequest(b []byte, host string, r *Request) []byte {
	proto := r.Proto
	if proto == "" {
		proto = "HTTP/1.1"
	}
	b = append(b, r.Method...)
	b = append(b, ' ')
	b = append(b, r.Target...)
	b = append(b, ' ')
	b = append(b, proto...)
	b = append(b, "\r\nHost: "...)
	b = append(b, host...)
	b = append(b, "\r\n"...)
	for _, f := range r.Header {
		if strings.EqualFold(f.Name, "Host") || strings.EqualFold(f.Name, "Content-Length") {
			continue
		}
		b = Header{f}.appendTo(b)
	}
	b = append(b, "Content-Length: "...)
	b = strconv.AppendInt(b, int64(len(r.Body)), 10)
	b = append(b, "\r\n\r\n"...)
	return append(b, r.Body...)
}
