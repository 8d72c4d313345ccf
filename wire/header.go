// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package wire

import (
	"fmt"
	"strconv"
	"strings"
)

// MaxLineBytes bounds one request, status, header or chunk-size line.
const MaxLineBytes = 8 << 10

// MaxHeaderBytes bounds a whole header block.
const MaxHeaderBytes = 64 << 10

// Field is one header line.
type Field struct {
	Name  string
	Value string
}

// Header is an ordered list of fields. Lookups ignore case.
type Header []Field

// Get returns the value of the first field named name, or "".
func (h Header) Get(name string) string {
	for _, f := range h {
		if strings.EqualFold(f.Name, name) {
			return f.Value
		}
	}
	return ""
}

// Has reports whether a field named name is present.
func (h Header) Has(name string) bool {
	for _, f := range h {
		if strings.EqualFold(f.Name, name) {
			return true
		}
	}
	return false
}

// Add appends a field.
func (h *Header) Add(name, value string) {
	*h = append(*h, Field{Name: name, Value: value})
}

// ContentLength returns the declared Content-Length, or -1 when absent.
func (h Header) ContentLength() (int64, error) {
	v := h.Get("Content-Length")
	if v == "" {
		return -1, nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%w: content-length %q", ErrMalformedHeader, v)
	}
	return n, nil
}

// Chunked reports whether chunked is the final transfer coding.
func (h Header) Chunked() bool {
	v := h.Get("Transfer-Encoding")
	if v == "" {
		return false
	}
	codings := strings.Split(v, ",")
	return strings.EqualFold(strings.TrimSpace(codings[len(codings)-1]), "chunked")
}

func (h Header) appendTo(b []byte) []byte {
	for _, f := range h {
		b = append(b, f.Name...)
		b = append(b, ": "...)
		b = append(b, f.Value...)
		b = append(b, "\r\n"...)
	}
	return b
}

// ParseField splits a "Name: value" line. Surrounding spaces are
// trimmed from both parts.
func ParseField(line string) (Field, error) {
	name, value, ok := strings.Cut(line, ":")
	name = strings.TrimSpace(name)
	if !ok || name == "" || strings.ContainsAny(name, " \t") {
		return Field{}, fmt.Errorf("%w: %q", ErrMalformedHeader, line)
	}
	return Field{Name: name, Value: strings.TrimSpace(value)}, nil
}

// headerEnd returns the offset just past the blank line ending the
// header block, or -1. Bare LF terminators are accepted.
func headerEnd(buf []byte) int {
	for i, c := range buf {
		if c != '\n' {
			continue
		}
		j := i + 1
		if j < len(buf) && buf[j] == '\r' {
			j++
		}
		if j < len(buf) && buf[j] == '\n' {
			return j + 1
		}
	}
	return -1
}

// splitLines splits a header block into lines without terminators,
// dropping the blank line that ends it.
func splitLines(block []byte) []string {
	lines := strings.Split(string(block), "\n")
	out := lines[:0]
	for _, l := range lines {
		l = strings.TrimSuffix(l, "\r")
		if l == "" {
			break
		}
		out = append(out, l)
	}
	return out
}

// LineBuilder assembles a line from bytes received one at a time.
// Carriage returns are dropped and a line ends at LF.
type LineBuilder struct {
	buf []byte
}

// Feed adds c. Once c is LF it returns the line and resets.
func (l *LineBuilder) Feed(c byte) (line string, done bool, err error) {
	switch c {
	case '\r':
		return "", false, nil
	case '\n':
		line = string(l.buf)
		l.buf = l.buf[:0]
		return line, true, nil
	}
	if len(l.buf) >= MaxLineBytes {
		return "", false, ErrLineTooLong
	}
	l.buf = append(l.buf, c)
	return "", false, nil
}

// Len returns the number of bytes buffered for the current line.
func (l *LineBuilder) Len() int { return len(l.buf) }
