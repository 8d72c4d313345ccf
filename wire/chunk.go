// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package wire

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// maxSizeDigits keeps a chunk size within int64.
const maxSizeDigits = 15

// ParseChunkSize parses a chunk-size line without its terminator.
// Chunk extensions after ';' are ignored.
func ParseChunkSize(line string) (int64, error) {
	if i := strings.IndexByte(line, ';'); i >= 0 {
		line = line[:i]
	}
	line = strings.TrimSpace(line)
	if line == "" || len(line) > maxSizeDigits {
		return 0, fmt.Errorf("%w: size %q", ErrMalformedChunk, line)
	}
	var n int64
	for i := 0; i < len(line); i++ {
		c := line[i]
		switch {
		case c >= '0' && c <= '9':
			c -= '0'
		case c >= 'a' && c <= 'f':
			c -= 'a' - 10
		case c >= 'A' && c <= 'F':
			c -= 'A' - 10
		default:
			return 0, fmt.Errorf("%w: size %q", ErrMalformedChunk, line)
		}
		n = n<<4 | int64(c)
	}
	return n, nil
}

// AppendChunk appends data as one chunk. Empty data appends nothing,
// since a zero-size chunk ends the stream.
func AppendChunk(b, data []byte) []byte {
	if len(data) == 0 {
		return b
	}
	b = strconv.AppendInt(b, int64(len(data)), 16)
	b = append(b, "\r\n"...)
	b = append(b, data...)
	return append(b, "\r\n"...)
}

// AppendLastChunk appends the zero-size chunk and the empty trailer.
func AppendLastChunk(b []byte) []byte {
	return append(b, "0\r\n\r\n"...)
}

// EncodeChunked encodes data as chunks of at most size bytes followed
// by the last chunk.
func EncodeChunked(data []byte, size int) []byte {
	if size <= 0 {
		size = len(data)
	}
	b := make([]byte, 0, len(data)+len(data)/max(size, 1)*12+16)
	for len(data) > 0 {
		n := min(size, len(data))
		b = AppendChunk(b, data[:n])
		data = data[n:]
	}
	return AppendLastChunk(b)
}

// ChunkDecoder reads a chunked body from a blocking reader.
type ChunkDecoder struct {
	r    *bufio.Reader
	done bool
}

// NewChunkDecoder returns a decoder reading from r.
func NewChunkDecoder(r io.Reader) *ChunkDecoder {
	br, ok := r.(*bufio.Reader)
	if !ok {
		br = bufio.NewReader(r)
	}
	return &ChunkDecoder{r: br}
}

// Next returns the data of the next chunk. It returns io.EOF after the
// last chunk and its trailer have been consumed.
func (d *ChunkDecoder) Next() ([]byte, error) {
	if d.done {
		return nil, io.EOF
	}
	line, err := d.line()
	if err != nil {
		return nil, err
	}
	n, err := ParseChunkSize(line)
	if err != nil {
		return nil, err
	}
	if n == 0 {
		for {
			line, err := d.line()
			if err != nil {
				return nil, err
			}
			if line == "" {
				d.done = true
				return nil, io.EOF
			}
		}
	}
	data := make([]byte, n)
	if _, err := io.ReadFull(d.r, data); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedChunk, err)
	}
	if line, err := d.line(); err != nil {
		return nil, err
	} else if line != "" {
		return nil, fmt.Errorf("%w: %d bytes past declared size", ErrMalformedChunk, len(line))
	}
	return data, nil
}

// line reads one line and strips CRLF or LF.
func (d *ChunkDecoder) line() (string, error) {
	p, err := d.r.ReadSlice('\n')
	switch {
	case errors.Is(err, bufio.ErrBufferFull) || len(p) > MaxLineBytes:
		return "", ErrLineTooLong
	case errors.Is(err, io.EOF):
		return "", fmt.Errorf("%w: %w", ErrMalformedChunk, io.ErrUnexpectedEOF)
	case err != nil:
		return "", err
	}
	return string(bytes.TrimSuffix(bytes.TrimSuffix(p, []byte("\n")), []byte("\r"))), nil
}

// DecodeChunked decodes a complete chunked body.
func DecodeChunked(p []byte) ([]byte, error) {
	d := NewChunkDecoder(bytes.NewReader(p))
	var out []byte
	for {
		data, err := d.Next()
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return out, err
		}
		out = append(out, data...)
	}
}
