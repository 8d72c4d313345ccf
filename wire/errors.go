// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package wire

import (
	"errors"
	"fmt"
)

var (
	// ErrMalformedRequest reports a request line or header line that
	// cannot be parsed.
	ErrMalformedRequest = errors.New("wire: malformed request")

	// ErrUnsupportedMethod reports a method outside the whitelist.
	ErrUnsupportedMethod = errors.New("wire: unsupported method")

	// ErrEmptyBody reports a request without a body.
	ErrEmptyBody = errors.New("wire: empty body")

	// ErrContentType reports a Content-Type other than application/json.
	ErrContentType = errors.New("wire: unsupported content type")

	// ErrMalformedStatus reports an upstream status line without an
	// HTTP/ version and a three-digit code.
	ErrMalformedStatus = errors.New("wire: malformed status line")

	// ErrMalformedHeader reports a header block that cannot be framed,
	// such as an invalid Content-Length.
	ErrMalformedHeader = errors.New("wire: malformed header")

	// ErrMalformedChunk reports a bad chunk size line, missing data or
	// a missing CRLF after the chunk data.
	ErrMalformedChunk = errors.New("wire: malformed chunk")

	// ErrLineTooLong reports a header or chunk line over MaxLineBytes.
	ErrLineTooLong = errors.New("wire: line too long")

	// ErrTooLarge reports a request, header block or body over its limit.
	ErrTooLarge = errors.New("wire: message too large")
)

// StatusError is a non-2xx upstream status.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("wire: upstream status %d %s", e.Code, e.Message)
}
