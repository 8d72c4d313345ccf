// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package relay

import "errors"

var (
	// ErrPeerClosed reports an orderly shutdown by the client or the
	// upstream. It ends a session without an error response.
	ErrPeerClosed = errors.New("relay: peer closed")

	// ErrInvalidPayload reports a request body that is not the
	// expected JSON object.
	ErrInvalidPayload = errors.New("relay: invalid payload")

	// ErrMissingField reports a required payload field that is absent
	// or empty.
	ErrMissingField = errors.New("relay: missing field")

	// ErrNoAPIKey reports that no upstream API key is configured.
	ErrNoAPIKey = errors.New("relay: no upstream api key")
)
