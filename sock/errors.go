// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package sock

import (
	"errors"
	"net"
	"os"

	"code.hybscloud.com/iox"
)

var (
	// ErrClosed is returned by operations on a closed or released channel.
	ErrClosed = errors.New("sock: channel closed")

	// ErrNotConnected is returned by Send and Receive before a
	// connection exists, including before a TLS handshake completes.
	ErrNotConnected = errors.New("sock: not connected")

	// ErrHandshake wraps a failed TLS handshake. The channel is closed
	// and must be abandoned.
	ErrHandshake = errors.New("sock: tls handshake failed")

	// ErrWriteTimeout wraps a TLS write that outlived its timeout. The
	// session is unusable afterwards.
	ErrWriteTimeout = errors.New("sock: tls write timed out")

	// ErrUnsupported is returned for operations the transport lacks,
	// such as Listen on UDP.
	ErrUnsupported = errors.New("sock: unsupported on this transport")
)

// classify maps an I/O error onto the channel contract: readiness
// conditions become iox.ErrWouldBlock, closed descriptors ErrClosed.
func classify(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, os.ErrDeadlineExceeded):
		return iox.ErrWouldBlock
	case platform.wouldBlock(err):
		return iox.ErrWouldBlock
	case errors.Is(err, net.ErrClosed):
		return ErrClosed
	}
	return err
}
