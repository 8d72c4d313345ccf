// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package relay

import (
	"bytes"
	"fmt"
	"time"

	"code.hybscloud.com/iox"
	"code.hybscloud.com/kont"
	"code.hybscloud.com/streamgw"
	"code.hybscloud.com/streamgw/sock"
	"code.hybscloud.com/streamgw/wire"
)

// Channel operations. Each returns a fresh effect whose Call keeps its
// progress in the closure, so a parked attempt resumes where the last
// one stopped.

// sendAll writes all of p to ch.
func sendAll(ch sock.Channel, p []byte) kont.Eff[int] {
	off := 0
	return kont.Perform(streamgw.Await[int]{Call: func() (int, error) {
		for off < len(p) {
			n, err := ch.Send(p[off:])
			off += n
			if err != nil {
				return off, err
			}
		}
		return off, nil
	}})
}

// trySend is sendAll that swallows fatal errors. Used for error
// responses to a client that may already be gone.
func trySend(ch sock.Channel, p []byte) kont.Eff[struct{}] {
	off := 0
	return kont.Perform(streamgw.Await[struct{}]{Call: func() (struct{}, error) {
		for off < len(p) {
			n, err := ch.Send(p[off:])
			off += n
			if err != nil {
				if iox.IsWouldBlock(err) {
					return struct{}{}, err
				}
				return struct{}{}, nil
			}
		}
		return struct{}{}, nil
	}})
}

// readRequest receives from the client until it holds a complete
// request. carry holds bytes received past the previous request; on
// return it holds those past this one. An empty read before any byte
// arrives is ErrPeerClosed.
func readRequest(ch sock.Channel, size, limit int, carry *[]byte) kont.Eff[[]byte] {
	var buf []byte
	fresh := true
	return kont.Perform(streamgw.Await[[]byte]{Call: func() ([]byte, error) {
		if fresh {
			buf, *carry = *carry, nil
			fresh = false
		}
		for {
			if len(buf) > 0 {
				n, ok, err := wire.RequestLength(buf)
				if err != nil {
					return nil, err
				}
				if ok {
					*carry = bytes.Clone(buf[n:])
					return buf[:n:n], nil
				}
			}
			p, err := ch.Receive(size)
			if err != nil {
				return nil, err
			}
			if len(p) == 0 {
				if len(buf) == 0 {
					return nil, ErrPeerClosed
				}
				return nil, fmt.Errorf("%w: client closed after %d bytes", wire.ErrMalformedRequest, len(buf))
			}
			buf = append(buf, p...)
			if len(buf) > limit {
				return nil, wire.ErrTooLarge
			}
		}
	}})
}

// readLine receives one byte at a time until LF. Carriage returns are
// dropped.
func readLine(ch sock.Channel) kont.Eff[string] {
	var lb wire.LineBuilder
	return kont.Perform(streamgw.Await[string]{Call: func() (string, error) {
		for {
			p, err := ch.Receive(1)
			if err != nil {
				return "", err
			}
			if len(p) == 0 {
				return "", ErrPeerClosed
			}
			line, done, err := lb.Feed(p[0])
			if err != nil || done {
				return line, err
			}
		}
	}})
}

// readN receives exactly n bytes, looping since a receive may return
// fewer. End of stream before n bytes fails with short.
func readN(ch sock.Channel, n int64, short error) kont.Eff[[]byte] {
	buf := make([]byte, 0, n)
	return kont.Perform(streamgw.Await[[]byte]{Call: func() ([]byte, error) {
		for int64(len(buf)) < n {
			p, err := ch.Receive(int(n - int64(len(buf))))
			if err != nil {
				return nil, err
			}
			if len(p) == 0 {
				return nil, fmt.Errorf("%w: got %d of %d bytes", short, len(buf), n)
			}
			buf = append(buf, p...)
		}
		return buf, nil
	}})
}

// readSome makes receives until one returns data or end of stream.
func readSome(ch sock.Channel, max int) kont.Eff[[]byte] {
	return kont.Perform(streamgw.Await[[]byte]{Call: func() ([]byte, error) {
		return ch.Receive(max)
	}})
}

// pause suspends for at least d without holding a worker.
func pause(d time.Duration) kont.Eff[struct{}] {
	deadline := time.Now().Add(d)
	return kont.Perform(streamgw.Await[struct{}]{Call: func() (struct{}, error) {
		if time.Now().Before(deadline) {
			return struct{}{}, iox.ErrWouldBlock
		}
		return struct{}{}, nil
	}})
}
