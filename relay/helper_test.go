// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package relay_test

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"code.hybscloud.com/iox"
	"code.hybscloud.com/streamgw"
	"code.hybscloud.com/streamgw/relay"
	"code.hybscloud.com/streamgw/sock"
	"code.hybscloud.com/streamgw/wire"
)

const chatBody = `{"model_name":"gemini-pro","prompt":"be brief","message":"hi","context":[{"user":"hello"},{"model":"hey"}]}`

func clientRequest(body string) string {
	return fmt.Sprintf("POST /chat HTTP/1.1\r\nHost: gw\r\nContent-Type: application/json\r\nContent-Length: %d\r\n\r\n%s", len(body), body)
}

// memChannel is an in-memory sock.Channel. Receive hands out in, at
// most step bytes at a time when step is set, then reports would-block,
// or end of stream once eof is set.
type memChannel struct {
	mu     sync.Mutex
	in     []byte
	step   int
	eof    bool
	out    bytes.Buffer
	closed bool
}

func newClient(data string) *memChannel {
	return &memChannel{in: []byte(data), eof: true}
}

func (m *memChannel) Send(p []byte) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return 0, sock.ErrClosed
	}
	return m.out.Write(p)
}

func (m *memChannel) Receive(max int) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, sock.ErrClosed
	}
	if len(m.in) == 0 {
		if m.eof {
			return []byte{}, nil
		}
		return nil, iox.ErrWouldBlock
	}
	n := min(max, len(m.in))
	if m.step > 0 {
		n = min(n, m.step)
	}
	p := bytes.Clone(m.in[:n])
	m.in = m.in[n:]
	return p, nil
}

func (m *memChannel) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}

func (m *memChannel) output() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.out.String()
}

// fakeUpstream answers each complete request with the next reply and
// reports end of stream when it runs out. With hangup set it reports
// end of stream right after the last reply.
type fakeUpstream struct {
	memChannel
	hangup   bool
	pending  []byte
	requests [][]byte
	replies  []string
}

func newUpstream(replies ...string) *fakeUpstream {
	return &fakeUpstream{replies: replies}
}

func (u *fakeUpstream) Send(p []byte) (int, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.closed {
		return 0, sock.ErrClosed
	}
	u.pending = append(u.pending, p...)
	if n, ok, _ := wire.RequestLength(u.pending); ok {
		u.requests = append(u.requests, bytes.Clone(u.pending[:n]))
		u.pending = u.pending[n:]
		if len(u.replies) > 0 {
			u.in = append(u.in, u.replies[0]...)
			u.replies = u.replies[1:]
			u.eof = u.hangup && len(u.replies) == 0
		} else {
			u.eof = true
		}
	}
	return len(p), nil
}

func (u *fakeUpstream) received() [][]byte {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.requests
}

var fastRetry = streamgw.RetryPolicy{
	Initial:    50 * time.Microsecond,
	Max:        time.Millisecond,
	Multiplier: 2,
}

func newQueue(tb testing.TB) *streamgw.Queue {
	tb.Helper()
	q := streamgw.NewQueue(streamgw.WithWorkers(2), streamgw.WithRetry(fastRetry))
	tb.Cleanup(q.Close)
	return q
}

// newRelay returns a relay whose dialer hands out up and counts dials.
func newRelay(tb testing.TB, up sock.Channel, key string) (*relay.Relay, *atomic.Int32) {
	tb.Helper()
	var dials atomic.Int32
	r := relay.New(newQueue(tb), relay.Options{
		UpstreamHost: "upstream.test",
		Keys:         relay.StaticKey(key),
		Dial: func() (sock.Channel, error) {
			dials.Add(1)
			return up, nil
		},
	})
	return r, &dials
}

func testContext(tb testing.TB) context.Context {
	tb.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	tb.Cleanup(cancel)
	return ctx
}

// run starts a session on client and waits for it to end.
func run(t *testing.T, r *relay.Relay, client sock.Channel) (relay.Summary, error) {
	t.Helper()
	sess, err := r.Start(client)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	return sess.Wait(testContext(t))
}
