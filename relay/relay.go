// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package relay

import (
	"crypto/tls"

	"code.hybscloud.com/streamgw"
	"code.hybscloud.com/streamgw/observability"
	"code.hybscloud.com/streamgw/sock"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Defaults for [Options] fields left zero.
const (
	DefaultMaxRequestBytes = 1 << 20
	DefaultReceiveSize     = 4096
	DefaultMaxBodyBytes    = 16 << 20
)

// Keys supplies the upstream API key.
type Keys interface {
	Key() string
}

// StaticKey is a fixed API key.
type StaticKey string

// Key returns k.
func (k StaticKey) Key() string { return string(k) }

// Dialer opens a connected, handshaken upstream channel. It is called
// on a queue worker and may block.
type Dialer func() (sock.Channel, error)

// TLSDialer dials host:port and runs the TLS handshake.
func TLSDialer(host string, port int, conf *tls.Config, opts []sock.Option, secure ...sock.SecureOption) Dialer {
	return func() (sock.Channel, error) {
		ch := sock.NewSecure(sock.New(sock.TCP, sock.IPAny, opts...), conf, secure...)
		if err := ch.Connect(host, port); err != nil {
			_ = ch.Close()
			return nil, err
		}
		return ch, nil
	}
}

// Options configures a [Relay].
type Options struct {
	// UpstreamHost is sent as the Host header.
	UpstreamHost string
	Dial         Dialer
	Keys         Keys

	// MaxRequestBytes bounds a framed client request.
	MaxRequestBytes int
	// ReceiveSize is the size of one client receive and of the single
	// read used for an upstream body without Content-Length.
	ReceiveSize int
	// MaxBodyBytes bounds one upstream body or chunk.
	MaxBodyBytes int64

	Logger  *zap.Logger
	Metrics *observability.Metrics
	Tracer  trace.Tracer
}

// Relay starts session programs on a queue.
type Relay struct {
	q    *streamgw.Queue
	opts Options
	log  *zap.Logger
}

// New returns a relay whose sessions park on q.
func New(q *streamgw.Queue, opts Options) *Relay {
	if opts.MaxRequestBytes <= 0 {
		opts.MaxRequestBytes = DefaultMaxRequestBytes
	}
	if opts.ReceiveSize <= 0 {
		opts.ReceiveSize = DefaultReceiveSize
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = DefaultMaxBodyBytes
	}
	if opts.Keys == nil {
		opts.Keys = StaticKey("")
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Relay{q: q, opts: opts, log: log.With(zap.String("component", "relay"))}
}

// Start spawns the session for client on the queue. The session owns
// client from here on.
func (r *Relay) Start(client sock.Channel) (*Session, error) {
	s := r.newSession(client)
	s.task = streamgw.NewTask(r.q, s.protocol())
	s.task.OnSettle(s.finish)
	if err := r.q.Submit(func() { _ = s.task.Run() }); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}
