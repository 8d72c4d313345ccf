// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package sock

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"sync/atomic"
	"time"
)

// DefaultHandshakeTimeout bounds the TLS handshake in Connect.
const DefaultHandshakeTimeout = 10 * time.Second

// DefaultWriteTimeout bounds one TLS write.
const DefaultWriteTimeout = 30 * time.Second

// SecureOption configures a [SecureChannel].
type SecureOption func(*SecureChannel)

// WithHandshakeTimeout bounds the handshake. Zero disables the bound.
func WithHandshakeTimeout(d time.Duration) SecureOption {
	return func(c *SecureChannel) { c.handshakeTimeout = d }
}

// WithWriteTimeout bounds each Send. Zero disables the bound.
func WithWriteTimeout(d time.Duration) SecureOption {
	return func(c *SecureChannel) { c.writeTimeout = d }
}

// SecureChannel is a TLS client session over one owned
// [SocketChannel]. Receive keeps the non-blocking contract: a read
// deadline inside the poll window is recoverable in TLS and maps to
// would-block. Send blocks up to the write timeout instead, because a
// TLS write cut short leaves the record stream unusable.
//
// A SecureChannel must be driven by one owner at a time.
type SecureChannel struct {
	sock             *SocketChannel
	conf             *tls.Config
	conn             *tls.Conn
	handshakeTimeout time.Duration
	writeTimeout     time.Duration
	closed           atomic.Bool
}

// NewSecure takes ownership of s and returns a TLS channel over it.
// A nil conf selects TLS 1.2 minimum with system roots.
func NewSecure(s *SocketChannel, conf *tls.Config, opts ...SecureOption) *SecureChannel {
	if conf == nil {
		conf = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	c := &SecureChannel{
		sock:             s.Release(),
		conf:             conf,
		handshakeTimeout: DefaultHandshakeTimeout,
		writeTimeout:     DefaultWriteTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Connect performs the TCP connect and then the TLS handshake with
// host as the server name, unless the config names one.
func (c *SecureChannel) Connect(host string, port int) error {
	if c.closed.Load() {
		return ErrClosed
	}
	if err := c.sock.Connect(host, port); err != nil {
		return err
	}
	return c.Handshake(host)
}

// Handshake runs the TLS client handshake on the already connected
// socket. Failure closes the channel.
func (c *SecureChannel) Handshake(serverName string) error {
	if c.closed.Load() {
		return ErrClosed
	}
	if c.sock.conn == nil {
		return ErrNotConnected
	}
	conf := c.conf.Clone()
	if conf.ServerName == "" {
		conf.ServerName = serverName
	}
	conn := tls.Client(c.sock.conn, conf)
	ctx := context.Background()
	if c.handshakeTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.handshakeTimeout)
		defer cancel()
	}
	if err := conn.HandshakeContext(ctx); err != nil {
		_ = c.Close()
		return fmt.Errorf("%w: %w", ErrHandshake, err)
	}
	c.conn = conn
	return nil
}

// ConnectionState returns the negotiated TLS parameters.
func (c *SecureChannel) ConnectionState() tls.ConnectionState {
	if c.conn == nil {
		return tls.ConnectionState{}
	}
	return c.conn.ConnectionState()
}

// Send writes p, blocking up to the write timeout.
func (c *SecureChannel) Send(p []byte) (int, error) {
	if c.closed.Load() {
		return 0, ErrClosed
	}
	if c.conn == nil {
		return 0, ErrNotConnected
	}
	var deadline time.Time
	if c.writeTimeout > 0 {
		deadline = time.Now().Add(c.writeTimeout)
	}
	if err := c.conn.SetWriteDeadline(deadline); err != nil {
		return 0, classify(err)
	}
	n, err := c.conn.Write(p)
	if err != nil {
		var ne net.Error
		if errors.As(err, &ne) && ne.Timeout() {
			return n, fmt.Errorf("%w: %w", ErrWriteTimeout, err)
		}
		if errors.Is(err, net.ErrClosed) {
			return n, ErrClosed
		}
		return n, err
	}
	return n, nil
}

// Receive makes one decrypting read attempt bounded by the socket's
// poll window.
func (c *SecureChannel) Receive(max int) ([]byte, error) {
	if c.closed.Load() {
		return nil, ErrClosed
	}
	if c.conn == nil {
		return nil, ErrNotConnected
	}
	return receive(c.conn, c.sock.poll, max)
}

// Close sends close_notify when the session is established and closes
// the socket. It is idempotent.
func (c *SecureChannel) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	var err error
	if c.conn != nil {
		err = c.conn.Close()
	}
	if serr := c.sock.Close(); err == nil {
		err = serr
	}
	if errors.Is(err, net.ErrClosed) {
		return nil
	}
	return err
}
