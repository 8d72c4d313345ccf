// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package sock

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"sync/atomic"
	"time"

	"code.hybscloud.com/iox"
	"go.uber.org/zap"
)

// Channel is the byte-stream contract shared by plain and TLS channels.
//
// Send writes a prefix of p and returns how much was written; a short
// count comes with iox.ErrWouldBlock and the caller resends the rest.
// Receive returns at most max bytes. An empty slice with a nil error
// means orderly shutdown by the peer.
type Channel interface {
	Send(p []byte) (int, error)
	Receive(max int) ([]byte, error)
	Close() error
}

// Transport selects TCP or UDP.
type Transport uint8

const (
	TCP Transport = iota
	UDP
)

func (t Transport) String() string {
	if t == UDP {
		return "udp"
	}
	return "tcp"
}

// IPVersion selects the address family.
type IPVersion uint8

const (
	// IPAny lets the resolver pick the family.
	IPAny IPVersion = iota
	IPv4
	IPv6
)

// DefaultPollWindow bounds a single non-blocking attempt.
const DefaultPollWindow = time.Millisecond

// DefaultReceiveSize is used when Receive is called with max <= 0.
const DefaultReceiveSize = 8 << 10

// Option configures a [SocketChannel].
type Option func(*SocketChannel)

// WithPollWindow sets how long one Send, Receive or Accept attempt may
// wait for readiness before reporting would-block.
func WithPollWindow(d time.Duration) Option {
	return func(s *SocketChannel) {
		if d > 0 {
			s.poll = d
		}
	}
}

// WithDialTimeout bounds Connect. Zero leaves it to the OS.
func WithDialTimeout(d time.Duration) Option {
	return func(s *SocketChannel) { s.dialTimeout = d }
}

// WithLogger sets the channel's logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *SocketChannel) {
		if l != nil {
			s.log = l
		}
	}
}

// SocketChannel is a single-owner socket with non-blocking semantics
// emulated by short deadlines on the platform [Stack].
type SocketChannel struct {
	transport   Transport
	ip          IPVersion
	poll        time.Duration
	dialTimeout time.Duration
	log         *zap.Logger

	conn    net.Conn
	ln      net.Listener
	pc      net.PacketConn
	local   string
	backlog int

	closed atomic.Bool
}

// New returns an unconnected channel.
func New(transport Transport, ip IPVersion, opts ...Option) *SocketChannel {
	s := &SocketChannel{
		transport: transport,
		ip:        ip,
		poll:      DefaultPollWindow,
		log:       zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// FromConn wraps an established connection. The channel takes
// ownership of c.
func FromConn(c net.Conn, opts ...Option) *SocketChannel {
	s := New(TCP, IPAny, opts...)
	if _, ok := c.(*net.UDPConn); ok {
		s.transport = UDP
	}
	s.conn = c
	return s
}

func (s *SocketChannel) network() string {
	n := s.transport.String()
	switch s.ip {
	case IPv4:
		return n + "4"
	case IPv6:
		return n + "6"
	}
	return n
}

// Transport returns the channel's transport.
func (s *SocketChannel) Transport() Transport {
	return s.transport
}

// Valid reports whether the channel owns an open descriptor.
func (s *SocketChannel) Valid() bool {
	return !s.closed.Load() && (s.conn != nil || s.ln != nil || s.pc != nil)
}

// Connect resolves host and connects. On UDP it does nothing: the
// channel stays unconnected and SendTo/ReceiveFrom must be used.
func (s *SocketChannel) Connect(host string, port int) error {
	if s.closed.Load() {
		return ErrClosed
	}
	addr := net.JoinHostPort(host, strconv.Itoa(port))
	if s.transport == UDP {
		s.log.Warn("connect on a UDP socket is a no-op", zap.String("addr", addr))
		return nil
	}
	if s.conn != nil {
		return fmt.Errorf("sock: connect %s: already connected", addr)
	}
	d := net.Dialer{Timeout: s.dialTimeout}
	c, err := d.Dial(s.network(), addr)
	if err != nil {
		return fmt.Errorf("sock: connect %s: %w", addr, err)
	}
	s.conn = c
	return nil
}

// Bind records the local address. A UDP channel starts receiving
// immediately; a TCP channel starts at [SocketChannel.Listen].
func (s *SocketChannel) Bind(host string, port int) error {
	if s.closed.Load() {
		return ErrClosed
	}
	s.local = net.JoinHostPort(host, strconv.Itoa(port))
	if s.transport != UDP {
		return nil
	}
	pc, err := net.ListenPacket(s.network(), s.local)
	if err != nil {
		return fmt.Errorf("sock: bind %s: %w", s.local, err)
	}
	s.pc = pc
	return nil
}

// Listen opens the bound TCP address for accepting. The accept queue
// length is the OS default; backlog is kept for diagnostics since the
// Go runtime sizes the queue itself.
func (s *SocketChannel) Listen(backlog int) error {
	if s.closed.Load() {
		return ErrClosed
	}
	if s.transport == UDP {
		return ErrUnsupported
	}
	var lc net.ListenConfig
	ln, err := lc.Listen(context.Background(), s.network(), s.local)
	if err != nil {
		return fmt.Errorf("sock: listen %s: %w", s.local, err)
	}
	s.ln = ln
	s.backlog = backlog
	s.log.Debug("listening",
		zap.String("addr", ln.Addr().String()),
		zap.Int("backlog", backlog),
		zap.String("stack", platform.Name()),
	)
	return nil
}

type deadliner interface {
	SetDeadline(t time.Time) error
}

// Accept makes one attempt to take a pending connection. It returns
// iox.ErrWouldBlock when none arrives inside the poll window.
func (s *SocketChannel) Accept() (*SocketChannel, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}
	if s.ln == nil {
		return nil, ErrNotConnected
	}
	if d, ok := s.ln.(deadliner); ok {
		if err := d.SetDeadline(time.Now().Add(s.poll)); err != nil {
			return nil, classify(err)
		}
	}
	c, err := s.ln.Accept()
	if err != nil {
		return nil, classify(err)
	}
	return &SocketChannel{
		transport: s.transport,
		ip:        s.ip,
		poll:      s.poll,
		log:       s.log,
		conn:      c,
	}, nil
}

// Send makes one write attempt bounded by the poll window.
func (s *SocketChannel) Send(p []byte) (int, error) {
	if s.closed.Load() {
		return 0, ErrClosed
	}
	if s.conn == nil {
		return 0, ErrNotConnected
	}
	if len(p) == 0 {
		return 0, nil
	}
	if err := s.conn.SetWriteDeadline(time.Now().Add(s.poll)); err != nil {
		return 0, classify(err)
	}
	n, err := s.conn.Write(p)
	return n, classify(err)
}

// Receive makes one read attempt bounded by the poll window.
func (s *SocketChannel) Receive(max int) ([]byte, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}
	if s.conn == nil {
		return nil, ErrNotConnected
	}
	return receive(s.conn, s.poll, max)
}

// receive performs one deadline-bounded read on c.
func receive(c net.Conn, poll time.Duration, max int) ([]byte, error) {
	if max <= 0 {
		max = DefaultReceiveSize
	}
	if err := c.SetReadDeadline(time.Now().Add(poll)); err != nil {
		return nil, classify(err)
	}
	buf := make([]byte, max)
	n, err := c.Read(buf)
	if n > 0 {
		return buf[:n], nil
	}
	if errors.Is(err, io.EOF) {
		return []byte{}, nil
	}
	if err == nil {
		return nil, iox.ErrWouldBlock
	}
	return nil, classify(err)
}

// SendTo sends one datagram on a bound UDP channel.
func (s *SocketChannel) SendTo(host string, port int, p []byte) (int, error) {
	if s.closed.Load() {
		return 0, ErrClosed
	}
	if s.pc == nil {
		return 0, ErrNotConnected
	}
	addr, err := net.ResolveUDPAddr(s.network(), net.JoinHostPort(host, strconv.Itoa(port)))
	if err != nil {
		return 0, fmt.Errorf("sock: resolve: %w", err)
	}
	if err := s.pc.SetWriteDeadline(time.Now().Add(s.poll)); err != nil {
		return 0, classify(err)
	}
	n, err := s.pc.WriteTo(p, addr)
	return n, classify(err)
}

// ReceiveFrom makes one attempt to read a datagram on a bound UDP
// channel.
func (s *SocketChannel) ReceiveFrom(max int) ([]byte, net.Addr, error) {
	if s.closed.Load() {
		return nil, nil, ErrClosed
	}
	if s.pc == nil {
		return nil, nil, ErrNotConnected
	}
	if max <= 0 {
		max = DefaultReceiveSize
	}
	if err := s.pc.SetReadDeadline(time.Now().Add(s.poll)); err != nil {
		return nil, nil, classify(err)
	}
	buf := make([]byte, max)
	n, addr, err := s.pc.ReadFrom(buf)
	if err != nil && n == 0 {
		return nil, nil, classify(err)
	}
	return buf[:n], addr, nil
}

// LocalAddr returns the bound or connected local address, or nil.
func (s *SocketChannel) LocalAddr() net.Addr {
	switch {
	case s.ln != nil:
		return s.ln.Addr()
	case s.pc != nil:
		return s.pc.LocalAddr()
	case s.conn != nil:
		return s.conn.LocalAddr()
	}
	return nil
}

// RemoteAddr returns the peer address of a connected channel, or nil.
func (s *SocketChannel) RemoteAddr() net.Addr {
	if s.conn == nil {
		return nil
	}
	return s.conn.RemoteAddr()
}

// Release moves ownership to a new channel. The receiver becomes
// invalid and closing it does nothing.
func (s *SocketChannel) Release() *SocketChannel {
	n := &SocketChannel{
		transport:   s.transport,
		ip:          s.ip,
		poll:        s.poll,
		dialTimeout: s.dialTimeout,
		log:         s.log,
		conn:        s.conn,
		ln:          s.ln,
		pc:          s.pc,
		local:       s.local,
		backlog:     s.backlog,
	}
	n.closed.Store(s.closed.Load())
	s.conn, s.ln, s.pc = nil, nil, nil
	s.closed.Store(true)
	return n
}

// Close shuts down and releases the descriptor. It is idempotent.
func (s *SocketChannel) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	var errs []error
	if s.conn != nil {
		if tc, ok := s.conn.(*net.TCPConn); ok {
			_ = tc.CloseWrite()
		}
		errs = append(errs, s.conn.Close())
	}
	if s.ln != nil {
		errs = append(errs, s.ln.Close())
	}
	if s.pc != nil {
		errs = append(errs, s.pc.Close())
	}
	err := errors.Join(errs...)
	if errors.Is(err, net.ErrClosed) {
		return nil
	}
	return err
}
