// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package relay

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"code.hybscloud.com/iox"
	"code.hybscloud.com/kont"
	"code.hybscloud.com/streamgw"
	"code.hybscloud.com/streamgw/observability"
	"code.hybscloud.com/streamgw/sock"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// DefaultSweepSchedule reclaims finished sessions every few seconds.
const DefaultSweepSchedule = "@every 5s"

// acceptBackoff is the pause after a failed accept.
const acceptBackoff = 50 * time.Millisecond

// ServerConfig configures the listening side of a [Server].
type ServerConfig struct {
	Host       string
	Port       int
	Backlog    int
	PollWindow time.Duration

	// SweepSchedule is a cron spec for reclaiming finished sessions.
	SweepSchedule string
}

// Server accepts client connections and starts a relay session for
// each. Sessions live in a table that a cron job sweeps.
type Server struct {
	q       *streamgw.Queue
	relay   *Relay
	cfg     ServerConfig
	log     *zap.Logger
	metrics *observability.Metrics
	table   *streamgw.Table

	ln        *sock.SocketChannel
	cron      *cron.Cron
	accept    *streamgw.Task[int]
	closeOnce sync.Once
}

// NewServer returns a server that is not yet listening.
func NewServer(q *streamgw.Queue, r *Relay, cfg ServerConfig, log *zap.Logger, m *observability.Metrics) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.SweepSchedule == "" {
		cfg.SweepSchedule = DefaultSweepSchedule
	}
	return &Server{
		q:       q,
		relay:   r,
		cfg:     cfg,
		log:     log.With(zap.String("component", "server")),
		metrics: m,
		table:   streamgw.NewTable(),
	}
}

// Start binds, listens and spawns the accept loop.
func (s *Server) Start() error {
	ln := sock.New(sock.TCP, sock.IPAny,
		sock.WithPollWindow(s.cfg.PollWindow),
		sock.WithLogger(s.log),
	)
	if err := ln.Bind(s.cfg.Host, s.cfg.Port); err != nil {
		return err
	}
	if err := ln.Listen(s.cfg.Backlog); err != nil {
		return err
	}
	s.ln = ln

	s.cron = cron.New()
	if _, err := s.cron.AddFunc(s.cfg.SweepSchedule, func() { s.Sweep() }); err != nil {
		_ = ln.Close()
		return fmt.Errorf("relay: sweep schedule %q: %w", s.cfg.SweepSchedule, err)
	}

	task, err := streamgw.Spawn(s.q, s.acceptLoop())
	if err != nil {
		_ = ln.Close()
		return err
	}
	s.accept = task
	s.cron.Start()

	s.log.Info("gateway listening",
		zap.String("addr", ln.LocalAddr().String()),
		zap.String("sweep", s.cfg.SweepSchedule),
	)
	return nil
}

// Addr returns the listening address, or nil before Start.
func (s *Server) Addr() net.Addr {
	if s.ln == nil {
		return nil
	}
	return s.ln.LocalAddr()
}

// Sessions returns the number of sessions in the table, finished ones
// included until the next sweep.
func (s *Server) Sessions() int {
	return s.table.Len()
}

// Sweep drops finished sessions from the table and returns how many it
// dropped.
func (s *Server) Sweep() int {
	n := s.table.Sweep()
	live := s.table.Len()
	s.metrics.Swept(n)
	s.metrics.SetActive(live)
	if n > 0 {
		s.log.Debug("sessions swept", zap.Int("removed", n), zap.Int("live", live))
	}
	return n
}

type accepted struct {
	ch  *sock.SocketChannel
	err error
}

// acceptOnce parks until a connection arrives or accept fails. Errors
// other than would-block are returned as values so the loop can decide.
func acceptOnce(ln *sock.SocketChannel) kont.Eff[accepted] {
	return kont.Perform(streamgw.Await[accepted]{Call: func() (accepted, error) {
		ch, err := ln.Accept()
		if iox.IsWouldBlock(err) {
			return accepted{}, err
		}
		return accepted{ch: ch, err: err}, nil
	}})
}

// acceptLoop runs until the listener closes and returns how many
// connections it accepted.
func (s *Server) acceptLoop() kont.Eff[int] {
	return streamgw.Loop(0, func(n int) kont.Eff[kont.Either[int, int]] {
		return kont.Bind(acceptOnce(s.ln), func(a accepted) kont.Eff[kont.Either[int, int]] {
			switch {
			case a.err == nil:
				s.admit(a.ch)
				return streamgw.Continue[int, int](n + 1)
			case errors.Is(a.err, sock.ErrClosed):
				s.log.Debug("accept loop stopped", zap.Int("accepted", n))
				return streamgw.Break[int, int](n)
			}
			s.log.Warn("accept failed", zap.Error(a.err))
			s.metrics.AcceptError()
			return kont.Then(pause(acceptBackoff), streamgw.Continue[int, int](n))
		})
	})
}

func (s *Server) admit(ch *sock.SocketChannel) {
	remote := ""
	if addr := ch.RemoteAddr(); addr != nil {
		remote = addr.String()
	}
	sess, err := s.relay.Start(ch)
	if err != nil {
		s.log.Warn("session rejected", zap.String("remote", remote), zap.Error(err))
		return
	}
	s.table.Add(sess)
	s.metrics.SessionOpened()
	s.metrics.SetActive(s.table.Len())
	s.log.Debug("session opened",
		zap.String("session", sess.ID()),
		zap.Uint32("serial", sess.Serial()),
		zap.String("remote", remote),
	)
}

// Close stops accepting, closes every session and waits for them to
// end or for ctx to expire.
func (s *Server) Close(ctx context.Context) error {
	var err error
	s.closeOnce.Do(func() {
		if s.ln == nil {
			return
		}
		err = s.ln.Close()
		if s.accept != nil {
			if _, werr := s.accept.Wait(ctx); werr != nil && ctx.Err() != nil {
				err = errors.Join(err, werr)
			}
		}
		stopped := s.cron.Stop()

		var sessions []*Session
		s.table.Range(func(t streamgw.Tracked) bool {
			if sess, ok := t.(*Session); ok {
				_ = sess.Close()
				sessions = append(sessions, sess)
			}
			return true
		})
		for _, sess := range sessions {
			select {
			case <-sess.Done():
			case <-ctx.Done():
				err = errors.Join(err, ctx.Err())
				return
			}
		}
		select {
		case <-stopped.Done():
		case <-ctx.Done():
		}
		s.Sweep()
		s.log.Info("gateway stopped", zap.Int("sessions", len(sessions)))
	})
	return err
}
