// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package relay

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"code.hybscloud.com/kont"
	"code.hybscloud.com/streamgw"
	"code.hybscloud.com/streamgw/observability"
	"code.hybscloud.com/streamgw/sock"
	"code.hybscloud.com/streamgw/wire"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Summary is the result of a session that ended cleanly.
type Summary struct {
	ID        string
	Exchanges int
	Bytes     int64
}

type exchangeResult struct {
	Model   string
	Status  int
	Chunked bool
	Chunks  int
	Bytes   int64
}

type (
	sessionStep = kont.Either[int, Summary]
	headStep    = kont.Either[*wire.ResponseHead, *wire.ResponseHead]
	chunkStep   = kont.Either[exchangeResult, exchangeResult]
	unitStep    = kont.Either[struct{}, struct{}]
)

// Session is one client connection driven by a task. It owns the
// client channel and the upstream channel it dials on first use.
type Session struct {
	id     string
	r      *Relay
	client sock.Channel
	log    *zap.Logger
	task   *streamgw.Task[Summary]

	mu       sync.Mutex
	upstream sock.Channel
	closed   bool

	// Touched only by the session's own steps, which never overlap.
	started bool
	carry   []byte
	span    trace.Span
	summary Summary
}

func (r *Relay) newSession(client sock.Channel) *Session {
	id := uuid.NewString()
	return &Session{
		id:      id,
		r:       r,
		client:  client,
		log:     r.log.With(zap.String("session", id)),
		summary: Summary{ID: id},
	}
}

// ID returns the session's unique id, used in logs and spans.
func (s *Session) ID() string { return s.id }

// Serial returns the session task's serial.
func (s *Session) Serial() streamgw.Serial { return s.task.Serial() }

// State returns the session task's state.
func (s *Session) State() streamgw.State { return s.task.State() }

// Done is closed once the session has ended and released its channels.
func (s *Session) Done() <-chan struct{} { return s.task.Done() }

// Wait blocks until the session ends or ctx is done.
func (s *Session) Wait(ctx context.Context) (Summary, error) {
	return s.task.Wait(ctx)
}

// Close closes both channels. Parked operations then fail and the
// session ends. Close is idempotent.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	up := s.upstream
	s.mu.Unlock()

	err := s.client.Close()
	if up != nil {
		err = errors.Join(err, up.Close())
	}
	return err
}

func (s *Session) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *Session) setUpstream(ch sock.Channel) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		_ = ch.Close()
		return sock.ErrClosed
	}
	s.upstream = ch
	return nil
}

func (s *Session) currentUpstream() sock.Channel {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.upstream
}

// finish runs once when the task settles.
func (s *Session) finish() {
	_ = s.Close()
	_, err := s.task.Result()
	s.log.Debug("session ended",
		zap.Int("exchanges", s.summary.Exchanges),
		zap.Int64("bytes", s.summary.Bytes),
		zap.Error(err),
	)
}

// protocol loops over exchanges. Each exchange is a child task; its
// outcome decides whether the session continues.
func (s *Session) protocol() kont.Eff[Summary] {
	return streamgw.Loop(0, func(n int) kont.Eff[sessionStep] {
		return streamgw.Delay(func() kont.Eff[sessionStep] {
			s.started = false
			_, s.span = observability.StartSpan(context.Background(), s.r.opts.Tracer, "relay.exchange",
				observability.AttrSession.String(s.id),
				attribute.Int("streamgw.exchange", n+1),
			)
			child := streamgw.Go(s.r.q, s.exchange())
			return streamgw.SettleBind(child, func(o streamgw.Outcome[exchangeResult]) kont.Eff[sessionStep] {
				if o.Err != nil {
					return s.fail(o.Err)
				}
				s.complete(o.Value)
				return streamgw.Continue[int, Summary](n + 1)
			})
		})
	})
}

func (s *Session) complete(res exchangeResult) {
	s.summary.Exchanges++
	s.summary.Bytes += res.Bytes

	m := s.r.opts.Metrics
	m.Exchange(observability.OutcomeOK)
	m.UpstreamStatus(res.Status)

	s.span.SetAttributes(
		observability.AttrStatus.Int(res.Status),
		observability.AttrChunked.Bool(res.Chunked),
		observability.AttrChunks.Int(res.Chunks),
		observability.AttrBodySize.Int64(res.Bytes),
	)
	observability.EndSpan(s.span, nil)

	s.log.Info("exchange relayed",
		zap.String("model", res.Model),
		zap.Int("status", res.Status),
		zap.Bool("chunked", res.Chunked),
		zap.Int("chunks", res.Chunks),
		zap.Int64("bytes", res.Bytes),
	)
}

// fail decides what the client sees. Peer shutdown ends the session
// quietly; any other error gets an error response unless part of a
// response has already gone out.
func (s *Session) fail(err error) kont.Eff[sessionStep] {
	if errors.Is(err, ErrPeerClosed) {
		observability.EndSpan(s.span, nil)
		s.log.Debug("peer closed", zap.Int("exchanges", s.summary.Exchanges))
		return streamgw.Break[int, Summary](s.summary)
	}
	observability.EndSpan(s.span, err)
	if errors.Is(err, sock.ErrClosed) && s.isClosed() {
		s.log.Debug("session closed during exchange")
		return streamgw.Fail[sessionStep](err)
	}

	m := s.r.opts.Metrics
	m.Exchange(outcome(err))
	var se *wire.StatusError
	if errors.As(err, &se) {
		m.UpstreamStatus(se.Code)
	}
	s.log.Error("exchange failed", zap.Error(err), zap.Bool("response_started", s.started))
	if s.started {
		return streamgw.Fail[sessionStep](err)
	}
	return kont.Then(trySend(s.client, wire.ErrorFor(err)), streamgw.Fail[sessionStep](err))
}

func outcome(err error) string {
	var se *wire.StatusError
	switch {
	case errors.As(err, &se):
		return observability.OutcomeUpstream
	case errors.Is(err, wire.ErrMalformedRequest),
		errors.Is(err, wire.ErrUnsupportedMethod),
		errors.Is(err, wire.ErrEmptyBody),
		errors.Is(err, wire.ErrContentType),
		errors.Is(err, ErrInvalidPayload),
		errors.Is(err, ErrMissingField):
		return observability.OutcomeParse
	}
	return observability.OutcomeFailed
}

// exchange relays one request and its response.
func (s *Session) exchange() kont.Eff[exchangeResult] {
	o := &s.r.opts
	return kont.Bind(readRequest(s.client, o.ReceiveSize, o.MaxRequestBytes, &s.carry), func(raw []byte) kont.Eff[exchangeResult] {
		out, model, err := s.upstreamRequest(raw)
		if err != nil {
			return streamgw.Fail[exchangeResult](err)
		}
		s.span.SetAttributes(observability.AttrModel.String(model))
		return kont.Bind(s.dial(), func(up sock.Channel) kont.Eff[exchangeResult] {
			return kont.Bind(sendAll(up, out), func(n int) kont.Eff[exchangeResult] {
				o.Metrics.Relayed("upstream", n)
				return kont.Bind(readHead(up), func(h *wire.ResponseHead) kont.Eff[exchangeResult] {
					res := exchangeResult{Model: model, Status: h.Status.Code, Chunked: h.Chunked}
					if h.Chunked {
						return s.relayChunked(up, res)
					}
					return s.relayBody(up, h, res)
				})
			})
		})
	})
}

// upstreamRequest parses the client request and serializes the
// upstream one.
func (s *Session) upstreamRequest(raw []byte) ([]byte, string, error) {
	req, err := wire.ParseRequest(raw)
	if err != nil {
		return nil, "", err
	}
	p, err := DecodePayload(req.Body)
	if err != nil {
		return nil, "", err
	}
	key := s.r.opts.Keys.Key()
	if key == "" {
		return nil, p.ModelName, ErrNoAPIKey
	}
	body, err := p.UpstreamBody()
	if err != nil {
		return nil, p.ModelName, fmt.Errorf("%w: %w", ErrInvalidPayload, err)
	}
	s.log.Debug("request framed",
		zap.String("method", req.Method),
		zap.String("target", req.Target),
		zap.String("model", p.ModelName),
		zap.Int("context_turns", len(p.Context)),
	)
	out := wire.AppendRequest(nil, s.r.opts.UpstreamHost, &wire.Request{
		Method: "POST",
		Target: UpstreamPath(p.ModelName, key),
		Header: wire.Header{{Name: "Content-Type", Value: "application/json"}},
		Body:   body,
	})
	return out, p.ModelName, nil
}

// dial returns the upstream channel, dialing it on first use.
func (s *Session) dial() kont.Eff[sock.Channel] {
	return streamgw.Delay(func() kont.Eff[sock.Channel] {
		if up := s.currentUpstream(); up != nil {
			return kont.Pure(up)
		}
		if s.r.opts.Dial == nil {
			return streamgw.Fail[sock.Channel](errors.New("relay: no upstream dialer"))
		}
		dial := func() (sock.Channel, error) { return s.r.opts.Dial() }
		return streamgw.BlockingBind(dial, func(up sock.Channel) kont.Eff[sock.Channel] {
			if err := s.setUpstream(up); err != nil {
				return streamgw.Fail[sock.Channel](err)
			}
			s.log.Debug("upstream connected")
			return kont.Pure(up)
		})
	})
}

// respond sends p to the client and marks the response as started.
func (s *Session) respond(p []byte) kont.Eff[int] {
	return streamgw.Delay(func() kont.Eff[int] {
		s.started = true
		return sendAll(s.client, p)
	})
}

// readHead reads the upstream status line and headers.
func readHead(up sock.Channel) kont.Eff[*wire.ResponseHead] {
	return streamgw.Loop(&wire.ResponseHead{}, func(h *wire.ResponseHead) kont.Eff[headStep] {
		return kont.Bind(readLine(up), func(line string) kont.Eff[headStep] {
			done, err := h.AddLine(line)
			switch {
			case err != nil:
				return streamgw.Fail[headStep](err)
			case done:
				return streamgw.Break[*wire.ResponseHead, *wire.ResponseHead](h)
			}
			return streamgw.Continue[*wire.ResponseHead, *wire.ResponseHead](h)
		})
	})
}

// skipTrailer consumes trailer lines through the blank line.
func skipTrailer(up sock.Channel) kont.Eff[struct{}] {
	return streamgw.Loop(struct{}{}, func(struct{}) kont.Eff[unitStep] {
		return kont.Bind(readLine(up), func(line string) kont.Eff[unitStep] {
			if line == "" {
				return streamgw.Break[struct{}, struct{}](struct{}{})
			}
			return streamgw.Continue[struct{}, struct{}](struct{}{})
		})
	})
}

// relayChunked re-frames upstream chunks to the client one for one.
func (s *Session) relayChunked(up sock.Channel, res exchangeResult) kont.Eff[exchangeResult] {
	limit := s.r.opts.MaxBodyBytes
	chunks := streamgw.Loop(res, func(res exchangeResult) kont.Eff[chunkStep] {
		return kont.Bind(readLine(up), func(line string) kont.Eff[chunkStep] {
			n, err := wire.ParseChunkSize(line)
			switch {
			case err != nil:
				return streamgw.Fail[chunkStep](err)
			case n == 0:
				return kont.Then(skipTrailer(up),
					kont.Then(sendAll(s.client, wire.AppendLastChunk(nil)),
						streamgw.Break[exchangeResult, exchangeResult](res)))
			case n > limit:
				return streamgw.Fail[chunkStep](fmt.Errorf("%w: chunk of %d bytes", wire.ErrTooLarge, n))
			}
			return kont.Bind(readN(up, n, wire.ErrMalformedChunk), func(data []byte) kont.Eff[chunkStep] {
				return kont.Bind(readLine(up), func(end string) kont.Eff[chunkStep] {
					if end != "" {
						return streamgw.Fail[chunkStep](fmt.Errorf("%w: %d bytes past declared size %d", wire.ErrMalformedChunk, len(end), n))
					}
					return kont.Bind(sendAll(s.client, wire.AppendChunk(nil, data)), func(int) kont.Eff[chunkStep] {
						res.Chunks++
						res.Bytes += int64(len(data))
						s.r.opts.Metrics.Chunk(len(data))
						return streamgw.Continue[exchangeResult, exchangeResult](res)
					})
				})
			})
		})
	})
	return kont.Then(s.respond(wire.StreamHeader()), chunks)
}

// relayBody forwards a non-chunked body as one response.
func (s *Session) relayBody(up sock.Channel, h *wire.ResponseHead, res exchangeResult) kont.Eff[exchangeResult] {
	var body kont.Eff[[]byte]
	switch {
	case h.ContentLength > s.r.opts.MaxBodyBytes:
		return streamgw.Fail[exchangeResult](fmt.Errorf("%w: body of %d bytes", wire.ErrTooLarge, h.ContentLength))
	case h.ContentLength >= 0:
		body = readN(up, h.ContentLength, io.ErrUnexpectedEOF)
	default:
		body = kont.Bind(readSome(up, s.r.opts.ReceiveSize), func(p []byte) kont.Eff[[]byte] {
			if len(p) == 0 {
				return streamgw.Fail[[]byte](ErrPeerClosed)
			}
			return kont.Pure(p)
		})
	}
	return kont.Bind(body, func(p []byte) kont.Eff[exchangeResult] {
		return kont.Bind(s.respond(wire.BodyResponse(h.ContentType(), p)), func(int) kont.Eff[exchangeResult] {
			res.Bytes = int64(len(p))
			s.r.opts.Metrics.Relayed("downstream", len(p))
			return kont.Pure(res)
		})
	})
}
