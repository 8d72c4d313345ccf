// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package relay_test

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"code.hybscloud.com/streamgw"
	"code.hybscloud.com/streamgw/relay"
	"code.hybscloud.com/streamgw/sock"
	"code.hybscloud.com/streamgw/wire"
)

const chunkedReply = "HTTP/1.1 200 OK\r\n" +
	"Content-Type: text/event-stream\r\n" +
	"Transfer-Encoding: chunked\r\n\r\n" +
	"5\r\nhello\r\n" +
	"6;ext=1\r\n world\r\n" +
	"0\r\nX-Trailer: t\r\n\r\n"

func TestSessionEmptyClient(t *testing.T) {
	skipRace(t)
	client := newClient("")
	r, dials := newRelay(t, newUpstream(), "secret")
	sum, err := run(t, r, client)
	if err != nil {
		t.Fatalf("session: %v", err)
	}
	if sum.Exchanges != 0 || sum.ID == "" {
		t.Fatalf("summary = %+v", sum)
	}
	if out := client.output(); out != "" {
		t.Fatalf("client got %q", out)
	}
	if dials.Load() != 0 {
		t.Fatal("upstream dialed without a request")
	}
}

func TestSessionChunked(t *testing.T) {
	skipRace(t)
	client := newClient(clientRequest(chatBody))
	up := newUpstream(chunkedReply)
	r, _ := newRelay(t, up, "secret")

	sum, err := run(t, r, client)
	if err != nil {
		t.Fatalf("session: %v", err)
	}
	if sum.Exchanges != 1 || sum.Bytes != 11 {
		t.Fatalf("summary = %+v", sum)
	}

	want := string(wire.StreamHeader()) + "5\r\nhello\r\n6\r\n world\r\n0\r\n\r\n"
	if out := client.output(); out != want {
		t.Fatalf("client got\n%q\nwant\n%q", out, want)
	}

	reqs := up.received()
	if len(reqs) != 1 {
		t.Fatalf("upstream requests = %d", len(reqs))
	}
	const line = "POST /v1beta/models/gemini-pro:streamGenerateContent?alt=sse&key=secret HTTP/1.1\r\nHost: upstream.test\r\n"
	if !bytes.HasPrefix(reqs[0], []byte(line)) {
		t.Fatalf("upstream request:\n%s", reqs[0])
	}
	parsed, err := wire.ParseRequest(reqs[0])
	if err != nil {
		t.Fatalf("upstream request does not parse: %v", err)
	}
	var body struct {
		Contents []struct {
			Role string `json:"role"`
		} `json:"contents"`
	}
	if err := json.Unmarshal(parsed.Body, &body); err != nil {
		t.Fatal(err)
	}
	var roles []string
	for _, c := range body.Contents {
		roles = append(roles, c.Role)
	}
	if got := strings.Join(roles, ","); got != "user,model,user" {
		t.Fatalf("roles = %s", got)
	}
}

func TestSessionContentLength(t *testing.T) {
	skipRace(t)
	client := newClient(clientRequest(chatBody))
	up := newUpstream("HTTP/1.1 200 OK\r\nContent-Type: application/json\r\nContent-Length: 13\r\n\r\n{\"text\":\"ok\"}")
	r, _ := newRelay(t, up, "secret")

	sum, err := run(t, r, client)
	if err != nil {
		t.Fatalf("session: %v", err)
	}
	if sum.Exchanges != 1 || sum.Bytes != 13 {
		t.Fatalf("summary = %+v", sum)
	}
	want := string(wire.BodyResponse("application/json", []byte(`{"text":"ok"}`)))
	if out := client.output(); out != want {
		t.Fatalf("client got %q, want %q", out, want)
	}
}

func TestSessionBodyWithoutLength(t *testing.T) {
	skipRace(t)
	client := newClient(clientRequest(chatBody))
	up := newUpstream("HTTP/1.1 200 OK\r\nContent-Type: application/json\r\n\r\n{\"text\":\"ok\"}")
	r, _ := newRelay(t, up, "secret")

	sum, err := run(t, r, client)
	if err != nil {
		t.Fatalf("session: %v", err)
	}
	if sum.Exchanges != 1 || sum.Bytes != 13 {
		t.Fatalf("summary = %+v", sum)
	}
	want := string(wire.BodyResponse("application/json", []byte(`{"text":"ok"}`)))
	if out := client.output(); out != want {
		t.Fatalf("client got %q, want %q", out, want)
	}
	if !strings.Contains(want, "Content-Length: 13\r\n") {
		t.Fatalf("response lacks length: %q", want)
	}
}

func TestSessionUpstreamHangupBeforeBody(t *testing.T) {
	skipRace(t)
	client := newClient(clientRequest(chatBody))
	up := newUpstream("HTTP/1.1 200 OK\r\nContent-Type: application/json\r\n\r\n")
	up.hangup = true
	r, _ := newRelay(t, up, "secret")

	sum, err := run(t, r, client)
	if err != nil {
		t.Fatalf("session: %v", err)
	}
	if sum.Exchanges != 0 || sum.Bytes != 0 {
		t.Fatalf("summary = %+v, want no exchanges", sum)
	}
	if out := client.output(); out != "" {
		t.Fatalf("client got %q", out)
	}
}

func TestSessionTricklingUpstream(t *testing.T) {
	skipRace(t)
	body := bytes.Repeat([]byte("0123456789"), 1000)
	reply := "HTTP/1.1 200 OK\r\nTransfer-Encoding: chunked\r\n\r\n" + string(wire.EncodeChunked(body, 6000))
	client := newClient(clientRequest(chatBody))
	client.step = 7
	up := newUpstream(reply)
	up.step = 7
	r, _ := newRelay(t, up, "secret")

	sum, err := run(t, r, client)
	if err != nil {
		t.Fatalf("session: %v", err)
	}
	if sum.Exchanges != 1 || sum.Bytes != int64(len(body)) {
		t.Fatalf("summary = %+v", sum)
	}
	out, ok := strings.CutPrefix(client.output(), string(wire.StreamHeader()))
	if !ok {
		t.Fatalf("client got %q", client.output()[:min(64, len(client.output()))])
	}
	if !strings.HasPrefix(out, "1770\r\n") {
		t.Fatalf("first chunk header = %q, want 1770", out[:min(8, len(out))])
	}
	got, err := wire.DecodeChunked([]byte(out))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !bytes.Equal(got, body) {
		t.Fatalf("decoded %d bytes, want %d", len(got), len(body))
	}
}

func TestSessionUpstreamStatus(t *testing.T) {
	skipRace(t)
	client := newClient(clientRequest(chatBody))
	up := newUpstream("HTTP/1.1 404 Not Found\r\nContent-Length: 0\r\n\r\n")
	r, _ := newRelay(t, up, "secret")

	_, err := run(t, r, client)
	var se *wire.StatusError
	if !errors.As(err, &se) || se.Code != 404 {
		t.Fatalf("session: %v, want status 404", err)
	}
	want := "HTTP/1.1 404 Not Found\r\nContent-Type: text/plain\r\nConnection: close\r\n\r\nError: Not Found\r\n"
	if out := client.output(); out != want {
		t.Fatalf("client got %q, want %q", out, want)
	}
}

func TestSessionMalformedChunk(t *testing.T) {
	skipRace(t)
	client := newClient(clientRequest(chatBody))
	up := newUpstream("HTTP/1.1 200 OK\r\nTransfer-Encoding: chunked\r\n\r\n5\r\nhello world\r\n0\r\n\r\n")
	r, _ := newRelay(t, up, "secret")

	_, err := run(t, r, client)
	if !errors.Is(err, wire.ErrMalformedChunk) {
		t.Fatalf("session: %v, want %v", err, wire.ErrMalformedChunk)
	}
	if out := client.output(); out != string(wire.StreamHeader()) {
		t.Fatalf("client got %q after headers", out)
	}
}

func TestSessionParseErrors(t *testing.T) {
	skipRace(t)
	tests := []struct {
		name    string
		request string
		want    error
	}{
		{"missing field", clientRequest(`{"model_name":"m"}`), relay.ErrMissingField},
		{"bad json", clientRequest(`{`), relay.ErrInvalidPayload},
		{"method", "TRACE / HTTP/1.1\r\nContent-Length: 2\r\n\r\n{}", wire.ErrUnsupportedMethod},
		{"content type", "POST / HTTP/1.1\r\nContent-Type: text/plain\r\nContent-Length: 2\r\n\r\n{}", wire.ErrContentType},
		{"empty body", "POST / HTTP/1.1\r\nContent-Length: 0\r\n\r\n", wire.ErrEmptyBody},
		{"truncated", "POST / HTTP/1.1\r\nContent-Length: 20\r\n\r\n{}", wire.ErrMalformedRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newClient(tt.request)
			r, dials := newRelay(t, newUpstream(), "secret")
			_, err := run(t, r, client)
			if !errors.Is(err, tt.want) {
				t.Fatalf("session: %v, want %v", err, tt.want)
			}
			if out := client.output(); !strings.HasPrefix(out, "HTTP/1.1 500 Internal Server Error\r\n") {
				t.Fatalf("client got %q", out)
			}
			if dials.Load() != 0 {
				t.Fatal("upstream dialed for a rejected request")
			}
		})
	}
}

func TestSessionNoKey(t *testing.T) {
	skipRace(t)
	client := newClient(clientRequest(chatBody))
	r, dials := newRelay(t, newUpstream(), "")
	if _, err := run(t, r, client); !errors.Is(err, relay.ErrNoAPIKey) {
		t.Fatalf("session: %v, want %v", err, relay.ErrNoAPIKey)
	}
	if dials.Load() != 0 {
		t.Fatal("upstream dialed without a key")
	}
	if out := client.output(); !strings.Contains(out, "Error: Internal Server Error\r\n") {
		t.Fatalf("client got %q", out)
	}
}

func TestSessionReusesUpstream(t *testing.T) {
	skipRace(t)
	second := strings.Replace(chatBody, `"hi"`, `"again"`, 1)
	client := newClient(clientRequest(chatBody) + clientRequest(second))
	up := newUpstream(chunkedReply, chunkedReply)
	r, dials := newRelay(t, up, "secret")

	sum, err := run(t, r, client)
	if err != nil {
		t.Fatalf("session: %v", err)
	}
	if sum.Exchanges != 2 || sum.Bytes != 22 {
		t.Fatalf("summary = %+v", sum)
	}
	if n := dials.Load(); n != 1 {
		t.Fatalf("dials = %d, want 1", n)
	}
	reqs := up.received()
	if len(reqs) != 2 || !bytes.Contains(reqs[1], []byte(`"again"`)) {
		t.Fatalf("upstream requests = %q", reqs)
	}
	if got := strings.Count(client.output(), string(wire.StreamHeader())); got != 2 {
		t.Fatalf("stream headers = %d", got)
	}
}

func TestSessionDialFailure(t *testing.T) {
	skipRace(t)
	boom := errors.New("dial refused")
	client := newClient(clientRequest(chatBody))
	r := relay.New(newQueue(t), relay.Options{
		Keys: relay.StaticKey("secret"),
		Dial: func() (sock.Channel, error) { return nil, boom },
	})
	if _, err := run(t, r, client); !errors.Is(err, boom) {
		t.Fatalf("session: %v, want %v", err, boom)
	}
	if out := client.output(); !strings.HasPrefix(out, "HTTP/1.1 500 ") {
		t.Fatalf("client got %q", out)
	}
}

func TestSessionCloseWhileParked(t *testing.T) {
	skipRace(t)
	client := &memChannel{}
	r, _ := newRelay(t, newUpstream(), "secret")
	sess, err := r.Start(client)
	if err != nil {
		t.Fatal(err)
	}
	deadline := time.Now().Add(5 * time.Second)
	for sess.State() != streamgw.Suspended && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if err := sess.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if _, err := sess.Wait(testContext(t)); !errors.Is(err, sock.ErrClosed) {
		t.Fatalf("wait: %v, want %v", err, sock.ErrClosed)
	}
	if sess.State() != streamgw.Failed {
		t.Fatalf("state = %v", sess.State())
	}
	if out := client.output(); out != "" {
		t.Fatalf("client got %q", out)
	}
}

func TestSessionErrorIsolated(t *testing.T) {
	skipRace(t)
	q := newQueue(t)
	start := func(reply string) (*memChannel, *relay.Session) {
		up := newUpstream(reply)
		r := relay.New(q, relay.Options{
			Keys: relay.StaticKey("secret"),
			Dial: func() (sock.Channel, error) { return up, nil },
		})
		client := newClient(clientRequest(chatBody))
		sess, err := r.Start(client)
		if err != nil {
			t.Fatal(err)
		}
		return client, sess
	}
	failing, bad := start("HTTP/1.1 404 Not Found\r\nContent-Length: 0\r\n\r\n")
	healthy, good := start(chunkedReply)

	if _, err := bad.Wait(testContext(t)); err == nil {
		t.Fatal("404 session succeeded")
	}
	sum, err := good.Wait(testContext(t))
	if err != nil || sum.Exchanges != 1 {
		t.Fatalf("healthy session = (%+v, %v)", sum, err)
	}
	if !strings.HasPrefix(failing.output(), "HTTP/1.1 404 Not Found\r\n") {
		t.Fatalf("failing client got %q", failing.output())
	}
	if !strings.HasSuffix(healthy.output(), "0\r\n\r\n") {
		t.Fatalf("healthy client got %q", healthy.output())
	}
}
