// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package relay_test

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"code.hybscloud.com/streamgw/relay"
)

func TestDecodePayloadKeepsTurnOrder(t *testing.T) {
	p, err := relay.DecodePayload([]byte(`{"model_name":"m","prompt":"p","message":"hi","context":[{"b":"1","a":"2"},{"user":"3"}]}`))
	if err != nil {
		t.Fatal(err)
	}
	want := relay.Turns{{Role: "b", Text: "1"}, {Role: "a", Text: "2"}, {Role: "user", Text: "3"}}
	if len(p.Context) != len(want) {
		t.Fatalf("context = %+v", p.Context)
	}
	for i := range want {
		if p.Context[i] != want[i] {
			t.Fatalf("context[%d] = %+v, want %+v", i, p.Context[i], want[i])
		}
	}

	body, err := p.UpstreamBody()
	if err != nil {
		t.Fatal(err)
	}
	const wantBody = `{"system_instruction":{"parts":[{"text":"p"}]},"contents":[` +
		`{"role":"b","parts":[{"text":"1"}]},` +
		`{"role":"a","parts":[{"text":"2"}]},` +
		`{"role":"user","parts":[{"text":"3"}]},` +
		`{"role":"user","parts":[{"text":"hi"}]}]}`
	if string(body) != wantBody {
		t.Fatalf("body =\n%s\nwant\n%s", body, wantBody)
	}
}

func TestDecodePayloadErrors(t *testing.T) {
	tests := []struct {
		name string
		body string
		want error
	}{
		{"not json", `model=m`, relay.ErrInvalidPayload},
		{"context object", `{"model_name":"m","message":"x","context":{}}`, relay.ErrInvalidPayload},
		{"context value", `{"model_name":"m","message":"x","context":[{"user":1}]}`, relay.ErrInvalidPayload},
		{"no model", `{"message":"x"}`, relay.ErrMissingField},
		{"no message", `{"model_name":"m","message":""}`, relay.ErrMissingField},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := relay.DecodePayload([]byte(tt.body)); !errors.Is(err, tt.want) {
				t.Fatalf("err = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestDecodePayloadNullContext(t *testing.T) {
	p, err := relay.DecodePayload([]byte(`{"model_name":"m","message":"x","context":null}`))
	if err != nil || p.Context != nil {
		t.Fatalf("got (%+v, %v)", p, err)
	}
}

func TestTurnsRoundTrip(t *testing.T) {
	in := relay.Payload{
		ModelName: "m",
		Message:   "x",
		Context:   relay.Turns{{Role: "user", Text: "a \"q\""}, {Role: "model", Text: "b"}},
	}
	b, err := json.Marshal(in)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(b), `"context":[{"user":"a \"q\""},{"model":"b"}]`) {
		t.Fatalf("encoded = %s", b)
	}
	out, err := relay.DecodePayload(b)
	if err != nil {
		t.Fatal(err)
	}
	if len(out.Context) != 2 || out.Context[0] != in.Context[0] || out.Context[1] != in.Context[1] {
		t.Fatalf("decoded = %+v", out.Context)
	}
}

func TestUpstreamPath(t *testing.T) {
	got := relay.UpstreamPath("gemini 1.5", "a&b")
	want := "/v1beta/models/gemini%201.5:streamGenerateContent?alt=sse&key=a%26b"
	if got != want {
		t.Fatalf("path = %q, want %q", got, want)
	}
}
