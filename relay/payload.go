// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package relay

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/url"
)

// Turn is one prior conversation entry.
type Turn struct {
	Role string
	Text string
}

// Turns is the context array. Each element is an object mapping a role
// to text; an object with several keys yields one turn per key in
// document order.
type Turns []Turn

// UnmarshalJSON walks the tokens so key order survives decoding.
func (ts *Turns) UnmarshalJSON(b []byte) error {
	if bytes.Equal(bytes.TrimSpace(b), []byte("null")) {
		*ts = nil
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(b))
	if err := expectDelim(dec, '['); err != nil {
		return err
	}
	var out Turns
	for dec.More() {
		if err := expectDelim(dec, '{'); err != nil {
			return err
		}
		for dec.More() {
			tok, err := dec.Token()
			if err != nil {
				return err
			}
			role, _ := tok.(string)
			var text string
			if err := dec.Decode(&text); err != nil {
				return fmt.Errorf("context[%d].%s: %w", len(out), role, err)
			}
			out = append(out, Turn{Role: role, Text: text})
		}
		if err := expectDelim(dec, '}'); err != nil {
			return err
		}
	}
	if err := expectDelim(dec, ']'); err != nil {
		return err
	}
	*ts = out
	return nil
}

// MarshalJSON writes one single-key object per turn.
func (ts Turns) MarshalJSON() ([]byte, error) {
	if ts == nil {
		return []byte("null"), nil
	}
	b := []byte{'['}
	for i, t := range ts {
		if i > 0 {
			b = append(b, ',')
		}
		role, err := json.Marshal(t.Role)
		if err != nil {
			return nil, err
		}
		text, err := json.Marshal(t.Text)
		if err != nil {
			return nil, err
		}
		b = append(b, '{')
		b = append(b, role...)
		b = append(b, ':')
		b = append(b, text...)
		b = append(b, '}')
	}
	return append(b, ']'), nil
}

func expectDelim(dec *json.Decoder, want json.Delim) error {
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if d, ok := tok.(json.Delim); !ok || d != want {
		return fmt.Errorf("context: expected %q, got %v", want, tok)
	}
	return nil
}

// Payload is the client request body.
type Payload struct {
	ModelName string `json:"model_name"`
	Prompt    string `json:"prompt"`
	Message   string `json:"message"`
	Context   Turns  `json:"context"`
}

// DecodePayload parses body. model_name and message are required.
func DecodePayload(body []byte) (*Payload, error) {
	var p Payload
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidPayload, err)
	}
	switch {
	case p.ModelName == "":
		return nil, fmt.Errorf("%w: model_name", ErrMissingField)
	case p.Message == "":
		return nil, fmt.Errorf("%w: message", ErrMissingField)
	}
	return &p, nil
}

type part struct {
	Text string `json:"text"`
}

type content struct {
	Role  string `json:"role"`
	Parts []part `json:"parts"`
}

type instruction struct {
	Parts []part `json:"parts"`
}

type upstreamRequest struct {
	SystemInstruction instruction `json:"system_instruction"`
	Contents          []content   `json:"contents"`
}

// UpstreamBody builds the generate-content request: the prompt as the
// system instruction, then the context turns, then the message as the
// final user turn.
func (p *Payload) UpstreamBody() ([]byte, error) {
	req := upstreamRequest{
		SystemInstruction: instruction{Parts: []part{{Text: p.Prompt}}},
		Contents:          make([]content, 0, len(p.Context)+1),
	}
	for _, t := range p.Context {
		req.Contents = append(req.Contents, content{Role: t.Role, Parts: []part{{Text: t.Text}}})
	}
	req.Contents = append(req.Contents, content{Role: "user", Parts: []part{{Text: p.Message}}})
	return json.Marshal(req)
}

// UpstreamPath is the origin-form target for a streaming generate call.
func UpstreamPath(model, key string) string {
	return "/v1beta/models/" + url.PathEscape(model) +
		":streamGenerateContent?alt=sse&key=" + url.QueryEscape(key)
}
