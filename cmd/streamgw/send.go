// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"time"

	"code.hybscloud.com/streamgw"
	"code.hybscloud.com/streamgw/relay"
	"code.hybscloud.com/streamgw/sock"
	"code.hybscloud.com/streamgw/wire"
	"github.com/spf13/cobra"
)

var sendFlags struct {
	addr    string
	model   string
	prompt  string
	turns   []string
	timeout time.Duration
}

var sendCmd = &cobra.Command{
	Use:   "send MESSAGE",
	Short: "Send one message through a running gateway",
	Long: `Send one chat request to a gateway and print the relayed body as it
streams in. Context turns are given as role=text and sent in order.

Examples:
  streamgw send --model gemini-1.5-flash "What is a suspension point?"

  streamgw send --addr 127.0.0.1:38763 --prompt "Answer briefly" \
    --turn user="hi" --turn model="hello" "and now?"`,
	Args: cobra.ExactArgs(1),
	RunE: runSend,
}

func init() {
	rootCmd.AddCommand(sendCmd)

	sendCmd.Flags().StringVarP(&sendFlags.addr, "addr", "a", "127.0.0.1:38763", "gateway address")
	sendCmd.Flags().StringVarP(&sendFlags.model, "model", "m", "gemini-1.5-flash", "model name")
	sendCmd.Flags().StringVar(&sendFlags.prompt, "prompt", "", "system instruction")
	sendCmd.Flags().StringArrayVar(&sendFlags.turns, "turn", nil, "context turn as role=text, repeatable")
	sendCmd.Flags().DurationVar(&sendFlags.timeout, "timeout", 2*time.Minute, "overall deadline")
}

func runSend(cmd *cobra.Command, args []string) error {
	p := relay.Payload{
		ModelName: sendFlags.model,
		Prompt:    sendFlags.prompt,
		Message:   args[0],
		Context:   relay.Turns{},
	}
	for _, t := range sendFlags.turns {
		role, text, ok := strings.Cut(t, "=")
		if !ok || role == "" {
			return fmt.Errorf("turn %q: want role=text", t)
		}
		p.Context = append(p.Context, relay.Turn{Role: role, Text: text})
	}
	body, err := json.Marshal(p)
	if err != nil {
		return err
	}

	host, portStr, err := net.SplitHostPort(sendFlags.addr)
	if err != nil {
		return err
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return fmt.Errorf("port %q: %w", portStr, err)
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), sendFlags.timeout)
	defer cancel()

	ch := sock.New(sock.TCP, sock.IPAny, sock.WithDialTimeout(sendFlags.timeout))
	defer ch.Close()
	if err := ch.Connect(host, port); err != nil {
		return err
	}

	req := wire.AppendRequest(nil, host, &wire.Request{
		Method: "POST",
		Target: "/",
		Header: wire.Header{{Name: "Content-Type", Value: "application/json"}},
		Body:   body,
	})
	if err := sendRequest(ctx, ch, req); err != nil {
		return err
	}
	return readResponse(&channelReader{ctx: ctx, ch: ch}, cmd.OutOrStdout())
}

func sendRequest(ctx context.Context, ch sock.Channel, p []byte) error {
	off := 0
	_, err := streamgw.Retry(ctx, streamgw.DefaultRetry, func() (struct{}, error) {
		for off < len(p) {
			n, err := ch.Send(p[off:])
			off += n
			if err != nil {
				return struct{}{}, err
			}
		}
		return struct{}{}, nil
	})
	return err
}

// channelReader adapts a non-blocking channel to io.Reader by retrying
// would-block until ctx ends.
type channelReader struct {
	ctx context.Context
	ch  sock.Channel
}

func (r *channelReader) Read(p []byte) (int, error) {
	b, err := streamgw.Retry(r.ctx, streamgw.DefaultRetry, func() ([]byte, error) {
		return r.ch.Receive(len(p))
	})
	if err != nil {
		return 0, err
	}
	if len(b) == 0 {
		return 0, io.EOF
	}
	return copy(p, b), nil
}

// readResponse reads one gateway response from r and copies its body
// to w, decoding chunks as they arrive.
func readResponse(r io.Reader, w io.Writer) error {
	br := bufio.NewReader(r)
	var head wire.ResponseHead
	for {
		line, err := br.ReadString('\n')
		if err != nil {
			return fmt.Errorf("read response head: %w", err)
		}
		done, err := head.AddLine(strings.TrimRight(line, "\r\n"))
		var se *wire.StatusError
		if errors.As(err, &se) {
			msg, _ := io.ReadAll(io.LimitReader(br, 4<<10))
			if i := strings.Index(string(msg), "Error: "); i >= 0 {
				se.Message = strings.TrimSpace(string(msg[i+len("Error: "):]))
			}
			return se
		}
		if err != nil {
			return err
		}
		if done {
			break
		}
	}

	switch {
	case head.Chunked:
		dec := wire.NewChunkDecoder(br)
		for {
			chunk, err := dec.Next()
			if errors.Is(err, io.EOF) {
				return nil
			}
			if err != nil {
				return err
			}
			if _, err := w.Write(chunk); err != nil {
				return err
			}
		}
	case head.ContentLength >= 0:
		_, err := io.CopyN(w, br, head.ContentLength)
		return err
	}
	_, err := io.Copy(w, br)
	return err
}
