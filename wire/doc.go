// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package wire implements the minimal HTTP/1 framing the gateway needs:
// client request parsing, upstream request serialization, response
// header lines, chunked transfer coding, and synthesized responses to
// the client.
//
// Functions here are pure over byte slices. Reading from a channel one
// line or one chunk at a time is the caller's job; [ChunkDecoder] is the
// exception for callers that already hold an io.Reader.
package wire
