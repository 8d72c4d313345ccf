// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package sock provides the gateway's socket channels: plain TCP/UDP
// sockets ([SocketChannel]) and TLS client sessions ([SecureChannel])
// sharing one non-blocking contract.
//
// Every Send and Receive is a single attempt. When the operating system
// has nothing ready inside the channel's poll window, the call returns
// [code.hybscloud.com/iox.ErrWouldBlock] and the caller retries, usually
// by awaiting it from a [code.hybscloud.com/streamgw.Task]. Receive
// returning an empty slice with a nil error means the peer shut down
// its side in order.
//
// Channels are single-owner. [SocketChannel.Release] moves ownership to
// a new value and leaves the old one invalid; Close is idempotent.
package sock
