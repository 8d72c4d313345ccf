// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package relay is the gateway's protocol logic: one session program
// per client connection that frames requests, rewrites them for the
// upstream generative API and streams the response back.
//
// A session is a [streamgw.Task]. Every socket interaction is a
// suspension point ([streamgw.Await]), so an idle client or a slow
// upstream costs a parked queue entry rather than a goroutine. Each
// request/response exchange runs as a child task that the session
// awaits with [streamgw.Settle]; the session alone decides what the
// client sees when an exchange fails.
//
// [Server] owns the listening socket, the accept loop task, the
// session table and its sweep schedule.
package relay
