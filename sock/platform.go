// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package sock

// Stack is the platform socket layer under every channel. One stack is
// selected for the process at startup; channels never switch per call.
type Stack interface {
	// Name identifies the stack in logs.
	Name() string

	// wouldBlock reports whether err is the platform's readiness
	// condition: would-block, resource unavailable, or already in
	// progress.
	wouldBlock(err error) bool
}

// platform is the process-wide stack.
var platform Stack = newStack()

// Platform returns the socket stack selected for this process.
func Platform() Stack {
	return platform
}
