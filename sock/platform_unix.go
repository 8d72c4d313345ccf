// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

//go:build unix

package sock

import (
	"errors"
	"syscall"
)

// posixStack is the BSD socket layer.
type posixStack struct{}

func newStack() Stack { return posixStack{} }

func (posixStack) Name() string { return "posix" }

func (posixStack) wouldBlock(err error) bool {
	return errors.Is(err, syscall.EAGAIN) ||
		errors.Is(err, syscall.EWOULDBLOCK) ||
		errors.Is(err, syscall.EALREADY) ||
		errors.Is(err, syscall.EINPROGRESS)
}
