// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

//go:build windows

package sock

import (
	"errors"
	"syscall"
)

// Winsock readiness codes.
const (
	wsaEWOULDBLOCK syscall.Errno = 10035
	wsaEINPROGRESS syscall.Errno = 10036
	wsaEALREADY    syscall.Errno = 10037
)

// winsockStack is the native Windows socket layer.
type winsockStack struct{}

func newStack() Stack { return winsockStack{} }

func (winsockStack) Name() string { return "winsock" }

func (winsockStack) wouldBlock(err error) bool {
	return errors.Is(err, wsaEWOULDBLOCK) ||
		errors.Is(err, wsaEINPROGRESS) ||
		errors.Is(err, wsaEALREADY)
}
