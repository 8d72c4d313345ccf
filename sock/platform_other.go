// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

//go:build !unix && !windows

package sock

// portableStack relies on deadlines alone for readiness.
type portableStack struct{}

func newStack() Stack { return portableStack{} }

func (portableStack) Name() string { return "portable" }

func (portableStack) wouldBlock(error) bool { return false }
