// Copyright 2016-present Oliver Eilhard. All rights reserved.
// Use of this source code is governed by a MIT-license.
// See http://olivere.mit-license.org/license.txt for details.

//go:build !windows

package local

import (
	"os"
	"syscall"
)

var (
	sigQuit     os.Signal = syscall.SIGQUIT
	sigPause    os.Signal = syscall.SIGUSR2
	sigContinue os.Signal = syscall.SIGCONT

	shutdownSignals = []os.Signal{syscall.SIGQUIT, syscall.SIGTERM, syscall.SIGINT}
)

func sendSignal(pid int, sig os.Signal) error {
	p, err := os.FindProcess(pid)
	if err != nil {
		return err
	}
	return p.Signal(sig)
}
