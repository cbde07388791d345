// Copyright 2016-present Oliver Eilhard. All rights reserved.
// Use of this source code is governed by a MIT-license.
// See http://olivere.mit-license.org/license.txt for details.

//go:build windows

package local

import (
	"os"

	"github.com/olivere/jobconsole"
)

var (
	sigQuit     os.Signal = os.Interrupt
	sigPause    os.Signal
	sigContinue os.Signal

	shutdownSignals = []os.Signal{os.Interrupt}
)

func sendSignal(pid int, sig os.Signal) error {
	return jobconsole.ErrNoController
}
