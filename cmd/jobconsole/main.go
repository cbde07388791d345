// Copyright 2016-present Oliver Eilhard. All rights reserved.
// Use of this source code is governed by a MIT-license.
// See http://olivere.mit-license.org/license.txt for details.

// Command jobconsole administers and runs a Resque-compatible job system.
//
// Administrative commands print JSON to stdout. The work, cron and serve
// commands run until interrupted.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/olivere/jobconsole"
)

func main() {
	cmd := newRootCmd(jobconsole.LoadConfig())
	if err := cmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
