// Copyright 2016-present Oliver Eilhard. All rights reserved.
// Use of this source code is governed by a MIT-license.
// See http://olivere.mit-license.org/license.txt for details.

package local

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
)

// PSLister lists the processes of this host with ps. It implements
// jobconsole.ProcessLister.
type PSLister struct{}

// PIDs returns the ids of all running processes.
func (PSLister) PIDs(ctx context.Context) ([]int, error) {
	out, err := exec.CommandContext(ctx, "ps", "-A", "-o", "pid=").Output()
	if err != nil {
		return nil, fmt.Errorf("local: ps: %w", err)
	}
	return parsePIDs(out)
}

func parsePIDs(out []byte) ([]int, error) {
	var pids []int
	sc := bufio.NewScanner(bytes.NewReader(out))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		pid, err := strconv.Atoi(line)
		if err != nil {
			return nil, fmt.Errorf("local: unexpected ps output %q", line)
		}
		pids = append(pids, pid)
	}
	return pids, sc.Err()
}
