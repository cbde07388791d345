// Copyright 2016-present Oliver Eilhard. All rights reserved.
// Use of this source code is governed by a MIT-license.
// See http://olivere.mit-license.org/license.txt for details.

package jobconsole

import (
	"fmt"
	"strconv"
	"strings"
)

// WorkerID identifies one worker thread. Its string form is
//
//	host(ip):pid:thread:path:queue1,queue2
//
// Host names and IPv6 addresses containing ':' are not supported. The
// path may contain ':'; everything between thread and the last part
// is taken as path when parsing.
type WorkerID struct {
	Host   string
	IP     string
	PID    int
	Thread string
	Path   string
	Queues []string
}

// String returns the identity string stored in the registry.
func (id WorkerID) String() string {
	return fmt.Sprintf("%s:%d:%s:%s:%s", id.hostPart(), id.PID, id.Thread, id.Path, strings.Join(id.Queues, ","))
}

// QueueSpec returns the queues joined with ",", as used on the command line.
func (id WorkerID) QueueSpec() string {
	return strings.Join(id.Queues, ",")
}

// hostPart returns "host(ip)", or only host if the IP is unknown.
func (id WorkerID) hostPart() string {
	if id.IP == "" {
		return id.Host
	}
	return id.Host + "(" + id.IP + ")"
}

func (id WorkerID) pidPart() string {
	return strconv.Itoa(id.PID)
}

// SameProcess reports whether id and o are threads of the same process.
func (id WorkerID) SameProcess(o WorkerID) bool {
	return id.Host == o.Host && id.IP == o.IP && id.PID == o.PID
}

// ParseWorkerID parses the string form of a worker identity.
func ParseWorkerID(s string) (WorkerID, error) {
	parts := strings.Split(s, ":")
	if len(parts) < 5 {
		return WorkerID{}, fmt.Errorf("jobconsole: invalid worker id %q", s)
	}
	var id WorkerID
	host := parts[0]
	if i := strings.IndexByte(host, '('); i >= 0 && strings.HasSuffix(host, ")") {
		id.Host = host[:i]
		id.IP = host[i+1 : len(host)-1]
	} else {
		id.Host = host
	}
	if id.Host == "" {
		return WorkerID{}, fmt.Errorf("jobconsole: invalid worker id %q: missing host", s)
	}
	pid, err := strconv.Atoi(parts[1])
	if err != nil {
		return WorkerID{}, fmt.Errorf("jobconsole: invalid worker id %q: bad pid: %w", s, err)
	}
	id.PID = pid
	id.Thread = parts[2]
	id.Path = strings.Join(parts[3:len(parts)-1], ":")
	if q := parts[len(parts)-1]; q != "" {
		id.Queues = strings.Split(q, ",")
	}
	return id, nil
}
