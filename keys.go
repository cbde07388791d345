// Copyright 2016-present Oliver Eilhard. All rights reserved.
// Use of this source code is governed by a MIT-license.
// See http://olivere.mit-license.org/license.txt for details.

package jobconsole

import "strings"

// keyspace builds the store keys used by jobconsole.
type keyspace struct {
	prefix string
}

func newKeyspace(namespace string) keyspace {
	l := len(namespace)
	if l > 0 && namespace[l-1] != ':' {
		namespace = namespace + ":"
	}
	return keyspace{prefix: namespace}
}

func (k keyspace) key(parts ...string) string {
	return k.prefix + strings.Join(parts, ":")
}

func (k keyspace) queues() string                 { return k.key("queues") }
func (k keyspace) queue(name string) string       { return k.key("queue", name) }
func (k keyspace) failed() string                 { return k.key("failed") }
func (k keyspace) workers() string                { return k.key("workers") }
func (k keyspace) worker(id string) string        { return k.key("worker", id) }
func (k keyspace) workerPrefix() string           { return k.key("worker", "") }
func (k keyspace) workerStarted(id string) string { return k.key("worker", id, "started") }
func (k keyspace) workerQuit(id string) string    { return k.key("worker", id, "quit") }
func (k keyspace) stat(name string) string        { return k.key("stat", name) }
func (k keyspace) statuses() string               { return k.key("_statuses") }
func (k keyspace) status(uuid string) string      { return k.key("status", uuid) }
func (k keyspace) kill() string                   { return k.key("_kill") }
func (k keyspace) scheduled() string              { return k.key("scheduled") }

// pauseKey is shared by all threads of one worker process.
func (k keyspace) pauseKey(id WorkerID) string {
	return k.key("worker", id.hostPart(), id.pidPart(), "all_workers", "paused")
}

func (k keyspace) scheduler(host, what string) string {
	return k.key("scheduler", host, what)
}

func (k keyspace) counter(counter, uuid string) string {
	return k.key(counter, uuid)
}

// uuidPattern matches every key whose last component is uuid. uuid must
// not contain pattern characters.
func (k keyspace) uuidPattern(uuid string) string {
	return k.prefix + "*:" + uuid
}
