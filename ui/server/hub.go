// Portions of this code are:
// Copyright 2013 The Gorilla WebSocket Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package server

import "context"

// hub maintains the set of active connections and broadcasts messages
// to them.
type hub struct {
	// Registered connections.
	connections map[*connection]bool

	// Outbound messages to all connections.
	broadcast chan []byte

	// Register requests from the connections.
	register chan *connection

	// Unregister requests from connections.
	unregister chan *connection

	// Replies to a single connection.
	direct chan reply

	// Closed when run returns.
	done chan struct{}
}

type reply struct {
	c       *connection
	payload []byte
}

func newHub() *hub {
	return &hub{
		connections: make(map[*connection]bool),
		broadcast:   make(chan []byte),
		register:    make(chan *connection),
		unregister:  make(chan *connection),
		direct:      make(chan reply),
		done:        make(chan struct{}),
	}
}

// add registers c. It returns false if the hub has stopped.
func (h *hub) add(c *connection) bool {
	select {
	case h.register <- c:
		return true
	case <-h.done:
		return false
	}
}

func (h *hub) remove(c *connection) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}

func (h *hub) reply(c *connection, payload []byte) {
	select {
	case h.direct <- reply{c: c, payload: payload}:
	case <-h.done:
	}
}

func (h *hub) publish(payload []byte) {
	select {
	case h.broadcast <- payload:
	case <-h.done:
	}
}

func (h *hub) run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			for c := range h.connections {
				delete(h.connections, c)
				close(c.send)
			}
			return
		case c := <-h.register:
			h.connections[c] = true
		case c := <-h.unregister:
			if _, ok := h.connections[c]; ok {
				delete(h.connections, c)
				close(c.send)
			}
		case r := <-h.direct:
			if h.connections[r.c] {
				select {
				case r.c.send <- r.payload:
				default:
				}
			}
		case m := <-h.broadcast:
			for c := range h.connections {
				select {
				case c.send <- m:
				default:
					// Slow client
					delete(h.connections, c)
					close(c.send)
				}
			}
		}
	}
}
