// Portions of this code are:
// Copyright 2013 The Gorilla WebSocket Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/olivere/jobconsole"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 4096

	// Time allowed to carry out a command.
	commandTimeout = 30 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// Command is a request sent by the browser.
type Command struct {
	Type      string `json:"type"`
	ID        string `json:"id,omitempty"`     // status uuid
	Worker    string `json:"worker,omitempty"` // worker identity
	Class     string `json:"class,omitempty"`
	Exception string `json:"exception,omitempty"`
}

// Reply is the answer to a Command. It is sent to the issuing
// connection only.
type Reply struct {
	Type    string             `json:"type"`
	OK      bool               `json:"ok"`
	Message string             `json:"message,omitempty"`
	Status  *jobconsole.Status `json:"status,omitempty"`
	Count   int                `json:"count,omitempty"`
}

// connection is an middleman between the websocket connection and the hub.
type connection struct {
	// The websocket connection.
	ws *websocket.Conn
	// Buffered channel of outbound messages.
	send chan []byte
	srv  *Server
}

// readPump pumps commands from the websocket connection to the console.
func (c *connection) readPump() {
	defer func() {
		c.srv.hub.remove(c)
		c.ws.Close()
	}()
	c.ws.SetReadLimit(maxMessageSize)
	c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error { c.ws.SetReadDeadline(time.Now().Add(pongWait)); return nil })
	for {
		var cmd Command
		err := c.ws.ReadJSON(&cmd)
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway) {
				c.srv.logger.Printf("ui: %v", err)
			}
			break
		}
		ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
		rsp := c.srv.execute(ctx, cmd)
		cancel()
		payload, err := json.Marshal(rsp)
		if err != nil {
			c.srv.logger.Printf("ui: %v", err)
			continue
		}
		c.srv.hub.reply(c, payload)
	}
}

// execute carries out cmd. Targets that are already gone are reported
// but not treated as errors.
func (srv *Server) execute(ctx context.Context, cmd Command) *Reply {
	rsp := &Reply{Type: cmd.Type, OK: true}
	var err error
	filter := jobconsole.FailureFilter{Class: cmd.Class, Exception: cmd.Exception}
	switch cmd.Type {
	case "STATUS_LOOKUP":
		rsp.Status, err = srv.c.Status(ctx, cmd.ID)
	case "KILL_STATUS":
		err = srv.c.KillStatus(ctx, cmd.ID)
	case "PAUSE_WORKER":
		err = srv.c.PauseWorker(ctx, cmd.Worker)
	case "CONTINUE_WORKER":
		err = srv.c.ContinueWorker(ctx, cmd.Worker)
	case "QUIT_WORKER":
		err = srv.c.QuitWorker(ctx, cmd.Worker)
	case "REQUEUE_FAILURES":
		rsp.Count, err = srv.c.RequeueFailures(ctx, filter)
	case "CLEAR_FAILURES":
		rsp.Count, err = srv.c.ClearFailures(ctx, filter)
	default:
		rsp.OK = false
		rsp.Message = "Unknown command"
		return rsp
	}
	switch {
	case err == nil:
	case jobconsole.IsNotFound(err):
		rsp.Message = "Already removed"
	case jobconsole.IsStoreUnavailable(err):
		rsp.OK = false
		rsp.Message = "Store is unavailable"
	case errors.Is(err, jobconsole.ErrNoController):
		rsp.OK = false
		rsp.Message = "Not supported on this host"
	default:
		srv.logger.Printf("ui: %s: %v", cmd.Type, err)
		rsp.OK = false
		rsp.Message = err.Error()
	}
	return rsp
}

// write writes a message with the given message type and payload.
func (c *connection) write(mt int, payload []byte) error {
	c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	return c.ws.WriteMessage(mt, payload)
}

// writePump pumps messages from the hub to the websocket connection.
func (c *connection) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.ws.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			if !ok {
				c.write(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.write(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			if err := c.write(websocket.PingMessage, []byte{}); err != nil {
				return
			}
		}
	}
}

type wsserver struct {
	srv *Server
}

// ServeHTTP handles websocket requests from the peer.
func (ws wsserver) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		ws.srv.logger.Printf("ui: %v", err)
		return
	}
	c := &connection{send: make(chan []byte, 256), ws: conn, srv: ws.srv}
	if !ws.srv.hub.add(c) {
		conn.Close()
		return
	}
	go c.writePump()
	c.readPump()
}
