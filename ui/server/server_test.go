// Copyright 2016-present Oliver Eilhard. All rights reserved.
// Use of this source code is governed by a MIT-license.
// See http://olivere.mit-license.org/license.txt for details.

package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/olivere/jobconsole"
)

type nopLogger struct{}

func (nopLogger) Printf(format string, v ...interface{}) {}

func newTestServer(t *testing.T) (*jobconsole.Console, *httptest.Server) {
	t.Helper()
	c := jobconsole.New(jobconsole.SetLogger(nopLogger{}))
	srv := New(c, SetInterval(20*time.Millisecond), SetLogger(nopLogger{}))
	ctx, cancel := context.WithCancel(context.Background())
	go srv.Run(ctx)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		ts.Close()
		cancel()
	})
	return c, ts
}

func dial(t *testing.T, ts *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial failed with %v", err)
	}
	t.Cleanup(func() { ws.Close() })
	return ws
}

// await reads messages until one has the given type.
func await(t *testing.T, ws *websocket.Conn, typ string, v interface{}) {
	t.Helper()
	ws.SetReadDeadline(time.Now().Add(5 * time.Second))
	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			t.Fatalf("waiting for %s: %v", typ, err)
		}
		var head struct {
			Type string `json:"type"`
		}
		if err := json.Unmarshal(data, &head); err != nil {
			t.Fatal(err)
		}
		if head.Type == typ {
			if err := json.Unmarshal(data, v); err != nil {
				t.Fatal(err)
			}
			return
		}
	}
}

func TestStateIsPushed(t *testing.T) {
	c, ts := newTestServer(t)
	if err := c.Enqueue(context.Background(), "mail", "SendEmail", 1); err != nil {
		t.Fatal(err)
	}
	ws := dial(t, ts)
	var state State
	await(t, ws, "SET_STATE", &state)
	if state.Overview == nil || state.Overview.Info == nil {
		t.Fatalf("expected an overview, got %+v", state)
	}
	if have, want := state.Overview.Info.Pending, int64(1); have != want {
		t.Fatalf("Pending = %d, want %d", have, want)
	}
}

func TestCommands(t *testing.T) {
	ctx := context.Background()
	c, ts := newTestServer(t)
	ws := dial(t, ts)

	id, err := c.Statuses().Create(ctx, "Import", nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := ws.WriteJSON(Command{Type: "STATUS_LOOKUP", ID: id}); err != nil {
		t.Fatal(err)
	}
	var rsp Reply
	await(t, ws, "STATUS_LOOKUP", &rsp)
	if !rsp.OK || rsp.Status == nil {
		t.Fatalf("STATUS_LOOKUP = %+v, want a status", rsp)
	}
	if have, want := rsp.Status.UUID, id; have != want {
		t.Fatalf("UUID = %q, want %q", have, want)
	}

	rsp = Reply{}
	if err := ws.WriteJSON(Command{Type: "KILL_STATUS", ID: "missing"}); err != nil {
		t.Fatal(err)
	}
	await(t, ws, "KILL_STATUS", &rsp)
	if have, want := rsp.OK, true; have != want {
		t.Fatalf("KILL_STATUS OK = %v, want %v", have, want)
	}
	if have, want := rsp.Message, "Already removed"; have != want {
		t.Fatalf("KILL_STATUS Message = %q, want %q", have, want)
	}

	for i := 0; i < 2; i++ {
		err := c.Failures().Record(ctx, jobconsole.Failure{
			FailedAt:  time.Now(),
			Payload:   jobconsole.NewEnvelope("SendEmail", i),
			Exception: "Net::ReadTimeout",
			Queue:     "mail",
		})
		if err != nil {
			t.Fatal(err)
		}
	}
	rsp = Reply{}
	if err := ws.WriteJSON(Command{Type: "CLEAR_FAILURES", Class: "SendEmail"}); err != nil {
		t.Fatal(err)
	}
	await(t, ws, "CLEAR_FAILURES", &rsp)
	if have, want := rsp.Count, 2; have != want {
		t.Fatalf("CLEAR_FAILURES Count = %d, want %d", have, want)
	}

	rsp = Reply{}
	if err := ws.WriteJSON(Command{Type: "REBOOT"}); err != nil {
		t.Fatal(err)
	}
	await(t, ws, "REBOOT", &rsp)
	if rsp.OK {
		t.Fatal("unknown command: OK = true, want false")
	}
}

func TestMetrics(t *testing.T) {
	_, ts := newTestServer(t)
	res, err := http.Get(ts.URL + "/metrics")
	if err != nil {
		t.Fatal(err)
	}
	defer res.Body.Close()
	if have, want := res.StatusCode, http.StatusOK; have != want {
		t.Fatalf("StatusCode = %d, want %d", have, want)
	}
	body, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(body), "jobconsole_workers_pruned_total") {
		t.Fatal("expected jobconsole metrics in the output")
	}
}
