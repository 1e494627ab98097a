// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package server

import (
	"bytes"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/gorilla/websocket"

	"github.com/Skydoge-zjm/runicorn/internal/runstore"
)

const (
	logTailPingInterval = 15 * time.Second
	logTailPongWait     = 60 * time.Second
	logTailIdleFlush    = 200 * time.Millisecond
	logTailPollInterval = 500 * time.Millisecond
	logTailMaxBacklog   = 1 << 20 // 1 MiB, matches the backpressure bound
)

var logTailUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// handleLogsWebSocket serves GET /api/runs/{id}/logs/ws: the existing
// contents of logs.txt followed by a live tail. Multiple clients may
// tail the same run concurrently; each gets its own reader position,
// so one slow client falling behind doesn't affect another.
func (r *Router) handleLogsWebSocket(w http.ResponseWriter, req *http.Request) {
	id := req.PathValue("id")
	if _, err := r.cfg.Index.GetRun(id); err != nil {
		writeAPIError(w, req, err)
		return
	}

	conn, err := logTailUpgrader.Upgrade(w, req, nil)
	if err != nil {
		r.logger.Warn("log tail: websocket upgrade failed", "run_id", id, "error", err)
		return
	}

	logPath := r.cfg.Index.Store().RunDir(id) + "/logs.txt"
	t := &logTailer{conn: conn, logPath: logPath, store: r.cfg.Index.Store(), runID: id, logger: r.logger}
	t.run()
}

// logTailer owns one WebSocket connection's tail of a run's logs.txt.
type logTailer struct {
	conn    *websocket.Conn
	logPath string
	store   *runstore.Store
	runID   string
	logger  interface {
		Warn(msg string, args ...any)
	}
}

func (t *logTailer) run() {
	defer t.conn.Close()

	t.conn.SetReadDeadline(time.Now().Add(logTailPongWait))
	t.conn.SetPongHandler(func(string) error {
		t.conn.SetReadDeadline(time.Now().Add(logTailPongWait))
		return nil
	})

	// A dedicated reader goroutine drains client frames (pings, and the
	// close frame) so the write side can block on I/O without missing a
	// disconnect. The only signal this loop needs from it is "done".
	clientGone := make(chan struct{})
	go func() {
		defer close(clientGone)
		for {
			if _, _, err := t.conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	f, err := os.Open(t.logPath)
	if err != nil {
		t.logger.Warn("log tail: open logs.txt", "run_id", t.runID, "error", err)
		return
	}
	defer f.Close()

	if !t.sendAll(f) {
		return
	}

	watcher, watchErr := fsnotify.NewWatcher()
	if watchErr == nil {
		if err := watcher.Add(t.logPath); err != nil {
			watcher.Close()
			watcher = nil
		} else {
			defer watcher.Close()
		}
	}

	pingTicker := time.NewTicker(logTailPingInterval)
	defer pingTicker.Stop()
	pollTicker := time.NewTicker(logTailPollInterval)
	defer pollTicker.Stop()

	for {
		select {
		case <-clientGone:
			return
		case <-pingTicker.C:
			if err := t.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(10*time.Second)); err != nil {
				return
			}
		case <-pollTicker.C:
			if !t.sendGrowth(f) {
				return
			}
			if t.runFinalized() {
				t.conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, "run finished"),
					time.Now().Add(5*time.Second))
				return
			}
		case event, ok := <-watcherEventsChan(watcher):
			if !ok {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				if !t.sendGrowth(f) {
					return
				}
			}
		}
	}
}

// sendAll streams f's current contents through sendGrowth, so a partial
// trailing line (a writer mid-append) is sent as it is rather than held
// for its newline.
func (t *logTailer) sendAll(f *os.File) bool {
	return t.sendGrowth(f)
}

// sendGrowth reads everything written to f since the last read and
// sends it as a single text frame. Frames are not aligned to line
// boundaries: a partial trailing line goes out as it is and the rest of
// that line arrives in a later frame.
func (t *logTailer) sendGrowth(f *os.File) bool {
	buf := make([]byte, 64*1024)
	var pending bytes.Buffer
	for {
		n, err := f.Read(buf)
		if n > 0 {
			pending.Write(buf[:n])
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return false
		}
	}
	if pending.Len() == 0 {
		return true
	}
	if pending.Len() > logTailMaxBacklog {
		t.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseMessageTooBig, "backlog exceeded"),
			time.Now().Add(5*time.Second))
		return false
	}
	if err := t.conn.WriteMessage(websocket.TextMessage, pending.Bytes()); err != nil {
		return false
	}
	return true
}

func (t *logTailer) runFinalized() bool {
	status, err := t.store.ReadStatus(t.runID)
	if err != nil {
		return false
	}
	switch status.Status {
	case runstore.StatusFinished, runstore.StatusFailed, runstore.StatusInterrupted:
		return true
	default:
		return false
	}
}

func watcherEventsChan(w *fsnotify.Watcher) chan fsnotify.Event {
	if w == nil {
		return nil
	}
	return w.Events
}
