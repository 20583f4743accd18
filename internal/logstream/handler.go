// Copyright Pigeonworks LLC
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

// Package logstream serves the console log feed over a websocket.
package logstream

import (
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/pigeonworks-llc/go-fleetvisor/pkg/console"
)

const (
	TypeInitialLogs = "initial_logs"
	TypeLogEntry    = "log_entry"
)

// InitialLogs is the first message on every connection.
type InitialLogs struct {
	Type string                    `json:"type"`
	Logs map[int64][]console.Entry `json:"logs"`
}

// LogEntry carries one appended console line.
type LogEntry struct {
	Type    string        `json:"type"`
	WorldID int64         `json:"worldId"`
	Log     console.Entry `json:"log"`
}

// Source is the log aggregator the feed observes.
type Source interface {
	SubscribeWithSnapshot(buffer int) (map[int64][]console.Entry, *console.Subscription)
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(_ *http.Request) bool { return true },
}

type clientConn struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
}

func (c *clientConn) writeJSON(value any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteJSON(value)
}

// Handler returns the websocket endpoint. Each client receives the
// retained buffers, then every line appended after it attached. A client
// that cannot keep up is disconnected.
func Handler(logs Source, buffer int, logger *zap.Logger) http.HandlerFunc {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("logstream")

	return func(writer http.ResponseWriter, request *http.Request) {
		conn, err := upgrader.Upgrade(writer, request, nil)
		if err != nil {
			logger.Warn("websocket upgrade failed", zap.Error(err))
			return
		}
		client := &clientConn{conn: conn}

		snapshot, sub := logs.SubscribeWithSnapshot(buffer)
		defer func() {
			sub.Unsubscribe()
			_ = conn.Close()
		}()

		remote := zap.String("remote", request.RemoteAddr)
		logger.Debug("log observer attached", remote)

		if err := client.writeJSON(InitialLogs{Type: TypeInitialLogs, Logs: snapshot}); err != nil {
			logger.Debug("log observer write failed", remote, zap.Error(err))
			return
		}

		gone := make(chan struct{})
		go func() {
			defer close(gone)
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					return
				}
			}
		}()

		for {
			select {
			case <-gone:
				logger.Debug("log observer detached", remote)
				return
			case event, ok := <-sub.Events():
				if !ok {
					logger.Warn("log observer dropped for falling behind", remote)
					return
				}
				msg := LogEntry{Type: TypeLogEntry, WorldID: event.WorldID, Log: event.Entry}
				if err := client.writeJSON(msg); err != nil {
					logger.Debug("log observer write failed", remote, zap.Error(err))
					return
				}
			}
		}
	}
}

// NewMux mounts the feed at /ws.
func NewMux(logs Source, buffer int, logger *zap.Logger) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", Handler(logs, buffer, logger))
	return mux
}
