package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"uploadsim/internal/upload"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

const (
	allUploads = "*"
	writeWait  = 5 * time.Second
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		// Allow all origins, tighten for production
		return true
	},
}

// ConnectionManager manages WebSocket connections per topic. The topic is an
// upload ID, or allUploads for the whole widget.
type ConnectionManager struct {
	connections map[string][]*websocket.Conn
	mutex       sync.RWMutex
	log         *slog.Logger
}

func NewConnectionManager(log *slog.Logger) *ConnectionManager {
	return &ConnectionManager{
		connections: make(map[string][]*websocket.Conn),
		log:         log,
	}
}

// AddConnection writes the greeting and registers conn under the same lock,
// so no broadcast can interleave with the greeting.
func (cm *ConnectionManager) AddConnection(topic string, conn *websocket.Conn, hello ProgressMessage) error {
	cm.mutex.Lock()
	defer cm.mutex.Unlock()
	if err := writeJSON(conn, hello); err != nil {
		return err
	}
	cm.connections[topic] = append(cm.connections[topic], conn)
	return nil
}

// RemoveConnection removes a WebSocket connection
func (cm *ConnectionManager) RemoveConnection(topic string, conn *websocket.Conn) {
	cm.mutex.Lock()
	defer cm.mutex.Unlock()
	connections := cm.connections[topic]
	for i, c := range connections {
		if c == conn {
			cm.connections[topic] = append(connections[:i], connections[i+1:]...)
			break
		}
	}
	if len(cm.connections[topic]) == 0 {
		delete(cm.connections, topic)
	}
}

// Count returns the number of registered connections.
func (cm *ConnectionManager) Count() int {
	cm.mutex.RLock()
	defer cm.mutex.RUnlock()
	n := 0
	for _, conns := range cm.connections {
		n += len(conns)
	}
	return n
}

// BroadcastSnapshot sends the full snapshot to allUploads subscribers and the
// matching record to each per-upload subscriber.
func (cm *ConnectionManager) BroadcastSnapshot(snap upload.Snapshot) {
	cm.mutex.RLock()
	defer cm.mutex.RUnlock()

	for topic, connections := range cm.connections {
		message := ProgressMessage{
			Type:      "snapshot",
			Seq:       snap.Seq,
			Aggregate: snap.Aggregate,
		}
		if topic == allUploads {
			message.Records = toResponses(snap.Records)
		} else {
			message.UploadID = topic
			for _, rec := range snap.Records {
				if rec.ID == topic {
					message.Records = []UploadResponse{toResponse(rec)}
					break
				}
			}
			if message.Records == nil {
				message.Message = "upload removed"
			}
		}

		for _, conn := range connections {
			if err := writeJSON(conn, message); err != nil {
				cm.log.Debug("Error sending progress message", "topic", topic, "err", err)
				// Remove the connection if it's no longer valid
				go cm.RemoveConnection(topic, conn)
			}
		}
	}
}

// CloseAll closes every registered connection.
func (cm *ConnectionManager) CloseAll() {
	cm.mutex.Lock()
	defer cm.mutex.Unlock()
	for topic, connections := range cm.connections {
		for _, conn := range connections {
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
				time.Now().Add(writeWait))
			_ = conn.Close()
		}
		delete(cm.connections, topic)
	}
}

func writeJSON(conn *websocket.Conn, message ProgressMessage) error {
	payload, err := json.Marshal(message)
	if err != nil {
		return err
	}
	if err := conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return conn.WriteMessage(websocket.TextMessage, payload)
}

// StartBroadcast subscribes to the machine and fans snapshots out to
// websocket subscribers until ctx is done. The returned channel is closed once
// the broadcaster has stopped and every connection is closed.
func (s *Server) StartBroadcast(ctx context.Context) <-chan struct{} {
	updates, cancel := s.machine.Subscribe(64)
	done := make(chan struct{})
	go func() {
		defer close(done)
		defer s.conns.CloseAll()
		defer cancel()

		for {
			select {
			case <-ctx.Done():
				return
			case snap, ok := <-updates:
				if !ok {
					return
				}
				s.conns.BroadcastSnapshot(snap)
			}
		}
	}()
	return done
}

func (s *Server) wsHandler(c *gin.Context) {
	topic := allUploads
	if id := c.Param("id"); id != "" {
		if _, err := s.machine.Get(id); err != nil {
			writeError(c, err)
			return
		}
		topic = id
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.log.Warn("WebSocket upgrade error", "err", err)
		return
	}
	defer conn.Close()

	snap := s.machine.Snapshot()
	hello := ProgressMessage{
		Type:      "connected",
		Seq:       snap.Seq,
		Aggregate: snap.Aggregate,
	}
	if topic == allUploads {
		hello.Records = toResponses(snap.Records)
	} else {
		hello.UploadID = topic
		for _, rec := range snap.Records {
			if rec.ID == topic {
				hello.Records = []UploadResponse{toResponse(rec)}
			}
		}
	}

	if err := s.conns.AddConnection(topic, conn, hello); err != nil {
		s.log.Debug("WebSocket greeting failed", "topic", topic, "err", err)
		return
	}
	defer s.conns.RemoveConnection(topic, conn)

	// Inbound frames are ignored; reading keeps control frames flowing and
	// detects the client going away.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			s.log.Debug("WebSocket closed", "topic", topic, "err", err)
			return
		}
	}
}
