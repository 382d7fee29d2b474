package api

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"

	"gate-console/pkg/model"
)

const (
	// events queued per console before it is considered stalled
	sendBuffer = 64
	writeWait  = 5 * time.Second
)

// Hub fans route table change events out to connected consoles. Every
// console has its own queue and writer, so Broadcast never waits on a socket.
type Hub struct {
	upgrader  websocket.Upgrader
	writeWait time.Duration
	mu        sync.RWMutex
	subs      map[*subscriber]struct{}
}

type subscriber struct {
	conn *websocket.Conn
	send chan model.ChangeEvent
	done chan struct{}
	once sync.Once
}

func (s *subscriber) stop() {
	s.once.Do(func() {
		close(s.done)
		_ = s.conn.Close()
	})
}

func NewHub() *Hub {
	return &Hub{
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		writeWait: writeWait,
		subs:      map[*subscriber]struct{}{},
	}
}

// HandleWS upgrades the request and subscribes the connection to change events.
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	c, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.WithFields(log.Fields{"subsystem": "ws", "remote": r.RemoteAddr}).WithError(err).Warn("ws upgrade failed")
		return
	}
	s := &subscriber{
		conn: c,
		send: make(chan model.ChangeEvent, sendBuffer),
		done: make(chan struct{}),
	}
	h.mu.Lock()
	h.subs[s] = struct{}{}
	h.mu.Unlock()
	log.WithFields(log.Fields{"subsystem": "ws", "remote": r.RemoteAddr}).Debug("console subscribed")
	go h.writeLoop(s)
	go h.readLoop(s)
}

// Subscribers returns the number of connected consoles.
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Broadcast queues ev for every subscriber. A console whose queue is full is
// disconnected; it refetches the whole list when it reconnects.
func (h *Hub) Broadcast(ev model.ChangeEvent) {
	if h == nil {
		return
	}
	var stalled []*subscriber
	h.mu.RLock()
	for s := range h.subs {
		select {
		case s.send <- ev:
		default:
			stalled = append(stalled, s)
		}
	}
	h.mu.RUnlock()

	for _, s := range stalled {
		log.WithFields(log.Fields{"subsystem": "ws", "remote": s.conn.RemoteAddr().String()}).Warn("console not reading, dropped")
		h.drop(s)
	}
}

func (h *Hub) writeLoop(s *subscriber) {
	for {
		select {
		case <-s.done:
			return
		case ev := <-s.send:
			_ = s.conn.SetWriteDeadline(time.Now().Add(h.writeWait))
			if err := s.conn.WriteJSON(ev); err != nil {
				log.WithField("subsystem", "ws").WithError(err).Debug("write failed")
				h.drop(s)
				return
			}
		}
	}
}

// readLoop discards client frames; it exists to notice closed connections.
func (h *Hub) readLoop(s *subscriber) {
	defer h.drop(s)
	for {
		if _, _, err := s.conn.NextReader(); err != nil {
			return
		}
	}
}

func (h *Hub) drop(s *subscriber) {
	s.stop()
	h.mu.Lock()
	delete(h.subs, s)
	h.mu.Unlock()
}

// Close disconnects every subscriber.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for s := range h.subs {
		s.stop()
		delete(h.subs, s)
	}
}
