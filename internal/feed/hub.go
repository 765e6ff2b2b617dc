// Package feed pushes local post changes to websocket subscribers.
package feed

import (
	"net/http"
	"sync"
	"time"

	"github.com/golang/glog"
	"github.com/gorilla/websocket"
	"github.com/oklog/ulid/v2"

	"postkeeper/internal/model"
	"postkeeper/internal/repository"
)

const (
	DefaultBuffer = 64

	writeWait  = 5 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
)

type Event struct {
	ID     string                `json:"id"`
	Type   repository.ChangeType `json:"type"`
	PostID int                   `json:"postId,omitempty"`
	Post   *model.Post           `json:"post,omitempty"`
	At     time.Time             `json:"at"`
}

type subscriber struct {
	send chan Event
	done chan struct{}
	once sync.Once
}

func (s *subscriber) stop() {
	s.once.Do(func() { close(s.done) })
}

// Hub fans events out to every connected subscriber. A subscriber whose
// buffer is full is disconnected rather than waited for.
type Hub struct {
	mu       sync.Mutex
	subs     map[*subscriber]struct{}
	buffer   int
	closed   bool
	upgrader websocket.Upgrader
}

var _ repository.Notifier = (*Hub)(nil)

func NewHub(buffer int) *Hub {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	return &Hub{
		subs:   make(map[*subscriber]struct{}),
		buffer: buffer,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// Notify turns a repository change into an event and publishes it.
func (h *Hub) Notify(c repository.Change) {
	h.Publish(Event{
		ID:     ulid.Make().String(),
		Type:   c.Type,
		PostID: c.PostID,
		Post:   c.Post,
		At:     time.Now().UTC(),
	})
}

func (h *Hub) Publish(ev Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for sub := range h.subs {
		select {
		case sub.send <- ev:
		default:
			glog.Warningf("feed subscriber too slow, dropping it")
			delete(h.subs, sub)
			sub.stop()
		}
	}
}

func (h *Hub) add() *subscriber {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil
	}
	sub := &subscriber{
		send: make(chan Event, h.buffer),
		done: make(chan struct{}),
	}
	h.subs[sub] = struct{}{}
	return sub
}

func (h *Hub) remove(sub *subscriber) {
	h.mu.Lock()
	delete(h.subs, sub)
	h.mu.Unlock()
	sub.stop()
}

func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Close disconnects every subscriber and refuses new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for sub := range h.subs {
		delete(h.subs, sub)
		sub.stop()
	}
}

// ServeHTTP upgrades the request and streams events until the client goes
// away or is dropped. Anything the client sends is discarded.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		glog.Warningf("feed upgrade from %s: %v", r.RemoteAddr, err)
		return
	}
	sub := h.add()
	if sub == nil {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"), time.Now().Add(writeWait))
		_ = conn.Close()
		return
	}
	glog.V(1).Infof("feed subscriber connected from %s", r.RemoteAddr)

	go h.writeLoop(conn, sub)

	conn.SetReadLimit(512)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			glog.V(1).Infof("feed subscriber %s gone: %v", r.RemoteAddr, err)
			break
		}
	}
	h.remove(sub)
}

func (h *Hub) writeLoop(conn *websocket.Conn, sub *subscriber) {
	ping := time.NewTicker(pingPeriod)
	defer func() {
		ping.Stop()
		_ = conn.Close()
	}()
	for {
		select {
		case ev := <-sub.send:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(ev); err != nil {
				glog.Warningf("feed write: %v", err)
				h.remove(sub)
				return
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				h.remove(sub)
				return
			}
		case <-sub.done:
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
			return
		}
	}
}
