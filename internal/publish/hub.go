// Package publish broadcasts the visible tracks of every processed frame to
// websocket clients, typically an external renderer drawing boxes and
// trajectories over the video.
package publish

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/tidwall/sjson"

	"github.com/gelloguiam/spot-video-analysis/internal/detections"
	"github.com/gelloguiam/spot-video-analysis/internal/monitoring"
	"github.com/gelloguiam/spot-video-analysis/internal/vision/tracking"
)

const (
	// clientBuffer is the number of frames queued per client before the
	// client is considered too slow and dropped.
	clientBuffer = 32
	writeWait    = 5 * time.Second
	pongWait     = 60 * time.Second
	pingPeriod   = pongWait * 9 / 10
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

type client struct {
	conn *websocket.Conn
	addr string
	send chan []byte
}

// Hub fans frame messages out to every connected client. PublishFrame never
// blocks the caller: a frame is dropped when the hub is backed up, and a
// client whose queue is full is disconnected.
type Hub struct {
	runID string

	register   chan *client
	unregister chan *client
	broadcast  chan []byte
	done       chan struct{}

	mu      sync.Mutex
	clients map[*client]bool

	dropped int64
}

// NewHub returns a hub tagging messages with runID. Call Run before
// serving clients.
func NewHub(runID string) *Hub {
	return &Hub{
		runID:      runID,
		register:   make(chan *client),
		unregister: make(chan *client),
		broadcast:  make(chan []byte, clientBuffer),
		done:       make(chan struct{}),
		clients:    make(map[*client]bool),
	}
}

// Run dispatches registrations and broadcasts until ctx is done, then
// disconnects every client.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for c := range h.clients {
				delete(h.clients, c)
				close(c.send)
			}
			h.mu.Unlock()
			return

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = true
			h.mu.Unlock()

		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
			h.mu.Unlock()

		case msg := <-h.broadcast:
			h.mu.Lock()
			for c := range h.clients {
				select {
				case c.send <- msg:
				default:
					monitoring.Logf("[publish] dropping slow client %s", c.addr)
					delete(h.clients, c)
					close(c.send)
				}
			}
			h.mu.Unlock()
		}
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Dropped returns the number of frames discarded because the hub was
// backed up.
func (h *Hub) Dropped() int64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.dropped
}

// PublishFrame queues one frame for broadcast.
func (h *Hub) PublishFrame(frame int, tracks []tracking.VisibleTrack) {
	msg, err := EncodeFrame(h.runID, frame, tracks)
	if err != nil {
		monitoring.Logf("[publish] frame %d: %v", frame, err)
		return
	}
	select {
	case h.broadcast <- []byte(msg):
	default:
		h.mu.Lock()
		h.dropped++
		h.mu.Unlock()
		monitoring.Debugf("[publish] hub backed up, frame %d dropped", frame)
	}
}

// EncodeFrame builds {"frame": n, "tracks": [...]} using the same
// per-track fields as the JSON-lines output.
func EncodeFrame(runID string, frame int, tracks []tracking.VisibleTrack) (string, error) {
	out, err := sjson.Set("{}", "frame", frame)
	if err != nil {
		return "", err
	}
	out, err = sjson.SetRaw(out, "tracks", "[]")
	if err != nil {
		return "", err
	}
	for _, v := range tracks {
		rec, err := detections.EncodeTrack(runID, frame, v)
		if err != nil {
			return "", fmt.Errorf("track %d: %w", v.ID, err)
		}
		out, err = sjson.SetRaw(out, "tracks.-1", rec)
		if err != nil {
			return "", fmt.Errorf("track %d: %w", v.ID, err)
		}
	}
	return out, nil
}

// ServeHTTP upgrades the request and streams frames until the client
// disconnects or the hub stops.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		monitoring.Logf("[publish] upgrade %s: %v", r.RemoteAddr, err)
		return
	}
	c := &client{conn: conn, addr: r.RemoteAddr, send: make(chan []byte, clientBuffer)}

	select {
	case h.register <- c:
	case <-h.done:
		conn.Close()
		return
	}
	monitoring.Debugf("[publish] client %s connected", c.addr)

	go h.writePump(c)
	h.readPump(c)
}

// readPump discards client messages; it exists to service control frames
// and notice disconnects.
func (h *Hub) readPump(c *client) {
	defer func() {
		select {
		case h.unregister <- c:
		case <-h.done:
		}
		c.conn.Close()
	}()
	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) writePump(c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// Handler returns a mux serving the hub at /ws.
func (h *Hub) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("GET /ws", h)
	return mux
}
