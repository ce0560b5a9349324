// Package feed streams engine events to websocket subscribers.
package feed

import (
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/atomic"

	"github.com/samaelod/scpsim/config"
	"github.com/samaelod/scpsim/scp"
	"github.com/samaelod/scpsim/types"
)

const (
	queueSize    = 64
	pingPeriod   = 25 * time.Second
	readTimeout  = 60 * time.Second
	writeTimeout = 10 * time.Second
	readLimit    = 1 << 20
)

var upgrader = websocket.Upgrader{
	// The feed is read-only and meant for local dashboards.
	CheckOrigin: func(r *http.Request) bool { return true },
}

type client struct {
	conn *websocket.Conn
	send chan []byte
	done chan struct{}
	once sync.Once
}

func (c *client) stop() {
	c.once.Do(func() { close(c.done) })
}

// Hub is a reporter and an http.Handler: every request is upgraded to a
// websocket that receives one envelope per event. A subscriber that cannot
// keep up loses events instead of slowing the engine down.
type Hub struct {
	cfg *config.Holder

	mu      sync.RWMutex
	clients map[*client]struct{}

	sent    *atomic.Uint64
	dropped *atomic.Uint64
}

// NewHub creates a hub. cfg, if set, is announced in the hello envelope.
func NewHub(cfg *config.Holder) *Hub {
	return &Hub{
		cfg:     cfg,
		clients: make(map[*client]struct{}),
		sent:    atomic.NewUint64(0),
		dropped: atomic.NewUint64(0),
	}
}

func (h *Hub) Report(ev types.Event) {
	b, err := Encode(MsgEvent, EventFrom(ev))
	if err != nil {
		log.Printf("feed: encode event %d: %v", ev.Seq, err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		h.enqueue(c, b)
	}
}

func (h *Hub) enqueue(c *client, b []byte) {
	select {
	case c.send <- b:
		h.sent.Inc()
	default:
		h.dropped.Inc()
	}
}

// Clients is the number of connected subscribers.
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Dropped counts envelopes discarded because a subscriber queue was full.
func (h *Hub) Dropped() uint64 {
	return h.dropped.Load()
}

func (h *Hub) Sent() uint64 {
	return h.sent.Load()
}

func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Println("feed upgrade:", err)
		return
	}
	defer conn.Close()

	c := &client{
		conn: conn,
		send: make(chan []byte, queueSize),
		done: make(chan struct{}),
	}

	hello := Hello{Version: scp.Version}
	if h.cfg != nil {
		n := h.cfg.Get()
		hello.Network = &n
	}
	if b, err := Encode(MsgHello, hello); err == nil {
		c.send <- b
	}

	h.register(c)
	defer h.unregister(c)

	go h.writeLoop(c)
	h.readLoop(c)
}

func (h *Hub) register(c *client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()
	c.stop()
}

// readLoop discards anything the subscriber sends and keeps the read
// deadline moving on pongs. It returns when the connection goes away.
func (h *Hub) readLoop(c *client) {
	c.conn.SetReadLimit(readLimit)
	_ = c.conn.SetReadDeadline(time.Now().Add(readTimeout))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(readTimeout))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Println("feed read:", err)
			}
			return
		}
	}
}

func (h *Hub) writeLoop(c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	// Closing the socket also ends readLoop.
	defer c.conn.Close()

	for {
		select {
		case b := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteMessage(websocket.TextMessage, b); err != nil {
				log.Println("feed write:", err)
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			_ = c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeTimeout))
			return
		}
	}
}

// Close disconnects every subscriber.
func (h *Hub) Close() {
	h.mu.Lock()
	clients := h.clients
	h.clients = make(map[*client]struct{})
	h.mu.Unlock()

	for c := range clients {
		c.stop()
	}
}
