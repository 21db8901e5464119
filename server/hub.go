package server

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"
)

const (
	writeWait = 5 * time.Second
	// events queued per client before it is dropped as too slow
	sendBuffer = 16
)

// Event is what websocket clients receive whenever the share changes.
type Event struct {
	Generation uint64 `json:"generation"`
	Op         string `json:"op"`
	Path       string `json:"path,omitempty"`
	Count      int    `json:"count,omitempty"`
}

// client is one websocket connection.  Only its writePump writes to
// conn.
type client struct {
	conn *websocket.Conn
	send chan Event
}

// writePump sends queued events until the hub closes send.
func (c *client) writePump() {
	defer c.conn.Close()
	for ev := range c.send {
		c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		err := c.conn.WriteJSON(ev)
		if err != nil {
			log.Debugf("events: %s: %v", c.conn.RemoteAddr(), err)
			return
		}
	}
	c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseGoingAway, ""),
		time.Now().Add(writeWait))
}

// Hub maintains the set of active websocket clients and broadcasts
// events to them.  It never waits on the network: a client whose
// queue is full is dropped.
type Hub struct {
	clients    map[*client]bool
	broadcast  chan Event
	register   chan *client
	unregister chan *client
	quit       chan struct{}
	done       chan struct{}
	once       sync.Once
	generation func() uint64
}

func newHub(generation func() uint64) *Hub {
	return &Hub{
		generation: generation,
		clients:    make(map[*client]bool),
		broadcast:  make(chan Event, sendBuffer),
		register:   make(chan *client),
		unregister: make(chan *client),
		quit:       make(chan struct{}),
		done:       make(chan struct{}),
	}
}

func (h *Hub) drop(c *client) {
	delete(h.clients, c)
	close(c.send)
}

func (h *Hub) run() {
	defer close(h.done)
	for {
		select {
		case c := <-h.register:
			h.clients[c] = true
			// a hello tells the client which generation it starts from
			c.send <- Event{Generation: h.generation(), Op: "hello"}
		case c := <-h.unregister:
			if h.clients[c] {
				h.drop(c)
			}
		case ev := <-h.broadcast:
			for c := range h.clients {
				select {
				case c.send <- ev:
				default:
					log.Debug("events: dropping slow client")
					h.drop(c)
				}
			}
		case <-h.quit:
			for c := range h.clients {
				h.drop(c)
			}
			return
		}
	}
}

// Publish queues ev for every connected client.
func (h *Hub) Publish(ev Event) {
	select {
	case h.broadcast <- ev:
	case <-h.quit:
	}
}

func (h *Hub) close() {
	h.once.Do(func() { close(h.quit) })
	<-h.done
}

var upgrader = websocket.Upgrader{
	// peers load the page from whatever address discovery printed
	CheckOrigin: func(r *http.Request) bool { return true },
}

// serveWs upgrades the connection to a websocket and registers it with
// the Hub.  Clients never send anything we use; reading only notices
// the close.
func (h *Hub) serveWs(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warnf("websocket upgrade failed: %v", err)
		return
	}
	c := &client{conn: conn, send: make(chan Event, sendBuffer)}
	select {
	case h.register <- c:
	case <-h.quit:
		conn.Close()
		return
	}
	go c.writePump()

	for {
		if _, _, err := conn.NextReader(); err != nil {
			select {
			case h.unregister <- c:
			case <-h.quit:
			}
			return
		}
	}
}
