package ws

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/zaqqye/qr_backend_v1/internal/models"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	sendBufferSize = 256
)

var levelRank = map[string]int{"debug": 0, "info": 1, "warn": 2, "error": 3}

// LogFilter narrows what a dashboard client receives.
type LogFilter struct {
	MinLevel   string
	Categories map[string]struct{}
}

func (f LogFilter) match(entry models.ApplicationLog) bool {
	if f.MinLevel != "" && levelRank[entry.Level] < levelRank[f.MinLevel] {
		return false
	}
	if len(f.Categories) > 0 {
		if _, ok := f.Categories[entry.Category]; !ok {
			return false
		}
	}
	return true
}

type logMessage struct {
	entry   models.ApplicationLog
	payload []byte
}

// LogHub fans application log rows out to connected admin dashboards.
type LogHub struct {
	register   chan *logClient
	unregister chan *logClient
	broadcast  chan logMessage
	count      chan chan int
	clients    map[*logClient]struct{}
	done       chan struct{}
}

func NewLogHub() *LogHub {
	return &LogHub{
		register:   make(chan *logClient),
		unregister: make(chan *logClient),
		broadcast:  make(chan logMessage, 256),
		count:      make(chan chan int),
		clients:    make(map[*logClient]struct{}),
		done:       make(chan struct{}),
	}
}

// Run serves the hub until ctx is cancelled, then disconnects every client.
func (h *LogHub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			for client := range h.clients {
				h.drop(client)
			}
			close(h.done)
			return
		case reply := <-h.count:
			reply <- len(h.clients)
		case client := <-h.register:
			h.clients[client] = struct{}{}
		case client := <-h.unregister:
			if _, ok := h.clients[client]; ok {
				h.drop(client)
			}
		case msg := <-h.broadcast:
			for client := range h.clients {
				if !client.filter.match(msg.entry) {
					continue
				}
				select {
				case client.send <- msg.payload:
				default:
					h.drop(client)
				}
			}
		}
	}
}

// Clients reports the number of connected dashboards.
func (h *LogHub) Clients() int {
	if h == nil {
		return 0
	}
	reply := make(chan int, 1)
	select {
	case h.count <- reply:
		return <-reply
	case <-h.done:
		return 0
	}
}

func (h *LogHub) drop(client *logClient) {
	delete(h.clients, client)
	close(client.send)
	client.conn.Close()
}

// Broadcast queues entry for delivery. It never blocks: when the queue is full the entry is dropped.
func (h *LogHub) Broadcast(entry models.ApplicationLog) {
	if h == nil {
		return
	}
	data, err := json.Marshal(entry)
	if err != nil {
		log.Warn().Err(err).Msg("ws: marshal log entry")
		return
	}
	select {
	case h.broadcast <- logMessage{entry: entry, payload: data}:
	default:
		log.Warn().Str("event", entry.Event).Msg("ws: log stream queue full, dropping entry")
	}
}

type logClient struct {
	hub    *LogHub
	conn   *websocket.Conn
	send   chan []byte
	filter LogFilter
}

func newLogClient(hub *LogHub, conn *websocket.Conn, filter LogFilter) *logClient {
	return &logClient{
		hub:    hub,
		conn:   conn,
		send:   make(chan []byte, sendBufferSize),
		filter: filter,
	}
}

func (c *logClient) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
	}()
	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			break
		}
	}
}

func (c *logClient) writePump() {
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
