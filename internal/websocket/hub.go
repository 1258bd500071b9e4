package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/pma2020/pma-api/internal/tasks"
)

// Message types pushed to subscribers
const (
	TypeTaskState    = "task_state"
	TypeTaskProgress = "task_progress"
	TypeTaskFinished = "task_finished"
)

// ErrHubClosed is returned by Serve once the hub has shut down
var ErrHubClosed = errors.New("progress hub is closed")

// Message represents a WebSocket message
type Message struct {
	Type      string      `json:"type"`
	TaskID    string      `json:"task_id"`
	Payload   interface{} `json:"payload"`
	Timestamp time.Time   `json:"timestamp"`
}

// Client is one subscriber to a task's progress
type Client struct {
	ID     string
	TaskID string
	Conn   *websocket.Conn
	Send   chan *Message
	Hub    *Hub
}

// Hub fans task progress out to websocket subscribers. Each task id is a
// room.
type Hub struct {
	// Registered clients grouped by task id
	rooms map[string]map[*Client]bool

	// Unregister requests from clients
	Unregister chan *Client

	// Broadcast messages to room
	broadcast chan *BroadcastMessage

	// Active clients by ID for quick lookup
	clients map[string]*Client

	upgrader websocket.Upgrader

	// done is closed when Run returns; closed is its guarded twin
	done     chan struct{}
	doneOnce sync.Once
	closed   bool

	mu sync.RWMutex
}

// BroadcastMessage represents a message to broadcast to a room
type BroadcastMessage struct {
	Room    string
	Message *Message
}

// NewHub creates a new WebSocket hub
func NewHub() *Hub {
	return &Hub{
		rooms:      make(map[string]map[*Client]bool),
		Unregister: make(chan *Client),
		broadcast:  make(chan *BroadcastMessage, 256),
		clients:    make(map[string]*Client),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		done: make(chan struct{}),
	}
}

// Done is closed once the hub has shut down
func (h *Hub) Done() <-chan struct{} {
	return h.done
}

// Run starts the hub's main loop
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case client := <-h.Unregister:
			h.unregisterClient(client)

		case message := <-h.broadcast:
			h.broadcastToRoom(message)

		case <-ctx.Done():
			log.Println("[WebSocket] Hub shutting down")
			h.shutdown()
			h.doneOnce.Do(func() { close(h.done) })
			return
		}
	}
}

// Notify implements tasks.Listener. Delivery is best effort: when the hub
// is backed up the update is dropped.
func (h *Hub) Notify(ctx context.Context, taskID string, rec tasks.Record) error {
	msgType := TypeTaskProgress
	if rec.State.Terminal() {
		msgType = TypeTaskFinished
	}

	msg := &BroadcastMessage{
		Room: taskID,
		Message: &Message{
			Type:      msgType,
			TaskID:    taskID,
			Payload:   rec,
			Timestamp: time.Now(),
		},
	}

	select {
	case h.broadcast <- msg:
		return nil
	default:
		return fmt.Errorf("progress hub backlog full, dropped update for task %s", taskID)
	}
}

// Serve upgrades the request and subscribes the connection to taskID. load
// returns the task's current record. It is called once for the first
// message and again after the client joins the room, so a task that
// finished in between still ends the stream.
func (h *Hub) Serve(w http.ResponseWriter, r *http.Request, taskID string, load func() (*tasks.Record, error)) error {
	select {
	case <-h.done:
		return ErrHubClosed
	default:
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return fmt.Errorf("failed to upgrade connection: %w", err)
	}

	client := &Client{
		ID:     uuid.New().String(),
		TaskID: taskID,
		Conn:   conn,
		Send:   make(chan *Message, 64),
		Hub:    h,
	}

	current, err := load()
	if err != nil {
		log.Printf("[WebSocket] Failed to load task %s: %v", taskID, err)
	}
	finished := false
	if current != nil {
		msgType := TypeTaskState
		if current.State.Terminal() {
			msgType = TypeTaskFinished
			finished = true
		}
		client.Send <- &Message{Type: msgType, TaskID: taskID, Payload: current, Timestamp: time.Now()}
	}

	if !h.registerClient(client) {
		conn.Close()
		return ErrHubClosed
	}

	// Updates from here on reach the room; catch a finish that came earlier
	if !finished {
		if latest, err := load(); err == nil && latest != nil && latest.State.Terminal() {
			h.deliver(client, &Message{Type: TypeTaskFinished, TaskID: taskID, Payload: latest, Timestamp: time.Now()})
		}
	}

	go client.WritePump()
	go client.ReadPump()
	return nil
}

// deliver queues msg for one registered client
func (h *Hub) deliver(client *Client, msg *Message) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if _, ok := h.clients[client.ID]; !ok {
		return
	}
	select {
	case client.Send <- msg:
	default:
		log.Printf("[WebSocket] Client %s send channel full, dropping message", client.ID)
	}
}

// registerClient adds a client to a room. It reports false once the hub
// has shut down.
func (h *Hub) registerClient(client *Client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return false
	}
	h.clients[client.ID] = client

	if h.rooms[client.TaskID] == nil {
		h.rooms[client.TaskID] = make(map[*Client]bool)
	}
	h.rooms[client.TaskID][client] = true

	log.Printf("[WebSocket] Client %s subscribed to task %s. Subscribers: %d",
		client.ID, client.TaskID, len(h.rooms[client.TaskID]))
	return true
}

// unregisterClient removes a client from a room
func (h *Hub) unregisterClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	delete(h.clients, client.ID)

	if clients, ok := h.rooms[client.TaskID]; ok {
		if _, ok := clients[client]; ok {
			delete(clients, client)
			close(client.Send)

			if len(clients) == 0 {
				delete(h.rooms, client.TaskID)
			}
			log.Printf("[WebSocket] Client %s unsubscribed from task %s", client.ID, client.TaskID)
		}
	}
}

// broadcastToRoom sends a message to all clients in a room
func (h *Hub) broadcastToRoom(bm *BroadcastMessage) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if clients, ok := h.rooms[bm.Room]; ok {
		for client := range clients {
			select {
			case client.Send <- bm.Message:
			default:
				log.Printf("[WebSocket] Client %s send channel full, dropping message", client.ID)
			}
		}
	}
}

// GetRoomSize returns the number of subscribers to a task
func (h *Hub) GetRoomSize(room string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if clients, ok := h.rooms[room]; ok {
		return len(clients)
	}
	return 0
}

// shutdown closes all connections
func (h *Hub) shutdown() {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.closed = true
	for _, client := range h.clients {
		close(client.Send)
		if client.Conn != nil {
			client.Conn.Close()
		}
	}

	h.rooms = make(map[string]map[*Client]bool)
	h.clients = make(map[string]*Client)
}

// ReadPump drains the connection so pongs and close frames are handled.
// Subscribers do not send anything meaningful.
func (c *Client) ReadPump() {
	defer func() {
		select {
		case c.Hub.Unregister <- c:
		case <-c.Hub.done:
		}
		c.Conn.Close()
	}()

	c.Conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		if _, _, err := c.Conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("[WebSocket] Read error: %v", err)
			}
			return
		}
	}
}

// WritePump pumps messages from hub to WebSocket connection
func (c *Client) WritePump() {
	ticker := time.NewTicker(54 * time.Second)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			data, err := json.Marshal(message)
			if err != nil {
				log.Printf("[WebSocket] Failed to marshal message: %v", err)
				continue
			}
			if err := c.Conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}

			if message.Type == TypeTaskFinished {
				c.Conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, "task finished"))
				return
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
