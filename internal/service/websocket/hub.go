package websocket

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"neurovision/internal/dto"
	"neurovision/internal/logger"
)

const writeWait = 5 * time.Second

type subscription struct {
	conn   *websocket.Conn
	userID int64
}

type userMessage struct {
	userID  int64
	payload []byte
}

// HubService fans completed analyses out to the owning user's connections.
type HubService struct {
	clients    map[*websocket.Conn]int64
	broadcast  chan userMessage
	register   chan subscription
	unregister chan *websocket.Conn
	done       chan struct{}
	mutex      sync.RWMutex
	logger     *logger.Logger
}

func NewHubService(logger *logger.Logger) *HubService {
	return &HubService{
		clients:    make(map[*websocket.Conn]int64),
		broadcast:  make(chan userMessage, 64),
		register:   make(chan subscription),
		unregister: make(chan *websocket.Conn),
		done:       make(chan struct{}),
		logger:     logger,
	}
}

// Run processes registrations and messages until ctx is done. It must be
// called at most once.
func (h *HubService) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			close(h.done)
			h.mutex.Lock()
			for client := range h.clients {
				client.Close()
			}
			h.clients = make(map[*websocket.Conn]int64)
			h.mutex.Unlock()
			return

		case sub := <-h.register:
			h.mutex.Lock()
			h.clients[sub.conn] = sub.userID
			h.mutex.Unlock()
			h.logger.Info("Client connected for user %d. Total: %d", sub.userID, h.GetClientCount())

		case client := <-h.unregister:
			h.mutex.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				client.Close()
			}
			h.mutex.Unlock()
			h.logger.Info("Client disconnected. Total: %d", h.GetClientCount())

		case message := <-h.broadcast:
			h.mutex.Lock()
			for client, userID := range h.clients {
				if userID != message.userID {
					continue
				}
				client.SetWriteDeadline(time.Now().Add(writeWait))
				if err := client.WriteMessage(websocket.TextMessage, message.payload); err != nil {
					h.logger.Error("Error sending message: %v", err)
					delete(h.clients, client)
					client.Close()
				}
			}
			h.mutex.Unlock()
		}
	}
}

// Register adds a connection for userID. After the hub has stopped the
// connection is closed instead.
func (h *HubService) Register(client *websocket.Conn, userID int64) {
	select {
	case h.register <- subscription{conn: client, userID: userID}:
	case <-h.done:
		client.Close()
	}
}

// Unregister removes and closes a connection. It returns immediately once the
// hub has stopped, since Run has closed every connection by then.
func (h *HubService) Unregister(client *websocket.Conn) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

// Notify queues an event for userID. Events are dropped when the queue is full.
func (h *HubService) Notify(userID int64, event dto.AnalysisEvent) {
	payload, err := json.Marshal(event)
	if err != nil {
		h.logger.Error("Error encoding event: %v", err)
		return
	}

	select {
	case h.broadcast <- userMessage{userID: userID, payload: payload}:
	default:
		h.logger.Warning("Event queue full, dropping event %s", event.CorrelationID)
	}
}

func (h *HubService) GetClientCount() int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return len(h.clients)
}
