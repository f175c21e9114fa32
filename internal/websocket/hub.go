package websocket

import (
	"encoding/json"

	"github.com/gofiber/contrib/websocket"
	"github.com/rs/zerolog"

	"github.com/voxpipe/api/internal/model"
)

// Client represents one WebSocket subscriber for a job.
type Client struct {
	JobID string
	Conn  *websocket.Conn
	Send  chan []byte
}

// Hub fans job events out to subscribers, grouped by job id. The clients map
// is owned by the Run goroutine; every mutation arrives over the channels.
type Hub struct {
	clients    map[string]map[*Client]bool
	register   chan *Client
	unregister chan *Client
	broadcast  chan *broadcastMessage

	log zerolog.Logger
}

type broadcastMessage struct {
	jobID   string
	message []byte
}

// NewHub creates a hub; call Run in a goroutine to start it.
func NewHub(log zerolog.Logger) *Hub {
	return &Hub{
		clients:    make(map[string]map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan *broadcastMessage, 256),
		log:        log.With().Str("component", "ws").Logger(),
	}
}

// Run is the hub's main loop.
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			if h.clients[client.JobID] == nil {
				h.clients[client.JobID] = make(map[*Client]bool)
			}
			h.clients[client.JobID][client] = true
			h.log.Debug().Str("job", client.JobID).Msg("ws client registered")

		case client := <-h.unregister:
			if clients, ok := h.clients[client.JobID]; ok {
				if _, ok := clients[client]; ok {
					delete(clients, client)
					close(client.Send)
					if len(clients) == 0 {
						delete(h.clients, client.JobID)
					}
				}
			}

		case msg := <-h.broadcast:
			if clients, ok := h.clients[msg.jobID]; ok {
				for client := range clients {
					select {
					case client.Send <- msg.message:
					default:
						close(client.Send)
						delete(clients, client)
					}
				}
			}
		}
	}
}

// HandleConnection pumps messages for one connection until it closes.
func (h *Hub) HandleConnection(conn *websocket.Conn, jobID string) {
	client := &Client{
		JobID: jobID,
		Conn:  conn,
		Send:  make(chan []byte, 16),
	}
	h.register <- client
	defer func() {
		h.unregister <- client
		conn.Close()
	}()

	go func() {
		for msg := range client.Send {
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		}
	}()

	// Subscribers never send anything meaningful; the read loop just
	// detects disconnects.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

// BroadcastProgress sends a progress update to all job subscribers.
func (h *Hub) BroadcastProgress(jobID string, progress int, status model.JobStatus, step string) {
	h.send(jobID, model.WSProgressMessage{
		Type:        model.WSMessageTypeProgress,
		JobID:       jobID,
		Progress:    progress,
		Status:      status,
		CurrentStep: step,
	})
}

// BroadcastComplete sends the final result to all job subscribers.
func (h *Hub) BroadcastComplete(jobID string, result interface{}) {
	h.send(jobID, model.WSCompleteMessage{
		Type:   model.WSMessageTypeComplete,
		JobID:  jobID,
		Result: result,
	})
}

// BroadcastError sends a failure or cancellation notice.
func (h *Hub) BroadcastError(jobID, code, message string) {
	h.send(jobID, model.WSErrorMessage{
		Type:    model.WSMessageTypeError,
		JobID:   jobID,
		Code:    code,
		Message: message,
	})
}

func (h *Hub) send(jobID string, msg interface{}) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.log.Warn().Err(err).Msg("failed to marshal ws message")
		return
	}
	select {
	case h.broadcast <- &broadcastMessage{jobID: jobID, message: data}:
	default:
		h.log.Warn().Str("job", jobID).Msg("ws broadcast buffer full, message dropped")
	}
}
