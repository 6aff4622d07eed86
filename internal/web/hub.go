package web

import (
	"net/http"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"proofmesh/internal/logging"
)

// Hub is the push channel: a pub/sub construct keyed by unguessable room
// ids, so a request-triggered task can notify the originating client without
// the client supplying a session id.
type Hub struct {
	mu    sync.Mutex
	rooms map[string][]*websocket.Conn
}

// NewHub constructs an empty hub.
func NewHub() *Hub {
	return &Hub{rooms: map[string][]*websocket.Conn{}}
}

// NewRoom allocates an unguessable room id.
func (h *Hub) NewRoom() string {
	return uuid.NewString()
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// The surface is same-origin in deployment; cross-origin policy is the
	// proxy's concern.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// ServeWS upgrades a connection and joins it to its room.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	room := r.URL.Query().Get("room")
	if room == "" {
		http.Error(w, "missing room", http.StatusBadRequest)
		return
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.Get(logging.CategoryWeb).Warn("ws upgrade failed: %v", err)
		return
	}
	h.mu.Lock()
	h.rooms[room] = append(h.rooms[room], conn)
	h.mu.Unlock()
	logging.WebDebug("ws client joined room %s", room)

	// Drain (and discard) client messages until the connection closes, then
	// leave the room.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				break
			}
		}
		h.leave(room, conn)
		conn.Close()
	}()
}

func (h *Hub) leave(room string, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	conns := h.rooms[room]
	for i, c := range conns {
		if c == conn {
			h.rooms[room] = append(conns[:i], conns[i+1:]...)
			break
		}
	}
	if len(h.rooms[room]) == 0 {
		delete(h.rooms, room)
	}
}

// Publish sends an event to every connection in a room.
func (h *Hub) Publish(room string, event interface{}) {
	h.mu.Lock()
	conns := append([]*websocket.Conn{}, h.rooms[room]...)
	h.mu.Unlock()
	for _, conn := range conns {
		if err := conn.WriteJSON(event); err != nil {
			logging.WebDebug("ws write to room %s failed: %v", room, err)
		}
	}
}

// ProgressEvent is the wire form of build progress.
type ProgressEvent struct {
	Type    string `json:"type"`
	OpCode  int    `json:"op_code"`
	Current int    `json:"current"`
	Max     int    `json:"max"`
	Message string `json:"message"`
}

// CompletionEvent announces task completion or failure.
type CompletionEvent struct {
	Type   string `json:"type"`
	ErrLvl int    `json:"err_lvl"`
	ErrMsg string `json:"err_msg,omitempty"`
}
