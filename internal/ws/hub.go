package ws

import (
	"sync"

	"github.com/Mariosam2/chat-app-backend/internal/metrics"
	"github.com/rs/zerolog/log"
)

// Hub 按会话 UUID 维护广播组。一个连接可以同时订阅多个房间
// （客户端每打开一个会话就 join 一次），断开时一次性全部退订。
type Hub struct {
	mu    sync.RWMutex
	rooms map[string]map[*Client]bool
}

func NewHub() *Hub { return &Hub{rooms: make(map[string]map[*Client]bool)} }

func (h *Hub) Join(room string, c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.rooms[room] == nil {
		h.rooms[room] = make(map[*Client]bool)
	}
	h.rooms[room][c] = true
}

func (h *Hub) Leave(room string, c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.leaveLocked(room, c)
}

// LeaveAll 在连接断开时把它从所有房间移除。
func (h *Hub) LeaveAll(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for room := range h.rooms {
		h.leaveLocked(room, c)
	}
}

func (h *Hub) leaveLocked(room string, c *Client) {
	m := h.rooms[room]
	if m == nil {
		return
	}
	delete(m, c)
	if len(m) == 0 {
		delete(h.rooms, room)
	}
}

// Broadcast 把一帧发给房间里的所有连接。发送是 fire-and-forget：
// send 缓冲写满的慢客户端直接掉线，不能拖住整个房间。
func (h *Hub) Broadcast(room string, event string, data any) {
	frame, err := EncodeEvent(event, data)
	if err != nil {
		log.Error().Err(err).Str("event", event).Msg("encode broadcast")
		return
	}
	h.mu.RLock()
	clients := make([]*Client, 0, len(h.rooms[room]))
	for c := range h.rooms[room] {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	metrics.WsBroadcastsTotal.Inc()
	for _, c := range clients {
		c.enqueue(frame)
	}
}

// Online 返回房间当前的连接数，供 REST 接口复用。
func (h *Hub) Online(room string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[room])
}
