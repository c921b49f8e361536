// Package push 把出价事件推送给在线的参与方。
package push

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512
	sendBuffer     = 256
)

// Hub 维护所有活跃的连接，同一参与方可以同时有多个连接（多端登录）
type Hub struct {
	nodeID   string
	clients  map[string]map[*Client]struct{}
	register chan *Client
	lock     sync.RWMutex
}

func NewHub(nodeID string) *Hub {
	return &Hub{
		nodeID:   nodeID,
		clients:  make(map[string]map[*Client]struct{}),
		register: make(chan *Client),
	}
}

// Run 处理注册，ctx 取消时关闭所有连接
func (h *Hub) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			h.lock.Lock()
			for _, set := range h.clients {
				for c := range set {
					close(c.send)
				}
			}
			h.clients = make(map[string]map[*Client]struct{})
			h.lock.Unlock()
			return nil
		case client := <-h.register:
			h.lock.Lock()
			set, ok := h.clients[client.partyID]
			if !ok {
				set = make(map[*Client]struct{})
				h.clients[client.partyID] = set
			}
			set[client] = struct{}{}
			h.lock.Unlock()
			log.Info().Str("party", client.partyID).Str("node", h.nodeID).Msg("Client registered")
		}
	}
}

// remove 可重复调用：连接已被移除时什么也不做
func (h *Hub) remove(client *Client) {
	h.lock.Lock()
	defer h.lock.Unlock()
	set, ok := h.clients[client.partyID]
	if !ok {
		return
	}
	if _, ok := set[client]; !ok {
		return
	}
	delete(set, client)
	close(client.send)
	if len(set) == 0 {
		delete(h.clients, client.partyID)
	}
	log.Info().Str("party", client.partyID).Msg("Client unregistered")
}

// Deliver 把消息放入该参与方所有连接的发送队列，返回投递的连接数。
// 队列已满的慢连接会被断开，不阻塞其他参与方。
func (h *Hub) Deliver(partyID string, payload []byte) int {
	h.lock.RLock()
	var slow []*Client
	delivered := 0
	for c := range h.clients[partyID] {
		select {
		case c.send <- payload:
			delivered++
		default:
			slow = append(slow, c)
		}
	}
	h.lock.RUnlock()

	for _, c := range slow {
		log.Warn().Str("party", partyID).Msg("Dropping slow websocket client")
		h.remove(c)
	}
	return delivered
}

// Online 返回该参与方当前的连接数
func (h *Hub) Online(partyID string) int {
	h.lock.RLock()
	defer h.lock.RUnlock()
	return len(h.clients[partyID])
}

// Client 是一个 WebSocket 连接的代表
type Client struct {
	hub     *Hub
	conn    *websocket.Conn
	send    chan []byte
	partyID string
}

// writePump 负责将 send 队列中的消息写入 websocket，并定时发送 ping
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump 只处理心跳和关闭帧，客户端发来的业务消息一律忽略
func (c *Client) readPump() {
	defer func() {
		c.hub.remove(c)
		c.conn.Close()
	}()
	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}
