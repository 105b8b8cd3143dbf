// internal/service/loyalty/interfaces/ws_feed.go
package interfaces

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"

	"loyaltyhub/internal/pkg/logger"
	"loyaltyhub/internal/pkg/metrics"
	"loyaltyhub/internal/service/loyalty/domain"
	"loyaltyhub/internal/service/loyalty/domain/port"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	clientSendSize = 256
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool { // 看板与服务同域部署，这里不做限制
		return true
	},
}

// FeedHub 维护所有看板连接，并把积分事件广播出去。它同时实现 port.EventPublisher。
type FeedHub struct {
	clients    map[*feedClient]struct{}
	register   chan *feedClient
	unregister chan *feedClient
	broadcast  chan feedMessage
	done       chan struct{}
	lock       sync.RWMutex
}

var _ port.EventPublisher = (*FeedHub)(nil)

type feedMessage struct {
	customerID string
	payload    []byte
}

// feedClient 是一个看板 WebSocket 连接。customerID 不为空时只接收该客户的事件。
type feedClient struct {
	hub        *FeedHub
	conn       *websocket.Conn
	send       chan []byte
	customerID string
}

func NewFeedHub() *FeedHub {
	return &FeedHub{
		clients:    make(map[*feedClient]struct{}),
		register:   make(chan *feedClient),
		unregister: make(chan *feedClient),
		broadcast:  make(chan feedMessage, 1024),
		done:       make(chan struct{}),
	}
}

// Run 处理注册、注销和广播，直到 ctx 结束。
func (h *FeedHub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.lock.Lock()
			for c := range h.clients {
				delete(h.clients, c)
				close(c.send)
			}
			h.lock.Unlock()
			metrics.FeedClients.Set(0)
			return
		case c := <-h.register:
			h.lock.Lock()
			h.clients[c] = struct{}{}
			h.lock.Unlock()
			metrics.FeedClients.Inc()
		case c := <-h.unregister:
			h.lock.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
				metrics.FeedClients.Dec()
			}
			h.lock.Unlock()
		case m := <-h.broadcast:
			h.lock.Lock()
			for c := range h.clients {
				if c.customerID != "" && c.customerID != m.customerID {
					continue
				}
				select {
				case c.send <- m.payload:
				default:
					// 消费太慢的连接直接断开
					delete(h.clients, c)
					close(c.send)
					metrics.FeedClients.Dec()
				}
			}
			h.lock.Unlock()
		}
	}
}

// ClientCount 返回当前连接数。
func (h *FeedHub) ClientCount() int {
	h.lock.RLock()
	defer h.lock.RUnlock()
	return len(h.clients)
}

// Publish 把事件放入广播队列。队列满时丢弃并计数，不阻塞账本写入。
func (h *FeedHub) Publish(ctx context.Context, events ...domain.LoyaltyEvent) error {
	var dropped int
	for _, e := range events {
		payload, err := json.Marshal(e)
		if err != nil {
			return errors.Wrap(err, "encode feed event")
		}
		select {
		case h.broadcast <- feedMessage{customerID: e.CustomerID, payload: payload}:
			metrics.EventsPublished.WithLabelValues("feed", "ok").Inc()
		default:
			dropped++
			metrics.EventsPublished.WithLabelValues("feed", "dropped").Inc()
		}
	}
	if dropped > 0 {
		logger.Ctx(ctx).Warn().Int("dropped", dropped).Msg("dashboard feed queue full, events dropped")
	}
	return nil
}

// ServeWS 把 HTTP 连接升级为 WebSocket 并注册到 hub。
func (h *FeedHub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Ctx(r.Context()).Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	c := &feedClient{
		hub:        h,
		conn:       conn,
		send:       make(chan []byte, clientSendSize),
		customerID: r.URL.Query().Get("customerId"),
	}
	select {
	case h.register <- c:
	case <-h.done:
		conn.Close()
		return
	}

	go c.writePump()
	go c.readPump()
}

// readPump 只负责处理 pong 和检测断开，看板不会发送业务消息。
func (c *feedClient) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
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

func (c *feedClient) writePump() {
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
