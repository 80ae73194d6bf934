package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"
	"wisefido-queue-view/internal/models"
	"wisefido-queue-view/internal/view"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = 30 * time.Second
	wsSendBuffer = 16
)

// QueueMessage 推送给浏览器的视图更新
type QueueMessage struct {
	Type           string `json:"type"`
	Version        uint64 `json:"version"`
	Fingerprint    string `json:"fingerprint"`
	RowsHTML       string `json:"rows_html"`
	TotalWaiting   int    `json:"total_waiting"`
	TotalEmergency int    `json:"total_emergency"`
	RefreshedAt    string `json:"refreshed_at"`
}

type wsClient struct {
	id   string
	conn *websocket.Conn
	send chan []byte
}

// Hub websocket 客户端集合；视图变化时推送 tbody 片段与计数
// 实现 refresher.Sink
type Hub struct {
	mu       sync.Mutex
	clients  map[string]*wsClient
	closed   bool
	current  func() *models.QueueView
	renderer *view.Renderer
	upgrader websocket.Upgrader
	logger   *zap.Logger
}

// NewHub current 用于新连接建立时下发当前视图
func NewHub(current func() *models.QueueView, renderer *view.Renderer, logger *zap.Logger) *Hub {
	return &Hub{
		clients:  make(map[string]*wsClient),
		current:  current,
		renderer: renderer,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
		},
		logger: logger,
	}
}

// ClientCount 当前连接数
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func (h *Hub) encode(v *models.QueueView) ([]byte, error) {
	rows, err := h.renderer.RenderRows(v)
	if err != nil {
		return nil, fmt.Errorf("failed to render rows: %w", err)
	}
	return json.Marshal(QueueMessage{
		Type:           "queue",
		Version:        v.Version,
		Fingerprint:    view.FingerprintString(v.Fingerprint),
		RowsHTML:       rows,
		TotalWaiting:   v.Counts.Waiting,
		TotalEmergency: v.Counts.Emergency,
		RefreshedAt:    v.RefreshedAt.Format(time.RFC3339),
	})
}

// Publish 广播到所有客户端；发送队列已满的慢客户端直接断开
func (h *Hub) Publish(ctx context.Context, v *models.QueueView) error {
	msg, err := h.encode(v)
	if err != nil {
		return err
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for id, c := range h.clients {
		select {
		case c.send <- msg:
		default:
			h.logger.Warn("Dropping slow websocket client", zap.String("client_id", id))
			delete(h.clients, id)
			close(c.send)
		}
	}
	return nil
}

// Close 关闭所有连接，之后不再接受新连接
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for id, c := range h.clients {
		delete(h.clients, id)
		close(c.send)
	}
}

func (h *Hub) register(c *wsClient) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	// 同一 clientId 重连时踢掉旧连接
	if old, ok := h.clients[c.id]; ok {
		close(old.send)
	}
	h.clients[c.id] = c
	return true
}

// enqueue 仅在客户端仍注册时投递，避免向已关闭的 send 写入
func (h *Hub) enqueue(c *wsClient, msg []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if cur, ok := h.clients[c.id]; ok && cur == c {
		select {
		case c.send <- msg:
		default:
		}
	}
}

func (h *Hub) unregister(c *wsClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if cur, ok := h.clients[c.id]; ok && cur == c {
		delete(h.clients, c.id)
		close(c.send)
	}
}

// GET /queue/ws
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("Websocket upgrade failed", zap.Error(err))
		return
	}

	clientID := r.URL.Query().Get("clientId")
	if clientID == "" {
		clientID = uuid.NewString()
	}

	c := &wsClient{
		id:   clientID,
		conn: conn,
		send: make(chan []byte, wsSendBuffer),
	}
	if !h.register(c) {
		_ = conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"))
		_ = conn.Close()
		return
	}

	h.logger.Debug("Websocket client connected", zap.String("client_id", clientID))

	if v := h.current(); v != nil {
		if msg, err := h.encode(v); err == nil {
			h.enqueue(c, msg)
		}
	}

	go h.writePump(c)
	h.readPump(c)
}

// readPump 只处理控制帧与关闭；浏览器不发送业务消息
func (h *Hub) readPump(c *wsClient) {
	defer func() {
		h.unregister(c)
		_ = c.conn.Close()
		h.logger.Debug("Websocket client disconnected", zap.String("client_id", c.id))
	}()

	c.conn.SetReadLimit(512)
	_ = c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Debug("Websocket read error", zap.String("client_id", c.id), zap.Error(err))
			}
			return
		}
	}
}

func (h *Hub) writePump(c *wsClient) {
	ticker := time.NewTicker(wsPingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
