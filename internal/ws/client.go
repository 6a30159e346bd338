package ws

import (
	"net/http"
	"sync"
	"time"

	"github.com/Mariosam2/chat-app-backend/internal/auth"
	"github.com/Mariosam2/chat-app-backend/internal/config"
	"github.com/Mariosam2/chat-app-backend/internal/metrics"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// Client 是一条已升级的 websocket 连接。握手时认证一次，
// 解析出的用户 UUID 绑定整个连接生命周期；失败时 userUUID 为空。
type Client struct {
	hub          *Hub
	conn         *websocket.Conn
	send         chan []byte
	done         chan struct{}
	userUUID     string
	writeTimeout time.Duration
	pongTimeout  time.Duration
	closeOnce    sync.Once
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Serve 处理 websocket 升级。凭据缺失或非法时连接仍然建立，
// 但立即收到 logout 事件：握手发生在应用层能安全拒绝之前，
// 传输层放行、能力层关死。验证只做一次，重试需要重新连接。
func Serve(hub *Hub, sync *Synchronizer, cfg config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			return
		}

		client := &Client{
			hub:          hub,
			conn:         conn,
			send:         make(chan []byte, 256),
			done:         make(chan struct{}),
			writeTimeout: time.Duration(cfg.WsWriteTimeoutSeconds) * time.Second,
			pongTimeout:  time.Duration(cfg.WsPongTimeoutSeconds) * time.Second,
		}

		token := auth.ExtractWsToken(c.Request)
		if token != "" {
			if claims, err := auth.ParseAccessToken(token, cfg.JWTSecret); err == nil {
				client.userUUID = claims.UserUUID
			}
		}

		metrics.WsConnections.Inc()
		go client.writePump()
		if client.userUUID == "" {
			client.Send(EvtLogout, struct{}{})
		}
		client.readPump(sync)
	}
}

// Send 仅向这一个连接发送事件（私有信道，用于错误与 logout）。
func (c *Client) Send(event string, data any) {
	frame, err := EncodeEvent(event, data)
	if err != nil {
		log.Error().Err(err).Str("event", event).Msg("encode private event")
		return
	}
	c.enqueue(frame)
}

// enqueue 把一帧放进发送缓冲。send 永远不关闭（广播方持有的成员快照
// 可能晚于 Close 才写入），退出只靠 done 信号；缓冲写满视为慢客户端掉线。
func (c *Client) enqueue(frame []byte) {
	select {
	case <-c.done:
	case c.send <- frame:
	default:
		go c.Close()
	}
}

func (c *Client) Close() {
	c.closeOnce.Do(func() {
		c.hub.LeaveAll(c)
		close(c.done)
		if c.conn != nil {
			_ = c.conn.Close()
		}
		metrics.WsConnections.Dec()
	})
}

func (c *Client) readPump(sync *Synchronizer) {
	defer c.Close()
	c.conn.SetReadLimit(1 << 20) // 1MB
	_ = c.conn.SetReadDeadline(time.Now().Add(c.pongTimeout))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(c.pongTimeout))
	})
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			break
		}
		event, payload, err := DecodeEvent(data)
		if err != nil {
			c.Send(EvtMessageError, ErrorData{Error: err.Error()})
			continue
		}
		metrics.WsEventsTotal.WithLabelValues(event).Inc()
		if c.userUUID == "" {
			// 未认证连接的所有意图都原地拒绝，不会到达同步器。
			c.Send(EvtLogout, struct{}{})
			continue
		}
		sync.Dispatch(c, event, payload)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(30 * time.Second)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()
	for {
		select {
		case <-c.done:
			_ = c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
			_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		case message := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			_, _ = w.Write(message)
			_ = w.Close()
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
