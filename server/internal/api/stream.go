package api

import (
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"rugrow/server/internal/livelist"
	"rugrow/server/internal/model"
	"rugrow/server/internal/rtdb"
)

const (
	writeWait  = 5 * time.Second
	pongWait   = 60 * time.Second
	maxMessage = 4096
)

// streamMessage 是推送给客户端的一帧订阅状态。
type streamMessage struct {
	Data      any     `json:"data"`
	IsLoading bool    `json:"isLoading"`
	Error     *string `json:"error"`
}

func newStreamMessage[T any](st livelist.State[T]) streamMessage {
	msg := streamMessage{IsLoading: st.IsLoading, Error: errorString(st.Err)}
	if st.Data != nil {
		msg.Data = st.Data
	}
	return msg
}

// liveStream 是某种记录类型的订阅，状态变化通过 send 推出。
type liveStream interface {
	kind() model.Kind
	retarget(livelist.Target)
	close()
}

type typedStream[T any, PT livelist.Record[T]] struct {
	k      model.Kind
	sub    *livelist.Subscriber[T, PT]
	cancel func()
}

func startStream[T any, PT livelist.Record[T]](db rtdb.Database, k model.Kind, target livelist.Target, logger *zap.Logger, send func(liveStream, streamMessage) error) liveStream {
	s := &typedStream[T, PT]{k: k, sub: livelist.New[T, PT](db, target, logger)}
	ch, cancel := s.sub.Watch()
	s.cancel = cancel
	go func() {
		for st := range ch {
			if err := send(s, newStreamMessage(st)); err != nil {
				return
			}
		}
	}()
	return s
}

func (s *typedStream[T, PT]) kind() model.Kind { return s.k }

func (s *typedStream[T, PT]) retarget(t livelist.Target) { s.sub.Retarget(t) }

func (s *typedStream[T, PT]) close() {
	s.cancel()
	s.sub.Close()
}

// streamConn 是一个 WebSocket 连接及其当前订阅。
type streamConn struct {
	server *Server
	logger *zap.Logger

	mu     sync.Mutex
	conn   *websocket.Conn
	active liveStream
	closed bool
}

// send 只转发当前订阅的状态，已被替换的订阅的迟到帧直接丢弃。
func (c *streamConn) send(from liveStream, msg streamMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal stream message: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || from != c.active {
		return nil
	}
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("write to client: %w", err)
	}
	return nil
}

func (c *streamConn) sendError(msg string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	_ = c.conn.WriteJSON(streamMessage{Error: &msg})
}

// subscribe 切换到新目标：同类型复用订阅，类型变化时先关闭旧订阅。
func (c *streamConn) subscribe(target livelist.Target) error {
	k := model.KindOf(target.Path)
	if k == model.KindUnknown {
		return fmt.Errorf("unsupported path %q", target.Path)
	}

	c.mu.Lock()
	old := c.active
	if old != nil && old.kind() == k {
		c.mu.Unlock()
		old.retarget(target)
		return nil
	}
	c.active = nil
	c.mu.Unlock()

	if old != nil {
		old.close()
	}

	log := c.logger.With(zap.String("kind", string(k)))
	var next liveStream
	// 先登记为 active 再开始推送，保证首帧不被丢弃
	c.mu.Lock()
	defer c.mu.Unlock()
	switch k {
	case model.KindPlant:
		next = startStream[model.Plant](c.server.db, k, target, log, c.send)
	case model.KindEnvironment:
		next = startStream[model.EnvironmentData](c.server.db, k, target, log, c.send)
	case model.KindWatering:
		next = startStream[model.WateringEvent](c.server.db, k, target, log, c.send)
	}
	c.active = next
	return nil
}

func (c *streamConn) close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	active := c.active
	c.active = nil
	c.mu.Unlock()

	if active != nil {
		active.close()
	}
	_ = c.conn.Close()
}

// readLoop 处理客户端的重定向消息，直到连接断开。
func (c *streamConn) readLoop() {
	c.conn.SetReadLimit(maxMessage)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		messageType, data, err := c.conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.logger.Debug("stream read ended", zap.Error(err))
			}
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}

		var target livelist.Target
		if err := json.Unmarshal(data, &target); err != nil {
			c.sendError("invalid json")
			continue
		}
		if err := c.subscribe(target); err != nil {
			c.sendError(err.Error())
			continue
		}
		c.logger.Debug("stream retargeted", zap.String("path", target.Path))
	}
}

// pingLoop 定期发送 ping 保持连接。
func (c *streamConn) pingLoop(interval time.Duration, done <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			c.mu.Lock()
			if c.closed {
				c.mu.Unlock()
				return
			}
			_ = c.conn.WriteControl(websocket.PingMessage, []byte{}, time.Now().Add(writeWait))
			c.mu.Unlock()
		}
	}
}

func parseTarget(c *gin.Context) (livelist.Target, error) {
	target := livelist.Target{
		Path: c.Query("path"),
		Options: livelist.Options{
			OrderBy: c.Query("orderBy"),
		},
	}
	for name, dst := range map[string]*int{
		"limitToFirst": &target.LimitToFirst,
		"limitToLast":  &target.LimitToLast,
	} {
		raw := c.Query(name)
		if raw == "" {
			continue
		}
		n, err := strconv.Atoi(raw)
		if err != nil {
			return target, fmt.Errorf("%s must be an integer", name)
		}
		*dst = n
	}
	if model.KindOf(target.Path) == model.KindUnknown {
		return target, fmt.Errorf("unsupported path %q", target.Path)
	}
	return target, nil
}

// handleStream 把一个实时列表订阅推送到 WebSocket。每次状态变化发送 {data,isLoading,error}。
func (s *Server) handleStream(c *gin.Context) {
	target, err := parseTarget(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ws, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	conn := &streamConn{
		server: s,
		logger: s.logger.With(zap.String("remote", c.Request.RemoteAddr)),
		conn:   ws,
	}
	conn.logger.Info("stream opened", zap.String("path", target.Path))
	defer func() {
		conn.close()
		conn.logger.Info("stream closed")
	}()

	if err := conn.subscribe(target); err != nil {
		conn.sendError(err.Error())
		return
	}

	done := make(chan struct{})
	defer close(done)
	go conn.pingLoop(s.pingInterval, done)

	conn.readLoop()
}
