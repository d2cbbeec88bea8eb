package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"rugrow/server/internal/config"
	"rugrow/server/internal/dashboard"
	"rugrow/server/internal/livelist"
	"rugrow/server/internal/model"
	"rugrow/server/internal/rtdb"
	"rugrow/server/internal/writer"
)

// statusClientClosedRequest 表示客户端在响应前断开（沿用 nginx 的 499）。
const statusClientClosedRequest = 499

type Server struct {
	config *config.Config
	db     rtdb.Database
	dash   *dashboard.Service
	logger *zap.Logger

	// pingInterval 是 WebSocket 保活间隔
	pingInterval time.Duration
	upgrader     websocket.Upgrader
}

func NewServer(cfg *config.Config, db rtdb.Database, dash *dashboard.Service, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		config:       cfg,
		db:           db,
		dash:         dash,
		logger:       logger,
		pingInterval: 30 * time.Second,
	}
	s.upgrader = websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return origin == "" || s.allowedOrigin(origin)
		},
	}
	return s
}

func (s *Server) Routes() http.Handler {
	engine := gin.New()
	engine.Use(s.requestLogger(), gin.Recovery(), s.corsMiddleware())
	engine.GET("/healthz", s.handleHealthz)
	engine.GET("/api/plants", s.handlePlants)
	engine.POST("/api/plants", s.handleAddPlant)
	engine.GET("/api/plants/:id/dashboard", s.handleDashboard)
	engine.POST("/api/plants/:id/water", s.handleWater)
	engine.POST("/api/plants/:id/environment", s.handleEnvironment)
	engine.GET("/api/stream", s.handleStream)
	return engine
}

// handleHealthz 返回服务健康状态。
func (s *Server) handleHealthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

type plantsResponse struct {
	Data      []model.Plant `json:"data"`
	IsLoading bool          `json:"isLoading"`
	Error     *string       `json:"error"`
	Selected  *model.Plant  `json:"selected,omitempty"`
}

// handlePlants 返回植物列表；?selected= 指定选中的植物，缺省选第一株。
func (s *Server) handlePlants(c *gin.Context) {
	ctx, cancel := s.settleContext(c.Request.Context())
	defer cancel()

	st, err := s.dash.SettledPlants(ctx)
	if err != nil && !errors.Is(err, context.DeadlineExceeded) {
		writeError(c, err)
		return
	}

	resp := plantsResponse{Data: st.Data, IsLoading: st.IsLoading, Error: errorString(st.Err)}
	if p, ok := dashboard.SelectPlant(st.Data, c.Query("selected")); ok {
		resp.Selected = &p
	}
	c.JSON(http.StatusOK, resp)
}

type addPlantRequest struct {
	Name    string `json:"name"`
	Species string `json:"species"`
}

// handleAddPlant 新增植物并返回生成的 ID，前端据此自动选中。
func (s *Server) handleAddPlant(c *gin.Context) {
	var req addPlantRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}

	pending, err := s.dash.AddPlant(req.Name, req.Species)
	if err != nil {
		writeError(c, err)
		return
	}
	s.respondWrite(c, http.StatusCreated, pending)
}

// handleDashboard 返回单株植物的指标卡片。
func (s *Server) handleDashboard(c *gin.Context) {
	plantID := c.Param("id")
	if st := s.dash.Plants(); !st.IsLoading && st.Err == nil {
		if _, ok := dashboard.SelectPlant(st.Data, plantID); !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "plant not found"})
			return
		}
	}
	c.JSON(http.StatusOK, s.dash.Snapshot(c.Request.Context(), plantID))
}

type waterRequest struct {
	WaterAmount float64 `json:"waterAmount"`
}

// handleWater 手动浇水，body 可省略。
func (s *Server) handleWater(c *gin.Context) {
	var req waterRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}

	pending, err := s.dash.WaterNow(c.Param("id"), req.WaterAmount)
	if err != nil {
		writeError(c, err)
		return
	}
	s.respondWrite(c, http.StatusAccepted, pending)
}

// handleEnvironment 接收一条传感器读数。
func (s *Server) handleEnvironment(c *gin.Context) {
	var reading model.Reading
	if err := c.ShouldBindJSON(&reading); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}

	pending, err := s.dash.RecordReading(c.Param("id"), reading)
	if err != nil {
		writeError(c, err)
		return
	}
	s.respondWrite(c, http.StatusAccepted, pending)
}

func (s *Server) respondWrite(c *gin.Context, status int, pending *writer.PendingWrite) {
	id, err := pending.Wait(c.Request.Context())
	if err != nil {
		s.logger.Warn("write failed", zap.String("path", c.FullPath()), zap.Error(err))
		writeError(c, err)
		return
	}
	c.JSON(status, gin.H{"id": id})
}

func (s *Server) settleContext(parent context.Context) (context.Context, context.CancelFunc) {
	if d := s.config.Dashboard.SettleTimeout; d > 0 {
		return context.WithTimeout(parent, d)
	}
	return context.WithCancel(parent)
}

// writeError 把领域错误映射为 HTTP 状态码；细节只进日志，响应保持简洁。
func writeError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, dashboard.ErrInvalidPlant),
		errors.Is(err, rtdb.ErrInvalidPath),
		errors.Is(err, rtdb.ErrInvalidQuery),
		errors.Is(err, rtdb.ErrInvalidValue):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	case errors.Is(err, rtdb.ErrPermissionDenied):
		status = http.StatusForbidden
	case errors.Is(err, writer.ErrQueueFull),
		errors.Is(err, writer.ErrClosed),
		errors.Is(err, rtdb.ErrDisconnected),
		errors.Is(err, livelist.ErrClosed):
		status = http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		status = http.StatusGatewayTimeout
	case errors.Is(err, context.Canceled):
		c.AbortWithStatus(statusClientClosedRequest)
		return
	}
	c.JSON(status, gin.H{"error": http.StatusText(status)})
}

func errorString(err error) *string {
	if err == nil {
		return nil
	}
	msg := err.Error()
	return &msg
}

func (s *Server) allowedOrigin(origin string) bool {
	for _, o := range s.config.Server.AllowedOrigins {
		if o == "*" || o == origin {
			return true
		}
	}
	return false
}

func (s *Server) corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		if origin != "" && s.allowedOrigin(origin) {
			c.Header("Access-Control-Allow-Origin", origin)
			c.Header("Vary", "Origin")
			c.Header("Access-Control-Allow-Credentials", "true")
			c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization")
			c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		}
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

// requestLogger 用 zap 记录每个请求。
func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("client_ip", c.ClientIP()),
		}
		switch {
		case c.Writer.Status() >= http.StatusInternalServerError:
			s.logger.Error("request", fields...)
		case c.Writer.Status() >= http.StatusBadRequest:
			s.logger.Warn("request", fields...)
		default:
			s.logger.Debug("request", fields...)
		}
	}
}
