package handlers

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

// ProgressHandler 通过 WebSocket 推送任务进度
type ProgressHandler struct {
	logger      *logrus.Logger
	upgrader    websocket.Upgrader
	clients     map[string]*websocket.Conn
	clientMutex sync.RWMutex
	broadcast   chan ProgressMessage
}

// ProgressMessage 任务进度消息
type ProgressMessage struct {
	TaskID    string `json:"task_id"`
	Status    string `json:"status,omitempty"`
	Step      string `json:"step,omitempty"`
	Percent   int    `json:"percent"`
	Timestamp int64  `json:"timestamp"`
}

// NewProgressHandler 创建进度处理器
func NewProgressHandler(logger *logrus.Logger) *ProgressHandler {
	return &ProgressHandler{
		logger: logger,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // 允许所有来源（生产环境需要限制）
			},
		},
		clients:   make(map[string]*websocket.Conn),
		broadcast: make(chan ProgressMessage, 100),
	}
}

// Start 启动广播服务
func (h *ProgressHandler) Start() {
	go h.runBroadcaster()
}

// runBroadcaster 运行广播器
func (h *ProgressHandler) runBroadcaster() {
	for {
		msg := <-h.broadcast

		var stale []string
		h.clientMutex.RLock()
		for taskID, client := range h.clients {
			// 只发送给对应任务的客户端，"all" 客户端收到全部消息
			if msg.TaskID != taskID && taskID != "all" {
				continue
			}
			if err := client.WriteJSON(msg); err != nil {
				h.logger.WithError(err).Warn("Failed to write to WebSocket client")
				client.Close()
				stale = append(stale, taskID)
			}
		}
		h.clientMutex.RUnlock()

		if len(stale) > 0 {
			h.clientMutex.Lock()
			for _, taskID := range stale {
				delete(h.clients, taskID)
			}
			h.clientMutex.Unlock()
		}
	}
}

// HandleWebSocket 处理 WebSocket 连接
// GET /ws/progress/:task_id
func (h *ProgressHandler) HandleWebSocket(c *gin.Context) {
	taskID := c.Param("task_id")
	if taskID == "" {
		taskID = "all" // 默认监听全部任务
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.WithError(err).Error("Failed to upgrade to WebSocket")
		return
	}
	defer conn.Close()

	h.clientMutex.Lock()
	h.clients[taskID] = conn
	h.clientMutex.Unlock()

	h.logger.WithField("task_id", taskID).Info("WebSocket client connected")

	// 保持连接直到客户端断开
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.logger.WithError(err).Warn("WebSocket error")
			}
			break
		}
	}

	h.clientMutex.Lock()
	delete(h.clients, taskID)
	h.clientMutex.Unlock()

	h.logger.WithField("task_id", taskID).Info("WebSocket client disconnected")
}

// BroadcastProgress 广播任务进度（供 worker 调用）
func (h *ProgressHandler) BroadcastProgress(taskID string, status string, step string, percent int) {
	msg := ProgressMessage{
		TaskID:    taskID,
		Status:    status,
		Step:      step,
		Percent:   percent,
		Timestamp: time.Now().Unix(),
	}

	select {
	case h.broadcast <- msg:
		h.logger.WithFields(logrus.Fields{
			"task_id": taskID,
			"status":  status,
			"percent": percent,
		}).Debug("Progress broadcasted")
	default:
		h.logger.Warn("Broadcast channel is full, dropping message")
	}
}
