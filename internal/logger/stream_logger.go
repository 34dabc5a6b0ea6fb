package logger

import (
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/balwinderxcode-ai/activity-tracker/internal/session"
)

// LogMessage 日志消息结构
type LogMessage struct {
	Level     string    `json:"level"`
	Message   string    `json:"message"`
	Module    string    `json:"module"`
	RunID     *string   `json:"run_id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// EventMessage 实时事件消息，推送给仪表板客户端
type EventMessage struct {
	RunID     string            `json:"run_id"`
	SessionID string            `json:"session_id"`
	Kind      session.EventKind `json:"kind"`
	Timestamp time.Time         `json:"timestamp"`
	Duration  time.Duration     `json:"duration"`
}

// streamPayload 广播信道上的统一载荷
type streamPayload struct {
	Type  string        `json:"type"` // "log" or "event"
	Log   *LogMessage   `json:"log,omitempty"`
	Event *EventMessage `json:"event,omitempty"`
}

// StreamLogger WebSocket广播器，向已连接的客户端实时推送日志与模拟事件
type StreamLogger struct {
	clients    map[*websocket.Conn]bool
	broadcast  chan streamPayload
	register   chan *websocket.Conn
	unregister chan *websocket.Conn
	mu         sync.RWMutex
}

// NewStreamLogger 创建广播器
func NewStreamLogger() *StreamLogger {
	return &StreamLogger{
		clients:    make(map[*websocket.Conn]bool),
		broadcast:  make(chan streamPayload, 256),
		register:   make(chan *websocket.Conn),
		unregister: make(chan *websocket.Conn),
	}
}

// Run 启动广播循环
func (sl *StreamLogger) Run() {
	for {
		select {
		case client := <-sl.register:
			sl.mu.Lock()
			sl.clients[client] = true
			sl.mu.Unlock()
			log.Printf("实时流客户端已连接，当前连接数: %d", len(sl.clients))

		case client := <-sl.unregister:
			sl.mu.Lock()
			if _, ok := sl.clients[client]; ok {
				delete(sl.clients, client)
				client.Close()
			}
			sl.mu.Unlock()

		case payload := <-sl.broadcast:
			sl.mu.Lock()
			for client := range sl.clients {
				if err := client.WriteJSON(payload); err != nil {
					log.Printf("推送实时消息失败: %v", err)
					delete(sl.clients, client)
					client.Close()
				}
			}
			sl.mu.Unlock()
		}
	}
}

// logToConsole 同时输出到控制台
func logToConsole(msg LogMessage) {
	if msg.RunID != nil {
		log.Printf("[%s] [Run-%s] %s: %s", msg.Level, *msg.RunID, msg.Module, msg.Message)
	} else {
		log.Printf("[%s] %s: %s", msg.Level, msg.Module, msg.Message)
	}
}

// publish 入队广播，通道满时丢弃避免阻塞模拟循环
func (sl *StreamLogger) publish(payload streamPayload) {
	select {
	case sl.broadcast <- payload:
	default:
	}
}

// Log 记录指定级别的日志
func (sl *StreamLogger) Log(level, module, message string, runID *string) {
	msg := LogMessage{
		Level:     level,
		Message:   message,
		Module:    module,
		RunID:     runID,
		Timestamp: time.Now(),
	}
	logToConsole(msg)
	sl.publish(streamPayload{Type: "log", Log: &msg})
}

// BroadcastEvent 推送一个模拟事件
func (sl *StreamLogger) BroadcastEvent(runID, sessionID string, ev *session.Event) {
	sl.publish(streamPayload{Type: "event", Event: &EventMessage{
		RunID:     runID,
		SessionID: sessionID,
		Kind:      ev.Kind,
		Timestamp: ev.Timestamp,
		Duration:  ev.Duration,
	}})
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // 允许所有来源
	},
}

// HandleWebSocket 处理WebSocket连接
func (sl *StreamLogger) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("WebSocket升级失败: %v", err)
		return
	}

	// 欢迎消息必须先于注册发出，注册后只允许广播循环写该连接
	welcome := LogMessage{
		Level:     "INFO",
		Message:   "已连接到活动模拟器实时流",
		Module:    "WebSocket",
		Timestamp: time.Now(),
	}
	conn.WriteJSON(streamPayload{Type: "log", Log: &welcome})

	sl.register <- conn

	defer func() {
		sl.unregister <- conn
		conn.Close()
	}()

	// 保持连接活跃
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("WebSocket连接错误: %v", err)
			}
			break
		}
	}
}

// 全局广播器实例
var GlobalLogger *StreamLogger

// InitGlobalLogger 初始化全局广播器
func InitGlobalLogger() {
	GlobalLogger = NewStreamLogger()
	go GlobalLogger.Run()
}

// 便捷函数：全局广播器未初始化时只输出到控制台
func LogInfo(module, message string, runID *string) {
	if GlobalLogger != nil {
		GlobalLogger.Log("INFO", module, message, runID)
		return
	}
	logToConsole(LogMessage{Level: "INFO", Module: module, Message: message, RunID: runID})
}

func LogError(module, message string, runID *string) {
	if GlobalLogger != nil {
		GlobalLogger.Log("ERROR", module, message, runID)
		return
	}
	logToConsole(LogMessage{Level: "ERROR", Module: module, Message: message, RunID: runID})
}

func LogSuccess(module, message string, runID *string) {
	if GlobalLogger != nil {
		GlobalLogger.Log("SUCCESS", module, message, runID)
		return
	}
	logToConsole(LogMessage{Level: "SUCCESS", Module: module, Message: message, RunID: runID})
}

func LogWarning(module, message string, runID *string) {
	if GlobalLogger != nil {
		GlobalLogger.Log("WARNING", module, message, runID)
		return
	}
	logToConsole(LogMessage{Level: "WARNING", Module: module, Message: message, RunID: runID})
}
