package dashboard

import (
	"encoding/json"
	"fmt"
	"html/template"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/balwinderxcode-ai/activity-tracker/internal/engine"
	"github.com/balwinderxcode-ai/activity-tracker/internal/session"
	"github.com/balwinderxcode-ai/activity-tracker/pkg/realism"
)

// RunSource 运行数据来源，由API服务器实现
type RunSource interface {
	RunList() []*engine.Run
	FindRun(id string) (*engine.Run, bool)
}

// Dashboard 模拟运行可视化仪表板
type Dashboard struct {
	source   RunSource
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[string]*websocket.Conn
}

// DashboardData 仪表板数据
type DashboardData struct {
	Title      string       `json:"title"`
	LastUpdate time.Time    `json:"last_update"`
	Summary    *SummaryCard `json:"summary"`
	Charts     []*ChartData `json:"charts"`
	Tables     []*TableData `json:"tables"`
	Alerts     []*AlertData `json:"alerts"`
}

// SummaryCard 摘要卡片
type SummaryCard struct {
	TotalRuns     int     `json:"total_runs"`
	RunningRuns   int     `json:"running_runs"`
	CompletedRuns int     `json:"completed_runs"`
	FailedRuns    int     `json:"failed_runs"`
	TotalSessions int     `json:"total_sessions"`
	TotalEvents   int64   `json:"total_events"`
	AverageScore  float64 `json:"average_score"`
}

// ChartData 图表数据
type ChartData struct {
	ID       string                 `json:"id"`
	Type     string                 `json:"type"` // "line", "bar", "pie", "gauge"
	Title    string                 `json:"title"`
	Data     interface{}            `json:"data"`
	Options  map[string]interface{} `json:"options,omitempty"`
	RealTime bool                   `json:"real_time"`
}

// TableData 表格数据
type TableData struct {
	ID      string          `json:"id"`
	Title   string          `json:"title"`
	Headers []string        `json:"headers"`
	Rows    [][]interface{} `json:"rows"`
}

// AlertData 警报数据
type AlertData struct {
	ID        string    `json:"id"`
	Level     string    `json:"level"` // "success", "info", "warning", "danger"
	Title     string    `json:"title"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// NewDashboard 创建新的仪表板
func NewDashboard(source RunSource) *Dashboard {
	return &Dashboard{
		source: source,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		clients: make(map[string]*websocket.Conn),
	}
}

// RegisterRoutes 注册路由
func (d *Dashboard) RegisterRoutes(router *mux.Router) {
	// HTML页面路由
	router.HandleFunc("/dashboard", d.handleDashboard).Methods("GET")
	router.HandleFunc("/dashboard/run/{id}", d.handleRunDetail).Methods("GET")

	// API路由
	router.HandleFunc("/api/dashboard/data", d.handleDashboardData).Methods("GET")
	router.HandleFunc("/api/dashboard/run/{id}/data", d.handleRunData).Methods("GET")

	// WebSocket路由
	router.HandleFunc("/ws/dashboard", d.handleWebSocket)
}

// handleDashboard 处理主仪表板页面
func (d *Dashboard) handleDashboard(w http.ResponseWriter, r *http.Request) {
	d.renderPage(w, d.generateDashboardData())
}

// handleRunDetail 处理运行详情页面
func (d *Dashboard) handleRunDetail(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	data, ok := d.generateRunDetailData(vars["id"])
	if !ok {
		http.NotFound(w, r)
		return
	}
	d.renderPage(w, data)
}

// handleDashboardData 处理仪表板数据API
func (d *Dashboard) handleDashboardData(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(d.generateDashboardData())
}

// handleRunData 处理运行数据API
func (d *Dashboard) handleRunData(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	data, ok := d.generateRunDetailData(vars["id"])
	if !ok {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

// handleWebSocket 处理WebSocket连接，定期推送实时数据
func (d *Dashboard) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := d.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	clientID := fmt.Sprintf("client_%d", time.Now().UnixNano())
	d.mu.Lock()
	d.clients[clientID] = conn
	d.mu.Unlock()
	defer func() {
		d.mu.Lock()
		delete(d.clients, clientID)
		d.mu.Unlock()
	}()

	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	for range ticker.C {
		if err := conn.WriteJSON(d.generateRealTimeData()); err != nil {
			return
		}
	}
}

// generateDashboardData 从当前所有运行生成主仪表板数据
func (d *Dashboard) generateDashboardData() *DashboardData {
	runs := d.source.RunList()

	summary := &SummaryCard{TotalRuns: len(runs)}
	combined := map[session.EventKind]int64{}
	var totalActive, totalIdle, totalPaused time.Duration
	var scoreSum float64
	var scored int
	var rows [][]interface{}
	var alerts []*AlertData

	for _, run := range runs {
		sum := run.CurrentSummary()
		switch run.Status() {
		case engine.StatusRunning:
			summary.RunningRuns++
		case engine.StatusCompleted:
			summary.CompletedRuns++
		case engine.StatusFailed:
			summary.FailedRuns++
		}
		summary.TotalSessions += sum.SessionCount
		summary.TotalEvents += sum.TotalEvents
		for kind, n := range sum.EventCounts {
			combined[kind] += n
		}
		totalActive += sum.TotalActiveTime
		totalIdle += sum.TotalIdleTime
		totalPaused += sum.TotalPausedTime

		report := realism.Analyze(sum)
		if sum.SessionCount > 0 {
			scoreSum += report.Score
			scored++
		}

		rows = append(rows, []interface{}{
			run.ID, string(run.Status()), sum.SessionCount, sum.TotalEvents,
			fmt.Sprintf("%.1f", report.Score), report.Grade,
		})

		if run.Status() == engine.StatusFailed {
			alerts = append(alerts, &AlertData{
				ID:        "alert_" + run.ID,
				Level:     "danger",
				Title:     "运行失败",
				Message:   fmt.Sprintf("运行 %s 异常终止", run.ID),
				Timestamp: time.Now(),
			})
		} else if sum.SessionCount > 0 && report.Grade == "F" {
			alerts = append(alerts, &AlertData{
				ID:        "alert_" + run.ID,
				Level:     "warning",
				Title:     "真实度过低",
				Message:   fmt.Sprintf("运行 %s 真实度评分 %.1f，建议调整配置", run.ID, report.Score),
				Timestamp: time.Now(),
			})
		}
	}
	if scored > 0 {
		summary.AverageScore = scoreSum / float64(scored)
	}

	return &DashboardData{
		Title:      "活动模拟器控制台",
		LastUpdate: time.Now(),
		Summary:    summary,
		Charts: []*ChartData{
			eventMixChart("event_distribution", combined),
			timeSplitChart(totalActive, totalIdle, totalPaused),
			{
				ID:    "realism_gauge",
				Type:  "gauge",
				Title: "平均真实度评分",
				Data: map[string]interface{}{
					"value": summary.AverageScore,
					"min":   0,
					"max":   100,
				},
				RealTime: true,
			},
		},
		Tables: []*TableData{
			{
				ID:      "recent_runs",
				Title:   "运行列表",
				Headers: []string{"运行ID", "状态", "会话数", "事件数", "评分", "等级"},
				Rows:    rows,
			},
		},
		Alerts: alerts,
	}
}

// generateRunDetailData 生成单次运行的详情数据
func (d *Dashboard) generateRunDetailData(runID string) (*DashboardData, bool) {
	run, ok := d.source.FindRun(runID)
	if !ok {
		return nil, false
	}
	sum := run.CurrentSummary()
	report := realism.Analyze(sum)

	var rows [][]interface{}
	for _, s := range sum.Sessions {
		end := "-"
		if s.EndTime != nil {
			end = s.EndTime.Format(time.RFC3339)
		}
		rows = append(rows, []interface{}{
			s.SessionID, s.StartTime.Format(time.RFC3339), end,
			s.Duration.String(), s.TotalEvents,
		})
	}

	var alerts []*AlertData
	for _, issue := range report.Issues {
		level := "info"
		if issue.Severity == "high" {
			level = "danger"
		} else if issue.Severity == "medium" {
			level = "warning"
		}
		alerts = append(alerts, &AlertData{
			ID:        "issue_" + issue.Metric,
			Level:     level,
			Title:     issue.Title,
			Message:   issue.Description,
			Timestamp: report.GeneratedAt,
		})
	}

	return &DashboardData{
		Title:      fmt.Sprintf("运行详情 - %s", runID),
		LastUpdate: time.Now(),
		Summary: &SummaryCard{
			TotalRuns:     1,
			TotalSessions: sum.SessionCount,
			TotalEvents:   sum.TotalEvents,
			AverageScore:  report.Score,
		},
		Charts: []*ChartData{
			eventMixChart("run_event_distribution", sum.EventCounts),
			timeSplitChart(sum.TotalActiveTime, sum.TotalIdleTime, sum.TotalPausedTime),
		},
		Tables: []*TableData{
			{
				ID:      "run_sessions",
				Title:   "会话列表",
				Headers: []string{"会话ID", "开始时间", "结束时间", "时长", "事件数"},
				Rows:    rows,
			},
		},
		Alerts: alerts,
	}, true
}

// eventMixChart 事件类型分布饼图
func eventMixChart(id string, counts map[session.EventKind]int64) *ChartData {
	kinds := []session.EventKind{
		session.EventInputBurst, session.EventScroll,
		session.EventIdleGap, session.EventPause, session.EventResume,
	}
	labels := make([]string, 0, len(kinds))
	data := make([]float64, 0, len(kinds))
	for _, k := range kinds {
		labels = append(labels, string(k))
		data = append(data, float64(counts[k]))
	}
	return &ChartData{
		ID:    id,
		Type:  "pie",
		Title: "事件类型分布",
		Data: map[string]interface{}{
			"labels": labels,
			"data":   data,
			"colors": []string{"#3498db", "#2ecc71", "#95a5a6", "#f39c12", "#9b59b6"},
		},
	}
}

// timeSplitChart 活跃/空闲/休息时间占比柱状图
func timeSplitChart(active, idle, paused time.Duration) *ChartData {
	return &ChartData{
		ID:    "time_split",
		Type:  "bar",
		Title: "时间构成",
		Data: map[string]interface{}{
			"labels": []string{"活跃", "空闲", "休息"},
			"data": []float64{
				active.Minutes(), idle.Minutes(), paused.Minutes(),
			},
			"colors": []string{"#2ecc71", "#95a5a6", "#f39c12"},
		},
	}
}

// generateRealTimeData 生成实时推送数据
func (d *Dashboard) generateRealTimeData() map[string]interface{} {
	runs := d.source.RunList()
	active := 0
	var events int64
	sessions := 0
	for _, run := range runs {
		if run.Status() == engine.StatusRunning {
			active++
		}
		sum := run.CurrentSummary()
		events += sum.TotalEvents
		sessions += sum.SessionCount
	}
	return map[string]interface{}{
		"timestamp": time.Now(),
		"metrics": map[string]interface{}{
			"active_runs":    active,
			"total_runs":     len(runs),
			"total_events":   events,
			"total_sessions": sessions,
		},
	}
}

// renderPage 渲染内嵌模板
func (d *Dashboard) renderPage(w http.ResponseWriter, data *DashboardData) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := pageTemplate.Execute(w, data); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

// BroadcastUpdate 广播更新到所有客户端
func (d *Dashboard) BroadcastUpdate(data interface{}) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for clientID, conn := range d.clients {
		if err := conn.WriteJSON(data); err != nil {
			// 连接已断开，清理
			delete(d.clients, clientID)
		}
	}
}

var pageTemplate = template.Must(template.New("dashboard").Parse(`<!DOCTYPE html>
<html lang="zh-CN">
<head>
<meta charset="utf-8">
<title>{{.Title}}</title>
<style>
body { font-family: -apple-system, "Segoe UI", sans-serif; margin: 2rem; background: #f5f6fa; }
h1 { color: #2c3e50; }
.cards { display: flex; gap: 1rem; flex-wrap: wrap; }
.card { background: #fff; border-radius: 8px; padding: 1rem 1.5rem; box-shadow: 0 1px 3px rgba(0,0,0,.1); }
.card .num { font-size: 1.8rem; font-weight: 600; color: #2980b9; }
table { border-collapse: collapse; background: #fff; margin-top: 1.5rem; width: 100%; }
th, td { padding: .5rem 1rem; border-bottom: 1px solid #ecf0f1; text-align: left; font-size: .9rem; }
th { background: #34495e; color: #fff; }
.alert { padding: .6rem 1rem; border-radius: 6px; margin-top: .5rem; }
.alert.warning { background: #fdf3d8; }
.alert.danger { background: #fadbd8; }
.alert.info { background: #d6eaf8; }
</style>
</head>
<body>
<h1>{{.Title}}</h1>
<p>更新时间: {{.LastUpdate.Format "2006-01-02 15:04:05"}}</p>
{{with .Summary}}
<div class="cards">
  <div class="card"><div class="num">{{.TotalRuns}}</div>总运行数</div>
  <div class="card"><div class="num">{{.RunningRuns}}</div>运行中</div>
  <div class="card"><div class="num">{{.TotalSessions}}</div>会话数</div>
  <div class="card"><div class="num">{{.TotalEvents}}</div>事件数</div>
  <div class="card"><div class="num">{{printf "%.1f" .AverageScore}}</div>平均真实度</div>
</div>
{{end}}
{{range .Alerts}}
<div class="alert {{.Level}}"><strong>{{.Title}}</strong> {{.Message}}</div>
{{end}}
{{range .Tables}}
<h2>{{.Title}}</h2>
<table>
<tr>{{range .Headers}}<th>{{.}}</th>{{end}}</tr>
{{range .Rows}}<tr>{{range .}}<td>{{.}}</td>{{end}}</tr>{{end}}
</table>
{{end}}
<script>
(function () {
  var proto = location.protocol === "https:" ? "wss://" : "ws://";
  var ws = new WebSocket(proto + location.host + "/ws/dashboard");
  ws.onmessage = function () { /* 实时指标由前端按需消费 */ };
})();
</script>
</body>
</html>`))
