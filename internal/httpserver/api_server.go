package httpserver

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/cors"

	"github.com/balwinderxcode-ai/activity-tracker/internal/config"
	"github.com/balwinderxcode-ai/activity-tracker/internal/engine"
	"github.com/balwinderxcode-ai/activity-tracker/internal/logger"
	"github.com/balwinderxcode-ai/activity-tracker/pkg/realism"
)

// APIServer 模拟运行控制API服务器
type APIServer struct {
	router  *mux.Router
	server  *http.Server
	baseCfg *config.SimulationConfig
	stream  *logger.StreamLogger

	mu   sync.RWMutex
	runs map[string]*engine.Run
	// order 按启动先后记录运行ID，列表接口按此排序返回
	order []string

	// 统计信息
	requestCount int64
	responseTime []time.Duration
	errorCount   int64
	startTime    time.Time
	statsMu      sync.RWMutex
}

// RunInfo 运行概要，列表与详情接口共用
type RunInfo struct {
	RunID        string           `json:"run_id"`
	Status       engine.RunStatus `json:"status"`
	SessionCount int              `json:"session_count"`
	TotalEvents  int64            `json:"total_events"`
}

// StartRunRequest 启动运行请求。所有字段可选，缺省取服务器基础配置
type StartRunRequest struct {
	RunDurationSeconds *int64   `json:"run_duration_seconds,omitempty"`
	RandomSeed         *int64   `json:"random_seed,omitempty"`
	PacingMode         *string  `json:"pacing_mode,omitempty"`
	SpeedMultiplier    *float64 `json:"speed_multiplier,omitempty"`
	HumanModel         *bool    `json:"human_model,omitempty"`
}

// API响应结构
type APIResponse struct {
	Success   bool        `json:"success"`
	Data      interface{} `json:"data,omitempty"`
	Message   string      `json:"message,omitempty"`
	Code      string      `json:"code,omitempty"`
	Timestamp int64       `json:"timestamp"`
}

type PaginatedResponse struct {
	Success    bool        `json:"success"`
	Data       interface{} `json:"data"`
	Pagination Pagination  `json:"pagination"`
	Timestamp  int64       `json:"timestamp"`
}

type Pagination struct {
	Page       int `json:"page"`
	PageSize   int `json:"page_size"`
	Total      int `json:"total"`
	TotalPages int `json:"total_pages"`
}

// NewAPIServer 创建新的HTTP API服务器
func NewAPIServer(addr string, baseCfg *config.SimulationConfig, stream *logger.StreamLogger) *APIServer {
	server := &APIServer{
		router:    mux.NewRouter(),
		baseCfg:   baseCfg,
		stream:    stream,
		runs:      make(map[string]*engine.Run),
		startTime: time.Now(),
	}

	server.setupRoutes()

	// 设置CORS
	c := cors.New(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
	})

	server.server = &http.Server{
		Addr:         addr,
		Handler:      c.Handler(server.router),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return server
}

// setupRoutes 设置路由
func (s *APIServer) setupRoutes() {
	// 添加中间件
	s.router.Use(s.loggingMiddleware)
	s.router.Use(s.metricsMiddleware)

	// API路由
	api := s.router.PathPrefix("/api/v1").Subrouter()

	// 运行管理
	api.HandleFunc("/runs", s.startRunHandler).Methods("POST")
	api.HandleFunc("/runs", s.getRunsHandler).Methods("GET")
	api.HandleFunc("/runs/{id}", s.getRunHandler).Methods("GET")
	api.HandleFunc("/runs/{id}/stop", s.stopRunHandler).Methods("POST")

	// 统计和报告
	api.HandleFunc("/runs/{id}/summary", s.getRunSummaryHandler).Methods("GET")
	api.HandleFunc("/runs/{id}/sessions", s.getRunSessionsHandler).Methods("GET")
	api.HandleFunc("/runs/{id}/report", s.getRunReportHandler).Methods("GET")

	// 健康检查和监控
	api.HandleFunc("/health", s.healthCheckHandler).Methods("GET")
	api.HandleFunc("/metrics", s.metricsHandler).Methods("GET")

	// 实时日志与事件流
	if s.stream != nil {
		s.router.HandleFunc("/ws/logs", s.stream.HandleWebSocket)
	}
}

// 中间件
func (s *APIServer) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		duration := time.Since(start)
		log.Printf("%s %s %s %v", r.Method, r.RequestURI, r.RemoteAddr, duration)
	})
}

func (s *APIServer) metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		duration := time.Since(start)

		s.statsMu.Lock()
		s.requestCount++
		s.responseTime = append(s.responseTime, duration)
		// 保持最近1000个请求的响应时间
		if len(s.responseTime) > 1000 {
			s.responseTime = s.responseTime[1:]
		}
		s.statsMu.Unlock()
	})
}

// 运行相关处理器
func (s *APIServer) startRunHandler(w http.ResponseWriter, r *http.Request) {
	var req StartRunRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.writeErrorResponse(w, http.StatusBadRequest, "invalid_request", "Invalid request body")
			return
		}
	}

	cfg := s.baseCfg.Clone()
	if req.RunDurationSeconds != nil {
		cfg.RunDuration = time.Duration(*req.RunDurationSeconds) * time.Second
	}
	if req.RandomSeed != nil {
		cfg.RandomSeed = req.RandomSeed
	}
	if req.PacingMode != nil {
		cfg.Pacing.Mode = config.PacingMode(*req.PacingMode)
	}
	if req.SpeedMultiplier != nil {
		cfg.Pacing.SpeedMultiplier = *req.SpeedMultiplier
	}
	if req.HumanModel != nil {
		cfg.HumanModel = *req.HumanModel
	}

	if err := cfg.Validate(); err != nil {
		s.writeErrorResponse(w, http.StatusBadRequest, "invalid_config", err.Error())
		return
	}

	var opts []engine.Option
	if s.stream != nil {
		opts = append(opts, engine.WithEventSink(s.stream.BroadcastEvent))
	}

	run, err := engine.Start(cfg, opts...)
	if err != nil {
		s.writeErrorResponse(w, http.StatusInternalServerError, "start_failed", err.Error())
		return
	}

	s.mu.Lock()
	s.runs[run.ID] = run
	s.order = append(s.order, run.ID)
	s.mu.Unlock()

	logger.LogInfo("httpserver", "新运行已启动", &run.ID)
	s.writeSuccessResponse(w, RunInfo{RunID: run.ID, Status: run.Status()})
}

func (s *APIServer) getRunsHandler(w http.ResponseWriter, r *http.Request) {
	// 解析分页参数
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	if page < 1 {
		page = 1
	}
	pageSize, _ := strconv.Atoi(r.URL.Query().Get("page_size"))
	if pageSize < 1 || pageSize > 100 {
		pageSize = 10
	}

	s.mu.RLock()
	total := len(s.order)
	var infos []RunInfo
	for i, id := range s.order {
		if i < (page-1)*pageSize || i >= page*pageSize {
			continue
		}
		infos = append(infos, s.runInfoLocked(id))
	}
	s.mu.RUnlock()

	pagination := Pagination{
		Page:       page,
		PageSize:   pageSize,
		Total:      total,
		TotalPages: (total + pageSize - 1) / pageSize,
	}

	s.writePaginatedResponse(w, infos, pagination)
}

// runInfoLocked 调用方需持有s.mu
func (s *APIServer) runInfoLocked(id string) RunInfo {
	run := s.runs[id]
	sum := run.CurrentSummary()
	return RunInfo{
		RunID:        id,
		Status:       run.Status(),
		SessionCount: sum.SessionCount,
		TotalEvents:  sum.TotalEvents,
	}
}

func (s *APIServer) lookupRun(w http.ResponseWriter, r *http.Request) (*engine.Run, bool) {
	vars := mux.Vars(r)
	s.mu.RLock()
	run, exists := s.runs[vars["id"]]
	s.mu.RUnlock()
	if !exists {
		s.writeErrorResponse(w, http.StatusNotFound, "run_not_found", "Run not found")
		return nil, false
	}
	return run, true
}

func (s *APIServer) getRunHandler(w http.ResponseWriter, r *http.Request) {
	run, ok := s.lookupRun(w, r)
	if !ok {
		return
	}
	sum := run.CurrentSummary()
	s.writeSuccessResponse(w, RunInfo{
		RunID:        run.ID,
		Status:       run.Status(),
		SessionCount: sum.SessionCount,
		TotalEvents:  sum.TotalEvents,
	})
}

func (s *APIServer) stopRunHandler(w http.ResponseWriter, r *http.Request) {
	run, ok := s.lookupRun(w, r)
	if !ok {
		return
	}
	run.Stop()
	<-run.Done()

	logger.LogInfo("httpserver", "运行已停止", &run.ID)
	s.writeSuccessResponse(w, RunInfo{RunID: run.ID, Status: run.Status()})
}

func (s *APIServer) getRunSummaryHandler(w http.ResponseWriter, r *http.Request) {
	run, ok := s.lookupRun(w, r)
	if !ok {
		return
	}
	s.writeSuccessResponse(w, run.CurrentSummary())
}

func (s *APIServer) getRunSessionsHandler(w http.ResponseWriter, r *http.Request) {
	run, ok := s.lookupRun(w, r)
	if !ok {
		return
	}
	s.writeSuccessResponse(w, run.Sessions())
}

func (s *APIServer) getRunReportHandler(w http.ResponseWriter, r *http.Request) {
	run, ok := s.lookupRun(w, r)
	if !ok {
		return
	}
	report := realism.Analyze(run.CurrentSummary())
	s.writeSuccessResponse(w, report)
}

// 健康检查和指标
func (s *APIServer) healthCheckHandler(w http.ResponseWriter, r *http.Request) {
	s.writeSuccessResponse(w, map[string]interface{}{
		"status":    "healthy",
		"uptime":    time.Since(s.startTime).Seconds(),
		"timestamp": time.Now().UnixMilli(),
	})
}

func (s *APIServer) metricsHandler(w http.ResponseWriter, r *http.Request) {
	s.statsMu.RLock()
	var avgResponseTime float64
	if len(s.responseTime) > 0 {
		var total time.Duration
		for _, rt := range s.responseTime {
			total += rt
		}
		avgResponseTime = float64(total.Nanoseconds()) / float64(len(s.responseTime)) / 1e6 // ms
	}
	requestCount := s.requestCount
	errorCount := s.errorCount
	s.statsMu.RUnlock()

	s.mu.RLock()
	runCount := len(s.runs)
	activeRuns := 0
	for _, run := range s.runs {
		if run.Status() == engine.StatusRunning {
			activeRuns++
		}
	}
	s.mu.RUnlock()

	metrics := map[string]interface{}{
		"uptime_seconds":       time.Since(s.startTime).Seconds(),
		"total_requests":       requestCount,
		"error_count":          errorCount,
		"avg_response_time_ms": avgResponseTime,
		"total_runs":           runCount,
		"active_runs":          activeRuns,
	}

	s.writeSuccessResponse(w, metrics)
}

// 辅助方法
func (s *APIServer) writeSuccessResponse(w http.ResponseWriter, data interface{}) {
	response := APIResponse{
		Success:   true,
		Data:      data,
		Timestamp: time.Now().UnixMilli(),
	}
	s.writeJSONResponse(w, http.StatusOK, response)
}

func (s *APIServer) writeErrorResponse(w http.ResponseWriter, statusCode int, code, message string) {
	s.statsMu.Lock()
	s.errorCount++
	s.statsMu.Unlock()

	response := APIResponse{
		Success:   false,
		Message:   message,
		Code:      code,
		Timestamp: time.Now().UnixMilli(),
	}
	s.writeJSONResponse(w, statusCode, response)
}

func (s *APIServer) writePaginatedResponse(w http.ResponseWriter, data interface{}, pagination Pagination) {
	response := PaginatedResponse{
		Success:    true,
		Data:       data,
		Pagination: pagination,
		Timestamp:  time.Now().UnixMilli(),
	}
	s.writeJSONResponse(w, http.StatusOK, response)
}

func (s *APIServer) writeJSONResponse(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(data)
}

// Handler 返回完整的HTTP处理器，供测试和嵌入使用
func (s *APIServer) Handler() http.Handler {
	return s.server.Handler
}

// Router 返回底层路由器，仪表板等附加组件在其上注册路由
func (s *APIServer) Router() *mux.Router {
	return s.router
}

// RunList 按启动顺序返回所有运行
func (s *APIServer) RunList() []*engine.Run {
	s.mu.RLock()
	defer s.mu.RUnlock()
	runs := make([]*engine.Run, 0, len(s.order))
	for _, id := range s.order {
		runs = append(runs, s.runs[id])
	}
	return runs
}

// FindRun 按ID查找运行
func (s *APIServer) FindRun(id string) (*engine.Run, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	run, ok := s.runs[id]
	return run, ok
}

// Start 启动服务器
func (s *APIServer) Start() error {
	log.Printf("Starting HTTP API server on %s", s.server.Addr)
	return s.server.ListenAndServe()
}

// Stop 停止服务器并结束仍在运行的模拟
func (s *APIServer) Stop() error {
	log.Printf("Stopping HTTP API server")

	s.mu.RLock()
	for _, run := range s.runs {
		run.Stop()
	}
	s.mu.RUnlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.server.Shutdown(ctx)
}

// GetStats 获取服务器统计信息
func (s *APIServer) GetStats() map[string]interface{} {
	s.statsMu.RLock()
	defer s.statsMu.RUnlock()

	var avgResponseTime float64
	if len(s.responseTime) > 0 {
		var total time.Duration
		for _, rt := range s.responseTime {
			total += rt
		}
		avgResponseTime = float64(total.Nanoseconds()) / float64(len(s.responseTime)) / 1e6
	}

	return map[string]interface{}{
		"uptime_seconds":       time.Since(s.startTime).Seconds(),
		"total_requests":       s.requestCount,
		"error_count":          s.errorCount,
		"avg_response_time_ms": avgResponseTime,
	}
}
