package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/traveler-leon/aeroflow/agents"
	"github.com/traveler-leon/aeroflow/bizapi"
	"github.com/traveler-leon/aeroflow/checkpoint"
	"github.com/traveler-leon/aeroflow/collab"
	"github.com/traveler-leon/aeroflow/config"
	"github.com/traveler-leon/aeroflow/contextwindow"
	"github.com/traveler-leon/aeroflow/flightdb"
	"github.com/traveler-leon/aeroflow/internal/metrics"
	"github.com/traveler-leon/aeroflow/internal/redispool"
	"github.com/traveler-leon/aeroflow/internal/server"
	"github.com/traveler-leon/aeroflow/knowledge"
	"github.com/traveler-leon/aeroflow/llm"
	"github.com/traveler-leon/aeroflow/session"
	"github.com/traveler-leon/aeroflow/types"
)

var _ collab.CallRecorder = (*metrics.Collector)(nil)

// =============================================================================
// 🖥️ Server 结构
// =============================================================================

// Server 是 aeroflow 的主服务器
type Server struct {
	cfg        *config.Config
	configPath string
	logger     *zap.Logger
	logLevel   zap.AtomicLevel

	// 会话编排
	orch *session.Orchestrator

	// 依赖
	redisMgr         *redispool.Manager
	metricsCollector *metrics.Collector

	// 服务器管理器
	httpManager *server.Manager

	// 配置热重载
	reloader *config.Reloader
}

// NewServer 创建新的服务器实例
func NewServer(cfg *config.Config, configPath string, logger *zap.Logger, logLevel zap.AtomicLevel) *Server {
	return &Server{
		cfg:        cfg,
		configPath: configPath,
		logger:     logger,
		logLevel:   logLevel,
	}
}

// =============================================================================
// 🚀 启动流程
// =============================================================================

// Start 启动所有服务
func (s *Server) Start() error {
	// 1. 初始化指标收集器
	s.metricsCollector = metrics.NewCollector("aeroflow", s.logger)

	// 2. 初始化编排器及其协作方
	if err := s.initOrchestrator(); err != nil {
		return fmt.Errorf("failed to init orchestrator: %w", err)
	}

	// 3. 初始化配置热重载
	if err := s.initReloader(); err != nil {
		return fmt.Errorf("failed to init config reloader: %w", err)
	}

	// 4. 启动 HTTP 服务器
	if err := s.startHTTPServer(); err != nil {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}

	s.logger.Info("All servers started",
		zap.Int("http_port", s.cfg.Server.HTTPPort),
		zap.Bool("hot_reload_enabled", s.configPath != ""),
	)

	return nil
}

// =============================================================================
// 🔧 初始化方法
// =============================================================================

// initOrchestrator 装配检查点后端、协作方和机场客服工作流
func (s *Server) initOrchestrator() error {
	// Redis 连接池
	s.redisMgr = redispool.NewManager(redispool.Config{
		Addr:         s.cfg.Redis.Addr,
		Password:     s.cfg.Redis.Password,
		DB:           s.cfg.Redis.DB,
		MaxRetries:   3,
		PoolSize:     s.cfg.Redis.PoolSize,
		MinIdleConns: s.cfg.Redis.MinIdleConns,
		PoolTimeout:  s.cfg.Redis.PoolTimeout,

		HealthCheckInterval: 30 * time.Second,
	}, s.logger)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	client, err := s.redisMgr.Client(ctx)
	if err != nil {
		return fmt.Errorf("redis unreachable at %s: %w", s.cfg.Redis.Addr, err)
	}

	saver := checkpoint.NewRedisSaver(client, s.cfg.Redis.KeyPrefix, s.cfg.Redis.CheckpointTTL, s.logger)
	store := checkpoint.NewRedisStore(client, s.cfg.Redis.KeyPrefix)

	// 航班数据库
	flights, err := flightdb.Open(s.cfg.FlightDB.Path, s.logger)
	if err != nil {
		return fmt.Errorf("failed to open flight database: %w", err)
	}

	// 推理协作方：未配置端点时降级为固定回复
	var reasoner collab.Reasoner
	if s.cfg.Reasoner.Endpoint != "" {
		reasoner = llm.NewClient(llm.Options{
			Endpoint: s.cfg.Reasoner.Endpoint,
			APIKey:   s.cfg.Reasoner.APIKey,
			Model:    s.cfg.Reasoner.Model,
			Timeout:  s.cfg.Reasoner.Timeout,
		}, s.logger)
		s.logger.Info("Reasoner initialized",
			zap.String("endpoint", s.cfg.Reasoner.Endpoint),
			zap.String("model", s.cfg.Reasoner.Model))
	} else {
		reasoner = &collab.StaticReasoner{Reply: "抱歉，智能推理服务暂未配置，请联系人工客服。"}
		s.logger.Warn("Reasoner endpoint not configured, falling back to canned replies")
	}

	// 协作方调用计数与时延打点
	var rec collab.CallRecorder
	if s.metricsCollector != nil {
		rec = s.metricsCollector
	}
	reasoner = collab.InstrumentReasoner(reasoner, rec)

	deps := agents.Deps{
		Reasoner: reasoner,
		Searcher: collab.InstrumentSearcher(knowledge.NewIndex(), rec),
		Querier:  collab.InstrumentQuerier(flights, rec),
		Business: collab.InstrumentBusinessAPI(bizapi.NewMock(s.logger), rec),
		Logger:   s.logger,
		MaxTurns: s.cfg.Engine.ContextTurns,
	}

	window := contextwindow.Options{Budget: s.cfg.Engine.TokenBudget}
	if s.cfg.Engine.TokenBudget > 0 && s.cfg.Engine.ExactTokenCount {
		window.Counter = contextwindow.NewTiktokenCounter("cl100k_base")
	}

	orch, err := session.NewOrchestrator(session.Options{
		Saver:        saver,
		Store:        store,
		ProfileField: agents.FieldProfile,
		Reasoner:     reasoner,
		TurnTimeout:  s.cfg.Engine.TurnTimeout,
		ContextTurns: s.cfg.Engine.ContextTurns,
		Window:       window,
		Logger:       s.logger,
		Metrics:      s.metricsCollector,
	})
	if err != nil {
		return err
	}
	orch.Register(agents.NewRouterWorkflow(deps))
	s.orch = orch

	s.logger.Info("Orchestrator initialized",
		zap.String("workflow", agents.WorkflowID),
		zap.String("flightdb", s.cfg.FlightDB.Path))
	return nil
}

// initReloader 初始化配置热重载，仅日志级别即时生效
func (s *Server) initReloader() error {
	if s.configPath == "" {
		return nil
	}

	loader := config.NewLoader().
		WithConfigPath(s.configPath).
		WithValidator((*config.Config).Validate)
	reloader, err := config.NewReloader(loader, s.configPath,
		config.WithReloaderLogger(s.logger))
	if err != nil {
		return err
	}

	reloader.OnReload(func(cfg *config.Config) {
		if cfg.Log.Level != s.cfg.Log.Level {
			if level, parseErr := zap.ParseAtomicLevel(cfg.Log.Level); parseErr == nil {
				s.logLevel.SetLevel(level.Level())
				s.logger.Info("Log level updated", zap.String("level", cfg.Log.Level))
			}
		}
		// 其余字段需要重启才能生效
		s.cfg.Log = cfg.Log
	})

	if err := reloader.Start(context.Background()); err != nil {
		return err
	}
	s.reloader = reloader
	return nil
}

// =============================================================================
// 🌐 HTTP 服务器
// =============================================================================

// startHTTPServer 启动 HTTP 服务器
func (s *Server) startHTTPServer() error {
	handler := Chain(s.routes(),
		Recovery(s.logger),
		RequestID(),
		SecurityHeaders(),
		RequestLogger(s.logger),
	)

	serverConfig := server.Config{
		Addr:            fmt.Sprintf(":%d", s.cfg.Server.HTTPPort),
		ReadTimeout:     s.cfg.Server.ReadTimeout,
		WriteTimeout:    s.cfg.Server.WriteTimeout,
		IdleTimeout:     2 * s.cfg.Server.ReadTimeout,
		ShutdownTimeout: s.cfg.Server.ShutdownTimeout,
	}

	s.httpManager = server.NewManager(handler, serverConfig, s.logger)

	// 启动服务器（非阻塞）
	if err := s.httpManager.Start(); err != nil {
		return err
	}

	s.logger.Info("HTTP server started", zap.Int("port", s.cfg.Server.HTTPPort))
	return nil
}

// routes 注册所有端点
func (s *Server) routes() *http.ServeMux {
	mux := http.NewServeMux()

	// 健康检查与版本
	mux.HandleFunc("GET /healthz", s.handleHealthz)
	mux.HandleFunc("GET /version", s.handleVersion)

	// 会话接口
	mux.HandleFunc("POST /v1/chat/{thread}", s.handleChat)
	mux.HandleFunc("POST /v1/chat/{thread}/summary", s.handleSummary)
	mux.HandleFunc("DELETE /v1/chat/{thread}", s.handleReset)

	// Prometheus 指标
	mux.Handle("GET /metrics", promhttp.Handler())

	return mux
}

// =============================================================================
// 📡 会话端点
// =============================================================================

type chatPayload struct {
	Message string `json:"message"`
}

type stepPayload struct {
	StepID string `json:"step_id"`
	Text   string `json:"text"`
}

type donePayload struct {
	Halted bool `json:"halted"`
}

// handleChat 推进一轮会话，以 SSE 逐步流式返回助手消息
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	threadID := r.PathValue("thread")

	var payload chatPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil || payload.Message == "" {
		writeError(w, types.NewError(types.ErrInvalidRequest, "request body needs a non-empty message"))
		return
	}

	turn, err := s.orch.Advance(r.Context(), agents.WorkflowID, threadID, payload.Message)
	if err != nil {
		writeError(w, err)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, types.NewError(types.ErrInvalidRequest, "streaming unsupported by connection"))
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for ev := range turn.Events() {
		writeSSE(w, "step", stepPayload{StepID: ev.StepID, Text: ev.Text})
		flusher.Flush()
	}

	// 事件通道关闭后本轮结果已就绪
	if err := turn.Err(); err != nil {
		writeSSE(w, "error", map[string]string{
			"code":    string(types.GetErrorCode(err)),
			"message": err.Error(),
		})
	} else {
		writeSSE(w, "done", donePayload{Halted: turn.Outcome().Halted})
	}
	flusher.Flush()
}

// handleSummary 生成会话摘要
func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	threadID := r.PathValue("thread")

	summary, err := s.orch.Summarize(r.Context(), agents.WorkflowID, threadID)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"summary": summary})
}

// handleReset 清空会话线程
func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	threadID := r.PathValue("thread")

	if err := s.orch.Reset(r.Context(), agents.WorkflowID, threadID); err != nil {
		writeError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// =============================================================================
// 🏥 健康检查端点
// =============================================================================

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if s.redisMgr != nil {
		if err := s.redisMgr.Ping(ctx); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status": "degraded",
				"redis":  err.Error(),
			})
			return
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"version":    Version,
		"build_time": BuildTime,
		"git_commit": GitCommit,
	})
}

// =============================================================================
// ✉️ 响应辅助
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeSSE(w http.ResponseWriter, event string, body any) {
	data, err := json.Marshal(body)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
}

// writeError 按错误码映射 HTTP 状态
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch types.GetErrorCode(err) {
	case types.ErrInvalidRequest:
		status = http.StatusBadRequest
	case types.ErrWorkflowNotFound:
		status = http.StatusNotFound
	case types.ErrPersistenceUnavailable:
		status = http.StatusServiceUnavailable
	}

	writeJSON(w, status, map[string]string{
		"code":    string(types.GetErrorCode(err)),
		"message": err.Error(),
	})
}

// =============================================================================
// 🛑 关闭流程
// =============================================================================

// WaitForShutdown 等待关闭信号并优雅关闭
func (s *Server) WaitForShutdown() {
	if s.httpManager != nil {
		s.httpManager.WaitForShutdown()
	}

	s.Shutdown()
}

// Shutdown 优雅关闭所有服务
func (s *Server) Shutdown() {
	s.logger.Info("Starting graceful shutdown...")

	ctx := context.Background()

	// 1. 停止配置热重载
	if s.reloader != nil {
		if err := s.reloader.Stop(); err != nil {
			s.logger.Error("Config reloader shutdown error", zap.Error(err))
		}
	}

	// 2. 关闭 HTTP 服务器
	if s.httpManager != nil {
		if err := s.httpManager.Shutdown(ctx); err != nil {
			s.logger.Error("HTTP server shutdown error", zap.Error(err))
		}
	}

	// 3. 关闭 Redis 连接池
	if s.redisMgr != nil {
		if err := s.redisMgr.Close(); err != nil {
			s.logger.Error("Redis pool shutdown error", zap.Error(err))
		}
	}

	s.logger.Info("Graceful shutdown completed")
}
