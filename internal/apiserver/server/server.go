// Package server API Server 路由装配与 HTTP 服务
//
// 文件组织：
//   - server.go: Handler 装配、路由注册、健康检查、优雅关闭
//   - middleware.go: 请求 ID / 访问日志中间件
//   - metrics.go: Prometheus 指标
package server

import (
	"context"
	"net/http"
	"time"

	"taskhub/api"
	"taskhub/internal/apiserver/auth"
	"taskhub/internal/apiserver/note"
	"taskhub/internal/apiserver/project"
	"taskhub/internal/apiserver/task"
	"taskhub/pkg/logging"
)

// Store 聚合各领域处理器需要的存储接口（mongostore.Store 实现）
type Store interface {
	project.Store
	task.Store
	note.Store
	auth.UserLoader

	Ping(ctx context.Context) error
}

// Handler API 装配器，持有各领域处理器和横切组件
type Handler struct {
	authHandler    *auth.Handler
	projectHandler *project.Handler
	taskHandler    *task.Handler
	noteHandler    *note.Handler

	store   Store
	authCfg auth.Config
	metrics *Metrics
	logger  *logging.Logger
}

// NewHandler 创建 Handler 实例
func NewHandler(store Store, authHandler *auth.Handler, authCfg auth.Config, files task.ObjectStore) *Handler {
	h := &Handler{
		authHandler:    authHandler,
		projectHandler: project.NewHandler(store),
		taskHandler:    task.NewHandler(store, files),
		noteHandler:    note.NewHandler(store),
		store:          store,
		authCfg:        authCfg,
		metrics:        NewMetrics("taskhub"),
		logger:         logging.Default("api-server"),
	}
	// 认证流程的业务指标走同一个注册表
	authHandler.SetMetrics(h.metrics)
	return h
}

// Router 构建完整的路由与中间件链
//
// 中间件顺序（外到内）：请求 ID → 访问日志 → 指标 → 认证。
// /health 和 /metrics 由认证中间件放行。
func (h *Handler) Router() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", h.Health)
	mux.Handle("GET /metrics", MetricsHandler())
	mux.Handle("GET /api/docs/", http.StripPrefix("/api/docs/", http.FileServerFS(api.OpenAPIFS)))

	h.authHandler.RegisterRoutes(mux)
	h.projectHandler.RegisterRoutes(mux)
	h.taskHandler.RegisterRoutes(mux)
	h.noteHandler.RegisterRoutes(mux)

	var handler http.Handler = mux
	handler = auth.Middleware(h.authCfg, h.store)(handler)
	handler = h.metrics.MetricsMiddleware(handler)
	handler = h.AccessLogMiddleware(handler)
	handler = RequestIDMiddleware(handler)
	return handler
}

// Health 健康检查接口
//
// 路由: GET /health
//
// 用于负载均衡器和监控系统检查服务状态。
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status := "ok"
	code := http.StatusOK
	if err := h.store.Ping(ctx); err != nil {
		status = "degraded"
		code = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write([]byte(`{"status":"` + status + `"}`))
}
