package httpapi

import (
	"net/http"

	"go.uber.org/zap"
)

// Router 使用标准库 http.ServeMux
type Router struct {
	mux    *http.ServeMux
	logger *zap.Logger
}

func NewRouter(logger *zap.Logger) *Router {
	return &Router{
		mux:    http.NewServeMux(),
		logger: logger,
	}
}

func (r *Router) Handle(pattern string, h http.HandlerFunc) {
	r.mux.HandleFunc(pattern, h)
}

func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.mux.ServeHTTP(w, req)
}

func methodOnly(method string, h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		if req.Method != method {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		h(w, req)
	}
}

// RegisterQueueRoutes 注册队列视图路由
func (r *Router) RegisterQueueRoutes(q *QueueHandler) {
	r.Handle("/", methodOnly(http.MethodGet, func(w http.ResponseWriter, req *http.Request) {
		if req.URL.Path != "/" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		q.Page(w, req)
	}))
	r.Handle("/queue/rows", methodOnly(http.MethodGet, q.Rows))
	r.Handle("/queue/snapshot", methodOnly(http.MethodGet, q.Snapshot))
	r.Handle("/queue/status", methodOnly(http.MethodGet, q.Status))
	r.Handle("/queue/refresh", methodOnly(http.MethodPost, q.Refresh))
	r.Handle("/queue/export.xlsx", methodOnly(http.MethodGet, q.Export))
}

// RegisterHubRoutes 注册 websocket 推送
func (r *Router) RegisterHubRoutes(h *Hub) {
	r.Handle("/queue/ws", methodOnly(http.MethodGet, h.ServeWS))
}

// HealthCheck 依赖健康检查（如 MQTT 连接状态）
type HealthCheck struct {
	Name  string
	Check func() bool
}

// HealthStatus /healthz 响应
type HealthStatus struct {
	Status string          `json:"status"`
	Checks map[string]bool `json:"checks,omitempty"`
}

// RegisterHealthRoutes 健康检查；任一依赖检查失败返回 503 + degraded
func (r *Router) RegisterHealthRoutes(checks ...HealthCheck) {
	r.Handle("/healthz", func(w http.ResponseWriter, req *http.Request) {
		hs := HealthStatus{Status: "ok"}
		code := http.StatusOK
		if len(checks) > 0 {
			hs.Checks = make(map[string]bool, len(checks))
		}
		for _, c := range checks {
			ok := c.Check()
			hs.Checks[c.Name] = ok
			if !ok {
				hs.Status = "degraded"
				code = http.StatusServiceUnavailable
			}
		}
		writeJSON(w, code, Ok(hs))
	})
}
