package core

import (
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/bytedance/sonic"

	"github.com/favbox/gptdb/internal/logging"
)

// HandlerFunc 返回 data 时以 Result.Succ 包装输出，返回错误时按 StatusOf 输出 Result.Failed。
type HandlerFunc func(r *http.Request) (any, error)

// Middleware http 中间件。
type Middleware func(http.Handler) http.Handler

// Router 以统一前缀、鉴权与指标挂载 serve 应用路由。
type Router struct {
	mux        *http.ServeMux
	prefix     string
	app        string
	metrics    *HTTPMetrics
	middleware []Middleware
}

// NewRouter 创建路由，metrics 为 nil 时不采集指标。
func NewRouter(mux *http.ServeMux, app, prefix string, metrics *HTTPMetrics, middleware ...Middleware) *Router {
	return &Router{mux: mux, prefix: prefix, app: app, metrics: metrics, middleware: middleware}
}

// Handle 注册 JSON 接口。
func (rt *Router) Handle(method, path string, fn HandlerFunc) {
	rt.HandleRaw(method, path, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, err := fn(r)
		if err != nil {
			WriteError(w, r, err)
			return
		}
		WriteJSON(w, http.StatusOK, Succ(data))
	}))
}

// HandleRaw 注册自行写响应的接口，如 SSE。
func (rt *Router) HandleRaw(method, path string, h http.Handler) {
	route := rt.prefix + path
	for i := len(rt.middleware) - 1; i >= 0; i-- {
		h = rt.middleware[i](h)
	}
	if rt.metrics != nil {
		h = rt.metrics.Wrap(rt.app, route, h)
	}
	rt.mux.Handle(method+" "+route, h)
}

// WriteJSON 以 sonic 编码输出 JSON。
func WriteJSON(w http.ResponseWriter, status int, v any) {
	body, err := sonic.Marshal(v)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

// WriteError 按错误类型输出状态码与 Result.Failed。
func WriteError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := StatusOf(err)
	if status >= http.StatusInternalServerError {
		logging.FromContext(r.Context()).Error("request failed",
			slog.String("path", r.URL.Path), slog.Any("error", err))
	}
	WriteJSON(w, status, Failed(code, err.Error()))
}

// DecodeJSON 解析请求体，空请求体与格式错误均为参数错误。
func DecodeJSON[T any](r *http.Request) (*T, error) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, err
	}
	if len(body) == 0 {
		return nil, fmt.Errorf("%w: request body is empty", ErrInvalidArgument)
	}
	v := new(T)
	if err = sonic.Unmarshal(body, v); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidArgument, err)
	}
	return v, nil
}

// PageParams 读取 page 与 page_size 查询参数。
func PageParams(r *http.Request) (page, pageSize int, err error) {
	page, err = intQuery(r, "page", DefaultPage)
	if err != nil {
		return
	}
	pageSize, err = intQuery(r, "page_size", DefaultPageSize)
	return
}

// PathInt 读取整数路径参数。
func PathInt(r *http.Request, name string) (int64, error) {
	v, err := strconv.ParseInt(r.PathValue(name), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: invalid %s '%s'", ErrInvalidArgument, name, r.PathValue(name))
	}
	return v, nil
}

func intQuery(r *http.Request, name string, def int) (int, error) {
	s := r.URL.Query().Get(name)
	if s == "" {
		return def, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("%w: invalid %s '%s'", ErrInvalidArgument, name, s)
	}
	return n, nil
}

// MountHealth 注册 /health 与 /test_auth。
func MountHealth(rt *Router) {
	ok := func(w http.ResponseWriter, _ *http.Request) {
		WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
	rt.HandleRaw(http.MethodGet, "/health", http.HandlerFunc(ok))
	rt.HandleRaw(http.MethodGet, "/test_auth", http.HandlerFunc(ok))
}

// ====== 指标 ======

// statusRecorder 记录响应状态码。
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

// Flush SSE 需要逐块刷新。
func (s *statusRecorder) Flush() {
	if f, ok := s.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Unwrap 供 http.ResponseController 使用。
func (s *statusRecorder) Unwrap() http.ResponseWriter { return s.ResponseWriter }

// Wrap 记录请求数与耗时。
func (m *HTTPMetrics) Wrap(app, route string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		m.requests.WithLabelValues(app, r.Method, route, strconv.Itoa(rec.status)).Inc()
		m.latency.WithLabelValues(app, route).Observe(time.Since(start).Seconds())
	})
}
