package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	xerrors "AgneticGOD/internal/errors"
	"AgneticGOD/internal/observability/metrics"
	"AgneticGOD/internal/stream"
	"AgneticGOD/pkg/logger"
)

const (
	maxBodyBytes           = 1 << 20
	defaultShutdownTimeout = 5 * time.Second
	unmatchedRoute         = "not_found"

	errPromptRequired  = "Prompt is required"
	errInvalidJSON     = "Invalid JSON body"
	errNotInitialized  = "Agent not initialized"
	errInternalFailure = "Internal server error"
)

// Chatter 运行一轮对话并把输出写入 sink。*agent.Agent 满足该接口。
type Chatter interface {
	Run(ctx context.Context, message string, sink stream.Sink) (int, error)
}

// Server 负责暴露 REST 接口，供外部驱动智能体执行。
type Server struct {
	addr            string
	chat            Chatter
	log             *slog.Logger
	shutdownTimeout time.Duration
}

// Option 定义可选的服务配置。
type Option func(*Server)

// WithShutdownTimeout 设置优雅关闭的等待时间。
func WithShutdownTimeout(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.shutdownTimeout = d
		}
	}
}

// NewServer 构造 API 服务实例。chat 为 nil 时 /chat 返回 "Agent not initialized"。
func NewServer(addr string, chat Chatter, opts ...Option) *Server {
	s := &Server{
		addr:            addr,
		chat:            chat,
		log:             logger.Component("api"),
		shutdownTimeout: defaultShutdownTimeout,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Handler 返回完整的路由。
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.observe)
	r.Use(enableCORS)

	r.Post("/chat", s.handleChat)
	r.Get("/healthz", handleHealth)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())
	return r
}

// Start 启动 HTTP 服务，直到上下文取消或出现错误。上下文取消时返回 nil。
func (s *Server) Start(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeInitializationFailure, err, "监听 HTTP 端口失败")
	}
	return s.Serve(ctx, listener)
}

// Serve 在给定的 listener 上提供服务。
func (s *Server) Serve(ctx context.Context, listener net.Listener) error {
	server := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("server running", slog.String("addr", listener.Addr().String()))
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			s.log.Warn("graceful shutdown incomplete", slog.Any("error", err))
		}
		<-errCh
		return nil
	case err := <-errCh:
		return err
	}
}

type chatRequest struct {
	Prompt any `json:"prompt"`
}

type chatResponse struct {
	Responses []string `json:"responses"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// handleChat 运行一轮对话，返回按顺序收集的全部输出。
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	// 解析请求体，空请求体视为缺少 prompt。
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, errInvalidJSON)
		return
	}
	if len(bytes.TrimSpace(body)) == 0 {
		writeError(w, http.StatusBadRequest, errPromptRequired)
		return
	}
	var req chatRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, http.StatusBadRequest, errInvalidJSON)
		return
	}
	prompt, ok := req.Prompt.(string)
	if !ok || prompt == "" {
		writeError(w, http.StatusBadRequest, errPromptRequired)
		return
	}

	if s.chat == nil {
		writeError(w, http.StatusInternalServerError, errNotInitialized)
		return
	}

	// 调用智能体执行一轮对话。
	sink := &stream.CollectSink{}
	_, err = s.chat.Run(r.Context(), prompt, sink)
	if xerrors.IsFatal(err) {
		s.log.Error("chat failed",
			slog.String("request_id", middleware.GetReqID(r.Context())),
			slog.String("code", string(xerrors.CodeOf(err))),
			slog.Any("error", err))
		writeError(w, http.StatusInternalServerError, errInternalFailure)
		return
	}

	writeJSON(w, http.StatusOK, chatResponse{Responses: sink.Texts()})
}

func handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// enableCORS 允许任意来源访问，与浏览器前端配合使用。
func enableCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// observe 记录请求指标。
func (s *Server) observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		// 未匹配的路径统一记为 not_found，避免标签随请求路径增长。
		route := unmatchedRoute
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				route = pattern
			}
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		metrics.ObserveHTTPRequest(route, r.Method, status, time.Since(start))
	})
}
