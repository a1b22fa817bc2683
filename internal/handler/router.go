package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/zhouzirui/aiconfig-chat/backend/internal/handler/chat"
	"github.com/zhouzirui/aiconfig-chat/backend/internal/handler/ws"
	chatService "github.com/zhouzirui/aiconfig-chat/backend/internal/service/chat"
	"github.com/zhouzirui/aiconfig-chat/backend/pkg/utils"
)

// Options 描述路由的可选组件。
type Options struct {
	// Metrics 为 nil 时不暴露 /metrics。
	Metrics http.Handler
	// StaticDir 非空时在 / 下提供静态文件。
	StaticDir string
	Logger    *slog.Logger
}

// NewRouter wires HTTP routes to core services.
func NewRouter(chatSvc *chatService.Service, opts Options) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-Id"},
		MaxAge:         300,
	}))

	chatHandler := chat.New(chatSvc, opts.Logger)
	wsHandler := ws.New(chatSvc, opts.Logger)

	r.Route("/api", func(api chi.Router) {
		chatHandler.RegisterRoutes(api)
		wsHandler.RegisterRoutes(api)

		api.Get("/health", func(w http.ResponseWriter, r *http.Request) {
			utils.RespondJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
		})
	})

	if opts.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", opts.Metrics)
	}

	if opts.StaticDir != "" {
		r.Handle("/*", http.FileServer(http.Dir(opts.StaticDir)))
	}

	return r
}
