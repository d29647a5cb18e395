package http

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	middlewareChi "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/cwrk-planet/chat-service/internal/transport/ws"
)

type RouterOptions struct {
	AllowedOrigins []string
	RequestTimeout time.Duration
}

func NewRouter(h *Handler, wsServer *ws.Server, opts RouterOptions) http.Handler {
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 30 * time.Second
	}
	if len(opts.AllowedOrigins) == 0 {
		opts.AllowedOrigins = []string{"*"}
	}

	r := chi.NewRouter()
	r.Use(middlewareChi.RequestID)
	r.Use(middlewareChi.RealIP)
	r.Use(middlewareChi.Recoverer)
	// before routing, so preflights for GET-only paths are answered
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: opts.AllowedOrigins,
		AllowedMethods: []string{"GET", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-ID"},
		MaxAge:         300,
	}))

	// WS endpoints stay outside the timeout and the response wrapper
	r.Get("/ws/chat/{room_id}/{user_id}", wsServer.HandleRoom)
	r.Get("/ws/notifications/{user_id}", wsServer.HandleNotifications)

	r.Group(func(pr chi.Router) {
		pr.Use(requestLogger)
		pr.Use(middlewareChi.Timeout(opts.RequestTimeout))

		pr.Get("/online-users", h.OnlineUsers)
		pr.Get("/rooms/{room_id}/chat", h.ChatHistory)
		pr.Get("/healthz", h.Healthz)
	})

	return r
}
