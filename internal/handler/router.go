package handler

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/grihya/livechat/internal/config"
	"github.com/grihya/livechat/internal/logger"
	"github.com/grihya/livechat/internal/middleware"
	"github.com/grihya/livechat/internal/push"
	"github.com/grihya/livechat/internal/service"
	"github.com/grihya/livechat/internal/ws"
)

// Deps is everything the HTTP layer needs.
type Deps struct {
	Config   *config.Config
	Chat     *service.ChatService
	Hub      *ws.Hub
	Notifier *push.Notifier
	// Ping reports storage health for /health; nil means always healthy.
	Ping func(context.Context) error
	// AccessLog enables chi's request logger.
	AccessLog bool
}

func NewRouter(d Deps) http.Handler {
	chatH := NewChatHandler(d.Chat)
	adminH := NewAdminHandler(d.Chat)
	pushH := NewPushHandler(d.Notifier)
	configH := NewConfigHandler(d.Config, d.Notifier)
	wsH := NewWSHandler(d.Hub, d.Config.CORSAllowedOrigins)

	r := chi.NewRouter()
	r.Use(chimw.RealIP)
	if d.AccessLog {
		r.Use(chimw.Logger)
	}
	r.Use(middleware.RecoverJSON)
	// Compressing the upgrade response hides http.Hijacker and breaks websockets.
	r.Use(func(next http.Handler) http.Handler {
		compressed := chimw.Compress(5)(next)
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			if strings.EqualFold(req.Header.Get("Upgrade"), "websocket") {
				next.ServeHTTP(w, req)
				return
			}
			compressed.ServeHTTP(w, req)
		})
	})
	r.Use(middleware.RequestLog)
	r.Use(middleware.SecureHeaders)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   splitOrigins(d.Config.CORSAllowedOrigins),
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	r.Use(middleware.Authenticate([]byte(d.Config.JWTSecret)))
	r.Use(middleware.RateLimitAPI())

	r.Get("/health", health(d.Ping))
	r.Get("/api/config/push", configH.GetPushConfig)
	r.Get("/api/config/chat", configH.GetChatConfig)

	r.Route("/chat", func(r chi.Router) {
		r.Post("/start", chatH.Start)
		r.Get("/ws", wsH.ServeWS)
		r.Route("/conversations/{token}", func(r chi.Router) {
			r.Get("/", chatH.GetConversation)
			r.Get("/messages", chatH.ListMessages)
			r.Post("/messages", chatH.SendMessage)
			r.With(middleware.RequireAdmin).Post("/read", chatH.MarkRead)
		})
	})

	r.Route("/admin/chat", func(r chi.Router) {
		r.Use(middleware.RequireAdmin)
		r.Get("/conversations", adminH.ListConversations)
		r.Post("/conversations/{token}/status", adminH.UpdateStatus)
		r.Post("/push/subscribe", pushH.Subscribe)
		r.Delete("/push/subscribe", pushH.Unsubscribe)
	})

	if d.Config.StaticDir != "" {
		r.Get("/*", spaHandler(d.Config.StaticDir))
	}
	return r
}

func health(ping func(context.Context) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if ping != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := ping(ctx); err != nil {
				logger.Errorf("health: %v", err)
				http.Error(w, "unavailable", http.StatusServiceUnavailable)
				return
			}
		}
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}
}

func splitOrigins(s string) []string {
	var out []string
	for _, o := range strings.Split(s, ",") {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	if len(out) == 0 {
		return []string{"*"}
	}
	return out
}
