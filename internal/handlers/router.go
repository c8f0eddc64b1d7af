package handlers

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/jwebster45206/tavern-phone/internal/metrics"
	"github.com/jwebster45206/tavern-phone/internal/middleware"
	"github.com/jwebster45206/tavern-phone/internal/modules"
)

// Deps are the services the API routes need.
type Deps struct {
	Registry     *modules.Registry
	Storage      Pinger
	Queue        Enqueuer
	Preview      Previewer
	Events       Subscriber
	AIConfigured bool
	Logger       *slog.Logger
}

// NewRouter mounts every API route.
func NewRouter(d Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.Logger(d.Logger))
	r.Use(chimw.Recoverer)

	r.Method(http.MethodGet, "/health", NewHealthHandler(d.Storage, d.AIConfigured, d.Logger))
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	mods := NewModulesHandler(d.Registry, d.Logger)
	chats := NewChatsHandler(d.Registry, d.Preview, d.Logger)
	gen := NewGenerationHandler(d.Queue, d.Logger)
	set := NewSettingsHandler(d.Registry, d.Logger)

	r.Route("/v1/chats/{chatID}", func(r chi.Router) {
		r.Delete("/", mods.ResetChat)

		r.Get("/modules/{kind}", mods.Get)
		r.Post("/modules/{kind}", mods.Post)
		r.Put("/modules/{kind}", mods.Put)
		r.Delete("/modules/{kind}", mods.Delete)
		r.Post("/abort", mods.Abort)

		r.Get("/conversations", chats.List)
		r.Get("/conversations/{type}/{target}", chats.Transcript)
		r.Post("/prompt", chats.Prompt)

		r.Post("/generation-ended", gen.GenerationEnded)

		r.Get("/settings", set.Get)
		r.Put("/settings", set.Put)
		r.Get("/add-friend/entry", set.GetEntry)
		r.Post("/add-friend/entry", set.PostEntry)

		if d.Events != nil {
			r.Method(http.MethodGet, "/notifications", NewNotificationsHandler(d.Events, d.Logger))
		}
	})

	return r
}
