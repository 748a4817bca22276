package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/emotifriend/backend/internal/gateway"
	"github.com/emotifriend/backend/internal/handler/capture"
	"github.com/emotifriend/backend/internal/handler/chat"
	"github.com/emotifriend/backend/internal/handler/events"
	"github.com/emotifriend/backend/internal/handler/persona"
	"github.com/emotifriend/backend/internal/media"
	middlewarePkg "github.com/emotifriend/backend/internal/middleware"
	"github.com/emotifriend/backend/internal/orchestrator"
)

// NewRouter wires HTTP routes to core services.
func NewRouter(registry *orchestrator.Registry, broker *events.Broker, hub *media.Hub, gen gateway.Generator) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middlewarePkg.CORS)

	chatHandler := chat.New(registry)
	captureHandler := capture.New(registry, hub)
	personaHandler := persona.New(registry, gen)
	eventsHandler := events.New(broker, registry)

	r.Route("/api", func(api chi.Router) {
		chatHandler.RegisterRoutes(api)
		captureHandler.RegisterRoutes(api)
		personaHandler.RegisterRoutes(api)
		eventsHandler.RegisterRoutes(api)
	})

	return r
}
