package server

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/GwEnDoO27/Recette-Tiktok-transcriber/internal/auth"
	httpapi "github.com/GwEnDoO27/Recette-Tiktok-transcriber/internal/transport/http"
)

func NewRouter(h *httpapi.Handlers) http.Handler {
	r := chi.NewRouter()

	// CORS must run before anything that can reject the preflight
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   h.Config.CORSAllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", auth.OwnerHeader},
		ExposedHeaders:   []string{auth.OwnerHeader},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	h.Routers(r)
	return r
}
