package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	mw "github.com/kiranshivaraju/tryon/internal/api/middleware"
	"github.com/kiranshivaraju/tryon/internal/api/response"
	"github.com/kiranshivaraju/tryon/internal/apikey"
)

// Dependencies holds all handler and middleware dependencies for the router.
type Dependencies struct {
	Auth           *mw.Auth
	RateLimit      *mw.RateLimit
	CallbackSecret string

	HealthHandler   http.HandlerFunc
	MetricsHandler  http.Handler
	BlobHandler     http.Handler
	CallbackHandler http.HandlerFunc

	CreateModel http.HandlerFunc
	ListModels  http.HandlerFunc
	GetModel    http.HandlerFunc
	ModelStatus http.HandlerFunc
	RetryModel  http.HandlerFunc
	DeleteModel http.HandlerFunc

	CreateProduct http.HandlerFunc
	GetProduct    http.HandlerFunc
	TuneProduct   http.HandlerFunc

	TryOnHandler http.HandlerFunc

	CreateKeyHandler http.HandlerFunc
}

// NewRouter builds the Chi router with middleware stack and all routes.
func NewRouter(deps Dependencies) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimw.RequestID)
	r.Use(mw.Logger)
	r.Use(mw.Recovery)

	// Public routes
	r.Get("/api/v1/health", orNotImplemented(deps.HealthHandler))
	if deps.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", deps.MetricsHandler)
	}
	if deps.BlobHandler != nil {
		r.Method(http.MethodGet, "/blobs/*", deps.BlobHandler)
	}

	// Tuning service callbacks authenticate with a shared secret, not a key.
	r.With(mw.CallbackSecret(deps.CallbackSecret)).
		Post("/api/v1/callbacks/tunes", orNotImplemented(deps.CallbackHandler))

	// Protected routes
	r.Group(func(r chi.Router) {
		r.Use(deps.Auth.Authenticate)
		r.Use(deps.RateLimit.Limit)

		r.Route("/api/v1/models", func(r chi.Router) {
			r.Post("/", orNotImplemented(deps.CreateModel))
			r.Get("/", orNotImplemented(deps.ListModels))
			r.Get("/{recordID}", orNotImplemented(deps.GetModel))
			r.Delete("/{recordID}", orNotImplemented(deps.DeleteModel))
			r.Get("/{recordID}/status", orNotImplemented(deps.ModelStatus))
			r.Post("/{recordID}/retry", orNotImplemented(deps.RetryModel))
		})

		r.Post("/api/v1/products", orNotImplemented(deps.CreateProduct))
		r.Get("/api/v1/products/{productID}", orNotImplemented(deps.GetProduct))
		r.Post("/api/v1/products/{productID}/tune", orNotImplemented(deps.TuneProduct))

		r.Post("/api/v1/tryon", orNotImplemented(deps.TryOnHandler))

		// Admin routes
		r.Group(func(r chi.Router) {
			r.Use(deps.Auth.RequireScope(apikey.ScopeAdmin))

			r.Post("/api/v1/admin/keys", orNotImplemented(deps.CreateKeyHandler))
		})
	})

	return r
}

// orNotImplemented returns the handler if non-nil, or a 501 placeholder.
func orNotImplemented(h http.HandlerFunc) http.HandlerFunc {
	if h != nil {
		return h
	}
	return func(w http.ResponseWriter, r *http.Request) {
		response.Error(w, http.StatusNotImplemented, "NOT_IMPLEMENTED", "Endpoint not yet implemented", nil)
	}
}
