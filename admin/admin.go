// Package admin exposes a read-only HTTP diagnostics API: live session
// listing, registered accounts and a health probe, plus the rendered API
// documentation.
package admin

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-openapi/runtime/middleware"

	"github.com/mpetrov/twofad/session"
	"github.com/mpetrov/twofad/storage"
)

//go:embed openapi.yaml
var openapiSpec []byte

// API holds the dependencies of the diagnostics handlers.
type API struct {
	sessions *session.Directory
	store    storage.Store
	log      *slog.Logger
}

// New creates an API over the live session directory and the account
// store. A nil logger defaults to slog.Default().
func New(sessions *session.Directory, store storage.Store, logger *slog.Logger) *API {
	if logger == nil {
		logger = slog.Default()
	}
	return &API{
		sessions: sessions,
		store:    store,
		log:      logger.With("component", "admin"),
	}
}

// Router returns a chi.Router with all diagnostics routes mounted.
func (a *API) Router() chi.Router {
	r := chi.NewRouter()

	r.Get("/openapi.yaml", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/yaml")
		w.Write(openapiSpec)
	})

	r.Handle("/docs*", middleware.SwaggerUI(middleware.SwaggerUIOpts{
		SpecURL: "/openapi.yaml",
		Path:    "docs",
	}, nil))

	r.Handle("/redoc*", middleware.Redoc(middleware.RedocOpts{
		SpecURL: "/openapi.yaml",
		Path:    "redoc",
	}, nil))

	r.Get("/health", a.Health)
	r.Get("/api/v1/sessions", a.ListSessions)
	r.Get("/api/v1/users", a.ListUsers)

	return r
}

// Run serves the API until ctx is cancelled.
func (a *API) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           a.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()
	a.log.Info("admin api listening", "addr", addr)
	if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Health reports liveness and the live session count.
func (a *API) Health(w http.ResponseWriter, r *http.Request) {
	a.writeJSON(w, http.StatusOK, map[string]any{
		"status":   "ok",
		"sessions": a.sessions.Count(),
	})
}

// ListSessions returns a point-in-time view of every live connection.
func (a *API) ListSessions(w http.ResponseWriter, r *http.Request) {
	a.writeJSON(w, http.StatusOK, map[string]any{
		"sessions": a.sessions.Snapshot(),
	})
}

// ListUsers returns the registered account names.
func (a *API) ListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := a.store.ListUsers(r.Context())
	if err != nil {
		a.log.Error("listing users", "err", err)
		a.writeJSON(w, http.StatusInternalServerError, map[string]any{
			"error": "listing users failed",
		})
		return
	}
	a.writeJSON(w, http.StatusOK, map[string]any{"users": users})
}

func (a *API) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		a.log.Error("encoding response", "err", err)
	}
}
