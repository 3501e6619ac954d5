// Package api provides the REST API HTTP server.
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/driftsync/driftsync/internal/api/auth"
	"github.com/driftsync/driftsync/internal/api/handlers"
	"github.com/driftsync/driftsync/internal/api/middleware"
	"github.com/driftsync/driftsync/internal/logger"
	"github.com/driftsync/driftsync/pkg/blob"
	"github.com/driftsync/driftsync/pkg/bus"
	"github.com/driftsync/driftsync/pkg/engine"
	"github.com/driftsync/driftsync/pkg/metrics"
	"github.com/driftsync/driftsync/pkg/realtime"
	"github.com/driftsync/driftsync/pkg/store"
	"github.com/driftsync/driftsync/pkg/upload"
)

// Deps is the composition root for the API: every service the handlers
// need, constructed by the caller and wired here.
type Deps struct {
	Store      store.Store
	Blobs      blob.Store
	Engine     *engine.Engine
	Uploads    *upload.Manager
	Bus        *bus.Bus
	JWTService *auth.JWTService

	// DefaultQuota overrides the storage quota for new accounts.
	// Zero keeps the built-in default.
	DefaultQuota int64
}

// NewRouter creates and configures the chi router with all middleware and
// routes. All sync endpoints live under /api and require a Bearer token;
// health and metrics are unauthenticated.
func NewRouter(deps Deps) http.Handler {
	r := chi.NewRouter()

	// Middleware stack - order matters
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(requestLogger)
	r.Use(chimiddleware.Recoverer)

	authHandler := handlers.NewAuthHandler(deps.Store, deps.JWTService)
	authHandler.SetDefaultQuota(deps.DefaultQuota)
	filesHandler := handlers.NewFilesHandler(deps.Store, deps.Engine)
	downloadHandler := handlers.NewDownloadHandler(deps.Engine, deps.Blobs)
	uploadHandler := handlers.NewUploadHandler(deps.Uploads)
	healthHandler := handlers.NewHealthHandler(deps.Store, deps.Blobs)
	realtimeServer := realtime.NewServer(deps.Bus)

	r.Route("/health", func(r chi.Router) {
		r.Get("/", healthHandler.Liveness)
		r.Get("/ready", healthHandler.Readiness)
	})
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Route("/auth", func(r chi.Router) {
			r.Use(chimiddleware.Timeout(30 * time.Second))
			r.Post("/register", authHandler.Register)
			r.Post("/login", authHandler.Login)
			r.Post("/refresh", authHandler.Refresh)
			r.Post("/logout", authHandler.Logout)
		})

		r.Route("/files", func(r chi.Router) {
			r.Use(chimiddleware.Timeout(5 * time.Minute))
			r.Use(middleware.JWTAuth(deps.JWTService))

			r.Get("/", filesHandler.List)

			r.Route("/upload", func(r chi.Router) {
				r.Post("/", filesHandler.Upload)
				r.Post("/initiate-chunked", uploadHandler.Initiate)
				r.Post("/chunk", uploadHandler.Chunk)
				r.Get("/status/{sessionId}", uploadHandler.Status)
				r.Delete("/cancel/{sessionId}", uploadHandler.Cancel)
				r.Get("/sessions", uploadHandler.Sessions)
			})

			r.Route("/{fileId}", func(r chi.Router) {
				r.Put("/", filesHandler.Update)
				r.Delete("/", filesHandler.Delete)
				r.Get("/download", downloadHandler.Download)
				r.Get("/download-chunked", downloadHandler.DownloadChunked)
				r.Get("/metadata", filesHandler.Metadata)
				r.Get("/versions", filesHandler.Versions)
			})
		})

		// No timeout here: websocket connections are long-lived.
		r.Group(func(r chi.Router) {
			r.Use(middleware.JWTAuth(deps.JWTService))
			r.Get("/ws", realtimeServer.ServeHTTP)
		})
	})

	return r
}

// requestLogger attaches a per-request LogContext and logs start/finish.
// Downstream handlers inherit the request ID and client IP through *Ctx
// log calls.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		lc := logger.NewLogContext(r.RemoteAddr).
			WithRequestID(chimiddleware.GetReqID(r.Context()))
		ctx := logger.WithContext(r.Context(), lc)
		r = r.WithContext(ctx)

		logger.DebugCtx(ctx, "API request started",
			"method", r.Method,
			"path", r.URL.Path,
		)

		ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		logger.InfoCtx(ctx, "API request completed",
			"method", r.Method,
			"path", r.URL.Path,
			logger.Status(ww.Status()),
			"bytes", ww.BytesWritten(),
			logger.DurationMs(lc.DurationMs()),
		)
	})
}
