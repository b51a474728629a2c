//	@title			DocVault API
//	@version		1.0
//	@description	Document storage for audit units: uploads, listings and analysis status of evidence files.
//
//	@host		localhost:8080
//	@BasePath	/api/v1
//
//	@securityDefinitions.apikey	BearerAuth
//	@in							header
//	@name						Authorization
//	@description				JWT Bearer token. Format: **Bearer {token}**

package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	httpSwagger "github.com/swaggo/http-swagger/v2"

	"github.com/auditdocs/docvault/internal/config"
	"github.com/auditdocs/docvault/internal/db"
	"github.com/auditdocs/docvault/internal/files"
	"github.com/auditdocs/docvault/internal/initonce"
	"github.com/auditdocs/docvault/internal/logger"
	appMiddleware "github.com/auditdocs/docvault/internal/middleware"
	"github.com/auditdocs/docvault/internal/storage"
	"github.com/auditdocs/docvault/internal/unit"

	_ "github.com/auditdocs/docvault/docs/swagger"
)

// schemaRetryInterval spaces reconciliation retries after a failed startup attempt.
const schemaRetryInterval = 30 * time.Second

func main() {
	cfg, dotenv, err := config.Load()
	if err != nil {
		boot := zerolog.New(os.Stderr).With().Timestamp().Logger()
		boot.Fatal().Err(err).Msg("config load failed")
	}

	log := logger.New(cfg)
	if !dotenv {
		log.Debug().Msg("no .env file found, using environment variables only")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := db.Connect(ctx, cfg.DatabaseURL, log)
	if err != nil {
		log.Fatal().Err(err).Msg("database connection failed")
	}
	defer pool.Close()

	if err := db.Migrate(cfg.DatabaseURL, log); err != nil {
		log.Fatal().Err(err).Msg("database migration failed")
	}

	store, err := storage.New(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("storage init failed")
	}

	// Wire dependencies: repository → service → handler
	unitRepo := unit.NewRepository(pool)
	fileRepo := files.NewRepository(pool)

	guard := initonce.New(log)
	reconciler := files.NewSchemaReconciler(pool, fileRepo, log)
	if !guard.Initialize(ctx, files.SchemaInitKey, reconciler.Reconcile) {
		log.Warn().Dur("retry_every", schemaRetryInterval).Msg("files schema not reconciled; storage columns disabled")
		go reconciler.KeepReconciling(ctx, guard, schemaRetryInterval)
	}

	fileSvc := files.NewService(fileRepo, unitRepo, store,
		files.NewPolicy(cfg.UploadMaxBytes, cfg.UploadMaxFiles, cfg.UploadAllowedTypes), log)
	fileHandler := files.NewHandler(fileSvc)

	// Router
	r := chi.NewRouter()
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(appMiddleware.Logger(log))
	r.Use(chiMiddleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		MaxAge:         300,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Handle("/metrics", promhttp.Handler())

	// Swagger UI: available at http://localhost:8080/swagger/
	r.Get("/swagger/*", httpSwagger.Handler(
		httpSwagger.URL("/swagger/doc.json"),
	))

	if store.Provider() == storage.ProviderLocal {
		mountLocalFiles(r, cfg.LocalStorageBaseURL, cfg.LocalStorageRoot)
	}

	// API v1
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(appMiddleware.RequireAuth(cfg.JWTSecret))
		fileHandler.Routes(r)
	})

	srv := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      r,
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		log.Info().Str("addr", srv.Addr).Str("env", cfg.AppEnv).Str("storage", string(store.Provider())).Msg("server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down gracefully")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("forced shutdown")
	}

	log.Info().Msg("server stopped")
}

// mountLocalFiles serves the local backend's files read-only under baseURL.
func mountLocalFiles(r chi.Router, baseURL, root string) {
	prefix := "/" + strings.Trim(baseURL, "/")
	if prefix == "/" {
		return
	}
	fs := http.StripPrefix(prefix, http.FileServer(http.Dir(root)))
	r.Get(prefix+"/*", func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "/") {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("X-Content-Type-Options", "nosniff")
		fs.ServeHTTP(w, r)
	})
}
