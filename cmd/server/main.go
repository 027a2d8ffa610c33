// Package main provides the entry point for the SSO ticket kernel
// service. It initializes the ticket stores, catalog, policy chain and
// HTTP routes, and starts the server with graceful shutdown support.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gorilla/mux"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/castlepoint/sso-kernel/internal/auth"
	"github.com/castlepoint/sso-kernel/internal/config"
	"github.com/castlepoint/sso-kernel/internal/handlers"
	"github.com/castlepoint/sso-kernel/internal/metrics"
	"github.com/castlepoint/sso-kernel/internal/middleware"
	"github.com/castlepoint/sso-kernel/internal/policy"
	"github.com/castlepoint/sso-kernel/internal/registry"
	"github.com/castlepoint/sso-kernel/internal/ticket"
	"github.com/castlepoint/sso-kernel/pkg/logger"
)

func main() {
	// Load .env.local file only in development (when GO_ENV is not set or
	// set to "development").
	goEnv := os.Getenv("GO_ENV")
	if goEnv == "" || goEnv == "development" {
		if err := godotenv.Load(".env.local"); err != nil {
			if !os.IsNotExist(err) {
				fmt.Fprintf(os.Stderr, "Warning: Error loading .env.local file: %v\n", err)
			}
		}
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output)
	log.Info("Starting SSO ticket kernel")
	log.WithFields(logrus.Fields{
		"port":  cfg.Server.Port,
		"host":  cfg.Server.Host,
		"store": cfg.Ticket.Store,
	}).Info("Service configuration loaded")

	store := initializeStore(cfg, log)
	defer closeStore(store, log)

	catalog, err := auth.NewCatalog(&cfg.Ticket)
	if err != nil {
		log.WithError(err).Fatal("Failed to build ticket catalog")
	}

	reg := registry.New(catalog, store, log)
	kernelMetrics := metrics.New(prometheus.DefaultRegisterer)

	sweeper := registry.NewSweeper(reg, cfg.Ticket.SweepInterval, log,
		registry.WithSweepObserver(func(removed int) {
			kernelMetrics.TicketsSwept.Add(float64(removed))
		}))
	sweeper.Start()
	defer sweeper.Stop()

	service := auth.NewService(reg, catalog, newIDGenerator(cfg), buildPolicyChain(cfg, reg, log), log,
		auth.WithMetrics(kernelMetrics))

	server := setupServer(cfg, reg, service, log)
	runServer(server, cfg, log)
}

// initializeStore selects the configured ticket store backend. Redis
// deployments fall back to the in-memory store when the backend is
// unreachable at startup, so a cache outage degrades instead of blocking
// boot.
func initializeStore(cfg *config.Config, log *logrus.Logger) registry.Store {
	switch cfg.Ticket.Store {
	case "redis":
		store, err := registry.NewRedisStore(&cfg.Redis, log)
		if err != nil {
			log.WithError(err).Warn("Failed to connect to Redis, falling back to in-memory store")
			log.Warn("Note: in-memory tickets will not persist between restarts")
			return registry.NewMemoryStore(log)
		}
		return store

	case "postgres":
		if !cfg.IsDatabaseConfigured() {
			log.Fatal("PostgreSQL ticket store requires database credentials")
		}
		store, err := registry.NewPostgresStore(context.Background(), &cfg.Database, log)
		if err != nil {
			log.WithError(err).Fatal("Failed to connect to PostgreSQL ticket store")
		}
		return store

	default:
		log.Warn("Using in-memory ticket store; tickets will not survive a restart")
		return registry.NewMemoryStore(log)
	}
}

func closeStore(store registry.Store, log *logrus.Logger) {
	if err := store.Close(); err != nil {
		log.WithError(err).Error("Failed to close ticket store")
	}
}

func newIDGenerator(cfg *config.Config) *ticket.IDGenerator {
	suffix := cfg.Ticket.IDSuffix
	if suffix == "" {
		suffix = ticket.DefaultNodeSuffix()
	}
	return ticket.NewIDGenerator(suffix)
}

// buildPolicyChain assembles the authentication policy chain from
// configuration: handler agreement first, then attribute and session
// checks, with the remote policy last since it costs a network call.
func buildPolicyChain(cfg *config.Config, reg *registry.Registry, log *logrus.Logger) policy.Policy {
	var policies []policy.Policy

	if cfg.Policy.RequireAllHandlers {
		policies = append(policies, policy.AllHandlers{})
	} else {
		policies = append(policies, policy.AnyHandler{})
	}
	if len(cfg.Policy.RequiredAttributes) > 0 {
		policies = append(policies, policy.NewRequiredAttributes(cfg.Policy.RequiredAttributes))
	}
	if cfg.Policy.SessionLimit > 0 {
		policies = append(policies, policy.NewSessionLimit(cfg.Policy.SessionLimit, reg))
	}
	if cfg.Policy.RemoteURL != "" {
		policies = append(policies, policy.NewRemote(&cfg.Policy, log))
	}

	if cfg.Policy.Mode == "any" {
		return policy.NewAnyOf(log, policies...)
	}
	return policy.NewChain(log, policies...)
}

func setupServer(cfg *config.Config, reg *registry.Registry, service *auth.Service, log *logrus.Logger) *http.Server {
	healthHandler := handlers.NewHealthHandler(cfg, reg, log)
	ticketHandler := handlers.NewTicketHandler(service, reg, log)

	middlewareStack := middleware.NewStack(log)

	router := mux.NewRouter()
	apiRouter := router.PathPrefix("/api/v1").Subrouter()

	apiRouter.HandleFunc("/health", healthHandler.Health).Methods("GET")
	apiRouter.HandleFunc("/health/live", healthHandler.Liveness).Methods("GET")
	apiRouter.HandleFunc("/health/ready", healthHandler.Readiness).Methods("GET")
	apiRouter.Handle("/metrics", promhttp.Handler()).Methods("GET")

	ticketHandler.RegisterRoutes(apiRouter)

	finalHandler := middlewareStack.Chain(
		router,
		middlewareStack.Recovery,
		middlewareStack.RequestLogger,
		middlewareStack.SecurityHeaders,
		middlewareStack.ContentType,
	)

	return &http.Server{
		Addr:         cfg.ServerAddr(),
		Handler:      finalHandler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}
}

func runServer(server *http.Server, cfg *config.Config, log *logrus.Logger) {
	go startServer(server, log)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if shutdownErr := server.Shutdown(shutdownCtx); shutdownErr != nil {
		log.WithError(shutdownErr).Error("Server forced to shutdown")
	} else {
		log.Info("Server exited gracefully")
	}
}

func startServer(server *http.Server, log *logrus.Logger) {
	log.WithField("addr", server.Addr).Info("Starting HTTP server")

	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.WithError(err).Fatal("Failed to start server")
	}
}
