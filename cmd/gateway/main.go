// Package main provides the entry point for the SMART-on-FHIR gateway
// service. It initializes all dependencies, sets up HTTP routes with
// middleware, and starts the server with graceful shutdown support.
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
	"github.com/sirupsen/logrus"

	"github.com/quotentiroler/smart-on-fhir-proxy/gateway-service/internal/config"
	"github.com/quotentiroler/smart-on-fhir-proxy/gateway-service/internal/handlers"
	"github.com/quotentiroler/smart-on-fhir-proxy/gateway-service/internal/keycloak"
	"github.com/quotentiroler/smart-on-fhir-proxy/gateway-service/internal/middleware"
	"github.com/quotentiroler/smart-on-fhir-proxy/gateway-service/internal/monitor"
	"github.com/quotentiroler/smart-on-fhir-proxy/gateway-service/internal/proxy"
	redisstore "github.com/quotentiroler/smart-on-fhir-proxy/gateway-service/internal/redis"
	"github.com/quotentiroler/smart-on-fhir-proxy/gateway-service/internal/smart"
	"github.com/quotentiroler/smart-on-fhir-proxy/gateway-service/internal/startup"
	"github.com/quotentiroler/smart-on-fhir-proxy/gateway-service/pkg/logger"
)

func main() {
	// Load .env.local file only in development (when GO_ENV is not set or set to "development")
	goEnv := os.Getenv("GO_ENV")
	if goEnv == "" || goEnv == "development" {
		if err := godotenv.Load(".env.local"); err != nil {
			// Only log if the error is not "file not found"
			if !os.IsNotExist(err) {
				fmt.Fprintf(os.Stderr, "Warning: Error loading .env.local file: %v\n", err)
			}
		}
	}

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	if overrideErr := cfg.ApplyOperationalOverrides(); overrideErr != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to apply operational overrides: %v\n", overrideErr)
	}

	// Initialize logger
	log := logger.NewWithConfig(&logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	})
	log.Info("Starting SMART-on-FHIR gateway service")
	log.WithFields(logrus.Fields{
		"version": "1.0.0",
		"port":    cfg.Server.Port,
		"host":    cfg.Server.Host,
		"tls":     cfg.IsTLSEnabled(),
		"issuer":  cfg.RealmURL(),
		"fhir":    cfg.FHIR.BaseURL,
	}).Info("Service configuration loaded")

	// Redis is optional; without it the gateway runs unthrottled
	redisClient, err := redisstore.NewClient(&cfg.Redis, log)
	if err != nil {
		log.WithError(err).Warn("Failed to connect to Redis, rate limiting disabled")
		redisClient = nil
	} else {
		defer closeRedis(redisClient, log)
	}

	// Keycloak admin relay
	kcService := keycloak.NewService(cfg, log)

	// Auto-register configured apps against the realm
	cache, cacheErr := keycloak.NewRegistrationCache(cfg.AppAutoRegister.CacheFile)
	if cacheErr != nil {
		log.WithError(cacheErr).Warn("Failed to load registration cache, continuing without it")
		cache = nil
	}
	appRegSvc := startup.NewAppRegistrationService(cfg, kcService, cache, log)
	if regErr := appRegSvc.RegisterApps(context.Background()); regErr != nil {
		log.WithError(regErr).Error("Failed to register apps during startup")
		// Don't exit, continue with service startup
	}

	// Set up HTTP server
	server, err := setupServer(cfg, kcService, cache, redisClient, log)
	if err != nil {
		log.WithError(err).Fatal("Failed to set up server")
	}

	// Start and run server with graceful shutdown
	runServer(server, cfg, log)
}

func closeRedis(client *redisstore.Client, log *logrus.Logger) {
	if err := client.Close(); err != nil {
		log.WithError(err).Error("Failed to close Redis connection")
	}
}

func setupServer(
	cfg *config.Config,
	kcService *keycloak.Service,
	cache *keycloak.RegistrationCache,
	redisClient *redisstore.Client,
	log *logrus.Logger,
) (*http.Server, error) {
	// Monitoring relay
	hub := monitor.NewHub(cfg.Monitor.BufferSize, cfg.Monitor.ClientQueue, log)

	var pinger handlers.Pinger
	if redisClient != nil {
		pinger = redisClient
	}
	healthHandler := handlers.NewHealthHandler(cfg, pinger, hub, log)
	metrics := healthHandler.MetricSet()

	// FHIR reverse proxy
	fhirProxy, err := proxy.NewFHIRProxy(cfg.FHIR.BaseURL, cfg.FHIR.Timeout, hub, metrics.ProxyRequestsTotal, log)
	if err != nil {
		return nil, fmt.Errorf("failed to create FHIR proxy: %w", err)
	}

	// Handlers
	gatewayHandler := handlers.NewGatewayHandler(cfg, smart.NewDiscoverer(), log)
	adminHandler := handlers.NewAdminHandler(kcService, cfg, cache, hub, log)
	monitorHandler := handlers.NewMonitorHandler(hub, cfg, log)

	// Middleware
	var middlewareStack *middleware.Stack
	if redisClient != nil {
		middlewareStack = middleware.NewStack(cfg, redisClient.Underlying(), hub, log)
	} else {
		middlewareStack = middleware.NewStack(cfg, nil, hub, log)
	}
	introspector := keycloak.NewIntrospector(cfg, log)

	// Routes
	router := mux.NewRouter()

	gatewayHandler.RegisterRoutes(router)
	healthHandler.RegisterRoutes(router)

	// FHIR proxy, bearer tokens validated by the upstream FHIR server
	router.PathPrefix("/fhir/").Handler(fhirProxy.Handler("/fhir"))

	// Admin API, protected by upstream token introspection
	adminRouter := router.PathPrefix("/api/v1/admin").Subrouter()
	adminRouter.Use(middlewareStack.AdminAuth(introspector))
	adminHandler.RegisterRoutes(adminRouter)

	// Monitoring relay
	monitorRouter := router.PathPrefix("/api/v1/monitor").Subrouter()
	monitorHandler.RegisterRoutes(monitorRouter)

	// Apply middleware to the entire router
	finalHandler := middlewareStack.Chain(
		router,
		middlewareStack.Recovery,
		middlewareStack.RequestLogger,
		metrics.InstrumentHTTP,
		middlewareStack.SecurityHeaders,
		middlewareStack.CORS,
		middlewareStack.RateLimit,
		middlewareStack.ContentType,
	)

	return &http.Server{
		Addr:         cfg.ServerAddr(),
		Handler:      finalHandler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}, nil
}

func runServer(server *http.Server, cfg *config.Config, log *logrus.Logger) {
	// Start server in a goroutine
	go startServer(server, cfg, log)

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down server...")

	// Create context with timeout for graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	// Attempt graceful shutdown
	if shutdownErr := server.Shutdown(shutdownCtx); shutdownErr != nil {
		log.WithError(shutdownErr).Error("Server forced to shutdown")
	} else {
		log.Info("Server exited gracefully")
	}
}

func startServer(server *http.Server, cfg *config.Config, log *logrus.Logger) {
	log.WithFields(logrus.Fields{
		"addr": server.Addr,
		"tls":  cfg.IsTLSEnabled(),
	}).Info("Starting HTTP server")

	var startErr error
	if cfg.IsTLSEnabled() {
		startErr = server.ListenAndServeTLS(cfg.Server.TLSCert, cfg.Server.TLSKey)
	} else {
		startErr = server.ListenAndServe()
	}

	if startErr != nil && startErr != http.ErrServerClosed {
		log.WithError(startErr).Fatal("Failed to start server")
	}
}
