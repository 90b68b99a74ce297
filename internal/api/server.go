package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/mr-karan/ipamd/internal/auth"
	"github.com/mr-karan/ipamd/internal/ipam"
	"github.com/mr-karan/ipamd/internal/metrics"
	"github.com/mr-karan/ipamd/internal/middleware"
	"github.com/mr-karan/ipamd/internal/migration"
	"github.com/zerodha/logf"
)

// Server handles HTTP API requests
type Server struct {
	cfg      Config
	logger   logf.Logger
	ipam     *ipam.Service
	migrator *migration.Migrator
	auth     *auth.Authenticator
	router   *mux.Router
}

// Config holds server configuration
type Config struct {
	ListenAddr     string
	AllowedOrigins []string
}

// NewAPIServer creates a new API server
func NewAPIServer(cfg Config, logger logf.Logger, svc *ipam.Service, mig *migration.Migrator, auth *auth.Authenticator) *Server {
	s := &Server{
		cfg:      cfg,
		logger:   logger,
		ipam:     svc,
		migrator: mig,
		auth:     auth,
		router:   mux.NewRouter(),
	}

	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.Use(
		middleware.RequestID,
		middleware.Recovery(s.logger),
		middleware.Logger(s.logger),
		middleware.CORS(s.cfg.AllowedOrigins),
	)

	s.router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	s.router.HandleFunc("/metrics", metrics.Handler()).Methods(http.MethodGet)

	api := s.router.PathPrefix("/api").Subrouter()
	api.Use(s.auth.Middleware)

	ipamRoutes := api.PathPrefix("/ipam").Subrouter()
	ipamRoutes.HandleFunc("/pools", s.handleListPools).Methods(http.MethodGet)
	ipamRoutes.HandleFunc("/pools", s.handleCreatePool).Methods(http.MethodPost)
	ipamRoutes.HandleFunc("/pools/{id}", s.handleGetPool).Methods(http.MethodGet)
	ipamRoutes.HandleFunc("/pools/{id}", s.handleUpdatePool).Methods(http.MethodPut)
	ipamRoutes.HandleFunc("/pools/{id}", s.handleDeletePool).Methods(http.MethodDelete)
	ipamRoutes.HandleFunc("/pools/{id}/utilization", s.handlePoolUtilization).Methods(http.MethodGet)

	ipamRoutes.HandleFunc("/subnets", s.handleListSubnets).Methods(http.MethodGet)
	ipamRoutes.HandleFunc("/subnets", s.handleCreateSubnet).Methods(http.MethodPost)
	ipamRoutes.HandleFunc("/subnets/{id}", s.handleGetSubnet).Methods(http.MethodGet)
	ipamRoutes.HandleFunc("/subnets/{id}", s.handleUpdateSubnet).Methods(http.MethodPut)
	ipamRoutes.HandleFunc("/subnets/{id}", s.handleDeleteSubnet).Methods(http.MethodDelete)
	ipamRoutes.HandleFunc("/subnets/{id}/utilization", s.handleSubnetUtilization).Methods(http.MethodGet)
	ipamRoutes.HandleFunc("/subnets/{id}/available-ips", s.handleAvailableIPs).Methods(http.MethodGet)
	ipamRoutes.HandleFunc("/subnets/{id}/addresses/{address}", s.handleReleaseAddress).Methods(http.MethodDelete)

	ipamRoutes.HandleFunc("/allocations", s.handleListAllocations).Methods(http.MethodGet)
	ipamRoutes.HandleFunc("/allocations", s.handleAllocate).Methods(http.MethodPost)
	ipamRoutes.HandleFunc("/allocations/{id}", s.handleGetAllocation).Methods(http.MethodGet)
	ipamRoutes.HandleFunc("/allocations/{id}", s.handleRelease).Methods(http.MethodDelete)
	ipamRoutes.HandleFunc("/allocations/{id}/history", s.handleAllocationHistory).Methods(http.MethodGet)

	api.HandleFunc("/migrations/validate", s.handleValidateMigration).Methods(http.MethodPost)
	api.HandleFunc("/migrations", s.handleStartMigration).Methods(http.MethodPost)
	api.HandleFunc("/migrations", s.handleListMigrations).Methods(http.MethodGet)
	api.HandleFunc("/migrations/{id}", s.handleGetMigration).Methods(http.MethodGet)
	api.HandleFunc("/migrations/{id}/cancel", s.handleCancelMigration).Methods(http.MethodPost)
	api.HandleFunc("/migrations/{id}/rollback", s.handleRollbackMigration).Methods(http.MethodPost)

	s.router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "route not found")
	})
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start starts the HTTP server
func (s *Server) Start(ctx context.Context) error {
	server := &http.Server{
		Addr:         s.cfg.ListenAddr,
		Handler:      s.router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		s.logger.Info("shutting down http server")
		if err := server.Shutdown(shutdownCtx); err != nil {
			s.logger.Error("http server shutdown error", "error", err)
		}
	}()

	s.logger.Info("starting http server", "addr", s.cfg.ListenAddr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("http server error: %w", err)
	}

	return nil
}
