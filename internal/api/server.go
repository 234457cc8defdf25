package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/Acceso-dev/Acceso-x402/internal/api/middleware"
	"github.com/Acceso-dev/Acceso-x402/internal/api/websocket"
	"github.com/Acceso-dev/Acceso-x402/internal/database"
	"github.com/Acceso-dev/Acceso-x402/internal/facilitator"
	"github.com/Acceso-dev/Acceso-x402/internal/utils"
)

// APIServer exposes the facilitator over HTTP REST plus a websocket stream
// of settlement events.
type APIServer struct {
	ctx        context.Context
	cancel     context.CancelFunc
	server     *http.Server
	listener   net.Listener
	port       string
	logger     *utils.LogsManager
	config     *utils.ConfigManager
	registry   *facilitator.Registry
	builder    *facilitator.RequirementsBuilder
	verifier   *facilitator.Verifier
	settler    *facilitator.Settler
	signer     *facilitator.FeePayerSigner
	dbManager  *database.SQLiteManager
	jwtManager *middleware.JWTManager
	hub        *websocket.Hub
	startTime  time.Time
}

// NewAPIServer creates a new API server instance
func NewAPIServer(
	config *utils.ConfigManager,
	logger *utils.LogsManager,
	registry *facilitator.Registry,
	builder *facilitator.RequirementsBuilder,
	verifier *facilitator.Verifier,
	settler *facilitator.Settler,
	signer *facilitator.FeePayerSigner,
	dbManager *database.SQLiteManager,
	hub *websocket.Hub,
) *APIServer {
	ctx, cancel := context.WithCancel(context.Background())

	jwtSecret := config.GetConfigWithDefault("jwt_secret", "change-this-secret-key-in-production")
	jwtManager := middleware.NewJWTManager(jwtSecret, "acceso-x402")

	return &APIServer{
		ctx:        ctx,
		cancel:     cancel,
		logger:     logger,
		config:     config,
		registry:   registry,
		builder:    builder,
		verifier:   verifier,
		settler:    settler,
		signer:     signer,
		dbManager:  dbManager,
		jwtManager: jwtManager,
		hub:        hub,
		startTime:  time.Now(),
	}
}

// Start initializes and starts the API server
func (s *APIServer) Start() error {
	apiPort := s.config.GetConfigWithDefault("api_port", "8402")
	s.port = apiPort

	s.logger.Info(fmt.Sprintf("Starting API server on port %s", apiPort), "api")

	fallbackPortsStr := s.config.GetConfigWithDefault("api_fallback_ports", "8403,8404")
	fallbackPorts := parsePortList(fallbackPortsStr)

	ports := append([]string{apiPort}, fallbackPorts...)
	var err error

	for _, port := range ports {
		addr := fmt.Sprintf(":%s", port)
		s.listener, err = net.Listen("tcp", addr)
		if err == nil {
			s.port = port
			s.logger.Info(fmt.Sprintf("API server bound to port %s", port), "api")
			break
		}
	}

	if s.listener == nil {
		return fmt.Errorf("failed to bind API server to any port: %v", err)
	}

	mux := http.NewServeMux()
	s.registerRoutes(mux)

	handler := middleware.CORSMiddleware(middleware.RequestIDMiddleware(mux))

	// Settle requests block until the settlement turns terminal, so the
	// write timeout must exceed the largest payment deadline.
	s.server = &http.Server{
		Handler:      handler,
		ReadTimeout:  s.config.GetConfigDuration("api_read_timeout", 15*time.Second),
		WriteTimeout: s.config.GetConfigDuration("api_write_timeout", 120*time.Second),
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		if err := s.server.Serve(s.listener); err != nil && err != http.ErrServerClosed {
			s.logger.Error(fmt.Sprintf("API server error: %v", err), "api")
		}
	}()

	s.logger.Info("API server started successfully", "api")
	return nil
}

// registerRoutes sets up all HTTP routes
func (s *APIServer) registerRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/", s.handleRoot)
	mux.HandleFunc("/health", s.handleHealth)

	// Facilitator routes
	mux.HandleFunc("/v1/x402/requirements", s.handleRequirements)
	mux.HandleFunc("/v1/x402/verify", s.handleVerify)
	mux.HandleFunc("/v1/x402/settle", s.handleSettle)
	mux.HandleFunc("/v1/x402/supported", s.handleSupported)
	mux.HandleFunc("/v1/x402/fee-payer", s.handleFeePayer)

	// Demo paywalled resource
	mux.HandleFunc("/demo/protected", s.handleProtectedResource)

	// Admin routes behind JWT
	if s.config.GetConfigBool("admin_api_enabled", false) {
		mux.Handle("/api/admin/settlements", s.jwtManager.AuthMiddleware(http.HandlerFunc(s.handleAdminSettlements)))
		mux.Handle("/api/admin/settlements/stats", s.jwtManager.AuthMiddleware(http.HandlerFunc(s.handleAdminSettlementStats)))
		mux.Handle("/api/ws/settlements", s.jwtManager.AuthMiddleware(http.HandlerFunc(s.hub.ServeWS)))
		s.logger.Info("Admin API enabled", "api")
	}

	s.logger.Debug("API routes registered", "api")
}

// handleRoot advertises the service
func (s *APIServer) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"service":  "acceso-x402 facilitator",
		"version":  facilitator.X402Version,
		"networks": s.registry.Networks(),
	})
}

// handleHealth returns API health status
func (s *APIServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, `{"status":"ok","uptime":%d}`, int64(time.Since(s.startTime).Seconds()))
}

// Stop gracefully shuts down the API server
func (s *APIServer) Stop() error {
	s.logger.Info("Stopping API server", "api")
	s.cancel()

	if s.hub != nil {
		s.hub.Close()
	}

	if s.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.server.Shutdown(ctx)
	}

	return nil
}

// GetPort returns the port the server is listening on
func (s *APIServer) GetPort() string {
	return s.port
}

// JWTManager exposes the token manager for the CLI token command
func (s *APIServer) JWTManager() *middleware.JWTManager {
	return s.jwtManager
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		// Headers are already written, nothing left to do for the client.
		_ = err
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// parsePortList parses a comma-separated list of ports
func parsePortList(portList string) []string {
	if portList == "" {
		return []string{}
	}
	ports := strings.Split(portList, ",")
	result := make([]string, 0, len(ports))
	for _, port := range ports {
		port = strings.TrimSpace(port)
		if port != "" {
			result = append(result, port)
		}
	}
	return result
}
