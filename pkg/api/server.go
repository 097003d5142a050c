package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"bank-ledger/pkg/account"
	"bank-ledger/pkg/chain"
	"bank-ledger/pkg/logging"
	"bank-ledger/pkg/transfer"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Pinger checks a backing dependency.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Deps are the components served over HTTP. Reader, Engine and Auth are
// required.
type Deps struct {
	// Reader serves the display reads, usually a cached.Reader.
	Reader account.Reader
	Engine *transfer.Engine
	Auth   Authenticator

	// Store is pinged by /health.
	Store Pinger
	// Cache, when set, adds per-layer status to /health.
	Cache *chain.Chain

	// Gatherer, when set, is exposed on /metrics.
	Gatherer    prometheus.Gatherer
	HTTPMetrics *HTTPMetrics

	Logger *logging.Logger
}

// ServerConfig holds configuration for the API server.
type ServerConfig struct {
	// Address to listen on (e.g., ":8080")
	Address string

	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration

	// HealthTimeout bounds the store ping of /health.
	HealthTimeout time.Duration
}

// DefaultServerConfig returns a default configuration.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Address:       ":8080",
		ReadTimeout:   15 * time.Second,
		WriteTimeout:  15 * time.Second,
		IdleTimeout:   60 * time.Second,
		HealthTimeout: 2 * time.Second,
	}
}

// Server exposes accounts and transfers over HTTP.
type Server struct {
	deps   Deps
	config ServerConfig
	logger *logging.Logger
	router *mux.Router
	server *http.Server
}

// NewServer builds the router.
func NewServer(deps Deps, config ServerConfig) *Server {
	if config.HealthTimeout <= 0 {
		config.HealthTimeout = 2 * time.Second
	}

	s := &Server{
		deps:   deps,
		config: config,
		logger: logging.Or(deps.Logger, "api"),
		router: mux.NewRouter(),
	}

	if deps.HTTPMetrics != nil {
		s.router.Use(deps.HTTPMetrics.Middleware())
	}

	s.router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	s.router.HandleFunc("/accounts", s.authenticated(s.handleListAccounts)).Methods(http.MethodGet)
	s.router.HandleFunc("/accounts/{id}", s.authenticated(s.handleGetAccount)).Methods(http.MethodGet)
	s.router.HandleFunc("/transfers", s.authenticated(s.handleTransfer)).Methods(http.MethodPost)
	if deps.Gatherer != nil {
		s.router.Handle("/metrics", promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	}

	s.server = &http.Server{
		Addr:         config.Address,
		Handler:      s.router,
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
		IdleTimeout:  config.IdleTimeout,
	}
	return s
}

// Handler returns the router, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe blocks until the server stops. It returns nil after Stop.
func (s *Server) ListenAndServe() error {
	s.logger.Info("server listening", zap.String("address", s.config.Address))
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop gracefully shuts down the HTTP server.
func (s *Server) Stop(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

type identityHandler func(w http.ResponseWriter, r *http.Request, identity string)

// authenticated resolves the caller identity and hands it to next explicitly.
func (s *Server) authenticated(next identityHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		identity, err := s.deps.Auth.Authenticate(r)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "unauthenticated")
			return
		}
		next(w, r, identity)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := http.StatusOK
	response := map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().Unix(),
	}

	if s.deps.Store != nil {
		ctx, cancel := context.WithTimeout(r.Context(), s.config.HealthTimeout)
		defer cancel()
		if err := s.deps.Store.Ping(ctx); err != nil {
			s.logger.Warn("health check failed", zap.Error(err))
			status = http.StatusServiceUnavailable
			response["status"] = "unhealthy"
		}
	}
	if s.deps.Cache != nil {
		response["cache"] = s.deps.Cache.Status()
	}

	writeJSON(w, status, response)
}

func (s *Server) handleListAccounts(w http.ResponseWriter, r *http.Request, identity string) {
	accounts, err := s.deps.Reader.ListAccounts(r.Context(), identity)
	if err != nil {
		s.logger.Error("list accounts failed", zap.String("owner", identity), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"accounts": accounts})
}

func (s *Server) handleGetAccount(w http.ResponseWriter, r *http.Request, identity string) {
	id := mux.Vars(r)["id"]

	balance, err := s.deps.Reader.GetBalance(r.Context(), id, identity)
	if account.IsNotFound(err) {
		writeError(w, http.StatusNotFound, "account not found")
		return
	}
	if err != nil {
		s.logger.Error("get balance failed", zap.String("account", id), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"id": id, "balance": balance})
}

type transferRequest struct {
	From   string      `json:"from"`
	To     string      `json:"to"`
	Amount json.Number `json:"amount"`
}

func (s *Server) handleTransfer(w http.ResponseWriter, r *http.Request, identity string) {
	var req transferRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	amount, err := transfer.ParseAmount(req.Amount.String())
	if err != nil {
		writeJSON(w, http.StatusBadRequest, transfer.Result{
			Status:    transfer.StatusInvalidAmount,
			SourceID:  req.From,
			TargetID:  req.To,
			MaxAmount: s.deps.Engine.MaxAmount(),
		})
		return
	}

	res, err := s.deps.Engine.Execute(r.Context(), transfer.Request{
		SourceID: req.From,
		TargetID: req.To,
		Amount:   amount,
		Owner:    identity,
	})
	if err != nil {
		// the engine has logged the cause; only the reference leaves the process
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"status":    transfer.StatusInternal.String(),
			"reference": res.Reference,
		})
		return
	}

	writeJSON(w, statusCode(res.Status), res)
}

func statusCode(s transfer.Status) int {
	switch s {
	case transfer.StatusSuccess:
		return http.StatusOK
	case transfer.StatusUnauthorized:
		return http.StatusForbidden
	case transfer.StatusTargetNotFound:
		return http.StatusNotFound
	case transfer.StatusInvalidAmount:
		return http.StatusBadRequest
	case transfer.StatusInsufficientFunds:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
