package health

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/speedrun-hq/speedrun-resolver/pkg/circuitbreaker"
	"github.com/speedrun-hq/speedrun-resolver/pkg/executor"
	"github.com/speedrun-hq/speedrun-resolver/pkg/logger"
	"github.com/speedrun-hq/speedrun-resolver/pkg/resolver"
)

// Chains lists the executors the resolver can submit with
type Chains interface {
	ChainIDs() []int
	Get(chainID int) (executor.Executor, error)
}

// Reports exposes the last batch outcome
type Reports interface {
	LastReport() *resolver.BatchReport
}

// Server represents a health check HTTP server
type Server struct {
	port          string
	chains        Chains
	breakers      *circuitbreaker.Set
	reports       Reports
	metricsAPIKey string
	logger        logger.Logger
}

// NewServer creates a new health check server
func NewServer(port string, chains Chains, breakers *circuitbreaker.Set, reports Reports, log logger.Logger) *Server {
	return &Server{
		port:          port,
		chains:        chains,
		breakers:      breakers,
		reports:       reports,
		metricsAPIKey: os.Getenv("METRICS_API_KEY"),
		logger:        log,
	}
}

// metricsAuthMiddleware is a middleware that checks for a valid API key
func (s *Server) metricsAuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Skip auth if no API key is configured
		if s.metricsAPIKey == "" {
			next.ServeHTTP(w, r)
			return
		}

		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			http.Error(w, "Missing Authorization header", http.StatusUnauthorized)
			return
		}

		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || parts[0] != "Bearer" {
			http.Error(w, "Invalid Authorization header format", http.StatusUnauthorized)
			return
		}

		if parts[1] != s.metricsAPIKey {
			http.Error(w, "Invalid API key", http.StatusUnauthorized)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// Handler returns the routes of the server
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	// Ready once at least one executor exists and the first batch has run
	mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		if len(s.chains.ChainIDs()) == 0 {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("No executors configured"))
			return
		}
		if s.reports.LastReport() == nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("Waiting for first batch"))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("Ready"))
	})

	mux.HandleFunc("/status", s.handleStatus)
	mux.HandleFunc("/circuit/reset", s.handleCircuitReset)

	// Expose Prometheus metrics with API key authentication
	mux.Handle("/metrics", s.metricsAuthMiddleware(promhttp.Handler()))

	return mux
}

// pendingCounter is implemented by executors that track in-flight submissions
type pendingCounter interface {
	PendingTransactions() int
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	chains := make(map[string]interface{})

	for _, chainID := range s.chains.ChainIDs() {
		exec, err := s.chains.Get(chainID)
		if err != nil {
			continue
		}

		circuitStatus := "closed"
		if s.breakers != nil && s.breakers.IsOpen(chainID) {
			circuitStatus = "open"
		}

		chainStatus := map[string]interface{}{
			"chain_type": exec.ChainType(),
			"signer":     exec.Address(),
			"circuit":    circuitStatus,
		}

		if p, ok := exec.(pendingCounter); ok {
			chainStatus["pending_transactions"] = p.PendingTransactions()
		}

		if evm, ok := exec.(*executor.EVMExecutor); ok {
			chainStatus["network"] = evm.Network().Name
			if header, err := evm.Client().HeaderByNumber(r.Context(), nil); err == nil {
				chainStatus["latest_block"] = header.Number.Uint64()
			}
		}

		chains[fmt.Sprintf("chain_%d", chainID)] = chainStatus
	}

	status := map[string]interface{}{
		"chains":     chains,
		"last_batch": s.reports.LastReport(),
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(status); err != nil {
		s.logger.Error("Error encoding status JSON: %v", err)
	}
}

// Circuit breaker admin control endpoint
func (s *Server) handleCircuitReset(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	chainIDStr := r.URL.Query().Get("chain")
	if chainIDStr == "" {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte("Missing chain parameter"))
		return
	}

	chainID, err := strconv.Atoi(chainIDStr)
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte("Invalid chain ID"))
		return
	}

	if s.breakers == nil || !s.breakers.Reset(chainID) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(fmt.Sprintf("No circuit breaker for chain %d", chainID)))
		return
	}

	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(fmt.Sprintf("Circuit breaker for chain %d reset", chainID)))
}

// Start serves until ctx is done, then shuts down gracefully
func (s *Server) Start(ctx context.Context) {
	srv := &http.Server{
		Addr:              ":" + s.port,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.logger.Error("Health server shutdown error: %v", err)
		}
	}()

	s.logger.Info("Starting health and metrics server on port %s", s.port)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		s.logger.Error("Health server error: %v", err)
	}
}
