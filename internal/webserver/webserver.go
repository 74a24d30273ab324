package webserver

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/pkg/errors"

	"github.com/screa/sfuel-miner/internal/logger"
	"github.com/screa/sfuel-miner/pkg/types"
)

// Miner mines from textual inputs
type Miner interface {
	MineFor(ctx context.Context, nonce, gas, from string) (*types.Outcome, error)
}

// Claimer submits a fuel claim for a recipient
type Claimer interface {
	Claim(ctx context.Context, recipient string) (*types.ClaimReceipt, error)
}

// ClaimStore records and lists receipts
type ClaimStore interface {
	RecordClaim(r *types.ClaimReceipt) error
	ListClaims(limit int) ([]types.ClaimReceipt, error)
}

// Server exposes the miner over HTTP. Claimer and Store may be nil, which
// disables the claim endpoints.
type Server struct {
	Miner   Miner
	Claimer Claimer
	Store   ClaimStore
	Logger  *logger.Logger

	httpSvr *http.Server
}

// ApiError is the JSON body of every failed request
type ApiError struct {
	Error string `json:"error"`
}

type mineRequest struct {
	Nonce   string `json:"nonce"`
	Gas     string `json:"gas"`
	Address string `json:"address"`
}

type mineResponse struct {
	GasPrice    string `json:"gasPrice"`
	ExternalGas string `json:"externalGas"`
	DurationMs  int64  `json:"durationMs"`
	Iterations  int64  `json:"iterations"`
}

type claimRequest struct {
	Address string `json:"address"`
}

// Router builds the API routes
func (s *Server) Router() http.Handler {
	router := mux.NewRouter()
	router.HandleFunc("/api/health", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]bool{"ok": true})
	}).Methods(http.MethodGet)
	router.HandleFunc("/api/mine", s.mine).Methods(http.MethodPost)
	router.HandleFunc("/api/claim", s.claim).Methods(http.MethodPost)
	router.HandleFunc("/api/claims", s.listClaims).Methods(http.MethodGet)

	return handlers.CORS(
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodOptions}),
		handlers.AllowedHeaders([]string{"Content-Type"}),
	)(router)
}

// Start serves on addr until ctx is cancelled
func (s *Server) Start(ctx context.Context, addr string) error {
	s.httpSvr = &http.Server{
		Handler:      handlers.LoggingHandler(os.Stderr, s.Router()),
		Addr:         addr,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 0, // mining requests may run long; bounded by the miner timeout
	}

	errCh := make(chan error, 1)
	go func() {
		s.Logger.Info().Str("addr", addr).Msg("sfuel API listening")
		if err := s.httpSvr.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return errors.Wrap(err, "Httpserver: ListenAndServe()")
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.httpSvr.Shutdown(shutdownCtx); err != nil {
		return errors.Wrap(err, "Httpserver: Shutdown()")
	}
	s.Logger.Info().Msg("Httpserver: Shutdown")
	return nil
}

func (s *Server) mine(w http.ResponseWriter, r *http.Request) {
	var req mineRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apiError(w, err, http.StatusBadRequest)
		return
	}

	outcome, err := s.Miner.MineFor(r.Context(), req.Nonce, req.Gas, req.Address)
	if err != nil {
		apiError(w, err, statusFor(err))
		return
	}

	s.Logger.Debug().Str("address", req.Address).Int64("attempts", outcome.Iterations).Msg("API mine")
	json.NewEncoder(w).Encode(mineResponse{
		GasPrice:    outcome.Candidate.Hex(),
		ExternalGas: outcome.ExternalGas.Dec(),
		DurationMs:  outcome.Elapsed.Milliseconds(),
		Iterations:  outcome.Iterations,
	})
}

func (s *Server) claim(w http.ResponseWriter, r *http.Request) {
	if s.Claimer == nil {
		apiError(w, errors.New("claims are disabled"), http.StatusNotImplemented)
		return
	}

	var req claimRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apiError(w, err, http.StatusBadRequest)
		return
	}

	receipt, err := s.Claimer.Claim(r.Context(), req.Address)
	if err != nil {
		s.Logger.Error().Err(err).Str("address", req.Address).Msg("API claim")
		apiError(w, err, statusFor(err))
		return
	}

	if s.Store != nil {
		if err := s.Store.RecordClaim(receipt); err != nil {
			s.Logger.Error().Err(err).Str("tx", receipt.TxHash).Msg("Unable to record claim")
		}
	}
	json.NewEncoder(w).Encode(receipt)
}

func (s *Server) listClaims(w http.ResponseWriter, r *http.Request) {
	if s.Store == nil {
		apiError(w, errors.New("claim history is disabled"), http.StatusNotImplemented)
		return
	}

	limit := 0
	if l := r.URL.Query().Get("limit"); l != "" {
		n, err := strconv.Atoi(l)
		if err != nil || n < 0 {
			apiError(w, errors.Errorf("invalid limit %q", l), http.StatusBadRequest)
			return
		}
		limit = n
	}

	receipts, err := s.Store.ListClaims(limit)
	if err != nil {
		apiError(w, err, http.StatusInternalServerError)
		return
	}
	if receipts == nil {
		receipts = []types.ClaimReceipt{}
	}
	json.NewEncoder(w).Encode(map[string][]types.ClaimReceipt{"claims": receipts})
}

// statusFor maps search errors to HTTP statuses
func statusFor(err error) int {
	var addrErr *types.InvalidAddressError
	switch {
	case errors.As(err, &addrErr), errors.Is(err, types.ErrInvalidQuantity):
		return http.StatusBadRequest
	case errors.Is(err, types.ErrTimedOut):
		return http.StatusGatewayTimeout
	case errors.Is(err, types.ErrCancelled):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func apiError(w http.ResponseWriter, err error, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(ApiError{Error: err.Error()})
}
