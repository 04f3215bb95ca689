// Package server exposes the staking ledger over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"yieldstake/core/events"
	"yieldstake/gateway/middleware"
	"yieldstake/native/staking"
	"yieldstake/services/stakingd/ledger"
)

const (
	maxBodyBytes     = 1 << 16
	settlementHeader = "X-Settlement-ID"
)

// Ledger is the subset of the settlement authority used by the HTTP API.
type Ledger interface {
	Settle(ctx context.Context, req staking.Request) (*staking.Receipt, error)
	Config(ctx context.Context) (*staking.ProgramConfig, error)
	Account(ctx context.Context, owner [20]byte) (*staking.StakingAccount, error)
	Preview(ctx context.Context, owner [20]byte) (*staking.RewardPreview, error)
	History(ctx context.Context, owner [20]byte, limit int) ([]*staking.Receipt, error)
}

type Config struct {
	Ledger         Ledger
	Broker         *events.Broker
	Authenticator  *middleware.Authenticator
	RateLimiter    *middleware.RateLimiter
	Observability  *middleware.Observability
	CORS           middleware.CORSConfig
	MetricsHandler http.Handler
	StreamInterval time.Duration
	SettleTimeout  time.Duration
	Logger         *slog.Logger
}

type Server struct {
	ledger         Ledger
	broker         *events.Broker
	auth           *middleware.Authenticator
	limiter        *middleware.RateLimiter
	obs            *middleware.Observability
	cors           middleware.CORSConfig
	metrics        http.Handler
	streamInterval time.Duration
	settleTimeout  time.Duration
	logger         *slog.Logger
}

func New(cfg Config) (*Server, error) {
	if cfg.Ledger == nil {
		return nil, fmt.Errorf("server: ledger required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Authenticator == nil {
		cfg.Authenticator = middleware.NewAuthenticator(middleware.AuthConfig{}, cfg.Logger)
	}
	if cfg.StreamInterval <= 0 {
		cfg.StreamInterval = 2 * time.Second
	}
	if cfg.SettleTimeout <= 0 {
		cfg.SettleTimeout = 5 * time.Second
	}
	if cfg.MetricsHandler == nil {
		cfg.MetricsHandler = promhttp.Handler()
	}
	return &Server{
		ledger:         cfg.Ledger,
		broker:         cfg.Broker,
		auth:           cfg.Authenticator,
		limiter:        cfg.RateLimiter,
		obs:            cfg.Observability,
		cors:           cfg.CORS,
		metrics:        cfg.MetricsHandler,
		streamInterval: cfg.StreamInterval,
		settleTimeout:  cfg.SettleTimeout,
		logger:         cfg.Logger.With(slog.String("component", "http")),
	}, nil
}

// Handler builds the routed and instrumented HTTP handler.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.CORS(s.cors))

	r.Get("/healthz", s.handleHealth)
	r.Handle("/metrics", s.metrics)

	r.Route("/v1", func(v1 chi.Router) {
		v1.Group(func(read chi.Router) {
			s.use(read, "read")
			read.Get("/config", s.handleConfig)
			read.Get("/accounts/{owner}", s.handleAccount)
			read.Get("/accounts/{owner}/preview", s.handlePreview)
			read.Get("/accounts/{owner}/history", s.handleHistory)
			read.Get("/accounts/{owner}/preview/stream", s.handlePreviewStream)
		})
		v1.Group(func(write chi.Router) {
			s.use(write, "settle")
			write.Use(s.auth.Middleware(middleware.ScopeStake))
			write.Post("/stake", s.handleSettle(staking.OpStake))
			write.Post("/unstake", s.handleSettle(staking.OpUnstake))
			write.Post("/harvest", s.handleSettle(staking.OpHarvest))
		})
		v1.Group(func(admin chi.Router) {
			s.use(admin, "admin")
			admin.Use(s.auth.Middleware(middleware.ScopeAdmin))
			admin.Post("/admin/config", s.handleUpdateConfig)
			admin.Post("/admin/fund", s.handleFund)
		})
	})
	return otelhttp.NewHandler(r, "stakingd")
}

func (s *Server) use(r chi.Router, group string) {
	if s.limiter != nil {
		r.Use(s.limiter.Middleware(group))
	}
	if s.obs != nil {
		r.Use(s.obs.Middleware(group))
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if _, err := s.ledger.Config(r.Context()); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) handleConfig(w http.ResponseWriter, r *http.Request) {
	cfg, err := s.ledger.Config(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	resp, err := newConfigResponse(cfg)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleAccount(w http.ResponseWriter, r *http.Request) {
	owner, err := parseOwner(chi.URLParam(r, "owner"))
	if err != nil {
		writeError(w, err)
		return
	}
	account, err := s.ledger.Account(r.Context(), owner)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newAccountResponse(account, s.units(r.Context())))
}

func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	owner, err := parseOwner(chi.URLParam(r, "owner"))
	if err != nil {
		writeError(w, err)
		return
	}
	preview, err := s.ledger.Preview(r.Context(), owner)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newPreviewResponse(preview))
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	owner, err := parseOwner(chi.URLParam(r, "owner"))
	if err != nil {
		writeError(w, err)
		return
	}
	limit := 0
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			writeJSON(w, http.StatusBadRequest, errorBody{Error: errorDetail{Code: "invalid_limit", Message: "limit must be a non-negative integer"}})
			return
		}
		limit = parsed
	}
	receipts, err := s.ledger.History(r.Context(), owner, limit)
	if errors.Is(err, ledger.ErrHistoryDisabled) {
		writeJSON(w, http.StatusNotImplemented, errorBody{Error: errorDetail{Code: "history_disabled", Message: err.Error()}})
		return
	}
	if err != nil {
		writeError(w, err)
		return
	}
	units := s.units(r.Context())
	resp := historyResponse{Owner: ownerString(owner), Settlements: make([]receiptResponse, 0, len(receipts))}
	for _, receipt := range receipts {
		resp.Settlements = append(resp.Settlements, newReceiptResponse(receipt, units))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleSettle(op staking.Operation) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body settleRequest
		if err := decodeBody(r, &body); err != nil {
			writeBadRequest(w, err)
			return
		}
		owner, err := parseOwner(body.Owner)
		if err != nil {
			writeError(w, err)
			return
		}
		if !s.subjectMatches(r.Context(), owner) {
			writeError(w, staking.ErrUnauthorized)
			return
		}
		if body.ForfeitReward && op != staking.OpUnstake {
			writeBadRequest(w, errors.New("forfeitReward is only valid for unstake"))
			return
		}
		amount, err := parseRaw(body.Amount)
		if err != nil {
			writeError(w, err)
			return
		}
		s.settle(w, r, staking.Request{
			ID:            settlementID(r, body.SettlementID),
			Operation:     op,
			Caller:        owner,
			AmountRaw:     amount,
			ForfeitReward: body.ForfeitReward,
		})
	}
}

func (s *Server) handleUpdateConfig(w http.ResponseWriter, r *http.Request) {
	var body configUpdateRequest
	if err := decodeBody(r, &body); err != nil {
		writeBadRequest(w, err)
		return
	}
	caller, err := parseOwner(body.Caller)
	if err != nil {
		writeError(w, err)
		return
	}
	if !s.subjectMatches(r.Context(), caller) {
		writeError(w, staking.ErrUnauthorized)
		return
	}
	update := staking.ConfigUpdate{RatePerSecondEncoded: body.RatePerSecondEncoded}
	for _, field := range []struct {
		raw string
		dst *uint64
	}{
		{body.HarvestThresholdRaw, &update.HarvestThresholdRaw},
		{body.StakeThresholdRaw, &update.StakeThresholdRaw},
		{body.UnstakeThresholdRaw, &update.UnstakeThresholdRaw},
	} {
		value, err := parseRaw(field.raw)
		if err != nil {
			writeError(w, err)
			return
		}
		*field.dst = value
	}
	s.settle(w, r, staking.Request{
		ID:        settlementID(r, body.SettlementID),
		Operation: staking.OpUpdateConfig,
		Caller:    caller,
		Update:    &update,
	})
}

func (s *Server) handleFund(w http.ResponseWriter, r *http.Request) {
	var body fundRequest
	if err := decodeBody(r, &body); err != nil {
		writeBadRequest(w, err)
		return
	}
	caller, err := parseOwner(body.Caller)
	if err != nil {
		writeError(w, err)
		return
	}
	if !s.subjectMatches(r.Context(), caller) {
		writeError(w, staking.ErrUnauthorized)
		return
	}
	amount, err := parseRaw(body.Amount)
	if err != nil {
		writeError(w, err)
		return
	}
	s.settle(w, r, staking.Request{
		ID:        settlementID(r, body.SettlementID),
		Operation: staking.OpFundRewards,
		Caller:    caller,
		AmountRaw: amount,
	})
}

func (s *Server) settle(w http.ResponseWriter, r *http.Request, req staking.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), s.settleTimeout)
	defer cancel()
	receipt, err := s.ledger.Settle(ctx, req)
	if err != nil {
		writeError(w, err)
		return
	}
	status := http.StatusCreated
	if receipt.Status == staking.StatusAlreadySettled {
		status = http.StatusOK
	}
	writeJSON(w, status, newReceiptResponse(receipt, s.units(r.Context())))
}

// subjectMatches reports whether the bearer token subject is addr. With
// authentication disabled every caller is trusted.
func (s *Server) subjectMatches(ctx context.Context, addr [20]byte) bool {
	if !s.auth.Enabled() {
		return true
	}
	subject, err := middleware.SubjectFromContext(ctx)
	if err != nil {
		return false
	}
	parsed, err := parseOwner(subject)
	if err != nil {
		return false
	}
	return parsed == addr
}

func (s *Server) units(ctx context.Context) *staking.Units {
	cfg, err := s.ledger.Config(ctx)
	if err != nil {
		return nil
	}
	units, err := cfg.Units()
	if err != nil {
		return nil
	}
	return &units
}

func settlementID(r *http.Request, fromBody string) string {
	if header := strings.TrimSpace(r.Header.Get(settlementHeader)); header != "" {
		return header
	}
	return strings.TrimSpace(fromBody)
}

func decodeBody(r *http.Request, dst any) error {
	decoder := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		return fmt.Errorf("decode request: %w", err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeBadRequest(w http.ResponseWriter, err error) {
	writeJSON(w, http.StatusBadRequest, errorBody{Error: errorDetail{Code: "bad_request", Message: err.Error()}})
}

func writeError(w http.ResponseWriter, err error) {
	status, body := toHTTPError(err)
	writeJSON(w, status, body)
}
