// Package api serves the node's replayed state over HTTP and accepts signed commands for
// execution.
package api

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

	"github.com/ethereum/go-ethereum/common"

	"github.com/Sovryn-Origins/origins/internal/command"
	"github.com/Sovryn-Origins/origins/internal/journal"
	"github.com/Sovryn-Origins/origins/internal/machine"
	"github.com/Sovryn-Origins/origins/internal/statement"
)

const version = "v1"

var ErrInvalidConfig = errors.New("api: invalid config")

// StateViewer is satisfied by *machine.Machine.
type StateViewer interface {
	View(fn func(machine.State))
}

// CommandReader looks up journaled commands.
type CommandReader interface {
	Get(ctx context.Context, commandID common.Hash) (journal.Entry, error)
}

type Config struct {
	// Submitter is optional; without it POST /v1/commands answers 503.
	Submitter Submitter
	// AllowUnsigned accepts envelopes without a signature. Signatures that are present are
	// still verified. Development only.
	AllowUnsigned bool
	// MaxSkew bounds how old a submitted envelope's timestamp may be. Future timestamps are refused.
	MaxSkew      time.Duration
	MaxBodyBytes int64

	RateLimitPerIPPerSecond float64
	RateLimitBurst          int
	RateLimitMaxTrackedIPs  int

	Logger *slog.Logger
	Now    func() time.Time
}

func NewHandler(cfg Config, state StateViewer, commands CommandReader) (http.Handler, error) {
	if state == nil || commands == nil {
		return nil, fmt.Errorf("%w: nil readers", ErrInvalidConfig)
	}
	if cfg.MaxSkew <= 0 {
		cfg.MaxSkew = 5 * time.Minute
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 1 << 20
	}
	if cfg.RateLimitPerIPPerSecond <= 0 {
		cfg.RateLimitPerIPPerSecond = 20
	}
	if cfg.RateLimitBurst <= 0 {
		cfg.RateLimitBurst = 40
	}
	if cfg.RateLimitMaxTrackedIPs <= 0 {
		cfg.RateLimitMaxTrackedIPs = 10_000
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	h := &handler{
		cfg:      cfg,
		state:    state,
		commands: commands,
		limiter:  newIPRateLimiter(cfg.RateLimitPerIPPerSecond, float64(cfg.RateLimitBurst), cfg.RateLimitMaxTrackedIPs),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", h.handleHealthz)
	mux.HandleFunc("GET /v1/status", h.handleStatus)
	mux.HandleFunc("GET /v1/tiers", h.handleTiers)
	mux.HandleFunc("GET /v1/tiers/{tierId}", h.handleTier)
	mux.HandleFunc("GET /v1/tiers/{tierId}/addresses/{address}", h.handleParticipant)
	mux.HandleFunc("GET /v1/ledger/{address}", h.handleLedger)
	mux.HandleFunc("GET /v1/roles", h.handleRoles)
	mux.HandleFunc("GET /v1/commands/{commandId}", h.handleCommand)
	mux.HandleFunc("POST /v1/commands", h.handleSubmit)

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/healthz" {
			mux.ServeHTTP(w, r)
			return
		}
		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(h.cfg.RateLimitBurst))
		if !h.limiter.Allow(clientIP(r), h.cfg.Now().UTC()) {
			w.Header().Set("Retry-After", "1")
			writeError(w, http.StatusTooManyRequests, "rate_limited")
			return
		}
		mux.ServeHTTP(w, r)
	}), nil
}

type handler struct {
	cfg      Config
	state    StateViewer
	commands CommandReader
	limiter  *ipRateLimiter
}

func (h *handler) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok\n"))
}

func (h *handler) handleStatus(w http.ResponseWriter, _ *http.Request) {
	var resp map[string]any
	h.state.View(func(s machine.State) {
		resp = map[string]any{
			"version":       version,
			"applied":       s.Applied,
			"lastCommandId": s.LastCommandID,
			"at":            s.At,
			"sale":          s.Sale.Address(),
			"lockedFund":    s.Vault.Address(),
			"token":         s.Sale.Token(),
		}
	})
	writeJSON(w, http.StatusOK, resp)
}

func (h *handler) handleTiers(w http.ResponseWriter, _ *http.Request) {
	var tiers []statement.TierView
	h.state.View(func(s machine.State) {
		for _, t := range s.Sale.Tiers() {
			tiers = append(tiers, statement.NewTierView(s.Sale, t))
		}
	})
	if tiers == nil {
		tiers = []statement.TierView{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"version": version, "tiers": tiers})
}

func (h *handler) handleTier(w http.ResponseWriter, r *http.Request) {
	id, ok := parseTierID(w, r)
	if !ok {
		return
	}
	var (
		view  statement.TierView
		found bool
	)
	h.state.View(func(s machine.State) {
		if t, ok := s.Sale.ReadTier(id); ok {
			view, found = statement.NewTierView(s.Sale, t), true
		}
	})
	if !found {
		writeError(w, http.StatusNotFound, "tier_not_found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"version": version, "tier": view})
}

func (h *handler) handleParticipant(w http.ResponseWriter, r *http.Request) {
	id, ok := parseTierID(w, r)
	if !ok {
		return
	}
	addr, ok := parseAddress(w, r)
	if !ok {
		return
	}
	var (
		view  statement.ParticipantView
		found bool
	)
	h.state.View(func(s machine.State) {
		if _, ok := s.Sale.ReadTier(id); ok {
			view, found = statement.NewParticipantView(s.Sale, id, addr), true
		}
	})
	if !found {
		writeError(w, http.StatusNotFound, "tier_not_found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"version": version, "participant": view})
}

func (h *handler) handleLedger(w http.ResponseWriter, r *http.Request) {
	addr, ok := parseAddress(w, r)
	if !ok {
		return
	}
	var view statement.LedgerView
	h.state.View(func(s machine.State) {
		view = statement.NewLedgerView(s.Vault.Balances(addr))
	})
	writeJSON(w, http.StatusOK, map[string]any{"version": version, "ledger": view})
}

func (h *handler) handleRoles(w http.ResponseWriter, _ *http.Request) {
	var view statement.RolesView
	h.state.View(func(s machine.State) {
		view = statement.NewRolesView(s)
	})
	writeJSON(w, http.StatusOK, map[string]any{"version": version, "roles": view})
}

func (h *handler) handleCommand(w http.ResponseWriter, r *http.Request) {
	raw := strings.TrimSpace(r.PathValue("commandId"))
	b, err := decodeHash(raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_command_id")
		return
	}
	e, err := h.commands.Get(r.Context(), b)
	if errors.Is(err, journal.ErrNotFound) {
		writeJSON(w, http.StatusOK, map[string]any{"version": version, "found": false, "commandId": b})
		return
	}
	if err != nil {
		h.cfg.Logger.Error("read journal", "commandId", b, "err", err)
		writeError(w, http.StatusInternalServerError, "internal")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"version": version, "found": true, "command": e})
}

func (h *handler) handleSubmit(w http.ResponseWriter, r *http.Request) {
	if h.cfg.Submitter == nil {
		writeError(w, http.StatusServiceUnavailable, "submit_unavailable")
		return
	}
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.cfg.MaxBodyBytes))
	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, "body_too_large")
		return
	}
	env, err := command.Decode(body)
	switch {
	case errors.Is(err, command.ErrUnknownKind):
		writeError(w, http.StatusBadRequest, "unknown_kind")
		return
	case err != nil:
		writeError(w, http.StatusBadRequest, "invalid_envelope")
		return
	}
	now := uint64(h.cfg.Now().Unix())
	if env.At > now || now-env.At > uint64(h.cfg.MaxSkew/time.Second) {
		writeError(w, http.StatusBadRequest, "timestamp_skew")
		return
	}
	if !h.cfg.AllowUnsigned || len(env.Signature) > 0 {
		if err := env.VerifySignature(); err != nil {
			writeError(w, http.StatusUnauthorized, "invalid_signature")
			return
		}
	}
	id, err := env.ID()
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_envelope")
		return
	}
	if err := h.cfg.Submitter.Submit(r.Context(), env); err != nil {
		h.cfg.Logger.Error("submit command", "commandId", id, "kind", env.Kind, "err", err)
		writeError(w, http.StatusBadGateway, "submit_failed")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{
		"version":   version,
		"queued":    true,
		"commandId": id,
		"kind":      env.Kind,
		"caller":    env.Caller,
	})
}

func parseTierID(w http.ResponseWriter, r *http.Request) (uint64, bool) {
	id, err := strconv.ParseUint(strings.TrimSpace(r.PathValue("tierId")), 10, 64)
	if err != nil || id == 0 {
		writeError(w, http.StatusBadRequest, "invalid_tier_id")
		return 0, false
	}
	return id, true
}

func parseAddress(w http.ResponseWriter, r *http.Request) (common.Address, bool) {
	raw := strings.TrimSpace(r.PathValue("address"))
	if !common.IsHexAddress(raw) {
		writeError(w, http.StatusBadRequest, "invalid_address")
		return common.Address{}, false
	}
	return common.HexToAddress(raw), true
}

func decodeHash(s string) (common.Hash, error) {
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	if len(s) != 2*common.HashLength {
		return common.Hash{}, errors.New("invalid length")
	}
	var h common.Hash
	if err := h.UnmarshalText([]byte("0x" + s)); err != nil {
		return common.Hash{}, err
	}
	return h, nil
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]any{"version": version, "error": msg})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
