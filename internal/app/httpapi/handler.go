package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gorilla/mux"
	"github.com/holiman/uint256"

	"github.com/R3E-Network/prizepool/internal/app/domain/pool"
	"github.com/R3E-Network/prizepool/internal/app/metrics"
	"github.com/R3E-Network/prizepool/internal/app/services/custody"
	"github.com/R3E-Network/prizepool/internal/app/services/ledger"
	"github.com/R3E-Network/prizepool/internal/app/services/lottery"
	"github.com/R3E-Network/prizepool/internal/app/services/params"
	"github.com/R3E-Network/prizepool/internal/app/storage"
	"github.com/R3E-Network/prizepool/pkg/logger"
)

var ErrInvalidAddress = errors.New("invalid address")

const maxBodyBytes = 1 << 20

// handler bundles HTTP endpoints for the round engine.
type handler struct {
	engine  *lottery.Engine
	rounds  storage.RoundStore
	vault   *custody.Vault
	limiter *RateLimiter
	log     *logger.Logger
}

// Option customises the handler.
type Option func(*handler)

// WithVault exposes the in-memory vault funding endpoints.
func WithVault(v *custody.Vault) Option {
	return func(h *handler) { h.vault = v }
}

// WithRateLimiter limits requests per client address.
func WithRateLimiter(rl *RateLimiter) Option {
	return func(h *handler) { h.limiter = rl }
}

// WithLogger sets the request logger.
func WithLogger(log *logger.Logger) Option {
	return func(h *handler) { h.log = log }
}

// NewHandler returns a router exposing the prize pool REST API.
func NewHandler(engine *lottery.Engine, rounds storage.RoundStore, opts ...Option) http.Handler {
	h := &handler{engine: engine, rounds: rounds}
	for _, opt := range opts {
		opt(h)
	}
	if h.log == nil {
		h.log = logger.NewDefault("httpapi")
	}

	r := mux.NewRouter()
	r.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)
	r.HandleFunc("/healthz", h.health).Methods(http.MethodGet)

	v1 := r.PathPrefix("/v1").Subrouter()
	if h.limiter != nil {
		v1.Use(h.limiter.Middleware)
	}
	v1.HandleFunc("/round", h.round).Methods(http.MethodGet)
	v1.HandleFunc("/params", h.getParams).Methods(http.MethodGet)
	v1.HandleFunc("/params", h.putParams).Methods(http.MethodPut)
	v1.HandleFunc("/participants/{address}", h.participant).Methods(http.MethodGet)
	v1.HandleFunc("/deposits", h.deposit).Methods(http.MethodPost)
	v1.HandleFunc("/withdrawals", h.withdraw).Methods(http.MethodPost)
	v1.HandleFunc("/rounds/close", h.closeRound).Methods(http.MethodPost)
	v1.HandleFunc("/rounds", h.listRounds).Methods(http.MethodGet)
	v1.HandleFunc("/rounds/{id:[0-9]+}", h.getRound).Methods(http.MethodGet)
	if h.vault != nil {
		v1.HandleFunc("/vault/fund", h.fund).Methods(http.MethodPost)
		v1.HandleFunc("/vault/accrue", h.accrue).Methods(http.MethodPost)
	}

	return metrics.InstrumentHandler(r)
}

func (h *handler) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *handler) round(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.engine.Info())
}

func (h *handler) getParams(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, params.DocumentOf(h.engine.Parameters()))
}

func (h *handler) putParams(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Caller string          `json:"caller"`
		Params params.Document `json:"params"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	caller, err := parseAddress(payload.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	set, err := payload.Params.Set()
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := h.engine.UpdateParameters(r.Context(), caller, set); err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, params.DocumentOf(h.engine.Parameters()))
}

type participantView struct {
	Address string `json:"address"`
	Balance string `json:"balance"`
	Chance  string `json:"chance"`
}

func (h *handler) participant(w http.ResponseWriter, r *http.Request) {
	addr, err := parseAddress(mux.Vars(r)["address"])
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusOK, h.view(addr))
}

func (h *handler) view(addr common.Address) participantView {
	return participantView{
		Address: addr.Hex(),
		Balance: pool.FormatAmount(h.engine.BalanceOf(addr)),
		Chance:  pool.FormatAmount(h.engine.ChanceOf(addr)),
	}
}

type transferPayload struct {
	Address string `json:"address"`
	Amount  string `json:"amount"`
}

func (p transferPayload) parse() (common.Address, *uint256.Int, error) {
	addr, err := parseAddress(p.Address)
	if err != nil {
		return common.Address{}, nil, err
	}
	amount, err := pool.ParseAmount(p.Amount)
	if err != nil {
		return common.Address{}, nil, err
	}
	return addr, amount, nil
}

func (h *handler) deposit(w http.ResponseWriter, r *http.Request) {
	var payload transferPayload
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	addr, amount, err := payload.parse()
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := h.engine.Deposit(r.Context(), addr, amount); err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, h.view(addr))
}

func (h *handler) withdraw(w http.ResponseWriter, r *http.Request) {
	var payload transferPayload
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	if strings.EqualFold(strings.TrimSpace(payload.Amount), "all") {
		addr, err := parseAddress(payload.Address)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		if _, err := h.engine.WithdrawAll(r.Context(), addr); err != nil {
			h.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, h.view(addr))
		return
	}

	addr, amount, err := payload.parse()
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := h.engine.Withdraw(r.Context(), addr, amount); err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, h.view(addr))
}

func (h *handler) closeRound(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Executor string `json:"executor"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	executor, err := parseAddress(payload.Executor)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	outcome, err := h.engine.CloseRound(r.Context(), executor)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, outcome)
}

func (h *handler) listRounds(w http.ResponseWriter, r *http.Request) {
	if h.rounds == nil {
		writeJSON(w, http.StatusOK, []pool.RoundRecord{})
		return
	}
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, fmt.Errorf("invalid limit %q", raw))
			return
		}
		limit = n
	}
	records, err := h.rounds.ListRounds(r.Context(), limit)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, records)
}

func (h *handler) getRound(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseUint(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if h.rounds == nil {
		writeError(w, http.StatusNotFound, storage.ErrNotFound)
		return
	}
	record, err := h.rounds.GetRound(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, record)
}

func (h *handler) fund(w http.ResponseWriter, r *http.Request) {
	var payload transferPayload
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	addr, amount, err := payload.parse()
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	h.vault.Fund(addr, amount)
	writeJSON(w, http.StatusOK, map[string]string{
		"address": addr.Hex(),
		"wallet":  pool.FormatAmount(h.vault.WalletBalance(addr)),
	})
}

func (h *handler) accrue(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Amount string `json:"amount"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	amount, err := pool.ParseAmount(payload.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	h.vault.Accrue(amount)
	held, err := h.vault.BalanceOf(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"held": pool.FormatAmount(held)})
}

func (h *handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.log.WithError(err).
			WithField("method", r.Method).
			WithField("path", r.URL.Path).
			Error("request failed")
	}
	writeError(w, status, err)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, ledger.ErrZeroValue),
		errors.Is(err, ledger.ErrOutOfRange),
		errors.Is(err, ledger.ErrUnderflow),
		errors.Is(err, ledger.ErrZeroKey),
		errors.Is(err, params.ErrInvalidParameter),
		errors.Is(err, pool.ErrInvalidAmount),
		errors.Is(err, custody.ErrInsufficientFunds) && !errors.Is(err, custody.ErrTransferFailed),
		errors.Is(err, lottery.ErrInvalidExecutor),
		errors.Is(err, ErrInvalidAddress):
		return http.StatusBadRequest
	case errors.Is(err, lottery.ErrLocked),
		errors.Is(err, lottery.ErrRoundNotOver),
		errors.Is(err, lottery.ErrSeedNotReady),
		errors.Is(err, storage.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, params.ErrUnauthorized):
		return http.StatusForbidden
	case errors.Is(err, storage.ErrNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

func parseAddress(raw string) (common.Address, error) {
	raw = strings.TrimSpace(raw)
	if !common.IsHexAddress(raw) {
		return common.Address{}, fmt.Errorf("%w: %q", ErrInvalidAddress, raw)
	}
	return common.HexToAddress(raw), nil
}

func decodeJSON(body io.ReadCloser, dst interface{}) error {
	defer body.Close()
	dec := json.NewDecoder(io.LimitReader(body, maxBodyBytes))
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}
