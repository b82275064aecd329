package handler

import (
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/privymarket/internal/domain"
)

// AccountHandler serves balances and the development faucet.
type AccountHandler struct {
	svc       Settlement
	maxFaucet uint64
	logger    *slog.Logger
}

// NewAccountHandler creates an AccountHandler. maxFaucet caps a single
// faucet grant; zero means no cap.
func NewAccountHandler(svc Settlement, maxFaucet uint64, logger *slog.Logger) *AccountHandler {
	return &AccountHandler{svc: svc, maxFaucet: maxFaucet, logger: logger}
}

// GetAccount returns an account balance. Unknown owners have balance 0.
// GET /api/accounts/{owner}
func (h *AccountHandler) GetAccount(w http.ResponseWriter, r *http.Request) {
	owner, ok := identityParam(w, r, "owner")
	if !ok {
		return
	}
	acct, err := h.svc.Account(r.Context(), owner)
	if err != nil {
		writeServiceError(w, r, h.logger, "get account", err)
		return
	}
	writeJSON(w, http.StatusOK, acct)
}

type faucetRequest struct {
	Owner  string `json:"owner,omitempty"`
	Amount uint64 `json:"amount"`
}

// Fund credits owner, or the caller when owner is empty.
// POST /api/faucet
func (h *AccountHandler) Fund(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	var req faucetRequest
	if !decodeBody(w, r, &req) {
		return
	}
	owner := caller
	if req.Owner != "" {
		id, err := domain.ParseIdentity(req.Owner)
		if err != nil {
			writeError(w, http.StatusBadRequest, "BadRequest", err.Error())
			return
		}
		owner = id
	}
	if h.maxFaucet > 0 && req.Amount > h.maxFaucet {
		writeError(w, http.StatusBadRequest, "FaucetLimit", "amount exceeds the faucet limit")
		return
	}

	acct, err := h.svc.Fund(r.Context(), owner, req.Amount)
	if err != nil {
		writeServiceError(w, r, h.logger, "fund", err)
		return
	}
	writeJSON(w, http.StatusOK, acct)
}
