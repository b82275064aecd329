package handler

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"time"

	"github.com/alanyoungcy/privymarket/internal/commitment"
	"github.com/alanyoungcy/privymarket/internal/domain"
	"github.com/alanyoungcy/privymarket/internal/settlement"
)

// Settlement is the part of the service layer the handlers call. It is
// declared here so handlers can be tested against a real program without
// the service side effects.
type Settlement interface {
	Initialize(ctx context.Context, admin domain.Identity) (domain.Registry, error)
	Registry(ctx context.Context) (domain.Registry, error)
	CreateMarket(ctx context.Context, params settlement.CreateMarketParams) (domain.Market, error)
	GetMarket(ctx context.Context, id uint64) (domain.Market, error)
	ListMarkets(ctx context.Context, opts domain.ListOpts) ([]domain.Market, error)
	Detail(ctx context.Context, id uint64) (settlement.MarketDetail, error)
	PlaceBet(ctx context.Context, params settlement.PlaceBetParams) (domain.Position, error)
	ResolveMarket(ctx context.Context, params settlement.ResolveParams) (domain.Market, error)
	ClaimWinnings(ctx context.Context, params settlement.ClaimParams) (settlement.Claim, error)
	FinalizeMarket(ctx context.Context, params settlement.FinalizeParams) (settlement.Finalization, error)
	Position(ctx context.Context, marketID uint64, user domain.Identity) (domain.Position, error)
	History(ctx context.Context, id uint64, opts domain.ListOpts) ([]domain.AuditEntry, error)
	Account(ctx context.Context, owner domain.Identity) (domain.Account, error)
	Fund(ctx context.Context, owner domain.Identity, amount uint64) (domain.Account, error)
}

// MarketHandler serves the market lifecycle endpoints.
type MarketHandler struct {
	svc    Settlement
	logger *slog.Logger
}

// NewMarketHandler creates a MarketHandler.
func NewMarketHandler(svc Settlement, logger *slog.Logger) *MarketHandler {
	return &MarketHandler{svc: svc, logger: logger}
}

type listMarketsResponse struct {
	Markets []domain.Market `json:"markets"`
	Limit   int             `json:"limit"`
	Offset  int             `json:"offset"`
}

// ListMarkets returns markets.
// GET /api/markets?status=open&limit=50&offset=0
func (h *MarketHandler) ListMarkets(w http.ResponseWriter, r *http.Request) {
	opts, err := parseListOpts(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "BadRequest", err.Error())
		return
	}
	markets, err := h.svc.ListMarkets(r.Context(), opts)
	if err != nil {
		writeServiceError(w, r, h.logger, "list markets", err)
		return
	}
	if markets == nil {
		markets = []domain.Market{}
	}
	writeJSON(w, http.StatusOK, listMarketsResponse{Markets: markets, Limit: opts.Limit, Offset: opts.Offset})
}

// GetMarket returns one market. ?vault=true includes the escrow vault.
// GET /api/markets/{id}
func (h *MarketHandler) GetMarket(w http.ResponseWriter, r *http.Request) {
	id, ok := marketID(w, r)
	if !ok {
		return
	}
	if r.URL.Query().Get("vault") == "true" {
		d, err := h.svc.Detail(r.Context(), id)
		if err != nil {
			writeServiceError(w, r, h.logger, "market detail", err)
			return
		}
		writeJSON(w, http.StatusOK, d)
		return
	}
	m, err := h.svc.GetMarket(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, h.logger, "get market", err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

// maxClaimWindowSeconds is the longest claim window a time.Duration holds.
const maxClaimWindowSeconds = math.MaxInt64 / int64(time.Second)

type createMarketRequest struct {
	ID                 uint64    `json:"id"`
	Question           string    `json:"question"`
	Deadline           time.Time `json:"deadline"`
	ClaimWindowSeconds int64     `json:"claim_window_seconds,omitempty"`
}

// CreateMarket opens a market. Authority only.
// POST /api/markets
func (h *MarketHandler) CreateMarket(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	var req createMarketRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.ClaimWindowSeconds < 0 || req.ClaimWindowSeconds > maxClaimWindowSeconds {
		writeError(w, http.StatusBadRequest, "BadRequest",
			fmt.Sprintf("claim_window_seconds must be between 0 and %d", maxClaimWindowSeconds))
		return
	}

	m, err := h.svc.CreateMarket(r.Context(), settlement.CreateMarketParams{
		ID:          req.ID,
		Question:    req.Question,
		Deadline:    req.Deadline,
		ClaimWindow: time.Duration(req.ClaimWindowSeconds) * time.Second,
		Caller:      caller,
	})
	if err != nil {
		writeServiceError(w, r, h.logger, "create market", err)
		return
	}
	writeJSON(w, http.StatusCreated, m)
}

type placeBetRequest struct {
	Commitment string `json:"commitment"`
	Amount     uint64 `json:"amount"`
}

// PlaceBet escrows a committed position.
// POST /api/markets/{id}/bets
func (h *MarketHandler) PlaceBet(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	id, ok := marketID(w, r)
	if !ok {
		return
	}
	var req placeBetRequest
	if !decodeBody(w, r, &req) {
		return
	}
	digest, err := domain.ParseHash(req.Commitment)
	if err != nil {
		writeError(w, http.StatusBadRequest, "BadRequest", "commitment: "+err.Error())
		return
	}

	pos, err := h.svc.PlaceBet(r.Context(), settlement.PlaceBetParams{
		MarketID:   id,
		Commitment: digest,
		Amount:     req.Amount,
		Caller:     caller,
	})
	if err != nil {
		writeServiceError(w, r, h.logger, "place bet", err)
		return
	}
	writeJSON(w, http.StatusCreated, pos)
}

type resolveRequest struct {
	Outcome *bool `json:"outcome"`
}

// ResolveMarket records the outcome. Authority only.
// POST /api/markets/{id}/resolve
func (h *MarketHandler) ResolveMarket(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	id, ok := marketID(w, r)
	if !ok {
		return
	}
	var req resolveRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Outcome == nil {
		writeError(w, http.StatusBadRequest, "BadRequest", "outcome is required")
		return
	}

	m, err := h.svc.ResolveMarket(r.Context(), settlement.ResolveParams{
		MarketID: id,
		Outcome:  *req.Outcome,
		Caller:   caller,
	})
	if err != nil {
		writeServiceError(w, r, h.logger, "resolve market", err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

type claimRequest struct {
	Secret string `json:"secret"`
	Side   *bool  `json:"side"`
}

type claimResponse struct {
	Market   domain.Market   `json:"market"`
	Position domain.Position `json:"position"`
	Payout   uint64          `json:"payout"`
}

// ClaimWinnings reveals the caller's position.
// POST /api/markets/{id}/claims
func (h *MarketHandler) ClaimWinnings(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	id, ok := marketID(w, r)
	if !ok {
		return
	}
	var req claimRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Side == nil {
		writeError(w, http.StatusBadRequest, "BadRequest", "side is required")
		return
	}
	secret, err := commitment.ParseSecret(req.Secret)
	if err != nil {
		writeError(w, http.StatusBadRequest, "BadRequest", err.Error())
		return
	}

	c, err := h.svc.ClaimWinnings(r.Context(), settlement.ClaimParams{
		MarketID: id,
		Secret:   secret,
		Side:     *req.Side,
		Caller:   caller,
	})
	if err != nil {
		writeServiceError(w, r, h.logger, "claim winnings", err)
		return
	}
	writeJSON(w, http.StatusOK, claimResponse{Market: c.Market, Position: c.Position, Payout: c.Payout})
}

type finalizeResponse struct {
	Market      domain.Market `json:"market"`
	WinningPool uint64        `json:"winning_pool"`
	LosingPool  uint64        `json:"losing_pool"`
	Distributed uint64        `json:"distributed"`
	Winners     int           `json:"winners"`
}

// FinalizeMarket distributes the losing pool. Any signed caller may finalize.
// POST /api/markets/{id}/finalize
func (h *MarketHandler) FinalizeMarket(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	id, ok := marketID(w, r)
	if !ok {
		return
	}

	fin, err := h.svc.FinalizeMarket(r.Context(), settlement.FinalizeParams{MarketID: id, Caller: caller})
	if err != nil {
		writeServiceError(w, r, h.logger, "finalize market", err)
		return
	}
	writeJSON(w, http.StatusOK, finalizeResponse{
		Market:      fin.Market,
		WinningPool: fin.WinningPool,
		LosingPool:  fin.LosingPool,
		Distributed: fin.Distributed,
		Winners:     fin.Winners,
	})
}

// GetPosition returns a position. The commitment is public, the side is not.
// GET /api/markets/{id}/positions/{user}
func (h *MarketHandler) GetPosition(w http.ResponseWriter, r *http.Request) {
	id, ok := marketID(w, r)
	if !ok {
		return
	}
	user, ok := identityParam(w, r, "user")
	if !ok {
		return
	}
	p, err := h.svc.Position(r.Context(), id, user)
	if err != nil {
		writeServiceError(w, r, h.logger, "get position", err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

type historyResponse struct {
	MarketID uint64              `json:"market_id"`
	Entries  []domain.AuditEntry `json:"entries"`
	Limit    int                 `json:"limit"`
	Offset   int                 `json:"offset"`
}

// GetHistory returns the settlement audit trail of a market.
// GET /api/markets/{id}/history
func (h *MarketHandler) GetHistory(w http.ResponseWriter, r *http.Request) {
	id, ok := marketID(w, r)
	if !ok {
		return
	}
	opts, err := parseListOpts(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "BadRequest", err.Error())
		return
	}
	entries, err := h.svc.History(r.Context(), id, opts)
	if err != nil {
		writeServiceError(w, r, h.logger, "market history", err)
		return
	}
	if entries == nil {
		entries = []domain.AuditEntry{}
	}
	writeJSON(w, http.StatusOK, historyResponse{
		MarketID: id,
		Entries:  entries,
		Limit:    opts.Limit,
		Offset:   opts.Offset,
	})
}
