package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/updownbot/internal/domain"
	"github.com/alanyoungcy/updownbot/internal/round"
)

// RoundService is the slice of the engine the round endpoints need.
type RoundService interface {
	ActiveRounds() []domain.Round
	EndedRounds() []domain.Round
	Round(id string) (domain.Round, bool)
	PlaceBet(ctx context.Context, roundID, bettor string, dir domain.Direction, stake decimal.Decimal) (domain.Bet, error)
	Settle(ctx context.Context, roundID string) (domain.SettlementResult, bool, error)
}

// BetLimit throttles bets per bettor. A nil Limiter disables it.
type BetLimit struct {
	Limiter domain.RateLimiter
	Limit   int
	Window  time.Duration
}

// RoundHandler serves round listing, betting and explicit settlement.
type RoundHandler struct {
	rounds RoundService
	cutoff time.Duration
	limit  BetLimit
	logger *slog.Logger
	now    func() time.Time
}

// NewRoundHandler creates a RoundHandler. cutoff is the betting cutoff used
// to report whether a round still accepts bets.
func NewRoundHandler(rounds RoundService, cutoff time.Duration, limit BetLimit, logger *slog.Logger) *RoundHandler {
	return &RoundHandler{
		rounds: rounds,
		cutoff: cutoff,
		limit:  limit,
		logger: logger.With(slog.String("handler", "rounds")),
		now:    time.Now,
	}
}

// roundView adds derived pool and timing fields to a round snapshot.
type roundView struct {
	domain.Round
	UpPool          decimal.Decimal `json:"up_pool"`
	DownPool        decimal.Decimal `json:"down_pool"`
	TotalPool       decimal.Decimal `json:"total_pool"`
	BetCount        int             `json:"bet_count"`
	TimeLeftSeconds int64           `json:"time_left_seconds"`
	BettingOpen     bool            `json:"betting_open"`
}

func (h *RoundHandler) view(rd domain.Round, now time.Time) roundView {
	if rd.Bets == nil {
		rd.Bets = []domain.Bet{}
	}
	up, down := rd.Pool()
	left := rd.TimeLeft(now)
	return roundView{
		Round:           rd,
		UpPool:          up,
		DownPool:        down,
		TotalPool:       up.Add(down),
		BetCount:        len(rd.Bets),
		TimeLeftSeconds: int64(left / time.Second),
		BettingOpen:     rd.Status == domain.RoundStatusActive && left >= h.cutoff,
	}
}

type listRoundsResponse struct {
	Rounds []roundView `json:"rounds"`
}

// ListRounds returns active rounds, or retained ended rounds with
// ?status=ended.
// GET /api/rounds?status=active|ended
func (h *RoundHandler) ListRounds(w http.ResponseWriter, r *http.Request) {
	var rounds []domain.Round
	switch status := r.URL.Query().Get("status"); status {
	case "", string(domain.RoundStatusActive):
		rounds = h.rounds.ActiveRounds()
	case string(domain.RoundStatusEnded):
		rounds = h.rounds.EndedRounds()
	default:
		writeError(w, http.StatusBadRequest, "status must be active or ended")
		return
	}

	now := h.now()
	out := make([]roundView, 0, len(rounds))
	for _, rd := range rounds {
		out = append(out, h.view(rd, now))
	}
	writeJSON(w, http.StatusOK, listRoundsResponse{Rounds: out})
}

// GetRound returns one retained round.
// GET /api/rounds/{id}
func (h *RoundHandler) GetRound(w http.ResponseWriter, r *http.Request) {
	rd, ok := h.rounds.Round(r.PathValue("id"))
	if !ok {
		writeErrorCode(w, http.StatusNotFound, string(domain.RejectRoundNotFound), "round not found")
		return
	}
	writeJSON(w, http.StatusOK, h.view(rd, h.now()))
}

type placeBetRequest struct {
	Bettor    string          `json:"bettor"`
	Direction string          `json:"direction"`
	Stake     decimal.Decimal `json:"stake"`
}

// PlaceBet records a bet on a round.
// POST /api/rounds/{id}/bets  {"bettor":"0x...","direction":"up","stake":"10"}
func (h *RoundHandler) PlaceBet(w http.ResponseWriter, r *http.Request) {
	roundID := r.PathValue("id")

	var req placeBetRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 4096)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	if h.limit.Limiter != nil && h.limit.Limit > 0 {
		key := "bet:" + round.NormalizeBettor(req.Bettor)
		allowed, err := h.limit.Limiter.Allow(r.Context(), key, h.limit.Limit, h.limit.Window)
		if err != nil {
			h.logger.WarnContext(r.Context(), "bet limiter unavailable", slog.String("error", err.Error()))
		} else if !allowed {
			writeErrorCode(w, http.StatusTooManyRequests, "rate_limited", "too many bets, slow down")
			return
		}
	}

	dir, _ := domain.ParseDirection(req.Direction)
	bet, err := h.rounds.PlaceBet(r.Context(), roundID, req.Bettor, dir, req.Stake)
	if err != nil {
		if reason, ok := domain.RejectionReason(err); ok {
			writeErrorCode(w, rejectStatus(reason), string(reason), err.Error())
			return
		}
		h.logger.ErrorContext(r.Context(), "place bet failed",
			slog.String("round_id", roundID),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to place bet")
		return
	}
	writeJSON(w, http.StatusCreated, bet)
}

func rejectStatus(reason domain.RejectReason) int {
	switch reason {
	case domain.RejectRoundNotFound:
		return http.StatusNotFound
	case domain.RejectRoundClosed, domain.RejectBettingClosed:
		return http.StatusConflict
	default:
		return http.StatusUnprocessableEntity
	}
}

type settleResponse struct {
	Settled bool                     `json:"settled"`
	Result  *domain.SettlementResult `json:"result,omitempty"`
	Payouts []domain.Payout          `json:"payouts,omitempty"`
}

// SettleRound ends a round now. Settling an ended round answers 200 with
// settled=false.
// POST /api/rounds/{id}/settle
func (h *RoundHandler) SettleRound(w http.ResponseWriter, r *http.Request) {
	roundID := r.PathValue("id")

	res, settled, err := h.rounds.Settle(r.Context(), roundID)
	switch {
	case errors.Is(err, domain.ErrRoundNotFound):
		writeErrorCode(w, http.StatusNotFound, string(domain.RejectRoundNotFound), "round not found")
		return
	case errors.Is(err, domain.ErrNoQuote):
		writeErrorCode(w, http.StatusServiceUnavailable, "no_quote", "no price available to settle against")
		return
	case err != nil:
		h.logger.ErrorContext(r.Context(), "settle failed",
			slog.String("round_id", roundID),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to settle round")
		return
	}

	if !settled {
		writeJSON(w, http.StatusOK, settleResponse{Settled: false})
		return
	}
	writeJSON(w, http.StatusOK, settleResponse{Settled: true, Result: &res, Payouts: res.Payouts()})
}
