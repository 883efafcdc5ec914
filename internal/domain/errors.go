package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrRateLimited       = errors.New("rate limited")
	ErrUnauthorized      = errors.New("unauthorized")
	ErrLockHeld          = errors.New("lock already held")
	ErrActiveRoundExists = errors.New("instrument already has an active round")
	ErrNoQuote           = errors.New("no quote available")

	ErrRoundNotFound   = errors.New("round not found")
	ErrRoundClosed     = errors.New("round closed")
	ErrBettingClosed   = errors.New("betting closed")
	ErrInvalidStake    = errors.New("invalid stake")
	ErrInvalidBet      = errors.New("invalid bet")
	ErrStakeOutOfRange = errors.New("stake out of range")
)

// RejectReason is a machine-readable bet rejection code.
type RejectReason string

const (
	RejectRoundNotFound     RejectReason = "round_not_found"
	RejectRoundClosed       RejectReason = "round_closed"
	RejectBettingClosed     RejectReason = "betting_closed"
	RejectInvalidStake      RejectReason = "invalid_stake"
	RejectInvalidDirection  RejectReason = "invalid_direction"
	RejectInvalidBettor     RejectReason = "invalid_bettor"
	RejectStakeBelowMinimum RejectReason = "stake_below_minimum"
	RejectStakeAboveMaximum RejectReason = "stake_above_maximum"
)

// BetRejectedError is returned when a bet fails validation.
type BetRejectedError struct {
	Reason  RejectReason
	RoundID string
}

func (e *BetRejectedError) Error() string {
	return fmt.Sprintf("bet rejected: %s (round %s)", e.Reason, e.RoundID)
}

// Is matches the sentinel that corresponds to the rejection reason.
func (e *BetRejectedError) Is(target error) bool {
	switch e.Reason {
	case RejectRoundNotFound:
		return target == ErrRoundNotFound || target == ErrNotFound
	case RejectRoundClosed:
		return target == ErrRoundClosed
	case RejectBettingClosed:
		return target == ErrBettingClosed
	case RejectInvalidStake:
		return target == ErrInvalidStake
	case RejectInvalidDirection, RejectInvalidBettor:
		return target == ErrInvalidBet
	case RejectStakeBelowMinimum, RejectStakeAboveMaximum:
		return target == ErrStakeOutOfRange
	}
	return false
}

// RejectionReason extracts the rejection code from err, if any.
func RejectionReason(err error) (RejectReason, bool) {
	var re *BetRejectedError
	if errors.As(err, &re) {
		return re.Reason, true
	}
	return "", false
}
