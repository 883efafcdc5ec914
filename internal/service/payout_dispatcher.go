package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/updownbot/internal/distribution"
	"github.com/alanyoungcy/updownbot/internal/domain"
	"github.com/alanyoungcy/updownbot/internal/engine"
	"github.com/alanyoungcy/updownbot/internal/notify"
)

// PayoutRecorder counts failed payout deliveries.
type PayoutRecorder interface {
	PayoutFailed(distributor string)
}

// PayoutDispatcherConfig wires the optional collaborators of a
// PayoutDispatcher. Locks, Recorder and Notifier may be nil.
type PayoutDispatcherConfig struct {
	Distributors []distribution.Distributor
	Locks        domain.LockManager
	LockTTL      time.Duration
	Recorder     PayoutRecorder
	Notifier     *notify.Notifier
}

// PayoutDispatcher hands the payouts of every settled round to the
// configured distributors. When a LockManager is set, a round is only
// dispatched by the process holding "payout:<roundID>".
type PayoutDispatcher struct {
	sub          *engine.Subscription
	distributors []distribution.Distributor
	locks        domain.LockManager
	lockTTL      time.Duration
	recorder     PayoutRecorder
	notifier     *notify.Notifier
	logger       *slog.Logger
}

// NewPayoutDispatcher creates a PayoutDispatcher.
func NewPayoutDispatcher(src EventSource, cfg PayoutDispatcherConfig, logger *slog.Logger) *PayoutDispatcher {
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = time.Minute
	}
	return &PayoutDispatcher{
		sub:          src.Subscribe("payout_dispatcher", engine.EventRoundSettled),
		distributors: cfg.Distributors,
		locks:        cfg.Locks,
		lockTTL:      cfg.LockTTL,
		recorder:     cfg.Recorder,
		notifier:     cfg.Notifier,
		logger:       logger.With(slog.String("component", "payout_dispatcher")),
	}
}

// Run dispatches settlements until ctx is cancelled.
func (d *PayoutDispatcher) Run(ctx context.Context) error {
	return consume(ctx, d.sub, func(ctx context.Context, ev engine.Event) {
		if ev.Result == nil {
			return
		}
		if err := d.Dispatch(ctx, *ev.Result); err != nil {
			d.logger.WarnContext(ctx, "payout dispatch incomplete",
				slog.String("round_id", ev.Result.RoundID),
				slog.String("error", err.Error()),
			)
		}
	})
}

// Dispatch delivers the payouts of res to every distributor. A round with no
// winners is skipped. Every distributor is tried even if an earlier one
// fails; the failures come back joined.
func (d *PayoutDispatcher) Dispatch(ctx context.Context, res domain.SettlementResult) error {
	payouts := res.Payouts()
	if len(payouts) == 0 {
		d.logger.DebugContext(ctx, "no winners to pay", slog.String("round_id", res.RoundID))
		return nil
	}

	if d.locks != nil {
		unlock, err := d.locks.Acquire(ctx, "payout:"+res.RoundID, d.lockTTL)
		if errors.Is(err, domain.ErrLockHeld) {
			d.logger.InfoContext(ctx, "payout already claimed", slog.String("round_id", res.RoundID))
			return nil
		}
		if err != nil {
			return fmt.Errorf("service: payout lock %q: %w", res.RoundID, err)
		}
		defer unlock()
	}

	var errs []error
	for _, dist := range d.distributors {
		if err := dist.DistributeWinnings(ctx, res.RoundID, payouts); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", dist.Name(), err))
			d.failed(ctx, dist.Name(), res.RoundID, err)
			continue
		}
		d.logger.InfoContext(ctx, "payouts delivered",
			slog.String("round_id", res.RoundID),
			slog.String("distributor", dist.Name()),
			slog.Int("payouts", len(payouts)),
		)
	}
	if len(errs) > 0 {
		return fmt.Errorf("service: distribute %q: %w", res.RoundID, errors.Join(errs...))
	}
	return nil
}

func (d *PayoutDispatcher) failed(ctx context.Context, name, roundID string, err error) {
	d.logger.ErrorContext(ctx, "payout delivery failed",
		slog.String("round_id", roundID),
		slog.String("distributor", name),
		slog.String("error", err.Error()),
	)
	if d.recorder != nil {
		d.recorder.PayoutFailed(name)
	}
	if d.notifier != nil && d.notifier.Enabled() {
		msg := fmt.Sprintf("round %s: %s failed: %v", roundID, name, err)
		if nerr := d.notifier.Notify(ctx, notify.EventError, "Payout failed", msg); nerr != nil {
			d.logger.WarnContext(ctx, "payout failure notice not sent", slog.String("error", nerr.Error()))
		}
	}
}
