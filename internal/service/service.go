// Package service hosts the engine's out-of-process sinks. Each service
// subscribes to the engine event bus and forwards what it sees to Redis,
// Postgres, S3, chat channels or payout distributors. Nothing here writes
// back into engine state; a failing sink is logged and skipped.
package service

import (
	"context"

	"github.com/alanyoungcy/updownbot/internal/engine"
)

// EventSource is the part of the engine a service subscribes to. Services
// subscribe in their constructor, so nothing published after New is missed
// even if Run starts later.
type EventSource interface {
	Subscribe(name string, types ...engine.EventType) *engine.Subscription
}

// consume feeds events from sub to fn until ctx is cancelled or the bus
// closes the subscription.
func consume(ctx context.Context, sub *engine.Subscription, fn func(context.Context, engine.Event)) error {
	defer sub.Close()
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-sub.C:
			if !ok {
				return nil
			}
			fn(ctx, ev)
		}
	}
}
