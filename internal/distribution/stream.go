package distribution

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/alanyoungcy/updownbot/internal/domain"
)

// StreamDistributor appends each round's Batch to a durable stream, where an
// out-of-process payer consumes it in order.
type StreamDistributor struct {
	bus    domain.SignalBus
	stream string
	now    func() time.Time
}

// NewStreamDistributor creates a StreamDistributor writing to stream.
func NewStreamDistributor(bus domain.SignalBus, stream string) *StreamDistributor {
	return &StreamDistributor{bus: bus, stream: stream, now: time.Now}
}

// DistributeWinnings appends the batch as one stream entry.
func (s *StreamDistributor) DistributeWinnings(ctx context.Context, roundID string, payouts []domain.Payout) error {
	payload, err := json.Marshal(NewBatch(roundID, payouts, s.now()))
	if err != nil {
		return fmt.Errorf("stream: marshal batch %s: %w", roundID, err)
	}
	if err := s.bus.StreamAppend(ctx, s.stream, payload); err != nil {
		return fmt.Errorf("stream: append batch %s: %w", roundID, err)
	}
	return nil
}

// Name returns "stream".
func (s *StreamDistributor) Name() string { return "stream" }
