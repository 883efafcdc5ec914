package round

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/updownbot/internal/domain"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time          { return c.now }
func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

type fixedHistory map[string]domain.Quote

func (h fixedHistory) QuoteAt(symbol string, _ time.Time) (domain.Quote, bool) {
	q, ok := h[symbol]
	return q, ok
}

func ethRound() domain.Round {
	return domain.Round{
		ID:         "ETH-1",
		Symbol:     "ETH",
		StartPrice: dec("3400.00"),
		StartTime:  t0,
		EndTime:    t0.Add(5 * time.Minute),
		Status:     domain.RoundStatusActive,
		Bets: []domain.Bet{
			{ID: "a", Bettor: "A", Direction: domain.DirectionUp, Stake: dec("0.02")},
			{ID: "b", Bettor: "B", Direction: domain.DirectionDown, Stake: dec("0.01")},
		},
	}
}

func TestSettle(t *testing.T) {
	tests := []struct {
		name           string
		end            string
		wantDir        domain.Direction
		wantWinning    string
		wantMultiplier string
		wantWinner     string
	}{
		{"price up", "3450.00", domain.DirectionUp, "0.02", "1.5", "A"},
		{"unchanged price resolves down", "3400.00", domain.DirectionDown, "0.01", "3", "B"},
		{"price down", "3399.99", domain.DirectionDown, "0.01", "3", "B"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := Settle(ethRound(), dec(tt.end), t0.Add(5*time.Minute))
			if res.WinningDirection != tt.wantDir {
				t.Errorf("WinningDirection = %s, want %s", res.WinningDirection, tt.wantDir)
			}
			if !res.TotalPool.Equal(dec("0.03")) {
				t.Errorf("TotalPool = %s, want 0.03", res.TotalPool)
			}
			if !res.WinningPool.Equal(dec(tt.wantWinning)) {
				t.Errorf("WinningPool = %s, want %s", res.WinningPool, tt.wantWinning)
			}
			if !res.PayoutMultiplier.Equal(dec(tt.wantMultiplier)) {
				t.Errorf("PayoutMultiplier = %s, want %s", res.PayoutMultiplier, tt.wantMultiplier)
			}
			if len(res.Winners) != 1 || res.Winners[0].Bettor != tt.wantWinner {
				t.Errorf("Winners = %+v, want only %s", res.Winners, tt.wantWinner)
			}
		})
	}
}

func TestSettleNoBets(t *testing.T) {
	rd := ethRound()
	rd.Bets = nil
	res := Settle(rd, dec("3500"), t0)
	if !res.PayoutMultiplier.IsZero() {
		t.Errorf("PayoutMultiplier = %s, want 0", res.PayoutMultiplier)
	}
	if len(res.Winners) != 0 {
		t.Errorf("Winners = %v, want empty", res.Winners)
	}
	if len(res.Payouts()) != 0 {
		t.Errorf("Payouts() = %v, want empty", res.Payouts())
	}
}

func TestSettleNobodyOnWinningSide(t *testing.T) {
	rd := ethRound()
	rd.Bets = rd.Bets[:1] // only an "up" bet
	res := Settle(rd, dec("3000"), t0)
	if res.WinningDirection != domain.DirectionDown {
		t.Fatalf("WinningDirection = %s, want down", res.WinningDirection)
	}
	if !res.TotalPool.Equal(dec("0.02")) || !res.WinningPool.IsZero() {
		t.Errorf("pools = %s/%s, want 0.02/0", res.TotalPool, res.WinningPool)
	}
	if !res.PayoutMultiplier.IsZero() || len(res.Winners) != 0 {
		t.Errorf("got multiplier %s with %d winners, want 0 and none", res.PayoutMultiplier, len(res.Winners))
	}
	data, err := json.Marshal(res)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if !strings.Contains(string(data), `"winners":[]`) {
		t.Errorf("settlement JSON = %s, want an empty winners list", data)
	}
}

func TestSettleConservesPool(t *testing.T) {
	stakes := []struct {
		dir   domain.Direction
		stake string
	}{
		{domain.DirectionUp, "0.3"},
		{domain.DirectionUp, "0.07"},
		{domain.DirectionUp, "1.111"},
		{domain.DirectionDown, "2.5"},
		{domain.DirectionDown, "0.0001"},
	}
	rd := ethRound()
	rd.Bets = nil
	for i, s := range stakes {
		rd.Bets = append(rd.Bets, domain.Bet{ID: string(rune('a' + i)), Direction: s.dir, Stake: dec(s.stake)})
	}

	for _, end := range []string{"3500", "3300"} {
		res := Settle(rd, dec(end), t0)
		got := res.WinningPool.Mul(res.PayoutMultiplier)
		if diff := got.Sub(res.TotalPool).Abs(); diff.GreaterThan(dec("1e-12")) {
			t.Errorf("end %s: winning pool × multiplier = %s, total %s (diff %s)", end, got, res.TotalPool, diff)
		}

		sum := decimal.Zero
		for _, p := range res.Payouts() {
			sum = sum.Add(p.Amount)
		}
		if sum.GreaterThan(res.TotalPool) {
			t.Errorf("end %s: payouts %s exceed pool %s", end, sum, res.TotalPool)
		}
	}
}

func TestSettleDeterministic(t *testing.T) {
	a := Settle(ethRound(), dec("3450"), t0)
	b := Settle(ethRound(), dec("3450"), t0)
	if a.WinningDirection != b.WinningDirection || !a.PayoutMultiplier.Equal(b.PayoutMultiplier) ||
		!a.TotalPool.Equal(b.TotalPool) || len(a.Winners) != len(b.Winners) {
		t.Errorf("settlement not deterministic: %+v vs %+v", a, b)
	}
}

func TestSettlerSettle(t *testing.T) {
	clk := &fakeClock{now: t0}
	reg := NewRegistry()
	rd, err := reg.Open("ETH", dec("3400"), t0, 5*time.Minute)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	hist := fixedHistory{"ETH": {Symbol: "ETH", Price: dec("3450")}}
	s := NewSettler(reg, hist, clk.Now)

	clk.Advance(5 * time.Minute)
	res, settled, err := s.Settle(rd.ID)
	if err != nil || !settled {
		t.Fatalf("Settle = %v, %v; want settled", settled, err)
	}
	if res.WinningDirection != domain.DirectionUp {
		t.Errorf("WinningDirection = %s, want up", res.WinningDirection)
	}
	if !res.SettledAt.Equal(clk.now) {
		t.Errorf("SettledAt = %v, want %v", res.SettledAt, clk.now)
	}

	got, _ := reg.Get(rd.ID)
	if got.Status != domain.RoundStatusEnded || !got.EndPrice.Valid || !got.EndPrice.Decimal.Equal(dec("3450")) {
		t.Errorf("round after settle = %+v", got)
	}

	// A second settlement is a no-op.
	hist["ETH"] = domain.Quote{Symbol: "ETH", Price: dec("1")}
	if _, settled, err := s.Settle(rd.ID); settled || err != nil {
		t.Errorf("second Settle = %v, %v; want no-op", settled, err)
	}
	got, _ = reg.Get(rd.ID)
	if !got.EndPrice.Decimal.Equal(dec("3450")) {
		t.Errorf("end price changed to %s", got.EndPrice.Decimal)
	}
}

func TestSettlerNoQuote(t *testing.T) {
	reg := NewRegistry()
	rd, _ := reg.Open("SOL", dec("150"), t0, time.Minute)
	s := NewSettler(reg, fixedHistory{}, nil)

	_, settled, err := s.Settle(rd.ID)
	if settled || !errorsIs(err, domain.ErrNoQuote) {
		t.Fatalf("Settle = %v, %v; want ErrNoQuote", settled, err)
	}
	if got, _ := reg.Get(rd.ID); got.Status != domain.RoundStatusActive {
		t.Errorf("status = %s, want active", got.Status)
	}
}

func TestSettlerUnknownRound(t *testing.T) {
	s := NewSettler(NewRegistry(), fixedHistory{}, nil)
	if _, _, err := s.Settle("nope"); !errorsIs(err, domain.ErrRoundNotFound) {
		t.Errorf("err = %v, want ErrRoundNotFound", err)
	}
}
