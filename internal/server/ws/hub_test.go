package ws

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alanyoungcy/updownbot/internal/domain"
	"github.com/alanyoungcy/updownbot/internal/engine"
)

type busSource struct{ bus *engine.Bus }

func (b busSource) Subscribe(name string, types ...engine.EventType) *engine.Subscription {
	return b.bus.Subscribe(name, 16, types...)
}

func TestHubFiltersByType(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	bus := engine.NewBus(logger, nil)
	hub := NewHub(busSource{bus}, logger, Config{Mode: "standalone"})
	if n := bus.Subscribers(); n != 1 {
		t.Fatalf("subscribers after NewHub = %d, want 1", n)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- hub.Run(ctx) }()

	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWS))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?types=round_opened"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))

	var hello map[string]any
	if err := conn.ReadJSON(&hello); err != nil {
		t.Fatalf("read hello: %v", err)
	}
	if hello["type"] != "hello" {
		t.Fatalf("first message type = %v, want hello", hello["type"])
	}

	bus.Publish(engine.Event{Type: engine.EventPriceUpdate, At: time.Now(), Quotes: []domain.Quote{{Symbol: "BTC"}}})
	bus.Publish(engine.Event{Type: engine.EventRoundOpened, At: time.Now(), Round: &domain.Round{ID: "BTC-1", Symbol: "BTC"}})

	var ev engine.Event
	if err := conn.ReadJSON(&ev); err != nil {
		t.Fatalf("read event: %v", err)
	}
	if ev.Type != engine.EventRoundOpened || ev.Round == nil || ev.Round.ID != "BTC-1" {
		t.Errorf("event = %+v, want round_opened BTC-1", ev)
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("hub did not stop")
	}
	if n := bus.Subscribers(); n != 0 {
		t.Errorf("subscribers after Run = %d, want 0", n)
	}
}

func TestOriginChecker(t *testing.T) {
	check := originChecker([]string{"https://game.example"})

	req := httptest.NewRequest(http.MethodGet, "/ws", nil)
	if !check(req) {
		t.Error("request without Origin rejected")
	}
	req.Header.Set("Origin", "https://game.example")
	if !check(req) {
		t.Error("allowed origin rejected")
	}
	req.Header.Set("Origin", "https://evil.example")
	if check(req) {
		t.Error("foreign origin accepted")
	}
}

func TestClientApply(t *testing.T) {
	c := &client{subs: map[engine.EventType]bool{}}
	if !c.wants(engine.EventBetPlaced) {
		t.Error("empty filter should pass every type")
	}
	var msg subscribeMsg
	_ = json.Unmarshal([]byte(`{"action":"subscribe","types":["round_settled"]}`), &msg)
	c.apply(msg)
	if c.wants(engine.EventBetPlaced) || !c.wants(engine.EventRoundSettled) {
		t.Error("subscribe did not narrow the filter")
	}
	c.apply(subscribeMsg{Action: "reset"})
	if !c.wants(engine.EventBetPlaced) {
		t.Error("reset did not clear the filter")
	}
}
