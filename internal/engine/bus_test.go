package engine

import (
	"sync"
	"testing"
)

type dropCounter struct {
	mu    sync.Mutex
	drops map[string]int
}

func (d *dropCounter) EventDropped(sub string, _ EventType) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.drops == nil {
		d.drops = map[string]int{}
	}
	d.drops[sub]++
}

func TestBusFanOutAndFilter(t *testing.T) {
	b := NewBus(testLogger(), nil)
	all := b.Subscribe("all", 8)
	settled := b.Subscribe("settled", 8, EventRoundSettled)

	b.Publish(Event{Type: EventPriceUpdate})
	b.Publish(Event{Type: EventRoundSettled})

	if got := drain(all); len(got) != 2 {
		t.Errorf("all received %d events, want 2", len(got))
	}
	got := drain(settled)
	if len(got) != 1 || got[0].Type != EventRoundSettled {
		t.Errorf("settled received %+v", got)
	}
}

func TestBusDropsOldestWhenFull(t *testing.T) {
	d := &dropCounter{}
	b := NewBus(testLogger(), d)
	sub := b.Subscribe("slow", 2)

	b.Publish(Event{Type: EventPriceUpdate})
	b.Publish(Event{Type: EventRoundOpened})
	b.Publish(Event{Type: EventRoundSettled})

	got := drain(sub)
	if len(got) != 2 || got[0].Type != EventRoundOpened || got[1].Type != EventRoundSettled {
		t.Errorf("mailbox = %+v, want [round_opened round_settled]", got)
	}
	if d.drops["slow"] != 1 {
		t.Errorf("drops = %v", d.drops)
	}
}

func TestBusCloseAndUnsubscribe(t *testing.T) {
	b := NewBus(testLogger(), nil)
	a := b.Subscribe("a", 1)
	c := b.Subscribe("c", 1)

	a.Close()
	a.Close()
	if _, ok := <-a.C; ok {
		t.Error("closed subscription still open")
	}
	if b.Subscribers() != 1 {
		t.Errorf("Subscribers = %d, want 1", b.Subscribers())
	}

	b.Close()
	if _, ok := <-c.C; ok {
		t.Error("bus close left subscription open")
	}
	b.Publish(Event{Type: EventPriceUpdate})
	c.Close()

	late := b.Subscribe("late", 1)
	if _, ok := <-late.C; ok {
		t.Error("subscription after close is open")
	}
}
