package service_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/nexus-edge/hvac-control/internal/domain"
	"github.com/nexus-edge/hvac-control/internal/service"
)

type fakePublisher struct {
	mu      sync.Mutex
	batches [][]domain.Reading
	err     error
}

func (f *fakePublisher) PublishReadings(_ context.Context, readings []domain.Reading) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.batches = append(f.batches, readings)
	return f.err
}

func (f *fakePublisher) Batches() [][]domain.Reading {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([][]domain.Reading, len(f.batches))
	copy(out, f.batches)
	return out
}

func newTestPoller(link *fakeLink, pub service.Publisher) *service.Poller {
	return service.NewPoller(
		newTestOrchestrator(link),
		pub,
		50*time.Millisecond,
		zerolog.Nop(),
		nil,
	)
}

func TestPoller_CacheSeededWithDefaults(t *testing.T) {
	p := newTestPoller(&fakeLink{}, nil)

	snaps := p.Snapshots()
	if len(snaps) != 2 {
		t.Fatalf("len(snaps) = %d, want 2", len(snaps))
	}
	if snaps[0].UnitID != 1 || snaps[1].UnitID != 2 {
		t.Errorf("snapshot order = [%d, %d], want fleet order [1, 2]",
			snaps[0].UnitID, snaps[1].UnitID)
	}
	for _, snap := range snaps {
		if !snap.Defaulted {
			t.Errorf("unit %d not flagged defaulted before the first poll", snap.UnitID)
		}
		if snap.Name == "" {
			t.Errorf("unit %d seeded without its configured name", snap.UnitID)
		}
		if snap.Temperatures[0] != domain.InitialTemperature {
			t.Errorf("unit %d seeded with temperature %d, want %d",
				snap.UnitID, snap.Temperatures[0], domain.InitialTemperature)
		}
	}
}

func TestPoller_PollOnceRefreshesCache(t *testing.T) {
	p := newTestPoller(&fakeLink{}, nil)

	p.PollOnce(context.Background())

	snap, ok := p.Snapshot(1)
	if !ok {
		t.Fatal("Snapshot(1) missing after poll")
	}
	if snap.Defaulted {
		t.Error("Defaulted = true after a healthy poll")
	}
	if snap.Temperatures[0] != 21 || snap.Temperatures[5] != 26 {
		t.Errorf("temperatures = %v, want 21..26", snap.Temperatures)
	}

	polls, defaulted := p.Stats()
	if polls != 1 || defaulted != 0 {
		t.Errorf("stats = (%d, %d), want (1, 0)", polls, defaulted)
	}
	if p.LastPoll().IsZero() {
		t.Error("LastPoll() is zero after a poll")
	}
}

func TestPoller_PollOnceFlagsFailures(t *testing.T) {
	link := &fakeLink{}
	p := newTestPoller(link, nil)

	// A healthy poll first, then the plant goes away.
	p.PollOnce(context.Background())

	link.onReadHolding = func(uint8, uint16, uint16) ([]uint16, error) {
		return nil, domain.ErrConnectionFailed
	}

	p.PollOnce(context.Background())

	for _, snap := range p.Snapshots() {
		if !snap.Defaulted {
			t.Errorf("unit %d not flagged defaulted after the plant went away", snap.UnitID)
		}
		if snap.Temperatures[0] != domain.InitialTemperature {
			t.Errorf("unit %d temperature = %d, want default %d",
				snap.UnitID, snap.Temperatures[0], domain.InitialTemperature)
		}
	}

	_, defaulted := p.Stats()
	if defaulted != 2 {
		t.Errorf("defaulted count = %d, want 2", defaulted)
	}
}

func TestPoller_PublishesReadings(t *testing.T) {
	pub := &fakePublisher{}
	p := newTestPoller(&fakeLink{}, pub)

	p.PollOnce(context.Background())

	batches := pub.Batches()
	if len(batches) != 1 {
		t.Fatalf("len(batches) = %d, want 1", len(batches))
	}

	// 2 units x 6 ACs x 4 metrics.
	readings := batches[0]
	if len(readings) != 48 {
		t.Fatalf("len(readings) = %d, want 48", len(readings))
	}

	first := readings[0]
	if first.UnitID != 1 || first.ACIndex != 0 || first.Metric != "temperature" {
		t.Errorf("first reading = %+v, want unit 1 ac 0 temperature", first)
	}
	if first.Value != 21 || first.Quality != domain.QualityGood {
		t.Errorf("first reading value = (%v, %s), want (21, good)", first.Value, first.Quality)
	}
}

func TestPoller_PublisherErrorDoesNotBlockPolling(t *testing.T) {
	pub := &fakePublisher{err: domain.ErrMQTTPublishFailed}
	p := newTestPoller(&fakeLink{}, pub)

	p.PollOnce(context.Background())
	p.PollOnce(context.Background())

	if polls, _ := p.Stats(); polls != 2 {
		t.Errorf("polls = %d, want 2", polls)
	}
	if len(pub.Batches()) != 2 {
		t.Errorf("publish attempts = %d, want 2", len(pub.Batches()))
	}
}

func TestPoller_StartStop(t *testing.T) {
	p := newTestPoller(&fakeLink{}, nil)

	if err := p.HealthCheck(context.Background()); err == nil {
		t.Error("HealthCheck() = nil before Start")
	}

	p.Start(context.Background())
	p.Start(context.Background()) // second Start is a no-op
	time.Sleep(120 * time.Millisecond)
	if err := p.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck() = %v while polling", err)
	}
	p.Stop()
	p.Stop() // second Stop is a no-op

	polls, _ := p.Stats()
	if polls < 2 {
		t.Errorf("polls = %d, want at least the initial poll plus one tick", polls)
	}
}
