package roundengine

import (
	"sync"
	"time"
)

// Tick is the payload pushed to subscribers on every broadcast cadence.
type Tick struct {
	RoundID    string
	Status     string
	Multiplier string // decimal string, bit-exact per spec.md's serialization note
	StartedAt  int64  // unix millis
	CommitIdx  *int64
	SeedHash   string
}

// Broadcaster is the C3 tick broadcaster: on a fixed cadence it pulls the
// engine's public status and publishes it to every subscriber channel,
// non-blocking. Grounded on the teacher's internal/game/hub.go Broadcast
// method (select-with-default drop-on-full), generalized from a
// goroutine-per-message fan-out to a single owned collaborator with
// Start/Stop lifecycle per spec.md §9.
type Broadcaster struct {
	engine   *Engine
	interval time.Duration

	mu   sync.RWMutex
	subs map[chan Tick]struct{}

	stopCh chan struct{}
	doneCh chan struct{}
}

func NewBroadcaster(engine *Engine, interval time.Duration) *Broadcaster {
	return &Broadcaster{
		engine:   engine,
		interval: interval,
		subs:     make(map[chan Tick]struct{}),
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Subscribe registers a channel to receive ticks. The returned unsubscribe
// function must be called when the caller is done (e.g. on WS disconnect).
func (b *Broadcaster) Subscribe(buffer int) (ch chan Tick, unsubscribe func()) {
	ch = make(chan Tick, buffer)
	b.mu.Lock()
	b.subs[ch] = struct{}{}
	b.mu.Unlock()

	return ch, func() {
		b.mu.Lock()
		delete(b.subs, ch)
		b.mu.Unlock()
	}
}

// Start begins the fixed-cadence publish loop. Safe to call even with zero
// subscribers; it survives their absence.
func (b *Broadcaster) Start() {
	go b.loop()
}

// Stop ends the publish loop and does not keep the process alive.
func (b *Broadcaster) Stop() {
	close(b.stopCh)
	<-b.doneCh
}

func (b *Broadcaster) loop() {
	defer close(b.doneCh)

	ticker := time.NewTicker(b.interval)
	defer ticker.Stop()

	for {
		select {
		case <-b.stopCh:
			return
		case <-ticker.C:
			b.publish()
		}
	}
}

func (b *Broadcaster) publish() {
	status := b.engine.GetStatus()
	tick := Tick{
		RoundID:    status.RoundID,
		Status:     status.Status,
		Multiplier: status.Multiplier.StringFixed(2),
		StartedAt:  status.StartedAt.UnixMilli(),
		CommitIdx:  status.CommitIdx,
		SeedHash:   status.SeedHash,
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.subs {
		select {
		case ch <- tick:
		default:
			// lossy by design: the next tick reflects ground truth.
		}
	}
}
