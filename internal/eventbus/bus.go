package eventbus

import (
	"context"
	"sync"
	"time"

	"github.com/stomrex77/claude-web/schema"
	"pkt.systems/pslog"
)

const (
	// subDepth is the buffered depth of each subscriber channel.
	subDepth = 256
	// ringSize bounds the replay buffer.
	ringSize = 256
)

// Envelope pairs a server event with the bus sequence that identifies it.
type Envelope struct {
	Seq   uint64
	Event schema.ServerEvent
}

// Bus fans server events out to subscribers and keeps a bounded ring of
// recent envelopes so reconnecting consumers can replay what they missed.
type Bus struct {
	mu    sync.Mutex
	subs  map[chan Envelope]struct{}
	ring  []Envelope
	seq   uint64
	log   pslog.Logger
	depth int
}

// New constructs a Bus.
func New(logger pslog.Logger) *Bus {
	if logger == nil {
		logger = pslog.Ctx(context.Background())
	}
	return &Bus{
		subs:  make(map[chan Envelope]struct{}),
		log:   logger,
		depth: subDepth,
	}
}

// Publish stamps the event with the next sequence and fans it out. Slow
// subscribers drop events rather than block the publisher.
func (b *Bus) Publish(event schema.ServerEvent) {
	if b == nil {
		return
	}
	if event.Time == "" {
		event.Time = time.Now().UTC().Format(time.RFC3339)
	}
	b.mu.Lock()
	b.seq++
	env := Envelope{Seq: b.seq, Event: event}
	if len(b.ring) < ringSize {
		b.ring = append(b.ring, env)
	} else {
		b.ring[int((env.Seq-1)%ringSize)] = env
	}
	// Fan out under the lock. Sends never block, and unsubscribe removes
	// its channel under the same lock before closing it.
	dropped := 0
	for sub := range b.subs {
		select {
		case sub <- env:
		default:
			dropped++
		}
	}
	b.mu.Unlock()
	if dropped > 0 && b.log != nil {
		b.log.Trace("eventbus dropped", "count", dropped, "type", event.Type)
	}
}

// Subscribe registers a live subscriber and returns a channel + cancel.
func (b *Bus) Subscribe() (<-chan Envelope, func()) {
	if b == nil {
		return nil, func() {}
	}
	b.mu.Lock()
	ch := b.registerLocked()
	count := len(b.subs)
	b.mu.Unlock()
	if b.log != nil {
		b.log.Debug("eventbus subscribe", "subs", count)
	}
	return ch, b.unsubscribe(ch)
}

// SubscribeFrom registers a subscriber and additionally returns the buffered
// envelopes with sequence greater than after, oldest first. Envelopes that
// already fell out of the ring are gone.
func (b *Bus) SubscribeFrom(after uint64) ([]Envelope, <-chan Envelope, func()) {
	if b == nil {
		return nil, nil, func() {}
	}
	b.mu.Lock()
	backlog := b.replayLocked(after)
	ch := b.registerLocked()
	count := len(b.subs)
	b.mu.Unlock()
	if b.log != nil {
		b.log.Debug("eventbus subscribe", "subs", count, "replayed", len(backlog))
	}
	return backlog, ch, b.unsubscribe(ch)
}

// Seq returns the sequence of the most recently published event.
func (b *Bus) Seq() uint64 {
	if b == nil {
		return 0
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.seq
}

func (b *Bus) registerLocked() chan Envelope {
	ch := make(chan Envelope, b.depth)
	b.subs[ch] = struct{}{}
	return ch
}

func (b *Bus) unsubscribe(ch chan Envelope) func() {
	return func() {
		b.mu.Lock()
		delete(b.subs, ch)
		b.mu.Unlock()
		close(ch)
		if b.log != nil {
			b.log.Debug("eventbus unsubscribe")
		}
	}
}

func (b *Bus) replayLocked(after uint64) []Envelope {
	if len(b.ring) == 0 || b.seq <= after {
		return nil
	}
	oldest := b.seq - uint64(len(b.ring)) + 1
	start := after + 1
	if start < oldest {
		start = oldest
	}
	out := make([]Envelope, 0, b.seq-start+1)
	for s := start; s <= b.seq; s++ {
		out = append(out, b.ring[int((s-1)%ringSize)])
	}
	return out
}
