package paxos

import (
	"math/rand"
	"sync"
	"time"

	"github.com/pkg/errors"
)

// InmemTransport implements the Transport interface, to allow the protocol to
// be tested in-memory without going over a network. Each joined peer gets a
// buffered inbox channel; a full inbox drops the message, which is within the
// transport contract.
//
// Partition, Duplicate and MaxDelay make the at-least-once, lossy,
// duplicating, reordering contract explicit for tests: partitioned peers
// silently eat their messages, Duplicate delivers every message twice, and
// MaxDelay holds each delivery back by a random duration so messages overtake
// each other in flight.
type InmemTransport struct {
	mu          sync.Mutex
	inboxes     map[uint64]chan Msg
	partitioned map[uint64]bool

	// Duplicate, when set, delivers every message twice.
	Duplicate bool

	// MaxDelay, when set, delays each delivery by a random duration below
	// it, which reorders messages in flight.
	MaxDelay time.Duration
}

// NewInmemTransport is used to initialize a new transport.
func NewInmemTransport() *InmemTransport {
	return &InmemTransport{
		inboxes:     make(map[uint64]chan Msg),
		partitioned: make(map[uint64]bool),
	}
}

// Join registers a peer and returns the channel its messages arrive on.
func (t *InmemTransport) Join(id uint64) <-chan Msg {
	t.mu.Lock()
	defer t.mu.Unlock()
	ch, ok := t.inboxes[id]
	if !ok {
		ch = make(chan Msg, 1024)
		t.inboxes[id] = ch
	}
	return ch
}

// Partition cuts the named peers off: messages to them are silently dropped
// until Heal is called.
func (t *InmemTransport) Partition(ids ...uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, id := range ids {
		t.partitioned[id] = true
	}
}

// Heal reconnects all partitioned peers.
func (t *InmemTransport) Heal() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.partitioned = make(map[uint64]bool)
}

// Send implements the Transport interface.
func (t *InmemTransport) Send(to uint64, m Msg) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.partitioned[to] {
		return nil
	}
	ch, ok := t.inboxes[to]
	if !ok {
		return errors.Errorf("inmem transport: unknown peer %d", to)
	}
	deliveries := 1
	if t.Duplicate {
		deliveries = 2
	}
	for i := 0; i < deliveries; i++ {
		if t.MaxDelay > 0 {
			delay := time.Duration(rand.Int63n(int64(t.MaxDelay)))
			go func() {
				time.Sleep(delay)
				select {
				case ch <- m:
				default:
					// inbox full; the contract allows dropping
				}
			}()
			continue
		}
		select {
		case ch <- m:
		default:
			// inbox full; the contract allows dropping
		}
	}
	return nil
}
