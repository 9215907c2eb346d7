package paxos

import (
	"fmt"
	"sync"
)

// DecidedFunc is the notification fired exactly once per consensus instance
// when it transitions into the decided state.
type DecidedFunc func(instance uint64, value []byte)

// pairKey fingerprints a (ballot, value) pair for quorum voting.
func pairKey(av AcceptedValue) string {
	return fmt.Sprintf("%d.%d|%x", av.Ballot.Round, av.Ballot.ProposerID, av.Value)
}

// Learner collects Accepted notifications from acceptors and declares an
// instance decided once a quorum of them report the identical (ballot, value)
// pair. A decision is permanent: later Accepted messages are still recorded
// for observability but can never change the outcome.
type Learner struct {
	id        uint64
	peers     int
	onDecided DecidedFunc

	mu        sync.Mutex
	instances map[uint64]*learnerInstance
}

type learnerInstance struct {
	tracker *quorumTracker
	// latest (ballot, value) reported by each acceptor; higher ballots
	// supersede earlier reports from the same acceptor
	observed map[uint64]AcceptedValue
	decided  []byte
	done     bool
}

// NewLearner creates a learner over a peer set of the given size. onDecided
// may be nil.
func NewLearner(id uint64, peers int, onDecided DecidedFunc) *Learner {
	return &Learner{
		id:        id,
		peers:     peers,
		onDecided: onDecided,
		instances: make(map[uint64]*learnerInstance),
	}
}

// Observe feeds an incoming message to the learner. Anything but an Accepted
// message is ignored.
func (l *Learner) Observe(m Msg) {
	if m.Type != Accepted {
		return
	}

	l.mu.Lock()
	li, ok := l.instances[m.Instance]
	if !ok {
		li = &learnerInstance{
			tracker:  newQuorumTracker(l.peers),
			observed: make(map[uint64]AcceptedValue),
		}
		l.instances[m.Instance] = li
	}

	av := AcceptedValue{Ballot: m.Ballot, Value: m.Value}
	if prev, seen := li.observed[m.From]; seen && !prev.Ballot.Less(av.Ballot) {
		// duplicate or stale report from this acceptor
		l.mu.Unlock()
		return
	}
	li.observed[m.From] = av
	li.tracker.vote(m.From, pairKey(av))

	if li.done {
		l.mu.Unlock()
		return
	}
	key, reached := li.tracker.decided()
	if !reached {
		l.mu.Unlock()
		return
	}
	// recover the value behind the winning fingerprint
	var value []byte
	for _, ob := range li.observed {
		if pairKey(ob) == key {
			value = ob.Value
			break
		}
	}
	li.decided = value
	li.done = true
	notify := l.onDecided
	l.mu.Unlock()

	log.Infof("learner %d: instance %d decided", l.id, m.Instance)
	if notify != nil {
		notify(m.Instance, value)
	}
}

// Decided returns the decided value for an instance, if the learner has
// observed a quorum for it.
func (l *Learner) Decided(instance uint64) ([]byte, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	li, ok := l.instances[instance]
	if !ok || !li.done {
		return nil, false
	}
	return li.decided, true
}
