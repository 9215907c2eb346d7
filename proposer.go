package paxos

import (
	"bytes"
	"context"
	"math/rand"
	"time"

	"github.com/pkg/errors"
)

var (
	// PhaseTimeout bounds how long a proposer waits for a quorum of replies in
	// one Prepare or Accept round before abandoning the ballot and retrying
	// with a higher one.
	PhaseTimeout = 100 * time.Millisecond

	// NackBackoff caps the randomized sleep before re-preparing after a Nack,
	// to keep competing proposers from duelling in lockstep.
	NackBackoff = 50 * time.Millisecond
)

// errRetry signals that the current ballot was abandoned (Nack or round
// timeout) and the proposer should re-run Phase 1 with a higher one. It never
// escapes Propose.
var errRetry = errors.New("ballot abandoned")

// Proposer drives one consensus instance through the two Paxos phases,
// retrying with ever higher ballots until a quorum accepts. Retries are
// unbounded; liveness under contention is probabilistic, so the caller bounds
// the attempt with its context.
//
// A Proposer exclusively owns its in-flight proposal and its reply inbox; the
// owning Node routes Promise, Accepted and Nack messages for the instance
// into the inbox.
type Proposer struct {
	id    uint64
	clock *ballotClock
	peers []uint64
	trans Transport
	inbox <-chan Msg
}

// Propose runs the instance until a value is decided or ctx expires. The
// returned value may differ from the one passed in: if Phase 1 surfaces an
// earlier acceptance, that value is adopted instead.
func (p *Proposer) Propose(ctx context.Context, instance uint64, value []byte) ([]byte, error) {
	for attempt := 0; ; attempt++ {
		if attempt > 0 && NackBackoff > 0 {
			if err := sleepCtx(ctx, time.Duration(rand.Int63n(int64(NackBackoff)))); err != nil {
				return nil, errors.Wrapf(err, "proposer %d: instance %d abandoned", p.id, instance)
			}
		}

		b := p.clock.next()
		log.Debugf("proposer %d instance %d: phase 1 with ballot %v", p.id, instance, b)
		prior, err := p.phase1(ctx, instance, b)
		if err == errRetry {
			continue
		}
		if err != nil {
			return nil, errors.Wrapf(err, "proposer %d: instance %d abandoned", p.id, instance)
		}

		// The critical safety rule: a value already accepted under the highest
		// ballot in the promise quorum wins over our own candidate.
		chosen := value
		if !prior.Ballot.IsZero() {
			chosen = prior.Value
		}

		log.Debugf("proposer %d instance %d: phase 2 with ballot %v", p.id, instance, b)
		err = p.phase2(ctx, instance, b, chosen)
		if err == errRetry {
			continue
		}
		if err != nil {
			return nil, errors.Wrapf(err, "proposer %d: instance %d abandoned", p.id, instance)
		}
		return chosen, nil
	}
}

// phase1 broadcasts Prepare(b) and collects Promises until a quorum is
// reached. It returns the highest-ballot prior acceptance found in the
// promise quorum, or the zero AcceptedValue if none carried one. A Nack for b
// carrying a strictly higher promise bumps the clock past it and aborts the
// round; so does the round deadline.
func (p *Proposer) phase1(ctx context.Context, instance uint64, b Ballot) (AcceptedValue, error) {
	p.broadcast(Msg{Type: Prepare, Instance: instance, From: p.id, Ballot: b})

	tracker := newQuorumTracker(len(p.peers))
	var prior AcceptedValue
	deadline := time.NewTimer(PhaseTimeout)
	defer deadline.Stop()

	for {
		select {
		case <-ctx.Done():
			return AcceptedValue{}, ctx.Err()
		case <-deadline.C:
			return AcceptedValue{}, errRetry
		case m := <-p.inbox:
			if m.Instance != instance {
				continue
			}
			switch m.Type {
			case Promise:
				if m.Ballot != b {
					// late reply for a ballot we moved past
					continue
				}
				tracker.vote(m.From, "promised")
				if m.Prior != nil && prior.Ballot.Less(m.Prior.Ballot) {
					prior = *m.Prior
				}
				if _, ok := tracker.decided(); ok {
					return prior, nil
				}
			case Nack:
				if m.Ballot != b {
					continue
				}
				if !b.Less(m.Promised) {
					// the echo of our own duplicated Prepare; only a
					// strictly higher promise supersedes this round
					continue
				}
				p.clock.observe(m.Promised)
				return AcceptedValue{}, errRetry
			default:
				// stray Accepted from an earlier round; ignore
			}
		}
	}
}

// phase2 broadcasts Accept(b, value) and collects Accepted replies until a
// quorum confirms the matching ballot and value.
func (p *Proposer) phase2(ctx context.Context, instance uint64, b Ballot, value []byte) error {
	p.broadcast(Msg{Type: Accept, Instance: instance, From: p.id, Ballot: b, Value: value})

	tracker := newQuorumTracker(len(p.peers))
	deadline := time.NewTimer(PhaseTimeout)
	defer deadline.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline.C:
			return errRetry
		case m := <-p.inbox:
			if m.Instance != instance {
				continue
			}
			switch m.Type {
			case Accepted:
				if m.Ballot != b || !bytes.Equal(m.Value, value) {
					continue
				}
				tracker.vote(m.From, "accepted")
				if _, ok := tracker.decided(); ok {
					return nil
				}
			case Nack:
				if m.Ballot != b {
					continue
				}
				if !b.Less(m.Promised) {
					// duplicated Accept echo; not a defeat
					continue
				}
				p.clock.observe(m.Promised)
				return errRetry
			default:
			}
		}
	}
}

// broadcast sends m to every peer. An unreachable peer is an implicit
// non-reply, not a round failure.
func (p *Proposer) broadcast(m Msg) {
	for _, peer := range p.peers {
		out := m
		out.To = peer
		if err := p.trans.Send(peer, out); err != nil {
			log.Debugf("proposer %d: peer %d unreachable: %v", p.id, peer, err)
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
