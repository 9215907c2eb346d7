package paxos

import (
	"bytes"
	"encoding/gob"
	"fmt"

	"github.com/pkg/errors"
)

// Nack reasons an acceptor hands back so the proposer knows which higher
// ballot to beat instead of blindly retrying.
const (
	reasonStaleBallot = "stale ballot"
	reasonSuperseded  = "superseded"
)

// AcceptorState is the durable record an acceptor keeps per consensus
// instance: the highest ballot it has promised not to undercut, and the
// highest-numbered proposal it has accepted, if any.
//
// Invariants: Promised is non-decreasing; Accepted, once set, is only ever
// overwritten by a strictly higher ballot, never cleared or lowered.
type AcceptorState struct {
	Promised Ballot
	Accepted *AcceptedValue
}

// stateKey is the StableStore key under which the state of one consensus
// instance lives. Users of a shared store should not write keys in this space.
func stateKey(instance uint64) []byte {
	return []byte(fmt.Sprintf("__paxos/instance/%d/state", instance))
}

// Acceptor answers Prepare and Accept requests against its durable state.
// Acceptors are the fault-tolerant memory of the protocol; the system should
// have 2F+1 of them to tolerate F failures.
//
// The "prepare" and "accept" operations affecting the same instance are
// mutually exclusive: the owning Node feeds the acceptor one message at a
// time, and state is re-read under that sequencing so no handler ever acts on
// a stale promise.
type Acceptor struct {
	id    uint64
	store StableStore
}

// NewAcceptor creates an acceptor over the given durable store. An acceptor
// restarted over a non-empty store picks up its earlier promises and
// acceptances.
func NewAcceptor(id uint64, store StableStore) *Acceptor {
	return &Acceptor{id: id, store: store}
}

// load reads the state for an instance from the store. A missing key means
// the acceptor has never seen the instance, which is the zero state.
func (a *Acceptor) load(instance uint64) (AcceptorState, error) {
	var st AcceptorState
	raw, err := a.store.Get(stateKey(instance))
	if isNotFound(err) {
		return st, nil
	}
	if err != nil {
		return st, errors.Wrapf(err, "acceptor %d: unable to get state for instance %d", a.id, instance)
	}
	dec := gob.NewDecoder(bytes.NewReader(raw))
	if err := dec.Decode(&st); err != nil {
		return st, errors.Wrapf(err, "acceptor %d: unable to decode state for instance %d", a.id, instance)
	}
	return st, nil
}

// persist flushes the state for an instance to the store. It must succeed
// before any reply escapes the acceptor.
func (a *Acceptor) persist(instance uint64, st AcceptorState) error {
	var buf bytes.Buffer
	enc := gob.NewEncoder(&buf)
	if err := enc.Encode(st); err != nil {
		return errors.Wrapf(err, "acceptor %d: unable to encode state for instance %d", a.id, instance)
	}
	if err := a.store.Set(stateKey(instance), buf.Bytes()); err != nil {
		return errors.Wrapf(err, "acceptor %d: unable to flush state for instance %d", a.id, instance)
	}
	return nil
}

// HandlePrepare answers a Prepare message with a Promise or a Nack.
// If the ballot beats the highest promise so far, the new promise is persisted
// and the Promise carries the acceptor's current acceptance (if any) so the
// proposer can adopt it. Otherwise a Nack reports the promised ballot to beat;
// state is untouched.
//
// A non-nil error means the promise could not be made durable; the caller must
// not send any reply, since an unpersisted promise must never be observable.
func (a *Acceptor) HandlePrepare(m Msg) (Msg, error) {
	st, err := a.load(m.Instance)
	if err != nil {
		return Msg{}, err
	}

	if !st.Promised.Less(m.Ballot) {
		log.Debugf("acceptor %d instance %d: prepare %v nacked, promised %v", a.id, m.Instance, m.Ballot, st.Promised)
		return Msg{
			Type:     Nack,
			Instance: m.Instance,
			From:     a.id,
			To:       m.From,
			Ballot:   m.Ballot,
			Promised: st.Promised,
			Reason:   reasonStaleBallot,
		}, nil
	}

	st.Promised = m.Ballot
	if err := a.persist(m.Instance, st); err != nil {
		return Msg{}, err
	}
	return Msg{
		Type:     Promise,
		Instance: m.Instance,
		From:     a.id,
		To:       m.From,
		Ballot:   m.Ballot,
		Prior:    st.Accepted,
	}, nil
}

// HandleAccept answers an Accept message with an Accepted or a Nack.
// An accept at or above the promised ballot is persisted as the new promise
// and acceptance before the Accepted reply escapes; the caller broadcasts the
// Accepted to the learner set. A lower ballot gets a Nack and no state change.
//
// A non-nil error means persistence failed; no reply may be sent.
func (a *Acceptor) HandleAccept(m Msg) (Msg, error) {
	st, err := a.load(m.Instance)
	if err != nil {
		return Msg{}, err
	}

	if m.Ballot.Less(st.Promised) {
		log.Debugf("acceptor %d instance %d: accept %v nacked, promised %v", a.id, m.Instance, m.Ballot, st.Promised)
		return Msg{
			Type:     Nack,
			Instance: m.Instance,
			From:     a.id,
			To:       m.From,
			Ballot:   m.Ballot,
			Promised: st.Promised,
			Reason:   reasonSuperseded,
		}, nil
	}

	st.Promised = m.Ballot
	st.Accepted = &AcceptedValue{Ballot: m.Ballot, Value: m.Value}
	if err := a.persist(m.Instance, st); err != nil {
		return Msg{}, err
	}
	return Msg{
		Type:     Accepted,
		Instance: m.Instance,
		From:     a.id,
		To:       m.From,
		Ballot:   m.Ballot,
		Value:    m.Value,
	}, nil
}

// State returns the acceptor's current durable state for an instance.
func (a *Acceptor) State(instance uint64) (AcceptorState, error) {
	return a.load(instance)
}
