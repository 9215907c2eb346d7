package paxos

import (
	"bytes"
	"context"
	"testing"
	"time"
)

// seedAcceptance plants a durable acceptance directly into a node's acceptor,
// simulating an earlier proposer that reached this acceptor before crashing.
func seedAcceptance(t *testing.T, n *Node, instance uint64, b Ballot, value []byte) {
	t.Helper()
	if _, err := n.acceptor.HandlePrepare(Msg{Type: Prepare, Instance: instance, From: b.ProposerID, Ballot: b}); err != nil {
		t.Fatalf("\nseeding prepare \nerr = %#+v", err)
	}
	if _, err := n.acceptor.HandleAccept(Msg{Type: Accept, Instance: instance, From: b.ProposerID, Ballot: b, Value: value}); err != nil {
		t.Fatalf("\nseeding accept \nerr = %#+v", err)
	}
}

func TestProposerAdoptsPriorValue(t *testing.T) {
	_, nodes := newTestCluster(t, 3)

	// a previous proposer got "X" accepted by a quorum before vanishing;
	// scenario: a later proposer with its own candidate "Y" must still
	// propose "X"
	prior := Ballot{Round: 1, ProposerID: 99}
	seedAcceptance(t, nodes[0], 1, prior, []byte("X"))
	seedAcceptance(t, nodes[1], 1, prior, []byte("X"))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	decided, err := nodes[2].Propose(ctx, 1, []byte("Y"))
	if err != nil {
		t.Fatalf("\nnode.Propose() \nerr = %#+v", err)
	}
	if !bytes.Equal(decided, []byte("X")) {
		t.Fatalf("\nnode.Propose() \ngot = %q, \nwanted the previously accepted %q", decided, "X")
	}
	for _, n := range nodes {
		waitDecided(t, n, 1, []byte("X"))
	}
}

func TestProposerAdoptsHighestPriorValue(t *testing.T) {
	_, nodes := newTestCluster(t, 3)

	// two acceptors hold different prior acceptances; the one under the
	// higher ballot must win regardless of how many hold the lower one
	seedAcceptance(t, nodes[0], 1, Ballot{Round: 1, ProposerID: 98}, []byte("old"))
	seedAcceptance(t, nodes[1], 1, Ballot{Round: 2, ProposerID: 99}, []byte("new"))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	decided, err := nodes[2].Propose(ctx, 1, []byte("mine"))
	if err != nil {
		t.Fatalf("\nnode.Propose() \nerr = %#+v", err)
	}
	if !bytes.Equal(decided, []byte("new")) {
		t.Fatalf("\nnode.Propose() \ngot = %q, \nwanted = %q", decided, "new")
	}
}

func TestProposerBumpsPastNackedBallot(t *testing.T) {
	_, nodes := newTestCluster(t, 3)

	// all acceptors already promised a high ballot, so the first attempts
	// are nacked and the clock must jump past round 7 instead of counting
	// up to it
	high := Ballot{Round: 7, ProposerID: 99}
	for _, n := range nodes {
		if _, err := n.acceptor.HandlePrepare(Msg{Type: Prepare, Instance: 1, From: 99, Ballot: high}); err != nil {
			t.Fatalf("\nseeding prepare \nerr = %#+v", err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	decided, err := nodes[0].Propose(ctx, 1, []byte("X"))
	if err != nil {
		t.Fatalf("\nnode.Propose() \nerr = %#+v", err)
	}
	if !bytes.Equal(decided, []byte("X")) {
		t.Fatalf("\nnode.Propose() \ngot = %q, \nwanted = %q", decided, "X")
	}

	st, err := nodes[0].acceptor.State(1)
	if err != nil {
		t.Fatalf("\nacceptor.State() \nerr = %#+v", err)
	}
	if st.Promised.Round <= high.Round {
		t.Errorf("\ndeciding round \ngot = %#+v, \nwanted > %v", st.Promised.Round, high.Round)
	}
}

func TestProposerIgnoresNackEchoOfOwnBallot(t *testing.T) {
	inbox := make(chan Msg, 16)
	trans := NewInmemTransport()
	for _, id := range []uint64{1, 2, 3} {
		trans.Join(id)
	}
	p := &Proposer{id: 1, clock: newBallotClock(1), peers: []uint64{1, 2, 3}, trans: trans, inbox: inbox}
	b := p.clock.next()

	// a duplicated Prepare comes back as a Nack carrying our own ballot;
	// the quorum of Promises behind it must still complete the round
	inbox <- Msg{Type: Nack, Instance: 1, From: 2, Ballot: b, Promised: b, Reason: "stale ballot"}
	inbox <- Msg{Type: Promise, Instance: 1, From: 1, Ballot: b}
	inbox <- Msg{Type: Promise, Instance: 1, From: 2, Ballot: b}

	ctx, cancel := context.WithTimeout(context.Background(), PhaseTimeout)
	defer cancel()
	if _, err := p.phase1(ctx, 1, b); err != nil {
		t.Fatalf("\nphase1 with a same-ballot nack echo \nerr = %#+v, \nwanted completion on the promise quorum", err)
	}

	// same during phase 2: a late stale-Prepare echo must not abort the
	// round once a quorum of Accepted replies is in
	inbox <- Msg{Type: Nack, Instance: 1, From: 3, Ballot: b, Promised: b, Reason: "stale ballot"}
	inbox <- Msg{Type: Accepted, Instance: 1, From: 1, Ballot: b, Value: []byte("X")}
	inbox <- Msg{Type: Accepted, Instance: 1, From: 2, Ballot: b, Value: []byte("X")}

	if err := p.phase2(ctx, 1, b, []byte("X")); err != nil {
		t.Fatalf("\nphase2 with a same-ballot nack echo \nerr = %#+v, \nwanted completion on the accepted quorum", err)
	}
}

func TestProposerIgnoresStaleReplies(t *testing.T) {
	inbox := make(chan Msg, 16)
	trans := NewInmemTransport()
	trans.Join(1)
	p := &Proposer{id: 1, clock: newBallotClock(1), peers: []uint64{1}, trans: trans, inbox: inbox}

	// replies for a foreign instance and for a ballot the proposer never
	// issued must be ignored, not treated as progress
	inbox <- Msg{Type: Promise, Instance: 9, From: 1, Ballot: Ballot{Round: 1, ProposerID: 1}}
	inbox <- Msg{Type: Promise, Instance: 1, From: 1, Ballot: Ballot{Round: 42, ProposerID: 8}}
	inbox <- Msg{Type: Nack, Instance: 1, From: 1, Ballot: Ballot{Round: 42, ProposerID: 8}, Promised: Ballot{Round: 50, ProposerID: 8}}

	ctx, cancel := context.WithTimeout(context.Background(), PhaseTimeout/2)
	defer cancel()

	if _, err := p.phase1(ctx, 1, p.clock.next()); err != context.DeadlineExceeded {
		t.Errorf("\nphase1 fed only stale replies \nerr = %#+v, \nwanted = %#+v", err, context.DeadlineExceeded)
	}
}
