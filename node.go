/*
Package paxos is a pure Go implementation of the single-decree Paxos consensus
protocol.

A set of nodes agrees on exactly one value per consensus instance despite
message loss, reordering, duplication and node crash/restart, as long as a
majority of nodes remains reachable. Each Node plays all three protocol roles:
Acceptor (the durable memory), Proposer (the driver of an instance) and
Learner (the quorum observer that surfaces the decision).

Example usage:

	package main

	import (
		"context"
		"fmt"

		"github.com/hashicorp/raft-boltdb"
		"github.com/nyati/paxos"
	)

	func main() {
		// Create a store for each node. Ideally it should be a disk
		// persisted store; any implementation of the hashicorp/raft
		// StableStore interface will suffice.
		boltStore, err := raftboltdb.NewBoltStore("/tmp/bolt.db")
		if err != nil {
			panic(err)
		}

		trans := paxos.NewInmemTransport()
		peers := []uint64{1, 2, 3}

		node1, _ := paxos.NewNode(1, boltStore, trans, peers)
		node2, _ := paxos.NewNode(2, paxos.NewInmemStore(), trans, peers)
		node3, _ := paxos.NewNode(3, paxos.NewInmemStore(), trans, peers)

		node1.Serve(trans.Join(1))
		node2.Serve(trans.Join(2))
		node3.Serve(trans.Join(3))

		decided, err := node1.Propose(context.Background(), 1, []byte("Masta-Ace"))
		if err != nil {
			fmt.Printf("err: %v", err)
		}
		fmt.Printf("decided: %s", decided)
	}
*/
package paxos

import (
	"context"
	"sync"

	logging "github.com/ipfs/go-log"
	"github.com/pkg/errors"
)

var log = logging.Logger("paxos")

// ErrNoPeers is returned when a node is created over an empty peer set; a
// quorum can never form, so this is a configuration error, not a protocol
// condition.
var ErrNoPeers = errors.New("paxos: empty peer set")

// Node composes the three Paxos roles over one durable store and one
// transport. All incoming messages are handled one at a time by the node's
// serve loop, so no two handlers ever mutate the same acceptor or proposer
// state concurrently.
type Node struct {
	ID uint64

	acceptor *Acceptor
	learner  *Learner
	clock    *ballotClock
	trans    Transport
	peers    []uint64

	mu        sync.Mutex
	proposals map[uint64]chan Msg
	onDecided []DecidedFunc
}

// NewNode creates a node. peers is the fixed set of participating node IDs
// for every instance, this node included; it is immutable after creation.
func NewNode(id uint64, store StableStore, trans Transport, peers []uint64) (*Node, error) {
	if len(peers) == 0 {
		return nil, ErrNoPeers
	}
	n := &Node{
		ID:        id,
		acceptor:  NewAcceptor(id, store),
		clock:     newBallotClock(id),
		trans:     trans,
		peers:     append([]uint64(nil), peers...),
		proposals: make(map[uint64]chan Msg),
	}
	n.learner = NewLearner(id, len(peers), n.notifyDecided)
	return n, nil
}

// OnDecided registers a callback fired exactly once per instance when this
// node's learner sees the decision.
func (n *Node) OnDecided(f DecidedFunc) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.onDecided = append(n.onDecided, f)
}

func (n *Node) notifyDecided(instance uint64, value []byte) {
	n.mu.Lock()
	subs := append([]DecidedFunc(nil), n.onDecided...)
	n.mu.Unlock()
	for _, f := range subs {
		f(instance, value)
	}
}

// Serve starts consuming messages from inbox in the background. The loop ends
// when inbox is closed.
func (n *Node) Serve(inbox <-chan Msg) {
	go func() {
		for m := range inbox {
			n.handle(m)
		}
	}()
}

// handle dispatches one incoming message to the role that owns it. Unknown
// message kinds and replies nobody is waiting for are dropped silently.
func (n *Node) handle(m Msg) {
	switch m.Type {
	case Prepare:
		reply, err := n.acceptor.HandlePrepare(m)
		if err != nil {
			// the promise never became durable, so no reply may escape
			log.Errorf("node %d: dropping prepare reply: %v", n.ID, err)
			return
		}
		n.send(reply)
	case Accept:
		reply, err := n.acceptor.HandleAccept(m)
		if err != nil {
			log.Errorf("node %d: dropping accept reply: %v", n.ID, err)
			return
		}
		if reply.Type == Accepted {
			// fan the acceptance out to every learner, the proposer included
			for _, peer := range n.peers {
				out := reply
				out.To = peer
				n.send(out)
			}
			return
		}
		n.send(reply)
	case Promise, Nack:
		n.forward(m)
	case Accepted:
		n.learner.Observe(m)
		n.forward(m)
	default:
		log.Debugf("node %d: dropping message with type %v", n.ID, m.Type)
	}
}

func (n *Node) send(m Msg) {
	if err := n.trans.Send(m.To, m); err != nil {
		log.Debugf("node %d: peer %d unreachable: %v", n.ID, m.To, err)
	}
}

// forward routes a reply to the proposer currently driving the instance, if
// any. Replies for instances nobody is driving are ignored, never an error.
func (n *Node) forward(m Msg) {
	n.mu.Lock()
	inbox, ok := n.proposals[m.Instance]
	n.mu.Unlock()
	if !ok {
		return
	}
	select {
	case inbox <- m:
	default:
		// proposer is behind; dropping is safe, it will retry
	}
}

// Propose asks this node to get a value decided for the given instance. It
// blocks until the decision is known or ctx expires. The decided value may
// differ from the submitted one if another value was already in flight for
// the instance.
func (n *Node) Propose(ctx context.Context, instance uint64, value []byte) ([]byte, error) {
	inbox, err := n.registerProposal(instance)
	if err != nil {
		return nil, err
	}
	defer n.unregisterProposal(instance)

	p := &Proposer{id: n.ID, clock: n.clock, peers: n.peers, trans: n.trans, inbox: inbox}
	return p.Propose(ctx, instance, value)
}

// Decided reports the decided value for an instance, if this node's learner
// has seen the decision.
func (n *Node) Decided(instance uint64) ([]byte, bool) {
	return n.learner.Decided(instance)
}

func (n *Node) registerProposal(instance uint64) (chan Msg, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if _, ok := n.proposals[instance]; ok {
		return nil, errors.Errorf("node %d: instance %d already has a proposal in flight", n.ID, instance)
	}
	inbox := make(chan Msg, 4*len(n.peers))
	n.proposals[instance] = inbox
	return inbox, nil
}

func (n *Node) unregisterProposal(instance uint64) {
	n.mu.Lock()
	defer n.mu.Unlock()
	delete(n.proposals, instance)
}
