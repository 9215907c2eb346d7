package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/hashicorp/raft-boltdb"
	"github.com/sanity-io/litter"

	"github.com/nyati/paxos"
)

func main() {
	// create a store per node. Ideally each node lives on its own machine
	// with its own disk persisted store; any store that implements the
	// hashicorp/raft StableStore interface will suffice
	dir, err := os.MkdirTemp("", "paxos-example")
	if err != nil {
		panic(err)
	}
	defer os.RemoveAll(dir)

	trans := paxos.NewInmemTransport()
	peers := []uint64{1, 2, 3}

	nodes := make([]*paxos.Node, 0, len(peers))
	for _, id := range peers {
		boltStore, err := raftboltdb.NewBoltStore(filepath.Join(dir, fmt.Sprintf("bolt-%d.db", id)))
		if err != nil {
			panic(err)
		}
		defer boltStore.Close()

		n, err := paxos.NewNode(id, boltStore, trans, peers)
		if err != nil {
			panic(err)
		}
		n.OnDecided(func(instance uint64, value []byte) {
			fmt.Printf("node %d learned: instance %d decided %q\n", n.ID, instance, value)
		})
		n.Serve(trans.Join(id))
		nodes = append(nodes, n)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// make a proposition; consensus will happen and you get the decided
	// value back. It may differ from what you proposed if another value was
	// already in flight for the instance.
	decided, err := nodes[0].Propose(ctx, 1, []byte("Masta-Ace"))
	if err != nil {
		fmt.Printf("err: %v\n", err)
		return
	}
	fmt.Printf("decided: %s\n", decided)

	// give the Accepted broadcasts a moment to reach every learner
	time.Sleep(100 * time.Millisecond)
	val, ok := nodes[1].Decided(1)
	litter.Dump(val, ok)
}
