package paxos

import (
	"fmt"
	"sync"
)

// It’s convenient to use tuples as ballot numbers.
// To generate one, a proposer combines its numerical ID with a local increasing round: (round, ID).
// To compare ballot tuples, we compare the round first and use the ID only as a tiebreaker,
// so no two distinct proposers ever mint an equal ballot.
type Ballot struct {
	Round      uint64
	ProposerID uint64
}

// IsZero reports whether b is the zero ballot, which orders below every real ballot.
func (b Ballot) IsZero() bool {
	return b.Round == 0 && b.ProposerID == 0
}

// Less reports whether b orders strictly before other.
func (b Ballot) Less(other Ballot) bool {
	if b.Round != other.Round {
		return b.Round < other.Round
	}
	return b.ProposerID < other.ProposerID
}

func (b Ballot) String() string {
	return fmt.Sprintf("(%d, %d)", b.Round, b.ProposerID)
}

// ballotClock mints the ballots for one proposer ID. Minting is serialized, so
// concurrent consensus instances on the same node never reuse a round; a round
// once superseded is never handed out again.
type ballotClock struct {
	mu         sync.Mutex
	proposerID uint64
	round      uint64
}

func newBallotClock(proposerID uint64) *ballotClock {
	return &ballotClock{proposerID: proposerID}
}

// next returns a ballot strictly greater than every ballot this clock has
// minted or observed.
func (c *ballotClock) next() Ballot {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.round++
	return Ballot{Round: c.round, ProposerID: c.proposerID}
}

// observe advances the clock past a ballot reported back in a Nack, so that
// the next mint supersedes the rejecting acceptor's promise.
func (c *ballotClock) observe(b Ballot) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if b.Round > c.round {
		c.round = b.Round
	}
}
