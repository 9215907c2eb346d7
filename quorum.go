package paxos

// QuorumSize returns the majority threshold for a peer set of n acceptors:
// floor(n/2) + 1.
func QuorumSize(n int) int {
	return n/2 + 1
}

// quorumTracker reports when a majority of a fixed peer set has responded
// consistently. Votes are keyed by responder; a responder voting again
// replaces its earlier vote, so duplicated messages never inflate the count.
type quorumTracker struct {
	quorum int
	votes  map[uint64]string
}

func newQuorumTracker(peers int) *quorumTracker {
	return &quorumTracker{
		quorum: QuorumSize(peers),
		votes:  make(map[uint64]string),
	}
}

// vote records responder from as holding the given vote key.
func (t *quorumTracker) vote(from uint64, key string) {
	t.votes[from] = key
}

// count returns how many responders currently hold the given vote key.
func (t *quorumTracker) count(key string) int {
	n := 0
	for _, k := range t.votes {
		if k == key {
			n++
		}
	}
	return n
}

// decided returns the vote key held by a majority, if any.
func (t *quorumTracker) decided() (string, bool) {
	tally := make(map[string]int, len(t.votes))
	for _, k := range t.votes {
		tally[k]++
		if tally[k] >= t.quorum {
			return k, true
		}
	}
	return "", false
}
