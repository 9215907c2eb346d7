package paxos

// StableStore provides durable storage for acceptor state, so that a promise
// or acceptance survives a crash and restart.
// The interface is the same as the one defined in hashicorp/raft, which means
// any implementation written for it will suffice,
// eg github.com/hashicorp/raft-mdb and
//
//	github.com/hashicorp/raft-boltdb
type StableStore interface {
	Set(key []byte, val []byte) error
	// Get returns the value for key, or an error containing "not found" if the key is absent.
	Get(key []byte) ([]byte, error)
	SetUint64(key []byte, val uint64) error
	// GetUint64 returns the uint64 value for key, or 0 if key was not found.
	GetUint64(key []byte) (uint64, error)
}

// see: https://github.com/hashicorp/raft-boltdb/blob/6e5ba93211eaf8d9a2ad7e41ffad8c6f160f9fe3/bolt_store.go#L241-L246
const stableStoreNotFoundErr = "not found"

func isNotFound(err error) bool {
	return err != nil && err.Error() == stableStoreNotFoundErr
}
