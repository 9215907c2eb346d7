package paxos

import (
	"errors"
	"sync"
)

// InmemStore implements the StableStore interface.
// It should NEVER be used for production, since it does not survive a process
// crash; it is used for unit tests and demos.
// Use the github.com/hashicorp/raft-boltdb implementation instead.
type InmemStore struct {
	l     sync.RWMutex
	kv    map[string][]byte
	kvInt map[string]uint64
}

// NewInmemStore creates an empty in-memory store.
func NewInmemStore() *InmemStore {
	return &InmemStore{
		kv:    make(map[string][]byte),
		kvInt: make(map[string]uint64),
	}
}

// Set implements the StableStore interface.
func (i *InmemStore) Set(key []byte, val []byte) error {
	i.l.Lock()
	defer i.l.Unlock()
	i.kv[string(key)] = val
	return nil
}

// Get implements the StableStore interface.
func (i *InmemStore) Get(key []byte) ([]byte, error) {
	i.l.RLock()
	defer i.l.RUnlock()
	val, ok := i.kv[string(key)]
	if !ok {
		return nil, errors.New(stableStoreNotFoundErr)
	}
	return val, nil
}

// SetUint64 implements the StableStore interface.
func (i *InmemStore) SetUint64(key []byte, val uint64) error {
	i.l.Lock()
	defer i.l.Unlock()
	i.kvInt[string(key)] = val
	return nil
}

// GetUint64 implements the StableStore interface.
func (i *InmemStore) GetUint64(key []byte) (uint64, error) {
	i.l.RLock()
	defer i.l.RUnlock()
	return i.kvInt[string(key)], nil
}
