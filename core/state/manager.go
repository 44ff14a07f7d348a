package state

import (
	"errors"
	"fmt"
	"sort"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"

	"magink/storage"
)

// Manager is a write overlay on top of the node database. Reads fall
// through to the database unless the key was written in this overlay;
// writes stay in memory until Commit flushes them as one batch.
//
// A Manager is not safe for concurrent use. The node creates one per
// operation and either commits or discards it.
type Manager struct {
	db      storage.Database
	pending map[string]pendingValue
}

type pendingValue struct {
	data    []byte
	deleted bool
}

// NewManager creates a state manager reading from the provided database.
func NewManager(db storage.Database) *Manager {
	return &Manager{db: db, pending: make(map[string]pendingValue)}
}

func kvKey(key []byte) []byte {
	return ethcrypto.Keccak256(key)
}

func prefixedKey(prefix []byte, parts ...[]byte) []byte {
	size := len(prefix)
	for _, p := range parts {
		size += len(p)
	}
	buf := make([]byte, 0, size)
	buf = append(buf, prefix...)
	for _, p := range parts {
		buf = append(buf, p...)
	}
	return buf
}

func (m *Manager) get(hashed []byte) ([]byte, error) {
	if v, ok := m.pending[string(hashed)]; ok {
		if v.deleted {
			return nil, nil
		}
		return v.data, nil
	}
	data, err := m.db.Get(hashed)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return data, nil
}

// KVPut RLP-encodes the value and stages it under the hashed key.
func (m *Manager) KVPut(key []byte, value interface{}) error {
	if len(key) == 0 {
		return fmt.Errorf("kv: key must not be empty")
	}
	encoded, err := rlp.EncodeToBytes(value)
	if err != nil {
		return err
	}
	m.pending[string(kvKey(key))] = pendingValue{data: encoded}
	return nil
}

// KVGet retrieves the value stored under the supplied key and decodes it into
// the provided destination. The boolean return value indicates whether the key
// existed in state.
func (m *Manager) KVGet(key []byte, out interface{}) (bool, error) {
	if len(key) == 0 {
		return false, fmt.Errorf("kv: key must not be empty")
	}
	data, err := m.get(kvKey(key))
	if err != nil {
		return false, err
	}
	if len(data) == 0 {
		return false, nil
	}
	if out == nil {
		return true, nil
	}
	if err := rlp.DecodeBytes(data, out); err != nil {
		return false, err
	}
	return true, nil
}

// KVDelete stages the removal of a key.
func (m *Manager) KVDelete(key []byte) error {
	if len(key) == 0 {
		return fmt.Errorf("kv: key must not be empty")
	}
	m.pending[string(kvKey(key))] = pendingValue{deleted: true}
	return nil
}

// Dirty reports the number of staged writes.
func (m *Manager) Dirty() int {
	return len(m.pending)
}

// Commit flushes every staged write to the database atomically and resets
// the overlay.
func (m *Manager) Commit() error {
	if len(m.pending) == 0 {
		return nil
	}
	keys := make([]string, 0, len(m.pending))
	for k := range m.pending {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	batch := new(storage.Batch)
	for _, k := range keys {
		v := m.pending[k]
		if v.deleted {
			batch.Delete([]byte(k))
			continue
		}
		batch.Put([]byte(k), v.data)
	}
	if err := m.db.Write(batch); err != nil {
		return fmt.Errorf("state: commit: %w", err)
	}
	m.pending = make(map[string]pendingValue)
	return nil
}

// Discard drops every staged write.
func (m *Manager) Discard() {
	m.pending = make(map[string]pendingValue)
}
