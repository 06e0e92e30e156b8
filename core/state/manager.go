package state

import (
	"bytes"
	"errors"
	"fmt"
	"reflect"
	"sync"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"

	"jobchain/storage"
)

var (
	// ErrConflict is returned by Commit when a key read by the transaction was
	// changed by another transaction that committed first. Callers may retry.
	ErrConflict = errors.New("state: concurrent modification")
	// ErrTxClosed marks use of a transaction after Commit or Discard.
	ErrTxClosed = errors.New("state: transaction closed")
)

// Manager is the local ledger substrate: durable keyed storage with atomic,
// conditionally applied transactions on top of a storage.Database.
type Manager struct {
	db       storage.Database
	commitMu sync.Mutex
}

// NewManager creates a state manager operating on the provided database.
func NewManager(db storage.Database) *Manager {
	return &Manager{db: db}
}

func kvKey(key []byte) []byte {
	return ethcrypto.Keccak256(key)
}

func (m *Manager) load(hashed []byte) ([]byte, error) {
	data, err := m.db.Get(hashed)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return data, nil
}

// Begin opens a new transaction. Reads go to the committed state, writes are
// buffered until Commit.
func (m *Manager) Begin() *Tx {
	return &Tx{
		m:      m,
		reads:  make(map[string][]byte),
		writes: make(map[string][]byte),
	}
}

// View runs fn against a transaction that is always discarded.
func (m *Manager) View(fn func(*Tx) error) error {
	tx := m.Begin()
	defer tx.Discard()
	return fn(tx)
}

// Update runs fn and commits the transaction when fn succeeds.
func (m *Manager) Update(fn func(*Tx) error) error {
	tx := m.Begin()
	defer tx.Discard()
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

// Tx is an optimistic transaction. It remembers the committed value of every
// key it reads and refuses to commit if any of them changed in the meantime.
//
// Tx is not safe for concurrent use.
type Tx struct {
	m      *Manager
	reads  map[string][]byte
	writes map[string][]byte
	order  []string
	closed bool
}

func (tx *Tx) get(hashed []byte) ([]byte, error) {
	if tx.closed {
		return nil, ErrTxClosed
	}
	k := string(hashed)
	if value, ok := tx.writes[k]; ok {
		return value, nil
	}
	data, err := tx.m.load(hashed)
	if err != nil {
		return nil, err
	}
	if _, seen := tx.reads[k]; !seen {
		tx.reads[k] = data
	}
	return data, nil
}

func (tx *Tx) set(hashed []byte, value []byte) error {
	if tx.closed {
		return ErrTxClosed
	}
	k := string(hashed)
	if _, ok := tx.writes[k]; !ok {
		tx.order = append(tx.order, k)
	}
	tx.writes[k] = value
	return nil
}

// KVPut stores the provided value under the supplied key using RLP encoding.
// The key is hashed with keccak256 before it reaches the database.
func (tx *Tx) KVPut(key []byte, value interface{}) error {
	if len(key) == 0 {
		return fmt.Errorf("kv: key must not be empty")
	}
	encoded, err := rlp.EncodeToBytes(value)
	if err != nil {
		return err
	}
	return tx.set(kvKey(key), encoded)
}

// KVGet retrieves the value stored under the supplied key and decodes it into
// the provided destination. The boolean return value indicates whether the key
// existed in state.
func (tx *Tx) KVGet(key []byte, out interface{}) (bool, error) {
	if len(key) == 0 {
		return false, fmt.Errorf("kv: key must not be empty")
	}
	data, err := tx.get(kvKey(key))
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

// KVDelete removes the key. An empty value is written so the removal is part
// of the same atomic batch as the other writes.
func (tx *Tx) KVDelete(key []byte) error {
	if len(key) == 0 {
		return fmt.Errorf("kv: key must not be empty")
	}
	return tx.set(kvKey(key), nil)
}

// KVAppend appends the provided value to the RLP-encoded byte slice list stored
// under the supplied key. Duplicate values are ignored to keep the index
// deterministic.
func (tx *Tx) KVAppend(key []byte, value []byte) error {
	if len(key) == 0 {
		return fmt.Errorf("kv: key must not be empty")
	}
	var list [][]byte
	if _, err := tx.KVGet(key, &list); err != nil {
		return err
	}
	for _, existing := range list {
		if bytes.Equal(existing, value) {
			return nil
		}
	}
	list = append(list, append([]byte(nil), value...))
	return tx.KVPut(key, list)
}

// KVGetList retrieves an RLP-encoded slice stored under the provided key and
// decodes it into the supplied destination slice pointer. When no value is
// present the destination is initialised with an empty slice to avoid nil
// surprises for callers.
func (tx *Tx) KVGetList(key []byte, out interface{}) error {
	val := reflect.ValueOf(out)
	if val.Kind() != reflect.Ptr || val.IsNil() {
		return fmt.Errorf("kv: destination must be a non-nil pointer")
	}
	elem := val.Elem()
	if elem.Kind() != reflect.Slice {
		return fmt.Errorf("kv: destination must point to a slice")
	}
	ok, err := tx.KVGet(key, out)
	if err != nil {
		return err
	}
	if !ok {
		elem.Set(reflect.MakeSlice(elem.Type(), 0, 0))
	}
	return nil
}

// Dirty reports whether the transaction buffered any writes.
func (tx *Tx) Dirty() bool {
	return len(tx.order) > 0
}

// Commit validates the read set and writes the buffered values as one batch.
// The transaction is closed afterwards regardless of the outcome.
func (tx *Tx) Commit() error {
	if tx.closed {
		return ErrTxClosed
	}
	defer tx.Discard()
	if len(tx.order) == 0 {
		return nil
	}

	tx.m.commitMu.Lock()
	defer tx.m.commitMu.Unlock()

	for k, observed := range tx.reads {
		current, err := tx.m.load([]byte(k))
		if err != nil {
			return err
		}
		if !bytes.Equal(current, observed) {
			return ErrConflict
		}
	}

	batch := storage.NewBatch()
	for _, k := range tx.order {
		value := tx.writes[k]
		if len(value) == 0 {
			batch.Delete([]byte(k))
			continue
		}
		batch.Put([]byte(k), value)
	}
	return tx.m.db.Write(batch)
}

// Discard drops every buffered write. It is safe to call more than once.
func (tx *Tx) Discard() {
	if tx.closed {
		return
	}
	tx.closed = true
	tx.reads = nil
	tx.writes = nil
	tx.order = nil
}
