// Package quotas persists per-epoch usage counters for rate-limited modules.
package quotas

import (
	"fmt"
	"strings"

	"jobchain/native/common"
)

const quotasPrefix = "quotas"

func normaliseModule(module string) string {
	return strings.ToLower(strings.TrimSpace(module))
}

func counterKey(module string, epoch uint64, addr [20]byte) []byte {
	return []byte(fmt.Sprintf("%s/%s/%d/%x", quotasPrefix, normaliseModule(module), epoch, addr))
}

func epochIndexKey(module string, epoch uint64) []byte {
	return []byte(fmt.Sprintf("%s/%s/%d/index", quotasPrefix, normaliseModule(module), epoch))
}

type counterRecord struct {
	ReqCount  uint32
	ValueUsed uint64
}

// StoreState is the keyed state the counters live in.
type StoreState interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
	KVAppend(key []byte, value []byte) error
	KVGetList(key []byte, out interface{}) error
	KVDelete(key []byte) error
}

// Store reads and writes quota counters. Counters of distinct epochs live under
// distinct keys so a new epoch starts from zero without a reset write.
type Store struct {
	state StoreState
}

func NewStore(state StoreState) *Store {
	return &Store{state: state}
}

func (s *Store) withState() (StoreState, error) {
	if s == nil || s.state == nil {
		return nil, fmt.Errorf("quota store not initialised")
	}
	return s.state, nil
}

// Load returns the counters of addr in epoch. The boolean is false when
// nothing was recorded yet.
func (s *Store) Load(module string, epoch uint64, addr [20]byte) (common.QuotaNow, bool, error) {
	state, err := s.withState()
	if err != nil {
		return common.QuotaNow{}, false, err
	}
	var stored counterRecord
	ok, err := state.KVGet(counterKey(module, epoch, addr), &stored)
	if err != nil {
		return common.QuotaNow{}, false, fmt.Errorf("quota: load counters: %w", err)
	}
	if !ok {
		return common.QuotaNow{EpochID: epoch}, false, nil
	}
	return common.QuotaNow{EpochID: epoch, ReqCount: stored.ReqCount, ValueUsed: stored.ValueUsed}, true, nil
}

// Save stores the counters of addr in epoch. The first save of an address in
// an epoch also records it in the epoch index used by PruneEpoch.
func (s *Store) Save(module string, epoch uint64, addr [20]byte, counters common.QuotaNow) error {
	state, err := s.withState()
	if err != nil {
		return err
	}
	key := counterKey(module, epoch, addr)
	existed, err := state.KVGet(key, nil)
	if err != nil {
		return fmt.Errorf("quota: load counters: %w", err)
	}
	record := counterRecord{ReqCount: counters.ReqCount, ValueUsed: counters.ValueUsed}
	if err := state.KVPut(key, record); err != nil {
		return fmt.Errorf("quota: persist counters: %w", err)
	}
	if existed {
		return nil
	}
	if err := state.KVAppend(epochIndexKey(module, epoch), append([]byte(nil), addr[:]...)); err != nil {
		return fmt.Errorf("quota: update epoch index: %w", err)
	}
	return nil
}

// PruneEpoch deletes every counter recorded for epoch and returns how many
// addresses were cleared.
func (s *Store) PruneEpoch(module string, epoch uint64) (int, error) {
	state, err := s.withState()
	if err != nil {
		return 0, err
	}
	indexKey := epochIndexKey(module, epoch)
	var addrs [][]byte
	if err := state.KVGetList(indexKey, &addrs); err != nil {
		return 0, fmt.Errorf("quota: load epoch index: %w", err)
	}
	for _, raw := range addrs {
		var addr [20]byte
		copy(addr[:], raw)
		if err := state.KVDelete(counterKey(module, epoch, addr)); err != nil {
			return 0, fmt.Errorf("quota: prune counter: %w", err)
		}
	}
	if err := state.KVDelete(indexKey); err != nil {
		return 0, fmt.Errorf("quota: prune index: %w", err)
	}
	return len(addrs), nil
}
