package quotas

import (
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/rlp"

	"jobchain/native/common"
)

type memoryState struct {
	data map[string][]byte
}

func newMemoryState() *memoryState {
	return &memoryState{data: make(map[string][]byte)}
}

func (m *memoryState) KVGet(key []byte, out interface{}) (bool, error) {
	raw, ok := m.data[string(key)]
	if !ok || len(raw) == 0 {
		return false, nil
	}
	if out == nil {
		return true, nil
	}
	if err := rlp.DecodeBytes(raw, out); err != nil {
		return false, err
	}
	return true, nil
}

func (m *memoryState) KVPut(key []byte, value interface{}) error {
	encoded, err := rlp.EncodeToBytes(value)
	if err != nil {
		return err
	}
	m.data[string(key)] = encoded
	return nil
}

func (m *memoryState) KVAppend(key []byte, value []byte) error {
	var existing [][]byte
	if _, err := m.KVGet(key, &existing); err != nil {
		return err
	}
	for _, entry := range existing {
		if string(entry) == string(value) {
			return nil
		}
	}
	return m.KVPut(key, append(existing, append([]byte(nil), value...)))
}

func (m *memoryState) KVGetList(key []byte, out interface{}) error {
	dest, ok := out.(*[][]byte)
	if !ok {
		return errors.New("unsupported list type")
	}
	*dest = nil
	_, err := m.KVGet(key, dest)
	return err
}

func (m *memoryState) KVDelete(key []byte) error {
	delete(m.data, string(key))
	return nil
}

func TestQuotaStoreCountersAndPrune(t *testing.T) {
	store := NewStore(newMemoryState())

	var addr [20]byte
	addr[0] = 0xAA
	quota := common.Quota{MaxRequestsPerEpoch: 2, EpochSeconds: 60}

	if _, err := common.Apply(store, "jobs", 0, addr, quota, 1, 0); err != nil {
		t.Fatalf("apply quota: %v", err)
	}
	next, err := common.Apply(store, "jobs", 0, addr, quota, 1, 0)
	if err != nil {
		t.Fatalf("apply quota second: %v", err)
	}
	if next.ReqCount != 2 {
		t.Fatalf("expected request count 2, got %d", next.ReqCount)
	}

	if _, err := common.Apply(store, "jobs", 0, addr, quota, 1, 0); !errors.Is(err, common.ErrQuotaRequestsExceeded) {
		t.Fatalf("expected ErrQuotaRequestsExceeded, got %v", err)
	}
	if counters, _, err := store.Load("jobs", 0, addr); err != nil || counters.ReqCount != 2 {
		t.Fatalf("denied request must not be persisted: %+v %v", counters, err)
	}

	rollover, err := common.Apply(store, "jobs", 1, addr, quota, 1, 0)
	if err != nil {
		t.Fatalf("apply quota after epoch: %v", err)
	}
	if rollover.EpochID != 1 || rollover.ReqCount != 1 {
		t.Fatalf("unexpected counters after rollover: %+v", rollover)
	}

	pruned, err := store.PruneEpoch("jobs", 0)
	if err != nil {
		t.Fatalf("prune epoch: %v", err)
	}
	if pruned != 1 {
		t.Fatalf("expected one pruned address, got %d", pruned)
	}
	if _, ok, err := store.Load("jobs", 0, addr); err != nil {
		t.Fatalf("load after prune: %v", err)
	} else if ok {
		t.Fatalf("expected epoch 0 counters pruned")
	}
	if counters, ok, _ := store.Load("jobs", 1, addr); !ok || counters.ReqCount != 1 {
		t.Fatalf("epoch 1 counters must survive: %+v", counters)
	}
}

func TestQuotaStoreValueCap(t *testing.T) {
	store := NewStore(newMemoryState())
	var addr [20]byte
	addr[19] = 1
	quota := common.Quota{MaxValuePerEpoch: 100, EpochSeconds: 3600}

	if _, err := common.Apply(store, "Jobs ", 7, addr, quota, 1, 60); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if _, err := common.Apply(store, "jobs", 7, addr, quota, 1, 41); !errors.Is(err, common.ErrQuotaValueCapExceeded) {
		t.Fatalf("expected value cap, got %v", err)
	}
	counters, ok, err := store.Load("jobs", 7, addr)
	if err != nil || !ok {
		t.Fatalf("load: %v %v", ok, err)
	}
	if counters.ValueUsed != 60 {
		t.Fatalf("expected 60 used, got %d", counters.ValueUsed)
	}
}

func TestQuotaStoreRequiresState(t *testing.T) {
	var store *Store
	if _, _, err := store.Load("jobs", 0, [20]byte{}); err == nil {
		t.Fatalf("expected error from nil store")
	}
}
