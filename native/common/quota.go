package common

import (
	"errors"
	"math"
)

var (
	ErrQuotaRequestsExceeded = errors.New("quota requests exceeded")
	ErrQuotaValueCapExceeded = errors.New("quota value cap exceeded")
	ErrQuotaCounterOverflow  = errors.New("quota counter overflow")
)

// QuotaNow captures the usage counters of one address within an epoch.
type QuotaNow struct {
	ReqCount  uint32
	ValueUsed uint64
	EpochID   uint64
}

// Quota bounds how much an address may do within one epoch. Zero fields
// disable the corresponding limit.
type Quota struct {
	MaxRequestsPerEpoch uint32
	MaxValuePerEpoch    uint64
	EpochSeconds        uint32
}

// Enabled reports whether any limit is configured.
func (q Quota) Enabled() bool {
	return q.MaxRequestsPerEpoch > 0 || q.MaxValuePerEpoch > 0
}

// EpochAt returns the epoch containing the unix timestamp. A zero
// EpochSeconds places everything in epoch 0.
func (q Quota) EpochAt(now int64) uint64 {
	if q.EpochSeconds == 0 || now <= 0 {
		return 0
	}
	return uint64(now) / uint64(q.EpochSeconds)
}

// CheckQuota verifies whether the additional requests and value fit within
// the quota. Counters reset when nowEpoch differs from prev.EpochID. On
// denial prev is returned unchanged.
func CheckQuota(q Quota, nowEpoch uint64, prev QuotaNow, addReq uint32, addValue uint64) (QuotaNow, error) {
	next := prev
	if prev.EpochID != nowEpoch {
		next = QuotaNow{EpochID: nowEpoch}
	}

	if addReq > 0 {
		if next.ReqCount > math.MaxUint32-addReq {
			return prev, ErrQuotaCounterOverflow
		}
		next.ReqCount += addReq
	}
	if q.MaxRequestsPerEpoch > 0 && next.ReqCount > q.MaxRequestsPerEpoch {
		return prev, ErrQuotaRequestsExceeded
	}

	if addValue > 0 {
		if next.ValueUsed > math.MaxUint64-addValue {
			return prev, ErrQuotaCounterOverflow
		}
		next.ValueUsed += addValue
	}
	if q.MaxValuePerEpoch > 0 && next.ValueUsed > q.MaxValuePerEpoch {
		return prev, ErrQuotaValueCapExceeded
	}

	return next, nil
}

// QuotaStore persists the counters CheckQuota operates on.
type QuotaStore interface {
	Load(module string, epoch uint64, addr [20]byte) (QuotaNow, bool, error)
	Save(module string, epoch uint64, addr [20]byte, counters QuotaNow) error
}

// Apply charges addReq requests and addValue units against the counters of
// addr in epoch and persists the result. Nothing is written on denial.
func Apply(store QuotaStore, module string, epoch uint64, addr [20]byte, q Quota, addReq uint32, addValue uint64) (QuotaNow, error) {
	if store == nil {
		return QuotaNow{}, errors.New("quota store not configured")
	}
	prev, _, err := store.Load(module, epoch, addr)
	if err != nil {
		return QuotaNow{}, err
	}
	next, err := CheckQuota(q, epoch, prev, addReq, addValue)
	if err != nil {
		return prev, err
	}
	if err := store.Save(module, epoch, addr, next); err != nil {
		return prev, err
	}
	return next, nil
}
