package common

import (
	"errors"
	"math"
	"testing"
)

func TestCheckQuotaRequestLimit(t *testing.T) {
	q := Quota{MaxRequestsPerEpoch: 3}
	prev := QuotaNow{EpochID: 1}

	next, err := CheckQuota(q, 1, prev, 3, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if next.ReqCount != 3 {
		t.Fatalf("unexpected request count: %d", next.ReqCount)
	}

	denied, err := CheckQuota(q, 1, next, 1, 0)
	if !errors.Is(err, ErrQuotaRequestsExceeded) {
		t.Fatalf("expected ErrQuotaRequestsExceeded, got %v", err)
	}
	if denied != next {
		t.Fatalf("expected counters to remain unchanged on denial")
	}

	rollover, err := CheckQuota(q, 2, next, 1, 0)
	if err != nil {
		t.Fatalf("unexpected error after epoch rollover: %v", err)
	}
	if rollover.EpochID != 2 || rollover.ReqCount != 1 {
		t.Fatalf("unexpected state after rollover: %+v", rollover)
	}
}

func TestCheckQuotaValueCap(t *testing.T) {
	q := Quota{MaxValuePerEpoch: 1000}
	next, err := CheckQuota(q, 5, QuotaNow{EpochID: 5}, 1, 1000)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := CheckQuota(q, 5, next, 1, 1); !errors.Is(err, ErrQuotaValueCapExceeded) {
		t.Fatalf("expected ErrQuotaValueCapExceeded, got %v", err)
	}
	if _, err := CheckQuota(Quota{}, 5, QuotaNow{EpochID: 5, ValueUsed: math.MaxUint64}, 0, 1); !errors.Is(err, ErrQuotaCounterOverflow) {
		t.Fatalf("expected ErrQuotaCounterOverflow, got %v", err)
	}
}

func TestQuotaEpochAt(t *testing.T) {
	q := Quota{EpochSeconds: 3600}
	if got := q.EpochAt(7200); got != 2 {
		t.Fatalf("expected epoch 2, got %d", got)
	}
	if got := (Quota{}).EpochAt(7200); got != 0 {
		t.Fatalf("expected epoch 0 without epoch length, got %d", got)
	}
	if (Quota{}).Enabled() {
		t.Fatalf("empty quota must be disabled")
	}
}

func TestGuard(t *testing.T) {
	if err := Guard(nil, "jobs"); err != nil {
		t.Fatalf("nil view must not block: %v", err)
	}
	pauses := StaticPauses{"jobs": true}
	if err := Guard(pauses, "jobs"); !errors.Is(err, ErrModulePaused) {
		t.Fatalf("expected ErrModulePaused, got %v", err)
	}
	if err := Guard(pauses, "reputation"); err != nil {
		t.Fatalf("unexpected pause: %v", err)
	}
}
