package jobs

import (
	"context"
	"errors"

	"jobchain/native/common"
)

var (
	// ErrUnauthorized marks a caller that may not perform the action.
	ErrUnauthorized = errors.New("jobs: unauthorized")
	// ErrInvalidState marks a transition that is not legal from the current
	// status.
	ErrInvalidState = errors.New("jobs: invalid state")
	// ErrNotFound marks an unknown job or milestone index.
	ErrNotFound = errors.New("jobs: not found")
	// ErrAlreadySet marks a write-once value that was already assigned.
	ErrAlreadySet = errors.New("jobs: already set")
	// ErrInsufficientFunds marks a caller balance below the required amount.
	ErrInsufficientFunds = errors.New("jobs: insufficient funds")
	// ErrDeadlineExceeded marks an action attempted after its deadline.
	ErrDeadlineExceeded = errors.New("jobs: deadline exceeded")
	// ErrOutOfRange marks a malformed payload or a value outside its bounds.
	ErrOutOfRange = errors.New("jobs: out of range")
	// ErrProofRejected marks a malformed proof or one the verifier refused.
	ErrProofRejected = errors.New("jobs: proof rejected")
	// ErrConcurrentModification marks a command that lost a commit race.
	ErrConcurrentModification = errors.New("jobs: concurrent modification")
	// ErrQuotaExceeded marks a poster above its per-epoch posting quota.
	ErrQuotaExceeded = errors.New("jobs: quota exceeded")
	// ErrInternal marks a broken ledger invariant. The command is discarded.
	ErrInternal = errors.New("jobs: internal error")

	ErrModulePaused = common.ErrModulePaused
)

var errorKinds = []struct {
	err  error
	kind string
}{
	{ErrUnauthorized, "unauthorized"},
	{ErrInvalidState, "invalid_state"},
	{ErrNotFound, "not_found"},
	{ErrAlreadySet, "already_set"},
	{ErrInsufficientFunds, "insufficient_funds"},
	{ErrDeadlineExceeded, "deadline_exceeded"},
	{ErrOutOfRange, "out_of_range"},
	{ErrProofRejected, "proof_rejected"},
	{ErrConcurrentModification, "concurrent_modification"},
	{ErrQuotaExceeded, "quota_exceeded"},
	{ErrModulePaused, "module_paused"},
	{ErrInternal, "internal"},
	{context.Canceled, "canceled"},
	{context.DeadlineExceeded, "canceled"},
}

// KindOf returns the stable name of the error's kind: "" for nil and
// "internal" for errors outside the taxonomy.
func KindOf(err error) string {
	if err == nil {
		return ""
	}
	for _, candidate := range errorKinds {
		if errors.Is(err, candidate.err) {
			return candidate.kind
		}
	}
	return "internal"
}

// IsRetryable reports whether resubmitting the same command may succeed
// without any change to the job: after topping up funds or after losing a
// commit race.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrInsufficientFunds) || errors.Is(err, ErrConcurrentModification)
}
