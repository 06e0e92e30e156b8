package escrow_test

import (
	"bytes"
	"errors"
	"math/big"
	"testing"

	"jobchain/core/events"
	"jobchain/core/state"
	escrowpkg "jobchain/native/escrow"
	"jobchain/storage"
)

func newTestManager(t *testing.T) *state.Manager {
	t.Helper()
	db := storage.NewMemDB()
	t.Cleanup(db.Close)
	return state.NewManager(db)
}

func addr(fill byte) [20]byte {
	var out [20]byte
	copy(out[:], bytes.Repeat([]byte{fill}, 20))
	return out
}

func fund(t *testing.T, mgr *state.Manager, who [20]byte, amount int64) {
	t.Helper()
	if err := mgr.Update(func(tx *state.Tx) error {
		return tx.Credit(who, big.NewInt(amount))
	}); err != nil {
		t.Fatalf("fund: %v", err)
	}
}

func balance(t *testing.T, mgr *state.Manager, who [20]byte) int64 {
	t.Helper()
	var out *big.Int
	if err := mgr.View(func(tx *state.Tx) error {
		var err error
		out, err = tx.Balance(who)
		return err
	}); err != nil {
		t.Fatalf("balance: %v", err)
	}
	return out.Int64()
}

func TestCustodianDepositReleaseSettle(t *testing.T) {
	mgr := newTestManager(t)
	employer := addr(0x01)
	freelancer := addr(0x02)
	jobID := [32]byte{0xAB}
	fund(t, mgr, employer, 1500)

	tx := mgr.Begin()
	custodian := escrowpkg.NewCustodian(tx)
	custodian.SetNowFunc(func() int64 { return 100 })
	if err := custodian.Deposit(jobID, employer, big.NewInt(1000)); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if err := custodian.Deposit(jobID, employer, big.NewInt(1)); !errors.Is(err, escrowpkg.ErrAlreadyFunded) {
		t.Fatalf("expected ErrAlreadyFunded, got %v", err)
	}
	if err := custodian.Release(jobID, big.NewInt(300), freelancer, 0); err != nil {
		t.Fatalf("release: %v", err)
	}
	if err := custodian.Release(jobID, big.NewInt(800), freelancer, 1); !errors.Is(err, escrowpkg.ErrInsufficientEscrowBalance) {
		t.Fatalf("expected ErrInsufficientEscrowBalance, got %v", err)
	}
	paid, err := custodian.Settle(jobID, freelancer)
	if err != nil {
		t.Fatalf("settle: %v", err)
	}
	if paid.Int64() != 700 {
		t.Fatalf("expected settle of 700, got %s", paid)
	}
	acc, err := custodian.Account(jobID)
	if err != nil {
		t.Fatalf("account: %v", err)
	}
	if !acc.Closed() || acc.Balance.Sign() != 0 || acc.Released.Int64() != 1000 {
		t.Fatalf("unexpected account after settle: %+v", acc)
	}
	if err := custodian.Release(jobID, big.NewInt(0), freelancer, -1); !errors.Is(err, escrowpkg.ErrAccountClosed) {
		t.Fatalf("expected ErrAccountClosed, got %v", err)
	}

	transfers := custodian.Transfers()
	if len(transfers) != 3 {
		t.Fatalf("expected 3 transfers, got %d", len(transfers))
	}
	if transfers[0].Direction != events.DirectionDeposit || transfers[1].Milestone != 0 || transfers[2].Milestone != -1 {
		t.Fatalf("unexpected transfers: %+v", transfers)
	}

	if err := tx.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if got := balance(t, mgr, employer); got != 500 {
		t.Fatalf("employer balance %d", got)
	}
	if got := balance(t, mgr, freelancer); got != 1000 {
		t.Fatalf("freelancer balance %d", got)
	}
}

func TestCustodianRefundAfterPartialRelease(t *testing.T) {
	mgr := newTestManager(t)
	employer := addr(0x01)
	freelancer := addr(0x02)
	jobID := [32]byte{0xCD}
	fund(t, mgr, employer, 1000)

	err := mgr.Update(func(tx *state.Tx) error {
		custodian := escrowpkg.NewCustodian(tx)
		if err := custodian.Deposit(jobID, employer, big.NewInt(1000)); err != nil {
			return err
		}
		if err := custodian.Release(jobID, big.NewInt(250), freelancer, 0); err != nil {
			return err
		}
		refunded, err := custodian.Refund(jobID, employer)
		if err != nil {
			return err
		}
		if refunded.Int64() != 750 {
			t.Fatalf("expected refund of 750, got %s", refunded)
		}
		if _, err := custodian.Refund(jobID, employer); !errors.Is(err, escrowpkg.ErrAccountClosed) {
			t.Fatalf("expected second refund to fail, got %v", err)
		}
		acc, err := custodian.Account(jobID)
		if err != nil {
			return err
		}
		if err := acc.Validate(); err != nil {
			t.Fatalf("conservation violated: %v", err)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if got := balance(t, mgr, employer); got != 750 {
		t.Fatalf("employer balance %d", got)
	}
	if got := balance(t, mgr, freelancer); got != 250 {
		t.Fatalf("freelancer balance %d", got)
	}
}

func TestCustodianDepositRequiresFunds(t *testing.T) {
	mgr := newTestManager(t)
	employer := addr(0x01)
	fund(t, mgr, employer, 10)

	tx := mgr.Begin()
	defer tx.Discard()
	custodian := escrowpkg.NewCustodian(tx)
	err := custodian.Deposit([32]byte{0x01}, employer, big.NewInt(11))
	if !errors.Is(err, state.ErrInsufficientBalance) {
		t.Fatalf("expected ErrInsufficientBalance, got %v", err)
	}
	if _, err := custodian.Account([32]byte{0x01}); !errors.Is(err, escrowpkg.ErrAccountNotFound) {
		t.Fatalf("expected no account, got %v", err)
	}
	if err := custodian.Deposit([32]byte{0x02}, employer, big.NewInt(0)); err == nil {
		t.Fatalf("expected zero deposit to fail")
	}
}

func TestAccountValidate(t *testing.T) {
	acc := &escrowpkg.Account{
		Deposited: big.NewInt(100),
		Released:  big.NewInt(30),
		Refunded:  big.NewInt(0),
		Balance:   big.NewInt(70),
	}
	if err := acc.Validate(); err != nil {
		t.Fatalf("valid account rejected: %v", err)
	}
	acc.Balance = big.NewInt(71)
	if err := acc.Validate(); err == nil {
		t.Fatalf("expected conservation error")
	}
	clone := acc.Clone()
	clone.Balance.SetInt64(1)
	if acc.Balance.Int64() != 71 {
		t.Fatalf("clone shares balance pointer")
	}
}
