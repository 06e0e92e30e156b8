package escrow

import (
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"time"

	"jobchain/core/events"
)

var (
	errNilState = errors.New("escrow custodian: state not configured")

	// ErrAccountNotFound is returned when no deposit exists for the job.
	ErrAccountNotFound = errors.New("escrow: account not found")
	// ErrAlreadyFunded is returned when a job is deposited twice.
	ErrAlreadyFunded = errors.New("escrow: account already funded")
	// ErrAccountClosed is returned when value is moved out of a settled or
	// refunded account.
	ErrAccountClosed = errors.New("escrow: account closed")
	// ErrInsufficientEscrowBalance marks a release or refund larger than the
	// custodied balance. Callers guard against it; seeing it means a caller
	// computed a wrong amount.
	ErrInsufficientEscrowBalance = errors.New("escrow: insufficient escrow balance")
)

// vaultState is the slice of the ledger substrate the custodian needs: keyed
// storage for the account records and balance movement for the parties.
type vaultState interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
	Credit(addr [20]byte, amount *big.Int) error
	Debit(addr [20]byte, amount *big.Int) error
}

var accountPrefix = []byte("escrow/account/")

func accountKey(id [32]byte) []byte {
	return []byte(fmt.Sprintf("%s%x", accountPrefix, id))
}

// Custodian holds deposited value per job and moves it out only through
// Release and Refund. A custodian is bound to one state transaction; the
// transfers it performs become visible only when that transaction commits.
type Custodian struct {
	state     vaultState
	nowFn     func() int64
	transfers []events.EscrowTransfer
}

// NewCustodian binds a custodian to the supplied state.
func NewCustodian(state vaultState) *Custodian {
	return &Custodian{
		state: state,
		nowFn: func() int64 { return time.Now().Unix() },
	}
}

// SetNowFunc overrides the time source used for bookkeeping timestamps.
func (c *Custodian) SetNowFunc(now func() int64) {
	if now == nil {
		c.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	c.nowFn = now
}

func (c *Custodian) now() int64 {
	if c == nil || c.nowFn == nil {
		return time.Now().Unix()
	}
	return c.nowFn()
}

// stamp returns the current time as stored in records. Records keep unsigned
// timestamps because RLP has no signed integers.
func (c *Custodian) stamp() uint64 {
	now := c.now()
	if now < 0 {
		return 0
	}
	return uint64(now)
}

// Account returns a copy of the custody account for the job.
func (c *Custodian) Account(jobID [32]byte) (*Account, error) {
	if c == nil || c.state == nil {
		return nil, errNilState
	}
	acc := new(Account)
	ok, err := c.state.KVGet(accountKey(jobID), acc)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrAccountNotFound
	}
	return acc.Clone(), nil
}

func (c *Custodian) store(acc *Account) error {
	if err := acc.Validate(); err != nil {
		return err
	}
	return c.state.KVPut(accountKey(acc.JobID), acc)
}

// Deposit moves amount from the depositor's balance into custody for the job.
// A job is funded exactly once.
func (c *Custodian) Deposit(jobID [32]byte, from [20]byte, amount *big.Int) error {
	if c == nil || c.state == nil {
		return errNilState
	}
	amt := cloneBigInt(amount)
	if amt.Sign() <= 0 {
		return fmt.Errorf("escrow: deposit must be positive")
	}
	exists, err := c.state.KVGet(accountKey(jobID), nil)
	if err != nil {
		return err
	}
	if exists {
		return fmt.Errorf("%w: job %s", ErrAlreadyFunded, hex.EncodeToString(jobID[:]))
	}
	if err := c.state.Debit(from, amt); err != nil {
		return err
	}
	acc := &Account{
		JobID:     jobID,
		Depositor: from,
		Deposited: amt,
		Released:  big.NewInt(0),
		Refunded:  big.NewInt(0),
		Balance:   cloneBigInt(amt),
		Open:      true,
		FundedAt:  c.stamp(),
	}
	if err := c.store(acc); err != nil {
		return err
	}
	c.record(jobID, events.DirectionDeposit, from, amt, -1)
	return nil
}

// Release pays amount from the job's custody to payee. milestone is the index
// of the milestone being paid, or -1 for a final settlement. The account stays
// open even when the balance reaches zero; only Settle and Refund close it.
func (c *Custodian) Release(jobID [32]byte, amount *big.Int, payee [20]byte, milestone int) error {
	acc, err := c.Account(jobID)
	if err != nil {
		return err
	}
	return c.release(acc, amount, payee, milestone)
}

func (c *Custodian) release(acc *Account, amount *big.Int, payee [20]byte, milestone int) error {
	if acc.Closed() {
		return ErrAccountClosed
	}
	amt := cloneBigInt(amount)
	if amt.Sign() < 0 {
		return fmt.Errorf("escrow: release must be non-negative")
	}
	if amt.Cmp(acc.Balance) > 0 {
		return fmt.Errorf("%w: release %s exceeds balance %s", ErrInsufficientEscrowBalance, amt, acc.Balance)
	}
	if err := c.state.Credit(payee, amt); err != nil {
		return err
	}
	acc.Released.Add(acc.Released, amt)
	acc.Balance.Sub(acc.Balance, amt)
	if err := c.store(acc); err != nil {
		return err
	}
	if amt.Sign() > 0 {
		c.record(acc.JobID, events.DirectionRelease, payee, amt, milestone)
	}
	return nil
}

// Settle releases whatever remains in custody to payee and closes the
// account. It returns the amount paid.
func (c *Custodian) Settle(jobID [32]byte, payee [20]byte) (*big.Int, error) {
	acc, err := c.Account(jobID)
	if err != nil {
		return nil, err
	}
	if acc.Closed() {
		return nil, ErrAccountClosed
	}
	remaining := cloneBigInt(acc.Balance)
	if err := c.release(acc, remaining, payee, -1); err != nil {
		return nil, err
	}
	acc.Open = false
	acc.ClosedAt = c.stamp()
	if err := c.store(acc); err != nil {
		return nil, err
	}
	return remaining, nil
}

// Refund returns the remaining custodied balance to payee and closes the
// account. It returns the amount refunded.
func (c *Custodian) Refund(jobID [32]byte, payee [20]byte) (*big.Int, error) {
	acc, err := c.Account(jobID)
	if err != nil {
		return nil, err
	}
	if acc.Closed() {
		return nil, ErrAccountClosed
	}
	amt := cloneBigInt(acc.Balance)
	if err := c.state.Credit(payee, amt); err != nil {
		return nil, err
	}
	acc.Refunded.Add(acc.Refunded, amt)
	acc.Balance.SetInt64(0)
	acc.Open = false
	acc.ClosedAt = c.stamp()
	if err := c.store(acc); err != nil {
		return nil, err
	}
	if amt.Sign() > 0 {
		c.record(jobID, events.DirectionRefund, payee, amt, -1)
	}
	return amt, nil
}

func (c *Custodian) record(jobID [32]byte, direction string, party [20]byte, amount *big.Int, milestone int) {
	c.transfers = append(c.transfers, events.EscrowTransfer{
		JobID:     jobID,
		Direction: direction,
		Party:     party,
		Amount:    cloneBigInt(amount),
		Milestone: milestone,
	})
}

// Transfers returns the value movements performed through this custodian in
// order. They describe uncommitted work until the owning transaction commits.
func (c *Custodian) Transfers() []events.EscrowTransfer {
	out := make([]events.EscrowTransfer, len(c.transfers))
	copy(out, c.transfers)
	return out
}
