package state

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/holiman/uint256"
)

var (
	balancePrefix = []byte("balance:")

	// ErrInsufficientBalance is returned when a debit exceeds the account
	// balance.
	ErrInsufficientBalance = errors.New("state: insufficient balance")
	// ErrBalanceOverflow is returned when a credit would exceed 256 bits.
	ErrBalanceOverflow = errors.New("state: balance overflow")
)

func balanceKey(addr [20]byte) []byte {
	buf := make([]byte, len(balancePrefix)+len(addr))
	copy(buf, balancePrefix)
	copy(buf[len(balancePrefix):], addr[:])
	return buf
}

func toUint256(amount *big.Int) (*uint256.Int, error) {
	if amount == nil {
		return new(uint256.Int), nil
	}
	if amount.Sign() < 0 {
		return nil, fmt.Errorf("state: negative amount %s", amount)
	}
	out, overflow := uint256.FromBig(amount)
	if overflow {
		return nil, ErrBalanceOverflow
	}
	return out, nil
}

func (tx *Tx) balance(addr [20]byte) (*uint256.Int, error) {
	stored := new(uint256.Int)
	if _, err := tx.KVGet(balanceKey(addr), stored); err != nil {
		return nil, err
	}
	return stored, nil
}

// Balance returns the spendable balance of addr. Unknown accounts hold zero.
func (tx *Tx) Balance(addr [20]byte) (*big.Int, error) {
	bal, err := tx.balance(addr)
	if err != nil {
		return nil, err
	}
	return bal.ToBig(), nil
}

// SetBalance overwrites the balance of addr.
func (tx *Tx) SetBalance(addr [20]byte, amount *big.Int) error {
	value, err := toUint256(amount)
	if err != nil {
		return err
	}
	return tx.KVPut(balanceKey(addr), value)
}

// Credit adds amount to the balance of addr.
func (tx *Tx) Credit(addr [20]byte, amount *big.Int) error {
	delta, err := toUint256(amount)
	if err != nil {
		return err
	}
	if delta.IsZero() {
		return nil
	}
	bal, err := tx.balance(addr)
	if err != nil {
		return err
	}
	sum, overflow := new(uint256.Int).AddOverflow(bal, delta)
	if overflow {
		return ErrBalanceOverflow
	}
	return tx.KVPut(balanceKey(addr), sum)
}

// Debit removes amount from the balance of addr.
func (tx *Tx) Debit(addr [20]byte, amount *big.Int) error {
	delta, err := toUint256(amount)
	if err != nil {
		return err
	}
	if delta.IsZero() {
		return nil
	}
	bal, err := tx.balance(addr)
	if err != nil {
		return err
	}
	if bal.Lt(delta) {
		return fmt.Errorf("%w: have %s, need %s", ErrInsufficientBalance, bal.Dec(), delta.Dec())
	}
	return tx.KVPut(balanceKey(addr), new(uint256.Int).Sub(bal, delta))
}

// Transfer moves amount from one account to another inside the transaction.
func (tx *Tx) Transfer(from, to [20]byte, amount *big.Int) error {
	if err := tx.Debit(from, amount); err != nil {
		return err
	}
	return tx.Credit(to, amount)
}
