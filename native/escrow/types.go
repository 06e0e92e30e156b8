package escrow

import (
	"fmt"
	"math/big"
)

// Account is the custody balance held for a single job. The identifier is the
// job identifier; there is exactly one account per job.
type Account struct {
	JobID     [32]byte
	Depositor [20]byte
	Deposited *big.Int
	Released  *big.Int
	Refunded  *big.Int
	Balance   *big.Int
	Open      bool
	FundedAt  uint64
	ClosedAt  uint64
}

// Clone returns a deep copy of the account so callers can safely mutate the
// copy without affecting the stored instance.
func (a *Account) Clone() *Account {
	if a == nil {
		return nil
	}
	clone := *a
	clone.Deposited = cloneBigInt(a.Deposited)
	clone.Released = cloneBigInt(a.Released)
	clone.Refunded = cloneBigInt(a.Refunded)
	clone.Balance = cloneBigInt(a.Balance)
	return &clone
}

// Closed reports whether the account has been emptied by a final release or a
// refund.
func (a *Account) Closed() bool {
	return a != nil && !a.Open
}

// Validate checks the conservation invariant
// Balance = Deposited - Released - Refunded with no negative component.
func (a *Account) Validate() error {
	if a == nil {
		return fmt.Errorf("escrow: nil account")
	}
	for name, v := range map[string]*big.Int{
		"deposited": a.Deposited,
		"released":  a.Released,
		"refunded":  a.Refunded,
		"balance":   a.Balance,
	} {
		if v == nil || v.Sign() < 0 {
			return fmt.Errorf("escrow: %s must be non-negative", name)
		}
	}
	expected := new(big.Int).Sub(a.Deposited, a.Released)
	expected.Sub(expected, a.Refunded)
	if expected.Cmp(a.Balance) != 0 {
		return fmt.Errorf("escrow: balance %s does not match deposited-released-refunded %s", a.Balance, expected)
	}
	return nil
}

func cloneBigInt(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}
