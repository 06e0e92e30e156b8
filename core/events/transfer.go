package events

import (
	"encoding/hex"
	"math/big"

	"jobchain/core/types"
	"jobchain/crypto"
)

const (
	// TypeEscrowTransfer is emitted for every movement of custodied value.
	TypeEscrowTransfer = "escrow.transfer"
)

// Escrow transfer directions.
const (
	DirectionDeposit = "deposit"
	DirectionRelease = "release"
	DirectionRefund  = "refund"
)

// EscrowTransfer records value moving into or out of a job's escrow account.
type EscrowTransfer struct {
	JobID     [32]byte
	Direction string
	// Party is the depositor for deposits and the payee otherwise.
	Party  [20]byte
	Amount *big.Int
	// Milestone is the index of the released milestone, or -1 when the
	// transfer is not tied to one.
	Milestone int
}

func (EscrowTransfer) EventType() string { return TypeEscrowTransfer }

func (e EscrowTransfer) Event() *types.Event {
	evt := types.NewEvent(TypeEscrowTransfer)
	evt.Attributes["jobId"] = hex.EncodeToString(e.JobID[:])
	evt.Attributes["direction"] = e.Direction
	evt.Attributes["party"] = crypto.FromRaw(e.Party).String()
	evt.Attributes["amount"] = formatAmount(e.Amount)
	if e.Milestone >= 0 {
		evt.Attributes["milestone"] = big.NewInt(int64(e.Milestone)).String()
	}
	return evt
}

func formatAmount(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}
