package jobs

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common/hexutil"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"jobchain/core/types"
	"jobchain/native/proof"
)

// Command is one lifecycle command. The concrete payload types below are the
// only implementations.
type Command interface {
	Kind() types.CommandKind
}

// MilestoneSpec describes a milestone requested at posting time.
type MilestoneSpec struct {
	Description   string   `json:"description"`
	PaymentAmount *big.Int `json:"paymentAmount"`
	Deadline      int64    `json:"deadline,omitempty"`
}

// PostJob creates and funds a posting. The job identifier is derived from the
// employer and Salt.
type PostJob struct {
	Salt           hexutil.Bytes   `json:"salt"`
	TotalPayment   *big.Int        `json:"totalPayment"`
	Milestones     []MilestoneSpec `json:"milestones,omitempty"`
	ExpirationTime int64           `json:"expirationTime,omitempty"`
	MetaHash       hexutil.Bytes   `json:"metaHash,omitempty"`
	Proof          *proof.Proof    `json:"proof,omitempty"`
}

// AcceptJob assigns the caller as the job's freelancer.
type AcceptJob struct {
	JobID [32]byte `json:"-"`
}

// CompleteMilestone marks one milestone done and pays it out.
type CompleteMilestone struct {
	JobID [32]byte `json:"-"`
	Index uint32   `json:"index"`
}

// ConfirmCompletion closes the job and pays the remaining escrow. When
// ExpectedTotal is set it must equal the job's total payment.
type ConfirmCompletion struct {
	JobID         [32]byte `json:"-"`
	ExpectedTotal *big.Int `json:"expectedTotal,omitempty"`
}

// DisputeJob freezes the job.
type DisputeJob struct {
	JobID  [32]byte `json:"-"`
	Reason string   `json:"reason,omitempty"`
}

// CancelJob refunds the remaining escrow to the employer.
type CancelJob struct {
	JobID [32]byte `json:"-"`
}

// ExpireJob cancels a posting nobody accepted before its expiration.
type ExpireJob struct {
	JobID [32]byte `json:"-"`
}

// RateJob records the employer's rating of the freelancer.
type RateJob struct {
	JobID    [32]byte `json:"-"`
	Rating   uint8    `json:"rating"`
	Feedback string   `json:"feedback,omitempty"`
}

func (PostJob) Kind() types.CommandKind           { return types.CommandPost }
func (AcceptJob) Kind() types.CommandKind         { return types.CommandAccept }
func (CompleteMilestone) Kind() types.CommandKind { return types.CommandCompleteMilestone }
func (ConfirmCompletion) Kind() types.CommandKind { return types.CommandConfirmCompletion }
func (DisputeJob) Kind() types.CommandKind        { return types.CommandDispute }
func (CancelJob) Kind() types.CommandKind         { return types.CommandCancel }
func (ExpireJob) Kind() types.CommandKind         { return types.CommandExpire }
func (RateJob) Kind() types.CommandKind           { return types.CommandRate }

// DeriveJobID returns keccak256(employer || salt).
func DeriveJobID(employer [20]byte, salt []byte) [32]byte {
	var id [32]byte
	copy(id[:], ethcrypto.Keccak256(employer[:], salt))
	return id
}

// DecodeCommand decodes the envelope payload into the command named by its
// kind. Unknown kinds and malformed payloads yield ErrOutOfRange.
func DecodeCommand(env *types.Envelope) (Command, error) {
	if env == nil {
		return nil, fmt.Errorf("%w: envelope missing", ErrOutOfRange)
	}
	var jobID [32]byte
	if env.Kind != types.CommandPost {
		if len(env.JobID) != 32 {
			return nil, fmt.Errorf("%w: job id must be 32 bytes, got %d", ErrOutOfRange, len(env.JobID))
		}
		copy(jobID[:], env.JobID)
	}
	switch env.Kind {
	case types.CommandPost:
		return decodeInto(env.Payload, PostJob{})
	case types.CommandAccept:
		return decodeInto(env.Payload, AcceptJob{JobID: jobID})
	case types.CommandCompleteMilestone:
		return decodeInto(env.Payload, CompleteMilestone{JobID: jobID})
	case types.CommandConfirmCompletion:
		return decodeInto(env.Payload, ConfirmCompletion{JobID: jobID})
	case types.CommandDispute:
		return decodeInto(env.Payload, DisputeJob{JobID: jobID})
	case types.CommandCancel:
		return decodeInto(env.Payload, CancelJob{JobID: jobID})
	case types.CommandExpire:
		return decodeInto(env.Payload, ExpireJob{JobID: jobID})
	case types.CommandRate:
		return decodeInto(env.Payload, RateJob{JobID: jobID})
	default:
		return nil, fmt.Errorf("%w: unknown command kind %s", ErrOutOfRange, env.Kind)
	}
}

// EncodeCommand builds an unsigned envelope carrying cmd.
func EncodeCommand(cmd Command, nonce uint64) (*types.Envelope, error) {
	if cmd == nil {
		return nil, fmt.Errorf("%w: command missing", ErrOutOfRange)
	}
	payload, err := json.Marshal(cmd)
	if err != nil {
		return nil, err
	}
	env := &types.Envelope{Kind: cmd.Kind(), Nonce: nonce, Payload: payload}
	if id, ok := commandJobID(cmd); ok {
		env.JobID = append([]byte(nil), id[:]...)
	}
	return env, nil
}

func commandJobID(cmd Command) ([32]byte, bool) {
	switch c := cmd.(type) {
	case AcceptJob:
		return c.JobID, true
	case CompleteMilestone:
		return c.JobID, true
	case ConfirmCompletion:
		return c.JobID, true
	case DisputeJob:
		return c.JobID, true
	case CancelJob:
		return c.JobID, true
	case ExpireJob:
		return c.JobID, true
	case RateJob:
		return c.JobID, true
	default:
		return [32]byte{}, false
	}
}

func decodeInto[T Command](raw json.RawMessage, cmd T) (Command, error) {
	if err := decodePayload(raw, &cmd); err != nil {
		return nil, err
	}
	return cmd, nil
}

func decodePayload(raw json.RawMessage, out interface{}) error {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(trimmed))
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		return fmt.Errorf("%w: malformed payload: %v", ErrOutOfRange, err)
	}
	return nil
}
