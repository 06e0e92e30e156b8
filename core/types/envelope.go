package types

import (
	"crypto/ecdsa"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/crypto"
)

// CommandKind tags the lifecycle command carried by an envelope.
type CommandKind byte

const (
	CommandPost              CommandKind = 0x01
	CommandAccept            CommandKind = 0x02
	CommandCompleteMilestone CommandKind = 0x03
	CommandConfirmCompletion CommandKind = 0x04
	CommandDispute           CommandKind = 0x05
	CommandRate              CommandKind = 0x06
	CommandCancel            CommandKind = 0x07
	CommandExpire            CommandKind = 0x08
)

func (k CommandKind) String() string {
	switch k {
	case CommandPost:
		return "post"
	case CommandAccept:
		return "accept"
	case CommandCompleteMilestone:
		return "complete_milestone"
	case CommandConfirmCompletion:
		return "confirm_completion"
	case CommandDispute:
		return "dispute"
	case CommandRate:
		return "rate"
	case CommandCancel:
		return "cancel"
	case CommandExpire:
		return "expire"
	default:
		return fmt.Sprintf("unknown(%d)", byte(k))
	}
}

// ErrUnsigned is returned by From when the envelope carries no signature.
var ErrUnsigned = errors.New("envelope: missing signature")

// Envelope is a signed lifecycle command. The payload is the JSON encoding of
// the command named by Kind; JobID is empty for Post, where the identifier is
// derived from the signer.
type Envelope struct {
	Kind    CommandKind     `json:"kind"`
	JobID   []byte          `json:"jobId,omitempty"`
	Nonce   uint64          `json:"nonce"`
	Payload json.RawMessage `json:"payload,omitempty"`

	R *big.Int `json:"r,omitempty"`
	S *big.Int `json:"s,omitempty"`
	V *big.Int `json:"v,omitempty"`

	from []byte
}

// Hash returns the keccak256 digest that is signed by the caller.
func (env *Envelope) Hash() ([]byte, error) {
	body := struct {
		Kind    CommandKind
		JobID   []byte
		Nonce   uint64
		Payload json.RawMessage
	}{env.Kind, env.JobID, env.Nonce, env.Payload}

	b, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	return crypto.Keccak256(b), nil
}

// Sign attaches a secp256k1 signature over Hash.
func (env *Envelope) Sign(privKey *ecdsa.PrivateKey) error {
	hash, err := env.Hash()
	if err != nil {
		return err
	}
	sig, err := crypto.Sign(hash, privKey)
	if err != nil {
		return err
	}
	env.R = new(big.Int).SetBytes(sig[:32])
	env.S = new(big.Int).SetBytes(sig[32:64])
	env.V = new(big.Int).SetBytes([]byte{sig[64] + 27})
	env.from = nil
	return nil
}

// From recovers the signer address.
func (env *Envelope) From() ([20]byte, error) {
	var out [20]byte
	if env.from != nil {
		copy(out[:], env.from)
		return out, nil
	}
	if env.R == nil || env.S == nil || env.V == nil {
		return out, ErrUnsigned
	}
	if len(env.R.Bytes()) > 32 || len(env.S.Bytes()) > 32 || env.V.Uint64() < 27 {
		return out, fmt.Errorf("envelope: malformed signature")
	}
	hash, err := env.Hash()
	if err != nil {
		return out, err
	}
	sig := make([]byte, 65)
	copy(sig[32-len(env.R.Bytes()):32], env.R.Bytes())
	copy(sig[64-len(env.S.Bytes()):64], env.S.Bytes())
	sig[64] = byte(env.V.Uint64() - 27)
	pubKey, err := crypto.SigToPub(hash, sig)
	if err != nil {
		return out, fmt.Errorf("envelope: recover signer: %w", err)
	}
	env.from = crypto.PubkeyToAddress(*pubKey).Bytes()
	copy(out[:], env.from)
	return out, nil
}
