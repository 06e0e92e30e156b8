// Package proof defines the verification hook consulted before a job posting
// that carries a zero-knowledge proof is admitted. The cryptography behind a
// verifier is not implemented here; the engine only depends on Verifier.
package proof

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/rlp"
	"lukechampine.com/blake3"
)

// ErrMalformed marks a proof with a missing component.
var ErrMalformed = errors.New("proof: malformed")

// Proof is a Groth16-shaped proof: two group elements A and C, one element B,
// and the public inputs the proof commits to. The byte encodings are opaque
// to this package.
type Proof struct {
	A            []byte   `json:"a"`
	B            []byte   `json:"b"`
	C            []byte   `json:"c"`
	PublicInputs [][]byte `json:"publicInputs,omitempty"`
}

// Bytes returns the canonical RLP encoding handed to remote verifiers.
func (p *Proof) Bytes() ([]byte, error) {
	if p == nil {
		return nil, ErrMalformed
	}
	return rlp.EncodeToBytes(p)
}

// Decode parses the canonical encoding produced by Bytes.
func Decode(data []byte) (*Proof, error) {
	p := new(Proof)
	if err := rlp.DecodeBytes(data, p); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return p, nil
}

// CheckComponents rejects proofs with an empty A, B or C component.
func CheckComponents(p *Proof) error {
	if p == nil {
		return fmt.Errorf("%w: proof missing", ErrMalformed)
	}
	switch {
	case len(p.A) == 0:
		return fmt.Errorf("%w: component a empty", ErrMalformed)
	case len(p.B) == 0:
		return fmt.Errorf("%w: component b empty", ErrMalformed)
	case len(p.C) == 0:
		return fmt.Errorf("%w: component c empty", ErrMalformed)
	}
	return nil
}

// Verifier decides whether a well-formed proof is valid.
type Verifier interface {
	Verify(p *Proof) bool
}

// VerifierFunc adapts a function to the Verifier interface.
type VerifierFunc func(p *Proof) bool

// Verify implements Verifier.
func (f VerifierFunc) Verify(p *Proof) bool { return f(p) }

// RejectAll refuses every proof. It is used when proof-gated posting is
// disabled.
var RejectAll Verifier = VerifierFunc(func(*Proof) bool { return false })

// DigestVerifier is a development verifier: it accepts a proof when C is the
// blake3 digest of the length-delimited A, B and public inputs. It checks
// internal consistency only and proves nothing about a statement.
type DigestVerifier struct{}

// Verify implements Verifier.
func (DigestVerifier) Verify(p *Proof) bool {
	if CheckComponents(p) != nil {
		return false
	}
	expected := Digest(p.A, p.B, p.PublicInputs)
	return bytes.Equal(p.C, expected[:])
}

// Digest computes the commitment checked by DigestVerifier.
func Digest(a, b []byte, inputs [][]byte) [32]byte {
	buf := bytes.NewBuffer(nil)
	writeDelimited(buf, a)
	writeDelimited(buf, b)
	_ = binary.Write(buf, binary.BigEndian, uint32(len(inputs)))
	for _, input := range inputs {
		writeDelimited(buf, input)
	}
	return blake3.Sum256(buf.Bytes())
}

func writeDelimited(buf *bytes.Buffer, data []byte) {
	_ = binary.Write(buf, binary.BigEndian, uint32(len(data)))
	buf.Write(data)
}

// New returns the verifier named by the configuration value.
func New(name string) (Verifier, error) {
	switch name {
	case "", "none":
		return RejectAll, nil
	case "digest":
		return DigestVerifier{}, nil
	default:
		return nil, fmt.Errorf("proof: unknown verifier %q", name)
	}
}
