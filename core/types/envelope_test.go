package types

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/crypto"
)

func TestEnvelopeSignRecover(t *testing.T) {
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	env := &Envelope{
		Kind:    CommandAccept,
		JobID:   []byte{0x01, 0x02},
		Nonce:   7,
		Payload: json.RawMessage(`{}`),
	}
	if err := env.Sign(key); err != nil {
		t.Fatalf("sign: %v", err)
	}
	from, err := env.From()
	if err != nil {
		t.Fatalf("from: %v", err)
	}
	want := crypto.PubkeyToAddress(key.PublicKey)
	if from != [20]byte(want) {
		t.Fatalf("unexpected signer %x", from)
	}
}

func TestEnvelopeTamperChangesSigner(t *testing.T) {
	key, _ := crypto.GenerateKey()
	env := &Envelope{Kind: CommandCancel, JobID: []byte{0xAA}, Nonce: 1}
	if err := env.Sign(key); err != nil {
		t.Fatalf("sign: %v", err)
	}

	// Round-trip through JSON so the cached signer is dropped.
	raw, err := json.Marshal(env)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var decoded Envelope
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	decoded.Kind = CommandExpire

	from, err := decoded.From()
	if err == nil && from == [20]byte(crypto.PubkeyToAddress(key.PublicKey)) {
		t.Fatalf("tampered envelope recovered the original signer")
	}
}

func TestEnvelopeUnsigned(t *testing.T) {
	env := &Envelope{Kind: CommandPost}
	if _, err := env.From(); !errors.Is(err, ErrUnsigned) {
		t.Fatalf("expected ErrUnsigned, got %v", err)
	}
}

func TestCommandKindString(t *testing.T) {
	if CommandCompleteMilestone.String() != "complete_milestone" {
		t.Fatalf("unexpected name %s", CommandCompleteMilestone)
	}
	if CommandKind(0x7f).String() != "unknown(127)" {
		t.Fatalf("unexpected unknown name %s", CommandKind(0x7f))
	}
}
