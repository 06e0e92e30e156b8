package main

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/common/hexutil"

	"jobchain/config"
	"jobchain/native/jobs"
	"jobchain/native/proof"
)

// submit signs cmd with the named key, applies it and prints the result.
func (c *cli) submit(keyRef string, cmd jobs.Command) int {
	ctx := context.Background()
	n, err := c.openNode(ctx)
	if err != nil {
		return c.failErr(err)
	}
	defer n.Close()

	key, err := loadKey(n.cfg, keyRef)
	if err != nil {
		return c.failErr(err)
	}
	signer := key.PubKey().Address().Raw()
	nonce, err := n.engine.NextNonce(signer)
	if err != nil {
		return c.failErr(err)
	}
	env, err := jobs.EncodeCommand(cmd, nonce)
	if err != nil {
		return c.failErr(err)
	}
	if err := env.Sign(key.PrivateKey); err != nil {
		return c.failErr(err)
	}
	res, err := n.engine.Apply(ctx, env)
	if err != nil {
		return c.commandFailed(err)
	}
	return c.printJSON(newResultView(res))
}

func (c *cli) commandFailed(err error) int {
	hint := ""
	if jobs.IsRetryable(err) {
		hint = ", retryable"
	}
	fmt.Fprintf(c.stderr, "Error: %v (kind=%s%s)\n", err, jobs.KindOf(err), hint)
	return 1
}

func (c *cli) runPost(args []string) int {
	flags := c.flagSet("post")
	var milestones milestoneFlag
	keyRef := flags.String("key", "", "employer key name or keystore file")
	salt := flags.String("salt", "", "hex salt the job id is derived from (random when empty)")
	total := flags.String("total", "", "total payment in base units (supports 25e18 shorthand)")
	expires := flags.String("expires", "", "expiration as +duration, RFC3339 or unix seconds")
	meta := flags.String("meta", "", "optional 32-byte hex metadata hash")
	proofPath := flags.String("proof", "", "optional JSON or RLP proof file")
	flags.Var(&milestones, "milestone", "milestone as amount[@deadline]:description (repeatable)")
	if err := flags.Parse(args); err != nil {
		return 1
	}
	if strings.TrimSpace(*total) == "" {
		return c.fail("--total is required")
	}
	totalPayment, err := parseAmount(*total)
	if err != nil {
		return c.failErr(err)
	}
	cmd := jobs.PostJob{TotalPayment: totalPayment, Milestones: milestones.specs}
	if strings.TrimSpace(*salt) == "" {
		cmd.Salt = make([]byte, 16)
		if _, err := rand.Read(cmd.Salt); err != nil {
			return c.failErr(err)
		}
	} else if cmd.Salt, err = parseHex(*salt); err != nil {
		return c.failErr(err)
	}
	if cmd.ExpirationTime, err = parseTimestamp(*expires, cliNow()); err != nil {
		return c.failErr(err)
	}
	if strings.TrimSpace(*meta) != "" {
		if cmd.MetaHash, err = parseHex(*meta); err != nil {
			return c.failErr(err)
		}
	}
	if strings.TrimSpace(*proofPath) != "" {
		if cmd.Proof, err = readProof(*proofPath); err != nil {
			return c.failErr(err)
		}
	}
	return c.submit(*keyRef, cmd)
}

// readProof loads a proof file holding either JSON or the canonical RLP
// encoding. RLP lists never start with '{'.
func readProof(path string) (*proof.Proof, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '{' {
		p := new(proof.Proof)
		if err := json.Unmarshal(trimmed, p); err != nil {
			return nil, fmt.Errorf("decode proof: %w", err)
		}
		return p, nil
	}
	return proof.Decode(data)
}

// runProof checks a proof file against the configured verifier without
// posting anything and prints its canonical encoding.
func (c *cli) runProof(args []string) int {
	flags := c.flagSet("proof")
	path := flags.String("file", "", "JSON or RLP proof file")
	out := flags.String("out", "", "optional path receiving the canonical RLP encoding")
	if err := flags.Parse(args); err != nil {
		return 1
	}
	if strings.TrimSpace(*path) == "" {
		return c.fail("--file is required")
	}
	cfg, err := config.Load(c.configPath)
	if err != nil {
		return c.failErr(err)
	}
	verifier, err := proof.New(cfg.Proof.Verifier)
	if err != nil {
		return c.failErr(err)
	}
	p, err := readProof(*path)
	if err != nil {
		return c.failErr(err)
	}
	encoded, err := p.Bytes()
	if err != nil {
		return c.failErr(err)
	}
	if strings.TrimSpace(*out) != "" {
		if err := os.WriteFile(*out, encoded, 0o644); err != nil {
			return c.failErr(err)
		}
	}
	view := proofView{
		Verifier: cfg.Proof.Verifier,
		Encoded:  hexutil.Encode(encoded),
	}
	if err := proof.CheckComponents(p); err != nil {
		view.Error = err.Error()
	} else {
		view.WellFormed = true
		view.Accepted = verifier.Verify(p)
	}
	return c.printJSON(view)
}

// jobFlags parses the --key and --id flags shared by most lifecycle commands
// plus any extra flags registered by register.
func (c *cli) jobFlags(name string, args []string, register func(*flag.FlagSet)) (string, [32]byte, bool) {
	flags := c.flagSet(name)
	keyRef := flags.String("key", "", "signing key name or keystore file")
	idStr := flags.String("id", "", "hex job id")
	if register != nil {
		register(flags)
	}
	if err := flags.Parse(args); err != nil {
		return "", [32]byte{}, false
	}
	id, err := parseJobID(*idStr)
	if err != nil {
		c.failErr(err)
		return "", [32]byte{}, false
	}
	return *keyRef, id, true
}

func (c *cli) runAccept(args []string) int {
	keyRef, id, ok := c.jobFlags("accept", args, nil)
	if !ok {
		return 1
	}
	return c.submit(keyRef, jobs.AcceptJob{JobID: id})
}

func (c *cli) runComplete(args []string) int {
	var index uint
	keyRef, id, ok := c.jobFlags("complete", args, func(flags *flag.FlagSet) {
		flags.UintVar(&index, "index", 0, "milestone index")
	})
	if !ok {
		return 1
	}
	if uint64(index) > uint64(^uint32(0)) {
		return c.fail("--index out of range")
	}
	return c.submit(keyRef, jobs.CompleteMilestone{JobID: id, Index: uint32(index)})
}

func (c *cli) runConfirm(args []string) int {
	var expected string
	keyRef, id, ok := c.jobFlags("confirm", args, func(flags *flag.FlagSet) {
		flags.StringVar(&expected, "expected-total", "", "abort unless the job's total payment equals this amount")
	})
	if !ok {
		return 1
	}
	cmd := jobs.ConfirmCompletion{JobID: id}
	if strings.TrimSpace(expected) != "" {
		amount, err := parseAmount(expected)
		if err != nil {
			return c.failErr(err)
		}
		cmd.ExpectedTotal = amount
	}
	return c.submit(keyRef, cmd)
}

func (c *cli) runDispute(args []string) int {
	var reason string
	keyRef, id, ok := c.jobFlags("dispute", args, func(flags *flag.FlagSet) {
		flags.StringVar(&reason, "reason", "", "reason recorded with the dispute")
	})
	if !ok {
		return 1
	}
	return c.submit(keyRef, jobs.DisputeJob{JobID: id, Reason: reason})
}

func (c *cli) runCancel(args []string) int {
	keyRef, id, ok := c.jobFlags("cancel", args, nil)
	if !ok {
		return 1
	}
	return c.submit(keyRef, jobs.CancelJob{JobID: id})
}

func (c *cli) runExpire(args []string) int {
	keyRef, id, ok := c.jobFlags("expire", args, nil)
	if !ok {
		return 1
	}
	return c.submit(keyRef, jobs.ExpireJob{JobID: id})
}

func (c *cli) runRate(args []string) int {
	var (
		rating   uint
		feedback string
	)
	keyRef, id, ok := c.jobFlags("rate", args, func(flags *flag.FlagSet) {
		flags.UintVar(&rating, "rating", 0, "rating between 1 and 5")
		flags.StringVar(&feedback, "feedback", "", "optional feedback")
	})
	if !ok {
		return 1
	}
	if rating > 255 {
		return c.fail("--rating out of range")
	}
	return c.submit(keyRef, jobs.RateJob{JobID: id, Rating: uint8(rating), Feedback: feedback})
}
