package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"jobchain/config"
	"jobchain/native/proof"
)

func newTestConfig(t *testing.T, backend string) string {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Default()
	cfg.DataDir = dir
	cfg.Storage.Backend = backend
	path := filepath.Join(dir, "jobd.toml")
	if err := config.Save(path, cfg); err != nil {
		t.Fatalf("save config: %v", err)
	}
	t.Setenv(passphraseEnv, "test passphrase")
	return path
}

func runCLI(t *testing.T, cfgPath string, args ...string) (string, string, int) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	code := run(append([]string{"--config", cfgPath}, args...), &stdout, &stderr)
	return stdout.String(), stderr.String(), code
}

func mustRun(t *testing.T, cfgPath string, args ...string) string {
	t.Helper()
	stdout, stderr, code := runCLI(t, cfgPath, args...)
	if code != 0 {
		t.Fatalf("%s exited %d: %s", args[0], code, stderr)
	}
	return stdout
}

type jobOutput struct {
	ID         string `json:"id"`
	Status     string `json:"status"`
	Freelancer string `json:"freelancer"`
	Version    uint64 `json:"version"`
}

type commandOutput struct {
	RequestID string         `json:"requestId"`
	Kind      string         `json:"kind"`
	Job       *jobOutput     `json:"job"`
	Transfers []transferView `json:"transfers"`
	Rating    *ratingView    `json:"rating"`
}

func decode[T any](t *testing.T, raw string) T {
	t.Helper()
	var out T
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		t.Fatalf("decode %q: %v", raw, err)
	}
	return out
}

func TestUsage(t *testing.T) {
	var stdout, stderr bytes.Buffer
	if code := run(nil, &stdout, &stderr); code != 1 {
		t.Fatalf("expected exit 1, got %d", code)
	}
	if !strings.Contains(stderr.String(), "Usage:") {
		t.Fatalf("expected usage, got %q", stderr.String())
	}
	stderr.Reset()
	if code := run([]string{"frobnicate"}, &stdout, &stderr); code != 1 {
		t.Fatalf("expected exit 1, got %d", code)
	}
	if !strings.Contains(stderr.String(), "Unknown command: frobnicate") {
		t.Fatalf("unexpected stderr %q", stderr.String())
	}
}

func TestJobLifecycleThroughCLI(t *testing.T) {
	for _, backend := range []string{config.BackendLevelDB, config.BackendBolt} {
		t.Run(backend, func(t *testing.T) {
			cfgPath := newTestConfig(t, backend)

			alice := decode[map[string]string](t, mustRun(t, cfgPath, "keygen", "--name", "alice", "--light"))
			bob := decode[map[string]string](t, mustRun(t, cfgPath, "keygen", "--name", "bob", "--light"))
			if alice["address"] == "" || alice["address"] == bob["address"] {
				t.Fatalf("unexpected addresses %v %v", alice, bob)
			}
			if got := strings.TrimSpace(mustRun(t, cfgPath, "address", "--key", "bob")); got != bob["address"] {
				t.Fatalf("address mismatch: %s vs %s", got, bob["address"])
			}

			credited := decode[map[string]string](t, mustRun(t, cfgPath, "credit", "--to", "alice", "--amount", "1000"))
			if credited["balance"] != "1000" {
				t.Fatalf("unexpected credit output %v", credited)
			}

			posted := decode[commandOutput](t, mustRun(t, cfgPath, "post",
				"--key", "alice",
				"--salt", "0x01",
				"--total", "100",
				"--milestone", "40:Design",
				"--milestone", "60:Build",
			))
			if posted.Job == nil || posted.Job.Status != "posted" || posted.RequestID == "" {
				t.Fatalf("unexpected post output %+v", posted)
			}
			id := posted.Job.ID
			if len(posted.Transfers) != 1 || posted.Transfers[0].Direction != "deposit" || posted.Transfers[0].Amount != "100" {
				t.Fatalf("unexpected deposit %+v", posted.Transfers)
			}

			accepted := decode[commandOutput](t, mustRun(t, cfgPath, "accept", "--key", "bob", "--id", id))
			if accepted.Job.Status != "accepted" || accepted.Job.Freelancer != bob["address"] {
				t.Fatalf("unexpected accept output %+v", accepted.Job)
			}

			completed := decode[commandOutput](t, mustRun(t, cfgPath, "complete", "--key", "alice", "--id", id, "--index", "0"))
			if completed.Job.Status != "in_progress" {
				t.Fatalf("expected in_progress, got %s", completed.Job.Status)
			}
			if len(completed.Transfers) != 1 || completed.Transfers[0].Amount != "40" {
				t.Fatalf("unexpected release %+v", completed.Transfers)
			}

			completed = decode[commandOutput](t, mustRun(t, cfgPath, "complete", "--key", "alice", "--id", id, "--index", "1"))
			if len(completed.Transfers) != 1 || completed.Transfers[0].Amount != "60" {
				t.Fatalf("unexpected second release %+v", completed.Transfers)
			}
			if acc := decode[accountView](t, mustRun(t, cfgPath, "escrow", "--id", id)); acc.Balance != "0" || acc.Released != "100" {
				t.Fatalf("escrow after milestones %+v", acc)
			}

			confirmed := decode[commandOutput](t, mustRun(t, cfgPath, "confirm", "--key", "alice", "--id", id, "--expected-total", "100"))
			if confirmed.Job.Status != "completed" {
				t.Fatalf("expected completed, got %s", confirmed.Job.Status)
			}

			rated := decode[commandOutput](t, mustRun(t, cfgPath, "rate", "--key", "alice", "--id", id, "--rating", "4", "--feedback", "solid"))
			if rated.Rating == nil || rated.Rating.Rating != 4 {
				t.Fatalf("unexpected rating %+v", rated.Rating)
			}

			rep := decode[reputationView](t, mustRun(t, cfgPath, "reputation", "--address", "bob"))
			if rep.AverageRating != 4 || rep.TotalRatings != 1 {
				t.Fatalf("unexpected reputation %+v", rep)
			}
			ratings := decode[[]ratingView](t, mustRun(t, cfgPath, "ratings", "--address", bob["address"]))
			if len(ratings) != 1 || ratings[0].Feedback != "solid" {
				t.Fatalf("unexpected ratings %+v", ratings)
			}

			if bal := decode[map[string]string](t, mustRun(t, cfgPath, "balance", "--address", "bob")); bal["balance"] != "100" {
				t.Fatalf("freelancer balance %v", bal)
			}
			if bal := decode[map[string]string](t, mustRun(t, cfgPath, "balance", "--address", "alice")); bal["balance"] != "900" {
				t.Fatalf("employer balance %v", bal)
			}
			acc := decode[accountView](t, mustRun(t, cfgPath, "escrow", "--id", id))
			if acc.Balance != "0" || acc.Released != "100" || acc.Open {
				t.Fatalf("unexpected escrow %+v", acc)
			}
			listed := decode[[]jobOutput](t, mustRun(t, cfgPath, "jobs", "--employer", "alice"))
			if len(listed) != 1 || listed[0].ID != id {
				t.Fatalf("unexpected job list %+v", listed)
			}
			if done := decode[[]jobOutput](t, mustRun(t, cfgPath, "jobs", "--employer", "alice", "--status", "completed")); len(done) != 1 {
				t.Fatalf("expected one completed job, got %+v", done)
			}
			if pending := decode[[]jobOutput](t, mustRun(t, cfgPath, "jobs", "--employer", "alice", "--status", "posted")); len(pending) != 0 {
				t.Fatalf("expected no posted jobs, got %+v", pending)
			}
			if _, _, code := runCLI(t, cfgPath, "jobs", "--employer", "alice", "--status", "archived"); code != 1 {
				t.Fatalf("unknown status filter accepted")
			}
			if pair := decode[[]ratingView](t, mustRun(t, cfgPath, "ratings", "--address", "bob", "--employer", "alice")); len(pair) != 1 {
				t.Fatalf("expected one rating from alice, got %+v", pair)
			}
			if pair := decode[[]ratingView](t, mustRun(t, cfgPath, "ratings", "--address", "bob", "--employer", "bob")); len(pair) != 0 {
				t.Fatalf("expected no ratings from bob, got %+v", pair)
			}

			_, stderr, code := runCLI(t, cfgPath, "accept", "--key", "bob", "--id", id)
			if code != 1 || !strings.Contains(stderr, "kind=already_set") {
				t.Fatalf("expected already_set, got %d %q", code, stderr)
			}
		})
	}
}

func TestCommandFailureReportsKind(t *testing.T) {
	cfgPath := newTestConfig(t, config.BackendLevelDB)
	mustRun(t, cfgPath, "keygen", "--name", "carol", "--light")

	_, stderr, code := runCLI(t, cfgPath, "post", "--key", "carol", "--salt", "0x02", "--total", "50")
	if code != 1 {
		t.Fatalf("expected failure, got %d", code)
	}
	if !strings.Contains(stderr, "kind=insufficient_funds, retryable") {
		t.Fatalf("unexpected stderr %q", stderr)
	}

	_, stderr, code = runCLI(t, cfgPath, "job", "--id", "0x"+strings.Repeat("ab", 32))
	if code != 1 || !strings.Contains(stderr, "kind=not_found") {
		t.Fatalf("expected not_found, got %d %q", code, stderr)
	}
}

func TestMetricsTextfileWrittenOnExit(t *testing.T) {
	cfgPath := newTestConfig(t, config.BackendLevelDB)
	cfg, err := config.Load(cfgPath)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	cfg.Metrics.Textfile = filepath.Join(cfg.DataDir, "jobd.prom")
	if err := config.Save(cfgPath, cfg); err != nil {
		t.Fatalf("save config: %v", err)
	}

	mustRun(t, cfgPath, "keygen", "--name", "erin", "--light")
	mustRun(t, cfgPath, "credit", "--to", "erin", "--amount", "10")
	mustRun(t, cfgPath, "post", "--key", "erin", "--salt", "0x03", "--total", "10")

	data, err := os.ReadFile(cfg.Metrics.Textfile)
	if err != nil {
		t.Fatalf("metrics textfile: %v", err)
	}
	if !strings.Contains(string(data), "jobchain_jobs_commands_total") {
		t.Fatalf("textfile lacks command metrics:\n%s", data)
	}
}

func TestProofCommandAndProofPosting(t *testing.T) {
	cfgPath := newTestConfig(t, config.BackendLevelDB)
	cfg, err := config.Load(cfgPath)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	cfg.Proof.Verifier = "digest"
	if err := config.Save(cfgPath, cfg); err != nil {
		t.Fatalf("save config: %v", err)
	}

	p := proof.Proof{A: []byte{1, 2}, B: []byte{3}, PublicInputs: [][]byte{{9}}}
	digest := proof.Digest(p.A, p.B, p.PublicInputs)
	p.C = digest[:]
	raw, err := json.Marshal(p)
	if err != nil {
		t.Fatalf("marshal proof: %v", err)
	}
	jsonPath := filepath.Join(cfg.DataDir, "proof.json")
	rlpPath := filepath.Join(cfg.DataDir, "proof.rlp")
	if err := os.WriteFile(jsonPath, raw, 0o600); err != nil {
		t.Fatalf("write proof: %v", err)
	}

	checked := decode[proofView](t, mustRun(t, cfgPath, "proof", "--file", jsonPath, "--out", rlpPath))
	if !checked.WellFormed || !checked.Accepted || !strings.HasPrefix(checked.Encoded, "0x") {
		t.Fatalf("unexpected proof check %+v", checked)
	}
	again := decode[proofView](t, mustRun(t, cfgPath, "proof", "--file", rlpPath))
	if again.Encoded != checked.Encoded || !again.Accepted {
		t.Fatalf("canonical encoding did not round trip: %+v", again)
	}

	mustRun(t, cfgPath, "keygen", "--name", "frank", "--light")
	mustRun(t, cfgPath, "credit", "--to", "frank", "--amount", "10")
	posted := decode[commandOutput](t, mustRun(t, cfgPath, "post", "--key", "frank", "--salt", "0x04", "--total", "10", "--proof", rlpPath))
	if posted.Job == nil || posted.Job.Status != "posted" {
		t.Fatalf("unexpected post output %+v", posted)
	}

	p.C = []byte{0}
	raw, _ = json.Marshal(p)
	if err := os.WriteFile(jsonPath, raw, 0o600); err != nil {
		t.Fatalf("write proof: %v", err)
	}
	if refused := decode[proofView](t, mustRun(t, cfgPath, "proof", "--file", jsonPath)); refused.Accepted {
		t.Fatalf("tampered proof accepted")
	}
	_, stderr, code := runCLI(t, cfgPath, "post", "--key", "frank", "--salt", "0x05", "--total", "5", "--proof", jsonPath)
	if code != 1 || !strings.Contains(stderr, "kind=proof_rejected") {
		t.Fatalf("expected proof_rejected, got %d %q", code, stderr)
	}
}

func TestKeygenRefusesOverwrite(t *testing.T) {
	cfgPath := newTestConfig(t, config.BackendLevelDB)
	mustRun(t, cfgPath, "keygen", "--name", "dave", "--light")
	_, stderr, code := runCLI(t, cfgPath, "keygen", "--name", "dave", "--light")
	if code != 1 || !strings.Contains(stderr, "already exists") {
		t.Fatalf("expected refusal, got %d %q", code, stderr)
	}
}

func TestParseAmount(t *testing.T) {
	cases := map[string]string{
		"100":       "100",
		"1_000":     "1000",
		"25e3":      "25000",
		"2E18":      "2000000000000000000",
		" 0 ":       "0",
		"000000042": "42",
	}
	for in, want := range cases {
		got, err := parseAmount(in)
		if err != nil {
			t.Fatalf("parseAmount(%q): %v", in, err)
		}
		if got.String() != want {
			t.Fatalf("parseAmount(%q) = %s, want %s", in, got, want)
		}
	}
	for _, bad := range []string{"", "-5", "1.5", "abc", "1e-3", "1e"} {
		if _, err := parseAmount(bad); err == nil {
			t.Fatalf("expected %q to be rejected", bad)
		}
	}
}

func TestMilestoneFlag(t *testing.T) {
	original := cliNow
	cliNow = func() time.Time { return time.Unix(1_700_000_000, 0) }
	defer func() { cliNow = original }()

	var m milestoneFlag
	if err := m.Set("40@+2d:Design mockups"); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := m.Set("60:Build: phase one"); err != nil {
		t.Fatalf("set: %v", err)
	}
	if len(m.specs) != 2 {
		t.Fatalf("expected 2 milestones, got %d", len(m.specs))
	}
	if m.specs[0].Deadline != 1_700_000_000+2*24*3600 || m.specs[0].Description != "Design mockups" {
		t.Fatalf("unexpected first milestone %+v", m.specs[0])
	}
	if m.specs[1].Deadline != 0 || m.specs[1].Description != "Build: phase one" {
		t.Fatalf("unexpected second milestone %+v", m.specs[1])
	}
	for _, bad := range []string{"40", "x:desc", "40@soon:desc", "40:"} {
		if err := new(milestoneFlag).Set(bad); err == nil {
			t.Fatalf("expected %q to be rejected", bad)
		}
	}
}

func TestParseJobID(t *testing.T) {
	if _, err := parseJobID("0x1234"); err == nil {
		t.Fatalf("expected short id to be rejected")
	}
	id, err := parseJobID(strings.Repeat("0f", 32))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if id[31] != 0x0f {
		t.Fatalf("unexpected id %x", id)
	}
}

func TestPauseBlocksLifecycleCommands(t *testing.T) {
	cfgPath := newTestConfig(t, config.BackendBolt)
	mustRun(t, cfgPath, "keygen", "--name", "erin", "--light")
	mustRun(t, cfgPath, "credit", "--to", "erin", "--amount", "500")

	paused := decode[map[string]bool](t, mustRun(t, cfgPath, "pause", "--module", "jobs"))
	if !paused["jobs"] {
		t.Fatalf("expected jobs paused, got %v", paused)
	}
	_, stderr, code := runCLI(t, cfgPath, "post", "--key", "erin", "--salt", "0x03", "--total", "10")
	if code != 1 || !strings.Contains(stderr, "kind=module_paused") {
		t.Fatalf("expected module_paused, got %d %q", code, stderr)
	}

	mustRun(t, cfgPath, "resume", "--module", "jobs")
	mustRun(t, cfgPath, "post", "--key", "erin", "--salt", "0x03", "--total", "10")

	_, stderr, code = runCLI(t, cfgPath, "pause", "--module", "ledger")
	if code != 1 || !strings.Contains(stderr, "unknown module") {
		t.Fatalf("expected unknown module error, got %d %q", code, stderr)
	}
}
