package main

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math/big"
	"strconv"
	"strings"
	"time"

	"jobchain/core/events"
	"jobchain/crypto"
	"jobchain/native/escrow"
	"jobchain/native/jobs"
	"jobchain/native/reputation"
)

var cliNow = time.Now

type transferView struct {
	Direction string `json:"direction"`
	Party     string `json:"party"`
	Amount    string `json:"amount"`
	Milestone *int   `json:"milestone,omitempty"`
}

type ratingView struct {
	JobID      string `json:"jobId"`
	Employer   string `json:"employer"`
	Freelancer string `json:"freelancer"`
	Rating     uint8  `json:"rating"`
	Feedback   string `json:"feedback,omitempty"`
	RatedAt    int64  `json:"ratedAt"`
}

type reputationView struct {
	Subject       string  `json:"subject"`
	AverageRating float64 `json:"averageRating"`
	TotalRatings  uint64  `json:"totalRatings"`
}

type accountView struct {
	JobID     string `json:"jobId"`
	Depositor string `json:"depositor"`
	Deposited string `json:"deposited"`
	Released  string `json:"released"`
	Refunded  string `json:"refunded"`
	Balance   string `json:"balance"`
	Open      bool   `json:"open"`
	FundedAt  uint64 `json:"fundedAt"`
	ClosedAt  uint64 `json:"closedAt,omitempty"`
}

type proofView struct {
	Verifier   string `json:"verifier"`
	Encoded    string `json:"encoded"`
	WellFormed bool   `json:"wellFormed"`
	Accepted   bool   `json:"accepted"`
	Error      string `json:"error,omitempty"`
}

type resultView struct {
	RequestID  string           `json:"requestId"`
	Kind       string           `json:"kind"`
	Job        *jobs.JobPosting `json:"job,omitempty"`
	Rating     *ratingView      `json:"rating,omitempty"`
	Reputation *reputationView  `json:"reputation,omitempty"`
	Transfers  []transferView   `json:"transfers,omitempty"`
}

func newResultView(res *jobs.Result) resultView {
	out := resultView{RequestID: res.RequestID, Kind: res.Kind.String(), Job: res.Job}
	if res.Rating != nil {
		r := newRatingView(res.Rating)
		out.Rating = &r
	}
	if res.Reputation != nil {
		r := newReputationView(*res.Reputation)
		out.Reputation = &r
	}
	for _, t := range res.Transfers {
		out.Transfers = append(out.Transfers, newTransferView(t))
	}
	return out
}

func newTransferView(t events.EscrowTransfer) transferView {
	view := transferView{
		Direction: t.Direction,
		Party:     crypto.FromRaw(t.Party).String(),
		Amount:    amountString(t.Amount),
	}
	if t.Milestone >= 0 {
		idx := t.Milestone
		view.Milestone = &idx
	}
	return view
}

func newRatingView(r *reputation.JobRating) ratingView {
	return ratingView{
		JobID:      hex.EncodeToString(r.JobID[:]),
		Employer:   crypto.FromRaw(r.Employer).String(),
		Freelancer: crypto.FromRaw(r.Freelancer).String(),
		Rating:     r.Rating,
		Feedback:   r.Feedback,
		RatedAt:    r.RatedAt,
	}
}

func newReputationView(r reputation.Reputation) reputationView {
	return reputationView{
		Subject:       crypto.FromRaw(r.Subject).String(),
		AverageRating: r.AverageRating,
		TotalRatings:  r.TotalRatings,
	}
}

func newAccountView(a *escrow.Account) accountView {
	return accountView{
		JobID:     hex.EncodeToString(a.JobID[:]),
		Depositor: crypto.FromRaw(a.Depositor).String(),
		Deposited: amountString(a.Deposited),
		Released:  amountString(a.Released),
		Refunded:  amountString(a.Refunded),
		Balance:   amountString(a.Balance),
		Open:      a.Open,
		FundedAt:  a.FundedAt,
		ClosedAt:  a.ClosedAt,
	}
}

func amountString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

func (c *cli) printJSON(v interface{}) int {
	enc := json.NewEncoder(c.stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return c.failErr(err)
	}
	return 0
}

// parseAmount accepts base-unit integers with optional underscores and an
// e-exponent shorthand such as 25e18.
func parseAmount(value string) (*big.Int, error) {
	trimmed := strings.ReplaceAll(strings.TrimSpace(value), "_", "")
	if trimmed == "" {
		return nil, fmt.Errorf("amount is required")
	}
	base, exponent := trimmed, int64(0)
	if idx := strings.IndexAny(trimmed, "eE"); idx != -1 {
		base = trimmed[:idx]
		exp, err := strconv.ParseInt(trimmed[idx+1:], 10, 32)
		if err != nil || exp < 0 {
			return nil, fmt.Errorf("invalid amount exponent in %q", value)
		}
		exponent = exp
	}
	amount, ok := new(big.Int).SetString(base, 10)
	if !ok {
		return nil, fmt.Errorf("invalid amount %q", value)
	}
	if amount.Sign() < 0 {
		return nil, fmt.Errorf("amount must not be negative")
	}
	if exponent > 0 {
		amount.Mul(amount, new(big.Int).Exp(big.NewInt(10), big.NewInt(exponent), nil))
	}
	return amount, nil
}

// parseTimestamp accepts +duration (with a d suffix for days), an RFC3339
// timestamp or unix seconds. Empty yields zero.
func parseTimestamp(value string, now time.Time) (int64, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return 0, nil
	}
	if strings.HasPrefix(trimmed, "+") {
		dur, err := parseDuration(strings.TrimSpace(trimmed[1:]))
		if err != nil {
			return 0, err
		}
		if dur <= 0 {
			return 0, fmt.Errorf("duration must be positive")
		}
		return now.Add(dur).Unix(), nil
	}
	if secs, err := strconv.ParseInt(trimmed, 10, 64); err == nil {
		return secs, nil
	}
	ts, err := time.Parse(time.RFC3339, trimmed)
	if err != nil {
		return 0, fmt.Errorf("invalid timestamp %q", value)
	}
	return ts.Unix(), nil
}

func parseDuration(value string) (time.Duration, error) {
	if days, ok := strings.CutSuffix(strings.ToLower(value), "d"); ok {
		n, err := strconv.ParseFloat(days, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid duration %q", value)
		}
		return time.Duration(n * 24 * float64(time.Hour)), nil
	}
	dur, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q", value)
	}
	return dur, nil
}

func parseHex(value string) ([]byte, error) {
	trimmed := strings.TrimPrefix(strings.TrimPrefix(strings.TrimSpace(value), "0x"), "0X")
	out, err := hex.DecodeString(trimmed)
	if err != nil {
		return nil, fmt.Errorf("invalid hex %q", value)
	}
	return out, nil
}

func parseJobID(value string) ([32]byte, error) {
	var id [32]byte
	if strings.TrimSpace(value) == "" {
		return id, fmt.Errorf("--id is required")
	}
	raw, err := parseHex(value)
	if err != nil {
		return id, err
	}
	if len(raw) != len(id) {
		return id, fmt.Errorf("job id must be 32 bytes, got %d", len(raw))
	}
	copy(id[:], raw)
	return id, nil
}

// milestoneFlag collects repeated --milestone values of the form
// amount[@deadline]:description.
type milestoneFlag struct {
	specs []jobs.MilestoneSpec
}

func (m *milestoneFlag) String() string {
	if m == nil {
		return ""
	}
	parts := make([]string, 0, len(m.specs))
	for _, spec := range m.specs {
		parts = append(parts, fmt.Sprintf("%s:%s", amountString(spec.PaymentAmount), spec.Description))
	}
	return strings.Join(parts, ",")
}

func (m *milestoneFlag) Set(value string) error {
	head, desc, ok := strings.Cut(value, ":")
	if !ok || strings.TrimSpace(desc) == "" {
		return fmt.Errorf("milestone must look like amount[@deadline]:description")
	}
	amountPart, deadlinePart, _ := strings.Cut(head, "@")
	amount, err := parseAmount(amountPart)
	if err != nil {
		return err
	}
	deadline, err := parseTimestamp(deadlinePart, cliNow())
	if err != nil {
		return err
	}
	m.specs = append(m.specs, jobs.MilestoneSpec{
		Description:   strings.TrimSpace(desc),
		PaymentAmount: amount,
		Deadline:      deadline,
	})
	return nil
}
