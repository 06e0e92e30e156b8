package jobs

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"jobchain/crypto"
)

// Status enumerates the lifecycle states of a job posting.
type Status uint8

const (
	StatusPosted Status = iota + 1
	StatusAccepted
	StatusInProgress
	StatusCompleted
	StatusCancelled
	StatusDisputed
)

func (s Status) String() string {
	switch s {
	case StatusPosted:
		return "posted"
	case StatusAccepted:
		return "accepted"
	case StatusInProgress:
		return "in_progress"
	case StatusCompleted:
		return "completed"
	case StatusCancelled:
		return "cancelled"
	case StatusDisputed:
		return "disputed"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(s))
	}
}

// Valid reports whether s is one of the defined statuses.
func (s Status) Valid() bool {
	return s >= StatusPosted && s <= StatusDisputed
}

// Terminal reports whether no further lifecycle transition is possible.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// ParseStatus maps the string form back to a Status.
func ParseStatus(v string) (Status, error) {
	for s := StatusPosted; s <= StatusDisputed; s++ {
		if strings.EqualFold(v, s.String()) {
			return s, nil
		}
	}
	return 0, fmt.Errorf("jobs: unknown status %q", v)
}

// Milestone is one unit of partial payment. Completed only moves from false
// to true.
type Milestone struct {
	Description   string
	PaymentAmount *big.Int
	Completed     bool
	Deadline      uint64
	CompletedAt   uint64
}

// Clone returns a deep copy of the milestone.
func (m Milestone) Clone() Milestone {
	out := m
	out.PaymentAmount = cloneBigInt(m.PaymentAmount)
	return out
}

// JobPosting is the persisted job record. Timestamps are unix seconds; a zero
// ExpirationTime or Deadline means none was set.
type JobPosting struct {
	ID             [32]byte
	Employer       [20]byte
	Freelancer     [20]byte
	Status         Status
	Milestones     []Milestone
	TotalPayment   *big.Int
	ExpirationTime uint64
	CreatedAt      uint64
	UpdatedAt      uint64
	Version        uint64
	DisputedBy     [20]byte
	DisputeReason  string
	MetaHash       [32]byte
}

// HasFreelancer reports whether a freelancer accepted the job.
func (j *JobPosting) HasFreelancer() bool {
	return j != nil && j.Freelancer != ([20]byte{})
}

// MilestoneSum returns the total payment committed to milestones.
func (j *JobPosting) MilestoneSum() *big.Int {
	sum := big.NewInt(0)
	if j == nil {
		return sum
	}
	for _, m := range j.Milestones {
		if m.PaymentAmount != nil {
			sum.Add(sum, m.PaymentAmount)
		}
	}
	return sum
}

// AllMilestonesCompleted reports whether every milestone was completed. A job
// without milestones trivially satisfies it.
func (j *JobPosting) AllMilestonesCompleted() bool {
	for _, m := range j.Milestones {
		if !m.Completed {
			return false
		}
	}
	return true
}

// Expired reports whether the posting's expiration passed at now.
func (j *JobPosting) Expired(now int64) bool {
	return j.ExpirationTime != 0 && uint64(max(now, 0)) > j.ExpirationTime
}

// Clone returns a deep copy of the posting.
func (j *JobPosting) Clone() *JobPosting {
	if j == nil {
		return nil
	}
	out := *j
	out.TotalPayment = cloneBigInt(j.TotalPayment)
	if j.Milestones != nil {
		out.Milestones = make([]Milestone, len(j.Milestones))
		for i, m := range j.Milestones {
			out.Milestones[i] = m.Clone()
		}
	}
	return &out
}

// Validate checks the structural invariants of a stored posting.
func (j *JobPosting) Validate() error {
	if j == nil {
		return errors.New("jobs: posting nil")
	}
	if j.Employer == ([20]byte{}) {
		return errors.New("jobs: employer required")
	}
	if !j.Status.Valid() {
		return fmt.Errorf("jobs: invalid status %d", j.Status)
	}
	if j.TotalPayment == nil || j.TotalPayment.Sign() <= 0 {
		return errors.New("jobs: total payment must be positive")
	}
	for i, m := range j.Milestones {
		if strings.TrimSpace(m.Description) == "" {
			return fmt.Errorf("jobs: milestone %d description required", i)
		}
		if m.PaymentAmount == nil || m.PaymentAmount.Sign() <= 0 {
			return fmt.Errorf("jobs: milestone %d payment must be positive", i)
		}
	}
	if j.MilestoneSum().Cmp(j.TotalPayment) > 0 {
		return errors.New("jobs: milestone payments exceed total payment")
	}
	if j.HasFreelancer() && j.Freelancer == j.Employer {
		return errors.New("jobs: employer cannot be freelancer")
	}
	if j.Status != StatusPosted && j.Status != StatusCancelled && j.Status != StatusDisputed && !j.HasFreelancer() {
		return fmt.Errorf("jobs: status %s requires a freelancer", j.Status)
	}
	return nil
}

func cloneBigInt(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}

type milestoneJSON struct {
	Description   string   `json:"description"`
	PaymentAmount *big.Int `json:"paymentAmount"`
	Completed     bool     `json:"completed"`
	Deadline      uint64   `json:"deadline,omitempty"`
	CompletedAt   uint64   `json:"completedAt,omitempty"`
}

type jobJSON struct {
	ID             string          `json:"id"`
	Employer       string          `json:"employer"`
	Freelancer     string          `json:"freelancer,omitempty"`
	Status         string          `json:"status"`
	Milestones     []milestoneJSON `json:"milestones"`
	TotalPayment   *big.Int        `json:"totalPayment"`
	ExpirationTime uint64          `json:"expirationTime,omitempty"`
	CreatedAt      uint64          `json:"createdAt"`
	UpdatedAt      uint64          `json:"updatedAt"`
	Version        uint64          `json:"version"`
	DisputedBy     string          `json:"disputedBy,omitempty"`
	DisputeReason  string          `json:"disputeReason,omitempty"`
	MetaHash       string          `json:"metaHash,omitempty"`
}

// MarshalJSON renders the posting with hex identifiers and bech32 addresses.
func (j *JobPosting) MarshalJSON() ([]byte, error) {
	out := jobJSON{
		ID:             hex.EncodeToString(j.ID[:]),
		Employer:       crypto.FromRaw(j.Employer).String(),
		Status:         j.Status.String(),
		Milestones:     make([]milestoneJSON, 0, len(j.Milestones)),
		TotalPayment:   j.TotalPayment,
		ExpirationTime: j.ExpirationTime,
		CreatedAt:      j.CreatedAt,
		UpdatedAt:      j.UpdatedAt,
		Version:        j.Version,
		DisputeReason:  j.DisputeReason,
	}
	if j.HasFreelancer() {
		out.Freelancer = crypto.FromRaw(j.Freelancer).String()
	}
	if j.DisputedBy != ([20]byte{}) {
		out.DisputedBy = crypto.FromRaw(j.DisputedBy).String()
	}
	if j.MetaHash != ([32]byte{}) {
		out.MetaHash = hex.EncodeToString(j.MetaHash[:])
	}
	for _, m := range j.Milestones {
		out.Milestones = append(out.Milestones, milestoneJSON{
			Description:   m.Description,
			PaymentAmount: m.PaymentAmount,
			Completed:     m.Completed,
			Deadline:      m.Deadline,
			CompletedAt:   m.CompletedAt,
		})
	}
	return json.Marshal(out)
}
