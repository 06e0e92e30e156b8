package jobs

import (
	"encoding/hex"
	"strconv"

	"jobchain/core/types"
	"jobchain/crypto"
)

const (
	EventTypeJobPosted             = "jobs.posted"
	EventTypeJobAccepted           = "jobs.accepted"
	EventTypeJobMilestoneCompleted = "jobs.milestoneCompleted"
	EventTypeJobCompleted          = "jobs.completed"
	EventTypeJobCancelled          = "jobs.cancelled"
	EventTypeJobDisputed           = "jobs.disputed"
	EventTypeJobExpired            = "jobs.expired"
)

// JobEvent describes a committed transition of a job posting.
type JobEvent struct {
	Type      string
	Job       *JobPosting
	Actor     [20]byte
	Milestone int
}

// EventType implements events.Event.
func (e JobEvent) EventType() string { return e.Type }

// Event returns the canonical payload. Dispute reasons are not included.
func (e JobEvent) Event() *types.Event {
	evt := types.NewEvent(e.Type)
	if e.Job == nil {
		return evt
	}
	evt.Attributes["jobId"] = hex.EncodeToString(e.Job.ID[:])
	evt.Attributes["employer"] = crypto.FromRaw(e.Job.Employer).String()
	if e.Job.HasFreelancer() {
		evt.Attributes["freelancer"] = crypto.FromRaw(e.Job.Freelancer).String()
	}
	if e.Actor != ([20]byte{}) {
		evt.Attributes["actor"] = crypto.FromRaw(e.Actor).String()
	}
	evt.Attributes["status"] = e.Job.Status.String()
	evt.Attributes["version"] = strconv.FormatUint(e.Job.Version, 10)
	if e.Type == EventTypeJobPosted && e.Job.TotalPayment != nil {
		evt.Attributes["totalPayment"] = e.Job.TotalPayment.String()
		evt.Attributes["milestones"] = strconv.Itoa(len(e.Job.Milestones))
	}
	if e.Milestone >= 0 && e.Milestone < len(e.Job.Milestones) {
		evt.Attributes["milestone"] = strconv.Itoa(e.Milestone)
		if amt := e.Job.Milestones[e.Milestone].PaymentAmount; amt != nil {
			evt.Attributes["amount"] = amt.String()
		}
	}
	return evt
}
