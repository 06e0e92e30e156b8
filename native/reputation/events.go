package reputation

import (
	"encoding/hex"
	"strconv"

	"jobchain/core/types"
	"jobchain/crypto"
)

const (
	// EventTypeJobRated is emitted when an employer rates a freelancer.
	EventTypeJobRated = "reputation.jobRated"
)

// RatedEvent carries a recorded rating and the reputation it produced.
type RatedEvent struct {
	Rating     *JobRating
	Reputation *Reputation
}

// EventType implements events.Event.
func (RatedEvent) EventType() string { return EventTypeJobRated }

// Event returns the canonical payload. Feedback text is left out; it is
// available from the ledger.
func (e RatedEvent) Event() *types.Event {
	evt := types.NewEvent(EventTypeJobRated)
	if e.Rating == nil {
		return evt
	}
	evt.Attributes["jobId"] = hex.EncodeToString(e.Rating.JobID[:])
	evt.Attributes["employer"] = crypto.FromRaw(e.Rating.Employer).String()
	evt.Attributes["freelancer"] = crypto.FromRaw(e.Rating.Freelancer).String()
	evt.Attributes["rating"] = strconv.FormatUint(uint64(e.Rating.Rating), 10)
	if e.Reputation != nil {
		evt.Attributes["averageRating"] = strconv.FormatFloat(e.Reputation.AverageRating, 'f', 4, 64)
		evt.Attributes["totalRatings"] = strconv.FormatUint(e.Reputation.TotalRatings, 10)
	}
	return evt
}
