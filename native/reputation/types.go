package reputation

import (
	"errors"
	"fmt"
	"unicode/utf8"
)

const (
	// MinRating and MaxRating bound a single rating.
	MinRating uint8 = 1
	MaxRating uint8 = 5

	// DefaultMaxFeedbackBytes caps the feedback text stored with a rating.
	DefaultMaxFeedbackBytes = 1024
)

var (
	// ErrRatingOutOfRange marks a rating outside [MinRating, MaxRating].
	ErrRatingOutOfRange = errors.New("reputation: rating out of range")
	// ErrFeedbackTooLong marks feedback above the configured byte limit.
	ErrFeedbackTooLong = errors.New("reputation: feedback too long")
)

// JobRating is the immutable rating an employer leaves for the freelancer
// that worked a job.
type JobRating struct {
	JobID      [32]byte
	Employer   [20]byte
	Freelancer [20]byte
	Rating     uint8
	Feedback   string
	RatedAt    int64
}

// Validate ensures the rating is well formed. maxFeedback <= 0 selects
// DefaultMaxFeedbackBytes.
func (r *JobRating) Validate(maxFeedback int) error {
	if r == nil {
		return errors.New("reputation: rating nil")
	}
	if r.Rating < MinRating || r.Rating > MaxRating {
		return fmt.Errorf("%w: %d not in [%d,%d]", ErrRatingOutOfRange, r.Rating, MinRating, MaxRating)
	}
	if r.Employer == ([20]byte{}) {
		return errors.New("reputation: employer required")
	}
	if r.Freelancer == ([20]byte{}) {
		return errors.New("reputation: freelancer required")
	}
	if r.Employer == r.Freelancer {
		return errors.New("reputation: employer cannot rate themselves")
	}
	if maxFeedback <= 0 {
		maxFeedback = DefaultMaxFeedbackBytes
	}
	if len(r.Feedback) > maxFeedback {
		return fmt.Errorf("%w: %d bytes exceeds %d", ErrFeedbackTooLong, len(r.Feedback), maxFeedback)
	}
	if !utf8.ValidString(r.Feedback) {
		return errors.New("reputation: feedback must be valid UTF-8")
	}
	return nil
}

// Reputation is the running aggregate of every rating a freelancer received.
type Reputation struct {
	Subject       [20]byte
	AverageRating float64
	TotalRatings  uint64
}

// Apply folds one more rating into the running mean:
// avg' = avg + (rating - avg) / (total + 1).
func (r Reputation) Apply(rating uint8) Reputation {
	next := r
	next.TotalRatings = r.TotalRatings + 1
	next.AverageRating = r.AverageRating + (float64(rating)-r.AverageRating)/float64(next.TotalRatings)
	return next
}
