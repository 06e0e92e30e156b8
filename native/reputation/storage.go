package reputation

import (
	"errors"
	"fmt"
	"math"
	"time"

	"golang.org/x/text/unicode/norm"
)

// kvStore abstracts the subset of state functionality required by the
// reputation ledger.
type kvStore interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
	KVAppend(key []byte, value []byte) error
	KVGetList(key []byte, out interface{}) error
}

var (
	ratingPrefix     = []byte("reputation/rating/")
	scorePrefix      = []byte("reputation/score/")
	historyPrefix    = []byte("reputation/history/")
	pairHistoryPrefx = []byte("reputation/pair/")
)

func ratingKey(jobID [32]byte) []byte {
	return []byte(fmt.Sprintf("%s%x", ratingPrefix, jobID))
}

func scoreKey(subject [20]byte) []byte {
	return []byte(fmt.Sprintf("%s%x", scorePrefix, subject))
}

func historyKey(subject [20]byte) []byte {
	return []byte(fmt.Sprintf("%s%x", historyPrefix, subject))
}

func pairKey(employer, freelancer [20]byte) []byte {
	return []byte(fmt.Sprintf("%s%x/%x", pairHistoryPrefx, employer, freelancer))
}

var (
	// ErrAlreadyRated is returned when a job already carries a rating.
	ErrAlreadyRated = errors.New("reputation: job already rated")
	// ErrRatingNotFound marks a job without a rating.
	ErrRatingNotFound = errors.New("reputation: rating not found")
)

// Ledger appends job ratings and maintains the per-freelancer running mean.
// Ratings are never revised or deleted.
type Ledger struct {
	store       kvStore
	nowFn       func() int64
	maxFeedback int
}

// NewLedger constructs a ledger bound to the provided storage backend.
func NewLedger(store kvStore) *Ledger {
	return &Ledger{
		store:       store,
		nowFn:       func() int64 { return time.Now().Unix() },
		maxFeedback: DefaultMaxFeedbackBytes,
	}
}

// SetNowFunc overrides the wall clock used to stamp ratings.
func (l *Ledger) SetNowFunc(now func() int64) {
	if l == nil {
		return
	}
	if now == nil {
		l.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	l.nowFn = now
}

// SetMaxFeedbackBytes overrides the feedback size limit. Values <= 0 restore
// the default.
func (l *Ledger) SetMaxFeedbackBytes(limit int) {
	if limit <= 0 {
		limit = DefaultMaxFeedbackBytes
	}
	l.maxFeedback = limit
}

func (l *Ledger) now() int64 {
	if l == nil || l.nowFn == nil {
		return time.Now().Unix()
	}
	return l.nowFn()
}

func (l *Ledger) ready() error {
	if l == nil {
		return errors.New("reputation: ledger not initialised")
	}
	if l.store == nil {
		return errors.New("reputation: storage unavailable")
	}
	return nil
}

type storedRating struct {
	JobID      [32]byte
	Employer   [20]byte
	Freelancer [20]byte
	Rating     uint8
	Feedback   string
	RatedAt    uint64
}

type storedReputation struct {
	AverageBits uint64
	Total       uint64
}

// Record appends the rating and folds it into the freelancer's reputation.
// Feedback is stored in NFC form and the limit applies to that form. The
// updated reputation is returned.
func (l *Ledger) Record(rating *JobRating) (*Reputation, error) {
	if err := l.ready(); err != nil {
		return nil, err
	}
	if rating != nil {
		rating.Feedback = norm.NFC.String(rating.Feedback)
	}
	if err := rating.Validate(l.maxFeedback); err != nil {
		return nil, err
	}
	exists, err := l.store.KVGet(ratingKey(rating.JobID), nil)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, ErrAlreadyRated
	}
	ratedAt := rating.RatedAt
	if ratedAt <= 0 {
		ratedAt = l.now()
	}
	if ratedAt < 0 {
		ratedAt = 0
	}
	stored := &storedRating{
		JobID:      rating.JobID,
		Employer:   rating.Employer,
		Freelancer: rating.Freelancer,
		Rating:     rating.Rating,
		Feedback:   rating.Feedback,
		RatedAt:    uint64(ratedAt),
	}
	if err := l.store.KVPut(ratingKey(rating.JobID), stored); err != nil {
		return nil, err
	}
	if err := l.store.KVAppend(historyKey(rating.Freelancer), rating.JobID[:]); err != nil {
		return nil, err
	}
	if err := l.store.KVAppend(pairKey(rating.Employer, rating.Freelancer), rating.JobID[:]); err != nil {
		return nil, err
	}

	current, err := l.Reputation(rating.Freelancer)
	if err != nil {
		return nil, err
	}
	next := current.Apply(rating.Rating)
	if err := l.store.KVPut(scoreKey(rating.Freelancer), &storedReputation{
		AverageBits: math.Float64bits(next.AverageRating),
		Total:       next.TotalRatings,
	}); err != nil {
		return nil, err
	}
	return &next, nil
}

// Rating returns the rating recorded for the job.
func (l *Ledger) Rating(jobID [32]byte) (*JobRating, error) {
	if err := l.ready(); err != nil {
		return nil, err
	}
	var stored storedRating
	ok, err := l.store.KVGet(ratingKey(jobID), &stored)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrRatingNotFound
	}
	return &JobRating{
		JobID:      stored.JobID,
		Employer:   stored.Employer,
		Freelancer: stored.Freelancer,
		Rating:     stored.Rating,
		Feedback:   stored.Feedback,
		RatedAt:    int64(stored.RatedAt),
	}, nil
}

// Reputation returns the aggregate for subject. Subjects without ratings
// report a zero average and count.
func (l *Ledger) Reputation(subject [20]byte) (Reputation, error) {
	if err := l.ready(); err != nil {
		return Reputation{}, err
	}
	var stored storedReputation
	if _, err := l.store.KVGet(scoreKey(subject), &stored); err != nil {
		return Reputation{}, err
	}
	return Reputation{
		Subject:       subject,
		AverageRating: math.Float64frombits(stored.AverageBits),
		TotalRatings:  stored.Total,
	}, nil
}

// RatingsFor returns every rating received by the freelancer, oldest first.
func (l *Ledger) RatingsFor(freelancer [20]byte) ([]*JobRating, error) {
	return l.list(historyKey(freelancer))
}

// RatingsBetween returns the ratings an employer left for a freelancer.
func (l *Ledger) RatingsBetween(employer, freelancer [20]byte) ([]*JobRating, error) {
	return l.list(pairKey(employer, freelancer))
}

func (l *Ledger) list(key []byte) ([]*JobRating, error) {
	if err := l.ready(); err != nil {
		return nil, err
	}
	var ids [][]byte
	if err := l.store.KVGetList(key, &ids); err != nil {
		return nil, err
	}
	out := make([]*JobRating, 0, len(ids))
	for _, raw := range ids {
		if len(raw) != 32 {
			return nil, fmt.Errorf("reputation: corrupt index entry %x", raw)
		}
		var id [32]byte
		copy(id[:], raw)
		rating, err := l.Rating(id)
		if err != nil {
			return nil, err
		}
		out = append(out, rating)
	}
	return out, nil
}
