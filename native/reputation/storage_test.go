package reputation

import (
	"bytes"
	"errors"
	"math"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/rlp"
)

type memoryStore struct {
	data  map[string][]byte
	lists map[string][][]byte
}

func newMemoryStore() *memoryStore {
	return &memoryStore{data: make(map[string][]byte), lists: make(map[string][][]byte)}
}

func (m *memoryStore) KVPut(key []byte, value interface{}) error {
	encoded, err := rlp.EncodeToBytes(value)
	if err != nil {
		return err
	}
	m.data[string(key)] = encoded
	return nil
}

func (m *memoryStore) KVGet(key []byte, out interface{}) (bool, error) {
	encoded, ok := m.data[string(key)]
	if !ok {
		return false, nil
	}
	if out == nil {
		return true, nil
	}
	if err := rlp.DecodeBytes(encoded, out); err != nil {
		return false, err
	}
	return true, nil
}

func (m *memoryStore) KVAppend(key []byte, value []byte) error {
	list := m.lists[string(key)]
	for _, existing := range list {
		if bytes.Equal(existing, value) {
			return nil
		}
	}
	m.lists[string(key)] = append(list, append([]byte(nil), value...))
	return nil
}

func (m *memoryStore) KVGetList(key []byte, out interface{}) error {
	target, ok := out.(*[][]byte)
	if !ok {
		return errors.New("unsupported list type")
	}
	*target = append([][]byte(nil), m.lists[string(key)]...)
	return nil
}

func addr(b byte) [20]byte {
	var a [20]byte
	a[0] = b
	a[19] = b
	return a
}

func jobID(b byte) [32]byte {
	var id [32]byte
	id[0] = b
	return id
}

func TestLedgerRecordUpdatesRunningMean(t *testing.T) {
	ledger := NewLedger(newMemoryStore())
	ledger.SetNowFunc(func() int64 { return 1_700_000_000 })
	employer := addr(1)
	freelancer := addr(2)

	scores := []uint8{5, 3, 4}
	var last *Reputation
	for i, score := range scores {
		rep, err := ledger.Record(&JobRating{
			JobID:      jobID(byte(i + 1)),
			Employer:   employer,
			Freelancer: freelancer,
			Rating:     score,
			Feedback:   "good work",
		})
		if err != nil {
			t.Fatalf("record %d: %v", i, err)
		}
		last = rep
	}
	if last.TotalRatings != 3 {
		t.Fatalf("expected 3 ratings, got %d", last.TotalRatings)
	}
	if math.Abs(last.AverageRating-4.0) > 1e-9 {
		t.Fatalf("expected average 4.0, got %f", last.AverageRating)
	}

	stored, err := ledger.Reputation(freelancer)
	if err != nil {
		t.Fatalf("reputation: %v", err)
	}
	if stored.TotalRatings != 3 || math.Abs(stored.AverageRating-4.0) > 1e-9 {
		t.Fatalf("unexpected stored reputation %+v", stored)
	}

	rating, err := ledger.Rating(jobID(2))
	if err != nil {
		t.Fatalf("rating: %v", err)
	}
	if rating.Rating != 3 || rating.RatedAt != 1_700_000_000 {
		t.Fatalf("unexpected rating %+v", rating)
	}
}

func TestLedgerRejectsSecondRating(t *testing.T) {
	ledger := NewLedger(newMemoryStore())
	rating := &JobRating{JobID: jobID(9), Employer: addr(1), Freelancer: addr(2), Rating: 4}
	if _, err := ledger.Record(rating); err != nil {
		t.Fatalf("first rating: %v", err)
	}
	again := *rating
	again.Rating = 1
	if _, err := ledger.Record(&again); !errors.Is(err, ErrAlreadyRated) {
		t.Fatalf("expected ErrAlreadyRated, got %v", err)
	}
	rep, err := ledger.Reputation(addr(2))
	if err != nil {
		t.Fatalf("reputation: %v", err)
	}
	if rep.TotalRatings != 1 || rep.AverageRating != 4 {
		t.Fatalf("second rating leaked into aggregate: %+v", rep)
	}
}

func TestLedgerRatingBounds(t *testing.T) {
	ledger := NewLedger(newMemoryStore())
	for _, score := range []uint8{0, 6, 255} {
		_, err := ledger.Record(&JobRating{JobID: jobID(score), Employer: addr(1), Freelancer: addr(2), Rating: score})
		if !errors.Is(err, ErrRatingOutOfRange) {
			t.Fatalf("rating %d: expected ErrRatingOutOfRange, got %v", score, err)
		}
	}
	rep, err := ledger.Reputation(addr(2))
	if err != nil {
		t.Fatalf("reputation: %v", err)
	}
	if rep.TotalRatings != 0 {
		t.Fatalf("out of range ratings must not count, got %d", rep.TotalRatings)
	}
	if _, err := ledger.Rating(jobID(0)); !errors.Is(err, ErrRatingNotFound) {
		t.Fatalf("expected ErrRatingNotFound, got %v", err)
	}
}

func TestLedgerFeedbackLimit(t *testing.T) {
	ledger := NewLedger(newMemoryStore())
	ledger.SetMaxFeedbackBytes(8)
	_, err := ledger.Record(&JobRating{
		JobID:      jobID(1),
		Employer:   addr(1),
		Freelancer: addr(2),
		Rating:     5,
		Feedback:   strings.Repeat("x", 9),
	})
	if !errors.Is(err, ErrFeedbackTooLong) {
		t.Fatalf("expected ErrFeedbackTooLong, got %v", err)
	}
}

func TestLedgerNormalizesFeedback(t *testing.T) {
	ledger := NewLedger(newMemoryStore())
	ledger.SetMaxFeedbackBytes(5)
	if _, err := ledger.Record(&JobRating{
		JobID:      jobID(1),
		Employer:   addr(1),
		Freelancer: addr(2),
		Rating:     4,
		Feedback:   "cafe\u0301",
	}); err != nil {
		t.Fatalf("record: %v", err)
	}
	stored, err := ledger.Rating(jobID(1))
	if err != nil {
		t.Fatalf("rating: %v", err)
	}
	if stored.Feedback != "caf\u00e9" {
		t.Fatalf("feedback not composed: %q", stored.Feedback)
	}
}

func TestLedgerHistory(t *testing.T) {
	ledger := NewLedger(newMemoryStore())
	freelancer := addr(7)
	for i, employer := range [][20]byte{addr(1), addr(2), addr(1)} {
		if _, err := ledger.Record(&JobRating{JobID: jobID(byte(i + 1)), Employer: employer, Freelancer: freelancer, Rating: 5}); err != nil {
			t.Fatalf("record %d: %v", i, err)
		}
	}
	all, err := ledger.RatingsFor(freelancer)
	if err != nil {
		t.Fatalf("ratings for: %v", err)
	}
	if len(all) != 3 || all[0].JobID != jobID(1) || all[2].JobID != jobID(3) {
		t.Fatalf("unexpected history %+v", all)
	}
	pair, err := ledger.RatingsBetween(addr(1), freelancer)
	if err != nil {
		t.Fatalf("ratings between: %v", err)
	}
	if len(pair) != 2 {
		t.Fatalf("expected 2 ratings from employer, got %d", len(pair))
	}
	none, err := ledger.RatingsFor(addr(9))
	if err != nil || len(none) != 0 {
		t.Fatalf("expected empty history, got %v %v", none, err)
	}
}

func TestReputationApply(t *testing.T) {
	var rep Reputation
	rep = rep.Apply(1)
	rep = rep.Apply(5)
	if rep.TotalRatings != 2 || rep.AverageRating != 3 {
		t.Fatalf("unexpected aggregate %+v", rep)
	}
}
