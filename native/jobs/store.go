package jobs

import (
	"errors"
	"fmt"
)

// kvStore is the keyed state the record store persists through.
type kvStore interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
	KVAppend(key []byte, value []byte) error
	KVGetList(key []byte, out interface{}) error
}

var (
	postingPrefix  = []byte("jobs/posting/")
	employerPrefix = []byte("jobs/employer/")
	noncePrefix    = []byte("jobs/nonce/")
)

func postingKey(id [32]byte) []byte {
	return []byte(fmt.Sprintf("%s%x", postingPrefix, id))
}

func employerIndexKey(addr [20]byte) []byte {
	return []byte(fmt.Sprintf("%s%x", employerPrefix, addr))
}

func nonceKey(addr [20]byte) []byte {
	return []byte(fmt.Sprintf("%s%x", noncePrefix, addr))
}

// Store persists job postings keyed by job identifier.
type Store struct {
	kv kvStore
}

// NewStore binds a record store to the supplied state.
func NewStore(kv kvStore) *Store {
	return &Store{kv: kv}
}

// Get loads the posting with the given identifier.
func (s *Store) Get(id [32]byte) (*JobPosting, error) {
	if s == nil || s.kv == nil {
		return nil, errors.New("jobs: store not configured")
	}
	job := new(JobPosting)
	ok, err := s.kv.KVGet(postingKey(id), job)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: job %x", ErrNotFound, id)
	}
	return job, nil
}

// Exists reports whether a posting with the identifier was stored.
func (s *Store) Exists(id [32]byte) (bool, error) {
	if s == nil || s.kv == nil {
		return false, errors.New("jobs: store not configured")
	}
	return s.kv.KVGet(postingKey(id), nil)
}

// Put validates and writes the posting. Index is called once, on creation.
func (s *Store) Put(job *JobPosting) error {
	if s == nil || s.kv == nil {
		return errors.New("jobs: store not configured")
	}
	if err := job.Validate(); err != nil {
		return err
	}
	return s.kv.KVPut(postingKey(job.ID), job)
}

// Index adds a newly created posting to its employer's index.
func (s *Store) Index(job *JobPosting) error {
	if s == nil || s.kv == nil {
		return errors.New("jobs: store not configured")
	}
	return s.kv.KVAppend(employerIndexKey(job.Employer), job.ID[:])
}

// JobsByEmployer returns the postings created by employer, oldest first.
func (s *Store) JobsByEmployer(employer [20]byte) ([]*JobPosting, error) {
	if s == nil || s.kv == nil {
		return nil, errors.New("jobs: store not configured")
	}
	var ids [][]byte
	if err := s.kv.KVGetList(employerIndexKey(employer), &ids); err != nil {
		return nil, err
	}
	out := make([]*JobPosting, 0, len(ids))
	for _, raw := range ids {
		if len(raw) != 32 {
			return nil, fmt.Errorf("jobs: corrupt employer index entry %x", raw)
		}
		var id [32]byte
		copy(id[:], raw)
		job, err := s.Get(id)
		if err != nil {
			return nil, err
		}
		out = append(out, job)
	}
	return out, nil
}

// LastNonce returns the highest envelope nonce applied for the signer.
func (s *Store) LastNonce(addr [20]byte) (uint64, error) {
	var nonce uint64
	if _, err := s.kv.KVGet(nonceKey(addr), &nonce); err != nil {
		return 0, err
	}
	return nonce, nil
}

// SetNonce records the highest envelope nonce applied for the signer.
func (s *Store) SetNonce(addr [20]byte, nonce uint64) error {
	return s.kv.KVPut(nonceKey(addr), nonce)
}
