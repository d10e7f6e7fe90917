// Package jobstore persists oracle jobs in a kv.Store. Every mutating
// operation is a single kv.Store.Update, so lifecycle transitions on the same
// id are atomic with respect to each other.
package jobstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/rlp"
	"github.com/rs/zerolog"

	"github.com/compose-network/oracle/x/kv"
	"github.com/compose-network/oracle/x/oracle/job"
)

var keyPrefix = []byte("job/")

// Store is the keyed job mapping.
type Store struct {
	kv  kv.Store
	log zerolog.Logger
}

// New returns a Store persisting to backend.
func New(backend kv.Store, log zerolog.Logger) *Store {
	return &Store{
		kv:  backend,
		log: log.With().Str("component", "job-store").Logger(),
	}
}

func key(id job.ID) []byte {
	b := id.Bytes32()
	return append(bytes.Clone(keyPrefix), b[:]...)
}

func encode(j job.Job) ([]byte, error) {
	return rlp.EncodeToBytes(&j)
}

func decode(b []byte) (job.Job, error) {
	var j job.Job
	if err := rlp.DecodeBytes(b, &j); err != nil {
		return job.Job{}, fmt.Errorf("decode job: %w", err)
	}
	return j, nil
}

// Create stores a new in-progress job. It fails with job.ErrAlreadyExists
// when a live job occupies id.
func (s *Store) Create(ctx context.Context, id job.ID, requester common.Address, deadline uint64) (job.Job, error) {
	created := job.Job{
		Requester: requester,
		Deadline:  deadline,
		Status:    job.StatusInProgress,
		Answer:    job.AnswerNotSet,
	}

	err := s.kv.Update(ctx, key(id), func(current []byte) ([]byte, error) {
		if current != nil {
			existing, err := decode(current)
			if err != nil {
				return nil, err
			}
			if existing.Exists() {
				return nil, job.ErrAlreadyExists
			}
		}
		return encode(created)
	})
	if err != nil {
		return job.Job{}, err
	}

	s.log.Debug().Stringer("id", id).Str("requester", requester.Hex()).Msg("job created")
	return created, nil
}

// Get returns the job and whether it exists.
func (s *Store) Get(ctx context.Context, id job.ID) (job.Job, bool, error) {
	raw, err := s.kv.Get(ctx, key(id))
	if errors.Is(err, kv.ErrNotFound) {
		return job.Job{}, false, nil
	}
	if err != nil {
		return job.Job{}, false, err
	}
	j, err := decode(raw)
	if err != nil {
		return job.Job{}, false, err
	}
	return j, j.Exists(), nil
}

// Delete removes the job owned by caller. When override is set the ownership
// check is skipped. The removed record is returned.
func (s *Store) Delete(ctx context.Context, id job.ID, caller common.Address, override bool) (job.Job, error) {
	var removed job.Job
	err := s.kv.Update(ctx, key(id), func(current []byte) ([]byte, error) {
		if current == nil {
			return nil, job.ErrNotFound
		}
		existing, err := decode(current)
		if err != nil {
			return nil, err
		}
		if !existing.Exists() {
			return nil, job.ErrNotFound
		}
		if !override && existing.Requester != caller {
			return nil, job.ErrNotOwner
		}
		removed = existing
		return nil, nil
	})
	if err != nil {
		return job.Job{}, err
	}

	s.log.Debug().Stringer("id", id).Str("caller", caller.Hex()).Bool("override", override).Msg("job deleted")
	return removed, nil
}

// Complete records the answer and moves the job to COMPLETED. It succeeds at
// most once per job.
func (s *Store) Complete(ctx context.Context, id job.ID, answer job.Answer) (job.Job, error) {
	if answer == job.AnswerNotSet {
		return job.Job{}, fmt.Errorf("cannot complete job %s without an answer", id)
	}

	var completed job.Job
	err := s.kv.Update(ctx, key(id), func(current []byte) ([]byte, error) {
		if current == nil {
			return nil, job.ErrNotFound
		}
		existing, err := decode(current)
		if err != nil {
			return nil, err
		}
		switch {
		case !existing.Exists():
			return nil, job.ErrNotFound
		case existing.Status == job.StatusCompleted:
			return nil, job.ErrAlreadyCompleted
		case existing.Status != job.StatusInProgress:
			return nil, job.ErrNotInProgress
		}
		existing.Status = job.StatusCompleted
		existing.Answer = answer
		completed = existing
		return encode(existing)
	})
	if err != nil {
		return job.Job{}, err
	}

	s.log.Debug().Stringer("id", id).Stringer("answer", answer).Msg("job completed")
	return completed, nil
}

// CountByStatus scans the store and tallies jobs per status.
func (s *Store) CountByStatus(ctx context.Context) (map[job.Status]int, error) {
	counts := make(map[job.Status]int)
	err := s.kv.Iterate(ctx, keyPrefix, func(_, value []byte) error {
		j, err := decode(value)
		if err != nil {
			return err
		}
		if j.Exists() {
			counts[j.Status]++
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return counts, nil
}

// Ping checks the backend when it supports reachability checks.
func (s *Store) Ping(ctx context.Context) error {
	if p, ok := s.kv.(kv.Pinger); ok {
		return p.Ping(ctx)
	}
	return nil
}
