// Package job holds the oracle's job record and its lifecycle enums.
package job

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// Status is the lifecycle state of a job. Ordinals match the on-chain enum.
type Status uint8

const (
	StatusNotSet Status = iota
	StatusInProgress
	StatusCompleted
)

func (s Status) String() string {
	switch s {
	case StatusNotSet:
		return "NOT_SET"
	case StatusInProgress:
		return "IN_PROGRESS"
	case StatusCompleted:
		return "COMPLETED"
	default:
		return "UNKNOWN"
	}
}

func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *Status) UnmarshalText(text []byte) error {
	for _, v := range []Status{StatusNotSet, StatusInProgress, StatusCompleted} {
		if v.String() == string(text) {
			*s = v
			return nil
		}
	}
	return fmt.Errorf("unknown job status %q", text)
}

// Answer is the verified result of a query.
type Answer uint8

const (
	AnswerNotSet Answer = iota
	AnswerFalse
	AnswerTrue
)

func (a Answer) String() string {
	switch a {
	case AnswerNotSet:
		return "NOT_SET"
	case AnswerFalse:
		return "IS_FALSE"
	case AnswerTrue:
		return "IS_TRUE"
	default:
		return "UNKNOWN"
	}
}

func (a Answer) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

func (a *Answer) UnmarshalText(text []byte) error {
	for _, v := range []Answer{AnswerNotSet, AnswerFalse, AnswerTrue} {
		if v.String() == string(text) {
			*a = v
			return nil
		}
	}
	return fmt.Errorf("unknown answer %q", text)
}

// AnswerFromBit maps a proof's answer bit: 1 is true, anything else false.
func AnswerFromBit(bit uint64) Answer {
	if bit == 1 {
		return AnswerTrue
	}
	return AnswerFalse
}

// Job is one tracked query. The zero Job, with the zero requester, is the
// sentinel for "no job".
type Job struct {
	Requester common.Address
	Deadline  uint64
	Status    Status
	Answer    Answer
}

// Exists reports whether j is a live job.
func (j Job) Exists() bool {
	return j.Requester != (common.Address{})
}

// Lifecycle errors returned by the job store.
var (
	ErrAlreadyExists    = errors.New("job already exists")
	ErrNotFound         = errors.New("job not found")
	ErrNotOwner         = errors.New("caller is not the job requester")
	ErrAlreadyCompleted = errors.New("job already completed")
	ErrNotInProgress    = errors.New("job not in progress")
)
