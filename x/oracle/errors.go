package oracle

import (
	"errors"
	"fmt"

	"github.com/compose-network/oracle/x/oracle/job"
)

// Kind classifies oracle failures. Its string form is the stable error code
// reported to clients.
type Kind int

const (
	KindUnknown Kind = iota
	KindJobAlreadyExists
	KindJobNotFound
	KindJobNotInProgress
	KindInvalidDeadline
	KindNotOwner
	KindInvalidProof
	KindMalformedPayload
	KindVerifierUnavailable
	KindInvalidCaller
	KindEmptyBatch
	KindBatchTooLarge
	KindDeadlinePassed
)

func (k Kind) String() string {
	switch k {
	case KindJobAlreadyExists:
		return "job_already_exists"
	case KindJobNotFound:
		return "job_not_found"
	case KindJobNotInProgress:
		return "job_not_in_progress"
	case KindInvalidDeadline:
		return "invalid_deadline"
	case KindNotOwner:
		return "not_owner"
	case KindInvalidProof:
		return "invalid_proof"
	case KindMalformedPayload:
		return "malformed_payload"
	case KindVerifierUnavailable:
		return "verifier_unavailable"
	case KindInvalidCaller:
		return "invalid_caller"
	case KindEmptyBatch:
		return "empty_batch"
	case KindBatchTooLarge:
		return "batch_too_large"
	case KindDeadlinePassed:
		return "deadline_passed"
	default:
		return "internal"
	}
}

var (
	ErrJobAlreadyExists    = errors.New("job already exists")
	ErrJobNotFound         = errors.New("job not found")
	ErrJobNotInProgress    = errors.New("job not in progress")
	ErrInvalidDeadline     = errors.New("deadline must be in the future")
	ErrNotOwner            = errors.New("caller is not the job owner")
	ErrInvalidProof        = errors.New("invalid proof")
	ErrMalformedPayload    = errors.New("malformed result payload")
	ErrVerifierUnavailable = errors.New("proof verifier unavailable")
	ErrInvalidCaller       = errors.New("invalid caller address")
	ErrEmptyBatch          = errors.New("empty result batch")
	ErrBatchTooLarge       = errors.New("result batch too large")
	ErrDeadlinePassed      = errors.New("job deadline has passed")
)

var errorKinds = map[Kind]error{
	KindJobAlreadyExists:    ErrJobAlreadyExists,
	KindJobNotFound:         ErrJobNotFound,
	KindJobNotInProgress:    ErrJobNotInProgress,
	KindInvalidDeadline:     ErrInvalidDeadline,
	KindNotOwner:            ErrNotOwner,
	KindInvalidProof:        ErrInvalidProof,
	KindMalformedPayload:    ErrMalformedPayload,
	KindVerifierUnavailable: ErrVerifierUnavailable,
	KindInvalidCaller:       ErrInvalidCaller,
	KindEmptyBatch:          ErrEmptyBatch,
	KindBatchTooLarge:       ErrBatchTooLarge,
	KindDeadlinePassed:      ErrDeadlinePassed,
}

// Error is a classified failure of one service operation.
type Error struct {
	Kind  Kind
	Op    string
	ID    string
	Cause error
}

func newError(kind Kind, op string, id job.ID, cause error) *Error {
	return &Error{Kind: kind, Op: op, ID: id.String(), Cause: cause}
}

func (e *Error) Error() string {
	msg := e.Kind.String()
	if s, ok := errorKinds[e.Kind]; ok {
		msg = s.Error()
	}
	prefix := "oracle " + e.Op
	if e.ID != "" {
		prefix += " " + e.ID
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", prefix, msg, e.Cause)
	}
	return fmt.Sprintf("%s: %s", prefix, msg)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches the sentinel of e's kind.
func (e *Error) Is(target error) bool {
	s, ok := errorKinds[e.Kind]
	return ok && s == target
}

// KindOf classifies err. Errors that carry no kind are KindUnknown.
func KindOf(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	var oe *Error
	if errors.As(err, &oe) {
		return oe.Kind
	}
	for k, s := range errorKinds {
		if errors.Is(err, s) {
			return k
		}
	}
	return KindUnknown
}

// storeError classifies a job store failure. Unrecognized errors stay
// KindUnknown and keep their cause.
func storeError(op string, id job.ID, err error) error {
	switch {
	case errors.Is(err, job.ErrAlreadyExists):
		return newError(KindJobAlreadyExists, op, id, nil)
	case errors.Is(err, job.ErrNotFound):
		return newError(KindJobNotFound, op, id, nil)
	case errors.Is(err, job.ErrNotOwner):
		return newError(KindNotOwner, op, id, nil)
	case errors.Is(err, job.ErrAlreadyCompleted), errors.Is(err, job.ErrNotInProgress):
		return newError(KindJobNotInProgress, op, id, err)
	default:
		return newError(KindUnknown, op, id, err)
	}
}
