// Package oracle implements the job lifecycle of the verifiable-computation
// oracle: callers request answers, solvers submit proofs, and verified
// answers are recorded exactly once.
package oracle

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"

	"github.com/compose-network/oracle/x/oracle/job"
	"github.com/compose-network/oracle/x/oracle/jobstore"
	"github.com/compose-network/oracle/x/oracle/keylock"
	"github.com/compose-network/oracle/x/proof"
)

const (
	opRequest       = "request"
	opDelete        = "deleteRequest"
	opReceiveResult = "receiveResult"
	opMultiReceive  = "multiReceiveResult"
	opCheckNumber   = "checkNumber"
	opJob           = "jobs"
)

// Receipt describes a recorded result.
type Receipt struct {
	ID     job.ID     `json:"id"`
	Answer job.Answer `json:"answer"`
	Seq    uint64     `json:"seq"`
}

// Service is the oracle core. It is safe for concurrent use.
type Service struct {
	store    *jobstore.Store
	verifier proof.Verifier
	cfg      Config
	admin    common.Address
	locks    *keylock.KeyLock[job.ID]
	events   Publisher
	metrics  *Metrics
	now      func() time.Time
	log      zerolog.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithClock overrides the time source used for deadline checks.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

// WithEvents publishes committed changes to p.
func WithEvents(p Publisher) Option {
	return func(s *Service) {
		s.events = p
	}
}

func WithMetrics(m *Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// NewService wires the oracle over a job store and a verifier.
func NewService(
	store *jobstore.Store,
	verifier proof.Verifier,
	cfg Config,
	log zerolog.Logger,
	opts ...Option,
) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("job store is required")
	}
	if verifier == nil {
		return nil, fmt.Errorf("verifier is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid oracle config: %w", err)
	}
	if cfg.MaxBatchSize == 0 {
		cfg.MaxBatchSize = DefaultMaxBatchSize
	}

	s := &Service{
		store:    store,
		verifier: verifier,
		cfg:      cfg,
		admin:    cfg.AdminAddress(),
		locks:    keylock.New[job.ID](),
		events:   nopPublisher{},
		now:      time.Now,
		log:      log.With().Str("component", "oracle").Logger(),
	}
	for _, opt := range opts {
		opt(s)
	}

	// Persistent stores survive restarts; start the gauge from what they hold.
	if s.metrics != nil {
		counts, err := store.CountByStatus(context.Background())
		if err != nil {
			return nil, fmt.Errorf("count in-progress jobs: %w", err)
		}
		s.metrics.JobsInProgress.Set(float64(counts[job.StatusInProgress]))
	}

	s.log.Info().
		Str("verifier", verifier.Name()).
		Str("admin", s.admin.Hex()).
		Bool("enforce_deadline", cfg.EnforceDeadline).
		Int("max_batch_size", cfg.MaxBatchSize).
		Msg("Oracle service initialized")
	return s, nil
}

// Request opens a job for id owned by caller. deadline is a unix timestamp
// in seconds and must lie in the future.
func (s *Service) Request(ctx context.Context, caller common.Address, id job.ID, deadline uint64) (j job.Job, err error) {
	defer func() { s.metrics.observe(opRequest, err) }()

	if caller == (common.Address{}) {
		return job.Job{}, newError(KindInvalidCaller, opRequest, id, nil)
	}
	if now := s.now().Unix(); now >= 0 && deadline <= uint64(now) {
		return job.Job{}, newError(KindInvalidDeadline, opRequest, id,
			fmt.Errorf("deadline %d, now %d", deadline, now))
	}

	unlock := s.locks.Lock(id)
	defer unlock()

	created, err := s.store.Create(ctx, id, caller, deadline)
	if err != nil {
		return job.Job{}, storeError(opRequest, id, err)
	}

	rec := s.events.Publish(JobRequested{ID: id, Requester: caller, Deadline: deadline})
	if s.metrics != nil {
		s.metrics.JobsInProgress.Inc()
	}

	s.log.Info().
		Stringer("id", id).
		Str("requester", caller.Hex()).
		Uint64("deadline", deadline).
		Uint64("seq", rec.Seq).
		Msg("Job requested")
	return created, nil
}

// DeleteRequest removes the job at id. Only its requester or the configured
// admin may delete; the id becomes reusable.
func (s *Service) DeleteRequest(ctx context.Context, caller common.Address, id job.ID) (err error) {
	defer func() { s.metrics.observe(opDelete, err) }()

	if caller == (common.Address{}) {
		return newError(KindInvalidCaller, opDelete, id, nil)
	}
	override := s.admin != (common.Address{}) && caller == s.admin

	unlock := s.locks.Lock(id)
	defer unlock()

	removed, err := s.store.Delete(ctx, id, caller, override)
	if err != nil {
		return storeError(opDelete, id, err)
	}

	rec := s.events.Publish(JobDeleted{ID: id, Requester: removed.Requester, DeletedBy: caller})
	if s.metrics != nil && removed.Status == job.StatusInProgress {
		s.metrics.JobsInProgress.Dec()
	}

	s.log.Info().
		Stringer("id", id).
		Str("caller", caller.Hex()).
		Bool("admin_override", override && removed.Requester != caller).
		Stringer("status", removed.Status).
		Uint64("seq", rec.Seq).
		Msg("Job deleted")
	return nil
}

// ReceiveResult decodes ABI calldata (uint256[24], uint256[2]) and records
// the proven answer.
func (s *Service) ReceiveResult(ctx context.Context, reporter common.Address, calldata []byte) (Receipt, error) {
	payload, err := proof.DecodeCalldata(calldata)
	if err != nil {
		err = &Error{Kind: KindMalformedPayload, Op: opReceiveResult, Cause: err}
		s.metrics.observe(opReceiveResult, err)
		return Receipt{}, err
	}
	return s.ReceivePayload(ctx, reporter, payload)
}

// ReceivePayload records the answer proven by p. Nothing is written unless
// the verifier accepts the proof.
func (s *Service) ReceivePayload(ctx context.Context, reporter common.Address, p *proof.Payload) (r Receipt, err error) {
	defer func() { s.metrics.observe(opReceiveResult, err) }()

	if p == nil {
		return Receipt{}, &Error{Kind: KindMalformedPayload, Op: opReceiveResult, Cause: errors.New("nil payload")}
	}
	if err := p.Validate(); err != nil {
		return Receipt{}, &Error{Kind: KindMalformedPayload, Op: opReceiveResult, Cause: err}
	}
	id, err := job.IDFromBig(p.QueryID())
	if err != nil {
		return Receipt{}, &Error{Kind: KindMalformedPayload, Op: opReceiveResult, Cause: err}
	}
	answer := job.AnswerFromBit(p.AnswerBit())

	unlock := s.locks.Lock(id)
	defer unlock()

	current, ok, err := s.store.Get(ctx, id)
	if err != nil {
		return Receipt{}, storeError(opReceiveResult, id, err)
	}
	if !ok {
		return Receipt{}, newError(KindJobNotFound, opReceiveResult, id, nil)
	}
	if current.Status != job.StatusInProgress {
		return Receipt{}, newError(KindJobNotInProgress, opReceiveResult, id,
			fmt.Errorf("status %s", current.Status))
	}
	if s.cfg.EnforceDeadline {
		if now := s.now().Unix(); now > 0 && uint64(now) > current.Deadline {
			return Receipt{}, newError(KindDeadlinePassed, opReceiveResult, id,
				fmt.Errorf("deadline %d, now %d", current.Deadline, now))
		}
	}

	valid, err := s.verify(ctx, p)
	if err != nil {
		return Receipt{}, newError(KindVerifierUnavailable, opReceiveResult, id, err)
	}
	if !valid {
		s.log.Warn().
			Stringer("id", id).
			Str("reporter", reporter.Hex()).
			Msg("Rejected result with invalid proof")
		return Receipt{}, newError(KindInvalidProof, opReceiveResult, id, nil)
	}

	if _, err := s.store.Complete(ctx, id, answer); err != nil {
		return Receipt{}, storeError(opReceiveResult, id, err)
	}

	rec := s.events.Publish(ResultRecorded{ID: id, Answer: answer, Reporter: reporter})
	if s.metrics != nil {
		s.metrics.JobsInProgress.Dec()
	}

	s.log.Info().
		Stringer("id", id).
		Stringer("answer", answer).
		Str("reporter", reporter.Hex()).
		Uint64("seq", rec.Seq).
		Msg("Result recorded")
	return Receipt{ID: id, Answer: answer, Seq: rec.Seq}, nil
}

func (s *Service) verify(ctx context.Context, p *proof.Payload) (bool, error) {
	start := time.Now()
	valid, err := s.verifier.Verify(ctx, p.Proof, p.PublicSignals)
	if s.metrics != nil {
		verdict := "rejected"
		switch {
		case err != nil:
			verdict = "error"
		case valid:
			verdict = "accepted"
		}
		s.metrics.VerifyDuration.WithLabelValues(s.verifier.Name(), verdict).Observe(time.Since(start).Seconds())
	}
	if err != nil {
		s.log.Error().Err(err).Str("backend", s.verifier.Name()).Msg("Proof verification failed")
		return false, err
	}
	return valid, nil
}

// CheckNumber returns the recorded answer for id. Unknown and unfinished jobs
// report AnswerNotSet.
func (s *Service) CheckNumber(ctx context.Context, id job.ID) (job.Answer, error) {
	j, ok, err := s.store.Get(ctx, id)
	if err != nil {
		return job.AnswerNotSet, storeError(opCheckNumber, id, err)
	}
	if !ok || j.Status != job.StatusCompleted {
		return job.AnswerNotSet, nil
	}
	return j.Answer, nil
}

// Job returns the record at id. Unknown ids yield the zero Job.
func (s *Service) Job(ctx context.Context, id job.ID) (job.Job, error) {
	j, ok, err := s.store.Get(ctx, id)
	if err != nil {
		return job.Job{}, storeError(opJob, id, err)
	}
	if !ok {
		return job.Job{}, nil
	}
	return j, nil
}

// Stats summarizes stored jobs.
type Stats struct {
	InProgress int `json:"in_progress"`
	Completed  int `json:"completed"`
}

// Stats counts stored jobs by status.
func (s *Service) Stats(ctx context.Context) (Stats, error) {
	counts, err := s.store.CountByStatus(ctx)
	if err != nil {
		return Stats{}, fmt.Errorf("count jobs: %w", err)
	}
	return Stats{
		InProgress: counts[job.StatusInProgress],
		Completed:  counts[job.StatusCompleted],
	}, nil
}

// VerifierName reports the configured proof backend.
func (s *Service) VerifierName() string {
	return s.verifier.Name()
}

// Ping checks the job store backend.
func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}
