package oracle

import (
	"context"
	"errors"
	"io"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/compose-network/oracle/metrics"
	"github.com/compose-network/oracle/x/events"
	"github.com/compose-network/oracle/x/kv"
	"github.com/compose-network/oracle/x/oracle/job"
	"github.com/compose-network/oracle/x/oracle/jobstore"
	"github.com/compose-network/oracle/x/proof"
)

var (
	alice = common.HexToAddress("0x00000000000000000000000000000000000a11ce")
	bob   = common.HexToAddress("0x0000000000000000000000000000000000000b0b")
	admin = common.HexToAddress("0x00000000000000000000000000000000000ad319")

	testNow      = time.Unix(1_700_000_000, 0)
	testDeadline = uint64(testNow.Unix() + 3600)
)

type mockVerifier struct {
	mock.Mock
}

func (m *mockVerifier) Verify(ctx context.Context, p [proof.ProofWords]*big.Int, s [proof.SignalCount]*big.Int) (bool, error) {
	args := m.Called(ctx, p, s)
	return args.Bool(0), args.Error(1)
}

func (m *mockVerifier) Name() string {
	return "mock"
}

func signalsFor(id int64) interface{} {
	return mock.MatchedBy(func(s [proof.SignalCount]*big.Int) bool {
		return s[0].Int64() == id
	})
}

func testPayload(id int64, bit int64) *proof.Payload {
	p := &proof.Payload{}
	for i := range p.Proof {
		p.Proof[i] = big.NewInt(int64(i) + 1)
	}
	p.PublicSignals[0] = big.NewInt(id)
	p.PublicSignals[1] = big.NewInt(bit)
	return p
}

func testCalldata(t *testing.T, id int64, bit int64) []byte {
	t.Helper()
	data, err := testPayload(id, bit).EncodeCalldata()
	require.NoError(t, err)
	return data
}

type fixture struct {
	svc      *Service
	store    *jobstore.Store
	verifier *mockVerifier
	bus      *events.Bus
	clock    *time.Time
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()
	logger := zerolog.New(io.Discard)

	store := jobstore.New(kv.NewMemory(), logger)
	v := &mockVerifier{}
	bus := events.NewBus(0)
	now := testNow

	svc, err := NewService(store, v, cfg, logger,
		WithEvents(bus),
		WithClock(func() time.Time { return now }),
	)
	require.NoError(t, err)
	return &fixture{svc: svc, store: store, verifier: v, bus: bus, clock: &now}
}

func (f *fixture) request(t *testing.T, owner common.Address, id uint64) {
	t.Helper()
	_, err := f.svc.Request(t.Context(), owner, job.NewID(id), testDeadline)
	require.NoError(t, err)
}

func TestRequestCreatesJob(t *testing.T) {
	f := newFixture(t, DefaultConfig())

	created, err := f.svc.Request(t.Context(), alice, job.NewID(99), testDeadline)
	require.NoError(t, err)
	require.Equal(t, job.StatusInProgress, created.Status)

	got, err := f.svc.Job(t.Context(), job.NewID(99))
	require.NoError(t, err)
	require.Equal(t, alice, got.Requester)
	require.Equal(t, testDeadline, got.Deadline)
	require.Equal(t, job.StatusInProgress, got.Status)
	require.Equal(t, job.AnswerNotSet, got.Answer)

	recs := f.bus.Journal().ReadAfter(0, 0)
	require.Len(t, recs, 1)
	require.Equal(t, JobRequested{ID: job.NewID(99), Requester: alice, Deadline: testDeadline}, recs[0].Event)
}

func TestRequestValidation(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	now := uint64(testNow.Unix())

	_, err := f.svc.Request(t.Context(), alice, job.NewID(1), now)
	require.ErrorIs(t, err, ErrInvalidDeadline)

	_, err = f.svc.Request(t.Context(), alice, job.NewID(1), now-1)
	require.ErrorIs(t, err, ErrInvalidDeadline)

	_, err = f.svc.Request(t.Context(), common.Address{}, job.NewID(1), testDeadline)
	require.ErrorIs(t, err, ErrInvalidCaller)

	_, ok, err := f.store.Get(t.Context(), job.NewID(1))
	require.NoError(t, err)
	require.False(t, ok)
	require.Zero(t, f.bus.Journal().LastSeq())
}

func TestRequestDuplicate(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	f.request(t, alice, 5)

	_, err := f.svc.Request(t.Context(), bob, job.NewID(5), testDeadline+10)
	require.ErrorIs(t, err, ErrJobAlreadyExists)
	require.Equal(t, KindJobAlreadyExists, KindOf(err))

	got, err := f.svc.Job(t.Context(), job.NewID(5))
	require.NoError(t, err)
	require.Equal(t, alice, got.Requester)
	require.Equal(t, testDeadline, got.Deadline)
}

func TestDeleteRequestOwnership(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	f.request(t, alice, 7)

	err := f.svc.DeleteRequest(t.Context(), bob, job.NewID(7))
	require.ErrorIs(t, err, ErrNotOwner)

	require.NoError(t, f.svc.DeleteRequest(t.Context(), alice, job.NewID(7)))

	got, err := f.svc.Job(t.Context(), job.NewID(7))
	require.NoError(t, err)
	require.False(t, got.Exists())

	err = f.svc.DeleteRequest(t.Context(), alice, job.NewID(7))
	require.ErrorIs(t, err, ErrJobNotFound)

	// The id is reusable by anyone after deletion.
	f.request(t, bob, 7)
}

func TestDeleteRequestAdminOverride(t *testing.T) {
	f := newFixture(t, Config{Admin: admin.Hex()})
	f.request(t, alice, 8)

	require.NoError(t, f.svc.DeleteRequest(t.Context(), admin, job.NewID(8)))

	recs := f.bus.Journal().ReadAfter(1, 0)
	require.Len(t, recs, 1)
	require.Equal(t, JobDeleted{ID: job.NewID(8), Requester: alice, DeletedBy: admin}, recs[0].Event)
}

func TestReceiveResultRecordsAnswer(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	f.request(t, alice, 99)
	f.request(t, alice, 101)
	f.verifier.On("Verify", mock.Anything, mock.Anything, mock.Anything).Return(true, nil)

	r, err := f.svc.ReceiveResult(t.Context(), bob, testCalldata(t, 99, 1))
	require.NoError(t, err)
	require.Equal(t, job.AnswerTrue, r.Answer)

	r, err = f.svc.ReceiveResult(t.Context(), bob, testCalldata(t, 101, 0))
	require.NoError(t, err)
	require.Equal(t, job.AnswerFalse, r.Answer)

	for id, want := range map[uint64]job.Answer{99: job.AnswerTrue, 101: job.AnswerFalse} {
		got, err := f.svc.CheckNumber(t.Context(), job.NewID(id))
		require.NoError(t, err)
		require.Equal(t, want, got)

		j, err := f.svc.Job(t.Context(), job.NewID(id))
		require.NoError(t, err)
		require.Equal(t, job.StatusCompleted, j.Status)
	}

	last := f.bus.Journal().ReadAfter(3, 0)
	require.Len(t, last, 1)
	require.Equal(t, ResultRecorded{ID: job.NewID(101), Answer: job.AnswerFalse, Reporter: bob}, last[0].Event)
	require.Equal(t, last[0].Seq, r.Seq)
}

func TestReceiveResultInvalidProofLeavesJob(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	f.request(t, alice, 3)
	f.verifier.On("Verify", mock.Anything, mock.Anything, mock.Anything).Return(false, nil)

	_, err := f.svc.ReceiveResult(t.Context(), bob, testCalldata(t, 3, 1))
	require.ErrorIs(t, err, ErrInvalidProof)

	j, err := f.svc.Job(t.Context(), job.NewID(3))
	require.NoError(t, err)
	require.Equal(t, job.StatusInProgress, j.Status)
	require.Equal(t, job.AnswerNotSet, j.Answer)
	require.Equal(t, uint64(1), f.bus.Journal().LastSeq())
}

func TestReceiveResultVerifierUnavailable(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	f.request(t, alice, 3)
	backendErr := errors.Join(proof.ErrBackendUnavailable, errors.New("dial tcp: refused"))
	f.verifier.On("Verify", mock.Anything, mock.Anything, mock.Anything).Return(false, backendErr)

	_, err := f.svc.ReceiveResult(t.Context(), bob, testCalldata(t, 3, 1))
	require.ErrorIs(t, err, ErrVerifierUnavailable)
	require.ErrorIs(t, err, proof.ErrBackendUnavailable)

	answer, err := f.svc.CheckNumber(t.Context(), job.NewID(3))
	require.NoError(t, err)
	require.Equal(t, job.AnswerNotSet, answer)
}

func TestReceiveResultLifecycleErrors(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	f.verifier.On("Verify", mock.Anything, mock.Anything, mock.Anything).Return(true, nil)

	_, err := f.svc.ReceiveResult(t.Context(), bob, testCalldata(t, 42, 1))
	require.ErrorIs(t, err, ErrJobNotFound)
	f.verifier.AssertNotCalled(t, "Verify", mock.Anything, mock.Anything, mock.Anything)

	f.request(t, alice, 42)
	_, err = f.svc.ReceiveResult(t.Context(), bob, testCalldata(t, 42, 1))
	require.NoError(t, err)

	// A second proof, even with the opposite answer, cannot overwrite.
	_, err = f.svc.ReceiveResult(t.Context(), bob, testCalldata(t, 42, 0))
	require.ErrorIs(t, err, ErrJobNotInProgress)
	f.verifier.AssertNumberOfCalls(t, "Verify", 1)

	answer, err := f.svc.CheckNumber(t.Context(), job.NewID(42))
	require.NoError(t, err)
	require.Equal(t, job.AnswerTrue, answer)
}

func TestReceiveResultMalformed(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	f.request(t, alice, 1)

	_, err := f.svc.ReceiveResult(t.Context(), bob, []byte{1, 2, 3})
	require.ErrorIs(t, err, ErrMalformedPayload)

	bad := testPayload(1, 2)
	_, err = f.svc.ReceivePayload(t.Context(), bob, bad)
	require.ErrorIs(t, err, ErrMalformedPayload)

	_, err = f.svc.ReceivePayload(t.Context(), bob, nil)
	require.ErrorIs(t, err, ErrMalformedPayload)

	f.verifier.AssertNotCalled(t, "Verify", mock.Anything, mock.Anything, mock.Anything)
}

func TestDeadlineEnforcement(t *testing.T) {
	t.Run("informational by default", func(t *testing.T) {
		f := newFixture(t, DefaultConfig())
		f.request(t, alice, 1)
		f.verifier.On("Verify", mock.Anything, mock.Anything, mock.Anything).Return(true, nil)

		*f.clock = time.Unix(int64(testDeadline)+60, 0)
		_, err := f.svc.ReceiveResult(t.Context(), bob, testCalldata(t, 1, 1))
		require.NoError(t, err)
	})

	t.Run("enforced", func(t *testing.T) {
		f := newFixture(t, Config{EnforceDeadline: true})
		f.request(t, alice, 1)

		*f.clock = time.Unix(int64(testDeadline)+60, 0)
		_, err := f.svc.ReceiveResult(t.Context(), bob, testCalldata(t, 1, 1))
		require.ErrorIs(t, err, ErrDeadlinePassed)
		f.verifier.AssertNotCalled(t, "Verify", mock.Anything, mock.Anything, mock.Anything)
	})
}

func TestMultiReceiveResultIsolatesItems(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	f.request(t, alice, 1)
	f.request(t, alice, 2)
	f.verifier.On("Verify", mock.Anything, mock.Anything, signalsFor(2)).Return(false, nil)
	f.verifier.On("Verify", mock.Anything, mock.Anything, mock.Anything).Return(true, nil)

	items := [][]byte{
		testCalldata(t, 1, 1),
		testCalldata(t, 2, 1),
		testCalldata(t, 3, 1),
		testCalldata(t, 1, 0),
		{0xde, 0xad},
	}
	res, err := f.svc.MultiReceiveResult(t.Context(), bob, items)

	var batchErr *BatchError
	require.ErrorAs(t, err, &batchErr)
	require.Equal(t, map[int]Kind{
		1: KindInvalidProof,
		2: KindJobNotFound,
		3: KindJobNotInProgress,
		4: KindMalformedPayload,
	}, batchErr.Kinds())
	require.Len(t, res.Items, len(items))
	require.Equal(t, 1, res.Succeeded())
	require.Equal(t, job.AnswerTrue, res.Items[0].Receipt.Answer)

	answer, err := f.svc.CheckNumber(t.Context(), job.NewID(1))
	require.NoError(t, err)
	require.Equal(t, job.AnswerTrue, answer)

	j, err := f.svc.Job(t.Context(), job.NewID(2))
	require.NoError(t, err)
	require.Equal(t, job.StatusInProgress, j.Status)
}

func TestMultiReceiveResultAllValid(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	f.request(t, alice, 1)
	f.request(t, alice, 2)
	f.verifier.On("Verify", mock.Anything, mock.Anything, mock.Anything).Return(true, nil)

	res, err := f.svc.MultiReceiveResult(t.Context(), bob, [][]byte{
		testCalldata(t, 1, 1),
		testCalldata(t, 2, 1),
	})
	require.NoError(t, err)
	require.Equal(t, 2, res.Succeeded())
}

func TestMultiReceiveResultBounds(t *testing.T) {
	f := newFixture(t, Config{MaxBatchSize: 2})

	_, err := f.svc.MultiReceiveResult(t.Context(), bob, nil)
	require.ErrorIs(t, err, ErrEmptyBatch)

	_, err = f.svc.MultiReceiveResult(t.Context(), bob, [][]byte{{1}, {2}, {3}})
	require.ErrorIs(t, err, ErrBatchTooLarge)
}

func TestConcurrentResultsCompleteOnce(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	f.request(t, alice, 77)
	f.verifier.On("Verify", mock.Anything, mock.Anything, mock.Anything).Return(true, nil)

	const workers = 32
	payloads := [][]byte{testCalldata(t, 77, 0), testCalldata(t, 77, 1)}
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		others    []error
	)
	for i := range workers {
		wg.Add(1)
		go func(data []byte) {
			defer wg.Done()
			_, err := f.svc.ReceiveResult(context.Background(), bob, data)
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				successes++
			} else {
				others = append(others, err)
			}
		}(payloads[i%2])
	}
	wg.Wait()

	require.Equal(t, 1, successes)
	require.Len(t, others, workers-1)
	for _, err := range others {
		require.ErrorIs(t, err, ErrJobNotInProgress)
	}
	f.verifier.AssertNumberOfCalls(t, "Verify", 1)

	recorded := 0
	for _, r := range f.bus.Journal().ReadAfter(0, 0) {
		if r.Topic == TopicResultRecorded {
			recorded++
		}
	}
	require.Equal(t, 1, recorded)
}

func TestCheckNumberBeforeCompletion(t *testing.T) {
	f := newFixture(t, DefaultConfig())

	answer, err := f.svc.CheckNumber(t.Context(), job.NewID(9))
	require.NoError(t, err)
	require.Equal(t, job.AnswerNotSet, answer)

	f.request(t, alice, 9)
	answer, err = f.svc.CheckNumber(t.Context(), job.NewID(9))
	require.NoError(t, err)
	require.Equal(t, job.AnswerNotSet, answer)
}

func TestRequestBeforeEpochClock(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	*f.clock = time.Unix(-60, 0)

	_, err := f.svc.Request(t.Context(), alice, job.NewID(1), 0)
	require.NoError(t, err)
	_, err = f.svc.Request(t.Context(), alice, job.NewID(2), testDeadline)
	require.NoError(t, err)
}

func TestInProgressGaugeStartsFromStore(t *testing.T) {
	logger := zerolog.New(io.Discard)
	store := jobstore.New(kv.NewMemory(), logger)
	for _, id := range []uint64{1, 2, 3} {
		_, err := store.Create(t.Context(), job.NewID(id), alice, testDeadline)
		require.NoError(t, err)
	}
	_, err := store.Complete(t.Context(), job.NewID(3), job.AnswerTrue)
	require.NoError(t, err)

	m := NewMetrics(metrics.NewComponentRegistryWith(prometheus.NewRegistry(), "oracle", "service"))
	v := &mockVerifier{}
	v.On("Verify", mock.Anything, mock.Anything, mock.Anything).Return(true, nil)
	svc, err := NewService(store, v, DefaultConfig(), logger,
		WithMetrics(m),
		WithClock(func() time.Time { return testNow }),
	)
	require.NoError(t, err)
	require.Equal(t, float64(2), testutil.ToFloat64(m.JobsInProgress))

	_, err = svc.ReceiveResult(t.Context(), bob, testCalldata(t, 1, 0))
	require.NoError(t, err)
	require.Equal(t, float64(1), testutil.ToFloat64(m.JobsInProgress))
}

func TestStatsAndMetrics(t *testing.T) {
	logger := zerolog.New(io.Discard)
	reg := prometheus.NewRegistry()
	m := NewMetrics(metrics.NewComponentRegistryWith(reg, "oracle", "service"))

	v := &mockVerifier{}
	v.On("Verify", mock.Anything, mock.Anything, mock.Anything).Return(true, nil)
	svc, err := NewService(jobstore.New(kv.NewMemory(), logger), v, DefaultConfig(), logger,
		WithMetrics(m),
		WithClock(func() time.Time { return testNow }),
	)
	require.NoError(t, err)

	for _, id := range []uint64{1, 2, 3} {
		_, err := svc.Request(t.Context(), alice, job.NewID(id), testDeadline)
		require.NoError(t, err)
	}
	_, err = svc.ReceiveResult(t.Context(), bob, testCalldata(t, 2, 1))
	require.NoError(t, err)
	_, err = svc.Request(t.Context(), alice, job.NewID(1), testDeadline)
	require.Error(t, err)

	stats, err := svc.Stats(t.Context())
	require.NoError(t, err)
	require.Equal(t, Stats{InProgress: 2, Completed: 1}, stats)

	require.Equal(t, float64(2), testutil.ToFloat64(m.JobsInProgress))
	require.Equal(t, float64(3), testutil.ToFloat64(m.Operations.WithLabelValues(opRequest, "ok")))
	require.Equal(t, float64(1), testutil.ToFloat64(m.Operations.WithLabelValues(opRequest, "job_already_exists")))
	require.Equal(t, float64(1), testutil.ToFloat64(m.Operations.WithLabelValues(opReceiveResult, "ok")))
}

func TestErrorFormatting(t *testing.T) {
	err := newError(KindJobNotFound, opReceiveResult, job.NewID(12), nil)
	require.Equal(t, "oracle receiveResult 12: job not found", err.Error())
	require.ErrorIs(t, err, ErrJobNotFound)
	require.NotErrorIs(t, err, ErrJobNotInProgress)

	wrapped := storeError(opRequest, job.NewID(1), errors.New("disk full"))
	require.Equal(t, KindUnknown, KindOf(wrapped))
	require.Equal(t, "internal", KindOf(wrapped).String())
}
