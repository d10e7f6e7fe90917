package jobstore

import (
	"io"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/compose-network/oracle/x/kv"
	"github.com/compose-network/oracle/x/oracle/job"
)

var (
	alice = common.HexToAddress("0x00000000000000000000000000000000000a11ce")
	bob   = common.HexToAddress("0x0000000000000000000000000000000000000b0b")
)

func newStore(t *testing.T) *Store {
	t.Helper()
	return New(kv.NewMemory(), zerolog.New(io.Discard))
}

func TestStore_CreateGet(t *testing.T) {
	s := newStore(t)
	id := job.NewID(99)

	_, ok, err := s.Get(t.Context(), id)
	require.NoError(t, err)
	require.False(t, ok)

	created, err := s.Create(t.Context(), id, alice, 1000)
	require.NoError(t, err)
	require.Equal(t, job.StatusInProgress, created.Status)

	got, ok, err := s.Get(t.Context(), id)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, job.Job{Requester: alice, Deadline: 1000, Status: job.StatusInProgress}, got)
}

func TestStore_CreateRejectsLiveJob(t *testing.T) {
	s := newStore(t)
	id := job.NewID(1)

	_, err := s.Create(t.Context(), id, alice, 1000)
	require.NoError(t, err)

	_, err = s.Create(t.Context(), id, bob, 2000)
	require.ErrorIs(t, err, job.ErrAlreadyExists)

	got, _, err := s.Get(t.Context(), id)
	require.NoError(t, err)
	require.Equal(t, alice, got.Requester)
}

func TestStore_DeleteOwnership(t *testing.T) {
	s := newStore(t)
	id := job.NewID(1)
	_, err := s.Create(t.Context(), id, alice, 1000)
	require.NoError(t, err)

	_, err = s.Delete(t.Context(), id, bob, false)
	require.ErrorIs(t, err, job.ErrNotOwner)

	removed, err := s.Delete(t.Context(), id, alice, false)
	require.NoError(t, err)
	require.Equal(t, alice, removed.Requester)

	got, ok, err := s.Get(t.Context(), id)
	require.NoError(t, err)
	require.False(t, ok)
	require.Equal(t, common.Address{}, got.Requester)

	_, err = s.Delete(t.Context(), id, alice, false)
	require.ErrorIs(t, err, job.ErrNotFound)

	// id is reusable after deletion
	_, err = s.Create(t.Context(), id, bob, 1000)
	require.NoError(t, err)
}

func TestStore_DeleteOverride(t *testing.T) {
	s := newStore(t)
	id := job.NewID(7)
	_, err := s.Create(t.Context(), id, alice, 1000)
	require.NoError(t, err)

	_, err = s.Delete(t.Context(), id, bob, true)
	require.NoError(t, err)
}

func TestStore_CompleteExactlyOnce(t *testing.T) {
	s := newStore(t)
	id := job.NewID(3)

	_, err := s.Complete(t.Context(), id, job.AnswerTrue)
	require.ErrorIs(t, err, job.ErrNotFound)

	_, err = s.Create(t.Context(), id, alice, 1000)
	require.NoError(t, err)

	done, err := s.Complete(t.Context(), id, job.AnswerFalse)
	require.NoError(t, err)
	require.Equal(t, job.StatusCompleted, done.Status)
	require.Equal(t, job.AnswerFalse, done.Answer)

	_, err = s.Complete(t.Context(), id, job.AnswerTrue)
	require.ErrorIs(t, err, job.ErrAlreadyCompleted)

	got, _, err := s.Get(t.Context(), id)
	require.NoError(t, err)
	require.Equal(t, job.AnswerFalse, got.Answer)

	// completed jobs cannot be re-requested until deleted
	_, err = s.Create(t.Context(), id, bob, 1000)
	require.ErrorIs(t, err, job.ErrAlreadyExists)
}

func TestStore_CompleteRequiresAnswer(t *testing.T) {
	s := newStore(t)
	id := job.NewID(4)
	_, err := s.Create(t.Context(), id, alice, 1000)
	require.NoError(t, err)

	_, err = s.Complete(t.Context(), id, job.AnswerNotSet)
	require.Error(t, err)
}

func TestStore_ConcurrentCompleteSingleWinner(t *testing.T) {
	s := newStore(t)
	id := job.NewID(5)
	_, err := s.Create(t.Context(), id, alice, 1000)
	require.NoError(t, err)

	var (
		wg   sync.WaitGroup
		wins atomic.Int32
	)
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.Complete(t.Context(), id, job.AnswerTrue); err == nil {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()
	require.Equal(t, int32(1), wins.Load())
}

func TestStore_CountByStatus(t *testing.T) {
	s := newStore(t)
	for i := uint64(1); i <= 3; i++ {
		_, err := s.Create(t.Context(), job.NewID(i), alice, 1000)
		require.NoError(t, err)
	}
	_, err := s.Complete(t.Context(), job.NewID(2), job.AnswerTrue)
	require.NoError(t, err)

	counts, err := s.CountByStatus(t.Context())
	require.NoError(t, err)
	require.Equal(t, 2, counts[job.StatusInProgress])
	require.Equal(t, 1, counts[job.StatusCompleted])
}
