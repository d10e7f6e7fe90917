package events

import (
	"context"
	"sync"
	"time"
)

// Journal is a bounded, in-memory log of published records. Sequence numbers
// start at 1 and never repeat; the oldest records are dropped past capacity.
type Journal struct {
	mu       sync.RWMutex
	records  []Record
	capacity int
	lastSeq  uint64
	notify   chan struct{}
}

// NewJournal creates a journal holding at most capacity records. A
// non-positive capacity keeps everything.
func NewJournal(capacity int) *Journal {
	return &Journal{
		records:  make([]Record, 0),
		capacity: capacity,
		notify:   make(chan struct{}),
	}
}

// Append stores e with the next sequence number and wakes waiters.
func (j *Journal) Append(e Event, at time.Time) Record {
	j.mu.Lock()
	defer j.mu.Unlock()

	j.lastSeq++
	rec := Record{
		Seq:   j.lastSeq,
		Time:  at,
		Topic: e.Topic(),
		Event: e,
	}
	j.records = append(j.records, rec)

	if j.capacity > 0 && len(j.records) > j.capacity {
		drop := len(j.records) - j.capacity
		j.records = append(j.records[:0:0], j.records[drop:]...)
	}

	close(j.notify)
	j.notify = make(chan struct{})
	return rec
}

// ReadAfter returns up to limit records with Seq > after. A non-positive
// limit returns all of them.
func (j *Journal) ReadAfter(after uint64, limit int) []Record {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.readAfterLocked(after, limit)
}

func (j *Journal) readAfterLocked(after uint64, limit int) []Record {
	results := make([]Record, 0)
	for _, r := range j.records {
		if r.Seq <= after {
			continue
		}
		results = append(results, r)
		if limit > 0 && len(results) == limit {
			break
		}
	}
	return results
}

// Wait blocks until a record with Seq > after exists or ctx is done.
func (j *Journal) Wait(ctx context.Context, after uint64, limit int) ([]Record, error) {
	for {
		j.mu.RLock()
		recs := j.readAfterLocked(after, limit)
		ch := j.notify
		j.mu.RUnlock()

		if len(recs) > 0 {
			return recs, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ch:
		}
	}
}

// LastSeq returns the sequence number of the newest record, or 0.
func (j *Journal) LastSeq() uint64 {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.lastSeq
}

// Len returns the number of retained records.
func (j *Journal) Len() int {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return len(j.records)
}
