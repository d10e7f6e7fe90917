package oracle

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// BatchItem is the outcome of one submission in a batch.
type BatchItem struct {
	Index   int
	Receipt Receipt
	Err     error
}

// BatchResult lists every item of a batch in submission order.
type BatchResult struct {
	Items []BatchItem
}

// Succeeded counts the items that were recorded.
func (r BatchResult) Succeeded() int {
	n := 0
	for _, it := range r.Items {
		if it.Err == nil {
			n++
		}
	}
	return n
}

// BatchError reports the failed items of a batch. Items not listed were
// committed and stay committed.
type BatchError struct {
	Total  int
	Failed map[int]error
}

func (e *BatchError) Error() string {
	idx := make([]int, 0, len(e.Failed))
	for i := range e.Failed {
		idx = append(idx, i)
	}
	sort.Ints(idx)

	parts := make([]string, 0, len(idx))
	for _, i := range idx {
		parts = append(parts, fmt.Sprintf("%d:%s", i, KindOf(e.Failed[i])))
	}
	return fmt.Sprintf("oracle %s: %d of %d items failed [%s]",
		opMultiReceive, len(e.Failed), e.Total, strings.Join(parts, " "))
}

// Kinds maps failed item indices to their error kind.
func (e *BatchError) Kinds() map[int]Kind {
	out := make(map[int]Kind, len(e.Failed))
	for i, err := range e.Failed {
		out[i] = KindOf(err)
	}
	return out
}

// MultiReceiveResult processes each calldata item as ReceiveResult would,
// independently and in order. A failed item neither blocks nor reverts the
// others. When any item fails the result is accompanied by a *BatchError.
func (s *Service) MultiReceiveResult(
	ctx context.Context,
	reporter common.Address,
	items [][]byte,
) (BatchResult, error) {
	if len(items) == 0 {
		err := &Error{Kind: KindEmptyBatch, Op: opMultiReceive}
		s.metrics.observe(opMultiReceive, err)
		return BatchResult{}, err
	}
	if len(items) > s.cfg.MaxBatchSize {
		err := &Error{
			Kind:  KindBatchTooLarge,
			Op:    opMultiReceive,
			Cause: fmt.Errorf("%d items, limit %d", len(items), s.cfg.MaxBatchSize),
		}
		s.metrics.observe(opMultiReceive, err)
		return BatchResult{}, err
	}
	if s.metrics != nil {
		s.metrics.BatchSize.Observe(float64(len(items)))
	}

	result := BatchResult{Items: make([]BatchItem, len(items))}
	failed := make(map[int]error)
	for i, data := range items {
		item := BatchItem{Index: i}
		if err := ctx.Err(); err != nil {
			item.Err = err
		} else {
			item.Receipt, item.Err = s.ReceiveResult(ctx, reporter, data)
		}
		if item.Err != nil {
			failed[i] = item.Err
		}
		result.Items[i] = item
	}

	s.log.Info().
		Int("items", len(items)).
		Int("succeeded", len(items)-len(failed)).
		Str("reporter", reporter.Hex()).
		Msg("Processed result batch")

	if len(failed) > 0 {
		err := &BatchError{Total: len(items), Failed: failed}
		s.metrics.observe(opMultiReceive, err)
		return result, err
	}
	s.metrics.observe(opMultiReceive, nil)
	return result, nil
}
