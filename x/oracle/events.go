package oracle

import (
	"github.com/ethereum/go-ethereum/common"

	"github.com/compose-network/oracle/x/events"
	"github.com/compose-network/oracle/x/oracle/job"
)

const (
	TopicJobRequested   = "job.requested"
	TopicJobDeleted     = "job.deleted"
	TopicResultRecorded = "result.recorded"
)

// Publisher receives committed state changes in commit order.
type Publisher interface {
	Publish(e events.Event) events.Record
}

type JobRequested struct {
	ID        job.ID         `json:"id"`
	Requester common.Address `json:"requester"`
	Deadline  uint64         `json:"deadline"`
}

func (JobRequested) Topic() string { return TopicJobRequested }

type JobDeleted struct {
	ID        job.ID         `json:"id"`
	Requester common.Address `json:"requester"`
	DeletedBy common.Address `json:"deleted_by"`
}

func (JobDeleted) Topic() string { return TopicJobDeleted }

type ResultRecorded struct {
	ID       job.ID         `json:"id"`
	Answer   job.Answer     `json:"answer"`
	Reporter common.Address `json:"reporter"`
}

func (ResultRecorded) Topic() string { return TopicResultRecorded }

type nopPublisher struct{}

func (nopPublisher) Publish(e events.Event) events.Record {
	return events.Record{Topic: e.Topic(), Event: e}
}
