package http

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"

	"github.com/compose-network/oracle/x/oracle"
	"github.com/compose-network/oracle/x/oracle/job"
	"github.com/compose-network/oracle/x/proof"
)

// jobID accepts a JSON string (decimal or 0x-hex) or a JSON number.
type jobID struct {
	job.ID
	set bool
}

func (j *jobID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		data = []byte(s)
	}
	id, err := job.ParseID(string(data))
	if err != nil {
		return err
	}
	j.ID, j.set = id, true
	return nil
}

// requestJobReq is the JSON schema for POST routeJobs.
type requestJobReq struct {
	ID       jobID  `json:"id"`
	Deadline uint64 `json:"deadline"` // unix seconds
}

// resultReq is one result submission: raw calldata or the decoded arrays.
type resultReq struct {
	Calldata      proof.Calldata          `json:"calldata,omitempty"`
	Proof         []*math.HexOrDecimal256 `json:"proof,omitempty"`
	PublicSignals []*math.HexOrDecimal256 `json:"public_signals,omitempty"`
}

// calldata returns the ABI encoding of the submission.
func (r resultReq) calldata() ([]byte, error) {
	hasArrays := r.Proof != nil || r.PublicSignals != nil
	switch {
	case len(r.Calldata) > 0 && hasArrays:
		return nil, fmt.Errorf("provide either calldata or proof/public_signals, not both")
	case len(r.Calldata) > 0:
		return r.Calldata.Bytes(), nil
	case !hasArrays:
		return nil, fmt.Errorf("calldata or proof/public_signals required")
	}

	p, err := proof.NewPayload(toBig(r.Proof), toBig(r.PublicSignals))
	if err != nil {
		return nil, err
	}
	return p.EncodeCalldata()
}

func toBig(words []*math.HexOrDecimal256) []*big.Int {
	out := make([]*big.Int, len(words))
	for i, w := range words {
		if w != nil {
			out[i] = (*big.Int)(w)
		}
	}
	return out
}

// batchReq is the JSON schema for POST routeResultsBatch.
type batchReq struct {
	Items []resultReq `json:"items"`
}

type jobResp struct {
	ID         job.ID         `json:"id"`
	Exists     bool           `json:"exists"`
	Requester  common.Address `json:"requester"`
	Deadline   uint64         `json:"deadline"`
	Status     job.Status     `json:"status"`
	StatusCode uint8          `json:"status_code"`
	Answer     job.Answer     `json:"answer"`
	AnswerCode uint8          `json:"answer_code"`
}

func newJobResp(id job.ID, j job.Job) jobResp {
	return jobResp{
		ID:         id,
		Exists:     j.Exists(),
		Requester:  j.Requester,
		Deadline:   j.Deadline,
		Status:     j.Status,
		StatusCode: uint8(j.Status),
		Answer:     j.Answer,
		AnswerCode: uint8(j.Answer),
	}
}

type answerResp struct {
	ID     job.ID     `json:"id"`
	Answer job.Answer `json:"answer"`
	Code   uint8      `json:"code"`
}

type itemErr struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type batchItemResp struct {
	Index   int             `json:"index"`
	OK      bool            `json:"ok"`
	Receipt *oracle.Receipt `json:"receipt,omitempty"`
	Error   *itemErr        `json:"error,omitempty"`
}

type batchResp struct {
	Items     []batchItemResp `json:"items"`
	Succeeded int             `json:"succeeded"`
	Failed    int             `json:"failed"`
}
