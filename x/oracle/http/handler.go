package http

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	apicommon "github.com/compose-network/oracle/server/api"
	"github.com/compose-network/oracle/server/api/middleware"
	"github.com/compose-network/oracle/x/events"
	"github.com/compose-network/oracle/x/oracle"
	"github.com/compose-network/oracle/x/oracle/job"
)

// Service is the oracle surface served over HTTP.
type Service interface {
	Request(ctx context.Context, caller common.Address, id job.ID, deadline uint64) (job.Job, error)
	DeleteRequest(ctx context.Context, caller common.Address, id job.ID) error
	ReceiveResult(ctx context.Context, reporter common.Address, calldata []byte) (oracle.Receipt, error)
	MultiReceiveResult(ctx context.Context, reporter common.Address, items [][]byte) (oracle.BatchResult, error)
	CheckNumber(ctx context.Context, id job.ID) (job.Answer, error)
	Job(ctx context.Context, id job.ID) (job.Job, error)
}

var _ Service = (*oracle.Service)(nil)

const (
	defaultEventsLimit = 100
	maxEventsLimit     = 1000
)

type Handler struct {
	svc          Service
	journal      *events.Journal
	maxBodyBytes int64
	upgrader     websocket.Upgrader
	log          zerolog.Logger
}

// Option configures a Handler.
type Option func(*Handler)

// WithJournal enables the event routes.
func WithJournal(j *events.Journal) Option {
	return func(h *Handler) {
		h.journal = j
	}
}

func WithMaxBodyBytes(n int64) Option {
	return func(h *Handler) {
		if n > 0 {
			h.maxBodyBytes = n
		}
	}
}

func NewHandler(svc Service, log zerolog.Logger, opts ...Option) *Handler {
	h := &Handler{
		svc:          svc,
		maxBodyBytes: 1 << 20,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		log: log.With().Str("component", "oracle-http").Logger(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *Handler) handleRequestJob(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}

	var req requestJobReq
	if err := apicommon.DecodeJSON(w, r, h.maxBodyBytes, &req); err != nil {
		apicommon.WriteError(w, r, http.StatusBadRequest, "invalid_json", err.Error(), nil)
		return
	}
	if !req.ID.set {
		apicommon.WriteError(w, r, http.StatusBadRequest, "invalid_job_id", "id is required", nil)
		return
	}

	created, err := h.svc.Request(r.Context(), caller, req.ID.ID, req.Deadline)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	apicommon.WriteJSON(w, http.StatusCreated, newJobResp(req.ID.ID, created))
}

func (h *Handler) handleDeleteJob(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	if err := h.svc.DeleteRequest(r.Context(), caller, id); err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	apicommon.WriteJSON(w, http.StatusOK, map[string]any{"id": id, "status": "deleted"})
}

func (h *Handler) handleGetJob(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	j, err := h.svc.Job(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	apicommon.WriteJSON(w, http.StatusOK, newJobResp(id, j))
}

func (h *Handler) handleCheckNumber(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	answer, err := h.svc.CheckNumber(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	apicommon.WriteJSON(w, http.StatusOK, answerResp{ID: id, Answer: answer, Code: uint8(answer)})
}

func (h *Handler) handleReceiveResult(w http.ResponseWriter, r *http.Request) {
	reporter := h.reporter(r)

	var req resultReq
	if err := apicommon.DecodeJSON(w, r, h.maxBodyBytes, &req); err != nil {
		apicommon.WriteError(w, r, http.StatusBadRequest, "invalid_json", err.Error(), nil)
		return
	}
	data, err := req.calldata()
	if err != nil {
		apicommon.WriteError(w, r, http.StatusBadRequest, oracle.KindMalformedPayload.String(), err.Error(), nil)
		return
	}

	receipt, err := h.svc.ReceiveResult(r.Context(), reporter, data)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	apicommon.WriteJSON(w, http.StatusOK, receipt)
}

func (h *Handler) handleMultiReceiveResult(w http.ResponseWriter, r *http.Request) {
	reporter := h.reporter(r)

	var req batchReq
	if err := apicommon.DecodeJSON(w, r, h.maxBodyBytes, &req); err != nil {
		apicommon.WriteError(w, r, http.StatusBadRequest, "invalid_json", err.Error(), nil)
		return
	}

	// Items that cannot be encoded are submitted empty so the service
	// reports them as malformed in place; the response carries the local error.
	items := make([][]byte, len(req.Items))
	encodeErrs := make(map[int]error)
	for i, it := range req.Items {
		data, err := it.calldata()
		if err != nil {
			encodeErrs[i] = err
			continue
		}
		items[i] = data
	}

	res, err := h.svc.MultiReceiveResult(r.Context(), reporter, items)
	var batchErr *oracle.BatchError
	if err != nil && !errors.As(err, &batchErr) {
		h.writeServiceError(w, r, err)
		return
	}

	resp := batchResp{Items: make([]batchItemResp, 0, len(res.Items))}
	for _, it := range res.Items {
		item := batchItemResp{Index: it.Index, OK: it.Err == nil}
		if it.Err == nil {
			receipt := it.Receipt
			item.Receipt = &receipt
			resp.Succeeded++
		} else {
			item.Error = &itemErr{Code: oracle.KindOf(it.Err).String(), Message: it.Err.Error()}
			if encErr, ok := encodeErrs[it.Index]; ok {
				item.Error = &itemErr{Code: oracle.KindMalformedPayload.String(), Message: encErr.Error()}
			}
			resp.Failed++
		}
		resp.Items = append(resp.Items, item)
	}

	status := http.StatusOK
	switch {
	case resp.Failed > 0 && resp.Succeeded > 0:
		status = http.StatusMultiStatus
	case resp.Failed > 0:
		status = http.StatusUnprocessableEntity
	}
	apicommon.WriteJSON(w, status, resp)
}

func (h *Handler) handleEvents(w http.ResponseWriter, r *http.Request) {
	after, limit, ok := eventsQuery(w, r)
	if !ok {
		return
	}

	recs := h.journal.ReadAfter(after, limit)
	apicommon.WriteJSON(w, http.StatusOK, map[string]any{
		"events":   recs,
		"last_seq": h.journal.LastSeq(),
	})
}

// caller resolves the authenticated caller or writes 401.
func (h *Handler) caller(w http.ResponseWriter, r *http.Request) (common.Address, bool) {
	addr, err := middleware.CallerFrom(r.Context())
	if err != nil {
		apicommon.WriteError(w, r, http.StatusUnauthorized, "unauthenticated", err.Error(), nil)
		return common.Address{}, false
	}
	return addr, true
}

// reporter is informational; anyone may submit a result.
func (h *Handler) reporter(r *http.Request) common.Address {
	addr, _ := middleware.CallerFrom(r.Context())
	return addr
}

func pathID(w http.ResponseWriter, r *http.Request) (job.ID, bool) {
	raw := strings.TrimSpace(mux.Vars(r)["id"])
	id, err := job.ParseID(raw)
	if err != nil {
		apicommon.WriteError(w, r, http.StatusBadRequest, "invalid_job_id", err.Error(), nil)
		return job.ID{}, false
	}
	return id, true
}

func eventsQuery(w http.ResponseWriter, r *http.Request) (uint64, int, bool) {
	q := r.URL.Query()

	var after uint64
	if v := q.Get("after"); v != "" {
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			apicommon.WriteError(w, r, http.StatusBadRequest, "invalid_query", "after must be an unsigned integer", nil)
			return 0, 0, false
		}
		after = n
	}

	limit := defaultEventsLimit
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			apicommon.WriteError(w, r, http.StatusBadRequest, "invalid_query", "limit must be a positive integer", nil)
			return 0, 0, false
		}
		limit = min(n, maxEventsLimit)
	}
	return after, limit, true
}

func statusFor(kind oracle.Kind) int {
	switch kind {
	case oracle.KindJobAlreadyExists, oracle.KindJobNotInProgress, oracle.KindDeadlinePassed:
		return http.StatusConflict
	case oracle.KindJobNotFound:
		return http.StatusNotFound
	case oracle.KindInvalidDeadline, oracle.KindMalformedPayload, oracle.KindInvalidCaller, oracle.KindEmptyBatch:
		return http.StatusBadRequest
	case oracle.KindNotOwner:
		return http.StatusForbidden
	case oracle.KindInvalidProof:
		return http.StatusUnprocessableEntity
	case oracle.KindBatchTooLarge:
		return http.StatusRequestEntityTooLarge
	case oracle.KindVerifierUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	kind := oracle.KindOf(err)
	status := statusFor(kind)
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		status = http.StatusServiceUnavailable
	}

	msg := err.Error()
	if status >= http.StatusInternalServerError && kind != oracle.KindVerifierUnavailable {
		h.log.Error().Err(err).Str("path", r.URL.Path).Msg("Oracle request failed")
		msg = http.StatusText(status)
	}
	if kind == oracle.KindVerifierUnavailable {
		h.log.Warn().Err(err).Msg("Verifier backend unavailable")
	}

	apicommon.WriteError(w, r, status, kind.String(), msg, nil)
}
