package http

// Route patterns for the oracle HTTP surface.
const (
	routeJobs         = "/v1/jobs"
	routeJobByID      = "/v1/jobs/{id}"
	routeJobAnswer    = "/v1/jobs/{id}/answer"
	routeResults      = "/v1/results"
	routeResultsBatch = "/v1/results/batch"
	routeEvents       = "/v1/events"
	routeEventsStream = "/v1/events/ws"
)

// Route names for mux URL building.
const (
	routeNameRequestJob   = "oracle_request_job"
	routeNameDeleteJob    = "oracle_delete_job"
	routeNameGetJob       = "oracle_get_job"
	routeNameJobAnswer    = "oracle_job_answer"
	routeNameSubmitResult = "oracle_submit_result"
	routeNameSubmitBatch  = "oracle_submit_batch"
	routeNameEvents       = "oracle_events"
	routeNameEventsStream = "oracle_events_stream"
)
