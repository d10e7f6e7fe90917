package http

import (
	"net/http"

	"github.com/gorilla/mux"
)

// RegisterMux binds gorilla/mux routes.
func (h *Handler) RegisterMux(r *mux.Router) {
	r.HandleFunc(routeJobs, h.handleRequestJob).Methods(http.MethodPost).Name(routeNameRequestJob)
	r.HandleFunc(routeJobByID, h.handleDeleteJob).Methods(http.MethodDelete).Name(routeNameDeleteJob)
	r.HandleFunc(routeJobByID, h.handleGetJob).Methods(http.MethodGet).Name(routeNameGetJob)
	r.HandleFunc(routeJobAnswer, h.handleCheckNumber).Methods(http.MethodGet).Name(routeNameJobAnswer)
	r.HandleFunc(routeResults, h.handleReceiveResult).Methods(http.MethodPost).Name(routeNameSubmitResult)
	r.HandleFunc(routeResultsBatch, h.handleMultiReceiveResult).
		Methods(http.MethodPost).
		Name(routeNameSubmitBatch)

	if h.journal != nil {
		r.HandleFunc(routeEvents, h.handleEvents).Methods(http.MethodGet).Name(routeNameEvents)
		r.HandleFunc(routeEventsStream, h.handleEventsStream).Methods(http.MethodGet).Name(routeNameEventsStream)
	}
}
