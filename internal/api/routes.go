package api

import (
	"net/http"

	"github.com/gorilla/mux"
)

func SetupRoutes(router *mux.Router, handler *Handler) {
	api := router.PathPrefix("/api/v1").Subrouter()

	api.HandleFunc("/health", handler.HealthCheck).Methods(http.MethodGet)
	api.HandleFunc("/stats", handler.GetStats).Methods(http.MethodGet)
	api.HandleFunc("/jobs", handler.ListJobs).Methods(http.MethodGet)
	api.HandleFunc("/jobs/{name}", handler.GetJob).Methods(http.MethodGet)
	api.HandleFunc("/jobs/{name}/trigger", handler.TriggerJob).Methods(http.MethodPost)
	api.HandleFunc("/jobs/{name}/pause", handler.PauseJob).Methods(http.MethodPost)
	api.HandleFunc("/jobs/{name}/resume", handler.ResumeJob).Methods(http.MethodPost)
	api.HandleFunc("/jobs/{name}/stop", handler.StopJob).Methods(http.MethodPost)
}
