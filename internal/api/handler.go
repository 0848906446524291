package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/0xPuncker/cronkeeper/internal/cron"
	"github.com/gorilla/mux"
	"github.com/patrickmn/go-cache"
	"github.com/sirupsen/logrus"
)

const (
	statsCacheKey = "stats"
	statsCacheTTL = 5 * time.Second
)

type Handler struct {
	manager *cron.Manager
	logger  *logrus.Logger
	cache   *cache.Cache
}

type JobsResponse struct {
	Jobs      []cron.JobSnapshot `json:"jobs"`
	TotalJobs int                `json:"total_jobs"`
}

type ActionResponse struct {
	Job    string `json:"job"`
	Action string `json:"action"`
	Status string `json:"status"`
}

func NewHandler(manager *cron.Manager, logger *logrus.Logger) *Handler {
	return &Handler{
		manager: manager,
		logger:  logger,
		cache:   cache.New(statsCacheTTL, time.Minute),
	}
}

func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
	})
}

func (h *Handler) ListJobs(w http.ResponseWriter, r *http.Request) {
	jobs := h.manager.GetAllJobs()
	h.writeJSON(w, http.StatusOK, JobsResponse{
		Jobs:      jobs,
		TotalJobs: len(jobs),
	})
}

func (h *Handler) GetJob(w http.ResponseWriter, r *http.Request) {
	job, err := h.manager.GetJob(mux.Vars(r)["name"])
	if err != nil {
		h.handleError(w, err, http.StatusNotFound)
		return
	}
	h.writeJSON(w, http.StatusOK, job)
}

func (h *Handler) TriggerJob(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	if !h.exists(w, name) {
		return
	}

	ran, err := h.manager.Trigger(r.Context(), name)
	h.invalidateStats()
	if err != nil {
		h.handleError(w, err, http.StatusInternalServerError)
		return
	}
	if !ran {
		h.handleError(w, errors.New("job "+name+" is busy or stopped"), http.StatusConflict)
		return
	}
	h.writeJSON(w, http.StatusOK, ActionResponse{Job: name, Action: "trigger", Status: "completed"})
}

func (h *Handler) PauseJob(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, "pause", h.manager.Pause)
}

func (h *Handler) ResumeJob(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, "resume", h.manager.Resume)
}

func (h *Handler) StopJob(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	if !h.manager.Stop(name) {
		h.handleError(w, &cron.NotFoundError{Name: name}, http.StatusNotFound)
		return
	}
	h.invalidateStats()
	h.writeJSON(w, http.StatusOK, ActionResponse{Job: name, Action: "stop", Status: "stopped"})
}

func (h *Handler) GetStats(w http.ResponseWriter, r *http.Request) {
	if cached, found := h.cache.Get(statsCacheKey); found {
		w.Header().Set("X-Cache", "HIT")
		h.writeJSON(w, http.StatusOK, cached)
		return
	}

	stats := h.manager.GetStats()
	h.cache.SetDefault(statsCacheKey, stats)
	w.Header().Set("X-Cache", "MISS")
	h.writeJSON(w, http.StatusOK, stats)
}

func (h *Handler) transition(w http.ResponseWriter, r *http.Request, action string, apply func(string) bool) {
	name := mux.Vars(r)["name"]
	if !h.exists(w, name) {
		return
	}
	if !apply(name) {
		h.handleError(w, errors.New("cannot "+action+" job "+name+" in its current state"), http.StatusConflict)
		return
	}

	h.invalidateStats()
	job, err := h.manager.GetJob(name)
	if err != nil {
		h.handleError(w, err, http.StatusNotFound)
		return
	}
	h.writeJSON(w, http.StatusOK, ActionResponse{Job: name, Action: action, Status: string(job.State)})
}

func (h *Handler) exists(w http.ResponseWriter, name string) bool {
	if _, err := h.manager.GetJob(name); err != nil {
		h.handleError(w, err, http.StatusNotFound)
		return false
	}
	return true
}

func (h *Handler) invalidateStats() {
	h.cache.Delete(statsCacheKey)
}

func (h *Handler) writeJSON(w http.ResponseWriter, code int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.logger.Errorf("Failed to encode response: %v", err)
	}
}

func (h *Handler) handleError(w http.ResponseWriter, err error, code int) {
	var notFound *cron.NotFoundError
	if errors.As(err, &notFound) {
		h.logger.Debug(err)
	} else {
		h.logger.Error(err)
	}
	h.writeJSON(w, code, map[string]string{
		"error": err.Error(),
	})
}
