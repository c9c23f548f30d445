package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"mediarr/internal/scheduler"
	logx "mediarr/pkg/logx"
)

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	jobs, err := s.sched.Jobs(r.Context())
	if err != nil {
		s.internalError(w, "listing jobs", err)
		return
	}
	writeJSON(w, http.StatusOK, jobs)
}

func (s *Server) handleRunNow(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	err := s.sched.RunNow(r.Context(), name)
	switch {
	case err == nil:
		writeJSON(w, http.StatusAccepted, map[string]string{"job": name, "status": "started"})
	case errors.Is(err, scheduler.ErrAlreadyRunning):
		writeError(w, http.StatusConflict, "job is already running")
	case errors.Is(err, scheduler.ErrUnknownJob):
		writeError(w, http.StatusNotFound, "unknown job")
	default:
		s.internalError(w, "triggering job", err)
	}
}

type updateScheduleRequest struct {
	Schedule        string `json:"schedule"`
	IntervalSeconds int    `json:"interval_seconds"`
}

func (s *Server) handleUpdateSchedule(w http.ResponseWriter, r *http.Request) {
	id, ok := jobID(w, r)
	if !ok {
		return
	}
	var req updateScheduleRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	job, err := s.sched.UpdateSchedule(r.Context(), id, req.Schedule, req.IntervalSeconds)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, job)
	case errors.Is(err, scheduler.ErrUnknownJob):
		writeError(w, http.StatusNotFound, "unknown job")
	default:
		// Schedule validation failures land here; they are client errors.
		writeError(w, http.StatusBadRequest, err.Error())
	}
}

func (s *Server) handleSetEnabled(enabled bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := jobID(w, r)
		if !ok {
			return
		}
		job, err := s.sched.SetEnabled(r.Context(), id, enabled)
		switch {
		case err == nil:
			writeJSON(w, http.StatusOK, job)
		case errors.Is(err, scheduler.ErrUnknownJob):
			writeError(w, http.StatusNotFound, "unknown job")
		default:
			s.internalError(w, "toggling job", err)
		}
	}
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))
	offset, _ := strconv.Atoi(q.Get("offset"))

	page, err := s.sched.History(r.Context(), q.Get("job"), limit, offset)
	if err != nil {
		s.internalError(w, "listing runs", err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (s *Server) handleClearRuns(w http.ResponseWriter, r *http.Request) {
	n, err := s.sched.ClearHistory(r.Context(), r.URL.Query().Get("job"))
	if err != nil {
		s.internalError(w, "clearing runs", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"deleted": n})
}

func (s *Server) handleRuntimeMetrics(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.sched.RuntimeMetrics())
}

func (s *Server) handleRunningJobs(w http.ResponseWriter, r *http.Request) {
	running := s.sched.RunningJobs()
	if running == nil {
		running = []string{}
	}
	writeJSON(w, http.StatusOK, running)
}

func jobID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "invalid job id")
		return 0, false
	}
	return id, true
}

func (s *Server) internalError(w http.ResponseWriter, what string, err error) {
	s.log.Error(what+" failed", logx.Err(err))
	writeError(w, http.StatusInternalServerError, "internal error")
}
