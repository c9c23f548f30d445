package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"mediarr/internal/kit"
	"mediarr/internal/notify"
)

type endpointRequest struct {
	Name    string            `json:"name"`
	Kind    kit.EndpointKind  `json:"kind"`
	Enabled bool              `json:"enabled"`
	Types   kit.EventMask     `json:"types"`
	Config  map[string]string `json:"config"`
}

func (s *Server) handleListEndpoints(w http.ResponseWriter, r *http.Request) {
	eps, err := s.notify.ListEndpoints(r.Context())
	if err != nil {
		s.internalError(w, "listing endpoints", err)
		return
	}
	if eps == nil {
		eps = []kit.Endpoint{}
	}
	writeJSON(w, http.StatusOK, eps)
}

func (s *Server) handleCreateEndpoint(w http.ResponseWriter, r *http.Request) {
	var req endpointRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	ep, err := s.notify.CreateEndpoint(r.Context(), kit.Endpoint{
		Name:    req.Name,
		Kind:    req.Kind,
		Enabled: req.Enabled,
		Types:   req.Types,
		Config:  req.Config,
	})
	if err != nil {
		// Creation only fails on config/kind validation or storage trouble;
		// validation is by far the common case.
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, ep)
}

func (s *Server) handleGetEndpoint(w http.ResponseWriter, r *http.Request) {
	id, ok := endpointID(w, r)
	if !ok {
		return
	}
	ep, err := s.notify.GetEndpoint(r.Context(), id)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, ep)
	case errors.Is(err, notify.ErrEndpointNotFound):
		writeError(w, http.StatusNotFound, "endpoint not found")
	default:
		s.internalError(w, "loading endpoint", err)
	}
}

func (s *Server) handleUpdateEndpoint(w http.ResponseWriter, r *http.Request) {
	id, ok := endpointID(w, r)
	if !ok {
		return
	}
	var req endpointRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	ep, err := s.notify.UpdateEndpoint(r.Context(), kit.Endpoint{
		ID:      id,
		Name:    req.Name,
		Kind:    req.Kind,
		Enabled: req.Enabled,
		Types:   req.Types,
		Config:  req.Config,
	})
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, ep)
	case errors.Is(err, notify.ErrEndpointNotFound):
		writeError(w, http.StatusNotFound, "endpoint not found")
	default:
		writeError(w, http.StatusBadRequest, err.Error())
	}
}

func (s *Server) handleDeleteEndpoint(w http.ResponseWriter, r *http.Request) {
	id, ok := endpointID(w, r)
	if !ok {
		return
	}
	err := s.notify.DeleteEndpoint(r.Context(), id)
	switch {
	case err == nil:
		w.WriteHeader(http.StatusNoContent)
	case errors.Is(err, notify.ErrEndpointNotFound):
		writeError(w, http.StatusNotFound, "endpoint not found")
	default:
		s.internalError(w, "deleting endpoint", err)
	}
}

// handleTestEndpoint surfaces the adapter's raw error text so the admin UI
// can show exactly what the channel said.
func (s *Server) handleTestEndpoint(w http.ResponseWriter, r *http.Request) {
	id, ok := endpointID(w, r)
	if !ok {
		return
	}
	err := s.notify.SendTest(r.Context(), id)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, map[string]string{"status": "delivered"})
	case errors.Is(err, notify.ErrEndpointNotFound):
		writeError(w, http.StatusNotFound, "endpoint not found")
	default:
		writeJSON(w, http.StatusBadGateway, map[string]string{
			"status": "failed",
			"error":  err.Error(),
		})
	}
}

func (s *Server) handleAssign(w http.ResponseWriter, r *http.Request) {
	userID, epID, ok := assignmentIDs(w, r)
	if !ok {
		return
	}
	err := s.notify.AssignUser(r.Context(), userID, epID)
	switch {
	case err == nil:
		w.WriteHeader(http.StatusNoContent)
	case errors.Is(err, notify.ErrEndpointNotFound):
		writeError(w, http.StatusNotFound, "endpoint not found")
	default:
		s.internalError(w, "assigning endpoint", err)
	}
}

func (s *Server) handleUnassign(w http.ResponseWriter, r *http.Request) {
	userID, epID, ok := assignmentIDs(w, r)
	if !ok {
		return
	}
	if err := s.notify.UnassignUser(r.Context(), userID, epID); err != nil {
		s.internalError(w, "unassigning endpoint", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func endpointID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid endpoint id")
		return uuid.Nil, false
	}
	return id, true
}

func assignmentIDs(w http.ResponseWriter, r *http.Request) (int64, uuid.UUID, bool) {
	userID, err := strconv.ParseInt(chi.URLParam(r, "userID"), 10, 64)
	if err != nil || userID <= 0 {
		writeError(w, http.StatusBadRequest, "invalid user id")
		return 0, uuid.Nil, false
	}
	epID, err := uuid.Parse(chi.URLParam(r, "endpointID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid endpoint id")
		return 0, uuid.Nil, false
	}
	return userID, epID, true
}
