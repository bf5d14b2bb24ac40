package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/lorawan-server/lora-pkt-fwd/internal/forwarder"
	"github.com/lorawan-server/lora-pkt-fwd/internal/models"
	"github.com/lorawan-server/lora-pkt-fwd/internal/storage"
)

// HandleSendDownlink submits a txpk to the downlink poller and returns its admission result
func (s *RESTServer) HandleSendDownlink(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ID   uuid.UUID       `json:"id"`
		TXPK json.RawMessage `json:"txpk" validate:"required"`
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := s.validator.Validate(req); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	if req.ID == uuid.Nil {
		req.ID = uuid.New()
	}

	res, err := s.gateway.Submit(r.Context(), forwarder.SourceAPI, models.DownlinkRequest{ID: req.ID, TXPK: req.TXPK})
	switch {
	case errors.Is(err, forwarder.ErrStopped):
		s.respondError(w, http.StatusServiceUnavailable, err.Error())
		return
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		s.respondError(w, http.StatusGatewayTimeout, err.Error())
		return
	case err != nil:
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	status := http.StatusAccepted
	switch res.Status {
	case models.DownlinkMalformed:
		status = http.StatusBadRequest
	case models.DownlinkRejected:
		status = http.StatusConflict
	}
	s.respondJSON(w, status, res)
}

// HandleListDownlinks lists downlink results, newest first
func (s *RESTServer) HandleListDownlinks(w http.ResponseWriter, r *http.Request) {
	limit, offset := pagination(r)

	results, total, err := s.store.ListDownlinkResults(r.Context(), limit, offset)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"downlinks": results,
		"total":     total,
	})
}

// HandleGetDownlink returns the latest status of one downlink
func (s *RESTServer) HandleGetDownlink(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid id")
		return
	}

	res, err := s.store.GetDownlinkResult(r.Context(), id)
	if errors.Is(err, storage.ErrNotFound) {
		s.respondError(w, http.StatusNotFound, "downlink not found")
		return
	}
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.respondJSON(w, http.StatusOK, res)
}

// HandleListUplinks lists forwarded uplink frames, newest first
func (s *RESTServer) HandleListUplinks(w http.ResponseWriter, r *http.Request) {
	limit, offset := pagination(r)

	frames, total, err := s.store.ListUplinkFrames(r.Context(), limit, offset)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"uplinks": frames,
		"total":   total,
	})
}
