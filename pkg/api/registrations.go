package api

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/covenant-data/covenant/pkg/model"
	"github.com/covenant-data/covenant/pkg/store"
	"github.com/covenant-data/covenant/pkg/workflow"
)

type registerRequest struct {
	AssetID        uuid.UUID  `json:"asset_id"`
	ConsumerTeamID *uuid.UUID `json:"consumer_team_id,omitempty"`
	PinnedVersion  *string    `json:"pinned_version,omitempty"`
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	p := requireScope(w, r, model.ScopeWrite)
	if p == nil {
		return
	}
	var req registerRequest
	if !decode(w, r, &req) {
		return
	}
	// A team registers itself; registering on behalf of another team is an
	// admin operation.
	consumer := p.TeamID
	if req.ConsumerTeamID != nil && *req.ConsumerTeamID != p.TeamID {
		if !p.Admin() {
			WriteForbidden(w, r, "Only admins may register another team as a consumer")
			return
		}
		consumer = *req.ConsumerTeamID
	}
	reg, err := s.svc.RegisterConsumer(r.Context(), workflow.RegisterInput{
		AssetID:        req.AssetID,
		ConsumerTeamID: consumer,
		PinnedVersion:  req.PinnedVersion,
	})
	if err != nil {
		WriteErr(w, r, err)
		return
	}
	WriteJSON(w, http.StatusCreated, reg)
}

func (s *Server) handleListRegistrations(w http.ResponseWriter, r *http.Request) {
	if requireScope(w, r, model.ScopeRead) == nil {
		return
	}
	q := r.URL.Query()
	filter := store.RegistrationFilter{}
	if assetID := q.Get("asset_id"); assetID != "" {
		id, err := uuid.Parse(assetID)
		if err != nil {
			WriteValidation(w, r, "Malformed asset_id")
			return
		}
		filter.AssetID = &id
	}
	if team := q.Get("consumer_team_id"); team != "" {
		id, err := uuid.Parse(team)
		if err != nil {
			WriteValidation(w, r, "Malformed consumer_team_id")
			return
		}
		filter.ConsumerTeamID = &id
	}
	if status := q.Get("status"); status != "" {
		st := model.RegistrationStatus(status)
		filter.Status = &st
	}
	regs, err := s.svc.ListRegistrations(r.Context(), filter)
	if err != nil {
		WriteErr(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{"registrations": regs})
}

type registrationStatusRequest struct {
	Status string `json:"status"`
}

func (s *Server) handleRegistrationStatus(w http.ResponseWriter, r *http.Request) {
	p := requireScope(w, r, model.ScopeWrite)
	if p == nil {
		return
	}
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req registrationStatusRequest
	if !decode(w, r, &req) {
		return
	}
	reg, err := s.svc.SetRegistrationStatus(r.Context(), id, model.RegistrationStatus(req.Status), p.TeamID)
	if err != nil {
		WriteErr(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, reg)
}
