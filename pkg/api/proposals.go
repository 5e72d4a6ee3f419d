package api

import (
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/covenant-data/covenant/pkg/model"
	"github.com/covenant-data/covenant/pkg/store"
	"github.com/covenant-data/covenant/pkg/workflow"
)

func (s *Server) handleListProposals(w http.ResponseWriter, r *http.Request) {
	if requireScope(w, r, model.ScopeRead) == nil {
		return
	}
	q := r.URL.Query()
	filter := store.ProposalFilter{}
	if assetID := q.Get("asset_id"); assetID != "" {
		id, err := uuid.Parse(assetID)
		if err != nil {
			WriteValidation(w, r, "Malformed asset_id")
			return
		}
		filter.AssetID = &id
	}
	if status := q.Get("status"); status != "" {
		st := model.ProposalStatus(status)
		filter.Status = &st
	}
	proposals, err := s.svc.ListProposals(r.Context(), filter)
	if err != nil {
		WriteErr(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{"proposals": proposals})
}

func (s *Server) handleGetProposal(w http.ResponseWriter, r *http.Request) {
	if requireScope(w, r, model.ScopeRead) == nil {
		return
	}
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	proposal, acks, err := s.svc.GetProposal(r.Context(), id)
	if err != nil {
		WriteErr(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{
		"proposal":        proposal,
		"acknowledgments": acks,
	})
}

type acknowledgeRequest struct {
	Response          string     `json:"response"`
	MigrationDeadline *time.Time `json:"migration_deadline,omitempty"`
	Notes             string     `json:"notes,omitempty"`
}

func (s *Server) handleAcknowledge(w http.ResponseWriter, r *http.Request) {
	p := requireScope(w, r, model.ScopeWrite)
	if p == nil {
		return
	}
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req acknowledgeRequest
	if !decode(w, r, &req) {
		return
	}
	result, err := s.svc.Acknowledge(r.Context(), workflow.AcknowledgeInput{
		ProposalID:        id,
		ConsumerTeamID:    p.TeamID,
		Response:          model.AckResponse(req.Response),
		MigrationDeadline: req.MigrationDeadline,
		Notes:             req.Notes,
	})
	if err != nil {
		WriteErr(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, result)
}

func (s *Server) handleWithdraw(w http.ResponseWriter, r *http.Request) {
	p := requireScope(w, r, model.ScopeWrite)
	if p == nil {
		return
	}
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	proposal, err := s.svc.Withdraw(r.Context(), id, p.TeamID, p.Admin())
	if err != nil {
		WriteErr(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, proposal)
}

func (s *Server) handleForceApprove(w http.ResponseWriter, r *http.Request) {
	p := requireScope(w, r, model.ScopeAdmin)
	if p == nil {
		return
	}
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	proposal, err := s.svc.ForceApprove(r.Context(), id, p.TeamID)
	if err != nil {
		WriteErr(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, proposal)
}

func (s *Server) handlePublishProposal(w http.ResponseWriter, r *http.Request) {
	p := requireScope(w, r, model.ScopeWrite)
	if p == nil {
		return
	}
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	result, err := s.svc.PublishProposal(r.Context(), id, p.TeamID)
	if err != nil {
		WriteErr(w, r, err)
		return
	}
	WriteJSON(w, http.StatusCreated, result)
}
