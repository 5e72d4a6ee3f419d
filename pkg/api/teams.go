package api

import (
	"net/http"

	"github.com/covenant-data/covenant/pkg/model"
	"github.com/covenant-data/covenant/pkg/workflow"
)

type createTeamRequest struct {
	Name     string         `json:"name"`
	Slug     string         `json:"slug"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

func (s *Server) handleCreateTeam(w http.ResponseWriter, r *http.Request) {
	p := requireScope(w, r, model.ScopeWrite)
	if p == nil {
		return
	}
	var req createTeamRequest
	if !decode(w, r, &req) {
		return
	}
	team, err := s.svc.CreateTeam(r.Context(), workflow.CreateTeamInput{
		Name:     req.Name,
		Slug:     req.Slug,
		Metadata: req.Metadata,
		Actor:    p.TeamID,
	})
	if err != nil {
		WriteErr(w, r, err)
		return
	}
	WriteJSON(w, http.StatusCreated, team)
}

func (s *Server) handleListTeams(w http.ResponseWriter, r *http.Request) {
	if requireScope(w, r, model.ScopeRead) == nil {
		return
	}
	teams, err := s.svc.ListTeams(r.Context())
	if err != nil {
		WriteErr(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{"teams": teams})
}

func (s *Server) handleGetTeam(w http.ResponseWriter, r *http.Request) {
	if requireScope(w, r, model.ScopeRead) == nil {
		return
	}
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	team, err := s.svc.GetTeam(r.Context(), id)
	if err != nil {
		WriteErr(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, team)
}

func (s *Server) handleDeleteTeam(w http.ResponseWriter, r *http.Request) {
	p := requireScope(w, r, model.ScopeAdmin)
	if p == nil {
		return
	}
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := s.svc.DeleteTeam(r.Context(), id, p.TeamID); err != nil {
		WriteErr(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
