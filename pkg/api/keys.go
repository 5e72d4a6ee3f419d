package api

import (
	"net/http"

	"github.com/covenant-data/covenant/pkg/model"
)

type createKeyRequest struct {
	Name  string `json:"name"`
	Scope string `json:"scope"`
}

func (s *Server) handleCreateAPIKey(w http.ResponseWriter, r *http.Request) {
	p := requireScope(w, r, model.ScopeAdmin)
	if p == nil {
		return
	}
	teamID, ok := pathID(w, r)
	if !ok {
		return
	}
	var req createKeyRequest
	if !decode(w, r, &req) {
		return
	}
	key, secret, err := s.svc.CreateAPIKey(r.Context(), teamID, req.Name, model.KeyScope(req.Scope), p.TeamID)
	if err != nil {
		WriteErr(w, r, err)
		return
	}
	// The plaintext secret is shown exactly once; only its digest is stored.
	WriteJSON(w, http.StatusCreated, map[string]any{
		"key":    key,
		"secret": secret,
	})
}

func (s *Server) handleListAPIKeys(w http.ResponseWriter, r *http.Request) {
	p := requireScope(w, r, model.ScopeRead)
	if p == nil {
		return
	}
	teamID, ok := pathID(w, r)
	if !ok {
		return
	}
	if teamID != p.TeamID && !p.Admin() {
		WriteForbidden(w, r, "Only admins may list another team's keys")
		return
	}
	keys, err := s.svc.ListAPIKeys(r.Context(), teamID)
	if err != nil {
		WriteErr(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{"keys": keys})
}

func (s *Server) handleRevokeAPIKey(w http.ResponseWriter, r *http.Request) {
	p := requireScope(w, r, model.ScopeAdmin)
	if p == nil {
		return
	}
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := s.svc.RevokeAPIKey(r.Context(), id, p.TeamID); err != nil {
		WriteErr(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
