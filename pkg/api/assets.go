package api

import (
	"net/http"
	"strconv"

	"github.com/google/uuid"

	"github.com/covenant-data/covenant/pkg/model"
	"github.com/covenant-data/covenant/pkg/store"
	"github.com/covenant-data/covenant/pkg/workflow"
)

type createAssetRequest struct {
	FQN          string         `json:"fqn"`
	OwnerTeamID  *uuid.UUID     `json:"owner_team_id,omitempty"`
	ResourceType string         `json:"resource_type"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}

func (s *Server) handleCreateAsset(w http.ResponseWriter, r *http.Request) {
	p := requireScope(w, r, model.ScopeWrite)
	if p == nil {
		return
	}
	var req createAssetRequest
	if !decode(w, r, &req) {
		return
	}
	// Default owner is the calling team; assigning another owner is an
	// admin operation.
	owner := p.TeamID
	if req.OwnerTeamID != nil && *req.OwnerTeamID != p.TeamID {
		if !p.Admin() {
			WriteForbidden(w, r, "Only admins may create assets owned by another team")
			return
		}
		owner = *req.OwnerTeamID
	}
	asset, err := s.svc.CreateAsset(r.Context(), workflow.CreateAssetInput{
		FQN:          req.FQN,
		OwnerTeamID:  owner,
		ResourceType: model.ResourceType(req.ResourceType),
		Metadata:     req.Metadata,
		Actor:        p.TeamID,
	})
	if err != nil {
		WriteErr(w, r, err)
		return
	}
	WriteJSON(w, http.StatusCreated, asset)
}

func (s *Server) handleListAssets(w http.ResponseWriter, r *http.Request) {
	if requireScope(w, r, model.ScopeRead) == nil {
		return
	}
	q := r.URL.Query()

	if fqn := q.Get("fqn"); fqn != "" {
		asset, err := s.svc.GetAssetByFQN(r.Context(), fqn)
		if err != nil {
			WriteErr(w, r, err)
			return
		}
		WriteJSON(w, http.StatusOK, map[string]any{"assets": []model.Asset{*asset}})
		return
	}

	filter := store.AssetFilter{}
	if owner := q.Get("owner_team_id"); owner != "" {
		id, err := uuid.Parse(owner)
		if err != nil {
			WriteValidation(w, r, "Malformed owner_team_id")
			return
		}
		filter.OwnerTeamID = &id
	}
	if rt := q.Get("resource_type"); rt != "" {
		typ := model.ResourceType(rt)
		if !model.ValidResourceType(typ) {
			WriteValidation(w, r, "Unknown resource_type")
			return
		}
		filter.ResourceType = &typ
	}
	assets, err := s.svc.ListAssets(r.Context(), filter)
	if err != nil {
		WriteErr(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{"assets": assets})
}

func (s *Server) handleGetAsset(w http.ResponseWriter, r *http.Request) {
	if requireScope(w, r, model.ScopeRead) == nil {
		return
	}
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	asset, err := s.svc.GetAsset(r.Context(), id)
	if err != nil {
		WriteErr(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, asset)
}

func (s *Server) handleDeleteAsset(w http.ResponseWriter, r *http.Request) {
	p := requireScope(w, r, model.ScopeAdmin)
	if p == nil {
		return
	}
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := s.svc.DeleteAsset(r.Context(), id, p.TeamID); err != nil {
		WriteErr(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDownstream(w http.ResponseWriter, r *http.Request) {
	if requireScope(w, r, model.ScopeRead) == nil {
		return
	}
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	depth := 0
	if raw := r.URL.Query().Get("depth"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			WriteValidation(w, r, "depth must be a positive integer")
			return
		}
		depth = parsed
	}
	report, err := s.svc.Downstream(r.Context(), id, depth)
	if err != nil {
		WriteErr(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, report)
}

type addDependencyRequest struct {
	UpstreamAssetID   uuid.UUID `json:"upstream_asset_id"`
	DownstreamAssetID uuid.UUID `json:"downstream_asset_id"`
}

func (s *Server) handleAddDependency(w http.ResponseWriter, r *http.Request) {
	if requireScope(w, r, model.ScopeWrite) == nil {
		return
	}
	var req addDependencyRequest
	if !decode(w, r, &req) {
		return
	}
	if err := s.svc.AddDependency(r.Context(), req.UpstreamAssetID, req.DownstreamAssetID); err != nil {
		WriteErr(w, r, err)
		return
	}
	w.WriteHeader(http.StatusCreated)
}
