package api

import (
	"encoding/json"
	"net/http"

	"github.com/covenant-data/covenant/pkg/model"
	"github.com/covenant-data/covenant/pkg/workflow"
)

type publishRequest struct {
	Schema            json.RawMessage   `json:"schema"`
	Version           string            `json:"version,omitempty"`
	CompatibilityMode *string           `json:"compatibility_mode,omitempty"`
	Guarantees        *model.Guarantees `json:"guarantees,omitempty"`
	Force             bool              `json:"force,omitempty"`
}

func (s *Server) handlePublish(w http.ResponseWriter, r *http.Request) {
	p := requireScope(w, r, model.ScopeWrite)
	if p == nil {
		return
	}
	assetID, ok := pathID(w, r)
	if !ok {
		return
	}
	var req publishRequest
	if !decode(w, r, &req) {
		return
	}
	if req.Force && !p.Admin() {
		WriteForbidden(w, r, "Force-publishing requires admin scope")
		return
	}
	asset, err := s.svc.GetAsset(r.Context(), assetID)
	if err != nil {
		WriteErr(w, r, err)
		return
	}
	if asset.OwnerTeamID != p.TeamID && !p.Admin() {
		WriteForbidden(w, r, "Only the owning team may publish contracts for this asset")
		return
	}

	var mode *model.CompatibilityMode
	if req.CompatibilityMode != nil {
		m := model.CompatibilityMode(*req.CompatibilityMode)
		mode = &m
	}
	result, err := s.svc.Publish(r.Context(), workflow.PublishInput{
		AssetID:    assetID,
		Schema:     req.Schema,
		Version:    req.Version,
		Mode:       mode,
		Guarantees: req.Guarantees,
		Publisher:  p.TeamID,
		Force:      req.Force,
	})
	if err != nil {
		WriteErr(w, r, err)
		return
	}

	status := http.StatusCreated
	if result.Outcome != workflow.OutcomePublished {
		status = http.StatusAccepted
	}
	if result.Outcome == workflow.OutcomeNoChange {
		status = http.StatusOK
	}
	WriteJSON(w, status, result)
}

func (s *Server) handleListContracts(w http.ResponseWriter, r *http.Request) {
	if requireScope(w, r, model.ScopeRead) == nil {
		return
	}
	assetID, ok := pathID(w, r)
	if !ok {
		return
	}
	contracts, err := s.svc.ListContracts(r.Context(), assetID)
	if err != nil {
		WriteErr(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{"contracts": contracts})
}

func (s *Server) handleActiveContract(w http.ResponseWriter, r *http.Request) {
	if requireScope(w, r, model.ScopeRead) == nil {
		return
	}
	assetID, ok := pathID(w, r)
	if !ok {
		return
	}
	contract, err := s.svc.ActiveContract(r.Context(), assetID)
	if err != nil {
		WriteErr(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, contract)
}

func (s *Server) handleGetContract(w http.ResponseWriter, r *http.Request) {
	if requireScope(w, r, model.ScopeRead) == nil {
		return
	}
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	contract, err := s.svc.GetContract(r.Context(), id)
	if err != nil {
		WriteErr(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, contract)
}

type impactRequest struct {
	Schema            json.RawMessage `json:"schema"`
	CompatibilityMode *string         `json:"compatibility_mode,omitempty"`
}

func (s *Server) handleImpact(w http.ResponseWriter, r *http.Request) {
	if requireScope(w, r, model.ScopeRead) == nil {
		return
	}
	assetID, ok := pathID(w, r)
	if !ok {
		return
	}
	var req impactRequest
	if !decode(w, r, &req) {
		return
	}
	var mode *model.CompatibilityMode
	if req.CompatibilityMode != nil {
		m := model.CompatibilityMode(*req.CompatibilityMode)
		mode = &m
	}
	report, err := s.svc.Impact(r.Context(), assetID, req.Schema, mode)
	if err != nil {
		WriteErr(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, report)
}

type compareRequest struct {
	OldSchema         json.RawMessage `json:"old_schema"`
	NewSchema         json.RawMessage `json:"new_schema"`
	CompatibilityMode string          `json:"compatibility_mode"`
}

func (s *Server) handleCompare(w http.ResponseWriter, r *http.Request) {
	if requireScope(w, r, model.ScopeRead) == nil {
		return
	}
	var req compareRequest
	if !decode(w, r, &req) {
		return
	}
	mode := model.CompatibilityMode(req.CompatibilityMode)
	if req.CompatibilityMode == "" {
		mode = model.CompatBackward
	}
	report, err := s.svc.Compare(r.Context(), req.OldSchema, req.NewSchema, mode)
	if err != nil {
		WriteErr(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, report)
}

type guaranteesRequest struct {
	Guarantees *model.Guarantees `json:"guarantees"`
}

func (s *Server) handleUpdateGuarantees(w http.ResponseWriter, r *http.Request) {
	p := requireScope(w, r, model.ScopeWrite)
	if p == nil {
		return
	}
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req guaranteesRequest
	if !decode(w, r, &req) {
		return
	}
	contract, err := s.svc.UpdateGuarantees(r.Context(), id, req.Guarantees, p.TeamID)
	if err != nil {
		WriteErr(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, contract)
}

func (s *Server) handleRetireContract(w http.ResponseWriter, r *http.Request) {
	p := requireScope(w, r, model.ScopeWrite)
	if p == nil {
		return
	}
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	contract, err := s.svc.RetireContract(r.Context(), id, p.TeamID)
	if err != nil {
		WriteErr(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, contract)
}
