package api

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/covenant-data/covenant/pkg/auth"
	"github.com/covenant-data/covenant/pkg/store"
	"github.com/covenant-data/covenant/pkg/workflow"
)

const maxBodyBytes = 1 << 20

// Server wires the workflow core to the HTTP surface.
type Server struct {
	svc     *workflow.Service
	store   store.Store
	signer  *auth.TokenSigner
	limiter auth.Limiter
	log     *slog.Logger
}

func NewServer(svc *workflow.Service, st store.Store, signer *auth.TokenSigner, limiter auth.Limiter, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{svc: svc, store: st, signer: signer, limiter: limiter, log: log}
}

// Handler builds the full middleware chain and route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/v1/health", s.handleHealth)

	mux.HandleFunc("POST /api/v1/teams", s.handleCreateTeam)
	mux.HandleFunc("GET /api/v1/teams", s.handleListTeams)
	mux.HandleFunc("GET /api/v1/teams/{id}", s.handleGetTeam)
	mux.HandleFunc("DELETE /api/v1/teams/{id}", s.handleDeleteTeam)
	mux.HandleFunc("POST /api/v1/teams/{id}/keys", s.handleCreateAPIKey)
	mux.HandleFunc("GET /api/v1/teams/{id}/keys", s.handleListAPIKeys)
	mux.HandleFunc("DELETE /api/v1/keys/{id}", s.handleRevokeAPIKey)

	mux.HandleFunc("POST /api/v1/assets", s.handleCreateAsset)
	mux.HandleFunc("GET /api/v1/assets", s.handleListAssets)
	mux.HandleFunc("GET /api/v1/assets/{id}", s.handleGetAsset)
	mux.HandleFunc("DELETE /api/v1/assets/{id}", s.handleDeleteAsset)
	mux.HandleFunc("GET /api/v1/assets/{id}/downstream", s.handleDownstream)

	mux.HandleFunc("POST /api/v1/assets/{id}/contracts", s.handlePublish)
	mux.HandleFunc("GET /api/v1/assets/{id}/contracts", s.handleListContracts)
	mux.HandleFunc("GET /api/v1/assets/{id}/contracts/current", s.handleActiveContract)
	mux.HandleFunc("POST /api/v1/assets/{id}/impact", s.handleImpact)
	mux.HandleFunc("POST /api/v1/compare", s.handleCompare)
	mux.HandleFunc("GET /api/v1/contracts/{id}", s.handleGetContract)
	mux.HandleFunc("PUT /api/v1/contracts/{id}/guarantees", s.handleUpdateGuarantees)
	mux.HandleFunc("POST /api/v1/contracts/{id}/retire", s.handleRetireContract)

	mux.HandleFunc("POST /api/v1/registrations", s.handleRegister)
	mux.HandleFunc("GET /api/v1/registrations", s.handleListRegistrations)
	mux.HandleFunc("PATCH /api/v1/registrations/{id}/status", s.handleRegistrationStatus)
	mux.HandleFunc("POST /api/v1/dependencies", s.handleAddDependency)

	mux.HandleFunc("GET /api/v1/proposals", s.handleListProposals)
	mux.HandleFunc("GET /api/v1/proposals/{id}", s.handleGetProposal)
	mux.HandleFunc("POST /api/v1/proposals/{id}/acknowledge", s.handleAcknowledge)
	mux.HandleFunc("POST /api/v1/proposals/{id}/withdraw", s.handleWithdraw)
	mux.HandleFunc("POST /api/v1/proposals/{id}/force-approve", s.handleForceApprove)
	mux.HandleFunc("POST /api/v1/proposals/{id}/publish", s.handlePublishProposal)

	mux.HandleFunc("GET /api/v1/audit", s.handleQueryAudit)

	var handler http.Handler = mux
	handler = RateLimit(s.limiter, 1)(handler)
	handler = Authenticate(s.store, s.signer)(handler)
	handler = Logging(s.log)(handler)
	handler = RequestID(handler)
	return handler
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// decode reads and validates a JSON request body into v.
func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		WriteValidation(w, r, "Invalid request body")
		return false
	}
	return true
}

// pathID parses the {id} path segment as a UUID.
func pathID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		WriteValidation(w, r, "Malformed id in path")
		return uuid.Nil, false
	}
	return id, true
}
