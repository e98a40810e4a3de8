package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/fleetctl/orchestrator/internal/apierr"
	"github.com/fleetctl/orchestrator/internal/domain"
	"github.com/fleetctl/orchestrator/internal/utils"
	"github.com/gorilla/mux"
)

type spawnAgentRequest struct {
	AgentType    string              `json:"agent_type"`
	Name         string              `json:"name,omitempty"`
	Capabilities domain.Capabilities `json:"capabilities,omitempty"`
	Config       domain.AgentConfig  `json:"config,omitempty"`
	ParentID     string              `json:"parent_id,omitempty"`
}

func (s *Server) handleSpawnAgent(w http.ResponseWriter, r *http.Request) {
	var req spawnAgentRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, apierr.Wrap(apierr.CodeValidation, "malformed request body", err))
		return
	}
	if req.AgentType == "" {
		writeError(w, r, apierr.New(apierr.CodeValidation, "agent_type is required"))
		return
	}
	if req.Name != "" && !utils.IsValidAgentName(req.Name) {
		writeError(w, r, apierr.New(apierr.CodeValidation, "name must be 1-64 characters"))
		return
	}
	if req.Capabilities.MaxConcurrentTasks == 0 {
		req.Capabilities.MaxConcurrentTasks = 1
	}

	agent, err := s.agents.Spawn(r.Context(), domain.AgentType(req.AgentType), req.Name, req.Capabilities, req.Config, req.ParentID)
	if err != nil {
		writeError(w, r, apierr.Wrap(apierr.CodeInternal, "failed to spawn agent", err))
		return
	}
	writeJSON(w, http.StatusOK, agent)
}

func (s *Server) handleListAgents(w http.ResponseWriter, r *http.Request) {
	status := domain.AgentStatus(r.URL.Query().Get("status"))
	agentType := domain.AgentType(r.URL.Query().Get("agent_type"))

	all, err := s.store.ListAgents(status, agentType)
	if err != nil {
		writeError(w, r, apierr.Wrap(apierr.CodeInternal, "failed to list agents", err))
		return
	}

	page, pageSize := pageParams(r)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"agents":    paginate(all, page, pageSize),
		"total":     len(all),
		"page":      page,
		"page_size": pageSize,
	})
}

func (s *Server) handleGetAgent(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	agent, err := s.store.GetAgent(id)
	if err != nil {
		writeError(w, r, apierr.Wrap(apierr.CodeInternal, "failed to load agent", err))
		return
	}
	if agent == nil {
		writeError(w, r, apierr.New(apierr.CodeNotFound, "agent not found"))
		return
	}
	writeJSON(w, http.StatusOK, agent)
}

type patchAgentStatusRequest struct {
	Status string `json:"status"`
}

func (s *Server) handlePatchAgentStatus(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	var req patchAgentStatusRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, apierr.Wrap(apierr.CodeValidation, "malformed request body", err))
		return
	}
	if req.Status == "" {
		writeError(w, r, apierr.New(apierr.CodeValidation, "status is required"))
		return
	}

	if err := s.agents.UpdateStatus(r.Context(), id, domain.AgentStatus(req.Status)); err != nil {
		writeError(w, r, classifyAgentError(err))
		return
	}
	agent, err := s.store.GetAgent(id)
	if err != nil {
		writeError(w, r, apierr.Wrap(apierr.CodeInternal, "failed to reload agent", err))
		return
	}
	writeJSON(w, http.StatusOK, agent)
}

type agentHeartbeatRequest struct {
	Metrics map[string]interface{} `json:"metrics,omitempty"`
}

func (s *Server) handleAgentHeartbeat(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	agent, err := s.store.GetAgent(id)
	if err != nil {
		writeError(w, r, apierr.Wrap(apierr.CodeInternal, "failed to load agent", err))
		return
	}
	if agent == nil {
		writeError(w, r, apierr.New(apierr.CodeNotFound, "agent not found"))
		return
	}
	var req agentHeartbeatRequest
	_ = decodeJSON(r, &req)

	s.agents.RecordHeartbeat(id, time.Now())
	writeJSON(w, http.StatusOK, map[string]interface{}{"status": "recorded"})
}

type terminateAgentRequest struct {
	Reason string `json:"reason"`
}

func (s *Server) handleTerminateAgent(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	var req terminateAgentRequest
	_ = decodeJSON(r, &req)

	agent, err := s.store.GetAgent(id)
	if err != nil {
		writeError(w, r, apierr.Wrap(apierr.CodeInternal, "failed to load agent", err))
		return
	}
	if agent == nil {
		writeError(w, r, apierr.New(apierr.CodeNotFound, "agent not found"))
		return
	}

	if err := s.agents.Terminate(r.Context(), id, req.Reason); err != nil {
		writeError(w, r, classifyAgentError(err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"status": "terminated"})
}

// classifyAgentError maps agentmanager's plain wrapped errors onto the
// API taxonomy by substring: a "not found" message maps to NOT_FOUND,
// an invalid-transition message (see domain.Agent.TransitionTo) to
// INVALID_TRANSITION, and everything else degrades to INTERNAL.
func classifyAgentError(err error) *apierr.Error {
	if err == nil {
		return nil
	}
	msg := err.Error()
	if containsAny(msg, "invalid transition", "not found") {
		if containsAny(msg, "not found") {
			return apierr.Wrap(apierr.CodeNotFound, "agent not found", err)
		}
		return apierr.Wrap(apierr.CodeInvalidTransition, "invalid agent status transition", err)
	}
	return apierr.Wrap(apierr.CodeInternal, "agent operation failed", err)
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
