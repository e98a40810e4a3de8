package api

import (
	"net/http"
	"strings"

	"github.com/fleetctl/orchestrator/internal/apierr"
	"github.com/fleetctl/orchestrator/internal/domain"
	"github.com/gorilla/mux"
)

type submitTaskRequest struct {
	Description string                 `json:"description"`
	Priority    int                    `json:"priority"`
	Context     map[string]interface{} `json:"context,omitempty"`
	AgentType   string                 `json:"agent_type,omitempty"`
	AgentID     string                 `json:"agent_id,omitempty"`
	DependsOn   []string               `json:"depends_on,omitempty"`
}

func (s *Server) handleSubmitTask(w http.ResponseWriter, r *http.Request) {
	var req submitTaskRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, apierr.Wrap(apierr.CodeValidation, "malformed request body", err))
		return
	}

	task := domain.NewTask(req.Description, req.Priority, domain.AgentType(req.AgentType), "")
	task.InputData = req.Context
	task.AgentID = req.AgentID
	if err := task.Validate(); err != nil {
		writeError(w, r, apierr.Wrap(apierr.CodeValidation, "invalid task", err))
		return
	}

	if err := s.sched.SubmitTask(r.Context(), task, req.DependsOn); err != nil {
		writeError(w, r, classifyTaskError(err))
		return
	}
	writeJSON(w, http.StatusOK, task)
}

func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	all, err := s.store.ListTasks(domain.TaskStatus(q.Get("status")), q.Get("agent_id"))
	if err != nil {
		writeError(w, r, apierr.Wrap(apierr.CodeInternal, "failed to list tasks", err))
		return
	}

	page, pageSize := pageParams(r)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"tasks":     paginate(all, page, pageSize),
		"total":     len(all),
		"page":      page,
		"page_size": pageSize,
	})
}

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	task, err := s.store.GetTask(id)
	if err != nil {
		writeError(w, r, apierr.Wrap(apierr.CodeInternal, "failed to load task", err))
		return
	}
	if task == nil {
		writeError(w, r, apierr.New(apierr.CodeNotFound, "task not found"))
		return
	}
	writeJSON(w, http.StatusOK, task)
}

func (s *Server) handleTaskStatus(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	task, err := s.store.GetTask(id)
	if err != nil {
		writeError(w, r, apierr.Wrap(apierr.CodeInternal, "failed to load task", err))
		return
	}
	if task == nil {
		writeError(w, r, apierr.New(apierr.CodeNotFound, "task not found"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"id":       task.ID,
		"status":   task.Status,
		"progress": task.Metadata["progress"],
	})
}

type patchTaskRequest struct {
	Status   string                 `json:"status,omitempty"`
	Result   map[string]interface{} `json:"result,omitempty"`
	Error    string                 `json:"error,omitempty"`
	Progress *float64               `json:"progress,omitempty"`
}

func (s *Server) handlePatchTask(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	var req patchTaskRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, apierr.Wrap(apierr.CodeValidation, "malformed request body", err))
		return
	}

	if req.Progress != nil {
		if err := s.sched.ReportProgress(r.Context(), id, *req.Progress); err != nil {
			writeError(w, r, classifyTaskError(err))
			return
		}
	}

	switch domain.TaskStatus(req.Status) {
	case domain.TaskCompleted:
		if err := s.sched.CompleteTask(r.Context(), id, req.Result); err != nil {
			writeError(w, r, classifyTaskError(err))
			return
		}
	case domain.TaskFailed:
		// An explicit PATCH to failed is the caller declaring the task
		// done for good; it bypasses the retry budget rather than
		// burning an attempt on a status the caller already decided.
		if err := s.sched.FailTask(r.Context(), id, req.Error, false); err != nil {
			writeError(w, r, classifyTaskError(err))
			return
		}
	case "":
		// progress-only update, already applied above
	default:
		writeError(w, r, apierr.New(apierr.CodeValidation, "status must be completed or failed"))
		return
	}

	task, err := s.store.GetTask(id)
	if err != nil {
		writeError(w, r, apierr.Wrap(apierr.CodeInternal, "failed to reload task", err))
		return
	}
	if task == nil {
		writeError(w, r, apierr.New(apierr.CodeNotFound, "task not found"))
		return
	}
	writeJSON(w, http.StatusOK, task)
}

func (s *Server) handleCancelTask(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := s.sched.CancelTask(r.Context(), id); err != nil {
		writeError(w, r, classifyTaskError(err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"status": "cancelled"})
}

type addDependencyRequest struct {
	DependsOnTaskID string `json:"depends_on_task_id"`
}

func (s *Server) handleAddDependency(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	var req addDependencyRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, apierr.Wrap(apierr.CodeValidation, "malformed request body", err))
		return
	}
	if req.DependsOnTaskID == "" {
		writeError(w, r, apierr.New(apierr.CodeValidation, "depends_on_task_id is required"))
		return
	}

	if err := s.sched.AddDependency(r.Context(), id, req.DependsOnTaskID); err != nil {
		writeError(w, r, classifyTaskError(err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"status": "added"})
}

// classifyTaskError maps scheduler/persistence's plain wrapped errors
// onto the API taxonomy using the distinguishing substrings their
// callers already produce (domain.Task.TransitionTo, persistence's
// wouldCreateCycle check).
func classifyTaskError(err error) *apierr.Error {
	if err == nil {
		return nil
	}
	msg := err.Error()
	switch {
	case strings.Contains(msg, "not found"):
		return apierr.Wrap(apierr.CodeNotFound, "task not found", err)
	case strings.Contains(msg, "cycle"):
		return apierr.Wrap(apierr.CodeCyclicDependency, "dependency would create a cycle", err)
	case strings.Contains(msg, "terminal"), strings.Contains(msg, "invalid task transition"), strings.Contains(msg, "invalid transition"):
		return apierr.Wrap(apierr.CodeInvalidState, "invalid task state for this operation", err)
	case strings.Contains(msg, "priority must be"), strings.Contains(msg, "description is required"):
		return apierr.Wrap(apierr.CodeValidation, "invalid task", err)
	default:
		return apierr.Wrap(apierr.CodeInternal, "task operation failed", err)
	}
}
