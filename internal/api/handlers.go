package api

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/xaenox/chief-of-staff/internal/models"
	"github.com/xaenox/chief-of-staff/internal/search"
	"github.com/xaenox/chief-of-staff/internal/workflow"
)

type chatRequest struct {
	UserID  string `json:"userId"`
	Message string `json:"message"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := decodeJSON(r, &req); err != nil {
		badRequest(w, err.Error())
		return
	}
	if req.UserID == "" || strings.TrimSpace(req.Message) == "" {
		badRequest(w, "userId and message are required")
		return
	}
	writeJSON(w, http.StatusOK, s.session.HandleChat(r.Context(), req.UserID, req.Message))
}

func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := models.TaskFilter{UserID: q.Get("userId"), ProjectID: q.Get("project_id")}
	if filter.UserID == "" {
		badRequest(w, "userId is required")
		return
	}
	for _, raw := range splitList(q.Get("status")) {
		status := models.TaskStatus(raw)
		if !status.Valid() {
			badRequest(w, "unknown status "+raw)
			return
		}
		filter.Statuses = append(filter.Statuses, status)
	}
	if raw := q.Get("due_before"); raw != "" {
		due, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			badRequest(w, "due_before must be an RFC3339 timestamp")
			return
		}
		filter.DueBefore = &due
	}

	tasks, err := s.store.ListTasks(r.Context(), filter)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, tasks)
}

func (s *Server) handleCreateTask(w http.ResponseWriter, r *http.Request) {
	var in models.TaskInput
	if err := decodeJSON(r, &in); err != nil {
		badRequest(w, err.Error())
		return
	}
	if in.UserID == "" {
		badRequest(w, "userId is required")
		return
	}
	task, err := s.store.CreateTask(r.Context(), in)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, task)
}

type taskPatchRequest struct {
	UserID string `json:"userId"`
	models.TaskPatch
}

func (s *Server) handleUpdateTask(w http.ResponseWriter, r *http.Request) {
	var req taskPatchRequest
	if err := decodeJSON(r, &req); err != nil {
		badRequest(w, err.Error())
		return
	}
	userID := userIDFrom(r, req.UserID)
	if userID == "" {
		badRequest(w, "userId is required")
		return
	}
	task, err := s.store.UpdateTask(r.Context(), userID, chi.URLParam(r, "id"), req.TaskPatch)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

func (s *Server) handleDeleteTask(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("userId")
	if userID == "" {
		badRequest(w, "userId is required")
		return
	}
	if err := s.store.DeleteTask(r.Context(), userID, chi.URLParam(r, "id")); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListProjects(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := models.ProjectFilter{UserID: q.Get("userId")}
	if filter.UserID == "" {
		badRequest(w, "userId is required")
		return
	}
	for _, raw := range splitList(q.Get("status")) {
		status := models.ProjectStatus(raw)
		if !status.Valid() {
			badRequest(w, "unknown status "+raw)
			return
		}
		filter.Statuses = append(filter.Statuses, status)
	}

	projects, err := s.store.ListProjects(r.Context(), filter)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, projects)
}

func (s *Server) handleCreateProject(w http.ResponseWriter, r *http.Request) {
	var in models.ProjectInput
	if err := decodeJSON(r, &in); err != nil {
		badRequest(w, err.Error())
		return
	}
	if in.UserID == "" {
		badRequest(w, "userId is required")
		return
	}
	project, err := s.store.CreateProject(r.Context(), in)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, project)
}

type projectPatchRequest struct {
	UserID string `json:"userId"`
	models.ProjectPatch
}

func (s *Server) handleUpdateProject(w http.ResponseWriter, r *http.Request) {
	var req projectPatchRequest
	if err := decodeJSON(r, &req); err != nil {
		badRequest(w, err.Error())
		return
	}
	userID := userIDFrom(r, req.UserID)
	if userID == "" {
		badRequest(w, "userId is required")
		return
	}
	project, err := s.store.UpdateProject(r.Context(), userID, chi.URLParam(r, "id"), req.ProjectPatch)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, project)
}

// handleArchiveProject keeps the project and its history, only hiding it
// from the active set.
func (s *Server) handleArchiveProject(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("userId")
	if userID == "" {
		badRequest(w, "userId is required")
		return
	}
	if _, err := s.store.ArchiveProject(r.Context(), userID, chi.URLParam(r, "id")); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleGetProfile(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("userId")
	if userID == "" {
		badRequest(w, "userId is required")
		return
	}
	profile, err := s.store.GetProfile(r.Context(), userID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, profile)
}

type profileRequest struct {
	UserID      string          `json:"userId"`
	Preferences json.RawMessage `json:"preferences"`
}

// handleUpdateProfile merges the given preferences over the stored ones.
func (s *Server) handleUpdateProfile(w http.ResponseWriter, r *http.Request) {
	var req profileRequest
	if err := decodeJSON(r, &req); err != nil {
		badRequest(w, err.Error())
		return
	}
	userID := userIDFrom(r, req.UserID)
	if userID == "" {
		badRequest(w, "userId is required")
		return
	}

	profile, err := s.store.GetProfile(r.Context(), userID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if len(req.Preferences) > 0 {
		if err := json.Unmarshal(req.Preferences, &profile.Preferences); err != nil {
			badRequest(w, "invalid preferences: "+err.Error())
			return
		}
	}
	if err := s.store.SaveProfile(r.Context(), profile); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, profile)
}

func (s *Server) handleGetSchedule(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("userId")
	if userID == "" {
		badRequest(w, "userId is required")
		return
	}
	profile, err := s.store.GetProfile(r.Context(), userID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if profile.LatestSchedule == nil {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "no schedule suggestion yet"})
		return
	}
	writeJSON(w, http.StatusOK, profile.LatestSchedule)
}

type searchRequest struct {
	UserID string `json:"userId"`
	Query  string `json:"query"`
	TopK   int    `json:"topK,omitempty"`
}

type searchResponse struct {
	Results []search.Match `json:"results"`
}

// handleSearch degrades to an empty result set when the index is unavailable.
func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	var req searchRequest
	if err := decodeJSON(r, &req); err != nil {
		badRequest(w, err.Error())
		return
	}
	if req.UserID == "" || strings.TrimSpace(req.Query) == "" {
		badRequest(w, "userId and query are required")
		return
	}

	resp := searchResponse{Results: []search.Match{}}
	if s.searcher == nil {
		writeJSON(w, http.StatusOK, resp)
		return
	}
	matches, err := s.searcher.Search(r.Context(), req.UserID, req.Query, req.TopK)
	if err != nil {
		s.logger.Warn("Search failed", zap.Error(err), zap.String("user_id", req.UserID))
	} else if matches != nil {
		resp.Results = matches
	}
	writeJSON(w, http.StatusOK, resp)
}

type workflowRequest struct {
	UserID   string `json:"userId"`
	Workflow string `json:"workflow"`
}

func (s *Server) handleStartWorkflow(w http.ResponseWriter, r *http.Request) {
	var req workflowRequest
	if err := decodeJSON(r, &req); err != nil {
		badRequest(w, err.Error())
		return
	}
	if req.UserID == "" || req.Workflow == "" {
		badRequest(w, "userId and workflow are required")
		return
	}
	known := false
	for _, name := range workflow.Names {
		if name == req.Workflow {
			known = true
		}
	}
	if !known {
		badRequest(w, "unknown workflow "+req.Workflow)
		return
	}

	s.workflows.Start(r.Context(), req.UserID, req.Workflow)
	writeJSON(w, http.StatusAccepted, map[string]string{"workflow": req.Workflow, "status": "started"})
}

func userIDFrom(r *http.Request, body string) string {
	if body != "" {
		return body
	}
	return r.URL.Query().Get("userId")
}

func splitList(raw string) []string {
	if raw == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
