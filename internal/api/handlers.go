package api

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/satoru707/CollabCode/internal/analysis"
	"github.com/satoru707/CollabCode/internal/session"
	"github.com/satoru707/CollabCode/internal/workspace"
	"github.com/satoru707/CollabCode/internal/ws"
)

type API struct {
	hub      *ws.Hub
	registry *session.Registry
	store    *workspace.Store
	analyzer analysis.Analyzer
}

func New(hub *ws.Hub, registry *session.Registry, store *workspace.Store, analyzer analysis.Analyzer) *API {
	return &API{
		hub:      hub,
		registry: registry,
		store:    store,
		analyzer: analyzer,
	}
}

// Builds the REST routing table
func (a *API) Router() *mux.Router {
	r := mux.NewRouter()

	r.HandleFunc("/health", a.HealthHandler).Methods(http.MethodGet)
	r.HandleFunc("/api/stats", a.StatsHandler).Methods(http.MethodGet)

	r.HandleFunc("/api/workspaces", a.ListWorkspacesHandler).Methods(http.MethodGet)
	r.HandleFunc("/api/workspaces", a.CreateWorkspaceHandler).Methods(http.MethodPost)
	r.HandleFunc("/api/workspaces/{id}", a.GetWorkspaceHandler).Methods(http.MethodGet)
	r.HandleFunc("/api/workspaces/{id}/projects", a.ListProjectsHandler).Methods(http.MethodGet)
	r.HandleFunc("/api/workspaces/{id}/projects", a.CreateProjectHandler).Methods(http.MethodPost)
	r.HandleFunc("/api/projects/{id}", a.GetProjectHandler).Methods(http.MethodGet)

	r.HandleFunc("/api/analyze", a.AnalyzeHandler).Methods(http.MethodPost)

	return r
}

func jsonResponse(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Printf("Error encoding JSON response: %v", err)
	}
}

func errorResponse(w http.ResponseWriter, status int, message string) {
	jsonResponse(w, status, map[string]string{"error": message})
}

func (a *API) HealthHandler(w http.ResponseWriter, r *http.Request) {
	jsonResponse(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func (a *API) StatsHandler(w http.ResponseWriter, r *http.Request) {
	stats := map[string]any{
		"active_sessions":     a.registry.SessionCount(),
		"active_participants": a.registry.ParticipantCount(),
		"active_connections":  a.hub.ClientCount(),
		"timestamp":           time.Now().UTC().Format(time.RFC3339),
	}

	if a.store != nil {
		dbStats, err := a.store.GetStats()
		if err == nil {
			stats["total_workspaces"] = dbStats["workspace_count"]
			stats["total_projects"] = dbStats["project_count"]
		}
	}

	jsonResponse(w, http.StatusOK, stats)
}

// Workspace handlers

type CreateWorkspaceRequest struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	OwnerID     string `json:"owner_id,omitempty"`
}

func (a *API) ListWorkspacesHandler(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit <= 0 || limit > 100 {
		limit = 20
	}

	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
	if offset < 0 {
		offset = 0
	}

	workspaces, err := a.store.ListWorkspaces(limit, offset)
	if err != nil {
		errorResponse(w, http.StatusInternalServerError, "Failed to list workspaces")
		return
	}

	jsonResponse(w, http.StatusOK, map[string]any{
		"workspaces": workspaces,
		"limit":      limit,
		"offset":     offset,
	})
}

func (a *API) CreateWorkspaceHandler(w http.ResponseWriter, r *http.Request) {
	var req CreateWorkspaceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errorResponse(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if req.Name == "" {
		errorResponse(w, http.StatusBadRequest, "Workspace name is required")
		return
	}

	ws, err := a.store.CreateWorkspace(req.Name, req.Description, req.OwnerID)
	if err != nil {
		errorResponse(w, http.StatusInternalServerError, "Failed to create workspace")
		return
	}

	jsonResponse(w, http.StatusCreated, ws)
}

func (a *API) GetWorkspaceHandler(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	ws, err := a.store.GetWorkspace(id)
	if errors.Is(err, workspace.ErrNotFound) {
		errorResponse(w, http.StatusNotFound, "Workspace not found")
		return
	}
	if err != nil {
		errorResponse(w, http.StatusInternalServerError, "Failed to get workspace")
		return
	}

	jsonResponse(w, http.StatusOK, ws)
}

// Project handlers

type CreateProjectRequest struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Language    string `json:"language,omitempty"`
	OwnerID     string `json:"owner_id,omitempty"`
}

func (a *API) ListProjectsHandler(w http.ResponseWriter, r *http.Request) {
	workspaceID := mux.Vars(r)["id"]

	projects, err := a.store.ListProjects(workspaceID)
	if err != nil {
		errorResponse(w, http.StatusInternalServerError, "Failed to list projects")
		return
	}

	jsonResponse(w, http.StatusOK, map[string]any{
		"projects": projects,
	})
}

func (a *API) CreateProjectHandler(w http.ResponseWriter, r *http.Request) {
	workspaceID := mux.Vars(r)["id"]

	var req CreateProjectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errorResponse(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if req.Name == "" {
		errorResponse(w, http.StatusBadRequest, "Project name is required")
		return
	}

	if req.Language == "" {
		req.Language = "javascript"
	}

	project, err := a.store.CreateProject(workspaceID, req.Name, req.Description, req.Language, req.OwnerID)
	if errors.Is(err, workspace.ErrNotFound) {
		errorResponse(w, http.StatusNotFound, "Workspace not found")
		return
	}
	if err != nil {
		errorResponse(w, http.StatusInternalServerError, "Failed to create project")
		return
	}

	jsonResponse(w, http.StatusCreated, project)
}

func (a *API) GetProjectHandler(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	project, err := a.store.GetProject(id)
	if errors.Is(err, workspace.ErrNotFound) {
		errorResponse(w, http.StatusNotFound, "Project not found")
		return
	}
	if err != nil {
		errorResponse(w, http.StatusInternalServerError, "Failed to get project")
		return
	}

	jsonResponse(w, http.StatusOK, project)
}

// Analysis handler

func (a *API) AnalyzeHandler(w http.ResponseWriter, r *http.Request) {
	if a.analyzer == nil {
		errorResponse(w, http.StatusServiceUnavailable, "Analysis service not configured")
		return
	}

	var req analysis.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errorResponse(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if req.Code == "" {
		errorResponse(w, http.StatusBadRequest, "Code is required")
		return
	}

	result, err := a.analyzer.Analyze(r.Context(), req)
	if errors.Is(err, analysis.ErrInvalidMode) {
		errorResponse(w, http.StatusBadRequest, err.Error())
		return
	}
	if err != nil {
		// Surfaced to the caller; retry is an explicit user action
		errorResponse(w, http.StatusBadGateway, err.Error())
		return
	}

	jsonResponse(w, http.StatusOK, result)
}
