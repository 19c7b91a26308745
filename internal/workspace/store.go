package workspace

import (
	"database/sql"
	"errors"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// Returned when a workspace or project cannot be resolved
var ErrNotFound = errors.New("not found")

type Store struct {
	db *sql.DB
}

type Workspace struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	OwnerID     string    `json:"owner_id"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

type Project struct {
	ID          string    `json:"id"`
	WorkspaceID string    `json:"workspace_id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Language    string    `json:"language"`
	OwnerID     string    `json:"owner_id"`
	Document    string    `json:"document,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func New(dbPath string) (*Store, error) {
	// Ensure directory exists
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}

	// Enable WAL mode for better concurrency
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return nil, err
	}

	if err := createTables(db); err != nil {
		return nil, err
	}

	log.Printf("Workspace store initialized at %s", dbPath)
	return &Store{db: db}, nil
}

func createTables(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS workspaces (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		description TEXT DEFAULT '',
		owner_id TEXT NOT NULL DEFAULT '',
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS projects (
		id TEXT PRIMARY KEY,
		workspace_id TEXT NOT NULL,
		name TEXT NOT NULL,
		description TEXT DEFAULT '',
		language TEXT NOT NULL DEFAULT 'javascript',
		owner_id TEXT NOT NULL DEFAULT '',
		document TEXT NOT NULL DEFAULT '',
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		FOREIGN KEY (workspace_id) REFERENCES workspaces(id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_projects_workspace_id ON projects(workspace_id);
	`

	_, err := db.Exec(schema)
	return err
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Workspace operations

func (s *Store) CreateWorkspace(name, description, ownerID string) (*Workspace, error) {
	id := uuid.NewString()
	_, err := s.db.Exec(
		"INSERT INTO workspaces (id, name, description, owner_id) VALUES (?, ?, ?, ?)",
		id, name, description, ownerID,
	)
	if err != nil {
		return nil, err
	}
	return s.GetWorkspace(id)
}

func (s *Store) GetWorkspace(id string) (*Workspace, error) {
	row := s.db.QueryRow(
		"SELECT id, name, description, owner_id, created_at, updated_at FROM workspaces WHERE id = ?",
		id,
	)

	var ws Workspace
	err := row.Scan(&ws.ID, &ws.Name, &ws.Description, &ws.OwnerID, &ws.CreatedAt, &ws.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &ws, nil
}

func (s *Store) ListWorkspaces(limit, offset int) ([]Workspace, error) {
	rows, err := s.db.Query(
		"SELECT id, name, description, owner_id, created_at, updated_at FROM workspaces ORDER BY updated_at DESC LIMIT ? OFFSET ?",
		limit, offset,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var workspaces []Workspace
	for rows.Next() {
		var ws Workspace
		if err := rows.Scan(&ws.ID, &ws.Name, &ws.Description, &ws.OwnerID, &ws.CreatedAt, &ws.UpdatedAt); err != nil {
			return nil, err
		}
		workspaces = append(workspaces, ws)
	}
	return workspaces, rows.Err()
}

// Project operations

func (s *Store) CreateProject(workspaceID, name, description, language, ownerID string) (*Project, error) {
	// Project must belong to an existing workspace
	if _, err := s.GetWorkspace(workspaceID); err != nil {
		return nil, err
	}

	id := uuid.NewString()
	_, err := s.db.Exec(
		"INSERT INTO projects (id, workspace_id, name, description, language, owner_id) VALUES (?, ?, ?, ?, ?, ?)",
		id, workspaceID, name, description, language, ownerID,
	)
	if err != nil {
		return nil, err
	}

	if err := s.touchWorkspace(workspaceID); err != nil {
		log.Printf("Failed to update workspace timestamp: %v", err)
	}

	return s.GetProject(id)
}

func (s *Store) GetProject(id string) (*Project, error) {
	row := s.db.QueryRow(`
		SELECT id, workspace_id, name, description, language, owner_id, document, created_at, updated_at
		FROM projects WHERE id = ?
	`, id)

	var p Project
	err := row.Scan(&p.ID, &p.WorkspaceID, &p.Name, &p.Description, &p.Language, &p.OwnerID, &p.Document, &p.CreatedAt, &p.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *Store) ListProjects(workspaceID string) ([]Project, error) {
	rows, err := s.db.Query(`
		SELECT id, workspace_id, name, description, language, owner_id, created_at, updated_at
		FROM projects WHERE workspace_id = ? ORDER BY updated_at DESC
	`, workspaceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var projects []Project
	for rows.Next() {
		var p Project
		if err := rows.Scan(&p.ID, &p.WorkspaceID, &p.Name, &p.Description, &p.Language, &p.OwnerID, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, err
		}
		projects = append(projects, p)
	}
	return projects, rows.Err()
}

// Resolves a project within a workspace. Returns ErrNotFound when the
// workspace/project pair does not exist.
func (s *Store) ResolveProject(workspaceID, projectID string) (*Project, error) {
	p, err := s.GetProject(projectID)
	if err != nil {
		return nil, err
	}
	if workspaceID != "" && p.WorkspaceID != workspaceID {
		return nil, ErrNotFound
	}
	return p, nil
}

// Persists the final document buffer of a destroyed session
func (s *Store) SaveDocument(projectID, text string) error {
	result, err := s.db.Exec(
		"UPDATE projects SET document = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?",
		text, projectID,
	)
	if err != nil {
		return err
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) touchWorkspace(id string) error {
	_, err := s.db.Exec(
		"UPDATE workspaces SET updated_at = CURRENT_TIMESTAMP WHERE id = ?",
		id,
	)
	return err
}

// Stats

func (s *Store) GetStats() (map[string]any, error) {
	stats := make(map[string]any)

	var workspaceCount int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM workspaces").Scan(&workspaceCount); err != nil {
		return nil, err
	}
	stats["workspace_count"] = workspaceCount

	var projectCount int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM projects").Scan(&projectCount); err != nil {
		return nil, err
	}
	stats["project_count"] = projectCount

	return stats, nil
}
