package internal

import (
	"strconv"
	"strings"
	"time"
)

// Project is an opencode project as returned by GET /project
type Project struct {
	ID        string      `json:"id" yaml:"id"`
	Worktree  string      `json:"worktree,omitempty" yaml:"worktree,omitempty"`
	Directory string      `json:"directory,omitempty" yaml:"directory,omitempty"`
	VCS       string      `json:"vcs,omitempty" yaml:"vcs,omitempty"`
	Time      ProjectTime `json:"time,omitempty" yaml:"time,omitempty"`
}

// ProjectTime holds project timestamps in epoch milliseconds
type ProjectTime struct {
	Created     int64 `json:"created,omitempty" yaml:"created,omitempty"`
	Initialized int64 `json:"initialized,omitempty" yaml:"initialized,omitempty"`
}

// Path returns the directory requests for this project are scoped to
func (p *Project) Path() string {
	if p == nil {
		return ""
	}
	if p.Worktree != "" {
		return p.Worktree
	}
	return p.Directory
}

// Name returns a short display name for the project
func (p *Project) Name() string {
	return ProjectDisplayName(p.Path())
}

// Session is an opencode session as returned by GET /session
type Session struct {
	ID        string          `json:"id" yaml:"id"`
	ProjectID string          `json:"projectID,omitempty" yaml:"project_id,omitempty"`
	Directory string          `json:"directory,omitempty" yaml:"directory,omitempty"`
	ParentID  string          `json:"parentID,omitempty" yaml:"parent_id,omitempty"`
	Title     string          `json:"title,omitempty" yaml:"title,omitempty"`
	Version   string          `json:"version,omitempty" yaml:"version,omitempty"`
	Time      SessionTime     `json:"time,omitempty" yaml:"time,omitempty"`
	Summary   *SessionSummary `json:"summary,omitempty" yaml:"summary,omitempty"`
}

// SessionTime holds session timestamps in epoch milliseconds
type SessionTime struct {
	Created int64 `json:"created,omitempty" yaml:"created,omitempty"`
	Updated int64 `json:"updated,omitempty" yaml:"updated,omitempty"`
}

// SessionSummary is the diff summary attached to a session
type SessionSummary struct {
	Additions int `json:"additions,omitempty" yaml:"additions,omitempty"`
	Deletions int `json:"deletions,omitempty" yaml:"deletions,omitempty"`
	Files     int `json:"files,omitempty" yaml:"files,omitempty"`
}

// SummaryText renders the summary as " (+3, -1, 2 files)" or "".
func (s *Session) SummaryText() string {
	if s.Summary == nil {
		return ""
	}
	var parts []string
	if s.Summary.Additions > 0 {
		parts = append(parts, "+"+strconv.Itoa(s.Summary.Additions))
	}
	if s.Summary.Deletions > 0 {
		parts = append(parts, "-"+strconv.Itoa(s.Summary.Deletions))
	}
	if s.Summary.Files > 0 {
		parts = append(parts, strconv.Itoa(s.Summary.Files)+" files")
	}
	if len(parts) == 0 {
		return ""
	}
	return " (" + strings.Join(parts, ", ") + ")"
}

// UpdatedAt returns the last update time of the session
func (s *Session) UpdatedAt() time.Time {
	ts := s.Time.Updated
	if ts == 0 {
		ts = s.Time.Created
	}
	if ts == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ts)
}

// SessionStatus is the busy/idle state reported for a session
type SessionStatus struct {
	Type string `json:"type" yaml:"type"`
}

const (
	SessionBusy = "busy"
	SessionIdle = "idle"
)

// Provider is a model provider from GET /config/providers
type Provider struct {
	ID     string           `json:"id" yaml:"id"`
	Name   string           `json:"name,omitempty" yaml:"name,omitempty"`
	Models map[string]Model `json:"models,omitempty" yaml:"models,omitempty"`
}

// Model is a single model offered by a provider
type Model struct {
	ID   string `json:"id" yaml:"id"`
	Name string `json:"name,omitempty" yaml:"name,omitempty"`
}

// ProvidersResponse is the body of GET /config/providers
type ProvidersResponse struct {
	Providers []Provider        `json:"providers"`
	Default   map[string]string `json:"default"`
}

// ModelSelection identifies the model used for outgoing messages
type ModelSelection struct {
	ProviderID string `json:"providerId" yaml:"provider_id"`
	ModelID    string `json:"modelId" yaml:"model_id"`
	Timestamp  int64  `json:"timestamp,omitempty" yaml:"timestamp,omitempty"`
}

// Agent names the agent (mode) a message is sent with
type Agent struct {
	Name  string          `json:"name"`
	Model *ModelSelection `json:"model,omitempty"`
}

// DeepLinkRequest asks the client to open a session, possibly on another server
type DeepLinkRequest struct {
	ServerURL   string `json:"serverUrl" yaml:"server_url"`
	ProjectPath string `json:"projectPath,omitempty" yaml:"project_path,omitempty"`
	SessionID   string `json:"sessionId,omitempty" yaml:"session_id,omitempty"`
}

// ProjectDisplayName returns the last path segment of a worktree path
func ProjectDisplayName(worktree string) string {
	if worktree == "" {
		return "Unknown Project"
	}
	parts := strings.Split(worktree, "/")
	for i := len(parts) - 1; i >= 0; i-- {
		if strings.TrimSpace(parts[i]) != "" {
			return parts[i]
		}
	}
	return "Unknown Project"
}

// NormalizeBaseURL strips a trailing /global/event and slash from a server URL
func NormalizeBaseURL(raw string) string {
	u := strings.TrimSpace(raw)
	u = strings.TrimSuffix(u, "/")
	u = strings.TrimSuffix(u, "/global/event")
	return strings.TrimSuffix(u, "/")
}

// ValidateURL reports whether raw looks like an http(s) server URL
func ValidateURL(raw string) bool {
	u := strings.TrimSpace(raw)
	return (strings.HasPrefix(u, "http://") || strings.HasPrefix(u, "https://")) && len(u) > len("https://")
}
