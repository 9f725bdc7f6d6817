package internal

import (
	"encoding/json"
	"testing"
	"time"
)

func TestProjectPath(t *testing.T) {
	tests := []struct {
		name     string
		project  *Project
		wantPath string
		wantName string
	}{
		{"worktree wins", &Project{Worktree: "/work/app", Directory: "/other"}, "/work/app", "app"},
		{"directory fallback", &Project{Directory: "/srv/api/"}, "/srv/api/", "api"},
		{"empty", &Project{}, "", "Unknown Project"},
		{"nil", nil, "", "Unknown Project"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.project.Path(); got != tt.wantPath {
				t.Errorf("Path() = %q, want %q", got, tt.wantPath)
			}
			if got := tt.project.Name(); got != tt.wantName {
				t.Errorf("Name() = %q, want %q", got, tt.wantName)
			}
		})
	}
}

func TestSessionSummaryText(t *testing.T) {
	tests := []struct {
		name    string
		summary *SessionSummary
		want    string
	}{
		{"none", nil, ""},
		{"zero", &SessionSummary{}, ""},
		{"full", &SessionSummary{Additions: 3, Deletions: 1, Files: 2}, " (+3, -1, 2 files)"},
		{"additions only", &SessionSummary{Additions: 5}, " (+5)"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := &Session{Summary: tt.summary}
			if got := s.SummaryText(); got != tt.want {
				t.Errorf("SummaryText() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestSessionUpdatedAt(t *testing.T) {
	s := &Session{Time: SessionTime{Created: 1000, Updated: 5000}}
	if got := s.UpdatedAt(); !got.Equal(time.UnixMilli(5000)) {
		t.Errorf("UpdatedAt() = %v", got)
	}
	s = &Session{Time: SessionTime{Created: 1000}}
	if got := s.UpdatedAt(); !got.Equal(time.UnixMilli(1000)) {
		t.Errorf("UpdatedAt() created fallback = %v", got)
	}
	if got := (&Session{}).UpdatedAt(); !got.IsZero() {
		t.Errorf("UpdatedAt() empty = %v, want zero", got)
	}
}

func TestSessionJSON(t *testing.T) {
	raw := `{"id":"ses_1","projectID":"p1","directory":"/work/app","title":"Fix it","time":{"created":1,"updated":2},"summary":{"additions":1}}`
	var s Session
	if err := json.Unmarshal([]byte(raw), &s); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if s.ID != "ses_1" || s.ProjectID != "p1" || s.Title != "Fix it" || s.Time.Updated != 2 {
		t.Errorf("decoded %+v", s)
	}
	if s.Summary == nil || s.Summary.Additions != 1 {
		t.Errorf("summary = %+v", s.Summary)
	}
}

func TestNormalizeBaseURL(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"http://localhost:4096", "http://localhost:4096"},
		{"http://localhost:4096/", "http://localhost:4096"},
		{"http://localhost:4096/global/event", "http://localhost:4096"},
		{" https://host/global/event/ ", "https://host"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			if got := NormalizeBaseURL(tt.in); got != tt.want {
				t.Errorf("NormalizeBaseURL(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestValidateURL(t *testing.T) {
	tests := []struct {
		in   string
		want bool
	}{
		{"http://localhost:4096", true},
		{"https://example.com", true},
		{"localhost:4096", false},
		{"ftp://host", false},
		{"https://", false},
		{"", false},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			if got := ValidateURL(tt.in); got != tt.want {
				t.Errorf("ValidateURL(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}
