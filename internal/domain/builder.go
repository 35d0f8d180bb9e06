package domain

import (
	"strings"
	"time"
)

// Params holds model-specific builder parameters as decoded from JSON.
type Params map[string]any

// Builder is a saved, user-owned specification of an article list.
type Builder struct {
	ID        string
	Name      string
	UserID    string
	Project   string
	Model     string
	Params    Params
	Version   int
	CreatedAt time.Time
	UpdatedAt time.Time
	DeletedAt *time.Time
}

// BuilderDraft carries user input for a create or update call.
type BuilderDraft struct {
	Name    string
	Project string
	Model   string
	Params  Params
}

// Missing returns the names of required draft fields that are empty.
func (d BuilderDraft) Missing() []string {
	var missing []string
	if strings.TrimSpace(d.Name) == "" {
		missing = append(missing, "name")
	}
	if strings.TrimSpace(d.Project) == "" {
		missing = append(missing, "project")
	}
	if strings.TrimSpace(d.Model) == "" {
		missing = append(missing, "model")
	}
	if len(d.Params) == 0 {
		missing = append(missing, "params")
	}
	return missing
}

// OwnedBy reports whether userID is the recorded owner.
func (b Builder) OwnedBy(userID string) bool {
	return userID != "" && b.UserID == userID
}

// BuilderView is the public representation returned to the owner.
type BuilderView struct {
	ID              string              `json:"id"`
	Name            string              `json:"name"`
	Project         string              `json:"project"`
	Model           string              `json:"model"`
	Params          Params              `json:"params"`
	Version         int                 `json:"version"`
	CreatedAt       int64               `json:"created_at"`
	UpdatedAt       int64               `json:"updated_at"`
	SelectionErrors map[string][]string `json:"selection_errors,omitempty"`
}
