package domain

import "time"

// TaskStatus enumerates the lifecycle of an external ZIM packaging task.
type TaskStatus string

const (
	TaskSubmitted TaskStatus = "SUBMITTED"
	TaskFailed    TaskStatus = "FAILED"
	TaskFileReady TaskStatus = "FILE_READY"
	TaskEnded     TaskStatus = "ENDED"
)

// MaxZimArticleCount is the largest selection the farm accepts for packaging.
const MaxZimArticleCount = 10000

// ZimTask tracks one archive generation request submitted to the farm.
type ZimTask struct {
	TaskID          string
	BuilderID       string
	SelectionID     string
	Status          TaskStatus
	Title           string
	Description     string
	LongDescription string
	FileURL         string
	Active          bool
	RequestedAt     time.Time
	UpdatedAt       *time.Time
}

// ZimRequest is what gets submitted to the farm.
type ZimRequest struct {
	BuilderID       string
	SelectionID     string
	Project         string
	SelectionURL    string
	Title           string
	Description     string
	LongDescription string
}

// FarmTaskStatus is the farm's view of a task, as returned by polling.
type FarmTaskStatus struct {
	TaskID  string
	Status  string
	FileURL string
}

// ZimStatusView is reported to clients asking about a builder's archive.
type ZimStatusView struct {
	TaskID          string     `json:"task_id"`
	Status          TaskStatus `json:"status"`
	StillProcessing bool       `json:"still_processing"`
	FileURL         string     `json:"file_url,omitempty"`
	UpdatedAt       int64      `json:"updated_at,omitempty"`
}
