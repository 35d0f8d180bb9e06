package zimtask

import (
	"sort"
	"strings"

	"SelectionBuilder/internal/domain"
)

const (
	statusFailed   = "failed"
	statusUploaded = "uploaded"
)

// Callback is the payload the farm posts when a task changes.
type Callback struct {
	TaskID string                  `json:"taskId"`
	ID     string                  `json:"_id"`
	Status string                  `json:"status"`
	Files  map[string]CallbackFile `json:"files"`
}

// CallbackFile describes one output file of a task.
type CallbackFile struct {
	Status string `json:"status"`
}

// Signal is the interpretation of a callback before it meets a task.
type Signal struct {
	TaskID string
	Kind   EventKind
	// File is the uploaded file name for EventFileUploaded.
	File string
}

// Interpret classifies a callback. A failed status wins over any file
// entries, then any uploaded file, and everything else counts as ended,
// including files with statuses other than uploaded.
func Interpret(cb Callback) (Signal, error) {
	id := strings.TrimSpace(cb.TaskID)
	if id == "" {
		id = strings.TrimSpace(cb.ID)
	}
	if id == "" {
		return Signal{}, &domain.MalformedCallbackError{Field: "taskId"}
	}

	if cb.Status == statusFailed {
		return Signal{TaskID: id, Kind: EventFailed}, nil
	}

	names := make([]string, 0, len(cb.Files))
	for name := range cb.Files {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if cb.Files[name].Status == statusUploaded {
			return Signal{TaskID: id, Kind: EventFileUploaded, File: name}, nil
		}
	}

	return Signal{TaskID: id, Kind: EventEnded}, nil
}
