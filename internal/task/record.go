package task

import (
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Status is the lifecycle state of a record.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusCompleted Status = "COMPLETED"
	StatusFailed    Status = "FAILED"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// OutputImage is the only output type the backend workflows produce.
const OutputImage = "IMAGE"

// Record tracks one submitted job.
type Record struct {
	ID           string    `json:"id"`
	JobID        string    `json:"job_id"`
	ClientID     string    `json:"client_id"`
	WorkflowID   string    `json:"workflow_id"`
	WorkflowName string    `json:"workflow_name"`
	PromptText   string    `json:"prompt_text"`
	CreatedAt    time.Time `json:"created_at"`
	Status       Status    `json:"status"`
	// NodeStatus is a human-readable label of what the backend is doing.
	NodeStatus string `json:"node_status"`
	// Progress is the percent complete within the current node, not the job.
	Progress    int    `json:"progress"`
	CurrentStep int    `json:"current_step"`
	MaxSteps    int    `json:"max_steps"`
	OutputFiles string `json:"output_files"`
	OutputType  string `json:"output_type"`
}

// NewRecord creates a PENDING record for an acknowledged submission.
func NewRecord(jobID, clientID, workflowID, workflowName, promptText string, now time.Time) *Record {
	return &Record{
		ID:           uuid.NewString(),
		JobID:        jobID,
		ClientID:     clientID,
		WorkflowID:   workflowID,
		WorkflowName: workflowName,
		PromptText:   promptText,
		CreatedAt:    now.UTC(),
		Status:       StatusPending,
		NodeStatus:   "Waiting",
		OutputType:   OutputImage,
	}
}

// Clone returns a copy the caller may modify freely.
func (r *Record) Clone() *Record {
	c := *r
	return &c
}

// IsPending reports whether the record may still change.
func (r *Record) IsPending() bool {
	return r.Status == StatusPending
}

// Files splits OutputFiles into individual file names.
func (r *Record) Files() []string {
	if r.OutputFiles == "" {
		return nil
	}
	return strings.Split(r.OutputFiles, FileSeparator)
}

// FileSeparator joins output file names in OutputFiles.
const FileSeparator = ","

// JoinFiles joins output file names the way OutputFiles stores them.
func JoinFiles(files []string) string {
	return strings.Join(files, FileSeparator)
}

// SortNewestFirst orders records by creation time, newest first, breaking
// ties by ID so the order is stable.
func SortNewestFirst(records []*Record) {
	sort.Slice(records, func(i, j int) bool {
		if !records[i].CreatedAt.Equal(records[j].CreatedAt) {
			return records[i].CreatedAt.After(records[j].CreatedAt)
		}
		return records[i].ID < records[j].ID
	})
}
