package models

import "time"

// SearchTaskStatus tracks a submitted search task within one orchestrator run
type SearchTaskStatus string

const (
	TaskSubmitted SearchTaskStatus = "submitted"
	TaskRetrieved SearchTaskStatus = "retrieved"
	TaskFailed    SearchTaskStatus = "failed"
	TaskAbandoned SearchTaskStatus = "abandoned"
)

// TaskContext is the producer context encoded in a correlation tag
type TaskContext struct {
	MetroID int64     `json:"metro_id"`
	Term    string    `json:"term"`
	RunAt   time.Time `json:"run_at"`
}

// SearchTask is orchestrator-local state for one submitted task
type SearchTask struct {
	TaskID  string           `json:"task_id"`
	Tag     string           `json:"tag"`
	Context TaskContext      `json:"context"`
	Status  SearchTaskStatus `json:"status"`
}

// DiscoveryStats summarizes one orchestrator run
type DiscoveryStats struct {
	RunID          string        `json:"run_id"`
	Submitted      int           `json:"submitted"`
	SubmitFailed   int           `json:"submit_failed"`
	Retrieved      int           `json:"retrieved"`
	Pending        int           `json:"pending"`
	ItemsPersisted int           `json:"items_persisted"`
	URLsPublished  int           `json:"urls_published"`
	Duration       time.Duration `json:"duration"`
}
