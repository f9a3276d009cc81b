package types

import "time"

// TaskStatus is a Task's position in its lifecycle.
type TaskStatus string

const (
	TaskDraft      TaskStatus = "draft"
	TaskReady      TaskStatus = "ready"
	TaskInProgress TaskStatus = "in-progress"
	TaskCompleted  TaskStatus = "completed"
)

// LinearMetadata is the optional subset of Linear issue fields a Task
// mirrors. The daemon only ever consumes and stores this summary; it
// never calls out to Linear itself (spec.md section 1, out of scope).
type LinearMetadata struct {
	IssueID  string `json:"issueId,omitempty"`
	IssueURL string `json:"issueUrl,omitempty"`
	TeamKey  string `json:"teamKey,omitempty"`
}

// Task is a scoped work item competing for controller attention.
type Task struct {
	ID    string `json:"id"`
	Scope Scope  `json:"scope"`

	RepositoryID string `json:"repositoryId,omitempty"`
	ProjectID    string `json:"projectId,omitempty"`

	Title string     `json:"title"`
	Body  string     `json:"body"`
	Status TaskStatus `json:"status"`

	OrderIndex int `json:"orderIndex"`

	ClaimedByControllerID string `json:"claimedByControllerId,omitempty"`
	ClaimedByDirectoryID  string `json:"claimedByDirectoryId,omitempty"`

	BranchName string `json:"branchName,omitempty"`
	BaseBranch string `json:"baseBranch,omitempty"`

	Linear *LinearMetadata `json:"linear,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// TaskPatch carries the mutable subset of a Task for updateTask; nil
// fields are left unchanged.
type TaskPatch struct {
	Title      *string
	Body       *string
	OrderIndex *int
	BranchName *string
	BaseBranch *string
}

// TaskFilter narrows listTasks results.
type TaskFilter struct {
	Scope        *Scope
	RepositoryID string
	ProjectID    string
	Status       *TaskStatus
}

// TaskPullRequest is the input to the task pull algorithm (spec.md
// section 4.B).
type TaskPullRequest struct {
	Scope        Scope
	ControllerID string
	DirectoryID  string
	RepositoryID string
}

// TaskPullResult is the outcome of a task pull: either a claimed task, or
// an explanation of why none was available.
type TaskPullResult struct {
	Task         *Task
	Availability BlockedReason
	Reason       string
}
