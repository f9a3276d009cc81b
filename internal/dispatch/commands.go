package dispatch

import "github.com/agentrails/agentrailsd/internal/types"

// Command type discriminators (spec.md section 6's command vocabulary).
const (
	CmdDirectoryUpsert    = "directory.upsert"
	CmdDirectoryArchive   = "directory.archive"
	CmdDirectoryList      = "directory.list"
	CmdDirectoryGitStatus = "directory.git-status"

	CmdRepositoryUpsert  = "repository.upsert"
	CmdRepositoryGet     = "repository.get"
	CmdRepositoryUpdate  = "repository.update"
	CmdRepositoryArchive = "repository.archive"
	CmdRepositoryList    = "repository.list"

	CmdConversationCreate        = "conversation.create"
	CmdConversationUpdate        = "conversation.update"
	CmdConversationArchive       = "conversation.archive"
	CmdConversationDelete        = "conversation.delete"
	CmdConversationList          = "conversation.list"
	CmdConversationTitleRefresh  = "conversation.title.refresh"

	CmdTaskCreate  = "task.create"
	CmdTaskUpdate  = "task.update"
	CmdTaskDelete  = "task.delete"
	CmdTaskReady   = "task.ready"
	CmdTaskDraft   = "task.draft"
	CmdTaskQueue   = "task.queue"
	CmdTaskClaim   = "task.claim"
	CmdTaskComplete = "task.complete"
	CmdTaskPull    = "task.pull"
	CmdTaskReorder = "task.reorder"
	CmdTaskList    = "task.list"
	CmdTaskGet     = "task.get"

	CmdProjectSettingsGet    = "project.settings-get"
	CmdProjectSettingsUpdate = "project.settings-update"
	CmdProjectStatus         = "project.status"

	CmdAutomationPolicyGet = "automation.policy-get"
	CmdAutomationPolicySet = "automation.policy-set"

	CmdSessionStatus   = "session.status"
	CmdSessionList     = "session.list"
	CmdSessionClaim    = "session.claim"
	CmdSessionTakeover = "session.takeover"
	CmdSessionRelease  = "session.release"
	CmdSessionRespond  = "session.respond"
	CmdSessionInterrupt = "session.interrupt"
	CmdSessionRemove   = "session.remove"

	CmdPTYStart            = "pty.start"
	CmdPTYAttach           = "pty.attach"
	CmdPTYDetach           = "pty.detach"
	CmdPTYSubscribeEvents  = "pty.subscribe-events"
	CmdPTYUnsubscribeEvents = "pty.unsubscribe-events"
	CmdPTYClose            = "pty.close"

	CmdStreamSubscribe   = "stream.subscribe"
	CmdStreamUnsubscribe = "stream.unsubscribe"

	CmdGitHubPRCreate   = "github.pr-create"
	CmdGitHubProjectPR  = "github.project-pr"

	CmdDaemonStatus = "daemon.status"
)

// Scoped is embedded by every request that carries an explicit Scope;
// commands that operate on an existing entity id usually omit it and
// the handler derives scope from the stored row instead.
type Scoped struct {
	Scope types.Scope `json:"scope"`
}

type directoryUpsertRequest struct {
	Type string `json:"type"`
	Scoped
	Path string `json:"path"`
}

type directoryArchiveRequest struct {
	Type string `json:"type"`
	Scoped
	DirectoryID string `json:"directoryId"`
}

type directoryListRequest struct {
	Type string `json:"type"`
	Scoped
	IncludeArchived bool `json:"includeArchived"`
}

type directoryGitStatusRequest struct {
	Type        string `json:"type"`
	DirectoryID string `json:"directoryId"`
}

type repositoryUpsertRequest struct {
	Type string `json:"type"`
	Scoped
	Repository types.Repository `json:"repository"`
}

type repositoryGetRequest struct {
	Type string `json:"type"`
	Scoped
	RepositoryID string `json:"repositoryId"`
}

type repositoryUpdateRequest struct {
	Type string `json:"type"`
	Scoped
	RepositoryID string                `json:"repositoryId"`
	Patch        types.RepositoryPatch `json:"patch"`
}

type repositoryArchiveRequest struct {
	Type string `json:"type"`
	Scoped
	RepositoryID string `json:"repositoryId"`
}

type repositoryListRequest struct {
	Type string `json:"type"`
	Scoped
	IncludeArchived bool `json:"includeArchived"`
}

type conversationCreateRequest struct {
	Type string `json:"type"`
	Scoped
	DirectoryID string          `json:"directoryId"`
	Title       string          `json:"title"`
	AgentType   types.AgentType `json:"agentType"`
}

type conversationUpdateRequest struct {
	Type string `json:"type"`
	Scoped
	ConversationID string                  `json:"conversationId"`
	Patch          types.ConversationPatch `json:"patch"`
}

type conversationArchiveRequest struct {
	Type string `json:"type"`
	Scoped
	ConversationID string `json:"conversationId"`
}

type conversationDeleteRequest struct {
	Type string `json:"type"`
	Scoped
	ConversationID string `json:"conversationId"`
}

type conversationListRequest struct {
	Type string `json:"type"`
	Scoped
	DirectoryID     string `json:"directoryId"`
	IncludeArchived bool   `json:"includeArchived"`
}

type conversationTitleRefreshRequest struct {
	Type           string `json:"type"`
	ConversationID string `json:"conversationId"`
}

type taskCreateRequest struct {
	Type string `json:"type"`
	Scoped
	Task types.Task `json:"task"`
}

type taskUpdateRequest struct {
	Type string `json:"type"`
	Scoped
	TaskID string          `json:"taskId"`
	Patch  types.TaskPatch `json:"patch"`
}

type taskIDRequest struct {
	Type   string `json:"type"`
	Scoped
	TaskID string `json:"taskId"`
}

type taskReorderRequest struct {
	Type string   `json:"type"`
	IDs  []string `json:"ids"`
}

type taskListRequest struct {
	Type string `json:"type"`
	Scoped
	RepositoryID string          `json:"repositoryId"`
	ProjectID    string          `json:"projectId"`
	Status       *types.TaskStatus `json:"status"`
}

type taskClaimRequest struct {
	Type string `json:"type"`
	Scoped
	TaskID       string `json:"taskId"`
	ControllerID string `json:"controllerId"`
	DirectoryID  string `json:"directoryId"`
	BranchName   string `json:"branchName"`
	BaseBranch   string `json:"baseBranch"`
}

type taskPullRequest struct {
	Type string `json:"type"`
	Scoped
	ControllerID string `json:"controllerId"`
	DirectoryID  string `json:"directoryId"`
	RepositoryID string `json:"repositoryId"`
}

type projectSettingsGetRequest struct {
	Type        string `json:"type"`
	DirectoryID string `json:"directoryId"`
}

type projectSettingsUpdateRequest struct {
	Type     string                `json:"type"`
	Settings types.ProjectSettings `json:"settings"`
}

type projectStatusRequest struct {
	Type        string `json:"type"`
	DirectoryID string `json:"directoryId"`
}

type automationPolicyGetRequest struct {
	Type string `json:"type"`
	Scoped
	RepositoryID string `json:"repositoryId"`
	ProjectID    string `json:"projectId"`
}

type automationPolicySetRequest struct {
	Type   string                  `json:"type"`
	Policy types.AutomationPolicy `json:"policy"`
}

type sessionIDRequest struct {
	Type      string `json:"type"`
	SessionID string `json:"sessionId"`
}

type sessionClaimRequest struct {
	Type            string `json:"type"`
	SessionID       string `json:"sessionId"`
	ControllerID    string `json:"controllerId"`
	ControllerType  string `json:"controllerType"`
	ControllerLabel string `json:"controllerLabel"`
}

type sessionRespondRequest struct {
	Type      string `json:"type"`
	SessionID string `json:"sessionId"`
	Text      string `json:"text"`
}

type sessionInterruptRequest struct {
	Type      string `json:"type"`
	SessionID string `json:"sessionId"`
}

type sessionListRequest struct {
	Type string `json:"type"`
	Scoped
	DirectoryID string `json:"directoryId"`
}

type ptyStartRequest struct {
	Type           string            `json:"type"`
	Scoped
	SessionID      string            `json:"sessionId"`
	AgentType      types.AgentType   `json:"agentType"`
	Args           []string          `json:"args"`
	Env            map[string]string `json:"env"`
	InitialCols    int               `json:"initialCols"`
	InitialRows    int               `json:"initialRows"`
	ResumeSessionID string           `json:"resumeSessionId"`
}

type ptyAttachRequest struct {
	Type        string `json:"type"`
	SessionID   string `json:"sessionId"`
	SinceCursor int64  `json:"sinceCursor"`
}

type ptyDetachRequest struct {
	Type         string `json:"type"`
	SessionID    string `json:"sessionId"`
	AttachmentID string `json:"attachmentId"`
}

type ptySubscribeEventsRequest struct {
	Type        string `json:"type"`
	SessionID   string `json:"sessionId"`
	AfterCursor int64  `json:"afterCursor"`
}

type ptyUnsubscribeEventsRequest struct {
	Type           string `json:"type"`
	SubscriptionID string `json:"subscriptionId"`
}

type ptyCloseRequest struct {
	Type      string `json:"type"`
	SessionID string `json:"sessionId"`
}

type streamSubscribeRequest struct {
	Type          string                     `json:"type"`
	Filter        types.SubscriptionFilter   `json:"filter"`
	IncludeOutput bool                       `json:"includeOutput"`
	AfterCursor   int64                      `json:"afterCursor"`
}

type streamUnsubscribeRequest struct {
	Type           string `json:"type"`
	SubscriptionID string `json:"subscriptionId"`
}

type githubPRCreateRequest struct {
	Type         string `json:"type"`
	RepositoryID string `json:"repositoryId"`
	Title        string `json:"title"`
	Body         string `json:"body"`
	Head         string `json:"head"`
	Base         string `json:"base"`
}

type githubProjectPRRequest struct {
	Type        string `json:"type"`
	DirectoryID string `json:"directoryId"`
	TaskID      string `json:"taskId"`
}
