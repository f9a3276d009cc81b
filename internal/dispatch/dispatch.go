// Package dispatch implements the Command Dispatcher (spec.md section
// 4.I): for every "command" envelope, translate its typed body into a
// call against the State Store, Session Supervisor, or Subscription
// Router, and produce either a result or the exact error substring the
// wire protocol's command.failed carries (spec.md section 7). Command
// types are declared as a flat block of string constants plus typed
// request/response structs, the way the teacher declares its RPC
// operations.
package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/agentrails/agentrailsd/internal/daemon"
	"github.com/agentrails/agentrailsd/internal/router"
	"github.com/agentrails/agentrailsd/internal/store"
	"github.com/agentrails/agentrailsd/internal/supervisor"
	"github.com/agentrails/agentrailsd/internal/types"
)

// OutputSink is how a dispatcher handler pushes data outside the normal
// command.completed reply: live PTY output/events for an attached
// session, and stream.event fan-out for a subscription. The connection
// layer (internal/server) implements this against its own codec.Writer;
// tests substitute a recording fake.
type OutputSink interface {
	EmitPTYOutput(sessionID string, cursor int64, data []byte)
	EmitPTYEvent(sessionID string, event json.RawMessage)
	EmitPTYExit(sessionID string, exit types.RuntimeExit)
	EmitStreamEvent(subscriptionID string, cursor int64, event types.Event)
}

// TitleNamer refreshes a conversation's title via the injectable
// naming provider (spec.md section 4.J); a nil Dispatcher.Namer makes
// conversation.title.refresh fail with "thread not found" rather than
// panic, so a daemon built without an Anthropic API key still serves
// every other command.
type TitleNamer interface {
	RefreshTitle(ctx context.Context, conversationID string) (status, reason, title string, err error)
}

// GitHubPRResult is the (deliberately thin) result of a github.* command:
// spec.md section 1 treats GitHub as an external collaborator the core
// only consumes summaries from, so these commands never perform the
// actual API call themselves — they hand off to an injected GitHubClient
// and report back whatever it returns.
type GitHubPRResult struct {
	Status string `json:"status"`
	URL    string `json:"url,omitempty"`
}

// GitHubClient is the abstract capability github.* commands call
// through. The default implementation (noopGitHubClient) performs no
// network call and reports status "not-configured", matching spec.md's
// "only their interfaces are specified" framing for out-of-scope
// collaborators.
type GitHubClient interface {
	CreatePR(ctx context.Context, repositoryID, title, body, head, base string) (GitHubPRResult, error)
	ProjectPR(ctx context.Context, directoryID, taskID string) (GitHubPRResult, error)
}

type noopGitHubClient struct{}

func (noopGitHubClient) CreatePR(context.Context, string, string, string, string, string) (GitHubPRResult, error) {
	return GitHubPRResult{Status: "not-configured"}, nil
}

func (noopGitHubClient) ProjectPR(context.Context, string, string) (GitHubPRResult, error) {
	return GitHubPRResult{Status: "not-configured"}, nil
}

// Dispatcher holds the components command handlers act against.
type Dispatcher struct {
	Store      *store.Store
	Supervisor *supervisor.Supervisor
	Router     *router.Router

	// Namer refreshes conversation titles for conversation.title.refresh.
	// Optional; see TitleNamer.
	Namer TitleNamer
	// GitHub backs github.* commands. Defaults to a no-op client.
	GitHub GitHubClient

	// NATS backs daemon.status's embedded-server health reporting.
	// Optional; nil reports NATS as "stopped" rather than failing the
	// command.
	NATS *daemon.NATSServer
	// StartedAt records the daemon's boot time for daemon.status's
	// uptime field.
	StartedAt time.Time
}

// New creates a Dispatcher. namer may be nil.
func New(st *store.Store, sv *supervisor.Supervisor, rt *router.Router, namer TitleNamer) *Dispatcher {
	return &Dispatcher{Store: st, Supervisor: sv, Router: rt, Namer: namer, GitHub: noopGitHubClient{}, StartedAt: time.Now()}
}

// Dispatch decodes raw against the envelope's command type and
// executes it. connID identifies the owning connection (subscription
// and PTY-attachment registrations are bound to it so connection close
// can unwind them). sink receives any out-of-band push traffic the
// command causes (pty.output/pty.event/stream.event).
//
// The return value is already a json.RawMessage suitable for
// command.completed.result; a non-nil error becomes command.failed.error
// via its Error() string, which callers must ensure carries one of the
// exact substrings spec.md section 7 names.
func (d *Dispatcher) Dispatch(ctx context.Context, connID string, sink OutputSink, cmdType string, raw json.RawMessage) (json.RawMessage, error) {
	switch cmdType {
	case CmdDirectoryUpsert:
		return d.directoryUpsert(ctx, raw)
	case CmdDirectoryArchive:
		return d.directoryArchive(ctx, raw)
	case CmdDirectoryList:
		return d.directoryList(ctx, raw)
	case CmdDirectoryGitStatus:
		return d.directoryGitStatus(ctx, raw)

	case CmdRepositoryUpsert:
		return d.repositoryUpsert(ctx, raw)
	case CmdRepositoryGet:
		return d.repositoryGet(ctx, raw)
	case CmdRepositoryUpdate:
		return d.repositoryUpdate(ctx, raw)
	case CmdRepositoryArchive:
		return d.repositoryArchive(ctx, raw)
	case CmdRepositoryList:
		return d.repositoryList(ctx, raw)

	case CmdConversationCreate:
		return d.conversationCreate(ctx, raw)
	case CmdConversationUpdate:
		return d.conversationUpdate(ctx, raw)
	case CmdConversationArchive:
		return d.conversationArchive(ctx, raw)
	case CmdConversationDelete:
		return d.conversationDelete(ctx, raw)
	case CmdConversationList:
		return d.conversationList(ctx, raw)
	case CmdConversationTitleRefresh:
		return d.conversationTitleRefresh(ctx, raw)

	case CmdTaskCreate:
		return d.taskCreate(ctx, raw)
	case CmdTaskUpdate:
		return d.taskUpdate(ctx, raw)
	case CmdTaskDelete:
		return d.taskDelete(ctx, raw)
	case CmdTaskReady:
		return d.taskTransition(ctx, raw, d.Store.ReadyTask)
	case CmdTaskDraft:
		return d.taskTransition(ctx, raw, d.Store.DraftTask)
	case CmdTaskQueue:
		return d.taskTransition(ctx, raw, d.Store.QueueTask)
	case CmdTaskComplete:
		return d.taskTransition(ctx, raw, d.Store.CompleteTask)
	case CmdTaskClaim:
		return d.taskClaim(ctx, raw)
	case CmdTaskPull:
		return d.taskPull(ctx, raw)
	case CmdTaskReorder:
		return d.taskReorder(ctx, raw)
	case CmdTaskList:
		return d.taskList(ctx, raw)
	case CmdTaskGet:
		return d.taskGet(ctx, raw)

	case CmdProjectSettingsGet:
		return d.projectSettingsGet(ctx, raw)
	case CmdProjectSettingsUpdate:
		return d.projectSettingsUpdate(ctx, raw)
	case CmdProjectStatus:
		return d.projectStatus(ctx, raw)

	case CmdAutomationPolicyGet:
		return d.automationPolicyGet(ctx, raw)
	case CmdAutomationPolicySet:
		return d.automationPolicySet(ctx, raw)

	case CmdSessionStatus:
		return d.sessionStatus(ctx, raw)
	case CmdSessionList:
		return d.sessionList(ctx, raw)
	case CmdSessionClaim:
		return d.sessionClaim(raw, false)
	case CmdSessionTakeover:
		return d.sessionClaim(raw, true)
	case CmdSessionRelease:
		return d.sessionRelease(raw)
	case CmdSessionRespond:
		return d.sessionRespond(raw)
	case CmdSessionInterrupt:
		return d.sessionInterrupt(raw)
	case CmdSessionRemove:
		return d.sessionRemove(raw)

	case CmdPTYStart:
		return d.ptyStart(ctx, raw)
	case CmdPTYAttach:
		return d.ptyAttach(raw, sink)
	case CmdPTYDetach:
		return d.ptyDetach(raw)
	case CmdPTYSubscribeEvents:
		return d.ptySubscribeEvents(connID, sink, raw)
	case CmdPTYUnsubscribeEvents:
		return d.ptyUnsubscribeEvents(raw)
	case CmdPTYClose:
		return d.ptyClose(raw)

	case CmdStreamSubscribe:
		return d.streamSubscribe(connID, sink, raw)
	case CmdStreamUnsubscribe:
		return d.streamUnsubscribe(raw)

	case CmdGitHubPRCreate:
		return d.githubPRCreate(ctx, raw)
	case CmdGitHubProjectPR:
		return d.githubProjectPR(ctx, raw)

	case CmdDaemonStatus:
		return d.daemonStatus()

	default:
		return nil, fmt.Errorf("unknown command type %q", cmdType)
	}
}

func decode(raw json.RawMessage, v interface{}) error {
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("malformed command body: %w", err)
	}
	return nil
}

func marshalResult(v interface{}) (json.RawMessage, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal command result: %w", err)
	}
	return b, nil
}
