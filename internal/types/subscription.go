package types

// SubscriptionFilter is the scope a Subscription fans events through.
// Unspecified fields match everything within the tenant/user/workspace
// triple (see Scope.Matches).
type SubscriptionFilter struct {
	Scope          Scope
	RepositoryID   string
	TaskID         string
	DirectoryID    string
	ConversationID string
}

// Matches reports whether an Event satisfies this filter.
func (f SubscriptionFilter) Matches(e Event) bool {
	if !f.Scope.Matches(e.Scope) {
		return false
	}
	if f.RepositoryID != "" && f.RepositoryID != e.RepositoryID {
		return false
	}
	if f.TaskID != "" && f.TaskID != e.TaskID {
		return false
	}
	if f.DirectoryID != "" && f.DirectoryID != e.DirectoryID {
		return false
	}
	if f.ConversationID != "" && f.ConversationID != e.ConversationID {
		return false
	}
	return true
}

// Subscription is a scoped fan-out registration bound to a client
// connection.
type Subscription struct {
	ID            string
	ConnectionID  string
	Filter        SubscriptionFilter
	IncludeOutput bool
	AfterCursor   int64
}
