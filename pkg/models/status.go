package models

// Task statuses used throughout the codebase.
const (
	StatusOpen       = "open"
	StatusClaimed    = "claimed"
	StatusInProgress = "in_progress"
	StatusBlocked    = "blocked"
	StatusDone       = "done"
)

// Task priorities.
const (
	PriorityUrgent = "urgent"
	PriorityHigh   = "high"
	PriorityNormal = "normal"
	PriorityLow    = "low"
)

// Commit change actions.
const (
	ActionAdd    = "add"
	ActionModify = "modify"
	ActionDelete = "delete"
)

// Conversation types.
const (
	ConversationDM    = "dm"
	ConversationGroup = "group"
)

// ValidStatus reports whether s is a known task status.
func ValidStatus(s string) bool {
	switch s {
	case StatusOpen, StatusClaimed, StatusInProgress, StatusBlocked, StatusDone:
		return true
	}
	return false
}

// ValidPriority reports whether p is a known task priority.
func ValidPriority(p string) bool {
	switch p {
	case PriorityUrgent, PriorityHigh, PriorityNormal, PriorityLow:
		return true
	}
	return false
}

// ValidAction reports whether a is a known commit change action.
func ValidAction(a string) bool {
	switch a {
	case ActionAdd, ActionModify, ActionDelete:
		return true
	}
	return false
}

// Default limits.
const (
	DefaultMaxRequestBodyBytes = 1 << 20       // 1 MiB for JSON bodies
	DefaultMaxFileBytes        = 50 << 20      // 50 MiB for uploads
	DefaultTaskListLimit       = 1000
	DefaultMessageListLimit    = 500
	DefaultInboxLimit          = 50
	DefaultHistoryLimit        = 20
	DefaultFileListLimit       = 50
	DefaultSSEChannelBuffer    = 256
)
