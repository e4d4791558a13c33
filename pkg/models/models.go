// Package models provides shared types for the Agent Bridge HTTP API and external tools.
// These types mirror the API JSON and are stable for use by pkg/client and other consumers.
package models

import "time"

// Agent is a registered participant in the bridge. Agents are never deleted,
// only deactivated.
type Agent struct {
	Name      string    `json:"name"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at,omitempty"`
}

// Task is a unit of work tracked through a fixed lifecycle
// (open -> claimed -> in_progress -> done, with blocked as a detour).
type Task struct {
	TaskID      int64     `json:"task_id"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	Status      string    `json:"status"`
	Priority    string    `json:"priority"`
	Creator     string    `json:"creator"`
	Assignee    *string   `json:"assignee,omitempty"`
	ProjectID   *string   `json:"project_id,omitempty"`
	MilestoneID *string   `json:"milestone_id,omitempty"`
	Tags        []string  `json:"tags,omitempty"`
	DependsOn   []int64   `json:"depends_on,omitempty"`
	Effort      string    `json:"effort,omitempty"`
	BlockReason *string   `json:"block_reason,omitempty"`
	CreatedAt   time.Time `json:"created_at,omitempty"`
	UpdatedAt   time.Time `json:"updated_at,omitempty"`
}

// TaskComment is an immutable comment on a task.
type TaskComment struct {
	CommentID int64     `json:"comment_id"`
	TaskID    int64     `json:"task_id"`
	Author    string    `json:"author"`
	Body      string    `json:"body"`
	CreatedAt time.Time `json:"created_at,omitempty"`
}

// TaskDetail is a task plus its comments and graph neighborhood.
type TaskDetail struct {
	Task       Task          `json:"task"`
	Comments   []TaskComment `json:"comments"`
	DependsOn  []int64       `json:"depends_on"`
	Dependents []int64       `json:"dependents"`
}

// Project groups tasks and members, with derived progress.
type Project struct {
	ProjectID   string      `json:"project_id"`
	Name        string      `json:"name"`
	Description string      `json:"description,omitempty"`
	Tags        []string    `json:"tags,omitempty"`
	Members     []string    `json:"members,omitempty"`
	Milestones  []Milestone `json:"milestones,omitempty"`
	DoneTasks   int         `json:"done_tasks"`
	TotalTasks  int         `json:"total_tasks"`
	Progress    float64     `json:"progress"`
	CreatedAt   time.Time   `json:"created_at,omitempty"`
}

// Milestone is owned by exactly one project.
type Milestone struct {
	MilestoneID string     `json:"milestone_id"`
	ProjectID   string     `json:"project_id"`
	Name        string     `json:"name"`
	DueBy       *time.Time `json:"due_by,omitempty"`
	CreatedAt   time.Time  `json:"created_at,omitempty"`
}

// Repo is a named versioned file store with one linear commit chain per branch.
type Repo struct {
	RepoID      string    `json:"repo_id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at,omitempty"`
}

// Change is one file change inside a commit. Content is empty for delete.
type Change struct {
	Path    string `json:"path"`
	Action  string `json:"action"`
	Content string `json:"content,omitempty"`
}

// Commit is an immutable, ordered set of file changes applied atomically
// to a branch's tree state.
type Commit struct {
	CommitID  string    `json:"commit_id"`
	RepoID    string    `json:"repo_id"`
	Branch    string    `json:"branch"`
	ParentID  *string   `json:"parent_id,omitempty"`
	Author    string    `json:"author"`
	Message   string    `json:"message"`
	Changes   []Change  `json:"changes,omitempty"`
	CreatedAt time.Time `json:"created_at,omitempty"`
}

// DiffEntry compares a commit's resulting tree against its parent's.
type DiffEntry struct {
	Path   string  `json:"path"`
	Action string  `json:"action"`
	Before *string `json:"before,omitempty"`
	After  *string `json:"after,omitempty"`
}

// Conversation is a dm or group thread.
type Conversation struct {
	ConversationID string    `json:"conversation_id"`
	Name           string    `json:"name"`
	Type           string    `json:"type"`
	CreatedBy      string    `json:"created_by,omitempty"`
	Members        []string  `json:"members,omitempty"`
	MemberCount    int       `json:"member_count,omitempty"`
	MessageCount   int       `json:"message_count,omitempty"`
	CreatedAt      time.Time `json:"created_at,omitempty"`
}

// Message is a single message in a conversation. Recipient is set for
// direct messages only.
type Message struct {
	MessageID      string    `json:"message_id"`
	ConversationID string    `json:"conversation_id"`
	Sender         string    `json:"sender"`
	Recipient      *string   `json:"recipient,omitempty"`
	Content        string    `json:"content"`
	Read           bool      `json:"read"`
	CreatedAt      time.Time `json:"created_at,omitempty"`
}

// FileInfo is blob metadata. The content itself lives in the blob store.
type FileInfo struct {
	FileID         string    `json:"file_id"`
	OriginalName   string    `json:"original_name"`
	MimeType       string    `json:"mime_type,omitempty"`
	Size           int64     `json:"size"`
	SHA256         string    `json:"sha256,omitempty"`
	UploadedBy     string    `json:"uploaded_by"`
	ConversationID *string   `json:"conversation_id,omitempty"`
	MessageID      *string   `json:"message_id,omitempty"`
	Description    string    `json:"description,omitempty"`
	UploadedAt     time.Time `json:"uploaded_at,omitempty"`
}

// FileStats is the /files/stats API response.
type FileStats struct {
	TotalFiles    int              `json:"total_files"`
	TotalSize     int64            `json:"total_size_bytes"`
	TotalSizeText string           `json:"total_size_human"`
	LargestFile   *FileInfo        `json:"largest_file,omitempty"`
	ByAgent       []AgentFileStats `json:"files_by_agent,omitempty"`
}

// AgentFileStats is a per-uploader breakdown inside FileStats.
type AgentFileStats struct {
	Agent     string `json:"agent"`
	FileCount int    `json:"file_count"`
	TotalSize int64  `json:"total_size"`
}

// Status is the /status API response.
type Status struct {
	OK             bool      `json:"ok"`
	Version        string    `json:"version"`
	UptimeSeconds  int64     `json:"uptime_seconds"`
	StartedAt      time.Time `json:"started_at"`
	TotalMessages  int       `json:"messages_total"`
	UnreadMessages int       `json:"messages_unread"`
	Agents         int       `json:"agents_registered"`
	Conversations  int       `json:"conversations"`
	Files          FileStats `json:"files"`
}
