package store

import (
	"context"
	"errors"
	"time"

	"github.com/dylanneve1/agent-bridge/pkg/models"
)

// ErrHeadMoved is returned by AppendCommit when the branch head no longer
// matches the parent the caller resolved. The repository engine surfaces it
// as a Busy error so callers can retry on the new head.
var ErrHeadMoved = errors.New("branch head moved")

// ErrDuplicate is returned by CreateAgent and CreateRepo when a row with the
// same unique name already exists. It lets callers surface AlreadyExists
// even when two creates race past their existence pre-checks.
var ErrDuplicate = errors.New("duplicate row")

// TaskFilter selects tasks for ListTasks. Zero fields are ignored.
type TaskFilter struct {
	Status    string
	Assignee  string
	ProjectID string
	Tag       string
	Limit     int
}

// TaskPatch is a partial task update. Nil pointer fields are left unchanged.
// Status is deliberately absent: status only moves through lifecycle calls.
type TaskPatch struct {
	Title       *string
	Description *string
	Priority    *string
	Effort      *string
	Assignee    *string
	ClearAssignee bool
	ProjectID   *string
	MilestoneID *string
	Tags        *[]string
}

// StatusUpdate carries the fields set alongside a status transition.
type StatusUpdate struct {
	Assignee    *string // new assignee; nil leaves the column unchanged
	BlockReason *string // stored only for blocked; nil clears the column
}

// FileFilter selects file metadata rows.
type FileFilter struct {
	ConversationID string
	UploadedBy     string
	Limit          int
}

// Counts backs the /status endpoint.
type Counts struct {
	Messages       int
	UnreadMessages int
	Agents         int
	Conversations  int
}

// Store is the persistence interface for agents, tasks, projects, repos,
// conversations, and file metadata. Implementations: the SQLite store in this
// package and *postgres.Store. List results omit per-task tags and
// dependencies; GetTask returns them fully populated.
type Store interface {
	// Agents
	CreateAgent(ctx context.Context, name, apiKey string) (models.Agent, error)
	GetAgent(ctx context.Context, name string) (*models.Agent, error)
	GetAgentByKey(ctx context.Context, apiKey string) (*models.Agent, error)
	ListAgents(ctx context.Context) ([]models.Agent, error)
	SetAgentActive(ctx context.Context, name string, active bool) error

	// Tasks
	// CreateTask inserts the task with its tags and DependsOn edges in a
	// single transaction.
	CreateTask(ctx context.Context, t *models.Task) (int64, error)
	GetTask(ctx context.Context, taskID int64) (*models.Task, error)
	ListTasks(ctx context.Context, f TaskFilter) ([]models.Task, error)
	// UpdateTaskStatus transitions taskID to status `to` only if the current
	// status is one of `from` (optimistic, single winner under races).
	// Returns true if a row changed.
	UpdateTaskStatus(ctx context.Context, taskID int64, from []string, to string, upd StatusUpdate) (bool, error)
	PatchTask(ctx context.Context, taskID int64, p TaskPatch) error
	CreateTaskComment(ctx context.Context, taskID int64, author, body string) (models.TaskComment, error)
	ListTaskComments(ctx context.Context, taskID int64) ([]models.TaskComment, error)
	AddTaskDependency(ctx context.Context, taskID, dependsOnTaskID int64) error
	ListTaskDependencies(ctx context.Context, taskID int64) ([]int64, error)
	ListTaskDependents(ctx context.Context, taskID int64) ([]int64, error)
	// DependencyEdges returns the full task dependency adjacency map
	// (task -> tasks it depends on), for cycle detection snapshots.
	DependencyEdges(ctx context.Context) (map[int64][]int64, error)
	TaskStatuses(ctx context.Context, taskIDs []int64) (map[int64]string, error)

	// Projects & milestones
	CreateProject(ctx context.Context, name, description string, tags []string) (models.Project, error)
	GetProject(ctx context.Context, projectID string) (*models.Project, error)
	ListProjects(ctx context.Context) ([]models.Project, error)
	AddProjectMember(ctx context.Context, projectID, agent string) error
	CreateMilestone(ctx context.Context, projectID, name string, dueBy *time.Time) (models.Milestone, error)
	GetMilestone(ctx context.Context, milestoneID string) (*models.Milestone, error)

	// Repositories
	CreateRepo(ctx context.Context, name, description string) (models.Repo, error)
	GetRepoByName(ctx context.Context, name string) (*models.Repo, error)
	ListRepos(ctx context.Context) ([]models.Repo, error)
	// BranchHead returns the current head commit id, or "" for an unseen branch.
	BranchHead(ctx context.Context, repoID, branch string) (string, error)
	// AppendCommit atomically inserts the commit with its changes and advances
	// the branch head, but only if the head still equals expectParent
	// (nil for a new branch). Returns ErrHeadMoved otherwise.
	AppendCommit(ctx context.Context, c *models.Commit, expectParent *string) error
	// ListCommits returns commit metadata newest first, without change lists.
	ListCommits(ctx context.Context, repoID, branch string) ([]models.Commit, error)
	GetCommit(ctx context.Context, commitID string) (*models.Commit, error)
	// CommitChain returns the chain from the branch root through the given
	// commit, oldest first, change lists included.
	CommitChain(ctx context.Context, repoID, branch, throughCommitID string) ([]models.Commit, error)

	// Conversations & messages
	CreateConversation(ctx context.Context, c *models.Conversation) error
	FindDM(ctx context.Context, agentA, agentB string) (string, error)
	GetConversation(ctx context.Context, conversationID string) (*models.Conversation, error)
	// ListConversations lists conversations with member/message counts.
	// member == "" lists all (public browse); otherwise only the member's.
	ListConversations(ctx context.Context, member string) ([]models.Conversation, error)
	IsMember(ctx context.Context, conversationID, agent string) (bool, error)
	AddMember(ctx context.Context, conversationID, agent string) error
	RemoveMember(ctx context.Context, conversationID, agent string) error
	CreateMessage(ctx context.Context, m *models.Message) error
	// ListConversationMessages returns messages oldest first; a non-zero
	// `before` bound restricts to strictly earlier messages.
	ListConversationMessages(ctx context.Context, conversationID string, limit int, before time.Time) ([]models.Message, error)
	// Inbox lists unread messages addressed to the agent's conversations,
	// excluding the agent's own, oldest first.
	Inbox(ctx context.Context, agent string, since time.Time, limit int) ([]models.Message, error)
	MarkMessageRead(ctx context.Context, messageID string) (bool, error)
	// History returns the agent's newest messages oldest first: with peer,
	// the direct traffic between the pair; with peer "", everything the
	// agent sent or received.
	History(ctx context.Context, agent, peer string, limit int) ([]models.Message, error)

	// File metadata
	InsertFile(ctx context.Context, f *models.FileInfo) error
	GetFile(ctx context.Context, fileID string) (*models.FileInfo, error)
	DeleteFile(ctx context.Context, fileID string) error
	ListFiles(ctx context.Context, f FileFilter) ([]models.FileInfo, error)
	FileStats(ctx context.Context) (models.FileStats, error)

	// Lifecycle
	Counts(ctx context.Context) (Counts, error)
	Close() error
}
