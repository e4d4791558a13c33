// Package task implements the task board: lifecycle state machine,
// dependency gating, cycle detection, comments, projects, and milestones.
package task

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/dylanneve1/agent-bridge/internal/bridgeerr"
	"github.com/dylanneve1/agent-bridge/internal/store"
	"github.com/dylanneve1/agent-bridge/pkg/models"
)

// lockWait bounds how long a mutating call waits for a contended task lock
// before giving up with Busy.
const lockWait = 5 * time.Second

// Engine owns all task and project mutations. Mutations on a single task are
// serialized through a per-task lock; dependency-graph edits additionally
// hold graphMu so cycle checks see a consistent snapshot.
type Engine struct {
	st      store.Store
	locks   keyedLocks
	graphMu sync.RWMutex
}

func NewEngine(st store.Store) *Engine {
	return &Engine{st: st, locks: keyedLocks{held: make(map[int64]chan struct{})}}
}

// keyedLocks hands out one slot per task id. Acquire blocks up to lockWait.
type keyedLocks struct {
	mu   sync.Mutex
	held map[int64]chan struct{}
}

func (k *keyedLocks) acquire(ctx context.Context, id int64) (func(), error) {
	k.mu.Lock()
	ch, ok := k.held[id]
	if !ok {
		ch = make(chan struct{}, 1)
		k.held[id] = ch
	}
	k.mu.Unlock()

	timer := time.NewTimer(lockWait)
	defer timer.Stop()
	select {
	case ch <- struct{}{}:
		return func() { <-ch }, nil
	case <-timer.C:
		return nil, bridgeerr.E(bridgeerr.Busy, "task %d is locked by another operation", id)
	case <-ctx.Done():
		return nil, bridgeerr.Wrap(bridgeerr.Busy, ctx.Err(), "task %d lock wait canceled", id)
	}
}

// CreateRequest carries the fields accepted at task creation.
type CreateRequest struct {
	Title       string
	Description string
	Priority    string
	Creator     string
	Assignee    *string
	ProjectID   *string
	MilestoneID *string
	Tags        []string
	DependsOn   []int64
	Effort      string
}

func (e *Engine) Create(ctx context.Context, req CreateRequest) (*models.Task, error) {
	if strings.TrimSpace(req.Title) == "" {
		return nil, bridgeerr.E(bridgeerr.InvalidOperation, "task title is required")
	}
	if req.Priority == "" {
		req.Priority = models.PriorityNormal
	}
	if !models.ValidPriority(req.Priority) {
		return nil, bridgeerr.E(bridgeerr.InvalidOperation, "unknown priority %q", req.Priority)
	}
	if req.ProjectID != nil {
		p, err := e.st.GetProject(ctx, *req.ProjectID)
		if err != nil {
			return nil, storeErr(err)
		}
		if p == nil {
			return nil, bridgeerr.E(bridgeerr.NotFound, "project %s not found", *req.ProjectID)
		}
	}
	if req.MilestoneID != nil {
		m, err := e.st.GetMilestone(ctx, *req.MilestoneID)
		if err != nil {
			return nil, storeErr(err)
		}
		if m == nil {
			return nil, bridgeerr.E(bridgeerr.NotFound, "milestone %s not found", *req.MilestoneID)
		}
		// A milestone is only reachable through its own project.
		if req.ProjectID == nil || *req.ProjectID != m.ProjectID {
			return nil, bridgeerr.E(bridgeerr.InvalidOperation,
				"milestone %s belongs to project %s", *req.MilestoneID, m.ProjectID)
		}
	}

	// Dependencies on a brand-new task cannot form a cycle (nothing points
	// at it yet), but every referenced id must exist.
	e.graphMu.Lock()
	defer e.graphMu.Unlock()
	if len(req.DependsOn) > 0 {
		statuses, err := e.st.TaskStatuses(ctx, req.DependsOn)
		if err != nil {
			return nil, storeErr(err)
		}
		for _, dep := range req.DependsOn {
			if _, ok := statuses[dep]; !ok {
				return nil, bridgeerr.E(bridgeerr.NotFound, "dependency task %d not found", dep)
			}
		}
	}

	t := &models.Task{
		Title:       req.Title,
		Description: req.Description,
		Status:      models.StatusOpen,
		Priority:    req.Priority,
		Creator:     req.Creator,
		Assignee:    req.Assignee,
		ProjectID:   req.ProjectID,
		MilestoneID: req.MilestoneID,
		Tags:        req.Tags,
		DependsOn:   req.DependsOn,
		Effort:      req.Effort,
	}
	// The store inserts the task and its dependency edges in one
	// transaction, so a half-created task never appears without its gates.
	if _, err := e.st.CreateTask(ctx, t); err != nil {
		return nil, storeErr(err)
	}
	return t, nil
}

// Claim moves an open task to claimed with the caller as assignee. Exactly
// one of two racing claims wins; the loser sees InvalidTransition.
func (e *Engine) Claim(ctx context.Context, taskID int64, agent string) (*models.Task, error) {
	unlock, err := e.locks.acquire(ctx, taskID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	ok, err := e.st.UpdateTaskStatus(ctx, taskID,
		[]string{models.StatusOpen}, models.StatusClaimed,
		store.StatusUpdate{Assignee: &agent})
	if err != nil {
		return nil, storeErr(err)
	}
	if !ok {
		return nil, e.transitionError(ctx, taskID, "claim")
	}
	return e.mustGet(ctx, taskID)
}

// Start moves a task to in_progress. Allowed from claimed and blocked, and
// from open as an implicit claim-then-start. A task someone else already
// claimed or blocked is off limits. Every dependency must be done.
func (e *Engine) Start(ctx context.Context, taskID int64, agent string) (*models.Task, error) {
	unlock, err := e.locks.acquire(ctx, taskID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	cur, err := e.st.GetTask(ctx, taskID)
	if err != nil {
		return nil, storeErr(err)
	}
	if cur == nil {
		return nil, bridgeerr.E(bridgeerr.NotFound, "task %d not found", taskID)
	}
	if cur.Status != models.StatusOpen && cur.Assignee != nil && *cur.Assignee != agent {
		return nil, bridgeerr.E(bridgeerr.Forbidden,
			"task %d is assigned to %s", taskID, *cur.Assignee)
	}

	e.graphMu.RLock()
	unmet, err := e.unmetDependencies(ctx, taskID)
	e.graphMu.RUnlock()
	if err != nil {
		return nil, err
	}
	if len(unmet) > 0 {
		return nil, bridgeerr.E(bridgeerr.DependencyUnmet,
			"task %d cannot start: dependencies not done: %v", taskID, unmet)
	}

	ok, err := e.st.UpdateTaskStatus(ctx, taskID,
		[]string{models.StatusOpen, models.StatusClaimed, models.StatusBlocked},
		models.StatusInProgress,
		store.StatusUpdate{Assignee: &agent})
	if err != nil {
		return nil, storeErr(err)
	}
	if !ok {
		return nil, e.transitionError(ctx, taskID, "start")
	}
	return e.mustGet(ctx, taskID)
}

// Complete moves a claimed or in_progress task to done. Done is terminal:
// no lifecycle call moves the task out of it again.
func (e *Engine) Complete(ctx context.Context, taskID int64, agent string) (*models.Task, error) {
	unlock, err := e.locks.acquire(ctx, taskID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	ok, err := e.st.UpdateTaskStatus(ctx, taskID,
		[]string{models.StatusClaimed, models.StatusInProgress}, models.StatusDone,
		store.StatusUpdate{})
	if err != nil {
		return nil, storeErr(err)
	}
	if !ok {
		return nil, e.transitionError(ctx, taskID, "complete")
	}
	return e.mustGet(ctx, taskID)
}

// Block parks a claimed or in_progress task with a reason. A later Start
// re-evaluates dependencies and resumes it.
func (e *Engine) Block(ctx context.Context, taskID int64, agent, reason string) (*models.Task, error) {
	if strings.TrimSpace(reason) == "" {
		return nil, bridgeerr.E(bridgeerr.InvalidOperation, "block reason is required")
	}
	unlock, err := e.locks.acquire(ctx, taskID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	ok, err := e.st.UpdateTaskStatus(ctx, taskID,
		[]string{models.StatusClaimed, models.StatusInProgress}, models.StatusBlocked,
		store.StatusUpdate{BlockReason: &reason})
	if err != nil {
		return nil, storeErr(err)
	}
	if !ok {
		return nil, e.transitionError(ctx, taskID, "block")
	}
	return e.mustGet(ctx, taskID)
}

// Patch applies a partial update. Status is never patchable; lifecycle
// calls are the only way to move it. Done tasks accept comments only.
func (e *Engine) Patch(ctx context.Context, taskID int64, p store.TaskPatch) (*models.Task, error) {
	if p.Priority != nil && !models.ValidPriority(*p.Priority) {
		return nil, bridgeerr.E(bridgeerr.InvalidOperation, "unknown priority %q", *p.Priority)
	}
	if p.ProjectID != nil {
		proj, err := e.st.GetProject(ctx, *p.ProjectID)
		if err != nil {
			return nil, storeErr(err)
		}
		if proj == nil {
			return nil, bridgeerr.E(bridgeerr.NotFound, "project %s not found", *p.ProjectID)
		}
	}
	unlock, err := e.locks.acquire(ctx, taskID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	cur, err := e.st.GetTask(ctx, taskID)
	if err != nil {
		return nil, storeErr(err)
	}
	if cur == nil {
		return nil, bridgeerr.E(bridgeerr.NotFound, "task %d not found", taskID)
	}
	if cur.Status == models.StatusDone {
		return nil, bridgeerr.E(bridgeerr.InvalidTransition, "task %d is done and immutable", taskID)
	}

	// Validate the milestone against the project the task will end up in,
	// whether either side comes from the patch or the current row.
	milestoneID := cur.MilestoneID
	if p.MilestoneID != nil {
		milestoneID = p.MilestoneID
	}
	projectID := cur.ProjectID
	if p.ProjectID != nil {
		projectID = p.ProjectID
	}
	if milestoneID != nil && (p.MilestoneID != nil || p.ProjectID != nil) {
		m, err := e.st.GetMilestone(ctx, *milestoneID)
		if err != nil {
			return nil, storeErr(err)
		}
		if m == nil {
			return nil, bridgeerr.E(bridgeerr.NotFound, "milestone %s not found", *milestoneID)
		}
		if projectID == nil || *projectID != m.ProjectID {
			return nil, bridgeerr.E(bridgeerr.InvalidOperation,
				"milestone %s belongs to project %s", *milestoneID, m.ProjectID)
		}
	}

	if err := e.st.PatchTask(ctx, taskID, p); err != nil {
		return nil, storeErr(err)
	}
	return e.mustGet(ctx, taskID)
}

func (e *Engine) AddComment(ctx context.Context, taskID int64, author, body string) (*models.TaskComment, error) {
	if strings.TrimSpace(body) == "" {
		return nil, bridgeerr.E(bridgeerr.InvalidOperation, "comment body is required")
	}
	t, err := e.st.GetTask(ctx, taskID)
	if err != nil {
		return nil, storeErr(err)
	}
	if t == nil {
		return nil, bridgeerr.E(bridgeerr.NotFound, "task %d not found", taskID)
	}
	c, err := e.st.CreateTaskComment(ctx, taskID, author, body)
	if err != nil {
		return nil, storeErr(err)
	}
	return &c, nil
}

// AddDependency adds edge taskID -> dependsOnID after checking the edge
// would not close a cycle. The graph lock is held across the reachability
// check and the insert so no concurrent edit invalidates the snapshot.
func (e *Engine) AddDependency(ctx context.Context, taskID, dependsOnID int64) (*models.Task, error) {
	if taskID == dependsOnID {
		return nil, bridgeerr.E(bridgeerr.CycleDetected, "task %d cannot depend on itself", taskID)
	}

	e.graphMu.Lock()
	defer e.graphMu.Unlock()

	statuses, err := e.st.TaskStatuses(ctx, []int64{taskID, dependsOnID})
	if err != nil {
		return nil, storeErr(err)
	}
	st, ok := statuses[taskID]
	if !ok {
		return nil, bridgeerr.E(bridgeerr.NotFound, "task %d not found", taskID)
	}
	if _, ok := statuses[dependsOnID]; !ok {
		return nil, bridgeerr.E(bridgeerr.NotFound, "task %d not found", dependsOnID)
	}
	if st == models.StatusDone {
		return nil, bridgeerr.E(bridgeerr.InvalidTransition, "task %d is done and immutable", taskID)
	}

	edges, err := e.st.DependencyEdges(ctx)
	if err != nil {
		return nil, storeErr(err)
	}
	if reachable(edges, dependsOnID, taskID) {
		return nil, bridgeerr.E(bridgeerr.CycleDetected,
			"task %d already depends on task %d (directly or transitively)", dependsOnID, taskID)
	}

	if err := e.st.AddTaskDependency(ctx, taskID, dependsOnID); err != nil {
		return nil, storeErr(err)
	}
	return e.mustGet(ctx, taskID)
}

// Get returns the task with comments and its dependency neighborhood.
func (e *Engine) Get(ctx context.Context, taskID int64) (*models.TaskDetail, error) {
	t, err := e.st.GetTask(ctx, taskID)
	if err != nil {
		return nil, storeErr(err)
	}
	if t == nil {
		return nil, bridgeerr.E(bridgeerr.NotFound, "task %d not found", taskID)
	}
	comments, err := e.st.ListTaskComments(ctx, taskID)
	if err != nil {
		return nil, storeErr(err)
	}
	dependents, err := e.st.ListTaskDependents(ctx, taskID)
	if err != nil {
		return nil, storeErr(err)
	}
	return &models.TaskDetail{
		Task:       *t,
		Comments:   comments,
		DependsOn:  t.DependsOn,
		Dependents: dependents,
	}, nil
}

func (e *Engine) List(ctx context.Context, f store.TaskFilter) ([]models.Task, error) {
	if f.Status != "" && !models.ValidStatus(f.Status) {
		return nil, bridgeerr.E(bridgeerr.InvalidOperation, "unknown status %q", f.Status)
	}
	out, err := e.st.ListTasks(ctx, f)
	if err != nil {
		return nil, storeErr(err)
	}
	return out, nil
}

// --- Projects & milestones ---

func (e *Engine) CreateProject(ctx context.Context, name, description string, tags []string) (*models.Project, error) {
	if strings.TrimSpace(name) == "" {
		return nil, bridgeerr.E(bridgeerr.InvalidOperation, "project name is required")
	}
	p, err := e.st.CreateProject(ctx, name, description, tags)
	if err != nil {
		return nil, storeErr(err)
	}
	return &p, nil
}

func (e *Engine) GetProject(ctx context.Context, projectID string) (*models.Project, error) {
	p, err := e.st.GetProject(ctx, projectID)
	if err != nil {
		return nil, storeErr(err)
	}
	if p == nil {
		return nil, bridgeerr.E(bridgeerr.NotFound, "project %s not found", projectID)
	}
	return p, nil
}

func (e *Engine) ListProjects(ctx context.Context) ([]models.Project, error) {
	out, err := e.st.ListProjects(ctx)
	if err != nil {
		return nil, storeErr(err)
	}
	return out, nil
}

func (e *Engine) AddProjectMember(ctx context.Context, projectID, agent string) (*models.Project, error) {
	p, err := e.st.GetProject(ctx, projectID)
	if err != nil {
		return nil, storeErr(err)
	}
	if p == nil {
		return nil, bridgeerr.E(bridgeerr.NotFound, "project %s not found", projectID)
	}
	if err := e.st.AddProjectMember(ctx, projectID, agent); err != nil {
		return nil, storeErr(err)
	}
	return e.GetProject(ctx, projectID)
}

func (e *Engine) CreateMilestone(ctx context.Context, projectID, name string, dueBy *time.Time) (*models.Milestone, error) {
	if strings.TrimSpace(name) == "" {
		return nil, bridgeerr.E(bridgeerr.InvalidOperation, "milestone name is required")
	}
	p, err := e.st.GetProject(ctx, projectID)
	if err != nil {
		return nil, storeErr(err)
	}
	if p == nil {
		return nil, bridgeerr.E(bridgeerr.NotFound, "project %s not found", projectID)
	}
	m, err := e.st.CreateMilestone(ctx, projectID, name, dueBy)
	if err != nil {
		return nil, storeErr(err)
	}
	return &m, nil
}

// --- internals ---

// unmetDependencies returns the dependency ids of taskID that are not done.
// Caller holds graphMu (read) so the edge set and statuses are consistent.
func (e *Engine) unmetDependencies(ctx context.Context, taskID int64) ([]int64, error) {
	deps, err := e.st.ListTaskDependencies(ctx, taskID)
	if err != nil {
		return nil, storeErr(err)
	}
	if len(deps) == 0 {
		return nil, nil
	}
	statuses, err := e.st.TaskStatuses(ctx, deps)
	if err != nil {
		return nil, storeErr(err)
	}
	var unmet []int64
	for _, dep := range deps {
		if statuses[dep] != models.StatusDone {
			unmet = append(unmet, dep)
		}
	}
	return unmet, nil
}

// transitionError distinguishes an unknown task from a lifecycle violation
// after a conditional update matched no row.
func (e *Engine) transitionError(ctx context.Context, taskID int64, op string) error {
	t, err := e.st.GetTask(ctx, taskID)
	if err != nil {
		return storeErr(err)
	}
	if t == nil {
		return bridgeerr.E(bridgeerr.NotFound, "task %d not found", taskID)
	}
	return bridgeerr.E(bridgeerr.InvalidTransition, "cannot %s task %d from status %q", op, taskID, t.Status)
}

func (e *Engine) mustGet(ctx context.Context, taskID int64) (*models.Task, error) {
	t, err := e.st.GetTask(ctx, taskID)
	if err != nil {
		return nil, storeErr(err)
	}
	if t == nil {
		return nil, bridgeerr.E(bridgeerr.NotFound, "task %d not found", taskID)
	}
	return t, nil
}

func storeErr(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return bridgeerr.Wrap(bridgeerr.NotFound, err, "not found")
	}
	return bridgeerr.Wrap(bridgeerr.Internal, err, "storage failure")
}
