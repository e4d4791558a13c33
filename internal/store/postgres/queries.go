package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/dylanneve1/agent-bridge/internal/store"
	"github.com/dylanneve1/agent-bridge/pkg/models"
)

// --- Agents ---

func (s *Store) CreateAgent(ctx context.Context, name, apiKey string) (models.Agent, error) {
	now := time.Now().Unix()
	_, err := s.pool.Exec(ctx,
		`INSERT INTO agents(name, api_key, active, created_at) VALUES($1, $2, TRUE, $3)`,
		name, apiKey, now)
	if err != nil {
		return models.Agent{}, dupErr(err)
	}
	return models.Agent{Name: name, Active: true, CreatedAt: fromUnix(now)}, nil
}

// dupErr maps a unique-constraint violation (SQLSTATE 23505) onto
// store.ErrDuplicate.
func dupErr(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return fmt.Errorf("%w: %v", store.ErrDuplicate, err)
	}
	return err
}

func (s *Store) GetAgent(ctx context.Context, name string) (*models.Agent, error) {
	return s.scanAgentRow(ctx,
		`SELECT name, active, created_at FROM agents WHERE name = $1`, name)
}

func (s *Store) GetAgentByKey(ctx context.Context, apiKey string) (*models.Agent, error) {
	return s.scanAgentRow(ctx,
		`SELECT name, active, created_at FROM agents WHERE api_key = $1`, apiKey)
}

func (s *Store) scanAgentRow(ctx context.Context, q string, args ...any) (*models.Agent, error) {
	var a models.Agent
	var created int64
	err := s.pool.QueryRow(ctx, q, args...).Scan(&a.Name, &a.Active, &created)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	a.CreatedAt = fromUnix(created)
	return &a, nil
}

func (s *Store) ListAgents(ctx context.Context) ([]models.Agent, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT name, active, created_at FROM agents ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Agent
	for rows.Next() {
		var a models.Agent
		var created int64
		if err := rows.Scan(&a.Name, &a.Active, &created); err != nil {
			return nil, err
		}
		a.CreatedAt = fromUnix(created)
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *Store) SetAgentActive(ctx context.Context, name string, active bool) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE agents SET active = $1 WHERE name = $2`, active, name)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// --- Tasks ---

const taskColumns = `task_id, title, description, status, priority, creator, assignee, project_id, milestone_id, effort, block_reason, created_at, updated_at`

func (s *Store) CreateTask(ctx context.Context, t *models.Task) (int64, error) {
	now := time.Now().Unix()
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var id int64
	err = tx.QueryRow(ctx, `
INSERT INTO tasks(title, description, status, priority, creator, assignee, project_id, milestone_id, effort, created_at, updated_at)
VALUES($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
RETURNING task_id`,
		t.Title, t.Description, t.Status, t.Priority, t.Creator,
		t.Assignee, t.ProjectID, t.MilestoneID, t.Effort, now, now).Scan(&id)
	if err != nil {
		return 0, err
	}
	for _, tag := range t.Tags {
		if _, err := tx.Exec(ctx,
			`INSERT INTO task_tags(task_id, tag) VALUES($1, $2) ON CONFLICT DO NOTHING`, id, tag); err != nil {
			return 0, err
		}
	}
	// Dependency edges commit or roll back together with the task row.
	for i, dep := range t.DependsOn {
		if _, err := tx.Exec(ctx, `
INSERT INTO task_dependencies(task_id, depends_on_task_id, seq)
VALUES($1, $2, $3) ON CONFLICT DO NOTHING`, id, dep, i); err != nil {
			return 0, err
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, err
	}
	t.TaskID = id
	t.CreatedAt = fromUnix(now)
	t.UpdatedAt = fromUnix(now)
	return id, nil
}

func scanTask(scan func(...any) error) (*models.Task, error) {
	var t models.Task
	var created, updated int64
	err := scan(&t.TaskID, &t.Title, &t.Description, &t.Status, &t.Priority,
		&t.Creator, &t.Assignee, &t.ProjectID, &t.MilestoneID, &t.Effort,
		&t.BlockReason, &created, &updated)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	t.CreatedAt = fromUnix(created)
	t.UpdatedAt = fromUnix(updated)
	return &t, nil
}

func (s *Store) GetTask(ctx context.Context, taskID int64) (*models.Task, error) {
	t, err := scanTask(s.pool.QueryRow(ctx,
		`SELECT `+taskColumns+` FROM tasks WHERE task_id = $1`, taskID).Scan)
	if err != nil || t == nil {
		return t, err
	}
	if t.Tags, err = s.taskTags(ctx, taskID); err != nil {
		return nil, err
	}
	if t.DependsOn, err = s.ListTaskDependencies(ctx, taskID); err != nil {
		return nil, err
	}
	return t, nil
}

func (s *Store) taskTags(ctx context.Context, taskID int64) ([]string, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT tag FROM task_tags WHERE task_id = $1 ORDER BY tag`, taskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tags []string
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return nil, err
		}
		tags = append(tags, t)
	}
	return tags, rows.Err()
}

func (s *Store) ListTasks(ctx context.Context, f store.TaskFilter) ([]models.Task, error) {
	q := `SELECT ` + taskColumns + ` FROM tasks`
	var conds []string
	var args []any
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}
	if f.Status != "" {
		conds = append(conds, "status = "+arg(f.Status))
	}
	if f.Assignee != "" {
		conds = append(conds, "assignee = "+arg(f.Assignee))
	}
	if f.ProjectID != "" {
		conds = append(conds, "project_id = "+arg(f.ProjectID))
	}
	if f.Tag != "" {
		conds = append(conds, "task_id IN (SELECT task_id FROM task_tags WHERE tag = "+arg(f.Tag)+")")
	}
	if len(conds) > 0 {
		q += " WHERE " + strings.Join(conds, " AND ")
	}
	limit := f.Limit
	if limit <= 0 {
		limit = models.DefaultTaskListLimit
	}
	q += ` ORDER BY
  CASE priority WHEN 'urgent' THEN 0 WHEN 'high' THEN 1 WHEN 'normal' THEN 2 ELSE 3 END,
  created_at, task_id LIMIT ` + arg(limit)

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Task
	for rows.Next() {
		t, err := scanTask(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, *t)
	}
	return out, rows.Err()
}

func (s *Store) UpdateTaskStatus(ctx context.Context, taskID int64, from []string, to string, upd store.StatusUpdate) (bool, error) {
	var args []any
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}
	sets := []string{"status = " + arg(to), "updated_at = " + arg(time.Now().Unix())}
	if upd.Assignee != nil {
		sets = append(sets, "assignee = "+arg(*upd.Assignee))
	}
	sets = append(sets, "block_reason = "+arg(upd.BlockReason))

	q := "UPDATE tasks SET " + strings.Join(sets, ", ") + " WHERE task_id = " + arg(taskID)
	if len(from) > 0 {
		ph := make([]string, len(from))
		for i, st := range from {
			ph[i] = arg(st)
		}
		q += " AND status IN (" + strings.Join(ph, ", ") + ")"
	}
	tag, err := s.pool.Exec(ctx, q, args...)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (s *Store) PatchTask(ctx context.Context, taskID int64, p store.TaskPatch) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var args []any
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}
	sets := []string{"updated_at = " + arg(time.Now().Unix())}
	if p.Title != nil {
		sets = append(sets, "title = "+arg(*p.Title))
	}
	if p.Description != nil {
		sets = append(sets, "description = "+arg(*p.Description))
	}
	if p.Priority != nil {
		sets = append(sets, "priority = "+arg(*p.Priority))
	}
	if p.Effort != nil {
		sets = append(sets, "effort = "+arg(*p.Effort))
	}
	if p.ClearAssignee {
		sets = append(sets, "assignee = NULL")
	} else if p.Assignee != nil {
		sets = append(sets, "assignee = "+arg(*p.Assignee))
	}
	if p.ProjectID != nil {
		sets = append(sets, "project_id = "+arg(*p.ProjectID))
	}
	if p.MilestoneID != nil {
		sets = append(sets, "milestone_id = "+arg(*p.MilestoneID))
	}
	tag, err := tx.Exec(ctx,
		"UPDATE tasks SET "+strings.Join(sets, ", ")+" WHERE task_id = "+arg(taskID), args...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return sql.ErrNoRows
	}
	if p.Tags != nil {
		if _, err := tx.Exec(ctx, `DELETE FROM task_tags WHERE task_id = $1`, taskID); err != nil {
			return err
		}
		for _, tg := range *p.Tags {
			if _, err := tx.Exec(ctx,
				`INSERT INTO task_tags(task_id, tag) VALUES($1, $2) ON CONFLICT DO NOTHING`, taskID, tg); err != nil {
				return err
			}
		}
	}
	return tx.Commit(ctx)
}

func (s *Store) CreateTaskComment(ctx context.Context, taskID int64, author, body string) (models.TaskComment, error) {
	now := time.Now().Unix()
	var id int64
	err := s.pool.QueryRow(ctx, `
INSERT INTO task_comments(task_id, author, body, created_at)
VALUES($1, $2, $3, $4) RETURNING comment_id`, taskID, author, body, now).Scan(&id)
	if err != nil {
		return models.TaskComment{}, err
	}
	return models.TaskComment{CommentID: id, TaskID: taskID, Author: author, Body: body, CreatedAt: fromUnix(now)}, nil
}

func (s *Store) ListTaskComments(ctx context.Context, taskID int64) ([]models.TaskComment, error) {
	rows, err := s.pool.Query(ctx, `
SELECT comment_id, task_id, author, body, created_at
FROM task_comments WHERE task_id = $1 ORDER BY comment_id`, taskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.TaskComment
	for rows.Next() {
		var c models.TaskComment
		var created int64
		if err := rows.Scan(&c.CommentID, &c.TaskID, &c.Author, &c.Body, &created); err != nil {
			return nil, err
		}
		c.CreatedAt = fromUnix(created)
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *Store) AddTaskDependency(ctx context.Context, taskID, dependsOnTaskID int64) error {
	_, err := s.pool.Exec(ctx, `
INSERT INTO task_dependencies(task_id, depends_on_task_id, seq)
VALUES($1, $2, (SELECT COALESCE(MAX(seq), -1) + 1 FROM task_dependencies WHERE task_id = $1))
ON CONFLICT DO NOTHING`, taskID, dependsOnTaskID)
	return err
}

func (s *Store) ListTaskDependencies(ctx context.Context, taskID int64) ([]int64, error) {
	return s.listIDs(ctx,
		`SELECT depends_on_task_id FROM task_dependencies WHERE task_id = $1 ORDER BY seq`, taskID)
}

func (s *Store) ListTaskDependents(ctx context.Context, taskID int64) ([]int64, error) {
	return s.listIDs(ctx,
		`SELECT task_id FROM task_dependencies WHERE depends_on_task_id = $1 ORDER BY task_id`, taskID)
}

func (s *Store) listIDs(ctx context.Context, q string, args ...any) ([]int64, error) {
	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func (s *Store) DependencyEdges(ctx context.Context) (map[int64][]int64, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT task_id, depends_on_task_id FROM task_dependencies`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	edges := make(map[int64][]int64)
	for rows.Next() {
		var from, to int64
		if err := rows.Scan(&from, &to); err != nil {
			return nil, err
		}
		edges[from] = append(edges[from], to)
	}
	return edges, rows.Err()
}

func (s *Store) TaskStatuses(ctx context.Context, taskIDs []int64) (map[int64]string, error) {
	out := make(map[int64]string, len(taskIDs))
	if len(taskIDs) == 0 {
		return out, nil
	}
	rows, err := s.pool.Query(ctx,
		`SELECT task_id, status FROM tasks WHERE task_id = ANY($1)`, taskIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var id int64
		var st string
		if err := rows.Scan(&id, &st); err != nil {
			return nil, err
		}
		out[id] = st
	}
	return out, rows.Err()
}

// --- Projects & milestones ---

func (s *Store) CreateProject(ctx context.Context, name, description string, tags []string) (models.Project, error) {
	now := time.Now().Unix()
	id := randomID()
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return models.Project{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx,
		`INSERT INTO projects(project_id, name, description, created_at) VALUES($1, $2, $3, $4)`,
		id, name, description, now); err != nil {
		return models.Project{}, err
	}
	for _, tag := range tags {
		if _, err := tx.Exec(ctx,
			`INSERT INTO project_tags(project_id, tag) VALUES($1, $2) ON CONFLICT DO NOTHING`, id, tag); err != nil {
			return models.Project{}, err
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return models.Project{}, err
	}
	sort.Strings(tags)
	return models.Project{ProjectID: id, Name: name, Description: description, Tags: tags, CreatedAt: fromUnix(now)}, nil
}

func (s *Store) GetProject(ctx context.Context, projectID string) (*models.Project, error) {
	var p models.Project
	var created int64
	err := s.pool.QueryRow(ctx,
		`SELECT project_id, name, description, created_at FROM projects WHERE project_id = $1`,
		projectID).Scan(&p.ProjectID, &p.Name, &p.Description, &created)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	p.CreatedAt = fromUnix(created)
	if err := s.fillProject(ctx, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *Store) fillProject(ctx context.Context, p *models.Project) error {
	rows, err := s.pool.Query(ctx,
		`SELECT tag FROM project_tags WHERE project_id = $1 ORDER BY tag`, p.ProjectID)
	if err != nil {
		return err
	}
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			rows.Close()
			return err
		}
		p.Tags = append(p.Tags, t)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	rows, err = s.pool.Query(ctx,
		`SELECT agent FROM project_members WHERE project_id = $1 ORDER BY agent`, p.ProjectID)
	if err != nil {
		return err
	}
	for rows.Next() {
		var a string
		if err := rows.Scan(&a); err != nil {
			rows.Close()
			return err
		}
		p.Members = append(p.Members, a)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	rows, err = s.pool.Query(ctx, `
SELECT milestone_id, project_id, name, due_by, created_at
FROM milestones WHERE project_id = $1 ORDER BY created_at, milestone_id`, p.ProjectID)
	if err != nil {
		return err
	}
	for rows.Next() {
		var m models.Milestone
		var due *int64
		var created int64
		if err := rows.Scan(&m.MilestoneID, &m.ProjectID, &m.Name, &due, &created); err != nil {
			rows.Close()
			return err
		}
		if due != nil {
			t := fromUnix(*due)
			m.DueBy = &t
		}
		m.CreatedAt = fromUnix(created)
		p.Milestones = append(p.Milestones, m)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	err = s.pool.QueryRow(ctx, `
SELECT COUNT(*), COALESCE(SUM(CASE WHEN status = 'done' THEN 1 ELSE 0 END), 0)
FROM tasks WHERE project_id = $1`, p.ProjectID).Scan(&p.TotalTasks, &p.DoneTasks)
	if err != nil {
		return err
	}
	if p.TotalTasks > 0 {
		p.Progress = float64(p.DoneTasks) / float64(p.TotalTasks)
	}
	return nil
}

func (s *Store) ListProjects(ctx context.Context) ([]models.Project, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT project_id, name, description, created_at FROM projects ORDER BY created_at, project_id`)
	if err != nil {
		return nil, err
	}
	var out []models.Project
	for rows.Next() {
		var p models.Project
		var created int64
		if err := rows.Scan(&p.ProjectID, &p.Name, &p.Description, &created); err != nil {
			rows.Close()
			return nil, err
		}
		p.CreatedAt = fromUnix(created)
		out = append(out, p)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range out {
		if err := s.fillProject(ctx, &out[i]); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (s *Store) AddProjectMember(ctx context.Context, projectID, agent string) error {
	_, err := s.pool.Exec(ctx, `
INSERT INTO project_members(project_id, agent, added_at) VALUES($1, $2, $3)
ON CONFLICT DO NOTHING`, projectID, agent, time.Now().Unix())
	return err
}

func (s *Store) CreateMilestone(ctx context.Context, projectID, name string, dueBy *time.Time) (models.Milestone, error) {
	now := time.Now().Unix()
	id := randomID()
	var due *int64
	if dueBy != nil {
		v := dueBy.Unix()
		due = &v
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO milestones(milestone_id, project_id, name, due_by, created_at) VALUES($1, $2, $3, $4, $5)`,
		id, projectID, name, due, now)
	if err != nil {
		return models.Milestone{}, err
	}
	m := models.Milestone{MilestoneID: id, ProjectID: projectID, Name: name, CreatedAt: fromUnix(now)}
	if dueBy != nil {
		t := dueBy.UTC()
		m.DueBy = &t
	}
	return m, nil
}

func (s *Store) GetMilestone(ctx context.Context, milestoneID string) (*models.Milestone, error) {
	var m models.Milestone
	var due *int64
	var created int64
	err := s.pool.QueryRow(ctx, `
SELECT milestone_id, project_id, name, due_by, created_at
FROM milestones WHERE milestone_id = $1`, milestoneID).
		Scan(&m.MilestoneID, &m.ProjectID, &m.Name, &due, &created)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	if due != nil {
		t := fromUnix(*due)
		m.DueBy = &t
	}
	m.CreatedAt = fromUnix(created)
	return &m, nil
}
