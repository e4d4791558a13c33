package store

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/dylanneve1/agent-bridge/pkg/models"
)

// randomID returns a 32-char hex id for projects and milestones.
func randomID() string {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		panic(fmt.Sprintf("crypto/rand failed: %v", err))
	}
	return hex.EncodeToString(b)
}

func nullStr(p *string) sql.NullString {
	if p == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *p, Valid: true}
}

func strPtr(n sql.NullString) *string {
	if !n.Valid {
		return nil
	}
	s := n.String
	return &s
}

func fromUnix(sec int64) time.Time {
	return time.Unix(sec, 0).UTC()
}

// --- Agents ---

func (s *sqliteStore) CreateAgent(ctx context.Context, name, apiKey string) (models.Agent, error) {
	now := time.Now().Unix()
	_, err := s.DB.ExecContext(ctx,
		`INSERT INTO agents(name, api_key, active, created_at) VALUES(?, ?, 1, ?)`,
		name, apiKey, now)
	if err != nil {
		return models.Agent{}, dupErr(err)
	}
	return models.Agent{Name: name, Active: true, CreatedAt: fromUnix(now)}, nil
}

// dupErr maps a SQLite unique-constraint violation onto ErrDuplicate.
func dupErr(err error) error {
	if err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed") {
		return fmt.Errorf("%w: %v", ErrDuplicate, err)
	}
	return err
}

func (s *sqliteStore) GetAgent(ctx context.Context, name string) (*models.Agent, error) {
	row := s.DB.QueryRowContext(ctx,
		`SELECT name, active, created_at FROM agents WHERE name = ?`, name)
	return scanAgent(row)
}

func (s *sqliteStore) GetAgentByKey(ctx context.Context, apiKey string) (*models.Agent, error) {
	return scanAgent(s.stmtGetAgentByKey.QueryRowContext(ctx, apiKey))
}

func scanAgent(row *sql.Row) (*models.Agent, error) {
	var a models.Agent
	var active int
	var created int64
	if err := row.Scan(&a.Name, &active, &created); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	a.Active = active != 0
	a.CreatedAt = fromUnix(created)
	return &a, nil
}

func (s *sqliteStore) ListAgents(ctx context.Context) ([]models.Agent, error) {
	rows, err := s.DB.QueryContext(ctx,
		`SELECT name, active, created_at FROM agents ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []models.Agent
	for rows.Next() {
		var a models.Agent
		var active int
		var created int64
		if err := rows.Scan(&a.Name, &active, &created); err != nil {
			return nil, err
		}
		a.Active = active != 0
		a.CreatedAt = fromUnix(created)
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *sqliteStore) SetAgentActive(ctx context.Context, name string, active bool) error {
	res, err := s.DB.ExecContext(ctx,
		`UPDATE agents SET active = ? WHERE name = ?`, boolInt(active), name)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// --- Tasks ---

func (s *sqliteStore) CreateTask(ctx context.Context, t *models.Task) (int64, error) {
	now := time.Now().Unix()
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `
INSERT INTO tasks(title, description, status, priority, creator, assignee, project_id, milestone_id, effort, block_reason, created_at, updated_at)
VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, NULL, ?, ?)`,
		t.Title, t.Description, t.Status, t.Priority, t.Creator,
		nullStr(t.Assignee), nullStr(t.ProjectID), nullStr(t.MilestoneID),
		t.Effort, now, now)
	if err != nil {
		return 0, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	for _, tag := range t.Tags {
		if _, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO task_tags(task_id, tag) VALUES(?, ?)`, id, tag); err != nil {
			return 0, err
		}
	}
	// Dependency edges land in the same transaction as the task row, so a
	// failed insert rolls the task back too.
	for i, dep := range t.DependsOn {
		if _, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO task_dependencies(task_id, depends_on_task_id, seq) VALUES(?, ?, ?)`,
			id, dep, i); err != nil {
			return 0, err
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	t.TaskID = id
	t.CreatedAt = fromUnix(now)
	t.UpdatedAt = fromUnix(now)
	return id, nil
}

func scanTask(scan func(...any) error) (*models.Task, error) {
	var t models.Task
	var assignee, projectID, milestoneID, blockReason sql.NullString
	var created, updated int64
	err := scan(&t.TaskID, &t.Title, &t.Description, &t.Status, &t.Priority,
		&t.Creator, &assignee, &projectID, &milestoneID, &t.Effort,
		&blockReason, &created, &updated)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	t.Assignee = strPtr(assignee)
	t.ProjectID = strPtr(projectID)
	t.MilestoneID = strPtr(milestoneID)
	t.BlockReason = strPtr(blockReason)
	t.CreatedAt = fromUnix(created)
	t.UpdatedAt = fromUnix(updated)
	return &t, nil
}

func (s *sqliteStore) GetTask(ctx context.Context, taskID int64) (*models.Task, error) {
	t, err := scanTask(s.stmtGetTask.QueryRowContext(ctx, taskID).Scan)
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

func (s *sqliteStore) taskTags(ctx context.Context, taskID int64) ([]string, error) {
	rows, err := s.DB.QueryContext(ctx,
		`SELECT tag FROM task_tags WHERE task_id = ? ORDER BY tag`, taskID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

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

func (s *sqliteStore) ListTasks(ctx context.Context, f TaskFilter) ([]models.Task, error) {
	q := `SELECT ` + taskColumns + ` FROM tasks`
	var conds []string
	var args []any
	if f.Status != "" {
		conds = append(conds, "status = ?")
		args = append(args, f.Status)
	}
	if f.Assignee != "" {
		conds = append(conds, "assignee = ?")
		args = append(args, f.Assignee)
	}
	if f.ProjectID != "" {
		conds = append(conds, "project_id = ?")
		args = append(args, f.ProjectID)
	}
	if f.Tag != "" {
		conds = append(conds, "task_id IN (SELECT task_id FROM task_tags WHERE tag = ?)")
		args = append(args, f.Tag)
	}
	if len(conds) > 0 {
		q += " WHERE " + strings.Join(conds, " AND ")
	}
	q += ` ORDER BY
  CASE priority WHEN 'urgent' THEN 0 WHEN 'high' THEN 1 WHEN 'normal' THEN 2 ELSE 3 END,
  created_at, task_id`
	limit := f.Limit
	if limit <= 0 {
		limit = models.DefaultTaskListLimit
	}
	q += " LIMIT ?"
	args = append(args, limit)

	rows, err := s.DB.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

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

func (s *sqliteStore) UpdateTaskStatus(ctx context.Context, taskID int64, from []string, to string, upd StatusUpdate) (bool, error) {
	sets := []string{"status = ?", "updated_at = ?"}
	args := []any{to, time.Now().Unix()}
	if upd.Assignee != nil {
		sets = append(sets, "assignee = ?")
		args = append(args, *upd.Assignee)
	}
	sets = append(sets, "block_reason = ?")
	args = append(args, nullStr(upd.BlockReason))

	q := "UPDATE tasks SET " + strings.Join(sets, ", ") + " WHERE task_id = ?"
	args = append(args, taskID)
	if len(from) > 0 {
		q += " AND status IN (?" + strings.Repeat(", ?", len(from)-1) + ")"
		for _, st := range from {
			args = append(args, st)
		}
	}
	res, err := s.DB.ExecContext(ctx, q, args...)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *sqliteStore) PatchTask(ctx context.Context, taskID int64, p TaskPatch) error {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	sets := []string{"updated_at = ?"}
	args := []any{time.Now().Unix()}
	add := func(col string, v any) {
		sets = append(sets, col+" = ?")
		args = append(args, v)
	}
	if p.Title != nil {
		add("title", *p.Title)
	}
	if p.Description != nil {
		add("description", *p.Description)
	}
	if p.Priority != nil {
		add("priority", *p.Priority)
	}
	if p.Effort != nil {
		add("effort", *p.Effort)
	}
	if p.ClearAssignee {
		add("assignee", nil)
	} else if p.Assignee != nil {
		add("assignee", *p.Assignee)
	}
	if p.ProjectID != nil {
		add("project_id", *p.ProjectID)
	}
	if p.MilestoneID != nil {
		add("milestone_id", *p.MilestoneID)
	}
	args = append(args, taskID)
	res, err := tx.ExecContext(ctx,
		"UPDATE tasks SET "+strings.Join(sets, ", ")+" WHERE task_id = ?", args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return sql.ErrNoRows
	}
	if p.Tags != nil {
		if _, err := tx.ExecContext(ctx, `DELETE FROM task_tags WHERE task_id = ?`, taskID); err != nil {
			return err
		}
		for _, tag := range *p.Tags {
			if _, err := tx.ExecContext(ctx,
				`INSERT OR IGNORE INTO task_tags(task_id, tag) VALUES(?, ?)`, taskID, tag); err != nil {
				return err
			}
		}
	}
	return tx.Commit()
}

func (s *sqliteStore) CreateTaskComment(ctx context.Context, taskID int64, author, body string) (models.TaskComment, error) {
	now := time.Now().Unix()
	res, err := s.stmtInsertComment.ExecContext(ctx, taskID, author, body, now)
	if err != nil {
		return models.TaskComment{}, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return models.TaskComment{}, err
	}
	return models.TaskComment{
		CommentID: id,
		TaskID:    taskID,
		Author:    author,
		Body:      body,
		CreatedAt: fromUnix(now),
	}, nil
}

func (s *sqliteStore) ListTaskComments(ctx context.Context, taskID int64) ([]models.TaskComment, error) {
	rows, err := s.DB.QueryContext(ctx, `
SELECT comment_id, task_id, author, body, created_at
FROM task_comments WHERE task_id = ? ORDER BY comment_id`, taskID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

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

func (s *sqliteStore) AddTaskDependency(ctx context.Context, taskID, dependsOnTaskID int64) error {
	_, err := s.DB.ExecContext(ctx, `
INSERT OR IGNORE INTO task_dependencies(task_id, depends_on_task_id, seq)
VALUES(?, ?, (SELECT COALESCE(MAX(seq), -1) + 1 FROM task_dependencies WHERE task_id = ?))`,
		taskID, dependsOnTaskID, taskID)
	return err
}

func (s *sqliteStore) ListTaskDependencies(ctx context.Context, taskID int64) ([]int64, error) {
	return s.listIDs(ctx,
		`SELECT depends_on_task_id FROM task_dependencies WHERE task_id = ? ORDER BY seq`, taskID)
}

func (s *sqliteStore) ListTaskDependents(ctx context.Context, taskID int64) ([]int64, error) {
	return s.listIDs(ctx,
		`SELECT task_id FROM task_dependencies WHERE depends_on_task_id = ? ORDER BY task_id`, taskID)
}

func (s *sqliteStore) listIDs(ctx context.Context, q string, args ...any) ([]int64, error) {
	rows, err := s.DB.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

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

func (s *sqliteStore) DependencyEdges(ctx context.Context) (map[int64][]int64, error) {
	rows, err := s.DB.QueryContext(ctx,
		`SELECT task_id, depends_on_task_id FROM task_dependencies`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

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

func (s *sqliteStore) TaskStatuses(ctx context.Context, taskIDs []int64) (map[int64]string, error) {
	out := make(map[int64]string, len(taskIDs))
	if len(taskIDs) == 0 {
		return out, nil
	}
	placeholders := "?" + strings.Repeat(", ?", len(taskIDs)-1)
	args := make([]any, len(taskIDs))
	for i, id := range taskIDs {
		args[i] = id
	}
	rows, err := s.DB.QueryContext(ctx,
		`SELECT task_id, status FROM tasks WHERE task_id IN (`+placeholders+`)`, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

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

func (s *sqliteStore) CreateProject(ctx context.Context, name, description string, tags []string) (models.Project, error) {
	now := time.Now().Unix()
	id := randomID()
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return models.Project{}, err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO projects(project_id, name, description, created_at) VALUES(?, ?, ?, ?)`,
		id, name, description, now); err != nil {
		return models.Project{}, err
	}
	for _, tag := range tags {
		if _, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO project_tags(project_id, tag) VALUES(?, ?)`, id, tag); err != nil {
			return models.Project{}, err
		}
	}
	if err := tx.Commit(); err != nil {
		return models.Project{}, err
	}
	sort.Strings(tags)
	return models.Project{
		ProjectID:   id,
		Name:        name,
		Description: description,
		Tags:        tags,
		CreatedAt:   fromUnix(now),
	}, nil
}

func (s *sqliteStore) GetProject(ctx context.Context, projectID string) (*models.Project, error) {
	var p models.Project
	var created int64
	err := s.DB.QueryRowContext(ctx,
		`SELECT project_id, name, description, created_at FROM projects WHERE project_id = ?`,
		projectID).Scan(&p.ProjectID, &p.Name, &p.Description, &created)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
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

func (s *sqliteStore) fillProject(ctx context.Context, p *models.Project) error {
	rows, err := s.DB.QueryContext(ctx,
		`SELECT tag FROM project_tags WHERE project_id = ? ORDER BY tag`, p.ProjectID)
	if err != nil {
		return err
	}
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			_ = rows.Close()
			return err
		}
		p.Tags = append(p.Tags, t)
	}
	if err := rows.Err(); err != nil {
		return err
	}
	_ = rows.Close()

	rows, err = s.DB.QueryContext(ctx,
		`SELECT agent FROM project_members WHERE project_id = ? ORDER BY agent`, p.ProjectID)
	if err != nil {
		return err
	}
	for rows.Next() {
		var a string
		if err := rows.Scan(&a); err != nil {
			_ = rows.Close()
			return err
		}
		p.Members = append(p.Members, a)
	}
	if err := rows.Err(); err != nil {
		return err
	}
	_ = rows.Close()

	rows, err = s.DB.QueryContext(ctx, `
SELECT milestone_id, project_id, name, due_by, created_at
FROM milestones WHERE project_id = ? ORDER BY created_at, milestone_id`, p.ProjectID)
	if err != nil {
		return err
	}
	for rows.Next() {
		var m models.Milestone
		var due sql.NullInt64
		var created int64
		if err := rows.Scan(&m.MilestoneID, &m.ProjectID, &m.Name, &due, &created); err != nil {
			_ = rows.Close()
			return err
		}
		if due.Valid {
			t := fromUnix(due.Int64)
			m.DueBy = &t
		}
		m.CreatedAt = fromUnix(created)
		p.Milestones = append(p.Milestones, m)
	}
	if err := rows.Err(); err != nil {
		return err
	}
	_ = rows.Close()

	err = s.DB.QueryRowContext(ctx, `
SELECT COUNT(*), COALESCE(SUM(CASE WHEN status = 'done' THEN 1 ELSE 0 END), 0)
FROM tasks WHERE project_id = ?`, p.ProjectID).Scan(&p.TotalTasks, &p.DoneTasks)
	if err != nil {
		return err
	}
	if p.TotalTasks > 0 {
		p.Progress = float64(p.DoneTasks) / float64(p.TotalTasks)
	}
	return nil
}

func (s *sqliteStore) ListProjects(ctx context.Context) ([]models.Project, error) {
	rows, err := s.DB.QueryContext(ctx,
		`SELECT project_id, name, description, created_at FROM projects ORDER BY created_at, project_id`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []models.Project
	for rows.Next() {
		var p models.Project
		var created int64
		if err := rows.Scan(&p.ProjectID, &p.Name, &p.Description, &created); err != nil {
			return nil, err
		}
		p.CreatedAt = fromUnix(created)
		out = append(out, p)
	}
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

func (s *sqliteStore) AddProjectMember(ctx context.Context, projectID, agent string) error {
	_, err := s.DB.ExecContext(ctx,
		`INSERT OR IGNORE INTO project_members(project_id, agent, added_at) VALUES(?, ?, ?)`,
		projectID, agent, time.Now().Unix())
	return err
}

func (s *sqliteStore) CreateMilestone(ctx context.Context, projectID, name string, dueBy *time.Time) (models.Milestone, error) {
	now := time.Now().Unix()
	id := randomID()
	var due sql.NullInt64
	if dueBy != nil {
		due = sql.NullInt64{Int64: dueBy.Unix(), Valid: true}
	}
	_, err := s.DB.ExecContext(ctx,
		`INSERT INTO milestones(milestone_id, project_id, name, due_by, created_at) VALUES(?, ?, ?, ?, ?)`,
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

func (s *sqliteStore) GetMilestone(ctx context.Context, milestoneID string) (*models.Milestone, error) {
	var m models.Milestone
	var due sql.NullInt64
	var created int64
	err := s.DB.QueryRowContext(ctx, `
SELECT milestone_id, project_id, name, due_by, created_at
FROM milestones WHERE milestone_id = ?`, milestoneID).
		Scan(&m.MilestoneID, &m.ProjectID, &m.Name, &due, &created)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	if due.Valid {
		t := fromUnix(due.Int64)
		m.DueBy = &t
	}
	m.CreatedAt = fromUnix(created)
	return &m, nil
}
