package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/dylanneve1/agent-bridge/pkg/models"
)

func (s *sqliteStore) CreateRepo(ctx context.Context, name, description string) (models.Repo, error) {
	now := time.Now().Unix()
	id := randomID()
	_, err := s.DB.ExecContext(ctx,
		`INSERT INTO repos(repo_id, name, description, created_at) VALUES(?, ?, ?, ?)`,
		id, name, description, now)
	if err != nil {
		return models.Repo{}, dupErr(err)
	}
	return models.Repo{RepoID: id, Name: name, Description: description, CreatedAt: fromUnix(now)}, nil
}

func (s *sqliteStore) GetRepoByName(ctx context.Context, name string) (*models.Repo, error) {
	var r models.Repo
	var created int64
	err := s.DB.QueryRowContext(ctx,
		`SELECT repo_id, name, description, created_at FROM repos WHERE name = ?`, name).
		Scan(&r.RepoID, &r.Name, &r.Description, &created)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	r.CreatedAt = fromUnix(created)
	return &r, nil
}

func (s *sqliteStore) ListRepos(ctx context.Context) ([]models.Repo, error) {
	rows, err := s.DB.QueryContext(ctx,
		`SELECT repo_id, name, description, created_at FROM repos ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []models.Repo
	for rows.Next() {
		var r models.Repo
		var created int64
		if err := rows.Scan(&r.RepoID, &r.Name, &r.Description, &created); err != nil {
			return nil, err
		}
		r.CreatedAt = fromUnix(created)
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *sqliteStore) BranchHead(ctx context.Context, repoID, branch string) (string, error) {
	var head string
	err := s.stmtBranchHead.QueryRowContext(ctx, repoID, branch).Scan(&head)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return head, err
}

// AppendCommit inserts the commit and its changes and advances the branch
// head in one transaction. The head is re-checked inside the transaction so
// two writers racing on the same parent produce exactly one winner.
func (s *sqliteStore) AppendCommit(ctx context.Context, c *models.Commit, expectParent *string) error {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var head sql.NullString
	err = tx.QueryRowContext(ctx,
		`SELECT head_commit_id FROM branches WHERE repo_id = ? AND name = ?`,
		c.RepoID, c.Branch).Scan(&head)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return err
	}
	if expectParent == nil {
		if head.Valid {
			return ErrHeadMoved
		}
	} else if !head.Valid || head.String != *expectParent {
		return ErrHeadMoved
	}

	var seq int64
	if err := tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(seq), -1) + 1 FROM commits WHERE repo_id = ? AND branch = ?`,
		c.RepoID, c.Branch).Scan(&seq); err != nil {
		return err
	}

	now := c.CreatedAt
	if now.IsZero() {
		now = time.Now().UTC()
		c.CreatedAt = now
	}
	if _, err := tx.ExecContext(ctx, `
INSERT INTO commits(commit_id, repo_id, branch, parent_id, seq, author, message, created_at)
VALUES(?, ?, ?, ?, ?, ?, ?, ?)`,
		c.CommitID, c.RepoID, c.Branch, nullStr(c.ParentID), seq, c.Author, c.Message, now.Unix()); err != nil {
		return err
	}
	for i, ch := range c.Changes {
		var content sql.NullString
		if ch.Action != models.ActionDelete {
			content = sql.NullString{String: ch.Content, Valid: true}
		}
		if _, err := tx.ExecContext(ctx, `
INSERT INTO commit_changes(commit_id, idx, path, action, content) VALUES(?, ?, ?, ?, ?)`,
			c.CommitID, i, ch.Path, ch.Action, content); err != nil {
			return err
		}
	}

	if head.Valid {
		res, err := tx.ExecContext(ctx, `
UPDATE branches SET head_commit_id = ? WHERE repo_id = ? AND name = ? AND head_commit_id = ?`,
			c.CommitID, c.RepoID, c.Branch, head.String)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return ErrHeadMoved
		}
	} else {
		if _, err := tx.ExecContext(ctx, `
INSERT INTO branches(repo_id, name, head_commit_id) VALUES(?, ?, ?)`,
			c.RepoID, c.Branch, c.CommitID); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func scanCommits(rows *sql.Rows) ([]models.Commit, error) {
	var out []models.Commit
	for rows.Next() {
		var c models.Commit
		var parent sql.NullString
		var created int64
		if err := rows.Scan(&c.CommitID, &c.RepoID, &c.Branch, &parent, &c.Author, &c.Message, &created); err != nil {
			return nil, err
		}
		c.ParentID = strPtr(parent)
		c.CreatedAt = fromUnix(created)
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *sqliteStore) ListCommits(ctx context.Context, repoID, branch string) ([]models.Commit, error) {
	rows, err := s.DB.QueryContext(ctx, `
SELECT commit_id, repo_id, branch, parent_id, author, message, created_at
FROM commits WHERE repo_id = ? AND branch = ? ORDER BY seq DESC`, repoID, branch)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	return scanCommits(rows)
}

func (s *sqliteStore) GetCommit(ctx context.Context, commitID string) (*models.Commit, error) {
	var c models.Commit
	var parent sql.NullString
	var created int64
	err := s.DB.QueryRowContext(ctx, `
SELECT commit_id, repo_id, branch, parent_id, author, message, created_at
FROM commits WHERE commit_id = ?`, commitID).
		Scan(&c.CommitID, &c.RepoID, &c.Branch, &parent, &c.Author, &c.Message, &created)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	c.ParentID = strPtr(parent)
	c.CreatedAt = fromUnix(created)
	if c.Changes, err = s.commitChanges(ctx, c.CommitID); err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *sqliteStore) commitChanges(ctx context.Context, commitID string) ([]models.Change, error) {
	rows, err := s.DB.QueryContext(ctx,
		`SELECT path, action, content FROM commit_changes WHERE commit_id = ? ORDER BY idx`, commitID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []models.Change
	for rows.Next() {
		var ch models.Change
		var content sql.NullString
		if err := rows.Scan(&ch.Path, &ch.Action, &content); err != nil {
			return nil, err
		}
		ch.Content = content.String
		out = append(out, ch)
	}
	return out, rows.Err()
}

func (s *sqliteStore) CommitChain(ctx context.Context, repoID, branch, throughCommitID string) ([]models.Commit, error) {
	var throughSeq int64
	err := s.DB.QueryRowContext(ctx,
		`SELECT seq FROM commits WHERE repo_id = ? AND branch = ? AND commit_id = ?`,
		repoID, branch, throughCommitID).Scan(&throughSeq)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}

	rows, err := s.DB.QueryContext(ctx, `
SELECT commit_id, repo_id, branch, parent_id, author, message, created_at
FROM commits WHERE repo_id = ? AND branch = ? AND seq <= ? ORDER BY seq`,
		repoID, branch, throughSeq)
	if err != nil {
		return nil, err
	}
	chain, err := scanCommits(rows)
	_ = rows.Close()
	if err != nil {
		return nil, err
	}
	for i := range chain {
		if chain[i].Changes, err = s.commitChanges(ctx, chain[i].CommitID); err != nil {
			return nil, err
		}
	}
	return chain, nil
}
