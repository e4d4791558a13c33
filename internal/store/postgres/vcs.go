package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/dylanneve1/agent-bridge/internal/store"
	"github.com/dylanneve1/agent-bridge/pkg/models"
)

func (s *Store) CreateRepo(ctx context.Context, name, description string) (models.Repo, error) {
	now := time.Now().Unix()
	id := randomID()
	_, err := s.pool.Exec(ctx,
		`INSERT INTO repos(repo_id, name, description, created_at) VALUES($1, $2, $3, $4)`,
		id, name, description, now)
	if err != nil {
		return models.Repo{}, dupErr(err)
	}
	return models.Repo{RepoID: id, Name: name, Description: description, CreatedAt: fromUnix(now)}, nil
}

func (s *Store) GetRepoByName(ctx context.Context, name string) (*models.Repo, error) {
	var r models.Repo
	var created int64
	err := s.pool.QueryRow(ctx,
		`SELECT repo_id, name, description, created_at FROM repos WHERE name = $1`, name).
		Scan(&r.RepoID, &r.Name, &r.Description, &created)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	r.CreatedAt = fromUnix(created)
	return &r, nil
}

func (s *Store) ListRepos(ctx context.Context) ([]models.Repo, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT repo_id, name, description, created_at FROM repos ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

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

func (s *Store) BranchHead(ctx context.Context, repoID, branch string) (string, error) {
	var head string
	err := s.pool.QueryRow(ctx,
		`SELECT head_commit_id FROM branches WHERE repo_id = $1 AND name = $2`,
		repoID, branch).Scan(&head)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	return head, err
}

func (s *Store) AppendCommit(ctx context.Context, c *models.Commit, expectParent *string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	// Row lock on the branch head serializes racing writers.
	var head *string
	err = tx.QueryRow(ctx,
		`SELECT head_commit_id FROM branches WHERE repo_id = $1 AND name = $2 FOR UPDATE`,
		c.RepoID, c.Branch).Scan(&head)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return err
	}
	if expectParent == nil {
		if head != nil {
			return store.ErrHeadMoved
		}
	} else if head == nil || *head != *expectParent {
		return store.ErrHeadMoved
	}

	var seq int64
	if err := tx.QueryRow(ctx,
		`SELECT COALESCE(MAX(seq), -1) + 1 FROM commits WHERE repo_id = $1 AND branch = $2`,
		c.RepoID, c.Branch).Scan(&seq); err != nil {
		return err
	}

	now := c.CreatedAt
	if now.IsZero() {
		now = time.Now().UTC()
		c.CreatedAt = now
	}
	if _, err := tx.Exec(ctx, `
INSERT INTO commits(commit_id, repo_id, branch, parent_id, seq, author, message, created_at)
VALUES($1, $2, $3, $4, $5, $6, $7, $8)`,
		c.CommitID, c.RepoID, c.Branch, c.ParentID, seq, c.Author, c.Message, now.Unix()); err != nil {
		return err
	}
	for i, ch := range c.Changes {
		var content *string
		if ch.Action != models.ActionDelete {
			v := ch.Content
			content = &v
		}
		if _, err := tx.Exec(ctx, `
INSERT INTO commit_changes(commit_id, idx, path, action, content) VALUES($1, $2, $3, $4, $5)`,
			c.CommitID, i, ch.Path, ch.Action, content); err != nil {
			return err
		}
	}

	if head != nil {
		tag, err := tx.Exec(ctx, `
UPDATE branches SET head_commit_id = $1 WHERE repo_id = $2 AND name = $3 AND head_commit_id = $4`,
			c.CommitID, c.RepoID, c.Branch, *head)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return store.ErrHeadMoved
		}
	} else {
		if _, err := tx.Exec(ctx,
			`INSERT INTO branches(repo_id, name, head_commit_id) VALUES($1, $2, $3)`,
			c.RepoID, c.Branch, c.CommitID); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

func scanCommitRows(rows pgx.Rows) ([]models.Commit, error) {
	var out []models.Commit
	for rows.Next() {
		var c models.Commit
		var created int64
		if err := rows.Scan(&c.CommitID, &c.RepoID, &c.Branch, &c.ParentID, &c.Author, &c.Message, &created); err != nil {
			return nil, err
		}
		c.CreatedAt = fromUnix(created)
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *Store) ListCommits(ctx context.Context, repoID, branch string) ([]models.Commit, error) {
	rows, err := s.pool.Query(ctx, `
SELECT commit_id, repo_id, branch, parent_id, author, message, created_at
FROM commits WHERE repo_id = $1 AND branch = $2 ORDER BY seq DESC`, repoID, branch)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanCommitRows(rows)
}

func (s *Store) GetCommit(ctx context.Context, commitID string) (*models.Commit, error) {
	var c models.Commit
	var created int64
	err := s.pool.QueryRow(ctx, `
SELECT commit_id, repo_id, branch, parent_id, author, message, created_at
FROM commits WHERE commit_id = $1`, commitID).
		Scan(&c.CommitID, &c.RepoID, &c.Branch, &c.ParentID, &c.Author, &c.Message, &created)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	c.CreatedAt = fromUnix(created)
	if c.Changes, err = s.commitChanges(ctx, c.CommitID); err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *Store) commitChanges(ctx context.Context, commitID string) ([]models.Change, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT path, action, content FROM commit_changes WHERE commit_id = $1 ORDER BY idx`, commitID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Change
	for rows.Next() {
		var ch models.Change
		var content *string
		if err := rows.Scan(&ch.Path, &ch.Action, &content); err != nil {
			return nil, err
		}
		if content != nil {
			ch.Content = *content
		}
		out = append(out, ch)
	}
	return out, rows.Err()
}

func (s *Store) CommitChain(ctx context.Context, repoID, branch, throughCommitID string) ([]models.Commit, error) {
	var throughSeq int64
	err := s.pool.QueryRow(ctx,
		`SELECT seq FROM commits WHERE repo_id = $1 AND branch = $2 AND commit_id = $3`,
		repoID, branch, throughCommitID).Scan(&throughSeq)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}

	rows, err := s.pool.Query(ctx, `
SELECT commit_id, repo_id, branch, parent_id, author, message, created_at
FROM commits WHERE repo_id = $1 AND branch = $2 AND seq <= $3 ORDER BY seq`,
		repoID, branch, throughSeq)
	if err != nil {
		return nil, err
	}
	chain, err := scanCommitRows(rows)
	rows.Close()
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
