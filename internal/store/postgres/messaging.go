package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/dylanneve1/agent-bridge/internal/store"
	"github.com/dylanneve1/agent-bridge/pkg/models"
)

func (s *Store) CreateConversation(ctx context.Context, c *models.Conversation) error {
	now := time.Now().Unix()
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `
INSERT INTO conversations(conversation_id, name, type, created_by, created_at)
VALUES($1, $2, $3, $4, $5)`,
		c.ConversationID, c.Name, c.Type, c.CreatedBy, now); err != nil {
		return err
	}
	for _, m := range c.Members {
		if _, err := tx.Exec(ctx, `
INSERT INTO conversation_members(conversation_id, agent, joined_at) VALUES($1, $2, $3)
ON CONFLICT DO NOTHING`, c.ConversationID, m, now); err != nil {
			return err
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return err
	}
	c.CreatedAt = fromUnix(now)
	return nil
}

func (s *Store) FindDM(ctx context.Context, agentA, agentB string) (string, error) {
	var id string
	err := s.pool.QueryRow(ctx, `
SELECT c.conversation_id FROM conversations c
WHERE c.type = 'dm'
  AND EXISTS (SELECT 1 FROM conversation_members WHERE conversation_id = c.conversation_id AND agent = $1)
  AND EXISTS (SELECT 1 FROM conversation_members WHERE conversation_id = c.conversation_id AND agent = $2)
  AND (SELECT COUNT(*) FROM conversation_members WHERE conversation_id = c.conversation_id) = 2
LIMIT 1`, agentA, agentB).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	return id, err
}

func (s *Store) GetConversation(ctx context.Context, conversationID string) (*models.Conversation, error) {
	var c models.Conversation
	var createdBy *string
	var created int64
	err := s.pool.QueryRow(ctx, `
SELECT conversation_id, name, type, created_by, created_at
FROM conversations WHERE conversation_id = $1`, conversationID).
		Scan(&c.ConversationID, &c.Name, &c.Type, &createdBy, &created)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	if createdBy != nil {
		c.CreatedBy = *createdBy
	}
	c.CreatedAt = fromUnix(created)

	rows, err := s.pool.Query(ctx,
		`SELECT agent FROM conversation_members WHERE conversation_id = $1 ORDER BY agent`, conversationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var a string
		if err := rows.Scan(&a); err != nil {
			return nil, err
		}
		c.Members = append(c.Members, a)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	c.MemberCount = len(c.Members)
	return &c, nil
}

func (s *Store) ListConversations(ctx context.Context, member string) ([]models.Conversation, error) {
	q := `
SELECT c.conversation_id, c.name, c.type, c.created_by, c.created_at,
  (SELECT COUNT(*) FROM conversation_members m WHERE m.conversation_id = c.conversation_id),
  (SELECT COUNT(*) FROM messages msg WHERE msg.conversation_id = c.conversation_id)
FROM conversations c`
	var args []any
	if member != "" {
		q += ` WHERE EXISTS (SELECT 1 FROM conversation_members m
  WHERE m.conversation_id = c.conversation_id AND m.agent = $1)`
		args = append(args, member)
	}
	q += ` ORDER BY c.created_at DESC, c.conversation_id`

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Conversation
	for rows.Next() {
		var c models.Conversation
		var createdBy *string
		var created int64
		if err := rows.Scan(&c.ConversationID, &c.Name, &c.Type, &createdBy, &created,
			&c.MemberCount, &c.MessageCount); err != nil {
			return nil, err
		}
		if createdBy != nil {
			c.CreatedBy = *createdBy
		}
		c.CreatedAt = fromUnix(created)
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *Store) IsMember(ctx context.Context, conversationID, agent string) (bool, error) {
	var n int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM conversation_members WHERE conversation_id = $1 AND agent = $2`,
		conversationID, agent).Scan(&n)
	return n > 0, err
}

func (s *Store) AddMember(ctx context.Context, conversationID, agent string) error {
	_, err := s.pool.Exec(ctx, `
INSERT INTO conversation_members(conversation_id, agent, joined_at) VALUES($1, $2, $3)
ON CONFLICT DO NOTHING`, conversationID, agent, time.Now().Unix())
	return err
}

func (s *Store) RemoveMember(ctx context.Context, conversationID, agent string) error {
	_, err := s.pool.Exec(ctx,
		`DELETE FROM conversation_members WHERE conversation_id = $1 AND agent = $2`,
		conversationID, agent)
	return err
}

func (s *Store) CreateMessage(ctx context.Context, m *models.Message) error {
	now := time.Now().Unix()
	_, err := s.pool.Exec(ctx, `
INSERT INTO messages(message_id, conversation_id, sender, recipient, content, read, created_at)
VALUES($1, $2, $3, $4, $5, FALSE, $6)`,
		m.MessageID, m.ConversationID, m.Sender, m.Recipient, m.Content, now)
	if err != nil {
		return err
	}
	m.CreatedAt = fromUnix(now)
	return nil
}

const messageColumns = `message_id, conversation_id, sender, recipient, content, read, created_at`

func scanMessageRows(rows pgx.Rows) ([]models.Message, error) {
	var out []models.Message
	for rows.Next() {
		var m models.Message
		var created int64
		if err := rows.Scan(&m.MessageID, &m.ConversationID, &m.Sender, &m.Recipient,
			&m.Content, &m.Read, &created); err != nil {
			return nil, err
		}
		m.CreatedAt = fromUnix(created)
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *Store) ListConversationMessages(ctx context.Context, conversationID string, limit int, before time.Time) ([]models.Message, error) {
	if limit <= 0 {
		limit = models.DefaultMessageListLimit
	}
	q := `SELECT ` + messageColumns + ` FROM messages WHERE conversation_id = $1`
	args := []any{conversationID}
	if !before.IsZero() {
		args = append(args, before.Unix())
		q += fmt.Sprintf(` AND created_at < $%d`, len(args))
	}
	args = append(args, limit)
	q += fmt.Sprintf(` ORDER BY created_at, message_id LIMIT $%d`, len(args))

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanMessageRows(rows)
}

func (s *Store) Inbox(ctx context.Context, agent string, since time.Time, limit int) ([]models.Message, error) {
	if limit <= 0 {
		limit = models.DefaultInboxLimit
	}
	q := `
SELECT ` + messageColumns + ` FROM messages
WHERE read = FALSE AND sender != $1
  AND conversation_id IN (SELECT conversation_id FROM conversation_members WHERE agent = $1)`
	args := []any{agent}
	if !since.IsZero() {
		args = append(args, since.Unix())
		q += fmt.Sprintf(` AND created_at >= $%d`, len(args))
	}
	args = append(args, limit)
	q += fmt.Sprintf(` ORDER BY created_at, message_id LIMIT $%d`, len(args))

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanMessageRows(rows)
}

func (s *Store) MarkMessageRead(ctx context.Context, messageID string) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE messages SET read = TRUE WHERE message_id = $1`, messageID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (s *Store) History(ctx context.Context, agent, peer string, limit int) ([]models.Message, error) {
	if limit <= 0 {
		limit = models.DefaultHistoryLimit
	}
	// An empty peer widens the window to everything the agent sent or
	// received.
	where := `(sender = $1 AND recipient = $2) OR (sender = $2 AND recipient = $1)`
	limitArg := "$3"
	args := []any{agent, peer, limit}
	if peer == "" {
		where = `sender = $1 OR recipient = $1`
		limitArg = "$2"
		args = []any{agent, limit}
	}
	rows, err := s.pool.Query(ctx, `
SELECT `+messageColumns+` FROM (
  SELECT `+messageColumns+` FROM messages
  WHERE `+where+`
  ORDER BY created_at DESC, message_id DESC LIMIT `+limitArg+`
) latest ORDER BY created_at, message_id`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanMessageRows(rows)
}

// --- Files ---

const fileColumns = `file_id, original_name, mime_type, size, sha256, uploaded_by, conversation_id, message_id, description, uploaded_at`

func (s *Store) InsertFile(ctx context.Context, f *models.FileInfo) error {
	now := time.Now().Unix()
	_, err := s.pool.Exec(ctx, `
INSERT INTO files(file_id, original_name, mime_type, size, sha256, uploaded_by, conversation_id, message_id, description, uploaded_at)
VALUES($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		f.FileID, f.OriginalName, f.MimeType, f.Size, f.SHA256, f.UploadedBy,
		f.ConversationID, f.MessageID, f.Description, now)
	if err != nil {
		return err
	}
	f.UploadedAt = fromUnix(now)
	return nil
}

func scanFile(scan func(...any) error) (*models.FileInfo, error) {
	var f models.FileInfo
	var mime, sha *string
	var uploaded int64
	err := scan(&f.FileID, &f.OriginalName, &mime, &f.Size, &sha, &f.UploadedBy,
		&f.ConversationID, &f.MessageID, &f.Description, &uploaded)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	if mime != nil {
		f.MimeType = *mime
	}
	if sha != nil {
		f.SHA256 = *sha
	}
	f.UploadedAt = fromUnix(uploaded)
	return &f, nil
}

func (s *Store) GetFile(ctx context.Context, fileID string) (*models.FileInfo, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+fileColumns+` FROM files WHERE file_id = $1`, fileID)
	return scanFile(row.Scan)
}

func (s *Store) DeleteFile(ctx context.Context, fileID string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM files WHERE file_id = $1`, fileID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (s *Store) ListFiles(ctx context.Context, f store.FileFilter) ([]models.FileInfo, error) {
	q := `SELECT ` + fileColumns + ` FROM files`
	var args []any
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}
	var conds []string
	if f.ConversationID != "" {
		conds = append(conds, "conversation_id = "+arg(f.ConversationID))
	}
	if f.UploadedBy != "" {
		conds = append(conds, "uploaded_by = "+arg(f.UploadedBy))
	}
	for i, c := range conds {
		if i == 0 {
			q += " WHERE " + c
		} else {
			q += " AND " + c
		}
	}
	limit := f.Limit
	if limit <= 0 {
		limit = models.DefaultFileListLimit
	}
	q += " ORDER BY uploaded_at DESC, file_id LIMIT " + arg(limit)

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.FileInfo
	for rows.Next() {
		fi, err := scanFile(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, *fi)
	}
	return out, rows.Err()
}

func (s *Store) FileStats(ctx context.Context) (models.FileStats, error) {
	var st models.FileStats
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*), COALESCE(SUM(size), 0) FROM files`).Scan(&st.TotalFiles, &st.TotalSize)
	if err != nil {
		return st, err
	}

	row := s.pool.QueryRow(ctx,
		`SELECT `+fileColumns+` FROM files ORDER BY size DESC, file_id LIMIT 1`)
	largest, err := scanFile(row.Scan)
	if err != nil {
		return st, err
	}
	st.LargestFile = largest

	rows, err := s.pool.Query(ctx, `
SELECT uploaded_by, COUNT(*), COALESCE(SUM(size), 0)
FROM files GROUP BY uploaded_by ORDER BY SUM(size) DESC`)
	if err != nil {
		return st, err
	}
	defer rows.Close()
	for rows.Next() {
		var a models.AgentFileStats
		if err := rows.Scan(&a.Agent, &a.FileCount, &a.TotalSize); err != nil {
			return st, err
		}
		st.ByAgent = append(st.ByAgent, a)
	}
	return st, rows.Err()
}

func (s *Store) Counts(ctx context.Context) (store.Counts, error) {
	var c store.Counts
	err := s.pool.QueryRow(ctx, `
SELECT
  (SELECT COUNT(*) FROM messages),
  (SELECT COUNT(*) FROM messages WHERE read = FALSE),
  (SELECT COUNT(*) FROM agents),
  (SELECT COUNT(*) FROM conversations)`).
		Scan(&c.Messages, &c.UnreadMessages, &c.Agents, &c.Conversations)
	return c, err
}
