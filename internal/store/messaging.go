package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/dylanneve1/agent-bridge/pkg/models"
)

func (s *sqliteStore) CreateConversation(ctx context.Context, c *models.Conversation) error {
	now := time.Now().Unix()
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
INSERT INTO conversations(conversation_id, name, type, created_by, created_at)
VALUES(?, ?, ?, ?, ?)`,
		c.ConversationID, c.Name, c.Type, c.CreatedBy, now); err != nil {
		return err
	}
	for _, m := range c.Members {
		if _, err := tx.ExecContext(ctx, `
INSERT OR IGNORE INTO conversation_members(conversation_id, agent, joined_at) VALUES(?, ?, ?)`,
			c.ConversationID, m, now); err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	c.CreatedAt = fromUnix(now)
	return nil
}

// FindDM locates the dm conversation whose member set is exactly {agentA, agentB}.
func (s *sqliteStore) FindDM(ctx context.Context, agentA, agentB string) (string, error) {
	var id string
	err := s.DB.QueryRowContext(ctx, `
SELECT c.conversation_id FROM conversations c
WHERE c.type = 'dm'
  AND EXISTS (SELECT 1 FROM conversation_members WHERE conversation_id = c.conversation_id AND agent = ?)
  AND EXISTS (SELECT 1 FROM conversation_members WHERE conversation_id = c.conversation_id AND agent = ?)
  AND (SELECT COUNT(*) FROM conversation_members WHERE conversation_id = c.conversation_id) = 2
LIMIT 1`, agentA, agentB).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return id, err
}

func (s *sqliteStore) GetConversation(ctx context.Context, conversationID string) (*models.Conversation, error) {
	var c models.Conversation
	var createdBy sql.NullString
	var created int64
	err := s.DB.QueryRowContext(ctx, `
SELECT conversation_id, name, type, created_by, created_at
FROM conversations WHERE conversation_id = ?`, conversationID).
		Scan(&c.ConversationID, &c.Name, &c.Type, &createdBy, &created)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	c.CreatedBy = createdBy.String
	c.CreatedAt = fromUnix(created)

	rows, err := s.DB.QueryContext(ctx,
		`SELECT agent FROM conversation_members WHERE conversation_id = ? ORDER BY agent`, conversationID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
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

func (s *sqliteStore) ListConversations(ctx context.Context, member string) ([]models.Conversation, error) {
	q := `
SELECT c.conversation_id, c.name, c.type, c.created_by, c.created_at,
  (SELECT COUNT(*) FROM conversation_members m WHERE m.conversation_id = c.conversation_id),
  (SELECT COUNT(*) FROM messages msg WHERE msg.conversation_id = c.conversation_id)
FROM conversations c`
	var args []any
	if member != "" {
		q += ` WHERE EXISTS (SELECT 1 FROM conversation_members m
  WHERE m.conversation_id = c.conversation_id AND m.agent = ?)`
		args = append(args, member)
	}
	q += ` ORDER BY c.created_at DESC, c.conversation_id`

	rows, err := s.DB.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []models.Conversation
	for rows.Next() {
		var c models.Conversation
		var createdBy sql.NullString
		var created int64
		if err := rows.Scan(&c.ConversationID, &c.Name, &c.Type, &createdBy, &created,
			&c.MemberCount, &c.MessageCount); err != nil {
			return nil, err
		}
		c.CreatedBy = createdBy.String
		c.CreatedAt = fromUnix(created)
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *sqliteStore) IsMember(ctx context.Context, conversationID, agent string) (bool, error) {
	var n int
	err := s.DB.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM conversation_members WHERE conversation_id = ? AND agent = ?`,
		conversationID, agent).Scan(&n)
	return n > 0, err
}

func (s *sqliteStore) AddMember(ctx context.Context, conversationID, agent string) error {
	_, err := s.DB.ExecContext(ctx,
		`INSERT OR IGNORE INTO conversation_members(conversation_id, agent, joined_at) VALUES(?, ?, ?)`,
		conversationID, agent, time.Now().Unix())
	return err
}

func (s *sqliteStore) RemoveMember(ctx context.Context, conversationID, agent string) error {
	_, err := s.DB.ExecContext(ctx,
		`DELETE FROM conversation_members WHERE conversation_id = ? AND agent = ?`,
		conversationID, agent)
	return err
}

func (s *sqliteStore) CreateMessage(ctx context.Context, m *models.Message) error {
	now := time.Now().Unix()
	_, err := s.DB.ExecContext(ctx, `
INSERT INTO messages(message_id, conversation_id, sender, recipient, content, read, created_at)
VALUES(?, ?, ?, ?, ?, 0, ?)`,
		m.MessageID, m.ConversationID, m.Sender, nullStr(m.Recipient), m.Content, now)
	if err != nil {
		return err
	}
	m.CreatedAt = fromUnix(now)
	return nil
}

const messageColumns = `message_id, conversation_id, sender, recipient, content, read, created_at`

func scanMessages(rows *sql.Rows) ([]models.Message, error) {
	var out []models.Message
	for rows.Next() {
		var m models.Message
		var recipient sql.NullString
		var read int
		var created int64
		if err := rows.Scan(&m.MessageID, &m.ConversationID, &m.Sender, &recipient,
			&m.Content, &read, &created); err != nil {
			return nil, err
		}
		m.Recipient = strPtr(recipient)
		m.Read = read != 0
		m.CreatedAt = fromUnix(created)
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *sqliteStore) ListConversationMessages(ctx context.Context, conversationID string, limit int, before time.Time) ([]models.Message, error) {
	if limit <= 0 {
		limit = models.DefaultMessageListLimit
	}
	q := `SELECT ` + messageColumns + ` FROM messages WHERE conversation_id = ?`
	args := []any{conversationID}
	if !before.IsZero() {
		q += ` AND created_at < ?`
		args = append(args, before.Unix())
	}
	q += ` ORDER BY created_at, message_id LIMIT ?`
	args = append(args, limit)

	rows, err := s.DB.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	return scanMessages(rows)
}

func (s *sqliteStore) Inbox(ctx context.Context, agent string, since time.Time, limit int) ([]models.Message, error) {
	if limit <= 0 {
		limit = models.DefaultInboxLimit
	}
	q := `
SELECT ` + messageColumns + ` FROM messages
WHERE read = 0 AND sender != ?
  AND conversation_id IN (SELECT conversation_id FROM conversation_members WHERE agent = ?)`
	args := []any{agent, agent}
	if !since.IsZero() {
		q += ` AND created_at >= ?`
		args = append(args, since.Unix())
	}
	q += ` ORDER BY created_at, message_id LIMIT ?`
	args = append(args, limit)

	rows, err := s.DB.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	return scanMessages(rows)
}

func (s *sqliteStore) MarkMessageRead(ctx context.Context, messageID string) (bool, error) {
	res, err := s.DB.ExecContext(ctx,
		`UPDATE messages SET read = 1 WHERE message_id = ?`, messageID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *sqliteStore) History(ctx context.Context, agent, peer string, limit int) ([]models.Message, error) {
	if limit <= 0 {
		limit = models.DefaultHistoryLimit
	}
	// Newest N, returned oldest first. An empty peer widens the window to
	// everything the agent sent or received.
	where := `(sender = ? AND recipient = ?) OR (sender = ? AND recipient = ?)`
	args := []any{agent, peer, peer, agent, limit}
	if peer == "" {
		where = `sender = ? OR recipient = ?`
		args = []any{agent, agent, limit}
	}
	rows, err := s.DB.QueryContext(ctx, `
SELECT `+messageColumns+` FROM (
  SELECT `+messageColumns+` FROM messages
  WHERE `+where+`
  ORDER BY created_at DESC, message_id DESC LIMIT ?
) ORDER BY created_at, message_id`, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	return scanMessages(rows)
}

// --- Files ---

func (s *sqliteStore) InsertFile(ctx context.Context, f *models.FileInfo) error {
	now := time.Now().Unix()
	_, err := s.DB.ExecContext(ctx, `
INSERT INTO files(file_id, original_name, mime_type, size, sha256, uploaded_by, conversation_id, message_id, description, uploaded_at)
VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		f.FileID, f.OriginalName, f.MimeType, f.Size, f.SHA256, f.UploadedBy,
		nullStr(f.ConversationID), nullStr(f.MessageID), f.Description, now)
	if err != nil {
		return err
	}
	f.UploadedAt = fromUnix(now)
	return nil
}

const fileColumns = `file_id, original_name, mime_type, size, sha256, uploaded_by, conversation_id, message_id, description, uploaded_at`

func scanFile(scan func(...any) error) (*models.FileInfo, error) {
	var f models.FileInfo
	var mime, sha, convID, msgID sql.NullString
	var uploaded int64
	err := scan(&f.FileID, &f.OriginalName, &mime, &f.Size, &sha, &f.UploadedBy,
		&convID, &msgID, &f.Description, &uploaded)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	f.MimeType = mime.String
	f.SHA256 = sha.String
	f.ConversationID = strPtr(convID)
	f.MessageID = strPtr(msgID)
	f.UploadedAt = fromUnix(uploaded)
	return &f, nil
}

func (s *sqliteStore) GetFile(ctx context.Context, fileID string) (*models.FileInfo, error) {
	row := s.DB.QueryRowContext(ctx,
		`SELECT `+fileColumns+` FROM files WHERE file_id = ?`, fileID)
	return scanFile(row.Scan)
}

func (s *sqliteStore) DeleteFile(ctx context.Context, fileID string) error {
	res, err := s.DB.ExecContext(ctx, `DELETE FROM files WHERE file_id = ?`, fileID)
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

func (s *sqliteStore) ListFiles(ctx context.Context, f FileFilter) ([]models.FileInfo, error) {
	q := `SELECT ` + fileColumns + ` FROM files`
	var conds []string
	var args []any
	if f.ConversationID != "" {
		conds = append(conds, "conversation_id = ?")
		args = append(args, f.ConversationID)
	}
	if f.UploadedBy != "" {
		conds = append(conds, "uploaded_by = ?")
		args = append(args, f.UploadedBy)
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
	q += " ORDER BY uploaded_at DESC, file_id LIMIT ?"
	args = append(args, limit)

	rows, err := s.DB.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

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

func (s *sqliteStore) FileStats(ctx context.Context) (models.FileStats, error) {
	var st models.FileStats
	err := s.DB.QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(SUM(size), 0) FROM files`).Scan(&st.TotalFiles, &st.TotalSize)
	if err != nil {
		return st, err
	}

	row := s.DB.QueryRowContext(ctx,
		`SELECT `+fileColumns+` FROM files ORDER BY size DESC, file_id LIMIT 1`)
	largest, err := scanFile(row.Scan)
	if err != nil {
		return st, err
	}
	st.LargestFile = largest

	rows, err := s.DB.QueryContext(ctx, `
SELECT uploaded_by, COUNT(*), COALESCE(SUM(size), 0)
FROM files GROUP BY uploaded_by ORDER BY SUM(size) DESC`)
	if err != nil {
		return st, err
	}
	defer func() { _ = rows.Close() }()
	for rows.Next() {
		var a models.AgentFileStats
		if err := rows.Scan(&a.Agent, &a.FileCount, &a.TotalSize); err != nil {
			return st, err
		}
		st.ByAgent = append(st.ByAgent, a)
	}
	return st, rows.Err()
}

func (s *sqliteStore) Counts(ctx context.Context) (Counts, error) {
	var c Counts
	err := s.DB.QueryRowContext(ctx, `
SELECT
  (SELECT COUNT(*) FROM messages),
  (SELECT COUNT(*) FROM messages WHERE read = 0),
  (SELECT COUNT(*) FROM agents),
  (SELECT COUNT(*) FROM conversations)`).
		Scan(&c.Messages, &c.UnreadMessages, &c.Agents, &c.Conversations)
	return c, err
}
