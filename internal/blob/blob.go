// Package blob stores uploaded file content on disk, content-addressed by
// generated id, with metadata in the store. Files are write-once per id and
// safe for concurrent reads.
package blob

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/dylanneve1/agent-bridge/internal/bridgeerr"
	"github.com/dylanneve1/agent-bridge/internal/store"
	"github.com/dylanneve1/agent-bridge/pkg/models"
)

// Service owns the files directory under the bridge home and the file
// metadata rows.
type Service struct {
	st       store.Store
	dir      string
	maxBytes int64
}

func NewService(st store.Store, home string, maxBytes int64) (*Service, error) {
	if maxBytes <= 0 {
		maxBytes = models.DefaultMaxFileBytes
	}
	dir := filepath.Join(home, "files")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &Service{st: st, dir: dir, maxBytes: maxBytes}, nil
}

// UploadRequest describes one incoming file.
type UploadRequest struct {
	OriginalName   string
	MimeType       string
	UploadedBy     string
	ConversationID *string
	MessageID      *string
	Description    string
}

// Store reads content up to the size cap, writes it to disk, hashes it, and
// records metadata. The disk file is removed again if the metadata insert
// fails, so no orphan blobs survive a failed upload.
func (s *Service) Store(ctx context.Context, req UploadRequest, content io.Reader) (*models.FileInfo, error) {
	if strings.TrimSpace(req.OriginalName) == "" {
		return nil, bridgeerr.E(bridgeerr.InvalidOperation, "file name is required")
	}
	if req.ConversationID != nil {
		ok, err := s.st.IsMember(ctx, *req.ConversationID, req.UploadedBy)
		if err != nil {
			return nil, bridgeerr.Wrap(bridgeerr.Internal, err, "storage failure")
		}
		if !ok {
			return nil, bridgeerr.E(bridgeerr.Forbidden,
				"%s is not a member of conversation %s", req.UploadedBy, *req.ConversationID)
		}
	}

	id := uuid.NewString()
	path := s.path(id, req.OriginalName)

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return nil, bridgeerr.Wrap(bridgeerr.Internal, err, "create blob file")
	}
	hash := sha256.New()
	// +1 so an over-limit upload is detected rather than silently truncated.
	n, err := io.Copy(io.MultiWriter(f, hash), io.LimitReader(content, s.maxBytes+1))
	closeErr := f.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		_ = os.Remove(path)
		return nil, bridgeerr.Wrap(bridgeerr.Internal, err, "write blob file")
	}
	if n == 0 {
		_ = os.Remove(path)
		return nil, bridgeerr.E(bridgeerr.InvalidOperation, "empty file rejected")
	}
	if n > s.maxBytes {
		_ = os.Remove(path)
		return nil, bridgeerr.E(bridgeerr.InvalidOperation,
			"file exceeds maximum size of %d bytes", s.maxBytes)
	}

	info := &models.FileInfo{
		FileID:         id,
		OriginalName:   req.OriginalName,
		MimeType:       req.MimeType,
		Size:           n,
		SHA256:         hex.EncodeToString(hash.Sum(nil)),
		UploadedBy:     req.UploadedBy,
		ConversationID: req.ConversationID,
		MessageID:      req.MessageID,
		Description:    req.Description,
	}
	if err := s.st.InsertFile(ctx, info); err != nil {
		_ = os.Remove(path)
		return nil, bridgeerr.Wrap(bridgeerr.Internal, err, "record file metadata")
	}
	return info, nil
}

// Open returns the metadata and a reader over the stored content.
func (s *Service) Open(ctx context.Context, fileID string) (*models.FileInfo, io.ReadCloser, error) {
	info, err := s.Get(ctx, fileID)
	if err != nil {
		return nil, nil, err
	}
	f, err := os.Open(s.path(info.FileID, info.OriginalName))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil, bridgeerr.E(bridgeerr.NotFound, "blob for file %s missing on disk", fileID)
		}
		return nil, nil, bridgeerr.Wrap(bridgeerr.Internal, err, "open blob file")
	}
	return info, f, nil
}

func (s *Service) Get(ctx context.Context, fileID string) (*models.FileInfo, error) {
	info, err := s.st.GetFile(ctx, fileID)
	if err != nil {
		return nil, bridgeerr.Wrap(bridgeerr.Internal, err, "storage failure")
	}
	if info == nil {
		return nil, bridgeerr.E(bridgeerr.NotFound, "file %s not found", fileID)
	}
	return info, nil
}

// Delete removes metadata and blob. Only the uploader may delete.
func (s *Service) Delete(ctx context.Context, fileID, agent string) error {
	info, err := s.Get(ctx, fileID)
	if err != nil {
		return err
	}
	if info.UploadedBy != agent {
		return bridgeerr.E(bridgeerr.Forbidden, "only the uploader may delete file %s", fileID)
	}
	if err := s.st.DeleteFile(ctx, fileID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return bridgeerr.E(bridgeerr.NotFound, "file %s not found", fileID)
		}
		return bridgeerr.Wrap(bridgeerr.Internal, err, "delete file metadata")
	}
	if err := os.Remove(s.path(info.FileID, info.OriginalName)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return bridgeerr.Wrap(bridgeerr.Internal, err, "delete blob file")
	}
	return nil
}

func (s *Service) List(ctx context.Context, f store.FileFilter) ([]models.FileInfo, error) {
	out, err := s.st.ListFiles(ctx, f)
	if err != nil {
		return nil, bridgeerr.Wrap(bridgeerr.Internal, err, "storage failure")
	}
	return out, nil
}

func (s *Service) Stats(ctx context.Context) (models.FileStats, error) {
	st, err := s.st.FileStats(ctx)
	if err != nil {
		return st, bridgeerr.Wrap(bridgeerr.Internal, err, "storage failure")
	}
	st.TotalSizeText = humanSize(st.TotalSize)
	return st, nil
}

// path keeps the original extension so downloads get a sensible name while
// the id prevents collisions and traversal.
func (s *Service) path(id, originalName string) string {
	ext := filepath.Ext(filepath.Base(originalName))
	return filepath.Join(s.dir, id+ext)
}

func humanSize(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(n)/float64(div), "KMGTPE"[exp])
}
