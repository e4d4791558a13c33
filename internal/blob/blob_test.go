package blob

import (
	"context"
	"io"
	"strings"
	"testing"

	"github.com/dylanneve1/agent-bridge/internal/bridgeerr"
	"github.com/dylanneve1/agent-bridge/internal/store"
	"github.com/dylanneve1/agent-bridge/pkg/models"
)

func newTestService(t *testing.T, maxBytes int64) (*Service, store.Store) {
	t.Helper()
	home := t.TempDir()
	st, err := store.Open(home)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	svc, err := NewService(st, home, maxBytes)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	return svc, st
}

func wantKind(t *testing.T, err error, kind bridgeerr.Kind) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected %s error, got nil", kind)
	}
	if got := bridgeerr.KindOf(err); got != kind {
		t.Fatalf("expected %s error, got %s (%v)", kind, got, err)
	}
}

func TestStoreAndOpen(t *testing.T) {
	t.Parallel()
	svc, _ := newTestService(t, 0)
	ctx := context.Background()

	info, err := svc.Store(ctx, UploadRequest{
		OriginalName: "notes.txt",
		MimeType:     "text/plain",
		UploadedBy:   "alice",
		Description:  "scratch",
	}, strings.NewReader("hello blob"))
	if err != nil {
		t.Fatalf("Store: %v", err)
	}
	if info.Size != 10 || info.SHA256 == "" {
		t.Fatalf("info = %+v", info)
	}

	got, rc, err := svc.Open(ctx, info.FileID)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer func() { _ = rc.Close() }()
	body, err := io.ReadAll(rc)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if string(body) != "hello blob" || got.OriginalName != "notes.txt" {
		t.Fatalf("round trip = %q / %+v", body, got)
	}

	_, _, err = svc.Open(ctx, "missing")
	wantKind(t, err, bridgeerr.NotFound)
}

func TestStoreRejectsEmptyAndOversized(t *testing.T) {
	t.Parallel()
	svc, _ := newTestService(t, 16)
	ctx := context.Background()

	_, err := svc.Store(ctx, UploadRequest{OriginalName: "empty.txt", UploadedBy: "a"}, strings.NewReader(""))
	wantKind(t, err, bridgeerr.InvalidOperation)

	_, err = svc.Store(ctx, UploadRequest{OriginalName: "big.bin", UploadedBy: "a"},
		strings.NewReader(strings.Repeat("x", 17)))
	wantKind(t, err, bridgeerr.InvalidOperation)

	// At the limit is fine.
	if _, err := svc.Store(ctx, UploadRequest{OriginalName: "ok.bin", UploadedBy: "a"},
		strings.NewReader(strings.Repeat("x", 16))); err != nil {
		t.Fatalf("Store at limit: %v", err)
	}
}

func TestDeleteUploaderOnly(t *testing.T) {
	t.Parallel()
	svc, _ := newTestService(t, 0)
	ctx := context.Background()

	info, err := svc.Store(ctx, UploadRequest{OriginalName: "f.txt", UploadedBy: "alice"},
		strings.NewReader("data"))
	if err != nil {
		t.Fatalf("Store: %v", err)
	}

	wantKind(t, svc.Delete(ctx, info.FileID, "bob"), bridgeerr.Forbidden)

	if err := svc.Delete(ctx, info.FileID, "alice"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	_, err = svc.Get(ctx, info.FileID)
	wantKind(t, err, bridgeerr.NotFound)

	wantKind(t, svc.Delete(ctx, info.FileID, "alice"), bridgeerr.NotFound)
}

func TestConversationMembershipRequired(t *testing.T) {
	t.Parallel()
	svc, st := newTestService(t, 0)
	ctx := context.Background()

	conv := &models.Conversation{ConversationID: "room", Name: "room", Type: models.ConversationGroup, CreatedBy: "alice", Members: []string{"alice"}}
	if err := st.CreateConversation(ctx, conv); err != nil {
		t.Fatalf("CreateConversation: %v", err)
	}

	cid := "room"
	_, err := svc.Store(ctx, UploadRequest{OriginalName: "f.txt", UploadedBy: "bob", ConversationID: &cid},
		strings.NewReader("x"))
	wantKind(t, err, bridgeerr.Forbidden)

	if _, err := svc.Store(ctx, UploadRequest{OriginalName: "f.txt", UploadedBy: "alice", ConversationID: &cid},
		strings.NewReader("x")); err != nil {
		t.Fatalf("Store as member: %v", err)
	}
}

func TestStats(t *testing.T) {
	t.Parallel()
	svc, _ := newTestService(t, 0)
	ctx := context.Background()

	for _, spec := range []struct {
		name string
		by   string
		body string
	}{
		{"a.txt", "alice", "aaaa"},
		{"b.txt", "bob", strings.Repeat("b", 2048)},
	} {
		if _, err := svc.Store(ctx, UploadRequest{OriginalName: spec.name, UploadedBy: spec.by},
			strings.NewReader(spec.body)); err != nil {
			t.Fatalf("Store %s: %v", spec.name, err)
		}
	}

	stats, err := svc.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.TotalFiles != 2 || stats.TotalSize != 2052 {
		t.Fatalf("stats = %+v", stats)
	}
	if stats.TotalSizeText == "" {
		t.Fatal("expected human-readable size")
	}
	if stats.LargestFile == nil || stats.LargestFile.UploadedBy != "bob" {
		t.Fatalf("largest = %+v", stats.LargestFile)
	}
}

func TestHumanSize(t *testing.T) {
	t.Parallel()
	cases := map[int64]string{
		512:     "512 B",
		2048:    "2.0 KB",
		1 << 20: "1.0 MB",
	}
	for n, want := range cases {
		if got := humanSize(n); got != want {
			t.Fatalf("humanSize(%d) = %q, want %q", n, got, want)
		}
	}
}
