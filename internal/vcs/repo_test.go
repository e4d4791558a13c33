package vcs

import (
	"context"
	"testing"

	"github.com/dylanneve1/agent-bridge/internal/bridgeerr"
	"github.com/dylanneve1/agent-bridge/internal/store"
	"github.com/dylanneve1/agent-bridge/pkg/models"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	s, err := store.Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return NewEngine(s)
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

func add(path, content string) models.Change {
	return models.Change{Path: path, Action: models.ActionAdd, Content: content}
}

func TestCreateRepoUniqueName(t *testing.T) {
	t.Parallel()
	e := newTestEngine(t)
	ctx := context.Background()

	if _, err := e.CreateRepo(ctx, "docs", "shared docs"); err != nil {
		t.Fatalf("CreateRepo: %v", err)
	}
	_, err := e.CreateRepo(ctx, "docs", "")
	wantKind(t, err, bridgeerr.AlreadyExists)

	// Case-sensitive exact match: a different casing is a different repo.
	if _, err := e.CreateRepo(ctx, "Docs", ""); err != nil {
		t.Fatalf("CreateRepo Docs: %v", err)
	}

	_, err = e.GetRepo(ctx, "missing")
	wantKind(t, err, bridgeerr.NotFound)
}

func TestCommitAndTree(t *testing.T) {
	t.Parallel()
	e := newTestEngine(t)
	ctx := context.Background()

	if _, err := e.CreateRepo(ctx, "docs", ""); err != nil {
		t.Fatalf("CreateRepo: %v", err)
	}

	c1, err := e.Commit(ctx, "docs", "main", "walt", "init", []models.Change{add("a.txt", "hi")})
	if err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if c1.ParentID != nil {
		t.Fatalf("first commit should have no parent: %+v", c1)
	}

	tree, err := e.Tree(ctx, "docs", "main", "")
	if err != nil {
		t.Fatalf("Tree: %v", err)
	}
	if len(tree) != 1 || tree["a.txt"] != "hi" {
		t.Fatalf("tree = %v", tree)
	}

	// Deterministic and idempotent reconstruction.
	again, err := e.Tree(ctx, "docs", "main", "")
	if err != nil {
		t.Fatalf("Tree again: %v", err)
	}
	if len(again) != len(tree) || again["a.txt"] != tree["a.txt"] {
		t.Fatalf("tree not stable: %v vs %v", tree, again)
	}
}

func TestDeleteSemantics(t *testing.T) {
	t.Parallel()
	e := newTestEngine(t)
	ctx := context.Background()

	if _, err := e.CreateRepo(ctx, "docs", ""); err != nil {
		t.Fatalf("CreateRepo: %v", err)
	}
	if _, err := e.Commit(ctx, "docs", "main", "walt", "init", []models.Change{add("a.txt", "hi")}); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	del := []models.Change{{Path: "a.txt", Action: models.ActionDelete}}
	if _, err := e.Commit(ctx, "docs", "main", "walt", "rm", del); err != nil {
		t.Fatalf("Commit delete: %v", err)
	}

	tree, err := e.Tree(ctx, "docs", "main", "")
	if err != nil {
		t.Fatalf("Tree: %v", err)
	}
	if len(tree) != 0 {
		t.Fatalf("tree after delete = %v", tree)
	}

	// Deleting the now-absent path is rejected.
	_, err = e.Commit(ctx, "docs", "main", "walt", "rm again", del)
	wantKind(t, err, bridgeerr.InvalidOperation)
}

func TestCommitValidation(t *testing.T) {
	t.Parallel()
	e := newTestEngine(t)
	ctx := context.Background()

	if _, err := e.CreateRepo(ctx, "docs", ""); err != nil {
		t.Fatalf("CreateRepo: %v", err)
	}

	_, err := e.Commit(ctx, "docs", "main", "walt", "empty", nil)
	wantKind(t, err, bridgeerr.InvalidOperation)

	_, err = e.Commit(ctx, "docs", "main", "walt", "noop", []models.Change{{Path: "x", Action: "rename"}})
	wantKind(t, err, bridgeerr.InvalidOperation)

	_, err = e.Commit(ctx, "docs", "main", "walt", "no content", []models.Change{{Path: "x", Action: models.ActionAdd}})
	wantKind(t, err, bridgeerr.InvalidOperation)

	_, err = e.Commit(ctx, "missing", "main", "walt", "x", []models.Change{add("a", "b")})
	wantKind(t, err, bridgeerr.NotFound)

	// A rejected commit leaves no trace.
	log, err := e.Log(ctx, "docs", "main")
	if err != nil {
		t.Fatalf("Log: %v", err)
	}
	if len(log) != 0 {
		t.Fatalf("rejected commits must not appear in log: %+v", log)
	}
}

func TestLogOrderAndFile(t *testing.T) {
	t.Parallel()
	e := newTestEngine(t)
	ctx := context.Background()

	if _, err := e.CreateRepo(ctx, "docs", ""); err != nil {
		t.Fatalf("CreateRepo: %v", err)
	}
	c1, err := e.Commit(ctx, "docs", "main", "a", "one", []models.Change{add("a.txt", "v1")})
	if err != nil {
		t.Fatalf("Commit 1: %v", err)
	}
	c2, err := e.Commit(ctx, "docs", "main", "a", "two", []models.Change{
		{Path: "a.txt", Action: models.ActionModify, Content: "v2"},
		add("b.txt", "new"),
	})
	if err != nil {
		t.Fatalf("Commit 2: %v", err)
	}

	log, err := e.Log(ctx, "docs", "main")
	if err != nil {
		t.Fatalf("Log: %v", err)
	}
	if len(log) != 2 || log[0].CommitID != c2.CommitID || log[1].CommitID != c1.CommitID {
		t.Fatalf("log = %+v", log)
	}

	content, err := e.File(ctx, "docs", "main", "a.txt", "")
	if err != nil {
		t.Fatalf("File: %v", err)
	}
	if content != "v2" {
		t.Fatalf("a.txt = %q", content)
	}

	// Historical read at c1.
	content, err = e.File(ctx, "docs", "main", "a.txt", c1.CommitID)
	if err != nil {
		t.Fatalf("File at c1: %v", err)
	}
	if content != "v1" {
		t.Fatalf("a.txt at c1 = %q", content)
	}

	_, err = e.File(ctx, "docs", "main", "missing.txt", "")
	wantKind(t, err, bridgeerr.NotFound)
}

func TestDiff(t *testing.T) {
	t.Parallel()
	e := newTestEngine(t)
	ctx := context.Background()

	if _, err := e.CreateRepo(ctx, "docs", ""); err != nil {
		t.Fatalf("CreateRepo: %v", err)
	}
	c1, err := e.Commit(ctx, "docs", "main", "a", "one", []models.Change{
		add("a.txt", "v1"),
		add("b.txt", "keep"),
	})
	if err != nil {
		t.Fatalf("Commit 1: %v", err)
	}
	c2, err := e.Commit(ctx, "docs", "main", "a", "two", []models.Change{
		{Path: "a.txt", Action: models.ActionModify, Content: "v2"},
		{Path: "b.txt", Action: models.ActionDelete},
		add("c.txt", "new"),
	})
	if err != nil {
		t.Fatalf("Commit 2: %v", err)
	}

	// Root commit diffs against the empty tree.
	d1, err := e.Diff(ctx, "docs", c1.CommitID)
	if err != nil {
		t.Fatalf("Diff c1: %v", err)
	}
	if len(d1) != 2 || d1[0].Path != "a.txt" || d1[0].Action != models.ActionAdd {
		t.Fatalf("diff c1 = %+v", d1)
	}

	d2, err := e.Diff(ctx, "docs", c2.CommitID)
	if err != nil {
		t.Fatalf("Diff c2: %v", err)
	}
	if len(d2) != 3 {
		t.Fatalf("diff c2 = %+v", d2)
	}
	byPath := map[string]models.DiffEntry{}
	for _, entry := range d2 {
		byPath[entry.Path] = entry
	}
	if e := byPath["a.txt"]; e.Action != models.ActionModify || *e.Before != "v1" || *e.After != "v2" {
		t.Fatalf("a.txt diff = %+v", e)
	}
	if e := byPath["b.txt"]; e.Action != models.ActionDelete || *e.Before != "keep" || e.After != nil {
		t.Fatalf("b.txt diff = %+v", e)
	}
	if e := byPath["c.txt"]; e.Action != models.ActionAdd || e.Before != nil || *e.After != "new" {
		t.Fatalf("c.txt diff = %+v", e)
	}

	_, err = e.Diff(ctx, "docs", "nope")
	wantKind(t, err, bridgeerr.NotFound)
}

// Replaying every commit's diff from root to head onto an empty tree must
// reproduce the head tree exactly.
func TestDiffReplayMatchesTree(t *testing.T) {
	t.Parallel()
	e := newTestEngine(t)
	ctx := context.Background()

	if _, err := e.CreateRepo(ctx, "docs", ""); err != nil {
		t.Fatalf("CreateRepo: %v", err)
	}
	commits := [][]models.Change{
		{add("a.txt", "one"), add("b.txt", "two")},
		{{Path: "a.txt", Action: models.ActionModify, Content: "one-b"}},
		{{Path: "b.txt", Action: models.ActionDelete}, add("c/d.txt", "deep")},
		{add("b.txt", "resurrected")},
	}
	var ids []string
	for i, changes := range commits {
		c, err := e.Commit(ctx, "docs", "main", "a", "step", changes)
		if err != nil {
			t.Fatalf("Commit %d: %v", i, err)
		}
		ids = append(ids, c.CommitID)
	}

	replayed := map[string]string{}
	for _, id := range ids {
		diff, err := e.Diff(ctx, "docs", id)
		if err != nil {
			t.Fatalf("Diff %s: %v", id, err)
		}
		for _, entry := range diff {
			switch entry.Action {
			case models.ActionDelete:
				delete(replayed, entry.Path)
			default:
				replayed[entry.Path] = *entry.After
			}
		}
	}

	head, err := e.Tree(ctx, "docs", "main", "")
	if err != nil {
		t.Fatalf("Tree: %v", err)
	}
	if len(replayed) != len(head) {
		t.Fatalf("replayed %v vs head %v", replayed, head)
	}
	for p, c := range head {
		if replayed[p] != c {
			t.Fatalf("path %s: replayed %q, head %q", p, replayed[p], c)
		}
	}
}

func TestBranchesIndependent(t *testing.T) {
	t.Parallel()
	e := newTestEngine(t)
	ctx := context.Background()

	if _, err := e.CreateRepo(ctx, "docs", ""); err != nil {
		t.Fatalf("CreateRepo: %v", err)
	}
	if _, err := e.Commit(ctx, "docs", "main", "a", "m", []models.Change{add("m.txt", "main")}); err != nil {
		t.Fatalf("Commit main: %v", err)
	}
	if _, err := e.Commit(ctx, "docs", "dev", "a", "d", []models.Change{add("d.txt", "dev")}); err != nil {
		t.Fatalf("Commit dev: %v", err)
	}

	mainTree, _ := e.Tree(ctx, "docs", "main", "")
	devTree, _ := e.Tree(ctx, "docs", "dev", "")
	if _, ok := mainTree["d.txt"]; ok {
		t.Fatal("dev file leaked into main")
	}
	if _, ok := devTree["m.txt"]; ok {
		t.Fatal("main file leaked into dev")
	}
}

func TestCommitIDDeterministic(t *testing.T) {
	t.Parallel()
	changes := []models.Change{add("a.txt", "hi")}
	parent := "abc"
	c := &models.Commit{ParentID: &parent, Author: "a", Message: "m", Changes: changes}
	c.CreatedAt = c.CreatedAt.Add(0)
	id1 := commitID(c)
	id2 := commitID(c)
	if id1 != id2 {
		t.Fatalf("commit id not deterministic: %s vs %s", id1, id2)
	}
	c2 := &models.Commit{ParentID: &parent, Author: "a", Message: "m2", Changes: changes}
	if commitID(c2) == id1 {
		t.Fatal("different message should yield different id")
	}
}

// blindRepoStore never sees an existing repo, so two creates both pass the
// pre-check and the unique constraint decides.
type blindRepoStore struct {
	store.Store
}

func (b blindRepoStore) GetRepoByName(ctx context.Context, name string) (*models.Repo, error) {
	return nil, nil
}

func TestCreateRepoRaceSurfacesAlreadyExists(t *testing.T) {
	t.Parallel()
	s, err := store.Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	e := NewEngine(blindRepoStore{s})
	ctx := context.Background()

	if _, err := e.CreateRepo(ctx, "docs", ""); err != nil {
		t.Fatalf("CreateRepo: %v", err)
	}
	_, err = e.CreateRepo(ctx, "docs", "again")
	wantKind(t, err, bridgeerr.AlreadyExists)
}

func TestTreeSnapshotsAreIndependent(t *testing.T) {
	t.Parallel()
	e := newTestEngine(t)
	ctx := context.Background()

	if _, err := e.CreateRepo(ctx, "docs", ""); err != nil {
		t.Fatalf("CreateRepo: %v", err)
	}
	c1, err := e.Commit(ctx, "docs", "main", "alice", "seed", []models.Change{
		add("a.txt", "one"),
		add("b.txt", "two"),
	})
	if err != nil {
		t.Fatalf("Commit: %v", err)
	}

	first, err := e.Tree(ctx, "docs", "main", c1.CommitID)
	if err != nil {
		t.Fatalf("Tree: %v", err)
	}
	// Mutating a returned snapshot must not leak into later reads.
	first["a.txt"] = "tampered"
	delete(first, "b.txt")

	second, err := e.Tree(ctx, "docs", "main", c1.CommitID)
	if err != nil {
		t.Fatalf("Tree again: %v", err)
	}
	if second["a.txt"] != "one" || second["b.txt"] != "two" {
		t.Fatalf("tree = %v", second)
	}

	// A new commit reads a clean parent snapshot and folds on top of it.
	if _, err := e.Commit(ctx, "docs", "main", "alice", "edit", []models.Change{
		{Path: "a.txt", Action: models.ActionModify, Content: "three"},
	}); err != nil {
		t.Fatalf("Commit on cached head: %v", err)
	}
	head, err := e.Tree(ctx, "docs", "main", "")
	if err != nil {
		t.Fatalf("Tree head: %v", err)
	}
	if head["a.txt"] != "three" || head["b.txt"] != "two" {
		t.Fatalf("head tree = %v", head)
	}
	// The old commit's snapshot is unchanged.
	old, err := e.Tree(ctx, "docs", "main", c1.CommitID)
	if err != nil {
		t.Fatalf("Tree old: %v", err)
	}
	if old["a.txt"] != "one" {
		t.Fatalf("old tree = %v", old)
	}
}
