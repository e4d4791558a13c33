package store

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/dylanneve1/agent-bridge/pkg/models"
)

func TestRepoRoundTrip(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()

	r, err := s.CreateRepo(ctx, "docs", "shared docs")
	if err != nil {
		t.Fatalf("CreateRepo: %v", err)
	}

	got, err := s.GetRepoByName(ctx, "docs")
	if err != nil {
		t.Fatalf("GetRepoByName: %v", err)
	}
	if got == nil || got.RepoID != r.RepoID {
		t.Fatalf("GetRepoByName = %+v", got)
	}

	missing, err := s.GetRepoByName(ctx, "nope")
	if err != nil {
		t.Fatalf("GetRepoByName missing: %v", err)
	}
	if missing != nil {
		t.Fatalf("expected nil for missing repo")
	}

	// Duplicate name violates the unique constraint.
	if _, err := s.CreateRepo(ctx, "docs", ""); err == nil {
		t.Fatal("expected duplicate repo name to fail")
	}

	list, err := s.ListRepos(ctx)
	if err != nil {
		t.Fatalf("ListRepos: %v", err)
	}
	if len(list) != 1 {
		t.Fatalf("expected 1 repo, got %d", len(list))
	}
}

func TestAppendCommitAdvancesHead(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()

	r, err := s.CreateRepo(ctx, "docs", "")
	if err != nil {
		t.Fatalf("CreateRepo: %v", err)
	}

	head, err := s.BranchHead(ctx, r.RepoID, "main")
	if err != nil {
		t.Fatalf("BranchHead: %v", err)
	}
	if head != "" {
		t.Fatalf("unseen branch head = %q", head)
	}

	c1 := &models.Commit{
		CommitID: "c1", RepoID: r.RepoID, Branch: "main", Author: "walt",
		Message: "init",
		Changes: []models.Change{{Path: "a.txt", Action: models.ActionAdd, Content: "hello"}},
	}
	if err := s.AppendCommit(ctx, c1, nil); err != nil {
		t.Fatalf("AppendCommit c1: %v", err)
	}

	head, err = s.BranchHead(ctx, r.RepoID, "main")
	if err != nil {
		t.Fatalf("BranchHead: %v", err)
	}
	if head != "c1" {
		t.Fatalf("head = %q, want c1", head)
	}

	parent := "c1"
	c2 := &models.Commit{
		CommitID: "c2", RepoID: r.RepoID, Branch: "main", ParentID: &parent, Author: "walt",
		Message: "edit",
		Changes: []models.Change{{Path: "a.txt", Action: models.ActionModify, Content: "hello world"}},
	}
	if err := s.AppendCommit(ctx, c2, &parent); err != nil {
		t.Fatalf("AppendCommit c2: %v", err)
	}

	head, _ = s.BranchHead(ctx, r.RepoID, "main")
	if head != "c2" {
		t.Fatalf("head = %q, want c2", head)
	}
}

func TestAppendCommitStaleParent(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()

	r, err := s.CreateRepo(ctx, "docs", "")
	if err != nil {
		t.Fatalf("CreateRepo: %v", err)
	}
	c1 := &models.Commit{CommitID: "c1", RepoID: r.RepoID, Branch: "main", Author: "a", Message: "one"}
	if err := s.AppendCommit(ctx, c1, nil); err != nil {
		t.Fatalf("AppendCommit: %v", err)
	}

	// Root append against a branch that already has a head.
	c2 := &models.Commit{CommitID: "c2", RepoID: r.RepoID, Branch: "main", Author: "b", Message: "race"}
	if err := s.AppendCommit(ctx, c2, nil); !errors.Is(err, ErrHeadMoved) {
		t.Fatalf("expected ErrHeadMoved, got %v", err)
	}

	// Append against a parent that is no longer the head.
	stale := "c0"
	c3 := &models.Commit{CommitID: "c3", RepoID: r.RepoID, Branch: "main", ParentID: &stale, Author: "b", Message: "race"}
	if err := s.AppendCommit(ctx, c3, &stale); !errors.Is(err, ErrHeadMoved) {
		t.Fatalf("expected ErrHeadMoved, got %v", err)
	}
}

func TestCommitChainAndLog(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()

	r, err := s.CreateRepo(ctx, "docs", "")
	if err != nil {
		t.Fatalf("CreateRepo: %v", err)
	}
	var parent *string
	for i := 1; i <= 3; i++ {
		id := fmt.Sprintf("c%d", i)
		c := &models.Commit{
			CommitID: id, RepoID: r.RepoID, Branch: "main", ParentID: parent, Author: "a",
			Message: id,
			Changes: []models.Change{{Path: fmt.Sprintf("f%d.txt", i), Action: models.ActionAdd, Content: id}},
		}
		if err := s.AppendCommit(ctx, c, parent); err != nil {
			t.Fatalf("AppendCommit %s: %v", id, err)
		}
		p := id
		parent = &p
	}

	log, err := s.ListCommits(ctx, r.RepoID, "main")
	if err != nil {
		t.Fatalf("ListCommits: %v", err)
	}
	if len(log) != 3 || log[0].CommitID != "c3" || log[2].CommitID != "c1" {
		t.Fatalf("log order = %+v", log)
	}
	if log[0].Changes != nil {
		t.Fatal("log entries should not carry change lists")
	}

	chain, err := s.CommitChain(ctx, r.RepoID, "main", "c2")
	if err != nil {
		t.Fatalf("CommitChain: %v", err)
	}
	if len(chain) != 2 || chain[0].CommitID != "c1" || chain[1].CommitID != "c2" {
		t.Fatalf("chain = %+v", chain)
	}
	if len(chain[0].Changes) != 1 || chain[0].Changes[0].Path != "f1.txt" {
		t.Fatalf("chain changes = %+v", chain[0].Changes)
	}

	got, err := s.GetCommit(ctx, "c2")
	if err != nil {
		t.Fatalf("GetCommit: %v", err)
	}
	if got == nil || got.ParentID == nil || *got.ParentID != "c1" {
		t.Fatalf("GetCommit = %+v", got)
	}
	if len(got.Changes) != 1 {
		t.Fatalf("GetCommit changes = %+v", got.Changes)
	}

	none, err := s.CommitChain(ctx, r.RepoID, "main", "missing")
	if err != nil {
		t.Fatalf("CommitChain missing: %v", err)
	}
	if none != nil {
		t.Fatalf("expected nil chain for unknown commit")
	}
}

func TestBranchesAreIndependent(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()

	r, err := s.CreateRepo(ctx, "docs", "")
	if err != nil {
		t.Fatalf("CreateRepo: %v", err)
	}
	m := &models.Commit{CommitID: "m1", RepoID: r.RepoID, Branch: "main", Author: "a", Message: "m"}
	if err := s.AppendCommit(ctx, m, nil); err != nil {
		t.Fatalf("AppendCommit main: %v", err)
	}
	d := &models.Commit{CommitID: "d1", RepoID: r.RepoID, Branch: "dev", Author: "a", Message: "d"}
	if err := s.AppendCommit(ctx, d, nil); err != nil {
		t.Fatalf("AppendCommit dev: %v", err)
	}

	mainHead, _ := s.BranchHead(ctx, r.RepoID, "main")
	devHead, _ := s.BranchHead(ctx, r.RepoID, "dev")
	if mainHead != "m1" || devHead != "d1" {
		t.Fatalf("heads = %q / %q", mainHead, devHead)
	}
}

func TestCreateRepoDuplicate(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()

	if _, err := s.CreateRepo(ctx, "docs", ""); err != nil {
		t.Fatalf("CreateRepo: %v", err)
	}
	_, err := s.CreateRepo(ctx, "docs", "again")
	if !errors.Is(err, ErrDuplicate) {
		t.Fatalf("duplicate repo: want ErrDuplicate, got %v", err)
	}
}
