// Package vcs implements the versioned repository store: named repos with
// one linear commit chain per branch, derived file trees, and diffs.
package vcs

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/dylanneve1/agent-bridge/internal/bridgeerr"
	"github.com/dylanneve1/agent-bridge/internal/store"
	"github.com/dylanneve1/agent-bridge/pkg/models"
)

// Engine is the repository store. Branch heads advance by compare-and-append
// in the store layer; a raced commit fails with Busy rather than silently
// re-sequencing onto the new head.
//
// treeCache memoizes folded trees keyed by commit id. A commit's history is
// immutable once appended, so entries never invalidate.
type Engine struct {
	st        store.Store
	treeCache sync.Map // commit id -> map[string]string
}

func NewEngine(st store.Store) *Engine {
	return &Engine{st: st}
}

func (e *Engine) CreateRepo(ctx context.Context, name, description string) (*models.Repo, error) {
	if strings.TrimSpace(name) == "" {
		return nil, bridgeerr.E(bridgeerr.InvalidOperation, "repository name is required")
	}
	existing, err := e.st.GetRepoByName(ctx, name)
	if err != nil {
		return nil, internalErr(err)
	}
	if existing != nil {
		return nil, bridgeerr.E(bridgeerr.AlreadyExists, "repository %q already exists", name)
	}
	r, err := e.st.CreateRepo(ctx, name, description)
	if errors.Is(err, store.ErrDuplicate) {
		// A concurrent create won the unique constraint race.
		return nil, bridgeerr.E(bridgeerr.AlreadyExists, "repository %q already exists", name)
	}
	if err != nil {
		return nil, internalErr(err)
	}
	return &r, nil
}

func (e *Engine) GetRepo(ctx context.Context, name string) (*models.Repo, error) {
	r, err := e.st.GetRepoByName(ctx, name)
	if err != nil {
		return nil, internalErr(err)
	}
	if r == nil {
		return nil, bridgeerr.E(bridgeerr.NotFound, "repository %q not found", name)
	}
	return r, nil
}

func (e *Engine) ListRepos(ctx context.Context) ([]models.Repo, error) {
	out, err := e.st.ListRepos(ctx)
	if err != nil {
		return nil, internalErr(err)
	}
	return out, nil
}

// Commit validates the change list against the current tree, assigns the
// commit id, and appends atomically. The whole change list applies or none
// of it does.
func (e *Engine) Commit(ctx context.Context, repoName, branch, author, message string, changes []models.Change) (*models.Commit, error) {
	if branch == "" {
		branch = "main"
	}
	if len(changes) == 0 {
		return nil, bridgeerr.E(bridgeerr.InvalidOperation, "commit requires at least one change")
	}
	for i, ch := range changes {
		if strings.TrimSpace(ch.Path) == "" {
			return nil, bridgeerr.E(bridgeerr.InvalidOperation, "change %d: path is required", i)
		}
		if !models.ValidAction(ch.Action) {
			return nil, bridgeerr.E(bridgeerr.InvalidOperation, "change %d: unknown action %q", i, ch.Action)
		}
		if ch.Action != models.ActionDelete && ch.Content == "" {
			return nil, bridgeerr.E(bridgeerr.InvalidOperation, "change %d: %s requires content", i, ch.Action)
		}
	}

	repo, err := e.GetRepo(ctx, repoName)
	if err != nil {
		return nil, err
	}

	head, err := e.st.BranchHead(ctx, repo.RepoID, branch)
	if err != nil {
		return nil, internalErr(err)
	}

	// Validate the change list against the tree at the head we resolved.
	tree := map[string]string{}
	if head != "" {
		tree, err = e.treeAt(ctx, repo.RepoID, branch, head)
		if err != nil {
			return nil, err
		}
	}
	if err := applyChanges(tree, changes); err != nil {
		return nil, err
	}

	var parent *string
	if head != "" {
		h := head
		parent = &h
	}
	now := time.Now().UTC()
	c := &models.Commit{
		RepoID:    repo.RepoID,
		Branch:    branch,
		ParentID:  parent,
		Author:    author,
		Message:   message,
		Changes:   changes,
		CreatedAt: now,
	}
	c.CommitID = commitID(c)

	if err := e.st.AppendCommit(ctx, c, parent); err != nil {
		if errors.Is(err, store.ErrHeadMoved) {
			return nil, bridgeerr.Wrap(bridgeerr.Busy, err,
				"branch %s/%s advanced during commit; retry on the new head", repoName, branch)
		}
		return nil, internalErr(err)
	}
	// tree already holds the post-change snapshot for the new commit.
	e.treeCache.Store(c.CommitID, tree)
	return c, nil
}

// Log returns commit metadata for a branch, most recent first.
func (e *Engine) Log(ctx context.Context, repoName, branch string) ([]models.Commit, error) {
	if branch == "" {
		branch = "main"
	}
	repo, err := e.GetRepo(ctx, repoName)
	if err != nil {
		return nil, err
	}
	out, err := e.st.ListCommits(ctx, repo.RepoID, branch)
	if err != nil {
		return nil, internalErr(err)
	}
	return out, nil
}

// Tree reconstructs the path->content mapping at the given commit (branch
// head when atCommit is empty) by folding change lists from the branch root.
func (e *Engine) Tree(ctx context.Context, repoName, branch, atCommit string) (map[string]string, error) {
	if branch == "" {
		branch = "main"
	}
	repo, err := e.GetRepo(ctx, repoName)
	if err != nil {
		return nil, err
	}
	if atCommit == "" {
		head, err := e.st.BranchHead(ctx, repo.RepoID, branch)
		if err != nil {
			return nil, internalErr(err)
		}
		if head == "" {
			return map[string]string{}, nil
		}
		atCommit = head
	}
	return e.treeAt(ctx, repo.RepoID, branch, atCommit)
}

// File returns the content of one path at the given commit.
func (e *Engine) File(ctx context.Context, repoName, branch, path, atCommit string) (string, error) {
	tree, err := e.Tree(ctx, repoName, branch, atCommit)
	if err != nil {
		return "", err
	}
	content, ok := tree[path]
	if !ok {
		return "", bridgeerr.E(bridgeerr.NotFound, "path %q not found in %s/%s", path, repoName, branch)
	}
	return content, nil
}

// Diff compares the commit's resulting tree against its parent's tree
// (empty for a root commit), sorted by path.
func (e *Engine) Diff(ctx context.Context, repoName, commitID string) ([]models.DiffEntry, error) {
	repo, err := e.GetRepo(ctx, repoName)
	if err != nil {
		return nil, err
	}
	c, err := e.st.GetCommit(ctx, commitID)
	if err != nil {
		return nil, internalErr(err)
	}
	if c == nil || c.RepoID != repo.RepoID {
		return nil, bridgeerr.E(bridgeerr.NotFound, "commit %s not found in repository %q", commitID, repoName)
	}

	before := map[string]string{}
	if c.ParentID != nil {
		before, err = e.treeAt(ctx, repo.RepoID, c.Branch, *c.ParentID)
		if err != nil {
			return nil, err
		}
	}
	after := cloneTree(before)
	if err := applyChanges(after, c.Changes); err != nil {
		// The chain already accepted this commit; a replay failure means
		// corrupted history.
		return nil, bridgeerr.Wrap(bridgeerr.Internal, err, "commit %s does not replay onto its parent", commitID)
	}
	return diffTrees(before, after), nil
}

// treeAt folds the commit chain from the branch root through commitID.
// Folded trees are cached per commit; callers get a private copy because
// Commit and Diff mutate the result in place.
func (e *Engine) treeAt(ctx context.Context, repoID, branch, commitID string) (map[string]string, error) {
	if cached, ok := e.treeCache.Load(commitID); ok {
		return cloneTree(cached.(map[string]string)), nil
	}
	chain, err := e.st.CommitChain(ctx, repoID, branch, commitID)
	if err != nil {
		return nil, internalErr(err)
	}
	if chain == nil {
		return nil, bridgeerr.E(bridgeerr.NotFound, "commit %s not found on branch %s", commitID, branch)
	}
	tree := map[string]string{}
	for _, c := range chain {
		if err := applyChanges(tree, c.Changes); err != nil {
			return nil, bridgeerr.Wrap(bridgeerr.Internal, err, "commit %s does not replay", c.CommitID)
		}
	}
	e.treeCache.Store(commitID, cloneTree(tree))
	return tree, nil
}

// applyChanges mutates tree in order. A delete of an absent path is an
// error, so callers must validate before persisting.
func applyChanges(tree map[string]string, changes []models.Change) error {
	for _, ch := range changes {
		switch ch.Action {
		case models.ActionAdd, models.ActionModify:
			tree[ch.Path] = ch.Content
		case models.ActionDelete:
			if _, ok := tree[ch.Path]; !ok {
				return bridgeerr.E(bridgeerr.InvalidOperation, "delete of absent path %q", ch.Path)
			}
			delete(tree, ch.Path)
		default:
			return bridgeerr.E(bridgeerr.InvalidOperation, "unknown action %q", ch.Action)
		}
	}
	return nil
}

func cloneTree(t map[string]string) map[string]string {
	out := make(map[string]string, len(t))
	for k, v := range t {
		out[k] = v
	}
	return out
}

func diffTrees(before, after map[string]string) []models.DiffEntry {
	paths := make(map[string]bool, len(before)+len(after))
	for p := range before {
		paths[p] = true
	}
	for p := range after {
		paths[p] = true
	}
	sorted := make([]string, 0, len(paths))
	for p := range paths {
		sorted = append(sorted, p)
	}
	sort.Strings(sorted)

	var out []models.DiffEntry
	for _, p := range sorted {
		b, inBefore := before[p]
		a, inAfter := after[p]
		switch {
		case inBefore && !inAfter:
			bv := b
			out = append(out, models.DiffEntry{Path: p, Action: models.ActionDelete, Before: &bv})
		case !inBefore && inAfter:
			av := a
			out = append(out, models.DiffEntry{Path: p, Action: models.ActionAdd, After: &av})
		case b != a:
			bv, av := b, a
			out = append(out, models.DiffEntry{Path: p, Action: models.ActionModify, Before: &bv, After: &av})
		}
	}
	return out
}

// commitID derives a content hash over parent, author, message, timestamp,
// and the full change list; deterministic for identical inputs.
func commitID(c *models.Commit) string {
	h := sha256.New()
	parent := ""
	if c.ParentID != nil {
		parent = *c.ParentID
	}
	fmt.Fprintf(h, "parent %s\nauthor %s\nmessage %s\ntime %d\n", parent, c.Author, c.Message, c.CreatedAt.Unix())
	for _, ch := range c.Changes {
		fmt.Fprintf(h, "%s %s %d\n%s", ch.Action, ch.Path, len(ch.Content), ch.Content)
	}
	return hex.EncodeToString(h.Sum(nil))
}

func internalErr(err error) error {
	return bridgeerr.Wrap(bridgeerr.Internal, err, "storage failure")
}
