package httpapi

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"testing"

	"github.com/dylanneve1/agent-bridge/pkg/models"
)

func TestTaskRoutes(t *testing.T) {
	t.Parallel()
	ts, _ := newTestServer(t)
	key := registerAgent(t, ts, "alice")
	keyBob := registerAgent(t, ts, "bob")

	// Title is required.
	if code := do(t, ts, key, http.MethodPost, "/tasks", map[string]any{"title": ""}, nil); code != http.StatusBadRequest {
		t.Fatalf("create with empty title: status=%d", code)
	}

	var created models.Task
	if code := do(t, ts, key, http.MethodPost, "/tasks",
		map[string]any{"title": "ship it", "priority": "high", "tags": []string{"backend"}}, &created); code != http.StatusOK {
		t.Fatalf("create task: status=%d", code)
	}
	if created.TaskID == 0 || created.Status != models.StatusOpen || created.Creator != "alice" {
		t.Fatalf("created: %+v", created)
	}
	base := fmt.Sprintf("/tasks/%d", created.TaskID)

	var claimed models.Task
	if code := do(t, ts, keyBob, http.MethodPost, base+"/claim", nil, &claimed); code != http.StatusOK {
		t.Fatalf("claim: status=%d", code)
	}
	if claimed.Status != models.StatusClaimed || claimed.Assignee == nil || *claimed.Assignee != "bob" {
		t.Fatalf("claimed: %+v", claimed)
	}

	// Second claim loses with a conflict.
	if code := do(t, ts, key, http.MethodPost, base+"/claim", nil, nil); code != http.StatusConflict {
		t.Fatalf("second claim: status=%d", code)
	}

	if code := do(t, ts, keyBob, http.MethodPost, base+"/start", nil, nil); code != http.StatusOK {
		t.Fatalf("start: status=%d", code)
	}

	// Block requires a reason.
	if code := do(t, ts, keyBob, http.MethodPost, base+"/block", map[string]any{"reason": ""}, nil); code != http.StatusBadRequest {
		t.Fatalf("block without reason: status=%d", code)
	}
	var blocked models.Task
	if code := do(t, ts, keyBob, http.MethodPost, base+"/block", map[string]any{"reason": "waiting on db"}, &blocked); code != http.StatusOK {
		t.Fatalf("block: status=%d", code)
	}
	if blocked.Status != models.StatusBlocked || blocked.BlockReason == nil {
		t.Fatalf("blocked: %+v", blocked)
	}

	if code := do(t, ts, keyBob, http.MethodPost, base+"/start", nil, nil); code != http.StatusOK {
		t.Fatalf("resume: status=%d", code)
	}
	var done models.Task
	if code := do(t, ts, keyBob, http.MethodPost, base+"/complete", nil, &done); code != http.StatusOK {
		t.Fatalf("complete: status=%d", code)
	}
	if done.Status != models.StatusDone {
		t.Fatalf("done: %+v", done)
	}

	// Done is terminal for lifecycle calls but comments still land.
	if code := do(t, ts, key, http.MethodPost, base+"/start", nil, nil); code != http.StatusConflict {
		t.Fatalf("start after done: status=%d", code)
	}
	var comment models.TaskComment
	if code := do(t, ts, key, http.MethodPost, base+"/comments", map[string]any{"body": "nice work"}, &comment); code != http.StatusOK {
		t.Fatalf("comment: status=%d", code)
	}
	if comment.Author != "alice" {
		t.Fatalf("comment: %+v", comment)
	}

	var detail models.TaskDetail
	if code := do(t, ts, key, http.MethodGet, base, nil, &detail); code != http.StatusOK {
		t.Fatalf("get detail: status=%d", code)
	}
	if len(detail.Comments) != 1 || detail.Task.Status != models.StatusDone {
		t.Fatalf("detail: %+v", detail)
	}

	// List filters by status.
	var open []models.Task
	if code := do(t, ts, key, http.MethodGet, "/tasks?status=open", nil, &open); code != http.StatusOK {
		t.Fatalf("list: status=%d", code)
	}
	if len(open) != 0 {
		t.Fatalf("expected no open tasks, got %d", len(open))
	}

	if code := do(t, ts, key, http.MethodGet, "/tasks/notanumber", nil, nil); code != http.StatusBadRequest {
		t.Fatalf("bad task id: status=%d", code)
	}
	if code := do(t, ts, key, http.MethodGet, "/tasks/99999", nil, nil); code != http.StatusNotFound {
		t.Fatalf("missing task: status=%d", code)
	}
}

func TestDependencyRoutes(t *testing.T) {
	t.Parallel()
	ts, _ := newTestServer(t)
	key := registerAgent(t, ts, "alice")

	var a, b models.Task
	do(t, ts, key, http.MethodPost, "/tasks", map[string]any{"title": "a"}, &a)
	do(t, ts, key, http.MethodPost, "/tasks", map[string]any{"title": "b"}, &b)

	if code := do(t, ts, key, http.MethodPost, fmt.Sprintf("/tasks/%d/dependencies", b.TaskID),
		map[string]any{"depends_on": a.TaskID}, nil); code != http.StatusOK {
		t.Fatalf("add dependency: status=%d", code)
	}

	// b cannot start until a is done.
	if code := do(t, ts, key, http.MethodPost, fmt.Sprintf("/tasks/%d/start", b.TaskID), nil, nil); code != http.StatusConflict {
		t.Fatalf("start with unmet dependency: status=%d", code)
	}

	// Reverse edge would close a cycle.
	var errBody struct {
		Kind string `json:"kind"`
	}
	code := do(t, ts, key, http.MethodPost, fmt.Sprintf("/tasks/%d/dependencies", a.TaskID),
		map[string]any{"depends_on": b.TaskID}, &errBody)
	if code != http.StatusConflict || errBody.Kind != "cycle_detected" {
		t.Fatalf("cycle: status=%d kind=%s", code, errBody.Kind)
	}

	do(t, ts, key, http.MethodPost, fmt.Sprintf("/tasks/%d/start", a.TaskID), nil, nil)
	do(t, ts, key, http.MethodPost, fmt.Sprintf("/tasks/%d/complete", a.TaskID), nil, nil)
	if code := do(t, ts, key, http.MethodPost, fmt.Sprintf("/tasks/%d/start", b.TaskID), nil, nil); code != http.StatusOK {
		t.Fatalf("start after dependency done: status=%d", code)
	}
}

func TestProjectRoutes(t *testing.T) {
	t.Parallel()
	ts, _ := newTestServer(t)
	key := registerAgent(t, ts, "alice")

	var p models.Project
	if code := do(t, ts, key, http.MethodPost, "/projects",
		map[string]any{"name": "rollout", "description": "q3 rollout"}, &p); code != http.StatusOK {
		t.Fatalf("create project: status=%d", code)
	}
	if p.ProjectID == "" {
		t.Fatalf("project: %+v", p)
	}

	if code := do(t, ts, key, http.MethodPost, "/projects/"+p.ProjectID+"/members",
		map[string]any{"agent": "alice"}, nil); code != http.StatusOK {
		t.Fatalf("add member: status=%d", code)
	}
	var m models.Milestone
	if code := do(t, ts, key, http.MethodPost, "/projects/"+p.ProjectID+"/milestones",
		map[string]any{"name": "beta"}, &m); code != http.StatusOK {
		t.Fatalf("create milestone: status=%d", code)
	}

	var task1 models.Task
	do(t, ts, key, http.MethodPost, "/tasks",
		map[string]any{"title": "t1", "project_id": p.ProjectID, "milestone_id": m.MilestoneID}, &task1)
	do(t, ts, key, http.MethodPost, fmt.Sprintf("/tasks/%d/start", task1.TaskID), nil, nil)
	do(t, ts, key, http.MethodPost, fmt.Sprintf("/tasks/%d/complete", task1.TaskID), nil, nil)

	var got models.Project
	if code := do(t, ts, key, http.MethodGet, "/projects/"+p.ProjectID, nil, &got); code != http.StatusOK {
		t.Fatalf("get project: status=%d", code)
	}
	if got.TotalTasks != 1 || got.DoneTasks != 1 || got.Progress != 1.0 {
		t.Fatalf("project progress: %+v", got)
	}
	if len(got.Members) != 1 || len(got.Milestones) != 1 {
		t.Fatalf("project detail: %+v", got)
	}
}

func TestRepoRoutes(t *testing.T) {
	t.Parallel()
	ts, _ := newTestServer(t)
	key := registerAgent(t, ts, "alice")

	var repo models.Repo
	if code := do(t, ts, key, http.MethodPost, "/repos", map[string]any{"name": "docs"}, &repo); code != http.StatusOK {
		t.Fatalf("create repo: status=%d", code)
	}
	if code := do(t, ts, key, http.MethodPost, "/repos", map[string]any{"name": "docs"}, nil); code != http.StatusConflict {
		t.Fatalf("duplicate repo: status=%d", code)
	}

	var c1 models.Commit
	if code := do(t, ts, key, http.MethodPost, "/repos/docs/commits", map[string]any{
		"message": "add readme",
		"changes": []map[string]any{{"path": "README.md", "action": "add", "content": "hello"}},
	}, &c1); code != http.StatusOK {
		t.Fatalf("commit: status=%d", code)
	}
	if c1.CommitID == "" || c1.Author != "alice" || c1.Branch != "main" {
		t.Fatalf("commit: %+v", c1)
	}

	var c2 models.Commit
	if code := do(t, ts, key, http.MethodPost, "/repos/docs/commits", map[string]any{
		"message": "edit readme",
		"changes": []map[string]any{{"path": "README.md", "action": "modify", "content": "hello world"}},
	}, &c2); code != http.StatusOK {
		t.Fatalf("second commit: status=%d", code)
	}

	var log []models.Commit
	if code := do(t, ts, key, http.MethodGet, "/repos/docs/log", nil, &log); code != http.StatusOK {
		t.Fatalf("log: status=%d", code)
	}
	if len(log) != 2 || log[0].CommitID != c2.CommitID {
		t.Fatalf("log: %+v", log)
	}

	var tree map[string]string
	if code := do(t, ts, key, http.MethodGet, "/repos/docs/tree", nil, &tree); code != http.StatusOK {
		t.Fatalf("tree: status=%d", code)
	}
	if tree["README.md"] != "hello world" {
		t.Fatalf("tree: %v", tree)
	}

	var file struct {
		Content string `json:"content"`
	}
	if code := do(t, ts, key, http.MethodGet, "/repos/docs/file?path=README.md&at="+c1.CommitID, nil, &file); code != http.StatusOK {
		t.Fatalf("file at commit: status=%d", code)
	}
	if file.Content != "hello" {
		t.Fatalf("file at c1: %q", file.Content)
	}

	var diff []models.DiffEntry
	if code := do(t, ts, key, http.MethodGet, "/repos/docs/diff/"+c2.CommitID, nil, &diff); code != http.StatusOK {
		t.Fatalf("diff: status=%d", code)
	}
	if len(diff) != 1 || diff[0].Path != "README.md" || diff[0].Action != models.ActionModify {
		t.Fatalf("diff: %+v", diff)
	}

	// Deleting a path that was never added is invalid.
	if code := do(t, ts, key, http.MethodPost, "/repos/docs/commits", map[string]any{
		"message": "bad delete",
		"changes": []map[string]any{{"path": "ghost.txt", "action": "delete"}},
	}, nil); code != http.StatusBadRequest {
		t.Fatalf("delete absent path: status=%d", code)
	}

	if code := do(t, ts, key, http.MethodGet, "/repos/missing/log", nil, nil); code != http.StatusNotFound {
		t.Fatalf("log on missing repo: status=%d", code)
	}
}

func TestConversationRoutes(t *testing.T) {
	t.Parallel()
	ts, _ := newTestServer(t)
	keyA := registerAgent(t, ts, "alice")
	keyB := registerAgent(t, ts, "bob")
	keyC := registerAgent(t, ts, "carol")

	var conv models.Conversation
	if code := do(t, ts, keyA, http.MethodPost, "/conversations",
		map[string]any{"name": "standup", "members": []string{"bob"}}, &conv); code != http.StatusOK {
		t.Fatalf("create group: status=%d", code)
	}
	base := "/conversations/" + conv.ConversationID

	if code := do(t, ts, keyA, http.MethodPost, base+"/messages", map[string]any{"content": "morning"}, nil); code != http.StatusOK {
		t.Fatalf("post: status=%d", code)
	}

	// Non-members cannot post or read until they join.
	if code := do(t, ts, keyC, http.MethodPost, base+"/messages", map[string]any{"content": "hi"}, nil); code != http.StatusForbidden {
		t.Fatalf("outsider post: status=%d", code)
	}
	if code := do(t, ts, keyC, http.MethodGet, base+"/messages", nil, nil); code != http.StatusForbidden {
		t.Fatalf("outsider read: status=%d", code)
	}
	if code := do(t, ts, keyC, http.MethodPost, base+"/join", nil, nil); code != http.StatusOK {
		t.Fatalf("join: status=%d", code)
	}
	var msgs []models.Message
	if code := do(t, ts, keyC, http.MethodGet, base+"/messages", nil, &msgs); code != http.StatusOK {
		t.Fatalf("read after join: status=%d", code)
	}
	if len(msgs) != 1 || msgs[0].Sender != "alice" {
		t.Fatalf("messages: %+v", msgs)
	}

	// DMs: same pair lands in one conversation regardless of direction.
	var m1, m2 models.Message
	do(t, ts, keyA, http.MethodPost, "/messages/dm", map[string]any{"to": "bob", "content": "ping"}, &m1)
	do(t, ts, keyB, http.MethodPost, "/messages/dm", map[string]any{"to": "alice", "content": "pong"}, &m2)
	if m1.ConversationID != m2.ConversationID {
		t.Fatalf("dm conversations differ: %s vs %s", m1.ConversationID, m2.ConversationID)
	}

	// DMs are closed to join.
	if code := do(t, ts, keyC, http.MethodPost, "/conversations/"+m1.ConversationID+"/join", nil, nil); code != http.StatusBadRequest {
		t.Fatalf("join dm: status=%d", code)
	}

	// Inbox shows the unread ping; marking it read removes it.
	var inbox []models.Message
	if code := do(t, ts, keyB, http.MethodGet, "/messages/inbox", nil, &inbox); code != http.StatusOK {
		t.Fatalf("inbox: status=%d", code)
	}
	found := false
	for _, m := range inbox {
		if m.MessageID == m1.MessageID {
			found = true
		}
	}
	if !found {
		t.Fatalf("inbox missing dm: %+v", inbox)
	}
	if code := do(t, ts, keyB, http.MethodPost, "/messages/"+m1.MessageID+"/read", nil, nil); code != http.StatusOK {
		t.Fatalf("mark read: status=%d", code)
	}

	var history []models.Message
	if code := do(t, ts, keyA, http.MethodGet, "/messages/history?with=bob", nil, &history); code != http.StatusOK {
		t.Fatalf("history: status=%d", code)
	}
	if len(history) != 2 {
		t.Fatalf("history: %+v", history)
	}

	// Self-DMs are rejected.
	if code := do(t, ts, keyA, http.MethodPost, "/messages/dm", map[string]any{"to": "alice", "content": "hi me"}, nil); code != http.StatusBadRequest {
		t.Fatalf("self dm: status=%d", code)
	}
}

func TestFileRoutes(t *testing.T) {
	t.Parallel()
	ts, _ := newTestServer(t)
	key := registerAgent(t, ts, "alice")
	keyBob := registerAgent(t, ts, "bob")

	upload := func(t *testing.T, apiKey, name, content string) (*http.Response, map[string]any) {
		t.Helper()
		var buf bytes.Buffer
		mw := multipart.NewWriter(&buf)
		fw, err := mw.CreateFormFile("file", name)
		if err != nil {
			t.Fatalf("form file: %v", err)
		}
		_, _ = io.WriteString(fw, content)
		_ = mw.WriteField("description", "test upload")
		_ = mw.Close()
		req, _ := http.NewRequest(http.MethodPost, ts.URL+"/files", &buf)
		req.Header.Set("Content-Type", mw.FormDataContentType())
		req.Header.Set("X-API-Key", apiKey)
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatalf("upload: %v", err)
		}
		var body map[string]any
		_ = json.NewDecoder(resp.Body).Decode(&body)
		_ = resp.Body.Close()
		return resp, body
	}

	resp, info := upload(t, key, "notes.txt", "remember the milk")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("upload: status=%d body=%v", resp.StatusCode, info)
	}
	fileID, _ := info["file_id"].(string)
	if fileID == "" {
		t.Fatalf("upload response: %v", info)
	}

	// Download round-trips the content.
	req, _ := http.NewRequest(http.MethodGet, ts.URL+"/files/"+fileID+"/content", nil)
	req.Header.Set("X-API-Key", key)
	dl, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("download: %v", err)
	}
	defer dl.Body.Close()
	b, _ := io.ReadAll(dl.Body)
	if string(b) != "remember the milk" {
		t.Fatalf("download body: %q", b)
	}

	var stats models.FileStats
	if code := do(t, ts, key, http.MethodGet, "/files/stats", nil, &stats); code != http.StatusOK {
		t.Fatalf("stats: status=%d", code)
	}
	if stats.TotalFiles != 1 || stats.TotalSize != int64(len("remember the milk")) {
		t.Fatalf("stats: %+v", stats)
	}

	// Only the uploader may delete.
	if code := do(t, ts, keyBob, http.MethodDelete, "/files/"+fileID, nil, nil); code != http.StatusForbidden {
		t.Fatalf("delete by non-uploader: status=%d", code)
	}
	if code := do(t, ts, key, http.MethodDelete, "/files/"+fileID, nil, nil); code != http.StatusOK {
		t.Fatalf("delete: status=%d", code)
	}
	if code := do(t, ts, key, http.MethodGet, "/files/"+fileID, nil, nil); code != http.StatusNotFound {
		t.Fatalf("get after delete: status=%d", code)
	}

	// Empty uploads are rejected.
	emptyResp, _ := upload(t, key, "empty.txt", "")
	if emptyResp.StatusCode != http.StatusBadRequest {
		t.Fatalf("empty upload: status=%d", emptyResp.StatusCode)
	}
}

func TestMethodNotAllowed(t *testing.T) {
	t.Parallel()
	ts, _ := newTestServer(t)
	key := registerAgent(t, ts, "alice")

	for _, path := range []string{"/tasks", "/repos", "/conversations", "/files"} {
		req, _ := http.NewRequest(http.MethodPut, ts.URL+path, strings.NewReader("{}"))
		req.Header.Set("X-API-Key", key)
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatalf("PUT %s: %v", path, err)
		}
		_ = resp.Body.Close()
		if resp.StatusCode != http.StatusMethodNotAllowed {
			t.Fatalf("PUT %s: status=%d", path, resp.StatusCode)
		}
	}
}
