// Package client provides a Go SDK for the bridge HTTP API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/dylanneve1/agent-bridge/pkg/models"
)

// Client calls the bridge HTTP API. It is safe for concurrent use.
type Client struct {
	BaseURL     string       // e.g. "http://localhost:3580"
	APIKey      string       // per-agent key; sent as X-API-Key
	AdminSecret string       // optional; needed only for Register and Deactivate
	HTTPClient  *http.Client // optional; nil uses http.DefaultClient
}

// New returns a client for the given base URL (e.g. "http://localhost:3580").
func New(baseURL, apiKey string) *Client {
	return &Client{BaseURL: baseURL, APIKey: apiKey}
}

// APIError is a non-2xx response decoded from the error body.
type APIError struct {
	StatusCode int
	Kind       string
	Message    string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("api: %s (%s)", e.Message, e.Kind)
	}
	return fmt.Sprintf("api: status %d", e.StatusCode)
}

func (c *Client) client() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	return http.DefaultClient
}

func (c *Client) do(ctx context.Context, method, path string, body any) (*http.Response, error) {
	var bodyReader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		bodyReader = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, bodyReader)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.APIKey != "" {
		req.Header.Set("X-API-Key", c.APIKey)
	}
	if c.AdminSecret != "" {
		req.Header.Set("X-Admin-Secret", c.AdminSecret)
	}
	return c.client().Do(req)
}

func (c *Client) doJSON(ctx context.Context, method, path string, body any, out any) error {
	resp, err := c.do(ctx, method, path, body)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		var errBody struct {
			Error string `json:"error"`
			Kind  string `json:"kind"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&errBody)
		apiErr.Message = errBody.Error
		apiErr.Kind = errBody.Kind
		return apiErr
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

// Health reports whether the server is up.
func (c *Client) Health(ctx context.Context) (ok bool, err error) {
	var out struct {
		OK bool `json:"ok"`
	}
	err = c.doJSON(ctx, http.MethodGet, "/health", nil, &out)
	return out.OK, err
}

// Status returns the server status summary.
func (c *Client) Status(ctx context.Context) (*models.Status, error) {
	var out models.Status
	err := c.doJSON(ctx, http.MethodGet, "/status", nil, &out)
	return &out, err
}

// Whoami returns the agent the client's API key belongs to.
func (c *Client) Whoami(ctx context.Context) (*models.Agent, error) {
	var out models.Agent
	err := c.doJSON(ctx, http.MethodGet, "/whoami", nil, &out)
	return &out, err
}

// Register creates an agent and returns it with its API key. Requires
// AdminSecret to be set on the client.
func (c *Client) Register(ctx context.Context, name string) (*models.Agent, string, error) {
	var out struct {
		Agent  models.Agent `json:"agent"`
		APIKey string       `json:"api_key"`
	}
	err := c.doJSON(ctx, http.MethodPost, "/agents/register", map[string]string{"name": name}, &out)
	if err != nil {
		return nil, "", err
	}
	return &out.Agent, out.APIKey, nil
}

// ListAgents returns all registered agents.
func (c *Client) ListAgents(ctx context.Context) ([]models.Agent, error) {
	var out []models.Agent
	err := c.doJSON(ctx, http.MethodGet, "/agents", nil, &out)
	return out, err
}

// GetAgent returns one agent by name.
func (c *Client) GetAgent(ctx context.Context, name string) (*models.Agent, error) {
	var out models.Agent
	err := c.doJSON(ctx, http.MethodGet, "/agents/"+url.PathEscape(name), nil, &out)
	return &out, err
}

// Deactivate disables an agent's API key. Requires AdminSecret.
func (c *Client) Deactivate(ctx context.Context, name string) error {
	return c.doJSON(ctx, http.MethodPost, "/agents/"+url.PathEscape(name)+"/deactivate", nil, nil)
}

// CreateTaskRequest is the body for CreateTask. Title is required.
type CreateTaskRequest struct {
	Title       string   `json:"title"`
	Description string   `json:"description,omitempty"`
	Priority    string   `json:"priority,omitempty"`
	Assignee    *string  `json:"assignee,omitempty"`
	ProjectID   *string  `json:"project_id,omitempty"`
	MilestoneID *string  `json:"milestone_id,omitempty"`
	Tags        []string `json:"tags,omitempty"`
	DependsOn   []int64  `json:"depends_on,omitempty"`
	Effort      string   `json:"effort,omitempty"`
}

// CreateTask creates a task attributed to the calling agent.
func (c *Client) CreateTask(ctx context.Context, req CreateTaskRequest) (*models.Task, error) {
	var out models.Task
	err := c.doJSON(ctx, http.MethodPost, "/tasks", req, &out)
	return &out, err
}

// TaskListOptions filters ListTasks. Zero values mean no filter.
type TaskListOptions struct {
	Status    string
	Assignee  string
	ProjectID string
	Tag       string
	Limit     int
}

// ListTasks returns tasks matching the filter, newest first.
func (c *Client) ListTasks(ctx context.Context, opts TaskListOptions) ([]models.Task, error) {
	q := url.Values{}
	if opts.Status != "" {
		q.Set("status", opts.Status)
	}
	if opts.Assignee != "" {
		q.Set("assignee", opts.Assignee)
	}
	if opts.ProjectID != "" {
		q.Set("project", opts.ProjectID)
	}
	if opts.Tag != "" {
		q.Set("tag", opts.Tag)
	}
	if opts.Limit > 0 {
		q.Set("limit", strconv.Itoa(opts.Limit))
	}
	path := "/tasks"
	if enc := q.Encode(); enc != "" {
		path += "?" + enc
	}
	var out []models.Task
	err := c.doJSON(ctx, http.MethodGet, path, nil, &out)
	return out, err
}

func taskPath(taskID int64, suffix string) string {
	p := "/tasks/" + strconv.FormatInt(taskID, 10)
	if suffix != "" {
		p += "/" + suffix
	}
	return p
}

// GetTask returns a task with its comments and dependency links.
func (c *Client) GetTask(ctx context.Context, taskID int64) (*models.TaskDetail, error) {
	var out models.TaskDetail
	err := c.doJSON(ctx, http.MethodGet, taskPath(taskID, ""), nil, &out)
	return &out, err
}

// ClaimTask claims an open task for the calling agent.
func (c *Client) ClaimTask(ctx context.Context, taskID int64) (*models.Task, error) {
	var out models.Task
	err := c.doJSON(ctx, http.MethodPost, taskPath(taskID, "claim"), nil, &out)
	return &out, err
}

// StartTask moves a task to in_progress, claiming it first if needed.
func (c *Client) StartTask(ctx context.Context, taskID int64) (*models.Task, error) {
	var out models.Task
	err := c.doJSON(ctx, http.MethodPost, taskPath(taskID, "start"), nil, &out)
	return &out, err
}

// CompleteTask marks a task done.
func (c *Client) CompleteTask(ctx context.Context, taskID int64) (*models.Task, error) {
	var out models.Task
	err := c.doJSON(ctx, http.MethodPost, taskPath(taskID, "complete"), nil, &out)
	return &out, err
}

// BlockTask marks a task blocked with a reason.
func (c *Client) BlockTask(ctx context.Context, taskID int64, reason string) (*models.Task, error) {
	var out models.Task
	err := c.doJSON(ctx, http.MethodPost, taskPath(taskID, "block"), map[string]string{"reason": reason}, &out)
	return &out, err
}

// CommentTask adds a comment to a task.
func (c *Client) CommentTask(ctx context.Context, taskID int64, body string) (*models.TaskComment, error) {
	var out models.TaskComment
	err := c.doJSON(ctx, http.MethodPost, taskPath(taskID, "comments"), map[string]string{"body": body}, &out)
	return &out, err
}

// AddDependency makes taskID depend on dependsOn.
func (c *Client) AddDependency(ctx context.Context, taskID, dependsOn int64) (*models.Task, error) {
	var out models.Task
	err := c.doJSON(ctx, http.MethodPost, taskPath(taskID, "dependencies"), map[string]int64{"depends_on": dependsOn}, &out)
	return &out, err
}

// CreateProject creates a project.
func (c *Client) CreateProject(ctx context.Context, name, description string, tags []string) (*models.Project, error) {
	var out models.Project
	err := c.doJSON(ctx, http.MethodPost, "/projects", map[string]any{
		"name": name, "description": description, "tags": tags,
	}, &out)
	return &out, err
}

// ListProjects returns all projects with progress.
func (c *Client) ListProjects(ctx context.Context) ([]models.Project, error) {
	var out []models.Project
	err := c.doJSON(ctx, http.MethodGet, "/projects", nil, &out)
	return out, err
}

// GetProject returns one project with members and milestones.
func (c *Client) GetProject(ctx context.Context, projectID string) (*models.Project, error) {
	var out models.Project
	err := c.doJSON(ctx, http.MethodGet, "/projects/"+url.PathEscape(projectID), nil, &out)
	return &out, err
}

// AddProjectMember adds an agent to a project.
func (c *Client) AddProjectMember(ctx context.Context, projectID, agent string) (*models.Project, error) {
	var out models.Project
	err := c.doJSON(ctx, http.MethodPost, "/projects/"+url.PathEscape(projectID)+"/members", map[string]string{"agent": agent}, &out)
	return &out, err
}

// CreateMilestone adds a milestone to a project.
func (c *Client) CreateMilestone(ctx context.Context, projectID, name string, dueBy *time.Time) (*models.Milestone, error) {
	var out models.Milestone
	err := c.doJSON(ctx, http.MethodPost, "/projects/"+url.PathEscape(projectID)+"/milestones", map[string]any{
		"name": name, "due_by": dueBy,
	}, &out)
	return &out, err
}

// CreateRepo creates a named repository.
func (c *Client) CreateRepo(ctx context.Context, name, description string) (*models.Repo, error) {
	var out models.Repo
	err := c.doJSON(ctx, http.MethodPost, "/repos", map[string]string{"name": name, "description": description}, &out)
	return &out, err
}

// ListRepos returns all repositories.
func (c *Client) ListRepos(ctx context.Context) ([]models.Repo, error) {
	var out []models.Repo
	err := c.doJSON(ctx, http.MethodGet, "/repos", nil, &out)
	return out, err
}

// Commit applies changes on a branch, authored by the calling agent.
func (c *Client) Commit(ctx context.Context, repo, branch, message string, changes []models.Change) (*models.Commit, error) {
	var out models.Commit
	err := c.doJSON(ctx, http.MethodPost, "/repos/"+url.PathEscape(repo)+"/commits", map[string]any{
		"branch": branch, "message": message, "changes": changes,
	}, &out)
	return &out, err
}

// Log returns a branch's commits, newest first.
func (c *Client) Log(ctx context.Context, repo, branch string) ([]models.Commit, error) {
	path := "/repos/" + url.PathEscape(repo) + "/log"
	if branch != "" {
		path += "?branch=" + url.QueryEscape(branch)
	}
	var out []models.Commit
	err := c.doJSON(ctx, http.MethodGet, path, nil, &out)
	return out, err
}

// Tree returns the folded path-to-content map at a branch head, or at a
// specific commit when at is non-empty.
func (c *Client) Tree(ctx context.Context, repo, branch, at string) (map[string]string, error) {
	q := url.Values{}
	if branch != "" {
		q.Set("branch", branch)
	}
	if at != "" {
		q.Set("at", at)
	}
	path := "/repos/" + url.PathEscape(repo) + "/tree"
	if enc := q.Encode(); enc != "" {
		path += "?" + enc
	}
	var out map[string]string
	err := c.doJSON(ctx, http.MethodGet, path, nil, &out)
	return out, err
}

// File returns one file's content at a branch head or a specific commit.
func (c *Client) File(ctx context.Context, repo, branch, filePath, at string) (string, error) {
	q := url.Values{}
	q.Set("path", filePath)
	if branch != "" {
		q.Set("branch", branch)
	}
	if at != "" {
		q.Set("at", at)
	}
	var out struct {
		Content string `json:"content"`
	}
	err := c.doJSON(ctx, http.MethodGet, "/repos/"+url.PathEscape(repo)+"/file?"+q.Encode(), nil, &out)
	return out.Content, err
}

// Diff returns a commit's changes relative to its parent.
func (c *Client) Diff(ctx context.Context, repo, commitID string) ([]models.DiffEntry, error) {
	var out []models.DiffEntry
	err := c.doJSON(ctx, http.MethodGet, "/repos/"+url.PathEscape(repo)+"/diff/"+url.PathEscape(commitID), nil, &out)
	return out, err
}

// SendDM sends a direct message to another agent, creating the dm
// conversation on first contact.
func (c *Client) SendDM(ctx context.Context, to, content string) (*models.Message, error) {
	var out models.Message
	err := c.doJSON(ctx, http.MethodPost, "/messages/dm", map[string]string{"to": to, "content": content}, &out)
	return &out, err
}

// CreateGroup creates a group conversation including the calling agent.
func (c *Client) CreateGroup(ctx context.Context, name string, members []string) (*models.Conversation, error) {
	var out models.Conversation
	err := c.doJSON(ctx, http.MethodPost, "/conversations", map[string]any{"name": name, "members": members}, &out)
	return &out, err
}

// ListConversations returns the calling agent's conversations.
func (c *Client) ListConversations(ctx context.Context) ([]models.Conversation, error) {
	var out []models.Conversation
	err := c.doJSON(ctx, http.MethodGet, "/conversations?mine=true", nil, &out)
	return out, err
}

// GetConversation returns one conversation the calling agent belongs to.
func (c *Client) GetConversation(ctx context.Context, conversationID string) (*models.Conversation, error) {
	var out models.Conversation
	err := c.doJSON(ctx, http.MethodGet, "/conversations/"+url.PathEscape(conversationID), nil, &out)
	return &out, err
}

// Post sends a message to a conversation the calling agent belongs to.
func (c *Client) Post(ctx context.Context, conversationID, content string) (*models.Message, error) {
	var out models.Message
	err := c.doJSON(ctx, http.MethodPost, "/conversations/"+url.PathEscape(conversationID)+"/messages", map[string]string{"content": content}, &out)
	return &out, err
}

// Messages returns a conversation's messages, oldest first. Pass a zero
// before to start from the newest.
func (c *Client) Messages(ctx context.Context, conversationID string, limit int, before time.Time) ([]models.Message, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	if !before.IsZero() {
		q.Set("before", before.Format(time.RFC3339Nano))
	}
	path := "/conversations/" + url.PathEscape(conversationID) + "/messages"
	if enc := q.Encode(); enc != "" {
		path += "?" + enc
	}
	var out []models.Message
	err := c.doJSON(ctx, http.MethodGet, path, nil, &out)
	return out, err
}

// Join adds the calling agent to a group conversation.
func (c *Client) Join(ctx context.Context, conversationID string) (*models.Conversation, error) {
	var out models.Conversation
	err := c.doJSON(ctx, http.MethodPost, "/conversations/"+url.PathEscape(conversationID)+"/join", nil, &out)
	return &out, err
}

// Invite adds another agent to a group conversation the calling agent
// belongs to.
func (c *Client) Invite(ctx context.Context, conversationID, agent string) (*models.Conversation, error) {
	var out models.Conversation
	err := c.doJSON(ctx, http.MethodPost, "/conversations/"+url.PathEscape(conversationID)+"/invite", map[string]string{"agent": agent}, &out)
	return &out, err
}

// Leave removes the calling agent from a group conversation.
func (c *Client) Leave(ctx context.Context, conversationID string) error {
	return c.doJSON(ctx, http.MethodPost, "/conversations/"+url.PathEscape(conversationID)+"/leave", nil, nil)
}

// Inbox returns unread messages addressed to the calling agent.
func (c *Client) Inbox(ctx context.Context, since time.Time, limit int) ([]models.Message, error) {
	q := url.Values{}
	if !since.IsZero() {
		q.Set("since", since.Format(time.RFC3339Nano))
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	path := "/messages/inbox"
	if enc := q.Encode(); enc != "" {
		path += "?" + enc
	}
	var out []models.Message
	err := c.doJSON(ctx, http.MethodGet, path, nil, &out)
	return out, err
}

// History returns the calling agent's message history, oldest first. An
// empty peer spans every conversation partner.
func (c *Client) History(ctx context.Context, peer string, limit int) ([]models.Message, error) {
	path := "/messages/history?with=" + url.QueryEscape(peer)
	if limit > 0 {
		path += "&limit=" + strconv.Itoa(limit)
	}
	var out []models.Message
	err := c.doJSON(ctx, http.MethodGet, path, nil, &out)
	return out, err
}

// MarkRead marks a message addressed to the calling agent as read.
func (c *Client) MarkRead(ctx context.Context, messageID string) error {
	return c.doJSON(ctx, http.MethodPost, "/messages/"+url.PathEscape(messageID)+"/read", nil, nil)
}

// UploadOptions attaches optional metadata to an upload.
type UploadOptions struct {
	Description    string
	ConversationID string
	MessageID      string
}

// Upload stores a file and returns its metadata.
func (c *Client) Upload(ctx context.Context, name string, content io.Reader, opts UploadOptions) (*models.FileInfo, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", name)
	if err != nil {
		return nil, err
	}
	if _, err := io.Copy(fw, content); err != nil {
		return nil, err
	}
	if opts.Description != "" {
		_ = mw.WriteField("description", opts.Description)
	}
	if opts.ConversationID != "" {
		_ = mw.WriteField("conversation_id", opts.ConversationID)
	}
	if opts.MessageID != "" {
		_ = mw.WriteField("message_id", opts.MessageID)
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/files", &buf)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	if c.APIKey != "" {
		req.Header.Set("X-API-Key", c.APIKey)
	}
	resp, err := c.client().Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		var errBody struct {
			Error string `json:"error"`
			Kind  string `json:"kind"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&errBody)
		apiErr.Message = errBody.Error
		apiErr.Kind = errBody.Kind
		return nil, apiErr
	}
	var out models.FileInfo
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListFiles returns file metadata, optionally filtered by conversation or
// uploader.
func (c *Client) ListFiles(ctx context.Context, conversationID, uploadedBy string, limit int) ([]models.FileInfo, error) {
	q := url.Values{}
	if conversationID != "" {
		q.Set("conversation", conversationID)
	}
	if uploadedBy != "" {
		q.Set("uploaded_by", uploadedBy)
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	path := "/files"
	if enc := q.Encode(); enc != "" {
		path += "?" + enc
	}
	var out []models.FileInfo
	err := c.doJSON(ctx, http.MethodGet, path, nil, &out)
	return out, err
}

// GetFile returns one file's metadata.
func (c *Client) GetFile(ctx context.Context, fileID string) (*models.FileInfo, error) {
	var out models.FileInfo
	err := c.doJSON(ctx, http.MethodGet, "/files/"+url.PathEscape(fileID), nil, &out)
	return &out, err
}

// DownloadFile streams a file's content. The caller must close the reader.
func (c *Client) DownloadFile(ctx context.Context, fileID string) (io.ReadCloser, error) {
	resp, err := c.do(ctx, http.MethodGet, "/files/"+url.PathEscape(fileID)+"/content", nil)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		defer func() { _ = resp.Body.Close() }()
		apiErr := &APIError{StatusCode: resp.StatusCode}
		var errBody struct {
			Error string `json:"error"`
			Kind  string `json:"kind"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&errBody)
		apiErr.Message = errBody.Error
		apiErr.Kind = errBody.Kind
		return nil, apiErr
	}
	return resp.Body, nil
}

// DeleteFile removes a file the calling agent uploaded.
func (c *Client) DeleteFile(ctx context.Context, fileID string) error {
	return c.doJSON(ctx, http.MethodDelete, "/files/"+url.PathEscape(fileID), nil, nil)
}

// FileStats returns aggregate upload statistics.
func (c *Client) FileStats(ctx context.Context) (*models.FileStats, error) {
	var out models.FileStats
	err := c.doJSON(ctx, http.MethodGet, "/files/stats", nil, &out)
	return &out, err
}
