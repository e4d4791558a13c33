// Package mcp exposes validated, identity-baked tool methods for one agent.
// Use it when wiring bridge operations into MCP or other tool-call
// interfaces: the acting agent is fixed at construction so tools cannot
// impersonate other agents.
package mcp

import (
	"context"
	"time"

	"github.com/dylanneve1/agent-bridge/internal/messaging"
	"github.com/dylanneve1/agent-bridge/internal/store"
	"github.com/dylanneve1/agent-bridge/internal/task"
	"github.com/dylanneve1/agent-bridge/pkg/models"
)

// Toolkit is the tool surface for a single agent.
type Toolkit struct {
	Tasks     *task.Engine
	Messages  *messaging.Service
	AgentName string
}

// NewToolkit builds a toolkit bound to agentName over the given store.
func NewToolkit(st store.Store, agentName string) *Toolkit {
	return &Toolkit{
		Tasks:     task.NewEngine(st),
		Messages:  messaging.NewService(st),
		AgentName: agentName,
	}
}

// CreateTask creates an open task credited to this agent.
func (t *Toolkit) CreateTask(ctx context.Context, title, description, priority string) (*models.Task, error) {
	return t.Tasks.Create(ctx, task.CreateRequest{
		Title:       title,
		Description: description,
		Priority:    priority,
		Creator:     t.AgentName,
	})
}

// ClaimTask claims an open task for this agent.
func (t *Toolkit) ClaimTask(ctx context.Context, taskID int64) (*models.Task, error) {
	return t.Tasks.Claim(ctx, taskID, t.AgentName)
}

// StartTask moves a task to in_progress for this agent.
func (t *Toolkit) StartTask(ctx context.Context, taskID int64) (*models.Task, error) {
	return t.Tasks.Start(ctx, taskID, t.AgentName)
}

// CompleteTask marks a task done on behalf of this agent.
func (t *Toolkit) CompleteTask(ctx context.Context, taskID int64) (*models.Task, error) {
	return t.Tasks.Complete(ctx, taskID, t.AgentName)
}

// ListTasks returns tasks matching the filter.
func (t *Toolkit) ListTasks(ctx context.Context, status string, limit int) ([]models.Task, error) {
	if limit <= 0 {
		limit = models.DefaultTaskListLimit
	}
	return t.Tasks.List(ctx, store.TaskFilter{Status: status, Limit: limit})
}

// MyTasks returns tasks assigned to this agent.
func (t *Toolkit) MyTasks(ctx context.Context, limit int) ([]models.Task, error) {
	if limit <= 0 {
		limit = models.DefaultTaskListLimit
	}
	return t.Tasks.List(ctx, store.TaskFilter{Assignee: t.AgentName, Limit: limit})
}

// SendMessage sends a direct message from this agent to recipient.
func (t *Toolkit) SendMessage(ctx context.Context, recipient, content string) (*models.Message, error) {
	return t.Messages.SendDM(ctx, t.AgentName, recipient, content)
}

// Inbox returns this agent's unread messages, oldest first.
func (t *Toolkit) Inbox(ctx context.Context, limit int) ([]models.Message, error) {
	if limit <= 0 {
		limit = models.DefaultInboxLimit
	}
	return t.Messages.Inbox(ctx, t.AgentName, time.Time{}, limit)
}
