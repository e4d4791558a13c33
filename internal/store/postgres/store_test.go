package postgres

import (
	"context"
	"os"
	"testing"

	"github.com/dylanneve1/agent-bridge/internal/store"
	"github.com/dylanneve1/agent-bridge/pkg/models"
)

// Integration test: requires a reachable PostgreSQL at DATABASE_URL.
func TestOpenAndRoundTrip(t *testing.T) {
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		t.Skip("DATABASE_URL not set; skipping postgres integration test")
	}
	ctx := context.Background()
	s, err := Open(ctx, dsn)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer func() { _ = s.Close() }()

	var _ store.Store = s

	id, err := s.CreateTask(ctx, &models.Task{Title: "pg check", Status: models.StatusOpen, Priority: models.PriorityNormal, Creator: "ci"})
	if err != nil {
		t.Fatalf("CreateTask: %v", err)
	}
	got, err := s.GetTask(ctx, id)
	if err != nil {
		t.Fatalf("GetTask: %v", err)
	}
	if got == nil || got.Title != "pg check" {
		t.Fatalf("GetTask = %+v", got)
	}
}
