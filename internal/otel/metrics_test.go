package otel

import (
	"context"
	"testing"
)

func TestInitMetrics_RecordTaskOp(t *testing.T) {
	ctx := context.Background()
	_, err := InitMeterProvider(ctx, "metrics-test")
	if err != nil {
		t.Fatalf("InitMeterProvider: %v", err)
	}
	if err := InitMetrics(ctx); err != nil {
		t.Fatalf("InitMetrics: %v", err)
	}
	RecordTaskOp(ctx, "create", "open")
	RecordTaskOp(ctx, "claim", "claimed")
}

func TestAddSSEConnection_RemoveSSEConnection(t *testing.T) {
	AddSSEConnection()
	AddSSEConnection()
	RemoveSSEConnection()
	RemoveSSEConnection()
	RemoveSSEConnection() // should not go negative
}

func TestRecordCommit_RecordMessage_RecordSSEEvent(t *testing.T) {
	ctx := context.Background()
	_, _ = InitMeterProvider(ctx, "record-test")
	_ = InitMetrics(ctx)
	RecordCommit(ctx, "docs")
	RecordMessage(ctx, "dm")
	RecordUpload(ctx, "alice")
	RecordSSEEvent(ctx)
}

func TestInitMetricsWithTaskCount(t *testing.T) {
	ctx := context.Background()
	_, _ = InitMeterProvider(ctx, "taskcount-test")
	err := InitMetricsWithTaskCount(ctx, func() (open, claimed, inProgress, blocked, done int64) {
		return 1, 2, 3, 0, 4
	})
	if err != nil {
		t.Fatalf("InitMetricsWithTaskCount: %v", err)
	}
}

func TestInitMetricsWithTaskCount_nilFunc(t *testing.T) {
	ctx := context.Background()
	_, _ = InitMeterProvider(ctx, "taskcount-nil-test")
	err := InitMetricsWithTaskCount(ctx, nil)
	if err != nil {
		t.Fatalf("InitMetricsWithTaskCount(nil): %v", err)
	}
}
