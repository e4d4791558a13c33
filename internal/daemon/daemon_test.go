package daemon

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"
)

func TestStartForeground_emptyHome(t *testing.T) {
	ctx := context.Background()
	err := StartForeground(ctx, StartOptions{Home: ""})
	if err == nil {
		t.Fatal("StartForeground empty home: expected error")
	}
}

func TestStatus_notRunning(t *testing.T) {
	t.Parallel()
	st, err := Status(context.Background(), t.TempDir())
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if st.Running {
		t.Fatalf("expected not running, got %+v", st)
	}
}

func TestStatus_stalePidFile(t *testing.T) {
	t.Parallel()
	home := t.TempDir()
	if err := os.MkdirAll(protectedDir(home), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	// A pid that almost certainly does not exist.
	if err := os.WriteFile(pidPath(home), []byte("999999999\n"), 0o644); err != nil {
		t.Fatalf("write pid: %v", err)
	}
	st, err := Status(context.Background(), home)
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if st.Running {
		t.Fatalf("expected not running for stale pid, got %+v", st)
	}
	if _, err := os.Stat(pidPath(home)); !os.IsNotExist(err) {
		t.Fatal("expected stale pid file removed")
	}
}

func TestLockIsExclusive(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "daemon.lock")
	l1, err := acquireLock(path)
	if err != nil {
		t.Fatalf("acquireLock: %v", err)
	}
	if _, err := acquireLock(path); err == nil {
		t.Fatal("second acquireLock: expected error")
	}
	l1.release()
	l2, err := acquireLock(path)
	if err != nil {
		t.Fatalf("acquireLock after release: %v", err)
	}
	l2.release()
}

func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	port := ln.Addr().(*net.TCPAddr).Port
	_ = ln.Close()
	return port
}

func TestStartForeground_servesAndStops(t *testing.T) {
	t.Parallel()
	home := t.TempDir()
	port := freePort(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- StartForeground(ctx, StartOptions{Home: home, Port: port})
	}()

	// Wait for the pid file and a live /health.
	var healthy bool
	for i := 0; i < 100; i++ {
		st, _ := Status(ctx, home)
		if st.Running {
			resp, err := http.Get(fmt.Sprintf("http://127.0.0.1:%d/health", port))
			if err == nil {
				_ = resp.Body.Close()
				if resp.StatusCode == http.StatusOK {
					healthy = true
					break
				}
			}
		}
		time.Sleep(50 * time.Millisecond)
	}
	if !healthy {
		cancel()
		<-done
		t.Fatal("daemon never became healthy")
	}

	st, _ := Status(ctx, home)
	if !st.Running || st.PID != os.Getpid() {
		t.Fatalf("status while running: %+v", st)
	}
	if st.Addr != "0.0.0.0:"+strconv.Itoa(port) {
		t.Fatalf("addr: %q", st.Addr)
	}

	cancel()
	select {
	case <-done:
	case <-time.After(20 * time.Second):
		t.Fatal("StartForeground did not return after cancel")
	}

	// PID file is cleaned up on exit.
	if st2, _ := Status(context.Background(), home); st2.Running {
		t.Fatalf("expected stopped, got %+v", st2)
	}
}
