package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func TestResolveHome(t *testing.T) {
	if got, err := ResolveHome("/tmp/custom"); err != nil || got != "/tmp/custom" {
		t.Fatalf("ResolveHome override: got %q, err %v", got, err)
	}

	t.Setenv("BRIDGE_HOME", "/tmp/envhome")
	if got, err := ResolveHome(""); err != nil || got != "/tmp/envhome" {
		t.Fatalf("ResolveHome env: got %q, err %v", got, err)
	}

	t.Setenv("BRIDGE_HOME", "")
	got, err := ResolveHome("")
	if err != nil {
		t.Fatalf("ResolveHome default: %v", err)
	}
	if filepath.Base(got) != ".bridge" {
		t.Fatalf("ResolveHome default: got %q, want ~/.bridge", got)
	}
}

func TestHomeContext(t *testing.T) {
	t.Parallel()
	ctx := WithHome(context.Background(), "/tmp/h")
	h, ok := HomeFrom(ctx)
	if !ok || h != "/tmp/h" {
		t.Fatalf("HomeFrom: got %q ok=%v", h, ok)
	}
	if MustHomeFrom(ctx) != "/tmp/h" {
		t.Fatal("MustHomeFrom mismatch")
	}
	defer func() {
		if recover() == nil {
			t.Fatal("MustHomeFrom without home should panic")
		}
	}()
	MustHomeFrom(context.Background())
}

func TestLoadServer(t *testing.T) {
	home := t.TempDir()

	cfg, err := LoadServer(home)
	if err != nil {
		t.Fatalf("LoadServer missing file: %v", err)
	}
	if cfg.Addr != DefaultAddr || cfg.DBDriver != "sqlite" || cfg.MaxFileBytes != DefaultMaxFileBytes {
		t.Fatalf("LoadServer defaults: got %+v", cfg)
	}

	yml := "addr: \":9999\"\ndb_driver: postgres\nmax_file_bytes: 1024\n"
	if err := os.WriteFile(filepath.Join(home, "bridge.yaml"), []byte(yml), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err = LoadServer(home)
	if err != nil {
		t.Fatalf("LoadServer: %v", err)
	}
	if cfg.Addr != ":9999" || cfg.DBDriver != "postgres" || cfg.MaxFileBytes != 1024 {
		t.Fatalf("LoadServer: got %+v", cfg)
	}

	if err := os.WriteFile(filepath.Join(home, "bridge.yaml"), []byte("addr: [broken"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadServer(home); err == nil {
		t.Fatal("LoadServer malformed yaml: expected error")
	}
}

func TestLoadServerEnvSecret(t *testing.T) {
	t.Setenv("BRIDGE_ADMIN_SECRET", "s3cret")
	cfg, err := LoadServer(t.TempDir())
	if err != nil {
		t.Fatalf("LoadServer: %v", err)
	}
	if cfg.AdminSecret != "s3cret" {
		t.Fatalf("AdminSecret: got %q", cfg.AdminSecret)
	}
}
