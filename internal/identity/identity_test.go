package identity

import (
	"context"
	"strings"
	"testing"

	"github.com/dylanneve1/agent-bridge/internal/bridgeerr"
	"github.com/dylanneve1/agent-bridge/internal/store"
	"github.com/dylanneve1/agent-bridge/pkg/models"
)

func newTestDirectory(t *testing.T, secret string) *Directory {
	t.Helper()
	st, err := store.Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return NewDirectory(st, secret)
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

func TestRegisterAndAuthenticate(t *testing.T) {
	t.Parallel()
	d := newTestDirectory(t, "s3cret")
	ctx := context.Background()

	a, key, err := d.Register(ctx, "walt", "s3cret")
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if a.Name != "walt" || !strings.HasPrefix(key, "bk_") {
		t.Fatalf("agent=%+v key=%q", a, key)
	}

	got, err := d.Authenticate(ctx, key)
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if got.Name != "walt" {
		t.Fatalf("Authenticate = %+v", got)
	}

	_, err = d.Authenticate(ctx, "bk_bogus")
	wantKind(t, err, bridgeerr.Unauthenticated)
	_, err = d.Authenticate(ctx, "")
	wantKind(t, err, bridgeerr.Unauthenticated)
}

func TestRegisterGuards(t *testing.T) {
	t.Parallel()
	d := newTestDirectory(t, "s3cret")
	ctx := context.Background()

	_, _, err := d.Register(ctx, "walt", "wrong")
	wantKind(t, err, bridgeerr.Forbidden)

	_, _, err = d.Register(ctx, "bad name!", "s3cret")
	wantKind(t, err, bridgeerr.InvalidOperation)

	if _, _, err := d.Register(ctx, "walt", "s3cret"); err != nil {
		t.Fatalf("Register: %v", err)
	}
	_, _, err = d.Register(ctx, "walt", "s3cret")
	wantKind(t, err, bridgeerr.AlreadyExists)

	// No secret configured means registration is closed entirely.
	closed := newTestDirectory(t, "")
	_, _, err = closed.Register(ctx, "walt", "")
	wantKind(t, err, bridgeerr.Forbidden)
}

func TestDeactivate(t *testing.T) {
	t.Parallel()
	d := newTestDirectory(t, "s3cret")
	ctx := context.Background()

	_, key, err := d.Register(ctx, "walt", "s3cret")
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	wantKind(t, d.Deactivate(ctx, "walt", "wrong"), bridgeerr.Forbidden)
	wantKind(t, d.Deactivate(ctx, "ghost", "s3cret"), bridgeerr.NotFound)

	if err := d.Deactivate(ctx, "walt", "s3cret"); err != nil {
		t.Fatalf("Deactivate: %v", err)
	}
	_, err = d.Authenticate(ctx, key)
	wantKind(t, err, bridgeerr.Forbidden)
}

// blindStore never sees an existing agent, so two registrations both pass
// the pre-check and the unique constraint decides.
type blindStore struct {
	store.Store
}

func (b blindStore) GetAgent(ctx context.Context, name string) (*models.Agent, error) {
	return nil, nil
}

func TestRegisterRaceSurfacesAlreadyExists(t *testing.T) {
	t.Parallel()
	st, err := store.Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	d := NewDirectory(blindStore{st}, "s3cret")
	ctx := context.Background()

	if _, _, err := d.Register(ctx, "walt", "s3cret"); err != nil {
		t.Fatalf("Register: %v", err)
	}
	_, _, err = d.Register(ctx, "walt", "s3cret")
	wantKind(t, err, bridgeerr.AlreadyExists)
}
