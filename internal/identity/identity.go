// Package identity is the agent directory: registration, API-key
// authentication, and deactivation. Agents are never deleted.
package identity

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"regexp"

	"github.com/dylanneve1/agent-bridge/internal/bridgeerr"
	"github.com/dylanneve1/agent-bridge/internal/store"
	"github.com/dylanneve1/agent-bridge/pkg/models"
)

var nameRe = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9._-]{0,63}$`)

// Directory maps agent names to credentials. Registration is guarded by the
// admin secret from the server config.
type Directory struct {
	st          store.Store
	adminSecret string
}

func NewDirectory(st store.Store, adminSecret string) *Directory {
	return &Directory{st: st, adminSecret: adminSecret}
}

// Register creates an agent and returns its API key. The key is shown once;
// only its owner ever sees it again.
func (d *Directory) Register(ctx context.Context, name, adminSecret string) (models.Agent, string, error) {
	if d.adminSecret == "" {
		return models.Agent{}, "", bridgeerr.E(bridgeerr.Forbidden, "registration disabled: no admin secret configured")
	}
	if subtle.ConstantTimeCompare([]byte(adminSecret), []byte(d.adminSecret)) != 1 {
		return models.Agent{}, "", bridgeerr.E(bridgeerr.Forbidden, "invalid admin secret")
	}
	if !nameRe.MatchString(name) {
		return models.Agent{}, "", bridgeerr.E(bridgeerr.InvalidOperation, "invalid agent name %q", name)
	}
	existing, err := d.st.GetAgent(ctx, name)
	if err != nil {
		return models.Agent{}, "", bridgeerr.Wrap(bridgeerr.Internal, err, "storage failure")
	}
	if existing != nil {
		return models.Agent{}, "", bridgeerr.E(bridgeerr.AlreadyExists, "agent %q already registered", name)
	}

	key := newAPIKey()
	a, err := d.st.CreateAgent(ctx, name, key)
	if errors.Is(err, store.ErrDuplicate) {
		// Two registrations raced past the existence check; the unique
		// constraint picked the winner.
		return models.Agent{}, "", bridgeerr.E(bridgeerr.AlreadyExists, "agent %q already registered", name)
	}
	if err != nil {
		return models.Agent{}, "", bridgeerr.Wrap(bridgeerr.Internal, err, "create agent")
	}
	return a, key, nil
}

// Authenticate resolves an API key to an active agent.
func (d *Directory) Authenticate(ctx context.Context, apiKey string) (*models.Agent, error) {
	if apiKey == "" {
		return nil, bridgeerr.E(bridgeerr.Unauthenticated, "missing API key")
	}
	a, err := d.st.GetAgentByKey(ctx, apiKey)
	if err != nil {
		return nil, bridgeerr.Wrap(bridgeerr.Internal, err, "storage failure")
	}
	if a == nil {
		return nil, bridgeerr.E(bridgeerr.Unauthenticated, "unknown API key")
	}
	if !a.Active {
		return nil, bridgeerr.E(bridgeerr.Forbidden, "agent %q is deactivated", a.Name)
	}
	return a, nil
}

func (d *Directory) Get(ctx context.Context, name string) (*models.Agent, error) {
	a, err := d.st.GetAgent(ctx, name)
	if err != nil {
		return nil, bridgeerr.Wrap(bridgeerr.Internal, err, "storage failure")
	}
	if a == nil {
		return nil, bridgeerr.E(bridgeerr.NotFound, "agent %q not found", name)
	}
	return a, nil
}

func (d *Directory) List(ctx context.Context) ([]models.Agent, error) {
	out, err := d.st.ListAgents(ctx)
	if err != nil {
		return nil, bridgeerr.Wrap(bridgeerr.Internal, err, "storage failure")
	}
	return out, nil
}

// Deactivate disables an agent's key without removing history attributed
// to it.
func (d *Directory) Deactivate(ctx context.Context, name, adminSecret string) error {
	if d.adminSecret == "" || subtle.ConstantTimeCompare([]byte(adminSecret), []byte(d.adminSecret)) != 1 {
		return bridgeerr.E(bridgeerr.Forbidden, "invalid admin secret")
	}
	if _, err := d.Get(ctx, name); err != nil {
		return err
	}
	if err := d.st.SetAgentActive(ctx, name, false); err != nil {
		return bridgeerr.Wrap(bridgeerr.Internal, err, "deactivate agent")
	}
	return nil
}

func newAPIKey() string {
	b := make([]byte, 24)
	if _, err := rand.Read(b); err != nil {
		panic(fmt.Sprintf("crypto/rand failed: %v", err))
	}
	return "bk_" + hex.EncodeToString(b)
}
