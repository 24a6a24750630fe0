// Package credentials holds the live Twitch credential and round-trips the
// persisted part of it (login and token) through a KeyValueStore.
package credentials

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

// UnresolvedAccountID marks a credential whose account id is not known yet.
const UnresolvedAccountID = -1

// Persisted section and keys.
const (
	Section     = "twitch"
	KeyUsername = "twitch_username"
	KeyToken    = "twitch_oauth_token"
)

// Credential is the live identity used by every Twitch client.
type Credential struct {
	ClientID     string
	OAuthToken   string
	AccountLogin string
	AccountID    int
}

// Resolved reports whether the account id is known.
func (c Credential) Resolved() bool { return c.AccountID != UnresolvedAccountID }

// KeyValueStore persists string entries grouped by section.
type KeyValueStore interface {
	Load(ctx context.Context, section string) (map[string]string, error)
	Save(ctx context.Context, section string, values map[string]string) error
}

// Manager owns the live Credential. It is driven from the integration tick;
// only Snapshot may be called from other goroutines.
type Manager struct {
	store    KeyValueStore
	cred     *Credential
	autoLoad bool
	autoSave bool

	mu   sync.RWMutex
	snap Credential
}

// NewManager wraps cred. A nil store disables persistence.
func NewManager(store KeyValueStore, cred *Credential, autoLoad, autoSave bool) *Manager {
	if cred == nil {
		cred = &Credential{AccountID: UnresolvedAccountID}
	}
	m := &Manager{store: store, cred: cred, autoLoad: autoLoad, autoSave: autoSave}
	m.publish()
	return m
}

// Credential returns the live credential.
func (m *Manager) Credential() *Credential { return m.cred }

// Snapshot returns a copy safe to read from any goroutine.
func (m *Manager) Snapshot() Credential {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.snap
}

func (m *Manager) publish() {
	m.mu.Lock()
	m.snap = *m.cred
	m.mu.Unlock()
}

// Load merges persisted values into the credential when auto-load is on.
// Missing or empty entries keep the current values.
func (m *Manager) Load(ctx context.Context) error {
	if m.store == nil || !m.autoLoad {
		return nil
	}
	values, err := m.store.Load(ctx, Section)
	if err != nil {
		return fmt.Errorf("load credentials: %w", err)
	}
	if v := values[KeyUsername]; v != "" {
		m.cred.AccountLogin = v
	}
	if v := values[KeyToken]; v != "" {
		m.cred.OAuthToken = v
	}
	m.publish()
	slog.Debug("credentials loaded", slog.String("component", "credentials"), slog.String("login", m.cred.AccountLogin))
	return nil
}

// Save writes login and token to the store.
func (m *Manager) Save(ctx context.Context) error {
	if m.store == nil {
		return nil
	}
	err := m.store.Save(ctx, Section, map[string]string{
		KeyUsername: m.cred.AccountLogin,
		KeyToken:    m.cred.OAuthToken,
	})
	if err != nil {
		return fmt.Errorf("save credentials: %w", err)
	}
	return nil
}

// SetToken stores a freshly issued token, persisting it when auto-save is on.
func (m *Manager) SetToken(ctx context.Context, token string) error {
	m.cred.OAuthToken = token
	m.publish()
	return m.autoPersist(ctx)
}

// SetIdentity records the resolved account, persisting it when auto-save is on.
func (m *Manager) SetIdentity(ctx context.Context, id int, login string) error {
	m.cred.AccountID = id
	if login != "" {
		m.cred.AccountLogin = login
	}
	m.publish()
	return m.autoPersist(ctx)
}

// ResetIdentity marks the account unresolved so it is fetched again.
func (m *Manager) ResetIdentity() {
	m.cred.AccountID = UnresolvedAccountID
	m.publish()
}

func (m *Manager) autoPersist(ctx context.Context) error {
	if !m.autoSave {
		return nil
	}
	if err := m.Save(ctx); err != nil {
		slog.Warn("credential auto-save failed", slog.String("component", "credentials"), slog.Any("err", err))
		return err
	}
	return nil
}
