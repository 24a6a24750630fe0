package main

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"strings"
	"testing"

	"github.com/onnwee/stream-bridge/credentials"
	"github.com/onnwee/stream-bridge/crypto"
	"github.com/onnwee/stream-bridge/testutil"
)

func newEncryptor(t *testing.T) crypto.Encryptor {
	t.Helper()
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		t.Fatalf("rand: %v", err)
	}
	enc, err := crypto.NewAESEncryptor(base64.StdEncoding.EncodeToString(key))
	if err != nil {
		t.Fatalf("NewAESEncryptor: %v", err)
	}
	return enc
}

func seed(t *testing.T, s credentials.KeyValueStore) {
	t.Helper()
	err := s.Save(context.Background(), credentials.Section, map[string]string{
		credentials.KeyUsername: "bar",
		credentials.KeyToken:    "abc123",
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
}

// TestMigrateCredentials_DryRun tests that nothing is written in dry-run mode
func TestMigrateCredentials_DryRun(t *testing.T) {
	ctx := context.Background()
	src, dst := &credentials.MemoryStore{}, &credentials.MemoryStore{}
	seed(t, src)

	n, err := migrateCredentials(ctx, src, dst, true)
	if err != nil {
		t.Fatalf("migrateCredentials: %v", err)
	}
	if n != 2 {
		t.Errorf("expected 2 keys, got %d", n)
	}
	got, _ := dst.Load(ctx, credentials.Section)
	if len(got) != 0 {
		t.Errorf("dry run wrote %v", got)
	}
}

// TestMigrateCredentials_Sealed tests that the token is encrypted at rest in the destination
func TestMigrateCredentials_Sealed(t *testing.T) {
	ctx := context.Background()
	src := &credentials.MemoryStore{}
	raw := &credentials.MemoryStore{}
	dst := &credentials.SealedStore{Store: raw, Enc: newEncryptor(t), Keys: []string{credentials.KeyToken}}
	seed(t, src)

	if _, err := migrateCredentials(ctx, src, dst, false); err != nil {
		t.Fatalf("migrateCredentials: %v", err)
	}
	stored, _ := raw.Load(ctx, credentials.Section)
	if !crypto.IsSealed(stored[credentials.KeyToken]) {
		t.Errorf("token stored in plaintext: %q", stored[credentials.KeyToken])
	}
	if strings.Contains(stored[credentials.KeyToken], "abc123") {
		t.Error("sealed token leaks plaintext")
	}
	if stored[credentials.KeyUsername] != "bar" {
		t.Errorf("username = %q, want plaintext bar", stored[credentials.KeyUsername])
	}
	got, err := dst.Load(ctx, credentials.Section)
	if err != nil || got[credentials.KeyToken] != "abc123" {
		t.Errorf("Load() = %v, %v", got, err)
	}
}

// TestMigrateCredentials_InPlace tests sealing a plaintext token in its own store
func TestMigrateCredentials_InPlace(t *testing.T) {
	ctx := context.Background()
	raw := &credentials.MemoryStore{}
	seed(t, raw)
	sealed := &credentials.SealedStore{Store: raw, Enc: newEncryptor(t), Keys: []string{credentials.KeyToken}}

	if _, err := migrateCredentials(ctx, sealed, sealed, false); err != nil {
		t.Fatalf("migrateCredentials: %v", err)
	}
	stored, _ := raw.Load(ctx, credentials.Section)
	if !crypto.IsSealed(stored[credentials.KeyToken]) {
		t.Errorf("token not sealed in place: %q", stored[credentials.KeyToken])
	}

	// A second run is idempotent.
	if _, err := migrateCredentials(ctx, sealed, sealed, false); err != nil {
		t.Fatalf("second run: %v", err)
	}
}

// TestMigrateCredentials_Empty tests that an empty source is not an error
func TestMigrateCredentials_Empty(t *testing.T) {
	n, err := migrateCredentials(context.Background(), &credentials.MemoryStore{}, &credentials.MemoryStore{}, false)
	if err != nil || n != 0 {
		t.Errorf("migrateCredentials() = %d, %v", n, err)
	}
}

func TestRunRejectsUnknownBackend(t *testing.T) {
	if err := run("memory", "ini", false); err == nil {
		t.Error("expected error for memory backend")
	}
	t.Setenv("ENCRYPTION_KEY", "")
	if err := run("ini", "ini", false); err == nil || !strings.Contains(err.Error(), "ENCRYPTION_KEY") {
		t.Errorf("expected ENCRYPTION_KEY error, got %v", err)
	}
}

// TestMigrateCredentials_Postgres copies into the settings_kv table
func TestMigrateCredentials_Postgres(t *testing.T) {
	database := testutil.SetupTestDB(t)
	ctx := context.Background()
	t.Cleanup(func() {
		_, _ = database.ExecContext(context.Background(), `DELETE FROM settings_kv WHERE section=$1`, credentials.Section)
	})
	src := &credentials.MemoryStore{}
	seed(t, src)
	dst := &credentials.SealedStore{Store: &credentials.SQLStore{DB: database}, Enc: newEncryptor(t), Keys: []string{credentials.KeyToken}}

	if _, err := migrateCredentials(ctx, src, dst, false); err != nil {
		t.Fatalf("migrateCredentials: %v", err)
	}
	got, err := dst.Load(ctx, credentials.Section)
	if err != nil || got[credentials.KeyToken] != "abc123" || got[credentials.KeyUsername] != "bar" {
		t.Errorf("Load() = %v, %v", got, err)
	}
}
