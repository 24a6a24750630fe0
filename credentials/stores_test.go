package credentials

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"os"
	"path/filepath"
	"strings"
	"testing"

	goredis "github.com/redis/go-redis/v9"

	"github.com/onnwee/stream-bridge/config"
	"github.com/onnwee/stream-bridge/crypto"
	"github.com/onnwee/stream-bridge/testutil"
)

func TestIniStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "config.ini")
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte("[avatar]\nmodel = fox.vrm\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	s := &IniStore{Path: path}

	empty, err := s.Load(ctx, Section)
	if err != nil || len(empty) != 0 {
		t.Fatalf("Load() on missing section = %v, %v", empty, err)
	}
	if err := s.Save(ctx, Section, map[string]string{KeyUsername: "bar", KeyToken: "tok"}); err != nil {
		t.Fatalf("Save() error: %v", err)
	}
	got, err := s.Load(ctx, Section)
	if err != nil {
		t.Fatal(err)
	}
	if got[KeyUsername] != "bar" || got[KeyToken] != "tok" {
		t.Errorf("Load() = %v", got)
	}
	other, _ := s.Load(ctx, "avatar")
	if other["model"] != "fox.vrm" {
		t.Errorf("other section lost: %v", other)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Errorf("file mode = %o, want 600", perm)
	}
}

func TestIniStoreMissingFile(t *testing.T) {
	s := &IniStore{Path: filepath.Join(t.TempDir(), "absent.ini")}
	got, err := s.Load(context.Background(), Section)
	if err != nil || len(got) != 0 {
		t.Errorf("Load() = %v, %v", got, err)
	}
}

func testKey(t *testing.T) string {
	t.Helper()
	k := make([]byte, 32)
	if _, err := rand.Read(k); err != nil {
		t.Fatal(err)
	}
	return base64.StdEncoding.EncodeToString(k)
}

func TestSealedStore(t *testing.T) {
	ctx := context.Background()
	enc, err := crypto.NewAESEncryptor(testKey(t))
	if err != nil {
		t.Fatal(err)
	}
	inner := &MemoryStore{}
	_ = inner.Save(ctx, Section, map[string]string{KeyToken: "legacy-plain"})
	s := &SealedStore{Store: inner, Enc: enc, Keys: []string{KeyToken}}

	got, err := s.Load(ctx, Section)
	if err != nil || got[KeyToken] != "legacy-plain" {
		t.Fatalf("plaintext passthrough = %v, %v", got, err)
	}

	if err := s.Save(ctx, Section, map[string]string{KeyUsername: "bar", KeyToken: "secret"}); err != nil {
		t.Fatal(err)
	}
	raw, _ := inner.Load(ctx, Section)
	if !crypto.IsSealed(raw[KeyToken]) || strings.Contains(raw[KeyToken], "secret") {
		t.Errorf("token not sealed at rest: %q", raw[KeyToken])
	}
	if raw[KeyUsername] != "bar" {
		t.Errorf("username should stay plaintext: %q", raw[KeyUsername])
	}
	got, err = s.Load(ctx, Section)
	if err != nil || got[KeyToken] != "secret" {
		t.Errorf("Load() = %v, %v", got, err)
	}

	noKey := &SealedStore{Store: inner, Keys: []string{KeyToken}}
	if _, err := noKey.Load(ctx, Section); err == nil {
		t.Error("expected error reading sealed value without key")
	}
}

func TestOpenStore(t *testing.T) {
	ctx := context.Background()
	tests := []struct {
		name       string
		cfg        config.Config
		wantSealed bool
		wantErr    bool
	}{
		{name: "ini", cfg: config.Config{CredentialsBackend: config.BackendINI, CredentialsPath: filepath.Join(t.TempDir(), "c.ini")}},
		{name: "memory sealed", cfg: config.Config{CredentialsBackend: config.BackendMemory, EncryptionKey: testKey(t)}, wantSealed: true},
		{name: "bad key", cfg: config.Config{CredentialsBackend: config.BackendMemory, EncryptionKey: "short"}, wantErr: true},
		{name: "bad redis url", cfg: config.Config{CredentialsBackend: config.BackendRedis, RedisURL: "http://nope"}, wantErr: true},
		{name: "unknown", cfg: config.Config{CredentialsBackend: "etcd"}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store, closeFn, err := OpenStore(ctx, &tt.cfg)
			if closeFn == nil {
				t.Fatal("close func must never be nil")
			}
			defer closeFn()
			if tt.wantErr {
				if err == nil {
					t.Error("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("OpenStore() error: %v", err)
			}
			_, sealed := store.(*SealedStore)
			if sealed != tt.wantSealed {
				t.Errorf("sealed = %v, want %v", sealed, tt.wantSealed)
			}
		})
	}
}

func TestRedisStore(t *testing.T) {
	url := os.Getenv("TEST_REDIS_URL")
	if url == "" {
		t.Skip("TEST_REDIS_URL not set")
	}
	opts, err := goredis.ParseURL(url)
	if err != nil {
		t.Fatal(err)
	}
	client := goredis.NewClient(opts)
	defer client.Close()
	ctx := context.Background()
	s := &RedisStore{Client: client, Prefix: "test:bridge"}
	t.Cleanup(func() { client.Del(context.Background(), s.key(Section)) })

	if err := s.Save(ctx, Section, map[string]string{KeyUsername: "bar", KeyToken: "tok"}); err != nil {
		t.Fatal(err)
	}
	got, err := s.Load(ctx, Section)
	if err != nil || got[KeyUsername] != "bar" || got[KeyToken] != "tok" {
		t.Errorf("Load() = %v, %v", got, err)
	}
}

func TestSQLStore(t *testing.T) {
	database := testutil.SetupTestDB(t)
	ctx := context.Background()
	section := "test_sqlstore"
	t.Cleanup(func() {
		_, _ = database.ExecContext(context.Background(), `DELETE FROM settings_kv WHERE section=$1`, section)
	})
	s := &SQLStore{DB: database}
	if err := s.Save(ctx, section, map[string]string{KeyUsername: "bar"}); err != nil {
		t.Fatal(err)
	}
	got, err := s.Load(ctx, section)
	if err != nil || got[KeyUsername] != "bar" {
		t.Errorf("Load() = %v, %v", got, err)
	}
}
