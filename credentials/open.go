package credentials

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/onnwee/stream-bridge/config"
	"github.com/onnwee/stream-bridge/crypto"
	"github.com/onnwee/stream-bridge/db"
)

// OpenStore builds the store selected by cfg.CredentialsBackend. The returned
// close func releases connections and is never nil. When ENCRYPTION_KEY is set
// the token is sealed at rest.
func OpenStore(ctx context.Context, cfg *config.Config) (KeyValueStore, func() error, error) {
	noop := func() error { return nil }
	var (
		store   KeyValueStore
		closeFn = noop
	)
	switch cfg.CredentialsBackend {
	case config.BackendINI:
		store = &IniStore{Path: cfg.CredentialsPath}
	case config.BackendMemory:
		store = &MemoryStore{}
	case config.BackendPostgres:
		database, err := db.Connect(cfg.DBDsn)
		if err != nil {
			return nil, noop, fmt.Errorf("open db: %w", err)
		}
		mctx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		if err := db.Migrate(mctx, database); err != nil {
			_ = database.Close()
			return nil, noop, fmt.Errorf("migrate db: %w", err)
		}
		store, closeFn = &SQLStore{DB: database}, database.Close
	case config.BackendRedis:
		opts, err := goredis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, noop, fmt.Errorf("parse REDIS_URL: %w", err)
		}
		client := goredis.NewClient(opts)
		pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := client.Ping(pctx).Err(); err != nil {
			_ = client.Close()
			return nil, noop, fmt.Errorf("redis ping: %w", err)
		}
		store, closeFn = &RedisStore{Client: client}, client.Close
	default:
		return nil, noop, fmt.Errorf("unknown credentials backend %q", cfg.CredentialsBackend)
	}

	if cfg.EncryptionKey == "" {
		if cfg.CredentialsBackend != config.BackendMemory {
			slog.Warn("ENCRYPTION_KEY not set, OAuth token will be stored in plaintext", slog.String("component", "credentials"))
		}
		return store, closeFn, nil
	}
	enc, err := crypto.NewAESEncryptor(cfg.EncryptionKey)
	if err != nil {
		_ = closeFn()
		return nil, noop, fmt.Errorf("failed to initialize encryption: %w", err)
	}
	slog.Info("credential encryption enabled (AES-256-GCM)", slog.String("component", "credentials"), slog.String("backend", cfg.CredentialsBackend))
	return &SealedStore{Store: store, Enc: enc, Keys: []string{KeyToken}}, closeFn, nil
}
