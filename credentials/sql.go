package credentials

import (
	"context"
	"database/sql"

	"github.com/onnwee/stream-bridge/db"
)

// SQLStore keeps sections in the Postgres settings_kv table.
type SQLStore struct {
	DB *sql.DB
}

func (s *SQLStore) Load(ctx context.Context, section string) (map[string]string, error) {
	return db.GetSection(ctx, s.DB, section)
}

func (s *SQLStore) Save(ctx context.Context, section string, values map[string]string) error {
	return db.UpsertSection(ctx, s.DB, section, values)
}
