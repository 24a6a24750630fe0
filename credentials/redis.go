package credentials

import (
	"context"
	"fmt"

	goredis "github.com/redis/go-redis/v9"
)

// RedisStore keeps each section in a hash named <Prefix>:<section>.
type RedisStore struct {
	Client goredis.Cmdable
	Prefix string
}

func (s *RedisStore) key(section string) string {
	prefix := s.Prefix
	if prefix == "" {
		prefix = "bridge:settings"
	}
	return prefix + ":" + section
}

func (s *RedisStore) Load(ctx context.Context, section string) (map[string]string, error) {
	values, err := s.Client.HGetAll(ctx, s.key(section)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis hgetall: %w", err)
	}
	return values, nil
}

func (s *RedisStore) Save(ctx context.Context, section string, values map[string]string) error {
	if len(values) == 0 {
		return nil
	}
	args := make([]any, 0, 2*len(values))
	for k, v := range values {
		args = append(args, k, v)
	}
	if err := s.Client.HSet(ctx, s.key(section), args...).Err(); err != nil {
		return fmt.Errorf("redis hset: %w", err)
	}
	return nil
}
