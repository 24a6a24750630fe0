package credentials

import (
	"context"
	"fmt"

	"github.com/onnwee/stream-bridge/crypto"
)

// SealedStore encrypts selected keys before they reach the wrapped store.
// Plaintext values already stored are still readable.
type SealedStore struct {
	Store KeyValueStore
	Enc   crypto.Encryptor
	Keys  []string
}

func (s *SealedStore) sealed(key string) bool {
	for _, k := range s.Keys {
		if k == key {
			return true
		}
	}
	return false
}

func (s *SealedStore) Load(ctx context.Context, section string) (map[string]string, error) {
	values, err := s.Store.Load(ctx, section)
	if err != nil {
		return nil, err
	}
	for k, v := range values {
		if !crypto.IsSealed(v) {
			continue
		}
		plain, err := crypto.OpenString(s.Enc, v)
		if err != nil {
			return nil, fmt.Errorf("decrypt %s.%s: %w", section, k, err)
		}
		values[k] = plain
	}
	return values, nil
}

func (s *SealedStore) Save(ctx context.Context, section string, values map[string]string) error {
	out := make(map[string]string, len(values))
	for k, v := range values {
		if s.Enc != nil && s.sealed(k) {
			sealed, err := crypto.SealString(s.Enc, v)
			if err != nil {
				return fmt.Errorf("encrypt %s.%s: %w", section, k, err)
			}
			v = sealed
		}
		out[k] = v
	}
	return s.Store.Save(ctx, section, out)
}
