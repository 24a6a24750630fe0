package credentials

import (
	"context"
	"sync"
)

// MemoryStore keeps sections in process memory.
type MemoryStore struct {
	mu       sync.Mutex
	sections map[string]map[string]string
}

func (s *MemoryStore) Load(_ context.Context, section string) (map[string]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]string, len(s.sections[section]))
	for k, v := range s.sections[section] {
		out[k] = v
	}
	return out, nil
}

func (s *MemoryStore) Save(_ context.Context, section string, values map[string]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sections == nil {
		s.sections = make(map[string]map[string]string)
	}
	sec := s.sections[section]
	if sec == nil {
		sec = make(map[string]string)
		s.sections[section] = sec
	}
	for k, v := range values {
		sec[k] = v
	}
	return nil
}
