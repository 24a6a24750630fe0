package credentials

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/ini.v1"
)

// IniStore keeps sections in an INI file. A missing file loads as empty.
type IniStore struct {
	Path string
}

func (s *IniStore) Load(_ context.Context, section string) (map[string]string, error) {
	f, err := ini.LooseLoad(s.Path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", s.Path, err)
	}
	if !f.HasSection(section) {
		return map[string]string{}, nil
	}
	return f.Section(section).KeysHash(), nil
}

// Save updates the section in place, keeping other sections, and replaces
// the file atomically with 0600 permissions.
func (s *IniStore) Save(_ context.Context, section string, values map[string]string) error {
	f, err := ini.LooseLoad(s.Path)
	if err != nil {
		return fmt.Errorf("read %s: %w", s.Path, err)
	}
	sec := f.Section(section)
	for k, v := range values {
		sec.Key(k).SetValue(v)
	}
	if dir := filepath.Dir(s.Path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return err
		}
	}
	tmp := s.Path + ".tmp"
	out, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	if _, err := f.WriteTo(out); err != nil {
		_ = out.Close()
		_ = os.Remove(tmp)
		return fmt.Errorf("write %s: %w", tmp, err)
	}
	if err := out.Close(); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, s.Path)
}
