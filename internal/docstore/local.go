package docstore

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

type localConfig struct {
	Dir string `json:"dir"`
}

type localStore struct {
	dir string
}

func init() {
	Register("local", createLocalStore)
}

func createLocalStore(args interface{}) (Store, error) {
	config := &localConfig{}
	if err := decodeConfig(args, config); err != nil {
		return nil, err
	}
	if config.Dir == "" {
		return nil, fmt.Errorf("local store dir is required")
	}
	return &localStore{dir: config.Dir}, nil
}

// resolve maps a store name onto a path under dir. Names may contain
// "/" for the namespace prefix but must not escape dir.
func (s *localStore) resolve(name string) (string, error) {
	name = strings.TrimPrefix(name, "/")
	if name == "" {
		return "", fmt.Errorf("document name is required")
	}
	for _, part := range strings.Split(name, "/") {
		if part == "" || part == "." || part == ".." || strings.Contains(part, "\\") {
			return "", fmt.Errorf("invalid document name: %s", name)
		}
	}
	return filepath.Join(s.dir, filepath.FromSlash(name)), nil
}

func (s *localStore) Save(ctx context.Context, name string, data []byte) error {
	_ = ctx
	path, err := s.resolve(name)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func (s *localStore) Open(ctx context.Context, name string) ([]byte, error) {
	_ = ctx
	path, err := s.resolve(name)
	if err != nil {
		return nil, err
	}
	return os.ReadFile(path)
}

func (s *localStore) Delete(ctx context.Context, name string) error {
	_ = ctx
	path, err := s.resolve(name)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
