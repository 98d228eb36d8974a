package catalog

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/natefinch/atomic"
	"github.com/tailscale/hujson"
)

// Load reads a catalog file. Comments and trailing commas are accepted.
func Load(path string) (*Store, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	standardized, err := hujson.Standardize(data)
	if err != nil {
		return nil, fmt.Errorf("catalog %s: invalid JSONC: %w", path, err)
	}
	var file JSONFile
	if err := json.Unmarshal(standardized, &file); err != nil {
		return nil, fmt.Errorf("catalog %s: %w", path, err)
	}
	return FromJSON(file)
}

// EnsureLoaded loads path, first writing the default catalog if the file
// does not exist.
func EnsureLoaded(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("empty catalog path")
	}
	info, err := os.Stat(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		store, ferr := FromJSON(Default())
		if ferr != nil {
			return nil, ferr
		}
		if err := Save(path, store); err != nil {
			return nil, err
		}
		return store, nil
	case err != nil:
		return nil, err
	case info.IsDir():
		return nil, fmt.Errorf("catalog path %s is a directory", path)
	}
	return Load(path)
}

// Save writes the catalog atomically as indented JSON.
func Save(path string, store *Store) error {
	data, err := json.MarshalIndent(store.ToJSON(), "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return atomic.WriteFile(path, bytes.NewReader(append(data, '\n')))
}
