package registry

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
)

// CommitOptions selects what Commit writes and where.
type CommitOptions struct {
	// FilePath defaults to Store.FilePath().
	FilePath string
	// Only writes just these paths.
	Only []string
	// Except writes everything but these paths. Ignored when Only is set.
	Except []string
}

// Load reads a JSON object from filePath into the namespace, merging it
// into the current content or replacing it. A missing file is not an error.
func (s *Store) Load(filePath string, overwrite bool) error {
	if filePath == "" {
		filePath = s.FilePath()
	}

	raw, err := os.ReadFile(filePath)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return errors.Wrap(err, "read store file")
	}

	values := map[string]interface{}{}
	if err := json.Unmarshal(raw, &values); err != nil {
		return errors.Wrapf(err, "decode store file %s", filePath)
	}

	s.ns.mu.Lock()
	if overwrite {
		s.ns.data = values
	} else {
		merge(s.ns.data, values)
	}
	s.ns.mu.Unlock()

	s.ns.notify()
	return nil
}

// Commit writes the namespace, or the selected part of it, as JSON.
func (s *Store) Commit(opts CommitOptions) error {
	filePath := opts.FilePath
	if filePath == "" {
		filePath = s.FilePath()
	}

	snapshot := s.GetAll()
	out := snapshot

	switch {
	case len(opts.Only) > 0:
		out = map[string]interface{}{}
		for _, path := range opts.Only {
			keys := splitPath(path)
			if v, ok := getPath(snapshot, keys); ok {
				setPath(out, keys, v, true)
			}
		}
	case len(opts.Except) > 0:
		for _, path := range opts.Except {
			deletePath(out, splitPath(path))
		}
	}

	raw, err := json.Marshal(out)
	if err != nil {
		return errors.Wrap(err, "encode store")
	}

	if err := os.MkdirAll(filepath.Dir(filePath), 0o755); err != nil {
		return errors.Wrap(err, "create store dir")
	}
	if err := os.WriteFile(filePath, raw, 0o644); err != nil {
		return errors.Wrap(err, "write store file")
	}
	return nil
}
