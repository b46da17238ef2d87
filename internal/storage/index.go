package storage

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

func indexPath(root, typeID string) string {
	return filepath.Join(root, indexesDir, "types", typeID)
}

// readIndex returns the relative paths listed in a type index. A missing
// index means no events of that type.
func readIndex(root, typeID string) ([]string, error) {
	raw, err := os.ReadFile(indexPath(root, typeID))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var out []string
	for _, line := range strings.Split(string(raw), "\n") {
		line = strings.TrimSpace(strings.TrimSuffix(line, "\r"))
		if line == "" {
			continue
		}
		out = append(out, line)
	}
	return out, nil
}
