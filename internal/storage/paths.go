package storage

import (
	"errors"
	"fmt"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"
)

var ErrInvalidPath = errors.New("storage: path does not encode an event")

// Layout selects how day directories are nested under the root.
type Layout string

const (
	// LayoutNested is <root>/YYYY/MM/DD.
	LayoutNested Layout = "nested"
	// LayoutMonthly is <root>/YYYYMM/DD.
	LayoutMonthly Layout = "monthly"
)

const indexesDir = "indexes"

func ParseLayout(s string) (Layout, error) {
	switch Layout(strings.ToLower(strings.TrimSpace(s))) {
	case "", LayoutNested:
		return LayoutNested, nil
	case LayoutMonthly:
		return LayoutMonthly, nil
	default:
		return "", fmt.Errorf("storage: unknown layout %q", s)
	}
}

// Accepts both /YYYY/MM/DD/... and /YYYYMM/DD/...
var relativePathPattern = regexp.MustCompile(`^/(\d{4})/?(\d{2})/(\d{2})/(\d{2})(\d{2})(\d{2})(\d{9})_(.+)$`)

// ParseRelativePath decodes a root-relative event path into its creation
// time, truncated to milliseconds, and its type id.
func ParseRelativePath(rel string, loc *time.Location) (time.Time, string, error) {
	rel = filepath.ToSlash(rel)
	if !strings.HasPrefix(rel, "/") {
		rel = "/" + rel
	}
	m := relativePathPattern.FindStringSubmatch(rel)
	if m == nil {
		return time.Time{}, "", fmt.Errorf("%w: %s", ErrInvalidPath, rel)
	}
	n := make([]int, 7)
	for i := range n {
		v, err := strconv.Atoi(m[i+1])
		if err != nil {
			return time.Time{}, "", fmt.Errorf("%w: %s", ErrInvalidPath, rel)
		}
		n[i] = v
	}
	if n[1] < 1 || n[1] > 12 || n[2] < 1 || n[2] > 31 || n[3] > 23 || n[4] > 59 || n[5] > 59 {
		return time.Time{}, "", fmt.Errorf("%w: %s: timestamp out of range", ErrInvalidPath, rel)
	}
	if loc == nil {
		loc = time.Local
	}
	millis := n[6] / int(time.Millisecond)
	created := time.Date(n[0], time.Month(n[1]), n[2], n[3], n[4], n[5], millis*int(time.Millisecond), loc)
	if created.Day() != n[2] || int(created.Month()) != n[1] {
		return time.Time{}, "", fmt.Errorf("%w: %s: no such calendar day", ErrInvalidPath, rel)
	}
	return created, m[8], nil
}

// RelativePath is the inverse of ParseRelativePath for the given layout.
func RelativePath(layout Layout, created time.Time, typeID string) string {
	return "/" + dayPath(layout, created) + "/" +
		fmt.Sprintf("%02d%02d%02d%09d_%s", created.Hour(), created.Minute(), created.Second(), created.Nanosecond(), typeID)
}

func dayPath(layout Layout, date time.Time) string {
	if layout == LayoutMonthly {
		return fmt.Sprintf("%04d%02d/%02d", date.Year(), int(date.Month()), date.Day())
	}
	return fmt.Sprintf("%04d/%02d/%02d", date.Year(), int(date.Month()), date.Day())
}

// scanPattern globs every event file below root for the layout.
func scanPattern(root string, layout Layout) string {
	if layout == LayoutMonthly {
		return filepath.Join(root, "*", "*", "*")
	}
	return filepath.Join(root, "*", "*", "*", "*")
}

// typeSuffix returns the file name after its first underscore.
func typeSuffix(name string) string {
	_, suffix, _ := strings.Cut(name, "_")
	return suffix
}
