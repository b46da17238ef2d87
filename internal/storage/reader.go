package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/danmuck/goes/internal/events"
	"github.com/danmuck/goes/internal/observability"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var (
	ErrNotDirectory  = errors.New("storage: path is not a directory")
	ErrInvalidFilter = errors.New("storage: invalid filter")
)

const (
	ModeDate  = "date"
	ModeIndex = "index"
	ModeScan  = "scan"
)

// Filters narrow a read. A zero Date means no date filter.
type Filters struct {
	EventTypes []string
	Date       time.Time
}

func (f Filters) HasDate() bool {
	return !f.Date.IsZero()
}

type Option func(*Reader)

func WithLayout(layout Layout) Option {
	return func(r *Reader) {
		r.layout = layout
	}
}

// WithLocation sets the zone creation times are reconstructed in.
func WithLocation(loc *time.Location) Option {
	return func(r *Reader) {
		if loc != nil {
			r.loc = loc
		}
	}
}

func WithRegistry(reg *events.Registry) Option {
	return func(r *Reader) {
		if reg != nil {
			r.types = reg
		}
	}
}

func WithLogger(logger zerolog.Logger) Option {
	return func(r *Reader) {
		r.logger = logger
	}
}

// WithBatchSizes overrides the concurrent read caps; non-positive values keep
// the defaults.
func WithBatchSizes(filtered, scan int) Option {
	return func(r *Reader) {
		if filtered > 0 {
			r.filteredBatch = filtered
		}
		if scan > 0 {
			r.scanBatch = scan
		}
	}
}

// Reader serves events from a store directory. It is safe for concurrent use.
type Reader struct {
	root          string
	layout        Layout
	loc           *time.Location
	types         *events.Registry
	logger        zerolog.Logger
	filteredBatch int
	scanBatch     int
}

// NewReader opens root, which must be an existing directory.
func NewReader(root string, opts ...Option) (*Reader, error) {
	st, err := os.Stat(root)
	if err != nil {
		return nil, err
	}
	if !st.IsDir() {
		return nil, fmt.Errorf("%w: %s", ErrNotDirectory, root)
	}
	r := &Reader{
		root:          filepath.Clean(root),
		layout:        LayoutNested,
		loc:           time.Local,
		types:         events.NewRegistry(),
		logger:        log.Logger,
		filteredBatch: DefaultFilteredBatchSize,
		scanBatch:     DefaultScanBatchSize,
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.With().Str("component", "reader").Str("root", r.root).Logger()
	return r, nil
}

func (r *Reader) Root() string {
	return r.root
}

func (r *Reader) Registry() *events.Registry {
	return r.types
}

// GetAllFor returns every event matching f.
//
// A date filter lists that day's directory, optionally keeping only the
// requested types. Types alone are resolved through the type indexes and
// sorted. With no filter the whole tree is scanned.
func (r *Reader) GetAllFor(ctx context.Context, f Filters) ([]events.Envelope, error) {
	started := time.Now()
	paths, mode, err := r.ResolvePaths(ctx, f)
	if err != nil {
		observability.RecordScan(mode, time.Since(started), false)
		return nil, err
	}
	size := r.filteredBatch
	if mode == ModeScan {
		size = r.scanBatch
	}
	out, err := ProcessBatch(ctx, paths, size, func(_ context.Context, path string) (events.Envelope, error) {
		return r.ReadEvent(path)
	})
	observability.RecordScan(mode, time.Since(started), err == nil)
	if err != nil {
		r.logger.Debug().Str("mode", mode).Int("paths", len(paths)).Err(err).Msg("read failed")
		return nil, err
	}
	return out, nil
}

// ResolvePaths lists the absolute file paths f selects, without reading them.
func (r *Reader) ResolvePaths(ctx context.Context, f Filters) ([]string, string, error) {
	for _, typeID := range f.EventTypes {
		if err := validFilterType(typeID); err != nil {
			return nil, "", err
		}
	}
	var (
		paths []string
		mode  string
		err   error
	)
	switch {
	case f.HasDate():
		mode = ModeDate
		paths, err = r.dayPaths(f.Date, f.EventTypes)
	case len(f.EventTypes) > 0:
		mode = ModeIndex
		paths, err = r.indexPaths(ctx, f.EventTypes)
	default:
		mode = ModeScan
		paths, err = r.scanPaths()
	}
	if err != nil {
		return nil, mode, err
	}
	r.logger.Debug().Str("mode", mode).Int("paths", len(paths)).Msg("resolved")
	return paths, mode, nil
}

func (r *Reader) dayPaths(date time.Time, types []string) ([]string, error) {
	dir := filepath.Join(r.root, filepath.FromSlash(dayPath(r.layout, date)))
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if len(types) > 0 && !slices.Contains(types, typeSuffix(entry.Name())) {
			continue
		}
		out = append(out, filepath.Join(dir, entry.Name()))
	}
	return out, nil
}

func (r *Reader) indexPaths(ctx context.Context, types []string) ([]string, error) {
	var out []string
	for _, typeID := range types {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		rels, err := readIndex(r.root, typeID)
		if err != nil {
			return nil, fmt.Errorf("storage: index %s: %w", typeID, err)
		}
		for _, rel := range rels {
			path := filepath.Join(r.root, filepath.FromSlash(rel))
			if !r.contains(path) {
				return nil, fmt.Errorf("%w: index %s lists an entry outside the root", ErrInvalidPath, typeID)
			}
			out = append(out, path)
		}
	}
	slices.Sort(out)
	return out, nil
}

// contains reports whether path resolves below the root.
func (r *Reader) contains(path string) bool {
	rel, err := filepath.Rel(r.root, path)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)) && !filepath.IsAbs(rel)
}

// validFilterType rejects type ids that cannot name a single index file.
func validFilterType(typeID string) error {
	if typeID == "" || typeID == "." || typeID == ".." ||
		strings.ContainsAny(typeID, `/\`) || filepath.Base(typeID) != typeID {
		return fmt.Errorf("%w: event type %q", ErrInvalidFilter, typeID)
	}
	return nil
}

func (r *Reader) scanPaths() ([]string, error) {
	matches, err := filepath.Glob(scanPattern(r.root, r.layout))
	if err != nil {
		return nil, err
	}
	out := matches[:0]
	for _, path := range matches {
		rel, err := filepath.Rel(r.root, path)
		if err != nil {
			return nil, err
		}
		top, _, _ := strings.Cut(filepath.ToSlash(rel), "/")
		if top == indexesDir {
			continue
		}
		out = append(out, path)
	}
	return out, nil
}

// ReadEvent reads and decodes one event file below the root.
func (r *Reader) ReadEvent(path string) (events.Envelope, error) {
	env, err := r.readEvent(path)
	observability.RecordFileRead(err == nil)
	return env, err
}

func (r *Reader) readEvent(path string) (events.Envelope, error) {
	if !r.contains(path) {
		return events.Envelope{}, fmt.Errorf("%w: %s is outside %s", ErrInvalidPath, path, r.root)
	}
	rel, err := filepath.Rel(r.root, path)
	if err != nil {
		return events.Envelope{}, err
	}
	created, typeID, err := ParseRelativePath(rel, r.loc)
	if err != nil {
		return events.Envelope{}, err
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return events.Envelope{}, err
	}
	eventJSON, metadataJSON, _ := bytes.Cut(content, []byte("\n"))
	eventJSON = bytes.TrimSuffix(eventJSON, []byte("\r"))

	payload, err := r.types.Decode(typeID, eventJSON)
	if err != nil {
		return events.Envelope{}, fmt.Errorf("storage: %s: %w", path, err)
	}
	metadata, err := events.DecodeMetadata(metadataJSON)
	if err != nil {
		return events.Envelope{}, fmt.Errorf("storage: %s: metadata: %w", path, err)
	}
	return events.Envelope{
		CreationTime: created,
		TypeID:       typeID,
		Event:        payload,
		Metadata:     metadata,
	}, nil
}
