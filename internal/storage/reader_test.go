package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/danmuck/goes/internal/events"
	"github.com/danmuck/goes/internal/testutil/testlog"
	"github.com/stretchr/testify/require"
)

type MyEvent struct {
	Abc int `json:"abc"`
}

func writeEvent(t *testing.T, root, rel, content string) string {
	t.Helper()
	path := filepath.Join(root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func writeIndex(t *testing.T, root, typeID string, rels ...string) {
	t.Helper()
	writeEvent(t, root, "indexes/types/"+typeID, strings.Join(rels, "\r\n")+"\r\n")
}

func newTestReader(t *testing.T, root string, opts ...Option) *Reader {
	t.Helper()
	opts = append([]Option{WithLocation(time.UTC)}, opts...)
	r, err := NewReader(root, opts...)
	require.NoError(t, err)
	return r
}

func typeIDs(envs []events.Envelope) []string {
	out := make([]string, 0, len(envs))
	for _, env := range envs {
		out = append(out, env.TypeID)
	}
	return out
}

func TestParseRelativePath(t *testing.T) {
	testlog.Start(t)
	want := time.Date(2021, time.January, 5, 23, 59, 59, 123*int(time.Millisecond), time.UTC)
	for _, rel := range []string{
		"/2021/01/05/235959123000000_MyEvent",
		"/202101/05/235959123000000_MyEvent",
		"2021/01/05/235959123456789_MyEvent",
	} {
		created, typeID, err := ParseRelativePath(rel, time.UTC)
		require.NoError(t, err, rel)
		require.True(t, created.Equal(want), "%s: got %s", rel, created)
		require.Equal(t, "MyEvent", typeID)
	}

	_, typeID, err := ParseRelativePath("/2021/01/05/235959123000000_Order_Placed", time.UTC)
	require.NoError(t, err)
	require.Equal(t, "Order_Placed", typeID)

	for _, bad := range []string{
		"/2021/01/05/235959_MyEvent",
		"/2021/01/05/235959123000000MyEvent",
		"/2021/13/05/235959123000000_MyEvent",
		"/2021/02/31/235959123000000_MyEvent",
		"/202104/31/235959123000000_MyEvent",
		"/indexes/types/MyEvent",
	} {
		_, _, err := ParseRelativePath(bad, time.UTC)
		require.ErrorIs(t, err, ErrInvalidPath, bad)
	}
}

func TestRelativePathInvertsParse(t *testing.T) {
	testlog.Start(t)
	created := time.Date(2024, time.March, 9, 7, 8, 9, 42_000_000, time.UTC)
	for _, layout := range []Layout{LayoutNested, LayoutMonthly} {
		rel := RelativePath(layout, created, "Thing")
		got, typeID, err := ParseRelativePath(rel, time.UTC)
		require.NoError(t, err, rel)
		require.True(t, got.Equal(created), "%s: got %s", rel, got)
		require.Equal(t, "Thing", typeID)
	}
	require.Equal(t, "/2024/03/09/070809042000000_Thing", RelativePath(LayoutNested, created, "Thing"))
	require.Equal(t, "/202403/09/070809042000000_Thing", RelativePath(LayoutMonthly, created, "Thing"))
}

func TestParseLayout(t *testing.T) {
	testlog.Start(t)
	l, err := ParseLayout("")
	require.NoError(t, err)
	require.Equal(t, LayoutNested, l)
	l, err = ParseLayout("Monthly")
	require.NoError(t, err)
	require.Equal(t, LayoutMonthly, l)
	_, err = ParseLayout("flat")
	require.Error(t, err)
}

func TestNewReaderRequiresDirectory(t *testing.T) {
	testlog.Start(t)
	root := t.TempDir()
	file := writeEvent(t, root, "plain", "x")
	_, err := NewReader(file)
	require.ErrorIs(t, err, ErrNotDirectory)
	_, err = NewReader(filepath.Join(root, "missing"))
	require.ErrorIs(t, err, fs.ErrNotExist)
}

func TestReadEventContent(t *testing.T) {
	testlog.Start(t)
	root := t.TempDir()
	typed := writeEvent(t, root, "2021/01/05/235959123000000_MyEvent", `{"abc":123}`+"\r\n"+`{"by":"test"}`)
	bare := writeEvent(t, root, "2021/01/05/235959124000000_Unregistered", `{"x":1}`)

	r := newTestReader(t, root)
	require.NoError(t, events.Register[MyEvent](r.Registry(), ""))

	env, err := r.ReadEvent(typed)
	require.NoError(t, err)
	require.Equal(t, MyEvent{Abc: 123}, env.Event)
	require.Equal(t, "test", env.Metadata["by"])
	require.Equal(t, time.Date(2021, 1, 5, 23, 59, 59, 123_000_000, time.UTC), env.CreationTime)

	env, err = r.ReadEvent(bare)
	require.NoError(t, err)
	require.Equal(t, "Unregistered", env.TypeID)
	u, ok := env.Event.(events.Untyped)
	require.True(t, ok, "expected untyped payload, got %T", env.Event)
	require.Equal(t, "Unregistered", u.TypeID)
	require.Equal(t, float64(1), u.Fields()["x"])
	require.NotNil(t, env.Metadata)
	require.Empty(t, env.Metadata)
}

func TestGetAllForDate(t *testing.T) {
	testlog.Start(t)
	root := t.TempDir()
	writeEvent(t, root, "2021/01/05/100000000000000_A", `{}`)
	writeEvent(t, root, "2021/01/05/110000000000000_B", `{}`)
	writeEvent(t, root, "2021/01/05/120000000000000_A", `{}`)
	writeEvent(t, root, "2021/01/06/100000000000000_A", `{}`)
	r := newTestReader(t, root)
	ctx := context.Background()
	day := time.Date(2021, 1, 5, 0, 0, 0, 0, time.UTC)

	all, err := r.GetAllFor(ctx, Filters{Date: day})
	require.NoError(t, err)
	require.Equal(t, []string{"A", "B", "A"}, typeIDs(all))

	onlyB, err := r.GetAllFor(ctx, Filters{Date: day, EventTypes: []string{"B"}})
	require.NoError(t, err)
	require.Equal(t, []string{"B"}, typeIDs(onlyB))

	_, err = r.GetAllFor(ctx, Filters{Date: time.Date(2021, 2, 1, 0, 0, 0, 0, time.UTC)})
	require.ErrorIs(t, err, fs.ErrNotExist)
}

func TestGetAllForDateMonthlyLayout(t *testing.T) {
	testlog.Start(t)
	root := t.TempDir()
	writeEvent(t, root, "202101/05/100000000000000_A", `{}`)
	r := newTestReader(t, root, WithLayout(LayoutMonthly))
	got, err := r.GetAllFor(context.Background(), Filters{Date: time.Date(2021, 1, 5, 0, 0, 0, 0, time.UTC)})
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, 2021, got[0].CreationTime.Year())
}

func TestGetAllForTypesUsesIndexes(t *testing.T) {
	testlog.Start(t)
	root := t.TempDir()
	writeEvent(t, root, "2021/01/05/100000000000000_A", `{"n":1}`)
	writeEvent(t, root, "2021/01/04/100000000000000_A", `{"n":0}`)
	writeEvent(t, root, "2021/01/05/110000000000000_B", `{"n":2}`)
	writeEvent(t, root, "2021/01/05/120000000000000_A", `{"n":3}`) // not indexed
	writeIndex(t, root, "A", "2021/01/05/100000000000000_A", "2021/01/04/100000000000000_A")
	writeIndex(t, root, "B", "2021/01/05/110000000000000_B")
	r := newTestReader(t, root)

	got, err := r.GetAllFor(context.Background(), Filters{EventTypes: []string{"B", "A", "Missing"}})
	require.NoError(t, err)
	require.Equal(t, []string{"A", "A", "B"}, typeIDs(got))
	require.True(t, got[0].CreationTime.Before(got[1].CreationTime), "index paths are sorted")

	none, err := r.GetAllFor(context.Background(), Filters{EventTypes: []string{"Missing"}})
	require.NoError(t, err)
	require.Empty(t, none)
}

func TestTypeFilterStaysInsideRoot(t *testing.T) {
	testlog.Start(t)
	dir := t.TempDir()
	root := filepath.Join(dir, "store")
	writeEvent(t, root, "2021/01/05/100000000000000_A", `{"n":1}`)
	writeEvent(t, dir, "secret.txt", "db_password=hunter2\n")
	r := newTestReader(t, root)

	for _, bad := range []string{"../../../secret.txt", "..", ".", "", "a/b", `a\b`} {
		for _, f := range []Filters{
			{EventTypes: []string{bad}},
			{EventTypes: []string{"A", bad}, Date: time.Date(2021, 1, 5, 0, 0, 0, 0, time.UTC)},
		} {
			_, err := r.GetAllFor(context.Background(), f)
			require.ErrorIs(t, err, ErrInvalidFilter, "%q", bad)
			require.NotContains(t, err.Error(), "hunter2")
		}
	}

	writeIndex(t, root, "Leaky", "../secret.txt")
	_, err := r.GetAllFor(context.Background(), Filters{EventTypes: []string{"Leaky"}})
	require.ErrorIs(t, err, ErrInvalidPath)
	require.NotContains(t, err.Error(), "hunter2")
}

func TestIndexReadErrorOtherThanMissingFails(t *testing.T) {
	testlog.Start(t)
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "indexes", "types", "Broken"), 0o755))
	r := newTestReader(t, root)
	_, err := r.GetAllFor(context.Background(), Filters{EventTypes: []string{"Broken"}})
	require.Error(t, err)
}

func TestFullScanSkipsIndexes(t *testing.T) {
	testlog.Start(t)
	root := t.TempDir()
	writeEvent(t, root, "2021/01/05/100000000000000_A", `{}`)
	writeEvent(t, root, "2022/12/31/235959999999999_B", `{}`)
	writeIndex(t, root, "A", "2021/01/05/100000000000000_A")
	writeEvent(t, root, "indexes/types/deep/X", "")

	r := newTestReader(t, root)
	got, err := r.GetAllFor(context.Background(), Filters{})
	require.NoError(t, err)
	require.Equal(t, []string{"A", "B"}, typeIDs(got))

	again, err := r.GetAllFor(context.Background(), Filters{})
	require.NoError(t, err)
	require.Equal(t, got, again)
}

func TestFullScanMonthlyLayout(t *testing.T) {
	testlog.Start(t)
	root := t.TempDir()
	writeEvent(t, root, "202101/05/100000000000000_A", `{}`)
	writeEvent(t, root, "202101/06/100000000000000_B", `{}`)
	writeIndex(t, root, "A", "202101/05/100000000000000_A")

	r := newTestReader(t, root, WithLayout(LayoutMonthly))
	got, err := r.GetAllFor(context.Background(), Filters{})
	require.NoError(t, err)
	require.Equal(t, []string{"A", "B"}, typeIDs(got))
}

func TestPartialFailureReadsEverything(t *testing.T) {
	testlog.Start(t)
	root := t.TempDir()
	base := time.Date(2021, 1, 5, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 1000; i++ {
		content := fmt.Sprintf(`{"n":%d}`, i)
		if i == 10 || i == 500 || i == 999 {
			content = `{not json`
		}
		writeEvent(t, root, RelativePath(LayoutNested, base.Add(time.Duration(i)*time.Second), "E"), content)
	}
	r := newTestReader(t, root, WithBatchSizes(64, 64))
	_, err := r.GetAllFor(context.Background(), Filters{})
	var batchErr *BatchError
	require.ErrorAs(t, err, &batchErr)
	require.Equal(t, 3, batchErr.Failed)
	require.Equal(t, 1000, batchErr.Total)
	require.ErrorIs(t, err, events.ErrDecodeFailed)
}

func TestProcessBatchBoundsConcurrency(t *testing.T) {
	testlog.Start(t)
	items := make([]int, 103)
	for i := range items {
		items[i] = i
	}
	var inFlight, peak atomic.Int64
	got, err := ProcessBatch(context.Background(), items, 10, func(_ context.Context, n int) (int, error) {
		cur := inFlight.Add(1)
		for {
			old := peak.Load()
			if cur <= old || peak.CompareAndSwap(old, cur) {
				break
			}
		}
		time.Sleep(time.Millisecond)
		inFlight.Add(-1)
		return n * 2, nil
	})
	require.NoError(t, err)
	require.LessOrEqual(t, peak.Load(), int64(10))
	require.Len(t, got, len(items))
	for i, v := range got {
		require.Equal(t, i*2, v)
	}
}

func TestProcessBatchStopsOnCancel(t *testing.T) {
	testlog.Start(t)
	ctx, cancel := context.WithCancel(context.Background())
	var calls atomic.Int64
	_, err := ProcessBatch(ctx, make([]int, 20), 5, func(context.Context, int) (int, error) {
		if calls.Add(1) == 5 {
			cancel()
		}
		return 0, nil
	})
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, int64(5), calls.Load())
}

func TestProcessBatchReportsFirstFailure(t *testing.T) {
	testlog.Start(t)
	boom := errors.New("boom")
	var calls atomic.Int64
	_, err := ProcessBatch(context.Background(), []int{0, 1, 2, 3, 4, 5}, 2, func(_ context.Context, n int) (int, error) {
		calls.Add(1)
		if n == 1 {
			return 0, boom
		}
		return n, nil
	})
	require.ErrorIs(t, err, boom)
	require.Equal(t, int64(6), calls.Load())
}
