package archive

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/dev-tams/archivekit/internal/storage/blob"
)

var testNow = time.Date(2026, 10, 16, 12, 0, 0, 0, time.UTC)

const day = 24 * time.Hour

func ts(age time.Duration) string {
	return testNow.Add(-age).UTC().Format(TimestampLayout)
}

func rec(id string, age time.Duration) Record {
	return Record{"itemId": id, "createdAt": ts(age), "title": "item " + id}
}

// fakeTable pages through its contents the way a table scan does: the page
// size bounds the items examined and the filter is applied per page.
type fakeTable struct {
	items        []Record
	pageSize     int
	scanErrAt    int
	failDeleteOn string

	cursors []Cursor
	deleted []string
}

func (f *fakeTable) Scan(_ context.Context, cutoff string, cursor Cursor) (Page, error) {
	f.cursors = append(f.cursors, cursor)
	if f.scanErrAt > 0 && len(f.cursors) == f.scanErrAt {
		return Page{}, errors.New("throughput exceeded")
	}

	start := 0
	if cursor != nil {
		start = cursor.(int)
	}
	size := f.pageSize
	if size <= 0 {
		size = len(f.items) + 1
	}
	end := start + size
	if end > len(f.items) {
		end = len(f.items)
	}

	var page Page
	for _, r := range f.items[start:end] {
		if r["createdAt"].(string) < cutoff {
			page.Records = append(page.Records, r)
		}
	}
	if end < len(f.items) {
		page.Next = end
	}
	return page, nil
}

func (f *fakeTable) Delete(_ context.Context, r Record) error {
	id := r["itemId"].(string)
	if id == f.failDeleteOn {
		return fmt.Errorf("conditional check failed for %s", id)
	}
	for i, it := range f.items {
		if it["itemId"] == id {
			f.items = append(f.items[:i], f.items[i+1:]...)
			break
		}
	}
	f.deleted = append(f.deleted, id)
	return nil
}

type fakeStore struct {
	status int
	err    error
	puts   []blob.Object
}

func (s *fakeStore) Name() string { return "fake" }

func (s *fakeStore) Put(_ context.Context, obj blob.Object, progress blob.ProgressFunc) (blob.Receipt, error) {
	s.puts = append(s.puts, obj)
	if s.err != nil {
		return blob.Receipt{}, s.err
	}
	if progress != nil {
		progress(int64(len(obj.Body)), int64(len(obj.Body)))
	}
	status := s.status
	if status == 0 {
		status = http.StatusOK
	}
	return blob.Receipt{Location: "fake://" + obj.Key, StatusCode: status, Bytes: int64(len(obj.Body))}, nil
}

func newTestJob(table Table, store *fakeStore, logger *zap.Logger) *Job {
	return NewJob(table, store, Options{
		MaxAge:       30 * day,
		KeyAttribute: "itemId",
		Now:          func() time.Time { return testNow },
	}, logger)
}

func archivedIDs(t *testing.T, obj blob.Object) []string {
	t.Helper()
	var got []Record
	require.NoError(t, json.Unmarshal(obj.Body, &got))
	ids := make([]string, 0, len(got))
	for _, r := range got {
		ids = append(ids, r["itemId"].(string))
	}
	return ids
}

func TestRunArchivesOnlyRecordsOlderThanCutoff(t *testing.T) {
	old := rec("day-45", 45*day)
	table := &fakeTable{items: []Record{old, rec("day-20", 20*day), rec("day-1", day)}}
	store := &fakeStore{}

	res, err := newTestJob(table, store, nil).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, OutcomeCompleted, res.Outcome)
	assert.True(t, res.OK())
	assert.NoError(t, res.Err())
	assert.Equal(t, 1, res.Selected)
	assert.Equal(t, 1, res.Archived)
	assert.Equal(t, 1, res.Deleted)
	assert.Equal(t, ts(30*day), res.Cutoff)
	assert.Equal(t, fmt.Sprintf("archive-%d.json", testNow.UnixMilli()), res.Key)

	require.Len(t, store.puts, 1)
	obj := store.puts[0]
	assert.Equal(t, res.Key, obj.Key)
	assert.Equal(t, "application/json", obj.ContentType)
	assert.True(t, strings.HasPrefix(string(obj.Body), "[\n  {\n    \""), "archive must be indented with two spaces")

	var archived []Record
	require.NoError(t, json.Unmarshal(obj.Body, &archived))
	assert.Equal(t, []Record{old}, archived)

	assert.Equal(t, []string{"day-45"}, table.deleted)
	assert.Len(t, table.items, 2)
}

func TestRunEmptyTableSkipsArchive(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	table := &fakeTable{}
	store := &fakeStore{}

	res, err := newTestJob(table, store, zap.New(core)).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, OutcomeEmpty, res.Outcome)
	assert.True(t, res.OK())
	assert.Len(t, table.cursors, 1, "only the first page is requested")
	assert.Empty(t, store.puts)
	assert.Empty(t, table.deleted)
	assert.Equal(t, 1, logs.FilterMessage("No items to archive.").Len())
}

func TestRunLogsSelectedItemIDsAtDebug(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	table := &fakeTable{items: []Record{rec("x", 40*day), rec("fresh", day), rec("y", 50*day)}}
	store := &fakeStore{}

	_, err := newTestJob(table, store, zap.New(core)).Run(context.Background())
	require.NoError(t, err)

	selected := logs.FilterMessage("selected items").All()
	require.Len(t, selected, 1)
	assert.Equal(t, zapcore.DebugLevel, selected[0].Level)
	fields := selected[0].ContextMap()
	assert.EqualValues(t, 2, fields["count"])
	assert.Equal(t, []any{"x", "y"}, fields["item_ids"])
}

func TestRunRecentRecordsOnlyIsNoop(t *testing.T) {
	table := &fakeTable{
		items:    []Record{rec("a", 29*day), rec("b", time.Hour), rec("c", 0)},
		pageSize: 2,
	}
	store := &fakeStore{}

	res, err := newTestJob(table, store, nil).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, OutcomeEmpty, res.Outcome)
	assert.Empty(t, store.puts)
	assert.Empty(t, table.deleted)
	assert.Len(t, table.cursors, 2)
}

func TestRunCutoffIsStrict(t *testing.T) {
	table := &fakeTable{items: []Record{
		rec("exactly-30", 30*day),
		rec("just-older", 30*day+time.Millisecond),
	}}
	store := &fakeStore{}

	res, err := newTestJob(table, store, nil).Run(context.Background())
	require.NoError(t, err)
	require.Len(t, store.puts, 1)
	assert.Equal(t, []string{"just-older"}, archivedIDs(t, store.puts[0]))
	assert.Equal(t, 1, res.Deleted)
}

func TestRunDrainsEveryPage(t *testing.T) {
	var items []Record
	var want []string
	for i := 0; i < 25; i++ {
		age := 40 * day
		if i%5 == 0 {
			age = 2 * day
		} else {
			want = append(want, fmt.Sprintf("item-%02d", i))
		}
		items = append(items, rec(fmt.Sprintf("item-%02d", i), age))
	}
	table := &fakeTable{items: items, pageSize: 4}
	store := &fakeStore{}

	res, err := newTestJob(table, store, nil).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []Cursor{nil, 4, 8, 12, 16, 20, 24}, table.cursors)
	require.Len(t, store.puts, 1)
	assert.Equal(t, want, archivedIDs(t, store.puts[0]))
	assert.Equal(t, len(want), res.Archived)
	assert.Equal(t, want, table.deleted)
}

func TestRunUploadStatusNotOKSkipsDeletes(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	table := &fakeTable{items: []Record{rec("a", 45*day), rec("b", 60*day)}}
	store := &fakeStore{status: http.StatusInternalServerError}

	res, err := newTestJob(table, store, zap.New(core)).Run(context.Background())
	require.NoError(t, err, "a rejected upload is reported through the outcome")

	assert.Equal(t, OutcomeUploadFailed, res.Outcome)
	assert.False(t, res.OK())
	assert.ErrorIs(t, res.Err(), ErrUploadRejected)
	assert.Equal(t, http.StatusInternalServerError, res.Receipt.StatusCode)
	assert.Zero(t, res.Archived)
	assert.Empty(t, table.deleted)
	assert.Len(t, table.items, 2)

	entries := logs.FilterMessage("failed to upload archive").All()
	require.Len(t, entries, 1)
	assert.Equal(t, zapcore.ErrorLevel, entries[0].Level)
	assert.Contains(t, entries[0].ContextMap(), "receipt")
}

func TestRunUploadErrorSkipsDeletes(t *testing.T) {
	table := &fakeTable{items: []Record{rec("a", 45*day)}}
	store := &fakeStore{err: errors.New("connection reset")}

	res, err := newTestJob(table, store, nil).Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection reset")
	assert.Equal(t, OutcomeFailed, res.Outcome)
	assert.Empty(t, table.deleted)
}

func TestRunScanErrorWritesNothing(t *testing.T) {
	table := &fakeTable{
		items:     []Record{rec("a", 45*day), rec("b", 45*day), rec("c", 45*day)},
		pageSize:  1,
		scanErrAt: 2,
	}
	store := &fakeStore{}

	res, err := newTestJob(table, store, nil).Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "scan page 2")
	assert.Equal(t, OutcomeFailed, res.Outcome)
	assert.Empty(t, store.puts)
	assert.Empty(t, table.deleted)
}

func TestRunDeleteFailureStopsLoop(t *testing.T) {
	table := &fakeTable{
		items:        []Record{rec("a", 45*day), rec("b", 45*day), rec("c", 45*day)},
		failDeleteOn: "b",
	}
	store := &fakeStore{}

	res, err := newTestJob(table, store, nil).Run(context.Background())
	require.Error(t, err)

	var derr *DeleteError
	require.ErrorAs(t, err, &derr)
	assert.Equal(t, "b", derr.ItemID)
	assert.Equal(t, 1, derr.Index)

	assert.Equal(t, OutcomePartiallyDeleted, res.Outcome)
	assert.Equal(t, 3, res.Archived)
	assert.Equal(t, 1, res.Deleted)
	assert.Equal(t, 2, res.Pending())
	assert.Error(t, res.Err())

	assert.Equal(t, []string{"a"}, table.deleted, "records after the failure are not attempted")
	assert.Equal(t, []string{"a", "b", "c"}, archivedIDs(t, store.puts[0]))
}

func TestRunTwiceAfterSuccessSelectsNothing(t *testing.T) {
	table := &fakeTable{items: []Record{rec("a", 45*day), rec("b", 10*day)}}
	store := &fakeStore{}
	job := newTestJob(table, store, nil)

	first, err := job.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, OutcomeCompleted, first.Outcome)

	second, err := job.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, OutcomeEmpty, second.Outcome)
	assert.Len(t, store.puts, 1)
}

func TestRunTwiceAfterPartialDeleteRearchivesLeftovers(t *testing.T) {
	table := &fakeTable{
		items:        []Record{rec("a", 45*day), rec("b", 45*day), rec("c", 45*day)},
		failDeleteOn: "b",
	}
	store := &fakeStore{}
	job := newTestJob(table, store, nil)

	_, err := job.Run(context.Background())
	require.Error(t, err)

	table.failDeleteOn = ""
	res, err := job.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, OutcomeCompleted, res.Outcome)
	require.Len(t, store.puts, 2)
	assert.Equal(t, []string{"b", "c"}, archivedIDs(t, store.puts[1]))
	assert.Empty(t, table.items)
}

func TestRunAppliesPrefixAndEncoding(t *testing.T) {
	table := &fakeTable{items: []Record{rec("a", 45*day)}}
	store := &fakeStore{}
	job := NewJob(table, store, Options{
		MaxAge: 30 * day,
		Prefix: "/items/",
		Encode: EncodeOptions{Compression: true, EncryptionPassword: "pw"},
		Now:    func() time.Time { return testNow },
	}, nil)

	res, err := job.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, fmt.Sprintf("items/archive-%d.json.gz.enc", testNow.UnixMilli()), res.Key)

	got, err := Decode(store.puts[0].Body, "pw")
	require.NoError(t, err)
	assert.Equal(t, []Record{rec("a", 45*day)}, got)
}
