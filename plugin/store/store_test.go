package store

import (
	"context"
	"github.com/hashicorp/go-hclog"
	"github.com/saylorsolutions/logsift/pkg/entries"
	"github.com/saylorsolutions/logsift/pkg/iterator"
	"github.com/saylorsolutions/logsift/plugin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"path/filepath"
	"testing"
)

func TestSqliteStore_Sink(t *testing.T) {
	events := []*entries.Event{
		entries.NewEvent("", entries.LogEntry{
			"A":           "A",
			"other-field": "value",
		}),
		entries.NewEvent("", entries.LogEntry{
			"A": "A",
			"B": 2,
		}),
		entries.NewEvent("not structured", nil),
	}
	log := hclog.Default()
	log.SetLevel(hclog.Debug)
	store := _tempStore(t, log)

	sink, err := store.OpenTable(context.Background(), "test")
	require.NoError(t, err)
	for _, ev := range events {
		require.NoError(t, sink.Store(ev))
	}
	require.NoError(t, sink.Close())
	assert.ErrorIs(t, sink.Store(events[0]), ErrClosed)

	iter, err := store.QueryEntries(context.Background(), "test")
	require.NoError(t, err)
	lines, err := iterator.Collect(iter)
	require.NoError(t, err)
	require.Len(t, lines, 3)
	assert.Equal(t, `{"A":"A","evt_id":1,"other-field":"value"}`, lines[0].Text)
	assert.Equal(t, `{"A":"A","B":"2","evt_id":2}`, lines[1].Text)
	assert.Equal(t, `{"evt_id":3,"raw":"not structured"}`, lines[2].Text)
	assert.Equal(t, "test", lines[2].Filename)
	assert.Equal(t, 3, lines[2].Num)
}

func TestSqliteStore_Reopen(t *testing.T) {
	store := _tempStore(t, hclog.NewNullLogger())
	for i := 0; i < 2; i++ {
		sink, err := store.OpenTable(context.Background(), "test")
		require.NoError(t, err)
		require.NoError(t, sink.Store(entries.NewEvent("", entries.LogEntry{"run": i})))
		require.NoError(t, sink.Close())
	}
	iter, err := store.QueryEntries(context.Background(), "test")
	require.NoError(t, err)
	lines, err := iterator.Collect(iter)
	require.NoError(t, err)
	assert.Len(t, lines, 2, "Existing rows should be kept")
}

func TestSqliteStore_BadTable(t *testing.T) {
	store := _tempStore(t, hclog.NewNullLogger())
	_, err := store.OpenTable(context.Background(), "drop table x;")
	assert.ErrorIs(t, err, ErrBadTable)
	_, err = store.QueryEntries(context.Background(), "a b")
	assert.ErrorIs(t, err, ErrBadTable)
}

func TestPlugin(t *testing.T) {
	p := Plugin(hclog.NewNullLogger())
	reg := plugin.NewRegistration(p)
	file := filepath.Join(t.TempDir(), "events.db")

	sinkFn, _, ok := reg.Sink("sqlite")
	require.True(t, ok)
	_, err := sinkFn(context.Background(), plugin.Args{})
	assert.ErrorIs(t, err, plugin.ErrArgs)

	sink, err := sinkFn(context.Background(), plugin.Args{"file": file})
	require.NoError(t, err)
	require.NoError(t, sink.Store(entries.NewEvent("", entries.LogEntry{"msg": "hello"})))
	require.NoError(t, sink.Close())

	srcFn, _, ok := reg.Source("sqlite")
	require.True(t, ok)
	iter, err := srcFn(context.Background(), DefaultTable, plugin.Args{"file": file})
	require.NoError(t, err)
	lines, err := iterator.Collect(iter)
	require.NoError(t, err)
	require.Len(t, lines, 1)
	assert.Equal(t, `{"evt_id":1,"msg":"hello"}`, lines[0].Text)

	assert.NoError(t, p.Stopping())
}

func _tempStore(t *testing.T, log hclog.Logger) *SqliteStore {
	td := t.TempDir()
	t.Log("Using temp store:", td)
	store, err := NewStore(log, filepath.Join(td, "store.db"))
	require.NoError(t, err, "Failed to create new store")
	t.Cleanup(func() {
		if err := store.Close(); err != nil {
			t.Error("Failed to close DB")
		}
	})
	return store
}
