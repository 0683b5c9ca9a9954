package store

import (
	"context"
	"errors"
	"fmt"
	"github.com/hashicorp/go-hclog"
	"github.com/saylorsolutions/logsift/pkg/iterator"
	"github.com/saylorsolutions/logsift/pkg/pipeline"
	"github.com/saylorsolutions/logsift/plugin"
	"strings"
	"sync"
)

const (
	DefaultTable = "events"
)

func Plugin(log hclog.Logger) plugin.Plugin {
	return &sqlitePlugin{
		log:        log,
		storeCache: map[string]*SqliteStore{},
	}
}

type sqlitePlugin struct {
	mux        sync.Mutex
	log        hclog.Logger
	storeCache map[string]*SqliteStore
}

func (p *sqlitePlugin) ID() string {
	return "sqlite"
}

func (p *sqlitePlugin) Stopping() error {
	p.mux.Lock()
	defer p.mux.Unlock()
	var errs []error
	for file, store := range p.storeCache {
		if err := store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("%w: file: %s", err, file))
		}
		delete(p.storeCache, file)
	}
	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("error closing SQLite plugin: %w", errors.Join(errs...))
}

func (p *sqlitePlugin) store(file string) (*SqliteStore, error) {
	p.mux.Lock()
	defer p.mux.Unlock()
	store, ok := p.storeCache[file]
	if !ok {
		_store, err := NewStore(p.log, file)
		if err != nil {
			return nil, err
		}
		store = _store
		p.storeCache[file] = _store
	}
	return store, nil
}

func tableArg(args plugin.Args) string {
	if table, ok := args.String("table"); ok {
		return strings.TrimSpace(table)
	}
	return DefaultTable
}

func (p *sqlitePlugin) Register(reg *plugin.Registration) {
	reg.RegisterSource("sqlite", func(ctx context.Context, table string, args plugin.Args) (iterator.Iterator, error) {
		file, err := args.Require("file")
		if err != nil {
			return nil, err
		}
		store, err := p.store(file)
		if err != nil {
			return nil, err
		}
		if table = strings.TrimSpace(table); table == "" {
			table = DefaultTable
		}
		return store.QueryEntries(ctx, table)
	})
	reg.DocumentSource("sqlite", `sqlite [TABLE_NAME] file=FILE_NAME

This source will query all rows from a table and produce each row as a JSON document on a single line.
It's meant to read back events stored by the sqlite sink, using the json input format. TABLE_NAME is "events" by default.`)
	reg.RegisterSink("sqlite", func(ctx context.Context, args plugin.Args) (pipeline.RecordSink, error) {
		file, err := args.Require("file")
		if err != nil {
			return nil, err
		}
		store, err := p.store(file)
		if err != nil {
			return nil, err
		}
		return store.OpenTable(ctx, tableArg(args))
	})
	reg.DocumentSink("sqlite", `sqlite file=FILE_NAME [table=TABLE_NAME]

This sink will land all surviving events into the SQLite database table specified, "events" by default. The TABLE_NAME argument may be prefixed with a schema name like "my_schema.my_table".
If the table does not exist, then it will be created with an integer primary key column called evt_id. Table columns will be created as needed, one for each event field.
This means that the table may trend toward being sparsely populated if the input events are largely heterogeneous.`)
}
