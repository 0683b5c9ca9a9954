package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"github.com/hashicorp/go-hclog"
	"github.com/saylorsolutions/logsift/pkg/entries"
	"github.com/saylorsolutions/logsift/pkg/pipeline"
	_ "modernc.org/sqlite"
	"regexp"
	"strings"
	"sync"
)

const (
	rawColumn = "raw"
)

var (
	tablePattern = regexp.MustCompile(`^[\w\d]+(\.[\w\d]+)?$`)
	ErrBadTable  = errors.New("invalid table name")
	ErrClosed    = errors.New("sink is closed")
)

// SqliteStore is a store for events using Sqlite3 as a storage engine.
type SqliteStore struct {
	db  *sql.DB
	log hclog.Logger
}

func NewStore(log hclog.Logger, filename string) (*SqliteStore, error) {
	db, err := sql.Open("sqlite", filename)
	if err != nil {
		return nil, err
	}
	log = log.Named("sqlite-event-store")
	return &SqliteStore{
		db:  db,
		log: log,
	}, nil
}

func (s *SqliteStore) Close() error {
	return s.db.Close()
}

var _ pipeline.RecordSink = (*TableSink)(nil)

// TableSink lands events as rows of one table within a single transaction.
// Columns are added as new fields are discovered, so heterogeneous events make for a sparsely populated table.
type TableSink struct {
	mux    sync.Mutex
	log    hclog.Logger
	ctx    context.Context
	conn   *sql.Conn
	tx     *sql.Tx
	table  string
	colMap map[string]bool
	stored int
}

// OpenTable creates the table if necessary and returns a TableSink writing to it.
// The table name may be prefixed with a schema name like "my_schema.my_table".
// Rows stored through the sink are committed when it's closed.
func (s *SqliteStore) OpenTable(ctx context.Context, table string) (*TableSink, error) {
	if !tablePattern.MatchString(table) {
		return nil, fmt.Errorf("%w: %s", ErrBadTable, table)
	}
	log := s.log.With("table", table).Named("sink")
	log.Debug("Establishing connection")
	conn, err := s.db.Conn(ctx)
	if err != nil {
		return nil, err
	}
	log.Debug("Ensuring the specified table is present")
	if err := ensureTable(ctx, conn, table); err != nil {
		_ = conn.Close()
		return nil, err
	}
	log.Debug("Getting table columns")
	cols, err := getTableColumns(ctx, conn, table)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	colMap := map[string]bool{}
	for _, c := range cols {
		colMap[c] = true
	}
	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	return &TableSink{
		log:    log,
		ctx:    ctx,
		conn:   conn,
		tx:     tx,
		table:  table,
		colMap: colMap,
	}, nil
}

// Store inserts ev as a new row. Every field is stored as text, and an event without fields stores its raw text.
func (t *TableSink) Store(ev *entries.Event) error {
	t.mux.Lock()
	defer t.mux.Unlock()
	if t.tx == nil {
		return ErrClosed
	}
	fields := ev.Fields
	if len(fields) == 0 {
		fields = entries.LogEntry{rawColumn: ev.Raw}
	}
	intoFields := fields.Keys()
	for _, k := range intoFields {
		if t.colMap[k] {
			continue
		}
		t.log.Debug("New field discovered, adding to table", "field", k)
		if err := addColumn(t.ctx, t.tx, t.table, k); err != nil {
			t.log.Error("Failed to add field to table", "field", k, "error", err)
			return err
		}
		t.colMap[k] = true
	}

	var (
		intoStr strings.Builder
		params  strings.Builder
		args    = make([]any, len(intoFields))
	)
	for i, f := range intoFields {
		if i > 0 {
			intoStr.WriteString(",")
			params.WriteString(",")
		}
		intoStr.WriteString(quoteIdent(f))
		params.WriteString("?")
		if v := fields[f]; v != nil {
			args[i] = entries.ToString(v)
		}
	}
	query := fmt.Sprintf("insert into %s (%s) values (%s)", t.table, intoStr.String(), params.String())
	if _, err := t.tx.ExecContext(t.ctx, query, args...); err != nil {
		t.log.Error("Failed to insert into table", "error", err)
		return err
	}
	t.stored++
	return nil
}

// Close commits the stored rows and releases the connection.
func (t *TableSink) Close() error {
	t.mux.Lock()
	defer t.mux.Unlock()
	if t.tx == nil {
		return nil
	}
	err := t.tx.Commit()
	t.tx = nil
	if cerr := t.conn.Close(); err == nil {
		err = cerr
	}
	t.log.Debug("Sink closed", "rows", t.stored)
	return err
}

func ensureTable(ctx context.Context, conn *sql.Conn, table string) error {
	_, err := conn.ExecContext(ctx, fmt.Sprintf(createTable, table))
	return err
}

func getTableColumns(ctx context.Context, conn *sql.Conn, table string) ([]string, error) {
	rows, err := conn.QueryContext(ctx, "select * from "+table+" limit 0")
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = rows.Close()
	}()
	return rows.Columns()
}

func addColumn(ctx context.Context, tx *sql.Tx, table string, colName string) error {
	_, err := tx.ExecContext(ctx, fmt.Sprintf("alter table %s add column %s text null", table, quoteIdent(colName)))
	return err
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
