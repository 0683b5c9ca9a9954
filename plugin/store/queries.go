package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"github.com/hashicorp/go-hclog"
	"github.com/saylorsolutions/logsift/pkg/entries"
	"github.com/saylorsolutions/logsift/pkg/iterator"
)

const (
	idColumn    = "evt_id"
	createTable = `
create table if not exists %s (
	evt_id integer primary key
)`
)

var (
	ErrUnexpectedColumnType = errors.New("unexpected column type")
)

// QueryEntries reads all rows of table in insertion order.
// Each row is produced as a line holding its JSON document, so stored events can be read back with the json input
// format. Null columns are left out of the document.
func (s *SqliteStore) QueryEntries(ctx context.Context, table string) (iterator.Iterator, error) {
	if !tablePattern.MatchString(table) {
		return nil, fmt.Errorf("%w: %s", ErrBadTable, table)
	}
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf("select * from %s order by %s", table, idColumn))
	if err != nil {
		return nil, err
	}
	return newQueryIterator(s.log, rows, table)
}

func newQueryIterator(log hclog.Logger, rows *sql.Rows, table string) (iterator.Iterator, error) {
	cols, err := rows.Columns()
	if err != nil {
		log.Error("Failed to query parameters", "error", err)
		_ = rows.Close()
		return nil, err
	}
	var rowNum int

	if len(cols) == 0 {
		_ = rows.Close()
		return iterator.Empty(), nil
	}

	return iterator.Func(func() (iterator.Line, int, error) {
		if !rows.Next() {
			err := rows.Err()
			_ = rows.Close()
			if err != nil {
				return iterator.Err(err)
			}
			return iterator.End()
		}
		rowNum++
		var rowID int64
		vals := make([]any, len(cols))
		for i := range vals {
			if cols[i] == idColumn {
				vals[i] = &rowID
				continue
			}
			vals[i] = &sql.NullString{}
		}
		if err := rows.Scan(vals...); err != nil {
			_ = rows.Close()
			return iterator.Err(err)
		}

		entry := entries.LogEntry{}
		for i, v := range vals {
			switch s := v.(type) {
			case *sql.NullString:
				if s.Valid {
					entry[cols[i]] = s.String
				}
			case *int64:
				entry[cols[i]] = *s
			default:
				_ = rows.Close()
				return iterator.Err(fmt.Errorf("%w: %T", ErrUnexpectedColumnType, v))
			}
		}
		data, err := json.Marshal(entry)
		if err != nil {
			_ = rows.Close()
			return iterator.Err(err)
		}
		return iterator.Line{
			Text:     string(data),
			Num:      rowNum,
			Filename: table,
		}, rowNum - 1, nil
	}), nil
}
