package offline

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/huandu/go-sqlbuilder"

	"github.com/featstore/featstore-go/errors"
	"github.com/featstore/featstore-go/registry"
	"github.com/featstore/featstore-go/utils"
)

const pushLogTable = "featstore_push_log"

const createPushLogTable = `CREATE TABLE IF NOT EXISTS featstore_push_log (
	view_name VARCHAR(255) NOT NULL,
	entity_key VARCHAR(512) NOT NULL,
	event_time BIGINT NOT NULL,
	keys_json TEXT NOT NULL,
	values_json TEXT NOT NULL,
	PRIMARY KEY (view_name, entity_key, event_time)
)`

// SQLPushLog persists pushed rows in a relational table, one row per
// (view, entity key, event time). Appends run in one transaction and use
// insert-ignore, so replays and races insert nothing twice.
type SQLPushLog struct {
	db     *sql.DB
	flavor sqlbuilder.Flavor
}

func NewSQLPushLog(ctx context.Context, db *sql.DB, flavor sqlbuilder.Flavor) (*SQLPushLog, error) {
	if _, err := db.ExecContext(ctx, createPushLogTable); err != nil {
		return nil, errors.Wrap(err, "create push log table")
	}
	return &SQLPushLog{db: db, flavor: flavor}, nil
}

func (l *SQLPushLog) Append(ctx context.Context, view *registry.FeatureView, rows []Row) error {
	if len(rows) == 0 {
		return nil
	}
	keyNames := view.JoinKeyNames()

	// InsertIgnoreInto resolves its verb from the builder's own flavor, not
	// the one passed at build time.
	ib := l.flavor.NewInsertBuilder()
	ib.InsertIgnoreInto(pushLogTable)
	ib.Cols("view_name", "entity_key", "event_time", "keys_json", "values_json")
	for _, row := range rows {
		keysJSON, err := json.Marshal(row.Keys)
		if err != nil {
			return errors.Wrap(err, "encode push row keys")
		}
		valuesJSON, err := json.Marshal(row.Values)
		if err != nil {
			return errors.Wrap(err, "encode push row values")
		}
		ib.Values(view.Name, row.CanonicalKey(keyNames), row.EventTime.UnixNano(),
			string(keysJSON), string(valuesJSON))
	}
	query, args := ib.BuildWithFlavor(l.flavor)

	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "begin push log append")
	}
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		tx.Rollback()
		return errors.Wrap(err, "append to push log")
	}
	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, "commit push log append")
	}
	return nil
}

func (l *SQLPushLog) Fetch(ctx context.Context, view *registry.FeatureView, keys *KeySet, start, end time.Time) (RowSeq, error) {
	if keys != nil && keys.Len() == 0 {
		return RowSlice{}, nil
	}
	return &pushLogRowSeq{log: l, view: view, keys: keys, start: start, end: end}, nil
}

type pushLogRowSeq struct {
	log   *SQLPushLog
	view  *registry.FeatureView
	keys  *KeySet
	start time.Time
	end   time.Time
}

func (s *pushLogRowSeq) Each(ctx context.Context, fn func(Row) error) error {
	sb := sqlbuilder.NewSelectBuilder()
	sb.Select("event_time", "keys_json", "values_json")
	sb.From(pushLogTable)
	sb.Where(sb.Equal("view_name", s.view.Name))
	if !s.start.IsZero() {
		sb.Where(sb.GreaterEqualThan("event_time", s.start.UnixNano()))
	}
	if !s.end.IsZero() {
		sb.Where(sb.LessEqualThan("event_time", s.end.UnixNano()))
	}
	if s.keys != nil {
		canonical := make([]interface{}, 0, s.keys.Len())
		for _, k := range s.keys.CanonicalKeys() {
			canonical = append(canonical, k)
		}
		sb.Where(sb.In("entity_key", canonical...))
	}
	query, args := sb.BuildWithFlavor(s.log.flavor)

	rows, err := s.log.db.QueryContext(ctx, query, args...)
	if err != nil {
		return errors.NewSourceUnavailable(s.view.Source, err)
	}
	defer rows.Close()

	for rows.Next() {
		var nanos int64
		var keysJSON, valuesJSON string
		if err := rows.Scan(&nanos, &keysJSON, &valuesJSON); err != nil {
			return errors.NewSourceUnavailable(s.view.Source, err)
		}
		row, err := decodePushLogRow(s.view, nanos, keysJSON, valuesJSON)
		if err != nil {
			return err
		}
		if err := fn(row); err != nil {
			return err
		}
	}
	if err := rows.Err(); err != nil {
		return errors.NewSourceUnavailable(s.view.Source, err)
	}
	return nil
}

func decodePushLogRow(view *registry.FeatureView, nanos int64, keysJSON, valuesJSON string) (Row, error) {
	rawKeys, err := decodeLine([]byte(keysJSON))
	if err != nil {
		return Row{}, errors.Wrap(err, "decode push log keys")
	}
	rawValues, err := decodeLine([]byte(valuesJSON))
	if err != nil {
		return Row{}, errors.Wrap(err, "decode push log values")
	}
	row := Row{
		Keys:      make(map[string]interface{}, len(view.JoinKeys())),
		Values:    make(map[string]interface{}, len(view.Schema)),
		EventTime: time.Unix(0, nanos).UTC(),
	}
	for _, k := range view.JoinKeys() {
		v, err := utils.CoerceValue(rawKeys[k.Name], k.Type)
		if err != nil {
			return Row{}, errors.Wrapf(err, "push log join key %q", k.Name)
		}
		row.Keys[k.Name] = v
	}
	for _, f := range view.Schema {
		raw, ok := rawValues[f.Name]
		if !ok || raw == nil {
			row.Values[f.Name] = nil
			continue
		}
		v, err := utils.CoerceValue(raw, f.Type)
		if err != nil {
			return Row{}, errors.Wrapf(err, "push log field %q", f.Name)
		}
		row.Values[f.Name] = v
	}
	return row, nil
}
