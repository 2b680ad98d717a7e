package offline

import (
	"context"
	"database/sql"
	"time"

	"github.com/huandu/go-sqlbuilder"

	"github.com/featstore/featstore-go/constants"
	"github.com/featstore/featstore-go/errors"
	"github.com/featstore/featstore-go/registry"
)

// SQLAdapter reads a batch source from a relational table or subquery over a
// named connection. Each fetch runs one SELECT projecting the view's join
// keys, schema fields, and timestamp column.
type SQLAdapter struct {
	db     *sql.DB
	flavor sqlbuilder.Flavor
	source *registry.BatchSource
}

func NewSQLAdapter(db *sql.DB, flavor sqlbuilder.Flavor, source *registry.BatchSource) *SQLAdapter {
	return &SQLAdapter{db: db, flavor: flavor, source: source}
}

func (a *SQLAdapter) Fetch(ctx context.Context, view *registry.FeatureView, keys *KeySet, start, end time.Time) (RowSeq, error) {
	if keys != nil && keys.Len() == 0 {
		return RowSlice{}, nil
	}
	return &sqlRowSeq{adapter: a, view: view, keys: keys, start: start, end: end}, nil
}

type sqlRowSeq struct {
	adapter *SQLAdapter
	view    *registry.FeatureView
	keys    *KeySet
	start   time.Time
	end     time.Time
}

func (s *sqlRowSeq) Each(ctx context.Context, fn func(Row) error) error {
	a := s.adapter
	joinKeys := s.view.JoinKeys()
	schema := s.view.Schema
	ts := a.source.TimestampField

	sb := sqlbuilder.NewSelectBuilder()
	cols := make([]string, 0, len(joinKeys)+len(schema)+1)
	for _, k := range joinKeys {
		cols = append(cols, k.Name)
	}
	for _, f := range schema {
		cols = append(cols, f.Name)
	}
	cols = append(cols, ts)
	sb.Select(cols...)
	if a.source.Table != "" {
		sb.From(a.source.Table)
	} else {
		sb.From("(" + a.source.Query + ") featstore_query")
	}
	if !s.start.IsZero() {
		sb.Where(sb.GreaterEqualThan(ts, s.start))
	}
	if !s.end.IsZero() {
		sb.Where(sb.LessEqualThan(ts, s.end))
	}
	if s.keys != nil {
		sb.Where(keyPredicate(sb, joinKeys, s.keys))
	}
	query, args := sb.BuildWithFlavor(a.flavor)

	rows, err := a.db.QueryContext(ctx, query, args...)
	if err != nil {
		return errors.NewSourceUnavailable(a.source.Name, err)
	}
	defer rows.Close()

	targets := make([]interface{}, len(cols))
	for i, k := range joinKeys {
		targets[i] = scanTarget(k.Type)
	}
	for i, f := range schema {
		targets[len(joinKeys)+i] = scanTarget(f.Type)
	}
	targets[len(cols)-1] = new(sql.NullTime)

	for rows.Next() {
		if err := rows.Scan(targets...); err != nil {
			return errors.NewSourceUnavailable(a.source.Name, err)
		}
		row := Row{
			Keys:   make(map[string]interface{}, len(joinKeys)),
			Values: make(map[string]interface{}, len(schema)),
		}
		for i, k := range joinKeys {
			v := scannedValue(targets[i])
			if v == nil {
				return errors.Newf("source %q: null join key %q", a.source.Name, k.Name)
			}
			row.Keys[k.Name] = v
		}
		for i, f := range schema {
			row.Values[f.Name] = scannedValue(targets[len(joinKeys)+i])
		}
		et := targets[len(cols)-1].(*sql.NullTime)
		if !et.Valid {
			return errors.Newf("source %q: null timestamp column %q", a.source.Name, ts)
		}
		row.EventTime = et.Time.UTC()

		keep, err := runFilter(a.source, row)
		if err != nil {
			return err
		}
		if !keep {
			continue
		}
		if err := fn(row); err != nil {
			return err
		}
	}
	if err := rows.Err(); err != nil {
		return errors.NewSourceUnavailable(a.source.Name, err)
	}
	return nil
}

func keyPredicate(sb *sqlbuilder.SelectBuilder, joinKeys []registry.KeyField, keys *KeySet) string {
	if len(joinKeys) == 1 {
		values := make([]interface{}, 0, keys.Len())
		for _, tuple := range keys.Tuples() {
			values = append(values, tuple[0])
		}
		return sb.In(joinKeys[0].Name, values...)
	}
	ors := make([]string, 0, keys.Len())
	for _, tuple := range keys.Tuples() {
		ands := make([]string, len(joinKeys))
		for i, k := range joinKeys {
			ands[i] = sb.Equal(k.Name, tuple[i])
		}
		ors = append(ors, sb.And(ands...))
	}
	return sb.Or(ors...)
}

func scanTarget(t constants.FSType) interface{} {
	switch t {
	case constants.FS_INT64:
		return new(sql.NullInt64)
	case constants.FS_DOUBLE:
		return new(sql.NullFloat64)
	case constants.FS_BOOLEAN:
		return new(sql.NullBool)
	case constants.FS_TIMESTAMP:
		return new(sql.NullTime)
	default:
		return new(sql.NullString)
	}
}

func scannedValue(target interface{}) interface{} {
	switch v := target.(type) {
	case *sql.NullInt64:
		if v.Valid {
			return v.Int64
		}
	case *sql.NullFloat64:
		if v.Valid {
			return v.Float64
		}
	case *sql.NullBool:
		if v.Valid {
			return v.Bool
		}
	case *sql.NullTime:
		if v.Valid {
			return v.Time.UTC()
		}
	case *sql.NullString:
		if v.Valid {
			return v.String
		}
	}
	return nil
}
