package online

import (
	"context"
	"database/sql"
	"time"

	"github.com/huandu/go-sqlbuilder"

	"github.com/featstore/featstore-go/errors"
	"github.com/featstore/featstore-go/registry"
)

const onlineTable = "featstore_online"

const createOnlineTable = `CREATE TABLE IF NOT EXISTS featstore_online (
	view_name VARCHAR(255) NOT NULL,
	entity_key VARCHAR(512) NOT NULL,
	event_time BIGINT NOT NULL,
	payload TEXT NOT NULL,
	PRIMARY KEY (view_name, entity_key)
)`

// The conditional upsert carries the replacement rule into the database so
// concurrent writers cannot regress a newer record.
const upsertConflictSQL = `INSERT INTO featstore_online (view_name, entity_key, event_time, payload)
VALUES ($?, $?, $?, $?)
ON CONFLICT (view_name, entity_key) DO UPDATE
SET event_time = excluded.event_time, payload = excluded.payload
WHERE excluded.event_time > featstore_online.event_time`

// MySQL has no conditional upsert clause; the IF on payload must run before
// event_time is assigned because assignments apply left to right.
const upsertDuplicateSQL = `INSERT INTO featstore_online (view_name, entity_key, event_time, payload)
VALUES ($?, $?, $?, $?)
ON DUPLICATE KEY UPDATE
payload = IF(VALUES(event_time) > event_time, VALUES(payload), payload),
event_time = IF(VALUES(event_time) > event_time, VALUES(event_time), event_time)`

// SQLStore keeps one row per (view, entity key) with a JSON payload column,
// for deployments that want the online store inside the database they
// already operate.
type SQLStore struct {
	db     *sql.DB
	flavor sqlbuilder.Flavor
}

func NewSQLStore(ctx context.Context, db *sql.DB, flavor sqlbuilder.Flavor) (*SQLStore, error) {
	if _, err := db.ExecContext(ctx, createOnlineTable); err != nil {
		return nil, errors.Wrap(err, "create online table")
	}
	return &SQLStore{db: db, flavor: flavor}, nil
}

func (s *SQLStore) upsertSQL() string {
	if s.flavor == sqlbuilder.MySQL {
		return upsertDuplicateSQL
	}
	return upsertConflictSQL
}

func (s *SQLStore) Upsert(ctx context.Context, view *registry.FeatureView, records []Record) error {
	if len(records) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "begin online upsert")
	}
	for _, rec := range records {
		payload, err := EncodeJSON(view, rec.Values)
		if err != nil {
			tx.Rollback()
			return errors.Wrapf(err, "encode record for view %q", view.Name)
		}
		query, args := sqlbuilder.Build(s.upsertSQL(),
			view.Name, rec.Key, rec.EventTime.UnixNano(), string(payload)).
			BuildWithFlavor(s.flavor)
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			tx.Rollback()
			return errors.Wrapf(err, "upsert to view %q", view.Name)
		}
	}
	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, "commit online upsert")
	}
	return nil
}

func (s *SQLStore) Get(ctx context.Context, view *registry.FeatureView, keys []string) (map[string]Record, error) {
	out := make(map[string]Record, len(keys))
	if len(keys) == 0 {
		return out, nil
	}
	keyArgs := make([]interface{}, len(keys))
	for i, k := range keys {
		keyArgs[i] = k
	}
	sb := sqlbuilder.NewSelectBuilder()
	sb.Select("entity_key", "event_time", "payload")
	sb.From(onlineTable)
	sb.Where(sb.Equal("view_name", view.Name), sb.In("entity_key", keyArgs...))
	query, args := sb.BuildWithFlavor(s.flavor)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrapf(err, "read view %q", view.Name)
	}
	defer rows.Close()
	for rows.Next() {
		var key string
		var nanos int64
		var payload string
		if err := rows.Scan(&key, &nanos, &payload); err != nil {
			return nil, errors.Wrapf(err, "read view %q", view.Name)
		}
		values, err := DecodeJSON(view, []byte(payload))
		if err != nil {
			return nil, errors.Wrapf(err, "decode key %q in view %q", key, view.Name)
		}
		out[key] = Record{Key: key, Values: values, EventTime: time.Unix(0, nanos).UTC()}
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrapf(err, "read view %q", view.Name)
	}
	return out, nil
}

func (s *SQLStore) DeleteExpired(ctx context.Context, view *registry.FeatureView, cutoff time.Time) (int64, error) {
	db := sqlbuilder.NewDeleteBuilder()
	db.DeleteFrom(onlineTable)
	db.Where(db.Equal("view_name", view.Name), db.LessThan("event_time", cutoff.UnixNano()))
	query, args := db.BuildWithFlavor(s.flavor)
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, errors.Wrapf(err, "delete expired rows in view %q", view.Name)
	}
	removed, err := res.RowsAffected()
	if err != nil {
		return 0, errors.Wrapf(err, "delete expired rows in view %q", view.Name)
	}
	return removed, nil
}

// Close is a no-op: the pool is injected and owned by the sqldb registry or
// the caller.
func (s *SQLStore) Close() error { return nil }
