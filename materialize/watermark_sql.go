package materialize

import (
	"context"
	"database/sql"
	"time"

	"github.com/huandu/go-sqlbuilder"

	"github.com/featstore/featstore-go/errors"
)

const watermarkTable = "featstore_watermarks"

const createWatermarkTable = `CREATE TABLE IF NOT EXISTS featstore_watermarks (
	view_name VARCHAR(255) NOT NULL,
	watermark BIGINT NOT NULL,
	PRIMARY KEY (view_name)
)`

const advanceConflictSQL = `INSERT INTO featstore_watermarks (view_name, watermark)
VALUES ($?, $?)
ON CONFLICT (view_name) DO UPDATE
SET watermark = excluded.watermark
WHERE excluded.watermark > featstore_watermarks.watermark`

const advanceDuplicateSQL = `INSERT INTO featstore_watermarks (view_name, watermark)
VALUES ($?, $?)
ON DUPLICATE KEY UPDATE
watermark = IF(VALUES(watermark) > watermark, VALUES(watermark), watermark)`

// SQLWatermarks persists watermarks next to the data they guard, using the
// same conditional upsert trick as the SQL online store so Advance can never
// move a watermark backwards, even across processes.
type SQLWatermarks struct {
	db     *sql.DB
	flavor sqlbuilder.Flavor
}

func NewSQLWatermarks(ctx context.Context, db *sql.DB, flavor sqlbuilder.Flavor) (*SQLWatermarks, error) {
	if _, err := db.ExecContext(ctx, createWatermarkTable); err != nil {
		return nil, errors.Wrap(err, "create watermark table")
	}
	return &SQLWatermarks{db: db, flavor: flavor}, nil
}

func (s *SQLWatermarks) Get(ctx context.Context, view string) (time.Time, bool, error) {
	sb := sqlbuilder.NewSelectBuilder()
	sb.Select("watermark")
	sb.From(watermarkTable)
	sb.Where(sb.Equal("view_name", view))
	query, args := sb.BuildWithFlavor(s.flavor)

	var nanos int64
	err := s.db.QueryRowContext(ctx, query, args...).Scan(&nanos)
	if err == sql.ErrNoRows {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, errors.Wrapf(err, "read watermark for view %q", view)
	}
	return time.Unix(0, nanos).UTC(), true, nil
}

func (s *SQLWatermarks) Advance(ctx context.Context, view string, t time.Time) error {
	text := advanceConflictSQL
	if s.flavor == sqlbuilder.MySQL {
		text = advanceDuplicateSQL
	}
	query, args := sqlbuilder.Build(text, view, t.UnixNano()).BuildWithFlavor(s.flavor)
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return errors.Wrapf(err, "advance watermark for view %q", view)
	}
	return nil
}
