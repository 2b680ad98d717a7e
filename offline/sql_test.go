package offline

import (
	"context"
	"database/sql"
	"strings"
	"testing"
	"time"

	"fortio.org/assert"
	"github.com/huandu/go-sqlbuilder"
	_ "github.com/mattn/go-sqlite3"

	"github.com/featstore/featstore-go/constants"
	"github.com/featstore/featstore-go/registry"
)

func sqlSource() *registry.BatchSource {
	return &registry.BatchSource{
		Name:           "clinical_records",
		Adapter:        constants.Datasource_Type_SQL,
		Connection:     "warehouse",
		Table:          "clinical_records",
		TimestampField: "event_timestamp",
	}
}

func openSQLite(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatal(err)
	}
	// every connection of an in-memory sqlite db is a fresh empty db
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })
	return db
}

func createClinicalTable(t *testing.T, db *sql.DB) {
	t.Helper()
	_, err := db.Exec(`CREATE TABLE clinical_records (
		patient_id TEXT,
		systolic_bp INTEGER,
		cholesterol REAL,
		event_timestamp TIMESTAMP
	)`)
	assert.NoError(t, err)
}

func insertClinical(t *testing.T, db *sql.DB, id interface{}, bp, chol, et interface{}) {
	t.Helper()
	_, err := db.Exec(`INSERT INTO clinical_records VALUES (?, ?, ?, ?)`, id, bp, chol, et)
	assert.NoError(t, err)
}

func TestSQLAdapterFetch(t *testing.T) {
	view := buildTestView(t, sqlSource(), nil)
	db := openSQLite(t)
	createClinicalTable(t, db)

	t0 := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	t1 := t0.Add(time.Hour)
	t2 := t0.Add(2 * time.Hour)
	insertClinical(t, db, "P1", 120, 5.0, t0)
	insertClinical(t, db, "P1", 130, 5.5, t2)
	insertClinical(t, db, "P2", 110, 4.0, t1)

	adapter := NewSQLAdapter(db, sqlbuilder.SQLite, view.BatchSource())

	seq, err := adapter.Fetch(context.Background(), view, nil, time.Time{}, time.Time{})
	assert.NoError(t, err)
	rows := collect(t, seq)
	assert.Equal(t, 3, len(rows))
	for _, row := range rows {
		if row.Keys["patient_id"] == "P2" {
			assert.Equal(t, int64(110), row.Values["systolic_bp"])
			assert.Equal(t, 4.0, row.Values["cholesterol"])
			assert.Equal(t, t1, row.EventTime)
		}
	}

	// window bounds are inclusive
	seq, err = adapter.Fetch(context.Background(), view, nil, t1, t2)
	assert.NoError(t, err)
	assert.Equal(t, 2, len(collect(t, seq)))

	keys := NewKeySet(view.JoinKeyNames())
	keys.Add("P1")
	seq, err = adapter.Fetch(context.Background(), view, keys, time.Time{}, time.Time{})
	assert.NoError(t, err)
	assert.Equal(t, 2, len(collect(t, seq)))

	seq, err = adapter.Fetch(context.Background(), view, NewKeySet(view.JoinKeyNames()), time.Time{}, time.Time{})
	assert.NoError(t, err)
	assert.Equal(t, 0, len(collect(t, seq)))
}

func TestSQLAdapterFilter(t *testing.T) {
	src := sqlSource()
	src.Filter = "systolic_bp > 115"
	view := buildTestView(t, src, nil)
	db := openSQLite(t)
	createClinicalTable(t, db)

	et := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	insertClinical(t, db, "P1", 120, 5.0, et)
	insertClinical(t, db, "P2", 110, 4.0, et)

	adapter := NewSQLAdapter(db, sqlbuilder.SQLite, view.BatchSource())
	seq, err := adapter.Fetch(context.Background(), view, nil, time.Time{}, time.Time{})
	assert.NoError(t, err)
	rows := collect(t, seq)
	assert.Equal(t, 1, len(rows))
	assert.Equal(t, "P1", rows[0].Keys["patient_id"])
}

func TestSQLAdapterNullValueColumn(t *testing.T) {
	view := buildTestView(t, sqlSource(), nil)
	db := openSQLite(t)
	createClinicalTable(t, db)
	insertClinical(t, db, "P1", 120, nil, time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC))

	adapter := NewSQLAdapter(db, sqlbuilder.SQLite, view.BatchSource())
	seq, err := adapter.Fetch(context.Background(), view, nil, time.Time{}, time.Time{})
	assert.NoError(t, err)
	rows := collect(t, seq)
	assert.Equal(t, 1, len(rows))
	assert.Equal(t, nil, rows[0].Values["cholesterol"])
}

func TestSQLAdapterRejectsNullJoinKey(t *testing.T) {
	view := buildTestView(t, sqlSource(), nil)
	db := openSQLite(t)
	createClinicalTable(t, db)
	insertClinical(t, db, nil, 120, 5.0, time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC))

	adapter := NewSQLAdapter(db, sqlbuilder.SQLite, view.BatchSource())
	seq, err := adapter.Fetch(context.Background(), view, nil, time.Time{}, time.Time{})
	assert.NoError(t, err)
	err = seq.Each(context.Background(), func(Row) error { return nil })
	if err == nil || !strings.Contains(err.Error(), "null join key") {
		t.Fatalf("expected null join key error, got %v", err)
	}
}

func TestSQLAdapterRejectsNullTimestamp(t *testing.T) {
	view := buildTestView(t, sqlSource(), nil)
	db := openSQLite(t)
	createClinicalTable(t, db)
	insertClinical(t, db, "P1", 120, 5.0, nil)

	adapter := NewSQLAdapter(db, sqlbuilder.SQLite, view.BatchSource())
	seq, err := adapter.Fetch(context.Background(), view, nil, time.Time{}, time.Time{})
	assert.NoError(t, err)
	err = seq.Each(context.Background(), func(Row) error { return nil })
	if err == nil || !strings.Contains(err.Error(), "null timestamp column") {
		t.Fatalf("expected null timestamp error, got %v", err)
	}
}

func TestSQLAdapterCompositeKeys(t *testing.T) {
	defs := &registry.Definitions{
		Project: "healthcare",
		Entities: []*registry.Entity{
			{Name: "patient", JoinKeys: []registry.KeyField{{Name: "patient_id", Type: constants.FS_STRING}}},
			{Name: "provider", JoinKeys: []registry.KeyField{{Name: "provider_id", Type: constants.FS_STRING}}},
		},
		BatchSources: []*registry.BatchSource{{
			Name:           "encounter_records",
			Adapter:        constants.Datasource_Type_SQL,
			Connection:     "warehouse",
			Table:          "encounter_records",
			TimestampField: "event_timestamp",
		}},
		FeatureViews: []*registry.FeatureView{{
			Name:     "patient_encounters",
			Entities: []string{"patient", "provider"},
			Schema:   []registry.Field{{Name: "heart_rate", Type: constants.FS_INT64}},
			TTL:      30 * 24 * time.Hour,
			Source:   "encounter_records",
		}},
	}
	reg := registry.New()
	assert.NoError(t, reg.Apply(defs))
	view, err := reg.View("patient_encounters")
	assert.NoError(t, err)

	db := openSQLite(t)
	_, err = db.Exec(`CREATE TABLE encounter_records (
		patient_id TEXT,
		provider_id TEXT,
		heart_rate INTEGER,
		event_timestamp TIMESTAMP
	)`)
	assert.NoError(t, err)
	et := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	for _, r := range [][]interface{}{
		{"P1", "D1", 72},
		{"P1", "D2", 80},
		{"P2", "D1", 64},
	} {
		_, err = db.Exec(`INSERT INTO encounter_records VALUES (?, ?, ?, ?)`, r[0], r[1], r[2], et)
		assert.NoError(t, err)
	}

	// tuple matching must be AND within a tuple, OR across tuples
	keys := NewKeySet(view.JoinKeyNames())
	keys.Add("P1", "D1")
	keys.Add("P2", "D1")
	adapter := NewSQLAdapter(db, sqlbuilder.SQLite, view.BatchSource())
	seq, err := adapter.Fetch(context.Background(), view, keys, time.Time{}, time.Time{})
	assert.NoError(t, err)
	rows := collect(t, seq)
	assert.Equal(t, 2, len(rows))
	for _, row := range rows {
		if row.Keys["patient_id"] == "P1" {
			assert.Equal(t, "D1", row.Keys["provider_id"])
			assert.Equal(t, int64(72), row.Values["heart_rate"])
		}
	}
}

func TestSQLPushLog(t *testing.T) {
	view := buildTestView(t, nil, &registry.PushSource{Name: "lifestyle_push"})
	db := openSQLite(t)
	log, err := NewSQLPushLog(context.Background(), db, sqlbuilder.SQLite)
	assert.NoError(t, err)

	assert.NoError(t, log.Append(context.Background(), view, []Row{
		clinicalRow("P1", time.Unix(100, 0).UTC(), 120, 5.5),
		clinicalRow("P1", time.Unix(300, 0).UTC(), 125, 5.6),
		clinicalRow("P2", time.Unix(200, 0).UTC(), 110, 4.0),
	}))
	// replay with a conflicting payload inserts nothing
	assert.NoError(t, log.Append(context.Background(), view, []Row{
		clinicalRow("P1", time.Unix(100, 0).UTC(), 999, 9.9),
	}))

	seq, err := log.Fetch(context.Background(), view, nil, time.Time{}, time.Time{})
	assert.NoError(t, err)
	rows := collect(t, seq)
	assert.Equal(t, 3, len(rows))
	for _, row := range rows {
		if row.EventTime.Equal(time.Unix(100, 0).UTC()) {
			assert.Equal(t, "P1", row.Keys["patient_id"])
			assert.Equal(t, int64(120), row.Values["systolic_bp"])
			assert.Equal(t, 5.5, row.Values["cholesterol"])
		}
	}

	seq, err = log.Fetch(context.Background(), view, nil, time.Unix(150, 0), time.Unix(250, 0))
	assert.NoError(t, err)
	rows = collect(t, seq)
	assert.Equal(t, 1, len(rows))
	assert.Equal(t, "P2", rows[0].Keys["patient_id"])

	keys := NewKeySet(view.JoinKeyNames())
	keys.Add("P1")
	seq, err = log.Fetch(context.Background(), view, keys, time.Time{}, time.Time{})
	assert.NoError(t, err)
	assert.Equal(t, 2, len(collect(t, seq)))
}
