package featurestore

import (
	"context"
	"database/sql"
	"os"
	"testing"
	"time"

	"fortio.org/assert"
	"github.com/go-redis/redis/v8"

	"github.com/featstore/featstore-go/constants"
	"github.com/featstore/featstore-go/datasource/redisdb"
	"github.com/featstore/featstore-go/datasource/sqldb"
	"github.com/featstore/featstore-go/errors"
	"github.com/featstore/featstore-go/ftable"
	"github.com/featstore/featstore-go/join"
)

func registerSQLite(t *testing.T, name string) {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatal(err)
	}
	// every new connection to :memory: is a fresh database
	db.SetMaxOpenConns(1)
	if err := sqldb.RegisterDB(name, sqldb.Driver_SQLite, db); err != nil {
		db.Close()
		t.Fatal(err)
	}
	t.Cleanup(func() {
		sqldb.Remove(name)
		db.Close()
	})
}

func TestClientWithSQLBackends(t *testing.T) {
	ctx := context.Background()
	registerSQLite(t, "client_test_db")

	store, err := SQLOnlineStore(ctx, "client_test_db")
	assert.NoError(t, err)
	marks, err := SQLWatermarkStore(ctx, "client_test_db")
	assert.NoError(t, err)
	pushLog, err := SQLPushLog(ctx, "client_test_db")
	assert.NoError(t, err)

	c := newTestClient(t,
		WithOnlineStore(store),
		WithWatermarkStore(marks),
		WithPushLog(pushLog))

	c.Catalog().AddRows("clinical_records",
		clinicalRow("P1", clientNow.Add(-5*24*time.Hour), 130, 5.5))
	report, err := c.MaterializeIncremental(ctx, clientNow, "patient_clinical")
	assert.NoError(t, err)
	assert.Equal(t, constants.Run_Status_Succeeded, report.Views[0].Status)

	// the watermark persisted in SQLite skips the rerun
	report, err = c.MaterializeIncremental(ctx, clientNow, "patient_clinical")
	assert.NoError(t, err)
	assert.Equal(t, constants.Run_Status_Skipped, report.Views[0].Status)

	err = c.Push(ctx, "patient_lifestyle", []map[string]interface{}{
		{"patient_id": "P1", "smoker": true, "event_timestamp": clientNow.Add(-time.Hour)},
	}, constants.Push_Mode_Online_And_Offline)
	assert.NoError(t, err)

	out, err := c.GetOnlineFeaturesByService(ctx,
		[]map[string]interface{}{{"patient_id": "P1"}}, "risk_score_v1")
	assert.NoError(t, err)
	assert.Equal(t, int64(130), cell(t, out, 0, "systolic_bp"))
	assert.Equal(t, true, cell(t, out, 0, "smoker"))

	// historical reads for the push view come from the SQL push log
	spine := ftable.MustNew("patient_id", "as_of")
	assert.NoError(t, spine.AppendRow("P1", clientNow))
	hist, err := c.GetHistoricalFeatures(ctx, join.Spine{Table: spine, TimestampColumn: "as_of"},
		[]string{"patient_lifestyle:smoker"})
	assert.NoError(t, err)
	assert.Equal(t, true, cell(t, hist, 0, "smoker"))
}

func TestStoreConstructorsUnknownConnection(t *testing.T) {
	ctx := context.Background()
	if _, err := SQLOnlineStore(ctx, "absent"); !errors.IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
	if _, err := SQLWatermarkStore(ctx, "absent"); !errors.IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
	if _, err := SQLPushLog(ctx, "absent"); !errors.IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
	if _, err := RedisOnlineStore("absent"); !errors.IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
	if _, err := RedisWatermarkStore("absent", ""); !errors.IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
}

// Redis backed client tests need a live server; set REDIS_ADDR to run them.
func TestClientWithRedisBackends(t *testing.T) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set")
	}
	ctx := context.Background()
	client := redis.NewClient(&redis.Options{Addr: addr, DB: 15})
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("redis at %s not reachable: %v", addr, err)
	}
	t.Cleanup(func() {
		client.FlushDB(context.Background())
		client.Close()
	})
	assert.NoError(t, redisdb.RegisterClient("client_test_redis", client))
	t.Cleanup(func() { redisdb.Remove("client_test_redis") })

	store, err := RedisOnlineStore("client_test_redis")
	assert.NoError(t, err)
	marks, err := RedisWatermarkStore("client_test_redis", "client_test")
	assert.NoError(t, err)

	// recent event times keep the derived Redis expiry in the future
	now := time.Now().Truncate(time.Second)
	c := NewClient(
		WithClock(func() time.Time { return now }),
		WithOnlineStore(store),
		WithWatermarkStore(marks))
	t.Cleanup(func() { _ = c.Close() })
	if err := c.Apply(healthcareDefs()); err != nil {
		t.Fatal(err)
	}
	c.Catalog().AddRows("clinical_records",
		clinicalRow("P1", now.Add(-time.Hour), 130, 5.5))

	report, err := c.MaterializeIncremental(ctx, now, "patient_clinical")
	assert.NoError(t, err)
	assert.Equal(t, constants.Run_Status_Succeeded, report.Views[0].Status)

	out, err := c.GetOnlineFeatures(ctx, []map[string]interface{}{{"patient_id": "P1"}},
		[]string{"patient_clinical:systolic_bp"})
	assert.NoError(t, err)
	assert.Equal(t, int64(130), cell(t, out, 0, "systolic_bp"))
}
