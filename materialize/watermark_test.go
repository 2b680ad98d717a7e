package materialize

import (
	"context"
	"database/sql"
	"os"
	"testing"
	"time"

	"fortio.org/assert"
	"github.com/go-redis/redis/v8"
	"github.com/huandu/go-sqlbuilder"
	_ "github.com/mattn/go-sqlite3"
)

func testWatermarkStore(t *testing.T, store WatermarkStore) {
	t.Helper()
	ctx := context.Background()

	_, ok, err := store.Get(ctx, "patient_clinical")
	assert.NoError(t, err)
	assert.Equal(t, false, ok)

	assert.NoError(t, store.Advance(ctx, "patient_clinical", day(5)))
	wm, ok, err := store.Get(ctx, "patient_clinical")
	assert.NoError(t, err)
	assert.Equal(t, true, ok)
	assert.Equal(t, day(5), wm)

	// moving backwards is a silent no-op
	assert.NoError(t, store.Advance(ctx, "patient_clinical", day(3)))
	wm, _, err = store.Get(ctx, "patient_clinical")
	assert.NoError(t, err)
	assert.Equal(t, day(5), wm)

	assert.NoError(t, store.Advance(ctx, "patient_clinical", day(7)))
	wm, _, err = store.Get(ctx, "patient_clinical")
	assert.NoError(t, err)
	assert.Equal(t, day(7), wm)

	// views do not share marks
	_, ok, err = store.Get(ctx, "patient_lifestyle")
	assert.NoError(t, err)
	assert.Equal(t, false, ok)
}

func TestMemoryWatermarks(t *testing.T) {
	testWatermarkStore(t, NewMemoryWatermarks())
}

func TestSQLWatermarks(t *testing.T) {
	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatal(err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	store, err := NewSQLWatermarks(context.Background(), db, sqlbuilder.SQLite)
	assert.NoError(t, err)
	testWatermarkStore(t, store)
}

func TestRedisWatermarks(t *testing.T) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set")
	}
	client := redis.NewClient(&redis.Options{Addr: addr, DB: 15})
	if err := client.Ping(context.Background()).Err(); err != nil {
		t.Skipf("redis at %s not reachable: %v", addr, err)
	}
	t.Cleanup(func() {
		client.FlushDB(context.Background())
		client.Close()
	})
	testWatermarkStore(t, NewRedisWatermarks(client, "featstore_test"))
}
