package featurestore

import (
	"context"

	"github.com/featstore/featstore-go/datasource/redisdb"
	"github.com/featstore/featstore-go/datasource/sqldb"
	"github.com/featstore/featstore-go/materialize"
	"github.com/featstore/featstore-go/offline"
	"github.com/featstore/featstore-go/online"
)

// The constructors below build store backends from connections registered in
// the datasource packages, so deployments can wire stores by name the same
// way batch sources name their warehouse connection. The results plug into
// NewClient through WithOnlineStore, WithWatermarkStore, and WithPushLog.

// RedisOnlineStore serves online reads and writes from the Redis connection
// registered under name.
func RedisOnlineStore(name string, opts ...online.RedisOption) (online.Store, error) {
	conn, err := redisdb.Get(name)
	if err != nil {
		return nil, err
	}
	return online.NewRedisStore(conn.Client, opts...), nil
}

func RedisWatermarkStore(name, prefix string) (materialize.WatermarkStore, error) {
	conn, err := redisdb.Get(name)
	if err != nil {
		return nil, err
	}
	return materialize.NewRedisWatermarks(conn.Client, prefix), nil
}

// SQLOnlineStore builds an online store on the SQL connection registered
// under name, creating its backing table when missing.
func SQLOnlineStore(ctx context.Context, name string) (online.Store, error) {
	conn, err := sqldb.Get(name)
	if err != nil {
		return nil, err
	}
	return online.NewSQLStore(ctx, conn.DB, conn.Flavor())
}

func SQLWatermarkStore(ctx context.Context, name string) (materialize.WatermarkStore, error) {
	conn, err := sqldb.Get(name)
	if err != nil {
		return nil, err
	}
	return materialize.NewSQLWatermarks(ctx, conn.DB, conn.Flavor())
}

func SQLPushLog(ctx context.Context, name string) (offline.PushLog, error) {
	conn, err := sqldb.Get(name)
	if err != nil {
		return nil, err
	}
	return offline.NewSQLPushLog(ctx, conn.DB, conn.Flavor())
}
