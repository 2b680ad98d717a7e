package online

import (
	"context"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/featstore/featstore-go/errors"
	"github.com/featstore/featstore-go/registry"
)

// upsertScript applies the strictly newer replacement rule atomically on the
// server. ARGV[1] is the event time in nanoseconds, ARGV[2] the payload,
// ARGV[3] an absolute expiry in unix milliseconds or 0 for none. Timestamps
// are zero padded and compared as strings because Lua numbers are doubles and
// cannot hold nanosecond epochs exactly.
var upsertScript = redis.NewScript(`
local function pad(v) return string.rep('0', 19 - #v) .. v end
local current = redis.call('HGET', KEYS[1], 'ts')
if current and pad(current) >= pad(ARGV[1]) then
	return 0
end
redis.call('HSET', KEYS[1], 'ts', ARGV[1], 'payload', ARGV[2])
if ARGV[3] ~= '0' then
	redis.call('PEXPIREAT', KEYS[1], ARGV[3])
end
return 1
`)

// RedisStore keeps one hash per (view, entity key) holding the event time
// and a protobuf Struct payload. Keys of TTL bearing views carry an absolute
// expiry at event time plus TTL, so Redis reclaims values that can never be
// served again.
type RedisStore struct {
	client *redis.Client
	prefix string
}

type RedisOption func(*RedisStore)

func WithKeyPrefix(prefix string) RedisOption {
	return func(s *RedisStore) { s.prefix = prefix }
}

func NewRedisStore(client *redis.Client, opts ...RedisOption) *RedisStore {
	s := &RedisStore{client: client, prefix: "featstore"}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *RedisStore) recordKey(view, canonical string) string {
	return s.prefix + ":" + view + ":" + canonical
}

func (s *RedisStore) Upsert(ctx context.Context, view *registry.FeatureView, records []Record) error {
	for _, rec := range records {
		payload, err := EncodeProto(view, rec.Values)
		if err != nil {
			return errors.Wrapf(err, "encode record for view %q", view.Name)
		}
		expireAt := int64(0)
		if view.TTL > 0 {
			expireAt = rec.EventTime.Add(view.TTL).UnixMilli()
		}
		err = upsertScript.Run(ctx, s.client,
			[]string{s.recordKey(view.Name, rec.Key)},
			rec.EventTime.UnixNano(), payload, expireAt).Err()
		if err != nil {
			return errors.Wrapf(err, "upsert to view %q", view.Name)
		}
	}
	return nil
}

func (s *RedisStore) Get(ctx context.Context, view *registry.FeatureView, keys []string) (map[string]Record, error) {
	out := make(map[string]Record, len(keys))
	if len(keys) == 0 {
		return out, nil
	}
	pipe := s.client.Pipeline()
	cmds := make([]*redis.StringStringMapCmd, len(keys))
	for i, key := range keys {
		cmds[i] = pipe.HGetAll(ctx, s.recordKey(view.Name, key))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, errors.Wrapf(err, "read view %q", view.Name)
	}
	for i, cmd := range cmds {
		fields := cmd.Val()
		if len(fields) == 0 {
			continue
		}
		nanos, err := strconv.ParseInt(fields["ts"], 10, 64)
		if err != nil {
			return nil, errors.Wrapf(err, "corrupt event time for key %q in view %q", keys[i], view.Name)
		}
		values, err := DecodeProto(view, []byte(fields["payload"]))
		if err != nil {
			return nil, errors.Wrapf(err, "decode key %q in view %q", keys[i], view.Name)
		}
		out[keys[i]] = Record{Key: keys[i], Values: values, EventTime: time.Unix(0, nanos).UTC()}
	}
	return out, nil
}

func (s *RedisStore) DeleteExpired(ctx context.Context, view *registry.FeatureView, cutoff time.Time) (int64, error) {
	var removed int64
	cutoffNanos := cutoff.UnixNano()
	iter := s.client.Scan(ctx, 0, s.recordKey(view.Name, "*"), 512).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		raw, err := s.client.HGet(ctx, key, "ts").Result()
		if err == redis.Nil {
			continue
		}
		if err != nil {
			return removed, errors.Wrapf(err, "scan view %q", view.Name)
		}
		nanos, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			continue
		}
		if nanos < cutoffNanos {
			n, err := s.client.Del(ctx, key).Result()
			if err != nil {
				return removed, errors.Wrapf(err, "delete expired key in view %q", view.Name)
			}
			removed += n
		}
	}
	if err := iter.Err(); err != nil {
		return removed, errors.Wrapf(err, "scan view %q", view.Name)
	}
	return removed, nil
}

// Close is a no-op: the client is injected and its lifecycle belongs to the
// redisdb registry or the caller.
func (s *RedisStore) Close() error { return nil }
