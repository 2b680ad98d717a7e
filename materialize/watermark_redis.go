package materialize

import (
	"context"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/featstore/featstore-go/errors"
)

// Watermarks are nanosecond epochs. They are zero padded and compared as
// strings because Lua numbers are doubles and cannot hold them exactly.
var advanceScript = redis.NewScript(`
local function pad(v) return string.rep('0', 19 - #v) .. v end
local current = redis.call('GET', KEYS[1])
if current and pad(current) >= pad(ARGV[1]) then
	return 0
end
redis.call('SET', KEYS[1], ARGV[1])
return 1
`)

// RedisWatermarks keeps watermarks in Redis for deployments whose online
// store already lives there.
type RedisWatermarks struct {
	client *redis.Client
	prefix string
}

func NewRedisWatermarks(client *redis.Client, prefix string) *RedisWatermarks {
	if prefix == "" {
		prefix = "featstore"
	}
	return &RedisWatermarks{client: client, prefix: prefix}
}

func (s *RedisWatermarks) key(view string) string {
	return s.prefix + ":watermark:" + view
}

func (s *RedisWatermarks) Get(ctx context.Context, view string) (time.Time, bool, error) {
	raw, err := s.client.Get(ctx, s.key(view)).Result()
	if err == redis.Nil {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, errors.Wrapf(err, "read watermark for view %q", view)
	}
	nanos, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return time.Time{}, false, errors.Wrapf(err, "corrupt watermark for view %q", view)
	}
	return time.Unix(0, nanos).UTC(), true, nil
}

func (s *RedisWatermarks) Advance(ctx context.Context, view string, t time.Time) error {
	err := advanceScript.Run(ctx, s.client, []string{s.key(view)}, t.UnixNano()).Err()
	if err != nil {
		return errors.Wrapf(err, "advance watermark for view %q", view)
	}
	return nil
}
