// Package redisdb keeps a process wide registry of named Redis clients for
// the online store and watermark backends.
package redisdb

import (
	"context"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/featstore/featstore-go/errors"
)

type Redis struct {
	Name         string
	Client       *redis.Client
	RegisterTime time.Time

	owned bool
}

var redisInstances sync.Map

func Get(name string) (*Redis, error) {
	value, ok := redisInstances.Load(name)
	if !ok {
		return nil, errors.NewNotFound("redis connection", name)
	}
	instance, ok := value.(*Redis)
	if !ok {
		return nil, errors.NewNotFound("redis connection", name)
	}
	return instance, nil
}

// Register dials the address and stores the client under name. The
// connection is verified with a bounded ping before it is published.
func Register(name string, opts *redis.Options) error {
	client := redis.NewClient(opts)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return errors.Wrapf(err, "register redis connection %q", name)
	}
	store(name, &Redis{Name: name, Client: client, RegisterTime: time.Now(), owned: true})
	return nil
}

// RegisterClient adopts an existing client, for callers that manage dialing
// themselves or hand in a test server client. The caller keeps ownership.
func RegisterClient(name string, client *redis.Client) error {
	if client == nil {
		return errors.New("client must not be nil")
	}
	store(name, &Redis{Name: name, Client: client, RegisterTime: time.Now()})
	return nil
}

func store(name string, r *Redis) {
	if old, loaded := redisInstances.Swap(name, r); loaded {
		if existing, ok := old.(*Redis); ok && existing.owned && existing.Client != nil {
			existing.Client.Close()
		}
	}
}

func Remove(name string) {
	value, ok := redisInstances.Load(name)
	if !ok {
		return
	}
	instance, ok := value.(*Redis)
	if !ok {
		return
	}
	if instance.owned && instance.Client != nil {
		instance.Client.Close()
	}
	redisInstances.Delete(name)
}
