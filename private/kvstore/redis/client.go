// Copyright (C) 2026 Carewire Inc.
// See LICENSE for copying information.

// Package redis implements kvstore.Store on a redis server.
//
// Every scope maps to one redis hash. A cell is stored as the decimal
// version, a colon, and the raw payload, so version bumps and swaps can run
// server-side in Lua and stay atomic without client-side retries.
package redis

import (
	"bytes"
	"context"
	"errors"
	"strconv"

	"github.com/redis/go-redis/v9"
	"github.com/spacemonkeygo/monkit/v3"
	"github.com/zeebo/errs"

	"carewire.io/carewire/private/kvstore"
)

var (
	// Error is a redis error.
	Error = errs.Class("redis")

	mon = monkit.Package()
)

const scopePrefix = "cwkv:"

var putScript = redis.NewScript(`
local cur = redis.call('HGET', KEYS[1], ARGV[1])
local ver = 0
if cur then
	local sep = string.find(cur, ':', 1, true)
	ver = tonumber(string.sub(cur, 1, sep - 1)) + 1
end
redis.call('HSET', KEYS[1], ARGV[1], ver .. ':' .. ARGV[2])
return ver
`)

var swapScript = redis.NewScript(`
local cur = redis.call('HGET', KEYS[1], ARGV[1])
if ARGV[2] == '-1' then
	if cur then return 0 end
	redis.call('HSET', KEYS[1], ARGV[1], '0:' .. ARGV[3])
	return 1
end
if not cur then return 0 end
local sep = string.find(cur, ':', 1, true)
local ver = string.sub(cur, 1, sep - 1)
if ver ~= ARGV[2] then return 0 end
redis.call('HSET', KEYS[1], ARGV[1], (tonumber(ver) + 1) .. ':' .. ARGV[3])
return 1
`)

// Client is the entrypoint into Redis.
type Client struct {
	db *redis.Client
}

// OpenClient returns a configured Client instance, verifying a successful
// connection to redis.
func OpenClient(ctx context.Context, address, password string, db int) (*Client, error) {
	client := &Client{
		db: redis.NewClient(&redis.Options{
			Addr:     address,
			Password: password,
			DB:       db,
		}),
	}

	// ping here to verify we are able to connect to redis with the initialized client.
	if err := client.db.Ping(ctx).Err(); err != nil {
		return nil, Error.New("ping failed: %v", err)
	}

	return client, nil
}

// OpenClientFrom returns a configured Client instance from a redis:// URL,
// verifying a successful connection to redis.
func OpenClientFrom(ctx context.Context, address string) (*Client, error) {
	opts, err := redis.ParseURL(address)
	if err != nil {
		return nil, Error.Wrap(err)
	}

	client := &Client{db: redis.NewClient(opts)}
	if err := client.db.Ping(ctx).Err(); err != nil {
		return nil, Error.New("ping failed: %v", err)
	}
	return client, nil
}

// Get looks up the provided key from redis returning either an error or the result.
func (client *Client) Get(ctx context.Context, scope, key string) (_ kvstore.Value, _ int64, err error) {
	defer mon.Task()(&ctx)(&err)
	if err := kvstore.ValidateKey(scope, key); err != nil {
		return nil, 0, err
	}

	raw, err := client.db.HGet(ctx, scopePrefix+scope, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, 0, kvstore.ErrKeyNotFound.New("%s/%s", scope, key)
	}
	if err != nil {
		return nil, 0, Error.New("get error: %v", err)
	}
	return decodeCell(scope, key, raw)
}

// GetAll returns every item in scope. HGETALL executes as a single command,
// so the result is a consistent snapshot.
func (client *Client) GetAll(ctx context.Context, scope string) (_ kvstore.Items, err error) {
	defer mon.Task()(&ctx)(&err)

	fields, err := client.db.HGetAll(ctx, scopePrefix+scope).Result()
	if err != nil {
		return nil, Error.New("getall error: %v", err)
	}

	items := make(kvstore.Items, 0, len(fields))
	for key, raw := range fields {
		value, version, err := decodeCell(scope, key, []byte(raw))
		if err != nil {
			return nil, err
		}
		items = append(items, kvstore.Item{
			Scope:   scope,
			Key:     key,
			Value:   value,
			Version: version,
		})
	}
	items.Sort()
	return items, nil
}

// Put adds a value to the provided key in redis, returning an error on failure.
func (client *Client) Put(ctx context.Context, scope, key string, value kvstore.Value) (err error) {
	defer mon.Task()(&ctx)(&err)
	if err := kvstore.ValidateKey(scope, key); err != nil {
		return err
	}

	err = putScript.Run(ctx, client.db, []string{scopePrefix + scope}, key, []byte(value)).Err()
	if err != nil {
		return Error.New("put error: %v", err)
	}
	return nil
}

// CompareAndSwap atomically swaps the value when the stored version matches
// expected. The script runs server-side so the comparison and write cannot
// interleave with other clients.
func (client *Client) CompareAndSwap(ctx context.Context, scope, key string, value kvstore.Value, expected int64) (_ bool, err error) {
	defer mon.Task()(&ctx)(&err)
	if err := kvstore.ValidateKey(scope, key); err != nil {
		return false, err
	}

	res, err := swapScript.Run(ctx, client.db,
		[]string{scopePrefix + scope},
		key, strconv.FormatInt(expected, 10), []byte(value),
	).Int64()
	if err != nil {
		return false, Error.New("compare-and-swap error: %v", err)
	}
	return res == 1, nil
}

// Delete deletes a key/value pair from redis, for a given the key.
func (client *Client) Delete(ctx context.Context, scope, key string) (err error) {
	defer mon.Task()(&ctx)(&err)
	if err := kvstore.ValidateKey(scope, key); err != nil {
		return err
	}

	if err := client.db.HDel(ctx, scopePrefix+scope, key).Err(); err != nil {
		return Error.New("delete error: %v", err)
	}
	return nil
}

// FlushDB deletes all keys in the currently selected DB.
func (client *Client) FlushDB(ctx context.Context) error {
	_, err := client.db.FlushDB(ctx).Result()
	return err
}

// Close closes a redis client.
func (client *Client) Close() error {
	return client.db.Close()
}

func decodeCell(scope, key string, raw []byte) (kvstore.Value, int64, error) {
	sep := bytes.IndexByte(raw, ':')
	if sep < 0 {
		return nil, 0, Error.New("malformed cell at %s/%s", scope, key)
	}
	version, err := strconv.ParseInt(string(raw[:sep]), 10, 64)
	if err != nil {
		return nil, 0, Error.New("malformed cell version at %s/%s: %v", scope, key, err)
	}
	return kvstore.Value(raw[sep+1:]), version, nil
}
