package store

import (
	"context"
	"encoding/json"
	"fmt"

	rdb "github.com/redis/go-redis/v9"

	"github.com/smnsjas/go-authsession/session"
)

// DefaultRedisPrefix namespaces the store's keys.
const DefaultRedisPrefix = "authsession:accounts:"

// Redis is a Store backed by one Redis hash per service; fields are
// usernames and values are JSON-encoded properties.
type Redis struct {
	c      *rdb.Client
	prefix string
}

// NewRedis connects to the Redis server at addr.
func NewRedis(addr string, db int, password string) *Redis {
	return &Redis{
		c:      rdb.NewClient(&rdb.Options{Addr: addr, DB: db, Password: password}),
		prefix: DefaultRedisPrefix,
	}
}

// NewRedisFromClient wraps an existing client with a custom key prefix.
func NewRedisFromClient(c *rdb.Client, prefix string) *Redis {
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	return &Redis{c: c, prefix: prefix}
}

func (r *Redis) key(service string) string {
	return r.prefix + service
}

// Ping checks connectivity.
func (r *Redis) Ping(ctx context.Context) error {
	return r.c.Ping(ctx).Err()
}

// Accounts implements Store.
func (r *Redis) Accounts(ctx context.Context, service string) ([]*session.Account, error) {
	fields, err := r.c.HGetAll(ctx, r.key(service)).Result()
	if err != nil {
		return nil, fmt.Errorf("store: redis hgetall: %w", err)
	}
	out := make([]*session.Account, 0, len(fields))
	for username, raw := range fields {
		a, err := decodeRedisAccount(username, raw)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	sortAccounts(out)
	return out, nil
}

// Save implements Store.
func (r *Redis) Save(ctx context.Context, service string, account *session.Account) error {
	if err := validate(service, account); err != nil {
		return err
	}
	raw, err := encodeRedisAccount(account)
	if err != nil {
		return err
	}
	if err := r.c.HSet(ctx, r.key(service), account.Username, raw).Err(); err != nil {
		return fmt.Errorf("store: redis hset: %w", err)
	}
	return nil
}

// Delete implements Store.
func (r *Redis) Delete(ctx context.Context, service, username string) error {
	n, err := r.c.HDel(ctx, r.key(service), username).Result()
	if err != nil {
		return fmt.Errorf("store: redis hdel: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s/%s", ErrNotFound, service, username)
	}
	return nil
}

// DeleteService implements Store.
func (r *Redis) DeleteService(ctx context.Context, service string) error {
	if err := r.c.Del(ctx, r.key(service)).Err(); err != nil {
		return fmt.Errorf("store: redis del: %w", err)
	}
	return nil
}

// Client returns the underlying client.
func (r *Redis) Client() *rdb.Client {
	return r.c
}

// Close closes the client.
func (r *Redis) Close() error {
	return r.c.Close()
}

func encodeRedisAccount(a *session.Account) (string, error) {
	props := a.Properties
	if props == nil {
		props = map[string]string{}
	}
	b, err := json.Marshal(props)
	if err != nil {
		return "", fmt.Errorf("store: encode account: %w", err)
	}
	return string(b), nil
}

func decodeRedisAccount(username, raw string) (*session.Account, error) {
	var props map[string]string
	if err := json.Unmarshal([]byte(raw), &props); err != nil {
		return nil, fmt.Errorf("store: decode account %s: %w", username, err)
	}
	if len(props) == 0 {
		props = nil
	}
	return &session.Account{Username: username, Properties: props}, nil
}
