package health

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// SQLiteChecker checks SQLite database connectivity.
type SQLiteChecker struct {
	name string
	db   *sql.DB
}

// NewSQLiteChecker creates a new SQLite health checker.
func NewSQLiteChecker(name string, db *sql.DB) *SQLiteChecker {
	return &SQLiteChecker{name: name, db: db}
}

// Name returns the checker name.
func (c *SQLiteChecker) Name() string {
	return c.name
}

// Check verifies the SQLite database is accessible.
func (c *SQLiteChecker) Check(ctx context.Context) error {
	if c.db == nil {
		return fmt.Errorf("database not initialized")
	}
	return c.db.PingContext(ctx)
}

// Pinger interface for stores that support ping.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingChecker checks any store with a Ping method, such as the ClickHouse
// log store.
type PingChecker struct {
	name   string
	pinger Pinger
}

// NewPingChecker creates a checker named name.
func NewPingChecker(name string, p Pinger) *PingChecker {
	return &PingChecker{name: name, pinger: p}
}

// Name returns the checker name.
func (c *PingChecker) Name() string {
	return c.name
}

// Check pings the store.
func (c *PingChecker) Check(ctx context.Context) error {
	if c.pinger == nil {
		return fmt.Errorf("%s not configured", c.name)
	}
	return c.pinger.Ping(ctx)
}

// RedisChecker checks the trap cache connection.
type RedisChecker struct {
	client *redis.Client
}

// NewRedisChecker creates a Redis health checker.
func NewRedisChecker(client *redis.Client) *RedisChecker {
	return &RedisChecker{client: client}
}

// Name returns the checker name.
func (c *RedisChecker) Name() string {
	return "redis"
}

// Check pings Redis.
func (c *RedisChecker) Check(ctx context.Context) error {
	if c.client == nil {
		return fmt.Errorf("redis not configured")
	}
	return c.client.Ping(ctx).Err()
}

// FuncChecker adapts a function to a Checker.
type FuncChecker struct {
	name string
	fn   func(ctx context.Context) error
}

// NewFuncChecker creates a checker that calls fn.
func NewFuncChecker(name string, fn func(ctx context.Context) error) *FuncChecker {
	return &FuncChecker{name: name, fn: fn}
}

// Name returns the checker name.
func (c *FuncChecker) Name() string {
	return c.name
}

// Check calls the wrapped function.
func (c *FuncChecker) Check(ctx context.Context) error {
	return c.fn(ctx)
}
