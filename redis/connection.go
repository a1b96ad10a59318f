package redis

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sethvargo/go-retry"

	"github.com/sharedcode/rowbatch"
)

// Options locate the Redis server holding the row store.
type Options struct {
	Address  string `json:"address"`
	Password string `json:"password"`
	DB       int    `json:"db"`
	// PoolSize caps pooled connections. Batched flushes rarely need more than a few.
	PoolSize    int           `json:"pool_size"`
	DialTimeout time.Duration `json:"dial_timeout"`
	TLSConfig   *tls.Config   `json:"-"`
}

// Connection is a checked Redis client and the Options it was opened with.
type Connection struct {
	Client  *redis.Client
	Options Options
}

// DefaultOptions point at a local server, DB 0.
func DefaultOptions() Options {
	return Options{
		Address:     "localhost:6379",
		PoolSize:    10,
		DialTimeout: 5 * time.Second,
	}
}

var connection *Connection
var mux sync.Mutex

// IsConnectionInstantiated reports whether the singleton connection is open.
func IsConnectionInstantiated() bool {
	mux.Lock()
	defer mux.Unlock()
	return connection != nil
}

// OpenConnection opens the singleton connection, or returns it when already open.
// The server must answer a PING; a server still loading its dataset is waited for.
func OpenConnection(ctx context.Context, options Options) (*Connection, error) {
	mux.Lock()
	defer mux.Unlock()
	if connection != nil {
		return connection, nil
	}
	c, err := openConnection(ctx, options)
	if err != nil {
		return nil, err
	}
	connection = c
	return connection, nil
}

// CloseConnection closes the singleton connection if open.
func CloseConnection() error {
	mux.Lock()
	defer mux.Unlock()
	if connection == nil {
		return nil
	}
	err := closeConnection(connection)
	connection = nil
	return err
}

func openConnection(ctx context.Context, options Options) (*Connection, error) {
	client := redis.NewClient(&redis.Options{
		Addr:        options.Address,
		Password:    options.Password,
		DB:          options.DB,
		PoolSize:    options.PoolSize,
		DialTimeout: options.DialTimeout,
		TLSConfig:   options.TLSConfig,
	})
	err := rowbatch.Retry(ctx, func(ctx context.Context) error {
		if err := client.Ping(ctx).Err(); err != nil {
			if isTransient(err) {
				return retry.RetryableError(err)
			}
			return err
		}
		return nil
	}, nil)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("redis %s: %w", options.Address, err)
	}
	return &Connection{Client: client, Options: options}, nil
}

func closeConnection(c *Connection) error {
	if c == nil || c.Client == nil {
		return nil
	}
	err := c.Client.Close()
	c.Client = nil
	return err
}

// isTransient reports whether err is a network failure or a server reply asking to come back later.
func isTransient(err error) bool {
	var ne net.Error
	if errors.As(err, &ne) {
		return true
	}
	var re redis.Error
	if errors.As(err, &re) {
		msg := re.Error()
		return strings.HasPrefix(msg, "LOADING ") || strings.HasPrefix(msg, "MASTERDOWN ") || strings.HasPrefix(msg, "TRYAGAIN ")
	}
	return false
}
