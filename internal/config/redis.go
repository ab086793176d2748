package config

// This file defines a Redis client constructor for the application.  Redis is
// used for distributed rate limiting of bid submission.  If connection fails
// during startup, the function returns nil and callers should degrade
// gracefully by disabling rate limiting.

import (
	"context"
	"crypto/tls"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisConfig holds connection parameters.  Addr takes precedence over
// Host/Port when both are set.
type RedisConfig struct {
	Host     string `env:"REDIS_HOST"`
	Port     string `env:"REDIS_PORT"`
	Addr     string `env:"REDIS_ADDR"`
	Password string `env:"REDIS_PASSWORD"`
	DB       int    `env:"REDIS_DB" envDefault:"0"`
	TLS      bool   `env:"REDIS_TLS" envDefault:"false"`
}

// Address resolves the host:port to dial.
func (c RedisConfig) Address() string {
	if c.Addr != "" {
		return c.Addr
	}
	if c.Host != "" && c.Port != "" {
		return c.Host + ":" + c.Port
	}
	return "localhost:6379"
}

// NewRedisClient instantiates a Redis client and pings it with a short
// timeout.  The returned client is nil if a connection cannot be established.
func NewRedisClient(c RedisConfig) *redis.Client {
	var tlsConf *tls.Config
	if c.TLS {
		tlsConf = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	client := redis.NewClient(&redis.Options{
		Addr:      c.Address(),
		Password:  c.Password,
		DB:        c.DB,
		TLSConfig: tlsConf,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil
	}
	return client
}
