//Package cache keeps per-post sets of viewers in redis.
package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Petergatsby/GleepostViews/lib/conf"
	"github.com/Petergatsby/GleepostViews/lib/gp"
	"github.com/Petergatsby/GleepostViews/lib/logging"
	"github.com/Petergatsby/GleepostViews/lib/metrics"
	"github.com/gomodule/redigo/redis"
	"github.com/rs/zerolog"
	gobreaker "github.com/sony/gobreaker/v2"
)

/********************************************************************
		General
********************************************************************/

//Cache represents a redis cache configuration + pool of connections to operate against.
type Cache struct {
	pool    *redis.Pool
	config  conf.RedisConfig
	ttl     time.Duration
	breaker *gobreaker.CircuitBreaker[interface{}]
	log     zerolog.Logger
}

//New constructs a new Cache from config. View sets expire ttl after their last write.
func New(config conf.RedisConfig, ttl time.Duration) (cache *Cache) {
	cache = new(Cache)
	cache.config = config
	cache.ttl = ttl
	cache.log = logging.With().Str("component", "cache").Logger()
	cache.pool = &redis.Pool{
		DialContext: GetDialer(config),
		MaxIdle:     config.MaxIdle,
		MaxActive:   config.MaxActive,
		IdleTimeout: 4 * time.Minute,
		TestOnBorrow: func(c redis.Conn, t time.Time) error {
			if time.Since(t) < time.Minute {
				return nil
			}
			_, err := c.Do("PING")
			return err
		},
	}
	cache.breaker = gobreaker.NewCircuitBreaker[interface{}](gobreaker.Settings{
		Name:    "view-cache",
		Timeout: config.Breaker.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return config.Breaker.Failures > 0 && counts.ConsecutiveFailures >= config.Breaker.Failures
		},
		IsSuccessful: func(err error) bool {
			return err == nil || !unavailable(err)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			metrics.CacheBreakerState.Set(float64(to))
			cache.log.Warn().Str("from", from.String()).Str("to", to.String()).Msg("Cache circuit breaker changed state")
		},
	})
	return
}

//GetDialer enables dialing in a redis.Pool
func GetDialer(config conf.RedisConfig) func(ctx context.Context) (redis.Conn, error) {
	f := func(ctx context.Context) (redis.Conn, error) {
		return redis.DialContext(ctx, config.Proto, config.Address,
			redis.DialPassword(config.Password),
			redis.DialDatabase(config.DB),
			redis.DialConnectTimeout(config.Timeout),
			redis.DialReadTimeout(config.Timeout),
			redis.DialWriteTimeout(config.Timeout),
		)
	}
	return f
}

//Close releases every pooled connection.
func (c *Cache) Close() error {
	return c.pool.Close()
}

//Ping checks redis is reachable.
func (c *Cache) Ping(ctx context.Context) error {
	_, err := c.do(ctx, "ping", func(ctx context.Context, conn redis.Conn) (interface{}, error) {
		return redis.DoContext(conn, ctx, "PING")
	})
	return err
}

//do runs fn against a pooled connection under the configured timeout and the circuit breaker.
//Failures to reach redis come back wrapping gp.ErrCacheUnavailable; redis reply errors come back as they are.
//If the caller's own ctx is done, its error comes back unwrapped and the breaker doesn't hear about it.
func (c *Cache) do(ctx context.Context, op string, fn func(context.Context, redis.Conn) (interface{}, error)) (interface{}, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	tctx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	defer cancel()
	reply, err := c.breaker.Execute(func() (interface{}, error) {
		conn, err := c.pool.GetContext(tctx)
		if err == nil {
			defer conn.Close()
			var reply interface{}
			reply, err = fn(tctx, conn)
			if err == nil {
				return reply, nil
			}
		}
		if ctx.Err() != nil {
			return nil, abandoned{ctx.Err()}
		}
		return nil, err
	})
	var gone abandoned
	if errors.As(err, &gone) {
		return nil, gone.err
	}
	if err != nil && unavailable(err) {
		metrics.CacheErrors.WithLabelValues(op).Inc()
		return nil, fmt.Errorf("%s: %w (%v)", op, gp.ErrCacheUnavailable, err)
	}
	return reply, err
}

//abandoned marks a call cut short by its caller rather than by redis.
type abandoned struct {
	err error
}

func (a abandoned) Error() string { return a.err.Error() }
func (a abandoned) Unwrap() error { return a.err }

//unavailable is true for errors which say nothing about the data, only that redis couldn't be asked:
//dial failures, timeouts, broken connections and an open breaker. Reply errors such as WRONGTYPE don't count, nor do calls the caller gave up on.
func unavailable(err error) bool {
	if err == nil {
		return false
	}
	var gone abandoned
	if errors.As(err, &gone) {
		return false
	}
	var rerr redis.Error
	return !errors.As(err, &rerr) && !errors.Is(err, redis.ErrNil)
}
