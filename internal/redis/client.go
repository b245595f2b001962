package redisclient

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// ClientConfig describes the single Redis instance shared by slot locks and
// the booking event stream.
type ClientConfig struct {
	Addr     string
	Username string
	Password string
	// PoolSize defaults to 10. The notify worker holds one connection in a
	// blocking XREADGROUP, so it wants a couple spare.
	PoolSize int
}

// NewRedisClient connects and pings. The caller owns Close.
func NewRedisClient(ctx context.Context, cc ClientConfig, logger *zap.Logger) (*redis.Client, error) {
	if cc.PoolSize <= 0 {
		cc.PoolSize = 10
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:         cc.Addr,
		Username:     cc.Username,
		Password:     cc.Password,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
		PoolSize:     cc.PoolSize,
		MinIdleConns: 1,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	start := time.Now()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("ping redis at %s: %w", cc.Addr, err)
	}
	logger.Info("connected to redis",
		zap.String("addr", cc.Addr),
		zap.Int("pool_size", cc.PoolSize),
		zap.Duration("ping", time.Since(start)),
	)

	return rdb, nil
}
