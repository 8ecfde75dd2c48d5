package counter

import (
	"context"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"

	"github.com/xeptore/tunedl/config"
)

// RedisStore lets several server instances share one counter.
type RedisStore struct {
	client   *redis.Client
	countKey string
	labelKey string
}

func NewRedisStore(ctx context.Context, conf config.Redis) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{ //nolint:exhaustruct
		Addr:     conf.Addr,
		Password: conf.Password,
		DB:       conf.DB,
	})

	if err := client.Ping(ctx).Err(); nil != err {
		if closeErr := client.Close(); nil != closeErr {
			err = fmt.Errorf("%v; failed to close client: %v", err, closeErr)
		}

		return nil, fmt.Errorf("failed to connect to redis: %v", err)
	}

	return &RedisStore{
		client:   client,
		countKey: conf.KeyPrefix + "visits:count",
		labelKey: conf.KeyPrefix + "visits:last_label",
	}, nil
}

func (s *RedisStore) Close() error {
	if err := s.client.Close(); nil != err {
		return fmt.Errorf("failed to close redis client: %v", err)
	}

	return nil
}

func (s *RedisStore) Record(ctx context.Context, label string) (Stat, error) {
	var incr *redis.IntCmd
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.Incr(ctx, s.countKey)
		pipe.Set(ctx, s.labelKey, label, 0)

		return nil
	})
	if nil != err {
		return Stat{}, fmt.Errorf("failed to record visit: %v", err)
	}

	return Stat{DeliveredCount: incr.Val(), LastDeliveredLabel: label}, nil
}

func (s *RedisStore) Read(ctx context.Context) (Stat, error) {
	vals, err := s.client.MGet(ctx, s.countKey, s.labelKey).Result()
	if nil != err {
		return Stat{}, fmt.Errorf("failed to read visits: %v", err)
	}

	var stat Stat
	if v, ok := vals[0].(string); ok {
		n, err := strconv.ParseInt(v, 10, 64)
		if nil != err {
			return Stat{}, fmt.Errorf("invalid stored count %q: %v", v, err)
		}
		stat.DeliveredCount = n
	}

	if v, ok := vals[1].(string); ok {
		stat.LastDeliveredLabel = v
	}

	return stat, nil
}
