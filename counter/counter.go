package counter

import (
	"context"
	"fmt"

	"github.com/xeptore/tunedl/config"
)

// Stat is the aggregate delivery counter shown on the home page.
type Stat struct {
	DeliveredCount     int64
	LastDeliveredLabel string
}

type Store interface {
	// Record increments the delivered count and sets the last delivered label
	// in one atomic step, returning the updated stat.
	Record(ctx context.Context, label string) (Stat, error)
	Read(ctx context.Context) (Stat, error)
	Close() error
}

func New(conf config.Store) (Store, error) {
	switch k := conf.Kind; k {
	case config.StoreKindBolt:
		return NewBoltStore(conf.Path)
	case config.StoreKindRedis:
		return NewRedisStore(context.Background(), conf.Redis)
	default:
		return nil, fmt.Errorf("unsupported store kind: %s", k)
	}
}
