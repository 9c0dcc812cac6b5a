package status

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

var ErrNoStatus = errors.New("no status recorded")

type redisReader interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

// Lookup reads the latest status a Redis reporter stored for a job.
type Lookup struct {
	rdb redisReader
}

func NewLookup(rdb redisReader) *Lookup {
	return &Lookup{rdb: rdb}
}

// Latest returns the stored JSON document for jobID.
func (l *Lookup) Latest(ctx context.Context, jobID string) ([]byte, error) {
	b, err := l.rdb.Get(ctx, StatusKey(jobID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%s: %w", jobID, ErrNoStatus)
	}
	if err != nil {
		return nil, fmt.Errorf("read status for %s: %w", jobID, err)
	}
	return b, nil
}
