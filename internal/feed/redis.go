// Package feed delivers decoded upstream events into the correlation
// engine. The gateway does not speak the chat platform's wire protocol
// itself; an external bridge decodes messages and pushes them onto a
// Redis list this feed drains.
package feed

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"mjgateway/internal/domain"
	"mjgateway/internal/engine"
)

// DefaultQueueKey is the list the bridge pushes decoded events onto.
const DefaultQueueKey = "mj-gateway::events"

// RedisFeed blocks on the event list and hands each record to the
// engine on its own goroutine, matching the one-worker-per-event
// scheduling model.
type RedisFeed struct {
	rdb    *redis.Client
	key    string
	engine *engine.Engine
	logger zerolog.Logger
}

// NewRedisFeed creates a feed for the given list key (empty means
// DefaultQueueKey).
func NewRedisFeed(rdb *redis.Client, key string, eng *engine.Engine, logger zerolog.Logger) *RedisFeed {
	if key == "" {
		key = DefaultQueueKey
	}
	return &RedisFeed{rdb: rdb, key: key, engine: eng, logger: logger}
}

// Run drains the list until ctx is canceled.
func (f *RedisFeed) Run(ctx context.Context) error {
	for {
		res, err := f.rdb.BLPop(ctx, 5*time.Second, f.key).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			f.logger.Warn().Err(err).Msg("event feed read failed")
			time.Sleep(time.Second)
			continue
		}
		if len(res) < 2 {
			continue
		}
		var ev domain.EventRecord
		if err := json.Unmarshal([]byte(res[1]), &ev); err != nil {
			f.logger.Warn().Err(err).Msg("malformed event record dropped")
			continue
		}
		go f.engine.OnEvent(ctx, ev)
	}
}
