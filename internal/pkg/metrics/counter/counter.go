// Package counter buffers melody download counts in Redis and flushes them
// to the database in batches.
package counter

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/ManuelReschke/Melodex/app/repository"
	"github.com/ManuelReschke/Melodex/internal/pkg/logger"
)

const melodyDownloadsKey = "melody:counters:downloads"

// DefaultFlushInterval is how often pending counts are written back.
const DefaultFlushInterval = time.Minute

// hashStore is the subset of redis.Cmdable the counter uses.
type hashStore interface {
	HIncrBy(ctx context.Context, key, field string, incr int64) *redis.IntCmd
	HGetAll(ctx context.Context, key string) *redis.MapStringStringCmd
	Rename(ctx context.Context, key, newkey string) *redis.StatusCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

type Counter struct {
	rdb      hashStore
	melodies repository.MelodyRepository
	log      *zap.Logger
}

func New(rdb redis.Cmdable, melodies repository.MelodyRepository) *Counter {
	return &Counter{rdb: rdb, melodies: melodies, log: logger.Named("counter")}
}

// AddMelodyDownload increments the pending download counter for a melody in Redis
func (c *Counter) AddMelodyDownload(ctx context.Context, melodyID uint) error {
	field := strconv.FormatUint(uint64(melodyID), 10)
	return c.rdb.HIncrBy(ctx, melodyDownloadsKey, field, 1).Err()
}

// Flush drains the Redis hash and applies the increments.
// RENAME to a temporary key keeps in-flight increments out of the drained set.
// Increments the database rejects are added back to the live hash.
func (c *Counter) Flush(ctx context.Context) error {
	tmpKey := fmt.Sprintf("%s:tmp:%d", melodyDownloadsKey, time.Now().UnixNano())
	if err := c.rdb.Rename(ctx, melodyDownloadsKey, tmpKey).Err(); err != nil {
		if errors.Is(err, redis.Nil) || strings.Contains(strings.ToLower(err.Error()), "no such key") {
			return nil
		}
		return err
	}
	defer c.rdb.Del(context.WithoutCancel(ctx), tmpKey)

	data, err := c.rdb.HGetAll(ctx, tmpKey).Result()
	if err != nil {
		return err
	}

	var errs []error
	var failed []pair
	for _, p := range parseCounts(data) {
		if err := c.melodies.IncrementDownloads(ctx, p.id, p.inc); err != nil {
			errs = append(errs, fmt.Errorf("melody %d: %w", p.id, err))
			failed = append(failed, p)
		}
	}
	c.requeue(context.WithoutCancel(ctx), failed)
	return errors.Join(errs...)
}

func (c *Counter) requeue(ctx context.Context, pairs []pair) {
	for _, p := range pairs {
		field := strconv.FormatUint(uint64(p.id), 10)
		if err := c.rdb.HIncrBy(ctx, melodyDownloadsKey, field, p.inc).Err(); err != nil {
			c.log.Error("dropping download increments",
				zap.Uint("melody_id", p.id),
				zap.Int64("count", p.inc),
				zap.Error(err))
		}
	}
}

// Run flushes on every tick until ctx is done, then flushes once more.
func (c *Counter) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			if err := c.Flush(context.WithoutCancel(ctx)); err != nil {
				c.log.Error("final counter flush failed", zap.Error(err))
			}
			return
		case <-ticker.C:
			if err := c.Flush(ctx); err != nil {
				c.log.Error("counter flush failed", zap.Error(err))
			}
		}
	}
}

type pair struct {
	id  uint
	inc int64
}

// parseCounts skips malformed and zero entries and sorts by id.
func parseCounts(data map[string]string) []pair {
	pairs := make([]pair, 0, len(data))
	for k, v := range data {
		id, perr := strconv.ParseUint(k, 10, 64)
		if perr != nil || id == 0 {
			continue
		}
		inc, ierr := strconv.ParseInt(v, 10, 64)
		if ierr != nil || inc == 0 {
			continue
		}
		pairs = append(pairs, pair{id: uint(id), inc: inc})
	}
	sort.Slice(pairs, func(i, j int) bool { return pairs[i].id < pairs[j].id })
	return pairs
}
