package counter

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"testing"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ManuelReschke/Melodex/app/models"
	"github.com/ManuelReschke/Melodex/app/repository/repotest"
)

func TestParseCounts(t *testing.T) {
	got := parseCounts(map[string]string{
		"12":  "3",
		"2":   "1",
		"abc": "4",
		"7":   "0",
		"9":   "x",
		"0":   "5",
	})
	assert.Equal(t, []pair{{id: 2, inc: 1}, {id: 12, inc: 3}}, got)
}

func TestParseCounts_Empty(t *testing.T) {
	assert.Empty(t, parseCounts(nil))
}

// memoryHashes implements hashStore with Redis hash semantics.
type memoryHashes struct {
	mu     sync.Mutex
	hashes map[string]map[string]int64
}

func newMemoryHashes() *memoryHashes {
	return &memoryHashes{hashes: map[string]map[string]int64{}}
}

func (m *memoryHashes) HIncrBy(_ context.Context, key, field string, incr int64) *redis.IntCmd {
	m.mu.Lock()
	defer m.mu.Unlock()
	h, ok := m.hashes[key]
	if !ok {
		h = map[string]int64{}
		m.hashes[key] = h
	}
	h[field] += incr
	return redis.NewIntResult(h[field], nil)
}

func (m *memoryHashes) HGetAll(_ context.Context, key string) *redis.MapStringStringCmd {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := map[string]string{}
	for field, v := range m.hashes[key] {
		out[field] = strconv.FormatInt(v, 10)
	}
	return redis.NewMapStringStringResult(out, nil)
}

func (m *memoryHashes) Rename(_ context.Context, key, newkey string) *redis.StatusCmd {
	m.mu.Lock()
	defer m.mu.Unlock()
	h, ok := m.hashes[key]
	if !ok {
		return redis.NewStatusResult("", errors.New("ERR no such key"))
	}
	delete(m.hashes, key)
	m.hashes[newkey] = h
	return redis.NewStatusResult("OK", nil)
}

func (m *memoryHashes) Del(_ context.Context, keys ...string) *redis.IntCmd {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, k := range keys {
		if _, ok := m.hashes[k]; ok {
			delete(m.hashes, k)
			n++
		}
	}
	return redis.NewIntResult(n, nil)
}

func (m *memoryHashes) keys() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for k := range m.hashes {
		out = append(out, k)
	}
	return out
}

func newTestCounter(t *testing.T) (*Counter, *memoryHashes, *repotest.Store, []*models.Melody) {
	t.Helper()
	store := repotest.NewStore()
	repos := store.Repositories()
	var melodies []*models.Melody
	for _, title := range []string{"Night Drive", "Sunrise"} {
		m := &models.Melody{ProducerID: 1, Title: title}
		require.NoError(t, repos.Melody.Create(context.Background(), m))
		melodies = append(melodies, m)
	}
	hashes := newMemoryHashes()
	return &Counter{rdb: hashes, melodies: repos.Melody, log: zap.NewNop()}, hashes, store, melodies
}

func downloads(t *testing.T, store *repotest.Store, id uint) int64 {
	t.Helper()
	m, err := store.Repositories().Melody.GetByID(context.Background(), id)
	require.NoError(t, err)
	return m.DownloadCount
}

func TestFlush_AppliesAndDrains(t *testing.T) {
	ctx := context.Background()
	c, hashes, store, melodies := newTestCounter(t)

	for i := 0; i < 3; i++ {
		require.NoError(t, c.AddMelodyDownload(ctx, melodies[0].ID))
	}
	require.NoError(t, c.AddMelodyDownload(ctx, melodies[1].ID))

	require.NoError(t, c.Flush(ctx))
	assert.Equal(t, int64(3), downloads(t, store, melodies[0].ID))
	assert.Equal(t, int64(1), downloads(t, store, melodies[1].ID))
	assert.Empty(t, hashes.keys(), "the drained hash and its temporary copy are gone")

	require.NoError(t, c.Flush(ctx), "nothing pending")
}

func TestFlush_RequeuesFailedIncrements(t *testing.T) {
	ctx := context.Background()
	c, hashes, store, melodies := newTestCounter(t)

	require.NoError(t, c.AddMelodyDownload(ctx, melodies[0].ID))
	require.NoError(t, c.AddMelodyDownload(ctx, melodies[0].ID))
	require.NoError(t, c.AddMelodyDownload(ctx, melodies[1].ID))

	store.FailOn("Melody.IncrementDownloads", errors.New("connection refused"))
	assert.Error(t, c.Flush(ctx))
	assert.Equal(t, []string{melodyDownloadsKey}, hashes.keys())

	require.NoError(t, c.AddMelodyDownload(ctx, melodies[1].ID))

	store.FailOn("Melody.IncrementDownloads", nil)
	require.NoError(t, c.Flush(ctx))
	assert.Equal(t, int64(2), downloads(t, store, melodies[0].ID))
	assert.Equal(t, int64(2), downloads(t, store, melodies[1].ID))
	assert.Empty(t, hashes.keys())
}
