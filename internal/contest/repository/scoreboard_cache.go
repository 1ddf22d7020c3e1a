package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"eduoj/internal/common/cache"
	"eduoj/internal/contest/model"

	"github.com/klauspost/compress/zstd"
)

const (
	defaultScoreboardTTL     = 15 * time.Second
	scoreboardCacheKeyPrefix = "scoreboard:"

	scoreboardGenerationKeyPrefix = "scoreboard:gen:"
)

// ScoreboardCache keeps rendered scoreboards in Redis as zstd-compressed JSON.
// Large contests produce wide grids that compress well. Each contest has a
// generation counter; snapshot keys carry the generation they belong to.
type ScoreboardCache struct {
	cache   cache.Cache
	ttl     time.Duration
	encoder *zstd.Encoder
	decoder *zstd.Decoder
}

// NewScoreboardCache creates a snapshot cache; ttl <= 0 uses the default.
func NewScoreboardCache(cacheClient cache.Cache, ttl time.Duration) (*ScoreboardCache, error) {
	if cacheClient == nil {
		return nil, errors.New("cache is required")
	}
	if ttl <= 0 {
		ttl = defaultScoreboardTTL
	}
	encoder, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		return nil, fmt.Errorf("create zstd encoder failed: %w", err)
	}
	decoder, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("create zstd decoder failed: %w", err)
	}
	return &ScoreboardCache{cache: cacheClient, ttl: ttl, encoder: encoder, decoder: decoder}, nil
}

// Generation returns the snapshot generation of a contest. Snapshots are
// only served under the generation they were built in.
func (c *ScoreboardCache) Generation(ctx context.Context, contestID int64) (int64, error) {
	raw, err := c.cache.Get(ctx, scoreboardGenerationKey(contestID))
	if err != nil {
		return 0, err
	}
	if raw == "" {
		return 0, nil
	}
	gen, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse scoreboard generation failed: %w", err)
	}
	return gen, nil
}

// Get returns the snapshot stored under gen, or ok=false on a miss.
// Undecodable entries count as misses.
func (c *ScoreboardCache) Get(ctx context.Context, contestID, gen int64) (*model.Scoreboard, bool, error) {
	raw, err := c.cache.Get(ctx, scoreboardCacheKey(contestID, gen))
	if err != nil {
		return nil, false, err
	}
	if raw == "" {
		return nil, false, nil
	}
	data, err := c.decoder.DecodeAll([]byte(raw), nil)
	if err != nil {
		return nil, false, nil
	}
	var sb model.Scoreboard
	if err := json.Unmarshal(data, &sb); err != nil {
		return nil, false, nil
	}
	return &sb, true, nil
}

// Put stores a snapshot under the generation read before it was built. A
// snapshot that raced an invalidation lands under a dead generation and is
// never served.
func (c *ScoreboardCache) Put(ctx context.Context, sb *model.Scoreboard, gen int64) error {
	if sb == nil {
		return nil
	}
	data, err := json.Marshal(sb)
	if err != nil {
		return fmt.Errorf("encode scoreboard failed: %w", err)
	}
	return c.cache.Set(ctx, scoreboardCacheKey(sb.ContestID, gen), string(c.encoder.EncodeAll(data, nil)), c.ttl)
}

// Invalidate starts a new generation for the contest. Older snapshots expire
// on their own.
func (c *ScoreboardCache) Invalidate(ctx context.Context, contestID int64) error {
	_, err := c.cache.Incr(ctx, scoreboardGenerationKey(contestID))
	return err
}

func scoreboardCacheKey(contestID, gen int64) string {
	return idKey(scoreboardCacheKeyPrefix, contestID) + ":" + strconv.FormatInt(gen, 10)
}

func scoreboardGenerationKey(contestID int64) string {
	return idKey(scoreboardGenerationKeyPrefix, contestID)
}
