package service

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"time"

	"eduoj/internal/common/db"
	"eduoj/internal/common/metrics"
	"eduoj/internal/contest/model"
	"eduoj/internal/contest/repository"
	appErr "eduoj/pkg/errors"
	"eduoj/pkg/utils/logger"

	"github.com/zeromicro/go-zero/core/syncx"
	"go.uber.org/zap"
)

// SnapshotCache stores rendered scoreboards per contest generation.
// Invalidate moves the contest to a new generation.
type SnapshotCache interface {
	Generation(ctx context.Context, contestID int64) (int64, error)
	Get(ctx context.Context, contestID, gen int64) (*model.Scoreboard, bool, error)
	Put(ctx context.Context, sb *model.Scoreboard, gen int64) error
	Invalidate(ctx context.Context, contestID int64) error
}

// AggregatorConfig holds scoreboard aggregator dependencies.
type AggregatorConfig struct {
	Provider     db.Provider
	Contests     repository.ContestRepository
	Participants repository.ParticipantRepository
	Stats        repository.ScoreboardRepository
	Cache        SnapshotCache
	Timeouts     TimeoutConfig
	Now          func() time.Time
}

// Aggregator builds ranked scoreboards from participants and submissions.
type Aggregator struct {
	provider     db.Provider
	contests     repository.ContestRepository
	participants repository.ParticipantRepository
	stats        repository.ScoreboardRepository
	cache        SnapshotCache
	flight       syncx.SingleFlight
	timeouts     TimeoutConfig
	now          func() time.Time
}

// NewAggregator creates a scoreboard aggregator. The cache is optional.
func NewAggregator(cfg AggregatorConfig) (*Aggregator, error) {
	if cfg.Provider == nil {
		return nil, fmt.Errorf("database provider is required")
	}
	if cfg.Contests == nil || cfg.Participants == nil || cfg.Stats == nil {
		return nil, fmt.Errorf("contest, participant and scoreboard repositories are required")
	}
	return &Aggregator{
		provider:     cfg.Provider,
		contests:     cfg.Contests,
		participants: cfg.Participants,
		stats:        cfg.Stats,
		cache:        cfg.Cache,
		flight:       syncx.NewSingleFlight(),
		timeouts:     cfg.Timeouts,
		now:          nowFunc(cfg.Now),
	}, nil
}

// Build returns the contest scoreboard. Concurrent misses for one contest
// generation share a single database read. The generation is read before
// the database, so a snapshot built across an invalidation is stored under
// the old generation and never served.
func (a *Aggregator) Build(ctx context.Context, contestID int64) (*model.Scoreboard, error) {
	if contestID <= 0 {
		return nil, appErr.ValidationError("contest_id", "required")
	}
	gen, cacheable := a.generation(ctx, contestID)
	if cacheable {
		if sb, ok := a.cached(ctx, contestID, gen); ok {
			metrics.ScoreboardCacheHits.WithLabelValues("hit").Inc()
			return sb, nil
		}
	}
	metrics.ScoreboardCacheHits.WithLabelValues("miss").Inc()

	key := strconv.FormatInt(contestID, 10) + ":" + strconv.FormatInt(gen, 10)
	v, err := a.flight.Do(key, func() (any, error) {
		sb, err := a.build(ctx, contestID)
		if err != nil {
			return nil, err
		}
		if cacheable {
			a.store(ctx, sb, gen)
		}
		return sb, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*model.Scoreboard), nil
}

func (a *Aggregator) build(ctx context.Context, contestID int64) (*model.Scoreboard, error) {
	started := time.Now()
	defer func() {
		metrics.ScoreboardBuildDuration.Observe(time.Since(started).Seconds())
	}()

	ctxDB := withTimeout(ctx, a.timeouts.DB)
	defer ctxDB.cancel()
	database, err := db.CurrentDatabase(a.provider)
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.DatabaseError, "database unavailable")
	}

	var (
		contest      *model.Contest
		participants []model.Participant
		stats        []model.CellStat
	)
	tx, err := database.BeginTx(ctxDB.ctx, snapshotOptions(database.Dialect()))
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.DatabaseError, "begin scoreboard snapshot failed")
	}
	defer func() { _ = tx.Rollback() }()

	contest, err = loadContest(ctxDB.ctx, a.contests, tx, contestID)
	if err != nil {
		return nil, err
	}
	participants, err = a.participants.ListActive(ctxDB.ctx, tx, contestID)
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.DatabaseError, "list participants failed")
	}
	stats, err = a.stats.CellStats(ctxDB.ctx, tx, contestID)
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.DatabaseError, "aggregate submissions failed")
	}
	if err := tx.Commit(); err != nil {
		return nil, appErr.Wrapf(err, appErr.DatabaseError, "close scoreboard snapshot failed")
	}

	return &model.Scoreboard{
		ContestID:   contestID,
		TaskIDs:     contest.TaskIDs,
		Rows:        model.BuildRows(contest.TaskIDs, participants, stats),
		GeneratedAt: a.now(),
	}, nil
}

// generation reads the snapshot generation. Without a readable generation
// the scoreboard is built but not cached.
func (a *Aggregator) generation(ctx context.Context, contestID int64) (int64, bool) {
	if a.cache == nil {
		return 0, false
	}
	ctxCache := withTimeout(ctx, a.timeouts.Cache)
	defer ctxCache.cancel()
	gen, err := a.cache.Generation(ctxCache.ctx, contestID)
	if err != nil {
		logger.Warn(ctx, "scoreboard generation read failed", zap.Int64("contest_id", contestID), zap.Error(err))
		return 0, false
	}
	return gen, true
}

func (a *Aggregator) cached(ctx context.Context, contestID, gen int64) (*model.Scoreboard, bool) {
	ctxCache := withTimeout(ctx, a.timeouts.Cache)
	defer ctxCache.cancel()
	sb, ok, err := a.cache.Get(ctxCache.ctx, contestID, gen)
	if err != nil {
		logger.Warn(ctx, "scoreboard cache get failed", zap.Int64("contest_id", contestID), zap.Error(err))
		return nil, false
	}
	return sb, ok
}

func (a *Aggregator) store(ctx context.Context, sb *model.Scoreboard, gen int64) {
	ctxCache := withTimeout(ctx, a.timeouts.Cache)
	defer ctxCache.cancel()
	if err := a.cache.Put(ctxCache.ctx, sb, gen); err != nil {
		logger.Warn(ctx, "scoreboard cache put failed", zap.Int64("contest_id", sb.ContestID), zap.Error(err))
	}
}

// Invalidate retires the cached snapshots of a contest.
func (a *Aggregator) Invalidate(ctx context.Context, contestID int64) {
	if a.cache == nil {
		return
	}
	ctxCache := withTimeout(ctx, a.timeouts.Cache)
	defer ctxCache.cancel()
	if err := a.cache.Invalidate(ctxCache.ctx, contestID); err != nil {
		logger.Warn(ctx, "scoreboard cache invalidate failed", zap.Int64("contest_id", contestID), zap.Error(err))
	}
}

// HandleFinalStatus refreshes the scoreboard once a contestant's submission
// has been graded.
func (a *Aggregator) HandleFinalStatus(ctx context.Context, s model.Submission) error {
	if s.Scored() {
		a.Invalidate(ctx, s.ContestID)
	}
	return nil
}

// snapshotOptions reads all scoreboard inputs from one consistent view.
// SQLite serializes transactions already.
func snapshotOptions(dialect db.Dialect) *db.TxOptions {
	if dialect == db.DialectSQLite {
		return nil
	}
	return &db.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true}
}
