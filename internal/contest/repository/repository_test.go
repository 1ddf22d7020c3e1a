package repository_test

import (
	"bytes"
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"eduoj/internal/common/cache"
	"eduoj/internal/common/db"
	"eduoj/internal/common/storage"
	"eduoj/internal/contest/model"
	"eduoj/internal/contest/repository"
	"eduoj/internal/testutil"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newCache(t *testing.T) (*cache.RedisCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	c, err := cache.NewRedisCacheWithClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c, mr
}

func seedTask(t *testing.T, repo repository.TaskRepository, grading model.GradingMode, points ...int64) *model.Task {
	t.Helper()
	ctx := context.Background()
	task := &model.Task{OwnerID: 1, Title: "A+B", Statement: "sum", TimeLimitSec: 1, MemoryLimitMB: 128,
		AnswerType: model.AnswerConstant, ExecuteType: model.ExecuteBuildAndRun, Grading: grading}
	_, err := repo.Create(ctx, nil, task)
	require.NoError(t, err)
	specs := make([]model.TestCaseSpec, len(points))
	for i := range points {
		p := points[i]
		specs[i] = model.TestCaseSpec{Content: "1 2", Answer: "3", MaxPoints: &p}
	}
	_, err = repo.AddTests(ctx, nil, task.ID, specs)
	require.NoError(t, err)
	stored, err := repo.GetByID(ctx, nil, task.ID)
	require.NoError(t, err)
	return stored
}

func seedArtifact(t *testing.T, database db.Database) *model.CodeArtifact {
	t.Helper()
	a := &model.CodeArtifact{AuthorID: 7, Language: "Python3", Filename: "main.py", ObjectKey: "code/2026/03/01/x.py",
		Digest: repository.Digest([]byte("print(3)")), SizeBytes: 8, Code: "print(3)"}
	_, err := repository.NewArtifactRepository(database).Create(context.Background(), nil, a)
	require.NoError(t, err)
	return a
}

func TestTaskRepositoryLifecycle(t *testing.T) {
	ctx := context.Background()
	database := testutil.NewSQLite(t)
	c, _ := newCache(t)
	repo := repository.NewTaskRepository(database, c)

	task := seedTask(t, repo, model.GradingPointsPerTest, 10, 20)
	require.Equal(t, 2, task.Version, "storing tests bumps the version")

	got, err := repo.GetByID(ctx, nil, task.ID)
	require.NoError(t, err)
	assert.Equal(t, "A+B", got.Title)
	assert.Nil(t, got.Course)

	task.Title = "A plus B"
	task.Course = &model.CourseBinding{CourseID: 4, Difficulty: 3, Visible: true}
	require.NoError(t, repo.Update(ctx, nil, task))
	assert.Equal(t, 3, task.Version)

	got, err = repo.GetByID(ctx, nil, task.ID)
	require.NoError(t, err)
	assert.Equal(t, "A plus B", got.Title)
	assert.Equal(t, 3, got.Version)
	require.NotNil(t, got.Course)
	assert.Equal(t, int64(4), got.Course.CourseID)

	tests, err := repo.ListTests(ctx, nil, task.ID)
	require.NoError(t, err)
	require.Len(t, tests, 2)
	assert.Equal(t, int64(10), tests[0].MaxPoints)
	assert.Less(t, tests[0].ID, tests[1].ID)

	_, err = repo.AddTests(ctx, nil, task.ID, []model.TestCaseSpec{{Content: "5 5", Answer: "10"}})
	require.NoError(t, err)
	tests, err = repo.ListTests(ctx, nil, task.ID)
	require.NoError(t, err)
	require.Len(t, tests, 3, "cached list must be invalidated by AddTests")
	assert.Equal(t, int64(model.DefaultTestMaxPoints), tests[2].MaxPoints)
	got, err = repo.GetByID(ctx, nil, task.ID)
	require.NoError(t, err)
	assert.Equal(t, 4, got.Version, "cached task must be invalidated by AddTests")

	_, err = repo.AddTests(ctx, nil, task.ID, nil)
	require.NoError(t, err)
	got, err = repo.GetByID(ctx, nil, task.ID)
	require.NoError(t, err)
	assert.Equal(t, 4, got.Version, "adding nothing keeps the version")

	_, err = repo.GetByID(ctx, nil, 999)
	require.ErrorIs(t, err, repository.ErrTaskNotFound)
	require.ErrorIs(t, repo.Update(ctx, nil, &model.Task{ID: 999}), repository.ErrTaskNotFound)

	missing, err := repo.MissingIDs(ctx, nil, []int64{task.ID, 999})
	require.NoError(t, err)
	assert.Equal(t, []int64{999}, missing)
}

func TestTaskRepositoryValidationFlag(t *testing.T) {
	ctx := context.Background()
	database := testutil.NewSQLite(t)
	c, _ := newCache(t)
	repo := repository.NewTaskRepository(database, c)
	task := seedTask(t, repo, model.GradingBinary, 1)
	artifact := seedArtifact(t, database)

	require.NoError(t, repo.SetValidated(ctx, nil, task.ID, true))
	got, err := repo.GetByID(ctx, nil, task.ID)
	require.NoError(t, err)
	assert.True(t, got.IsValidated)

	require.NoError(t, repo.SetReference(ctx, nil, task.ID, artifact.ID))
	got, err = repo.GetByID(ctx, nil, task.ID)
	require.NoError(t, err)
	assert.False(t, got.IsValidated)
	assert.Equal(t, artifact.ID, got.ReferenceArtifactID)
}

func TestTaskRepositoryZeroTests(t *testing.T) {
	database := testutil.NewSQLite(t)
	c, _ := newCache(t)
	repo := repository.NewTaskRepository(database, c)
	task := seedTask(t, repo, model.GradingBinary)

	for i := 0; i < 2; i++ {
		tests, err := repo.ListTests(context.Background(), nil, task.ID)
		require.NoError(t, err)
		assert.Empty(t, tests)
	}
}

func TestSubmissionRepositoryStateChanges(t *testing.T) {
	ctx := context.Background()
	database := testutil.NewSQLite(t)
	c, _ := newCache(t)
	tasks := repository.NewTaskRepository(database, c)
	repo := repository.NewSubmissionRepository(database, c)
	task := seedTask(t, tasks, model.GradingBinary, 1)
	artifact := seedArtifact(t, database)

	s := model.NewSubmission(7, task.ID, artifact.ID, model.EventUserSolution, time.Now().UTC())
	s.ContestID, s.ParticipantID = 3, 9
	_, err := repo.Create(ctx, nil, &s)
	require.NoError(t, err)

	got, err := repo.GetByID(ctx, nil, s.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusAwaitingCheck, got.Status)
	assert.Equal(t, "Python3", got.Language)
	assert.Equal(t, int64(3), got.ContestID)
	assert.Zero(t, got.CourseID)

	assert.Zero(t, got.TaskVersion)

	attempt, ok, err := repo.MarkQueued(ctx, nil, s.ID, task.Version)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 1, attempt)
	_, ok, err = repo.MarkQueued(ctx, nil, s.ID, task.Version)
	require.NoError(t, err)
	assert.False(t, ok, "queued submission must not be queued twice")

	queued, err := repo.GetByID(ctx, nil, s.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusQueued, queued.Status, "cache must be invalidated on queue")
	assert.Equal(t, task.Version, queued.TaskVersion)

	next := *queued
	next.Status, next.Verdict, next.Points = model.StatusCheckSucceeded, model.VerdictCorrect, 1
	ok, err = repo.SaveOutcome(ctx, nil, *queued, next)
	require.NoError(t, err)
	require.True(t, ok)
	ok, err = repo.SaveOutcome(ctx, nil, *queued, next)
	require.NoError(t, err)
	assert.False(t, ok, "outcome computed from a stale row must be rejected")

	ok, err = repo.ResetForRejudge(ctx, nil, s.ID, model.RejudgeFrom(false))
	require.NoError(t, err)
	require.True(t, ok)
	reset, err := repo.GetByID(ctx, nil, s.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusAwaitingCheck, reset.Status)
	assert.Equal(t, model.VerdictNone, reset.Verdict)
	assert.Zero(t, reset.Points)

	ok, err = repo.ResetForRejudge(ctx, nil, s.ID, model.RejudgeFrom(false))
	require.NoError(t, err)
	assert.False(t, ok, "awaiting submission is not rejudgeable")
	ok, err = repo.ResetForRejudge(ctx, nil, s.ID, model.RejudgeFrom(true))
	require.NoError(t, err)
	assert.True(t, ok, "a forced rejudge recovers an awaiting submission")

	require.NoError(t, repo.NoteUngradable(ctx, nil, s.ID, model.NoTestsText))
	noted, err := repo.GetByID(ctx, nil, s.ID)
	require.NoError(t, err)
	assert.Equal(t, model.NoTestsText, noted.VerdictText)
}

func TestContestRepositoryStatusCAS(t *testing.T) {
	ctx := context.Background()
	database := testutil.NewSQLite(t)
	repo := repository.NewContestRepository(database)

	start := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	c := &model.Contest{OwnerID: 2, Title: "Cup", StartTime: start, Duration: 2 * time.Hour, TaskIDs: []int64{30, 10, 20}}
	_, err := repo.Create(ctx, nil, c)
	require.NoError(t, err)

	got, err := repo.GetByID(ctx, nil, c.ID)
	require.NoError(t, err)
	assert.Equal(t, []int64{30, 10, 20}, got.TaskIDs)
	assert.Equal(t, model.PhaseWaitForStart, got.Status)
	assert.True(t, got.StartTime.Equal(start))
	assert.Equal(t, 2*time.Hour, got.Duration)

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := repo.CompareAndSetStatus(ctx, nil, c.ID, model.PhaseWaitForStart, model.PhaseActive)
			assert.NoError(t, err)
			if ok {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, wins)

	require.NoError(t, repo.SetTasks(ctx, nil, c.ID, []int64{20}))
	ids, err := repo.ListTaskIDs(ctx, nil, c.ID)
	require.NoError(t, err)
	assert.Equal(t, []int64{20}, ids)

	_, err = repo.GetByID(ctx, nil, 404)
	require.ErrorIs(t, err, repository.ErrContestNotFound)
}

func TestParticipantRepository(t *testing.T) {
	ctx := context.Background()
	database := testutil.NewSQLite(t)
	repo := repository.NewParticipantRepository(database)

	p := &model.Participant{ContestID: 1, UserID: 7}
	_, err := repo.Create(ctx, nil, p)
	require.NoError(t, err)
	_, err = repo.Create(ctx, nil, &model.Participant{ContestID: 1, UserID: 7})
	require.ErrorIs(t, err, repository.ErrParticipantExists)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, repo.AddPenalty(ctx, nil, p.ID, 3))
		}()
	}
	wg.Wait()
	got, err := repo.GetByContestUser(ctx, nil, 1, 7)
	require.NoError(t, err)
	assert.Equal(t, int64(30), got.Penalty)

	ok, err := repo.SoftDelete(ctx, nil, p.ID, "plagiarism")
	require.NoError(t, err)
	require.True(t, ok)
	ok, err = repo.SoftDelete(ctx, nil, p.ID, "again")
	require.NoError(t, err)
	assert.False(t, ok)

	got, err = repo.GetByID(ctx, nil, p.ID)
	require.NoError(t, err)
	assert.True(t, got.Deleted)
	assert.Equal(t, "plagiarism", got.DeleteReason)

	active, err := repo.ListActive(ctx, nil, 1)
	require.NoError(t, err)
	assert.Empty(t, active)

	require.ErrorIs(t, repo.AddPenalty(ctx, nil, 404, 1), repository.ErrParticipantNotFound)
	_, err = repo.GetByContestUser(ctx, nil, 1, 8)
	require.ErrorIs(t, err, repository.ErrParticipantNotFound)
}

func TestScoreboardCellStats(t *testing.T) {
	ctx := context.Background()
	database := testutil.NewSQLite(t)
	c, _ := newCache(t)
	tasks := repository.NewTaskRepository(database, c)
	subs := repository.NewSubmissionRepository(database, nil)
	task := seedTask(t, tasks, model.GradingPointsPerTest, 50, 50)
	artifact := seedArtifact(t, database)

	insert := func(participantID int64, event model.EventType, verdict model.Verdict, points int64) {
		s := model.NewSubmission(7, task.ID, artifact.ID, event, time.Now().UTC())
		s.ContestID, s.ParticipantID = 5, participantID
		s.Verdict, s.Points = verdict, points
		if verdict != model.VerdictNone {
			s.Status = model.StatusCheckSucceeded
		}
		_, err := subs.Create(ctx, nil, &s)
		require.NoError(t, err)
	}
	insert(1, model.EventUserSolution, model.VerdictWrongAnswer, 0)
	insert(1, model.EventUserSolution, model.VerdictPartial, 50)
	insert(1, model.EventUserSolution, model.VerdictNone, 0)
	insert(2, model.EventUserSolution, model.VerdictCorrect, 100)
	insert(2, model.EventAuthorValidation, model.VerdictCorrect, 100)

	stats, err := repository.NewScoreboardRepository(database).CellStats(ctx, nil, 5)
	require.NoError(t, err)
	byParticipant := map[int64]model.CellStat{}
	for _, s := range stats {
		byParticipant[s.ParticipantID] = s
	}
	require.Len(t, byParticipant, 2)
	assert.Equal(t, model.CellStat{ParticipantID: 1, TaskID: task.ID, Attempts: 3, BestPoints: 50}, byParticipant[1])
	assert.Equal(t, model.CellStat{ParticipantID: 2, TaskID: task.ID, Attempts: 1, BestPoints: 100, Solved: true}, byParticipant[2])
}

func TestScoreboardCacheRoundTrip(t *testing.T) {
	ctx := context.Background()
	c, mr := newCache(t)
	sc, err := repository.NewScoreboardCache(c, time.Minute)
	require.NoError(t, err)

	gen, err := sc.Generation(ctx, 5)
	require.NoError(t, err)
	assert.Zero(t, gen)
	_, ok, err := sc.Get(ctx, 5, gen)
	require.NoError(t, err)
	assert.False(t, ok)

	sb := &model.Scoreboard{ContestID: 5, TaskIDs: []int64{1, 2}, Rows: []model.Row{{Rank: 1, ParticipantID: 9, TasksSolved: 2}}}
	require.NoError(t, sc.Put(ctx, sb, gen))
	got, ok, err := sc.Get(ctx, 5, gen)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, sb.Rows, got.Rows)

	require.NoError(t, mr.Set("scoreboard:5:0", "not zstd"))
	_, ok, err = sc.Get(ctx, 5, gen)
	require.NoError(t, err)
	assert.False(t, ok, "corrupt snapshot must read as a miss")

	require.NoError(t, sc.Invalidate(ctx, 5))
	next, err := sc.Generation(ctx, 5)
	require.NoError(t, err)
	assert.Equal(t, gen+1, next)
}

func TestScoreboardCacheDropsSnapshotBuiltAcrossInvalidate(t *testing.T) {
	ctx := context.Background()
	c, _ := newCache(t)
	sc, err := repository.NewScoreboardCache(c, time.Minute)
	require.NoError(t, err)

	// A build reads the generation, then a submission lands and invalidates
	// before the stale snapshot is stored.
	before, err := sc.Generation(ctx, 5)
	require.NoError(t, err)
	require.NoError(t, sc.Invalidate(ctx, 5))
	stale := &model.Scoreboard{ContestID: 5, Rows: []model.Row{{Rank: 1, ParticipantID: 9}}}
	require.NoError(t, sc.Put(ctx, stale, before))

	after, err := sc.Generation(ctx, 5)
	require.NoError(t, err)
	require.NotEqual(t, before, after)
	_, ok, err := sc.Get(ctx, 5, after)
	require.NoError(t, err)
	assert.False(t, ok, "snapshot built before the invalidation must not be served")

	fresh := &model.Scoreboard{ContestID: 5, Rows: []model.Row{{Rank: 1, ParticipantID: 9, TasksSolved: 1}}}
	require.NoError(t, sc.Put(ctx, fresh, after))
	got, ok, err := sc.Get(ctx, 5, after)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 1, got.Rows[0].TasksSolved)
}

type memStorage struct {
	objects map[string][]byte
	puts    int
}

func (m *memStorage) PutObject(_ context.Context, bucket, key string, r io.Reader, _ int64, _ string) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	m.objects[bucket+"/"+key] = data
	m.puts++
	return nil
}

func (m *memStorage) GetObject(_ context.Context, bucket, key string) (io.ReadCloser, error) {
	data, ok := m.objects[bucket+"/"+key]
	if !ok {
		return nil, storage.ErrObjectNotFound
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (m *memStorage) StatObject(_ context.Context, bucket, key string) (storage.ObjectStat, error) {
	data, ok := m.objects[bucket+"/"+key]
	if !ok {
		return storage.ObjectStat{}, storage.ErrObjectNotFound
	}
	return storage.ObjectStat{SizeBytes: int64(len(data))}, nil
}

func TestArtifactStoreIsContentAddressed(t *testing.T) {
	ctx := context.Background()
	mem := &memStorage{objects: map[string][]byte{}}
	store, err := repository.NewArtifactStore(mem, "artifacts")
	require.NoError(t, err)

	data := []byte("int main() { return 0; }")
	digest := repository.Digest(data)
	require.Len(t, digest, 64)
	key := repository.ArtifactKey(time.Date(2026, 3, 7, 23, 0, 0, 0, time.UTC), digest, "cpp")
	assert.Equal(t, "code/2026/03/07/"+digest+".cpp", key)

	require.NoError(t, store.Put(ctx, key, data))
	require.NoError(t, store.Put(ctx, key, data))
	assert.Equal(t, 1, mem.puts, "identical content is uploaded once")

	got, err := store.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, data, got)

	_, err = store.Get(ctx, "code/none")
	require.ErrorIs(t, err, repository.ErrArtifactNotFound)
}
