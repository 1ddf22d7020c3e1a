package service_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"strconv"
	"sync"
	"testing"
	"time"

	"eduoj/internal/common/cache"
	"eduoj/internal/common/db"
	"eduoj/internal/common/mq"
	"eduoj/internal/common/storage"
	"eduoj/internal/contest/model"
	"eduoj/internal/contest/repository"
	"eduoj/internal/contest/service"
	"eduoj/internal/language"
	"eduoj/internal/testutil"
	appErr "eduoj/pkg/errors"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

const (
	jobTopic        = "judge.job"
	transitionTopic = "contest.events"
)

var (
	teacher = service.Actor{UserID: 1, Role: service.RoleTeacher}
	admin   = service.Actor{UserID: 99, Role: service.RoleAdmin}
	student = service.Actor{UserID: 7, Role: service.RoleStudent}

	contestStart = time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

type recordingProducer struct {
	mu    sync.Mutex
	calls int
	fail  error
	msgs  map[string][]*mq.Message
}

func (p *recordingProducer) Publish(_ context.Context, topic string, m *mq.Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	if p.fail != nil {
		return p.fail
	}
	p.msgs[topic] = append(p.msgs[topic], m)
	return nil
}

func (p *recordingProducer) count(topic string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.msgs[topic])
}

func (p *recordingProducer) lastJob(t *testing.T) model.JudgeJob {
	t.Helper()
	p.mu.Lock()
	defer p.mu.Unlock()
	msgs := p.msgs[jobTopic]
	if len(msgs) == 0 {
		t.Fatal("no judge job published")
	}
	var job model.JudgeJob
	if err := json.Unmarshal(msgs[len(msgs)-1].Body, &job); err != nil {
		t.Fatalf("decode judge job failed: %v", err)
	}
	return job
}

func (p *recordingProducer) transitions(t *testing.T) []model.TransitionEvent {
	t.Helper()
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]model.TransitionEvent, 0, len(p.msgs[transitionTopic]))
	for _, m := range p.msgs[transitionTopic] {
		var ev model.TransitionEvent
		if err := json.Unmarshal(m.Body, &ev); err != nil {
			t.Fatalf("decode transition failed: %v", err)
		}
		out = append(out, ev)
	}
	return out
}

type memStorage struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func (m *memStorage) PutObject(_ context.Context, bucket, key string, r io.Reader, _ int64, _ string) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.objects[bucket+"/"+key] = data
	m.mu.Unlock()
	return nil
}

func (m *memStorage) GetObject(_ context.Context, bucket, key string) (io.ReadCloser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[bucket+"/"+key]
	if !ok {
		return nil, storage.ErrObjectNotFound
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (m *memStorage) StatObject(_ context.Context, bucket, key string) (storage.ObjectStat, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[bucket+"/"+key]
	if !ok {
		return storage.ObjectStat{}, storage.ErrObjectNotFound
	}
	return storage.ObjectStat{SizeBytes: int64(len(data))}, nil
}

type harness struct {
	db       *db.SQLDatabase
	cache    *cache.RedisCache
	mr       *miniredis.Miniredis
	clock    *fakeClock
	producer *recordingProducer
	blobs    *memStorage

	taskRepo    *repository.SQLTaskRepository
	contestRepo *repository.SQLContestRepository
	submitCfg   service.SubmissionConfig

	tasks       *service.TaskService
	submissions *service.SubmissionService
	dispatcher  *service.Dispatcher
	clockSvc    *service.ClockService
	registry    *service.Registry
	scoreboard  *service.Aggregator
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	database := testutil.NewSQLite(t)
	provider := db.NewStaticProvider(database)
	mr := miniredis.RunT(t)
	redisCache, err := cache.NewRedisCacheWithClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	mustNoError(t, err, "init redis cache")
	t.Cleanup(func() { _ = redisCache.Close() })

	h := &harness{
		db:       database,
		cache:    redisCache,
		mr:       mr,
		clock:    &fakeClock{now: contestStart.Add(-time.Hour)},
		producer: &recordingProducer{msgs: map[string][]*mq.Message{}},
		blobs:    &memStorage{objects: map[string][]byte{}},
	}
	h.taskRepo = repository.NewTaskRepository(database, redisCache)
	h.contestRepo = repository.NewContestRepository(database)
	submissionRepo := repository.NewSubmissionRepository(database, redisCache)
	artifactRepo := repository.NewArtifactRepository(database)
	participantRepo := repository.NewParticipantRepository(database)
	store, err := repository.NewArtifactStore(h.blobs, "artifacts")
	mustNoError(t, err, "init artifact store")
	snapshots, err := repository.NewScoreboardCache(redisCache, time.Minute)
	mustNoError(t, err, "init scoreboard cache")
	publisher := service.NewMQEventPublisher(h.producer, transitionTopic, jobTopic)

	h.scoreboard, err = service.NewAggregator(service.AggregatorConfig{
		Provider:     provider,
		Contests:     h.contestRepo,
		Participants: participantRepo,
		Stats:        repository.NewScoreboardRepository(database),
		Cache:        snapshots,
		Now:          h.clock.Now,
	})
	mustNoError(t, err, "init aggregator")
	h.registry, err = service.NewRegistry(service.RegistryConfig{
		Participants: participantRepo,
		Contests:     h.contestRepo,
		Scoreboard:   h.scoreboard,
		Now:          h.clock.Now,
	})
	mustNoError(t, err, "init registry")
	h.dispatcher, err = service.NewDispatcher(service.DispatcherConfig{
		Provider:    provider,
		Submissions: submissionRepo,
		Tasks:       h.taskRepo,
		Artifacts:   artifactRepo,
		Store:       store,
		Languages:   language.Default(),
		Publisher:   publisher,
		Retry:       service.PublishRetryConfig{MaxAttempts: 2, BaseDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond},
		Now:         h.clock.Now,
	})
	mustNoError(t, err, "init dispatcher")
	h.submitCfg = service.SubmissionConfig{
		Provider:     provider,
		Submissions:  submissionRepo,
		Artifacts:    artifactRepo,
		Tasks:        h.taskRepo,
		Contests:     h.contestRepo,
		Store:        store,
		Cache:        redisCache,
		Languages:    language.Default(),
		Registry:     h.registry,
		Dispatcher:   h.dispatcher,
		Scoreboard:   h.scoreboard,
		MaxCodeBytes: 1024,
		Now:          h.clock.Now,
	}
	h.submissions, err = service.NewSubmissionService(h.submitCfg)
	mustNoError(t, err, "init submission service")
	h.tasks, err = service.NewTaskService(service.TaskConfig{
		Provider:  provider,
		Tasks:     h.taskRepo,
		Validator: h.submissions,
	})
	mustNoError(t, err, "init task service")
	h.clockSvc, err = service.NewClockService(service.ClockConfig{
		Provider:   provider,
		Contests:   h.contestRepo,
		Tasks:      h.taskRepo,
		Publisher:  publisher,
		Scoreboard: h.scoreboard,
		Now:        h.clock.Now,
	})
	mustNoError(t, err, "init clock service")
	h.dispatcher.AddHandler(h.scoreboard)
	h.dispatcher.AddHandler(h.tasks)
	return h
}

func (h *harness) createTask(t *testing.T, grading model.GradingMode, points ...int64) *model.Task {
	t.Helper()
	specs := make([]model.TestCaseSpec, len(points))
	for i := range points {
		p := points[i]
		specs[i] = model.TestCaseSpec{Content: "1 2", Answer: "3", MaxPoints: &p}
	}
	res, err := h.tasks.Create(context.Background(), teacher, model.TaskSpec{
		Title: "A+B", Statement: "Print the sum.", Grading: grading, Tests: specs,
	})
	mustNoError(t, err, "create task")
	return res.Task
}

func (h *harness) createContest(t *testing.T, taskIDs ...int64) *model.Contest {
	t.Helper()
	c, err := h.clockSvc.Create(context.Background(), teacher, model.ContestSpec{
		Title: "Spring round", StartTime: contestStart, DurationMinutes: 120, TaskIDs: taskIDs,
	})
	mustNoError(t, err, "create contest")
	return c
}

func (h *harness) countSubmissions(t *testing.T) int {
	t.Helper()
	var n int
	if err := h.db.QueryRow(context.Background(), "SELECT COUNT(*) FROM submissions").Scan(&n); err != nil {
		t.Fatalf("count submissions failed: %v", err)
	}
	return n
}

func pythonInput(userID, taskID, contestID int64) service.SubmitInput {
	return service.SubmitInput{
		UserID: userID, TaskID: taskID, ContestID: contestID,
		Language: "Python3", Filename: "main.py", Code: []byte("a, b = map(int, input().split())\nprint(a + b)\n"),
	}
}

func int64p(v int64) *int64 { return &v }
func intp(v int) *int { return &v }

var errBrokerDown = errors.New("broker down")

func itoa(v int64) string { return strconv.FormatInt(v, 10) }

func mustNoError(t *testing.T, err error, what string) {
	t.Helper()
	if err != nil {
		t.Fatalf("%s failed: %v", what, err)
	}
}

func expectCode(t *testing.T, err error, want appErr.ErrorCode) {
	t.Helper()
	if got := appErr.GetCode(err); got != want {
		t.Fatalf("expected code %v, got %v (err=%v)", want, got, err)
	}
}
