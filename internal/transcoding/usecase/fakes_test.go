package usecase

import (
	"context"
	"errors"
	"os"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/amankumarsingh77/transcode-orchestrator/internal/models"
	"github.com/amankumarsingh77/transcode-orchestrator/internal/queue"
	"github.com/amankumarsingh77/transcode-orchestrator/internal/queue/redisqueue"
	"github.com/amankumarsingh77/transcode-orchestrator/internal/transcoding"
	"github.com/amankumarsingh77/transcode-orchestrator/pkg/logger"
	"github.com/amankumarsingh77/transcode-orchestrator/pkg/utils"
	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

type fakeRepo struct {
	mu     sync.Mutex
	videos map[uuid.UUID]*models.VideoAsset
	jobs   map[uuid.UUID]*models.TranscodingJob

	createJobsErr error
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		videos: make(map[uuid.UUID]*models.VideoAsset),
		jobs:   make(map[uuid.UUID]*models.TranscodingJob),
	}
}

func (r *fakeRepo) EnsureSchema(ctx context.Context) error { return nil }

func (r *fakeRepo) CreateVideo(ctx context.Context, video *models.VideoAsset) (*models.VideoAsset, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	v := *video
	r.videos[v.ID] = &v
	out := v
	return &out, nil
}

func (r *fakeRepo) GetVideoByID(ctx context.Context, videoID uuid.UUID) (*models.VideoAsset, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.videos[videoID]
	if !ok {
		return nil, transcoding.ErrNotFound
	}
	out := *v
	return &out, nil
}

func (r *fakeRepo) ListVideos(ctx context.Context, pq *utils.Pagination) (*models.VideoList, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	list := &models.VideoList{TotalCount: len(r.videos)}
	if pq != nil {
		list.Page, list.PageSize = pq.Page, pq.Size
	}
	for _, v := range r.videos {
		list.Videos = append(list.Videos, &models.VideoSummary{VideoAsset: *v})
	}
	return list, nil
}

func (r *fakeRepo) UpdateVideoStatus(ctx context.Context, videoID uuid.UUID, status models.VideoStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.videos[videoID]
	if !ok {
		return transcoding.ErrNotFound
	}
	v.Status = status
	return nil
}

func (r *fakeRepo) RefreshVideoStatus(ctx context.Context, videoID uuid.UUID) (models.VideoStatus, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.videos[videoID]
	if !ok {
		return "", transcoding.ErrNotFound
	}
	var jobs []*models.TranscodingJob
	for _, j := range r.jobs {
		if j.VideoID == videoID {
			jobs = append(jobs, j)
		}
	}
	v.Status = models.DeriveVideoStatus(jobs)
	return v.Status, nil
}

func (r *fakeRepo) CreateJobs(ctx context.Context, jobs []*models.TranscodingJob) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.createJobsErr != nil {
		return r.createJobsErr
	}
	for _, j := range jobs {
		c := *j
		r.jobs[j.ID] = &c
	}
	return nil
}

func (r *fakeRepo) GetJobByID(ctx context.Context, jobID uuid.UUID) (*models.TranscodingJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	j, ok := r.jobs[jobID]
	if !ok {
		return nil, transcoding.ErrNotFound
	}
	c := *j
	return &c, nil
}

func (r *fakeRepo) GetJob(ctx context.Context, videoID uuid.UUID, res models.Resolution) (*models.TranscodingJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, j := range r.jobs {
		if j.VideoID == videoID && j.Resolution == res {
			c := *j
			return &c, nil
		}
	}
	return nil, transcoding.ErrNotFound
}

func (r *fakeRepo) GetJobsByVideo(ctx context.Context, videoID uuid.UUID) ([]*models.TranscodingJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.TranscodingJob
	for _, j := range r.jobs {
		if j.VideoID == videoID {
			c := *j
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(a, b int) bool { return out[a].Resolution < out[b].Resolution })
	return out, nil
}

func (r *fakeRepo) ClaimJob(ctx context.Context, videoID uuid.UUID, res models.Resolution, workerID string) (*models.TranscodingJob, error) {
	return nil, errors.New("not used")
}

func (r *fakeRepo) RecordJobError(ctx context.Context, jobID uuid.UUID, workerID, message string) error {
	return errors.New("not used")
}

func (r *fakeRepo) CompleteJob(ctx context.Context, jobID uuid.UUID, workerID, outputPath string, outputSize int64) (*models.TranscodingJob, error) {
	return nil, errors.New("not used")
}

func (r *fakeRepo) FailJob(ctx context.Context, jobID uuid.UUID, workerID, message string) (*models.TranscodingJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	j, ok := r.jobs[jobID]
	if !ok {
		return nil, transcoding.ErrNotFound
	}
	if !models.CanTransition(j.Status, models.JobStatusFailed) {
		return nil, transcoding.ErrInvalidTransition
	}
	if j.OwnerWorkerID != nil && *j.OwnerWorkerID != workerID {
		return nil, transcoding.ErrInvalidTransition
	}
	now := time.Now().UTC()
	j.Status = models.JobStatusFailed
	j.ErrorMessage = &message
	j.CompletedAt = &now
	j.OwnerWorkerID = &workerID
	c := *j
	return &c, nil
}

func (r *fakeRepo) ListStaleJobs(ctx context.Context, status models.JobStatus, olderThan time.Time, limit int) ([]*models.StaleJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.StaleJob
	for _, j := range r.jobs {
		if j.Status != status || !j.CreatedAt.Before(olderThan) {
			continue
		}
		v := r.videos[j.VideoID]
		out = append(out, &models.StaleJob{
			TranscodingJob:   *j,
			OriginalFilename: v.OriginalFilename,
			SourceObjectKey:  v.SourceStoragePath,
		})
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (r *fakeRepo) setJob(id uuid.UUID, fn func(*models.TranscodingJob)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fn(r.jobs[id])
}

type fakeStore struct {
	mu      sync.Mutex
	objects map[string][]byte
	putErr  error
}

func (s *fakeStore) Put(ctx context.Context, bucket, key, localPath, contentType string) (*transcoding.PutResult, error) {
	if s.putErr != nil {
		return nil, s.putErr
	}
	data, err := os.ReadFile(localPath)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.objects == nil {
		s.objects = make(map[string][]byte)
	}
	s.objects[bucket+"/"+key] = data
	return &transcoding.PutResult{Size: int64(len(data)), URL: "mem://" + bucket + "/" + key}, nil
}

func (s *fakeStore) Get(ctx context.Context, bucket, key, localPath string) error {
	return errors.New("not used")
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []models.Event
}

func (n *recordingNotifier) Publish(ctx context.Context, event models.Event) {
	n.mu.Lock()
	n.events = append(n.events, event)
	n.mu.Unlock()
}

func (n *recordingNotifier) count(t models.EventType) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	c := 0
	for _, e := range n.events {
		if e.Type == t {
			c++
		}
	}
	return c
}

// switchQueue fails publishes while its name is marked broken.
type switchQueue struct {
	queue.Queue
	f *fixture
}

func (q switchQueue) Publish(ctx context.Context, payload []byte, opts queue.Options) (string, error) {
	q.f.mu.Lock()
	broken := q.f.broken[q.Name()]
	q.f.mu.Unlock()
	if broken {
		return "", errors.New("redis: connection refused")
	}
	return q.Queue.Publish(ctx, payload, opts)
}

type fixture struct {
	repo   *fakeRepo
	store  *fakeStore
	notes  *recordingNotifier
	queues *queue.Registry
	uc     transcoding.UseCase

	mu     sync.Mutex
	broken map[string]bool
}

func newFixture(t *testing.T, broken ...models.Resolution) *fixture {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	f := &fixture{
		repo:   newFakeRepo(),
		store:  &fakeStore{},
		notes:  &recordingNotifier{},
		broken: make(map[string]bool),
	}
	for _, res := range broken {
		f.broken[res.QueueName()] = true
	}
	base := redisqueue.Factory(client, redisqueue.Config{Prefix: "test", PollInterval: 5 * time.Millisecond})
	factory := func(name string, policy queue.Policy) (queue.Queue, error) {
		q, err := base(name, policy)
		if err != nil {
			return nil, err
		}
		return switchQueue{Queue: q, f: f}, nil
	}
	f.queues = queue.NewRegistry(factory, queue.Policy{Attempts: 3, BackoffBase: 0, Visibility: time.Minute})
	if err := f.queues.Open(models.AllResolutions()...); err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { f.queues.Close() })
	f.uc = NewTranscodingUseCase(f.repo, f.store, f.queues, f.notes, logger.NewNop())
	return f
}

// fixBroken makes every queue publish normally again.
func (f *fixture) fixBroken(t *testing.T) {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	for name := range f.broken {
		delete(f.broken, name)
	}
}

func (f *fixture) uploadedVideo(t *testing.T) *models.VideoAsset {
	t.Helper()
	id := uuid.New()
	v, err := f.repo.CreateVideo(context.Background(), &models.VideoAsset{
		ID:                id,
		OriginalFilename:  "movie.mp4",
		OriginalSize:      50 << 20,
		UploadTimestamp:   time.Now().UTC(),
		Status:            models.VideoStatusUploaded,
		SourceStoragePath: SourceObjectKey(id, "movie.mp4"),
	})
	if err != nil {
		t.Fatalf("CreateVideo: %v", err)
	}
	return v
}

func (f *fixture) lookup(t *testing.T, res models.Resolution, id uuid.UUID) (*queue.MessageInfo, error) {
	t.Helper()
	return f.queues.Lookup(context.Background(), res, id.String())
}
