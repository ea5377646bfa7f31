package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
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

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

var statusRank = map[models.JobStatus]int{
	models.JobStatusPending:    0,
	models.JobStatusProcessing: 1,
	models.JobStatusCompleted:  2,
	models.JobStatusFailed:     2,
}

// memRepo enforces the same status guards as the SQL store and flags any
// backward move it is asked to make.
type memRepo struct {
	t *testing.T

	mu     sync.Mutex
	videos map[uuid.UUID]*models.VideoAsset
	jobs   map[uuid.UUID]*models.TranscodingJob

	failRecordError bool
	failFailJob     bool
}

func newMemRepo(t *testing.T) *memRepo {
	return &memRepo{
		t:      t,
		videos: make(map[uuid.UUID]*models.VideoAsset),
		jobs:   make(map[uuid.UUID]*models.TranscodingJob),
	}
}

func (r *memRepo) move(job *models.TranscodingJob, to models.JobStatus) {
	if statusRank[to] < statusRank[job.Status] {
		r.t.Errorf("job %s moved backwards: %s -> %s", job.ID, job.Status, to)
	}
	job.Status = to
}

func copyJob(j *models.TranscodingJob) *models.TranscodingJob {
	c := *j
	return &c
}

func (r *memRepo) EnsureSchema(ctx context.Context) error { return nil }

func (r *memRepo) CreateVideo(ctx context.Context, video *models.VideoAsset) (*models.VideoAsset, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	v := *video
	r.videos[v.ID] = &v
	return &v, nil
}

func (r *memRepo) GetVideoByID(ctx context.Context, videoID uuid.UUID) (*models.VideoAsset, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.videos[videoID]
	if !ok {
		return nil, transcoding.ErrNotFound
	}
	c := *v
	return &c, nil
}

func (r *memRepo) ListVideos(ctx context.Context, pq *utils.Pagination) (*models.VideoList, error) {
	return &models.VideoList{}, nil
}

func (r *memRepo) UpdateVideoStatus(ctx context.Context, videoID uuid.UUID, status models.VideoStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.videos[videoID]
	if !ok {
		return transcoding.ErrNotFound
	}
	v.Status = status
	return nil
}

func (r *memRepo) RefreshVideoStatus(ctx context.Context, videoID uuid.UUID) (models.VideoStatus, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.videos[videoID]
	if !ok {
		return "", transcoding.ErrNotFound
	}
	if v.Status == models.VideoStatusUploading {
		return v.Status, nil
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

func (r *memRepo) CreateJobs(ctx context.Context, jobs []*models.TranscodingJob) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, j := range jobs {
		r.jobs[j.ID] = copyJob(j)
	}
	return nil
}

func (r *memRepo) GetJobByID(ctx context.Context, jobID uuid.UUID) (*models.TranscodingJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	j, ok := r.jobs[jobID]
	if !ok {
		return nil, transcoding.ErrNotFound
	}
	return copyJob(j), nil
}

func (r *memRepo) find(videoID uuid.UUID, res models.Resolution) *models.TranscodingJob {
	for _, j := range r.jobs {
		if j.VideoID == videoID && j.Resolution == res {
			return j
		}
	}
	return nil
}

func (r *memRepo) GetJob(ctx context.Context, videoID uuid.UUID, res models.Resolution) (*models.TranscodingJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	j := r.find(videoID, res)
	if j == nil {
		return nil, transcoding.ErrNotFound
	}
	return copyJob(j), nil
}

func (r *memRepo) GetJobsByVideo(ctx context.Context, videoID uuid.UUID) ([]*models.TranscodingJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.TranscodingJob
	for _, j := range r.jobs {
		if j.VideoID == videoID {
			out = append(out, copyJob(j))
		}
	}
	return out, nil
}

func (r *memRepo) ClaimJob(ctx context.Context, videoID uuid.UUID, res models.Resolution, workerID string) (*models.TranscodingJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	j := r.find(videoID, res)
	if j == nil {
		return nil, transcoding.ErrNotFound
	}
	if !models.CanTransition(j.Status, models.JobStatusProcessing) {
		return copyJob(j), transcoding.ErrInvalidTransition
	}
	r.move(j, models.JobStatusProcessing)
	j.OwnerWorkerID = &workerID
	if j.StartedAt == nil {
		now := time.Now().UTC()
		j.StartedAt = &now
	}
	return copyJob(j), nil
}

func (r *memRepo) owned(jobID uuid.UUID, workerID string) (*models.TranscodingJob, error) {
	j, ok := r.jobs[jobID]
	if !ok {
		return nil, transcoding.ErrNotFound
	}
	if j.Status != models.JobStatusProcessing || j.OwnerWorkerID == nil || *j.OwnerWorkerID != workerID {
		return nil, transcoding.ErrInvalidTransition
	}
	return j, nil
}

func (r *memRepo) RecordJobError(ctx context.Context, jobID uuid.UUID, workerID, message string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failRecordError {
		return errors.New("connection reset by peer")
	}
	j, err := r.owned(jobID, workerID)
	if err != nil {
		return err
	}
	j.ErrorMessage = &message
	return nil
}

func (r *memRepo) CompleteJob(ctx context.Context, jobID uuid.UUID, workerID, outputPath string, outputSize int64) (*models.TranscodingJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	j, err := r.owned(jobID, workerID)
	if err != nil {
		return nil, err
	}
	r.move(j, models.JobStatusCompleted)
	now := time.Now().UTC()
	j.OutputStoragePath = &outputPath
	j.OutputSize = &outputSize
	j.CompletedAt = &now
	j.ErrorMessage = nil
	return copyJob(j), nil
}

func (r *memRepo) FailJob(ctx context.Context, jobID uuid.UUID, workerID, message string) (*models.TranscodingJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failFailJob {
		return nil, errors.New("connection reset by peer")
	}
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
	r.move(j, models.JobStatusFailed)
	now := time.Now().UTC()
	j.ErrorMessage = &message
	j.CompletedAt = &now
	return copyJob(j), nil
}

func (r *memRepo) ListStaleJobs(ctx context.Context, status models.JobStatus, olderThan time.Time, limit int) ([]*models.StaleJob, error) {
	return nil, nil
}

type memStore struct {
	mu          sync.Mutex
	objects     map[string][]byte
	putFailures int
}

func newMemStore() *memStore {
	return &memStore{objects: make(map[string][]byte)}
}

func (s *memStore) Put(ctx context.Context, bucket, key, localPath, contentType string) (*transcoding.PutResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.putFailures > 0 {
		s.putFailures--
		return nil, errors.New("upload: service unavailable")
	}
	data, err := os.ReadFile(localPath)
	if err != nil {
		return nil, err
	}
	s.objects[bucket+"/"+key] = data
	return &transcoding.PutResult{Size: int64(len(data)), URL: fmt.Sprintf("mem://%s/%s", bucket, key)}, nil
}

func (s *memStore) Get(ctx context.Context, bucket, key, localPath string) error {
	s.mu.Lock()
	data, ok := s.objects[bucket+"/"+key]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("object %s/%s not found", bucket, key)
	}
	return os.WriteFile(localPath, data, 0o644)
}

func (s *memStore) object(bucket, key string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.objects[bucket+"/"+key]
	return data, ok
}

type fakeEncoder struct {
	mu sync.Mutex
	// failures is the number of encodes that fail. Negative fails them all.
	failures  int
	fractions []float64
	// blockFirst makes the first encode hang until its context is cancelled.
	blockFirst bool
	started    chan struct{}
	calls      int
	probeErr   error
	profiles   []models.EncodeProfile
}

func (e *fakeEncoder) Probe(ctx context.Context, path string) (*models.ProbeResult, error) {
	e.mu.Lock()
	probeErr := e.probeErr
	e.mu.Unlock()
	if probeErr != nil {
		return nil, probeErr
	}
	if _, err := os.Stat(path); err != nil {
		return nil, err
	}
	return &models.ProbeResult{DurationSeconds: 12, Width: 1920, Height: 1080, FPS: 30, VideoCodec: "h264", AudioCodec: "aac"}, nil
}

func (e *fakeEncoder) Encode(ctx context.Context, in, out string, profile models.EncodeProfile) (transcoding.EncodeSession, error) {
	e.mu.Lock()
	e.calls++
	e.profiles = append(e.profiles, profile)
	call := e.calls
	fail := e.failures < 0 || call <= e.failures
	block := e.blockFirst && call == 1
	fractions := append([]float64(nil), e.fractions...)
	e.mu.Unlock()

	s := &fakeSession{progress: make(chan float64, len(fractions)), done: make(chan struct{})}
	go func() {
		defer close(s.done)
		for _, f := range fractions {
			s.progress <- f
		}
		if block {
			if e.started != nil {
				close(e.started)
			}
			<-ctx.Done()
			s.err = ctx.Err()
		} else if fail {
			s.err = errors.New("ffmpeg failed: exit status 1")
		} else {
			data := []byte("encoded " + profile.Scale())
			s.err = os.WriteFile(out, data, 0o644)
			s.result = &models.EncodeResult{OutputSize: int64(len(data)), Elapsed: time.Millisecond}
		}
		close(s.progress)
	}()
	return s, nil
}

func (e *fakeEncoder) Calls() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls
}

func (e *fakeEncoder) Profiles() []models.EncodeProfile {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]models.EncodeProfile(nil), e.profiles...)
}

type fakeSession struct {
	progress chan float64
	done     chan struct{}
	result   *models.EncodeResult
	err      error
}

func (s *fakeSession) Progress() <-chan float64 { return s.progress }

func (s *fakeSession) Wait() (*models.EncodeResult, error) {
	<-s.done
	return s.result, s.err
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

func (n *recordingNotifier) Types() []models.EventType {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]models.EventType, 0, len(n.events))
	for _, e := range n.events {
		out = append(out, e.Type)
	}
	return out
}

type harness struct {
	t       *testing.T
	repo    *memRepo
	store   *memStore
	enc     *fakeEncoder
	notes   *recordingNotifier
	q       *redisqueue.Queue
	clock   *fakeClock
	policy  queue.Policy
	scratch string

	mu      sync.Mutex
	samples []models.ProgressSample
}

func newHarness(t *testing.T, attempts int) *harness {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	clock := &fakeClock{t: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)}
	policy := queue.Policy{Attempts: attempts, BackoffBase: 0, Visibility: time.Minute}
	q, err := redisqueue.New(client, models.Resolution720P.QueueName(), policy, redisqueue.Config{
		Prefix:       "test",
		PollInterval: 5 * time.Millisecond,
		Now:          clock.Now,
	})
	if err != nil {
		t.Fatalf("redisqueue.New: %v", err)
	}
	return &harness{
		t:       t,
		repo:    newMemRepo(t),
		store:   newMemStore(),
		enc:     &fakeEncoder{fractions: []float64{0.25, 0.5, 0.75, 1}},
		notes:   &recordingNotifier{},
		q:       q,
		clock:   clock,
		policy:  policy,
		scratch: t.TempDir(),
	}
}

func (h *harness) observe(s models.ProgressSample) {
	h.mu.Lock()
	h.samples = append(h.samples, s)
	h.mu.Unlock()
}

func (h *harness) progressByAttempt() map[int][]float64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make(map[int][]float64)
	for _, s := range h.samples {
		out[s.Attempt] = append(out[s.Attempt], s.Percent)
	}
	return out
}

func (h *harness) worker(id string) *Worker {
	h.t.Helper()
	w, err := NewWorker(Config{
		ID:         id,
		Resolution: models.Resolution720P,
		ScratchDir: h.scratch,
		Visibility: h.policy.Visibility,
		Observer:   h.observe,
	}, h.q, h.repo, h.store, h.enc, h.notes, logger.NewNop())
	if err != nil {
		h.t.Fatalf("NewWorker: %v", err)
	}
	return w
}

// seed stores an uploaded source, creates its pending 720p job and publishes
// the job message.
func (h *harness) seed(filename string) *models.TranscodingJob {
	h.t.Helper()
	ctx := context.Background()
	videoID := uuid.New()
	key := fmt.Sprintf("%s/%s", videoID, filename)
	h.store.objects[transcoding.BucketOriginal+"/"+key] = []byte("source bytes of " + filename)

	if _, err := h.repo.CreateVideo(ctx, &models.VideoAsset{
		ID:                videoID,
		OriginalFilename:  filename,
		OriginalSize:      1024,
		Status:            models.VideoStatusUploaded,
		SourceStoragePath: key,
	}); err != nil {
		h.t.Fatalf("CreateVideo: %v", err)
	}
	job := models.NewPendingJob(videoID, models.Resolution720P, time.Now().UTC())
	if err := h.repo.CreateJobs(ctx, []*models.TranscodingJob{job}); err != nil {
		h.t.Fatalf("CreateJobs: %v", err)
	}
	h.publish(job.ID.String(), models.JobMessage{
		VideoID:          videoID.String(),
		Resolution:       models.Resolution720P,
		SourceObjectKey:  key,
		OriginalFilename: filename,
	})
	return job
}

func (h *harness) publish(id string, msg interface{}) {
	h.t.Helper()
	var payload []byte
	switch m := msg.(type) {
	case []byte:
		payload = m
	default:
		var err error
		payload, err = json.Marshal(m)
		if err != nil {
			h.t.Fatalf("marshal: %v", err)
		}
	}
	if _, err := h.q.Publish(context.Background(), payload, queue.Options{MessageID: id}); err != nil {
		h.t.Fatalf("Publish: %v", err)
	}
}

func (h *harness) processNext(w *Worker) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return w.ProcessNext(ctx)
}

func (h *harness) lookup(id uuid.UUID) *queue.MessageInfo {
	h.t.Helper()
	info, err := h.q.Lookup(context.Background(), id.String())
	if err != nil {
		h.t.Fatalf("Lookup: %v", err)
	}
	return info
}

func (h *harness) job(id uuid.UUID) *models.TranscodingJob {
	h.t.Helper()
	j, err := h.repo.GetJobByID(context.Background(), id)
	if err != nil {
		h.t.Fatalf("GetJobByID: %v", err)
	}
	return j
}

func (h *harness) assertQueueEmpty() {
	h.t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if d, err := h.q.Consume(ctx); err == nil {
		h.t.Fatalf("unexpected delivery %s (attempt %d)", d.ID(), d.Attempt())
	}
}

func (h *harness) assertScratchEmpty() {
	h.t.Helper()
	entries, err := os.ReadDir(h.scratch)
	if err != nil {
		h.t.Fatalf("ReadDir: %v", err)
	}
	if len(entries) != 0 {
		h.t.Fatalf("scratch dir not cleaned, %d entries left", len(entries))
	}
}
