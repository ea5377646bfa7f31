package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/amankumarsingh77/transcode-orchestrator/internal/models"
	"github.com/amankumarsingh77/transcode-orchestrator/internal/queue"
	"github.com/amankumarsingh77/transcode-orchestrator/internal/transcoding"
	"github.com/amankumarsingh77/transcode-orchestrator/pkg/logger"
	"github.com/google/uuid"
)

func TestDispatchCreatesOneJobPerResolution(t *testing.T) {
	f := newFixture(t)
	video := f.uploadedVideo(t)
	ctx := context.Background()

	jobs, err := f.uc.Dispatch(ctx, video.ID, models.SourceMetadata{
		ObjectKey:        video.SourceStoragePath,
		OriginalFilename: video.OriginalFilename,
	})
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if len(jobs) != 3 {
		t.Fatalf("dispatched %d jobs, want 3", len(jobs))
	}

	rows, _ := f.repo.GetJobsByVideo(ctx, video.ID)
	if len(rows) != 3 {
		t.Fatalf("rows = %d, want 3", len(rows))
	}
	for _, row := range rows {
		if row.Status != models.JobStatusPending {
			t.Fatalf("job %s status = %s, want pending", row.Resolution, row.Status)
		}
	}

	for _, d := range jobs {
		if d.QueueName != d.Resolution.QueueName() {
			t.Fatalf("queue = %s, want %s", d.QueueName, d.Resolution.QueueName())
		}
		info, err := f.lookup(t, d.Resolution, d.JobID)
		if err != nil {
			t.Fatalf("Lookup %s: %v", d.Resolution, err)
		}
		if info.State != queue.StateWaiting || info.MaxAttempts != 3 {
			t.Fatalf("message %s state = %s max = %d", d.Resolution, info.State, info.MaxAttempts)
		}
		var msg models.JobMessage
		if err := json.Unmarshal(info.Payload, &msg); err != nil {
			t.Fatalf("payload: %v", err)
		}
		if msg.VideoID != video.ID.String() || msg.Resolution != d.Resolution ||
			msg.SourceObjectKey != video.SourceStoragePath || msg.OriginalFilename != "movie.mp4" {
			t.Fatalf("payload = %+v", msg)
		}
	}

	stats, err := f.uc.GetQueueStats(ctx)
	if err != nil {
		t.Fatalf("GetQueueStats: %v", err)
	}
	for _, res := range models.AllResolutions() {
		if stats[res].Waiting != 1 {
			t.Fatalf("%s waiting = %d, want 1", res, stats[res].Waiting)
		}
	}
	if got := f.notes.count(models.EventJobDispatched); got != 3 {
		t.Fatalf("dispatched events = %d, want 3", got)
	}
}

func TestDispatchPreconditions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	src := models.SourceMetadata{ObjectKey: "k/movie.mp4", OriginalFilename: "movie.mp4"}

	if _, err := f.uc.Dispatch(ctx, uuid.New(), src); !errors.Is(err, transcoding.ErrNotFound) {
		t.Fatalf("unknown video err = %v", err)
	}

	video := f.uploadedVideo(t)
	if err := f.repo.UpdateVideoStatus(ctx, video.ID, models.VideoStatusUploading); err != nil {
		t.Fatal(err)
	}
	if _, err := f.uc.Dispatch(ctx, video.ID, src); !errors.Is(err, transcoding.ErrVideoNotUploaded) {
		t.Fatalf("uploading video err = %v", err)
	}

	if _, err := f.uc.Dispatch(ctx, video.ID, models.SourceMetadata{}); transcoding.KindOf(err) != transcoding.KindValidation {
		t.Fatalf("empty source err = %v", err)
	}

	if err := f.repo.UpdateVideoStatus(ctx, video.ID, models.VideoStatusUploaded); err != nil {
		t.Fatal(err)
	}
	if _, err := f.uc.Dispatch(ctx, video.ID, src); err != nil {
		t.Fatalf("first dispatch: %v", err)
	}
	if _, err := f.uc.Dispatch(ctx, video.ID, src); !errors.Is(err, transcoding.ErrAlreadyDispatched) {
		t.Fatalf("second dispatch err = %v", err)
	}
}

func TestDispatchCreateJobsFailurePublishesNothing(t *testing.T) {
	f := newFixture(t)
	f.repo.createJobsErr = errors.New("duplicate key value violates unique constraint")
	video := f.uploadedVideo(t)

	_, err := f.uc.Dispatch(context.Background(), video.ID, models.SourceMetadata{
		ObjectKey:        video.SourceStoragePath,
		OriginalFilename: video.OriginalFilename,
	})
	if transcoding.KindOf(err) != transcoding.KindPersistence {
		t.Fatalf("err = %v, want persistence error", err)
	}
	stats, _ := f.uc.GetQueueStats(context.Background())
	for res, s := range stats {
		if s.Waiting != 0 {
			t.Fatalf("%s has %d waiting messages", res, s.Waiting)
		}
	}
	if got := f.notes.count(models.EventJobDispatched); got != 0 {
		t.Fatalf("dispatched events = %d", got)
	}
}

func TestDispatchPublishFailureLeavesJobPending(t *testing.T) {
	f := newFixture(t, models.Resolution1080P)
	video := f.uploadedVideo(t)
	ctx := context.Background()

	jobs, err := f.uc.Dispatch(ctx, video.ID, models.SourceMetadata{
		ObjectKey:        video.SourceStoragePath,
		OriginalFilename: video.OriginalFilename,
	})
	if err == nil {
		t.Fatal("expected publish error")
	}
	if len(jobs) != 2 {
		t.Fatalf("dispatched %d jobs, want 2", len(jobs))
	}
	orphan, err := f.repo.GetJob(ctx, video.ID, models.Resolution1080P)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if orphan.Status != models.JobStatusPending {
		t.Fatalf("orphan status = %s", orphan.Status)
	}
	if _, err := f.lookup(t, models.Resolution1080P, orphan.ID); !errors.Is(err, queue.ErrNotFound) {
		t.Fatalf("orphan lookup err = %v, want ErrNotFound", err)
	}

	f.fixBroken(t)
	r := NewReconciler(reconcilerConfig(), f.repo, f.queues, f.notes, logger.NewNop()).(*reconciler)
	r.now = func() time.Time { return time.Now().UTC().Add(time.Minute) }
	res, err := r.Sweep(ctx)
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if res.Republished != 1 || res.Skipped != 2 {
		t.Fatalf("sweep = %+v, want 1 republished 2 skipped", res)
	}
	info, err := f.lookup(t, models.Resolution1080P, orphan.ID)
	if err != nil || info.State != queue.StateWaiting {
		t.Fatalf("orphan after sweep: %v %v", info, err)
	}
}

func TestUploadStoresSourceAndDispatches(t *testing.T) {
	f := newFixture(t)
	path := filepath.Join(t.TempDir(), "upload")
	if err := os.WriteFile(path, []byte("fake mp4"), 0o644); err != nil {
		t.Fatal(err)
	}

	res, err := f.uc.Upload(context.Background(), &models.UploadInput{
		LocalPath:        path,
		OriginalFilename: "my movie.mp4",
		Size:             8,
		MimeType:         "video/mp4",
	})
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}
	if len(res.Jobs) != 3 {
		t.Fatalf("jobs = %d, want 3", len(res.Jobs))
	}
	video, _ := f.repo.GetVideoByID(context.Background(), res.VideoID)
	if video.Status != models.VideoStatusUploaded {
		t.Fatalf("video status = %s, want uploaded", video.Status)
	}
	want := res.VideoID.String() + "/my_movie.mp4"
	if video.SourceStoragePath != want {
		t.Fatalf("source key = %s, want %s", video.SourceStoragePath, want)
	}
	if _, ok := f.store.objects[transcoding.BucketOriginal+"/"+want]; !ok {
		t.Fatal("source not stored")
	}
}

func TestUploadPutFailureMarksVideoFailed(t *testing.T) {
	f := newFixture(t)
	f.store.putErr = errors.New("bucket unreachable")
	path := filepath.Join(t.TempDir(), "upload")
	os.WriteFile(path, []byte("x"), 0o644)

	_, err := f.uc.Upload(context.Background(), &models.UploadInput{
		LocalPath:        path,
		OriginalFilename: "a.mp4",
		Size:             1,
		MimeType:         "video/mp4",
	})
	if transcoding.KindOf(err) != transcoding.KindTransientIO {
		t.Fatalf("err = %v, want transient io", err)
	}
	list, _ := f.repo.ListVideos(context.Background(), nil)
	if len(list.Videos) != 1 || list.Videos[0].Status != models.VideoStatusFailed {
		t.Fatalf("videos = %+v", list.Videos)
	}
}

func TestUploadRejectsUnsupportedType(t *testing.T) {
	f := newFixture(t)
	_, err := f.uc.Upload(context.Background(), &models.UploadInput{
		LocalPath:        "/tmp/x",
		OriginalFilename: "a.gif",
		Size:             1,
		MimeType:         "image/gif",
	})
	if transcoding.KindOf(err) != transcoding.KindValidation {
		t.Fatalf("err = %v, want validation error", err)
	}
}

func TestGetJobStatus(t *testing.T) {
	f := newFixture(t)
	video := f.uploadedVideo(t)
	ctx := context.Background()
	jobs, err := f.uc.Dispatch(ctx, video.ID, models.SourceMetadata{
		ObjectKey:        video.SourceStoragePath,
		OriginalFilename: video.OriginalFilename,
	})
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	job := jobs[0]

	view, err := f.uc.GetJobStatus(ctx, job.Resolution.String(), job.JobID)
	if err != nil {
		t.Fatalf("GetJobStatus: %v", err)
	}
	if view.Job.ID != job.JobID || view.Message == nil || view.Message.State != string(queue.StateWaiting) {
		t.Fatalf("view = %+v", view)
	}

	other := models.Resolution1080P
	if job.Resolution == other {
		other = models.Resolution360P
	}
	if _, err := f.uc.GetJobStatus(ctx, other.String(), job.JobID); !errors.Is(err, transcoding.ErrNotFound) {
		t.Fatalf("mismatched resolution err = %v", err)
	}
	if _, err := f.uc.GetJobStatus(ctx, "4k", job.JobID); transcoding.KindOf(err) != transcoding.KindValidation {
		t.Fatalf("unknown resolution err = %v", err)
	}
	if _, err := f.uc.GetJobStatus(ctx, job.Resolution.String(), uuid.New()); !errors.Is(err, transcoding.ErrNotFound) {
		t.Fatalf("unknown job err = %v", err)
	}
}

func TestGetVideoIncludesJobs(t *testing.T) {
	f := newFixture(t)
	video := f.uploadedVideo(t)
	ctx := context.Background()
	if _, err := f.uc.Dispatch(ctx, video.ID, models.SourceMetadata{
		ObjectKey:        video.SourceStoragePath,
		OriginalFilename: video.OriginalFilename,
	}); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	got, err := f.uc.GetVideo(ctx, video.ID)
	if err != nil {
		t.Fatalf("GetVideo: %v", err)
	}
	if got.Video.ID != video.ID || len(got.Jobs) != 3 {
		t.Fatalf("video = %+v jobs = %d", got.Video, len(got.Jobs))
	}
}
