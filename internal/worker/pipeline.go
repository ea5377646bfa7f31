package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/amankumarsingh77/transcode-orchestrator/internal/models"
	"github.com/amankumarsingh77/transcode-orchestrator/internal/queue"
	"github.com/amankumarsingh77/transcode-orchestrator/internal/transcoding"
	"github.com/amankumarsingh77/transcode-orchestrator/pkg/logger"
	"github.com/amankumarsingh77/transcode-orchestrator/pkg/utils"
	"github.com/google/uuid"
)

// Progress marks for each pipeline stage. Encoding fills the span between
// progressFetched and progressEncoded.
const (
	progressClaimed  = 0
	progressFetched  = 20
	progressEncoded  = 85
	progressUploaded = 95
	progressRecorded = 100
)

const outputContentType = "video/mp4"

// cleanupTimeout bounds the failure-path writes once the delivery context is gone.
const cleanupTimeout = 10 * time.Second

type target struct {
	msg     *models.JobMessage
	videoID uuid.UUID
	res     models.Resolution
}

func (w *Worker) handle(ctx context.Context, d queue.Delivery) error {
	log := w.logger.With("message_id", d.ID(), "attempt", d.Attempt())

	tgt, err := w.decode(ctx, d)
	if err != nil {
		return w.reject(ctx, d, tgt, err, log)
	}
	log = log.With("video_id", tgt.videoID.String())

	job, err := w.repo.ClaimJob(ctx, tgt.videoID, tgt.res, w.cfg.ID)
	switch {
	case err == nil:
	case errors.Is(err, transcoding.ErrInvalidTransition) && job != nil && job.Status.IsTerminal():
		// redelivery of work that already finished
		log.Infof("Worker.handle - job %s already %s, acknowledging", job.ID, job.Status)
		if ackErr := d.Ack(ctx); ackErr != nil {
			log.Warnf("Worker.handle - ack error: %v", ackErr)
		}
		return nil
	case errors.Is(err, transcoding.ErrNotFound):
		return w.reject(ctx, d, nil, transcoding.ValidationError("claim", fmt.Errorf("no job for video %s at %s", tgt.videoID, tgt.res)), log)
	default:
		cause := transcoding.PersistenceError("claim", err)
		log.Errorf("Worker.handle - ClaimJob error: %v", cause)
		w.nack(ctx, d, cause, true, log)
		return cause
	}
	log = log.With("job_id", job.ID.String())
	log.Infof("Worker.handle - claimed job (attempt %d/%d)", d.Attempt(), d.MaxAttempts())
	w.refreshVideo(ctx, job.VideoID, log)

	hbCtx, stopHeartbeat := context.WithCancel(ctx)
	var hb sync.WaitGroup
	if interval := w.cfg.Visibility / 3; interval > 0 {
		hb.Add(1)
		go func() {
			defer hb.Done()
			heartbeat(hbCtx, d, interval, log)
		}()
	}

	tracker := newProgressTracker(ctx, d, job.ID, w.cfg.Observer, log)
	done, runErr := w.run(ctx, d, job, tgt, tracker, log)

	stopHeartbeat()
	hb.Wait()

	if runErr == nil {
		if err := d.Ack(ctx); err != nil {
			// the row is already completed, a redelivery is acknowledged without work
			log.Warnf("Worker.handle - ack error: %v", err)
		}
		log.Infof("Worker.handle - job completed: %s", *done.OutputStoragePath)
		w.notifier.Publish(ctx, models.NewJobEvent(models.EventJobCompleted, done, map[string]interface{}{
			"output_path": *done.OutputStoragePath,
			"output_size": *done.OutputSize,
			"attempt":     d.Attempt(),
		}))
		w.refreshVideo(ctx, done.VideoID, log)
		return nil
	}

	if ctx.Err() != nil {
		// abandoned: the lapsed visibility window redelivers the message
		log.Warnf("Worker.handle - stopped mid-job, leaving message for redelivery: %v", runErr)
		return ctx.Err()
	}
	return w.fail(ctx, d, job, runErr, log)
}

// run executes fetch, probe, encode, publish and record inside a private
// scratch directory that is always removed.
func (w *Worker) run(
	ctx context.Context,
	d queue.Delivery,
	job *models.TranscodingJob,
	tgt *target,
	tracker *progressTracker,
	log logger.Logger,
) (*models.TranscodingJob, error) {
	tracker.Set(progressClaimed)

	scratch, err := newScratch(w.cfg.ScratchDir, job.ID)
	if err != nil {
		return nil, transcoding.TransientIOError("scratch", err)
	}
	defer func() {
		if err := scratch.Cleanup(); err != nil {
			log.Warnf("Worker.run - scratch cleanup error: %v", err)
		}
	}()

	src := scratch.Path("source" + strings.ToLower(filepath.Ext(tgt.msg.OriginalFilename)))
	if err := w.store.Get(ctx, transcoding.BucketOriginal, tgt.msg.SourceObjectKey, src); err != nil {
		return nil, transcoding.TransientIOError("fetch", err)
	}
	tracker.Set(progressFetched)

	profile, err := tgt.res.Profile()
	if err != nil {
		return nil, transcoding.ValidationError("profile", err)
	}

	// ffmpeg has the final say on whether the source is readable.
	if probe, err := w.encoder.Probe(ctx, src); err != nil {
		log.Warnf("Worker.run - probe error: %v", err)
	} else {
		log.Infof("Worker.run - source %dx%d %.1fs %s/%s", probe.Width, probe.Height, probe.DurationSeconds, probe.VideoCodec, probe.AudioCodec)
		profile.SourceDurationSeconds = probe.DurationSeconds
	}
	out := scratch.Path(filepath.Base(models.OutputObjectKey(job.VideoID, tgt.res)))
	session, err := w.encoder.Encode(ctx, src, out, profile)
	if err != nil {
		return nil, transcoding.EncodeError("encode", err)
	}
	for frac := range session.Progress() {
		tracker.Set(progressFetched + clampFraction(frac)*(progressEncoded-progressFetched))
	}
	encoded, err := session.Wait()
	if err != nil {
		return nil, transcoding.EncodeError("encode", err)
	}
	tracker.Set(progressEncoded)
	log.Infof("Worker.run - encoded %d bytes in %s", encoded.OutputSize, encoded.Elapsed)

	key := models.OutputObjectKey(job.VideoID, tgt.res)
	put, err := w.store.Put(ctx, transcoding.BucketTranscoded, key, out, outputContentType)
	if err != nil {
		return nil, transcoding.TransientIOError("upload", err)
	}
	tracker.Set(progressUploaded)

	size := put.Size
	if size <= 0 {
		size = encoded.OutputSize
	}
	done, err := w.repo.CompleteJob(ctx, job.ID, w.cfg.ID, put.URL, size)
	if err != nil {
		return nil, transcoding.PersistenceError("record", err)
	}
	tracker.Set(progressRecorded)
	return done, nil
}

// decode parses and checks the payload. The returned target is non-nil when
// the job is identifiable even though the payload was rejected.
func (w *Worker) decode(ctx context.Context, d queue.Delivery) (*target, error) {
	var msg models.JobMessage
	if err := json.Unmarshal(d.Payload(), &msg); err != nil {
		return nil, transcoding.ValidationError("decode", err)
	}
	videoID, err := uuid.Parse(msg.VideoID)
	if err != nil {
		return nil, transcoding.ValidationError("decode", fmt.Errorf("invalid video id %q: %w", msg.VideoID, err))
	}
	res, err := models.ParseResolution(string(msg.Resolution))
	if err != nil {
		return nil, transcoding.ValidationError("decode", err)
	}
	if res != w.cfg.Resolution {
		return nil, transcoding.ValidationError("decode", fmt.Errorf("%s message delivered to %s worker", res, w.cfg.Resolution))
	}
	tgt := &target{msg: &msg, videoID: videoID, res: res}
	if err := utils.ValidateStruct(ctx, &msg); err != nil {
		return tgt, transcoding.ValidationError("validate", err)
	}
	return tgt, nil
}

// reject handles a message that can never succeed. When the job row is known
// it is failed so it does not wait forever.
func (w *Worker) reject(ctx context.Context, d queue.Delivery, tgt *target, cause error, log logger.Logger) error {
	log.Errorf("Worker.handle - rejecting message: %v", cause)
	retry := false
	if tgt != nil {
		job, err := w.repo.GetJob(ctx, tgt.videoID, tgt.res)
		switch {
		case err == nil:
			if perr := w.failJob(ctx, d, job, cause, log); perr != nil {
				retry = true
			}
		case errors.Is(err, transcoding.ErrNotFound):
		default:
			log.Errorf("Worker.reject - %v", transcoding.PersistenceError("get_job", err))
			retry = true
		}
	}
	w.nack(ctx, d, cause, retry, log)
	return cause
}

// fail applies the failure policy: a terminal failure marks the job failed,
// anything else records the error and hands the message back for retry.
func (w *Worker) fail(ctx context.Context, d queue.Delivery, job *models.TranscodingJob, cause error, log logger.Logger) error {
	retry := transcoding.IsRetryable(cause)
	terminal := !retry || d.Attempt() >= d.MaxAttempts()
	log.Errorf("Worker.handle - attempt %d/%d failed (terminal=%t): %v", d.Attempt(), d.MaxAttempts(), terminal, cause)

	var perr error
	if terminal {
		perr = w.failJob(ctx, d, job, cause, log)
	} else if err := w.repo.RecordJobError(ctx, job.ID, w.cfg.ID, cause.Error()); err != nil {
		perr = transcoding.PersistenceError("record_error", err)
		log.Errorf("Worker.fail - %v", perr)
	}
	if perr != nil {
		retry = true
	}
	w.nack(ctx, d, cause, retry, log)
	return cause
}

func (w *Worker) failJob(ctx context.Context, d queue.Delivery, job *models.TranscodingJob, cause error, log logger.Logger) error {
	failed, err := w.repo.FailJob(ctx, job.ID, w.cfg.ID, cause.Error())
	if err != nil {
		perr := transcoding.PersistenceError("fail_job", err)
		log.Errorf("Worker.fail - %v", perr)
		return perr
	}
	w.notifier.Publish(ctx, models.NewJobEvent(models.EventJobFailed, failed, map[string]interface{}{
		"error":   cause.Error(),
		"kind":    transcoding.KindOf(cause).String(),
		"attempt": d.Attempt(),
	}))
	w.refreshVideo(ctx, failed.VideoID, log)
	return nil
}

func (w *Worker) nack(ctx context.Context, d queue.Delivery, cause error, retry bool, log logger.Logger) {
	if ctx.Err() != nil {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(context.Background(), cleanupTimeout)
		defer cancel()
	}
	state, err := d.Nack(ctx, cause, retry)
	if err != nil {
		log.Warnf("Worker.nack - nack error: %v", err)
		return
	}
	log.Infof("Worker.nack - message is now %s", state)
}

func (w *Worker) refreshVideo(ctx context.Context, videoID uuid.UUID, log logger.Logger) {
	if _, err := w.repo.RefreshVideoStatus(ctx, videoID); err != nil {
		log.Warnf("Worker.refreshVideo - RefreshVideoStatus error: %v", err)
	}
}

func clampFraction(f float64) float64 {
	return clampPercent(f*100) / 100
}
