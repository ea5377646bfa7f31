package encoder

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/amankumarsingh77/transcode-orchestrator/internal/models"
	"github.com/amankumarsingh77/transcode-orchestrator/internal/transcoding"
	"github.com/amankumarsingh77/transcode-orchestrator/pkg/logger"
)

const (
	progressBuffer = 32
	stderrTail     = 2048
)

// ProcessLimiter places a started encoder process under a resource limit.
type ProcessLimiter interface {
	Add(pid int) error
}

type Config struct {
	FFmpegPath  string
	FFprobePath string
	Preset      string
	Limiter     ProcessLimiter
}

type FFmpeg struct {
	cfg    Config
	logger logger.Logger
}

func NewFFmpeg(cfg Config, log logger.Logger) *FFmpeg {
	if cfg.FFmpegPath == "" {
		cfg.FFmpegPath = "ffmpeg"
	}
	if cfg.FFprobePath == "" {
		cfg.FFprobePath = "ffprobe"
	}
	if cfg.Preset == "" {
		cfg.Preset = "medium"
	}
	return &FFmpeg{cfg: cfg, logger: log}
}

func (f *FFmpeg) Probe(ctx context.Context, path string) (*models.ProbeResult, error) {
	cmd := exec.CommandContext(ctx, f.cfg.FFprobePath,
		"-v", "error",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		path,
	)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("ffprobe: %w - %s", err, tail(stderr.String()))
	}
	return parseProbe(out)
}

func (f *FFmpeg) args(in, out string, p models.EncodeProfile) []string {
	return []string{
		"-y",
		"-i", in,
		"-vf", "scale=" + p.Scale(),
		"-c:v", "libx264",
		"-preset", f.cfg.Preset,
		"-b:v", p.VideoBitrate(),
		"-c:a", "aac",
		"-b:a", p.AudioBitrate(),
		"-movflags", "+faststart",
		"-progress", "pipe:1",
		"-nostats",
		out,
	}
}

func (f *FFmpeg) Encode(ctx context.Context, in, out string, profile models.EncodeProfile) (transcoding.EncodeSession, error) {
	cmd := exec.CommandContext(ctx, f.cfg.FFmpegPath, f.args(in, out, profile)...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	s := &session{
		cmd:      cmd,
		out:      out,
		progress: make(chan float64, progressBuffer),
		readDone: make(chan struct{}),
		parser:   progressParser{durationSeconds: profile.SourceDurationSeconds},
		started:  time.Now(),
	}
	cmd.Stderr = &s.stderr

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("ffmpeg start: %w", err)
	}
	if f.cfg.Limiter != nil {
		if err := f.cfg.Limiter.Add(cmd.Process.Pid); err != nil {
			f.logger.Warnf("FFmpeg.Encode - limiter error: %v", err)
		}
	}

	go s.readProgress(bufio.NewScanner(stdout))
	return s, nil
}

type session struct {
	cmd      *exec.Cmd
	out      string
	stderr   bytes.Buffer
	progress chan float64
	readDone chan struct{}
	parser   progressParser
	started  time.Time

	waitOnce sync.Once
	result   *models.EncodeResult
	err      error
}

func (s *session) Progress() <-chan float64 {
	return s.progress
}

// readProgress never blocks ffmpeg: samples are dropped when nobody reads them.
func (s *session) readProgress(sc *bufio.Scanner) {
	defer close(s.readDone)
	defer close(s.progress)
	for sc.Scan() {
		frac, _, ok := s.parser.parse(sc.Text())
		if !ok {
			continue
		}
		select {
		case s.progress <- frac:
		default:
		}
	}
}

func (s *session) Wait() (*models.EncodeResult, error) {
	s.waitOnce.Do(func() {
		<-s.readDone
		if err := s.cmd.Wait(); err != nil {
			s.err = fmt.Errorf("ffmpeg execution: %w - %s", err, tail(s.stderr.String()))
			return
		}
		st, err := os.Stat(s.out)
		if err != nil {
			s.err = fmt.Errorf("ffmpeg output: %w", err)
			return
		}
		s.result = &models.EncodeResult{OutputSize: st.Size(), Elapsed: time.Since(s.started)}
	})
	return s.result, s.err
}

func tail(s string) string {
	s = strings.TrimSpace(s)
	if len(s) > stderrTail {
		return s[len(s)-stderrTail:]
	}
	return s
}
