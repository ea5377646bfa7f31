package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/amankumarsingh77/transcode-orchestrator/internal/models"
	"github.com/amankumarsingh77/transcode-orchestrator/internal/transcoding/usecase"
	"github.com/amankumarsingh77/transcode-orchestrator/pkg/utils"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

var videoMimeTypes = map[string]string{
	".mp4":  "video/mp4",
	".m4v":  "video/mp4",
	".mpeg": "video/mpeg",
	".mpg":  "video/mpeg",
	".mov":  "video/quicktime",
	".avi":  "video/x-msvideo",
}

func mimeFor(path string) (string, error) {
	ext := strings.ToLower(filepath.Ext(path))
	mt, ok := videoMimeTypes[ext]
	if !ok {
		return "", fmt.Errorf("unsupported file extension %q", ext)
	}
	return mt, nil
}

func newUploadCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "upload <path>",
		Short: "Upload a local video and dispatch its transcoding jobs",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			absPath, err := filepath.Abs(args[0])
			if err != nil {
				return fmt.Errorf("resolve path: %w", err)
			}
			info, err := os.Stat(absPath)
			if err != nil {
				if errors.Is(err, os.ErrNotExist) {
					return fmt.Errorf("file does not exist: %s", absPath)
				}
				return fmt.Errorf("inspect file: %w", err)
			}
			if info.IsDir() {
				return fmt.Errorf("%s is a directory", absPath)
			}
			mimeType, err := mimeFor(absPath)
			if err != nil {
				return err
			}

			return ctx.withBackend(cmd.Context(), true, func(b *backend) error {
				if err := b.repo.EnsureSchema(cmd.Context()); err != nil {
					return err
				}
				uc := usecase.NewTranscodingUseCase(b.repo, b.store, b.queues, b.notifier, b.logger)
				res, err := uc.Upload(cmd.Context(), &models.UploadInput{
					LocalPath:        absPath,
					OriginalFilename: info.Name(),
					Size:             info.Size(),
					MimeType:         mimeType,
				})
				if res != nil {
					out := cmd.OutOrStdout()
					fmt.Fprintf(out, "Uploaded %s as video %s (%d bytes)\n", res.Filename, res.VideoID, res.Size)
					fmt.Fprintln(out, renderDispatched(res.Jobs))
				}
				return err
			})
		},
	}
}

func renderDispatched(jobs []models.DispatchedJob) string {
	rows := make([][]string, 0, len(jobs))
	for _, j := range jobs {
		rows = append(rows, []string{j.Resolution.String(), j.JobID.String(), j.QueueName})
	}
	return renderTable([]string{"Resolution", "Job", "Queue"}, rows)
}

func newStatsCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show message counts per resolution queue",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withBackend(cmd.Context(), false, func(b *backend) error {
				stats, err := b.queues.Stats(cmd.Context())
				rows := make([][]string, 0, len(stats))
				for _, res := range b.queues.Resolutions() {
					s, ok := stats[res]
					if !ok {
						continue
					}
					rows = append(rows, []string{
						res.QueueName(),
						strconv.FormatInt(s.Waiting, 10),
						strconv.FormatInt(s.Active, 10),
						strconv.FormatInt(s.Delayed, 10),
						strconv.FormatInt(s.Completed, 10),
						strconv.FormatInt(s.Failed, 10),
					})
				}
				fmt.Fprintln(cmd.OutOrStdout(), renderTable(
					[]string{"Queue", "Waiting", "Active", "Delayed", "Completed", "Failed"},
					rows, 2, 3, 4, 5, 6,
				))
				return err
			})
		},
	}
}

func newStatusCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status <resolution> <job-id>",
		Short: "Show a job row together with its queue message",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			jobID, err := uuid.Parse(args[1])
			if err != nil {
				return fmt.Errorf("invalid job id %q", args[1])
			}
			return ctx.withBackend(cmd.Context(), false, func(b *backend) error {
				uc := usecase.NewTranscodingUseCase(b.repo, b.store, b.queues, b.notifier, b.logger)
				view, err := uc.GetJobStatus(cmd.Context(), args[0], jobID)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), renderTable([]string{"Field", "Value"}, jobStatusRows(view)))
				return nil
			})
		},
	}
}

func jobStatusRows(view *models.JobStatusView) [][]string {
	job := view.Job
	rows := [][]string{
		{"Job", job.ID.String()},
		{"Video", job.VideoID.String()},
		{"Resolution", job.Resolution.String()},
		{"Status", string(job.Status)},
		{"Worker", deref(job.OwnerWorkerID)},
		{"Output", deref(job.OutputStoragePath)},
		{"Error", deref(job.ErrorMessage)},
	}
	if m := view.Message; m != nil {
		rows = append(rows,
			[]string{"Queue state", m.State},
			[]string{"Progress", fmt.Sprintf("%.0f%%", m.Progress)},
			[]string{"Attempts", fmt.Sprintf("%d/%d", m.Attempts, m.MaxAttempts)},
		)
		if m.FailedReason != "" {
			rows = append(rows, []string{"Failed reason", m.FailedReason})
		}
	} else {
		rows = append(rows, []string{"Queue state", "no message"})
	}
	return rows
}

func deref(s *string) string {
	if s == nil {
		return "-"
	}
	return *s
}

func newSweepCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Run one reconciliation pass over stale jobs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withBackend(cmd.Context(), false, func(b *backend) error {
				r := usecase.NewReconciler(b.cfg.Reconciler, b.repo, b.queues, b.notifier, b.logger)
				res, err := r.Sweep(cmd.Context())
				if res != nil {
					fmt.Fprintf(cmd.OutOrStdout(), "republished %d, failed %d, skipped %d\n", res.Republished, res.Failed, res.Skipped)
				}
				return err
			})
		},
	}
}

func newTokenCommand(ctx *commandContext) *cobra.Command {
	var subject, scope string
	var ttl time.Duration
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint an API token signed with the server secret",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			if cfg.Server.JwtSecretKey == "" {
				return errors.New("server.jwtsecretkey is not set")
			}
			token, err := utils.GenerateJWTToken(subject, scope, cfg.Server.JwtSecretKey, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "ingest", "Token subject")
	cmd.Flags().StringVar(&scope, "scope", "operator", "Token scope")
	cmd.Flags().DurationVar(&ttl, "ttl", utils.TokenExpireDuration, "Token lifetime")
	return cmd
}
