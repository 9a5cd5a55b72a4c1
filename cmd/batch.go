package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/boq-resolver/internal/batch"
	"github.com/sells-group/boq-resolver/internal/model"
	"github.com/sells-group/boq-resolver/internal/rows"
	"github.com/sells-group/boq-resolver/internal/store"
)

var batchCmd = &cobra.Command{
	Use:   "batch",
	Short: "Create and control batch resolution jobs",
	Long:  "Batch jobs are checkpointed after every stage; an interrupted job resumes from its first unfinished item.",
}

// -- batch create --

var batchCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a job from a CSV or XLSX file of BOQ rows",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		path, _ := cmd.Flags().GetString("file")
		column, _ := cmd.Flags().GetInt("column")
		skip, _ := cmd.Flags().GetInt("skip-rows")
		concurrency, _ := cmd.Flags().GetInt("concurrency")
		maxCandidates, _ := cmd.Flags().GetInt("max-candidates")
		noEsc, _ := cmd.Flags().GetBool("no-escalation")
		start, _ := cmd.Flags().GetBool("start")
		pairs, _ := cmd.Flags().GetStringArray("context")

		cctx, err := parseContext(pairs)
		if err != nil {
			return err
		}
		local, err := localize(ctx, cfg, path)
		if err != nil {
			return err
		}
		data, err := rows.ReadFile(local, rows.Options{SkipRows: skip})
		if err != nil {
			return eris.Wrap(err, "batch create")
		}
		lines := rows.Column(data, column)

		env, err := initEnv(ctx, cfg, "batch")
		if err != nil {
			return err
		}
		defer env.Close()

		job, err := env.Batch.Create(ctx, lines, model.JobSettings{
			Concurrency:       concurrency,
			EscalationEnabled: !noEsc && cfg.Gate.EscalationEnabled,
			MaxCandidates:     maxCandidates,
		}, cctx)
		if err != nil {
			return eris.Wrap(err, "batch create")
		}
		fmt.Fprintf(os.Stdout, "Created job %s with %d items.\n", job.ID, len(lines))

		if !start {
			return nil
		}
		return runJob(ctx, env, job.ID, false, os.Stdout)
	},
}

// -- batch start / resume --

var batchStartCmd = &cobra.Command{
	Use:   "start <job-id>",
	Short: "Run a job in the foreground until it completes or is paused",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withBatchEnv(cmd, func(ctx context.Context, env *resolverEnv) error {
			return runJob(ctx, env, args[0], false, os.Stdout)
		})
	},
}

var batchResumeCmd = &cobra.Command{
	Use:   "resume <job-id>",
	Short: "Resume a paused job from its first unfinished item",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withBatchEnv(cmd, func(ctx context.Context, env *resolverEnv) error {
			return runJob(ctx, env, args[0], true, os.Stdout)
		})
	},
}

// -- batch pause --

var batchPauseCmd = &cobra.Command{
	Use:   "pause <job-id>",
	Short: "Pause a job; a process running it stops at the next stage boundary",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withBatchEnv(cmd, func(ctx context.Context, env *resolverEnv) error {
			if err := env.Batch.Pause(ctx, args[0]); err != nil {
				return err
			}
			fmt.Fprintf(os.Stdout, "Job %s paused.\n", args[0])
			return nil
		})
	},
}

// -- batch status --

var batchStatusCmd = &cobra.Command{
	Use:   "status <job-id>",
	Short: "Show job progress and quality flags",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		asJSON, _ := cmd.Flags().GetBool("json")
		return withBatchEnv(cmd, func(ctx context.Context, env *resolverEnv) error {
			p, err := env.Batch.Status(ctx, args[0])
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(os.Stdout, p)
			}
			formatProgress(os.Stdout, p)
			return nil
		})
	},
}

// -- batch results --

var batchResultsCmd = &cobra.Command{
	Use:   "results <job-id>",
	Short: "List item results in submission order",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		asJSON, _ := cmd.Flags().GetBool("json")
		return withBatchEnv(cmd, func(ctx context.Context, env *resolverEnv) error {
			results, err := env.Batch.Results(ctx, args[0])
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(os.Stdout, results)
			}
			formatResults(os.Stdout, results)
			return nil
		})
	},
}

// -- batch retry --

var batchRetryCmd = &cobra.Command{
	Use:   "retry <job-id> <item-id>",
	Short: "Re-queue a failed item and run the job to pick it up",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withBatchEnv(cmd, func(ctx context.Context, env *resolverEnv) error {
			it, err := env.Batch.RetryItem(ctx, args[0], args[1])
			if err != nil {
				return err
			}
			fmt.Fprintf(os.Stdout, "Item %s re-queued (attempt %d).\n", it.ID, it.Attempts+1)
			return runJob(ctx, env, args[0], false, os.Stdout)
		})
	},
}

// -- batch list --

var batchListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent jobs",
	RunE: func(cmd *cobra.Command, _ []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		return withBatchEnv(cmd, func(ctx context.Context, env *resolverEnv) error {
			jobs, err := env.Store.ListJobs(ctx, store.JobFilter{Limit: limit})
			if err != nil {
				return eris.Wrap(err, "batch list")
			}
			if len(jobs) == 0 {
				fmt.Fprintln(os.Stderr, "No jobs found.")
				return nil
			}
			formatJobs(os.Stdout, jobs)
			return nil
		})
	},
}

func withBatchEnv(cmd *cobra.Command, fn func(ctx context.Context, env *resolverEnv) error) error {
	ctx := cmd.Context()
	env, err := initEnv(ctx, cfg, "batch")
	if err != nil {
		return err
	}
	defer env.Close()
	return fn(ctx, env)
}

// runJob starts or resumes a job and blocks until it completes or is paused.
// SIGINT pauses the job so that a later resume picks up from the last
// checkpoint.
func runJob(ctx context.Context, env *resolverEnv, jobID string, resume bool, w io.Writer) error {
	sigCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var err error
	if resume {
		err = env.Batch.Resume(ctx, jobID)
	} else {
		err = env.Batch.Start(ctx, jobID)
	}
	if err != nil {
		return err
	}

	go watchPause(sigCtx, env.Store, env.Batch, jobID, time.Second)

	if err := env.Batch.Wait(sigCtx, jobID); err != nil && ctx.Err() == nil {
		// Interrupted: checkpoint by pausing and let in-flight items drain.
		bg := context.WithoutCancel(ctx)
		if perr := env.Batch.Pause(bg, jobID); perr != nil {
			return perr
		}
		_ = env.Batch.Wait(bg, jobID)
		fmt.Fprintf(w, "Job %s paused. Resume with: boq-resolver batch resume %s\n", jobID, jobID)
		return nil
	}

	p, err := env.Batch.Status(context.WithoutCancel(ctx), jobID)
	if err != nil {
		return err
	}
	formatProgress(w, p)
	return nil
}

// watchPause polls the store so a pause issued by another process stops the
// job running here.
func watchPause(ctx context.Context, st store.Store, orch *batch.Orchestrator, jobID string, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			job, err := st.GetJob(ctx, jobID)
			if err != nil {
				zap.L().Debug("batch: pause watch", zap.String("job_id", jobID), zap.Error(err))
				continue
			}
			if job.Paused {
				_ = orch.Pause(ctx, jobID)
				return
			}
			if job.Status == model.JobCompleted {
				return
			}
		}
	}
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func formatProgress(w io.Writer, p *batch.Progress) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "Job:\t%s\n", p.JobID)
	fmt.Fprintf(tw, "Status:\t%s\n", p.Status)
	fmt.Fprintf(tw, "Progress:\t%d/%d (%.1f%%)\n", p.Counts.Terminal(), p.Counts.Total, p.Percent)
	fmt.Fprintf(tw, "Processed:\t%d\n", p.Counts.Processed)
	fmt.Fprintf(tw, "Needs review:\t%d\n", p.Counts.NeedsReview)
	fmt.Fprintf(tw, "Fallbacks:\t%d\n", p.Counts.Fallbacks)
	fmt.Fprintf(tw, "Errors:\t%d\n", p.Counts.Errors)
	if p.Counts.CostUSD > 0 {
		fmt.Fprintf(tw, "Cost:\t$%.4f\n", p.Counts.CostUSD)
	}
	tw.Flush() //nolint:errcheck
}

func formatResults(w io.Writer, results []batch.Result) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "SEQ\tSTATUS\tCATEGORY\tCODES\tSOURCE\tTEXT")
	for _, r := range results {
		codes, sources := "-", "-"
		if r.Result != nil {
			codes, sources = summarize(r.Result.Resolutions)
		}
		if r.Error != "" {
			sources = r.Error
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\n",
			r.Seq, r.Status, dash(r.Category), codes, sources, truncate(r.Raw, 60))
	}
	tw.Flush() //nolint:errcheck
}

func formatJobs(w io.Writer, jobs []model.BatchJob) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSTATUS\tITEMS\tDONE\tREVIEW\tERRORS\tCREATED")
	for _, j := range jobs {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%d\t%d\t%s\n",
			j.ID, j.Status, j.Counts.Total, j.Counts.Processed, j.Counts.NeedsReview,
			j.Counts.Errors, j.CreatedAt.Format("2006-01-02 15:04"))
	}
	tw.Flush() //nolint:errcheck
}

func summarize(res []model.Resolution) (string, string) {
	if len(res) == 0 {
		return "-", "-"
	}
	codes := make([]string, len(res))
	sources := make([]string, len(res))
	for i, r := range res {
		codes[i] = dash(r.Code)
		sources[i] = string(r.Source)
	}
	return strings.Join(codes, ","), strings.Join(sources, ",")
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}

func init() {
	batchCreateCmd.Flags().String("file", "", "CSV or XLSX file or http(s)/ftp URL with one BOQ row per line (required)")
	_ = batchCreateCmd.MarkFlagRequired("file")
	batchCreateCmd.Flags().Int("column", 0, "zero-based column holding the row text")
	batchCreateCmd.Flags().Int("skip-rows", 1, "header rows to skip")
	batchCreateCmd.Flags().Int("concurrency", 0, "items processed at once (default from config)")
	batchCreateCmd.Flags().Int("max-candidates", 0, "candidates sent to the selector (default from config)")
	batchCreateCmd.Flags().Bool("no-escalation", false, "resolve locally only")
	batchCreateCmd.Flags().Bool("start", false, "run the job right after creating it")
	batchCreateCmd.Flags().StringArray("context", nil, "project context as key=value (repeatable)")

	batchStatusCmd.Flags().Bool("json", false, "print progress as JSON")
	batchResultsCmd.Flags().Bool("json", false, "print results as JSON")
	batchListCmd.Flags().Int("limit", 20, "maximum jobs to list")

	batchCmd.AddCommand(batchCreateCmd, batchStartCmd, batchResumeCmd, batchPauseCmd,
		batchStatusCmd, batchResultsCmd, batchRetryCmd, batchListCmd)
	rootCmd.AddCommand(batchCmd)
}
