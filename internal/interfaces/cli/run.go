package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/turtacn/stockscan/internal/batch"
	"github.com/turtacn/stockscan/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/stockscan/pkg/errors"
	"github.com/turtacn/stockscan/pkg/types/job"
)

type runOptions struct {
	ItemsPath      string
	Mode           string
	Stages         string
	BatchSize      int
	MaxConcurrency int
	ItemTimeout    time.Duration
	RetryAttempts  int
	PriorityMode   string
	NoCache        bool
	Progress       bool
}

func newRunCmd() *cobra.Command {
	opts := &runOptions{}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Process the items of a JSON file through the remote analyzer",
		Long: "Reads job items from a JSON file (an array, or an object with an \"items\"\n" +
			"array), runs them through the engine in batch, adaptive or pipeline mode\n" +
			"and prints the run summary.",
		Example: "  stockscan run --items items.json\n" +
			"  stockscan run --items items.json --mode pipeline --stages decode,analyze -o table",
		RunE: func(cmd *cobra.Command, args []string) error {
			cliCtx, err := GetCLIContext(cmd)
			if err != nil {
				return err
			}
			return runItems(cmd, cliCtx, opts)
		},
	}

	f := cmd.Flags()
	f.StringVarP(&opts.ItemsPath, "items", "i", "", "path of the JSON items file")
	f.StringVarP(&opts.Mode, "mode", "m", "", "run mode: batch, adaptive or pipeline (default from engine.adaptive)")
	f.StringVar(&opts.Stages, "stages", "decode,analyze,extract,enrich", "comma-separated pipeline stages")
	f.IntVar(&opts.BatchSize, "batch-size", 0, "override engine.batch_size")
	f.IntVar(&opts.MaxConcurrency, "concurrency", 0, "override engine.max_concurrency")
	f.DurationVar(&opts.ItemTimeout, "item-timeout", 0, "override engine.item_timeout")
	f.IntVar(&opts.RetryAttempts, "retries", -1, "override engine.retry_attempts")
	f.StringVar(&opts.PriorityMode, "priority", "", "override engine.priority_mode (speed, quality, balanced)")
	f.BoolVar(&opts.NoCache, "no-cache", false, "disable the result cache for this run")
	f.BoolVar(&opts.Progress, "progress", false, "log progress after every chunk")
	_ = cmd.MarkFlagRequired("items")

	return cmd
}

func runItems(cmd *cobra.Command, cliCtx *CLIContext, opts *runOptions) error {
	cfg := cliCtx.Config
	logger := cliCtx.Logger.Named("run")

	items, err := readItemsFile(opts.ItemsPath)
	if err != nil {
		return err
	}

	mode := job.RunMode(strings.ToLower(opts.Mode))
	if mode == "" {
		mode = job.ModeBatch
		if cfg.Engine.Adaptive {
			mode = job.ModeAdaptive
		}
	}
	var stages []batch.StageKind
	switch mode {
	case job.ModeBatch, job.ModeAdaptive:
	case job.ModePipeline:
		if stages, err = batch.ParseStageList(opts.Stages); err != nil {
			return err
		}
		if len(stages) == 0 {
			return errors.InvalidParam("pipeline mode needs at least one stage")
		}
	default:
		return errors.InvalidParam("unknown run mode").WithDetailf("%q; want batch, adaptive or pipeline", opts.Mode)
	}

	runCfg := opts.apply(cfg.Engine.RunConfig())
	if opts.Progress {
		runCfg.ProgressCallback = func(p job.RunProgress) {
			logger.Info("progress", logging.String("progress", p.String()))
		}
	}
	if err := runCfg.Validate(); err != nil {
		return err
	}

	comp, err := buildComponents(cfg, logger)
	if err != nil {
		return err
	}
	defer comp.Close()

	logger.Info("run starting",
		logging.String(logging.KeyMode, string(mode)),
		logging.Int("items", len(items)),
		logging.Int("batch_size", runCfg.BatchSize),
		logging.Int("max_concurrency", runCfg.MaxConcurrency),
	)

	summary, runErr := dispatchRun(cmd.Context(), comp, mode, items, stages, runCfg)
	if summary == nil {
		return runErr
	}
	if err := PrintResult(cmd, runReport{summary}); err != nil {
		return err
	}
	if runErr != nil {
		return runErr
	}
	if summary.FailureCount > 0 {
		return errors.New(errors.ErrCodeProcessingFailed, "run finished with failures").
			WithDetailf("%d of %d items failed", summary.FailureCount, summary.TotalItems)
	}
	return nil
}

func dispatchRun(ctx context.Context, comp *components, mode job.RunMode, items []job.Item, stages []batch.StageKind, cfg job.RunConfig) (*job.RunSummary[json.RawMessage], error) {
	switch mode {
	case job.ModeAdaptive:
		return comp.engine.RunAdaptive(ctx, items, comp.analyzer.Process, cfg)
	case job.ModePipeline:
		return comp.engine.RunPipeline(ctx, items, stages, comp.analyzer.Registry(stages...), cfg)
	default:
		return comp.engine.RunBatch(ctx, items, comp.analyzer.Process, cfg)
	}
}

// apply overlays the flags that were set on base.
func (o *runOptions) apply(base job.RunConfig) job.RunConfig {
	out := base.Clone()
	if o.BatchSize > 0 {
		out.BatchSize = o.BatchSize
	}
	if o.MaxConcurrency > 0 {
		out.MaxConcurrency = o.MaxConcurrency
	}
	if o.ItemTimeout > 0 {
		out.ItemTimeout = o.ItemTimeout
	}
	if o.RetryAttempts >= 0 {
		out.RetryAttempts = o.RetryAttempts
	}
	if o.PriorityMode != "" {
		out.PriorityMode = job.PriorityMode(strings.ToLower(o.PriorityMode))
	}
	if o.NoCache {
		out.CacheEnabled = false
	}
	return out
}

// readItemsFile accepts either a JSON array of items or {"items": [...]}.
func readItemsFile(path string) ([]job.Item, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeBadRequest, "cannot read items file").WithDetail(path)
	}

	var items []job.Item
	if err := json.Unmarshal(data, &items); err != nil {
		var wrapped struct {
			Items []job.Item `json:"items"`
		}
		if werr := json.Unmarshal(data, &wrapped); werr != nil || wrapped.Items == nil {
			return nil, errors.Wrap(err, errors.ErrCodeSerialization, "items file is not a JSON item list").WithDetail(path)
		}
		items = wrapped.Items
	}

	for i, it := range items {
		if it.ID == "" {
			return nil, errors.InvalidParam("item without id").WithDetailf("%s: index %d", path, i)
		}
	}
	return items, nil
}

// runReport renders a summary for every output format.
type runReport struct {
	*job.RunSummary[json.RawMessage]
}

func (r runReport) String() string {
	s := r.RunSummary
	var sb strings.Builder
	fmt.Fprintf(&sb, "run %s (%s)\n", s.RunID, s.Mode)
	fmt.Fprintf(&sb, "  items:      %d total, %d ok, %d failed, %d cached\n", s.TotalItems, s.SuccessCount, s.FailureCount, s.CacheHits)
	fmt.Fprintf(&sb, "  time:       %s total, %s avg, %.2f items/s\n",
		s.TotalTime.Round(time.Millisecond), s.AvgTime.Round(time.Microsecond), s.ThroughputPerSec)
	fmt.Fprintf(&sb, "  peak mem:   %.1f MB\n", s.PeakMemoryMB)
	fmt.Fprintf(&sb, "  effective:  batch_size=%d max_concurrency=%d\n", s.Effective.BatchSize, s.Effective.MaxConcurrency)
	for stage, n := range s.StageFailures {
		fmt.Fprintf(&sb, "  dropped at %s: %d\n", stage, n)
	}
	for _, f := range s.Failures() {
		fmt.Fprintf(&sb, "  failed %s: %s %s\n", f.ID, f.Status, f.ErrorMessage)
	}
	return strings.TrimRight(sb.String(), "\n")
}

func (r runReport) TableHeaders() []string {
	return []string{"ID", "STATUS", "ATTEMPTS", "CACHED", "TIME", "STAGE", "ERROR"}
}

func (r runReport) TableRows() [][]string {
	rows := make([][]string, 0, len(r.Results))
	for _, res := range r.Results {
		rows = append(rows, []string{
			res.ID,
			string(res.Status),
			strconv.Itoa(res.Attempts),
			strconv.FormatBool(res.FromCache),
			res.ProcessingTime.Round(time.Millisecond).String(),
			res.Stage,
			res.ErrorMessage,
		})
	}
	return rows
}
