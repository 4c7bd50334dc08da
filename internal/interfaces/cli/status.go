package cli

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/turtacn/stockscan/pkg/client"
)

func newStatusCmd() *cobra.Command {
	var (
		server  string
		wait    time.Duration
		timeout time.Duration
	)

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show readiness, counters and the last run of a running worker",
		RunE: func(cmd *cobra.Command, args []string) error {
			cliCtx, err := GetCLIContext(cmd)
			if err != nil {
				return err
			}
			if server == "" {
				server = fmt.Sprintf("http://localhost:%d", cliCtx.Config.Server.Port)
			}
			c, err := client.NewClient(server, client.WithTimeout(timeout))
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			if wait > 0 {
				wctx, cancel := context.WithTimeout(ctx, wait)
				err := c.WaitReady(wctx, 500*time.Millisecond)
				cancel()
				if err != nil {
					return err
				}
			}

			report, err := fetchStatus(ctx, c)
			if err != nil {
				return err
			}
			return PrintResult(cmd, report)
		},
	}
	cmd.Flags().StringVar(&server, "server", "", "admin API base URL (default: http://localhost:<server.port>)")
	cmd.Flags().DurationVar(&wait, "wait", 0, "wait up to this long for the worker to become ready")
	cmd.Flags().DurationVar(&timeout, "timeout", 5*time.Second, "per-request timeout")
	return cmd
}

type statusReport struct {
	Server    string                    `json:"server"`
	Readiness *client.ReadinessResponse `json:"readiness"`
	Stats     *client.StatsResponse     `json:"stats"`
	LastRun   *client.RunOverview       `json:"last_run,omitempty"`
}

// fetchStatus tolerates a not-ready answer; any other failure aborts.
func fetchStatus(ctx context.Context, c *client.Client) (*statusReport, error) {
	ready, err := c.Ready(ctx)
	if ready == nil {
		return nil, err
	}
	stats, err := c.Stats(ctx)
	if err != nil {
		return nil, err
	}
	last, err := c.LastRun(ctx)
	if err != nil {
		return nil, err
	}
	return &statusReport{Server: c.BaseURL(), Readiness: ready, Stats: stats, LastRun: last}, nil
}

func (r *statusReport) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s: %s\n", r.Server, r.Readiness.Status)
	for _, row := range r.TableRows() {
		fmt.Fprintf(&sb, "  %-28s %s\n", row[0], row[1])
	}
	return strings.TrimRight(sb.String(), "\n")
}

func (r *statusReport) TableHeaders() []string { return []string{"KEY", "VALUE"} }

func (r *statusReport) TableRows() [][]string {
	var rows [][]string
	add := func(k string, v interface{}) { rows = append(rows, []string{k, fmt.Sprint(v)}) }

	names := make([]string, 0, len(r.Readiness.Components))
	for name := range r.Readiness.Components {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		cc := r.Readiness.Components[name]
		v := cc.Status
		if cc.Error != "" {
			v += " (" + cc.Error + ")"
		}
		add("dependency."+name, v)
	}

	e := r.Stats.Engine
	add("engine.runs", e.Runs)
	add("engine.total_processed", e.TotalProcessed)
	add("engine.errors", e.ErrorCount)
	add("engine.cache_hits", e.CacheHits)
	add("engine.cache_misses", e.CacheMisses)
	add("engine.cache_entries", e.CacheEntries)
	add("engine.retries", e.Retries)
	add("engine.timeouts", e.Timeouts)

	if w := r.Stats.Worker; w != nil {
		add("worker.generation", w.Generation)
		add("worker.published", w.Published)
		add("worker.publish_failures", w.PublishFailures)
		add("worker.unfinished", w.Unfinished)
		add("worker.uncommitted", w.Source.Uncommitted)
		add("worker.dead_lettered", w.Source.DeadLettered)
		add("worker.lag", w.Source.Lag)
	}
	if l := r.LastRun; l != nil {
		add("last_run.id", l.RunID)
		add("last_run.mode", l.Mode)
		add("last_run.items", fmt.Sprintf("%d ok / %d failed", l.SuccessCount, l.FailureCount))
	}
	return rows
}
