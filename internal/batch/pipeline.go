package batch

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/turtacn/stockscan/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/stockscan/pkg/errors"
	"github.com/turtacn/stockscan/pkg/types/job"
)

// StageKind names a pipeline stage.
type StageKind int

const (
	StageDecode StageKind = iota + 1
	StageAnalyze
	StageExtract
	StageEnrich
)

var stageNames = map[StageKind]string{
	StageDecode:  "decode",
	StageAnalyze: "analyze",
	StageExtract: "extract",
	StageEnrich:  "enrich",
}

func (k StageKind) String() string {
	if name, ok := stageNames[k]; ok {
		return name
	}
	return fmt.Sprintf("stage(%d)", int(k))
}

// AllStages lists every known stage in canonical order.
func AllStages() []StageKind {
	return []StageKind{StageDecode, StageAnalyze, StageExtract, StageEnrich}
}

// ParseStageKind maps a case-insensitive name to its StageKind.
func ParseStageKind(s string) (StageKind, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	for k, n := range stageNames {
		if n == name {
			return k, nil
		}
	}
	return 0, errors.New(errors.ErrCodeStageUnknown, "unknown stage").WithDetail(s)
}

// ParseStageList parses a comma-separated stage list such as
// "decode,analyze".
func ParseStageList(s string) ([]StageKind, error) {
	var out []StageKind
	for _, part := range strings.Split(s, ",") {
		if strings.TrimSpace(part) == "" {
			continue
		}
		k, err := ParseStageKind(part)
		if err != nil {
			return nil, err
		}
		out = append(out, k)
	}
	return out, nil
}

// StageFunc processes one item in one stage. prev is the previous stage's
// output for the same item, or the zero R in the first stage.
type StageFunc[R any] func(ctx context.Context, item job.Item, prev R) (R, error)

// StageRegistry binds stage kinds to implementations. Register before
// sharing; lookups are read-only.
type StageRegistry[R any] struct {
	stages map[StageKind]StageFunc[R]
}

func NewStageRegistry[R any]() *StageRegistry[R] {
	return &StageRegistry[R]{stages: make(map[StageKind]StageFunc[R])}
}

// Register binds fn to kind, replacing any earlier binding.
func (r *StageRegistry[R]) Register(kind StageKind, fn StageFunc[R]) *StageRegistry[R] {
	r.stages[kind] = fn
	return r
}

func (r *StageRegistry[R]) Lookup(kind StageKind) (StageFunc[R], bool) {
	if r == nil {
		return nil, false
	}
	fn, ok := r.stages[kind]
	return fn, ok && fn != nil
}

// Kinds lists the registered stages in canonical order.
func (r *StageRegistry[R]) Kinds() []StageKind {
	out := make([]StageKind, 0, len(r.stages))
	for k := range r.stages {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// RunPipeline runs items through stages in order. Each stage is a full
// batch over the items that survived the previous one, with cache keys
// namespaced by stage.
//
// Only the last stage's outcomes populate Results. An item dropped by an
// earlier stage is logged, counted in StageFailures and in the metrics,
// and shows up in the summary only through FailureCount, which is
// TotalItems - SuccessCount.
//
// An empty stage list or a stage missing from the registry fails the run
// with BATCH_006 before any work starts.
func (e *Engine[R]) RunPipeline(ctx context.Context, items []job.Item, stages []StageKind, registry *StageRegistry[R], cfg job.RunConfig) (*job.RunSummary[R], error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if len(stages) == 0 {
		return nil, errors.New(errors.ErrCodeStageUnknown, "pipeline has no stages")
	}
	fns := make([]StageFunc[R], len(stages))
	for i, kind := range stages {
		fn, ok := registry.Lookup(kind)
		if !ok {
			return nil, errors.New(errors.ErrCodeStageUnknown, "stage not registered").WithDetail(kind.String())
		}
		fns[i] = fn
	}

	r := e.beginRun(ctx, job.ModePipeline, cfg, len(items))
	defer r.monitor.Stop()
	r.stageFailures = make(map[string]int)

	type carried struct {
		item job.Item
		prev R
	}
	current := make([]carried, len(items))
	for i, it := range items {
		current[i] = carried{item: it}
	}

	var final []job.ItemResult[R]
	for si, kind := range stages {
		if ctx.Err() != nil {
			break
		}
		stage := kind.String()
		fn := fns[si]
		last := si == len(stages)-1
		stageLog := r.logger.With(logging.String(logging.KeyStage, stage))

		stageItems := make([]job.Item, len(current))
		for i, c := range current {
			stageItems[i] = c.item
		}
		snapshot := current
		fnFor := func(i int) ProcessFunc[R] {
			prev := snapshot[i].prev
			return func(ctx context.Context, item job.Item) (R, error) {
				return fn(ctx, item, prev)
			}
		}

		stageLog.Info("stage started", logging.Int("items", len(stageItems)))
		tracker := NewTracker(len(stageItems), cfg.ProgressCallback, stageLog)
		results := e.runItems(ctx, r, stageItems, fnFor, stage+"/", tracker, false)

		next := make([]carried, 0, len(results))
		for i, res := range results {
			res.Stage = stage
			if !res.Success {
				r.stageFailures[stage]++
				e.metrics.RecordStageFailure(stage)
				if !last {
					stageLog.Warn("item dropped by stage",
						logging.ItemID(res.ID),
						logging.String("status", res.Status.String()),
						logging.String("error", res.ErrorMessage),
					)
				}
			}
			if last {
				final = append(final, res)
				continue
			}
			if res.Success {
				next = append(next, carried{item: snapshot[i].item, prev: res.Data})
			}
		}
		stageLog.Info("stage finished",
			logging.Int("survivors", len(next)),
			logging.Int("dropped", r.stageFailures[stage]),
		)
		current = next
	}

	return e.finishRun(ctx, r, len(items), final)
}
