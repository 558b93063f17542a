package analysis

import (
	"context"
	"sync"

	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/bramble/pkg/models"
	"github.com/Ramsey-B/bramble/pkg/tracing"
)

// stateRank orders entity states for merging. Critical dominates warn,
// warn dominates low, low dominates normal.
var stateRank = map[models.EntityState]int{
	models.EntityStateNormal:   0,
	models.EntityStateLow:      1,
	models.EntityStateWarn:     2,
	models.EntityStateCritical: 4,
}

// Result is the merged verdict of every applicable analyzer
type Result struct {
	Findings []models.Finding
	// EvaluatedRules lists the analyzers that ran, for scoping auto-resolve
	EvaluatedRules []string
	States         map[string]models.EntityState
	Tags           map[string][]string
}

// Orchestrator fans a batch out to its applicable analyzers and merges the
// outputs deterministically in registration order
type Orchestrator struct {
	mu        sync.RWMutex
	analyzers []Analyzer
	logger    ectologger.Logger
}

// NewOrchestrator creates an orchestrator
func NewOrchestrator(logger ectologger.Logger) *Orchestrator {
	return &Orchestrator{logger: logger}
}

// Register adds an analyzer. Registration order decides merge precedence
// among equal-rank states: later registrations win ties.
func (o *Orchestrator) Register(a Analyzer) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.analyzers = append(o.analyzers, a)
}

// Run executes every applicable analyzer concurrently, then merges outputs
// in registration order. A failing analyzer fails the run; partial verdicts
// are never applied.
func (o *Orchestrator) Run(ctx context.Context, in *Input) (*Result, error) {
	ctx, span := tracing.StartSpan(ctx, "analysis.Orchestrator.Run")
	defer span.End()

	o.mu.RLock()
	var applicable []Analyzer
	for _, a := range o.analyzers {
		if a.AppliesTo(in.Integration) {
			applicable = append(applicable, a)
		}
	}
	o.mu.RUnlock()

	result := &Result{
		States: map[string]models.EntityState{},
		Tags:   map[string][]string{},
	}
	if len(applicable) == 0 {
		return result, nil
	}

	outputs := make([]*Output, len(applicable))
	errs := make([]error, len(applicable))
	var wg sync.WaitGroup
	for i, a := range applicable {
		wg.Add(1)
		go func(i int, a Analyzer) {
			defer wg.Done()
			outputs[i], errs[i] = a.Analyze(ctx, in)
		}(i, a)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			o.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
				"rule_id": applicable[i].ID(),
			}).Error("analyzer failed")
			return nil, err
		}
	}

	// merge in registration order so verdicts are deterministic even though
	// execution is concurrent
	tagSeen := map[string]map[string]struct{}{}
	for i, out := range outputs {
		result.EvaluatedRules = append(result.EvaluatedRules, applicable[i].ID())
		if out == nil {
			continue
		}

		result.Findings = append(result.Findings, out.Findings...)

		for entityID, state := range out.States {
			current, exists := result.States[entityID]
			if !exists || stateRank[state] >= stateRank[current] {
				result.States[entityID] = state
			}
		}

		for entityID, texts := range out.Tags {
			seen := tagSeen[entityID]
			if seen == nil {
				seen = map[string]struct{}{}
				tagSeen[entityID] = seen
			}
			for _, text := range texts {
				if _, dup := seen[text]; dup {
					continue
				}
				seen[text] = struct{}{}
				result.Tags[entityID] = append(result.Tags[entityID], text)
			}
		}
	}

	return result, nil
}
