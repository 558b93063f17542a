package analysis

import (
	"context"
	"errors"
	"testing"

	"github.com/Gobusters/ectologger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/bramble/pkg/models"
)

type stubAnalyzer struct {
	id      string
	applies bool
	out     *Output
	err     error
}

func (s *stubAnalyzer) ID() string               { return s.id }
func (s *stubAnalyzer) AppliesTo(_ string) bool  { return s.applies }
func (s *stubAnalyzer) Analyze(_ context.Context, _ *Input) (*Output, error) {
	return s.out, s.err
}

func testLogger() ectologger.Logger {
	return ectologger.NewEctoLogger(func(ectologger.EctoLogMessage) {})
}

func testInput() *Input {
	return NewInput("tenant-1", "sophos-partner", nil, nil)
}

func TestRunMergesStatesHighestWins(t *testing.T) {
	o := NewOrchestrator(testLogger())
	o.Register(&stubAnalyzer{id: "a", applies: true, out: &Output{
		States: map[string]models.EntityState{"e1": models.EntityStateCritical},
	}})
	o.Register(&stubAnalyzer{id: "b", applies: true, out: &Output{
		States: map[string]models.EntityState{"e1": models.EntityStateLow},
	}})

	result, err := o.Run(context.Background(), testInput())
	require.NoError(t, err)

	assert.Equal(t, models.EntityStateCritical, result.States["e1"])
}

func TestRunEqualRankLaterRegistrationWins(t *testing.T) {
	o := NewOrchestrator(testLogger())
	o.Register(&stubAnalyzer{id: "a", applies: true, out: &Output{
		States: map[string]models.EntityState{"e1": models.EntityStateWarn},
	}})
	o.Register(&stubAnalyzer{id: "b", applies: true, out: &Output{
		States: map[string]models.EntityState{"e1": models.EntityStateWarn},
	}})

	result, err := o.Run(context.Background(), testInput())
	require.NoError(t, err)

	// equal rank: the later analyzer's state stands
	assert.Equal(t, models.EntityStateWarn, result.States["e1"])
}

func TestRunNormalNeverDowngradesWarn(t *testing.T) {
	o := NewOrchestrator(testLogger())
	o.Register(&stubAnalyzer{id: "a", applies: true, out: &Output{
		States: map[string]models.EntityState{"e1": models.EntityStateWarn},
	}})
	o.Register(&stubAnalyzer{id: "b", applies: true, out: &Output{
		States: map[string]models.EntityState{"e1": models.EntityStateNormal},
	}})

	result, err := o.Run(context.Background(), testInput())
	require.NoError(t, err)

	assert.Equal(t, models.EntityStateWarn, result.States["e1"])
}

func TestRunMergesTagsWithoutDuplicates(t *testing.T) {
	o := NewOrchestrator(testLogger())
	o.Register(&stubAnalyzer{id: "a", applies: true, out: &Output{
		Tags: map[string][]string{"e1": {"at-risk", "no-mfa"}},
	}})
	o.Register(&stubAnalyzer{id: "b", applies: true, out: &Output{
		Tags: map[string][]string{"e1": {"at-risk", "stale"}},
	}})

	result, err := o.Run(context.Background(), testInput())
	require.NoError(t, err)

	assert.Equal(t, []string{"at-risk", "no-mfa", "stale"}, result.Tags["e1"])
}

func TestRunCollectsFindingsAndEvaluatedRules(t *testing.T) {
	o := NewOrchestrator(testLogger())
	o.Register(&stubAnalyzer{id: "a", applies: true, out: &Output{
		Findings: []models.Finding{{RuleID: "a", Fingerprint: "fp-1"}},
	}})
	o.Register(&stubAnalyzer{id: "b", applies: true, out: &Output{
		Findings: []models.Finding{{RuleID: "b", Fingerprint: "fp-2"}},
	}})
	o.Register(&stubAnalyzer{id: "c", applies: false})

	result, err := o.Run(context.Background(), testInput())
	require.NoError(t, err)

	assert.Len(t, result.Findings, 2)
	assert.Equal(t, []string{"a", "b"}, result.EvaluatedRules)
}

func TestRunSkipsInapplicableAnalyzers(t *testing.T) {
	o := NewOrchestrator(testLogger())
	o.Register(&stubAnalyzer{id: "a", applies: false, out: &Output{
		Findings: []models.Finding{{RuleID: "a", Fingerprint: "fp-1"}},
	}})

	result, err := o.Run(context.Background(), testInput())
	require.NoError(t, err)

	assert.Empty(t, result.Findings)
	assert.Empty(t, result.EvaluatedRules)
}

func TestRunAnalyzerErrorFailsTheRun(t *testing.T) {
	o := NewOrchestrator(testLogger())
	o.Register(&stubAnalyzer{id: "a", applies: true, out: &Output{
		Findings: []models.Finding{{RuleID: "a", Fingerprint: "fp-1"}},
	}})
	o.Register(&stubAnalyzer{id: "b", applies: true, err: errors.New("boom")})

	result, err := o.Run(context.Background(), testInput())
	assert.Error(t, err)
	assert.Nil(t, result)
}
