package workflow

import (
	"context"
	"errors"
	"fmt"
)

// CascadeCandidate names one fallback-chain entry.
type CascadeCandidate struct {
	Name   string
	Action Action
}

// CascadeResult is the value produced by a cascade action: the winning
// candidate's result tagged with its position in the chain.
type CascadeResult struct {
	Value      any    `json:"value"`
	Provider   string `json:"provider"`
	Position   int    `json:"position"`
	Candidates int    `json:"candidates"`
}

type cascadeAction struct {
	candidates []CascadeCandidate
}

// Cascade builds a fallback-chain action: candidates are tried in declared
// order, unavailable ones are skipped, and the first success wins. When every
// candidate fails or is unavailable the action returns a terminal error
// wrapping ErrAllProvidersFailed together with each candidate's failure.
func Cascade(candidates ...CascadeCandidate) (Action, error) {
	if len(candidates) == 0 {
		return nil, fmt.Errorf("workflow: cascade needs at least one candidate")
	}
	for idx, candidate := range candidates {
		if candidate.Name == "" {
			return nil, fmt.Errorf("workflow: cascade candidate[%d] is missing a name", idx)
		}
		if candidate.Action == nil {
			return nil, fmt.Errorf("workflow: cascade candidate %s has no action", candidate.Name)
		}
	}
	return &cascadeAction{candidates: append([]CascadeCandidate(nil), candidates...)}, nil
}

func (c *cascadeAction) Run(ctx context.Context, params map[string]any, rc RunContext) (any, error) {
	var failures []error
	for idx, candidate := range c.candidates {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if probe, ok := candidate.Action.(Availability); ok && !probe.Available() {
			failures = append(failures, fmt.Errorf("%s: %w", candidate.Name, ErrProviderUnavailable))
			continue
		}
		value, err := candidate.Action.Run(ctx, params, rc)
		if err != nil {
			failures = append(failures, fmt.Errorf("%s: %w", candidate.Name, err))
			continue
		}
		return CascadeResult{
			Value:      value,
			Provider:   candidate.Name,
			Position:   idx + 1,
			Candidates: len(c.candidates),
		}, nil
	}
	return nil, fmt.Errorf("%w: %w", ErrAllProvidersFailed, errors.Join(failures...))
}
