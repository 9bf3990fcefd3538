// Package matching runs a mention through the ordered stages that try to match it
// to a known entity.
package matching

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/siherrmann/resolver/core/metrics"
	"github.com/siherrmann/resolver/model"
)

// Attempt carries one mention through the cascade. Stages may leave state on it for
// the stages after them and for finalization.
type Attempt struct {
	Input model.MentionInput
	// Key is the normalized name.
	Key string

	// Candidate is the top knowledge base hit, set by the canonical stage even when
	// no local entity holds it yet.
	Candidate *model.Candidate
	// CandidateScore is the confidence in Candidate.
	CandidateScore float64

	// Embedding of the mention, computed at most once.
	Embedding []float32

	// Merges run inline while matching.
	Merges []model.MergeOperation

	// Fallback is a name hit on an entity without canonical id. It is returned once
	// a later stage gives no decision, a stage that rules it out clears it.
	Fallback *Outcome
}

// EmbeddingText is the text embedded for mentions and for the entities they create.
func EmbeddingText(name string, contextText string) string {
	name = strings.TrimSpace(name)
	contextText = strings.TrimSpace(contextText)
	if contextText == "" {
		return name
	}
	return name + ": " + contextText
}

// OutcomeKind tags the variant of an Outcome.
type OutcomeKind int

const (
	OutcomeNoDecision OutcomeKind = iota
	OutcomeMatch
)

// Outcome is the result of a stage.
type Outcome struct {
	Kind       OutcomeKind
	Stage      string
	Entity     *model.Entity
	Confidence float64
}

// NoDecision lets the cascade continue with the next stage.
func NoDecision() Outcome {
	return Outcome{Kind: OutcomeNoDecision}
}

// Match ends the cascade.
func Match(stage string, entity *model.Entity, confidence float64) Outcome {
	return Outcome{Kind: OutcomeMatch, Stage: stage, Entity: entity, Confidence: confidence}
}

// Matched reports whether the outcome is a match.
func (o Outcome) Matched() bool {
	return o.Kind == OutcomeMatch && o.Entity != nil
}

// Stage is one step of the cascade.
type Stage interface {
	Name() string
	Attempt(ctx context.Context, a *Attempt) (Outcome, error)
}

// Cascade runs stages in order and stops at the first match.
type Cascade struct {
	stages  []Stage
	metrics *metrics.Metrics
	log     *slog.Logger
}

// NewCascade creates a cascade over stages.
func NewCascade(logger *slog.Logger, m *metrics.Metrics, stages ...Stage) *Cascade {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Cascade{stages: stages, metrics: m, log: logger}
}

// Stages returns the stage names in order.
func (c *Cascade) Stages() []string {
	names := make([]string, len(c.stages))
	for i, s := range c.stages {
		names[i] = s.Name()
	}
	return names
}

// Run returns the first match, or NoDecision when every stage passed.
// A failing stage is logged and skipped, only a done context stops the cascade.
// A fallback left by one stage is returned after the next stage gave no decision.
func (c *Cascade) Run(ctx context.Context, a *Attempt) (Outcome, error) {
	for _, stage := range c.stages {
		if err := ctx.Err(); err != nil {
			return NoDecision(), err
		}

		deferred := a.Fallback != nil
		start := time.Now()
		outcome, err := stage.Attempt(ctx, a)
		c.metrics.ObserveStage(stage.Name(), time.Since(start))

		if err != nil {
			if ctx.Err() != nil {
				return NoDecision(), ctx.Err()
			}
			c.log.Warn("Stage failed",
				"stage", stage.Name(),
				"source_id", a.Input.SourceID,
				"position", a.Input.Position,
				"raw_name", a.Input.RawName,
				"error", err,
			)
		} else if outcome.Matched() {
			return outcome, nil
		}

		if deferred && a.Fallback != nil {
			return *a.Fallback, nil
		}
	}

	if a.Fallback != nil {
		return *a.Fallback, nil
	}
	return NoDecision(), nil
}
