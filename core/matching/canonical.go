package matching

import (
	"context"
	"errors"
	"log/slog"

	"github.com/siherrmann/resolver/core/kb"
	"github.com/siherrmann/resolver/core/merge"
	"github.com/siherrmann/resolver/core/metrics"
	"github.com/siherrmann/resolver/core/normalize"
	"github.com/siherrmann/resolver/core/verify"
	"github.com/siherrmann/resolver/database"
	"github.com/siherrmann/resolver/model"
)

// CanonicalStage asks the knowledge base for the canonical id of the mention and
// matches the local entity holding it.
type CanonicalStage struct {
	kb           kb.Client
	store        database.Store
	engine       *merge.Engine
	confidence   float64
	defaultScore float64

	// Decides whether a name fallback is the candidate
	verifier    verify.Verifier
	acceptFloor float64
	metrics     *metrics.Metrics
	log         *slog.Logger
}

var _ Stage = (*CanonicalStage)(nil)

// NewCanonicalStage creates the canonical identity stage. defaultScore is the
// confidence of candidates the knowledge base gives no score for.
func NewCanonicalStage(client kb.Client, store database.Store, engine *merge.Engine, confidence float64, defaultScore float64, m *metrics.Metrics, logger *slog.Logger) *CanonicalStage {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &CanonicalStage{
		kb:           client,
		store:        store,
		engine:       engine,
		confidence:   confidence,
		defaultScore: defaultScore,
		metrics:      m,
		log:          logger,
	}
}

// WithVerifier lets the stage keep a name fallback the verifier accepts as the
// candidate nobody holds yet. Without verifier such fallbacks are dropped.
func (s *CanonicalStage) WithVerifier(v verify.Verifier, acceptFloor float64) *CanonicalStage {
	s.verifier = v
	s.acceptFloor = acceptFloor
	return s
}

func (s *CanonicalStage) Name() string { return model.StageCanonical }

// Attempt carries the top candidate forward and matches its single holder. Several
// holders are merged before the survivor is returned. Knowledge base failures give
// no decision, which also lets a name fallback stand.
func (s *CanonicalStage) Attempt(ctx context.Context, a *Attempt) (Outcome, error) {
	candidates, err := s.kb.Search(ctx, a.Input.RawName, a.Input.ContextText, a.Input.Type)
	if err != nil {
		if ctx.Err() != nil {
			return NoDecision(), ctx.Err()
		}
		s.metrics.IncrementKBFailure()
		s.log.Warn("Knowledge base search failed",
			"source_id", a.Input.SourceID,
			"position", a.Input.Position,
			"raw_name", a.Input.RawName,
			"error", err,
		)
		return NoDecision(), nil
	}
	if len(candidates) == 0 || candidates[0].CanonicalID == "" {
		return NoDecision(), nil
	}

	top := candidates[0]
	holders, err := s.store.SelectEntitiesByCanonicalID(ctx, a.Input.Type, top.CanonicalID)
	if err != nil {
		return NoDecision(), err
	}

	a.Candidate = &top
	a.CandidateScore = top.Score
	if a.CandidateScore <= 0 {
		a.CandidateScore = s.defaultScore
	}

	switch len(holders) {
	case 0:
		if a.Fallback != nil {
			s.verifyFallback(ctx, a)
		}
		return NoDecision(), nil
	case 1:
		return Match(model.StageCanonical, holders[0], s.confidence), nil
	}

	result, err := s.engine.MergeCanonical(ctx, a.Input.Type, top.CanonicalID, model.MergeReasonCanonicalCollision)
	if err != nil {
		return NoDecision(), errors.Join(errors.New("inline merge failed"), err)
	}
	a.Merges = append(a.Merges, result.Operations...)
	return Match(model.StageCanonical, result.Survivor, s.confidence), nil
}

// verifyFallback compares the entity of the name fallback with the unheld candidate.
// An accepted fallback is kept and promoted later, anything else clears it so the
// mention gets an entity of its own. A failing verifier keeps the fallback but drops
// the candidate, the entity is then linked without promotion.
func (s *CanonicalStage) verifyFallback(ctx context.Context, a *Attempt) {
	entity := a.Fallback.Entity
	if s.verifier == nil {
		a.Fallback = nil
		return
	}

	judgment, err := s.verifier.Verify(ctx, verify.Request{
		Name:        entity.DisplayName,
		ContextText: entity.Description,
		Type:        a.Input.Type,
		Candidate:   candidateEntity(a.Input.Type, a.Candidate),
	})
	if err != nil {
		s.metrics.IncrementVerifierFailure()
		s.log.Warn("Verification failed",
			"source_id", a.Input.SourceID,
			"position", a.Input.Position,
			"raw_name", a.Input.RawName,
			"entity_id", entity.ID,
			"canonical_id", a.Candidate.CanonicalID,
			"error", err,
		)
		a.Candidate = nil
		a.CandidateScore = 0
		return
	}

	if !judgment.Accepted(s.acceptFloor) {
		s.log.Debug("Name fallback ruled out",
			"raw_name", a.Input.RawName,
			"entity_id", entity.ID,
			"canonical_id", a.Candidate.CanonicalID,
			"reason", judgment.Reason,
		)
		a.Fallback = nil
	}
}

// candidateEntity describes a knowledge base candidate like a stored entity.
func candidateEntity(entityType model.EntityType, candidate *model.Candidate) *model.Entity {
	key, _ := normalize.Name(candidate.Label)
	return &model.Entity{
		Type:           entityType,
		CanonicalID:    model.StringPtr(candidate.CanonicalID),
		DisplayName:    candidate.Label,
		NormalizedName: key,
		Description:    candidate.Description,
		Attributes:     candidate.Attributes,
	}
}
