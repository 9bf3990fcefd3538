package matching

import (
	"context"
	"log/slog"
	"math"

	"github.com/siherrmann/resolver/core/metrics"
	"github.com/siherrmann/resolver/core/pipeline"
	"github.com/siherrmann/resolver/core/verify"
	"github.com/siherrmann/resolver/database"
	"github.com/siherrmann/resolver/model"
)

// SimilarityOptions configures SimilarityStage.
type SimilarityOptions struct {
	TopK        int
	Floor       float64
	AcceptFloor float64
	// Cap bounds the stage confidence below the earlier stages.
	Cap float64
}

// SimilarityStage retrieves the nearest entities of the type and lets the verifier
// decide between them.
type SimilarityStage struct {
	embed    pipeline.EmbedFunc
	store    database.Store
	verifier verify.Verifier
	opts     SimilarityOptions
	metrics  *metrics.Metrics
	log      *slog.Logger
}

var _ Stage = (*SimilarityStage)(nil)

// NewSimilarityStage creates the similarity stage.
func NewSimilarityStage(embed pipeline.EmbedFunc, store database.Store, verifier verify.Verifier, opts SimilarityOptions, m *metrics.Metrics, logger *slog.Logger) *SimilarityStage {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &SimilarityStage{
		embed:    embed,
		store:    store,
		verifier: verifier,
		opts:     opts,
		metrics:  m,
		log:      logger,
	}
}

func (s *SimilarityStage) Name() string { return model.StageSimilarity }

type verified struct {
	entity   *model.Entity
	judgment verify.Judgment
}

// Attempt returns the accepted candidate with the highest verifier confidence, ties
// broken by similarity and then mention count. Candidates bound to another canonical id
// than the carried knowledge base candidate are rejected without asking the verifier.
// A pending name fallback skips the stage.
func (s *SimilarityStage) Attempt(ctx context.Context, a *Attempt) (Outcome, error) {
	if s.embed == nil || s.verifier == nil {
		return NoDecision(), nil
	}
	// The name already hit a local entity
	if a.Fallback != nil {
		return NoDecision(), nil
	}

	if a.Embedding == nil {
		embedding, err := s.embed(EmbeddingText(a.Input.RawName, a.Input.ContextText))
		if err != nil {
			s.metrics.IncrementEmbedFailure()
			s.log.Warn("Embedding failed",
				"source_id", a.Input.SourceID,
				"position", a.Input.Position,
				"raw_name", a.Input.RawName,
				"error", err,
			)
			return NoDecision(), nil
		}
		a.Embedding = embedding
	}

	candidates, err := s.store.SelectEntitiesBySimilarity(ctx, a.Input.Type, a.Embedding, s.opts.TopK, s.opts.Floor)
	if err != nil {
		return NoDecision(), err
	}

	var best *verified
	for _, candidate := range candidates {
		if a.Candidate != nil && candidate.HasCanonicalID() && *candidate.CanonicalID != a.Candidate.CanonicalID {
			continue
		}

		judgment, err := s.verifier.Verify(ctx, verify.Request{
			Name:        a.Input.RawName,
			ContextText: a.Input.ContextText,
			Type:        a.Input.Type,
			Candidate:   candidate,
		})
		if err != nil {
			if ctx.Err() != nil {
				return NoDecision(), ctx.Err()
			}
			s.metrics.IncrementVerifierFailure()
			s.log.Warn("Verification failed",
				"source_id", a.Input.SourceID,
				"position", a.Input.Position,
				"raw_name", a.Input.RawName,
				"entity_id", candidate.ID,
				"error", err,
			)
			return NoDecision(), nil
		}
		if !judgment.Accepted(s.opts.AcceptFloor) {
			continue
		}

		current := &verified{entity: candidate, judgment: judgment}
		if best == nil || outranks(current, best) {
			best = current
		}
	}

	if best == nil {
		return NoDecision(), nil
	}
	return Match(model.StageSimilarity, best.entity, math.Min(best.judgment.Confidence, s.opts.Cap)), nil
}

func outranks(a, b *verified) bool {
	if a.judgment.Confidence != b.judgment.Confidence {
		return a.judgment.Confidence > b.judgment.Confidence
	}
	if a.entity.Similarity != b.entity.Similarity {
		return a.entity.Similarity > b.entity.Similarity
	}
	return a.entity.MentionCount > b.entity.MentionCount
}
