package resolver

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/siherrmann/resolver/core/decision"
	"github.com/siherrmann/resolver/core/matching"
	"github.com/siherrmann/resolver/core/merge"
	"github.com/siherrmann/resolver/core/normalize"
	"github.com/siherrmann/resolver/database"
	"github.com/siherrmann/resolver/helper"
	"github.com/siherrmann/resolver/model"
)

// ErrInvalidMention is returned for mentions rejected before matching.
var ErrInvalidMention = errors.New("invalid mention")

// ProcessMention resolves one mention to an entity. Replaying a mention with the
// same source, position and raw text returns the recorded resolution and writes nothing.
//
// The returned resolution is never nil, its Err mirrors the returned error.
func (r *Resolver) ProcessMention(ctx context.Context, input model.MentionInput) (*model.Resolution, error) {
	res := &model.Resolution{Input: input}
	fail := func(err error) (*model.Resolution, error) {
		res.Err = err
		return res, err
	}

	key, err := validate(input)
	if err != nil {
		r.metrics.IncrementInvalid()
		return fail(err)
	}

	unlock, err := r.locker.Lock(ctx, input.Key().String())
	if err != nil {
		return fail(helper.NewError("lock mention", err))
	}
	defer unlock()

	replayed, err := r.replay(ctx, res)
	if err != nil {
		return fail(err)
	}
	if replayed {
		return res, nil
	}

	a := &matching.Attempt{Input: input, Key: key}
	outcome, err := r.Cascade.Run(ctx, a)
	if err != nil {
		return fail(err)
	}

	// Once matching is done the writes of the mention are not interrupted
	if err := r.finalize(context.WithoutCancel(ctx), a, outcome, res); err != nil {
		r.log.Error("Failed to finalize mention",
			"source_id", input.SourceID,
			"position", input.Position,
			"raw_name", input.RawName,
			"error", err,
		)
		return fail(err)
	}

	r.metrics.IncrementResolution(res.Stage, string(res.Status))
	r.log.Debug("Resolved mention",
		"source_id", input.SourceID,
		"position", input.Position,
		"raw_name", input.RawName,
		"entity_id", res.EntityID,
		"stage", res.Stage,
		"status", res.Status,
		"confidence", res.Confidence,
	)
	return res, nil
}

func validate(input model.MentionInput) (string, error) {
	if err := input.Validate(); err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidMention, err)
	}
	key, err := normalize.Name(input.RawName)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidMention, err)
	}
	return key, nil
}

// replay fills res from a mention recorded under the same key.
func (r *Resolver) replay(ctx context.Context, res *model.Resolution) (bool, error) {
	mention, err := r.Store.SelectMentionByKey(ctx, res.Input.Key())
	if helper.IsNotFound(err) {
		return false, nil
	} else if err != nil {
		return false, helper.NewError("select mention", err)
	}

	res.EntityID = mention.EntityID
	res.MentionID = mention.ID
	res.Stage = mention.Stage
	res.Confidence = mention.Confidence
	res.Status = r.Policy.Status(mention.Confidence)
	res.Replayed = true
	r.metrics.IncrementReplay()
	return true, nil
}

// finalize applies the decision policy to the cascade outcome and writes the result.
func (r *Resolver) finalize(ctx context.Context, a *matching.Attempt, outcome matching.Outcome, res *model.Resolution) error {
	matched := outcome.Matched()
	confidence := outcome.Confidence
	if !matched {
		confidence = 0
		if a.Candidate != nil {
			confidence = a.CandidateScore
		}
	}

	d := r.Policy.Decide(matched, confidence)
	res.Status = d.Status
	res.Confidence = confidence
	res.Merges = append(res.Merges, a.Merges...)

	var entity *model.Entity
	var err error
	switch d.Action {
	case decision.ActionLink:
		entity = outcome.Entity
		res.Stage = outcome.Stage
	case decision.ActionProvisional:
		entity = r.newEntity(a, d.Status, confidence)
		if err := r.insertEntity(ctx, entity); err != nil {
			return err
		}
		res.Stage = outcome.Stage
		res.Created = true
	default:
		entity, err = r.create(ctx, a, d.Status, res)
		if err != nil {
			return err
		}
	}

	mention := &model.Mention{
		EntityID:    entity.ID,
		SourceID:    a.Input.SourceID,
		RawText:     a.Input.RawName,
		ContextText: a.Input.ContextText,
		Position:    a.Input.Position,
		Stage:       res.Stage,
		Confidence:  res.Confidence,
	}
	inserted, err := r.Store.InsertMention(ctx, mention)
	if err != nil {
		return helper.NewError("insert mention", err)
	}
	if !inserted {
		return r.adopt(ctx, entity, res)
	}
	res.MentionID = mention.ID

	if d.Review {
		item := &model.ReviewItem{
			EntityID:    entity.ID,
			MentionID:   &mention.ID,
			Confidence:  res.Confidence,
			Stage:       res.Stage,
			RawText:     a.Input.RawName,
			ContextText: a.Input.ContextText,
		}
		if d.Action == decision.ActionProvisional {
			item.ProposedEntityID = &outcome.Entity.ID
		} else if a.Candidate != nil {
			item.ProposedCanonicalID = model.StringPtr(a.Candidate.CanonicalID)
		}
		if err := r.Store.UpsertReviewItem(ctx, item); err != nil {
			return helper.NewError("open review item", err)
		}
	}

	if d.Status == model.StatusVerified {
		// A weak candidate never binds a canonical id
		if d.Action == decision.ActionLink && !entity.HasCanonicalID() && a.Candidate != nil && confidence >= r.Policy.VerifiedThreshold && a.CandidateScore >= r.Policy.VerifiedThreshold {
			entity, err = r.promote(ctx, entity, a, confidence, res)
			if err != nil {
				return err
			}
		}
		if err := r.learn(ctx, entity, a, res); err != nil {
			return err
		}
	}

	res.EntityID = entity.ID
	return nil
}

// adopt takes over the resolution of a mention another worker recorded while this
// one was matching. An entity created for the mention is folded into the recorded one.
func (r *Resolver) adopt(ctx context.Context, entity *model.Entity, res *model.Resolution) error {
	stored, err := r.Store.SelectMentionByKey(ctx, res.Input.Key())
	if err != nil {
		return helper.NewError("select mention", err)
	}

	if res.Created && stored.EntityID != entity.ID {
		result, err := r.Engine.Absorb(ctx, stored.EntityID, entity.ID, model.MergeReasonDuplicateMention)
		if errors.Is(err, merge.ErrCanonicalConflict) {
			r.log.Warn("Kept entity of a duplicate mention",
				"source_id", res.Input.SourceID,
				"position", res.Input.Position,
				"entity_id", entity.ID,
				"recorded_entity_id", stored.EntityID,
				"error", err,
			)
		} else if err != nil {
			return helper.NewError("merge duplicate entity", err)
		} else {
			res.Merges = append(res.Merges, result.Operations...)
		}
	}

	res.Created = false
	res.Promoted = false
	if _, err := r.replay(ctx, res); err != nil {
		return err
	}
	return nil
}

// create stores a new entity for an unmatched mention. A verified knowledge base
// candidate gives the entity its canonical id, label, description and attributes.
// Finding the canonical id already held links the mention to the holder instead.
func (r *Resolver) create(ctx context.Context, a *matching.Attempt, status model.VerificationStatus, res *model.Resolution) (*model.Entity, error) {
	entity := r.newEntity(a, status, res.Confidence)
	res.Stage = model.StageCreated

	if status != model.StatusVerified || a.Candidate == nil {
		if err := r.insertEntity(ctx, entity); err != nil {
			return nil, err
		}
		res.Created = true
		return entity, nil
	}

	candidate := a.Candidate
	entity.CanonicalID = model.StringPtr(candidate.CanonicalID)
	if key, err := normalize.Name(candidate.Label); err == nil {
		entity.DisplayName = candidate.Label
		entity.NormalizedName = key
	}
	if candidate.Description != "" {
		entity.Description = candidate.Description
	}
	entity.Attributes = model.Metadata{}
	entity.Attributes.FillMissing(candidate.Attributes)

	lockKey := database.CanonicalLockKey(entity.Type, candidate.CanonicalID)
	unlock, err := r.locker.Lock(ctx, lockKey)
	if err != nil {
		return nil, helper.NewError("lock "+lockKey, err)
	}
	defer unlock()

	inserted, err := r.Store.InsertEntityWithCanonicalID(ctx, entity)
	if err != nil {
		return nil, helper.NewError("insert entity", err)
	}
	if !inserted {
		// Another mention created the holder since the canonical stage looked
		res.Stage = model.StageCanonical
		res.Confidence = r.config.CanonicalConfidence
		return entity, nil
	}

	r.Index.Add(model.IndexEntry{EntityID: entity.ID, Type: entity.Type, NormalizedText: entity.NormalizedName})
	res.Created = true
	return entity, nil
}

func (r *Resolver) newEntity(a *matching.Attempt, status model.VerificationStatus, confidence float64) *model.Entity {
	return &model.Entity{
		Type:               a.Input.Type,
		DisplayName:        a.Input.RawName,
		NormalizedName:     a.Key,
		Description:        a.Input.ContextText,
		Attributes:         model.Metadata{},
		VerificationStatus: status,
		Confidence:         confidence,
		Embedding:          r.embedding(a),
	}
}

// embedding reuses the embedding of the similarity stage. Failures leave the entity
// without embedding, it is then found by name and canonical id only.
func (r *Resolver) embedding(a *matching.Attempt) []float32 {
	if a.Embedding != nil || r.embed == nil {
		return a.Embedding
	}

	embedding, err := r.embed(matching.EmbeddingText(a.Input.RawName, a.Input.ContextText))
	if err != nil {
		r.metrics.IncrementEmbedFailure()
		r.log.Warn("Embedding failed",
			"source_id", a.Input.SourceID,
			"position", a.Input.Position,
			"raw_name", a.Input.RawName,
			"error", err,
		)
		return nil
	}
	a.Embedding = embedding
	return embedding
}

func (r *Resolver) insertEntity(ctx context.Context, entity *model.Entity) error {
	if err := r.Store.InsertEntity(ctx, entity); err != nil {
		return helper.NewError("insert entity", err)
	}
	r.Index.Add(model.IndexEntry{EntityID: entity.ID, Type: entity.Type, NormalizedText: entity.NormalizedName})
	return nil
}

// promote binds the carried canonical id to an entity matched without one. An
// existing holder of the id is merged with it.
func (r *Resolver) promote(ctx context.Context, entity *model.Entity, a *matching.Attempt, confidence float64, res *model.Resolution) (*model.Entity, error) {
	candidate := a.Candidate
	result, err := r.Engine.AssignCanonical(ctx, entity.ID, candidate.CanonicalID, model.MergeReasonPromotion, func(e *model.Entity) {
		e.VerificationStatus = model.StatusVerified
		e.Confidence = math.Max(e.Confidence, confidence)
		if e.Description == "" {
			e.Description = candidate.Description
		}
		if e.Attributes == nil {
			e.Attributes = model.Metadata{}
		}
		e.Attributes.FillMissing(candidate.Attributes)
	})
	if errors.Is(err, merge.ErrCanonicalConflict) {
		r.log.Warn("Skipped promotion", "entity_id", entity.ID, "canonical_id", candidate.CanonicalID, "error", err)
		return entity, nil
	} else if err != nil {
		return nil, helper.NewError("promote entity", err)
	}

	res.Promoted = true
	res.Merges = append(res.Merges, result.Operations...)
	return result.Survivor, nil
}

// learn stores the surface forms a verified resolution confirmed as aliases of the entity.
func (r *Resolver) learn(ctx context.Context, entity *model.Entity, a *matching.Attempt, res *model.Resolution) error {
	if res.Stage != model.StageExactName && res.Stage != model.StageAlias {
		if err := r.learnAlias(ctx, entity, a.Input.RawName, a.Key, model.AliasSourceLearned, res.Confidence); err != nil {
			return err
		}
	}

	candidate := a.Candidate
	if candidate == nil || entity.CanonicalIDValue() != candidate.CanonicalID {
		return nil
	}
	for _, text := range append([]string{candidate.Label}, candidate.Aliases...) {
		key, err := normalize.Name(text)
		if err != nil {
			continue
		}
		if err := r.learnAlias(ctx, entity, text, key, model.AliasSourceExternalKB, a.CandidateScore); err != nil {
			return err
		}
	}
	return nil
}

// learnAlias upserts an alias unless it is the display name or too generic to tell
// entities apart.
func (r *Resolver) learnAlias(ctx context.Context, entity *model.Entity, text string, key string, source model.AliasSource, confidence float64) error {
	if key == entity.NormalizedName || len(normalize.Tokens(key)) < r.config.MinLearnedAliasTokens {
		return nil
	}

	alias := &model.Alias{
		EntityID:       entity.ID,
		Text:           text,
		NormalizedText: key,
		Source:         source,
		Confidence:     confidence,
	}
	if err := r.Store.UpsertAlias(ctx, alias); err != nil {
		return helper.NewError("upsert alias", err)
	}
	r.Index.Add(model.IndexEntry{EntityID: entity.ID, Type: entity.Type, NormalizedText: key, IsAlias: true})
	return nil
}
