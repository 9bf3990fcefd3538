// Package review applies reviewer decisions to pending_review entities.
package review

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/siherrmann/resolver/core/merge"
	"github.com/siherrmann/resolver/database"
	"github.com/siherrmann/resolver/helper"
	"github.com/siherrmann/resolver/model"
)

// ErrNoOpenItem is returned when an entity has no review item waiting for a decision.
var ErrNoOpenItem = errors.New("no open review item")

// Result is the state after a decision was applied.
type Result struct {
	Item   *model.ReviewItem
	Entity *model.Entity
	Merges []model.MergeOperation
}

// Queue lists open review items and applies decisions on them.
type Queue struct {
	store  database.Store
	engine *merge.Engine
	log    *slog.Logger
}

// NewQueue creates a review queue.
func NewQueue(store database.Store, engine *merge.Engine, logger *slog.Logger) (*Queue, error) {
	if store == nil {
		return nil, fmt.Errorf("store is nil")
	}
	if engine == nil {
		return nil, fmt.Errorf("merge engine is nil")
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Queue{store: store, engine: engine, log: logger}, nil
}

// ListPending returns open items oldest first with their entity filled.
// A nil entityType lists every type, a limit of 0 lists everything.
func (q *Queue) ListPending(ctx context.Context, entityType *model.EntityType, limit int) ([]*model.ReviewItem, error) {
	items, err := q.store.SelectPendingReviewItems(ctx, entityType, limit)
	if err != nil {
		return nil, helper.NewError("select pending review items", err)
	}

	for _, item := range items {
		entity, err := q.store.SelectEntity(ctx, item.EntityID)
		if err != nil {
			return nil, helper.NewError(fmt.Sprintf("select entity %d", item.EntityID), err)
		}
		item.Entity = entity
	}
	return items, nil
}

// Apply closes the open item of entityID with the decision and updates the entity.
//
// Accepting with a canonical id (the decision's, else the proposed one) binds it and
// merges any other holder. Accepting a provisional entity with a proposed entity merges
// the two. Every accepted entity ends verified with confidence 1. Rejecting marks the
// entity unverified and drops the proposal.
func (q *Queue) Apply(ctx context.Context, entityID int64, decision model.ReviewDecision) (*Result, error) {
	item, err := q.store.SelectReviewItemByEntity(ctx, entityID)
	if helper.IsNotFound(err) {
		return nil, fmt.Errorf("%w for entity %d", ErrNoOpenItem, entityID)
	} else if err != nil {
		return nil, helper.NewError("select review item", err)
	}
	if !item.Open() {
		return nil, fmt.Errorf("%w for entity %d", ErrNoOpenItem, entityID)
	}

	// The item is closed first, a merge absorbing the entity would close it as merged
	resolvedAt, err := q.store.ResolveReviewItem(ctx, entityID, decision.Label(), decision.Reviewer)
	if err != nil {
		return nil, helper.NewError("resolve review item", err)
	}

	result, err := q.apply(ctx, item, decision)
	if err != nil {
		if reopenErr := q.store.UpsertReviewItem(ctx, item); reopenErr != nil {
			q.log.Error("Failed to reopen review item", "entity_id", entityID, "error", reopenErr)
		}
		return nil, err
	}

	item.Decision = decision.Label()
	item.Reviewer = decision.Reviewer
	item.ResolvedAt = &resolvedAt
	item.Entity = result.Entity
	result.Item = item

	q.log.Info("Applied review decision",
		"entity_id", entityID,
		"decision", decision.Label(),
		"reviewer", decision.Reviewer,
		"survivor_id", result.Entity.ID,
		"merges", len(result.Merges),
	)
	return result, nil
}

func (q *Queue) apply(ctx context.Context, item *model.ReviewItem, decision model.ReviewDecision) (*Result, error) {
	if !decision.Accept {
		entity, err := q.store.SelectEntity(ctx, item.EntityID)
		if err != nil {
			return nil, helper.NewError("select entity", err)
		}
		entity.VerificationStatus = model.StatusUnverified
		if err := q.store.UpdateEntity(ctx, entity); err != nil {
			return nil, helper.NewError("update entity", err)
		}
		return &Result{Entity: entity}, nil
	}

	canonicalID := decision.CanonicalID
	if canonicalID == "" && item.ProposedCanonicalID != nil {
		canonicalID = *item.ProposedCanonicalID
	}

	switch {
	case canonicalID != "":
		merged, err := q.engine.AssignCanonical(ctx, item.EntityID, canonicalID, model.MergeReasonReviewer, markVerified)
		if err != nil {
			return nil, err
		}
		return q.confirm(ctx, merged)
	case item.ProposedEntityID != nil && *item.ProposedEntityID != item.EntityID:
		merged, err := q.engine.Merge(ctx, []int64{item.EntityID, *item.ProposedEntityID}, model.MergeReasonReviewer)
		if err != nil {
			return nil, err
		}
		return q.confirm(ctx, merged)
	}

	entity, err := q.store.SelectEntity(ctx, item.EntityID)
	if err != nil {
		return nil, helper.NewError("select entity", err)
	}
	markVerified(entity)
	if err := q.store.UpdateEntity(ctx, entity); err != nil {
		return nil, helper.NewError("update entity", err)
	}
	return &Result{Entity: entity}, nil
}

// confirm marks the survivor of a reviewer merge verified.
func (q *Queue) confirm(ctx context.Context, merged *merge.Result) (*Result, error) {
	survivor := merged.Survivor
	if survivor.VerificationStatus != model.StatusVerified || survivor.Confidence < 1 {
		markVerified(survivor)
		if err := q.store.UpdateEntity(ctx, survivor); err != nil {
			return nil, helper.NewError("update survivor", err)
		}
	}
	return &Result{Entity: survivor, Merges: merged.Operations}, nil
}

func markVerified(entity *model.Entity) {
	entity.VerificationStatus = model.StatusVerified
	entity.Confidence = 1.0
}
