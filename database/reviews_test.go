package database

import (
	"context"
	"testing"

	"github.com/siherrmann/resolver/helper"
	"github.com/siherrmann/resolver/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReviewsQueue(t *testing.T) {
	store := initStore(t)
	ctx := context.Background()

	pending := newTestEntity(model.EntityTypeEvent, "Battle of Hastings")
	pending.VerificationStatus = model.StatusPendingReview
	pending.Confidence = 0.7
	require.NoError(t, store.InsertEntity(ctx, pending))

	proposed := newTestEntity(model.EntityTypeEvent, "Hastings 1066")
	require.NoError(t, store.InsertEntity(ctx, proposed))

	t.Run("Upsert review item", func(t *testing.T) {
		item := &model.ReviewItem{
			EntityID:            pending.ID,
			ProposedEntityID:    &proposed.ID,
			ProposedCanonicalID: model.StringPtr("Q83224"),
			Confidence:          0.7,
			Stage:               model.StageSimilarity,
			RawText:             "the battle at Hastings",
			ContextText:         "In 1066 the battle at Hastings decided the conquest",
		}

		err := store.UpsertReviewItem(ctx, item)
		assert.NoError(t, err, "Expected UpsertReviewItem to not return an error")
		assert.NotZero(t, item.ID, "Expected review item to have an ID")
		assert.True(t, item.Open(), "Expected the item to be open")
	})

	t.Run("Select review item by entity", func(t *testing.T) {
		item, err := store.SelectReviewItemByEntity(ctx, pending.ID)
		assert.NoError(t, err, "Expected SelectReviewItemByEntity to not return an error")
		require.NotNil(t, item.ProposedEntityID, "Expected the proposed entity")
		assert.Equal(t, proposed.ID, *item.ProposedEntityID, "Expected the proposed entity id")
		assert.Equal(t, "Q83224", *item.ProposedCanonicalID, "Expected the proposed canonical id")
		assert.Equal(t, "In 1066 the battle at Hastings decided the conquest", item.ContextText, "Expected the full context to be kept")
	})

	t.Run("Select pending review items filtered by type", func(t *testing.T) {
		eventType := model.EntityTypeEvent
		items, err := store.SelectPendingReviewItems(ctx, &eventType, 0)
		assert.NoError(t, err, "Expected SelectPendingReviewItems to not return an error")
		found := false
		for _, item := range items {
			if item.EntityID == pending.ID {
				found = true
			}
		}
		assert.True(t, found, "Expected the pending item in the event queue")

		personType := model.EntityTypePerson
		items, err = store.SelectPendingReviewItems(ctx, &personType, 0)
		assert.NoError(t, err, "Expected SelectPendingReviewItems to not return an error")
		for _, item := range items {
			assert.NotEqual(t, pending.ID, item.EntityID, "Expected the event item to not be in the person queue")
		}
	})

	t.Run("Resolve review item closes it", func(t *testing.T) {
		resolvedAt, err := store.ResolveReviewItem(ctx, pending.ID, "rejected", "alice")
		assert.NoError(t, err, "Expected ResolveReviewItem to not return an error")
		assert.False(t, resolvedAt.IsZero(), "Expected a resolution time")

		item, err := store.SelectReviewItemByEntity(ctx, pending.ID)
		require.NoError(t, err)
		assert.False(t, item.Open(), "Expected the item to be closed")
		assert.Equal(t, "rejected", item.Decision, "Expected the decision to be stored")
		assert.Equal(t, "alice", item.Reviewer, "Expected the reviewer to be stored")
	})

	t.Run("Resolving a closed item returns not found", func(t *testing.T) {
		_, err := store.ResolveReviewItem(ctx, pending.ID, "accepted", "bob")
		assert.True(t, helper.IsNotFound(err), "Expected not found for an already closed item")
	})

	t.Run("Upsert reopens a closed item", func(t *testing.T) {
		item := &model.ReviewItem{EntityID: pending.ID, Confidence: 0.6, Stage: model.StageCanonical, RawText: "Hastings"}
		require.NoError(t, store.UpsertReviewItem(ctx, item))

		reopened, err := store.SelectReviewItemByEntity(ctx, pending.ID)
		require.NoError(t, err)
		assert.True(t, reopened.Open(), "Expected the item to be open again")
		assert.Empty(t, reopened.Decision, "Expected the decision to be cleared")
		assert.Nil(t, reopened.ProposedCanonicalID, "Expected the proposed canonical id to be replaced")
	})
}
