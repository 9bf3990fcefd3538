package database

import (
	"context"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/siherrmann/resolver/helper"
	"github.com/siherrmann/resolver/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMentionsInsert(t *testing.T) {
	store := initStore(t)
	ctx := context.Background()

	entity := newTestEntity(model.EntityTypePerson, "Richard")
	require.NoError(t, store.InsertEntity(ctx, entity))
	sourceID := "chronicle-" + uuid.NewString()

	t.Run("Insert mention increments the mention count", func(t *testing.T) {
		mention := &model.Mention{
			EntityID:    entity.ID,
			SourceID:    sourceID,
			RawText:     "Richard",
			ContextText: "Richard the Lionheart led the crusade",
			Position:    12,
			Stage:       model.StageCreated,
			Confidence:  0.3,
		}

		inserted, err := store.InsertMention(ctx, mention)
		assert.NoError(t, err, "Expected InsertMention to not return an error")
		assert.True(t, inserted, "Expected the mention to be inserted")
		assert.NotZero(t, mention.ID, "Expected mention to have an ID")

		retrieved, err := store.SelectEntity(ctx, entity.ID)
		require.NoError(t, err)
		assert.Equal(t, 1, retrieved.MentionCount, "Expected mention count to be incremented")
	})

	t.Run("Replaying a mention key does not insert again", func(t *testing.T) {
		mention := &model.Mention{
			EntityID: entity.ID,
			SourceID: sourceID,
			RawText:  "Richard",
			Position: 12,
			Stage:    model.StageExactName,
		}

		inserted, err := store.InsertMention(ctx, mention)
		assert.NoError(t, err, "Expected InsertMention to not return an error")
		assert.False(t, inserted, "Expected the replay to not insert")
		assert.Equal(t, model.StageCreated, mention.Stage, "Expected the stored row to be returned")

		retrieved, err := store.SelectEntity(ctx, entity.ID)
		require.NoError(t, err)
		assert.Equal(t, 1, retrieved.MentionCount, "Expected mention count to stay the same")
	})

	t.Run("Concurrent replays insert once", func(t *testing.T) {
		var wg sync.WaitGroup
		results := make([]bool, 6)
		for i := range results {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				mention := &model.Mention{EntityID: entity.ID, SourceID: sourceID, RawText: "Richard", Position: 99}
				inserted, err := store.InsertMention(ctx, mention)
				assert.NoError(t, err, "Expected InsertMention to not return an error")
				results[i] = inserted
			}(i)
		}
		wg.Wait()

		count := 0
		for _, inserted := range results {
			if inserted {
				count++
			}
		}
		assert.Equal(t, 1, count, "Expected exactly one insert")
	})

	t.Run("Select mention by key", func(t *testing.T) {
		mention, err := store.SelectMentionByKey(ctx, model.MentionKey{SourceID: sourceID, Position: 12, RawText: "Richard"})
		assert.NoError(t, err, "Expected SelectMentionByKey to not return an error")
		assert.Equal(t, entity.ID, mention.EntityID, "Expected the mention of the entity")

		_, err = store.SelectMentionByKey(ctx, model.MentionKey{SourceID: sourceID, Position: 13, RawText: "Richard"})
		assert.True(t, helper.IsNotFound(err), "Expected not found for an unknown key")
	})

	t.Run("Select mentions by entity", func(t *testing.T) {
		mentions, err := store.SelectMentionsByEntity(ctx, entity.ID)
		assert.NoError(t, err, "Expected SelectMentionsByEntity to not return an error")
		assert.Len(t, mentions, 2, "Expected two mentions")
	})
}
