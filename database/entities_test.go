package database

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/siherrmann/resolver/helper"
	"github.com/siherrmann/resolver/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEntitiesNewEntitiesDBHandler(t *testing.T) {
	database := initDB(t)

	t.Run("Valid call NewEntitiesDBHandler", func(t *testing.T) {
		entitiesDbHandler, err := NewEntitiesDBHandler(database, testEmbeddingDim, true)
		assert.NoError(t, err, "Expected NewEntitiesDBHandler to not return an error")
		require.NotNil(t, entitiesDbHandler, "Expected NewEntitiesDBHandler to return a non-nil instance")
		require.NotNil(t, entitiesDbHandler.db, "Expected NewEntitiesDBHandler to have a non-nil database instance")
		require.NotNil(t, entitiesDbHandler.db.Instance, "Expected NewEntitiesDBHandler to have a non-nil database connection instance")
	})

	t.Run("Invalid call NewEntitiesDBHandler with nil database", func(t *testing.T) {
		_, err := NewEntitiesDBHandler(nil, testEmbeddingDim, false)
		assert.Error(t, err, "Expected error when creating EntitiesDBHandler with nil database")
		assert.Contains(t, err.Error(), "database connection is nil", "Expected specific error message for nil database connection")
	})

	t.Run("Invalid call NewEntitiesDBHandler with zero dimension", func(t *testing.T) {
		_, err := NewEntitiesDBHandler(database, 0, false)
		assert.Error(t, err, "Expected error when creating EntitiesDBHandler with zero embedding dimension")
		assert.Contains(t, err.Error(), "embedding dimension must be positive", "Expected specific error message for invalid dimension")
	})
}

func TestEntitiesInsert(t *testing.T) {
	database := initDB(t)
	ctx := context.Background()

	entitiesDbHandler, err := NewEntitiesDBHandler(database, testEmbeddingDim, true)
	require.NoError(t, err, "Expected NewEntitiesDBHandler to not return an error")

	t.Run("Insert entity", func(t *testing.T) {
		entity := newTestEntity(model.EntityTypePerson, "John Doe")
		entity.Attributes = model.Metadata{"occupation": "Engineer"}
		entity.Embedding = []float32{1, 0, 0}

		err := entitiesDbHandler.InsertEntity(ctx, entity)
		assert.NoError(t, err, "Expected Insert to not return an error")
		assert.NotZero(t, entity.ID, "Expected inserted entity to have an ID")
		assert.NotEmpty(t, entity.RID, "Expected inserted entity to have a RID")
		assert.Nil(t, entity.CanonicalID, "Expected entity without canonical id")
		assert.Equal(t, []float32{1, 0, 0}, entity.Embedding, "Expected embedding to be returned")
		assert.WithinDuration(t, entity.CreatedAt, time.Now(), 2*time.Second, "Expected CreatedAt to be set")

		entitiesDbHandler.DeleteEntity(ctx, entity.ID)
	})

	t.Run("Insert entity without embedding", func(t *testing.T) {
		entity := newTestEntity(model.EntityTypeLocation, "Berlin")

		err := entitiesDbHandler.InsertEntity(ctx, entity)
		assert.NoError(t, err, "Expected Insert to not return an error")
		assert.Nil(t, entity.Embedding, "Expected entity without embedding")

		entitiesDbHandler.DeleteEntity(ctx, entity.ID)
	})

	t.Run("Insert entity with unknown type fails", func(t *testing.T) {
		entity := newTestEntity(model.EntityType("organization"), "Acme")

		err := entitiesDbHandler.InsertEntity(ctx, entity)
		assert.Error(t, err, "Expected Insert to reject an unknown entity type")
	})
}

func TestEntitiesInsertWithCanonicalID(t *testing.T) {
	database := initDB(t)
	ctx := context.Background()

	entitiesDbHandler, err := NewEntitiesDBHandler(database, testEmbeddingDim, true)
	require.NoError(t, err)

	t.Run("Insert entity with new canonical id", func(t *testing.T) {
		entity := newTestEntity(model.EntityTypePerson, "Napoleon")
		entity.CanonicalID = model.StringPtr(uniqueCanonicalID())

		created, err := entitiesDbHandler.InsertEntityWithCanonicalID(ctx, entity)
		assert.NoError(t, err, "Expected InsertEntityWithCanonicalID to not return an error")
		assert.True(t, created, "Expected entity to be created")
		assert.NotZero(t, entity.ID, "Expected inserted entity to have an ID")
	})

	t.Run("Insert entity with held canonical id returns the holder", func(t *testing.T) {
		canonicalID := uniqueCanonicalID()
		holder := newTestEntity(model.EntityTypePerson, "Holder")
		holder.CanonicalID = model.StringPtr(canonicalID)
		_, err := entitiesDbHandler.InsertEntityWithCanonicalID(ctx, holder)
		require.NoError(t, err)

		entity := newTestEntity(model.EntityTypePerson, "Second")
		entity.CanonicalID = model.StringPtr(canonicalID)
		created, err := entitiesDbHandler.InsertEntityWithCanonicalID(ctx, entity)
		assert.NoError(t, err, "Expected InsertEntityWithCanonicalID to not return an error")
		assert.False(t, created, "Expected no new entity")
		assert.Equal(t, holder.ID, entity.ID, "Expected entity to be overwritten with the holder")
	})

	t.Run("Same canonical id in another type is independent", func(t *testing.T) {
		canonicalID := uniqueCanonicalID()
		person := newTestEntity(model.EntityTypePerson, "Paris")
		person.CanonicalID = model.StringPtr(canonicalID)
		location := newTestEntity(model.EntityTypeLocation, "Paris")
		location.CanonicalID = model.StringPtr(canonicalID)

		created, err := entitiesDbHandler.InsertEntityWithCanonicalID(ctx, person)
		require.NoError(t, err)
		assert.True(t, created, "Expected person to be created")
		created, err = entitiesDbHandler.InsertEntityWithCanonicalID(ctx, location)
		require.NoError(t, err)
		assert.True(t, created, "Expected location to be created")
		assert.NotEqual(t, person.ID, location.ID, "Expected two different entities")
	})

	t.Run("Concurrent inserts of one canonical id create a single entity", func(t *testing.T) {
		canonicalID := uniqueCanonicalID()
		var wg sync.WaitGroup
		ids := make([]int64, 8)
		errs := make([]error, 8)
		for i := range ids {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				entity := newTestEntity(model.EntityTypeEvent, "Battle")
				entity.CanonicalID = model.StringPtr(canonicalID)
				_, errs[i] = entitiesDbHandler.InsertEntityWithCanonicalID(ctx, entity)
				ids[i] = entity.ID
			}(i)
		}
		wg.Wait()

		for i := range ids {
			require.NoError(t, errs[i], "Expected no error for concurrent insert %d", i)
			assert.Equal(t, ids[0], ids[i], "Expected every insert to resolve to the same entity")
		}

		holders, err := entitiesDbHandler.SelectEntitiesByCanonicalID(ctx, model.EntityTypeEvent, canonicalID)
		assert.NoError(t, err, "Expected SelectEntitiesByCanonicalID to not return an error")
		assert.Len(t, holders, 1, "Expected exactly one holder of the canonical id")
	})

	t.Run("Insert without canonical id fails", func(t *testing.T) {
		entity := newTestEntity(model.EntityTypePerson, "Nobody")
		_, err := entitiesDbHandler.InsertEntityWithCanonicalID(ctx, entity)
		assert.Error(t, err, "Expected error for entity without canonical id")
	})
}

func TestEntitiesSelect(t *testing.T) {
	database := initDB(t)
	ctx := context.Background()

	entitiesDbHandler, err := NewEntitiesDBHandler(database, testEmbeddingDim, true)
	require.NoError(t, err)

	entity := newTestEntity(model.EntityTypeLocation, "Rome")
	entity.Description = "capital of Italy"
	err = entitiesDbHandler.InsertEntity(ctx, entity)
	require.NoError(t, err)

	t.Run("Select entity by ID", func(t *testing.T) {
		retrieved, err := entitiesDbHandler.SelectEntity(ctx, entity.ID)
		assert.NoError(t, err, "Expected SelectEntity to not return an error")
		require.NotNil(t, retrieved, "Expected SelectEntity to return a non-nil entity")
		assert.Equal(t, entity.DisplayName, retrieved.DisplayName, "Expected display names to match")
		assert.Equal(t, entity.Description, retrieved.Description, "Expected descriptions to match")
		assert.Equal(t, model.EntityTypeLocation, retrieved.Type, "Expected types to match")
	})

	t.Run("Select missing entity returns not found", func(t *testing.T) {
		_, err := entitiesDbHandler.SelectEntity(ctx, -1)
		assert.Error(t, err, "Expected SelectEntity to return an error for a missing entity")
		assert.True(t, helper.IsNotFound(err), "Expected a not found error")
	})

	t.Run("Select entities by type", func(t *testing.T) {
		entities, err := entitiesDbHandler.SelectEntitiesByType(ctx, model.EntityTypeLocation, 0)
		assert.NoError(t, err, "Expected SelectEntitiesByType to not return an error")
		found := false
		for _, e := range entities {
			assert.Equal(t, model.EntityTypeLocation, e.Type, "Expected only locations")
			if e.ID == entity.ID {
				found = true
			}
		}
		assert.True(t, found, "Expected inserted entity in the result")
	})

	entitiesDbHandler.DeleteEntity(ctx, entity.ID)
}

func TestEntitiesSelectBySimilarity(t *testing.T) {
	database := initDB(t)
	ctx := context.Background()

	entitiesDbHandler, err := NewEntitiesDBHandler(database, testEmbeddingDim, true)
	require.NoError(t, err)

	near := newTestEntity(model.EntityTypeEvent, "Waterloo")
	near.Embedding = []float32{0.2, 0.9, 0.1}
	far := newTestEntity(model.EntityTypeEvent, "Austerlitz")
	far.Embedding = []float32{0.9, -0.2, 0.1}
	otherType := newTestEntity(model.EntityTypePerson, "Wellington")
	otherType.Embedding = []float32{0.2, 0.9, 0.1}
	for _, e := range []*model.Entity{near, far, otherType} {
		require.NoError(t, entitiesDbHandler.InsertEntity(ctx, e))
	}

	t.Run("Select nearest entities of the type above the threshold", func(t *testing.T) {
		results, err := entitiesDbHandler.SelectEntitiesBySimilarity(ctx, model.EntityTypeEvent, []float32{0.2, 0.9, 0.1}, 5, 0.99)
		assert.NoError(t, err, "Expected SelectEntitiesBySimilarity to not return an error")

		ids := map[int64]float64{}
		for _, r := range results {
			assert.Equal(t, model.EntityTypeEvent, r.Type, "Expected only events")
			assert.GreaterOrEqual(t, r.Similarity, 0.99, "Expected similarity above the threshold")
			ids[r.ID] = r.Similarity
		}
		assert.Contains(t, ids, near.ID, "Expected the near entity in the result")
		assert.NotContains(t, ids, far.ID, "Expected the far entity to be filtered out")
		assert.NotContains(t, ids, otherType.ID, "Expected entities of other types to be filtered out")
	})

	t.Run("Select by similarity with empty embedding fails", func(t *testing.T) {
		_, err := entitiesDbHandler.SelectEntitiesBySimilarity(ctx, model.EntityTypeEvent, nil, 5, 0.5)
		assert.Error(t, err, "Expected error for an empty embedding")
	})

	for _, e := range []*model.Entity{near, far, otherType} {
		entitiesDbHandler.DeleteEntity(ctx, e.ID)
	}
}

func TestEntitiesUpdate(t *testing.T) {
	ctx := context.Background()

	// The index entries also read the aliases table
	entitiesDbHandler := initStore(t).EntitiesDBHandler

	entity := newTestEntity(model.EntityTypePerson, "Richard")
	err := entitiesDbHandler.InsertEntity(ctx, entity)
	require.NoError(t, err)

	t.Run("Update entity fields", func(t *testing.T) {
		canonicalID := uniqueCanonicalID()
		entity.CanonicalID = model.StringPtr(canonicalID)
		entity.VerificationStatus = model.StatusVerified
		entity.Confidence = 0.98
		entity.Attributes = model.Metadata{"born": "1157"}

		err := entitiesDbHandler.UpdateEntity(ctx, entity)
		assert.NoError(t, err, "Expected UpdateEntity to not return an error")

		retrieved, err := entitiesDbHandler.SelectEntity(ctx, entity.ID)
		require.NoError(t, err)
		assert.Equal(t, canonicalID, retrieved.CanonicalIDValue(), "Expected canonical id to be updated")
		assert.Equal(t, model.StatusVerified, retrieved.VerificationStatus, "Expected status to be updated")
		assert.Equal(t, 0.98, retrieved.Confidence, "Expected confidence to be updated")
		assert.Equal(t, "1157", retrieved.Attributes["born"], "Expected attributes to be updated")
	})

	t.Run("Update entity embedding", func(t *testing.T) {
		err := entitiesDbHandler.UpdateEntityEmbedding(ctx, entity.ID, []float32{0, 0, 1})
		assert.NoError(t, err, "Expected UpdateEntityEmbedding to not return an error")

		retrieved, err := entitiesDbHandler.SelectEntity(ctx, entity.ID)
		require.NoError(t, err)
		assert.Equal(t, []float32{0, 0, 1}, retrieved.Embedding, "Expected embedding to be updated")
	})

	t.Run("Select index entries contains the display name", func(t *testing.T) {
		entries, err := entitiesDbHandler.SelectIndexEntries(ctx)
		assert.NoError(t, err, "Expected SelectIndexEntries to not return an error")
		assert.Contains(t, entries, model.IndexEntry{
			EntityID:       entity.ID,
			Type:           model.EntityTypePerson,
			NormalizedText: entity.NormalizedName,
			IsAlias:        false,
		}, "Expected the display name entry")
	})

	entitiesDbHandler.DeleteEntity(ctx, entity.ID)
}
