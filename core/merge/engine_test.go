package merge

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/siherrmann/resolver/core/alias"
	"github.com/siherrmann/resolver/core/lock"
	"github.com/siherrmann/resolver/core/metrics"
	"github.com/siherrmann/resolver/database/memory"
	"github.com/siherrmann/resolver/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	store   *memory.Store
	index   *alias.Index
	metrics *metrics.Metrics
	engine  *Engine
	relinks [][2]int64
	mu      sync.Mutex
}

// failingMergeStore fails every merge.
type failingMergeStore struct {
	*memory.Store
}

func (s *failingMergeStore) MergeEntities(ctx context.Context, lockKey string, survivingID int64, absorbedIDs []int64, canonicalID *string, reason model.MergeReason) ([]model.MergeOperation, error) {
	return nil, errors.New("connection reset")
}

func newFixture(t *testing.T) *fixture {
	f := &fixture{
		store:   memory.NewStore(),
		index:   alias.NewIndex(),
		metrics: metrics.New(prometheus.NewRegistry()),
	}
	relinker := RelinkerFunc(func(ctx context.Context, absorbedID int64, survivingID int64) error {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.relinks = append(f.relinks, [2]int64{absorbedID, survivingID})
		return nil
	})

	engine, err := NewEngine(f.store, lock.NewKeyedMutex(), f.index, f.metrics, nil, relinker)
	require.NoError(t, err, "Expected engine to be created")
	f.engine = engine
	return f
}

func (f *fixture) insert(t *testing.T, name string, normalized string, canonicalID string, attributes model.Metadata) *model.Entity {
	entity := &model.Entity{
		Type:               model.EntityTypePerson,
		DisplayName:        name,
		NormalizedName:     normalized,
		Attributes:         attributes,
		VerificationStatus: model.StatusUnverified,
		Confidence:         0.4,
	}
	if canonicalID != "" {
		entity.CanonicalID = model.StringPtr(canonicalID)
	}
	require.NoError(t, f.store.InsertEntity(context.Background(), entity), "Expected insert to succeed")
	f.index.Add(model.IndexEntry{EntityID: entity.ID, Type: entity.Type, NormalizedText: normalized})
	return entity
}

func (f *fixture) mention(t *testing.T, entityID int64, source string, position int, raw string) {
	_, err := f.store.InsertMention(context.Background(), &model.Mention{
		EntityID: entityID, SourceID: source, Position: position, RawText: raw, Stage: model.StageCreated,
	})
	require.NoError(t, err, "Expected mention insert to succeed")
}

func TestSelectSurvivor(t *testing.T) {
	t.Run("Canonical id wins over attributes and age", func(t *testing.T) {
		a := &model.Entity{ID: 1, Attributes: model.Metadata{"born": "1769", "died": "1821"}}
		b := &model.Entity{ID: 2, CanonicalID: model.StringPtr("Q517")}
		assert.Equal(t, int64(2), SelectSurvivor([]*model.Entity{a, b}).ID, "Expected the canonical holder")
	})

	t.Run("More populated attributes win over age", func(t *testing.T) {
		a := &model.Entity{ID: 1, Attributes: model.Metadata{"born": ""}}
		b := &model.Entity{ID: 2, Attributes: model.Metadata{"born": "1769"}}
		assert.Equal(t, int64(2), SelectSurvivor([]*model.Entity{a, b}).ID, "Expected the richer entity")
	})

	t.Run("Lowest id breaks ties", func(t *testing.T) {
		a := &model.Entity{ID: 7}
		b := &model.Entity{ID: 3}
		assert.Equal(t, int64(3), SelectSurvivor([]*model.Entity{a, b}).ID, "Expected the oldest entity")
	})

	t.Run("Empty input has no survivor", func(t *testing.T) {
		assert.Nil(t, SelectSurvivor(nil), "Expected nil survivor")
	})
}

func TestMergeCanonical(t *testing.T) {
	ctx := context.Background()

	t.Run("Duplicates of a canonical id collapse into one entity", func(t *testing.T) {
		f := newFixture(t)
		first := f.insert(t, "Napoleon", "napoleon", "Q517", nil)
		second := f.insert(t, "Napoléon Bonaparte", "napoleon bonaparte", "Q517", model.Metadata{"born": "1769"})
		f.mention(t, first.ID, "doc", 1, "Napoleon")
		f.mention(t, first.ID, "doc", 2, "Napoleon")
		f.mention(t, second.ID, "doc", 3, "Bonaparte")

		result, err := f.engine.MergeCanonical(ctx, model.EntityTypePerson, "Q517", model.MergeReasonCanonicalCollision)
		require.NoError(t, err, "Expected merge to succeed")
		require.Len(t, result.Operations, 1, "Expected one absorbed entity")

		assert.Equal(t, second.ID, result.Survivor.ID, "Expected the entity with more attributes to survive")
		assert.Equal(t, 3, result.Survivor.MentionCount, "Expected mention counts to add up")

		holders, err := f.store.SelectEntitiesByCanonicalID(ctx, model.EntityTypePerson, "Q517")
		require.NoError(t, err, "Expected select to succeed")
		assert.Len(t, holders, 1, "Expected a single live holder")

		mentions, err := f.store.SelectMentionsByEntity(ctx, second.ID)
		require.NoError(t, err, "Expected select to succeed")
		assert.Len(t, mentions, 3, "Expected no mention to be lost")

		lookup := f.index.Get(model.EntityTypePerson, "napoleon")
		assert.Equal(t, second.ID, lookup.EntityID, "Expected the index to point at the survivor")

		assert.Equal(t, [][2]int64{{first.ID, second.ID}}, f.relinks, "Expected relationships to be relinked")
		assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.Merges.WithLabelValues(string(model.MergeReasonCanonicalCollision))), "Expected the merge to be counted")
	})

	t.Run("Single holder is returned unchanged", func(t *testing.T) {
		f := newFixture(t)
		only := f.insert(t, "Saladin", "saladin", "Q8581", nil)

		result, err := f.engine.MergeCanonical(ctx, model.EntityTypePerson, "Q8581", model.MergeReasonCanonicalCollision)
		require.NoError(t, err, "Expected merge to succeed")
		assert.Equal(t, only.ID, result.Survivor.ID, "Expected the holder")
		assert.Empty(t, result.Operations, "Expected no operations")
	})

	t.Run("Missing canonical id is an error", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.engine.MergeCanonical(ctx, model.EntityTypePerson, "Q0", model.MergeReasonCanonicalCollision)
		assert.Error(t, err, "Expected error without holders")
	})

	t.Run("Relinker failure does not undo the merge", func(t *testing.T) {
		store := memory.NewStore()
		engine, err := NewEngine(store, lock.NewKeyedMutex(), nil, nil, nil, RelinkerFunc(func(ctx context.Context, absorbedID int64, survivingID int64) error {
			return errors.New("edges unavailable")
		}))
		require.NoError(t, err, "Expected engine to be created")

		for i := 0; i < 2; i++ {
			require.NoError(t, store.InsertEntity(ctx, &model.Entity{Type: model.EntityTypePerson, DisplayName: "X", NormalizedName: "x", CanonicalID: model.StringPtr("Q1"), VerificationStatus: model.StatusVerified}), "Expected insert to succeed")
		}

		_, err = engine.MergeCanonical(ctx, model.EntityTypePerson, "Q1", model.MergeReasonCanonicalCollision)
		assert.NoError(t, err, "Expected the committed merge to be returned")
		holders, _ := store.SelectEntitiesByCanonicalID(ctx, model.EntityTypePerson, "Q1")
		assert.Len(t, holders, 1, "Expected the merge to stand")
	})

	t.Run("Failed store merge leaves relationships untouched", func(t *testing.T) {
		f := newFixture(t)
		failing := &failingMergeStore{Store: f.store}
		var relinks int
		engine, err := NewEngine(failing, lock.NewKeyedMutex(), f.index, nil, nil, RelinkerFunc(func(ctx context.Context, absorbedID int64, survivingID int64) error {
			relinks++
			return nil
		}))
		require.NoError(t, err, "Expected engine to be created")
		f.insert(t, "Richard", "richard", "Q42005", nil)
		f.insert(t, "Richard I", "richard i", "Q42005", nil)

		_, err = engine.MergeCanonical(ctx, model.EntityTypePerson, "Q42005", model.MergeReasonCanonicalCollision)
		assert.Error(t, err, "Expected the store error")
		assert.Zero(t, relinks, "Expected no relationship to be moved")
		holders, _ := f.store.SelectEntitiesByCanonicalID(ctx, model.EntityTypePerson, "Q42005")
		assert.Len(t, holders, 2, "Expected no entity to be absorbed")
	})

	t.Run("Concurrent merges of one canonical id converge", func(t *testing.T) {
		f := newFixture(t)
		for i := 0; i < 4; i++ {
			f.insert(t, "Richard", "richard", "Q42005", nil)
		}

		var wg sync.WaitGroup
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := f.engine.MergeCanonical(ctx, model.EntityTypePerson, "Q42005", model.MergeReasonCanonicalCollision)
				assert.NoError(t, err, "Expected every merge to succeed")
			}()
		}
		wg.Wait()

		holders, err := f.store.SelectEntitiesByCanonicalID(ctx, model.EntityTypePerson, "Q42005")
		require.NoError(t, err, "Expected select to succeed")
		assert.Len(t, holders, 1, "Expected one live holder")
		assert.Equal(t, 3.0, testutil.ToFloat64(f.metrics.Merges.WithLabelValues(string(model.MergeReasonCanonicalCollision))), "Expected three absorbed entities in total")
	})
}

func TestMerge(t *testing.T) {
	ctx := context.Background()

	t.Run("Reviewer merge of entities without canonical id", func(t *testing.T) {
		f := newFixture(t)
		a := f.insert(t, "Richard", "richard", "", nil)
		b := f.insert(t, "Richard of York", "richard of york", "", nil)

		result, err := f.engine.Merge(ctx, []int64{b.ID, a.ID, a.ID}, model.MergeReasonReviewer)
		require.NoError(t, err, "Expected merge to succeed")
		assert.Equal(t, a.ID, result.Survivor.ID, "Expected the oldest entity to survive")
		require.Len(t, result.Operations, 1, "Expected one operation")
		assert.Nil(t, result.Operations[0].CanonicalID, "Expected no canonical id on the operation")

		aliases, err := f.store.SelectAliasesByEntity(ctx, a.ID)
		require.NoError(t, err, "Expected select to succeed")
		require.Len(t, aliases, 1, "Expected the absorbed name as alias")
		assert.Equal(t, model.AliasSourceLearned, aliases[0].Source, "Expected a learned alias")
	})

	t.Run("Reviewer merge pulls in other holders of the canonical id", func(t *testing.T) {
		f := newFixture(t)
		a := f.insert(t, "Jeanne", "jeanne", "", nil)
		b := f.insert(t, "Joan of Arc", "joan of arc", "Q7226", nil)
		c := f.insert(t, "Jeanne d'Arc", "jeanne d'arc", "Q7226", nil)

		result, err := f.engine.Merge(ctx, []int64{a.ID, b.ID}, model.MergeReasonReviewer)
		require.NoError(t, err, "Expected merge to succeed")
		assert.Equal(t, b.ID, result.Survivor.ID, "Expected the oldest canonical holder to survive")
		assert.Len(t, result.Operations, 2, "Expected both other entities absorbed")

		_, err = f.store.SelectEntity(ctx, c.ID)
		assert.Error(t, err, "Expected the extra holder to be gone")
	})

	t.Run("Different canonical ids are not merged", func(t *testing.T) {
		f := newFixture(t)
		a := f.insert(t, "Richard I", "richard i", "Q42005", nil)
		b := f.insert(t, "Richard III", "richard iii", "Q140611", nil)

		_, err := f.engine.Merge(ctx, []int64{a.ID, b.ID}, model.MergeReasonReviewer)
		assert.ErrorIs(t, err, ErrCanonicalConflict, "Expected a canonical conflict")
	})

	t.Run("Absorb keeps the given survivor", func(t *testing.T) {
		f := newFixture(t)
		older := f.insert(t, "Baldwin the Leper", "baldwin the leper", "", nil)
		newer := f.insert(t, "Baldwin the Leper", "baldwin the leper", "", nil)
		f.mention(t, newer.ID, "chronicle", 1, "Baldwin the Leper")

		result, err := f.engine.Absorb(ctx, newer.ID, older.ID, model.MergeReasonDuplicateMention)
		require.NoError(t, err, "Expected the merge to succeed")
		assert.Equal(t, newer.ID, result.Survivor.ID, "Expected the given survivor over the older entity")
		assert.Equal(t, 1, result.Survivor.MentionCount, "Expected the mention on the survivor")
		assert.Equal(t, [][2]int64{{older.ID, newer.ID}}, f.relinks, "Expected the relinker to follow the merge")

		lookup := f.index.Get(model.EntityTypePerson, "baldwin the leper")
		assert.False(t, lookup.Ambiguous, "Expected the shared name to have one holder")
		assert.Equal(t, newer.ID, lookup.EntityID, "Expected the survivor in the index")
	})

	t.Run("Single entity is an error", func(t *testing.T) {
		f := newFixture(t)
		a := f.insert(t, "Richard", "richard", "", nil)
		_, err := f.engine.Merge(ctx, []int64{a.ID}, model.MergeReasonReviewer)
		assert.Error(t, err, "Expected error for one entity")
	})

	t.Run("Entities of different types are not merged", func(t *testing.T) {
		f := newFixture(t)
		person := f.insert(t, "Paris", "paris", "", nil)
		place := &model.Entity{Type: model.EntityTypeLocation, DisplayName: "Paris", NormalizedName: "paris", VerificationStatus: model.StatusUnverified}
		require.NoError(t, f.store.InsertEntity(ctx, place), "Expected insert to succeed")

		_, err := f.engine.Merge(ctx, []int64{person.ID, place.ID}, model.MergeReasonReviewer)
		assert.Error(t, err, "Expected error across types")
	})
}

func TestAssignCanonical(t *testing.T) {
	ctx := context.Background()

	t.Run("Assigns the id and updates fields", func(t *testing.T) {
		f := newFixture(t)
		entity := f.insert(t, "Saladin", "saladin", "", nil)

		result, err := f.engine.AssignCanonical(ctx, entity.ID, "Q8581", model.MergeReasonPromotion, func(e *model.Entity) {
			e.VerificationStatus = model.StatusVerified
			e.Confidence = 0.98
		})
		require.NoError(t, err, "Expected assignment to succeed")
		assert.Equal(t, entity.ID, result.Survivor.ID, "Expected the entity itself")
		assert.Equal(t, "Q8581", result.Survivor.CanonicalIDValue(), "Expected the canonical id")
		assert.Equal(t, model.StatusVerified, result.Survivor.VerificationStatus, "Expected the updated status")
	})

	t.Run("Existing holder is merged with the promoted entity", func(t *testing.T) {
		f := newFixture(t)
		holder := f.insert(t, "Napoléon Bonaparte", "napoleon bonaparte", "Q517", nil)
		promoted := f.insert(t, "Boney", "boney", "", nil)

		result, err := f.engine.AssignCanonical(ctx, promoted.ID, "Q517", model.MergeReasonPromotion, nil)
		require.NoError(t, err, "Expected assignment to succeed")
		assert.Equal(t, holder.ID, result.Survivor.ID, "Expected the older holder to survive")
		assert.Len(t, result.Operations, 1, "Expected the promoted entity absorbed")
	})

	t.Run("Entity with another canonical id is a conflict", func(t *testing.T) {
		f := newFixture(t)
		entity := f.insert(t, "Richard I", "richard i", "Q42005", nil)

		_, err := f.engine.AssignCanonical(ctx, entity.ID, "Q140611", model.MergeReasonPromotion, nil)
		assert.ErrorIs(t, err, ErrCanonicalConflict, "Expected a canonical conflict")
	})
}

func TestNewEngine(t *testing.T) {
	t.Run("Nil store is rejected", func(t *testing.T) {
		_, err := NewEngine(nil, lock.NewKeyedMutex(), nil, nil, nil)
		assert.Error(t, err, "Expected error for nil store")
	})

	t.Run("Nil locker is rejected", func(t *testing.T) {
		_, err := NewEngine(memory.NewStore(), nil, nil, nil, nil)
		assert.Error(t, err, "Expected error for nil locker")
	})
}
