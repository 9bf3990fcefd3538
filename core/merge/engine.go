// Package merge consolidates entities that turned out to be the same real-world thing.
package merge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"

	"github.com/siherrmann/resolver/core/alias"
	"github.com/siherrmann/resolver/core/lock"
	"github.com/siherrmann/resolver/core/metrics"
	"github.com/siherrmann/resolver/database"
	"github.com/siherrmann/resolver/helper"
	"github.com/siherrmann/resolver/model"
)

// ErrCanonicalConflict is returned when entities bound to different canonical ids would be merged.
var ErrCanonicalConflict = errors.New("entities hold different canonical ids")

// Relinker re-points relationship records of an absorbed entity to the survivor.
// Relinkers run once the store committed the merge.
type Relinker interface {
	RelinkEntity(ctx context.Context, absorbedID int64, survivingID int64) error
}

// RelinkerFunc adapts a function to Relinker.
type RelinkerFunc func(ctx context.Context, absorbedID int64, survivingID int64) error

// RelinkEntity calls f.
func (f RelinkerFunc) RelinkEntity(ctx context.Context, absorbedID int64, survivingID int64) error {
	return f(ctx, absorbedID, survivingID)
}

// Result is the survivor of a merge and one operation per absorbed entity.
type Result struct {
	Survivor   *model.Entity
	Operations []model.MergeOperation
}

// Engine merges entities under an exclusive lock and keeps the alias index in step.
type Engine struct {
	store     database.Store
	locker    lock.Locker
	index     *alias.Index
	relinkers []Relinker
	metrics   *metrics.Metrics
	log       *slog.Logger
}

// NewEngine creates a merge engine. index and m may be nil.
func NewEngine(store database.Store, locker lock.Locker, index *alias.Index, m *metrics.Metrics, logger *slog.Logger, relinkers ...Relinker) (*Engine, error) {
	if store == nil {
		return nil, fmt.Errorf("store is nil")
	}
	if locker == nil {
		return nil, fmt.Errorf("locker is nil")
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Engine{
		store:     store,
		locker:    locker,
		index:     index,
		relinkers: relinkers,
		metrics:   m,
		log:       logger,
	}, nil
}

// Locker returns the locker guarding canonical ids.
func (e *Engine) Locker() lock.Locker {
	return e.locker
}

// SelectSurvivor picks the entity the others are merged into: one with a canonical id
// first, then the one with more populated attributes, then the oldest.
func SelectSurvivor(entities []*model.Entity) *model.Entity {
	var survivor *model.Entity
	for _, candidate := range entities {
		if candidate == nil {
			continue
		}
		if survivor == nil || better(candidate, survivor) {
			survivor = candidate
		}
	}
	return survivor
}

func better(a, b *model.Entity) bool {
	if a.HasCanonicalID() != b.HasCanonicalID() {
		return a.HasCanonicalID()
	}
	if pa, pb := a.PopulatedAttributes(), b.PopulatedAttributes(); pa != pb {
		return pa > pb
	}
	return a.ID < b.ID
}

// MergeCanonical merges every live entity of the type holding canonicalID.
// With a single holder nothing is merged and the holder is returned.
func (e *Engine) MergeCanonical(ctx context.Context, entityType model.EntityType, canonicalID string, reason model.MergeReason) (*Result, error) {
	lockKey := database.CanonicalLockKey(entityType, canonicalID)
	unlock, err := e.locker.Lock(ctx, lockKey)
	if err != nil {
		return nil, helper.NewError("lock "+lockKey, err)
	}
	defer unlock()

	return e.mergeHoldersLocked(ctx, lockKey, entityType, canonicalID, reason)
}

func (e *Engine) mergeHoldersLocked(ctx context.Context, lockKey string, entityType model.EntityType, canonicalID string, reason model.MergeReason) (*Result, error) {
	holders, err := e.store.SelectEntitiesByCanonicalID(ctx, entityType, canonicalID)
	if err != nil {
		return nil, helper.NewError("select canonical holders", err)
	}
	if len(holders) == 0 {
		return nil, helper.NewError("select canonical holders", fmt.Errorf("no %s holds canonical id %s", entityType, canonicalID))
	}
	if len(holders) == 1 {
		return &Result{Survivor: holders[0]}, nil
	}

	return e.applyLocked(ctx, lockKey, holders, 0, model.StringPtr(canonicalID), reason)
}

// Merge folds the given entities into one, as instructed by a reviewer. When the
// group carries a canonical id, every other holder of that id is merged as well.
func (e *Engine) Merge(ctx context.Context, ids []int64, reason model.MergeReason) (*Result, error) {
	return e.merge(ctx, ids, 0, reason)
}

// Absorb merges absorbedID into survivingID, whichever of them SelectSurvivor
// would pick. Other holders of a shared canonical id are absorbed as well.
func (e *Engine) Absorb(ctx context.Context, survivingID int64, absorbedID int64, reason model.MergeReason) (*Result, error) {
	return e.merge(ctx, []int64{survivingID, absorbedID}, survivingID, reason)
}

// merge runs Merge, keep is the survivor when not zero.
func (e *Engine) merge(ctx context.Context, ids []int64, keep int64, reason model.MergeReason) (*Result, error) {
	ids = uniqueSorted(ids)
	if len(ids) < 2 {
		return nil, fmt.Errorf("merge needs at least two distinct entities, got %d", len(ids))
	}

	groupKey := groupLockKey(ids)
	unlock, err := e.locker.Lock(ctx, groupKey)
	if err != nil {
		return nil, helper.NewError("lock "+groupKey, err)
	}
	defer unlock()

	entities, err := e.loadGroup(ctx, ids)
	if err != nil {
		return nil, err
	}
	canonicalID, err := sharedCanonicalID(entities)
	if err != nil {
		return nil, err
	}
	if canonicalID == "" {
		return e.applyLocked(ctx, groupKey, entities, keep, nil, reason)
	}

	// The group lock is always taken before the canonical one, never the other way round
	lockKey := database.CanonicalLockKey(entities[0].Type, canonicalID)
	unlockCanonical, err := e.locker.Lock(ctx, lockKey)
	if err != nil {
		return nil, helper.NewError("lock "+lockKey, err)
	}
	defer unlockCanonical()

	entities, err = e.loadGroup(ctx, ids)
	if err != nil {
		return nil, err
	}
	holders, err := e.store.SelectEntitiesByCanonicalID(ctx, entities[0].Type, canonicalID)
	if err != nil {
		return nil, helper.NewError("select canonical holders", err)
	}
	for _, h := range holders {
		if !containsID(ids, h.ID) {
			entities = append(entities, h)
		}
	}

	return e.applyLocked(ctx, lockKey, entities, keep, model.StringPtr(canonicalID), reason)
}

// AssignCanonical binds canonicalID to an entity under the canonical lock. update may
// change further fields before the write. When another entity already holds the id
// the holders are merged and the survivor is returned.
func (e *Engine) AssignCanonical(ctx context.Context, entityID int64, canonicalID string, reason model.MergeReason, update func(*model.Entity)) (*Result, error) {
	entity, err := e.store.SelectEntity(ctx, entityID)
	if err != nil {
		return nil, helper.NewError("select entity", err)
	}

	lockKey := database.CanonicalLockKey(entity.Type, canonicalID)
	unlock, err := e.locker.Lock(ctx, lockKey)
	if err != nil {
		return nil, helper.NewError("lock "+lockKey, err)
	}
	defer unlock()

	// Re-read under the lock, a merge may have absorbed the entity meanwhile
	entity, err = e.store.SelectEntity(ctx, entityID)
	if err != nil {
		return nil, helper.NewError("select entity", err)
	}
	if entity.HasCanonicalID() && *entity.CanonicalID != canonicalID {
		return nil, helper.NewError("assign canonical id", fmt.Errorf("%w: entity %d holds %s, not %s", ErrCanonicalConflict, entity.ID, *entity.CanonicalID, canonicalID))
	}

	entity.CanonicalID = model.StringPtr(canonicalID)
	if update != nil {
		update(entity)
	}
	if err := e.store.UpdateEntity(ctx, entity); err != nil {
		return nil, helper.NewError("update entity", err)
	}

	return e.mergeHoldersLocked(ctx, lockKey, entity.Type, canonicalID, reason)
}

// applyLocked runs the merge of entities into keep, or into the selected survivor
// when keep is zero. The caller holds the lock of lockKey.
func (e *Engine) applyLocked(ctx context.Context, lockKey string, entities []*model.Entity, keep int64, canonicalID *string, reason model.MergeReason) (*Result, error) {
	survivor := SelectSurvivor(entities)
	for _, entity := range entities {
		if keep != 0 && entity.ID == keep {
			survivor = entity
		}
	}
	if survivor == nil {
		return nil, fmt.Errorf("nothing to merge")
	}

	var absorbedIDs []int64
	for _, entity := range entities {
		if entity.ID == survivor.ID {
			continue
		}
		if entity.Type != survivor.Type {
			return nil, helper.NewError("merge entities", fmt.Errorf("entity %d is a %s, survivor %d is a %s", entity.ID, entity.Type, survivor.ID, survivor.Type))
		}
		absorbedIDs = append(absorbedIDs, entity.ID)
	}
	if len(absorbedIDs) == 0 {
		return &Result{Survivor: survivor}, nil
	}

	operations, err := e.store.MergeEntities(ctx, lockKey, survivor.ID, absorbedIDs, canonicalID, reason)
	if err != nil {
		return nil, helper.NewError("merge entities", err)
	}

	// Relinkers follow the committed merge, their failures do not undo it
	for _, op := range operations {
		for _, relinker := range e.relinkers {
			if err := relinker.RelinkEntity(ctx, op.AbsorbedID, op.SurvivingID); err != nil {
				e.log.Warn("Failed to relink entity", "absorbed_id", op.AbsorbedID, "surviving_id", op.SurvivingID, "error", err)
			}
		}
	}

	if e.index != nil {
		for _, op := range operations {
			e.index.Reassign(survivor.Type, op.AbsorbedID, op.SurvivingID)
		}
	}
	e.metrics.AddMerges(string(reason), len(operations))

	merged, err := e.store.SelectEntity(ctx, survivor.ID)
	if err != nil {
		return nil, helper.NewError("select survivor", err)
	}

	e.log.Info("Merged entities", "survivor_id", merged.ID, "absorbed_ids", absorbedIDs, "canonical_id", merged.CanonicalIDValue(), "reason", reason)

	return &Result{Survivor: merged, Operations: operations}, nil
}

func (e *Engine) loadGroup(ctx context.Context, ids []int64) ([]*model.Entity, error) {
	entities := make([]*model.Entity, 0, len(ids))
	for _, id := range ids {
		entity, err := e.store.SelectEntity(ctx, id)
		if err != nil {
			return nil, helper.NewError(fmt.Sprintf("select entity %d", id), err)
		}
		entities = append(entities, entity)
	}
	return entities, nil
}

func sharedCanonicalID(entities []*model.Entity) (string, error) {
	canonicalID := ""
	for _, entity := range entities {
		if !entity.HasCanonicalID() {
			continue
		}
		if canonicalID != "" && *entity.CanonicalID != canonicalID {
			return "", fmt.Errorf("%w: %s and %s", ErrCanonicalConflict, canonicalID, *entity.CanonicalID)
		}
		canonicalID = *entity.CanonicalID
	}
	return canonicalID, nil
}

func groupLockKey(ids []int64) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = strconv.FormatInt(id, 10)
	}
	return "merge:" + strings.Join(parts, ",")
}

func uniqueSorted(ids []int64) []int64 {
	seen := make(map[int64]struct{}, len(ids))
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func containsID(ids []int64, id int64) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}
