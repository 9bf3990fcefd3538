// Package memory implements database.Store in process memory. It backs the CLI
// --memory mode and the engine tests.
package memory

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/siherrmann/resolver/database"
	"github.com/siherrmann/resolver/helper"
	"github.com/siherrmann/resolver/model"
)

type aliasKey struct {
	entityID       int64
	normalizedText string
}

// Store keeps every table in maps guarded by one mutex.
// Returned records are copies.
type Store struct {
	mu sync.RWMutex

	nextEntityID  int64
	nextAliasID   int64
	nextMentionID int64
	nextReviewID  int64
	nextMergeID   int64

	entities map[int64]*model.Entity
	aliases  map[aliasKey]*model.Alias
	mentions map[model.MentionKey]*model.Mention
	reviews  map[int64]*model.ReviewItem
	merges   []model.MergeOperation
}

var _ database.Store = (*Store)(nil)

// NewStore creates an empty in-memory store.
func NewStore() *Store {
	return &Store{
		entities: make(map[int64]*model.Entity),
		aliases:  make(map[aliasKey]*model.Alias),
		mentions: make(map[model.MentionKey]*model.Mention),
		reviews:  make(map[int64]*model.ReviewItem),
	}
}

func notFound(operation string) error {
	return helper.NewError(operation, sql.ErrNoRows)
}

// InsertEntity stores a new entity and fills the generated fields.
func (s *Store) InsertEntity(ctx context.Context, entity *model.Entity) error {
	if !entity.Type.Valid() {
		return helper.NewError("insert entity", model.ErrUnknownEntityType)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.insertEntityLocked(entity)
	return nil
}

func (s *Store) insertEntityLocked(entity *model.Entity) {
	s.nextEntityID++
	now := time.Now()

	entity.ID = s.nextEntityID
	entity.RID = uuid.New()
	entity.MentionCount = 0
	entity.CreatedAt = now
	entity.UpdatedAt = now
	if entity.CanonicalID != nil && *entity.CanonicalID == "" {
		entity.CanonicalID = nil
	}
	if entity.Attributes == nil {
		entity.Attributes = model.Metadata{}
	}

	s.entities[entity.ID] = entity.Clone()
}

// InsertEntityWithCanonicalID inserts the entity unless a live entity of the same type
// holds its canonical id, in which case entity is overwritten with the holder.
func (s *Store) InsertEntityWithCanonicalID(ctx context.Context, entity *model.Entity) (bool, error) {
	if !entity.HasCanonicalID() {
		return false, helper.NewError("canonical id validation", fmt.Errorf("entity has no canonical id"))
	}
	if !entity.Type.Valid() {
		return false, helper.NewError("insert entity", model.ErrUnknownEntityType)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	holders := s.byCanonicalIDLocked(entity.Type, *entity.CanonicalID)
	if len(holders) > 0 {
		*entity = *holders[0].Clone()
		return false, nil
	}

	s.insertEntityLocked(entity)
	return true, nil
}

// SelectEntity retrieves an entity by ID
func (s *Store) SelectEntity(ctx context.Context, id int64) (*model.Entity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entity, ok := s.entities[id]
	if !ok {
		return nil, notFound("select entity")
	}
	return entity.Clone(), nil
}

// SelectEntitiesByCanonicalID retrieves all entities of a type holding canonicalID, oldest first.
func (s *Store) SelectEntitiesByCanonicalID(ctx context.Context, entityType model.EntityType, canonicalID string) ([]*model.Entity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*model.Entity
	for _, e := range s.byCanonicalIDLocked(entityType, canonicalID) {
		result = append(result, e.Clone())
	}
	return result, nil
}

func (s *Store) byCanonicalIDLocked(entityType model.EntityType, canonicalID string) []*model.Entity {
	var result []*model.Entity
	for _, e := range s.entities {
		if e.Type == entityType && e.CanonicalIDValue() == canonicalID && canonicalID != "" {
			result = append(result, e)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result
}

// SelectEntitiesByType retrieves entities by type ordered by ID, limit <= 0 returns all.
func (s *Store) SelectEntitiesByType(ctx context.Context, entityType model.EntityType, limit int) ([]*model.Entity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*model.Entity
	for _, e := range s.entities {
		if e.Type == entityType {
			result = append(result, e.Clone())
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

// SelectEntitiesBySimilarity scans every entity of the type. Order is nearest first,
// then higher mention count, then lower ID.
func (s *Store) SelectEntitiesBySimilarity(ctx context.Context, entityType model.EntityType, embedding []float32, limit int, threshold float64) ([]*model.Entity, error) {
	if len(embedding) == 0 {
		return nil, helper.NewError("embedding validation", fmt.Errorf("embedding is empty"))
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*model.Entity
	for _, e := range s.entities {
		if e.Type != entityType || len(e.Embedding) == 0 {
			continue
		}
		similarity := cosineSimilarity(embedding, e.Embedding)
		if similarity < threshold {
			continue
		}
		candidate := e.Clone()
		candidate.Similarity = similarity
		result = append(result, candidate)
	}

	sort.Slice(result, func(i, j int) bool {
		if result[i].Similarity != result[j].Similarity {
			return result[i].Similarity > result[j].Similarity
		}
		if result[i].MentionCount != result[j].MentionCount {
			return result[i].MentionCount > result[j].MentionCount
		}
		return result[i].ID < result[j].ID
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

// SelectIndexEntries returns every display name and alias with its entity type.
func (s *Store) SelectIndexEntries(ctx context.Context) ([]model.IndexEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var entries []model.IndexEntry
	for _, e := range s.entities {
		entries = append(entries, model.IndexEntry{EntityID: e.ID, Type: e.Type, NormalizedText: e.NormalizedName})
	}
	for _, a := range s.aliases {
		e, ok := s.entities[a.EntityID]
		if !ok {
			continue
		}
		entries = append(entries, model.IndexEntry{EntityID: a.EntityID, Type: e.Type, NormalizedText: a.NormalizedText, IsAlias: true})
	}
	return entries, nil
}

// UpdateEntity writes the mutable fields of an entity.
func (s *Store) UpdateEntity(ctx context.Context, entity *model.Entity) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.entities[entity.ID]
	if !ok {
		return notFound("update entity")
	}

	stored.CanonicalID = nil
	if entity.HasCanonicalID() {
		stored.CanonicalID = model.StringPtr(*entity.CanonicalID)
	}
	stored.DisplayName = entity.DisplayName
	stored.NormalizedName = entity.NormalizedName
	stored.Description = entity.Description
	stored.Attributes = model.Metadata{}
	for k, v := range entity.Attributes {
		stored.Attributes[k] = v
	}
	stored.VerificationStatus = entity.VerificationStatus
	stored.Confidence = entity.Confidence
	stored.UpdatedAt = time.Now()

	entity.UpdatedAt = stored.UpdatedAt
	return nil
}

// UpsertAlias inserts the alias or keeps the existing one with the higher confidence.
func (s *Store) UpsertAlias(ctx context.Context, alias *model.Alias) error {
	switch alias.Source {
	case model.AliasSourceExternalKB, model.AliasSourceLearned, model.AliasSourceManual:
	default:
		return helper.NewError("upsert alias", fmt.Errorf("unknown alias source %q", alias.Source))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.entities[alias.EntityID]; !ok {
		return helper.NewError("upsert alias", fmt.Errorf("entity %d does not exist", alias.EntityID))
	}

	s.upsertAliasLocked(alias)
	return nil
}

func (s *Store) upsertAliasLocked(alias *model.Alias) {
	key := aliasKey{entityID: alias.EntityID, normalizedText: alias.NormalizedText}
	if existing, ok := s.aliases[key]; ok {
		existing.Confidence = math.Max(existing.Confidence, alias.Confidence)
		*alias = *existing
		return
	}

	s.nextAliasID++
	alias.ID = s.nextAliasID
	alias.CreatedAt = time.Now()
	stored := *alias
	s.aliases[key] = &stored
}

// SelectAliasesByEntity retrieves all aliases of an entity ordered by ID.
func (s *Store) SelectAliasesByEntity(ctx context.Context, entityID int64) ([]*model.Alias, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*model.Alias
	for _, a := range s.aliases {
		if a.EntityID == entityID {
			alias := *a
			result = append(result, &alias)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

// InsertMention stores the mention and increments the mention count of its entity.
// A known natural key fills mention with the stored row and returns false.
func (s *Store) InsertMention(ctx context.Context, mention *model.Mention) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := mention.Key()
	if existing, ok := s.mentions[key]; ok {
		*mention = *existing
		return false, nil
	}

	entity, ok := s.entities[mention.EntityID]
	if !ok {
		return false, helper.NewError("insert mention", fmt.Errorf("entity %d does not exist", mention.EntityID))
	}

	s.nextMentionID++
	mention.ID = s.nextMentionID
	mention.CreatedAt = time.Now()
	stored := *mention
	s.mentions[key] = &stored

	entity.MentionCount++
	entity.UpdatedAt = mention.CreatedAt
	return true, nil
}

// SelectMentionByKey retrieves a mention by its natural key
func (s *Store) SelectMentionByKey(ctx context.Context, key model.MentionKey) (*model.Mention, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, ok := s.mentions[key]
	if !ok {
		return nil, notFound("select mention")
	}
	mention := *m
	return &mention, nil
}

// SelectMentionsByEntity retrieves all mentions of an entity ordered by ID.
func (s *Store) SelectMentionsByEntity(ctx context.Context, entityID int64) ([]*model.Mention, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*model.Mention
	for _, m := range s.mentions {
		if m.EntityID == entityID {
			mention := *m
			result = append(result, &mention)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

// MergeEntities folds every absorbed entity into the survivor. The whole merge happens
// under the store mutex, which stands in for the transaction and the lock of lockKey.
// Absorbed entities that are already gone are skipped.
func (s *Store) MergeEntities(ctx context.Context, lockKey string, survivingID int64, absorbedIDs []int64, canonicalID *string, reason model.MergeReason) ([]model.MergeOperation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	survivor, ok := s.entities[survivingID]
	if !ok {
		return nil, helper.NewError("merge entities", fmt.Errorf("surviving entity %d does not exist", survivingID))
	}

	var operations []model.MergeOperation
	for _, absorbedID := range absorbedIDs {
		if absorbedID == survivingID {
			continue
		}
		absorbed, ok := s.entities[absorbedID]
		if !ok {
			continue
		}
		operations = append(operations, s.mergeLocked(survivor, absorbed, canonicalID, reason))
	}

	return operations, nil
}

func (s *Store) mergeLocked(survivor *model.Entity, absorbed *model.Entity, canonicalID *string, reason model.MergeReason) model.MergeOperation {
	for _, m := range s.mentions {
		if m.EntityID == absorbed.ID {
			m.EntityID = survivor.ID
		}
	}

	for key, a := range s.aliases {
		if a.EntityID != absorbed.ID {
			continue
		}
		delete(s.aliases, key)
		moved := *a
		moved.EntityID = survivor.ID
		target := aliasKey{entityID: survivor.ID, normalizedText: moved.NormalizedText}
		if _, exists := s.aliases[target]; !exists {
			s.aliases[target] = &moved
		}
	}

	if absorbed.NormalizedName != survivor.NormalizedName {
		s.upsertAliasLocked(&model.Alias{
			EntityID:       survivor.ID,
			Text:           absorbed.DisplayName,
			NormalizedText: absorbed.NormalizedName,
			Source:         model.AliasSourceLearned,
			Confidence:     absorbed.Confidence,
		})
	}

	opCanonicalID := canonicalID
	if opCanonicalID == nil {
		opCanonicalID = survivor.CanonicalID
	}
	if opCanonicalID == nil {
		opCanonicalID = absorbed.CanonicalID
	}

	if survivor.CanonicalID == nil && absorbed.CanonicalID != nil {
		survivor.CanonicalID = model.StringPtr(*absorbed.CanonicalID)
	}
	if survivor.Description == "" {
		survivor.Description = absorbed.Description
	}
	if survivor.Attributes == nil {
		survivor.Attributes = model.Metadata{}
	}
	survivor.Attributes.FillMissing(absorbed.Attributes)
	survivor.VerificationStatus = bestStatus(survivor.VerificationStatus, absorbed.VerificationStatus)
	survivor.Confidence = math.Max(survivor.Confidence, absorbed.Confidence)
	survivor.MentionCount += absorbed.MentionCount
	if len(survivor.Embedding) == 0 && len(absorbed.Embedding) > 0 {
		survivor.Embedding = append([]float32(nil), absorbed.Embedding...)
	}
	survivor.UpdatedAt = time.Now()

	for _, item := range s.reviews {
		if item.ProposedEntityID != nil && *item.ProposedEntityID == absorbed.ID {
			id := survivor.ID
			item.ProposedEntityID = &id
		}
	}
	if item, ok := s.reviews[absorbed.ID]; ok && item.Open() {
		now := time.Now()
		item.ResolvedAt = &now
		item.Decision = "merged"
	}

	delete(s.entities, absorbed.ID)

	s.nextMergeID++
	op := model.MergeOperation{
		ID:          s.nextMergeID,
		SurvivingID: survivor.ID,
		AbsorbedID:  absorbed.ID,
		Reason:      reason,
		CreatedAt:   time.Now(),
	}
	if opCanonicalID != nil {
		op.CanonicalID = model.StringPtr(*opCanonicalID)
	}
	s.merges = append(s.merges, op)
	return op
}

func bestStatus(a, b model.VerificationStatus) model.VerificationStatus {
	for _, status := range []model.VerificationStatus{model.StatusVerified, model.StatusPendingReview} {
		if a == status || b == status {
			return status
		}
	}
	return model.StatusUnverified
}

// SelectMergeOperations retrieves every merge an entity took part in, oldest first.
func (s *Store) SelectMergeOperations(ctx context.Context, entityID int64) ([]model.MergeOperation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.MergeOperation
	for _, op := range s.merges {
		if op.SurvivingID == entityID || op.AbsorbedID == entityID {
			result = append(result, op)
		}
	}
	return result, nil
}

// UpsertReviewItem opens the review item of an entity, reopening a resolved one.
func (s *Store) UpsertReviewItem(ctx context.Context, item *model.ReviewItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.reviews[item.EntityID]
	if !ok {
		s.nextReviewID++
		stored = &model.ReviewItem{ID: s.nextReviewID, EntityID: item.EntityID}
		s.reviews[item.EntityID] = stored
	}

	stored.MentionID = item.MentionID
	stored.ProposedEntityID = item.ProposedEntityID
	stored.ProposedCanonicalID = nil
	if item.ProposedCanonicalID != nil && *item.ProposedCanonicalID != "" {
		stored.ProposedCanonicalID = model.StringPtr(*item.ProposedCanonicalID)
	}
	stored.Confidence = item.Confidence
	stored.Stage = item.Stage
	stored.RawText = item.RawText
	stored.ContextText = item.ContextText
	stored.Decision = ""
	stored.Reviewer = ""
	stored.CreatedAt = time.Now()
	stored.ResolvedAt = nil

	item.ID = stored.ID
	item.CreatedAt = stored.CreatedAt
	item.Decision = ""
	item.Reviewer = ""
	item.ResolvedAt = nil
	return nil
}

// SelectReviewItemByEntity retrieves the review item of an entity, open or resolved.
func (s *Store) SelectReviewItemByEntity(ctx context.Context, entityID int64) (*model.ReviewItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	item, ok := s.reviews[entityID]
	if !ok {
		return nil, notFound("select review item")
	}
	copied := *item
	return &copied, nil
}

// SelectPendingReviewItems lists open items of live entities oldest first.
func (s *Store) SelectPendingReviewItems(ctx context.Context, entityType *model.EntityType, limit int) ([]*model.ReviewItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*model.ReviewItem
	for _, item := range s.reviews {
		if !item.Open() {
			continue
		}
		entity, ok := s.entities[item.EntityID]
		if !ok || (entityType != nil && entity.Type != *entityType) {
			continue
		}
		copied := *item
		result = append(result, &copied)
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.Before(result[j].CreatedAt)
		}
		return result[i].ID < result[j].ID
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

// ResolveReviewItem closes the open item of an entity.
func (s *Store) ResolveReviewItem(ctx context.Context, entityID int64, decision string, reviewer string) (time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	item, ok := s.reviews[entityID]
	if !ok || !item.Open() {
		return time.Time{}, notFound("resolve review item")
	}

	now := time.Now()
	item.Decision = decision
	item.Reviewer = reviewer
	item.ResolvedAt = &now
	return now, nil
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0
	}

	var dotProduct, normA, normB float64
	for i := range a {
		dotProduct += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}

	if normA == 0 || normB == 0 {
		return 0
	}

	return dotProduct / (math.Sqrt(normA) * math.Sqrt(normB))
}
