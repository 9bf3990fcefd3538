package database

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/pgvector/pgvector-go"
	"github.com/siherrmann/resolver/helper"
	"github.com/siherrmann/resolver/model"
	loadSql "github.com/siherrmann/resolver/sql"
)

// EntitiesDBHandlerFunctions defines the interface for Entities database operations.
type EntitiesDBHandlerFunctions interface {
	InsertEntity(ctx context.Context, entity *model.Entity) error
	InsertEntityWithCanonicalID(ctx context.Context, entity *model.Entity) (bool, error)
	SelectEntity(ctx context.Context, id int64) (*model.Entity, error)
	SelectEntitiesByCanonicalID(ctx context.Context, entityType model.EntityType, canonicalID string) ([]*model.Entity, error)
	SelectEntitiesByType(ctx context.Context, entityType model.EntityType, limit int) ([]*model.Entity, error)
	SelectEntitiesBySimilarity(ctx context.Context, entityType model.EntityType, embedding []float32, limit int, threshold float64) ([]*model.Entity, error)
	SelectIndexEntries(ctx context.Context) ([]model.IndexEntry, error)
	UpdateEntity(ctx context.Context, entity *model.Entity) error
	UpdateEntityEmbedding(ctx context.Context, id int64, embedding []float32) error
	DeleteEntity(ctx context.Context, id int64) error
}

// EntitiesDBHandler handles entity-related database operations
type EntitiesDBHandler struct {
	db           *helper.Database
	embeddingDim int
}

// NewEntitiesDBHandler creates a new entities database handler.
// It initializes the database connection and loads entity-related SQL functions.
// If force is true, it will reload the SQL functions even if they already exist.
func NewEntitiesDBHandler(db *helper.Database, embeddingDim int, force bool) (*EntitiesDBHandler, error) {
	if db == nil {
		return nil, helper.NewError("database connection validation", fmt.Errorf("database connection is nil"))
	}
	if embeddingDim <= 0 {
		return nil, helper.NewError("embedding dimension validation", fmt.Errorf("embedding dimension must be positive, got %d", embeddingDim))
	}

	entitiesDbHandler := &EntitiesDBHandler{
		db:           db,
		embeddingDim: embeddingDim,
	}

	err := loadSql.LoadEntitiesSql(entitiesDbHandler.db.Instance, force)
	if err != nil {
		return nil, helper.NewError("load entities sql", err)
	}

	err = entitiesDbHandler.CreateTable()
	if err != nil {
		return nil, helper.NewError("create table", err)
	}

	db.Logger.Info("Initialized EntitiesDBHandler", "embedding_dim", embeddingDim)

	return entitiesDbHandler, nil
}

// CreateTable creates the 'entities' table in the database.
// If the table already exists, it does not create it again.
// It also creates the per-type vector indexes.
func (h *EntitiesDBHandler) CreateTable() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_, err := h.db.Instance.ExecContext(ctx, `SELECT init_entities($1);`, h.embeddingDim)
	if err != nil {
		log.Panicf("error initializing entities table: %#v", err)
	}

	h.db.Logger.Info("Checked/created table entities")

	return nil
}

// InsertEntity inserts a new entity and fills the generated fields.
func (h *EntitiesDBHandler) InsertEntity(ctx context.Context, entity *model.Entity) error {
	row := h.db.Instance.QueryRowContext(
		ctx,
		`SELECT * FROM insert_entity($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		string(entity.Type),
		entity.CanonicalID,
		entity.DisplayName,
		entity.NormalizedName,
		entity.Description,
		entity.Attributes,
		string(entity.VerificationStatus),
		entity.Confidence,
		vectorParam(entity.Embedding),
	)

	err := scanEntity(row, entity)
	if err != nil {
		return helper.NewError("scan", err)
	}

	return nil
}

// InsertEntityWithCanonicalID inserts the entity unless another live entity of the same
// type already holds its canonical id. In that case entity is overwritten with the holder
// and false is returned.
func (h *EntitiesDBHandler) InsertEntityWithCanonicalID(ctx context.Context, entity *model.Entity) (bool, error) {
	if !entity.HasCanonicalID() {
		return false, helper.NewError("canonical id validation", fmt.Errorf("entity has no canonical id"))
	}

	row := h.db.Instance.QueryRowContext(
		ctx,
		`SELECT * FROM insert_entity_with_canonical_id($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		AdvisoryKey(CanonicalLockKey(entity.Type, *entity.CanonicalID)),
		string(entity.Type),
		*entity.CanonicalID,
		entity.DisplayName,
		entity.NormalizedName,
		entity.Description,
		entity.Attributes,
		string(entity.VerificationStatus),
		entity.Confidence,
		vectorParam(entity.Embedding),
	)

	var created bool
	err := scanEntity(row, entity, &created)
	if err != nil {
		return false, helper.NewError("scan", err)
	}

	return created, nil
}

// SelectEntity retrieves an entity by ID
func (h *EntitiesDBHandler) SelectEntity(ctx context.Context, id int64) (*model.Entity, error) {
	entity := &model.Entity{}
	row := h.db.Instance.QueryRowContext(
		ctx,
		`SELECT * FROM select_entity($1)`,
		id,
	)

	err := scanEntity(row, entity)
	if err != nil {
		return nil, helper.NewError("scan", err)
	}

	return entity, nil
}

// SelectEntitiesByCanonicalID retrieves all live entities of a type holding canonicalID, oldest first.
func (h *EntitiesDBHandler) SelectEntitiesByCanonicalID(ctx context.Context, entityType model.EntityType, canonicalID string) ([]*model.Entity, error) {
	return h.queryEntities(ctx, false, `SELECT * FROM select_entities_by_canonical_id($1, $2)`, string(entityType), canonicalID)
}

// SelectEntitiesByType retrieves entities by type, limit <= 0 returns all
func (h *EntitiesDBHandler) SelectEntitiesByType(ctx context.Context, entityType model.EntityType, limit int) ([]*model.Entity, error) {
	return h.queryEntities(ctx, false, `SELECT * FROM select_entities_by_type($1, $2)`, string(entityType), limit)
}

// SelectEntitiesBySimilarity returns up to limit entities of the type whose cosine
// similarity to embedding is at least threshold, nearest first.
func (h *EntitiesDBHandler) SelectEntitiesBySimilarity(ctx context.Context, entityType model.EntityType, embedding []float32, limit int, threshold float64) ([]*model.Entity, error) {
	if len(embedding) == 0 {
		return nil, helper.NewError("embedding validation", fmt.Errorf("embedding is empty"))
	}
	return h.queryEntities(
		ctx,
		true,
		`SELECT * FROM select_entities_by_similarity($1, $2, $3, $4)`,
		string(entityType),
		pgvector.NewVector(embedding),
		limit,
		threshold,
	)
}

// SelectIndexEntries returns every display name and alias with its entity type.
func (h *EntitiesDBHandler) SelectIndexEntries(ctx context.Context) ([]model.IndexEntry, error) {
	rows, err := h.db.Instance.QueryContext(ctx, `SELECT * FROM select_index_entries()`)
	if err != nil {
		return nil, helper.NewError("query", err)
	}
	defer rows.Close()

	var entries []model.IndexEntry
	for rows.Next() {
		var entry model.IndexEntry
		var entityType string
		err := rows.Scan(&entry.EntityID, &entityType, &entry.NormalizedText, &entry.IsAlias)
		if err != nil {
			return nil, helper.NewError("scan", err)
		}
		entry.Type = model.EntityType(entityType)
		entries = append(entries, entry)
	}

	err = rows.Err()
	if err != nil {
		return nil, helper.NewError("rows error", err)
	}

	return entries, nil
}

// UpdateEntity writes the mutable fields of an entity.
func (h *EntitiesDBHandler) UpdateEntity(ctx context.Context, entity *model.Entity) error {
	row := h.db.Instance.QueryRowContext(
		ctx,
		`SELECT * FROM update_entity($1, $2, $3, $4, $5, $6, $7, $8)`,
		entity.ID,
		entity.CanonicalID,
		entity.DisplayName,
		entity.NormalizedName,
		entity.Description,
		entity.Attributes,
		string(entity.VerificationStatus),
		entity.Confidence,
	)

	err := row.Scan(&entity.UpdatedAt)
	if err != nil {
		return helper.NewError("scan", err)
	}

	return nil
}

// UpdateEntityEmbedding replaces the embedding of an entity
func (h *EntitiesDBHandler) UpdateEntityEmbedding(ctx context.Context, id int64, embedding []float32) error {
	_, err := h.db.Instance.ExecContext(
		ctx,
		`SELECT update_entity_embedding($1, $2)`,
		id,
		vectorParam(embedding),
	)
	if err != nil {
		return helper.NewError("exec", err)
	}
	return nil
}

// DeleteEntity deletes an entity by ID
func (h *EntitiesDBHandler) DeleteEntity(ctx context.Context, id int64) error {
	_, err := h.db.Instance.ExecContext(
		ctx,
		`SELECT delete_entity($1)`,
		id,
	)
	if err != nil {
		return helper.NewError("exec", err)
	}
	return nil
}

func (h *EntitiesDBHandler) queryEntities(ctx context.Context, withSimilarity bool, query string, args ...interface{}) ([]*model.Entity, error) {
	rows, err := h.db.Instance.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, helper.NewError("query", err)
	}
	defer rows.Close()

	var entities []*model.Entity
	for rows.Next() {
		entity := &model.Entity{}
		if withSimilarity {
			err = scanEntity(rows, entity, &entity.Similarity)
		} else {
			err = scanEntity(rows, entity)
		}
		if err != nil {
			return nil, helper.NewError("scan", err)
		}

		entities = append(entities, entity)
	}

	err = rows.Err()
	if err != nil {
		return nil, helper.NewError("rows error", err)
	}

	return entities, nil
}

type scanner interface {
	Scan(dest ...interface{}) error
}

// scanEntity scans the common entity columns followed by extra trailing columns.
func scanEntity(row scanner, entity *model.Entity, extra ...interface{}) error {
	var entityType, status string
	var canonicalID *string
	var embedding *pgvector.Vector

	dest := []interface{}{
		&entity.ID,
		&entity.RID,
		&entityType,
		&canonicalID,
		&entity.DisplayName,
		&entity.NormalizedName,
		&entity.Description,
		&entity.Attributes,
		&status,
		&entity.Confidence,
		&entity.MentionCount,
		&embedding,
		&entity.CreatedAt,
		&entity.UpdatedAt,
	}
	dest = append(dest, extra...)

	err := row.Scan(dest...)
	if err != nil {
		return err
	}

	entity.Type = model.EntityType(entityType)
	entity.VerificationStatus = model.VerificationStatus(status)
	entity.CanonicalID = canonicalID
	entity.Embedding = nil
	if embedding != nil {
		entity.Embedding = embedding.Slice()
	}
	return nil
}

func vectorParam(embedding []float32) interface{} {
	if len(embedding) == 0 {
		return nil
	}
	return pgvector.NewVector(embedding)
}
