package database

import (
	"context"
	"fmt"
	"time"

	"github.com/siherrmann/resolver/helper"
	"github.com/siherrmann/resolver/model"
	loadSql "github.com/siherrmann/resolver/sql"
)

// Store is the storage contract of the resolution engine.
// Lookups of missing rows return an error matching helper.IsNotFound.
type Store interface {
	InsertEntity(ctx context.Context, entity *model.Entity) error
	InsertEntityWithCanonicalID(ctx context.Context, entity *model.Entity) (bool, error)
	SelectEntity(ctx context.Context, id int64) (*model.Entity, error)
	SelectEntitiesByCanonicalID(ctx context.Context, entityType model.EntityType, canonicalID string) ([]*model.Entity, error)
	SelectEntitiesByType(ctx context.Context, entityType model.EntityType, limit int) ([]*model.Entity, error)
	SelectEntitiesBySimilarity(ctx context.Context, entityType model.EntityType, embedding []float32, limit int, threshold float64) ([]*model.Entity, error)
	SelectIndexEntries(ctx context.Context) ([]model.IndexEntry, error)
	UpdateEntity(ctx context.Context, entity *model.Entity) error

	UpsertAlias(ctx context.Context, alias *model.Alias) error
	SelectAliasesByEntity(ctx context.Context, entityID int64) ([]*model.Alias, error)

	InsertMention(ctx context.Context, mention *model.Mention) (bool, error)
	SelectMentionByKey(ctx context.Context, key model.MentionKey) (*model.Mention, error)
	SelectMentionsByEntity(ctx context.Context, entityID int64) ([]*model.Mention, error)

	MergeEntities(ctx context.Context, lockKey string, survivingID int64, absorbedIDs []int64, canonicalID *string, reason model.MergeReason) ([]model.MergeOperation, error)
	SelectMergeOperations(ctx context.Context, entityID int64) ([]model.MergeOperation, error)

	UpsertReviewItem(ctx context.Context, item *model.ReviewItem) error
	SelectReviewItemByEntity(ctx context.Context, entityID int64) (*model.ReviewItem, error)
	SelectPendingReviewItems(ctx context.Context, entityType *model.EntityType, limit int) ([]*model.ReviewItem, error)
	ResolveReviewItem(ctx context.Context, entityID int64, decision string, reviewer string) (time.Time, error)
}

// PostgresStore implements Store on top of the table handlers.
type PostgresStore struct {
	*EntitiesDBHandler
	*AliasesDBHandler
	*MentionsDBHandler
	*ReviewsDBHandler
	*MergesDBHandler

	DB    *helper.Database
	Edges *EdgesDBHandler
}

var _ Store = (*PostgresStore)(nil)

// NewPostgresStore initializes the extensions and every table handler in dependency order.
func NewPostgresStore(db *helper.Database, embeddingDim int, force bool) (*PostgresStore, error) {
	if db == nil {
		return nil, helper.NewError("database connection validation", fmt.Errorf("database connection is nil"))
	}

	err := loadSql.Init(db.Instance)
	if err != nil {
		return nil, helper.NewError("initialize database extensions", err)
	}

	entities, err := NewEntitiesDBHandler(db, embeddingDim, force)
	if err != nil {
		return nil, helper.NewError("create entities handler", err)
	}

	aliases, err := NewAliasesDBHandler(db, force)
	if err != nil {
		return nil, helper.NewError("create aliases handler", err)
	}

	mentions, err := NewMentionsDBHandler(db, force)
	if err != nil {
		return nil, helper.NewError("create mentions handler", err)
	}

	reviews, err := NewReviewsDBHandler(db, force)
	if err != nil {
		return nil, helper.NewError("create reviews handler", err)
	}

	merges, err := NewMergesDBHandler(db, force)
	if err != nil {
		return nil, helper.NewError("create merges handler", err)
	}

	edges, err := NewEdgesDBHandler(db, force)
	if err != nil {
		return nil, helper.NewError("create edges handler", err)
	}

	return &PostgresStore{
		EntitiesDBHandler: entities,
		AliasesDBHandler:  aliases,
		MentionsDBHandler: mentions,
		ReviewsDBHandler:  reviews,
		MergesDBHandler:   merges,
		DB:                db,
		Edges:             edges,
	}, nil
}

// Close closes the database connection
func (s *PostgresStore) Close() error {
	if s.DB != nil && s.DB.Instance != nil {
		return s.DB.Instance.Close()
	}
	return nil
}
