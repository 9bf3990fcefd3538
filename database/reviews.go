package database

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/siherrmann/resolver/helper"
	"github.com/siherrmann/resolver/model"
	loadSql "github.com/siherrmann/resolver/sql"
)

// ReviewsDBHandlerFunctions defines the interface for review queue database operations.
type ReviewsDBHandlerFunctions interface {
	UpsertReviewItem(ctx context.Context, item *model.ReviewItem) error
	SelectReviewItemByEntity(ctx context.Context, entityID int64) (*model.ReviewItem, error)
	SelectPendingReviewItems(ctx context.Context, entityType *model.EntityType, limit int) ([]*model.ReviewItem, error)
	ResolveReviewItem(ctx context.Context, entityID int64, decision string, reviewer string) (time.Time, error)
}

// ReviewsDBHandler handles review queue database operations
type ReviewsDBHandler struct {
	db *helper.Database
}

// NewReviewsDBHandler creates a new review queue database handler.
func NewReviewsDBHandler(db *helper.Database, force bool) (*ReviewsDBHandler, error) {
	if db == nil {
		return nil, helper.NewError("database connection validation", fmt.Errorf("database connection is nil"))
	}

	reviewsDbHandler := &ReviewsDBHandler{
		db: db,
	}

	err := loadSql.LoadReviewsSql(reviewsDbHandler.db.Instance, force)
	if err != nil {
		return nil, helper.NewError("load reviews sql", err)
	}

	err = reviewsDbHandler.CreateTable()
	if err != nil {
		return nil, helper.NewError("create table", err)
	}

	db.Logger.Info("Initialized ReviewsDBHandler")

	return reviewsDbHandler, nil
}

// CreateTable creates the 'review_items' table in the database.
func (h *ReviewsDBHandler) CreateTable() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_, err := h.db.Instance.ExecContext(ctx, `SELECT init_reviews();`)
	if err != nil {
		log.Panicf("error initializing review_items table: %#v", err)
	}

	h.db.Logger.Info("Checked/created table review_items")

	return nil
}

// UpsertReviewItem opens the review item of an entity, reopening a resolved one.
func (h *ReviewsDBHandler) UpsertReviewItem(ctx context.Context, item *model.ReviewItem) error {
	var proposedCanonicalID string
	if item.ProposedCanonicalID != nil {
		proposedCanonicalID = *item.ProposedCanonicalID
	}

	row := h.db.Instance.QueryRowContext(
		ctx,
		`SELECT * FROM upsert_review_item($1, $2, $3, $4, $5, $6, $7, $8)`,
		item.EntityID,
		item.MentionID,
		item.ProposedEntityID,
		proposedCanonicalID,
		item.Confidence,
		item.Stage,
		item.RawText,
		item.ContextText,
	)

	err := row.Scan(&item.ID, &item.CreatedAt)
	if err != nil {
		return helper.NewError("scan", err)
	}
	item.Decision = ""
	item.Reviewer = ""
	item.ResolvedAt = nil

	return nil
}

// SelectReviewItemByEntity retrieves the review item of an entity, open or resolved.
func (h *ReviewsDBHandler) SelectReviewItemByEntity(ctx context.Context, entityID int64) (*model.ReviewItem, error) {
	item := &model.ReviewItem{}
	row := h.db.Instance.QueryRowContext(ctx, `SELECT * FROM select_review_item_by_entity($1)`, entityID)

	err := scanReviewItem(row, item)
	if err != nil {
		return nil, helper.NewError("scan", err)
	}

	return item, nil
}

// SelectPendingReviewItems lists open items oldest first. A nil entityType lists all types,
// limit <= 0 lists everything.
func (h *ReviewsDBHandler) SelectPendingReviewItems(ctx context.Context, entityType *model.EntityType, limit int) ([]*model.ReviewItem, error) {
	var typeParam interface{}
	if entityType != nil {
		typeParam = string(*entityType)
	}

	rows, err := h.db.Instance.QueryContext(ctx, `SELECT * FROM select_pending_review_items($1, $2)`, typeParam, limit)
	if err != nil {
		return nil, helper.NewError("query", err)
	}
	defer rows.Close()

	var items []*model.ReviewItem
	for rows.Next() {
		item := &model.ReviewItem{}
		err := scanReviewItem(rows, item)
		if err != nil {
			return nil, helper.NewError("scan", err)
		}
		items = append(items, item)
	}

	err = rows.Err()
	if err != nil {
		return nil, helper.NewError("rows error", err)
	}

	return items, nil
}

// ResolveReviewItem closes the open item of an entity. It returns a wrapped
// sql.ErrNoRows if the entity has no open item.
func (h *ReviewsDBHandler) ResolveReviewItem(ctx context.Context, entityID int64, decision string, reviewer string) (time.Time, error) {
	var resolvedAt time.Time
	row := h.db.Instance.QueryRowContext(
		ctx,
		`SELECT * FROM resolve_review_item($1, $2, $3)`,
		entityID,
		decision,
		reviewer,
	)

	err := row.Scan(&resolvedAt)
	if err != nil {
		return time.Time{}, helper.NewError("scan", err)
	}

	return resolvedAt, nil
}

func scanReviewItem(row scanner, item *model.ReviewItem) error {
	var decision, reviewer *string
	err := row.Scan(
		&item.ID,
		&item.EntityID,
		&item.MentionID,
		&item.ProposedEntityID,
		&item.ProposedCanonicalID,
		&item.Confidence,
		&item.Stage,
		&item.RawText,
		&item.ContextText,
		&decision,
		&reviewer,
		&item.CreatedAt,
		&item.ResolvedAt,
	)
	if err != nil {
		return err
	}

	item.Decision = ""
	if decision != nil {
		item.Decision = *decision
	}
	item.Reviewer = ""
	if reviewer != nil {
		item.Reviewer = *reviewer
	}
	return nil
}
