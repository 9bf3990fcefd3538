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

// MentionsDBHandlerFunctions defines the interface for Mentions database operations.
type MentionsDBHandlerFunctions interface {
	InsertMention(ctx context.Context, mention *model.Mention) (bool, error)
	SelectMentionByKey(ctx context.Context, key model.MentionKey) (*model.Mention, error)
	SelectMentionsByEntity(ctx context.Context, entityID int64) ([]*model.Mention, error)
}

// MentionsDBHandler handles mention-related database operations
type MentionsDBHandler struct {
	db *helper.Database
}

// NewMentionsDBHandler creates a new mentions database handler.
// The entities table has to exist before.
func NewMentionsDBHandler(db *helper.Database, force bool) (*MentionsDBHandler, error) {
	if db == nil {
		return nil, helper.NewError("database connection validation", fmt.Errorf("database connection is nil"))
	}

	mentionsDbHandler := &MentionsDBHandler{
		db: db,
	}

	err := loadSql.LoadMentionsSql(mentionsDbHandler.db.Instance, force)
	if err != nil {
		return nil, helper.NewError("load mentions sql", err)
	}

	err = mentionsDbHandler.CreateTable()
	if err != nil {
		return nil, helper.NewError("create table", err)
	}

	db.Logger.Info("Initialized MentionsDBHandler")

	return mentionsDbHandler, nil
}

// CreateTable creates the 'mentions' table in the database.
func (h *MentionsDBHandler) CreateTable() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_, err := h.db.Instance.ExecContext(ctx, `SELECT init_mentions();`)
	if err != nil {
		log.Panicf("error initializing mentions table: %#v", err)
	}

	h.db.Logger.Info("Checked/created table mentions")

	return nil
}

// InsertMention stores the mention and increments the entity's mention count.
// For an already stored natural key nothing is written, mention is filled with
// the stored row and false is returned.
func (h *MentionsDBHandler) InsertMention(ctx context.Context, mention *model.Mention) (bool, error) {
	row := h.db.Instance.QueryRowContext(
		ctx,
		`SELECT * FROM insert_mention($1, $2, $3, $4, $5, $6, $7)`,
		mention.EntityID,
		mention.SourceID,
		mention.RawText,
		mention.ContextText,
		mention.Position,
		mention.Stage,
		mention.Confidence,
	)

	var inserted bool
	err := scanMention(row, mention, &inserted)
	if err != nil {
		return false, helper.NewError("scan", err)
	}

	return inserted, nil
}

// SelectMentionByKey retrieves a mention by its natural key
func (h *MentionsDBHandler) SelectMentionByKey(ctx context.Context, key model.MentionKey) (*model.Mention, error) {
	mention := &model.Mention{}
	row := h.db.Instance.QueryRowContext(
		ctx,
		`SELECT * FROM select_mention_by_key($1, $2, $3)`,
		key.SourceID,
		key.Position,
		key.RawText,
	)

	err := scanMention(row, mention)
	if err != nil {
		return nil, helper.NewError("scan", err)
	}

	return mention, nil
}

// SelectMentionsByEntity retrieves all mentions of an entity
func (h *MentionsDBHandler) SelectMentionsByEntity(ctx context.Context, entityID int64) ([]*model.Mention, error) {
	rows, err := h.db.Instance.QueryContext(ctx, `SELECT * FROM select_mentions_by_entity($1)`, entityID)
	if err != nil {
		return nil, helper.NewError("query", err)
	}
	defer rows.Close()

	var mentions []*model.Mention
	for rows.Next() {
		mention := &model.Mention{}
		err := scanMention(rows, mention)
		if err != nil {
			return nil, helper.NewError("scan", err)
		}
		mentions = append(mentions, mention)
	}

	err = rows.Err()
	if err != nil {
		return nil, helper.NewError("rows error", err)
	}

	return mentions, nil
}

func scanMention(row scanner, mention *model.Mention, extra ...interface{}) error {
	dest := []interface{}{
		&mention.ID,
		&mention.EntityID,
		&mention.SourceID,
		&mention.RawText,
		&mention.ContextText,
		&mention.Position,
		&mention.Stage,
		&mention.Confidence,
		&mention.CreatedAt,
	}
	return row.Scan(append(dest, extra...)...)
}
