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

// AliasesDBHandlerFunctions defines the interface for Aliases database operations.
type AliasesDBHandlerFunctions interface {
	UpsertAlias(ctx context.Context, alias *model.Alias) error
	SelectAliasesByEntity(ctx context.Context, entityID int64) ([]*model.Alias, error)
	SelectAliasesByNormalizedText(ctx context.Context, entityType model.EntityType, normalizedText string) ([]*model.Alias, error)
	DeleteAlias(ctx context.Context, id int64) error
}

// AliasesDBHandler handles alias-related database operations
type AliasesDBHandler struct {
	db *helper.Database
}

// NewAliasesDBHandler creates a new aliases database handler.
// The entities table has to exist before.
func NewAliasesDBHandler(db *helper.Database, force bool) (*AliasesDBHandler, error) {
	if db == nil {
		return nil, helper.NewError("database connection validation", fmt.Errorf("database connection is nil"))
	}

	aliasesDbHandler := &AliasesDBHandler{
		db: db,
	}

	err := loadSql.LoadAliasesSql(aliasesDbHandler.db.Instance, force)
	if err != nil {
		return nil, helper.NewError("load aliases sql", err)
	}

	err = aliasesDbHandler.CreateTable()
	if err != nil {
		return nil, helper.NewError("create table", err)
	}

	db.Logger.Info("Initialized AliasesDBHandler")

	return aliasesDbHandler, nil
}

// CreateTable creates the 'aliases' table in the database.
func (h *AliasesDBHandler) CreateTable() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_, err := h.db.Instance.ExecContext(ctx, `SELECT init_aliases();`)
	if err != nil {
		log.Panicf("error initializing aliases table: %#v", err)
	}

	h.db.Logger.Info("Checked/created table aliases")

	return nil
}

// UpsertAlias inserts the alias or keeps the existing one with the higher confidence.
func (h *AliasesDBHandler) UpsertAlias(ctx context.Context, alias *model.Alias) error {
	row := h.db.Instance.QueryRowContext(
		ctx,
		`SELECT * FROM upsert_alias($1, $2, $3, $4, $5)`,
		alias.EntityID,
		alias.Text,
		alias.NormalizedText,
		string(alias.Source),
		alias.Confidence,
	)

	err := scanAlias(row, alias)
	if err != nil {
		return helper.NewError("scan", err)
	}

	return nil
}

// SelectAliasesByEntity retrieves all aliases of an entity
func (h *AliasesDBHandler) SelectAliasesByEntity(ctx context.Context, entityID int64) ([]*model.Alias, error) {
	return h.queryAliases(ctx, `SELECT * FROM select_aliases_by_entity($1)`, entityID)
}

// SelectAliasesByNormalizedText retrieves aliases of a type with the given normalized text
func (h *AliasesDBHandler) SelectAliasesByNormalizedText(ctx context.Context, entityType model.EntityType, normalizedText string) ([]*model.Alias, error) {
	return h.queryAliases(ctx, `SELECT * FROM select_aliases_by_normalized_text($1, $2)`, string(entityType), normalizedText)
}

// DeleteAlias deletes an alias by ID
func (h *AliasesDBHandler) DeleteAlias(ctx context.Context, id int64) error {
	_, err := h.db.Instance.ExecContext(ctx, `SELECT delete_alias($1)`, id)
	if err != nil {
		return helper.NewError("exec", err)
	}
	return nil
}

func (h *AliasesDBHandler) queryAliases(ctx context.Context, query string, args ...interface{}) ([]*model.Alias, error) {
	rows, err := h.db.Instance.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, helper.NewError("query", err)
	}
	defer rows.Close()

	var aliases []*model.Alias
	for rows.Next() {
		alias := &model.Alias{}
		err := scanAlias(rows, alias)
		if err != nil {
			return nil, helper.NewError("scan", err)
		}
		aliases = append(aliases, alias)
	}

	err = rows.Err()
	if err != nil {
		return nil, helper.NewError("rows error", err)
	}

	return aliases, nil
}

func scanAlias(row scanner, alias *model.Alias) error {
	var source string
	err := row.Scan(
		&alias.ID,
		&alias.EntityID,
		&alias.Text,
		&alias.NormalizedText,
		&source,
		&alias.Confidence,
		&alias.CreatedAt,
	)
	if err != nil {
		return err
	}
	alias.Source = model.AliasSource(source)
	return nil
}
