package database

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"time"

	"github.com/siherrmann/resolver/helper"
	"github.com/siherrmann/resolver/model"
	loadSql "github.com/siherrmann/resolver/sql"
)

// MergesDBHandlerFunctions defines the interface for merge database operations.
type MergesDBHandlerFunctions interface {
	MergeEntities(ctx context.Context, lockKey string, survivingID int64, absorbedIDs []int64, canonicalID *string, reason model.MergeReason) ([]model.MergeOperation, error)
	SelectMergeOperations(ctx context.Context, entityID int64) ([]model.MergeOperation, error)
}

// MergesDBHandler handles merge-related database operations
type MergesDBHandler struct {
	db *helper.Database
}

// NewMergesDBHandler creates a new merges database handler.
// The entities, aliases, mentions and review_items tables have to exist before.
func NewMergesDBHandler(db *helper.Database, force bool) (*MergesDBHandler, error) {
	if db == nil {
		return nil, helper.NewError("database connection validation", fmt.Errorf("database connection is nil"))
	}

	mergesDbHandler := &MergesDBHandler{
		db: db,
	}

	err := loadSql.LoadMergesSql(mergesDbHandler.db.Instance, force)
	if err != nil {
		return nil, helper.NewError("load merges sql", err)
	}

	err = mergesDbHandler.CreateTable()
	if err != nil {
		return nil, helper.NewError("create table", err)
	}

	db.Logger.Info("Initialized MergesDBHandler")

	return mergesDbHandler, nil
}

// CreateTable creates the 'merge_operations' table in the database.
func (h *MergesDBHandler) CreateTable() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_, err := h.db.Instance.ExecContext(ctx, `SELECT init_merges();`)
	if err != nil {
		log.Panicf("error initializing merge_operations table: %#v", err)
	}

	h.db.Logger.Info("Checked/created table merge_operations")

	return nil
}

// MergeEntities folds every absorbed entity into the survivor inside one transaction
// holding the advisory lock of lockKey. Absorbed entities that are already gone are
// skipped, so concurrent merges of the same group converge.
func (h *MergesDBHandler) MergeEntities(ctx context.Context, lockKey string, survivingID int64, absorbedIDs []int64, canonicalID *string, reason model.MergeReason) ([]model.MergeOperation, error) {
	tx, err := h.db.Instance.BeginTx(ctx, nil)
	if err != nil {
		return nil, helper.NewError("begin transaction", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	_, err = tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, AdvisoryKey(lockKey))
	if err != nil {
		return nil, helper.NewError("pg_advisory_xact_lock", err)
	}

	var operations []model.MergeOperation
	for _, absorbedID := range absorbedIDs {
		if absorbedID == survivingID {
			continue
		}

		var op model.MergeOperation
		row := tx.QueryRowContext(
			ctx,
			`SELECT * FROM merge_entity($1, $2, $3, $4)`,
			survivingID,
			absorbedID,
			canonicalID,
			string(reason),
		)
		err = scanMergeOperation(row, &op)
		if err == sql.ErrNoRows {
			h.db.Logger.Debug("Absorbed entity already merged", "surviving_id", survivingID, "absorbed_id", absorbedID)
			continue
		} else if err != nil {
			return nil, helper.NewError(fmt.Sprintf("merge entity %d into %d", absorbedID, survivingID), err)
		}
		operations = append(operations, op)
	}

	err = tx.Commit()
	if err != nil {
		return nil, helper.NewError("commit", err)
	}

	return operations, nil
}

// SelectMergeOperations retrieves every merge an entity took part in, oldest first.
func (h *MergesDBHandler) SelectMergeOperations(ctx context.Context, entityID int64) ([]model.MergeOperation, error) {
	rows, err := h.db.Instance.QueryContext(ctx, `SELECT * FROM select_merge_operations_by_entity($1)`, entityID)
	if err != nil {
		return nil, helper.NewError("query", err)
	}
	defer rows.Close()

	var operations []model.MergeOperation
	for rows.Next() {
		var op model.MergeOperation
		err := scanMergeOperation(rows, &op)
		if err != nil {
			return nil, helper.NewError("scan", err)
		}
		operations = append(operations, op)
	}

	err = rows.Err()
	if err != nil {
		return nil, helper.NewError("rows error", err)
	}

	return operations, nil
}

func scanMergeOperation(row scanner, op *model.MergeOperation) error {
	var reason string
	err := row.Scan(
		&op.ID,
		&op.SurvivingID,
		&op.AbsorbedID,
		&op.CanonicalID,
		&reason,
		&op.CreatedAt,
	)
	if err != nil {
		return err
	}
	op.Reason = model.MergeReason(reason)
	return nil
}
