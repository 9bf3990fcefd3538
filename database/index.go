package database

import (
	"context"
	"fmt"
	"time"

	"github.com/siherrmann/resolver/helper"
	"github.com/siherrmann/resolver/model"
)

// ChangeIndexType rebuilds the per-type vector indexes as HNSW or IVFFlat.
// indexType: "hnsw" or "ivfflat"
// params: optional parameters for index creation
//   - For HNSW: "m" (int, default 16), "ef_construction" (int, default 64)
//   - For IVFFlat: "lists" (int, default 100)
func (h *EntitiesDBHandler) ChangeIndexType(ctx context.Context, indexType string, params map[string]interface{}) error {
	// Build index method clause
	var method string
	switch indexType {
	case "hnsw":
		m := 16
		efConstruction := 64
		if mVal, ok := params["m"].(int); ok {
			m = mVal
		}
		if efVal, ok := params["ef_construction"].(int); ok {
			efConstruction = efVal
		}
		method = fmt.Sprintf("hnsw (embedding vector_cosine_ops) WITH (m = %d, ef_construction = %d)", m, efConstruction)

	case "ivfflat":
		lists := 100
		if listsVal, ok := params["lists"].(int); ok {
			lists = listsVal
		}
		method = fmt.Sprintf("ivfflat (embedding vector_cosine_ops) WITH (lists = %d)", lists)

	default:
		return helper.NewError("change index type", fmt.Errorf("unsupported index type: %s (use 'hnsw' or 'ivfflat')", indexType))
	}

	ctx, cancel := context.WithTimeout(ctx, 60*time.Second)
	defer cancel()

	// Rebuild every type in one transaction
	tx, err := h.db.Instance.BeginTx(ctx, nil)
	if err != nil {
		return helper.NewError("begin transaction", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	for _, entityType := range model.EntityTypes {
		indexName := fmt.Sprintf("idx_entities_embedding_%s", entityType)

		// Drop existing index
		_, err = tx.ExecContext(ctx, fmt.Sprintf(`DROP INDEX IF EXISTS %s;`, indexName))
		if err != nil {
			return helper.NewError("drop index", err)
		}

		// Create new index
		_, err = tx.ExecContext(ctx, fmt.Sprintf(
			`CREATE INDEX %s ON entities USING %s WHERE entity_type = '%s';`,
			indexName, method, entityType,
		))
		if err != nil {
			return helper.NewError("create index", err)
		}
	}

	err = tx.Commit()
	if err != nil {
		return helper.NewError("commit", err)
	}

	h.db.Logger.Info(fmt.Sprintf("Created %s indexes with params: %v", indexType, params))

	return nil
}
