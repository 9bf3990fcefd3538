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

// EdgesDBHandlerFunctions defines the interface for Edges database operations.
type EdgesDBHandlerFunctions interface {
	InsertEdge(ctx context.Context, edge *model.Edge) error
	SelectEdge(ctx context.Context, id int64) (*model.Edge, error)
	SelectEdgesFromEntity(ctx context.Context, entityID int64, edgeType *model.EdgeType) ([]*model.Edge, error)
	SelectEdgesToEntity(ctx context.Context, entityID int64, edgeType *model.EdgeType) ([]*model.Edge, error)
	UpdateEdgeWeight(ctx context.Context, id int64, weight float64) error
	DeleteEdge(ctx context.Context, id int64) error
	RelinkEntity(ctx context.Context, absorbedID int64, survivingID int64) error
}

// EdgesDBHandler handles edge-related database operations
type EdgesDBHandler struct {
	db *helper.Database
}

// NewEdgesDBHandler creates a new edges database handler.
// It initializes the database connection and loads edge-related SQL functions.
// If force is true, it will reload the SQL functions even if they already exist.
func NewEdgesDBHandler(db *helper.Database, force bool) (*EdgesDBHandler, error) {
	if db == nil {
		return nil, helper.NewError("database connection validation", fmt.Errorf("database connection is nil"))
	}

	edgesDbHandler := &EdgesDBHandler{
		db: db,
	}

	err := loadSql.LoadEdgesSql(edgesDbHandler.db.Instance, force)
	if err != nil {
		return nil, helper.NewError("load edges sql", err)
	}

	err = edgesDbHandler.CreateTable()
	if err != nil {
		return nil, helper.NewError("create table", err)
	}

	db.Logger.Info("Initialized EdgesDBHandler")

	return edgesDbHandler, nil
}

// CreateTable creates the 'edges' table in the database.
// If the table already exists, it does not create it again.
func (h *EdgesDBHandler) CreateTable() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_, err := h.db.Instance.ExecContext(ctx, `SELECT init_edges();`)
	if err != nil {
		log.Panicf("error initializing edges table: %#v", err)
	}

	h.db.Logger.Info("Checked/created table edges")

	return nil
}

// InsertEdge inserts a new edge
func (h *EdgesDBHandler) InsertEdge(ctx context.Context, edge *model.Edge) error {
	if edge.Weight == 0 {
		edge.Weight = 1.0
	}

	row := h.db.Instance.QueryRowContext(
		ctx,
		`SELECT * FROM insert_edge($1, $2, $3, $4, $5)`,
		edge.SourceEntityID,
		edge.TargetEntityID,
		string(edge.EdgeType),
		edge.Weight,
		edge.Metadata,
	)

	err := scanEdge(row, edge)
	if err != nil {
		return helper.NewError("scan", err)
	}

	return nil
}

// SelectEdge retrieves an edge by ID
func (h *EdgesDBHandler) SelectEdge(ctx context.Context, id int64) (*model.Edge, error) {
	edge := &model.Edge{}
	row := h.db.Instance.QueryRowContext(ctx, `SELECT * FROM select_edge($1)`, id)

	err := scanEdge(row, edge)
	if err != nil {
		return nil, helper.NewError("scan", err)
	}

	return edge, nil
}

// SelectEdgesFromEntity retrieves all edges originating from an entity
func (h *EdgesDBHandler) SelectEdgesFromEntity(ctx context.Context, entityID int64, edgeType *model.EdgeType) ([]*model.Edge, error) {
	return h.queryEdges(ctx, `SELECT * FROM select_edges_from_entity($1, $2)`, entityID, edgeTypeParam(edgeType))
}

// SelectEdgesToEntity retrieves all edges pointing to an entity
func (h *EdgesDBHandler) SelectEdgesToEntity(ctx context.Context, entityID int64, edgeType *model.EdgeType) ([]*model.Edge, error) {
	return h.queryEdges(ctx, `SELECT * FROM select_edges_to_entity($1, $2)`, entityID, edgeTypeParam(edgeType))
}

// UpdateEdgeWeight updates the weight of an edge
func (h *EdgesDBHandler) UpdateEdgeWeight(ctx context.Context, id int64, weight float64) error {
	_, err := h.db.Instance.ExecContext(ctx, `SELECT update_edge_weight($1, $2)`, id, weight)
	if err != nil {
		return helper.NewError("exec", err)
	}
	return nil
}

// DeleteEdge deletes an edge by ID
func (h *EdgesDBHandler) DeleteEdge(ctx context.Context, id int64) error {
	_, err := h.db.Instance.ExecContext(ctx, `SELECT delete_edge($1)`, id)
	if err != nil {
		return helper.NewError("exec", err)
	}
	return nil
}

// RelinkEntity re-points every edge of the absorbed entity to the survivor.
// Edges between the two are dropped. Merges of the store do this themselves,
// it repairs edges written after a merge.
func (h *EdgesDBHandler) RelinkEntity(ctx context.Context, absorbedID int64, survivingID int64) error {
	var moved int
	err := h.db.Instance.QueryRowContext(
		ctx,
		`SELECT relink_entity_edges($1, $2)`,
		absorbedID,
		survivingID,
	).Scan(&moved)
	if err != nil {
		return helper.NewError("relink edges", err)
	}

	if moved > 0 {
		h.db.Logger.Debug("Relinked edges", "absorbed_id", absorbedID, "surviving_id", survivingID, "moved", moved)
	}

	return nil
}

func (h *EdgesDBHandler) queryEdges(ctx context.Context, query string, args ...interface{}) ([]*model.Edge, error) {
	rows, err := h.db.Instance.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, helper.NewError("query", err)
	}
	defer rows.Close()

	var edges []*model.Edge
	for rows.Next() {
		edge := &model.Edge{}
		err := scanEdge(rows, edge)
		if err != nil {
			return nil, helper.NewError("scan", err)
		}
		edges = append(edges, edge)
	}

	err = rows.Err()
	if err != nil {
		return nil, helper.NewError("rows error", err)
	}

	return edges, nil
}

func scanEdge(row scanner, edge *model.Edge) error {
	var edgeType string
	err := row.Scan(
		&edge.ID,
		&edge.SourceEntityID,
		&edge.TargetEntityID,
		&edgeType,
		&edge.Weight,
		&edge.Metadata,
		&edge.CreatedAt,
	)
	if err != nil {
		return err
	}
	edge.EdgeType = model.EdgeType(edgeType)
	return nil
}

func edgeTypeParam(edgeType *model.EdgeType) interface{} {
	if edgeType == nil {
		return nil
	}
	return string(*edgeType)
}
