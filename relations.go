package resolver

import (
	"context"
	"fmt"

	"github.com/siherrmann/resolver/core/graph"
	"github.com/siherrmann/resolver/database"
	"github.com/siherrmann/resolver/helper"
	"github.com/siherrmann/resolver/model"
)

// ErrNoRelationships is returned by the relationship methods when the store keeps no edges.
var ErrNoRelationships = fmt.Errorf("store keeps no entity relationships")

// relationStore is the edge table next to the entity store.
type relationStore interface {
	graph.GraphDB
	InsertEdge(ctx context.Context, edge *model.Edge) error
}

// entityGraph reads entities from the store and edges from their handler.
type entityGraph struct {
	database.Store
	*database.EdgesDBHandler
}

// Relate stores a relationship between two entities. Both sides must exist
// and must not have been absorbed, a merge keeps relationships on the survivor.
func (r *Resolver) Relate(ctx context.Context, edge *model.Edge) error {
	if r.relations == nil {
		return ErrNoRelationships
	}
	if edge == nil || edge.SourceEntityID == edge.TargetEntityID {
		return helper.NewError("edge validation", fmt.Errorf("edge must connect two different entities"))
	}
	for _, id := range []int64{edge.SourceEntityID, edge.TargetEntityID} {
		if _, err := r.Store.SelectEntity(ctx, id); err != nil {
			return helper.NewError(fmt.Sprintf("select entity %d", id), err)
		}
	}
	if edge.EdgeType == "" {
		edge.EdgeType = model.EdgeTypeRelatedTo
	}
	return r.relations.InsertEdge(ctx, edge)
}

// Related walks the relationships of an entity breadth first up to maxHops,
// in both directions. The entity itself is the first result.
func (r *Resolver) Related(ctx context.Context, entityID int64, maxHops int, edgeTypes ...model.EdgeType) ([]*graph.TraversalResult, error) {
	if r.relations == nil {
		return nil, ErrNoRelationships
	}
	return graph.BFS(ctx, r.relations, entityID, maxHops, edgeTypes, true)
}
