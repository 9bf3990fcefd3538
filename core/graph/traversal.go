// Package graph walks the relationships between resolved entities.
package graph

import (
	"context"

	"github.com/siherrmann/resolver/model"
)

// GraphDB defines the reads a traversal needs.
type GraphDB interface {
	SelectEntity(ctx context.Context, id int64) (*model.Entity, error)
	SelectEdgesFromEntity(ctx context.Context, entityID int64, edgeType *model.EdgeType) ([]*model.Edge, error)
	SelectEdgesToEntity(ctx context.Context, entityID int64, edgeType *model.EdgeType) ([]*model.Edge, error)
}

// TraversalResult contains an entity and its distance from the source
type TraversalResult struct {
	Entity   *model.Entity
	Distance int
	Path     []int64 // Entity ids from source to this entity
	// Via is the edge the entity was reached through, nil for the source.
	Via *model.Edge
}

// step is an edge leaving the current entity and the entity on its other end.
type step struct {
	edge     *model.Edge
	targetID int64
}

// steps returns the edges leaving id, incoming ones too when followIncoming is set.
// An empty edgeTypes follows every type.
func steps(ctx context.Context, db GraphDB, id int64, edgeTypes []model.EdgeType, followIncoming bool) ([]step, error) {
	allowed := make(map[model.EdgeType]bool, len(edgeTypes))
	for _, t := range edgeTypes {
		allowed[t] = true
	}

	outgoing, err := db.SelectEdgesFromEntity(ctx, id, nil)
	if err != nil {
		return nil, err
	}
	var result []step
	for _, edge := range outgoing {
		if len(allowed) == 0 || allowed[edge.EdgeType] {
			result = append(result, step{edge: edge, targetID: edge.TargetEntityID})
		}
	}

	if !followIncoming {
		return result, nil
	}
	incoming, err := db.SelectEdgesToEntity(ctx, id, nil)
	if err != nil {
		return nil, err
	}
	for _, edge := range incoming {
		if len(allowed) == 0 || allowed[edge.EdgeType] {
			result = append(result, step{edge: edge, targetID: edge.SourceEntityID})
		}
	}
	return result, nil
}

// BFS performs breadth-first search from a source entity
func BFS(ctx context.Context, db GraphDB, sourceID int64, maxHops int, edgeTypes []model.EdgeType, followIncoming bool) ([]*TraversalResult, error) {
	source, err := db.SelectEntity(ctx, sourceID)
	if err != nil {
		return nil, err
	}

	visited := map[int64]bool{sourceID: true}
	queue := []*TraversalResult{{Entity: source, Path: []int64{sourceID}}}
	var results []*TraversalResult

	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		results = append(results, current)

		if current.Distance >= maxHops {
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		next, err := steps(ctx, db, current.Entity.ID, edgeTypes, followIncoming)
		if err != nil {
			return nil, err
		}
		for _, s := range next {
			if visited[s.targetID] {
				continue
			}

			target, err := db.SelectEntity(ctx, s.targetID)
			if err != nil {
				continue // Skip dangling edges
			}
			visited[s.targetID] = true

			path := make([]int64, len(current.Path), len(current.Path)+1)
			copy(path, current.Path)
			queue = append(queue, &TraversalResult{
				Entity:   target,
				Distance: current.Distance + 1,
				Path:     append(path, s.targetID),
				Via:      s.edge,
			})
		}
	}

	return results, nil
}

// DFS performs depth-first search from a source entity
func DFS(ctx context.Context, db GraphDB, sourceID int64, maxHops int, edgeTypes []model.EdgeType, followIncoming bool) ([]*TraversalResult, error) {
	source, err := db.SelectEntity(ctx, sourceID)
	if err != nil {
		return nil, err
	}

	visited := make(map[int64]bool)
	var results []*TraversalResult
	err = dfs(ctx, db, &TraversalResult{Entity: source, Path: []int64{sourceID}}, maxHops, edgeTypes, followIncoming, visited, &results)
	if err != nil {
		return nil, err
	}
	return results, nil
}

func dfs(
	ctx context.Context,
	db GraphDB,
	current *TraversalResult,
	maxHops int,
	edgeTypes []model.EdgeType,
	followIncoming bool,
	visited map[int64]bool,
	results *[]*TraversalResult,
) error {
	visited[current.Entity.ID] = true
	*results = append(*results, current)

	if current.Distance >= maxHops {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	next, err := steps(ctx, db, current.Entity.ID, edgeTypes, followIncoming)
	if err != nil {
		return err
	}
	for _, s := range next {
		if visited[s.targetID] {
			continue
		}
		target, err := db.SelectEntity(ctx, s.targetID)
		if err != nil {
			continue
		}

		path := make([]int64, len(current.Path), len(current.Path)+1)
		copy(path, current.Path)
		child := &TraversalResult{
			Entity:   target,
			Distance: current.Distance + 1,
			Path:     append(path, s.targetID),
			Via:      s.edge,
		}
		if err := dfs(ctx, db, child, maxHops, edgeTypes, followIncoming, visited, results); err != nil {
			return err
		}
	}
	return nil
}

// Neighbors returns the entities one hop away.
func Neighbors(ctx context.Context, db GraphDB, entityID int64, edgeTypes []model.EdgeType, followIncoming bool) ([]*model.Entity, error) {
	results, err := BFS(ctx, db, entityID, 1, edgeTypes, followIncoming)
	if err != nil {
		return nil, err
	}

	neighbors := make([]*model.Entity, 0, len(results)-1)
	for _, r := range results[1:] {
		neighbors = append(neighbors, r.Entity)
	}
	return neighbors, nil
}
