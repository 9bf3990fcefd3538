package model

import "time"

// EdgeType is the kind of relationship between two entities.
type EdgeType string

const (
	EdgeTypeRelatedTo   EdgeType = "related_to"
	EdgeTypeParticipant EdgeType = "participant_in"
	EdgeTypeLocatedIn   EdgeType = "located_in"
	EdgeTypeFamily      EdgeType = "family"
	EdgeTypeCustom      EdgeType = "custom"
)

// Edge is a directed relationship between two entities, kept by collaborators
// and re-pointed when one of its entities is absorbed by a merge.
type Edge struct {
	ID             int64     `json:"id"`
	SourceEntityID int64     `json:"source_entity_id"`
	TargetEntityID int64     `json:"target_entity_id"`
	EdgeType       EdgeType  `json:"edge_type"`
	Weight         float64   `json:"weight"`
	Metadata       Metadata  `json:"metadata,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}
