package model

import "time"

// MergeReason names why entities were merged.
type MergeReason string

const (
	MergeReasonCanonicalCollision MergeReason = "canonical_id_collision"
	MergeReasonPromotion          MergeReason = "promotion"
	MergeReasonReviewer           MergeReason = "reviewer"
	// The entity was created for a mention another worker recorded first
	MergeReasonDuplicateMention MergeReason = "duplicate_mention"
)

// MergeOperation is the append-only record of one absorbed entity.
type MergeOperation struct {
	ID          int64       `json:"id"`
	SurvivingID int64       `json:"surviving_id"`
	AbsorbedID  int64       `json:"absorbed_id"`
	CanonicalID *string     `json:"canonical_id,omitempty"`
	Reason      MergeReason `json:"reason"`
	CreatedAt   time.Time   `json:"created_at"`
}
