package model

import "time"

// ReviewItem keeps everything a reviewer needs for a pending_review entity.
// There is at most one open item per entity.
type ReviewItem struct {
	ID                  int64      `json:"id"`
	EntityID            int64      `json:"entity_id"`
	MentionID           *int64     `json:"mention_id,omitempty"`
	ProposedEntityID    *int64     `json:"proposed_entity_id,omitempty"`
	ProposedCanonicalID *string    `json:"proposed_canonical_id,omitempty"`
	Confidence          float64    `json:"confidence"`
	Stage               string     `json:"stage"`
	RawText             string     `json:"raw_text"`
	ContextText         string     `json:"context_text"`
	Decision            string     `json:"decision,omitempty"`
	Reviewer            string     `json:"reviewer,omitempty"`
	CreatedAt           time.Time  `json:"created_at"`
	ResolvedAt          *time.Time `json:"resolved_at,omitempty"`

	// Entity is filled when listing the queue.
	Entity *Entity `json:"entity,omitempty"`
}

// Open reports whether the item still waits for a decision.
func (r *ReviewItem) Open() bool {
	return r.ResolvedAt == nil
}

// ReviewDecision is a reviewer's verdict on a pending entity.
type ReviewDecision struct {
	Accept bool `json:"accept"`
	// CanonicalID overrides the proposed canonical id when accepting.
	CanonicalID string `json:"canonical_id,omitempty"`
	Reviewer    string `json:"reviewer,omitempty"`
}

// Label returns the decision as stored on the review item.
func (d ReviewDecision) Label() string {
	if d.Accept {
		return "accepted"
	}
	return "rejected"
}
