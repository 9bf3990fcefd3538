package model

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// EntityType is the kind of real-world thing an entity stands for.
type EntityType string

const (
	EntityTypePerson   EntityType = "person"
	EntityTypeLocation EntityType = "location"
	EntityTypeEvent    EntityType = "event"
)

// EntityTypes lists every supported entity type.
var EntityTypes = []EntityType{EntityTypePerson, EntityTypeLocation, EntityTypeEvent}

// ErrUnknownEntityType is returned for types outside EntityTypes.
var ErrUnknownEntityType = errors.New("unknown entity type")

// ParseEntityType maps a free-form label (also NER labels like PER or LOC) to an EntityType.
func ParseEntityType(s string) (EntityType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "person", "per", "people":
		return EntityTypePerson, nil
	case "location", "loc", "place", "gpe":
		return EntityTypeLocation, nil
	case "event", "evt":
		return EntityTypeEvent, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownEntityType, s)
}

// Valid reports whether t is one of EntityTypes.
func (t EntityType) Valid() bool {
	for _, et := range EntityTypes {
		if et == t {
			return true
		}
	}
	return false
}

// VerificationStatus is the review state of an entity.
type VerificationStatus string

const (
	StatusVerified      VerificationStatus = "verified"
	StatusPendingReview VerificationStatus = "pending_review"
	StatusUnverified    VerificationStatus = "unverified"
)

// Entity is the canonical internal record of one real-world person, place or event.
type Entity struct {
	ID                 int64              `json:"id"`
	RID                uuid.UUID          `json:"rid"`
	Type               EntityType         `json:"entity_type"`
	CanonicalID        *string            `json:"canonical_id,omitempty"`
	DisplayName        string             `json:"display_name"`
	NormalizedName     string             `json:"normalized_name"`
	Description        string             `json:"description,omitempty"`
	Attributes         Metadata           `json:"attributes,omitempty"`
	VerificationStatus VerificationStatus `json:"verification_status"`
	Confidence         float64            `json:"confidence"`
	MentionCount       int                `json:"mention_count"`
	Embedding          []float32          `json:"embedding,omitempty"`
	CreatedAt          time.Time          `json:"created_at"`
	UpdatedAt          time.Time          `json:"updated_at"`

	// Similarity is only set on entities returned by a vector search.
	Similarity float64 `json:"similarity,omitempty"`
}

// HasCanonicalID reports whether the entity is bound to an external identifier.
func (e *Entity) HasCanonicalID() bool {
	return e.CanonicalID != nil && *e.CanonicalID != ""
}

// CanonicalIDValue returns the canonical id or an empty string.
func (e *Entity) CanonicalIDValue() string {
	if e.CanonicalID == nil {
		return ""
	}
	return *e.CanonicalID
}

// PopulatedAttributes counts attributes with a non-empty value.
func (e *Entity) PopulatedAttributes() int {
	n := 0
	for _, v := range e.Attributes {
		switch val := v.(type) {
		case nil:
		case string:
			if val != "" {
				n++
			}
		default:
			n++
		}
	}
	return n
}

// Clone returns a deep enough copy for callers that mutate the result.
func (e *Entity) Clone() *Entity {
	c := *e
	if e.CanonicalID != nil {
		id := *e.CanonicalID
		c.CanonicalID = &id
	}
	if e.Attributes != nil {
		c.Attributes = make(Metadata, len(e.Attributes))
		for k, v := range e.Attributes {
			c.Attributes[k] = v
		}
	}
	if e.Embedding != nil {
		c.Embedding = append([]float32(nil), e.Embedding...)
	}
	return &c
}

// StringPtr returns a pointer to s.
func StringPtr(s string) *string {
	return &s
}
