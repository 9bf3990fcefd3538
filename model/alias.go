package model

import "time"

// AliasSource tells where an alias came from.
type AliasSource string

const (
	AliasSourceExternalKB AliasSource = "external_kb"
	AliasSourceLearned    AliasSource = "learned"
	AliasSourceManual     AliasSource = "manual"
)

// Alias is an alternate surface form of an entity.
// (EntityID, NormalizedText) is unique.
type Alias struct {
	ID             int64       `json:"id"`
	EntityID       int64       `json:"entity_id"`
	Text           string      `json:"text"`
	NormalizedText string      `json:"normalized_text"`
	Source         AliasSource `json:"source"`
	Confidence     float64     `json:"confidence"`
	CreatedAt      time.Time   `json:"created_at"`
}

// IndexEntry is one display name or alias used to warm the alias index.
type IndexEntry struct {
	EntityID       int64      `json:"entity_id"`
	Type           EntityType `json:"entity_type"`
	NormalizedText string     `json:"normalized_text"`
	IsAlias        bool       `json:"is_alias"`
}
