package model

import (
	"fmt"
	"strings"
	"time"
)

// MentionInput is one extracted occurrence of a name, before resolution.
type MentionInput struct {
	RawName     string     `json:"raw_name"`
	ContextText string     `json:"context_text"`
	Type        EntityType `json:"entity_type"`
	SourceID    string     `json:"source_id"`
	Position    int        `json:"position"`
}

// Key returns the natural key of the mention.
func (m MentionInput) Key() MentionKey {
	return MentionKey{SourceID: m.SourceID, Position: m.Position, RawText: m.RawName}
}

// Validate checks the fields the resolver cannot work without.
func (m MentionInput) Validate() error {
	if strings.TrimSpace(m.RawName) == "" {
		return fmt.Errorf("raw name is empty")
	}
	if !m.Type.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownEntityType, m.Type)
	}
	if m.Position < 0 {
		return fmt.Errorf("position %d is negative", m.Position)
	}
	return nil
}

// MentionKey identifies a mention across replays.
type MentionKey struct {
	SourceID string
	Position int
	RawText  string
}

// String returns the key in a form usable as a lock key.
func (k MentionKey) String() string {
	return fmt.Sprintf("mention:%s:%d:%s", k.SourceID, k.Position, k.RawText)
}

// Mention is a resolved occurrence stored with the entity it refers to.
type Mention struct {
	ID          int64     `json:"id"`
	EntityID    int64     `json:"entity_id"`
	SourceID    string    `json:"source_id"`
	RawText     string    `json:"raw_text"`
	ContextText string    `json:"context_text"`
	Position    int       `json:"position"`
	Stage       string    `json:"stage"`
	Confidence  float64   `json:"confidence"`
	CreatedAt   time.Time `json:"created_at"`
}

// Key returns the natural key of the stored mention.
func (m *Mention) Key() MentionKey {
	return MentionKey{SourceID: m.SourceID, Position: m.Position, RawText: m.RawText}
}
