package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseEntityType(t *testing.T) {
	t.Run("Map NER labels to entity types", func(t *testing.T) {
		for label, expected := range map[string]EntityType{
			"PER":     EntityTypePerson,
			"person":  EntityTypePerson,
			"LOC":     EntityTypeLocation,
			" place ": EntityTypeLocation,
			"Event":   EntityTypeEvent,
		} {
			et, err := ParseEntityType(label)
			require.NoError(t, err, "Expected label %q to parse", label)
			assert.Equal(t, expected, et, "Expected label %q to map correctly", label)
		}
	})

	t.Run("Reject unknown labels", func(t *testing.T) {
		_, err := ParseEntityType("ORG")
		assert.ErrorIs(t, err, ErrUnknownEntityType, "Expected ORG to be unsupported")
	})
}

func TestEntityHelpers(t *testing.T) {
	t.Run("Count populated attributes", func(t *testing.T) {
		e := &Entity{Attributes: Metadata{"born": "1769", "died": "", "title": nil, "rank": 1}}
		assert.Equal(t, 2, e.PopulatedAttributes(), "Expected empty and nil values to be ignored")
	})

	t.Run("Clone does not share canonical id or attributes", func(t *testing.T) {
		e := &Entity{CanonicalID: StringPtr("Q517"), Attributes: Metadata{"born": "1769"}}
		c := e.Clone()
		*c.CanonicalID = "Q1"
		c.Attributes["born"] = "1770"

		assert.Equal(t, "Q517", e.CanonicalIDValue(), "Expected original canonical id to be untouched")
		assert.Equal(t, "1769", e.Attributes["born"], "Expected original attributes to be untouched")
	})

	t.Run("Empty canonical id counts as missing", func(t *testing.T) {
		assert.False(t, (&Entity{CanonicalID: StringPtr("")}).HasCanonicalID(), "Expected empty canonical id to be missing")
		assert.True(t, (&Entity{CanonicalID: StringPtr("Q517")}).HasCanonicalID(), "Expected canonical id to be present")
	})
}

func TestMentionInputValidate(t *testing.T) {
	t.Run("Accept a complete mention", func(t *testing.T) {
		m := MentionInput{RawName: "Napoleon", Type: EntityTypePerson, SourceID: "doc", Position: 3}
		assert.NoError(t, m.Validate(), "Expected mention to be valid")
	})

	t.Run("Reject empty name and unknown type", func(t *testing.T) {
		assert.Error(t, MentionInput{RawName: "  ", Type: EntityTypePerson}.Validate(), "Expected empty name to fail")
		assert.ErrorIs(t, MentionInput{RawName: "Apple", Type: "org"}.Validate(), ErrUnknownEntityType, "Expected unknown type to fail")
	})

	t.Run("Key combines source position and raw text", func(t *testing.T) {
		m := MentionInput{RawName: "Napoleon", SourceID: "doc", Position: 3}
		assert.Equal(t, "mention:doc:3:Napoleon", m.Key().String(), "Expected a stable key string")
	})
}
