package pipeline

import (
	"testing"

	"github.com/siherrmann/resolver/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultMentionExtractor(t *testing.T) {
	// Note: DefaultMentionExtractor uses hugot which requires downloading the distilbert-NER model
	t.Run("Extract mentions from text", func(t *testing.T) {
		if testing.Short() {
			t.Skip("Skipping DefaultMentionExtractor test in short mode (requires model download)")
		}

		extractor, err := DefaultMentionExtractor()
		require.NoError(t, err, "Expected extractor to be created")

		mentions, err := extractor("doc-1", "My name is Wolfgang and I live in Berlin.")
		require.NoError(t, err, "Expected extraction to succeed")

		types := map[model.EntityType]bool{}
		for _, m := range mentions {
			t.Logf("  - %s (%s) at %d", m.RawName, m.Type, m.Position)
			types[m.Type] = true
			assert.Equal(t, "doc-1", m.SourceID, "Expected source id on every mention")
		}
		assert.True(t, types[model.EntityTypeLocation], "Expected Berlin to be found as location")
	})

	t.Run("Handle empty text", func(t *testing.T) {
		if testing.Short() {
			t.Skip("Skipping DefaultMentionExtractor test in short mode (requires model download)")
		}

		extractor, err := DefaultMentionExtractor()
		require.NoError(t, err, "Expected extractor to be created")

		mentions, err := extractor("doc-1", "")
		assert.NoError(t, err, "Expected no error for empty text")
		assert.Empty(t, mentions, "Expected no mentions for empty text")
	})
}

func TestNormalizeEntityType(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"B-PER", "PER"},
		{"I-PER", "PER"},
		{"B-LOC", "LOC"},
		{"I-LOC", "LOC"},
		{"B-ORG", "ORG"},
		{"I-ORG", "ORG"},
		{"MISC", "MISC"},
		{"O", "O"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			result := normalizeEntityType(tt.input)
			assert.Equal(t, tt.expected, result, "Expected BIO prefix to be removed")
		})
	}
}
