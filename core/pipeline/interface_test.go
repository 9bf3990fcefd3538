package pipeline

import (
	"errors"
	"strings"
	"testing"

	"github.com/siherrmann/resolver/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Mock RecognizeFunc tagging a fixed set of names
func mockRecognizer(labels map[string]string) RecognizeFunc {
	return func(text string) ([]Span, error) {
		var spans []Span
		for name, label := range labels {
			if idx := strings.Index(text, name); idx >= 0 {
				spans = append(spans, Span{Text: name, Label: label, Start: idx, End: idx + len(name), Score: 0.9})
			}
		}
		return spans, nil
	}
}

func TestPipelineExtract(t *testing.T) {
	t.Run("Extracts typed mentions with context and position", func(t *testing.T) {
		p := NewPipeline(SentenceSplitter(), mockRecognizer(map[string]string{
			"Richard": "PER",
			"England": "LOC",
			"Acme":    "ORG",
		}))

		text := "The crusade began. Richard left England. Acme was not involved."
		mentions, err := p.Extract("chronicle-1", text)
		require.NoError(t, err, "Expected extraction to succeed")
		require.Len(t, mentions, 2, "Expected organizations to be skipped")

		byName := map[string]model.MentionInput{}
		for _, m := range mentions {
			byName[m.RawName] = m
		}

		richard := byName["Richard"]
		assert.Equal(t, model.EntityTypePerson, richard.Type, "Expected PER to map to person")
		assert.Equal(t, "chronicle-1", richard.SourceID, "Expected source id")
		assert.Equal(t, strings.Index(text, "Richard"), richard.Position, "Expected byte offset into the text")
		assert.Equal(t, text, richard.ContextText, "Expected neighbouring sentences in the context")

		assert.Equal(t, model.EntityTypeLocation, byName["England"].Type, "Expected LOC to map to location")
	})

	t.Run("Context window zero keeps only the sentence", func(t *testing.T) {
		p := NewPipeline(SentenceSplitter(), mockRecognizer(map[string]string{"Richard": "PER"}))
		p.ContextWindow = 0

		mentions, err := p.Extract("s", "First. Richard rode. Last.")
		require.NoError(t, err, "Expected extraction to succeed")
		require.Len(t, mentions, 1, "Expected one mention")
		assert.Equal(t, "Richard rode.", mentions[0].ContextText, "Expected only the own sentence")
	})

	t.Run("Drops low score spans", func(t *testing.T) {
		p := NewPipeline(SentenceSplitter(), func(text string) ([]Span, error) {
			return []Span{{Text: "Richard", Label: "PER", Score: 0.2}}, nil
		})
		p.MinScore = 0.5

		mentions, err := p.Extract("s", "Richard rode.")
		require.NoError(t, err, "Expected extraction to succeed")
		assert.Empty(t, mentions, "Expected the low score span to be dropped")
	})

	t.Run("Recognizer error is returned", func(t *testing.T) {
		p := NewPipeline(SentenceSplitter(), func(text string) ([]Span, error) {
			return nil, errors.New("ner failed")
		})

		_, err := p.Extract("s", "Richard rode.")
		assert.Error(t, err, "Expected the recognizer error")
	})

	t.Run("Missing recognizer is an error", func(t *testing.T) {
		p := NewPipeline(SentenceSplitter(), nil)
		_, err := p.Extract("s", "text")
		assert.Error(t, err, "Expected error without recognizer")
	})
}

func TestLocate(t *testing.T) {
	t.Run("Uses matching offsets", func(t *testing.T) {
		assert.Equal(t, 4, locate("Sir Richard", Span{Text: "Richard", Start: 4, End: 11}), "Expected the given offset")
	})

	t.Run("Searches when offsets are off", func(t *testing.T) {
		assert.Equal(t, 4, locate("Sir Richard", Span{Text: "Richard", Start: 0, End: 3}), "Expected the searched offset")
	})
}
