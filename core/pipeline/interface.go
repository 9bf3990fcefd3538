package pipeline

import (
	"fmt"
	"strings"

	"github.com/siherrmann/resolver/model"
)

// EmbedFunc is a function that generates embeddings for text
type EmbedFunc func(text string) ([]float32, error)

// SplitFunc splits text into sentences with their offsets
type SplitFunc func(text string) []Sentence

// RecognizeFunc finds named entity spans in one sentence
// Span offsets are relative to the sentence
type RecognizeFunc func(text string) ([]Span, error)

// ExtractFunc turns the text of one source into mentions ready for resolution
type ExtractFunc func(sourceID string, text string) ([]model.MentionInput, error)

// Sentence is one sentence of a text with its byte offsets
type Sentence struct {
	Content string
	Start   int
	End     int
	Index   int
}

// Span is one named entity found by a recognizer
type Span struct {
	Text  string
	Label string // NER label without BIO prefix, e.g. PER or LOC
	Start int
	End   int
	Score float32
}

// Pipeline combines sentence splitting and entity recognition into mention extraction
type Pipeline struct {
	Splitter   SplitFunc
	Recognizer RecognizeFunc
	// ContextWindow is the number of neighbouring sentences kept on each side as mention context
	ContextWindow int
	// MinScore drops spans the recognizer is less sure about
	MinScore float32
}

// NewPipeline creates a new extraction pipeline
func NewPipeline(splitter SplitFunc, recognizer RecognizeFunc) *Pipeline {
	return &Pipeline{
		Splitter:      splitter,
		Recognizer:    recognizer,
		ContextWindow: 1,
	}
}

// Extract returns the mentions of text in reading order. Positions are byte offsets into text.
// Spans whose label maps to no supported entity type are skipped.
func (p *Pipeline) Extract(sourceID string, text string) ([]model.MentionInput, error) {
	if p.Splitter == nil || p.Recognizer == nil {
		return nil, fmt.Errorf("pipeline needs a splitter and a recognizer")
	}

	sentences := p.Splitter(text)
	var mentions []model.MentionInput

	for i, sentence := range sentences {
		spans, err := p.Recognizer(sentence.Content)
		if err != nil {
			return nil, fmt.Errorf("failed to recognize entities in sentence %d: %w", sentence.Index, err)
		}

		for _, span := range spans {
			if span.Score < p.MinScore {
				continue
			}
			entityType, err := model.ParseEntityType(span.Label)
			if err != nil {
				continue
			}
			name := strings.TrimSpace(span.Text)
			if name == "" {
				continue
			}

			mentions = append(mentions, model.MentionInput{
				RawName:     name,
				ContextText: p.contextFor(sentences, i),
				Type:        entityType,
				SourceID:    sourceID,
				Position:    sentence.Start + locate(sentence.Content, span),
			})
		}
	}

	return mentions, nil
}

func (p *Pipeline) contextFor(sentences []Sentence, i int) string {
	from := i - p.ContextWindow
	if from < 0 {
		from = 0
	}
	to := i + p.ContextWindow + 1
	if to > len(sentences) {
		to = len(sentences)
	}

	parts := make([]string, 0, to-from)
	for _, s := range sentences[from:to] {
		parts = append(parts, s.Content)
	}
	return strings.Join(parts, " ")
}

// locate returns the span offset inside the sentence, searching for the text
// when the recognizer offsets do not point at it.
func locate(sentence string, span Span) int {
	if span.Start >= 0 && span.End <= len(sentence) && span.Start < span.End &&
		strings.TrimSpace(sentence[span.Start:span.End]) == strings.TrimSpace(span.Text) {
		return span.Start
	}
	if idx := strings.Index(sentence, strings.TrimSpace(span.Text)); idx >= 0 {
		return idx
	}
	if span.Start >= 0 && span.Start <= len(sentence) {
		return span.Start
	}
	return 0
}
