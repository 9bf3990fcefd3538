package pipeline

import (
	"fmt"
	"strings"

	"github.com/knights-analytics/hugot"
	"github.com/knights-analytics/hugot/pipelines"
	"github.com/siherrmann/resolver/helper"
)

// DefaultRecognizer creates a recognizer using a NER model
// Uses distilbert-NER for named entity recognition
// Detects: PER, ORG, LOC, MISC entities
func DefaultRecognizer() (RecognizeFunc, error) {
	// Using KnightsAnalytics optimized distilbert-NER model
	modelName := "KnightsAnalytics/distilbert-NER"

	// Prepare model (download if needed)
	modelPath, err := helper.PrepareModel(modelName, "model.onnx")
	if err != nil {
		return nil, err
	}

	// Initialize hugot session with Go backend
	session, err := hugot.NewGoSession()
	if err != nil {
		return nil, fmt.Errorf("failed to create hugot session: %w", err)
	}

	// Create token classification pipeline configuration
	config := hugot.TokenClassificationConfig{
		ModelPath: modelPath,
		Name:      "ner-pipeline",
		Options: []hugot.TokenClassificationOption{
			pipelines.WithSimpleAggregation(),
			pipelines.WithIgnoreLabels([]string{"O"}),
		},
	}
	nerPipeline, err := hugot.NewPipeline(session, config)
	if err != nil {
		if destroyErr := session.Destroy(); destroyErr != nil {
			return nil, fmt.Errorf("failed to create NER pipeline: %w (cleanup error: %v)", err, destroyErr)
		}
		return nil, fmt.Errorf("failed to create NER pipeline: %w", err)
	}

	return func(text string) ([]Span, error) {
		if strings.TrimSpace(text) == "" {
			return nil, nil
		}

		// Run NER on the text
		result, err := nerPipeline.RunPipeline([]string{text})
		if err != nil {
			return nil, fmt.Errorf("failed to run NER: %w", err)
		}

		if len(result.Entities) == 0 {
			return nil, nil
		}

		// Convert the entities of the first (and only) text to spans
		spans := make([]Span, 0, len(result.Entities[0]))
		for _, entity := range result.Entities[0] {
			spans = append(spans, Span{
				Text:  strings.TrimSpace(entity.Word),
				Label: normalizeEntityType(entity.Entity),
				Start: int(entity.Start),
				End:   int(entity.End),
				Score: entity.Score,
			})
		}

		return spans, nil
	}, nil
}

// DefaultMentionExtractor creates an extractor splitting text into sentences and
// running the default NER model over each of them
func DefaultMentionExtractor() (ExtractFunc, error) {
	recognizer, err := DefaultRecognizer()
	if err != nil {
		return nil, err
	}

	p := NewPipeline(SentenceSplitter(), recognizer)
	p.MinScore = 0.5
	return p.Extract, nil
}

// normalizeEntityType removes B- and I- prefixes from NER labels
func normalizeEntityType(label string) string {
	if strings.HasPrefix(label, "B-") {
		return label[2:]
	}
	if strings.HasPrefix(label, "I-") {
		return label[2:]
	}
	return label
}
