package model

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// ResolverConfig holds the thresholds and limits of the matching cascade.
type ResolverConfig struct {
	// Stage confidences
	ExactNameConfidence float64 `json:"exact_name_confidence" yaml:"exact_name_confidence"`
	AliasConfidence     float64 `json:"alias_confidence" yaml:"alias_confidence"`
	CanonicalConfidence float64 `json:"canonical_confidence" yaml:"canonical_confidence"`
	SimilarityCap       float64 `json:"similarity_cap" yaml:"similarity_cap"` // Upper bound for similarity matches

	// Decision policy
	VerifiedThreshold float64 `json:"verified_threshold" yaml:"verified_threshold"`
	ReviewThreshold   float64 `json:"review_threshold" yaml:"review_threshold"`

	// Similarity search
	SimilarityTopK      int     `json:"similarity_top_k" yaml:"similarity_top_k"`
	SimilarityFloor     float64 `json:"similarity_floor" yaml:"similarity_floor"`
	VerifierAcceptFloor float64 `json:"verifier_accept_floor" yaml:"verifier_accept_floor"`

	// Knowledge base
	KBDefaultScore float64 `json:"kb_default_score" yaml:"kb_default_score"` // Used when a candidate carries no score

	// Alias learning
	MinLearnedAliasTokens int `json:"min_learned_alias_tokens" yaml:"min_learned_alias_tokens"`

	// Batch processing
	Workers int `json:"workers" yaml:"workers"`
}

// DefaultResolverConfig returns the default thresholds.
func DefaultResolverConfig() ResolverConfig {
	return ResolverConfig{
		ExactNameConfidence:   1.0,
		AliasConfidence:       0.95,
		CanonicalConfidence:   0.98,
		SimilarityCap:         0.9,
		VerifiedThreshold:     0.8,
		ReviewThreshold:       0.5,
		SimilarityTopK:        5,
		SimilarityFloor:       0.85,
		VerifierAcceptFloor:   0.6,
		KBDefaultScore:        0.85,
		MinLearnedAliasTokens: 2,
		Workers:               8,
	}
}

// Validate checks ranges and the ordering between stage confidences.
func (c ResolverConfig) Validate() error {
	unit := map[string]float64{
		"exact_name_confidence": c.ExactNameConfidence,
		"alias_confidence":      c.AliasConfidence,
		"canonical_confidence":  c.CanonicalConfidence,
		"similarity_cap":        c.SimilarityCap,
		"verified_threshold":    c.VerifiedThreshold,
		"review_threshold":      c.ReviewThreshold,
		"similarity_floor":      c.SimilarityFloor,
		"verifier_accept_floor": c.VerifierAcceptFloor,
		"kb_default_score":      c.KBDefaultScore,
	}
	for name, v := range unit {
		if v < 0 || v > 1 {
			return fmt.Errorf("%s must be in [0,1], got %v", name, v)
		}
	}
	if c.ReviewThreshold > c.VerifiedThreshold {
		return fmt.Errorf("review_threshold (%v) must not exceed verified_threshold (%v)", c.ReviewThreshold, c.VerifiedThreshold)
	}
	if c.AliasConfidence > c.ExactNameConfidence {
		return fmt.Errorf("alias_confidence (%v) must not exceed exact_name_confidence (%v)", c.AliasConfidence, c.ExactNameConfidence)
	}
	if c.SimilarityCap >= c.AliasConfidence || c.SimilarityCap >= c.CanonicalConfidence {
		return fmt.Errorf("similarity_cap (%v) must stay below the alias and canonical confidences", c.SimilarityCap)
	}
	if c.SimilarityTopK <= 0 {
		return fmt.Errorf("similarity_top_k must be positive, got %d", c.SimilarityTopK)
	}
	if c.MinLearnedAliasTokens < 1 {
		return fmt.Errorf("min_learned_alias_tokens must be at least 1, got %d", c.MinLearnedAliasTokens)
	}
	if c.Workers <= 0 {
		return fmt.Errorf("workers must be positive, got %d", c.Workers)
	}
	return nil
}

// LoadResolverConfig reads a YAML file on top of DefaultResolverConfig.
// Keys missing from the file keep their default.
func LoadResolverConfig(path string) (ResolverConfig, error) {
	config := DefaultResolverConfig()

	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return config, fmt.Errorf("read resolver config: %w", err)
	}
	if err := yaml.Unmarshal(data, &config); err != nil {
		return config, fmt.Errorf("parse resolver config: %w", err)
	}
	if err := config.Validate(); err != nil {
		return config, fmt.Errorf("invalid resolver config: %w", err)
	}
	return config, nil
}
