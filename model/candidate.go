package model

// Candidate is one knowledge base hit for a name.
type Candidate struct {
	CanonicalID string   `json:"canonical_id"`
	Label       string   `json:"label"`
	Description string   `json:"description,omitempty"`
	Aliases     []string `json:"aliases,omitempty"`
	Attributes  Metadata `json:"attributes,omitempty"`
	// Score is the collaborator's confidence in [0,1], zero when it gives none.
	Score float64 `json:"score,omitempty"`
}
