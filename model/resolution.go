package model

// Stage names recorded on resolutions and mentions.
const (
	StageExactName  = "exact_name"
	StageAlias      = "alias"
	StageCanonical  = "canonical_id"
	StageSimilarity = "similarity"
	StageCreated    = "created"
)

// Resolution is the outcome of resolving one mention.
type Resolution struct {
	Input      MentionInput       `json:"input"`
	EntityID   int64              `json:"entity_id,omitempty"`
	MentionID  int64              `json:"mention_id,omitempty"`
	Stage      string             `json:"stage,omitempty"`
	Status     VerificationStatus `json:"status,omitempty"`
	Confidence float64            `json:"confidence"`
	Created    bool               `json:"created,omitempty"`
	Promoted   bool               `json:"promoted,omitempty"`
	Replayed   bool               `json:"replayed,omitempty"`
	Merges     []MergeOperation   `json:"merges,omitempty"`
	Err        error              `json:"-"`
}

// BatchResult aggregates the resolutions of one batch in input order.
type BatchResult struct {
	Resolutions []*Resolution `json:"resolutions"`
	Processed   int           `json:"processed"`
	Failed      int           `json:"failed"`
	Invalid     int           `json:"invalid"`
	Cancelled   int           `json:"cancelled"`
}
