// Package verify judges whether a mention refers to a candidate entity.
package verify

import (
	"context"
	"fmt"
	"strings"

	"github.com/siherrmann/resolver/model"
)

// Verdict is the outcome of one verification.
type Verdict string

const (
	VerdictAccept    Verdict = "accept"
	VerdictReject    Verdict = "reject"
	VerdictUncertain Verdict = "uncertain"
)

// ParseVerdict maps a free-form decision label to a Verdict.
func ParseVerdict(s string) (Verdict, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "accept", "accepted", "match", "same", "yes":
		return VerdictAccept, nil
	case "reject", "rejected", "different", "no":
		return VerdictReject, nil
	case "uncertain", "unsure", "unknown":
		return VerdictUncertain, nil
	}
	return "", fmt.Errorf("unknown verdict %q", s)
}

// Request is the mention and the stored entity to compare.
type Request struct {
	Name        string
	ContextText string
	Type        model.EntityType
	Candidate   *model.Entity
}

// Judgment is a verdict with its confidence in [0,1].
type Judgment struct {
	Verdict    Verdict `json:"decision"`
	Confidence float64 `json:"confidence"`
	Reason     string  `json:"reason,omitempty"`
}

// Accepted reports whether the judgment accepts the candidate with at least floor confidence.
func (j Judgment) Accepted(floor float64) bool {
	return j.Verdict == VerdictAccept && j.Confidence >= floor
}

// Verifier compares a mention's context against a candidate's description and attributes.
type Verifier interface {
	Verify(ctx context.Context, req Request) (Judgment, error)
}

// VerifierFunc adapts a function to Verifier.
type VerifierFunc func(ctx context.Context, req Request) (Judgment, error)

// Verify calls f.
func (f VerifierFunc) Verify(ctx context.Context, req Request) (Judgment, error) {
	return f(ctx, req)
}

func clamp(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
