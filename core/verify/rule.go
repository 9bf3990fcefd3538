package verify

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/siherrmann/resolver/core/normalize"
)

var stopwords = map[string]struct{}{
	"a": {}, "an": {}, "and": {}, "are": {}, "as": {}, "at": {}, "be": {}, "by": {}, "for": {},
	"from": {}, "had": {}, "has": {}, "have": {}, "he": {}, "her": {}, "his": {}, "in": {}, "is": {},
	"it": {}, "its": {}, "of": {}, "on": {}, "or": {}, "she": {}, "that": {}, "the": {}, "their": {},
	"they": {}, "this": {}, "to": {}, "was": {}, "were": {}, "which": {}, "who": {}, "with": {},
}

// RuleVerifier judges candidates by the overlap of content words between the mention
// context and the candidate's name, description and attributes. It is deterministic.
type RuleVerifier struct {
	// AcceptOverlap is the minimum share of shared content words to accept.
	AcceptOverlap float64
	// RejectOverlap is the share below which a candidate with evidence is rejected.
	RejectOverlap float64
	// MinTokenLength drops shorter words from the comparison.
	MinTokenLength int
}

var _ Verifier = (*RuleVerifier)(nil)

// NewRuleVerifier returns a verifier with the default overlap thresholds.
func NewRuleVerifier() *RuleVerifier {
	return &RuleVerifier{
		AcceptOverlap:  0.2,
		RejectOverlap:  0.05,
		MinTokenLength: 3,
	}
}

// Verify compares content words. Candidates without a shared name token are rejected.
func (v *RuleVerifier) Verify(ctx context.Context, req Request) (Judgment, error) {
	if req.Candidate == nil {
		return Judgment{}, fmt.Errorf("candidate is nil")
	}
	if req.Type != "" && req.Candidate.Type != req.Type {
		return Judgment{Verdict: VerdictReject, Confidence: 1, Reason: "entity type differs"}, nil
	}

	nameKey, err := normalize.Name(req.Name)
	if err != nil {
		return Judgment{}, err
	}
	if !sharesToken(normalize.Tokens(nameKey), normalize.Tokens(req.Candidate.NormalizedName)) {
		return Judgment{Verdict: VerdictReject, Confidence: 0.9, Reason: "names share no token"}, nil
	}

	contextWords := v.contentWords(req.ContextText)
	evidence := []string{req.Candidate.Description}
	keys := make([]string, 0, len(req.Candidate.Attributes))
	for k := range req.Candidate.Attributes {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if s, ok := req.Candidate.Attributes[k].(string); ok {
			evidence = append(evidence, s)
		}
	}
	evidenceWords := v.contentWords(strings.Join(evidence, " "))

	if len(contextWords) == 0 || len(evidenceWords) == 0 {
		return Judgment{Verdict: VerdictUncertain, Confidence: 0.5, Reason: "no context to compare"}, nil
	}

	shared := 0
	for w := range contextWords {
		if _, ok := evidenceWords[w]; ok {
			shared++
		}
	}
	smaller := len(contextWords)
	if len(evidenceWords) < smaller {
		smaller = len(evidenceWords)
	}
	overlap := float64(shared) / float64(smaller)

	switch {
	case overlap >= v.AcceptOverlap:
		return Judgment{
			Verdict:    VerdictAccept,
			Confidence: clamp(0.6 + 0.4*overlap),
			Reason:     fmt.Sprintf("%d shared context words", shared),
		}, nil
	case overlap < v.RejectOverlap:
		return Judgment{
			Verdict:    VerdictReject,
			Confidence: clamp(0.6 + 0.4*(1-overlap)),
			Reason:     "contexts do not overlap",
		}, nil
	default:
		return Judgment{Verdict: VerdictUncertain, Confidence: clamp(0.4 + overlap), Reason: "weak overlap"}, nil
	}
}

func (v *RuleVerifier) contentWords(text string) map[string]struct{} {
	words := map[string]struct{}{}
	if strings.TrimSpace(text) == "" {
		return words
	}
	// Titles such as "king" are evidence in a context
	for _, tok := range normalize.Words(text) {
		if utf8.RuneCountInString(tok) < v.MinTokenLength {
			continue
		}
		if _, stop := stopwords[tok]; stop {
			continue
		}
		words[tok] = struct{}{}
	}
	return words
}

func sharesToken(a, b []string) bool {
	set := make(map[string]struct{}, len(a))
	for _, t := range a {
		set[t] = struct{}{}
	}
	for _, t := range b {
		if _, ok := set[t]; ok {
			return true
		}
	}
	return false
}
