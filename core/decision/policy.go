// Package decision maps the confidence of a resolution to a verification status.
package decision

import (
	"fmt"

	"github.com/siherrmann/resolver/model"
)

// Action tells the resolver what to do with the mention.
type Action string

const (
	ActionLink   Action = "link"
	ActionCreate Action = "create"
	// ActionProvisional creates a pending entity proposed to be merged into the match.
	// A reviewer accepting the proposal merges it, a rejection keeps it apart.
	ActionProvisional Action = "provisional"
)

// Decision is the outcome of the policy.
type Decision struct {
	Status model.VerificationStatus
	Action Action
	// Review is set for pending_review outcomes, they get a review item.
	Review bool
}

// Policy is the pure decision table {match found, confidence} -> {status, link or create}.
type Policy struct {
	VerifiedThreshold float64
	ReviewThreshold   float64
}

// NewPolicy creates a policy. reviewThreshold must not exceed verifiedThreshold.
func NewPolicy(verifiedThreshold float64, reviewThreshold float64) (Policy, error) {
	if reviewThreshold > verifiedThreshold {
		return Policy{}, fmt.Errorf("review threshold %v exceeds verified threshold %v", reviewThreshold, verifiedThreshold)
	}
	return Policy{VerifiedThreshold: verifiedThreshold, ReviewThreshold: reviewThreshold}, nil
}

// PolicyFromConfig reads the thresholds of a resolver config.
func PolicyFromConfig(config model.ResolverConfig) (Policy, error) {
	return NewPolicy(config.VerifiedThreshold, config.ReviewThreshold)
}

// Status classifies a confidence.
func (p Policy) Status(confidence float64) model.VerificationStatus {
	switch {
	case confidence >= p.VerifiedThreshold:
		return model.StatusVerified
	case confidence >= p.ReviewThreshold:
		return model.StatusPendingReview
	default:
		return model.StatusUnverified
	}
}

// Decide classifies a resolution. Without a match, or below the review threshold,
// a new entity is created. A match in the review band is linked provisionally.
func (p Policy) Decide(matchFound bool, confidence float64) Decision {
	status := p.Status(confidence)
	review := status == model.StatusPendingReview

	switch {
	case !matchFound || status == model.StatusUnverified:
		return Decision{Status: status, Action: ActionCreate, Review: review}
	case review:
		return Decision{Status: status, Action: ActionProvisional, Review: true}
	default:
		return Decision{Status: status, Action: ActionLink}
	}
}
