// Package kb talks to the external knowledge base that assigns canonical ids.
package kb

import (
	"context"

	"github.com/siherrmann/resolver/model"
)

// Client searches the knowledge base. Candidates are ranked best first.
type Client interface {
	Search(ctx context.Context, name string, contextText string, entityType model.EntityType) ([]model.Candidate, error)
}

// ClientFunc adapts a function to Client.
type ClientFunc func(ctx context.Context, name string, contextText string, entityType model.EntityType) ([]model.Candidate, error)

// Search calls f.
func (f ClientFunc) Search(ctx context.Context, name string, contextText string, entityType model.EntityType) ([]model.Candidate, error) {
	return f(ctx, name, contextText, entityType)
}
