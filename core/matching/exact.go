package matching

import (
	"context"

	"github.com/siherrmann/resolver/core/alias"
	"github.com/siherrmann/resolver/database"
	"github.com/siherrmann/resolver/helper"
	"github.com/siherrmann/resolver/model"
)

// ExactStage looks the normalized name up in the alias index.
type ExactStage struct {
	index           *alias.Index
	store           database.Store
	nameConfidence  float64
	aliasConfidence float64
}

var _ Stage = (*ExactStage)(nil)

// NewExactStage creates the fast path stage.
func NewExactStage(index *alias.Index, store database.Store, nameConfidence float64, aliasConfidence float64) *ExactStage {
	return &ExactStage{
		index:           index,
		store:           store,
		nameConfidence:  nameConfidence,
		aliasConfidence: aliasConfidence,
	}
}

func (s *ExactStage) Name() string { return model.StageExactName }

// Attempt matches display names and aliases of the mention type. Keys owned by
// several entities are ambiguous and give no decision. A hit on an entity without
// canonical id is left as fallback so the knowledge base can still tell it apart.
func (s *ExactStage) Attempt(ctx context.Context, a *Attempt) (Outcome, error) {
	lookup := s.index.Get(a.Input.Type, a.Key)
	if !lookup.Found || lookup.Ambiguous {
		return NoDecision(), nil
	}

	entity, err := s.store.SelectEntity(ctx, lookup.EntityID)
	if helper.IsNotFound(err) {
		return NoDecision(), nil
	} else if err != nil {
		return NoDecision(), err
	}

	outcome := Match(model.StageExactName, entity, s.nameConfidence)
	if lookup.IsAlias {
		outcome = Match(model.StageAlias, entity, s.aliasConfidence)
	}

	if !entity.HasCanonicalID() {
		a.Fallback = &outcome
		return NoDecision(), nil
	}
	return outcome, nil
}
