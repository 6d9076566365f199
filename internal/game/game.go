// Package game is the typed projection of the built-in "game" entity type:
// a name and a description, each of which can be set, cleared or left alone
// by a save.
package game

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"projector/internal/event"
	"projector/internal/projection"
)

const Type = event.TypeGame

// Patch is one save document of a game.
type Patch struct {
	Name        projection.Field[string] `json:"name,omitzero"`
	Description projection.Field[string] `json:"description,omitzero"`
}

// Apply lays p over prev field by field.
func (p Patch) Apply(prev Patch) Patch {
	return Patch{
		Name:        p.Name.Over(prev.Name),
		Description: p.Description.Over(prev.Description),
	}
}

func decodePatch(doc any) (Patch, error) {
	b, err := json.Marshal(doc)
	if err != nil {
		return Patch{}, err
	}
	var p Patch
	if err := json.Unmarshal(b, &p); err != nil {
		return Patch{}, fmt.Errorf("%w: %v", projection.ErrSchemaMismatch, err)
	}
	return p, nil
}

// Strategy folds game documents through Patch. For documents that only
// carry name and description it agrees with merge-patch.
type Strategy struct{}

func (Strategy) Check(doc any) error {
	_, err := decodePatch(doc)
	return err
}

func (Strategy) Reduce(docs []any) any {
	var state Patch
	for _, d := range docs {
		p, err := decodePatch(d)
		if err != nil {
			continue
		}
		state = p.Apply(state)
	}
	out := map[string]any{}
	if v, ok := state.Name.Get(); ok {
		out["name"] = v
	}
	if v, ok := state.Description.Get(); ok {
		out["description"] = v
	}
	return out
}

// Game is the typed view of a game projection.
type Game struct {
	ID          uuid.UUID `json:"id"`
	Name        *string   `json:"name"`
	Description *string   `json:"description"`
	Added       time.Time `json:"added"`
	Updated     time.Time `json:"updated"`
}

// FromProjection reads the typed fields out of a projected document.
// Fields that are missing or of another type come back nil.
func FromProjection(p projection.Projection) Game {
	g := Game{ID: p.ID, Added: p.Added, Updated: p.Updated}
	doc, _ := p.Document.(map[string]any)
	if s, ok := doc["name"].(string); ok {
		g.Name = &s
	}
	if s, ok := doc["description"].(string); ok {
		g.Description = &s
	}
	return g
}

// List keeps the game projections of ps, in order.
func List(ps []projection.Projection) []Game {
	out := make([]Game, 0, len(ps))
	for _, p := range ps {
		if p.Type != Type {
			continue
		}
		out = append(out, FromProjection(p))
	}
	return out
}
