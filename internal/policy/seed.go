package policy

import (
	"context"
	"fmt"

	"github.com/reviewpilot/rp/internal/models"
	"github.com/reviewpilot/rp/internal/store"
)

// DefaultPolicies is the starter policy set: one policy per rating band plus a
// catch-all default.
func DefaultPolicies() []*models.ResponsePolicy {
	return []*models.ResponsePolicy{
		{
			Name:        "Recensioni Positive (4-5 stelle)",
			Description: "Template per recensioni molto positive",
			MinRating:   4,
			MaxRating:   5,
			Tone:        models.ToneFriendly,
			Instruction: "Esprimi grande gratitudine, invita il cliente a seguirci sui social e a lasciare un'altra recensione in futuro. Menziona che siamo sempre disponibili per qualsiasi consulenza.",
			IsActive:    true,
			Priority:    10,
		},
		{
			Name:        "Recensioni Miste (3 stelle)",
			Description: "Template per recensioni medie",
			MinRating:   3,
			MaxRating:   3,
			Tone:        models.ToneProfessional,
			Instruction: "Ringrazia per il feedback, chiedi gentilmente cosa potremmo migliorare e offri assistenza per qualsiasi problema. Mostra apertura al dialogo.",
			IsActive:    true,
			Priority:    5,
		},
		{
			Name:        "Recensioni Negative (1-2 stelle)",
			Description: "Template per recensioni negative",
			MinRating:   1,
			MaxRating:   2,
			Tone:        models.ToneEmpathetic,
			Instruction: "Scusati sinceramente per l'esperienza negativa. Offri un modo concreto per rimediare (contatto diretto, risoluzione del problema). Invita a contattarci privatamente per risolvere la situazione. NON essere difensivo.",
			IsActive:    true,
			Priority:    20,
		},
		{
			Name:        "Template Predefinito",
			Description: "Template generico per tutte le recensioni",
			MinRating:   1,
			MaxRating:   5,
			Tone:        models.ToneProfessional,
			IsDefault:   true,
			IsActive:    true,
			Priority:    0,
		},
	}
}

// Seed inserts the starter policies, skipping any whose name already exists.
// Returns the number of policies created.
func Seed(ctx context.Context, s store.Store) (int, error) {
	existing, err := s.ListPolicies(ctx, false)
	if err != nil {
		return 0, err
	}
	byName := make(map[string]bool, len(existing))
	for _, p := range existing {
		byName[p.Name] = true
	}

	created := 0
	for _, p := range DefaultPolicies() {
		if byName[p.Name] {
			continue
		}
		if err := s.CreatePolicy(ctx, p); err != nil {
			return created, fmt.Errorf("seed policy %q: %w", p.Name, err)
		}
		created++
	}
	return created, nil
}
