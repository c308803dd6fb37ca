package engine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"okrengine/internal/okrstore"
)

const seedYAML = `
cycle:
  company_id: acme
  year: 2025
  period: Q1
  name: Q1-2025
  start_date: 2025-01-01
  end_date: 2025-03-31
  settings:
    scoring_method: weighted
    max_key_results: 3
  activate: true
objectives:
  - key: team
    parent: company
    title: Ship the mobile app
    level: team
    owner_id: mobile
    owner_type: team
    activate: true
    key_results:
      - title: Launch
        type: milestone
        milestones: [beta, ga]
  - key: company
    title: Grow revenue
    level: company
    owner_id: acme
    owner_type: company
    activate: true
    key_results:
      - title: ARR
        type: currency
        unit: USD
        start: 1000000
        target: 2000000
        weight: 2
      - title: Pricing page live
        type: binary
`

func TestImportSeed(t *testing.T) {
	eachStore(t, func(t *testing.T, h *harness) {
		ctx := context.Background()
		seed, err := okrstore.ParseAndValidateSeed([]byte(seedYAML), "acme.yml")
		require.NoError(t, err)

		cycle, objs, err := h.svc.ImportSeed(ctx, seed, "importer")
		require.NoError(t, err)
		assert.Equal(t, okrstore.CycleActive, cycle.Status)
		assert.Equal(t, okrstore.ScoringWeighted, cycle.Settings.ScoringMethod)
		assert.True(t, cycle.Settings.AllowStretch)
		assert.Equal(t, 2, cycle.ObjectiveCount)
		require.Len(t, objs, 2)

		byTitle := map[string]okrstore.Objective{}
		for _, o := range objs {
			byTitle[o.Title] = o
			assert.Equal(t, okrstore.ObjectiveActive, o.Status)
			assert.Equal(t, "importer", o.CreatedBy)
		}
		company, team := byTitle["Grow revenue"], byTitle["Ship the mobile app"]
		assert.Equal(t, company.ID, team.ParentID)
		assert.Equal(t, []string{team.ID}, company.ChildIDs)

		arr := company.KeyResults[0]
		assert.Equal(t, okrstore.MeasureCurrency, arr.Type())
		assert.Equal(t, 1000000.0, arr.Current)
		assert.Equal(t, 2.0, arr.Weight)

		assert.Len(t, h.audit.ofType("cycle_created"), 1)
		assert.Len(t, h.audit.ofType("objective_created"), 2)
		assert.Len(t, h.audit.ofType("objective_active"), 2)
		assert.Len(t, h.audit.ofType("cycle_activated"), 1)

		tree, err := h.svc.BuildTree(ctx, cycle.ID)
		require.NoError(t, err)
		require.Len(t, tree.Roots, 1)
		assert.Equal(t, company.ID, tree.Roots[0].Objective.ID)
	})
}

func TestImportSeedRollsBackOnFailure(t *testing.T) {
	eachStore(t, func(t *testing.T, h *harness) {
		ctx := context.Background()
		seed, err := okrstore.ParseAndValidateSeed([]byte(seedYAML), "acme.yml")
		require.NoError(t, err)
		seed.Objectives[1].KeyResults = nil

		_, _, err = h.svc.ImportSeed(ctx, seed, "importer")
		require.ErrorIs(t, err, okrstore.ErrValidation)
		assert.Contains(t, err.Error(), "acme.yml")

		cycles, err := h.svc.ListCycles(ctx, okrstore.CycleFilter{})
		require.NoError(t, err)
		assert.Empty(t, cycles)
		assert.Empty(t, h.audit.events, "nothing is audited for a rolled-back import")
	})
}
