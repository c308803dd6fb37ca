package okrstore

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validSeed = `
cycle:
  company_id: acme
  year: 2025
  period: Q2
  name: Q2-2025
  start_date: 2025-04-01
  end_date: 2025-06-30T23:59:59Z
  settings:
    default_cadence: bi_weekly
    max_key_results: 4
objectives:
  - key: child
    parent: root
    title: Hire a platform team
    level: team
    owner_id: eng
    owner_type: team
    tags: [hiring]
    key_results:
      - title: Engineers hired
        type: numeric
        start: 0
        target: 5
      - title: Onboarding plan
        type: milestone
        milestones: [draft, approve]
  - key: root
    title: Scale the platform
    level: company
    owner_id: acme
    owner_type: company
    key_results:
      - title: Uptime
        type: percentage
        unit: "%"
        start: 99
        target: 99.9
        weight: 3
`

func TestParseAndValidateSeedValid(t *testing.T) {
	seed, err := ParseAndValidateSeed([]byte(validSeed), "q2.yml")
	require.NoError(t, err)

	assert.Equal(t, "q2.yml", seed.Source)
	assert.Equal(t, "acme", seed.Cycle.CompanyID)
	assert.Equal(t, time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC), seed.Cycle.StartDate)
	assert.Equal(t, CadenceBiWeekly, seed.Cycle.Settings.DefaultCadence)
	assert.Equal(t, 4, seed.Cycle.Settings.MaxKeyResults)
	assert.True(t, seed.Cycle.Settings.AllowStretch, "stretch defaults to allowed")

	require.Len(t, seed.Objectives, 2)
	child := seed.Objectives[0]
	assert.Equal(t, LevelTeam, child.Level)
	assert.Equal(t, OwnerTeam, child.OwnerType)
	assert.Equal(t, []string{"hiring"}, child.Tags)
	require.Len(t, child.KeyResults, 2)
	assert.Equal(t, Quantity{Kind: MeasureNumeric, Start: 0, Target: 5}, child.KeyResults[0].Measure)
	set, ok := child.KeyResults[1].Measure.(MilestoneSet)
	require.True(t, ok)
	assert.Len(t, set.Milestones, 2)

	uptime := seed.Objectives[1].KeyResults[0]
	require.NotNil(t, uptime.Weight)
	assert.Equal(t, 3.0, *uptime.Weight)
	assert.Equal(t, MeasurePercentage, uptime.Measure.Type())

	ordered := seed.OrderByParent()
	require.Len(t, ordered, 2)
	assert.Equal(t, "root", ordered[0].Key)
	assert.Equal(t, "child", ordered[1].Key)
}

func TestParseAndValidateSeedStretchOptOut(t *testing.T) {
	doc := `
cycle:
  company_id: acme
  year: 2025
  name: strict
  start_date: 2025-01-01
  end_date: 2025-03-31
  settings:
    allow_stretch: false
objectives:
  - key: a
    title: A
    level: company
    owner_id: acme
    owner_type: company
`
	seed, err := ParseAndValidateSeed([]byte(doc), "strict.yml")
	require.NoError(t, err)
	assert.False(t, seed.Cycle.Settings.AllowStretch)
}

func TestParseAndValidateSeedErrors(t *testing.T) {
	doc := `
cycle:
  year: 0
  start_date: someday
  settings:
    scoring_method: median
    min_key_results: 4
    max_key_results: 2
objectives:
  - key: a
    parent: ghost
    level: galaxy
    owner_type: robot
    key_results:
      - type: numeric
      - title: M
        type: milestone
      - title: X
        type: vibes
        weight: -1
  - key: a
    title: Dup
    level: team
    owner_id: t
    owner_type: team
`
	_, err := ParseAndValidateSeed([]byte(doc), "bad.yml")
	require.ErrorIs(t, err, ErrValidation)
	errs, ok := err.(ValidationErrors)
	require.True(t, ok)

	fields := map[string]bool{}
	for _, e := range errs {
		assert.Equal(t, "bad.yml", e.Source)
		fields[e.Field] = true
	}
	for _, want := range []string{
		"cycle.company_id",
		"cycle.name",
		"cycle.year",
		"cycle.start_date",
		"cycle.settings.scoring_method",
		"cycle.settings",
		"objectives[0].title",
		"objectives[0].owner_id",
		"objectives[0].level",
		"objectives[0].owner_type",
		"objectives[0].key_results[0].title",
		"objectives[0].key_results[0].start",
		"objectives[0].key_results[0].target",
		"objectives[0].key_results[1].milestones",
		"objectives[0].key_results[2].type",
		"objectives[0].key_results[2].weight",
		"objectives[1].key",
		"objectives[0].parent",
	} {
		assert.True(t, fields[want], "missing error for %s", want)
	}
}

func TestParseAndValidateSeedBadYAML(t *testing.T) {
	_, err := ParseAndValidateSeed([]byte("cycle: [unterminated"), "broken.yml")
	require.ErrorIs(t, err, ErrValidation)
	assert.Contains(t, err.Error(), "broken.yml: yaml")
}

func TestLoadSeedDir(t *testing.T) {
	dir := t.TempDir()
	writeSeed(t, filepath.Join(dir, "b.yaml"), validSeed)
	writeSeed(t, filepath.Join(dir, "a.yml"), validSeed)
	writeSeed(t, filepath.Join(dir, "notes.txt"), "ignored")

	seeds, err := LoadSeedDir(dir)
	require.NoError(t, err)
	require.Len(t, seeds, 2)
	assert.Equal(t, filepath.Join(dir, "a.yml"), seeds[0].Source)
	assert.Equal(t, filepath.Join(dir, "b.yaml"), seeds[1].Source)
}

func TestLoadSeedDirAggregatesErrors(t *testing.T) {
	dir := t.TempDir()
	writeSeed(t, filepath.Join(dir, "good.yml"), validSeed)
	writeSeed(t, filepath.Join(dir, "bad1.yml"), "cycle:\n  company_id: x\n")
	writeSeed(t, filepath.Join(dir, "bad2.yml"), "objectives: []\n")

	_, err := LoadSeedDir(dir)
	require.ErrorIs(t, err, ErrValidation)
	assert.Contains(t, err.Error(), "bad1.yml")
	assert.Contains(t, err.Error(), "bad2.yml")
	assert.NotContains(t, err.Error(), "good.yml")
}

func TestLoadSeedDirEmpty(t *testing.T) {
	_, err := LoadSeedDir(t.TempDir())
	assert.ErrorContains(t, err, "no seed YAML files")
}

func writeSeed(t *testing.T, path, contents string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
}
