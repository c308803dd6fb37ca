package scoring

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"okrengine/internal/okrstore"
)

func TestAggregateConfidence(t *testing.T) {
	on, risk, off := okrstore.OnTrack, okrstore.AtRisk, okrstore.OffTrack
	cases := []struct {
		name string
		in   []okrstore.Confidence
		want okrstore.Confidence
	}{
		{"empty", nil, on},
		{"all on track", []okrstore.Confidence{on, on}, on},
		{"one at risk of four", []okrstore.Confidence{on, on, on, risk}, on},
		{"one at risk of two", []okrstore.Confidence{on, risk}, risk},
		{"mean exactly 2.5", []okrstore.Confidence{on, risk}, risk},
		{"mean exactly 1.5", []okrstore.Confidence{risk, off}, off},
		{"all off track", []okrstore.Confidence{off, off}, off},
		{"mixed", []okrstore.Confidence{on, off, risk}, risk},
		{"unknown counts as on track", []okrstore.Confidence{"", on}, on},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, AggregateConfidence(tc.in))
		})
	}
}

func TestObjectiveConfidence(t *testing.T) {
	obj := okrstore.Objective{KeyResults: []okrstore.KeyResult{
		{Confidence: okrstore.OffTrack},
		{Confidence: okrstore.OffTrack},
		{Confidence: okrstore.OnTrack},
	}}
	// (1 + 1 + 3) / 3 = 1.67
	assert.Equal(t, okrstore.AtRisk, ObjectiveConfidence(obj))
	assert.Equal(t, okrstore.OnTrack, ObjectiveConfidence(okrstore.Objective{}))
}
