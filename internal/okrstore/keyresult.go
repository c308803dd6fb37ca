package okrstore

import (
	"encoding/json"
	"fmt"
	"time"
)

// MeasureType is the discriminator of a key result's measurement variant.
type MeasureType string

const (
	MeasureNumeric    MeasureType = "numeric"
	MeasurePercentage MeasureType = "percentage"
	MeasureCurrency   MeasureType = "currency"
	MeasureBinary     MeasureType = "binary"
	MeasureMilestone  MeasureType = "milestone"
)

// Measure is the measurement variant of a key result. The set of variants is
// closed: Quantity, Binary and MilestoneSet.
type Measure interface {
	Type() MeasureType
	// StartValue is the raw value a freshly created key result starts at.
	StartValue() float64
	isMeasure()
}

// Quantity measures progress from Start towards Target on a numeric scale.
// Target may be below Start for "reduce X" goals.
type Quantity struct {
	Kind    MeasureType
	Unit    string
	Start   float64
	Target  float64
	Stretch *float64
}

func (q Quantity) Type() MeasureType {
	if q.Kind == "" {
		return MeasureNumeric
	}
	return q.Kind
}

func (q Quantity) StartValue() float64 { return q.Start }
func (Quantity) isMeasure() {}

// Binary is done (current >= 1) or not done.
type Binary struct{}

func (Binary) Type() MeasureType { return MeasureBinary }
func (Binary) StartValue() float64 { return 0 }
func (Binary) isMeasure() {}

// MilestoneSet measures progress as the share of completed milestones.
type MilestoneSet struct {
	Milestones []Milestone
}

func (MilestoneSet) Type() MeasureType { return MeasureMilestone }
func (MilestoneSet) StartValue() float64 { return 0 }
func (MilestoneSet) isMeasure() {}

// CompletedCount returns how many milestones are complete.
func (m MilestoneSet) CompletedCount() int {
	n := 0
	for _, ms := range m.Milestones {
		if ms.Completed {
			n++
		}
	}
	return n
}

// KeyResult is one measurable sub-goal of an objective.
type KeyResult struct {
	ID             string
	ObjectiveID    string
	Title          string
	Description    string
	Measure        Measure
	Current        float64
	Score          float64
	Progress       int
	Confidence     Confidence
	ConfidenceNote string
	OwnerID        string
	IsComplete     bool
	CompletedAt    *time.Time
	Order          int
	Weight         float64
	CheckIns       []CheckIn
}

// Type returns the measurement type, or "" when no measure is set.
func (kr KeyResult) Type() MeasureType {
	if kr.Measure == nil {
		return ""
	}
	return kr.Measure.Type()
}

// keyResultDoc is the flat stored shape of a key result.
type keyResultDoc struct {
	ID             string      `json:"id"`
	ObjectiveID    string      `json:"okrId"`
	Title          string      `json:"title"`
	Description    string      `json:"description,omitempty"`
	Type           MeasureType `json:"type"`
	Unit           string      `json:"unit,omitempty"`
	StartValue     float64     `json:"startValue"`
	TargetValue    float64     `json:"targetValue"`
	CurrentValue   float64     `json:"currentValue"`
	StretchTarget  *float64    `json:"stretchTarget,omitempty"`
	Milestones     []Milestone `json:"milestones,omitempty"`
	Score          float64     `json:"score"`
	Progress       int         `json:"progress"`
	Confidence     Confidence  `json:"confidence"`
	ConfidenceNote string      `json:"confidenceNote,omitempty"`
	OwnerID        string      `json:"ownerId,omitempty"`
	IsComplete     bool        `json:"isComplete"`
	CompletedAt    *time.Time  `json:"completedAt,omitempty"`
	Order          int         `json:"order"`
	Weight         float64     `json:"weight"`
	CheckIns       []CheckIn   `json:"checkIns,omitempty"`
}

func (kr KeyResult) MarshalJSON() ([]byte, error) {
	doc := keyResultDoc{
		ID:             kr.ID,
		ObjectiveID:    kr.ObjectiveID,
		Title:          kr.Title,
		Description:    kr.Description,
		CurrentValue:   kr.Current,
		Score:          kr.Score,
		Progress:       kr.Progress,
		Confidence:     kr.Confidence,
		ConfidenceNote: kr.ConfidenceNote,
		OwnerID:        kr.OwnerID,
		IsComplete:     kr.IsComplete,
		CompletedAt:    kr.CompletedAt,
		Order:          kr.Order,
		Weight:         kr.Weight,
		CheckIns:       kr.CheckIns,
	}
	switch m := kr.Measure.(type) {
	case Quantity:
		doc.Type = m.Type()
		doc.Unit = m.Unit
		doc.StartValue = m.Start
		doc.TargetValue = m.Target
		doc.StretchTarget = m.Stretch
	case Binary:
		doc.Type = MeasureBinary
		doc.TargetValue = 1
	case MilestoneSet:
		doc.Type = MeasureMilestone
		doc.TargetValue = float64(len(m.Milestones))
		doc.Milestones = m.Milestones
	case nil:
		return nil, fmt.Errorf("key result %s has no measure", kr.ID)
	default:
		return nil, fmt.Errorf("key result %s: unsupported measure %T", kr.ID, m)
	}
	return json.Marshal(doc)
}

func (kr *KeyResult) UnmarshalJSON(data []byte) error {
	var doc keyResultDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return err
	}
	switch doc.Type {
	case MeasureNumeric, MeasurePercentage, MeasureCurrency:
		kr.Measure = Quantity{
			Kind:    doc.Type,
			Unit:    doc.Unit,
			Start:   doc.StartValue,
			Target:  doc.TargetValue,
			Stretch: doc.StretchTarget,
		}
	case MeasureBinary:
		kr.Measure = Binary{}
	case MeasureMilestone:
		kr.Measure = MilestoneSet{Milestones: doc.Milestones}
	default:
		return fmt.Errorf("key result %s: unknown type %q", doc.ID, doc.Type)
	}
	kr.ID = doc.ID
	kr.ObjectiveID = doc.ObjectiveID
	kr.Title = doc.Title
	kr.Description = doc.Description
	kr.Current = doc.CurrentValue
	kr.Score = doc.Score
	kr.Progress = doc.Progress
	kr.Confidence = doc.Confidence
	kr.ConfidenceNote = doc.ConfidenceNote
	kr.OwnerID = doc.OwnerID
	kr.IsComplete = doc.IsComplete
	kr.CompletedAt = doc.CompletedAt
	kr.Order = doc.Order
	kr.Weight = doc.Weight
	kr.CheckIns = doc.CheckIns
	return nil
}
