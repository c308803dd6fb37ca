package okrstore

import "time"

// CycleStatus is the lifecycle state of a review cycle.
type CycleStatus string

const (
	CyclePlanning CycleStatus = "planning"
	CycleActive   CycleStatus = "active"
	CycleReview   CycleStatus = "review"
	CycleClosed   CycleStatus = "closed"
)

// ScoringMethod selects how key-result scores reduce to an objective score.
type ScoringMethod string

const (
	ScoringAverage  ScoringMethod = "average"
	ScoringWeighted ScoringMethod = "weighted"
)

// Cadence is how often an objective's owner is expected to check in.
type Cadence string

const (
	CadenceDaily    Cadence = "daily"
	CadenceWeekly   Cadence = "weekly"
	CadenceBiWeekly Cadence = "bi_weekly"
	CadenceMonthly  Cadence = "monthly"
)

// Level is the organizational level an objective is set at.
type Level string

const (
	LevelCompany    Level = "company"
	LevelSubsidiary Level = "subsidiary"
	LevelDepartment Level = "department"
	LevelTeam       Level = "team"
	LevelIndividual Level = "individual"
)

// Levels lists every level from the widest scope to the narrowest.
var Levels = []Level{LevelCompany, LevelSubsidiary, LevelDepartment, LevelTeam, LevelIndividual}

// Rank orders levels by scope; lower ranks are wider. Unknown levels sort last.
func (l Level) Rank() int {
	for i, candidate := range Levels {
		if candidate == l {
			return i
		}
	}
	return len(Levels)
}

// OwnerType identifies what kind of entity owns an objective.
type OwnerType string

const (
	OwnerUser    OwnerType = "user"
	OwnerTeam    OwnerType = "team"
	OwnerCompany OwnerType = "company"
)

// ObjectiveStatus is the lifecycle state of an objective.
type ObjectiveStatus string

const (
	ObjectiveDraft     ObjectiveStatus = "draft"
	ObjectiveActive    ObjectiveStatus = "active"
	ObjectiveCompleted ObjectiveStatus = "completed"
)

// Visibility controls who may read an objective.
type Visibility string

const (
	VisibilityPublic  Visibility = "public"
	VisibilityTeam    Visibility = "team"
	VisibilityPrivate Visibility = "private"
)

// Confidence is the owner's qualitative read on a key result's trajectory.
type Confidence string

const (
	OnTrack  Confidence = "on_track"
	AtRisk   Confidence = "at_risk"
	OffTrack Confidence = "off_track"
)

// CycleSettings are per-cycle policies applied to the objectives it scopes.
type CycleSettings struct {
	DefaultCadence Cadence       `json:"defaultCadence" yaml:"default_cadence"`
	ScoringMethod  ScoringMethod `json:"scoringMethod" yaml:"scoring_method"`
	MinKeyResults  int           `json:"minKeyResults" yaml:"min_key_results"`
	MaxKeyResults  int           `json:"maxKeyResults" yaml:"max_key_results"`
	AllowStretch   bool          `json:"allowStretch" yaml:"allow_stretch"`
}

// Cycle is a bounded review period scoping a set of objectives.
type Cycle struct {
	ID             string        `json:"id"`
	CompanyID      string        `json:"companyId"`
	Year           int           `json:"year"`
	Period         string        `json:"period"`
	Name           string        `json:"name"`
	StartDate      time.Time     `json:"startDate"`
	EndDate        time.Time     `json:"endDate"`
	Status         CycleStatus   `json:"status"`
	Settings       CycleSettings `json:"settings"`
	ObjectiveCount int           `json:"objectiveCount"`
	AverageScore   float64       `json:"averageScore"`
	CreatedAt      time.Time     `json:"createdAt"`
	UpdatedAt      time.Time     `json:"updatedAt"`
}

// Objective is a qualitative goal owned by one entity at one level.
type Objective struct {
	ID                   string          `json:"id"`
	CycleID              string          `json:"cycleId"`
	Year                 int             `json:"year"`
	Period               string          `json:"period"`
	OwnerID              string          `json:"ownerId"`
	OwnerType            OwnerType       `json:"ownerType"`
	OwnerName            string          `json:"ownerName,omitempty"`
	Level                Level           `json:"level"`
	Title                string          `json:"title"`
	Description          string          `json:"description,omitempty"`
	Category             string          `json:"category,omitempty"`
	Status               ObjectiveStatus `json:"status"`
	KeyResults           []KeyResult     `json:"keyResults"`
	Score                float64         `json:"score"`
	Progress             int             `json:"progress"`
	ParentID             string          `json:"parentOkrId,omitempty"`
	ChildIDs             []string        `json:"childOkrIds"`
	StrategicPillarID    string          `json:"strategicPillarId,omitempty"`
	StrategicObjectiveID string          `json:"strategicObjectiveId,omitempty"`
	Tags                 []string        `json:"tags,omitempty"`
	Visibility           Visibility      `json:"visibility"`
	IsStretch            bool            `json:"isStretch"`
	Cadence              Cadence         `json:"checkInCadence"`
	CheckInCount         int             `json:"checkInCount"`
	LastCheckInAt        *time.Time      `json:"lastCheckInDate,omitempty"`
	NextCheckInAt        *time.Time      `json:"nextCheckInDate,omitempty"`
	CreatedBy            string          `json:"createdBy,omitempty"`
	CreatedAt            time.Time       `json:"createdAt"`
	UpdatedAt            time.Time       `json:"updatedAt"`
}

// KeyResult returns a pointer to the key result with the given id, if present.
func (o *Objective) KeyResult(id string) (*KeyResult, bool) {
	for i := range o.KeyResults {
		if o.KeyResults[i].ID == id {
			return &o.KeyResults[i], true
		}
	}
	return nil, false
}

// HasChild reports whether id is listed in the objective's child list.
func (o *Objective) HasChild(id string) bool {
	for _, child := range o.ChildIDs {
		if child == id {
			return true
		}
	}
	return false
}

// AddChild appends id to the child list unless it is already present.
func (o *Objective) AddChild(id string) {
	if o.HasChild(id) {
		return
	}
	o.ChildIDs = append(o.ChildIDs, id)
}

// RemoveChild drops every occurrence of id from the child list.
func (o *Objective) RemoveChild(id string) {
	kept := o.ChildIDs[:0]
	for _, child := range o.ChildIDs {
		if child != id {
			kept = append(kept, child)
		}
	}
	o.ChildIDs = kept
}

// TotalCheckIns counts check-ins across all key results.
func (o *Objective) TotalCheckIns() int {
	total := 0
	for _, kr := range o.KeyResults {
		total += len(kr.CheckIns)
	}
	return total
}

// Milestone is a named boolean sub-step of a milestone-type key result.
type Milestone struct {
	ID          string     `json:"id"`
	Title       string     `json:"title"`
	TargetDate  *time.Time `json:"targetDate,omitempty"`
	Completed   bool       `json:"isCompleted"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
	CompletedBy string     `json:"completedBy,omitempty"`
	Order       int        `json:"order"`
}

// CheckIn is an immutable record of one progress update to a key result.
type CheckIn struct {
	ID            string     `json:"id"`
	KeyResultID   string     `json:"keyResultId"`
	ObjectiveID   string     `json:"okrId"`
	At            time.Time  `json:"date"`
	PreviousValue float64    `json:"previousValue"`
	NewValue      float64    `json:"newValue"`
	PreviousScore float64    `json:"previousScore"`
	NewScore      float64    `json:"newScore"`
	Confidence    Confidence `json:"confidence"`
	Note          string     `json:"note,omitempty"`
	Blockers      []string   `json:"blockers,omitempty"`
	Wins          []string   `json:"wins,omitempty"`
	AuthorID      string     `json:"authorId"`
	CreatedAt     time.Time  `json:"createdAt"`
}
