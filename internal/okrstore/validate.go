package okrstore

import (
	"fmt"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type rawSeed struct {
	Cycle      rawSeedCycle       `yaml:"cycle"`
	Objectives []rawSeedObjective `yaml:"objectives"`
}

type rawSeedCycle struct {
	CompanyID string          `yaml:"company_id"`
	Year      int             `yaml:"year"`
	Period    string          `yaml:"period"`
	Name      string          `yaml:"name"`
	StartDate string          `yaml:"start_date"`
	EndDate   string          `yaml:"end_date"`
	Settings  rawSeedSettings `yaml:"settings"`
	Activate  bool            `yaml:"activate"`
}

type rawSeedSettings struct {
	DefaultCadence Cadence       `yaml:"default_cadence"`
	ScoringMethod  ScoringMethod `yaml:"scoring_method"`
	MinKeyResults  int           `yaml:"min_key_results"`
	MaxKeyResults  int           `yaml:"max_key_results"`
	AllowStretch   *bool         `yaml:"allow_stretch"`
}

type rawSeedObjective struct {
	Key                  string             `yaml:"key"`
	Parent               string             `yaml:"parent"`
	Title                string             `yaml:"title"`
	Description          string             `yaml:"description"`
	Category             string             `yaml:"category"`
	Level                string             `yaml:"level"`
	OwnerID              string             `yaml:"owner_id"`
	OwnerType            string             `yaml:"owner_type"`
	OwnerName            string             `yaml:"owner_name"`
	Tags                 []string           `yaml:"tags"`
	Visibility           string             `yaml:"visibility"`
	Stretch              bool               `yaml:"stretch"`
	Cadence              string             `yaml:"cadence"`
	StrategicPillarID    string             `yaml:"strategic_pillar_id"`
	StrategicObjectiveID string             `yaml:"strategic_objective_id"`
	Activate             bool               `yaml:"activate"`
	KeyResults           []rawSeedKeyResult `yaml:"key_results"`
}

type rawSeedKeyResult struct {
	Title       string   `yaml:"title"`
	Description string   `yaml:"description"`
	Type        string   `yaml:"type"`
	Unit        string   `yaml:"unit"`
	Start       *float64 `yaml:"start"`
	Target      *float64 `yaml:"target"`
	Stretch     *float64 `yaml:"stretch"`
	Weight      *float64 `yaml:"weight"`
	OwnerID     string   `yaml:"owner_id"`
	Milestones  []string `yaml:"milestones"`
}

// Seed is a validated description of one cycle and its objectives.
type Seed struct {
	Cycle      SeedCycle
	Objectives []SeedObjective
	Source     string
}

// SeedCycle describes the cycle a seed creates.
type SeedCycle struct {
	CompanyID string
	Year      int
	Period    string
	Name      string
	StartDate time.Time
	EndDate   time.Time
	Settings  CycleSettings
	Activate  bool
}

// SeedObjective describes one objective. Parent refers to another
// objective's Key within the same seed.
type SeedObjective struct {
	Key                  string
	Parent               string
	Title                string
	Description          string
	Category             string
	Level                Level
	OwnerID              string
	OwnerType            OwnerType
	OwnerName            string
	Tags                 []string
	Visibility           Visibility
	Stretch              bool
	Cadence              Cadence
	StrategicPillarID    string
	StrategicObjectiveID string
	Activate             bool
	KeyResults           []SeedKeyResult
}

// SeedKeyResult describes one key result of a seeded objective.
type SeedKeyResult struct {
	Title       string
	Description string
	Measure     Measure
	Weight      *float64
	OwnerID     string
}

// ParseAndValidateSeed unmarshals and validates a YAML seed document.
func ParseAndValidateSeed(data []byte, source string) (Seed, error) {
	var raw rawSeed
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return Seed{}, ValidationErrors{{
			Source:  source,
			Field:   "yaml",
			Message: err.Error(),
		}}
	}
	return validateRawSeed(raw, source)
}

func validateRawSeed(raw rawSeed, source string) (Seed, error) {
	var errs ValidationErrors

	cycle, cycleErrs := validateSeedCycle(raw.Cycle, source)
	errs = append(errs, cycleErrs...)

	if len(raw.Objectives) == 0 {
		errs = append(errs, ValidationError{
			Source:  source,
			Field:   "objectives",
			Message: "must contain at least one objective",
		})
	}

	keys := make(map[string]struct{})
	var objectives []SeedObjective
	for idx, rawObj := range raw.Objectives {
		objPath := fmt.Sprintf("objectives[%d]", idx)
		obj, objErrs := validateSeedObjective(rawObj, objPath, source)
		errs = append(errs, objErrs...)

		if obj.Key != "" {
			if _, exists := keys[obj.Key]; exists {
				errs = append(errs, ValidationError{
					Source:  source,
					Field:   objPath + ".key",
					Message: fmt.Sprintf("duplicate key %q", obj.Key),
				})
			} else {
				keys[obj.Key] = struct{}{}
			}
		}
		objectives = append(objectives, obj)
	}

	for idx, obj := range objectives {
		if obj.Parent == "" {
			continue
		}
		if _, ok := keys[obj.Parent]; !ok {
			errs = append(errs, ValidationError{
				Source:  source,
				Field:   fmt.Sprintf("objectives[%d].parent", idx),
				Message: fmt.Sprintf("parent %q is not defined in this seed", obj.Parent),
			})
		}
		if obj.Parent == obj.Key {
			errs = append(errs, ValidationError{
				Source:  source,
				Field:   fmt.Sprintf("objectives[%d].parent", idx),
				Message: "objective cannot be its own parent",
			})
		}
	}

	if len(errs) > 0 {
		return Seed{}, errs
	}

	return Seed{
		Cycle:      cycle,
		Objectives: objectives,
		Source:     source,
	}, nil
}

func validateSeedCycle(raw rawSeedCycle, source string) (SeedCycle, ValidationErrors) {
	var errs ValidationErrors

	if strings.TrimSpace(raw.CompanyID) == "" {
		errs = append(errs, ValidationError{Source: source, Field: "cycle.company_id", Message: "company_id is required"})
	}
	if strings.TrimSpace(raw.Name) == "" {
		errs = append(errs, ValidationError{Source: source, Field: "cycle.name", Message: "name is required"})
	}
	if raw.Year <= 0 {
		errs = append(errs, ValidationError{Source: source, Field: "cycle.year", Message: "year must be positive"})
	}

	start, startErr := parseISO8601(raw.StartDate)
	if startErr != nil || start.IsZero() {
		errs = append(errs, ValidationError{Source: source, Field: "cycle.start_date", Message: "must be ISO-8601 date or datetime"})
	}
	end, endErr := parseISO8601(raw.EndDate)
	if endErr != nil || end.IsZero() {
		errs = append(errs, ValidationError{Source: source, Field: "cycle.end_date", Message: "must be ISO-8601 date or datetime"})
	}
	if startErr == nil && endErr == nil && !start.IsZero() && !end.IsZero() && end.Before(start) {
		errs = append(errs, ValidationError{Source: source, Field: "cycle.end_date", Message: "must not be before start_date"})
	}

	settings := CycleSettings{
		DefaultCadence: raw.Settings.DefaultCadence,
		ScoringMethod:  raw.Settings.ScoringMethod,
		MinKeyResults:  raw.Settings.MinKeyResults,
		MaxKeyResults:  raw.Settings.MaxKeyResults,
		AllowStretch:   true,
	}
	if raw.Settings.AllowStretch != nil {
		settings.AllowStretch = *raw.Settings.AllowStretch
	}
	switch settings.ScoringMethod {
	case "", ScoringAverage, ScoringWeighted:
	default:
		errs = append(errs, ValidationError{Source: source, Field: "cycle.settings.scoring_method", Message: fmt.Sprintf("unknown scoring method %q", settings.ScoringMethod)})
	}
	if settings.MinKeyResults > 0 && settings.MaxKeyResults > 0 && settings.MinKeyResults > settings.MaxKeyResults {
		errs = append(errs, ValidationError{Source: source, Field: "cycle.settings", Message: "min_key_results exceeds max_key_results"})
	}

	return SeedCycle{
		CompanyID: strings.TrimSpace(raw.CompanyID),
		Year:      raw.Year,
		Period:    strings.TrimSpace(raw.Period),
		Name:      strings.TrimSpace(raw.Name),
		StartDate: start,
		EndDate:   end,
		Settings:  settings,
		Activate:  raw.Activate,
	}, errs
}

func validateSeedObjective(raw rawSeedObjective, fieldPath, source string) (SeedObjective, ValidationErrors) {
	var errs ValidationErrors

	if strings.TrimSpace(raw.Key) == "" {
		errs = append(errs, ValidationError{Source: source, Field: fieldPath + ".key", Message: "key is required"})
	}
	if strings.TrimSpace(raw.Title) == "" {
		errs = append(errs, ValidationError{Source: source, Field: fieldPath + ".title", Message: "title is required"})
	}
	if strings.TrimSpace(raw.OwnerID) == "" {
		errs = append(errs, ValidationError{Source: source, Field: fieldPath + ".owner_id", Message: "owner_id is required"})
	}

	level, err := ParseLevel(raw.Level)
	if err != nil {
		errs = append(errs, ValidationError{Source: source, Field: fieldPath + ".level", Message: err.Error()})
	}
	ownerType, err := parseOwnerType(raw.OwnerType)
	if err != nil {
		errs = append(errs, ValidationError{Source: source, Field: fieldPath + ".owner_type", Message: err.Error()})
	}
	visibility := Visibility(strings.TrimSpace(raw.Visibility))
	switch visibility {
	case "", VisibilityPublic, VisibilityTeam, VisibilityPrivate:
	default:
		errs = append(errs, ValidationError{Source: source, Field: fieldPath + ".visibility", Message: fmt.Sprintf("invalid visibility %q", raw.Visibility)})
	}
	cadence := Cadence(strings.TrimSpace(raw.Cadence))
	switch cadence {
	case "", CadenceDaily, CadenceWeekly, CadenceBiWeekly, CadenceMonthly:
	default:
		errs = append(errs, ValidationError{Source: source, Field: fieldPath + ".cadence", Message: fmt.Sprintf("invalid cadence %q", raw.Cadence)})
	}

	var krs []SeedKeyResult
	for krIdx, rawKR := range raw.KeyResults {
		krPath := fmt.Sprintf("%s.key_results[%d]", fieldPath, krIdx)
		kr, krErrs := validateSeedKeyResult(rawKR, krPath, source)
		errs = append(errs, krErrs...)
		krs = append(krs, kr)
	}

	var tags []string
	for _, tag := range raw.Tags {
		if t := strings.TrimSpace(tag); t != "" {
			tags = append(tags, t)
		}
	}

	return SeedObjective{
		Key:                  strings.TrimSpace(raw.Key),
		Parent:               strings.TrimSpace(raw.Parent),
		Title:                strings.TrimSpace(raw.Title),
		Description:          strings.TrimSpace(raw.Description),
		Category:             strings.TrimSpace(raw.Category),
		Level:                level,
		OwnerID:              strings.TrimSpace(raw.OwnerID),
		OwnerType:            ownerType,
		OwnerName:            strings.TrimSpace(raw.OwnerName),
		Tags:                 tags,
		Visibility:           visibility,
		Stretch:              raw.Stretch,
		Cadence:              cadence,
		StrategicPillarID:    strings.TrimSpace(raw.StrategicPillarID),
		StrategicObjectiveID: strings.TrimSpace(raw.StrategicObjectiveID),
		Activate:             raw.Activate,
		KeyResults:           krs,
	}, errs
}

func validateSeedKeyResult(raw rawSeedKeyResult, fieldPath, source string) (SeedKeyResult, ValidationErrors) {
	var errs ValidationErrors

	if strings.TrimSpace(raw.Title) == "" {
		errs = append(errs, ValidationError{Source: source, Field: fieldPath + ".title", Message: "title is required"})
	}
	if raw.Weight != nil && *raw.Weight < 0 {
		errs = append(errs, ValidationError{Source: source, Field: fieldPath + ".weight", Message: "must not be negative"})
	}

	var measure Measure
	switch MeasureType(strings.TrimSpace(raw.Type)) {
	case MeasureNumeric, MeasurePercentage, MeasureCurrency:
		if raw.Start == nil {
			errs = append(errs, ValidationError{Source: source, Field: fieldPath + ".start", Message: "start is required"})
		}
		if raw.Target == nil {
			errs = append(errs, ValidationError{Source: source, Field: fieldPath + ".target", Message: "target is required"})
		}
		q := Quantity{Kind: MeasureType(strings.TrimSpace(raw.Type)), Unit: strings.TrimSpace(raw.Unit), Stretch: raw.Stretch}
		if raw.Start != nil {
			q.Start = *raw.Start
		}
		if raw.Target != nil {
			q.Target = *raw.Target
		}
		measure = q
	case MeasureBinary:
		measure = Binary{}
	case MeasureMilestone:
		if len(raw.Milestones) == 0 {
			errs = append(errs, ValidationError{Source: source, Field: fieldPath + ".milestones", Message: "milestone key results need at least one milestone"})
		}
		set := MilestoneSet{}
		for i, title := range raw.Milestones {
			if strings.TrimSpace(title) == "" {
				errs = append(errs, ValidationError{Source: source, Field: fmt.Sprintf("%s.milestones[%d]", fieldPath, i), Message: "milestone title cannot be empty"})
				continue
			}
			set.Milestones = append(set.Milestones, Milestone{Title: strings.TrimSpace(title), Order: i})
		}
		measure = set
	default:
		errs = append(errs, ValidationError{
			Source:  source,
			Field:   fieldPath + ".type",
			Message: fmt.Sprintf("invalid type %q (expected numeric, percentage, currency, binary, or milestone)", raw.Type),
		})
	}

	return SeedKeyResult{
		Title:       strings.TrimSpace(raw.Title),
		Description: strings.TrimSpace(raw.Description),
		Measure:     measure,
		Weight:      raw.Weight,
		OwnerID:     strings.TrimSpace(raw.OwnerID),
	}, errs
}

// ParseLevel parses an organizational level name.
func ParseLevel(value string) (Level, error) {
	level := Level(strings.TrimSpace(value))
	if level.Rank() == len(Levels) {
		return level, fmt.Errorf("invalid level %q (expected company, subsidiary, department, team, or individual)", value)
	}
	return level, nil
}

func parseOwnerType(value string) (OwnerType, error) {
	switch OwnerType(strings.TrimSpace(value)) {
	case OwnerUser:
		return OwnerUser, nil
	case OwnerTeam:
		return OwnerTeam, nil
	case OwnerCompany:
		return OwnerCompany, nil
	default:
		return OwnerType(value), fmt.Errorf("invalid owner_type %q (expected user, team, or company)", value)
	}
}

func parseISO8601(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, nil
	}

	if ts, err := time.Parse(time.RFC3339, value); err == nil {
		return ts, nil
	}
	return time.Parse("2006-01-02", value)
}
