package okrstore

import (
	"context"
	"strings"
)

// Store is the document store the engine reads and writes. Objectives carry
// their key results, milestones and check-ins embedded in one document.
type Store interface {
	GetCycle(ctx context.Context, id string) (Cycle, error)
	ListCycles(ctx context.Context, filter CycleFilter) ([]Cycle, error)
	CreateCycle(ctx context.Context, cycle Cycle) error
	PutCycle(ctx context.Context, cycle Cycle) error
	// UpdateCycle loads the cycle, applies mutate and writes the result back
	// as one unit. An error from mutate aborts the write.
	UpdateCycle(ctx context.Context, id string, mutate func(*Cycle) error) (Cycle, error)
	DeleteCycle(ctx context.Context, id string) error

	GetObjective(ctx context.Context, id string) (Objective, error)
	ListObjectives(ctx context.Context, filter ObjectiveFilter) ([]Objective, error)
	CreateObjective(ctx context.Context, obj Objective) error
	PutObjective(ctx context.Context, obj Objective) error
	UpdateObjective(ctx context.Context, id string, mutate func(*Objective) error) (Objective, error)
	DeleteObjective(ctx context.Context, id string) error

	// Atomically runs fn against a view of the store whose writes either all
	// land or none do. Calls nested inside fn reuse the same unit.
	Atomically(ctx context.Context, fn func(tx Store) error) error
}

// CycleFilter narrows ListCycles. Empty fields match everything.
type CycleFilter struct {
	CompanyID string
	Status    CycleStatus
}

func (f CycleFilter) Match(c Cycle) bool {
	if f.CompanyID != "" && c.CompanyID != f.CompanyID {
		return false
	}
	if f.Status != "" && c.Status != f.Status {
		return false
	}
	return true
}

// ObjectiveFilter narrows ListObjectives. Empty fields match everything.
// ParentID is tri-state: nil matches any parent, a pointer to "" matches
// objectives without a parent.
type ObjectiveFilter struct {
	CycleID    string
	OwnerID    string
	OwnerType  OwnerType
	Level      Level
	Status     ObjectiveStatus
	ParentID   *string
	Visibility Visibility
	Search     string
	Tag        string
}

// NoParent is a ParentID filter value selecting top-level objectives.
func NoParent() *string {
	empty := ""
	return &empty
}

// ParentIs is a ParentID filter value selecting children of id.
func ParentIs(id string) *string {
	return &id
}

// MatchPrimary applies the fields a store is expected to index.
func (f ObjectiveFilter) MatchPrimary(o Objective) bool {
	if f.CycleID != "" && o.CycleID != f.CycleID {
		return false
	}
	if f.OwnerID != "" && o.OwnerID != f.OwnerID {
		return false
	}
	if f.OwnerType != "" && o.OwnerType != f.OwnerType {
		return false
	}
	if f.Level != "" && o.Level != f.Level {
		return false
	}
	if f.Status != "" && o.Status != f.Status {
		return false
	}
	if f.ParentID != nil && o.ParentID != *f.ParentID {
		return false
	}
	return true
}

// MatchPost applies visibility, free-text search and tag membership.
func (f ObjectiveFilter) MatchPost(o Objective) bool {
	if f.Visibility != "" && o.Visibility != f.Visibility {
		return false
	}
	if q := strings.ToLower(strings.TrimSpace(f.Search)); q != "" {
		if !strings.Contains(strings.ToLower(o.Title), q) && !strings.Contains(strings.ToLower(o.Description), q) {
			return false
		}
	}
	if f.Tag != "" {
		found := false
		for _, tag := range o.Tags {
			if tag == f.Tag {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// PostFilter keeps the objectives that pass MatchPost.
func PostFilter(objs []Objective, f ObjectiveFilter) []Objective {
	kept := objs[:0]
	for _, o := range objs {
		if f.MatchPost(o) {
			kept = append(kept, o)
		}
	}
	return kept
}
