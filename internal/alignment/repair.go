package alignment

// RepairKind is a single pointer fix applied to one objective document.
type RepairKind string

const (
	// ClearParent empties ObjectiveID's parent pointer.
	ClearParent RepairKind = "clear_parent"
	// AddChildLink adds RelatedID to ObjectiveID's child list.
	AddChildLink RepairKind = "add_child_link"
	// DropChildLink removes RelatedID from ObjectiveID's child list.
	DropChildLink RepairKind = "drop_child_link"
)

// Repair is one fix. ObjectiveID is always the document being modified.
type Repair struct {
	Kind        RepairKind
	ObjectiveID string
	RelatedID   string
	Cause       WarningKind
}

// PlanRepairs turns tree warnings into the fixes that make every child list
// the exact inverse of the parent pointers. A child's parent pointer wins
// over its parent's child list, except where the pointer is dangling or
// closes a loop, in which case it is cleared.
func PlanRepairs(warnings []Warning) []Repair {
	cleared := make(map[string]bool)
	for _, w := range warnings {
		if w.Kind == DanglingParent || w.Kind == ParentCycle {
			cleared[w.ObjectiveID] = true
		}
	}

	seen := make(map[Repair]bool)
	var repairs []Repair
	add := func(r Repair) {
		key := Repair{Kind: r.Kind, ObjectiveID: r.ObjectiveID, RelatedID: r.RelatedID}
		if seen[key] {
			return
		}
		seen[key] = true
		repairs = append(repairs, r)
	}

	for _, w := range warnings {
		switch w.Kind {
		case DanglingParent:
			add(Repair{Kind: ClearParent, ObjectiveID: w.ObjectiveID, RelatedID: w.RelatedID, Cause: w.Kind})
		case ParentCycle:
			add(Repair{Kind: ClearParent, ObjectiveID: w.ObjectiveID, RelatedID: w.RelatedID, Cause: w.Kind})
			add(Repair{Kind: DropChildLink, ObjectiveID: w.RelatedID, RelatedID: w.ObjectiveID, Cause: w.Kind})
		case MissingChildLink:
			if cleared[w.ObjectiveID] {
				continue
			}
			add(Repair{Kind: AddChildLink, ObjectiveID: w.RelatedID, RelatedID: w.ObjectiveID, Cause: w.Kind})
		case StaleChildLink:
			add(Repair{Kind: DropChildLink, ObjectiveID: w.ObjectiveID, RelatedID: w.RelatedID, Cause: w.Kind})
		}
	}
	return repairs
}
