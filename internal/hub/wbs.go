package hub

import "strconv"

// AssignWBS numbers a task forest: each task gets its 1-based position among
// siblings, dot-joined with the parent's prefix, recursing into children.
// Deterministic and idempotent; WBS is derived state and is never hand-set.
func AssignWBS(tasks []Task, parentWBS string) {
	for i := range tasks {
		wbs := strconv.Itoa(i + 1)
		if parentWBS != "" {
			wbs = parentWBS + "." + wbs
		}
		tasks[i].WBS = wbs
		if len(tasks[i].Children) > 0 {
			AssignWBS(tasks[i].Children, wbs)
		}
	}
}

// AssignAllWBS renumbers every area of every project. A full-document replace
// would otherwise overwrite sibling areas with stale positions from an old
// in-memory copy, so this runs before every write, not just over the area the
// local change touched.
func AssignAllWBS(doc *StateDocument) {
	if doc == nil {
		return
	}
	for pi := range doc.Projects {
		for ai := range doc.Projects[pi].Areas {
			area := &doc.Projects[pi].Areas[ai]
			if len(area.Tasks) > 0 {
				AssignWBS(area.Tasks, "")
			}
		}
	}
}

// FindTask walks an area's forest for the task holding the given WBS.
func FindTask(tasks []Task, wbs string) *Task {
	for i := range tasks {
		if tasks[i].WBS == wbs {
			return &tasks[i]
		}
		if found := FindTask(tasks[i].Children, wbs); found != nil {
			return found
		}
	}
	return nil
}
