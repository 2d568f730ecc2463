package hub

import (
	"reflect"
	"testing"
)

func collectWBS(tasks []Task) []string {
	out := []string{}
	for _, task := range tasks {
		out = append(out, task.WBS)
		out = append(out, collectWBS(task.Children)...)
	}
	return out
}

func TestAssignWBSNumbersRootsAndChildren(t *testing.T) {
	tasks := []Task{
		{Name: "Demolition"},
		{Name: "Framing", Children: []Task{
			{Name: "Walls"},
			{Name: "Roof"},
		}},
		{Name: "Finishing"},
	}
	AssignWBS(tasks, "")

	got := collectWBS(tasks)
	want := []string{"1", "2", "2.1", "2.2", "3"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("expected wbs %v, got %v", want, got)
	}
}

func TestAssignWBSIsIdempotent(t *testing.T) {
	tasks := []Task{
		{Name: "a", WBS: "9.9"},
		{Name: "b", Children: []Task{{Name: "c", WBS: "stale"}}},
	}
	AssignWBS(tasks, "")
	first := collectWBS(tasks)
	AssignWBS(tasks, "")
	second := collectWBS(tasks)
	if !reflect.DeepEqual(first, second) {
		t.Fatalf("expected identical wbs after second run, got %v then %v", first, second)
	}
}

func TestAssignWBSSiblingsAreUnique(t *testing.T) {
	tasks := make([]Task, 12)
	AssignWBS(tasks, "4")
	seen := map[string]bool{}
	for _, task := range tasks {
		if seen[task.WBS] {
			t.Fatalf("duplicate sibling wbs %q", task.WBS)
		}
		seen[task.WBS] = true
	}
	if tasks[0].WBS != "4.1" || tasks[11].WBS != "4.12" {
		t.Fatalf("unexpected prefixed wbs: %q .. %q", tasks[0].WBS, tasks[11].WBS)
	}
}

func TestAssignAllWBSCoversEveryArea(t *testing.T) {
	doc := &StateDocument{
		Projects: []Project{
			{Name: "North", Areas: []Area{
				{Name: "Lobby", Tasks: []Task{{Name: "x", WBS: "stale"}}},
				{Name: "Garage", Tasks: []Task{{Name: "y", WBS: "stale"}, {Name: "z"}}},
			}},
			{Name: "South", Areas: []Area{
				{Name: "Yard", Tasks: []Task{{Name: "w"}}},
			}},
		},
	}
	AssignAllWBS(doc)

	for pi, project := range doc.Projects {
		for ai, area := range project.Areas {
			for ti, task := range area.Tasks {
				want := []string{"1", "2"}[ti]
				if task.WBS != want {
					t.Fatalf("project %d area %d task %d: expected wbs %q, got %q", pi, ai, ti, want, task.WBS)
				}
			}
		}
	}
}

func TestFindTaskWalksChildren(t *testing.T) {
	tasks := []Task{
		{Name: "top", Children: []Task{
			{Name: "mid", Children: []Task{{Name: "leaf"}}},
		}},
	}
	AssignWBS(tasks, "")

	found := FindTask(tasks, "1.1.1")
	if found == nil || found.Name != "leaf" {
		t.Fatalf("expected to find leaf at 1.1.1, got %+v", found)
	}
	if FindTask(tasks, "7.7") != nil {
		t.Fatalf("expected no match for absent wbs")
	}
}
