package hub

import "encoding/json"

// Record is a loosely-typed collection entry: the fields the core needs to
// address plus an open extension map that round-trips everything else
// verbatim. A known field stays in Extra when its JSON value is not a string.
type Record struct {
	ID    string
	Name  string
	Extra map[string]any
}

// Project contains areas; Area contains the task forest for its tasks.
// Both keep unrecognized fields in an extension map like Record does.
type Project struct {
	ID    string
	Name  string
	Areas []Area
	Extra map[string]any
}

type Area struct {
	ID    string
	Name  string
	Tasks []Task
	Extra map[string]any
}

// Task carries a derived WBS position string, the fields the sync core
// inspects, an optional child forest, and an open extension map for
// everything else.
type Task struct {
	ID       string
	Name     string
	Status   string
	Assignee string
	WBS      string
	Children []Task
	Extra    map[string]any
}

func takeString(fields map[string]any, key string) string {
	raw, ok := fields[key]
	if !ok {
		return ""
	}
	value, ok := raw.(string)
	if !ok {
		return ""
	}
	delete(fields, key)
	return value
}

func putString(fields map[string]any, key, value string) {
	if value != "" {
		fields[key] = value
	}
}

func (r *Record) UnmarshalJSON(data []byte) error {
	fields := map[string]any{}
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}
	r.ID = takeString(fields, "id")
	r.Name = takeString(fields, "name")
	if len(fields) > 0 {
		r.Extra = fields
	} else {
		r.Extra = nil
	}
	return nil
}

func (r Record) MarshalJSON() ([]byte, error) {
	fields := make(map[string]any, len(r.Extra)+2)
	for key, value := range r.Extra {
		fields[key] = value
	}
	putString(fields, "id", r.ID)
	putString(fields, "name", r.Name)
	return json.Marshal(fields)
}

func (p *Project) UnmarshalJSON(data []byte) error {
	var raw struct {
		Areas []Area `json:"areas"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	fields := map[string]any{}
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}
	delete(fields, "areas")
	p.ID = takeString(fields, "id")
	p.Name = takeString(fields, "name")
	p.Areas = raw.Areas
	if len(fields) > 0 {
		p.Extra = fields
	} else {
		p.Extra = nil
	}
	return nil
}

func (p Project) MarshalJSON() ([]byte, error) {
	fields := make(map[string]any, len(p.Extra)+3)
	for key, value := range p.Extra {
		fields[key] = value
	}
	putString(fields, "id", p.ID)
	putString(fields, "name", p.Name)
	if p.Areas == nil {
		fields["areas"] = []Area{}
	} else {
		fields["areas"] = p.Areas
	}
	return json.Marshal(fields)
}

func (a *Area) UnmarshalJSON(data []byte) error {
	var raw struct {
		Tasks []Task `json:"tasks"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	fields := map[string]any{}
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}
	delete(fields, "tasks")
	a.ID = takeString(fields, "id")
	a.Name = takeString(fields, "name")
	a.Tasks = raw.Tasks
	if len(fields) > 0 {
		a.Extra = fields
	} else {
		a.Extra = nil
	}
	return nil
}

func (a Area) MarshalJSON() ([]byte, error) {
	fields := make(map[string]any, len(a.Extra)+3)
	for key, value := range a.Extra {
		fields[key] = value
	}
	putString(fields, "id", a.ID)
	putString(fields, "name", a.Name)
	if a.Tasks == nil {
		fields["tasks"] = []Task{}
	} else {
		fields["tasks"] = a.Tasks
	}
	return json.Marshal(fields)
}

func (t *Task) UnmarshalJSON(data []byte) error {
	var raw struct {
		Children []Task `json:"children"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	fields := map[string]any{}
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}
	delete(fields, "children")
	t.ID = takeString(fields, "id")
	t.Name = takeString(fields, "name")
	t.Status = takeString(fields, "status")
	t.Assignee = takeString(fields, "assignee")
	t.WBS = takeString(fields, "wbs")
	t.Children = raw.Children
	if len(fields) > 0 {
		t.Extra = fields
	} else {
		t.Extra = nil
	}
	return nil
}

func (t Task) MarshalJSON() ([]byte, error) {
	fields := make(map[string]any, len(t.Extra)+6)
	for key, value := range t.Extra {
		fields[key] = value
	}
	putString(fields, "id", t.ID)
	putString(fields, "name", t.Name)
	putString(fields, "status", t.Status)
	putString(fields, "assignee", t.Assignee)
	putString(fields, "wbs", t.WBS)
	if len(t.Children) > 0 {
		fields["children"] = t.Children
	}
	return json.Marshal(fields)
}
