package recurrence

import (
	"encoding/json"

	"gopkg.in/yaml.v3"
)

// A Rule travels in JSON and YAML documents as its Fields form.

func (r Rule) MarshalJSON() ([]byte, error) {
	return json.Marshal(FieldsOf(r))
}

func (r *Rule) UnmarshalJSON(data []byte) error {
	var f Fields
	if err := json.Unmarshal(data, &f); err != nil {
		return err
	}
	rule, err := f.Rule()
	if err != nil {
		return err
	}
	*r = rule
	return nil
}

func (r Rule) MarshalYAML() (interface{}, error) {
	return FieldsOf(r), nil
}

func (r *Rule) UnmarshalYAML(node *yaml.Node) error {
	var f Fields
	if err := node.Decode(&f); err != nil {
		return err
	}
	rule, err := f.Rule()
	if err != nil {
		return err
	}
	*r = rule
	return nil
}

// IsZero lets yaml's omitempty drop non-recurring rules.
func (r Rule) IsZero() bool { return !r.IsRecurring() }
