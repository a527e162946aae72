package model

import (
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/KaleabTm/event-mangement-system/internal/recurrence"
)

// Calendar groups events. Invisible calendars are left out of the default
// event listings and exports.
type Calendar struct {
	ID          string `yaml:"id" json:"id" validate:"required"`
	Name        string `yaml:"name" json:"name" validate:"required,max=100"`
	Description string `yaml:"description,omitempty" json:"description,omitempty"`
	Color       string `yaml:"color,omitempty" json:"color,omitempty" validate:"omitempty,len=7,hexcolor"`
	Visible     bool   `yaml:"visible" json:"visible"`
}

// UnmarshalYAML makes calendars visible unless the file says otherwise.
func (c *Calendar) UnmarshalYAML(node *yaml.Node) error {
	type plain Calendar
	p := plain{Visible: true}
	if err := node.Decode(&p); err != nil {
		return err
	}
	*c = Calendar(p)
	return nil
}

// Event is a calendar event before recurrence expansion. Start and End
// describe the first occurrence.
type Event struct {
	ID          string          `yaml:"id" json:"id"`
	Title       string          `yaml:"title" json:"title" validate:"required,max=100"`
	Description string          `yaml:"description,omitempty" json:"description,omitempty"`
	Start       time.Time       `yaml:"start" json:"start" validate:"required"`
	End         time.Time       `yaml:"end" json:"end" validate:"required,gtefield=Start"`
	AllDay      bool            `yaml:"all_day,omitempty" json:"all_day"`
	Color       string          `yaml:"color,omitempty" json:"color,omitempty" validate:"omitempty,len=7,hexcolor"`
	CalendarID  string          `yaml:"calendar_id" json:"calendar_id" validate:"required"`
	Recurrence  recurrence.Rule `yaml:"recurrence,omitempty" json:"recurrence"`
}

// ValidationError reports the first invalid field of an event or calendar.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// Validate checks the fields a user can get wrong in a form, then the
// recurrence rule.
func (e Event) Validate() error {
	if err := check(e); err != nil {
		return err
	}
	return e.Recurrence.Validate()
}

func (c Calendar) Validate() error {
	return check(c)
}

func check(v any) error {
	err := recurrence.Validator().Struct(v)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return err
	}
	fe := verrs[0]
	return &ValidationError{Field: fe.Field(), Reason: reason(fe)}
}

func reason(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "max":
		return "must be at most " + fe.Param() + " characters"
	case "gtefield":
		return "must not be before " + fe.Param()
	case "len", "hexcolor":
		return "must be a #RRGGBB color"
	}
	return "failed " + fe.Tag()
}

// Expand returns the event's occurrences, the first one included.
func (e Event) Expand() []Occurrence {
	return e.Occurrences(recurrence.Expand(e.Start, e.End, e.Recurrence, e.AllDay))
}

// Occurrences wraps expanded instances of e for API consumers.
func (e Event) Occurrences(instances []recurrence.Instance) []Occurrence {
	out := make([]Occurrence, len(instances))
	for i, in := range instances {
		out[i] = Occurrence{
			EventID:     e.ID,
			CalendarID:  e.CalendarID,
			Title:       e.Title,
			AllDay:      e.AllDay,
			Start:       in.Start,
			End:         in.End,
			InstanceKey: e.ID + "/" + in.Start.Format(time.RFC3339),
		}
	}
	return out
}

// Occurrence is a single concrete instance of an event, in UTC.
type Occurrence struct {
	EventID    string `json:"event_id"`
	CalendarID string `json:"calendar_id"`
	Title      string `json:"title"`
	AllDay     bool   `json:"all_day"`

	Start time.Time `json:"start"`
	End   time.Time `json:"end"`

	// InstanceKey identifies one occurrence of a recurring event.
	InstanceKey string `json:"instance_key"`
}
