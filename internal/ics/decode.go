package ics

import (
	"errors"
	"fmt"
	"strings"
	"time"
	_ "time/tzdata"

	ical "github.com/arran4/golang-ical"

	appLog "github.com/KaleabTm/event-mangement-system/internal/log"
	"github.com/KaleabTm/event-mangement-system/internal/model"
	"github.com/KaleabTm/event-mangement-system/internal/recurrence"
)

const (
	dateLayout     = "20060102"
	dateTimeLayout = "20060102T150405"
)

var (
	// ErrMissingWrapper is returned when the text is not enclosed in
	// BEGIN:VCALENDAR / END:VCALENDAR.
	ErrMissingWrapper = errors.New("missing VCALENDAR wrapper")

	// ErrMissingField marks a VEVENT without DTSTART or SUMMARY.
	ErrMissingField = errors.New("missing required property")
)

// ParseError describes a decoding failure. Block is the zero-based index
// of the offending VEVENT, or -1 when the whole document is rejected.
type ParseError struct {
	Block int
	Field string
	Err   error
}

func (e *ParseError) Error() string {
	switch {
	case e.Block < 0:
		return "ics: " + e.Err.Error()
	case e.Field == "":
		return fmt.Sprintf("ics: event %d: %v", e.Block, e.Err)
	}
	return fmt.Sprintf("ics: event %d: %s: %v", e.Block, e.Field, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// Decoded is one VEVENT read back from a document.
type Decoded struct {
	// Block is the zero-based index of the VEVENT in its document.
	Block       int             `json:"block"`
	UID         string          `json:"uid"`
	Title       string          `json:"title"`
	Description string          `json:"description,omitempty"`
	Start       time.Time       `json:"start"`
	End         time.Time       `json:"end"`
	AllDay      bool            `json:"all_day"`
	CalendarID  string          `json:"calendar_id,omitempty"`
	Recurrence  recurrence.Rule `json:"recurrence"`
}

// Event converts d into a model event. The id is the UID up to the first
// '@', so UIDs produced by Encode map back to the event ids they came from.
func (d Decoded) Event() model.Event {
	id, _, _ := strings.Cut(d.UID, "@")
	return model.Event{
		ID:          id,
		Title:       d.Title,
		Description: d.Description,
		Start:       d.Start,
		End:         d.End,
		AllDay:      d.AllDay,
		CalendarID:  d.CalendarID,
		Recurrence:  d.Recurrence,
	}
}

// Result holds the events that decoded cleanly and one error per VEVENT
// that did not.
type Result struct {
	Events []Decoded
	Errors []*ParseError
}

// Decode parses an iCalendar document. A missing wrapper or a calendar
// header the parser cannot read fails as a whole. Each VEVENT is parsed on
// its own: a broken one, down to an unreadable content line, is reported
// in Result.Errors and the remaining events still decode.
func Decode(text string) (Result, error) {
	body := strings.TrimSpace(strings.TrimPrefix(text, "\ufeff"))
	if !strings.HasPrefix(body, "BEGIN:VCALENDAR") || !strings.HasSuffix(body, "END:VCALENDAR") {
		return Result{}, &ParseError{Block: -1, Err: ErrMissingWrapper}
	}

	skeleton, blocks := splitEvents(body)
	if _, err := ical.ParseCalendar(strings.NewReader(skeleton)); err != nil {
		return Result{}, &ParseError{Block: -1, Err: err}
	}

	var res Result
	for i, block := range blocks {
		d, perr := decodeBlock(i, block)
		if perr != nil {
			appLog.Error("ics vevent skipped", perr, "block", i, "field", perr.Field)
			res.Errors = append(res.Errors, perr)
			continue
		}
		res.Events = append(res.Events, d)
	}

	appLog.Debug("ics decode completed", "event_count", len(res.Events), "error_count", len(res.Errors))
	return res, nil
}

// eventBlock holds the raw lines of one VEVENT, BEGIN and END included.
type eventBlock struct {
	lines      []string
	terminated bool
}

// splitEvents cuts the document into its VEVENT blocks and a skeleton
// calendar holding everything else. Nested components such as VALARM stay
// inside their event.
func splitEvents(body string) (string, []eventBlock) {
	var (
		skeleton []string
		blocks   []eventBlock
		cur      *eventBlock
		depth    int
	)
	for _, line := range strings.Split(body, "\n") {
		line = strings.TrimRight(line, "\r")
		// Folded continuations never open or close a component.
		upper := ""
		if !strings.HasPrefix(line, " ") && !strings.HasPrefix(line, "\t") {
			upper = strings.ToUpper(strings.TrimSpace(line))
		}
		if cur == nil {
			if upper == "BEGIN:VEVENT" {
				cur = &eventBlock{lines: []string{line}}
				depth = 0
				continue
			}
			skeleton = append(skeleton, line)
			continue
		}

		// A new calendar-level boundary before END:VEVENT means the block
		// was never closed.
		if depth == 0 && (upper == "BEGIN:VEVENT" || upper == "END:VCALENDAR") {
			blocks = append(blocks, *cur)
			cur = nil
			if upper == "BEGIN:VEVENT" {
				cur = &eventBlock{lines: []string{line}}
			} else {
				skeleton = append(skeleton, line)
			}
			continue
		}

		cur.lines = append(cur.lines, line)
		switch {
		case upper == "END:VEVENT" && depth == 0:
			cur.terminated = true
			blocks = append(blocks, *cur)
			cur = nil
		case strings.HasPrefix(upper, "BEGIN:"):
			depth++
		case strings.HasPrefix(upper, "END:") && depth > 0:
			depth--
		}
	}
	if cur != nil {
		blocks = append(blocks, *cur)
	}
	return strings.Join(skeleton, "\r\n") + "\r\n", blocks
}

// decodeBlock parses one VEVENT wrapped in a minimal calendar.
func decodeBlock(i int, block eventBlock) (Decoded, *ParseError) {
	if !block.terminated {
		return Decoded{}, &ParseError{Block: i, Err: errors.New("unterminated VEVENT")}
	}
	doc := "BEGIN:VCALENDAR\r\n" + strings.Join(block.lines, "\r\n") + "\r\nEND:VCALENDAR\r\n"
	cal, err := ical.ParseCalendar(strings.NewReader(doc))
	if err != nil {
		return Decoded{}, &ParseError{Block: i, Err: err}
	}
	events := cal.Events()
	if len(events) != 1 {
		return Decoded{}, &ParseError{Block: i, Err: fmt.Errorf("expected one VEVENT, got %d", len(events))}
	}
	return decodeEvent(i, events[0])
}

// DecodeStrict is Decode, failing on the first broken VEVENT.
func DecodeStrict(text string) ([]Decoded, error) {
	res, err := Decode(text)
	if err != nil {
		return nil, err
	}
	if len(res.Errors) > 0 {
		return nil, res.Errors[0]
	}
	return res.Events, nil
}

func decodeEvent(block int, vev *ical.VEvent) (Decoded, *ParseError) {
	var out Decoded
	fail := func(field string, err error) (Decoded, *ParseError) {
		return Decoded{}, &ParseError{Block: block, Field: field, Err: err}
	}

	out.Block = block
	out.UID = vev.Id()

	summary := vev.GetProperty(ical.ComponentPropertySummary)
	if summary == nil {
		return fail(string(ical.ComponentPropertySummary), ErrMissingField)
	}
	out.Title = summary.Value

	dtStart := vev.GetProperty(ical.ComponentPropertyDtStart)
	if dtStart == nil {
		return fail(string(ical.ComponentPropertyDtStart), ErrMissingField)
	}
	start, allDay, err := parseDateProperty(dtStart)
	if err != nil {
		return fail(string(ical.ComponentPropertyDtStart), err)
	}
	out.Start = start
	out.AllDay = allDay

	// Without DTEND a timed event is instantaneous and an all-day event
	// covers its start date.
	switch dtEnd := vev.GetProperty(ical.ComponentPropertyDtEnd); {
	case dtEnd != nil:
		end, _, err := parseDateProperty(dtEnd)
		if err != nil {
			return fail(string(ical.ComponentPropertyDtEnd), err)
		}
		out.End = end
	case allDay:
		out.End = start.AddDate(0, 0, 1)
	default:
		out.End = start
	}

	if p := vev.GetProperty(ical.ComponentPropertyDescription); p != nil {
		out.Description = p.Value
	}
	if p := vev.GetProperty(ical.ComponentPropertyCategories); p != nil {
		out.CalendarID = p.Value
	}

	if p := vev.GetProperty(ical.ComponentPropertyRrule); p != nil {
		rule, err := ParseRRule(p.Value)
		if err != nil {
			return fail(string(ical.ComponentPropertyRrule), err)
		}
		out.Recurrence = rule
	}

	return out, nil
}

// parseDateProperty reads a DTSTART/DTEND value as a UTC instant and
// reports whether it is a DATE (all-day) value. Date values are read in
// UTC; date-times honor TZID when the zone is known and fall back to UTC.
func parseDateProperty(p *ical.IANAProperty) (time.Time, bool, error) {
	val := strings.TrimSpace(p.Value)

	isDate := !strings.Contains(val, "T")
	if vs := p.ICalParameters[string(ical.ParameterValue)]; len(vs) > 0 && strings.EqualFold(vs[0], "DATE") {
		isDate = true
	}
	if isDate {
		t, err := time.ParseInLocation(dateLayout, val, time.UTC)
		return t, true, err
	}

	loc := time.UTC
	if tzs := p.ICalParameters[string(ical.ParameterTzid)]; len(tzs) > 0 {
		if l, err := time.LoadLocation(tzs[0]); err == nil {
			loc = l
		}
	}
	t, err := parseTime(val, loc)
	if err != nil {
		return time.Time{}, false, err
	}
	return t.UTC(), false, nil
}

// parseTime parses a basic date-time value. Values with a trailing Z are
// UTC; floating values are read in loc.
func parseTime(v string, loc *time.Location) (time.Time, error) {
	if v == "" {
		return time.Time{}, errors.New("empty time value")
	}
	if strings.HasSuffix(v, "Z") {
		return time.Parse(dateTimeLayout+"Z", v)
	}
	return time.ParseInLocation(dateTimeLayout, v, loc)
}
