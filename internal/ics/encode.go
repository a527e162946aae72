package ics

import (
	"io"
	"strconv"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"

	"github.com/KaleabTm/event-mangement-system/internal/model"
	"github.com/KaleabTm/event-mangement-system/internal/recurrence"
)

const (
	// ProductID is written to every exported calendar.
	ProductID = "-//Event Manager//Event Manager//EN"

	// DefaultCalendarName is used when an export has no name.
	DefaultCalendarName = "My Events"

	// UIDDomain is appended to event ids to form iCalendar UIDs.
	UIDDomain = "eventmanager.com"
)

// lineBreaks folds CRLF and bare CR into LF, which TEXT escaping turns
// into a literal \n. A raw CR must not reach a content line.
var lineBreaks = strings.NewReplacer("\r\n", "\n", "\r", "\n")

type encoder struct {
	now func() time.Time
}

// EncodeOption configures Encode and EncodeTo.
type EncodeOption func(*encoder)

// WithNow overrides the clock used for DTSTAMP.
func WithNow(now func() time.Time) EncodeOption {
	return func(e *encoder) { e.now = now }
}

// Encode renders events as a VCALENDAR document with CRLF line endings.
// Events are written in input order, one VEVENT each.
func Encode(events []model.Event, name string, opts ...EncodeOption) string {
	return build(events, name, opts).Serialize(ical.WithNewLineWindows)
}

// EncodeTo streams the output of Encode to w.
func EncodeTo(w io.Writer, events []model.Event, name string, opts ...EncodeOption) error {
	return build(events, name, opts).SerializeTo(w, ical.WithNewLineWindows)
}

func build(events []model.Event, name string, opts []EncodeOption) *ical.Calendar {
	enc := encoder{now: time.Now}
	for _, opt := range opts {
		opt(&enc)
	}
	if strings.TrimSpace(name) == "" {
		name = DefaultCalendarName
	}

	cal := ical.NewCalendarFor("Event Manager")
	cal.SetProductId(ProductID)
	cal.SetCalscale("GREGORIAN")
	cal.SetMethod(ical.MethodPublish)
	cal.SetXWRCalName(name)
	cal.SetXWRTimezone("UTC")

	stamp := enc.now().UTC()
	for _, ev := range events {
		addEvent(cal, ev, stamp)
	}
	return cal
}

func addEvent(cal *ical.Calendar, ev model.Event, stamp time.Time) {
	vev := cal.AddEvent(ev.ID + "@" + UIDDomain)
	vev.SetDtStampTime(stamp)

	if ev.AllDay {
		base := recurrence.Expand(ev.Start, ev.End, recurrence.None(), true)[0]
		vev.SetAllDayStartAt(base.Start)
		vev.SetAllDayEndAt(base.End)
	} else {
		vev.SetStartAt(ev.Start)
		vev.SetEndAt(ev.End)
	}

	vev.SetSummary(lineBreaks.Replace(ev.Title))
	if ev.Description != "" {
		vev.SetDescription(lineBreaks.Replace(ev.Description))
	}
	vev.AddCategory(ev.CalendarID)
	vev.SetStatus(ical.ObjectStatusConfirmed)
	vev.SetTimeTransparency(ical.TransparencyOpaque)

	if ev.Recurrence.IsRecurring() {
		vev.AddRrule(FormatRRule(ev.Recurrence))
	}
}

var weekdayCodes = [...]string{"SU", "MO", "TU", "WE", "TH", "FR", "SA"}

// FormatRRule renders the RRULE value of a recurring rule:
// FREQ, then INTERVAL when above one, BYDAY for custom rules, and finally
// UNTIL (date only) or COUNT. It returns "" for non-recurring rules.
func FormatRRule(r recurrence.Rule) string {
	if !r.IsRecurring() {
		return ""
	}
	parts := []string{"FREQ=" + strings.ToUpper(string(r.Frequency()))}
	if n := r.Interval(); n > 1 {
		parts = append(parts, "INTERVAL="+strconv.Itoa(n))
	}
	if r.Frequency() == recurrence.FrequencyCustom {
		if days := r.Weekdays(); len(days) > 0 {
			codes := make([]string, len(days))
			for i, d := range days {
				codes[i] = weekdayCodes[d]
			}
			parts = append(parts, "BYDAY="+strings.Join(codes, ","))
		}
	}
	if until, ok := r.EndDate(); ok {
		parts = append(parts, "UNTIL="+until.Format(dateLayout))
	} else {
		parts = append(parts, "COUNT="+strconv.Itoa(r.RepeatCount()))
	}
	return strings.Join(parts, ";")
}
