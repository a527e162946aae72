package recurrence

import (
	"time"

	"github.com/teambition/rrule-go"

	appLog "github.com/KaleabTm/event-mangement-system/internal/log"
)

// SafetyCeiling bounds the number of candidates examined by one expansion,
// whatever the rule says.
const SafetyCeiling = 10000

// Instance is one concrete occurrence of a recurring event.
type Instance struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Duration is End - Start.
func (i Instance) Duration() time.Duration { return i.End.Sub(i.Start) }

// Expand returns the occurrences described by rule for an event whose
// first occurrence spans [baseStart, baseEnd). The base occurrence is
// always the first element. All instants are returned in UTC.
//
// With an end date, candidates starting on or after it are dropped;
// otherwise the result holds at most rule.RepeatCount() elements. A
// malformed rule never loops forever: expansion stops after SafetyCeiling
// candidates.
func Expand(baseStart, baseEnd time.Time, rule Rule, allDay bool) []Instance {
	return expand(baseStart, baseEnd, rule, allDay, 0)
}

// ExpandWithLimit is Expand with an extra cap on the number of instances,
// for callers that only want the next few occurrences. A limit <= 0 means
// no extra cap.
func ExpandWithLimit(baseStart, baseEnd time.Time, rule Rule, allDay bool, limit int) []Instance {
	return expand(baseStart, baseEnd, rule, allDay, limit)
}

// Between returns the instances of Expand that overlap [from, to).
func Between(baseStart, baseEnd time.Time, rule Rule, allDay bool, from, to time.Time) []Instance {
	all := Expand(baseStart, baseEnd, rule, allDay)
	out := make([]Instance, 0, len(all))
	for _, in := range all {
		if !in.Start.Before(to) {
			break
		}
		if in.End.After(from) || (in.End.Equal(in.Start) && !in.Start.Before(from)) {
			out = append(out, in)
		}
	}
	return out
}

func expand(baseStart, baseEnd time.Time, rule Rule, allDay bool, limit int) []Instance {
	start, span := normalize(baseStart.UTC(), baseEnd.UTC(), allDay)
	out := []Instance{{Start: start, End: start.Add(span)}}

	if !rule.IsRecurring() {
		return out
	}
	if rule.Frequency() == FrequencyCustom && len(rule.weekdays) == 0 {
		return out
	}

	until, bounded := rule.EndDate()
	want := rule.RepeatCount()
	if bounded {
		want = SafetyCeiling
	}
	if limit > 0 && limit < want {
		want = limit
	}

	r, err := rrule.NewRRule(options(rule, start))
	if err != nil {
		appLog.Error("recurrence: rule rejected by iterator", err, "frequency", rule.Frequency())
		return out
	}
	next := r.Iterator()

	// rrule-go truncates DTSTART to the second; the first candidate may be
	// the base occurrence itself.
	floor := start.Truncate(time.Second)
	for i := 0; len(out) < want; i++ {
		if i >= SafetyCeiling {
			appLog.Debug("recurrence: safety ceiling reached", "frequency", rule.Frequency(), "emitted", len(out))
			break
		}
		t, ok := next()
		if !ok {
			break
		}
		if !t.After(floor) {
			continue
		}
		if bounded && !t.Before(until) {
			break
		}
		out = append(out, Instance{Start: t, End: t.Add(span)})
	}
	return out
}

// normalize returns the start instant and span every instance uses. All-day
// events start at 00:00 UTC and last a whole number of days (at least one).
func normalize(start, end time.Time, allDay bool) (time.Time, time.Duration) {
	if !allDay {
		span := end.Sub(start)
		if span < 0 {
			span = 0
		}
		return start, span
	}
	day := truncateDay(start)
	days := int(truncateDay(end).Sub(day).Hours() / 24)
	if days < 1 {
		days = 1
	}
	return day, time.Duration(days) * 24 * time.Hour
}

var weekdayCodes = [...]rrule.Weekday{rrule.SU, rrule.MO, rrule.TU, rrule.WE, rrule.TH, rrule.FR, rrule.SA}

// RRuleWeekday maps a Go weekday to the iterator's weekday value.
func RRuleWeekday(d time.Weekday) rrule.Weekday {
	return weekdayCodes[d]
}

// FromRRuleWeekday is the inverse of RRuleWeekday.
func FromRRuleWeekday(w rrule.Weekday) time.Weekday {
	// rrule-go counts from Monday = 0.
	return time.Weekday((w.Day() + 1) % 7)
}

// horizon is the UNTIL handed to the iterator. Without one it stops about
// 292 years after DTSTART.
var horizon = time.Date(9999, time.December, 31, 23, 59, 59, 0, time.UTC)

// options translates the rule into iterator options. COUNT is left unset
// and UNTIL is pinned to horizon: termination is decided by expand so the
// base occurrence is always counted and the end date stays exclusive.
func options(rule Rule, dtstart time.Time) rrule.ROption {
	opt := rrule.ROption{
		Dtstart:  dtstart,
		Interval: rule.Interval(),
		Wkst:     rrule.SU,
		Until:    horizon,
	}
	switch rule.Frequency() {
	case FrequencyDaily:
		opt.Freq = rrule.DAILY
	case FrequencyWeekly:
		opt.Freq = rrule.WEEKLY
	case FrequencyMonthly:
		// Months without the start's day are skipped, not clamped.
		opt.Freq = rrule.MONTHLY
		opt.Bymonthday = []int{dtstart.Day()}
	case FrequencyYearly:
		opt.Freq = rrule.YEARLY
		opt.Bymonth = []int{int(dtstart.Month())}
		opt.Bymonthday = []int{dtstart.Day()}
	case FrequencyCustom:
		opt.Freq = rrule.WEEKLY
		for _, d := range rule.weekdays {
			opt.Byweekday = append(opt.Byweekday, RRuleWeekday(d))
		}
	}
	return opt
}
