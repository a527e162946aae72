package recurrence

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Frequency is the discriminant of a Rule.
type Frequency string

const (
	FrequencyNone    Frequency = "none"
	FrequencyDaily   Frequency = "daily"
	FrequencyWeekly  Frequency = "weekly"
	FrequencyMonthly Frequency = "monthly"
	FrequencyYearly  Frequency = "yearly"
	FrequencyCustom  Frequency = "custom"
)

// ParseFrequency accepts the lower- or upper-case name of a frequency.
func ParseFrequency(s string) (Frequency, error) {
	switch f := Frequency(strings.ToLower(strings.TrimSpace(s))); f {
	case FrequencyNone, FrequencyDaily, FrequencyWeekly, FrequencyMonthly, FrequencyYearly, FrequencyCustom:
		return f, nil
	case "":
		return FrequencyNone, nil
	}
	return "", &ValidationError{Field: "frequency", Value: s, Reason: "unknown frequency"}
}

// Bounds enforced by the constructors.
const (
	MinInterval       = 1
	MaxInterval       = 365
	MinRepeatCount    = 1
	MaxRepeatCount    = 999
	DefaultInterval   = 1
	DefaultRepeatCnt  = 10
	MinWeekdayOrdinal = 1
	MaxWeekdayOrdinal = 5
)

// ValidationError reports a rule field outside its allowed range.
type ValidationError struct {
	Field  string
	Value  any
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid recurrence %s %v: %s", e.Field, e.Value, e.Reason)
}

// End is the termination condition of a recurring rule: either an
// exclusive end date or a total instance count.
type End struct {
	until time.Time
	count int
}

// Until ends the recurrence before the given calendar date. Only the UTC
// date part is kept.
func Until(date time.Time) End {
	return End{until: truncateDay(date)}
}

// Count ends the recurrence after n instances, the base instance included.
func Count(n int) End {
	return End{count: n}
}

// DefaultEnd is Count(10).
func DefaultEnd() End {
	return Count(DefaultRepeatCnt)
}

// Date returns the end date, if the end is date-bound.
func (e End) Date() (time.Time, bool) {
	return e.until, !e.until.IsZero()
}

// Count returns the instance cap; DefaultRepeatCnt when date-bound.
func (e End) Count() int {
	if !e.until.IsZero() || e.count == 0 {
		return DefaultRepeatCnt
	}
	return e.count
}

func (e End) validate() error {
	if !e.until.IsZero() {
		return nil
	}
	if e.count < MinRepeatCount || e.count > MaxRepeatCount {
		return &ValidationError{Field: "repeat_count", Value: e.count, Reason: "must be between 1 and 999"}
	}
	return nil
}

// MonthlyMode selects how a monthly rule picks its day.
type MonthlyMode struct {
	ordinal int
}

// ByDate repeats on the same day of the month.
func ByDate() MonthlyMode { return MonthlyMode{} }

// ByWeekdayOrdinal repeats on the n-th weekday of the month. Expansion
// currently treats it exactly like ByDate.
func ByWeekdayOrdinal(n int) MonthlyMode { return MonthlyMode{ordinal: n} }

// IsByWeekdayOrdinal reports whether the mode is the ordinal-weekday one.
func (m MonthlyMode) IsByWeekdayOrdinal() bool { return m.ordinal != 0 }

// Ordinal returns the weekday ordinal (1..5), or 0 for ByDate.
func (m MonthlyMode) Ordinal() int { return m.ordinal }

func (m MonthlyMode) String() string {
	if m.IsByWeekdayOrdinal() {
		return "weekday"
	}
	return "date"
}

// WeekdaySet is an ordered, duplicate-free set of weekdays (0 = Sunday).
type WeekdaySet []time.Weekday

// NewWeekdaySet collapses duplicates and sorts. Values outside 0..6 are
// rejected.
func NewWeekdaySet(days ...int) (WeekdaySet, error) {
	seen := make(map[int]bool, len(days))
	out := make(WeekdaySet, 0, len(days))
	for _, d := range days {
		if d < 0 || d > 6 {
			return nil, &ValidationError{Field: "weekdays", Value: d, Reason: "must be between 0 and 6"}
		}
		if seen[d] {
			continue
		}
		seen[d] = true
		out = append(out, time.Weekday(d))
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

// Contains reports whether d is in the set.
func (s WeekdaySet) Contains(d time.Weekday) bool {
	for _, w := range s {
		if w == d {
			return true
		}
	}
	return false
}

// Ints returns the set as plain integers.
func (s WeekdaySet) Ints() []int {
	out := make([]int, len(s))
	for i, d := range s {
		out[i] = int(d)
	}
	return out
}

// Rule is an immutable recurrence definition. The zero value does not
// recur. Rules are built through the per-frequency constructors, which
// validate their arguments; fields that only make sense for one frequency
// (weekdays, monthly mode) can only be set through that frequency's
// constructor.
type Rule struct {
	freq     Frequency
	interval int
	weekdays WeekdaySet
	monthly  MonthlyMode
	end      End
}

// None is the non-recurring rule.
func None() Rule { return Rule{} }

func Daily(interval int, end End) (Rule, error) {
	return build(Rule{freq: FrequencyDaily, interval: interval, end: end})
}

func Weekly(interval int, end End) (Rule, error) {
	return build(Rule{freq: FrequencyWeekly, interval: interval, end: end})
}

func Monthly(interval int, mode MonthlyMode, end End) (Rule, error) {
	if mode.IsByWeekdayOrdinal() && (mode.ordinal < MinWeekdayOrdinal || mode.ordinal > MaxWeekdayOrdinal) {
		return Rule{}, &ValidationError{Field: "weekday_ordinal", Value: mode.ordinal, Reason: "must be between 1 and 5"}
	}
	return build(Rule{freq: FrequencyMonthly, interval: interval, monthly: mode, end: end})
}

func Yearly(interval int, end End) (Rule, error) {
	return build(Rule{freq: FrequencyYearly, interval: interval, end: end})
}

// Custom repeats on the given weekdays, every interval weeks. An empty
// set is accepted and expands to the base instance only.
func Custom(interval int, weekdays WeekdaySet, end End) (Rule, error) {
	set, err := NewWeekdaySet(weekdays.Ints()...)
	if err != nil {
		return Rule{}, err
	}
	return build(Rule{freq: FrequencyCustom, interval: interval, weekdays: set, end: end})
}

func build(r Rule) (Rule, error) {
	if err := r.Validate(); err != nil {
		return Rule{}, err
	}
	return r, nil
}

// Validate checks the rule's invariants. Rules obtained from the
// constructors are always valid.
func (r Rule) Validate() error {
	if !r.IsRecurring() {
		return nil
	}
	if r.interval < MinInterval || r.interval > MaxInterval {
		return &ValidationError{Field: "interval", Value: r.interval, Reason: "must be between 1 and 365"}
	}
	for _, d := range r.weekdays {
		if d < time.Sunday || d > time.Saturday {
			return &ValidationError{Field: "weekdays", Value: int(d), Reason: "must be between 0 and 6"}
		}
	}
	return r.end.validate()
}

func (r Rule) Frequency() Frequency {
	if r.freq == "" {
		return FrequencyNone
	}
	return r.freq
}

// IsRecurring is false for the none frequency.
func (r Rule) IsRecurring() bool { return r.Frequency() != FrequencyNone }

// Interval is 1 for non-recurring rules.
func (r Rule) Interval() int {
	if r.interval == 0 {
		return DefaultInterval
	}
	return r.interval
}

// Weekdays is non-nil only for custom rules. The returned slice is a copy.
func (r Rule) Weekdays() WeekdaySet {
	if r.weekdays == nil {
		return nil
	}
	return append(WeekdaySet{}, r.weekdays...)
}

// MonthlyMode is meaningful only for monthly rules.
func (r Rule) MonthlyMode() MonthlyMode { return r.monthly }

func (r Rule) End() End { return r.end }

func (r Rule) EndDate() (time.Time, bool) { return r.end.Date() }

func (r Rule) RepeatCount() int { return r.end.Count() }

// String is the short human label shown next to recurring events.
func (r Rule) String() string {
	n := r.Interval()
	switch r.Frequency() {
	case FrequencyDaily:
		return every(n, "Daily", "days")
	case FrequencyWeekly:
		return every(n, "Weekly", "weeks")
	case FrequencyMonthly:
		return every(n, "Monthly", "months")
	case FrequencyYearly:
		return "Yearly"
	case FrequencyCustom:
		return "Custom"
	}
	return ""
}

func every(n int, one, unit string) string {
	if n == 1 {
		return one
	}
	return "Every " + strconv.Itoa(n) + " " + unit
}

func truncateDay(t time.Time) time.Time {
	if t.IsZero() {
		return t
	}
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
