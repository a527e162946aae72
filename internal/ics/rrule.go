package ics

import (
	"fmt"
	"strings"

	"github.com/teambition/rrule-go"

	"github.com/KaleabTm/event-mangement-system/internal/recurrence"
)

// ParseRRule reads an RRULE value into a Rule. Besides the standard
// frequencies it accepts FREQ=CUSTOM, as written by FormatRRule for
// weekday-set rules. A WEEKLY rule with BYDAY from another producer is read
// as a custom rule. Without UNTIL or COUNT the default count applies.
func ParseRRule(value string) (recurrence.Rule, error) {
	parts := strings.Split(strings.TrimPrefix(strings.TrimSpace(value), "RRULE:"), ";")
	custom := false
	for i, p := range parts {
		if strings.EqualFold(p, "FREQ=CUSTOM") {
			parts[i] = "FREQ=WEEKLY"
			custom = true
		}
	}

	opt, err := rrule.StrToROption(strings.Join(parts, ";"))
	if err != nil {
		return recurrence.Rule{}, fmt.Errorf("parse rrule %q: %w", value, err)
	}

	interval := opt.Interval
	if interval == 0 {
		interval = recurrence.DefaultInterval
	}
	end := recurrence.DefaultEnd()
	switch {
	case !opt.Until.IsZero():
		end = recurrence.Until(opt.Until)
	case opt.Count > 0:
		end = recurrence.Count(opt.Count)
	}

	switch opt.Freq {
	case rrule.DAILY:
		return recurrence.Daily(interval, end)
	case rrule.WEEKLY:
		if !custom && len(opt.Byweekday) == 0 {
			return recurrence.Weekly(interval, end)
		}
		days := make([]int, 0, len(opt.Byweekday))
		for _, wd := range opt.Byweekday {
			days = append(days, int(recurrence.FromRRuleWeekday(wd)))
		}
		set, err := recurrence.NewWeekdaySet(days...)
		if err != nil {
			return recurrence.Rule{}, err
		}
		return recurrence.Custom(interval, set, end)
	case rrule.MONTHLY:
		return recurrence.Monthly(interval, recurrence.ByDate(), end)
	case rrule.YEARLY:
		return recurrence.Yearly(interval, end)
	}
	return recurrence.Rule{}, fmt.Errorf("unsupported rrule frequency %s", opt.Freq)
}
