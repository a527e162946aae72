package recurrence

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
)

// DateLayout is the wire layout of Fields.EndDate.
const DateLayout = "2006-01-02"

// Fields is the flat wire form of a Rule as it appears in event payloads
// and the events file. Zero values mean "use the default".
type Fields struct {
	Frequency      string `yaml:"frequency" json:"frequency"`
	Interval       int    `yaml:"interval,omitempty" json:"interval,omitempty" validate:"omitempty,min=1,max=365"`
	Weekdays       []int  `yaml:"weekdays,omitempty" json:"weekdays,omitempty" validate:"omitempty,dive,min=0,max=6"`
	MonthlyType    string `yaml:"monthly_type,omitempty" json:"monthly_type,omitempty" validate:"omitempty,oneof=date weekday"`
	WeekdayOrdinal int    `yaml:"weekday_ordinal,omitempty" json:"weekday_ordinal,omitempty" validate:"omitempty,min=1,max=5"`
	EndDate        string `yaml:"end_date,omitempty" json:"end_date,omitempty"`
	RepeatCount    int    `yaml:"repeat_count,omitempty" json:"repeat_count,omitempty" validate:"omitempty,min=1,max=999"`
}

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

// Validator returns the shared validator, configured to report fields by
// their wire names.
func Validator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New()
		validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
			name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
			if name == "-" || name == "" {
				return fld.Name
			}
			return name
		})
	})
	return validate
}

// Rule validates the fields and builds the matching Rule. When both an end
// date and a repeat count are given, the end date wins.
func (f Fields) Rule() (Rule, error) {
	if err := Validator().Struct(f); err != nil {
		return Rule{}, FromValidator(err)
	}
	freq, err := ParseFrequency(f.Frequency)
	if err != nil {
		return Rule{}, err
	}
	if freq == FrequencyNone {
		return None(), nil
	}

	interval := f.Interval
	if interval == 0 {
		interval = DefaultInterval
	}
	end, err := f.end()
	if err != nil {
		return Rule{}, err
	}

	switch freq {
	case FrequencyDaily:
		return Daily(interval, end)
	case FrequencyWeekly:
		return Weekly(interval, end)
	case FrequencyMonthly:
		mode := ByDate()
		if f.MonthlyType == "weekday" {
			n := f.WeekdayOrdinal
			if n == 0 {
				n = MinWeekdayOrdinal
			}
			mode = ByWeekdayOrdinal(n)
		}
		return Monthly(interval, mode, end)
	case FrequencyYearly:
		return Yearly(interval, end)
	default:
		set, err := NewWeekdaySet(f.Weekdays...)
		if err != nil {
			return Rule{}, err
		}
		return Custom(interval, set, end)
	}
}

func (f Fields) end() (End, error) {
	if s := strings.TrimSpace(f.EndDate); s != "" {
		t, err := ParseDate(s)
		if err != nil {
			return End{}, &ValidationError{Field: "end_date", Value: s, Reason: "expected YYYY-MM-DD or RFC 3339"}
		}
		return Until(t), nil
	}
	if f.RepeatCount == 0 {
		return DefaultEnd(), nil
	}
	return Count(f.RepeatCount), nil
}

// ParseDate accepts a plain date or an RFC 3339 timestamp.
func ParseDate(s string) (time.Time, error) {
	if t, err := time.Parse(DateLayout, s); err == nil {
		return t, nil
	}
	return time.Parse(time.RFC3339, s)
}

// FieldsOf is the inverse of Fields.Rule.
func FieldsOf(r Rule) Fields {
	f := Fields{Frequency: string(r.Frequency())}
	if !r.IsRecurring() {
		return f
	}
	f.Interval = r.Interval()
	switch r.Frequency() {
	case FrequencyCustom:
		f.Weekdays = r.weekdays.Ints()
	case FrequencyMonthly:
		f.MonthlyType = r.monthly.String()
		f.WeekdayOrdinal = r.monthly.Ordinal()
	}
	if d, ok := r.EndDate(); ok {
		f.EndDate = d.Format(DateLayout)
	} else {
		f.RepeatCount = r.RepeatCount()
	}
	return f
}

// FromValidator turns the first validator failure into a ValidationError.
// Other errors are returned unchanged.
func FromValidator(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return err
	}
	fe := verrs[0]
	reason := fe.Tag()
	if fe.Param() != "" {
		reason = fmt.Sprintf("%s=%s", fe.Tag(), fe.Param())
	}
	return &ValidationError{Field: fe.Field(), Value: fe.Value(), Reason: "failed " + reason}
}
