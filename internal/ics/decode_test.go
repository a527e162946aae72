package ics

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/KaleabTm/event-mangement-system/internal/model"
	"github.com/KaleabTm/event-mangement-system/internal/recurrence"
)

func crlf(ls ...string) string {
	return strings.Join(ls, "\r\n") + "\r\n"
}

func TestRoundTrip(t *testing.T) {
	weekdays, err := recurrence.NewWeekdaySet(1, 3, 5)
	require.NoError(t, err)

	events := []model.Event{
		{
			ID:          "a1",
			Title:       "Dinner, drinks",
			Description: "bring:\nwine; cheese \\ bread",
			Start:       time.Date(2024, 2, 3, 19, 0, 0, 0, time.UTC),
			End:         time.Date(2024, 2, 3, 21, 30, 0, 0, time.UTC),
			CalendarID:  "personal",
			Recurrence:  mustRule(t)(recurrence.Daily(3, recurrence.Count(7))),
		},
		{
			ID:         "a2",
			Title:      "Conference",
			Start:      time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC),
			End:        time.Date(2024, 3, 7, 0, 0, 0, 0, time.UTC),
			AllDay:     true,
			CalendarID: "work",
			Recurrence: mustRule(t)(recurrence.Yearly(1, recurrence.Until(time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)))),
		},
		{
			ID:         "a3",
			Title:      "Gym",
			Start:      time.Date(2024, 1, 1, 6, 0, 0, 0, time.UTC),
			End:        time.Date(2024, 1, 1, 7, 0, 0, 0, time.UTC),
			CalendarID: "personal",
			Recurrence: mustRule(t)(recurrence.Custom(2, weekdays, recurrence.Count(12))),
		},
		{
			ID:         "a4",
			Title:      "Rent",
			Start:      time.Date(2024, 1, 31, 9, 0, 0, 0, time.UTC),
			End:        time.Date(2024, 1, 31, 9, 0, 0, 0, time.UTC),
			CalendarID: "home",
			Recurrence: mustRule(t)(recurrence.Monthly(1, recurrence.ByDate(), recurrence.DefaultEnd())),
		},
		{
			ID:         "a5",
			Title:      strings.Repeat("long title ", 9),
			Start:      time.Date(2024, 1, 1, 6, 0, 0, 0, time.UTC),
			End:        time.Date(2024, 1, 1, 7, 0, 0, 0, time.UTC),
			CalendarID: "c",
		},
	}

	got, err := DecodeStrict(Encode(events, "Mine", fixedNow))
	require.NoError(t, err)
	require.Len(t, got, len(events))

	for i, want := range events {
		assert.Equal(t, want, got[i].Event(), "event %d", i)
		assert.Equal(t, want.ID+"@"+UIDDomain, got[i].UID)
	}
}

func TestDecode_MissingWrapper(t *testing.T) {
	for _, text := range []string{
		"",
		crlf("BEGIN:VEVENT", "SUMMARY:x", "DTSTART:20240101T100000Z", "END:VEVENT"),
		crlf("BEGIN:VCALENDAR", "VERSION:2.0"),
	} {
		_, err := Decode(text)
		var perr *ParseError
		require.True(t, errors.As(err, &perr), "expected ParseError for %q", text)
		assert.Equal(t, -1, perr.Block)
		assert.ErrorIs(t, err, ErrMissingWrapper)
	}
}

func TestDecode_IsolatesUnreadableLines(t *testing.T) {
	text := crlf(
		"BEGIN:VCALENDAR",
		"VERSION:2.0",
		"BEGIN:VEVENT",
		"UID:good@eventmanager.com",
		"SUMMARY:Good",
		"DTSTART:20240101T100000Z",
		"DTEND:20240101T110000Z",
		"BEGIN:VALARM",
		"ACTION:DISPLAY",
		"TRIGGER:-PT15M",
		"END:VALARM",
		"END:VEVENT",
		"BEGIN:VEVENT",
		"UID:garbage@eventmanager.com",
		"SUMMARY:Garbage",
		"GARBAGE LINE NO COLON",
		"DTSTART:20240102T100000Z",
		"END:VEVENT",
		"BEGIN:VEVENT",
		"UID:open@eventmanager.com",
		"SUMMARY:Never closed",
		"DTSTART:20240103T100000Z",
		"BEGIN:VEVENT",
		"UID:after@eventmanager.com",
		"SUMMARY:After",
		"DTSTART:20240104T100000Z",
		"END:VEVENT",
		"END:VCALENDAR",
	)

	res, err := Decode(text)
	require.NoError(t, err)

	require.Len(t, res.Events, 2)
	assert.Equal(t, "Good", res.Events[0].Title)
	assert.Equal(t, "After", res.Events[1].Title)
	assert.Equal(t, 0, res.Events[0].Block)
	assert.Equal(t, 3, res.Events[1].Block)

	require.Len(t, res.Errors, 2)
	assert.Equal(t, 1, res.Errors[0].Block)
	assert.Equal(t, 2, res.Errors[1].Block)
	assert.Contains(t, res.Errors[1].Error(), "unterminated")
}

func TestDecode_BrokenHeaderFailsDocument(t *testing.T) {
	text := crlf(
		"BEGIN:VCALENDAR",
		"NOT A PROPERTY",
		"BEGIN:VEVENT",
		"SUMMARY:x",
		"DTSTART:20240101T100000Z",
		"END:VEVENT",
		"END:VCALENDAR",
	)

	_, err := Decode(text)
	var perr *ParseError
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, -1, perr.Block)
}

func TestDecode_IsolatesBrokenBlocks(t *testing.T) {
	text := crlf(
		"BEGIN:VCALENDAR",
		"VERSION:2.0",
		"BEGIN:VEVENT",
		"UID:ok1@eventmanager.com",
		"SUMMARY:First",
		"DTSTART:20240101T100000Z",
		"DTEND:20240101T110000Z",
		"END:VEVENT",
		"BEGIN:VEVENT",
		"UID:nostart@eventmanager.com",
		"SUMMARY:No start",
		"END:VEVENT",
		"BEGIN:VEVENT",
		"UID:nosummary@eventmanager.com",
		"DTSTART:20240101T100000Z",
		"END:VEVENT",
		"BEGIN:VEVENT",
		"UID:badrule@eventmanager.com",
		"SUMMARY:Bad rule",
		"DTSTART:20240101T100000Z",
		"RRULE:FREQ=FORTNIGHTLY;COUNT=2",
		"END:VEVENT",
		"BEGIN:VEVENT",
		"UID:ok2@eventmanager.com",
		"SUMMARY:Last",
		"DTSTART:20240102T100000Z",
		"END:VEVENT",
		"END:VCALENDAR",
	)

	res, err := Decode(text)
	require.NoError(t, err)

	require.Len(t, res.Events, 2)
	assert.Equal(t, "First", res.Events[0].Title)
	assert.Equal(t, "Last", res.Events[1].Title)

	require.Len(t, res.Errors, 3)
	assert.Equal(t, 1, res.Errors[0].Block)
	assert.Equal(t, "DTSTART", res.Errors[0].Field)
	assert.ErrorIs(t, res.Errors[0], ErrMissingField)
	assert.Equal(t, 2, res.Errors[1].Block)
	assert.Equal(t, "SUMMARY", res.Errors[1].Field)
	assert.Equal(t, 3, res.Errors[2].Block)
	assert.Equal(t, "RRULE", res.Errors[2].Field)

	_, err = DecodeStrict(text)
	var perr *ParseError
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, 1, perr.Block)
}

func TestDecode_MissingEnd(t *testing.T) {
	text := crlf(
		"BEGIN:VCALENDAR",
		"BEGIN:VEVENT",
		"SUMMARY:Timed",
		"DTSTART:20240101T100000Z",
		"END:VEVENT",
		"BEGIN:VEVENT",
		"SUMMARY:Day",
		"DTSTART;VALUE=DATE:20240105",
		"END:VEVENT",
		"END:VCALENDAR",
	)

	got, err := DecodeStrict(text)
	require.NoError(t, err)
	require.Len(t, got, 2)

	assert.Equal(t, got[0].Start, got[0].End)
	assert.False(t, got[0].AllDay)

	assert.True(t, got[1].AllDay)
	assert.Equal(t, time.Date(2024, 1, 5, 0, 0, 0, 0, time.UTC), got[1].Start)
	assert.Equal(t, time.Date(2024, 1, 6, 0, 0, 0, 0, time.UTC), got[1].End)
	assert.False(t, got[1].Recurrence.IsRecurring())
}

func TestDecode_ForeignFeed(t *testing.T) {
	// LF endings, folded description, TZID start and a WEEKLY BYDAY rule.
	text := strings.Join([]string{
		"BEGIN:VCALENDAR",
		"PRODID:-//Other//EN",
		"BEGIN:VEVENT",
		"UID:xyz@example.org",
		"SUMMARY:Standup",
		"DESCRIPTION:first half",
		"  second half",
		"DTSTART;TZID=Etc/GMT-3:20240101T120000",
		"DTEND;TZID=Etc/GMT-3:20240101T121500",
		"RRULE:FREQ=WEEKLY;BYDAY=TU,TH;UNTIL=20240201T000000Z",
		"END:VEVENT",
		"END:VCALENDAR",
	}, "\n")

	got, err := DecodeStrict(text)
	require.NoError(t, err)
	require.Len(t, got, 1)

	ev := got[0]
	assert.Equal(t, "first half second half", ev.Description)
	assert.Equal(t, time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC), ev.Start)
	assert.Equal(t, 15*time.Minute, ev.End.Sub(ev.Start))
	assert.Equal(t, recurrence.FrequencyCustom, ev.Recurrence.Frequency())
	assert.Equal(t, []int{2, 4}, ev.Recurrence.Weekdays().Ints())
	until, ok := ev.Recurrence.EndDate()
	require.True(t, ok)
	assert.Equal(t, time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC), until)
	assert.Equal(t, "xyz", ev.Event().ID)
}

func TestParseRRule(t *testing.T) {
	tests := []struct {
		value string
		want  recurrence.Fields
	}{
		{"FREQ=DAILY", recurrence.Fields{Frequency: "daily", Interval: 1, RepeatCount: 10}},
		{"FREQ=WEEKLY;INTERVAL=3;COUNT=2", recurrence.Fields{Frequency: "weekly", Interval: 3, RepeatCount: 2}},
		{"FREQ=MONTHLY;UNTIL=20241231", recurrence.Fields{Frequency: "monthly", Interval: 1, MonthlyType: "date", EndDate: "2024-12-31"}},
		{"FREQ=CUSTOM;BYDAY=SU,SA;COUNT=4", recurrence.Fields{Frequency: "custom", Interval: 1, Weekdays: []int{0, 6}, RepeatCount: 4}},
		{"RRULE:FREQ=YEARLY;COUNT=5", recurrence.Fields{Frequency: "yearly", Interval: 1, RepeatCount: 5}},
	}

	for _, tt := range tests {
		t.Run(tt.value, func(t *testing.T) {
			r, err := ParseRRule(tt.value)
			require.NoError(t, err)
			assert.Equal(t, tt.want, recurrence.FieldsOf(r))
		})
	}
}

func TestParseRRule_Rejects(t *testing.T) {
	for _, v := range []string{"", "FREQ=HOURLY", "FREQ=DAILY;INTERVAL=500", "COUNT=3", "FREQ=DAILY;COUNT=x"} {
		_, err := ParseRRule(v)
		assert.Error(t, err, v)
	}
}
