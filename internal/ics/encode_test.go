package ics

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/KaleabTm/event-mangement-system/internal/model"
	"github.com/KaleabTm/event-mangement-system/internal/recurrence"
)

var fixedNow = WithNow(func() time.Time { return time.Date(2024, 5, 6, 7, 8, 9, 0, time.UTC) })

func lines(doc string) []string {
	return strings.Split(strings.TrimSuffix(doc, "\r\n"), "\r\n")
}

func mustRule(t *testing.T) func(recurrence.Rule, error) recurrence.Rule {
	return func(r recurrence.Rule, err error) recurrence.Rule {
		t.Helper()
		require.NoError(t, err)
		return r
	}
}

func TestEncode_Document(t *testing.T) {
	ev := model.Event{
		ID:          "42",
		Title:       "Team sync",
		Description: "Weekly",
		Start:       time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC),
		End:         time.Date(2024, 1, 1, 11, 0, 0, 0, time.UTC),
		CalendarID:  "work",
		Recurrence:  mustRule(t)(recurrence.Weekly(2, recurrence.Count(4))),
	}

	doc := Encode([]model.Event{ev}, "Work", fixedNow)

	assert.Equal(t, []string{
		"BEGIN:VCALENDAR",
		"VERSION:2.0",
		"PRODID:-//Event Manager//Event Manager//EN",
		"CALSCALE:GREGORIAN",
		"METHOD:PUBLISH",
		"X-WR-CALNAME:Work",
		"X-WR-TIMEZONE:UTC",
		"BEGIN:VEVENT",
		"UID:42@eventmanager.com",
		"DTSTAMP:20240506T070809Z",
		"DTSTART:20240101T100000Z",
		"DTEND:20240101T110000Z",
		"SUMMARY:Team sync",
		"DESCRIPTION:Weekly",
		"CATEGORIES:work",
		"STATUS:CONFIRMED",
		"TRANSP:OPAQUE",
		"RRULE:FREQ=WEEKLY;INTERVAL=2;COUNT=4",
		"END:VEVENT",
		"END:VCALENDAR",
	}, lines(doc))
}

func TestEncode_DefaultNameAndEmptyList(t *testing.T) {
	doc := Encode(nil, "", fixedNow)

	assert.Contains(t, doc, "X-WR-CALNAME:My Events\r\n")
	assert.NotContains(t, doc, "BEGIN:VEVENT")
	assert.True(t, strings.HasSuffix(doc, "END:VCALENDAR\r\n"))
}

func TestEncode_AllDayUsesDateValues(t *testing.T) {
	ev := model.Event{
		ID:         "1",
		Title:      "Holiday",
		Start:      time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		End:        time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		AllDay:     true,
		CalendarID: "personal",
	}

	doc := Encode([]model.Event{ev}, "", fixedNow)

	assert.Contains(t, doc, "\r\nDTSTART;VALUE=DATE:20240101\r\n")
	assert.Contains(t, doc, "\r\nDTEND;VALUE=DATE:20240102\r\n")
	assert.NotContains(t, doc, "DTSTART:2024")
}

func TestEncode_OmitsAbsentLines(t *testing.T) {
	ev := model.Event{
		ID:         "1",
		Title:      "Once",
		Start:      time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC),
		End:        time.Date(2024, 1, 1, 11, 0, 0, 0, time.UTC),
		CalendarID: "c",
	}

	doc := Encode([]model.Event{ev}, "", fixedNow)

	assert.NotContains(t, doc, "DESCRIPTION")
	assert.NotContains(t, doc, "RRULE")
}

func TestEncode_EscapesText(t *testing.T) {
	ev := model.Event{
		ID:          "1",
		Title:       "Lunch, then coffee",
		Description: "line one\nline two",
		Start:       time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC),
		End:         time.Date(2024, 1, 1, 13, 0, 0, 0, time.UTC),
		CalendarID:  "c",
	}

	doc := Encode([]model.Event{ev}, "", fixedNow)

	assert.Contains(t, doc, "SUMMARY:Lunch\\, then coffee\r\n")
	assert.Contains(t, doc, "DESCRIPTION:line one\\nline two\r\n")
}

func TestEncode_NormalizesLineBreaks(t *testing.T) {
	ev := model.Event{
		ID:          "1",
		Title:       "two\rlines",
		Description: "crlf\r\nend\rlast",
		Start:       time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC),
		End:         time.Date(2024, 1, 1, 13, 0, 0, 0, time.UTC),
		CalendarID:  "c",
	}

	doc := Encode([]model.Event{ev}, "", fixedNow)

	assert.Contains(t, doc, "SUMMARY:two\\nlines\r\n")
	assert.Contains(t, doc, "DESCRIPTION:crlf\\nend\\nlast\r\n")
	for _, l := range lines(doc) {
		assert.NotContains(t, l, "\r", "line %q", l)
	}

	got, err := DecodeStrict(doc)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "two\nlines", got[0].Title)
	assert.Equal(t, "crlf\nend\nlast", got[0].Description)
}

func TestEncode_FoldsLongLines(t *testing.T) {
	ev := model.Event{
		ID:          "1",
		Title:       "t",
		Description: strings.Repeat("abcdefghij", 20),
		Start:       time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC),
		End:         time.Date(2024, 1, 1, 13, 0, 0, 0, time.UTC),
		CalendarID:  "c",
	}

	doc := Encode([]model.Event{ev}, "", fixedNow)

	for _, l := range lines(doc) {
		assert.LessOrEqual(t, len(l), 75, "line %q", l)
	}
}

func TestEncodeTo_MatchesEncode(t *testing.T) {
	events := []model.Event{{
		ID: "1", Title: "a", CalendarID: "c",
		Start: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC),
		End:   time.Date(2024, 1, 1, 13, 0, 0, 0, time.UTC),
	}}

	var buf bytes.Buffer
	require.NoError(t, EncodeTo(&buf, events, "x", fixedNow))
	assert.Equal(t, Encode(events, "x", fixedNow), buf.String())
}

func TestFormatRRule(t *testing.T) {
	monWedFri, err := recurrence.NewWeekdaySet(1, 3, 5)
	require.NoError(t, err)

	tests := []struct {
		name string
		rule recurrence.Rule
		want string
	}{
		{"none", recurrence.None(), ""},
		{"daily count", mustRule(t)(recurrence.Daily(1, recurrence.Count(3))), "FREQ=DAILY;COUNT=3"},
		{"monthly interval", mustRule(t)(recurrence.Monthly(3, recurrence.ByDate(), recurrence.DefaultEnd())), "FREQ=MONTHLY;INTERVAL=3;COUNT=10"},
		{"yearly until", mustRule(t)(recurrence.Yearly(1, recurrence.Until(time.Date(2030, 6, 1, 0, 0, 0, 0, time.UTC)))), "FREQ=YEARLY;UNTIL=20300601"},
		{"custom", mustRule(t)(recurrence.Custom(2, monWedFri, recurrence.Count(5))), "FREQ=CUSTOM;INTERVAL=2;BYDAY=MO,WE,FR;COUNT=5"},
		{"custom empty", mustRule(t)(recurrence.Custom(1, nil, recurrence.Count(5))), "FREQ=CUSTOM;COUNT=5"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, FormatRRule(tt.rule))
		})
	}
}

func TestFormatRRule_EndDateWinsOverCount(t *testing.T) {
	rule := mustRule(t)(recurrence.Fields{Frequency: "weekly", RepeatCount: 5, EndDate: "2024-03-01"}.Rule())

	got := FormatRRule(rule)

	assert.Contains(t, got, "UNTIL=20240301")
	assert.NotContains(t, got, "COUNT=")
}
