package store

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/KaleabTm/event-mangement-system/internal/ics"
	appLog "github.com/KaleabTm/event-mangement-system/internal/log"
	"github.com/KaleabTm/event-mangement-system/internal/metrics"
	"github.com/KaleabTm/event-mangement-system/internal/model"
	"github.com/KaleabTm/event-mangement-system/internal/recurrence"
)

// ErrNotFound is returned for unknown calendar or event ids.
var ErrNotFound = errors.New("not found")

// File is the layout of the events file.
type File struct {
	Calendars []model.Calendar `yaml:"calendars"`
	Events    []model.Event    `yaml:"events"`
}

// FeedSource fetches and decodes remote feeds. *ics.Fetcher implements it.
type FeedSource interface {
	FetchAll(ctx context.Context, feeds []ics.Feed) ([]ics.FeedResult, []error)
}

// Snapshot is an immutable view of the loaded calendars and events.
type Snapshot struct {
	Calendars []model.Calendar
	Events    []model.Event
	LoadedAt  time.Time
}

// Store serves the current snapshot to the HTTP handlers and the exporter.
// Reload builds a new snapshot and swaps it in; readers never see a
// partially loaded one.
type Store struct {
	path    string
	feeds   []ics.Feed
	fetcher FeedSource
	metrics *metrics.Metrics

	mu   sync.RWMutex
	snap Snapshot
}

// New returns an empty store. fetcher may be nil when there are no feeds.
func New(path string, feeds []ics.Feed, fetcher FeedSource, m *metrics.Metrics) *Store {
	return &Store{path: path, feeds: feeds, fetcher: fetcher, metrics: m}
}

// Reload re-reads the events file and the feeds. A missing events file
// yields an empty list; a malformed one fails the reload and keeps the
// previous snapshot. Invalid events and failed feeds are logged and
// skipped.
func (s *Store) Reload(ctx context.Context) error {
	file, err := LoadFile(s.path)
	if err != nil {
		s.metrics.RecordReload(0, err)
		return err
	}

	snap := Snapshot{LoadedAt: time.Now().UTC()}
	calendars := make(map[string]bool)
	for _, c := range file.Calendars {
		if err := c.Validate(); err != nil {
			appLog.Error("calendar skipped", err, "id", c.ID)
			continue
		}
		if calendars[c.ID] {
			appLog.Error("calendar skipped", errors.New("duplicate id"), "id", c.ID)
			continue
		}
		calendars[c.ID] = true
		snap.Calendars = append(snap.Calendars, c)
	}

	seen := make(map[string]bool)
	add := func(ev model.Event, origin string) {
		if ev.ID == "" {
			ev.ID = stableID(origin, ev)
		}
		if err := ev.Validate(); err != nil {
			appLog.Error("event skipped", err, "id", ev.ID, "origin", origin)
			return
		}
		if seen[ev.ID] {
			appLog.Error("event skipped", errors.New("duplicate id"), "id", ev.ID, "origin", origin)
			return
		}
		seen[ev.ID] = true
		if !calendars[ev.CalendarID] {
			// Events may reference calendars that are not declared; those
			// calendars are shown with their id as name.
			calendars[ev.CalendarID] = true
			snap.Calendars = append(snap.Calendars, model.Calendar{ID: ev.CalendarID, Name: ev.CalendarID, Visible: true})
		}
		snap.Events = append(snap.Events, ev)
	}

	for _, ev := range file.Events {
		add(ev, s.path)
	}

	if s.fetcher != nil && len(s.feeds) > 0 {
		results, _ := s.fetcher.FetchAll(ctx, s.feeds)
		fetched := make(map[string]bool, len(results))
		for _, res := range results {
			fetched[res.Feed.ID] = true
			result := "ok"
			if res.FromCache {
				result = "cache"
			}
			s.metrics.RecordFeedFetch(res.Feed.ID, result)
			s.metrics.AddDecodeErrors(len(res.Result.Errors))
			for _, ev := range FromDecoded(res.Result.Events, res.Feed.CalendarID, res.Feed.URL) {
				add(ev, res.Feed.URL)
			}
		}
		for _, feed := range s.feeds {
			if !fetched[feed.ID] {
				s.metrics.RecordFeedFetch(feed.ID, "error")
			}
		}
	}

	s.mu.Lock()
	s.snap = snap
	s.mu.Unlock()

	s.metrics.RecordReload(len(snap.Events), nil)
	appLog.Info("events reloaded", "calendars", len(snap.Calendars), "events", len(snap.Events), "feeds", len(s.feeds))
	return nil
}

// LoadFile reads an events file. A missing file is an empty one.
func LoadFile(path string) (File, error) {
	var f File
	if path == "" {
		return f, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			appLog.Info("events file not found; starting empty", "path", path)
			return f, nil
		}
		return f, err
	}
	if err := yaml.Unmarshal(data, &f); err != nil {
		return File{}, fmt.Errorf("events file %s: %w", path, err)
	}
	return f, nil
}

// FromDecoded converts decoded VEVENTs into events. Events without a
// calendar get defaultCalendar; events without a UID get an id derived
// from origin and their content, stable across reloads.
func FromDecoded(ds []ics.Decoded, defaultCalendar, origin string) []model.Event {
	out := make([]model.Event, 0, len(ds))
	for _, d := range ds {
		ev := d.Event()
		if ev.CalendarID == "" {
			ev.CalendarID = defaultCalendar
		}
		if ev.ID == "" {
			ev.ID = stableID(origin, ev)
		}
		out = append(out, ev)
	}
	return out
}

func stableID(origin string, ev model.Event) string {
	key := origin + "|" + ev.Title + "|" + ev.Start.UTC().Format(time.RFC3339)
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(key)).String()
}

// Snapshot returns the current snapshot. Callers must not modify it.
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snap
}

func (s *Store) Calendars() []model.Calendar {
	return append([]model.Calendar(nil), s.Snapshot().Calendars...)
}

func (s *Store) Calendar(id string) (model.Calendar, error) {
	for _, c := range s.Snapshot().Calendars {
		if c.ID == id {
			return c, nil
		}
	}
	return model.Calendar{}, fmt.Errorf("calendar %q: %w", id, ErrNotFound)
}

// Events lists events in file order. An empty calendarID matches every
// calendar; hidden calendars are skipped unless includeHidden is set.
func (s *Store) Events(calendarID string, includeHidden bool) []model.Event {
	snap := s.Snapshot()
	visible := visibility(snap.Calendars)

	out := make([]model.Event, 0, len(snap.Events))
	for _, ev := range snap.Events {
		if calendarID != "" && ev.CalendarID != calendarID {
			continue
		}
		if !includeHidden && !visible[ev.CalendarID] {
			continue
		}
		out = append(out, ev)
	}
	return out
}

func (s *Store) Event(id string) (model.Event, error) {
	for _, ev := range s.Snapshot().Events {
		if ev.ID == id {
			return ev, nil
		}
	}
	return model.Event{}, fmt.Errorf("event %q: %w", id, ErrNotFound)
}

// Occurrences expands every visible event and returns the instances that
// overlap [from, to), ordered by start.
func (s *Store) Occurrences(from, to time.Time) []model.Occurrence {
	var out []model.Occurrence
	for _, ev := range s.Events("", false) {
		in := recurrence.Between(ev.Start, ev.End, ev.Recurrence, ev.AllDay, from, to)
		out = append(out, ev.Occurrences(in)...)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Start.Before(out[j].Start)
	})
	return out
}

func visibility(cals []model.Calendar) map[string]bool {
	m := make(map[string]bool, len(cals))
	for _, c := range cals {
		m[c.ID] = c.Visible
	}
	return m
}
