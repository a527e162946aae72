package export

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/KaleabTm/event-mangement-system/internal/ics"
	appLog "github.com/KaleabTm/event-mangement-system/internal/log"
	"github.com/KaleabTm/event-mangement-system/internal/metrics"
	"github.com/KaleabTm/event-mangement-system/internal/model"
)

// Source is the read side of the event store.
type Source interface {
	Calendars() []model.Calendar
	Events(calendarID string, includeHidden bool) []model.Event
}

// Exporter writes one .ics file per visible calendar plus a combined file
// holding every visible event.
type Exporter struct {
	dir     string
	name    string
	src     Source
	metrics *metrics.Metrics
	now     func() time.Time

	// Runs triggered by cron and by the CLI must not interleave.
	mu sync.Mutex
}

// New returns an Exporter writing into dir. name is the X-WR-CALNAME of
// the combined file.
func New(dir, name string, src Source, m *metrics.Metrics) *Exporter {
	return &Exporter{dir: dir, name: name, src: src, metrics: m, now: time.Now}
}

// Run writes the export files and returns their paths. A failing calendar
// does not stop the others; the returned error joins every failure.
func (e *Exporter) Run(ctx context.Context) ([]string, error) {
	if e.dir == "" {
		return nil, errors.New("export dir is empty")
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	stamp := e.now().UTC()
	opt := ics.WithNow(func() time.Time { return stamp })

	var (
		written []string
		errs    []error
	)
	write := func(file, name string, events []model.Event) {
		path := filepath.Join(e.dir, file)
		if err := ics.WriteFile(path, ics.Encode(events, name, opt)); err != nil {
			errs = append(errs, fmt.Errorf("export %s: %w", file, err))
			return
		}
		written = append(written, path)
	}

	combined := ics.Filename(e.name, ics.CalendarExport)
	for _, cal := range e.src.Calendars() {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		if !cal.Visible {
			continue
		}
		file := ics.Filename(cal.Name, ics.CalendarExport)
		if file == combined {
			// The combined file holds these events too.
			appLog.Info("calendar export shares the combined file name; skipped", "calendar", cal.ID, "file", file)
			continue
		}
		write(file, cal.Name, e.src.Events(cal.ID, false))
	}
	if ctx.Err() == nil {
		write(combined, e.name, e.src.Events("", false))
	}

	e.metrics.RecordExport(len(written), len(errs), stamp)
	err := errors.Join(errs...)
	if err != nil {
		appLog.Error("export finished with errors", err, "dir", e.dir, "written", len(written))
	} else {
		appLog.Info("export finished", "dir", e.dir, "written", len(written))
	}
	return written, err
}

// Scheduler runs a reload followed by an export on a cron schedule.
type Scheduler struct {
	cron *cron.Cron
}

// Schedule registers the export job under spec, a standard 5-field cron
// expression. reload may be nil. The returned Scheduler is not started.
func Schedule(spec string, exp *Exporter, reload func(context.Context) error) (*Scheduler, error) {
	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	_, err := c.AddFunc(spec, func() {
		ctx := context.Background()
		if reload != nil {
			if err := reload(ctx); err != nil {
				appLog.Error("scheduled reload failed", err)
			}
		}
		_, _ = exp.Run(ctx)
	})
	if err != nil {
		return nil, fmt.Errorf("export schedule %q: %w", spec, err)
	}
	return &Scheduler{cron: c}, nil
}

func (s *Scheduler) Start() {
	appLog.Info("export scheduler started", "jobs", len(s.cron.Entries()))
	s.cron.Start()
}

// Stop stops the scheduler and waits for a running job until ctx is done.
func (s *Scheduler) Stop(ctx context.Context) {
	select {
	case <-s.cron.Stop().Done():
	case <-ctx.Done():
	}
}

// Next reports when the export runs next; zero before Start.
func (s *Scheduler) Next() time.Time {
	entries := s.cron.Entries()
	if len(entries) == 0 {
		return time.Time{}
	}
	return entries[0].Next
}
