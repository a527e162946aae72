package web

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/KaleabTm/event-mangement-system/internal/config"
	"github.com/KaleabTm/event-mangement-system/internal/ics"
	appLog "github.com/KaleabTm/event-mangement-system/internal/log"
	"github.com/KaleabTm/event-mangement-system/internal/metrics"
	"github.com/KaleabTm/event-mangement-system/internal/model"
	"github.com/KaleabTm/event-mangement-system/internal/recurrence"
	"github.com/KaleabTm/event-mangement-system/internal/store"
)

// maxImportBytes bounds the body of POST /api/import.
const maxImportBytes = 5 << 20

// Server provides the HTTP API over the event store.
type Server struct {
	cfg     *config.Config
	store   *store.Store
	metrics *metrics.Metrics
	router  *mux.Router
	now     func() time.Time
}

// NewServer constructs a new Server. m may be nil.
func NewServer(cfg *config.Config, st *store.Store, m *metrics.Metrics) *Server {
	s := &Server{
		cfg:     cfg,
		store:   st,
		metrics: m,
		router:  mux.NewRouter(),
		now:     time.Now,
	}
	s.registerRoutes()
	return s
}

// Handler returns the underlying http.Handler for this server.
func (s *Server) Handler() http.Handler {
	h := http.Handler(s.router)
	if s.basicAuthEnabled() {
		appLog.Info("HTTP basic auth enabled", "listen", "http://"+s.cfg.Listen)
		return s.basicAuthMiddleware(h)
	}
	return h
}

// basicAuthEnabled reports whether HTTP Basic Auth is configured.
func (s *Server) basicAuthEnabled() bool {
	if s.cfg == nil || s.cfg.BasicAuth == nil {
		return false
	}
	// An empty username or password leaves auth disabled.
	if s.cfg.BasicAuth.Username == "" || s.cfg.BasicAuth.Password == "" {
		return false
	}
	return true
}

// basicAuthMiddleware wraps all handlers except /health and /metrics with
// HTTP Basic Auth.
func (s *Server) basicAuthMiddleware(next http.Handler) http.Handler {
	username := s.cfg.BasicAuth.Username
	password := s.cfg.BasicAuth.Password

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" || r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}

		u, p, ok := r.BasicAuth()
		if !ok || !secureCompare(u, username) || !secureCompare(p, password) {
			w.Header().Set("WWW-Authenticate", `Basic realm="Event Manager", charset="UTF-8"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// secureCompare compares two strings in constant time.
func secureCompare(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// statusRecorder captures the response status for metrics.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// metricsMiddleware records request counts and durations labelled with the
// route template, so ids in paths do not blow up label cardinality.
func (s *Server) metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		path := r.URL.Path
		if route := mux.CurrentRoute(r); route != nil {
			if tpl, err := route.GetPathTemplate(); err == nil {
				path = tpl
			}
		}
		s.metrics.ObserveHTTPRequest(r.Method, path, rec.status, time.Since(start))
	})
}

func (s *Server) registerRoutes() {
	s.router.Use(s.metricsMiddleware)

	s.router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	s.router.Handle("/metrics", s.metrics.Handler()).Methods(http.MethodGet)

	// API routes are registered on the root router; a subrouter reports a
	// method mismatch as 404 instead of 405.
	s.router.HandleFunc("/api/calendars", s.handleCalendars).Methods(http.MethodGet)
	s.router.HandleFunc("/api/calendars/{id}/export.ics", s.handleExportCalendar).Methods(http.MethodGet)
	s.router.HandleFunc("/api/events", s.handleEvents).Methods(http.MethodGet)
	s.router.HandleFunc("/api/events/{id}/occurrences", s.handleEventOccurrences).Methods(http.MethodGet)
	s.router.HandleFunc("/api/events/{id}/export.ics", s.handleExportEvent).Methods(http.MethodGet)
	s.router.HandleFunc("/api/occurrences", s.handleOccurrences).Methods(http.MethodGet)
	s.router.HandleFunc("/api/export.ics", s.handleExportAll).Methods(http.MethodGet)
	s.router.HandleFunc("/api/import", s.handleImport).Methods(http.MethodPost)
	s.router.HandleFunc("/api/reload", s.handleReload).Methods(http.MethodPost)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

func (s *Server) handleCalendars(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.store.Calendars())
}

// handleEvents lists events, optionally of one calendar.
//
// GET /api/events?calendar=<id>&all=1
//   - calendar: restrict to one calendar
//   - all:      include events of hidden calendars
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	calendarID := q.Get("calendar")
	if calendarID != "" {
		if _, err := s.store.Calendar(calendarID); err != nil {
			writeErr(w, err)
			return
		}
	}
	writeJSON(w, http.StatusOK, s.store.Events(calendarID, q.Get("all") == "1"))
}

// occurrencesResponse is the JSON response shape for the occurrence
// endpoints.
type occurrencesResponse struct {
	EventID     string             `json:"event_id,omitempty"`
	Recurrence  string             `json:"recurrence,omitempty"`
	RangeStart  *time.Time         `json:"range_start,omitempty"`
	RangeEnd    *time.Time         `json:"range_end,omitempty"`
	Limit       int                `json:"limit,omitempty"`
	Occurrences []model.Occurrence `json:"occurrences"`
}

// handleEventOccurrences returns the first instances of one event, base
// instance included. limit defaults to and is capped by max_occurrences.
func (s *Server) handleEventOccurrences(w http.ResponseWriter, r *http.Request) {
	ev, err := s.store.Event(mux.Vars(r)["id"])
	if err != nil {
		writeErr(w, err)
		return
	}

	limit := s.cfg.MaxOccurrences
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		if n < limit {
			limit = n
		}
	}

	instances := recurrence.ExpandWithLimit(ev.Start, ev.End, ev.Recurrence, ev.AllDay, limit)
	writeJSON(w, http.StatusOK, occurrencesResponse{
		EventID:     ev.ID,
		Recurrence:  ev.Recurrence.String(),
		Limit:       limit,
		Occurrences: ev.Occurrences(instances),
	})
}

// handleOccurrences returns the instances of all visible events that
// overlap a window.
//
// GET /api/occurrences?from=<date|RFC3339>&to=<date|RFC3339>
// The window defaults to now .. now + horizon_days.
func (s *Server) handleOccurrences(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	from := s.now().UTC()
	if raw := q.Get("from"); raw != "" {
		t, err := recurrence.ParseDate(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid from: "+raw)
			return
		}
		from = t.UTC()
	}
	to := from.AddDate(0, 0, s.cfg.HorizonDays)
	if raw := q.Get("to"); raw != "" {
		t, err := recurrence.ParseDate(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid to: "+raw)
			return
		}
		to = t.UTC()
	}
	if !to.After(from) {
		writeError(w, http.StatusBadRequest, "to must be after from")
		return
	}

	occ := s.store.Occurrences(from, to)
	if occ == nil {
		occ = []model.Occurrence{}
	}
	writeJSON(w, http.StatusOK, occurrencesResponse{
		RangeStart:  &from,
		RangeEnd:    &to,
		Occurrences: occ,
	})
}

func (s *Server) handleExportEvent(w http.ResponseWriter, r *http.Request) {
	ev, err := s.store.Event(mux.Vars(r)["id"])
	if err != nil {
		writeErr(w, err)
		return
	}
	s.writeCalendar(w, ics.Filename(ev.Title, ics.EventExport), ev.Title, []model.Event{ev})
}

func (s *Server) handleExportCalendar(w http.ResponseWriter, r *http.Request) {
	cal, err := s.store.Calendar(mux.Vars(r)["id"])
	if err != nil {
		writeErr(w, err)
		return
	}
	s.writeCalendar(w, ics.Filename(cal.Name, ics.CalendarExport), cal.Name, s.store.Events(cal.ID, true))
}

func (s *Server) handleExportAll(w http.ResponseWriter, _ *http.Request) {
	name := s.cfg.CalendarName
	s.writeCalendar(w, ics.Filename(name, ics.CalendarExport), name, s.store.Events("", false))
}

func (s *Server) writeCalendar(w http.ResponseWriter, filename, name string, events []model.Event) {
	w.Header().Set("Content-Type", ics.ContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	w.WriteHeader(http.StatusOK)
	if err := ics.EncodeTo(w, events, name, ics.WithNow(s.now)); err != nil {
		appLog.Error("failed to write calendar", err, "filename", filename)
	}
}

// importError is the JSON form of a rejected VEVENT.
type importError struct {
	Block int    `json:"block"`
	Field string `json:"field,omitempty"`
	Error string `json:"error"`
}

type importResponse struct {
	Events []model.Event `json:"events"`
	Errors []importError `json:"errors"`
}

// handleImport decodes an iCalendar body and returns the events it holds.
// Nothing is persisted. Events without CATEGORIES are put into the
// calendar named by ?calendar=, "imported" by default.
func (s *Server) handleImport(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxImportBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "calendar too large")
			return
		}
		writeError(w, http.StatusBadRequest, "failed to read body")
		return
	}

	res, err := ics.Decode(string(body))
	if err != nil {
		writeErr(w, err)
		return
	}
	s.metrics.AddDecodeErrors(len(res.Errors))

	calendarID := r.URL.Query().Get("calendar")
	if calendarID == "" {
		calendarID = "imported"
	}
	origin := "import:" + uuid.NewString()

	resp := importResponse{
		Events: []model.Event{},
		Errors: make([]importError, 0, len(res.Errors)),
	}
	// FromDecoded keeps one event per decoded VEVENT, in order.
	for i, ev := range store.FromDecoded(res.Events, calendarID, origin) {
		if err := ev.Validate(); err != nil {
			resp.Errors = append(resp.Errors, importError{Block: res.Events[i].Block, Field: fieldOf(err), Error: err.Error()})
			continue
		}
		resp.Events = append(resp.Events, ev)
	}
	for _, perr := range res.Errors {
		resp.Errors = append(resp.Errors, importError{Block: perr.Block, Field: perr.Field, Error: perr.Error()})
	}
	sort.SliceStable(resp.Errors, func(i, j int) bool {
		return resp.Errors[i].Block < resp.Errors[j].Block
	})

	appLog.Info("calendar imported", "events", len(resp.Events), "errors", len(resp.Errors))
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleReload(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Reload(r.Context()); err != nil {
		appLog.Error("reload failed", err)
		writeError(w, http.StatusInternalServerError, "reload failed")
		return
	}
	snap := s.store.Snapshot()
	writeJSON(w, http.StatusOK, map[string]any{
		"calendars": len(snap.Calendars),
		"events":    len(snap.Events),
		"loaded_at": snap.LoadedAt,
	})
}

// StartServer serves the API on cfg.Listen until ctx is cancelled, then
// shuts down gracefully.
func StartServer(ctx context.Context, cfg *config.Config, st *store.Store, m *metrics.Metrics) error {
	srv := &http.Server{
		Addr:              cfg.Listen,
		Handler:           NewServer(cfg, st, m).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		appLog.Info("starting HTTP server", "listen", "http://"+cfg.Listen)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func fieldOf(err error) string {
	var mv *model.ValidationError
	if errors.As(err, &mv) {
		return mv.Field
	}
	var rv *recurrence.ValidationError
	if errors.As(err, &rv) {
		return rv.Field
	}
	return ""
}

// writeErr maps domain errors to HTTP statuses.
func writeErr(w http.ResponseWriter, err error) {
	var (
		mv *model.ValidationError
		rv *recurrence.ValidationError
		pe *ics.ParseError
	)
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.As(err, &mv), errors.As(err, &rv), errors.As(err, &pe):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		appLog.Error("request failed", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		appLog.Error("failed to write JSON response", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	type errResp struct {
		Error string `json:"error"`
	}
	writeJSON(w, status, errResp{Error: strings.TrimSpace(msg)})
}
