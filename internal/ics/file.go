package ics

import (
	"errors"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// ContentType is the media type of encoded calendars.
const ContentType = "text/calendar; charset=utf-8"

// ExportKind selects the file name pattern of an export.
type ExportKind int

const (
	// CalendarExport names a whole calendar: <name>_calendar.ics.
	CalendarExport ExportKind = iota
	// EventExport names a single event: <title>.ics.
	EventExport
)

var unsafeChars = regexp.MustCompile(`[^a-zA-Z0-9]`)

// Filename derives a download file name. Anything but ASCII letters and
// digits becomes '_' and the result is lower-cased.
func Filename(name string, kind ExportKind) string {
	if strings.TrimSpace(name) == "" {
		name = DefaultCalendarName
	}
	base := strings.ToLower(unsafeChars.ReplaceAllString(name, "_"))
	if kind == CalendarExport {
		return base + "_calendar.ics"
	}
	return base + ".ics"
}

// WriteFile writes content to path through a temp file in the same
// directory and a rename, so readers never see a partial calendar.
func WriteFile(path, content string) error {
	if path == "" {
		return errors.New("export path is empty")
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".evcal-export-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.WriteString(content); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}
