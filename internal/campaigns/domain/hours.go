package domain

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Window is the business-hours gate: contact attempts may only be placed
// Monday through Friday between start and end hour in the configured
// location, excluding holidays.
type Window struct {
	loc      *time.Location
	start    int
	end      int
	holidays map[string]bool
}

// HoursConfig provides the window settings.
type HoursConfig interface {
	GetBusinessTimezone() string
	GetBusinessHourStart() int
	GetBusinessHourEnd() int
	GetHolidayCalendarPath() string
}

type holidayFile struct {
	Holidays []string `yaml:"holidays"`
}

// NewWindow builds a Window from config, loading the optional holiday
// calendar file.
func NewWindow(cfg HoursConfig) (*Window, error) {
	loc, err := time.LoadLocation(cfg.GetBusinessTimezone())
	if err != nil {
		return nil, fmt.Errorf("load business timezone: %w", err)
	}

	holidays := map[string]bool{}
	if path := cfg.GetHolidayCalendarPath(); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read holiday calendar: %w", err)
		}
		var file holidayFile
		if err := yaml.Unmarshal(data, &file); err != nil {
			return nil, fmt.Errorf("parse holiday calendar: %w", err)
		}
		for _, day := range file.Holidays {
			if _, err := time.ParseInLocation("2006-01-02", day, loc); err != nil {
				return nil, fmt.Errorf("invalid holiday date %q: %w", day, err)
			}
			holidays[day] = true
		}
	}

	return &Window{
		loc:      loc,
		start:    cfg.GetBusinessHourStart(),
		end:      cfg.GetBusinessHourEnd(),
		holidays: holidays,
	}, nil
}

// NewWindowFixed builds a Window without config. Used by tests.
func NewWindowFixed(loc *time.Location, start, end int, holidays ...string) *Window {
	set := map[string]bool{}
	for _, day := range holidays {
		set[day] = true
	}
	return &Window{loc: loc, start: start, end: end, holidays: set}
}

// Contains reports whether t falls inside the contact window.
func (w *Window) Contains(t time.Time) bool {
	local := t.In(w.loc)
	if !w.isBusinessDay(local) {
		return false
	}
	hour := local.Hour()
	return hour >= w.start && hour < w.end
}

// Next returns the earliest instant at or after t that falls inside the
// window. When t is already inside, it returns t unchanged.
func (w *Window) Next(t time.Time) time.Time {
	local := t.In(w.loc)
	if w.Contains(local) {
		return t
	}

	// Same-day opening still ahead of us.
	if w.isBusinessDay(local) && local.Hour() < w.start {
		return w.opening(local)
	}

	// Walk forward day by day. The holiday calendar is finite, so this
	// terminates quickly in practice.
	day := local.AddDate(0, 0, 1)
	for i := 0; i < 366; i++ {
		if w.isBusinessDay(day) {
			return w.opening(day)
		}
		day = day.AddDate(0, 0, 1)
	}
	return w.opening(day)
}

func (w *Window) opening(day time.Time) time.Time {
	return time.Date(day.Year(), day.Month(), day.Day(), w.start, 0, 0, 0, w.loc)
}

func (w *Window) isBusinessDay(local time.Time) bool {
	switch local.Weekday() {
	case time.Saturday, time.Sunday:
		return false
	}
	return !w.holidays[local.Format("2006-01-02")]
}
