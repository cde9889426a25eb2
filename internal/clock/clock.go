// Package clock resolves instants into business-local calendar fields.
//
// Every date, weekday and minute used by rule scheduling comes from a
// Moment. A Moment is always computed in a fixed, configured zone; the host
// zone is never consulted.
package clock

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

const DateLayout = "2006-01-02"

var ErrInvalidClock = errors.New("invalid HH:MM value")

// Moment is an instant expressed in business-local terms.
type Moment struct {
	Instant     time.Time
	LocalDate   string // YYYY-MM-DD
	DayOfWeek   int    // 0 = Sunday .. 6 = Saturday
	MinuteOfDay string // HH:MM, 24-hour
}

// Minutes returns MinuteOfDay as minutes since local midnight.
func (m Moment) Minutes() int {
	n, err := ClockMinutes(m.MinuteOfDay)
	if err != nil {
		return 0
	}
	return n
}

// AddDays returns LocalDate shifted by n calendar days.
func (m Moment) AddDays(n int) string {
	d, err := time.Parse(DateLayout, m.LocalDate)
	if err != nil {
		return m.LocalDate
	}
	return d.AddDate(0, 0, n).Format(DateLayout)
}

// Provider yields the current Moment.
type Provider interface {
	Now() Moment
}

// Resolver resolves the wall clock in a fixed zone.
type Resolver struct {
	loc *time.Location
	now func() time.Time
}

// NewResolver loads the named IANA zone. An unknown zone is a configuration
// error.
func NewResolver(zone string) (*Resolver, error) {
	zone = strings.TrimSpace(zone)
	if zone == "" {
		return nil, errors.New("clock: timezone is required")
	}
	loc, err := time.LoadLocation(zone)
	if err != nil {
		return nil, fmt.Errorf("clock: load timezone %q: %w", zone, err)
	}
	return &Resolver{loc: loc, now: time.Now}, nil
}

func (r *Resolver) Location() *time.Location { return r.loc }

func (r *Resolver) Now() Moment { return Resolve(r.now(), r.loc) }

// Resolve expresses instant in loc.
//
// The weekday is derived from a date rebuilt from the local year, month and
// day alone, so it always agrees with LocalDate regardless of the zone
// offset of the underlying instant.
func Resolve(instant time.Time, loc *time.Location) Moment {
	local := instant.In(loc)
	y, mo, d := local.Date()
	day := time.Date(y, mo, d, 0, 0, 0, 0, time.UTC)
	return Moment{
		Instant:     instant,
		LocalDate:   day.Format(DateLayout),
		DayOfWeek:   int(day.Weekday()),
		MinuteOfDay: FoldClock(fmt.Sprintf("%02d:%02d", local.Hour(), local.Minute())),
	}
}

// Fixed always returns the same Moment. Used by tests and by one-shot
// ticks run for a given instant.
type Fixed struct{ M Moment }

func (f Fixed) Now() Moment { return f.M }

// At builds a Fixed provider for instant in loc.
func At(instant time.Time, loc *time.Location) Fixed {
	return Fixed{M: Resolve(instant, loc)}
}

// FoldClock rewrites an hour of "24" to "00". Some clock sources render
// midnight as 24:MM.
func FoldClock(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "24:") {
		return "00" + s[2:]
	}
	return s
}

// ClockMinutes parses HH:MM (after folding) into minutes since midnight.
func ClockMinutes(s string) (int, error) {
	s = FoldClock(s)
	hh, mm, ok := strings.Cut(s, ":")
	if !ok || len(mm) != 2 || len(hh) == 0 || len(hh) > 2 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidClock, s)
	}
	h, err := strconv.Atoi(hh)
	if err != nil || h < 0 || h > 23 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidClock, s)
	}
	m, err := strconv.Atoi(mm)
	if err != nil || m < 0 || m > 59 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidClock, s)
	}
	return h*60 + m, nil
}
