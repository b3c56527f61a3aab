package domain

import (
	"time"
)

// OperatingDays is a weekly bitmask, bit 0 = Sunday through bit 6 = Saturday
type OperatingDays uint8

// EveryDay enables all seven weekdays
const EveryDay OperatingDays = 0x7f

// NewOperatingDays builds a mask from weekdays
func NewOperatingDays(days ...time.Weekday) OperatingDays {
	var d OperatingDays
	for _, w := range days {
		d |= 1 << uint(w)
	}
	return d
}

// Runs reports whether the mask enables weekday w
func (d OperatingDays) Runs(w time.Weekday) bool {
	return d&(1<<uint(w)) != 0
}

// RouteStation is one stop on a train's ordered route
type RouteStation struct {
	Code       string `json:"code"`
	Name       string `json:"name"`
	DistanceKm int    `json:"distance_km"`
	DayOffset  int    `json:"day_offset"`
	Arrival    string `json:"arrival,omitempty"`
	Departure  string `json:"departure,omitempty"`
	Platform   string `json:"platform,omitempty"`
}

// ClassInfo holds the fare rate and sellable capacity of one class
type ClassInfo struct {
	Code string `json:"code"`
	// FarePerKm is an exact decimal such as "1.25"
	FarePerKm string `json:"fare_per_km"`
	Capacity  int    `json:"capacity"`
}

// Train is the read-only catalog view of a train
type Train struct {
	ID            string               `json:"id"`
	Number        string               `json:"number"`
	Name          string               `json:"name"`
	Active        bool                 `json:"active"`
	OperatingDays OperatingDays        `json:"operating_days"`
	Stations      []RouteStation       `json:"stations"`
	Classes       map[string]ClassInfo `json:"classes"`
}

// StationIndex returns the route position of a station code
func (t *Train) StationIndex(code string) (int, bool) {
	for i := range t.Stations {
		if t.Stations[i].Code == code {
			return i, true
		}
	}
	return -1, false
}

// Station looks up a station by code
func (t *Train) Station(code string) (RouteStation, bool) {
	i, ok := t.StationIndex(code)
	if !ok {
		return RouteStation{}, false
	}
	return t.Stations[i], true
}

// Class looks up an offered class
func (t *Train) Class(code string) (ClassInfo, bool) {
	c, ok := t.Classes[code]
	return c, ok
}

// RunsOn checks the operating-day mask for a calendar date
func (t *Train) RunsOn(date time.Time) bool {
	return t.OperatingDays.Runs(date.Weekday())
}

// BoardingSnapshot copies a station for the origin side of a booking,
// keeping its departure time
func (s RouteStation) BoardingSnapshot() StationSnapshot {
	return s.snapshot(firstNonEmpty(s.Departure, s.Arrival))
}

// AlightingSnapshot copies a station for the destination side, keeping its arrival time
func (s RouteStation) AlightingSnapshot() StationSnapshot {
	return s.snapshot(firstNonEmpty(s.Arrival, s.Departure))
}

func (s RouteStation) snapshot(scheduled string) StationSnapshot {
	return StationSnapshot{
		Code:          s.Code,
		Name:          s.Name,
		ScheduledTime: scheduled,
		DayOffset:     s.DayOffset,
		Platform:      s.Platform,
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
