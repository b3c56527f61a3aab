package domain

import (
	"strings"
)

// Passenger limits
const (
	MinPassengerNameLength = 3
	MinPassengerAge        = 1
	MaxPassengerAge        = 120
	DefaultMaxPassengers   = 6
)

// Gender of a passenger
type Gender string

const (
	GenderMale   Gender = "Male"
	GenderFemale Gender = "Female"
	GenderOther  Gender = "Other"
)

// IsValid checks if the gender is valid
func (g Gender) IsValid() bool {
	switch g {
	case GenderMale, GenderFemale, GenderOther:
		return true
	}
	return false
}

// BerthPreference is a seat choice. Which values apply depends on the class family.
type BerthPreference string

const (
	BerthNoPreference BerthPreference = ""
	BerthLower        BerthPreference = "Lower"
	BerthMiddle       BerthPreference = "Middle"
	BerthUpper        BerthPreference = "Upper"
	BerthSideLower    BerthPreference = "SideLower"
	BerthSideUpper    BerthPreference = "SideUpper"
	SeatWindow        BerthPreference = "Window"
	SeatAisle         BerthPreference = "Aisle"
)

// ClassFamily groups classes that share a seating layout
type ClassFamily string

const (
	FamilySleeper ClassFamily = "sleeper"
	FamilySeater  ClassFamily = "seater"
	FamilyOther   ClassFamily = "other"
)

// FamilyOf maps a class code to its seating family
func FamilyOf(classCode string) ClassFamily {
	switch strings.ToUpper(classCode) {
	case "SL", "1A", "2A", "3A", "3E":
		return FamilySleeper
	case "CC", "EC", "2S", "EA":
		return FamilySeater
	}
	return FamilyOther
}

// ValidFor reports whether the preference exists in the given class
func (p BerthPreference) ValidFor(classCode string) bool {
	if p == BerthNoPreference {
		return true
	}
	switch FamilyOf(classCode) {
	case FamilySleeper:
		switch p {
		case BerthLower, BerthMiddle, BerthUpper, BerthSideLower, BerthSideUpper:
			return true
		}
	case FamilySeater:
		return p == SeatWindow || p == SeatAisle
	}
	return false
}

// TicketStatus is the per-passenger state
type TicketStatus string

const (
	TicketStatusConfirmed TicketStatus = "Confirmed"
	TicketStatusWaiting   TicketStatus = "Waiting"
	TicketStatusRAC       TicketStatus = "RAC"
	TicketStatusCancelled TicketStatus = "Cancelled"
)

// IsValid checks if the status is a valid TicketStatus
func (s TicketStatus) IsValid() bool {
	switch s {
	case TicketStatusConfirmed, TicketStatusWaiting, TicketStatusRAC, TicketStatusCancelled:
		return true
	}
	return false
}

// CanTransitionTo allows any move out of a live state. Cancelled is terminal.
func (s TicketStatus) CanTransitionTo(next TicketStatus) bool {
	if !next.IsValid() {
		return false
	}
	switch s {
	case TicketStatusConfirmed, TicketStatusWaiting, TicketStatusRAC:
		return true
	}
	return false
}

// String returns the string representation of TicketStatus
func (s TicketStatus) String() string {
	return string(s)
}

// Passenger is owned by exactly one booking
type Passenger struct {
	Name            string          `json:"name"`
	Age             int             `json:"age"`
	Gender          Gender          `json:"gender"`
	BerthPreference BerthPreference `json:"berth_preference,omitempty"`
	TicketStatus    TicketStatus    `json:"ticket_status"`
}

// Validate checks the passenger's own fields for a booking in classCode
func (p *Passenger) Validate(classCode string) error {
	if len([]rune(strings.TrimSpace(p.Name))) < MinPassengerNameLength {
		return ErrPassengerNameTooShort
	}
	if p.Age < MinPassengerAge || p.Age > MaxPassengerAge {
		return ErrPassengerAge
	}
	if !p.Gender.IsValid() {
		return ErrPassengerGender
	}
	if !p.BerthPreference.ValidFor(classCode) {
		return ErrBerthPreference
	}
	return nil
}
