package domain

import (
	"fmt"
	"time"
)

// DateLayout is the wire format of calendar dates
const DateLayout = "2006-01-02"

// CivilDate strips the clock from t, keeping its calendar day in t's own location.
// The result is midnight UTC so dates compare with ==.
func CivilDate(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// ParseDate parses a YYYY-MM-DD calendar date
func ParseDate(s string) (time.Time, error) {
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		return time.Time{}, ErrInvalidJourneyDate
	}
	return t, nil
}

// Today returns the calendar date of now in loc
func Today(now time.Time, loc *time.Location) time.Time {
	return CivilDate(now.In(loc))
}

// DaysUntil returns ceil((midnight of date in loc - now) / 24h). Past instants yield <= 0.
func DaysUntil(date, now time.Time, loc *time.Location) int {
	y, m, d := date.Date()
	diff := time.Date(y, m, d, 0, 0, 0, 0, loc).Sub(now)
	days := int(diff / (24 * time.Hour))
	if diff%(24*time.Hour) > 0 {
		days++
	}
	return days
}

// BucketKey identifies one (train, class, journey date) inventory bucket
type BucketKey struct {
	TrainID     string    `json:"train_id"`
	ClassCode   string    `json:"class_code"`
	JourneyDate time.Time `json:"journey_date"`
}

// NewBucketKey normalizes the journey date to a civil date
func NewBucketKey(trainID, classCode string, journeyDate time.Time) BucketKey {
	return BucketKey{TrainID: trainID, ClassCode: classCode, JourneyDate: CivilDate(journeyDate)}
}

// String renders the key as train:class:date
func (k BucketKey) String() string {
	return fmt.Sprintf("%s:%s:%s", k.TrainID, k.ClassCode, k.JourneyDate.Format(DateLayout))
}

// InventoryBucket is the committed seat count for one key. Version increments on every write.
// A bucket that was never written has Version 0.
type InventoryBucket struct {
	Key       BucketKey `json:"key"`
	Committed int       `json:"committed"`
	Version   int64     `json:"version"`
}

// Remaining returns seats still sellable under capacity
func (b InventoryBucket) Remaining(capacity int) int {
	if r := capacity - b.Committed; r > 0 {
		return r
	}
	return 0
}

// BucketUpdate is a conditional write: it applies only while the stored
// version still equals ExpectedVersion
type BucketUpdate struct {
	Key             BucketKey
	ExpectedVersion int64
	Committed       int
}

// Availability summarizes a bucket against its class capacity
type Availability struct {
	Key       BucketKey `json:"key"`
	Capacity  int       `json:"capacity"`
	Committed int       `json:"committed"`
	Remaining int       `json:"remaining"`
}
