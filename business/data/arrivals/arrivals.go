// Package arrivals contains the records produced by the arrival monitor: stop
// arrival events, the journeys they are grouped into, and the row store
// contract used to persist journeys.
package arrivals

import (
	"fmt"
	"time"

	"github.com/rickar/cal/v2"
	"github.com/rickar/cal/v2/gb"
)

// ArrivalEvent records a vehicle transitioning from outside to within the
// proximity threshold of a stop. Emitted at most once per approach.
type ArrivalEvent struct {
	VehicleId string    `json:"vehicle_id"`
	RouteId   string    `json:"route_id"`
	Direction string    `json:"direction"`
	StopName  string    `json:"stop_name"`
	Timestamp time.Time `json:"timestamp"`
}

// Journey is one continuous run of a vehicle along a route, holding the first
// observed arrival time for each stop it was seen at. Journeys are never
// explicitly closed; a journey boundary only exists once a later event for the
// same vehicle proves the gap.
type Journey struct {
	JourneyKey string               `json:"journey_key"`
	VehicleId  string               `json:"vehicle_id"`
	RouteId    string               `json:"route_id"`
	Direction  string               `json:"direction"`
	StartedAt  time.Time            `json:"started_at"`
	Arrivals   map[string]time.Time `json:"arrivals"`
}

// MakeJourneyKey derives a journey identifier from the vehicle and the
// timestamp of the journey's first arrival event
func MakeJourneyKey(vehicleId string, firstEventAt time.Time) string {
	return fmt.Sprintf("%s@%s", vehicleId, firstEventAt.UTC().Format(time.RFC3339))
}

// NewJourney opens a journey from its first arrival event
func NewJourney(event *ArrivalEvent) *Journey {
	journey := &Journey{
		JourneyKey: MakeJourneyKey(event.VehicleId, event.Timestamp),
		VehicleId:  event.VehicleId,
		RouteId:    event.RouteId,
		Direction:  event.Direction,
		StartedAt:  event.Timestamp,
		Arrivals:   make(map[string]time.Time),
	}
	journey.Arrivals[event.StopName] = event.Timestamp
	return journey
}

// RecordArrival sets the arrival time for stopName if the journey has none yet.
// Returns false when the stop already holds a time; the earlier value always wins.
func (j *Journey) RecordArrival(stopName string, at time.Time) bool {
	if _, present := j.Arrivals[stopName]; present {
		return false
	}
	j.Arrivals[stopName] = at
	return true
}

// ArrivalAt returns the recorded arrival time for stopName if any
func (j *Journey) ArrivalAt(stopName string) (time.Time, bool) {
	at, present := j.Arrivals[stopName]
	return at, present
}

// DayTypeCalendar classifies service days so persisted journeys can be grouped
// by the traffic regime they ran under.
type DayTypeCalendar struct {
	calendar *cal.BusinessCalendar
}

// NewDayTypeCalendar builds a calendar observing the GB bank holidays
func NewDayTypeCalendar() *DayTypeCalendar {
	calendar := cal.NewBusinessCalendar()
	calendar.AddHoliday(gb.Holidays...)
	return &DayTypeCalendar{calendar: calendar}
}

// DayType returns "holiday", "weekend" or "weekday" for at
func (d *DayTypeCalendar) DayType(at time.Time) string {
	_, observed, _ := d.calendar.IsHoliday(at)
	if observed {
		return "holiday"
	}
	switch at.Weekday() {
	case time.Saturday, time.Sunday:
		return "weekend"
	}
	return "weekday"
}
