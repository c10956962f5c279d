package monitor

import (
	"io"
	"log"
	"testing"
	"time"

	"github.com/BusDataTools/buscast/business/data/timetable"
	"github.com/matryer/is"
)

var testLog = log.New(io.Discard, "", 0)

// latitudeMetersNorth moves a latitude north by approximately meters
func latitudeMetersNorth(latitude float64, meters float64) float64 {
	return latitude + meters/111194.93
}

func testStops() []timetable.Stop {
	return []timetable.Stop{
		{Name: "Stop A", Latitude: 51.75, Longitude: -1.26, HasLocation: true, SequenceIndex: 0},
		{Name: "Stop B", Latitude: 51.76, Longitude: -1.25, HasLocation: true, SequenceIndex: 1},
	}
}

func positionAt(latitude float64, longitude float64, at time.Time) *vehiclePosition {
	return &vehiclePosition{
		VehicleId: "BUS1",
		RouteId:   "TUBE",
		Direction: "outbound",
		Latitude:  latitude,
		Longitude: longitude,
		Timestamp: at,
	}
}

func TestObserveEmitsSingleEventWhileNear(t *testing.T) {
	is := is.New(t)
	detector := newArrivalDetector("BUS1", 100)
	stops := testStops()
	at := time.Date(2025, 7, 3, 8, 0, 0, 0, time.UTC)

	// 50 meters from Stop A
	events := detector.observe(testLog, positionAt(latitudeMetersNorth(51.75, 50), -1.26, at), stops)
	is.Equal(len(events), 1)
	is.Equal(events[0].StopName, "Stop A")
	is.Equal(events[0].Timestamp, at)

	// still inside the threshold a minute later, no new event
	events = detector.observe(testLog, positionAt(latitudeMetersNorth(51.75, 60), -1.26, at.Add(time.Minute)), stops)
	is.Equal(len(events), 0)
}

func TestObserveReArmsAfterLeaving(t *testing.T) {
	is := is.New(t)
	detector := newArrivalDetector("BUS1", 100)
	stops := testStops()
	at := time.Date(2025, 7, 3, 8, 0, 0, 0, time.UTC)

	events := detector.observe(testLog, positionAt(latitudeMetersNorth(51.75, 50), -1.26, at), stops)
	is.Equal(len(events), 1)

	// 150 meters away, outside the threshold
	events = detector.observe(testLog, positionAt(latitudeMetersNorth(51.75, 150), -1.26, at.Add(time.Minute)), stops)
	is.Equal(len(events), 0)

	// back within 60 meters, a second arrival
	events = detector.observe(testLog, positionAt(latitudeMetersNorth(51.75, 60), -1.26, at.Add(2*time.Minute)), stops)
	is.Equal(len(events), 1)
	is.Equal(events[0].StopName, "Stop A")
}

func TestObserveOverlappingStopsBothEmit(t *testing.T) {
	is := is.New(t)
	detector := newArrivalDetector("BUS1", 100)
	at := time.Date(2025, 7, 3, 8, 0, 0, 0, time.UTC)

	// two stops 80 meters apart, vehicle 40 meters from each
	stops := []timetable.Stop{
		{Name: "North Gate", Latitude: latitudeMetersNorth(51.75, 80), Longitude: -1.26, HasLocation: true},
		{Name: "South Gate", Latitude: 51.75, Longitude: -1.26, HasLocation: true},
	}

	events := detector.observe(testLog, positionAt(latitudeMetersNorth(51.75, 40), -1.26, at), stops)
	is.Equal(len(events), 2)
}

func TestObserveDiscardsInvalidPositions(t *testing.T) {
	is := is.New(t)
	detector := newArrivalDetector("BUS1", 100)
	stops := testStops()
	at := time.Date(2025, 7, 3, 8, 0, 0, 0, time.UTC)

	events := detector.observe(testLog, positionAt(0, 0, at), stops)
	is.Equal(len(events), 0)

	events = detector.observe(testLog, positionAt(95.0, -1.26, at), stops)
	is.Equal(len(events), 0)

	// a bad sample must not disturb the near state of an armed stop
	events = detector.observe(testLog, positionAt(latitudeMetersNorth(51.75, 50), -1.26, at.Add(time.Minute)), stops)
	is.Equal(len(events), 1)
	events = detector.observe(testLog, positionAt(0, 0, at.Add(2*time.Minute)), stops)
	is.Equal(len(events), 0)
	events = detector.observe(testLog, positionAt(latitudeMetersNorth(51.75, 60), -1.26, at.Add(3*time.Minute)), stops)
	is.Equal(len(events), 0)
}

func TestObserveSkipsStopsWithoutLocation(t *testing.T) {
	is := is.New(t)
	detector := newArrivalDetector("BUS1", 100)
	at := time.Date(2025, 7, 3, 8, 0, 0, 0, time.UTC)

	stops := []timetable.Stop{
		{Name: "Unmapped Stop", HasLocation: false},
	}
	events := detector.observe(testLog, positionAt(51.75, -1.26, at), stops)
	is.Equal(len(events), 0)
}

func TestDetectorCollectionReusesDetectors(t *testing.T) {
	is := is.New(t)
	collection := newArrivalDetectorCollection(100)

	first := collection.getOrMakeDetector("BUS1")
	second := collection.getOrMakeDetector("BUS1")
	other := collection.getOrMakeDetector("BUS2")

	is.True(first == second)
	is.True(first != other)
	is.Equal(first.proximityMeters, 100.0)
}
