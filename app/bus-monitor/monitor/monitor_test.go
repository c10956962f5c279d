package monitor

import (
	"errors"
	"testing"
	"time"

	"github.com/BusDataTools/buscast/business/data/arrivals"
	"github.com/BusDataTools/buscast/business/data/timetable"
	"github.com/matryer/is"
)

// memoryRow is one persisted journey row held by memoryRowStore
type memoryRow struct {
	fields arrivals.RowFields
	cells  map[string]string
}

// memoryRowStore implements arrivals.RowStore for pipeline tests
type memoryRowStore struct {
	rows    []*memoryRow
	byKey   map[string]int64
	failAll bool
}

func newMemoryRowStore() *memoryRowStore {
	return &memoryRowStore{byKey: make(map[string]int64)}
}

func (m *memoryRowStore) FindRow(journeyKey string) (*arrivals.Row, error) {
	if m.failAll {
		return nil, errors.New("store unreachable")
	}
	ref, present := m.byKey[journeyKey]
	if !present {
		return nil, nil
	}
	return &arrivals.Row{Key: journeyKey, Ref: ref}, nil
}

func (m *memoryRowStore) CreateRow(fields arrivals.RowFields) (*arrivals.Row, error) {
	if m.failAll {
		return nil, errors.New("store unreachable")
	}
	row := &memoryRow{fields: fields, cells: map[string]string{fields.StopName: fields.ArrivalTime}}
	m.rows = append(m.rows, row)
	ref := int64(len(m.rows) - 1)
	m.byKey[fields.JourneyKey] = ref
	return &arrivals.Row{Key: fields.JourneyKey, Ref: ref}, nil
}

func (m *memoryRowStore) SetCellIfEmpty(row *arrivals.Row, column string, value string) (bool, error) {
	if m.failAll {
		return false, errors.New("store unreachable")
	}
	target := m.rows[row.Ref]
	if _, present := target.cells[column]; present {
		return false, nil
	}
	target.cells[column] = value
	return true, nil
}

// fixedSource serves one stop list for every route and direction
type fixedSource struct {
	stops []timetable.Stop
	err   error
}

func (f *fixedSource) StopsFor(string, string) ([]timetable.Stop, error) {
	return f.stops, f.err
}

// newTestPipeline wires a detector collection, segmenter and publisher around a
// memory store the way the monitor loop does
func newTestPipeline(store *memoryRowStore) (*arrivalDetectorCollection, *journeySegmenter, *arrivalResultsPublisher, *monitorMetrics) {
	metrics := newMonitorMetrics()
	detectors := newArrivalDetectorCollection(100)
	segmenter := newJourneySegmenter(3 * time.Hour)
	publisher := makeArrivalResultsPublisher(testLog, nil, "", false,
		[]*arrivals.Merger{arrivals.NewMerger(store, time.UTC)}, metrics)
	return &detectors, segmenter, publisher, metrics
}

func TestProcessPositionsRecordsFirstArrivalAcrossCycles(t *testing.T) {
	is := is.New(t)

	store := newMemoryRowStore()
	detectors, segmenter, publisher, metrics := newTestPipeline(store)

	index := timetable.NewIndex(&fixedSource{stops: []timetable.Stop{
		{Name: "Stop A", Latitude: 51.75, Longitude: -1.26, HasLocation: true},
	}})

	start := time.Date(2025, 7, 3, 8, 0, 0, 0, time.UTC)

	// cycle 1: 50 meters out, first arrival
	processPositions(testLog, []vehiclePosition{
		*positionAt(latitudeMetersNorth(51.75, 50), -1.26, start),
	}, index, detectors, segmenter, publisher, metrics)

	// cycle 2: drifted out to 150 meters
	processPositions(testLog, []vehiclePosition{
		*positionAt(latitudeMetersNorth(51.75, 150), -1.26, start.Add(time.Minute)),
	}, index, detectors, segmenter, publisher, metrics)

	// cycle 3: back to 60 meters, a second arrival event on the same journey
	processPositions(testLog, []vehiclePosition{
		*positionAt(latitudeMetersNorth(51.75, 60), -1.26, start.Add(2*time.Minute)),
	}, index, detectors, segmenter, publisher, metrics)

	is.Equal(len(store.rows), 1)
	is.Equal(store.rows[0].fields.VehicleId, "BUS1")
	is.Equal(store.rows[0].fields.Date, "2025-07-03")
	// the revisit must not move the recorded time
	is.Equal(store.rows[0].cells["Stop A"], "08:00:00")
	is.Equal(len(segmenter.openJourneys()), 1)
}

func TestProcessPositionsSkipsRouteWithBrokenTimetable(t *testing.T) {
	is := is.New(t)

	store := newMemoryRowStore()
	detectors, segmenter, publisher, metrics := newTestPipeline(store)

	index := timetable.NewIndex(&fixedSource{err: errors.New("no such timetable")})

	start := time.Date(2025, 7, 3, 8, 0, 0, 0, time.UTC)
	processPositions(testLog, []vehiclePosition{
		*positionAt(51.75, -1.26, start),
	}, index, detectors, segmenter, publisher, metrics)

	is.Equal(len(store.rows), 0)
	is.Equal(len(segmenter.openJourneys()), 0)
}

func TestProcessPositionsContinuesPastStoreFailure(t *testing.T) {
	is := is.New(t)

	store := newMemoryRowStore()
	store.failAll = true
	detectors, segmenter, publisher, metrics := newTestPipeline(store)

	index := timetable.NewIndex(&fixedSource{stops: []timetable.Stop{
		{Name: "Stop A", Latitude: 51.75, Longitude: -1.26, HasLocation: true},
	}})

	start := time.Date(2025, 7, 3, 8, 0, 0, 0, time.UTC)
	processPositions(testLog, []vehiclePosition{
		*positionAt(latitudeMetersNorth(51.75, 50), -1.26, start),
	}, index, detectors, segmenter, publisher, metrics)

	// the journey state is kept even though persistence failed
	is.Equal(len(segmenter.openJourneys()), 1)
}

func TestKeepWantedDirections(t *testing.T) {
	is := is.New(t)

	wanted := map[RouteDirection]bool{
		{RouteId: "TUBE", Direction: "outbound"}: true,
	}
	positions := []vehiclePosition{
		{VehicleId: "BUS1", RouteId: "TUBE", Direction: "outbound"},
		{VehicleId: "BUS2", RouteId: "TUBE", Direction: "inbound"},
		{VehicleId: "BUS3", RouteId: "X90", Direction: "outbound"},
	}

	kept := keepWantedDirections(positions, wanted)
	is.Equal(len(kept), 1)
	is.Equal(kept[0].VehicleId, "BUS1")
}

func TestDistinctRouteIds(t *testing.T) {
	is := is.New(t)

	routes := []RouteDirection{
		{RouteId: "TUBE", Direction: "outbound"},
		{RouteId: "TUBE", Direction: "inbound"},
		{RouteId: "X90", Direction: "outbound"},
	}
	is.Equal(distinctRouteIds(routes), []string{"TUBE", "X90"})
}
