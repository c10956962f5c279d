package arrivals

import (
	"errors"
	"testing"
	"time"

	"github.com/matryer/is"
)

// fakeRow is the in-memory shape of one persisted journey row
type fakeRow struct {
	fields RowFields
	cells  map[string]string
}

// fakeRowStore implements RowStore in memory and can be primed to fail
type fakeRowStore struct {
	rows    map[string]*fakeRow
	refs    map[int64]*fakeRow
	nextRef int64
	failAll bool
}

func newFakeRowStore() *fakeRowStore {
	return &fakeRowStore{
		rows: make(map[string]*fakeRow),
		refs: make(map[int64]*fakeRow),
	}
}

func (f *fakeRowStore) FindRow(journeyKey string) (*Row, error) {
	if f.failAll {
		return nil, errors.New("store unreachable")
	}
	for ref, row := range f.refs {
		if row.fields.JourneyKey == journeyKey {
			return &Row{Key: journeyKey, Ref: ref}, nil
		}
	}
	return nil, nil
}

func (f *fakeRowStore) CreateRow(fields RowFields) (*Row, error) {
	if f.failAll {
		return nil, errors.New("store unreachable")
	}
	f.nextRef++
	row := &fakeRow{fields: fields, cells: map[string]string{fields.StopName: fields.ArrivalTime}}
	f.rows[fields.JourneyKey] = row
	f.refs[f.nextRef] = row
	return &Row{Key: fields.JourneyKey, Ref: f.nextRef}, nil
}

func (f *fakeRowStore) SetCellIfEmpty(row *Row, column string, value string) (bool, error) {
	if f.failAll {
		return false, errors.New("store unreachable")
	}
	target := f.refs[row.Ref]
	if _, present := target.cells[column]; present {
		return false, nil
	}
	target.cells[column] = value
	return true, nil
}

func testJourney(startedAt time.Time) *Journey {
	return NewJourney(&ArrivalEvent{
		VehicleId: "BUS1",
		RouteId:   "TUBE",
		Direction: "outbound",
		StopName:  "Stop A",
		Timestamp: startedAt,
	})
}

func TestMergerCreatesRowWhenAbsent(t *testing.T) {
	is := is.New(t)
	store := newFakeRowStore()
	merger := NewMerger(store, time.UTC)

	startedAt := time.Date(2025, 7, 3, 8, 0, 0, 0, time.UTC)
	journey := testJourney(startedAt)

	is.NoErr(merger.Persist(journey, "Stop A", startedAt))

	row := store.rows[journey.JourneyKey]
	is.True(row != nil)
	is.Equal(row.fields.Date, "2025-07-03")
	is.Equal(row.fields.VehicleId, "BUS1")
	is.Equal(row.fields.RouteId, "TUBE")
	is.Equal(row.fields.Direction, "outbound")
	is.Equal(row.fields.DayType, "weekday")
	is.Equal(row.cells["Stop A"], "08:00:00")
}

func TestMergerNeverOverwritesCell(t *testing.T) {
	is := is.New(t)
	store := newFakeRowStore()
	merger := NewMerger(store, time.UTC)

	startedAt := time.Date(2025, 7, 3, 8, 0, 0, 0, time.UTC)
	journey := testJourney(startedAt)

	is.NoErr(merger.Persist(journey, "Stop A", startedAt))
	// replaying the same stop five minutes later must not move the cell
	is.NoErr(merger.Persist(journey, "Stop A", startedAt.Add(5*time.Minute)))

	is.Equal(store.rows[journey.JourneyKey].cells["Stop A"], "08:00:00")
}

func TestMergerFillsEmptyCellOnExistingRow(t *testing.T) {
	is := is.New(t)
	store := newFakeRowStore()
	merger := NewMerger(store, time.UTC)

	startedAt := time.Date(2025, 7, 3, 8, 0, 0, 0, time.UTC)
	journey := testJourney(startedAt)

	is.NoErr(merger.Persist(journey, "Stop A", startedAt))
	is.NoErr(merger.Persist(journey, "Stop B", startedAt.Add(10*time.Minute)))

	row := store.rows[journey.JourneyKey]
	is.Equal(row.cells["Stop A"], "08:00:00")
	is.Equal(row.cells["Stop B"], "08:10:00")
	is.Equal(len(store.rows), 1)
}

func TestMergerSurfacesStoreFailure(t *testing.T) {
	store := newFakeRowStore()
	store.failAll = true
	merger := NewMerger(store, time.UTC)

	startedAt := time.Date(2025, 7, 3, 8, 0, 0, 0, time.UTC)
	if err := merger.Persist(testJourney(startedAt), "Stop A", startedAt); err == nil {
		t.Error("Persist() expected error when the store is unreachable")
	}
}

func TestMergerWritesLocalTime(t *testing.T) {
	is := is.New(t)
	location, err := time.LoadLocation("Europe/London")
	is.NoErr(err)

	store := newFakeRowStore()
	merger := NewMerger(store, location)

	// 07:00 UTC in July is 08:00 in London
	startedAt := time.Date(2025, 7, 3, 7, 0, 0, 0, time.UTC)
	journey := testJourney(startedAt)
	is.NoErr(merger.Persist(journey, "Stop A", startedAt))

	is.Equal(store.rows[journey.JourneyKey].cells["Stop A"], "08:00:00")
}
