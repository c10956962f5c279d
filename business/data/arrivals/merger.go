package arrivals

import (
	"fmt"
	"time"
)

// Row is a store handle for one persisted journey row. Tab and Ref are
// store-specific locators: the worksheet tab and row number for a spreadsheet
// store, a surrogate id for a relational one.
type Row struct {
	Key string
	Tab string
	Ref int64
}

// RowFields carries the identifying columns used to seed a new journey row
// plus its first stop cell.
type RowFields struct {
	JourneyKey  string
	Date        string
	VehicleId   string
	RouteId     string
	Direction   string
	DayType     string
	StopName    string
	ArrivalTime string
}

// RowStore abstracts the persisted tabular store. Any backend providing these
// three operations is interchangeable. SetCellIfEmpty must be atomic enough
// that replaying the same write twice leaves the first value in place.
type RowStore interface {
	// FindRow returns the row for journeyKey, or nil when none exists
	FindRow(journeyKey string) (*Row, error)
	// CreateRow appends a new row seeded from fields
	CreateRow(fields RowFields) (*Row, error)
	// SetCellIfEmpty writes value into the column only when the cell is
	// currently empty, returning whether a write happened
	SetCellIfEmpty(row *Row, column string, value string) (bool, error)
}

// Merger persists journey stop arrivals into a RowStore without ever
// overwriting a previously written value.
type Merger struct {
	store    RowStore
	dayTypes *DayTypeCalendar
	location *time.Location
}

// NewMerger creates a Merger writing times localized to location
func NewMerger(store RowStore, location *time.Location) *Merger {
	return &Merger{
		store:    store,
		dayTypes: NewDayTypeCalendar(),
		location: location,
	}
}

// Persist records the arrival of journey at stopName. An existing row gets the
// stop cell set only if it is still empty, so replaying an event is safe; a
// missing row is created seeded with the journey's identifying columns.
// Store failures are returned to the caller, which decides whether to retry.
func (m *Merger) Persist(journey *Journey, stopName string, at time.Time) error {
	row, err := m.store.FindRow(journey.JourneyKey)
	if err != nil {
		return fmt.Errorf("finding row for journey %s: %w", journey.JourneyKey, err)
	}

	value := at.In(m.location).Format("15:04:05")

	if row == nil {
		startedAt := journey.StartedAt.In(m.location)
		fields := RowFields{
			JourneyKey:  journey.JourneyKey,
			Date:        startedAt.Format("2006-01-02"),
			VehicleId:   journey.VehicleId,
			RouteId:     journey.RouteId,
			Direction:   journey.Direction,
			DayType:     m.dayTypes.DayType(startedAt),
			StopName:    stopName,
			ArrivalTime: value,
		}
		if _, err = m.store.CreateRow(fields); err != nil {
			return fmt.Errorf("creating row for journey %s: %w", journey.JourneyKey, err)
		}
		return nil
	}

	if _, err = m.store.SetCellIfEmpty(row, stopName, value); err != nil {
		return fmt.Errorf("setting cell %s for journey %s: %w", stopName, journey.JourneyKey, err)
	}
	return nil
}
