package arrivals

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
)

// PGStore implements RowStore on postgres. One journey row per journey key,
// one arrival row per (journey, stop); the unique constraint on
// (journey_id, stop_name) provides the set-cell-if-empty guarantee.
type PGStore struct {
	db *sqlx.DB
}

// NewPGStore creates a PGStore over db
func NewPGStore(db *sqlx.DB) *PGStore {
	return &PGStore{db: db}
}

// EnsureSchema creates the journey tables when they do not exist yet
func (s *PGStore) EnsureSchema() error {
	schema := `
create table if not exists journey (
    id           bigserial primary key,
    journey_key  text not null unique,
    service_date text not null,
    vehicle_id   text not null,
    route_id     text not null,
    direction    text not null,
    day_type     text not null,
    created_at   timestamptz not null
);
create table if not exists journey_arrival (
    journey_id   bigint not null references journey (id),
    stop_name    text not null,
    arrival_time text not null,
    created_at   timestamptz not null,
    primary key (journey_id, stop_name)
)`
	_, err := s.db.Exec(schema)
	if err != nil {
		return fmt.Errorf("creating journey schema: %w", err)
	}
	return nil
}

// pgJourney carries the columns for inserting a journey row
type pgJourney struct {
	JourneyKey  string    `db:"journey_key"`
	ServiceDate string    `db:"service_date"`
	VehicleId   string    `db:"vehicle_id"`
	RouteId     string    `db:"route_id"`
	Direction   string    `db:"direction"`
	DayType     string    `db:"day_type"`
	CreatedAt   time.Time `db:"created_at"`
}

// FindRow implements RowStore, returning nil when no row holds journeyKey
func (s *PGStore) FindRow(journeyKey string) (*Row, error) {
	var id int64
	statementString := s.db.Rebind("select id from journey where journey_key = ?")
	err := s.db.Get(&id, statementString, journeyKey)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &Row{Key: journeyKey, Ref: id}, nil
}

// CreateRow implements RowStore by inserting the journey row and its first arrival
func (s *PGStore) CreateRow(fields RowFields) (*Row, error) {
	statementString := "insert into journey " +
		"(journey_key, " +
		"service_date, " +
		"vehicle_id, " +
		"route_id, " +
		"direction, " +
		"day_type, " +
		"created_at) " +
		"values " +
		"(:journey_key, " +
		":service_date, " +
		":vehicle_id, " +
		":route_id, " +
		":direction, " +
		":day_type, " +
		":created_at) " +
		"returning id"
	rows, err := s.db.NamedQuery(statementString, pgJourney{
		JourneyKey:  fields.JourneyKey,
		ServiceDate: fields.Date,
		VehicleId:   fields.VehicleId,
		RouteId:     fields.RouteId,
		Direction:   fields.Direction,
		DayType:     fields.DayType,
		CreatedAt:   time.Now(),
	})
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = rows.Close()
	}()
	if !rows.Next() {
		return nil, fmt.Errorf("journey insert for %s returned no id", fields.JourneyKey)
	}
	var id int64
	if err = rows.Scan(&id); err != nil {
		return nil, err
	}

	row := &Row{Key: fields.JourneyKey, Ref: id}
	if _, err = s.SetCellIfEmpty(row, fields.StopName, fields.ArrivalTime); err != nil {
		return nil, err
	}
	return row, nil
}

// SetCellIfEmpty implements RowStore; the conflict target makes replays no-ops
func (s *PGStore) SetCellIfEmpty(row *Row, column string, value string) (bool, error) {
	statementString := s.db.Rebind("insert into journey_arrival " +
		"(journey_id, stop_name, arrival_time, created_at) " +
		"values (?, ?, ?, ?) " +
		"on conflict (journey_id, stop_name) do nothing")
	result, err := s.db.Exec(statementString, row.Ref, column, value, time.Now())
	if err != nil {
		return false, err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}
