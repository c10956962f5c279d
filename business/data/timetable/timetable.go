// Package timetable provides ordered stop sequences for monitored routes, loaded
// from published timetable documents and cached for the life of the process.
package timetable

import (
	"fmt"
	"strings"
)

// Stop is one scheduled stop on a route in a single direction of travel.
// Identified by (RouteId, Direction, Name). A stop whose coordinates could not
// be recovered from the timetable document has HasLocation false and cannot be
// used for proximity checks.
type Stop struct {
	Name          string  `json:"name"`
	AtcoCode      string  `json:"atco_code"`
	Latitude      float64 `json:"latitude"`
	Longitude     float64 `json:"longitude"`
	HasLocation   bool    `json:"has_location"`
	SequenceIndex int     `json:"sequence_index"`
	RouteId       string  `json:"route_id"`
	Direction     string  `json:"direction"`
}

// ParseError indicates a timetable document for a route/direction could not be
// retrieved or understood. The route/direction is unusable until a later fetch succeeds.
type ParseError struct {
	RouteId   string
	Direction string
	Err       error
}

func (p *ParseError) Error() string {
	return fmt.Sprintf("timetable parse failed for route %s direction %s: %v", p.RouteId, p.Direction, p.Err)
}

func (p *ParseError) Unwrap() error {
	return p.Err
}

// Source produces the ordered stop sequence for a route and direction.
// Implementations fetch and parse external timetable documents.
type Source interface {
	StopsFor(routeId string, direction string) ([]Stop, error)
}

// Index caches stop sequences by (route, direction) with process lifetime.
// The first lookup for a key hits the Source; successful results are cached,
// failures are not, so a failed fetch is retried on the next lookup.
type Index struct {
	source Source
	cache  map[string][]Stop
}

// NewIndex creates an Index over source
func NewIndex(source Source) *Index {
	return &Index{
		source: source,
		cache:  make(map[string][]Stop),
	}
}

// StopsFor returns the ordered stops for routeId traveling in direction.
// Errors from the underlying source propagate to the caller as *ParseError.
func (idx *Index) StopsFor(routeId string, direction string) ([]Stop, error) {
	key := cacheKey(routeId, direction)
	if stops, present := idx.cache[key]; present {
		return stops, nil
	}
	stops, err := idx.source.StopsFor(routeId, direction)
	if err != nil {
		if _, ok := err.(*ParseError); ok {
			return nil, err
		}
		return nil, &ParseError{RouteId: routeId, Direction: direction, Err: err}
	}
	idx.cache[key] = stops
	return stops, nil
}

func cacheKey(routeId string, direction string) string {
	return strings.Join([]string{routeId, direction}, "_")
}
