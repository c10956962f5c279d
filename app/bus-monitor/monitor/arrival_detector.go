package monitor

import (
	"log"

	"github.com/BusDataTools/buscast/business/data/arrivals"
	"github.com/BusDataTools/buscast/business/data/timetable"
	"github.com/BusDataTools/buscast/foundation/geodist"
)

// arrivalDetectorCollection is a convenience wrapper for retrieving or
// constructing an arrivalDetector for a vehicle
type arrivalDetectorCollection struct {
	detectors       map[string]*arrivalDetector
	proximityMeters float64
}

func newArrivalDetectorCollection(proximityMeters float64) arrivalDetectorCollection {
	return arrivalDetectorCollection{
		detectors:       make(map[string]*arrivalDetector),
		proximityMeters: proximityMeters,
	}
}

func (c *arrivalDetectorCollection) getOrMakeDetector(vehicleId string) *arrivalDetector {
	detector, present := c.detectors[vehicleId]
	if !present {
		detector = newArrivalDetector(vehicleId, c.proximityMeters)
		c.detectors[vehicleId] = detector
	}
	return detector
}

// arrivalDetector watches subsequent positions of a single vehicle and emits an
// ArrivalEvent each time the vehicle moves from outside to within the proximity
// threshold of a stop. Each stop is tracked independently, so a vehicle inside
// two overlapping stop radii produces an event for both.
type arrivalDetector struct {
	vehicleId       string
	proximityMeters float64

	// nearStops holds the stop names the vehicle is currently within range of.
	// A stop absent from the map is considered far.
	nearStops map[string]bool
}

func newArrivalDetector(vehicleId string, proximityMeters float64) *arrivalDetector {
	return &arrivalDetector{
		vehicleId:       vehicleId,
		proximityMeters: proximityMeters,
		nearStops:       make(map[string]bool),
	}
}

// observe evaluates one position report against every stop on the vehicle's
// route and returns the arrival events it produced. Positions with invalid
// coordinates are discarded without changing any stop state, so a vehicle
// already near a stop does not re-arrive after a bad GPS sample. A (0,0)
// position is a tracker placeholder, not a real location.
func (d *arrivalDetector) observe(log *log.Logger, position *vehiclePosition, stops []timetable.Stop) []*arrivals.ArrivalEvent {

	here := geodist.Coordinate{Latitude: position.Latitude, Longitude: position.Longitude}
	if (position.Latitude == 0 && position.Longitude == 0) || !here.Valid() {
		log.Printf("discarding position (%v,%v) for vehicle %s\n",
			position.Latitude, position.Longitude, d.vehicleId)
		return nil
	}

	var events []*arrivals.ArrivalEvent
	for _, stop := range stops {
		if !stop.HasLocation {
			continue
		}
		distance, err := geodist.Distance(here, geodist.Coordinate{Latitude: stop.Latitude, Longitude: stop.Longitude})
		if err != nil {
			log.Printf("unable to measure distance from vehicle %s to stop %s: %v\n",
				d.vehicleId, stop.Name, err)
			continue
		}
		if distance <= d.proximityMeters {
			if !d.nearStops[stop.Name] {
				d.nearStops[stop.Name] = true
				events = append(events, &arrivals.ArrivalEvent{
					VehicleId: d.vehicleId,
					RouteId:   position.RouteId,
					Direction: position.Direction,
					StopName:  stop.Name,
					Timestamp: position.Timestamp,
				})
			}
		} else {
			// moving out of range is silent, it only re-arms the stop
			delete(d.nearStops, stop.Name)
		}
	}
	return events
}
