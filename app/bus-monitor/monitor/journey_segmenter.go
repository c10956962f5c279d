package monitor

import (
	"sync"
	"time"

	"github.com/BusDataTools/buscast/business/data/arrivals"
)

// openJourney pairs a journey with the time of the vehicle's most recent
// arrival event, which is what the gap rule measures against
type openJourney struct {
	journey     *arrivals.Journey
	lastEventAt time.Time
}

// journeySegmenter groups a vehicle's arrival events into journeys. A new
// journey starts when the vehicle has no open journey or when the gap since its
// previous event exceeds the configured window. Safe for concurrent use so the
// web service can snapshot open journeys while the monitor loop runs.
type journeySegmenter struct {
	mu   sync.Mutex
	gap  time.Duration
	open map[string]*openJourney
}

func newJourneySegmenter(gap time.Duration) *journeySegmenter {
	return &journeySegmenter{
		gap:  gap,
		open: make(map[string]*openJourney),
	}
}

// assign returns the journey the event belongs to and whether a new journey was
// started for it. The gap is measured from the vehicle's most recent prior
// event of any kind, so a long layover splits journeys even at the same stop.
func (s *journeySegmenter) assign(event *arrivals.ArrivalEvent) (*arrivals.Journey, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, present := s.open[event.VehicleId]
	if !present || event.Timestamp.Sub(current.lastEventAt) > s.gap {
		journey := arrivals.NewJourney(event)
		s.open[event.VehicleId] = &openJourney{journey: journey, lastEventAt: event.Timestamp}
		return journey, true
	}

	current.journey.RecordArrival(event.StopName, event.Timestamp)
	current.lastEventAt = event.Timestamp
	return current.journey, false
}

// openJourneys returns copies of every journey currently open. Copies are deep
// so callers can read them without holding the lock.
func (s *journeySegmenter) openJourneys() []*arrivals.Journey {
	s.mu.Lock()
	defer s.mu.Unlock()

	journeys := make([]*arrivals.Journey, 0, len(s.open))
	for _, open := range s.open {
		copied := &arrivals.Journey{
			JourneyKey: open.journey.JourneyKey,
			VehicleId:  open.journey.VehicleId,
			RouteId:    open.journey.RouteId,
			Direction:  open.journey.Direction,
			StartedAt:  open.journey.StartedAt,
			Arrivals:   make(map[string]time.Time, len(open.journey.Arrivals)),
		}
		for stop, at := range open.journey.Arrivals {
			copied.Arrivals[stop] = at
		}
		journeys = append(journeys, copied)
	}
	return journeys
}
