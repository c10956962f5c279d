package monitor

import (
	"encoding/json"
	"log"
	"time"

	"github.com/BusDataTools/buscast/business/data/arrivals"
	"github.com/nats-io/nats.go"
)

// arrivalResultsPublisher takes detected arrival events and sends them to their
// destinations: the configured row stores and, optionally, a nats subject
type arrivalResultsPublisher struct {
	log             *log.Logger
	natsConnection  *nats.Conn
	subject         string
	publishOverNats bool
	mergers         []*arrivals.Merger
	metrics         *monitorMetrics
}

func makeArrivalResultsPublisher(log *log.Logger, natsConnection *nats.Conn, subject string,
	publishOverNats bool, mergers []*arrivals.Merger, metrics *monitorMetrics) *arrivalResultsPublisher {

	return &arrivalResultsPublisher{
		log:             log,
		natsConnection:  natsConnection,
		subject:         subject,
		publishOverNats: publishOverNats && natsConnection != nil,
		mergers:         mergers,
		metrics:         metrics,
	}
}

// arrivalMessage is the wire shape of one arrival published over nats
type arrivalMessage struct {
	JourneyKey string    `json:"journeyKey"`
	VehicleId  string    `json:"vehicleId"`
	RouteId    string    `json:"routeId"`
	Direction  string    `json:"direction"`
	StopName   string    `json:"stopName"`
	Timestamp  time.Time `json:"timestamp"`
}

// publish records one arrival event against its journey row in every store and
// announces it over nats. Store failures are logged and counted, not returned;
// a broken store must not stop the monitor loop.
func (p *arrivalResultsPublisher) publish(event *arrivals.ArrivalEvent, journey *arrivals.Journey) {
	p.log.Printf("Vehicle %s (%s %s) arrived at %s at %s\n",
		event.VehicleId, event.RouteId, event.Direction, event.StopName,
		event.Timestamp.Format(time.RFC3339))

	if p.publishOverNats {
		p.sendOverNats(event, journey)
	}

	for _, merger := range p.mergers {
		if err := merger.Persist(journey, event.StopName, event.Timestamp); err != nil {
			p.log.Printf("Error persisting arrival of vehicle %s at stop %s. error: %v\n",
				event.VehicleId, event.StopName, err)
			p.metrics.PersistErrors.Inc()
			continue
		}
		p.metrics.CellsWritten.Inc()
	}
}

func (p *arrivalResultsPublisher) sendOverNats(event *arrivals.ArrivalEvent, journey *arrivals.Journey) {
	message := arrivalMessage{
		JourneyKey: journey.JourneyKey,
		VehicleId:  event.VehicleId,
		RouteId:    event.RouteId,
		Direction:  event.Direction,
		StopName:   event.StopName,
		Timestamp:  event.Timestamp,
	}
	payload, err := json.Marshal(&message)
	if err != nil {
		p.log.Printf("Unable to marshal arrival message: %v\n", err)
		return
	}
	if err = p.natsConnection.Publish(p.subject, payload); err != nil {
		p.log.Printf("Unable to publish arrival message over nats: %v\n", err)
	}
}
