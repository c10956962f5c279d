// Package monitor polls a bus vehicle position feed, detects stop arrivals and
// records them against journeys in the configured row stores.
package monitor

import (
	"context"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/BusDataTools/buscast/business/data/arrivals"
	"github.com/BusDataTools/buscast/business/data/timetable"
	"github.com/nats-io/nats.go"
)

// Feed format names accepted by Config.FeedFormat.
const (
	FeedFormatSiriVM = "siri-vm"
	FeedFormatGtfsRT = "gtfs-rt"
)

// RouteDirection names one route and direction to monitor
type RouteDirection struct {
	RouteId   string
	Direction string
}

// Config carries the settings for one monitoring session
type Config struct {
	FeedFormat      string
	FeedUrl         string
	ApiKey          string
	Routes          []RouteDirection
	PollEvery       time.Duration
	SessionLength   time.Duration
	ProximityMeters float64
	JourneyGap      time.Duration
	PublishOverNats bool
	NatsSubject     string
	HttpPort        int
}

//RunArrivalMonitorLoop starts loop that polls the vehicle feed and records stop
//arrivals until the session length elapses or a shutdown signal arrives.
func RunArrivalMonitorLoop(log *log.Logger,
	cfg Config,
	index *timetable.Index,
	mergers []*arrivals.Merger,
	natsConnection *nats.Conn,
	shutdownSignal chan os.Signal) error {

	loopDuration := cfg.PollEvery

	sleepChan := make(chan bool)
	sleep := time.Duration(0) //sleep for zero seconds the first time

	sessionTimer := time.NewTimer(cfg.SessionLength)
	defer sessionTimer.Stop()

	metrics := newMonitorMetrics()
	detectorCollection := newArrivalDetectorCollection(cfg.ProximityMeters)
	segmenter := newJourneySegmenter(cfg.JourneyGap)
	publisher := makeArrivalResultsPublisher(log, natsConnection, cfg.NatsSubject,
		cfg.PublishOverNats, mergers, metrics)

	webShutdownSignal := make(chan bool)
	wg := sync.WaitGroup{}
	go runWebService(log, &wg, segmenter, metrics, cfg.HttpPort, webShutdownSignal)
	defer func() {
		close(webShutdownSignal)
		wg.Wait()
	}()

	wantedDirections := make(map[RouteDirection]bool)
	for _, route := range cfg.Routes {
		wantedDirections[route] = true
	}

	for {

		go func() {
			time.Sleep(sleep)
			sleepChan <- true
		}()

		select {
		case <-shutdownSignal:
			log.Printf("Exiting on shutdown signal")
			return nil
		case <-sessionTimer.C:
			log.Printf("Session complete after %s", cfg.SessionLength)
			return nil
		case <-sleepChan:
			break
		}

		//set default sleep for next loop in the event of an error after continue statements
		sleep = loopDuration

		// mark the time we start working
		start := time.Now()
		metrics.Polls.Inc()

		vehiclePositions := collectVehiclePositions(log, cfg, metrics)
		vehiclePositions = keepWantedDirections(vehiclePositions, wantedDirections)

		log.Printf("loaded %d vehicle positions\n", len(vehiclePositions))
		metrics.PositionsReceived.Add(float64(len(vehiclePositions)))

		processPositions(log, vehiclePositions, index, &detectorCollection, segmenter, publisher, metrics)

		// attempt to run the loop every cfg.PollEvery by subtracting the time it took to perform the work
		workTook := time.Now().Sub(start)
		metrics.CycleSeconds.Observe(workTook.Seconds())

		log.Printf("work took %s\n", fmtDuration(workTook))

		// if the work took longer than the poll interval don't sleep at all on the next loop
		if workTook >= loopDuration {
			sleep = time.Duration(0)
		} else {
			sleep = loopDuration - workTook
		}

	}
}

//collectVehiclePositions requests the feed once per distinct route. A failed
//request loses only that route for this cycle.
func collectVehiclePositions(log *log.Logger, cfg Config, metrics *monitorMetrics) []vehiclePosition {

	if cfg.FeedFormat == FeedFormatGtfsRT {
		positions, err := getGtfsRtVehiclePositions(context.Background(), log, cfg.FeedUrl)
		if err != nil {
			log.Printf("error attempting to get vehicle positions. error:%v\n", err)
			metrics.FeedErrors.Inc()
			return nil
		}
		return positions
	}

	var all []vehiclePosition
	for _, routeId := range distinctRouteIds(cfg.Routes) {
		positions, err := getSiriVehiclePositions(context.Background(), log, cfg.FeedUrl, cfg.ApiKey, routeId)
		if err != nil {
			log.Printf("error attempting to get vehicle positions for route %s. error:%v\n", routeId, err)
			metrics.FeedErrors.Inc()
			continue
		}
		all = append(all, positions...)
	}
	return all
}

//distinctRouteIds returns each monitored route id once, preserving order
func distinctRouteIds(routes []RouteDirection) []string {
	seen := make(map[string]bool)
	var routeIds []string
	for _, route := range routes {
		if !seen[route.RouteId] {
			seen[route.RouteId] = true
			routeIds = append(routeIds, route.RouteId)
		}
	}
	return routeIds
}

//keepWantedDirections drops positions for route directions the session is not monitoring
func keepWantedDirections(positions []vehiclePosition, wanted map[RouteDirection]bool) []vehiclePosition {
	var kept []vehiclePosition
	for _, position := range positions {
		if wanted[RouteDirection{RouteId: position.RouteId, Direction: position.Direction}] {
			kept = append(kept, position)
		}
	}
	return kept
}

//processPositions runs vehiclePositions through arrival detectors and publishes the results
func processPositions(log *log.Logger,
	positions []vehiclePosition,
	index *timetable.Index,
	detectorCollection *arrivalDetectorCollection,
	segmenter *journeySegmenter,
	publisher *arrivalResultsPublisher,
	metrics *monitorMetrics) {

	countArrivals := 0

	for i := range positions {
		position := &positions[i]

		stops, err := index.StopsFor(position.RouteId, position.Direction)
		if err != nil {
			log.Printf("error loading stops for route %s %s. error:%v\n",
				position.RouteId, position.Direction, err)
			metrics.TimetableErrors.Inc()
			continue
		}

		detector := detectorCollection.getOrMakeDetector(position.VehicleId)
		events := detector.observe(log, position, stops)

		for _, event := range events {
			journey, started := segmenter.assign(event)
			if started {
				log.Printf("Vehicle %s started journey %s\n", event.VehicleId, journey.JourneyKey)
				metrics.JourneysStarted.Inc()
			}
			publisher.publish(event, journey)
		}
		countArrivals += len(events)
	}

	if countArrivals > 0 {
		log.Printf("Detected %d stop arrivals", countArrivals)
		metrics.ArrivalsDetected.Add(float64(countArrivals))
	}
}

//fmtDuration returns a string presentation of time.Duration for logging
func fmtDuration(d time.Duration) string {
	d = d.Round(time.Millisecond)
	h := d / time.Hour
	d -= h * time.Hour
	m := d / time.Minute
	d -= m * time.Minute
	mill := d / time.Millisecond
	return fmt.Sprintf("%02d:%02d.%d", h, m, mill)
}
