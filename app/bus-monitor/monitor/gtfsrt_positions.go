package monitor

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/BusDataTools/buscast/foundation/httpclient"
	gtfs "github.com/MobilityData/gtfs-realtime-bindings/golang/gtfs"
	"google.golang.org/protobuf/proto"
)

// getGtfsRtVehiclePositions retrieves a GTFS-Realtime VehiclePositions feed and
// loads it into plain vehiclePosition records. Used instead of the SIRI feed
// when the operator publishes protobuf.
func getGtfsRtVehiclePositions(ctx context.Context, log *log.Logger, feedUrl string) ([]vehiclePosition, error) {
	body, err := httpclient.GetBytes(ctx, feedUrl)
	if err != nil {
		return nil, err
	}

	feed := gtfs.FeedMessage{}
	if err = proto.Unmarshal(body, &feed); err != nil {
		return nil, fmt.Errorf("parsing GTFS-RT feed: %w", err)
	}

	now := time.Now()
	var positions []vehiclePosition
	for _, entity := range feed.Entity {
		vehicle := entity.Vehicle
		if vehicle == nil {
			continue
		}
		if vehicle.Vehicle == nil || vehicle.Vehicle.Id == nil || vehicle.Trip == nil || vehicle.Trip.RouteId == nil {
			log.Printf("Vehicle entity missing vehicle or trip identifier, skipping\n")
			continue
		}
		if vehicle.Position == nil || vehicle.Position.Latitude == nil || vehicle.Position.Longitude == nil {
			log.Printf("Vehicle %s has no position, skipping\n", *vehicle.Vehicle.Id)
			continue
		}

		position := vehiclePosition{
			VehicleId: *vehicle.Vehicle.Id,
			RouteId:   *vehicle.Trip.RouteId,
			Direction: gtfsDirectionName(vehicle.Trip.DirectionId),
			Latitude:  float64(*vehicle.Position.Latitude),
			Longitude: float64(*vehicle.Position.Longitude),
			Timestamp: now,
		}
		if vehicle.Timestamp != nil {
			position.Timestamp = time.Unix(int64(*vehicle.Timestamp), 0)
		}
		positions = append(positions, position)
	}
	return positions, nil
}

// gtfsDirectionName maps GTFS direction_id to the direction names used on timetables
func gtfsDirectionName(directionId *uint32) string {
	if directionId != nil && *directionId == 1 {
		return "inbound"
	}
	return "outbound"
}
