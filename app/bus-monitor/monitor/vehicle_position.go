package monitor

import (
	"context"
	"fmt"
	"log"
	"net/url"
	"strconv"
	"time"

	"github.com/BusDataTools/buscast/foundation/httpclient"
	"github.com/clbanning/mxj/v2"
)

// vehiclePosition contains fields read from a vehicle position feed, normalized
// from whichever wire format produced them. One per vehicle per poll.
type vehiclePosition struct {
	VehicleId string
	RouteId   string
	Direction string
	Latitude  float64
	Longitude float64
	Timestamp time.Time
}

/*
getSiriVehiclePositions retrieves a SIRI-VM datafeed response for lineRef and
loads it into plain vehiclePosition records. Any changes to the SIRI wire
format can be handled here and not elsewhere in the program.
*/
func getSiriVehiclePositions(ctx context.Context, log *log.Logger, feedUrl string, apiKey string,
	lineRef string) ([]vehiclePosition, error) {

	requestUrl := fmt.Sprintf("%s?api_key=%s&lineRef=%s", feedUrl, url.QueryEscape(apiKey), url.QueryEscape(lineRef))
	body, err := httpclient.GetBytes(ctx, requestUrl)
	if err != nil {
		return nil, err
	}
	return parseSiriVehiclePositions(log, body, time.Now())
}

// parseSiriVehiclePositions extracts vehiclePosition records from a SIRI-VM
// document. The document is schemaless from our point of view, so it is walked
// as a map; VehicleActivity appears as a single element or an array depending
// on how many vehicles are reporting.
func parseSiriVehiclePositions(log *log.Logger, body []byte, now time.Time) ([]vehiclePosition, error) {
	xmlMap, err := mxj.NewMapXml(body)
	if err != nil {
		return nil, fmt.Errorf("parsing SIRI document: %w", err)
	}

	var positions []vehiclePosition

	siri, ok := xmlMap["Siri"].(map[string]interface{})
	if !ok {
		return positions, nil
	}
	serviceDelivery, ok := siri["ServiceDelivery"].(map[string]interface{})
	if !ok {
		return positions, nil
	}
	vmDelivery, ok := serviceDelivery["VehicleMonitoringDelivery"].(map[string]interface{})
	if !ok {
		return positions, nil
	}

	var activities []interface{}
	switch va := vmDelivery["VehicleActivity"].(type) {
	case []interface{}:
		activities = va
	case map[string]interface{}:
		activities = []interface{}{va}
	default:
		return positions, nil
	}

	for _, activity := range activities {
		activityMap, ok := activity.(map[string]interface{})
		if !ok {
			continue
		}
		position, ok := parseVehicleActivity(log, activityMap, now)
		if ok {
			positions = append(positions, position)
		}
	}
	return positions, nil
}

// parseVehicleActivity converts one VehicleActivity element into a
// vehiclePosition, returning false when required identifiers are missing
func parseVehicleActivity(log *log.Logger, activity map[string]interface{}, now time.Time) (vehiclePosition, bool) {
	position := vehiclePosition{Timestamp: now}

	if recordedAt, ok := activity["RecordedAtTime"].(string); ok {
		if parsed, err := time.Parse(time.RFC3339, recordedAt); err == nil {
			position.Timestamp = parsed
		}
	}

	mvj, ok := activity["MonitoredVehicleJourney"].(map[string]interface{})
	if !ok {
		return position, false
	}

	if vehicleRef, ok := mvj["VehicleRef"].(string); ok {
		position.VehicleId = vehicleRef
	}
	if position.VehicleId == "" {
		if fvjr, ok := mvj["FramedVehicleJourneyRef"].(map[string]interface{}); ok {
			if datedRef, ok := fvjr["DatedVehicleJourneyRef"].(string); ok {
				position.VehicleId = datedRef
			}
		}
	}
	if lineRef, ok := mvj["LineRef"].(string); ok {
		position.RouteId = lineRef
	}
	if directionRef, ok := mvj["DirectionRef"].(string); ok {
		position.Direction = directionRef
	}

	if position.VehicleId == "" || position.RouteId == "" {
		log.Printf("VehicleActivity missing vehicle or line identifier, skipping\n")
		return position, false
	}

	location, ok := mvj["VehicleLocation"].(map[string]interface{})
	if !ok {
		log.Printf("Vehicle %s has no location, skipping\n", position.VehicleId)
		return position, false
	}
	latitude, latErr := parseCoordinateValue(location["Latitude"])
	longitude, lonErr := parseCoordinateValue(location["Longitude"])
	if latErr != nil || lonErr != nil {
		log.Printf("Vehicle %s has unreadable location, skipping\n", position.VehicleId)
		return position, false
	}
	position.Latitude = latitude
	position.Longitude = longitude

	return position, true
}

// parseCoordinateValue reads a coordinate that mxj may surface as a string or a number
func parseCoordinateValue(value interface{}) (float64, error) {
	switch v := value.(type) {
	case string:
		return strconv.ParseFloat(v, 64)
	case float64:
		return v, nil
	default:
		return 0, fmt.Errorf("unexpected coordinate value %v", value)
	}
}
