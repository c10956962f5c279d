package timetable

import (
	"encoding/xml"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/net/html/charset"
)

// txcDocument models the slice of a TransXChange timetable document needed to
// recover named, ordered, located stops. Stop names come from the annotated
// stop point refs, coordinates from stop point locations or route link tracks,
// and ordering from the journey pattern sections for the requested direction.
type txcDocument struct {
	StopPoints             []txcAnnotatedStopPointRef `xml:"StopPoints>AnnotatedStopPointRef"`
	RouteSections          []txcRouteSection          `xml:"RouteSections>RouteSection"`
	Services               []txcService               `xml:"Services>Service"`
	JourneyPatternSections []txcJourneyPatternSection `xml:"JourneyPatternSections>JourneyPatternSection"`
}

type txcAnnotatedStopPointRef struct {
	StopPointRef string       `xml:"StopPointRef"`
	CommonName   string       `xml:"CommonName"`
	Location     *txcLocation `xml:"Location"`
}

type txcLocation struct {
	Latitude  float64 `xml:"Latitude"`
	Longitude float64 `xml:"Longitude"`
}

type txcRouteSection struct {
	RouteLinks []txcRouteLink `xml:"RouteLink"`
}

type txcRouteLink struct {
	From      txcStopPointHolder `xml:"From"`
	To        txcStopPointHolder `xml:"To"`
	Locations []txcLocation      `xml:"Track>Mapping>Location"`
}

type txcStopPointHolder struct {
	StopPointRef string `xml:"StopPointRef"`
}

type txcService struct {
	Lines           []txcLine           `xml:"Lines>Line"`
	JourneyPatterns []txcJourneyPattern `xml:"StandardService>JourneyPattern"`
}

type txcLine struct {
	LineName string `xml:"LineName"`
}

type txcJourneyPattern struct {
	Direction                string   `xml:"Direction"`
	JourneyPatternSectionRef []string `xml:"JourneyPatternSectionRefs"`
}

type txcJourneyPatternSection struct {
	ID          string          `xml:"id,attr"`
	TimingLinks []txcTimingLink `xml:"JourneyPatternTimingLink"`
}

type txcTimingLink struct {
	From txcStopPointHolder `xml:"From"`
	To   txcStopPointHolder `xml:"To"`
}

// TransXChangeSource loads stop sequences from TransXChange documents on the
// local filesystem, one document per route named by PathTemplate (for example
// "timetable-%s.xml" where %s is the route id).
type TransXChangeSource struct {
	PathTemplate string
}

// StopsFor implements Source by parsing the route's TransXChange document and
// selecting the journey patterns for direction.
func (s *TransXChangeSource) StopsFor(routeId string, direction string) ([]Stop, error) {
	path := fmt.Sprintf(s.PathTemplate, routeId)
	file, err := os.Open(path)
	if err != nil {
		return nil, &ParseError{RouteId: routeId, Direction: direction, Err: err}
	}
	defer func() {
		_ = file.Close()
	}()

	stops, err := extractStops(file, routeId, direction)
	if err != nil {
		return nil, &ParseError{RouteId: routeId, Direction: direction, Err: err}
	}
	return stops, nil
}

// extractStops parses a TransXChange document from reader and returns the
// ordered stops for direction
func extractStops(reader io.Reader, routeId string, direction string) ([]Stop, error) {
	decoder := xml.NewDecoder(reader)
	decoder.CharsetReader = charset.NewReaderLabel

	var doc txcDocument
	if err := decoder.Decode(&doc); err != nil {
		return nil, fmt.Errorf("decoding TransXChange document: %w", err)
	}

	names := make(map[string]string)
	locations := make(map[string]txcLocation)
	for _, sp := range doc.StopPoints {
		names[sp.StopPointRef] = sp.CommonName
		if sp.Location != nil {
			locations[sp.StopPointRef] = *sp.Location
		}
	}

	// route link tracks locate stops the annotations leave bare: the first
	// track point belongs to the From stop, the last to the To stop
	for _, section := range doc.RouteSections {
		for _, link := range section.RouteLinks {
			if len(link.Locations) == 0 {
				continue
			}
			if _, present := locations[link.From.StopPointRef]; !present && link.From.StopPointRef != "" {
				locations[link.From.StopPointRef] = link.Locations[0]
			}
			if _, present := locations[link.To.StopPointRef]; !present && link.To.StopPointRef != "" {
				locations[link.To.StopPointRef] = link.Locations[len(link.Locations)-1]
			}
		}
	}

	sectionsById := make(map[string]txcJourneyPatternSection)
	for _, section := range doc.JourneyPatternSections {
		sectionsById[section.ID] = section
	}

	var orderedRefs []string
	seen := make(map[string]bool)
	appendRef := func(ref string) {
		if ref == "" || seen[ref] {
			return
		}
		seen[ref] = true
		orderedRefs = append(orderedRefs, ref)
	}

	for _, service := range doc.Services {
		for _, pattern := range service.JourneyPatterns {
			if !strings.EqualFold(pattern.Direction, direction) {
				continue
			}
			for _, sectionRef := range pattern.JourneyPatternSectionRef {
				section, present := sectionsById[sectionRef]
				if !present {
					continue
				}
				for _, timingLink := range section.TimingLinks {
					appendRef(timingLink.From.StopPointRef)
					appendRef(timingLink.To.StopPointRef)
				}
			}
		}
	}

	stops := make([]Stop, 0, len(orderedRefs))
	for _, ref := range orderedRefs {
		stop := Stop{
			Name:          names[ref],
			AtcoCode:      ref,
			SequenceIndex: len(stops),
			RouteId:       routeId,
			Direction:     direction,
		}
		if stop.Name == "" {
			stop.Name = ref
		}
		if location, present := locations[ref]; present {
			stop.Latitude = location.Latitude
			stop.Longitude = location.Longitude
			stop.HasLocation = true
		}
		stops = append(stops, stop)
	}
	return stops, nil
}
