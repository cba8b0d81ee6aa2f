package transit

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/MobilityData/gtfs-realtime-bindings/golang/gtfs"
	"github.com/jonboulle/clockwork"
	"google.golang.org/protobuf/proto"

	"github.com/randytsao24/timeright/internal/models"
)

// MTA GTFS-RT feed URLs by line group
var defaultFeedURLs = map[string]string{
	"ace":     "https://api-endpoint.mta.info/Dataservice/mtagtfsfeeds/nyct%2Fgtfs-ace",
	"bdfm":    "https://api-endpoint.mta.info/Dataservice/mtagtfsfeeds/nyct%2Fgtfs-bdfm",
	"g":       "https://api-endpoint.mta.info/Dataservice/mtagtfsfeeds/nyct%2Fgtfs-g",
	"jz":      "https://api-endpoint.mta.info/Dataservice/mtagtfsfeeds/nyct%2Fgtfs-jz",
	"nqrw":    "https://api-endpoint.mta.info/Dataservice/mtagtfsfeeds/nyct%2Fgtfs-nqrw",
	"l":       "https://api-endpoint.mta.info/Dataservice/mtagtfsfeeds/nyct%2Fgtfs-l",
	"1234567": "https://api-endpoint.mta.info/Dataservice/mtagtfsfeeds/nyct%2Fgtfs",
	"si":      "https://api-endpoint.mta.info/Dataservice/mtagtfsfeeds/nyct%2Fgtfs-si",
}

// routeToFeed maps route letters to their feed
var routeToFeed = map[string]string{
	"A": "ace", "C": "ace", "E": "ace",
	"B": "bdfm", "D": "bdfm", "F": "bdfm", "M": "bdfm",
	"G": "g",
	"J": "jz", "Z": "jz",
	"N": "nqrw", "Q": "nqrw", "R": "nqrw", "W": "nqrw",
	"L": "l",
	"1": "1234567", "2": "1234567", "3": "1234567", "4": "1234567",
	"5": "1234567", "6": "1234567", "7": "1234567",
	"SI": "si",
}

// SubwayFetcher reads GTFS-RT trip updates and extracts arrivals for a
// station. A station ID matches its directional platforms too (101 matches
// 101N and 101S).
type SubwayFetcher struct {
	client *http.Client
	feeds  map[string]string
	clock  clockwork.Clock
}

// NewSubwayFetcher creates a fetcher over the given feed groups. With no
// routes every feed is read.
func NewSubwayFetcher(timeout time.Duration, routes ...string) *SubwayFetcher {
	return &SubwayFetcher{
		client: &http.Client{Timeout: timeout},
		feeds:  feedsForRoutes(routes),
		clock:  clockwork.NewRealClock(),
	}
}

// Fetch implements Fetcher. Failed feeds are skipped; it only errors when
// every feed failed.
func (f *SubwayFetcher) Fetch(ctx context.Context, stopID string) ([]models.ArrivalRecord, error) {
	names := make([]string, 0, len(f.feeds))
	for name := range f.feeds {
		names = append(names, name)
	}
	sort.Strings(names)

	var (
		records []models.ArrivalRecord
		errs    []error
	)
	for _, name := range names {
		feed, err := f.fetchFeed(ctx, f.feeds[name])
		if err != nil {
			errs = append(errs, fmt.Errorf("feed %s: %w", name, err))
			continue
		}
		records = append(records, f.parseArrivals(feed, stopID)...)
	}
	if len(errs) == len(names) && len(names) > 0 {
		return nil, errors.Join(errs...)
	}

	sortByETA(records)
	fillNextETA(records)
	return records, nil
}

func (f *SubwayFetcher) fetchFeed(ctx context.Context, url string) (*gtfs.FeedMessage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("building feed request: %w", err)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching feed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("feed returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}

	feed := &gtfs.FeedMessage{}
	if err := proto.Unmarshal(body, feed); err != nil {
		return nil, fmt.Errorf("parsing protobuf: %w", err)
	}
	return feed, nil
}

func (f *SubwayFetcher) parseArrivals(feed *gtfs.FeedMessage, stationID string) []models.ArrivalRecord {
	var records []models.ArrivalRecord
	now := f.clock.Now()

	for _, entity := range feed.GetEntity() {
		tripUpdate := entity.GetTripUpdate()
		if tripUpdate == nil {
			continue
		}

		routeID := tripUpdate.GetTrip().GetRouteId()
		label := tripUpdate.GetVehicle().GetLabel()
		if label == "" {
			label = routeID
		}

		// stops the train still has to serve before reaching this station
		upcoming := 0
		for _, stopTimeUpdate := range tripUpdate.GetStopTimeUpdate() {
			arrivalTime := stopTimeUpdate.GetArrival().GetTime()
			if arrivalTime == 0 {
				arrivalTime = stopTimeUpdate.GetDeparture().GetTime()
			}
			if arrivalTime == 0 {
				continue
			}

			arrTime := time.Unix(arrivalTime, 0)
			if arrTime.Before(now) {
				continue // Skip past arrivals
			}

			if !matchesStation(stopTimeUpdate.GetStopId(), stationID) {
				upcoming++
				continue
			}

			records = append(records, models.ArrivalRecord{
				VehicleLabel:      label + directionSuffix(stopTimeUpdate.GetStopId()),
				RouteID:           routeID,
				ETASeconds:        int(arrTime.Sub(now).Seconds()),
				StationsRemaining: upcoming,
				Congestion:        models.CongestionUnknown,
				Source:            "gtfs-rt",
			})
			break
		}
	}

	return records
}

func matchesStation(stopID, stationID string) bool {
	return stopID == stationID || stopID == stationID+"N" || stopID == stationID+"S"
}

func directionSuffix(stopID string) string {
	switch {
	case strings.HasSuffix(stopID, "N"):
		return " northbound"
	case strings.HasSuffix(stopID, "S"):
		return " southbound"
	default:
		return ""
	}
}

func feedsForRoutes(routes []string) map[string]string {
	feeds := make(map[string]string)
	if len(routes) == 0 {
		for name, u := range defaultFeedURLs {
			feeds[name] = u
		}
		return feeds
	}

	for _, route := range routes {
		if name, ok := routeToFeed[strings.ToUpper(route)]; ok {
			feeds[name] = defaultFeedURLs[name]
		}
	}
	return feeds
}
