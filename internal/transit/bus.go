package transit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/randytsao24/timeright/internal/models"
)

const defaultSIRIURL = "https://bustime.mta.info/api/siri/stop-monitoring.json"

// ErrNoAPIKey is returned by BusFetcher when no key is configured
var ErrNoAPIKey = errors.New("MTA_BUS_API_KEY not configured")

// BusFetcher fetches real-time bus arrivals from a SIRI stop monitoring API
type BusFetcher struct {
	apiKey  string
	baseURL string
	client  *http.Client
	clock   clockwork.Clock
}

// NewBusFetcher creates a new bus fetcher
func NewBusFetcher(apiKey string, timeout time.Duration) *BusFetcher {
	return &BusFetcher{
		apiKey:  apiKey,
		baseURL: defaultSIRIURL,
		client:  &http.Client{Timeout: timeout},
		clock:   clockwork.NewRealClock(),
	}
}

// HasAPIKey returns true if the fetcher has an API key configured
func (f *BusFetcher) HasAPIKey() bool {
	return f.apiKey != ""
}

// Fetch implements Fetcher
func (f *BusFetcher) Fetch(ctx context.Context, stopID string) ([]models.ArrivalRecord, error) {
	if f.apiKey == "" {
		return nil, ErrNoAPIKey
	}

	params := url.Values{}
	params.Set("key", f.apiKey)
	params.Set("MonitoringRef", stopID)
	params.Set("version", "2")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.baseURL+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("building bus request: %w", err)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching bus data: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("bus API returned status %d", resp.StatusCode)
	}

	var result siriResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("parsing response: %w", err)
	}

	records := f.parseArrivals(result)
	sortByETA(records)
	fillNextETA(records)
	return records, nil
}

func (f *BusFetcher) parseArrivals(resp siriResponse) []models.ArrivalRecord {
	var records []models.ArrivalRecord
	now := f.clock.Now()

	delivery := resp.Siri.ServiceDelivery.StopMonitoringDelivery
	if len(delivery) == 0 {
		return records
	}

	for _, visit := range delivery[0].MonitoredStopVisit {
		journey := visit.MonitoredVehicleJourney

		expectedTime := journey.MonitoredCall.ExpectedArrivalTime
		if expectedTime.IsZero() {
			expectedTime = journey.MonitoredCall.ExpectedDepartureTime
		}

		// Skip entries with no valid arrival time
		if expectedTime.IsZero() {
			continue
		}

		eta := int(expectedTime.Sub(now).Seconds())
		if eta < 0 {
			continue
		}

		label := getFirstString(journey.PublishedLineName)
		routeID := journey.LineRef
		if routeID == "" {
			routeID = label
		}

		stopsAway := 0
		if journey.MonitoredCall.Extensions.Distances.StopsFromCall != nil {
			stopsAway = *journey.MonitoredCall.Extensions.Distances.StopsFromCall
		}

		records = append(records, models.ArrivalRecord{
			VehicleLabel:      label,
			RouteID:           routeID,
			ETASeconds:        eta,
			StationsRemaining: stopsAway,
			Congestion:        occupancyToCongestion(journey.Occupancy),
			Source:            "siri",
		})
	}

	return records
}

// occupancyToCongestion maps SIRI occupancy values
func occupancyToCongestion(occupancy string) models.Congestion {
	switch strings.ToLower(occupancy) {
	case "seatsavailable", "manyseatsavailable", "fewseatsavailable":
		return models.CongestionLow
	case "standingavailable", "standingroomonly":
		return models.CongestionMedium
	case "full", "crushedstandingroomonly":
		return models.CongestionHigh
	default:
		return models.ParseCongestion(occupancy)
	}
}

// getFirstString handles fields that can be string or []string
func getFirstString(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case []any:
		if len(val) > 0 {
			if s, ok := val[0].(string); ok {
				return s
			}
		}
	}
	return ""
}

type siriResponse struct {
	Siri struct {
		ServiceDelivery struct {
			StopMonitoringDelivery []struct {
				MonitoredStopVisit []struct {
					MonitoredVehicleJourney monitoredVehicleJourney `json:"MonitoredVehicleJourney"`
				} `json:"MonitoredStopVisit"`
			} `json:"StopMonitoringDelivery"`
		} `json:"ServiceDelivery"`
	} `json:"Siri"`
}

type monitoredVehicleJourney struct {
	LineRef           string `json:"LineRef"`
	PublishedLineName any    `json:"PublishedLineName"`
	Occupancy         string `json:"Occupancy"`
	MonitoredCall     struct {
		ExpectedArrivalTime   time.Time `json:"ExpectedArrivalTime"`
		ExpectedDepartureTime time.Time `json:"ExpectedDepartureTime"`
		Extensions            struct {
			Distances struct {
				StopsFromCall *int `json:"StopsFromCall"`
			} `json:"Distances"`
		} `json:"Extensions"`
	} `json:"MonitoredCall"`
}
