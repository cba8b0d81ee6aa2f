package transit

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/MobilityData/gtfs-realtime-bindings/golang/gtfs"
	"github.com/jonboulle/clockwork"
	"google.golang.org/protobuf/proto"

	"github.com/randytsao24/timeright/internal/cache"
)

const (
	defaultAlertsFeedURL = "https://api-endpoint.mta.info/Dataservice/mtagtfsfeeds/camsys%2Fall-alerts"
	alertsKey            = "all"
	alertsTTL            = 60 * time.Second
)

// ServiceAlert represents an active service alert
type ServiceAlert struct {
	ID          string   `json:"id"`
	Routes      []string `json:"routes"`
	Header      string   `json:"header"`
	Description string   `json:"description"`
}

// AlertService fetches service alerts from a GTFS-RT feed and keeps them in a
// stale-while-revalidate cache
type AlertService struct {
	client  *http.Client
	feedURL string
	clock   clockwork.Clock
	cache   *cache.Cache[[]ServiceAlert]
}

// NewAlertService creates a new alert service
func NewAlertService(timeout time.Duration, logger *slog.Logger, opts ...cache.Option) *AlertService {
	s := &AlertService{
		client:  &http.Client{Timeout: timeout},
		feedURL: defaultAlertsFeedURL,
		clock:   clockwork.NewRealClock(),
	}
	if logger != nil {
		opts = append([]cache.Option{cache.WithLogger(logger)}, opts...)
	}
	s.cache = cache.New[[]ServiceAlert](cache.FetcherFunc[[]ServiceAlert](s.fetchAlerts), opts...)
	return s
}

// GetAlerts returns active service alerts, optionally filtered by route
func (s *AlertService) GetAlerts(ctx context.Context, routes []string) ([]ServiceAlert, error) {
	allAlerts, _, err := s.cache.Get(ctx, alertsKey, alertsTTL)
	if err != nil && allAlerts == nil {
		return nil, err
	}

	if len(routes) == 0 {
		return allAlerts, nil
	}

	routeSet := make(map[string]bool, len(routes))
	for _, r := range routes {
		routeSet[r] = true
	}

	var filtered []ServiceAlert
	for _, alert := range allAlerts {
		for _, r := range alert.Routes {
			if routeSet[r] {
				filtered = append(filtered, alert)
				break
			}
		}
	}
	return filtered, nil
}

func (s *AlertService) fetchAlerts(ctx context.Context, _ string) ([]ServiceAlert, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.feedURL, nil)
	if err != nil {
		return nil, fmt.Errorf("building alerts request: %w", err)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching alerts feed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("alerts feed returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading alerts response: %w", err)
	}

	feed := &gtfs.FeedMessage{}
	if err := proto.Unmarshal(body, feed); err != nil {
		return nil, fmt.Errorf("parsing alerts protobuf: %w", err)
	}

	return s.parseAlerts(feed), nil
}

func (s *AlertService) parseAlerts(feed *gtfs.FeedMessage) []ServiceAlert {
	alerts := []ServiceAlert{}
	now := s.clock.Now().Unix()

	for _, entity := range feed.GetEntity() {
		alert := entity.GetAlert()
		if alert == nil {
			continue
		}

		active := len(alert.GetActivePeriod()) == 0
		for _, period := range alert.GetActivePeriod() {
			start := int64(period.GetStart())
			end := int64(period.GetEnd())
			if now >= start && (end == 0 || now < end) {
				active = true
				break
			}
		}
		if !active {
			continue
		}

		var routes []string
		seen := make(map[string]bool)
		for _, ie := range alert.GetInformedEntity() {
			if routeID := ie.GetRouteId(); routeID != "" && !seen[routeID] {
				seen[routeID] = true
				routes = append(routes, routeID)
			}
		}

		header := translatedText(alert.GetHeaderText())
		if header == "" {
			continue
		}

		alerts = append(alerts, ServiceAlert{
			ID:          entity.GetId(),
			Routes:      routes,
			Header:      header,
			Description: translatedText(alert.GetDescriptionText()),
		})
	}

	return alerts
}

func translatedText(ts *gtfs.TranslatedString) string {
	if ts == nil {
		return ""
	}
	for _, t := range ts.GetTranslation() {
		if t.GetLanguage() == "en" || t.GetLanguage() == "" {
			return t.GetText()
		}
	}
	if len(ts.GetTranslation()) > 0 {
		return ts.GetTranslation()[0].GetText()
	}
	return ""
}
