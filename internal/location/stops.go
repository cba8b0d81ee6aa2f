// Package location handles the stop catalog, distance math and the
// latest reported user position
package location

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/randytsao24/timeright/internal/models"
)

// StopService manages the stop catalog
type StopService struct {
	stops  []models.Stop
	byID   map[string]int
	mu     sync.RWMutex
	loaded bool
}

// NewStopService creates a new stop service
func NewStopService() *StopService {
	return &StopService{byID: make(map[string]int)}
}

// Load reads stops from a YAML catalog or a GTFS stops.txt file, picked by
// file extension
func (s *StopService) Load(path string) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("opening stops file: %w", err)
	}
	defer file.Close()

	var stops []models.Stop
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		stops, err = parseYAMLStops(file)
	default:
		stops, err = parseGTFSStops(file)
	}
	if err != nil {
		return err
	}

	s.Add(stops...)
	return nil
}

// Add appends stops to the catalog, replacing any with the same ID
func (s *StopService) Add(stops ...models.Stop) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, stop := range stops {
		if stop.Kind == "" {
			stop.Kind = models.StopKindBus
		}
		if i, ok := s.byID[stop.ID]; ok {
			s.stops[i] = stop
			continue
		}
		s.byID[stop.ID] = len(s.stops)
		s.stops = append(s.stops, stop)
	}
	s.loaded = true
}

type yamlCatalog struct {
	Stops []models.Stop `yaml:"stops"`
}

func parseYAMLStops(r io.Reader) ([]models.Stop, error) {
	var catalog yamlCatalog
	if err := yaml.NewDecoder(r).Decode(&catalog); err != nil {
		return nil, fmt.Errorf("parsing stops YAML: %w", err)
	}
	if len(catalog.Stops) == 0 {
		return nil, fmt.Errorf("stops file has no stops")
	}
	for i := range catalog.Stops {
		if catalog.Stops[i].ID == "" {
			return nil, fmt.Errorf("stop %d has no id", i)
		}
		catalog.Stops[i].Kind = models.ParseStopKind(string(catalog.Stops[i].Kind))
	}
	return catalog.Stops, nil
}

func parseGTFSStops(r io.Reader) ([]models.Stop, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("reading CSV: %w", err)
	}

	if len(records) < 2 {
		return nil, fmt.Errorf("stops file has no data rows")
	}

	col := make(map[string]int)
	for i, name := range records[0] {
		col[strings.TrimSpace(strings.TrimPrefix(name, "\ufeff"))] = i
	}
	for _, required := range []string{"stop_id", "stop_name", "stop_lat", "stop_lon"} {
		if _, ok := col[required]; !ok {
			return nil, fmt.Errorf("stops file missing column %q", required)
		}
	}

	field := func(record []string, name string) string {
		i, ok := col[name]
		if !ok || i >= len(record) {
			return ""
		}
		return record[i]
	}

	var stops []models.Stop
	for _, record := range records[1:] {
		lat, err := strconv.ParseFloat(field(record, "stop_lat"), 64)
		if err != nil {
			continue
		}
		lng, err := strconv.ParseFloat(field(record, "stop_lon"), 64)
		if err != nil {
			continue
		}

		// Child platforms are folded into their parent station
		if field(record, "parent_station") != "" {
			continue
		}

		kind := models.StopKindBus
		if field(record, "location_type") == "1" {
			kind = models.StopKindSubway
		}

		stops = append(stops, models.Stop{
			ID:       field(record, "stop_id"),
			Name:     field(record, "stop_name"),
			Location: models.Coordinate{Lat: lat, Lng: lng},
			Kind:     kind,
		})
	}
	return stops, nil
}

// FindNearby returns stops within a radius (meters) of a point
func (s *StopService) FindNearby(lat, lng, radiusMeters float64) []models.StopWithDistance {
	results := s.withDistances(lat, lng)

	n := sort.Search(len(results), func(i int) bool {
		return results[i].DistanceMeters > radiusMeters
	})
	return results[:n]
}

// FindClosest returns the N closest stops to a point
func (s *StopService) FindClosest(lat, lng float64, limit int) []models.StopWithDistance {
	results := s.withDistances(lat, lng)

	if limit > 0 && limit < len(results) {
		results = results[:limit]
	}
	return results
}

func (s *StopService) withDistances(lat, lng float64) []models.StopWithDistance {
	s.mu.RLock()
	defer s.mu.RUnlock()

	results := make([]models.StopWithDistance, 0, len(s.stops))
	for _, stop := range s.stops {
		results = append(results, models.StopWithDistance{
			Stop:           stop,
			DistanceMeters: Haversine(lat, lng, stop.Location.Lat, stop.Location.Lng),
		})
	}

	sort.Slice(results, func(i, j int) bool {
		return results[i].DistanceMeters < results[j].DistanceMeters
	})
	return results
}

// All returns every stop in catalog order
func (s *StopService) All() []models.Stop {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.Stop, len(s.stops))
	copy(out, s.stops)
	return out
}

// Search returns stops whose name contains query, ignoring case
func (s *StopService) Search(query string) []models.Stop {
	q := strings.ToLower(strings.TrimSpace(query))

	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []models.Stop
	for _, stop := range s.stops {
		if strings.Contains(strings.ToLower(stop.Name), q) {
			out = append(out, stop)
		}
	}
	return out
}

// Count returns the number of loaded stops
func (s *StopService) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.stops)
}

// GetByID returns a stop by its ID
func (s *StopService) GetByID(id string) (models.Stop, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	i, ok := s.byID[id]
	if !ok {
		return models.Stop{}, false
	}
	return s.stops[i], true
}

// IsLoaded returns true if data has been loaded
func (s *StopService) IsLoaded() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.loaded
}
