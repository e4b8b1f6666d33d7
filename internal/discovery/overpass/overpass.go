// Package overpass discovers candidate addresses inside a bounding box from
// the OpenStreetMap Overpass API.
package overpass

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/ozgrid/bulkcheck/internal/check"
	"github.com/ozgrid/bulkcheck/internal/geo"
)

// DefaultEndpoint is the public Overpass interpreter.
const DefaultEndpoint = "https://overpass-api.de/api/interpreter"

// Config controls the Overpass client.
type Config struct {
	Endpoint  string
	UserAgent string
	Timeout   time.Duration
	// StateSuffix is appended to formatted addresses, e.g. "VIC".
	StateSuffix string
}

// Discoverer implements check.Discoverer against Overpass.
type Discoverer struct {
	cfg       Config
	collector *colly.Collector
	logger    *zap.Logger
}

// New builds a Discoverer.
func New(cfg Config, logger *zap.Logger) *Discoverer {
	if cfg.Endpoint == "" {
		cfg.Endpoint = DefaultEndpoint
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 2 * time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	c := colly.NewCollector(colly.Async(false))
	if cfg.UserAgent != "" {
		c.UserAgent = cfg.UserAgent
	}
	c.SetRequestTimeout(cfg.Timeout)
	return &Discoverer{cfg: cfg, collector: c, logger: logger}
}

// overpassResponse mirrors the subset of the Overpass JSON payload we read.
type overpassResponse struct {
	Elements []overpassElement `json:"elements"`
}

type overpassElement struct {
	Type   string            `json:"type"`
	Lat    float64           `json:"lat"`
	Lon    float64           `json:"lon"`
	Center *overpassCenter   `json:"center,omitempty"`
	Tags   map[string]string `json:"tags"`
}

type overpassCenter struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Discover fetches addressable nodes and ways inside the region, formats and
// deduplicates them, bounded by maxCount. Any transport or decode failure
// wraps check.ErrDiscoveryUnavailable; the caller decides whether to retry.
func (d *Discoverer) Discover(ctx context.Context, region geo.BBox, maxCount int) ([]check.Subject, error) {
	if err := region.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", check.ErrDiscoveryUnavailable, err)
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", check.ErrDiscoveryUnavailable, err)
	}

	query := buildQuery(region)
	var (
		body     []byte
		respErr  error
		received bool
	)
	c := d.collector.Clone()
	c.OnResponse(func(r *colly.Response) {
		body = r.Body
		received = true
	})
	c.OnError(func(_ *colly.Response, err error) {
		respErr = err
	})

	d.logger.Debug("querying overpass", zap.String("endpoint", d.cfg.Endpoint), zap.String("bbox", region.String()))
	if err := c.Post(d.cfg.Endpoint, map[string]string{"data": query}); err != nil {
		return nil, fmt.Errorf("%w: post overpass query: %w", check.ErrDiscoveryUnavailable, err)
	}
	c.Wait()
	if respErr != nil {
		return nil, fmt.Errorf("%w: overpass request: %w", check.ErrDiscoveryUnavailable, respErr)
	}
	if !received {
		return nil, fmt.Errorf("%w: overpass returned no response", check.ErrDiscoveryUnavailable)
	}

	var payload overpassResponse
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("%w: decode overpass response: %w", check.ErrDiscoveryUnavailable, err)
	}

	subjects := d.collectSubjects(payload, maxCount)
	d.logger.Info("overpass discovery complete",
		zap.Int("elements", len(payload.Elements)),
		zap.Int("subjects", len(subjects)),
	)
	return subjects, nil
}

func (d *Discoverer) collectSubjects(payload overpassResponse, maxCount int) []check.Subject {
	seen := make(map[string]struct{})
	subjects := make([]check.Subject, 0, len(payload.Elements))
	for _, el := range payload.Elements {
		address := d.formatAddress(el.Tags)
		if address == "" {
			continue
		}
		lat, lon := el.Lat, el.Lon
		if el.Type == "way" {
			if el.Center == nil {
				continue
			}
			lat, lon = el.Center.Lat, el.Center.Lon
		}
		subject := check.NewSubject(address, lat, lon)
		if _, dup := seen[subject.Key]; dup {
			continue
		}
		seen[subject.Key] = struct{}{}
		subjects = append(subjects, subject)
		if maxCount > 0 && len(subjects) >= maxCount {
			break
		}
	}
	return subjects
}

// formatAddress assembles "housenumber street suburb STATE postcode" from
// OSM addr tags, the shape the lookup's address field expects.
func (d *Discoverer) formatAddress(tags map[string]string) string {
	houseNumber := strings.TrimSpace(tags["addr:housenumber"])
	street := strings.TrimSpace(tags["addr:street"])
	if street == "" {
		return ""
	}
	suburb := firstNonEmpty(tags, "addr:suburb", "addr:city", "addr:town", "addr:locality")
	postcode := strings.TrimSpace(tags["addr:postcode"])

	parts := make([]string, 0, 4)
	if houseNumber != "" {
		parts = append(parts, houseNumber+" "+street)
	} else {
		parts = append(parts, street)
	}
	if suburb != "" {
		parts = append(parts, suburb)
	}
	if d.cfg.StateSuffix != "" {
		parts = append(parts, d.cfg.StateSuffix)
	}
	if postcode != "" {
		parts = append(parts, postcode)
	}
	return strings.Join(parts, " ")
}

func firstNonEmpty(tags map[string]string, keys ...string) string {
	for _, k := range keys {
		if v := strings.TrimSpace(tags[k]); v != "" {
			return v
		}
	}
	return ""
}

func buildQuery(region geo.BBox) string {
	bbox := region.String()
	return fmt.Sprintf(`[out:json][timeout:120];
(
  node["addr:housenumber"]["addr:street"](%s);
  way["addr:housenumber"]["addr:street"](%s);
);
out center tags;`, bbox, bbox)
}
