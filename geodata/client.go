package geodata

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/Gouzman/PharmaGo/config"
	"github.com/Gouzman/PharmaGo/models"
	"github.com/Gouzman/PharmaGo/utils"
	"github.com/sirupsen/logrus"
)

var defaultEndpoints = []string{
	"https://overpass-api.de/api/interpreter",
	"https://overpass.kumi.systems/api/interpreter",
	"https://overpass.openstreetmap.ru/api/interpreter",
}

// Client fetches pharmacy entries from the Overpass API, trying each endpoint
// in order until one answers.
type Client struct {
	endpoints []string
	bbox      BoundingBox
	http      *http.Client
}

func NewClient() *Client {
	endpoints := utils.SplitAndTrim(utils.EnvOrDefault("OVERPASS_ENDPOINTS", ""))
	if len(endpoints) == 0 {
		endpoints = defaultEndpoints
	}
	return &Client{
		endpoints: endpoints,
		bbox:      AbidjanBoundingBox,
		http:      &http.Client{Timeout: 2 * time.Minute},
	}
}

func buildQuery(bbox BoundingBox) string {
	// bbox order is (south,west,north,east)
	return fmt.Sprintf(
		"[out:json][timeout:60];(node[amenity=pharmacy](%[1]v,%[2]v,%[3]v,%[4]v);way[amenity=pharmacy](%[1]v,%[2]v,%[3]v,%[4]v););out center;",
		bbox.MinLat, bbox.MinLon, bbox.MaxLat, bbox.MaxLon,
	)
}

// FetchPharmacies harvests raw pharmacy entries, mapped to the canonical shape
// but NOT deduplicated. Returns the mapped entries and the count of elements
// skipped by the quality filter. All endpoints failing is fatal for the cycle.
func (c *Client) FetchPharmacies(ctx context.Context) ([]*models.Pharmacy, int, error) {
	logger := config.GetLogger()
	query := buildQuery(c.bbox)

	var lastErr error
	for _, endpoint := range c.endpoints {
		elements, err := c.fetchFrom(ctx, endpoint, query)
		if err != nil {
			logger.WithFields(logrus.Fields{
				"module":   "geodata",
				"endpoint": endpoint,
			}).Warn(err.Error())
			lastErr = err
			if ctx.Err() != nil {
				return nil, 0, ctx.Err()
			}
			continue
		}

		mapped := make([]*models.Pharmacy, 0, len(elements))
		skipped := 0
		for _, el := range elements {
			p, reason := MapElement(el, time.Now().UTC())
			if p == nil {
				skipped++
				logger.WithFields(logrus.Fields{
					"module":  "geodata",
					"type":    el.Type,
					"id":      el.ID,
					"reason":  reason,
					"context": "MapElement",
				}).Warn("skipped geodata element")
				continue
			}
			mapped = append(mapped, p)
		}

		logger.WithFields(logrus.Fields{
			"module":   "geodata",
			"endpoint": endpoint,
			"fetched":  len(elements),
			"mapped":   len(mapped),
			"skipped":  skipped,
		}).Info("geodata harvest complete")
		return mapped, skipped, nil
	}

	if lastErr == nil {
		lastErr = utils.ErrorSourceExhausted
	}
	return nil, 0, fmt.Errorf("%w: %v", utils.ErrorSourceExhausted, lastErr)
}

func (c *Client) fetchFrom(ctx context.Context, endpoint string, query string) ([]overpassElement, error) {
	// GET is the more reliable verb with Overpass mirrors.
	requestURL := endpoint + "?data=" + url.QueryEscape(query)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, requestURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("overpass %s: status %d: %s", endpoint, resp.StatusCode, strings.TrimSpace(firstN(string(body), 200)))
	}

	var parsed overpassResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("overpass %s: %w", endpoint, err)
	}
	return parsed.Elements, nil
}

func firstN(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
