// Package roster retrieves the current on-duty pharmacy lists from the
// national duty-roster website.
package roster

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/sirupsen/logrus"

	"github.com/Gouzman/PharmaGo/config"
	"github.com/Gouzman/PharmaGo/models"
	"github.com/Gouzman/PharmaGo/utils"
)

const defaultBaseURL = "https://www.pharmacies-de-garde.ci"

// Cities with a published duty page.
var defaultCities = []string{"Abidjan", "Bouaké", "Daloa", "Yamoussoukro", "San-Pedro"}

type Client struct {
	baseURL  string
	cities   []string
	http     *http.Client
	logger   *logrus.Logger
	validate *validator.Validate
}

func NewClient() *Client {
	cities := defaultCities
	if env := utils.EnvOrDefault("ROSTER_CITIES", ""); env != "" {
		cities = utils.SplitAndTrim(env)
	}
	// A city listed twice would double every candidate on its page.
	cities = utils.UniqueSlice(cities)
	return &Client{
		baseURL:  utils.EnvOrDefault("ROSTER_BASE_URL", defaultBaseURL),
		cities:   cities,
		http:     &http.Client{Timeout: 60 * time.Second},
		logger:   config.GetLogger(),
		validate: validator.New(),
	}
}

// FetchGuardCandidates collects the on-duty lists for every configured city.
// A city whose page cannot be fetched or parsed is skipped with a warning;
// the error return is non-nil only when every city failed.
func (c *Client) FetchGuardCandidates(ctx context.Context) ([]models.GuardCandidate, int, error) {
	var (
		all     []models.GuardCandidate
		skipped int
		failed  int
	)
	for _, city := range c.cities {
		if err := ctx.Err(); err != nil {
			return nil, skipped, err
		}
		candidates, err := c.fetchCity(ctx, city)
		if err != nil {
			failed++
			config.LogWarn(c.logger, "roster", "FetchGuardCandidates",
				fmt.Sprintf("city page failed: %s", city), err.Error())
			continue
		}
		for _, cand := range candidates {
			if err := c.validate.Struct(cand); err != nil {
				skipped++
				config.LogWarn(c.logger, "roster", "FetchGuardCandidates",
					fmt.Sprintf("dropping invalid roster entry %q (%s)", cand.Name, city), err.Error())
				continue
			}
			all = append(all, cand)
		}
	}
	if failed == len(c.cities) {
		return nil, skipped, fmt.Errorf("duty roster: all %d city pages failed: %w", failed, utils.ErrorSourceExhausted)
	}
	return all, skipped, nil
}

func (c *Client) fetchCity(ctx context.Context, city string) ([]models.GuardCandidate, error) {
	pageURL := fmt.Sprintf("%s/pharmacies-de-garde-%s", c.baseURL, url.PathEscape(strings.ToLower(city)))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", "PharmaGo/1.0 (+https://github.com/Gouzman/PharmaGo)")
	req.Header.Set("Accept", "text/html")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("GET %s: status %d", pageURL, resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, err
	}
	return ParseGuardPage(body, city)
}
