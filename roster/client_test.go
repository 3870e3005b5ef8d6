package roster

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/sirupsen/logrus"

	"github.com/Gouzman/PharmaGo/utils"
)

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func testRosterClient(baseURL string, cities ...string) *Client {
	return &Client{
		baseURL:  baseURL,
		cities:   cities,
		http:     &http.Client{Timeout: 5 * time.Second},
		logger:   quietLogger(),
		validate: validator.New(),
	}
}

func TestFetchGuardCandidatesSkipsFailedCities(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.Contains(r.URL.Path, "daloa") {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		_, _ = w.Write([]byte(`<html><body><ul>
			<li>Pharmacie Sainte Marie - Cocody</li>
		</ul></body></html>`))
	}))
	defer srv.Close()

	got, _, err := testRosterClient(srv.URL, "Abidjan", "Daloa").FetchGuardCandidates(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 {
		t.Fatalf("candidates = %+v", got)
	}
	if got[0].City != "Abidjan" || got[0].Source != "pharmacies-de-garde.ci" {
		t.Errorf("candidate = %+v", got[0])
	}
}

func TestFetchGuardCandidatesAllCitiesDown(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "maintenance", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, _, err := testRosterClient(srv.URL, "Abidjan", "Bouaké").FetchGuardCandidates(context.Background())
	if !errors.Is(err, utils.ErrorSourceExhausted) {
		t.Fatalf("err = %v", err)
	}
}

func TestFetchGuardCandidatesDropsUncleanableEntries(t *testing.T) {
	// An entry whose name collapses to nothing after cleaning is skipped, not
	// fatal for the city page.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`<html><body><ul>
			<li>Pharmacie des Lagunes - Treichville</li>
			<li>pharmacie  ,x</li>
		</ul></body></html>`))
	}))
	defer srv.Close()

	got, _, err := testRosterClient(srv.URL, "Abidjan").FetchGuardCandidates(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].Name != "Pharmacie des Lagunes" {
		t.Fatalf("candidates = %+v", got)
	}
}

func TestNewClientDeduplicatesCities(t *testing.T) {
	t.Setenv("ROSTER_CITIES", "Abidjan, Bouaké,Abidjan , Bouaké")

	c := NewClient()
	if len(c.cities) != 2 || c.cities[0] != "Abidjan" || c.cities[1] != "Bouaké" {
		t.Errorf("cities = %v", c.cities)
	}
}
