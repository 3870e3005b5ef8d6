package reconcile

import (
	"math"
	"testing"

	"github.com/Gouzman/PharmaGo/models"
)

func TestDistanceKm(t *testing.T) {
	// Plateau to Cocody, roughly 7.7km.
	d := DistanceKm(5.3253, -4.0217, 5.3599, -3.9614)
	if d < 7.0 || d > 8.5 {
		t.Errorf("Plateau-Cocody distance = %.2fkm", d)
	}

	if d := DistanceKm(5.34, -4.02, 5.34, -4.02); d != 0 {
		t.Errorf("zero distance = %v", d)
	}

	// Symmetry.
	a := DistanceKm(5.32, -4.01, 5.40, -3.95)
	b := DistanceKm(5.40, -3.95, 5.32, -4.01)
	if math.Abs(a-b) > 1e-9 {
		t.Errorf("asymmetric: %v vs %v", a, b)
	}
}

func TestNearbySortedAndInclusive(t *testing.T) {
	center := struct{ lat, lng float64 }{5.3364, -3.9623}
	records := []*models.Pharmacy{
		{ID: "far", Lat: 5.40, Lng: -4.10},
		{ID: "near", Lat: 5.3370, Lng: -3.9630},
		{ID: "mid", Lat: 5.3450, Lng: -3.9700},
	}

	got := Nearby(records, center.lat, center.lng, 5)
	if len(got) != 2 {
		t.Fatalf("expected 2 hits, got %d", len(got))
	}
	if got[0].ID != "near" || got[1].ID != "mid" {
		t.Errorf("not sorted by distance: %s, %s", got[0].ID, got[1].ID)
	}

	// A record exactly on the boundary is included.
	self := []*models.Pharmacy{{ID: "here", Lat: center.lat, Lng: center.lng}}
	if got := Nearby(self, center.lat, center.lng, 0); len(got) != 1 {
		t.Error("boundary should be inclusive")
	}
}

func TestNearbyPairs(t *testing.T) {
	a := &models.Pharmacy{ID: "a", Lat: 5.33640, Lng: -3.96230}
	b := &models.Pharmacy{ID: "b", Lat: 5.33642, Lng: -3.96232} // a few meters from a
	c := &models.Pharmacy{ID: "c", Lat: 5.36, Lng: -3.93}

	pairs := NearbyPairs([]*models.Pharmacy{a, b, c}, 0.05)
	if len(pairs) != 1 {
		t.Fatalf("expected 1 pair, got %d", len(pairs))
	}
	if pairs[0].A.ID != "a" || pairs[0].B.ID != "b" {
		t.Errorf("pair = %s/%s", pairs[0].A.ID, pairs[0].B.ID)
	}
	if pairs[0].DistanceKm > 0.05 {
		t.Errorf("distance = %v", pairs[0].DistanceKm)
	}

	if pairs := NearbyPairs([]*models.Pharmacy{a, c}, 0.05); len(pairs) != 0 {
		t.Errorf("unexpected pairs: %+v", pairs)
	}
}
