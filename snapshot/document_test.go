package snapshot

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/Gouzman/PharmaGo/models"
)

func TestBuildDocument(t *testing.T) {
	now := time.Date(2026, 8, 22, 6, 0, 0, 0, time.UTC)
	guard := &models.Pharmacy{
		ID:              "osm_node_1",
		Name:            "Pharmacie Sainte Marie",
		Lat:             5.3364,
		Lng:             -3.9623,
		Commune:         "Cocody",
		Phone:           "+2252722445566",
		IsGuard:         true,
		ConfidenceScore: 90,
		UpdatedAt:       now,
	}
	guard.SetOpenHours(&models.OpenHours{Open: "08:00", Close: "20:00"})
	guard.SetAssurances([]string{"MUGEFCI"})

	plain := &models.Pharmacy{
		ID:        "osm_node_2",
		Name:      "Pharmacie du Soleil",
		Lat:       5.34,
		Lng:       -4.08,
		UpdatedAt: now,
	}
	plain.SetAssurances(nil)

	doc := Build([]*models.Pharmacy{guard, plain}, 7, now)

	if doc.Version != 7 || doc.PharmacyCount != 2 || len(doc.Pharmacies) != 2 {
		t.Fatalf("document header: %+v", doc)
	}
	if doc.Pharmacies[0].ID != "osm_node_1" || doc.Pharmacies[1].ID != "osm_node_2" {
		t.Error("input order not preserved")
	}

	first := doc.Pharmacies[0]
	if !first.IsGuard || first.ConfidenceScore != 90 {
		t.Errorf("guard entry: %+v", first)
	}
	if first.OpenHours == nil || first.OpenHours.Open != "08:00" {
		t.Errorf("open hours: %+v", first.OpenHours)
	}
	if len(first.Assurances) != 1 || first.Assurances[0] != "MUGEFCI" {
		t.Errorf("assurances: %v", first.Assurances)
	}
}

func TestDocumentJSONShape(t *testing.T) {
	now := time.Date(2026, 8, 22, 6, 0, 0, 0, time.UTC)
	p := &models.Pharmacy{ID: "osm_node_3", Name: "Pharmacie des Lagunes", Lat: 5.3, Lng: -4.0, UpdatedAt: now}
	p.SetAssurances(nil)

	body, err := json.Marshal(Build([]*models.Pharmacy{p}, 1, now))
	if err != nil {
		t.Fatal(err)
	}

	var decoded map[string]interface{}
	if err := json.Unmarshal(body, &decoded); err != nil {
		t.Fatal(err)
	}
	if decoded["version"].(float64) != 1 {
		t.Errorf("version = %v", decoded["version"])
	}
	entries := decoded["pharmacies"].([]interface{})
	entry := entries[0].(map[string]interface{})

	// String keys are stable even when empty; only open_hours disappears when
	// absent. Assurances is always an array so clients need no nil checks.
	for _, key := range []string{"address", "phone", "commune", "quartier"} {
		v, ok := entry[key]
		if !ok {
			t.Errorf("field %q missing from the payload", key)
			continue
		}
		if s, isString := v.(string); !isString || s != "" {
			t.Errorf("field %q = %v, want empty string", key, v)
		}
	}
	if _, ok := entry["open_hours"]; ok {
		t.Error("open_hours should be omitted when absent")
	}
	if _, ok := entry["assurances"].([]interface{}); !ok {
		t.Errorf("assurances should be an array, got %T", entry["assurances"])
	}
}
