package reconcile

import (
	"testing"

	"github.com/Gouzman/PharmaGo/models"
)

func TestDedupeKey(t *testing.T) {
	a := DedupeKey("Pharmacie Sainte Marie", 5.336412, -3.962387)
	b := DedupeKey("PHARMACIE   Sainte Marie", 5.336409, -3.962391)
	if a != b {
		t.Errorf("keys differ: %q vs %q", a, b)
	}
	if a != "sainte marie_5.33641_-3.96239" {
		t.Errorf("key = %q", a)
	}

	c := DedupeKey("Pharmacie Sainte Marie", 5.34, -3.96)
	if a == c {
		t.Error("distinct coordinates must yield distinct keys")
	}
}

func TestDedupeKeepsRichest(t *testing.T) {
	sparse := &models.Pharmacy{ID: "osm_node_1", Name: "Pharmacie Sainte Marie", Lat: 5.3364, Lng: -3.9623}
	rich := &models.Pharmacy{
		ID: "osm_node_2", Name: "Pharmacie Sainte Marie", Lat: 5.3364, Lng: -3.9623,
		Address: "Boulevard Latrille", Phone: "+2252722445566", Quartier: "Angré",
	}

	kept, duplicates := Dedupe([]*models.Pharmacy{sparse, rich})
	if duplicates != 1 {
		t.Errorf("duplicates = %d", duplicates)
	}
	if len(kept) != 1 || kept[0].ID != "osm_node_2" {
		t.Errorf("richer record should survive, kept %+v", kept)
	}
	if kept[0].Phone != "+2252722445566" {
		t.Error("survivor lost its phone")
	}
}

func TestDedupeTieKeepsFirstSeen(t *testing.T) {
	first := &models.Pharmacy{ID: "osm_node_1", Name: "Pharmacie du Soleil", Lat: 5.34, Lng: -4.08, Phone: "+22501"}
	second := &models.Pharmacy{ID: "osm_node_2", Name: "Pharmacie du Soleil", Lat: 5.34, Lng: -4.08, Phone: "+22502"}

	kept, _ := Dedupe([]*models.Pharmacy{first, second})
	if len(kept) != 1 || kept[0].ID != "osm_node_1" {
		t.Errorf("tie should keep the first-seen record, kept %+v", kept)
	}
}

func TestDedupeDistinctKeysAllSurvive(t *testing.T) {
	entries := []*models.Pharmacy{
		{ID: "osm_node_1", Name: "Pharmacie Sainte Marie", Lat: 5.3364, Lng: -3.9623},
		{ID: "osm_node_2", Name: "Pharmacie du Soleil", Lat: 5.34, Lng: -4.08},
		{ID: "osm_node_3", Name: "Pharmacie Sainte Marie", Lat: 5.40, Lng: -4.01},
	}
	kept, duplicates := Dedupe(entries)
	if duplicates != 0 || len(kept) != 3 {
		t.Fatalf("kept %d, duplicates %d", len(kept), duplicates)
	}

	keys := map[string]bool{}
	for i, p := range kept {
		if p.ID != entries[i].ID {
			t.Error("input order not preserved")
		}
		if p.DedupeKey == "" {
			t.Error("dedupe key not assigned")
		}
		if keys[p.DedupeKey] {
			t.Errorf("duplicate key in output: %s", p.DedupeKey)
		}
		keys[p.DedupeKey] = true
	}
}
