package reconcile

import "testing"

func TestNormalize(t *testing.T) {
	cases := map[string]string{
		"Pharmacie Sainte Marie":     "sainte marie",
		"PHARMACIE   DU   SOLEIL":    "du soleil",
		"pharmacy St. John's":        "st johns",
		"Pharmacie Validé":           "validé",
		"  pharmacie VALIDÉ  ":       "validé",
		"Grande Pharmacie d'Abidjan": "grande dabidjan",
		"Pharma-Cie du Nord":         "du nord",
		"":                           "",
		"Pharmacie":                  "",
	}
	for in, want := range cases {
		if got := Normalize(in); got != want {
			t.Errorf("Normalize(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestNormalizeIdempotent(t *testing.T) {
	inputs := []string{
		"Pharmacie Sainte Marie",
		"Pharma-Cie du Nord",
		"pharmapharmaciecie centrale",
		"PHARMACY 2000 (Angré)",
	}
	for _, in := range inputs {
		once := Normalize(in)
		if twice := Normalize(once); twice != once {
			t.Errorf("Normalize not idempotent for %q: %q then %q", in, once, twice)
		}
	}
}

func TestNormalizeEquivalence(t *testing.T) {
	if Normalize("Pharmacie Validé") != Normalize("  pharmacie VALIDÉ  ") {
		t.Error("accent and case variants should normalize identically")
	}
}

func TestNameSimilarity(t *testing.T) {
	if got := NameSimilarity("Pharmacie Sainte Marie", "pharmacie SAINTE MARIE"); got != 1.0 {
		t.Errorf("equal names: %v", got)
	}
	if got := NameSimilarity("Pharmacie Sainte Marie", "Pharmacie du Soleil"); got != 0.0 {
		t.Errorf("disjoint names: %v", got)
	}
	// 3 common tokens of max 4.
	if got := NameSimilarity("Pharmacie Nouvelle Gare Routière", "Pharmacie Nouvelle Gare Routière Nord"); got != 0.75 {
		t.Errorf("partial overlap: %v", got)
	}
	// Repeated tokens in one name must not inflate the count.
	if got := NameSimilarity("Pharmacie Gare Gare Gare", "Pharmacie Gare Nord Sud"); got > 0.5 {
		t.Errorf("repeated tokens inflated similarity: %v", got)
	}
	// Designator-only names normalize to the same empty string. The harvest
	// quality filter rejects them before they ever reach a comparison.
	if got := NameSimilarity("Pharmacie", "Pharmacy"); got != 1.0 {
		t.Errorf("designator-only names: %v", got)
	}
}
