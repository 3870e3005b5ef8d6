package geodata

import (
	"fmt"
	"regexp"
	"strings"
	"time"
	"unicode"

	"github.com/Gouzman/PharmaGo/models"
	"github.com/Gouzman/PharmaGo/reconcile"
)

var openHoursPattern = regexp.MustCompile(`(\d{2}:\d{2})-(\d{2}:\d{2})`)

// Names too generic to identify anything; elements carrying only these are
// dropped by the quality filter.
var genericNames = []string{"pharmacie", "pharmacy", "aho", "pdz", "trv"}

// MapElement converts one Overpass element into a canonical record via the
// fixed tag-priority rules. Returns (nil, reason) when the element fails the
// coordinate or name-quality checks.
func MapElement(el overpassElement, now time.Time) (*models.Pharmacy, string) {
	lat, lon := el.Lat, el.Lon
	// Ways carry no point coordinates; use the centroid.
	if (lat == nil || lon == nil) && el.Center != nil {
		lat = &el.Center.Lat
		lon = &el.Center.Lon
	}
	if lat == nil || lon == nil {
		return nil, "missing coordinates"
	}

	name := tagOr(el.Tags, "name", "")
	if name == "" {
		name = tagOr(el.Tags, "name:fr", "")
	}
	if name == "" {
		name = fmt.Sprintf("Pharmacie OSM #%d", el.ID)
	}
	if !IsValidPharmacyName(name) {
		return nil, "name failed quality filter"
	}

	commune := tagOr(el.Tags, "addr:city", "")
	if commune == "" {
		commune = tagOr(el.Tags, "addr:district", "")
	}
	if commune == "" {
		commune = DetermineCommune(*lat, *lon)
	}

	quartier := firstTag(el.Tags, "addr:suburb", "addr:neighbourhood", "addr:quarter")
	phone := CleanPhoneNumber(firstTag(el.Tags, "phone", "contact:phone"))

	p := &models.Pharmacy{
		ID:       fmt.Sprintf("osm_%s_%d", el.Type, el.ID),
		Name:     name,
		Lat:      *lat,
		Lng:      *lon,
		Address:  BuildAddress(el.Tags),
		Commune:  commune,
		Quartier: quartier,
		Phone:    phone,
		IsGuard:  false,
		// OSM carries no insurance information.
		UpdatedAt: now,
	}
	p.SetAssurances(nil)
	p.SetOpenHours(ParseOpenHours(tagOr(el.Tags, "opening_hours", "")))
	p.DedupeKey = reconcile.DedupeKey(p.Name, p.Lat, p.Lng)
	return p, ""
}

func tagOr(tags map[string]string, key string, def string) string {
	if tags == nil {
		return def
	}
	if v, ok := tags[key]; ok && strings.TrimSpace(v) != "" {
		return strings.TrimSpace(v)
	}
	return def
}

func firstTag(tags map[string]string, keys ...string) string {
	for _, k := range keys {
		if v := tagOr(tags, k, ""); v != "" {
			return v
		}
	}
	return ""
}

// BuildAddress assembles house-number + street, falling back to the full
// address tag when neither structured part exists.
func BuildAddress(tags map[string]string) string {
	var parts []string
	if v := tagOr(tags, "addr:housenumber", ""); v != "" {
		parts = append(parts, v)
	}
	if v := tagOr(tags, "addr:street", ""); v != "" {
		parts = append(parts, v)
	}
	if len(parts) == 0 {
		return tagOr(tags, "addr:full", "")
	}
	return strings.Join(parts, " ")
}

// CleanPhoneNumber keeps digits and '+' only.
func CleanPhoneNumber(phone string) string {
	var b strings.Builder
	for _, r := range phone {
		if unicode.IsDigit(r) || r == '+' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// ParseOpenHours extracts the first HH:MM-HH:MM span from an OSM opening_hours
// value ("Mo-Fr 08:00-20:00; Sa 08:00-18:00"). Absent or unparseable values
// yield nil rather than an error.
func ParseOpenHours(raw string) *models.OpenHours {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	m := openHoursPattern.FindStringSubmatch(raw)
	if m == nil {
		return nil
	}
	return &models.OpenHours{Open: m[1], Close: m[2]}
}

// IsValidPharmacyName rejects names too short or too generic to identify a
// pharmacy.
func IsValidPharmacyName(name string) bool {
	name = strings.TrimSpace(name)
	if len(name) < 3 {
		return false
	}
	lower := strings.ToLower(name)
	for _, generic := range genericNames {
		if lower == generic {
			return false
		}
	}
	return true
}

type communeZone struct {
	name           string
	minLat, maxLat float64
	minLon, maxLon float64
}

// Approximate zones of Abidjan's main communes, checked in order.
var communeZones = []communeZone{
	{"Plateau", 5.32, 5.34, -4.03, -4.01},
	{"Cocody", 5.33, 5.38, -3.98, -3.90},
	{"Yopougon", 5.30, 5.36, -4.12, -4.05},
	{"Abobo", 5.40, 5.45, -4.05, -4.00},
	{"Adjamé", 5.34, 5.37, -4.04, -4.01},
	{"Koumassi", 5.28, 5.32, -3.96, -3.92},
	{"Marcory", 5.28, 5.31, -4.01, -3.98},
	{"Treichville", 5.29, 5.32, -4.03, -4.00},
	{"Port-Bouët", 5.23, 5.28, -3.97, -3.90},
	{"Attécoubé", 5.32, 5.35, -4.08, -4.04},
}

// DetermineCommune approximates the commune from coordinates when the element
// carries no address tags.
func DetermineCommune(lat, lon float64) string {
	for _, z := range communeZones {
		if lat >= z.minLat && lat <= z.maxLat && lon >= z.minLon && lon <= z.maxLon {
			return z.name
		}
	}
	return "Abidjan"
}
