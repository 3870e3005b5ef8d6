package reconcile

import (
	"math"
	"sort"

	"github.com/Gouzman/PharmaGo/models"
)

const earthRadiusKm = 6371.0

// DistanceKm computes the haversine great-circle distance between two WGS84
// points, in kilometers.
func DistanceKm(lat1, lon1, lat2, lon2 float64) float64 {
	dLat := toRadians(lat2 - lat1)
	dLon := toRadians(lon2 - lon1)

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(toRadians(lat1))*math.Cos(toRadians(lat2))*
			math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return earthRadiusKm * c
}

func toRadians(deg float64) float64 {
	return deg * math.Pi / 180
}

// Nearby returns the records within radiusKm of the given point (boundary
// inclusive), sorted by ascending distance.
func Nearby(records []*models.Pharmacy, lat, lng, radiusKm float64) []*models.Pharmacy {
	type withDistance struct {
		record   *models.Pharmacy
		distance float64
	}

	var hits []withDistance
	for _, p := range records {
		d := DistanceKm(lat, lng, p.Lat, p.Lng)
		if d <= radiusKm {
			hits = append(hits, withDistance{record: p, distance: d})
		}
	}

	sort.SliceStable(hits, func(i, j int) bool {
		return hits[i].distance < hits[j].distance
	})

	out := make([]*models.Pharmacy, len(hits))
	for i, h := range hits {
		out[i] = h.record
	}
	return out
}

// NearPair is a pair of canonical records suspiciously close to each other.
type NearPair struct {
	A          *models.Pharmacy
	B          *models.Pharmacy
	DistanceKm float64
}

// NearbyPairs finds pairs of distinct canonical records within maxKm of each
// other. Advisory only: pairs are flagged for human review, never auto-merged.
func NearbyPairs(records []*models.Pharmacy, maxKm float64) []NearPair {
	var pairs []NearPair
	for i := 0; i < len(records); i++ {
		for j := i + 1; j < len(records); j++ {
			d := DistanceKm(records[i].Lat, records[i].Lng, records[j].Lat, records[j].Lng)
			if d <= maxKm {
				pairs = append(pairs, NearPair{A: records[i], B: records[j], DistanceKm: d})
			}
		}
	}
	return pairs
}
