package geodata

type overpassResponse struct {
	Version   float64           `json:"version"`
	Generator string            `json:"generator"`
	Elements  []overpassElement `json:"elements"`
}

// overpassElement is a node or a way; ways carry their centroid in Center.
type overpassElement struct {
	Type   string            `json:"type"`
	ID     int64             `json:"id"`
	Lat    *float64          `json:"lat"`
	Lon    *float64          `json:"lon"`
	Center *overpassCenter   `json:"center"`
	Tags   map[string]string `json:"tags"`
}

type overpassCenter struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// BoundingBox is the harvest area in WGS84 degrees.
type BoundingBox struct {
	MinLat float64
	MinLon float64
	MaxLat float64
	MaxLon float64
}

// AbidjanBoundingBox is the default harvest area.
var AbidjanBoundingBox = BoundingBox{
	MinLat: 5.20,
	MinLon: -4.20,
	MaxLat: 5.45,
	MaxLon: -3.90,
}
