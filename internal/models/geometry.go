package models

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Point is a WGS84 coordinate
type Point struct {
	Lat float64 `json:"lat" yaml:"lat"`
	Lon float64 `json:"lon" yaml:"lon"`
}

// Valid reports whether the point lies in the WGS84 range
func (p Point) Valid() bool {
	return p.Lat >= -90 && p.Lat <= 90 && p.Lon >= -180 && p.Lon <= 180 &&
		!math.IsNaN(p.Lat) && !math.IsNaN(p.Lon)
}

// WKT renders the point as EWKT (lon lat order)
func (p Point) WKT() string {
	return fmt.Sprintf("SRID=4326;POINT(%s %s)", formatCoord(p.Lon), formatCoord(p.Lat))
}

// Polygon is a single closed outer ring. The closing vertex may be omitted.
type Polygon []Point

// Covers reports whether the point is inside the ring or on its boundary
func (poly Polygon) Covers(p Point) bool {
	n := len(poly)
	if n < 3 {
		return false
	}

	minLat, maxLat, minLon, maxLon := poly.bounds()
	if p.Lat < minLat || p.Lat > maxLat || p.Lon < minLon || p.Lon > maxLon {
		return false
	}

	inside := false
	for i, j := 0, n-1; i < n; j, i = i, i+1 {
		a, b := poly[i], poly[j]
		if onSegment(a, b, p) {
			return true
		}
		if (a.Lat > p.Lat) != (b.Lat > p.Lat) {
			crossLon := (b.Lon-a.Lon)*(p.Lat-a.Lat)/(b.Lat-a.Lat) + a.Lon
			if p.Lon < crossLon {
				inside = !inside
			}
		}
	}
	return inside
}

// Area returns the planar area of the ring in square degrees. Used only to rank
// overlapping regions, so the projection distortion does not matter.
func (poly Polygon) Area() float64 {
	n := len(poly)
	if n < 3 {
		return 0
	}
	sum := 0.0
	for i, j := 0, n-1; i < n; j, i = i, i+1 {
		sum += poly[j].Lon*poly[i].Lat - poly[i].Lon*poly[j].Lat
	}
	return math.Abs(sum) / 2
}

func (poly Polygon) bounds() (minLat, maxLat, minLon, maxLon float64) {
	minLat, minLon = math.Inf(1), math.Inf(1)
	maxLat, maxLon = math.Inf(-1), math.Inf(-1)
	for _, v := range poly {
		minLat = math.Min(minLat, v.Lat)
		maxLat = math.Max(maxLat, v.Lat)
		minLon = math.Min(minLon, v.Lon)
		maxLon = math.Max(maxLon, v.Lon)
	}
	return
}

const segmentEpsilon = 1e-12

func onSegment(a, b, p Point) bool {
	cross := (b.Lon-a.Lon)*(p.Lat-a.Lat) - (b.Lat-a.Lat)*(p.Lon-a.Lon)
	if math.Abs(cross) > segmentEpsilon {
		return false
	}
	return p.Lon >= math.Min(a.Lon, b.Lon) && p.Lon <= math.Max(a.Lon, b.Lon) &&
		p.Lat >= math.Min(a.Lat, b.Lat) && p.Lat <= math.Max(a.Lat, b.Lat)
}

// Closed returns the ring with the first vertex repeated at the end
func (poly Polygon) Closed() Polygon {
	if len(poly) == 0 || poly[0] == poly[len(poly)-1] {
		return poly
	}
	closed := make(Polygon, len(poly), len(poly)+1)
	copy(closed, poly)
	return append(closed, poly[0])
}

// WKT renders the ring as EWKT
func (poly Polygon) WKT() string {
	parts := make([]string, 0, len(poly)+1)
	for _, v := range poly.Closed() {
		parts = append(parts, formatCoord(v.Lon)+" "+formatCoord(v.Lat))
	}
	return "SRID=4326;POLYGON((" + strings.Join(parts, ", ") + "))"
}

// ParsePolygonWKT parses POLYGON((lon lat, ...)) with an optional SRID prefix.
// Only the outer ring is kept.
func ParsePolygonWKT(wkt string) (Polygon, error) {
	s := strings.TrimSpace(wkt)
	if idx := strings.Index(s, ";"); idx >= 0 && strings.HasPrefix(strings.ToUpper(s), "SRID=") {
		s = s[idx+1:]
	}
	upper := strings.ToUpper(s)
	if !strings.HasPrefix(upper, "POLYGON") {
		return nil, fmt.Errorf("not a polygon: %q", wkt)
	}

	start := strings.Index(s, "((")
	end := strings.Index(s, ")")
	if start < 0 || end < start {
		return nil, fmt.Errorf("malformed polygon: %q", wkt)
	}

	var ring Polygon
	for _, pair := range strings.Split(s[start+2:end], ",") {
		fields := strings.Fields(pair)
		if len(fields) < 2 {
			return nil, fmt.Errorf("malformed vertex %q", pair)
		}
		lon, err := strconv.ParseFloat(fields[0], 64)
		if err != nil {
			return nil, fmt.Errorf("invalid longitude %q: %w", fields[0], err)
		}
		lat, err := strconv.ParseFloat(fields[1], 64)
		if err != nil {
			return nil, fmt.Errorf("invalid latitude %q: %w", fields[1], err)
		}
		ring = append(ring, Point{Lat: lat, Lon: lon})
	}

	if len(ring) < 3 {
		return nil, fmt.Errorf("polygon needs at least 3 vertices, got %d", len(ring))
	}
	return ring, nil
}

func formatCoord(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
