// Package geo converts trip paths to and from the well-known-text
// geometries the secondary store holds, and measures them.
package geo

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"trainlog/internal/domain"
)

// SRID of every stored geometry.
const SRID = 4326

const earthRadiusMeters = 6371008.8

// ErrEmptyPath is returned for a path with no points; it has no geometry.
var ErrEmptyPath = errors.New("path has no points")

// EncodeWKT renders a path as POINT for one point or LINESTRING for more.
// Coordinates are written x y, that is longitude first.
func EncodeWKT(path domain.Path) (string, error) {
	switch len(path) {
	case 0:
		return "", ErrEmptyPath
	case 1:
		return "POINT(" + coord(path[0]) + ")", nil
	}

	var b strings.Builder
	b.WriteString("LINESTRING(")
	for i, p := range path {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(coord(p))
	}
	b.WriteString(")")
	return b.String(), nil
}

func coord(p domain.Point) string {
	return strconv.FormatFloat(p.Lng, 'f', -1, 64) + " " + strconv.FormatFloat(p.Lat, 'f', -1, 64)
}

// DecodeWKT parses the POINT and LINESTRING forms EncodeWKT and PostGIS's
// ST_AsText produce.
func DecodeWKT(wkt string) (domain.Path, error) {
	s := strings.TrimSpace(wkt)
	open := strings.IndexByte(s, '(')
	if open < 0 || !strings.HasSuffix(s, ")") {
		return nil, fmt.Errorf("malformed wkt %q", wkt)
	}

	kind := strings.ToUpper(strings.TrimSpace(s[:open]))
	body := s[open+1 : len(s)-1]

	switch kind {
	case "POINT", "LINESTRING":
	default:
		return nil, fmt.Errorf("unsupported geometry %q", kind)
	}

	parts := strings.Split(body, ",")
	path := make(domain.Path, 0, len(parts))
	for _, part := range parts {
		fields := strings.Fields(part)
		if len(fields) != 2 {
			return nil, fmt.Errorf("malformed coordinate %q", part)
		}
		lng, err := strconv.ParseFloat(fields[0], 64)
		if err != nil {
			return nil, fmt.Errorf("longitude %q: %w", fields[0], err)
		}
		lat, err := strconv.ParseFloat(fields[1], 64)
		if err != nil {
			return nil, fmt.Errorf("latitude %q: %w", fields[1], err)
		}
		path = append(path, domain.Point{Lat: lat, Lng: lng})
	}

	if kind == "POINT" && len(path) != 1 {
		return nil, fmt.Errorf("point with %d coordinates", len(path))
	}
	return path, nil
}

// Distance is the great-circle distance between two points, in meters.
func Distance(a, b domain.Point) float64 {
	lat1 := a.Lat * math.Pi / 180
	lat2 := b.Lat * math.Pi / 180
	dLat := lat2 - lat1
	dLng := (b.Lng - a.Lng) * math.Pi / 180

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLng/2)*math.Sin(dLng/2)
	return 2 * earthRadiusMeters * math.Asin(math.Sqrt(h))
}

// Length sums the great-circle distance along the path, in meters.
func Length(path domain.Path) float64 {
	var total float64
	for i := 1; i < len(path); i++ {
		total += Distance(path[i-1], path[i])
	}
	return total
}
