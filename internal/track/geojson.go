package track

import (
	"encoding/json"
	"fmt"
	"math"
)

type geoJSONGeometry struct {
	Type        string       `json:"type"`
	Coordinates [][2]float64 `json:"coordinates"`
}

type geoJSONFeature struct {
	Type       string          `json:"type"`
	Properties struct{}        `json:"properties"`
	Geometry   geoJSONGeometry `json:"geometry"`
}

type geoJSONFeatureCollection struct {
	Type     string           `json:"type"`
	Features []geoJSONFeature `json:"features"`
}

// ToGeoJSON serializes fixes into a compact FeatureCollection holding exactly
// one LineString Feature. Coordinates are [lon, lat] pairs in input order,
// rounded to 6 decimal places so output matches GPX precision and stays
// byte-deterministic for identical input.
func ToGeoJSON(fixes []Fix) (string, error) {
	if len(fixes) == 0 {
		return "", ErrNoFixes
	}

	coords := make([][2]float64, 0, len(fixes))
	for _, f := range fixes {
		coords = append(coords, [2]float64{round6(f.Lon), round6(f.Lat)})
	}

	fc := geoJSONFeatureCollection{
		Type: "FeatureCollection",
		Features: []geoJSONFeature{{
			Type: "Feature",
			Geometry: geoJSONGeometry{
				Type:        "LineString",
				Coordinates: coords,
			},
		}},
	}

	out, err := json.Marshal(fc)
	if err != nil {
		return "", fmt.Errorf("failed to marshal geojson: %w", err)
	}
	return string(out), nil
}

func round6(v float64) float64 {
	return math.Round(v*1e6) / 1e6
}
