package track

import (
	"encoding/xml"
	"errors"
	"fmt"
	"strings"
	"time"
)

// GPX 1.1 namespace constants
const (
	gpxNamespace  = "http://www.topografix.com/GPX/1/1"
	xsiNamespace  = "http://www.w3.org/2001/XMLSchema-instance"
	gpxSchemaURL  = "http://www.topografix.com/GPX/1/1/gpx.xsd"
	gpxTimeLayout = "2006-01-02T15:04:05Z"
)

// ErrNoFixes is returned by the serializers when there is nothing to emit.
// Callers are expected to treat an empty window as "nothing to publish yet"
// before reaching the serializers.
var ErrNoFixes = errors.New("no fixes to serialize")

// ToGPX serializes fixes into a single-track, single-segment GPX 1.1
// document. Output is byte-deterministic for identical input: lat/lon are
// emitted to 6 decimal places, elevation to 1, and the metadata time is the
// first fix's timestamp.
func ToGPX(fixes []Fix, creator string) (string, error) {
	if len(fixes) == 0 {
		return "", ErrNoFixes
	}

	var b strings.Builder
	b.WriteString(`<?xml version="1.0" encoding="UTF-8"?>` + "\n")
	b.WriteString(`<gpx xmlns="` + gpxNamespace + `" xmlns:xsi="` + xsiNamespace + `" xsi:schemaLocation="` + gpxNamespace + ` ` + gpxSchemaURL + `" version="1.1" creator="`)
	xmlEscape(&b, creator)
	b.WriteString("\">\n")

	b.WriteString("  <metadata><time>")
	b.WriteString(isoUTC(fixes[0].Epoch))
	b.WriteString("</time></metadata>\n")

	b.WriteString("  <trk>\n    <trkseg>\n")
	for _, f := range fixes {
		fmt.Fprintf(&b, `      <trkpt lat="%.6f" lon="%.6f">`, f.Lat, f.Lon)
		if f.Ele != nil {
			fmt.Fprintf(&b, "<ele>%.1f</ele>", *f.Ele)
		}
		b.WriteString("<time>")
		b.WriteString(isoUTC(f.Epoch))
		b.WriteString("</time></trkpt>\n")
	}
	b.WriteString("    </trkseg>\n  </trk>\n</gpx>\n")

	return b.String(), nil
}

// gpxDocument mirrors just enough of the GPX schema to pull track points out
// of an uploaded course file.
type gpxDocument struct {
	Tracks []struct {
		Segments []struct {
			Points []gpxTrackPoint `xml:"trkpt"`
		} `xml:"trkseg"`
	} `xml:"trk"`
}

type gpxTrackPoint struct {
	Lat  float64  `xml:"lat,attr"`
	Lon  float64  `xml:"lon,attr"`
	Ele  *float64 `xml:"ele"`
	Time string   `xml:"time"`
}

// ParseGPX extracts the fixes of all tracks/segments of a GPX document, in
// document order. Points without a parsable timestamp get Epoch 0.
func ParseGPX(gpxText string) ([]Fix, error) {
	var doc gpxDocument
	if err := xml.Unmarshal([]byte(gpxText), &doc); err != nil {
		return nil, fmt.Errorf("failed to parse gpx: %w", err)
	}

	var fixes []Fix
	for _, trk := range doc.Tracks {
		for _, seg := range trk.Segments {
			for _, p := range seg.Points {
				f := Fix{Lat: p.Lat, Lon: p.Lon, Ele: p.Ele}
				if t, err := time.Parse(gpxTimeLayout, p.Time); err == nil {
					f.Epoch = t.Unix()
				}
				fixes = append(fixes, f)
			}
		}
	}
	if len(fixes) == 0 {
		return nil, errors.New("no track points found in gpx")
	}
	return fixes, nil
}

// GPXToGeoJSON converts an uploaded GPX course file into the compact GeoJSON
// form stored alongside it.
func GPXToGeoJSON(gpxText string) (string, error) {
	fixes, err := ParseGPX(gpxText)
	if err != nil {
		return "", err
	}
	return ToGeoJSON(fixes)
}

func isoUTC(epoch int64) string {
	return time.Unix(epoch, 0).UTC().Format(gpxTimeLayout)
}

func xmlEscape(b *strings.Builder, s string) {
	// xml.EscapeText only fails on writer errors; strings.Builder never errors
	_ = xml.EscapeText(b, []byte(s))
}
