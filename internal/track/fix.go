package track

import (
	"encoding/json"
)

// Compact fix de-scale divisors. Trackers ship integers to keep payloads
// small; lat/lon carry seven digits of fractional precision.
const (
	latLonScale = 1e7
	eleScale    = 10
	sogScale    = 100
	cogScale    = 10
	hdopScale   = 10
)

// fixFieldCount is the length of the positional compact schema:
// [utc, lat, lon, alt, sog, cog, fx, hdop, nsat]
const fixFieldCount = 9

// Fix is one normalized GNSS fix. Epoch, Lat and Lon are always present;
// everything else is optional because consumer-grade receivers drop fields
// under poor sky view.
type Fix struct {
	Epoch int64
	Lat   float64
	Lon   float64
	Ele   *float64
	Sog   *float64
	Cog   *float64
	Fx    *int64
	Hdop  *float64
	Nsat  *int64
}

// DecodeCompact converts one positional compact fix array into a Fix,
// de-scaling the integer fields. Returns false when the fix is malformed or
// is missing utc/lat/lon; such fixes are expected sensor dropouts, not errors.
func DecodeCompact(raw []*json.Number) (Fix, bool) {
	if len(raw) != fixFieldCount {
		return Fix{}, false
	}
	if raw[0] == nil || raw[1] == nil || raw[2] == nil {
		return Fix{}, false
	}

	epoch, err := raw[0].Int64()
	if err != nil {
		return Fix{}, false
	}

	lat, err := raw[1].Float64()
	if err != nil {
		return Fix{}, false
	}
	lon, err := raw[2].Float64()
	if err != nil {
		return Fix{}, false
	}

	f := Fix{
		Epoch: epoch,
		Lat:   lat / latLonScale,
		Lon:   lon / latLonScale,
	}

	ok := true
	f.Ele = scaledFloat(raw[3], eleScale, &ok)
	f.Sog = scaledFloat(raw[4], sogScale, &ok)
	f.Cog = scaledFloat(raw[5], cogScale, &ok)
	f.Fx = optionalInt(raw[6], &ok)
	f.Hdop = scaledFloat(raw[7], hdopScale, &ok)
	f.Nsat = optionalInt(raw[8], &ok)
	if !ok {
		return Fix{}, false
	}
	return f, true
}

func scaledFloat(n *json.Number, scale float64, ok *bool) *float64 {
	if n == nil {
		return nil
	}
	v, err := n.Float64()
	if err != nil {
		*ok = false
		return nil
	}
	v /= scale
	return &v
}

func optionalInt(n *json.Number, ok *bool) *int64 {
	if n == nil {
		return nil
	}
	v, err := n.Int64()
	if err != nil {
		*ok = false
		return nil
	}
	return &v
}

// FilterWindow keeps the fixes whose timestamp lies within the closed
// [start, finish] bounds. Either bound may be nil for a one-sided window;
// with both absent the input is returned unchanged.
func FilterWindow(fixes []Fix, start, finish *int64) []Fix {
	if start == nil && finish == nil {
		return fixes
	}

	out := make([]Fix, 0, len(fixes))
	for _, f := range fixes {
		if start != nil && f.Epoch < *start {
			continue
		}
		if finish != nil && f.Epoch > *finish {
			continue
		}
		out = append(out, f)
	}
	return out
}
