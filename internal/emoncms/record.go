package emoncms

import (
	"strconv"

	"github.com/matthewwall/weewx-emoncms/internal/units"
)

// Record is one archive record: a flat mapping of observation keys to
// values for a single reporting interval. Two keys are distinguished:
// dateTime (seconds since epoch) and usUnits (unit system identifier).
type Record map[string]any

// Time returns the record timestamp in seconds since epoch, or 0 when the
// dateTime field is missing or not numeric.
func (r Record) Time() int64 {
	v, ok := r.Float("dateTime")
	if !ok {
		return 0
	}
	return int64(v)
}

// UnitSystem returns the unit system the record's values are expressed in.
func (r Record) UnitSystem() int {
	v, ok := r.Float("usUnits")
	if !ok {
		return 0
	}
	return int(v)
}

// Float coerces the value stored under key to a float64. JSON decoding
// hands us float64s, but records can also carry integers or numeric
// strings; anything else (nil, empty string, non-numeric text) reports
// false.
func (r Record) Float(key string) (float64, bool) {
	switch v := r[key].(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case string:
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}

// ConvertTo returns a copy of the record with every convertible value
// expressed in the target unit system. Values whose key has no known unit,
// or no conversion between the two systems, are carried over unchanged.
func (r Record) ConvertTo(target int) Record {
	from := r.UnitSystem()
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = v
		if k == "dateTime" || k == "usUnits" {
			continue
		}
		f, ok := r.Float(k)
		if !ok {
			continue
		}
		fromUnit := units.StandardUnit(from, k)
		toUnit := units.StandardUnit(target, k)
		if fromUnit == "" || toUnit == "" {
			continue
		}
		if converted, err := units.Convert(f, fromUnit, toUnit); err == nil {
			out[k] = converted
		}
	}
	out["usUnits"] = float64(target)
	return out
}
