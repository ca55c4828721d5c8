// Package units maps observation keys to measurement units and converts
// values between the US, METRIC and METRICWX unit systems.
package units

import (
	"fmt"
	"strings"
)

// Unit system identifiers, matching the usUnits field of incoming records.
const (
	US       = 0x01
	Metric   = 0x10
	MetricWX = 0x11
)

// SystemByName resolves a config-supplied unit system name.
func SystemByName(name string) (int, error) {
	switch strings.ToUpper(strings.TrimSpace(name)) {
	case "US":
		return US, nil
	case "METRIC":
		return Metric, nil
	case "METRICWX":
		return MetricWX, nil
	default:
		return 0, fmt.Errorf("unknown unit system %q (allowed: US, METRIC, METRICWX)", name)
	}
}

// SystemName returns the config-style name for a unit system identifier.
func SystemName(system int) string {
	switch system {
	case US:
		return "US"
	case Metric:
		return "METRIC"
	case MetricWX:
		return "METRICWX"
	default:
		return fmt.Sprintf("0x%02x", system)
	}
}

// obsGroups assigns each known observation key to a unit group.
var obsGroups = map[string]string{
	"outTemp":     "group_temperature",
	"inTemp":      "group_temperature",
	"extraTemp1":  "group_temperature",
	"extraTemp2":  "group_temperature",
	"extraTemp3":  "group_temperature",
	"dewpoint":    "group_temperature",
	"windchill":   "group_temperature",
	"heatindex":   "group_temperature",
	"appTemp":     "group_temperature",
	"soilTemp1":   "group_temperature",
	"leafTemp1":   "group_temperature",
	"barometer":   "group_pressure",
	"pressure":    "group_pressure",
	"altimeter":   "group_pressure",
	"windSpeed":   "group_speed",
	"windGust":    "group_speed",
	"windDir":     "group_direction",
	"windGustDir": "group_direction",
	"outHumidity": "group_percent",
	"inHumidity":  "group_percent",
	"extraHumid1": "group_percent",
	"extraHumid2": "group_percent",
	"rain":        "group_rain",
	"hourRain":    "group_rain",
	"rain24":      "group_rain",
	"dayRain":     "group_rain",
	"totalRain":   "group_rain",
	"rainRate":    "group_rainrate",
	"radiation":   "group_radiation",
	"UV":          "group_uv",
	"dateTime":    "group_time",
	"interval":    "group_interval",
	"usUnits":     "group_count",
}

// stdUnits gives the unit used for each group under each unit system.
var stdUnits = map[int]map[string]string{
	US: {
		"group_temperature": "degree_F",
		"group_pressure":    "inHg",
		"group_speed":       "mile_per_hour",
		"group_rain":        "inch",
		"group_rainrate":    "inch_per_hour",
	},
	Metric: {
		"group_temperature": "degree_C",
		"group_pressure":    "mbar",
		"group_speed":       "km_per_hour",
		"group_rain":        "cm",
		"group_rainrate":    "cm_per_hour",
	},
	MetricWX: {
		"group_temperature": "degree_C",
		"group_pressure":    "mbar",
		"group_speed":       "meter_per_second",
		"group_rain":        "mm",
		"group_rainrate":    "mm_per_hour",
	},
}

// systemInvariant holds the units that are the same in every system.
var systemInvariant = map[string]string{
	"group_direction": "degree_compass",
	"group_percent":   "percent",
	"group_radiation": "watt_per_meter_squared",
	"group_uv":        "uv_index",
	"group_time":      "unix_epoch",
	"group_interval":  "minute",
	"group_count":     "count",
}

// StandardUnit returns the unit an observation key carries under the given
// unit system, or "" when the key or system is unknown.
func StandardUnit(system int, key string) string {
	group, ok := obsGroups[key]
	if !ok {
		return ""
	}
	if u, ok := systemInvariant[group]; ok {
		return u
	}
	return stdUnits[system][group]
}

// conversions maps source unit -> target unit -> conversion function.
var conversions = map[string]map[string]func(float64) float64{}

func addLinear(from, to string, factor float64) {
	addConv(from, to, func(v float64) float64 { return v * factor })
	addConv(to, from, func(v float64) float64 { return v / factor })
}

func addConv(from, to string, f func(float64) float64) {
	m, ok := conversions[from]
	if !ok {
		m = make(map[string]func(float64) float64)
		conversions[from] = m
	}
	m[to] = f
}

func init() {
	addConv("degree_F", "degree_C", func(v float64) float64 { return (v - 32) * 5 / 9 })
	addConv("degree_C", "degree_F", func(v float64) float64 { return v*9/5 + 32 })

	addLinear("inHg", "mbar", 33.86386)
	addLinear("inHg", "hPa", 33.86386)
	addLinear("inHg", "kPa", 3.386386)
	addLinear("mbar", "kPa", 0.1)
	addLinear("hPa", "kPa", 0.1)
	addLinear("mbar", "hPa", 1.0)

	addLinear("mile_per_hour", "km_per_hour", 1.609344)
	addLinear("mile_per_hour", "meter_per_second", 0.44704)
	addLinear("mile_per_hour", "knot", 0.868976242)
	addLinear("km_per_hour", "meter_per_second", 0.277777778)
	addLinear("km_per_hour", "knot", 0.539956803)
	addLinear("meter_per_second", "knot", 1.94384449)

	addLinear("inch", "mm", 25.4)
	addLinear("inch", "cm", 2.54)
	addLinear("mm", "cm", 0.1)

	addLinear("inch_per_hour", "mm_per_hour", 25.4)
	addLinear("inch_per_hour", "cm_per_hour", 2.54)
	addLinear("mm_per_hour", "cm_per_hour", 0.1)
}

// Convert translates a value between two units. Converting a unit to itself
// is the identity; an unknown pair is an error.
func Convert(v float64, from, to string) (float64, error) {
	if from == to {
		return v, nil
	}
	if f, ok := conversions[from][to]; ok {
		return f(v), nil
	}
	return 0, fmt.Errorf("no conversion from %q to %q", from, to)
}

// labelReductions shortens the rather lengthy canonical unit names for use
// as field name suffixes. An empty value means the unit gets no suffix at
// all; units not listed here use the full unit name.
var labelReductions = map[string]string{
	"degree_F":               "F",
	"degree_C":               "C",
	"inch":                   "in",
	"mile_per_hour":          "mph",
	"mile_per_hour2":         "mph",
	"km_per_hour":            "kph",
	"km_per_hour2":           "kph",
	"meter_per_second":       "mps",
	"meter_per_second2":      "mps",
	"degree_compass":         "",
	"watt_per_meter_squared": "Wpm2",
	"uv_index":               "",
	"percent":                "",
	"unix_epoch":             "",
	"count":                  "",
}

// Label returns the reduced units label for an observation key under the
// given unit system. An empty label means the key gets no units suffix.
func Label(system int, key string) string {
	unit := StandardUnit(system, key)
	if unit == "" {
		return ""
	}
	if short, ok := labelReductions[unit]; ok {
		return short
	}
	return unit
}
