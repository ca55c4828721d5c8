package emoncms

import "github.com/matthewwall/weewx-emoncms/internal/units"

// Override carries per-observation render settings from the inputs file.
// Any field left empty falls back to the computed default.
type Override struct {
	Name   string `yaml:"name"`
	Format string `yaml:"format"`
	Units  string `yaml:"units"`
}

// Template is the resolved rendering rule for one observation key. Empty
// fields mean "use the default": the key itself as the name, %s as the
// format, no unit conversion.
type Template struct {
	Name   string
	Format string
	Units  string
}

// resolveTemplate computes the template for an observation key. With
// appendUnitsLabel set and no explicit name override, the default name is
// the key with the reduced units label appended (outTemp -> outTemp_F).
// Explicit overrides always win. There is no failure path: an unknown key
// simply yields an empty template.
func resolveTemplate(key string, ov Override, appendUnitsLabel bool, unitSystem int) Template {
	var t Template
	if appendUnitsLabel {
		if label := units.Label(unitSystem, key); label != "" {
			t.Name = key + "_" + label
		}
	}
	if ov.Name != "" {
		t.Name = ov.Name
	}
	if ov.Format != "" {
		t.Format = ov.Format
	}
	if ov.Units != "" {
		t.Units = ov.Units
	}
	return t
}
