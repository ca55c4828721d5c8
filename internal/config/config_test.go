package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/matthewwall/weewx-emoncms/internal/emoncms"
	"github.com/matthewwall/weewx-emoncms/internal/units"
)

func TestLoadFromEnv(t *testing.T) {
	t.Run("missing token is an error", func(t *testing.T) {
		t.Setenv("EMONCMS_TOKEN", "")
		if _, err := LoadFromEnv(); err == nil {
			t.Fatal("LoadFromEnv() err = nil; want missing token error")
		}
	})

	t.Run("defaults", func(t *testing.T) {
		t.Setenv("EMONCMS_TOKEN", "abc123token")
		cfg, err := LoadFromEnv()
		if err != nil {
			t.Fatalf("LoadFromEnv() err = %v; want nil", err)
		}
		if cfg.ServerURL != emoncms.DefaultServerURL {
			t.Errorf("ServerURL = %q; want %q", cfg.ServerURL, emoncms.DefaultServerURL)
		}
		if !cfg.UploadAll {
			t.Error("UploadAll = false; want true")
		}
		if !cfg.AppendUnitsLabel {
			t.Error("AppendUnitsLabel = false; want true")
		}
		if !cfg.AugmentRecord {
			t.Error("AugmentRecord = false; want true")
		}
		if cfg.SkipUpload {
			t.Error("SkipUpload = true; want false")
		}
		if cfg.MaxTries != 3 {
			t.Errorf("MaxTries = %d; want 3", cfg.MaxTries)
		}
		if cfg.Timeout != 60*time.Second {
			t.Errorf("Timeout = %v; want 60s", cfg.Timeout)
		}
		if cfg.RetryWait != 5*time.Second {
			t.Errorf("RetryWait = %v; want 5s", cfg.RetryWait)
		}
		if cfg.MaxBacklog != 1000 {
			t.Errorf("MaxBacklog = %d; want 1000", cfg.MaxBacklog)
		}
		if cfg.UnitSystem != 0 {
			t.Errorf("UnitSystem = %d; want 0 (no override)", cfg.UnitSystem)
		}
		if cfg.MQTTTopic != "weather/archive" {
			t.Errorf("MQTTTopic = %q; want weather/archive", cfg.MQTTTopic)
		}
	})

	t.Run("explicit values", func(t *testing.T) {
		t.Setenv("EMONCMS_TOKEN", "abc123token")
		t.Setenv("EMONCMS_URL", "http://192.168.0.1/emoncms/input/post.json")
		t.Setenv("EMONCMS_NODE", "5")
		t.Setenv("EMONCMS_PREFIX", "weather")
		t.Setenv("UNIT_SYSTEM", "METRICWX")
		t.Setenv("SKIP_UPLOAD", "true")
		t.Setenv("POST_INTERVAL", "5m")
		t.Setenv("STALE", "1h")
		t.Setenv("MAX_TRIES", "5")

		cfg, err := LoadFromEnv()
		if err != nil {
			t.Fatalf("LoadFromEnv() err = %v; want nil", err)
		}
		if cfg.Node != "5" {
			t.Errorf("Node = %q; want 5", cfg.Node)
		}
		if cfg.Prefix != "weather" {
			t.Errorf("Prefix = %q; want weather", cfg.Prefix)
		}
		if cfg.UnitSystem != units.MetricWX {
			t.Errorf("UnitSystem = %d; want %d", cfg.UnitSystem, units.MetricWX)
		}
		if !cfg.SkipUpload {
			t.Error("SkipUpload = false; want true")
		}
		if cfg.PostInterval != 5*time.Minute {
			t.Errorf("PostInterval = %v; want 5m", cfg.PostInterval)
		}
		if cfg.Stale != time.Hour {
			t.Errorf("Stale = %v; want 1h", cfg.Stale)
		}
		if cfg.MaxTries != 5 {
			t.Errorf("MaxTries = %d; want 5", cfg.MaxTries)
		}
	})

	t.Run("invalid node", func(t *testing.T) {
		t.Setenv("EMONCMS_TOKEN", "abc123token")
		t.Setenv("EMONCMS_NODE", "garage")
		if _, err := LoadFromEnv(); err == nil {
			t.Fatal("LoadFromEnv() err = nil; want invalid node error")
		}
	})

	t.Run("invalid obs_to_upload", func(t *testing.T) {
		t.Setenv("EMONCMS_TOKEN", "abc123token")
		t.Setenv("OBS_TO_UPLOAD", "some")
		if _, err := LoadFromEnv(); err == nil {
			t.Fatal("LoadFromEnv() err = nil; want invalid OBS_TO_UPLOAD error")
		}
	})

	t.Run("inputs mode requires inputs file", func(t *testing.T) {
		t.Setenv("EMONCMS_TOKEN", "abc123token")
		t.Setenv("OBS_TO_UPLOAD", "inputs")
		t.Setenv("INPUTS_FILE", "")
		_, err := LoadFromEnv()
		if err == nil {
			t.Fatal("LoadFromEnv() err = nil; want error")
		}
		if !strings.Contains(err.Error(), "INPUTS_FILE") {
			t.Errorf("err = %v; want mention of INPUTS_FILE", err)
		}
	})

	t.Run("inputs file is loaded", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "inputs.yaml")
		content := `
barometer:
  units: inHg
  name: barometer_inHg
  format: "%.3f"
outHumidity:
  format: "%03.0f"
`
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			t.Fatalf("write inputs file: %v", err)
		}

		t.Setenv("EMONCMS_TOKEN", "abc123token")
		t.Setenv("OBS_TO_UPLOAD", "inputs")
		t.Setenv("INPUTS_FILE", path)

		cfg, err := LoadFromEnv()
		if err != nil {
			t.Fatalf("LoadFromEnv() err = %v; want nil", err)
		}
		if cfg.UploadAll {
			t.Error("UploadAll = true; want false")
		}
		want := emoncms.Override{Units: "inHg", Name: "barometer_inHg", Format: "%.3f"}
		if got := cfg.Inputs["barometer"]; got != want {
			t.Errorf("Inputs[barometer] = %+v; want %+v", got, want)
		}
		if got := cfg.Inputs["outHumidity"].Format; got != "%03.0f" {
			t.Errorf("Inputs[outHumidity].Format = %q; want %%03.0f", got)
		}
	})
}

func TestLoadInputsMissingFile(t *testing.T) {
	if _, err := LoadInputs(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("LoadInputs() err = nil; want error")
	}
}
