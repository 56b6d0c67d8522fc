package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"
)

func TestLoad_EmptyPathSeedsDefaultEngines(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatal(err)
	}
	if len(cfg.Engines) != 2 {
		t.Fatalf("expected 2 default engines, got %d", len(cfg.Engines))
	}
	if cfg.DataDir != "./data" {
		t.Fatalf("expected default data dir, got %q", cfg.DataDir)
	}
}

func TestLoad_MissingFilePathFallsBackToDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	if err != nil {
		t.Fatalf("expected a missing config file to fall back to defaults, got error: %v", err)
	}
	if len(cfg.Engines) != 2 {
		t.Fatalf("expected default engines when the file is absent, got %d", len(cfg.Engines))
	}
}

func TestLoad_YAMLOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	yaml := `
dataDir: /var/lib/atlas
global:
  dailyLossLimit: 6.5
engines:
  - name: custom
    kind: perp
    enabled: true
    capitalPct: 100
    sizePctMin: 5
    sizePctMax: 20
    leverageMin: 2
    leverageMax: 6
`
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.DataDir != "/var/lib/atlas" {
		t.Fatalf("expected overridden data dir, got %q", cfg.DataDir)
	}
	if len(cfg.Engines) != 1 || cfg.Engines[0].Name != "custom" {
		t.Fatalf("expected the single configured engine to replace the defaults, got %+v", cfg.Engines)
	}
	if !cfg.Global.DailyLossLimitPct.Equal(decimal.NewFromFloat(6.5)) {
		t.Fatalf("expected overridden daily loss limit, got %s", cfg.Global.DailyLossLimitPct)
	}
}

func TestLoad_EnvVarOverridesDefault(t *testing.T) {
	t.Setenv("ATLAS_DATADIR", "/tmp/atlas-env")
	cfg, err := Load("")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.DataDir != "/tmp/atlas-env" {
		t.Fatalf("expected ATLAS_DATADIR to override default data dir, got %q", cfg.DataDir)
	}
}

func TestStringToDecimalHookFunc_ParsesMultipleInputKinds(t *testing.T) {
	got, err := stringToDecimalHookFunc(nil, decimalType, "1.5")
	if err != nil {
		t.Fatal(err)
	}
	if !got.(decimal.Decimal).Equal(decimal.NewFromFloat(1.5)) {
		t.Fatalf("expected decoded decimal 1.5, got %v", got)
	}

	got, err = stringToDecimalHookFunc(nil, decimalType, float64(2.25))
	if err != nil {
		t.Fatal(err)
	}
	if !got.(decimal.Decimal).Equal(decimal.NewFromFloat(2.25)) {
		t.Fatalf("expected decoded decimal 2.25, got %v", got)
	}
}
