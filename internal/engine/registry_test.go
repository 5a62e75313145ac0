package engine

import (
	"errors"
	"testing"

	"pathfinder/internal/config"
	"pathfinder/internal/domain"

	"github.com/google/go-cmp/cmp"
)

func mustIdentifier(t *testing.T, raw string) domain.Identifier {
	t.Helper()

	id, err := domain.ParseIdentifier(raw)
	if err != nil {
		t.Fatalf("parse identifier %q: %v", raw, err)
	}
	return id
}

func demoConfig(rules ...config.RuleConfig) config.Config {
	return config.Config{
		Service:  config.ServiceConfig{DefaultFamily: "demo", Unknown: "unknown"},
		Defaults: map[string]string{"unit": "dBm"},
		Family: []config.FamilyConfig{
			{
				Name:     "demo",
				Order:    10,
				Defaults: map[string]string{"antenna": "main"},
				Rules:    rules,
			},
			{
				Name:  "other",
				Order: 20,
				Rules: []config.RuleConfig{{Name: "power", Family: "other", Pattern: `^OTHER_(?P<metric>[A-Z]+)$`}},
			},
		},
	}
}

func mustRegistry(t *testing.T, cfg config.Config) *Registry {
	t.Helper()

	registry, err := NewRegistry(cfg, nil)
	if err != nil {
		t.Fatalf("new registry: %v", err)
	}
	return registry
}

func TestExtractDefaultPackFields(t *testing.T) {
	t.Parallel()

	cfg, err := config.LoadDefault()
	if err != nil {
		t.Fatalf("load default: %v", err)
	}
	registry := mustRegistry(t, cfg)

	extraction, err := registry.Extract(mustIdentifier(t, "mtk wlan 5g c1 tx power hch149"), "wlan_tx")
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	want := domain.FieldSet{"band": "5G", "channel": "C1", "mch": "HCH149", "antenna": "main"}
	if diff := cmp.Diff(want, extraction.Fields); diff != "" {
		t.Fatalf("fields mismatch (-want +got):\n%s", diff)
	}
	if extraction.Captured["antenna"] {
		t.Fatalf("defaulted antenna must not be marked captured")
	}
	if extraction.Rule != "tx_power" || extraction.Family != "wlan_tx" {
		t.Fatalf("unexpected rule %s/%s", extraction.Family, extraction.Rule)
	}
}

func TestExtractLTEOptionalSlotsDefaultEmpty(t *testing.T) {
	t.Parallel()

	cfg, err := config.LoadDefault()
	if err != nil {
		t.Fatalf("load default: %v", err)
	}
	registry := mustRegistry(t, cfg)

	extraction, err := registry.ExtractAny(mustIdentifier(t, "T2_N78_DLF3500M_DRXRSSI"))
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if extraction.Family != "lte_rx" {
		t.Fatalf("expected lte_rx, got %q", extraction.Family)
	}
	for _, slot := range []string{"cid", "rut", "ckg", "bw"} {
		value, ok := extraction.Fields[slot]
		if !ok || value != "" {
			t.Fatalf("slot %s must be present with empty default, got %q (present=%v)", slot, value, ok)
		}
	}
	if extraction.Fields["rat"] != "N" || extraction.Fields["band_num"] != "78" || extraction.Fields["rx_path"] != "DRX" {
		t.Fatalf("unexpected fields %v", extraction.Fields)
	}
}

func TestExtractOrderDecidesOverlappingRules(t *testing.T) {
	t.Parallel()

	broad := config.RuleConfig{Name: "broad", Family: "demo", Order: 10, Pattern: `^DEMO_(?P<item>[A-Z_]+)$`}
	narrow := config.RuleConfig{Name: "narrow", Family: "demo", Order: 20, Pattern: `^DEMO_POWER$`, Defaults: map[string]string{"item": "POWER"}}

	id := mustIdentifier(t, "DEMO_POWER")
	first := mustRegistry(t, demoConfig(broad, narrow))
	got, err := first.Extract(id, "demo")
	if err != nil || got.Rule != "broad" {
		t.Fatalf("expected broad rule first, got %q err=%v", got.Rule, err)
	}

	second := mustRegistry(t, demoConfig(narrow, broad))
	got, err = second.Extract(id, "demo")
	if err != nil || got.Rule != "narrow" {
		t.Fatalf("expected narrow rule first, got %q err=%v", got.Rule, err)
	}
	if got.Fields["antenna"] != "" {
		t.Fatalf("family default must only fill declared slots, got %v", got.Fields)
	}
}

func TestExtractOrderIrrelevantForDisjointRules(t *testing.T) {
	t.Parallel()

	power := config.RuleConfig{Name: "power", Family: "demo", Pattern: `^DEMO_POWER_(?P<channel>C\d)$`}
	evm := config.RuleConfig{Name: "evm", Family: "demo", Pattern: `^DEMO_EVM_(?P<channel>C\d)$`}

	for _, rules := range [][]config.RuleConfig{{power, evm}, {evm, power}} {
		registry := mustRegistry(t, demoConfig(rules...))
		got, err := registry.Extract(mustIdentifier(t, "DEMO_EVM_C1"), "demo")
		if err != nil {
			t.Fatalf("extract: %v", err)
		}
		if got.Rule != "evm" || got.Fields["channel"] != "C1" {
			t.Fatalf("unexpected extraction %+v", got)
		}
	}
}

func TestExtractErrors(t *testing.T) {
	t.Parallel()

	registry := mustRegistry(t, demoConfig(config.RuleConfig{Name: "power", Family: "demo", Pattern: `^DEMO_POWER$`}))
	if _, err := registry.Extract(mustIdentifier(t, "DEMO_POWER"), "radio"); !errors.Is(err, ErrUnknownFamily) {
		t.Fatalf("expected ErrUnknownFamily, got %v", err)
	}
	if _, err := registry.Extract(mustIdentifier(t, "OTHER_EVM"), "demo"); !errors.Is(err, ErrNoMatch) {
		t.Fatalf("expected ErrNoMatch, got %v", err)
	}
	if _, err := registry.ExtractAny(mustIdentifier(t, "NOPE")); !errors.Is(err, ErrNoMatch) {
		t.Fatalf("expected ErrNoMatch, got %v", err)
	}
	got, err := registry.ExtractAny(mustIdentifier(t, "OTHER_EVM"))
	if err != nil || got.Family != "other" {
		t.Fatalf("expected second family match, got %+v err=%v", got, err)
	}
}

func TestFallbackUsesDefaultFamilySlots(t *testing.T) {
	t.Parallel()

	registry := mustRegistry(t, demoConfig(
		config.RuleConfig{Name: "power", Family: "demo", Pattern: `^DEMO_(?P<band>\d+G)_(?P<antenna>ANT\d)$`},
	))
	got := registry.Fallback(mustIdentifier(t, "XYZ"))
	if !got.Fallback || got.Family != "demo" || got.Rule != "" {
		t.Fatalf("unexpected fallback %+v", got)
	}
	want := domain.FieldSet{"band": "unknown", "antenna": "main"}
	if diff := cmp.Diff(want, got.Fields); diff != "" {
		t.Fatalf("fallback fields mismatch (-want +got):\n%s", diff)
	}
}

func TestSlotDefaultResolution(t *testing.T) {
	t.Parallel()

	cfg := demoConfig(config.RuleConfig{Name: "power", Family: "demo", Pattern: `^DEMO_(?P<antenna>ANT\d)_(?P<unit>[A-Z]+)$`})
	registry := mustRegistry(t, cfg)
	if got := registry.SlotDefault("unit"); got != "dBm" {
		t.Fatalf("global default must win, got %q", got)
	}
	if got := registry.SlotDefault("antenna"); got != "main" {
		t.Fatalf("family default expected, got %q", got)
	}
	if got := registry.SlotDefault("metric"); got != "unknown" {
		t.Fatalf("undeclared family slot resolves to unknown, got %q", got)
	}
	if got := registry.SlotDefault("nothing"); got != "" {
		t.Fatalf("names no rule declares resolve to empty, got %q", got)
	}
}

func TestOverlapDetection(t *testing.T) {
	t.Parallel()

	broad := config.RuleConfig{Name: "broad", Family: "demo", Order: 10, Pattern: `^DEMO_(?P<item>[A-Z_]+)$`, Examples: []string{"DEMO_EVM"}}
	narrow := config.RuleConfig{Name: "narrow", Family: "demo", Order: 20, Pattern: `^DEMO_POWER$`, Examples: []string{"DEMO_POWER"}}

	registry := mustRegistry(t, demoConfig(broad, narrow))
	want := []Overlap{{Family: "demo", Rule: "narrow", Other: "broad", Example: "DEMO_POWER", Shadowed: true}}
	if diff := cmp.Diff(want, registry.Overlaps()); diff != "" {
		t.Fatalf("overlaps mismatch (-want +got):\n%s", diff)
	}

	reordered := mustRegistry(t, demoConfig(narrow, broad))
	got := reordered.Overlaps()
	if len(got) != 1 || got[0].Shadowed {
		t.Fatalf("narrow-first order must not shadow, got %+v", got)
	}

	strict := demoConfig(broad, narrow)
	strict.Service.StrictOverlap = true
	if _, err := NewRegistry(strict, nil); !errors.Is(err, ErrOverlap) {
		t.Fatalf("expected ErrOverlap, got %v", err)
	}
}

func TestNewRegistryRejectsUnknownDefaultFamily(t *testing.T) {
	t.Parallel()

	cfg := demoConfig(config.RuleConfig{Name: "power", Family: "demo", Pattern: `^DEMO$`})
	cfg.Service.DefaultFamily = "radio"
	if _, err := NewRegistry(cfg, nil); !errors.Is(err, ErrUnknownFamily) {
		t.Fatalf("expected ErrUnknownFamily, got %v", err)
	}
}
