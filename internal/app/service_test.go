package app

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"pathfinder/internal/clock"
	"pathfinder/internal/config"
	"pathfinder/internal/diagnose"
	"pathfinder/internal/report"
	"pathfinder/test/testutil"

	"github.com/google/go-cmp/cmp"
)

func newTestService(t *testing.T, records *bytes.Buffer) *Service {
	t.Helper()

	cfg, err := config.LoadDefault()
	if err != nil {
		t.Fatalf("load default config: %v", err)
	}
	cfg.Log.Console.Enabled = false
	cfg.Log.File.Enabled = false
	cfg.Service.Language = "en"

	clk := clock.FixedClock{At: time.Date(2025, 7, 17, 9, 35, 38, 0, time.UTC)}
	service, err := NewServiceFromConfig(cfg, clk, Options{Records: records})
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	t.Cleanup(func() { _ = service.Close() })
	return service
}

func writeLog(t *testing.T, lines ...string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "station.log")
	if err := os.WriteFile(path, []byte(strings.Join(lines, "\r\n")+"\r\n"), 0o644); err != nil {
		t.Fatalf("write log: %v", err)
	}
	return path
}

func decodeRecords(t *testing.T, buf *bytes.Buffer) []report.Record {
	t.Helper()

	var out []report.Record
	scanner := bufio.NewScanner(buf)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		var record report.Record
		if err := json.Unmarshal(scanner.Bytes(), &record); err != nil {
			t.Fatalf("decode record: %v", err)
		}
		out = append(out, record)
	}
	return out
}

func TestRunLocatesOrHonorsTargetLine(t *testing.T) {
	t.Parallel()

	path := writeLog(t,
		testutil.FailureLine(testutil.Failure{TestName: "MTK_GPS_RX_CNR", Low: "38", High: "60", Value: "20"}),
		testutil.FailureLine(testutil.Failure{TestName: "MTK_BT_BLE_TX_POWER_MCH19", Low: "0", High: "10", Value: "12"}),
	)

	var located bytes.Buffer
	if _, err := newTestService(t, &located).Run(t.Context(), Job{
		Identifiers: []string{"MTK_BT_BLE_TX_POWER_MCH19"},
		LogPath:     path,
		Target:      diagnose.LocateTarget,
	}); err != nil {
		t.Fatalf("run: %v", err)
	}
	records := decodeRecords(t, &located)
	if len(records) != 1 || records[0].Result.Failure == nil || records[0].Result.Failure.Index != 1 {
		t.Fatalf("expected located failure at line 1, got %+v", records)
	}

	var explicit bytes.Buffer
	if _, err := newTestService(t, &explicit).Run(t.Context(), Job{
		Identifiers: []string{"MTK_BT_BLE_TX_POWER_MCH19"},
		LogPath:     path,
		Target:      0,
	}); err != nil {
		t.Fatalf("run: %v", err)
	}
	records = decodeRecords(t, &explicit)
	if len(records) != 1 || records[0].Result.Failure == nil || records[0].Result.Failure.Index != 0 {
		t.Fatalf("expected explicit line 0 to be used, got %+v", records)
	}
}

func TestRunDiagnosesEveryFailureInLog(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	service := newTestService(t, &buf)
	path := writeLog(t,
		testutil.HeaderLine("BASIC_USB_CHARGER_POWER"),
		"10:00:01.000\tPOWER\tload step applied",
		"10:00:02.000\tPOWER\tError: adapter negotiated 9V only",
		testutil.FailureLine(testutil.Failure{TestName: "BASIC_USB_CHARGER_POWER", Low: "10", High: "50", Value: "65"}),
		testutil.FooterLine("BASIC_USB_CHARGER_POWER"),
		testutil.FailureLine(testutil.Failure{TestName: "MTK_BT_BLE_TX_POWER_MCH19", Low: "0", High: "10", Value: "12"}),
	)

	records, err := service.Run(t.Context(), Job{LogPath: path})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	type summary struct {
		Identifier      string
		Target          int
		Template        string
		ContextTemplate string
	}
	got := make([]summary, 0, len(records))
	for _, record := range records {
		got = append(got, summary{
			Identifier:      record.Result.Identifier.Raw,
			Target:          record.Result.Target,
			Template:        record.Result.Template,
			ContextTemplate: record.Result.ContextTemplate,
		})
	}
	want := []summary{
		{Identifier: "BASIC_USB_CHARGER_POWER", Target: 3, Template: "basic_band_power_high", ContextTemplate: "measure_deviation"},
		{Identifier: "MTK_BT_BLE_TX_POWER_MCH19", Target: 5, Template: "bt_tx"},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("records mismatch (-want +got):\n%s", diff)
	}

	written := decodeRecords(t, &buf)
	if len(written) != 2 {
		t.Fatalf("expected 2 written records, got %d", len(written))
	}
	if written[0].RunID == "" || written[0].RunID != written[1].RunID {
		t.Fatalf("records of one run must share run id: %q %q", written[0].RunID, written[1].RunID)
	}
	if written[0].ID != records[0].ID {
		t.Fatalf("written id %q differs from returned id %q", written[0].ID, records[0].ID)
	}
	if !written[0].GeneratedAt.Equal(time.Date(2025, 7, 17, 9, 35, 38, 0, time.UTC)) {
		t.Fatalf("unexpected generated_at %v", written[0].GeneratedAt)
	}
	if written[0].Result.Language != "en" || !strings.Contains(written[0].Result.Diagnosis.Indicator, "upper limit") {
		t.Fatalf("unexpected diagnosis %+v", written[0].Result.Diagnosis)
	}
}

func TestRunWithIdentifiersOnly(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	service := newTestService(t, &buf)
	records, err := service.Run(t.Context(), Job{
		Identifiers: []string{"MTK_GPS_RX_CNR, XYZ_UNKNOWN_CODE", "MTK_WLAN_5G_C1_RX_RSSI_LCH36"},
		Language:    "zh",
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	got := make([]string, 0, len(records))
	for _, record := range records {
		got = append(got, record.Result.Template)
		if record.Result.Language != "zh" {
			t.Fatalf("expected zh override, got %q", record.Result.Language)
		}
	}
	if diff := cmp.Diff([]string{"gps_rx", "generic", "wlan_rx"}, got); diff != "" {
		t.Fatalf("templates mismatch (-want +got):\n%s", diff)
	}
	if !records[1].Result.Fallback {
		t.Fatalf("unknown identifier must be a fallback result")
	}
}

func TestRunRejectsEmptyJobAndBadLanguage(t *testing.T) {
	t.Parallel()

	service := newTestService(t, &bytes.Buffer{})
	path := writeLog(t, "10:00:00.000\tINFO\tall passed")
	if _, err := service.Run(t.Context(), Job{LogPath: path}); !errors.Is(err, ErrNothingToDiagnose) {
		t.Fatalf("expected ErrNothingToDiagnose, got %v", err)
	}
	if _, err := service.Run(t.Context(), Job{Identifiers: []string{"MTK_GPS_RX_CNR"}, Language: "fr"}); err == nil {
		t.Fatalf("expected language error")
	}
	if _, err := service.Run(t.Context(), Job{LogPath: filepath.Join(t.TempDir(), "missing.log")}); err == nil {
		t.Fatalf("expected missing log error")
	}
}

func TestLintReportsNonShadowingOverlap(t *testing.T) {
	t.Parallel()

	service := newTestService(t, &bytes.Buffer{})
	overlaps := service.Lint()
	found := false
	for _, overlap := range overlaps {
		if overlap.Shadowed {
			t.Fatalf("default rule pack must not shadow examples: %+v", overlap)
		}
		if overlap.Family == "audio" && overlap.Rule == "mic_level" && overlap.Other == "generic" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected mic_level example to also match audio generic, got %+v", overlaps)
	}
}

func TestNewServiceRejectsUnreachableReport(t *testing.T) {
	t.Parallel()

	cfg, err := config.LoadDefault()
	if err != nil {
		t.Fatalf("load default config: %v", err)
	}
	cfg.Log.Console.Enabled = false
	port, err := testutil.FreePort()
	if err != nil {
		t.Fatalf("free port: %v", err)
	}
	cfg.Report.NATS.Enabled = true
	cfg.Report.NATS.URL = "nats://127.0.0.1:" + strconv.Itoa(port)

	if _, err := NewServiceFromConfig(cfg, nil, Options{}); err == nil || !strings.Contains(err.Error(), "report.nats") {
		t.Fatalf("expected report.nats setup error, got %v", err)
	}
}
