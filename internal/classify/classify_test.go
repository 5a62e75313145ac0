package classify

import (
	"testing"

	"pathfinder/internal/config"
	"pathfinder/internal/domain"

	"github.com/google/go-cmp/cmp"
)

func defaultClassifier(t *testing.T) *Classifier {
	t.Helper()

	cfg, err := config.LoadDefault()
	if err != nil {
		t.Fatalf("load default: %v", err)
	}
	classifier, err := New(cfg)
	if err != nil {
		t.Fatalf("new classifier: %v", err)
	}
	return classifier
}

func captured(fields domain.FieldSet) map[string]bool {
	out := make(map[string]bool, len(fields))
	for key := range fields {
		out[key] = true
	}
	return out
}

func window(policy string, captures map[string]string, interest ...string) *domain.ContextWindow {
	w := &domain.ContextWindow{
		Policy:   policy,
		Target:   9,
		Boundary: domain.BoundaryStart,
		Lines:    []domain.LogLine{{Index: 5, Text: "start"}, {Index: 9, Text: "target"}},
		Captures: captures,
	}
	for i, text := range interest {
		w.Interest = append(w.Interest, domain.Interest{Index: 6 + i, Match: text, Line: text})
	}
	return w
}

func TestClassifyRuleScopedSelector(t *testing.T) {
	t.Parallel()

	classifier := defaultClassifier(t)
	fields := domain.FieldSet{"band": "2.4G", "channel": "C0", "mch": "MCH07", "antenna": "CW"}
	decision := classifier.Classify(Input{
		Identifier: domain.Identifier{Raw: "MTK_WLAN_2.4G_C0_TX_POWER_MCH07_ANT_CW", Normalized: "MTK_WLAN_2.4G_C0_TX_POWER_MCH07_ANT_CW"},
		Family:     "wlan_tx",
		Rule:       "tx_power",
		Fields:     fields,
		Captured:   captured(fields),
	})

	if decision.Template != "wlan_tx_power" || decision.Selector != "wlan_tx_generic" {
		t.Fatalf("unexpected decision: %+v", decision)
	}
	if decision.Fallback || decision.UsesContext || decision.Policy != "" {
		t.Fatalf("unexpected flags: %+v", decision)
	}
	for key, want := range map[string]string{"antenna_kind": "primary", "mch_kind": "middle", "mch_num": "07", "antenna": "CW"} {
		if got := decision.Fields[key]; got != want {
			t.Fatalf("field %s = %q, want %q", key, got, want)
		}
	}
}

func TestClassifyNumericSelectors(t *testing.T) {
	t.Parallel()

	classifier := defaultClassifier(t)
	tests := []struct {
		name  string
		value string
		want  string
	}{
		{name: "high", value: "65", want: "basic_band_power_high"},
		{name: "boundary", value: "60", want: "basic_band_power_high"},
		{name: "low", value: "20", want: "basic_band_power_low"},
		{name: "unit suffix", value: "12.5mW", want: "basic_band_power_low"},
		{name: "in between", value: "45", want: "basic_band_generic"},
		{name: "not numeric", value: "n/a", want: "basic_band_generic"},
		{name: "missing", want: "basic_band_generic"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			fields := domain.FieldSet{"item": "USB_CHARGER", "metric": "POWER"}
			if tt.value != "" {
				fields["value"] = tt.value
			}
			decision := classifier.Classify(Input{
				Identifier: domain.Identifier{Raw: "BASIC_USB_CHARGER_POWER", Normalized: "BASIC_USB_CHARGER_POWER"},
				Family:     "basic_band",
				Rule:       "supply",
				Fields:     fields,
				Captured:   captured(fields),
			})
			if decision.Template != tt.want {
				t.Fatalf("template = %q, want %q", decision.Template, tt.want)
			}
		})
	}
}

func TestClassifyPolicyScopedSelector(t *testing.T) {
	t.Parallel()

	classifier := defaultClassifier(t)
	fields := domain.FieldSet{"band_num": "3", "value": "25", "limit_low": "10", "limit_high": "20"}
	in := Input{
		Identifier: domain.Identifier{Raw: "T1_LTE_B3_ULF1747.5M_MAXPOWER", Normalized: "T1_LTE_B3_ULF1747.5M_MAXPOWER"},
		Family:     "lte_tx",
		Rule:       "tx_metric",
		Fields:     fields,
		Captured:   captured(fields),
	}

	identifierOnly := classifier.Classify(in)
	if identifierOnly.Template != "lte_tx" || identifierOnly.UsesContext {
		t.Fatalf("identifier-only decision: %+v", identifierOnly)
	}

	in.Window = window("tcmd", nil)
	otherPolicy := classifier.Classify(in)
	if otherPolicy.Template != "lte_tx" || otherPolicy.UsesContext || otherPolicy.Policy != "tcmd" {
		t.Fatalf("other policy decision: %+v", otherPolicy)
	}

	in.Window = window("measure", map[string]string{"measure_error": "power meter timeout"})
	withContext := classifier.Classify(in)
	if withContext.Template != "measure_deviation" || !withContext.UsesContext {
		t.Fatalf("context decision: %+v", withContext)
	}
	if withContext.Policy != "measure" {
		t.Fatalf("policy = %q", withContext.Policy)
	}
	for key, want := range map[string]string{"deviation": "high", "standard_value": "15", "measure_error": "power meter timeout"} {
		if got := withContext.Fields[key]; got != want {
			t.Fatalf("field %s = %q, want %q", key, got, want)
		}
	}
}

func TestClassifyDeviationInRangeSkipsMeasureSelector(t *testing.T) {
	t.Parallel()

	classifier := defaultClassifier(t)
	fields := domain.FieldSet{"band_num": "3", "value": "15", "limit_low": "10", "limit_high": "20"}
	decision := classifier.Classify(Input{
		Family:   "lte_tx",
		Rule:     "tx_metric",
		Fields:   fields,
		Captured: captured(fields),
		Window:   window("measure", nil),
	})
	if decision.Template != "lte_tx" {
		t.Fatalf("template = %q, want lte_tx", decision.Template)
	}
	if decision.Fields["deviation"] != "in_range" {
		t.Fatalf("deviation = %q", decision.Fields["deviation"])
	}
}

func TestClassifyMatchBindsGroupsAndLookup(t *testing.T) {
	t.Parallel()

	classifier := defaultClassifier(t)
	tests := []struct {
		name     string
		errorMsg string
		code     string
		text     string
	}{
		{
			name:     "known code",
			errorMsg: "ReceiveData error = Timeout  | PNP error code = 10054 | retry 0",
			code:     "10054",
			text:     "Connection reset by peer",
		},
		{
			name:     "unknown code",
			errorMsg: "ReceiveData error = Timeout | PNP error code = 424242",
			code:     "424242",
			text:     "unknown socket error",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			fields := domain.FieldSet{"error_msg": tt.errorMsg}
			decision := classifier.Classify(Input{
				Family:   "bt_tx",
				Rule:     "tx_metric",
				Fields:   fields,
				Captured: captured(fields),
				Window:   window("tcmd", nil),
			})
			if decision.Selector != "tcmd_socket_error" {
				t.Fatalf("selector = %q, want tcmd_socket_error", decision.Selector)
			}
			if decision.Fields["socket_code"] != tt.code {
				t.Fatalf("socket_code = %q, want %q", decision.Fields["socket_code"], tt.code)
			}
			if decision.Fields["receive_error"] != "Timeout" {
				t.Fatalf("receive_error = %q", decision.Fields["receive_error"])
			}
			if decision.Fields["socket_error_text"] != tt.text {
				t.Fatalf("socket_error_text = %q, want %q", decision.Fields["socket_error_text"], tt.text)
			}
		})
	}
}

func TestClassifyCapturePresence(t *testing.T) {
	t.Parallel()

	classifier := defaultClassifier(t)
	in := Input{
		Identifier: domain.Identifier{Raw: "RFCAL_QSC_XO_COARSE_DC_CAL", Normalized: "RFCAL_QSC_XO_COARSE_DC_CAL"},
		Family:     "qsc",
		Rule:       "xo_coarse",
		Fields:     domain.FieldSet{"freq_khz": "", "sig_path": "", "ant_num": "", "gain_state": ""},
		Captured:   map[string]bool{},
	}

	in.Window = window("qc_coarse", map[string]string{"test_node": "XO_COARSE_NODE"})
	decision := classifier.Classify(in)
	if decision.Selector != "qsc_xo_context" || !decision.UsesContext {
		t.Fatalf("with capture: %+v", decision)
	}
	if decision.Fields["test_node"] != "XO_COARSE_NODE" {
		t.Fatalf("test_node = %q", decision.Fields["test_node"])
	}

	in.Window = window("qc_coarse", map[string]string{})
	decision = classifier.Classify(in)
	if decision.Selector != "qsc_xo" || decision.UsesContext {
		t.Fatalf("without capture: %+v", decision)
	}
}

func TestClassifyInterestOrder(t *testing.T) {
	t.Parallel()

	classifier := defaultClassifier(t)
	in := Input{Family: "wlan_rx", Rule: "rx_metric", Fields: domain.FieldSet{}, Captured: map[string]bool{}}

	in.Window = window("comm_interrupt", nil, "RemoveListStatus <True>", "Adding Interface")
	if got := classifier.Classify(in).Template; got != "comm_interrupt_rearrived" {
		t.Fatalf("template = %q, want comm_interrupt_rearrived", got)
	}

	in.Window = window("comm_interrupt", nil, "RemoveListStatus <True>")
	if got := classifier.Classify(in).Template; got != "comm_interrupt_removed" {
		t.Fatalf("template = %q, want comm_interrupt_removed", got)
	}
}

func TestClassifyRequiredFieldMissing(t *testing.T) {
	t.Parallel()

	classifier := defaultClassifier(t)
	// mode is declared by the rule but was not captured
	fields := domain.FieldSet{"mode": "", "metric": "POWER", "mch": "MCH19"}
	decision := classifier.Classify(Input{
		Family:   "bt_tx",
		Rule:     "tx_metric",
		Fields:   fields,
		Captured: map[string]bool{"metric": true, "mch": true},
	})
	if !decision.Fallback || decision.Template != "generic" {
		t.Fatalf("decision = %+v, want generic fallback", decision)
	}
}

func TestClassifyFallbackKeepsFields(t *testing.T) {
	t.Parallel()

	classifier := defaultClassifier(t)
	fields := domain.FieldSet{"value": "7"}
	decision := classifier.Classify(Input{Family: "unregistered", Fields: fields, Captured: captured(fields)})
	if !decision.Fallback || decision.Template != "generic" || decision.Selector != "" {
		t.Fatalf("decision = %+v", decision)
	}
	if decision.Fields["value"] != "7" {
		t.Fatalf("value = %q", decision.Fields["value"])
	}
}

func TestClassifyDerivedFields(t *testing.T) {
	t.Parallel()

	classifier := defaultClassifier(t)
	tests := []struct {
		name   string
		fields domain.FieldSet
		want   map[string]string
	}{
		{
			name:   "above limit",
			fields: domain.FieldSet{"value": "60", "limit_low": "10", "limit_high": "50"},
			want:   map[string]string{"standard_value": "30", "deviation": "high"},
		},
		{
			name:   "below limit",
			fields: domain.FieldSet{"value": "-5", "limit_low": "10", "limit_high": "50"},
			want:   map[string]string{"deviation": "low"},
		},
		{
			name:   "inside limits",
			fields: domain.FieldSet{"value": "30", "limit_low": "10", "limit_high": "50"},
			want:   map[string]string{"deviation": "in_range"},
		},
		{
			name:   "non numeric value",
			fields: domain.FieldSet{"value": "FAIL", "limit_low": "10", "limit_high": "50"},
			want:   map[string]string{"deviation": "unknown", "standard_value": "30"},
		},
		{
			name:   "diversity chain",
			fields: domain.FieldSet{"channel": "C1"},
			want:   map[string]string{"antenna_kind": "diversity"},
		},
		{
			name:   "numbered chain",
			fields: domain.FieldSet{"chain": "C2"},
			want:   map[string]string{"antenna_kind": "chain2"},
		},
		{
			name:   "no chain",
			fields: domain.FieldSet{},
			want:   map[string]string{"antenna_kind": "unknown", "mch_kind": "unknown"},
		},
		{
			name:   "low channel",
			fields: domain.FieldSet{"mch": "LCH_36"},
			want:   map[string]string{"mch_kind": "low", "mch_num": "36"},
		},
		{
			name:   "high channel",
			fields: domain.FieldSet{"mch": "HCH149"},
			want:   map[string]string{"mch_kind": "high", "mch_num": "149"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			decision := classifier.Classify(Input{Family: "unregistered", Fields: tt.fields, Captured: captured(tt.fields)})
			for key, want := range tt.want {
				if got := decision.Fields[key]; got != want {
					t.Fatalf("field %s = %q, want %q", key, got, want)
				}
			}
		})
	}
}

func TestClassifyDoesNotMutateInput(t *testing.T) {
	t.Parallel()

	classifier := defaultClassifier(t)
	fields := domain.FieldSet{"error_msg": "ReceiveData error = Timeout | PNP error code = 10054", "value": "1", "limit_low": "2", "limit_high": "3"}
	before := fields.Clone()
	captures := map[string]string{"measure_error": "x"}

	_ = classifier.Classify(Input{
		Family:   "bt_tx",
		Fields:   fields,
		Captured: captured(fields),
		Window:   window("tcmd", captures),
	})

	if diff := cmp.Diff(before, fields); diff != "" {
		t.Fatalf("input fields changed (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(map[string]string{"measure_error": "x"}, captures); diff != "" {
		t.Fatalf("window captures changed (-want +got):\n%s", diff)
	}
}

func TestNewRejectsUnknownTemplate(t *testing.T) {
	t.Parallel()

	cfg := config.Config{
		Service:  config.ServiceConfig{DefaultTemplate: "generic", Unknown: "unknown"},
		Selector: []config.SelectorConfig{{Name: "broken", Template: "missing"}},
	}
	if _, err := New(cfg); err == nil {
		t.Fatal("expected unknown template error")
	}
}

func TestClassifyQualcommCoarseNodes(t *testing.T) {
	t.Parallel()

	classifier := defaultClassifier(t)
	tests := []struct {
		name     string
		family   string
		rule     string
		captures map[string]string
		selector string
		node     string
		api      string
	}{
		{
			name:     "tx calibration node",
			family:   "qsc",
			rule:     "fbrx",
			captures: map[string]string{"test_node": "Sub6 n78 Connect TxCal"},
			selector: "qc_node_tx_cal",
			node:     "is a Tx power calibration, the testset is not required",
		},
		{
			name:     "nv write node with api",
			family:   "lte_tx",
			rule:     "tx_metric",
			captures: map[string]string{"test_node": "Write Unified NV To Phone", "qlib_api": "RFCAL_PROTOBUFFER"},
			selector: "qc_node_nv",
			node:     "check and back up the calibration NV",
			api:      "proto buffer data transfer returned nothing",
		},
		{
			name:     "errors without node",
			family:   "qc_radio",
			rule:     "lte_tx",
			captures: map[string]string{"qia_error": "QLIB_FTM_CFG_AND_EXEC_QSC_SWEEP API failed", "qlib_api": "CFG_AND_EXEC_QSC_SWEEP"},
			selector: "qc_node_errors",
			api:      "segment configuration and power sweep execution failed",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			decision := classifier.Classify(Input{
				Family:   tt.family,
				Rule:     tt.rule,
				Fields:   domain.FieldSet{},
				Captured: map[string]bool{},
				Window:   window("qc_coarse", tt.captures),
			})
			if decision.Selector != tt.selector || decision.Template != "qc_coarse_node" || !decision.UsesContext {
				t.Fatalf("decision: %+v", decision)
			}
			if decision.Fields["node_en"] != tt.node {
				t.Fatalf("node_en = %q, want %q", decision.Fields["node_en"], tt.node)
			}
			if decision.Fields["api_en"] != tt.api {
				t.Fatalf("api_en = %q, want %q", decision.Fields["api_en"], tt.api)
			}
		})
	}
}

func TestClassifyMeasureReasonBeforeDeviation(t *testing.T) {
	t.Parallel()

	classifier := defaultClassifier(t)
	fields := domain.FieldSet{"band_num": "3", "value": "25", "limit_low": "10", "limit_high": "20"}
	in := Input{Family: "lte_tx", Rule: "tx_metric", Fields: fields, Captured: captured(fields)}

	in.Window = window("measure", map[string]string{"measure_proc": "MAXPOWER", "reason": "unstable because they are monotonic (ramping)"})
	if got := classifier.Classify(in).Template; got != "measure_ramping" {
		t.Fatalf("template = %q, want measure_ramping", got)
	}

	in.Window = window("measure", map[string]string{"measure_proc": "MAXPOWER", "reason": "out of spec"})
	if got := classifier.Classify(in).Template; got != "measure_out_of_spec" {
		t.Fatalf("template = %q, want measure_out_of_spec", got)
	}

	in.Window = window("measure", map[string]string{"reason": "unstable"})
	if got := classifier.Classify(in).Template; got != "measure_deviation" {
		t.Fatalf("verdict without a process name must fall through, got %q", got)
	}
}
