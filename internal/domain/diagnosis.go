package domain

import (
	"fmt"
	"strings"
)

// Language selects the narrative variant.
type Language string

const (
	// LanguageZH selects Chinese text.
	LanguageZH Language = "zh"
	// LanguageEN selects English text.
	LanguageEN Language = "en"
)

// Languages lists supported languages in render order.
var Languages = []Language{LanguageZH, LanguageEN}

// ParseLanguage normalizes a language selector.
// Params: raw selector such as "zh", "EN", "zh-CN".
// Returns: supported language or error.
func ParseLanguage(raw string) (Language, error) {
	value := strings.ToLower(strings.TrimSpace(raw))
	switch {
	case value == "zh" || strings.HasPrefix(value, "zh-") || value == "cn":
		return LanguageZH, nil
	case value == "en" || strings.HasPrefix(value, "en-"):
		return LanguageEN, nil
	default:
		return "", fmt.Errorf("unsupported language %q", raw)
	}
}

// Diagnosis is rendered explanation in one language.
// Params: meaning (what was tested), indicator (why it failed), suggestion (what to check).
// Returns: immutable text triple for report assembly.
type Diagnosis struct {
	Meaning    string `json:"meaning"`
	Indicator  string `json:"indicator"`
	Suggestion string `json:"suggestion"`
}

// IsZero reports whether every section is empty.
func (d Diagnosis) IsZero() bool {
	return d.Meaning == "" && d.Indicator == "" && d.Suggestion == ""
}

// Overlay replaces sections with non-empty sections of next.
// Params: diagnosis with more specific sections.
// Returns: merged diagnosis.
func (d Diagnosis) Overlay(next Diagnosis) Diagnosis {
	if next.Meaning != "" {
		d.Meaning = next.Meaning
	}
	if next.Indicator != "" {
		d.Indicator = next.Indicator
	}
	if next.Suggestion != "" {
		d.Suggestion = next.Suggestion
	}
	return d
}

// Bilingual holds both language renders of one decision.
type Bilingual struct {
	ZH Diagnosis `json:"zh"`
	EN Diagnosis `json:"en"`
}

// For selects one language variant.
// Params: language selector.
// Returns: diagnosis in that language (zh for unknown values).
func (b Bilingual) For(lang Language) Diagnosis {
	if lang == LanguageEN {
		return b.EN
	}
	return b.ZH
}

// Overlay merges per-language sections of next into b.
func (b Bilingual) Overlay(next Bilingual) Bilingual {
	return Bilingual{ZH: b.ZH.Overlay(next.ZH), EN: b.EN.Overlay(next.EN)}
}

// Failure is one failing measurement record located in a test log.
// Params: line index and decoded tab-separated columns.
// Returns: failure facts bound into classification.
type Failure struct {
	Index         int    `json:"index"`
	TestName      string `json:"test_name"`
	Description   string `json:"description,omitempty"`
	LimitLow      string `json:"limit_low,omitempty"`
	LimitHigh     string `json:"limit_high,omitempty"`
	Value         string `json:"value,omitempty"`
	Status        string `json:"status,omitempty"`
	ErrorMsg      string `json:"error_msg,omitempty"`
	MeasCode      string `json:"meas_code,omitempty"`
	Details       string `json:"details,omitempty"`
	ErrorCode     string `json:"error_code,omitempty"`
	ErrorCodeName string `json:"error_code_name,omitempty"`
}

// Fields exposes non-empty failure columns as named values.
// Params: none.
// Returns: map keyed by built-in placeholder names.
func (f Failure) Fields() map[string]string {
	all := map[string]string{
		"test_name":       f.TestName,
		"description":     f.Description,
		"limit_low":       f.LimitLow,
		"limit_high":      f.LimitHigh,
		"value":           f.Value,
		"status":          f.Status,
		"error_msg":       f.ErrorMsg,
		"meas_code":       f.MeasCode,
		"details":         f.Details,
		"error_code":      f.ErrorCode,
		"error_code_name": f.ErrorCodeName,
	}
	out := make(map[string]string, len(all))
	for key, value := range all {
		if value != "" {
			out[key] = value
		}
	}
	return out
}

// Result is the combined outcome for one identifier/failure pair.
// Params: identifier facts, selected rule/templates, context summary, and rendered text.
// Returns: value handed to report assembly.
type Result struct {
	Identifier      Identifier `json:"identifier"`
	Family          string     `json:"family,omitempty"`
	Rule            string     `json:"rule,omitempty"`
	Fields          FieldSet   `json:"fields,omitempty"`
	Fallback        bool       `json:"fallback"`
	Malformed       bool       `json:"malformed"`
	Error           string     `json:"error,omitempty"`
	Template        string     `json:"template,omitempty"`
	ContextTemplate string     `json:"context_template,omitempty"`
	Policy          string     `json:"policy,omitempty"`
	Target          int        `json:"target,omitempty"`
	WindowStart     int        `json:"window_start,omitempty"`
	Interest        []string   `json:"interest,omitempty"`
	Failure         *Failure   `json:"failure,omitempty"`
	Language        Language   `json:"language"`
	Diagnosis       Diagnosis  `json:"diagnosis"`
	Texts           Bilingual  `json:"texts"`
}
