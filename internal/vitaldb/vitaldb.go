// Package vitaldb holds static display metadata for well-known SDC metric handles.
package vitaldb

import "strings"

// Entry describes a well-known metric handle
type Entry struct {
	Handle string
	Name   string
	// Unit is a display fallback used when the descriptor carries no unit code
	Unit string
}

var entries = map[string]Entry{
	"metric.hr":       {Handle: "metric.hr", Name: "Heart Rate", Unit: "bpm"},
	"metric.spo2":     {Handle: "metric.spo2", Name: "SpO₂", Unit: "%"},
	"metric.temp":     {Handle: "metric.temp", Name: "Temperature", Unit: "°C"},
	"metric.ibp.mean": {Handle: "metric.ibp.mean", Name: "IBP Mean", Unit: "mmHg"},
	"metric.cvp":      {Handle: "metric.cvp", Name: "CVP", Unit: "mmHg"},
	"metric.pap.mean": {Handle: "metric.pap.mean", Name: "PAP Mean", Unit: "mmHg"},
	"metric.rr":       {Handle: "metric.rr", Name: "Respiration Rate", Unit: "/min"},
	"metric.nibp.sys": {Handle: "metric.nibp.sys", Name: "NIBP Systolic", Unit: "mmHg"},
	"metric.nibp.dia": {Handle: "metric.nibp.dia", Name: "NIBP Diastolic", Unit: "mmHg"},
}

// Lookup returns the entry for handle. Handles are matched case-insensitively.
func Lookup(handle string) (Entry, bool) {
	e, ok := entries[strings.ToLower(strings.TrimSpace(handle))]
	return e, ok
}

// LookupName returns the display name for handle, or "" when unknown
func LookupName(handle string) string {
	e, _ := Lookup(handle)
	return e.Name
}

// Names resolves display names with per-deployment overrides taking precedence
// over the built-in table
type Names map[string]string

// Name returns the override, the built-in name, or "" when unknown
func (n Names) Name(handle string) string {
	if name, ok := n[handle]; ok && name != "" {
		return name
	}
	return LookupName(handle)
}
