package vitaldb

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLookupName(t *testing.T) {
	tests := []struct {
		name     string
		handle   string
		expected string
	}{
		{name: "heart rate", handle: "metric.hr", expected: "Heart Rate"},
		{name: "spo2", handle: "metric.spo2", expected: "SpO₂"},
		{name: "case and whitespace insensitive", handle: " METRIC.TEMP ", expected: "Temperature"},
		{name: "reference provider handle", handle: "metric.ibp.mean", expected: "IBP Mean"},
		{name: "unknown handle", handle: "metric.unknown", expected: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, LookupName(tt.handle))
		})
	}
}

func TestNames_OverridesTakePrecedence(t *testing.T) {
	names := Names{"metric.hr": "HR", "metric.custom": "Custom", "metric.spo2": ""}

	assert.Equal(t, "HR", names.Name("metric.hr"), "override MUST win over built-in name")
	assert.Equal(t, "Custom", names.Name("metric.custom"), "override MUST resolve unknown handles")
	assert.Equal(t, "SpO₂", names.Name("metric.spo2"), "empty override MUST fall back to built-in name")
	assert.Equal(t, "", names.Name("metric.none"))

	var nilNames Names
	assert.Equal(t, "Heart Rate", nilNames.Name("metric.hr"), "nil Names MUST use built-in table")
}
