package device_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/srg/sdcmon/internal/device"
	"github.com/srg/sdcmon/internal/testutils"
)

func TestExtractNetworkAddress(t *testing.T) {
	tests := []struct {
		name  string
		addrs []string
		want  string
	}{
		{"http with port and path", []string{"http://192.168.1.20:6464/sdc/device"}, "192.168.1.20"},
		{"https without port", []string{"https://monitor.icu.local/path"}, "monitor.icu.local"},
		{"no scheme", []string{"10.0.0.5:8080"}, "10.0.0.5"},
		{"bracketed ipv6", []string{"http://[fe80::1]:6464/x"}, "fe80::1"},
		{"first address wins", []string{"http://10.0.0.1:1/a", "http://10.0.0.2:1/b"}, "10.0.0.1"},
		{"bare host", []string{"host"}, "host"},
		{"empty", nil, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, device.ExtractNetworkAddress(tt.addrs), "address MUST be the host token of the first transport address")
		})
	}
}

func TestParseLocation(t *testing.T) {
	t.Run("location context scope", func(t *testing.T) {
		// GOAL: Verify the location query of the SDC context scope is decoded
		//
		// TEST SCENARIO: Scope with fac/poc/bed followed by ",other" → fields parsed → trailing text ignored

		loc := device.ParseLocation([]string{
			"http://standards.ieee.org/downloads/11073/11073-20701-2018/MedicalDevice",
			"sdc.ctxt.loc:/sdc.ctxt.loc.detail/x?fac=HOSP&poc=ICU&bed=Bed01,other",
		})

		assert.Equal(t, device.LocationInfo{Facility: "HOSP", PoC: "ICU", Bed: "Bed01"}, loc, "location MUST be parsed from the query")
	})

	t.Run("all keys and percent decoding", func(t *testing.T) {
		loc := device.ParseLocation([]string{
			"sdc.ctxt.loc:/x?fac=St%20Mary&poc=ICU&bed=B%2F1&rm=12&bldng=North&flr=3",
		})

		assert.Equal(t, device.LocationInfo{
			Facility: "St Mary",
			PoC:      "ICU",
			Bed:      "B/1",
			Room:     "12",
			Building: "North",
			Floor:    "3",
		}, loc)
	})

	t.Run("query ends at whitespace", func(t *testing.T) {
		loc := device.ParseLocation([]string{"sdc.ctxt.loc:/x?fac=A&bed=B extra=1"})

		assert.Equal(t, device.LocationInfo{Facility: "A", Bed: "B"}, loc)
	})

	t.Run("first matching scope wins", func(t *testing.T) {
		loc := device.ParseLocation([]string{
			"sdc.ctxt.loc:/x?fac=FIRST",
			"sdc.ctxt.loc:/x?fac=SECOND&bed=2",
		})

		assert.Equal(t, device.LocationInfo{Facility: "FIRST"}, loc, "only the first matching scope MUST be used")
	})

	t.Run("marker without query is skipped", func(t *testing.T) {
		loc := device.ParseLocation([]string{"sdc.ctxt.loc:/x", "sdc.ctxt.loc:/y?poc=NICU"})

		assert.Equal(t, device.LocationInfo{PoC: "NICU"}, loc)
	})

	t.Run("malformed escape skips only that pair", func(t *testing.T) {
		loc := device.ParseLocation([]string{"sdc.ctxt.loc:/x?fac=%zz&poc=ER&junk&bed="})

		assert.Equal(t, device.LocationInfo{PoC: "ER"}, loc)
	})

	t.Run("no location scope", func(t *testing.T) {
		loc := device.ParseLocation([]string{"urn:other"})

		assert.True(t, loc.IsEmpty(), "missing location MUST yield an empty LocationInfo")
		assert.Equal(t, "Location not available", loc.String())
	})
}

func TestExtractName(t *testing.T) {
	assert.Equal(t, "Bedside Monitor",
		device.ExtractName([]string{"urn:x", "sdc.name:/names/Bedside%20Monitor"}, "urn:uuid:1234"),
		"name scope MUST provide the decoded last path segment")
	assert.Equal(t, "cc013678",
		device.ExtractName(nil, "urn:uuid:cc013678-79f6-403c-998f-3cc0cc050230"),
		"fallback MUST use the leading characters of the last id segment")
	assert.Equal(t, "short", device.ExtractName([]string{}, "urn:short"))
}

func TestNewRecord(t *testing.T) {
	t.Run("normalizes advertisement", func(t *testing.T) {
		// GOAL: Verify advertisements become Discovered records with derived fields
		//
		// TEST SCENARIO: Build advertisement with address and location scope → NewRecord → id kept verbatim, address and location derived

		now := time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC)
		svc := testutils.NewServiceRecord("urn:uuid:cc013678-79f6-403c-998f-3cc0cc050230").
			WithAddress("http://192.168.0.10:6464/sdc").
			WithLocation("HOSP", "ICU", "Bed01").
			Build()

		rec, err := device.NewRecord(svc, now)

		require.NoError(t, err)
		assert.Equal(t, "urn:uuid:cc013678-79f6-403c-998f-3cc0cc050230", rec.ID, "ID MUST be the endpoint reference verbatim")
		assert.Equal(t, "192.168.0.10", rec.NetworkAddress)
		assert.Equal(t, device.LocationInfo{Facility: "HOSP", PoC: "ICU", Bed: "Bed01"}, rec.Location)
		assert.Equal(t, device.StatusDiscovered, rec.Status, "new records MUST be Discovered")
		assert.Equal(t, now, rec.DiscoveredAt)
		assert.Equal(t, "cc013678", rec.Name)
	})

	t.Run("empty identity", func(t *testing.T) {
		_, err := device.NewRecord(testutils.NewServiceRecord("  ").Build(), time.Now())
		assert.ErrorIs(t, err, device.ErrEmptyIdentity, "blank identity MUST be rejected")

		_, err = device.NewRecord(nil, time.Now())
		assert.ErrorIs(t, err, device.ErrEmptyIdentity, "nil advertisement MUST be rejected")
	})
}
