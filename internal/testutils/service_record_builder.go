package testutils

import (
	"encoding/json"
	"fmt"
	"net/url"

	"github.com/srg/sdcmon/internal/device"
)

// Advertisement is a static device.ServiceRecord
type Advertisement struct {
	ID        string   `json:"identity"`
	Addresses []string `json:"addresses"`
	ScopeList []string `json:"scopes"`
}

func (a *Advertisement) Identity() string             { return a.ID }
func (a *Advertisement) TransportAddresses() []string { return a.Addresses }
func (a *Advertisement) Scopes() []string             { return a.ScopeList }

// ServiceRecordBuilder builds advertisements for tests with a fluent API
type ServiceRecordBuilder struct {
	adv Advertisement
}

// NewServiceRecord starts a builder for the given endpoint reference
func NewServiceRecord(identity string) *ServiceRecordBuilder {
	return &ServiceRecordBuilder{adv: Advertisement{ID: identity}}
}

// WithAddress appends a transport address
func (b *ServiceRecordBuilder) WithAddress(addrs ...string) *ServiceRecordBuilder {
	b.adv.Addresses = append(b.adv.Addresses, addrs...)
	return b
}

// WithScopes appends raw scopes
func (b *ServiceRecordBuilder) WithScopes(scopes ...string) *ServiceRecordBuilder {
	b.adv.ScopeList = append(b.adv.ScopeList, scopes...)
	return b
}

// WithLocation appends a location context scope with facility, point of care and bed
func (b *ServiceRecordBuilder) WithLocation(facility, poc, bed string) *ServiceRecordBuilder {
	q := fmt.Sprintf("fac=%s&poc=%s&bed=%s", url.QueryEscape(facility), url.QueryEscape(poc), url.QueryEscape(bed))
	return b.WithScopes(device.LocationScopeMarker + ":/" + device.LocationScopeMarker + ".detail/loc?" + q)
}

// WithName appends a name scope
func (b *ServiceRecordBuilder) WithName(name string) *ServiceRecordBuilder {
	return b.WithScopes("sdc.mds.name:/" + url.PathEscape(name))
}

// FromJSON fills builder fields from a JSON string with format support.
// Panics on invalid JSON as this is intended for test data setup.
func (b *ServiceRecordBuilder) FromJSON(jsonStrFmt string, args ...interface{}) *ServiceRecordBuilder {
	var data Advertisement
	if err := json.Unmarshal([]byte(fmt.Sprintf(jsonStrFmt, args...)), &data); err != nil {
		panic(fmt.Sprintf("FromJSON: %v", err))
	}
	if data.ID != "" {
		b.adv.ID = data.ID
	}
	b.adv.Addresses = append(b.adv.Addresses, data.Addresses...)
	b.adv.ScopeList = append(b.adv.ScopeList, data.ScopeList...)
	return b
}

// Build returns a copy of the configured advertisement
func (b *ServiceRecordBuilder) Build() *Advertisement {
	adv := b.adv
	adv.Addresses = append([]string(nil), b.adv.Addresses...)
	adv.ScopeList = append([]string(nil), b.adv.ScopeList...)
	return &adv
}
