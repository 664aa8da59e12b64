package device

import (
	"errors"
	"net/url"
	"strings"
	"time"
)

// LocationScopeMarker identifies the scope carrying the SDC location context
const LocationScopeMarker = "sdc.ctxt.loc"

// ErrEmptyIdentity is returned for advertisements without an endpoint reference
var ErrEmptyIdentity = errors.New("advertisement has no endpoint reference")

// NewRecord normalizes an advertisement into a DeviceRecord in the Discovered state
func NewRecord(svc ServiceRecord, discoveredAt time.Time) (DeviceRecord, error) {
	if svc == nil {
		return DeviceRecord{}, ErrEmptyIdentity
	}
	id := svc.Identity()
	if strings.TrimSpace(id) == "" {
		return DeviceRecord{}, ErrEmptyIdentity
	}

	scopes := append([]string(nil), svc.Scopes()...)
	addrs := append([]string(nil), svc.TransportAddresses()...)

	return DeviceRecord{
		ID:                 id,
		Name:               ExtractName(scopes, id),
		NetworkAddress:     ExtractNetworkAddress(addrs),
		Location:           ParseLocation(scopes),
		Status:             StatusDiscovered,
		DiscoveredAt:       discoveredAt,
		Scopes:             scopes,
		TransportAddresses: addrs,
	}, nil
}

// ExtractNetworkAddress returns the host of the first transport address.
// Scheme, port and path are stripped: the first ':' or '/' after the scheme
// terminates the host token. A bracketed IPv6 literal is returned without brackets.
func ExtractNetworkAddress(addrs []string) string {
	if len(addrs) == 0 {
		return ""
	}
	addr := strings.TrimSpace(addrs[0])
	if _, rest, ok := strings.Cut(addr, "://"); ok {
		addr = rest
	}
	if strings.HasPrefix(addr, "[") {
		if end := strings.IndexByte(addr, ']'); end > 0 {
			return addr[1:end]
		}
	}
	if i := strings.IndexAny(addr, ":/"); i >= 0 {
		addr = addr[:i]
	}
	return addr
}

// ParseLocation extracts the location from the first scope that carries the
// location marker and a query string. Only that scope is used.
func ParseLocation(scopes []string) LocationInfo {
	for _, scope := range scopes {
		if !strings.Contains(scope, LocationScopeMarker) {
			continue
		}
		_, query, ok := strings.Cut(scope, "?")
		if !ok {
			continue
		}
		return parseLocationQuery(query)
	}
	return LocationInfo{}
}

func parseLocationQuery(query string) LocationInfo {
	if i := strings.IndexAny(query, " \t\r\n,"); i >= 0 {
		query = query[:i]
	}

	var loc LocationInfo
	for _, pair := range strings.Split(query, "&") {
		key, value, ok := strings.Cut(pair, "=")
		if !ok {
			continue
		}
		decoded, err := url.QueryUnescape(value)
		if err != nil {
			continue
		}
		switch key {
		case "fac":
			loc.Facility = decoded
		case "poc":
			loc.PoC = decoded
		case "bed":
			loc.Bed = decoded
		case "rm":
			loc.Room = decoded
		case "bldng":
			loc.Building = decoded
		case "flr":
			loc.Floor = decoded
		}
	}
	return loc
}

// ExtractName picks an advertised name from the scopes, falling back to the
// leading characters of the last segment of the endpoint reference
func ExtractName(scopes []string, id string) string {
	for _, scope := range scopes {
		if !strings.Contains(strings.ToLower(scope), "name") {
			continue
		}
		segment := scope[strings.LastIndex(scope, "/")+1:]
		if decoded, err := url.PathUnescape(segment); err == nil {
			segment = decoded
		}
		if segment != "" {
			return segment
		}
	}

	tail := id[strings.LastIndex(id, ":")+1:]
	if len(tail) > 8 {
		tail = tail[:8]
	}
	return tail
}
