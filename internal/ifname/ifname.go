// Package ifname canonicalizes the interface names NetBox hands us into the
// identifiers the IOS-XE native YANG model expects. NetBox operators type
// whatever the device CLI accepts ("Gi0/0/1", "GigabitEthernet0/0/1",
// "gi0/0/1.100"), while RESTCONF wants the exact list name and key.
package ifname

import (
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

// ErrUnknownFormat is returned when an interface name does not match any
// recognized IOS-XE naming pattern.
var ErrUnknownFormat = errors.New("unrecognized interface name format")

// Ref is the canonical identity of one device interface. It keys the
// last-applied cache and the per-interface locks, so two spellings of the
// same interface must always produce the same Ref.
type Ref struct {
	Device string
	Type   string // canonical long-form type, e.g. "GigabitEthernet"
	Unit   string // slot/port/subinterface suffix, e.g. "0/0/1.100"
}

// Name returns the canonical long-form interface name.
func (r Ref) Name() string {
	return r.Type + r.Unit
}

// PathSegment returns the IOS-XE native interface list reference for RESTCONF
// URLs, with the unit key escaped ("GigabitEthernet=0%2F0%2F1").
func (r Ref) PathSegment() string {
	return r.Type + "=" + url.PathEscape(r.Unit)
}

func (r Ref) String() string {
	return r.Device + "/" + r.Name()
}

// types maps each canonical long-form name to the abbreviations seen in
// NetBox data. Order matters only for the error message; lookup is exact and
// case-insensitive, so "Tw" (TwoGigabitEthernet) and "Twe" (TwentyFiveGigE)
// stay distinct.
var types = []struct {
	canonical string
	aliases   []string
}{
	{"GigabitEthernet", []string{"gi", "gig", "gige"}},
	{"TenGigabitEthernet", []string{"te", "ten", "tengig", "tengige"}},
	{"TwentyFiveGigE", []string{"twe"}},
	{"TwoGigabitEthernet", []string{"tw"}},
	{"FiveGigabitEthernet", []string{"fi"}},
	{"FortyGigabitEthernet", []string{"fo", "fortygig"}},
	{"HundredGigE", []string{"hu", "hundredgig"}},
	{"FastEthernet", []string{"fa", "fas"}},
	{"Ethernet", []string{"eth"}},
	{"Port-channel", []string{"po", "port-ch"}},
	{"Loopback", []string{"lo", "loop"}},
	{"Tunnel", []string{"tu", "tun"}},
	{"Vlan", []string{"vl"}},
	{"BDI", []string{"bdi"}},
}

var aliasIndex = buildAliasIndex()

func buildAliasIndex() map[string]string {
	idx := make(map[string]string)
	for _, t := range types {
		idx[strings.ToLower(t.canonical)] = t.canonical
		for _, a := range t.aliases {
			idx[a] = t.canonical
		}
	}
	return idx
}

// namePattern splits an interface name into its alphabetic type prefix and
// the numeric unit (slot/port path, channel number, optional subinterface).
var namePattern = regexp.MustCompile(`^([A-Za-z-]+?)\s*(\d[\d/]*(?:\.\d+)?)$`)

// Resolve converts a device name and a raw interface name into a canonical
// Ref. It is pure: device existence is not verified here, the device itself
// rejects unknown interfaces on apply.
func Resolve(device, raw string) (Ref, error) {
	if device == "" {
		return Ref{}, fmt.Errorf("%w: empty device name", ErrUnknownFormat)
	}
	m := namePattern.FindStringSubmatch(strings.TrimSpace(raw))
	if m == nil {
		return Ref{}, fmt.Errorf("%w: %q", ErrUnknownFormat, raw)
	}
	canonical, ok := aliasIndex[strings.ToLower(m[1])]
	if !ok {
		return Ref{}, fmt.Errorf("%w: unknown type prefix in %q", ErrUnknownFormat, raw)
	}
	return Ref{Device: device, Type: canonical, Unit: m[2]}, nil
}
