// Package intent models the full target configuration for one device
// interface and the rules for deriving it from webhook events. A DesiredState
// is always complete: it describes what the interface should look like after
// the event, never a diff.
package intent

import (
	"errors"
	"fmt"
	"net/netip"
	"sort"

	"ifsyncd/internal/event"
)

var (
	// ErrStaleReference marks a delete for an address the interface does not
	// carry. Duplicate delete notifications are expected from NetBox, so
	// callers treat this as a skip, not a failure.
	ErrStaleReference = errors.New("address not present on interface")

	// ErrConflictingState marks a merge that would leave the interface with
	// two primary addresses in the same family.
	ErrConflictingState = errors.New("conflicting primary address assignment")
)

// DefaultMTU is applied when neither NetBox nor the event specifies one.
const DefaultMTU = 1500

// Address is one IP assignment on an interface.
type Address struct {
	Prefix netip.Prefix
	Role   string // NetBox role; empty means primary for the family
}

// Primary reports whether this address is the primary for its family.
func (a Address) Primary() bool {
	return a.Role == "" || a.Role == "primary"
}

// ParseAddress converts a CIDR string and NetBox role into an Address.
func ParseAddress(cidr, role string) (Address, error) {
	p, err := netip.ParsePrefix(cidr)
	if err != nil {
		return Address{}, fmt.Errorf("parse address %q: %w", cidr, err)
	}
	return Address{Prefix: p, Role: role}, nil
}

// DesiredState is the complete target configuration for one interface.
type DesiredState struct {
	Enabled     bool
	Description string
	MTU         int
	Addresses   []Address
}

// Merge overlays the fields present in an interface event onto a base state
// (usually the current NetBox view of the interface). Absent optional fields
// keep their base values; the MTU falls back to DefaultMTU when neither side
// sets one.
func Merge(base DesiredState, ev *event.Interface) DesiredState {
	next := base.clone()
	if ev.Enabled != nil {
		next.Enabled = *ev.Enabled
	}
	if ev.Description != nil {
		next.Description = *ev.Description
	}
	if ev.MTU != nil {
		next.MTU = *ev.MTU
	}
	if next.MTU == 0 {
		next.MTU = DefaultMTU
	}
	next.normalize()
	return next
}

// WithAddress returns the state with addr added. Adding a prefix that is
// already present updates its role in place. A second primary address in the
// same family fails with ErrConflictingState.
func WithAddress(base DesiredState, addr Address) (DesiredState, error) {
	next := base.clone()
	replaced := false
	for i := range next.Addresses {
		if next.Addresses[i].Prefix == addr.Prefix {
			next.Addresses[i] = addr
			replaced = true
			break
		}
	}
	if !replaced {
		next.Addresses = append(next.Addresses, addr)
	}
	if err := next.checkPrimaries(); err != nil {
		return DesiredState{}, err
	}
	next.normalize()
	return next, nil
}

// WithoutAddress returns the state with the given prefix removed, failing
// with ErrStaleReference when the prefix is not present.
func WithoutAddress(base DesiredState, prefix netip.Prefix) (DesiredState, error) {
	next := base.clone()
	kept := next.Addresses[:0]
	found := false
	for _, a := range next.Addresses {
		if a.Prefix == prefix {
			found = true
			continue
		}
		kept = append(kept, a)
	}
	if !found {
		return DesiredState{}, fmt.Errorf("%w: %s", ErrStaleReference, prefix)
	}
	next.Addresses = kept
	next.normalize()
	return next, nil
}

// Equal reports whether two fully-resolved states describe the same device
// configuration. Both sides are expected to be normalized.
func (s DesiredState) Equal(o DesiredState) bool {
	if s.Enabled != o.Enabled || s.Description != o.Description || s.MTU != o.MTU {
		return false
	}
	if len(s.Addresses) != len(o.Addresses) {
		return false
	}
	for i := range s.Addresses {
		if s.Addresses[i] != o.Addresses[i] {
			return false
		}
	}
	return true
}

// Primary4 returns the primary IPv4 address, if any.
func (s DesiredState) Primary4() (Address, bool) {
	for _, a := range s.Addresses {
		if a.Prefix.Addr().Is4() && a.Primary() {
			return a, true
		}
	}
	return Address{}, false
}

// Secondaries4 returns the non-primary IPv4 addresses.
func (s DesiredState) Secondaries4() []Address {
	var out []Address
	for _, a := range s.Addresses {
		if a.Prefix.Addr().Is4() && !a.Primary() {
			out = append(out, a)
		}
	}
	return out
}

// V6 returns all IPv6 addresses.
func (s DesiredState) V6() []Address {
	var out []Address
	for _, a := range s.Addresses {
		if a.Prefix.Addr().Is6() && !a.Prefix.Addr().Is4() {
			out = append(out, a)
		}
	}
	return out
}

func (s DesiredState) clone() DesiredState {
	out := s
	out.Addresses = append([]Address(nil), s.Addresses...)
	return out
}

func (s *DesiredState) normalize() {
	sort.Slice(s.Addresses, func(i, j int) bool {
		if s.Addresses[i].Prefix != s.Addresses[j].Prefix {
			return s.Addresses[i].Prefix.String() < s.Addresses[j].Prefix.String()
		}
		return s.Addresses[i].Role < s.Addresses[j].Role
	})
}

// checkPrimaries rejects two IPv4 primaries; the IOS-XE model has a single
// primary slot. IPv6 addresses all live in the prefix-list, so any number of
// them coexist regardless of role.
func (s DesiredState) checkPrimaries() error {
	primaries := 0
	for _, a := range s.Addresses {
		if a.Primary() && a.Prefix.Addr().Is4() {
			primaries++
		}
	}
	if primaries > 1 {
		return fmt.Errorf("%w: %d primary IPv4 addresses", ErrConflictingState, primaries)
	}
	return nil
}
