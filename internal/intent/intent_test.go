package intent

import (
	"errors"
	"net/netip"
	"testing"

	"ifsyncd/internal/event"
)

func boolPtr(b bool) *bool       { return &b }
func strPtr(s string) *string    { return &s }
func intPtr(i int) *int          { return &i }
func prefix(s string) netip.Prefix {
	p, err := netip.ParsePrefix(s)
	if err != nil {
		panic(err)
	}
	return p
}

func TestMergeRetainsUnsetFields(t *testing.T) {
	base := DesiredState{
		Enabled:     true,
		Description: "uplink",
		MTU:         9000,
		Addresses:   []Address{{Prefix: prefix("10.0.0.1/24")}},
	}
	ev := &event.Interface{Kind: event.KindUpdated, Enabled: boolPtr(false)}

	got := Merge(base, ev)
	if got.Enabled {
		t.Fatal("enabled not overridden")
	}
	if got.Description != "uplink" || got.MTU != 9000 {
		t.Fatalf("unset fields were cleared: %+v", got)
	}
	if len(got.Addresses) != 1 {
		t.Fatalf("address set was cleared: %+v", got.Addresses)
	}
}

func TestMergeOverridesPresentFields(t *testing.T) {
	base := DesiredState{Enabled: true, Description: "old", MTU: 1500}
	ev := &event.Interface{
		Kind:        event.KindUpdated,
		Description: strPtr("new"),
		MTU:         intPtr(9216),
	}

	got := Merge(base, ev)
	if got.Description != "new" || got.MTU != 9216 || !got.Enabled {
		t.Fatalf("merge = %+v", got)
	}
}

func TestMergeDefaultsMTU(t *testing.T) {
	got := Merge(DesiredState{Enabled: true}, &event.Interface{Kind: event.KindCreated})
	if got.MTU != DefaultMTU {
		t.Fatalf("MTU = %d, want %d", got.MTU, DefaultMTU)
	}
}

func TestWithAddressConflict(t *testing.T) {
	base := DesiredState{Addresses: []Address{{Prefix: prefix("10.0.0.1/24")}}}

	if _, err := WithAddress(base, Address{Prefix: prefix("10.0.1.1/24")}); !errors.Is(err, ErrConflictingState) {
		t.Fatalf("second primary v4 should conflict, got %v", err)
	}

	got, err := WithAddress(base, Address{Prefix: prefix("10.0.1.1/24"), Role: "secondary"})
	if err != nil {
		t.Fatalf("secondary should not conflict: %v", err)
	}
	if len(got.Addresses) != 2 {
		t.Fatalf("addresses = %+v", got.Addresses)
	}
}

func TestWithAddressAllowsMultipleV6(t *testing.T) {
	base := DesiredState{Addresses: []Address{{Prefix: prefix("2001:db8::1/64")}}}

	got, err := WithAddress(base, Address{Prefix: prefix("2001:db8:1::1/64")})
	if err != nil {
		t.Fatalf("second v6 prefix should not conflict: %v", err)
	}
	if len(got.Addresses) != 2 {
		t.Fatalf("addresses = %+v", got.Addresses)
	}
}

func TestWithAddressReplacesExisting(t *testing.T) {
	base := DesiredState{Addresses: []Address{{Prefix: prefix("10.0.0.1/24")}}}
	got, err := WithAddress(base, Address{Prefix: prefix("10.0.0.1/24"), Role: "secondary"})
	if err != nil {
		t.Fatalf("WithAddress: %v", err)
	}
	if len(got.Addresses) != 1 || got.Addresses[0].Role != "secondary" {
		t.Fatalf("addresses = %+v", got.Addresses)
	}
}

func TestWithoutAddress(t *testing.T) {
	base := DesiredState{Addresses: []Address{
		{Prefix: prefix("10.0.0.1/24")},
		{Prefix: prefix("2001:db8::1/64")},
	}}

	got, err := WithoutAddress(base, prefix("2001:db8::1/64"))
	if err != nil {
		t.Fatalf("WithoutAddress: %v", err)
	}
	if len(got.Addresses) != 1 || got.Addresses[0].Prefix != prefix("10.0.0.1/24") {
		t.Fatalf("addresses = %+v", got.Addresses)
	}

	if _, err := WithoutAddress(got, prefix("192.0.2.1/32")); !errors.Is(err, ErrStaleReference) {
		t.Fatalf("removing absent address should be stale, got %v", err)
	}
}

func TestEqualIgnoresAddressOrder(t *testing.T) {
	a, err := WithAddress(DesiredState{MTU: 1500}, Address{Prefix: prefix("10.0.0.1/24")})
	if err != nil {
		t.Fatal(err)
	}
	a, err = WithAddress(a, Address{Prefix: prefix("2001:db8::1/64")})
	if err != nil {
		t.Fatal(err)
	}

	b, err := WithAddress(DesiredState{MTU: 1500}, Address{Prefix: prefix("2001:db8::1/64")})
	if err != nil {
		t.Fatal(err)
	}
	b, err = WithAddress(b, Address{Prefix: prefix("10.0.0.1/24")})
	if err != nil {
		t.Fatal(err)
	}

	if !a.Equal(b) {
		t.Fatalf("states differ by insertion order only:\n%+v\n%+v", a, b)
	}
}

func TestFamilySplits(t *testing.T) {
	st := DesiredState{Addresses: []Address{
		{Prefix: prefix("10.0.0.1/24")},
		{Prefix: prefix("10.0.1.1/24"), Role: "secondary"},
		{Prefix: prefix("2001:db8::1/64")},
	}}

	p, ok := st.Primary4()
	if !ok || p.Prefix != prefix("10.0.0.1/24") {
		t.Fatalf("Primary4 = %+v, %v", p, ok)
	}
	if sec := st.Secondaries4(); len(sec) != 1 || sec[0].Prefix != prefix("10.0.1.1/24") {
		t.Fatalf("Secondaries4 = %+v", sec)
	}
	if v6 := st.V6(); len(v6) != 1 || v6[0].Prefix != prefix("2001:db8::1/64") {
		t.Fatalf("V6 = %+v", v6)
	}
}
