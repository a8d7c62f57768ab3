package restconf

import (
	"encoding/json"
	"net/http"
	"net/netip"
	"testing"

	"ifsyncd/internal/ifname"
	"ifsyncd/internal/intent"
)

func testRef() ifname.Ref {
	return ifname.Ref{Device: "r1", Type: "GigabitEthernet", Unit: "0/0/1"}
}

func addr(t *testing.T, cidr, role string) intent.Address {
	t.Helper()
	p, err := netip.ParsePrefix(cidr)
	if err != nil {
		t.Fatal(err)
	}
	return intent.Address{Prefix: p, Role: role}
}

func decodeBody(t *testing.T, body []byte) map[string]map[string]any {
	t.Helper()
	var out map[string]map[string]any
	if err := json.Unmarshal(body, &out); err != nil {
		t.Fatalf("body is not valid JSON: %v\n%s", err, body)
	}
	return out
}

func TestInterfaceURL(t *testing.T) {
	got := InterfaceURL("192.0.2.10", ifname.Ref{Device: "r1", Type: "GigabitEthernet", Unit: "0/0/1.100"})
	want := "https://192.0.2.10/restconf/data/Cisco-IOS-XE-native:native/interface/GigabitEthernet=0%2F0%2F1.100"
	if got != want {
		t.Fatalf("InterfaceURL = %q, want %q", got, want)
	}
}

func TestNewReplaceRequest(t *testing.T) {
	st := intent.DesiredState{
		Enabled:     false,
		Description: "uplink",
		MTU:         9000,
		Addresses: []intent.Address{
			addr(t, "10.0.0.1/24", ""),
			addr(t, "10.0.1.1/24", "secondary"),
			addr(t, "2001:db8::1/64", ""),
		},
	}

	req, err := NewReplaceRequest("192.0.2.10", testRef(), st)
	if err != nil {
		t.Fatalf("NewReplaceRequest: %v", err)
	}
	if req.Method != http.MethodPut {
		t.Fatalf("method = %s, want PUT", req.Method)
	}

	body := decodeBody(t, req.Body)
	iface, ok := body["Cisco-IOS-XE-native:GigabitEthernet"]
	if !ok {
		t.Fatalf("missing model wrapper, body keys: %v", body)
	}
	if iface["name"] != "0/0/1" {
		t.Fatalf("name = %v", iface["name"])
	}
	if iface["description"] != "uplink" {
		t.Fatalf("description = %v", iface["description"])
	}
	if iface["mtu"] != float64(9000) {
		t.Fatalf("mtu = %v", iface["mtu"])
	}
	if _, ok := iface["shutdown"]; !ok {
		t.Fatal("disabled interface must carry shutdown leaf")
	}

	ip := iface["ip"].(map[string]any)["address"].(map[string]any)
	primary := ip["primary"].(map[string]any)
	if primary["address"] != "10.0.0.1" || primary["mask"] != "255.255.255.0" {
		t.Fatalf("primary = %v", primary)
	}
	if sec := ip["secondary"].([]any); len(sec) != 1 {
		t.Fatalf("secondary = %v", sec)
	}

	v6 := iface["ipv6"].(map[string]any)["address"].(map[string]any)["prefix-list"].([]any)
	if len(v6) != 1 || v6[0].(map[string]any)["prefix"] != "2001:db8::1/64" {
		t.Fatalf("prefix-list = %v", v6)
	}
}

func TestReplaceOmitsShutdownWhenEnabled(t *testing.T) {
	req, err := NewReplaceRequest("192.0.2.10", testRef(), intent.DesiredState{Enabled: true, MTU: 1500})
	if err != nil {
		t.Fatal(err)
	}
	iface := decodeBody(t, req.Body)["Cisco-IOS-XE-native:GigabitEthernet"]
	if _, ok := iface["shutdown"]; ok {
		t.Fatal("enabled interface must not carry shutdown leaf")
	}
	if _, ok := iface["ip"]; ok {
		t.Fatal("interface without addresses must not carry ip container")
	}
}

func TestNewAddressDeleteRequest(t *testing.T) {
	tests := []struct {
		name    string
		addr    intent.Address
		subtree string
	}{
		{"primary v4", addr(t, "10.0.0.1/24", ""), "/ip/address/primary"},
		{"secondary v4", addr(t, "10.0.1.1/24", "secondary"), "/ip/address/secondary=10.0.1.1"},
		{"v6 prefix", addr(t, "2001:db8::1/64", ""), "/ipv6/address/prefix-list=2001:db8::1%2F64"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req, err := NewAddressDeleteRequest("192.0.2.10", testRef(), tc.addr)
			if err != nil {
				t.Fatalf("NewAddressDeleteRequest: %v", err)
			}
			if req.Method != http.MethodDelete {
				t.Fatalf("method = %s, want DELETE", req.Method)
			}
			if req.Body != nil {
				t.Fatal("address delete must not carry a body")
			}
			want := InterfaceURL("192.0.2.10", testRef()) + tc.subtree
			if req.TargetPath != want {
				t.Fatalf("path = %q, want %q", req.TargetPath, want)
			}
		})
	}
}

func TestNewTeardownRequest(t *testing.T) {
	req := NewTeardownRequest("192.0.2.10", testRef())
	if req.Method != http.MethodDelete {
		t.Fatalf("method = %s, want DELETE", req.Method)
	}
	if req.Body != nil {
		t.Fatalf("teardown must not carry a body")
	}
}
