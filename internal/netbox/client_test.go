package netbox

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/api/dcim/interfaces/7/", func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Token secret" {
			t.Errorf("Authorization = %q", got)
		}
		w.Write([]byte(`{
			"id": 7, "name": "GigabitEthernet0/0/1", "enabled": true,
			"description": "uplink", "mtu": 9000, "mgmt_only": false,
			"device": {"id": 3, "name": "r1"}
		}`))
	})
	mux.HandleFunc("/api/dcim/interfaces/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("name") == "Gi0/0/1" && r.URL.Query().Get("device") == "r1" {
			w.Write([]byte(`{"count": 1, "results": [{
				"id": 7, "name": "GigabitEthernet0/0/1", "enabled": true,
				"device": {"id": 3, "name": "r1"}
			}]}`))
			return
		}
		w.Write([]byte(`{"count": 0, "results": []}`))
	})
	mux.HandleFunc("/api/dcim/devices/3/", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"id": 3, "name": "r1", "primary_ip": {"address": "192.0.2.10/24"}}`))
	})
	mux.HandleFunc("/api/ipam/ip-addresses/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("assigned_object_id") != "7" {
			w.Write([]byte(`{"count": 0, "results": []}`))
			return
		}
		w.Write([]byte(`{"count": 2, "results": [
			{"id": 100, "address": "10.0.0.1/24", "role": null},
			{"id": 101, "address": "10.0.1.1/24", "role": {"value": "secondary", "label": "Secondary"}}
		]}`))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestSnapshotByName(t *testing.T) {
	srv := newTestServer(t)
	c := NewClient(srv.URL, "secret", srv.Client())

	snap, err := c.SnapshotByName(context.Background(), "r1", "Gi0/0/1")
	if err != nil {
		t.Fatalf("SnapshotByName: %v", err)
	}
	if snap.Interface.ID != 7 || snap.Interface.DeviceName != "r1" {
		t.Fatalf("interface = %+v", snap.Interface)
	}
	if snap.DeviceAddress != "192.0.2.10" {
		t.Fatalf("device address = %q", snap.DeviceAddress)
	}
	if len(snap.Addresses) != 2 || snap.Addresses[1].Role != "secondary" {
		t.Fatalf("addresses = %+v", snap.Addresses)
	}
}

func TestSnapshotByID(t *testing.T) {
	srv := newTestServer(t)
	c := NewClient(srv.URL, "secret", srv.Client())

	snap, err := c.SnapshotByID(context.Background(), 7)
	if err != nil {
		t.Fatalf("SnapshotByID: %v", err)
	}
	if snap.Interface.MTU == nil || *snap.Interface.MTU != 9000 {
		t.Fatalf("mtu = %v", snap.Interface.MTU)
	}
}

func TestLookupInterfaceNotFound(t *testing.T) {
	srv := newTestServer(t)
	c := NewClient(srv.URL, "secret", srv.Client())

	_, err := c.LookupInterface(context.Background(), "r9", "Gi0/0/9")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("error = %v, want ErrNotFound", err)
	}
}

func TestHostFromCIDR(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"192.0.2.10/24", "192.0.2.10"},
		{"192.0.2.10", "192.0.2.10"},
		{"2001:db8::1/64", "2001:db8::1"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := HostFromCIDR(tt.in); got != tt.want {
			t.Fatalf("HostFromCIDR(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
