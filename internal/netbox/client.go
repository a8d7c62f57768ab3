// Package netbox is a minimal read-only client for the NetBox REST API,
// covering exactly the lookups the sync pipeline needs: interface records,
// their parent device's management address, and their assigned IP addresses.
package netbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

// ErrNotFound is returned when NetBox has no record for the requested lookup.
var ErrNotFound = errors.New("netbox: not found")

// Client talks to one NetBox instance using token authentication.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// NewClient builds a client. The HTTP client is supplied by the caller so TLS
// verification and tracing are configured in one place at bootstrap.
func NewClient(baseURL, token string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		httpClient: httpClient,
	}
}

// DeviceRecord is the subset of a NetBox device the pipeline uses.
type DeviceRecord struct {
	ID        int64
	Name      string
	PrimaryIP string // management address in CIDR notation, "" when unset
}

// InterfaceRecord is the subset of a NetBox interface the pipeline uses.
type InterfaceRecord struct {
	ID          int64
	Name        string
	Enabled     bool
	Description string
	MTU         *int
	MgmtOnly    bool
	DeviceID    int64
	DeviceName  string
}

// AddressRecord is one IP address assigned to an interface.
type AddressRecord struct {
	ID      int64
	Address string // CIDR notation
	Role    string // "" when NetBox has no role set
}

// Snapshot is the canonical current view of one interface: its record, the
// device management address RESTCONF requests target, and its address set.
type Snapshot struct {
	Interface     InterfaceRecord
	DeviceAddress string
	Addresses     []AddressRecord
}

type choice struct {
	Value string `json:"value"`
}

type deviceJSON struct {
	ID        int64  `json:"id"`
	Name      string `json:"name"`
	PrimaryIP *struct {
		Address string `json:"address"`
	} `json:"primary_ip"`
}

type interfaceJSON struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	Enabled     bool   `json:"enabled"`
	Description string `json:"description"`
	MTU         *int   `json:"mtu"`
	MgmtOnly    bool   `json:"mgmt_only"`
	Device      struct {
		ID   int64  `json:"id"`
		Name string `json:"name"`
	} `json:"device"`
}

type addressJSON struct {
	ID      int64   `json:"id"`
	Address string  `json:"address"`
	Role    *choice `json:"role"`
}

func (j interfaceJSON) record() InterfaceRecord {
	return InterfaceRecord{
		ID:          j.ID,
		Name:        j.Name,
		Enabled:     j.Enabled,
		Description: j.Description,
		MTU:         j.MTU,
		MgmtOnly:    j.MgmtOnly,
		DeviceID:    j.Device.ID,
		DeviceName:  j.Device.Name,
	}
}

// GetInterface fetches one interface by NetBox id.
func (c *Client) GetInterface(ctx context.Context, id int64) (InterfaceRecord, error) {
	var out interfaceJSON
	if err := c.get(ctx, fmt.Sprintf("/api/dcim/interfaces/%d/", id), &out); err != nil {
		return InterfaceRecord{}, err
	}
	return out.record(), nil
}

// LookupInterface fetches an interface by device and interface name.
func (c *Client) LookupInterface(ctx context.Context, device, name string) (InterfaceRecord, error) {
	q := url.Values{}
	q.Set("device", device)
	q.Set("name", name)

	var out struct {
		Results []interfaceJSON `json:"results"`
	}
	if err := c.get(ctx, "/api/dcim/interfaces/?"+q.Encode(), &out); err != nil {
		return InterfaceRecord{}, err
	}
	if len(out.Results) == 0 {
		return InterfaceRecord{}, fmt.Errorf("%w: interface %s on %s", ErrNotFound, name, device)
	}
	return out.Results[0].record(), nil
}

// GetDevice fetches one device by NetBox id.
func (c *Client) GetDevice(ctx context.Context, id int64) (DeviceRecord, error) {
	var out deviceJSON
	if err := c.get(ctx, fmt.Sprintf("/api/dcim/devices/%d/", id), &out); err != nil {
		return DeviceRecord{}, err
	}
	rec := DeviceRecord{ID: out.ID, Name: out.Name}
	if out.PrimaryIP != nil {
		rec.PrimaryIP = out.PrimaryIP.Address
	}
	return rec, nil
}

// InterfaceAddresses lists the IP addresses assigned to an interface.
func (c *Client) InterfaceAddresses(ctx context.Context, interfaceID int64) ([]AddressRecord, error) {
	q := url.Values{}
	q.Set("assigned_object_type", "dcim.interface")
	q.Set("assigned_object_id", fmt.Sprintf("%d", interfaceID))

	var out struct {
		Results []addressJSON `json:"results"`
	}
	if err := c.get(ctx, "/api/ipam/ip-addresses/?"+q.Encode(), &out); err != nil {
		return nil, err
	}
	records := make([]AddressRecord, 0, len(out.Results))
	for _, a := range out.Results {
		rec := AddressRecord{ID: a.ID, Address: a.Address}
		if a.Role != nil {
			rec.Role = a.Role.Value
		}
		records = append(records, rec)
	}
	return records, nil
}

// SnapshotByName assembles the full current view of an interface addressed by
// device and interface name.
func (c *Client) SnapshotByName(ctx context.Context, device, name string) (Snapshot, error) {
	rec, err := c.LookupInterface(ctx, device, name)
	if err != nil {
		return Snapshot{}, err
	}
	return c.snapshot(ctx, rec)
}

// SnapshotByID assembles the full current view of an interface addressed by
// NetBox interface id.
func (c *Client) SnapshotByID(ctx context.Context, id int64) (Snapshot, error) {
	rec, err := c.GetInterface(ctx, id)
	if err != nil {
		return Snapshot{}, err
	}
	return c.snapshot(ctx, rec)
}

func (c *Client) snapshot(ctx context.Context, rec InterfaceRecord) (Snapshot, error) {
	dev, err := c.GetDevice(ctx, rec.DeviceID)
	if err != nil {
		return Snapshot{}, fmt.Errorf("device %d for interface %s: %w", rec.DeviceID, rec.Name, err)
	}
	addrs, err := c.InterfaceAddresses(ctx, rec.ID)
	if err != nil {
		return Snapshot{}, fmt.Errorf("addresses for interface %s: %w", rec.Name, err)
	}
	return Snapshot{
		Interface:     rec,
		DeviceAddress: HostFromCIDR(dev.PrimaryIP),
		Addresses:     addrs,
	}, nil
}

func (c *Client) get(ctx context.Context, path string, dest any) error {
	if c.baseURL == "" {
		return errors.New("netbox base url not configured")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Token "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("%w: %s", ErrNotFound, path)
	case resp.StatusCode >= 300:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("netbox %s: %s: %s", path, resp.Status, strings.TrimSpace(string(body)))
	}

	return json.NewDecoder(resp.Body).Decode(dest)
}

// HostFromCIDR strips the prefix length from a CIDR-notation address. NetBox
// stores management addresses with their prefix, RESTCONF URLs want the bare
// host.
func HostFromCIDR(cidr string) string {
	if i := strings.IndexByte(cidr, '/'); i >= 0 {
		return cidr[:i]
	}
	return cidr
}
