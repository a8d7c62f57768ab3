package restconf

import (
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/url"

	"ifsyncd/internal/ifname"
	"ifsyncd/internal/intent"
)

// nativeRoot is the IOS-XE native configuration model every interface path
// hangs off.
const nativeRoot = "Cisco-IOS-XE-native:native/interface"

// ApplyRequest is one protocol-level unit of work against a device. It is
// built from a fully-resolved desired state and consumed exactly once.
type ApplyRequest struct {
	Ref        ifname.Ref
	Method     string
	TargetPath string
	Body       []byte

	// RetryBudget overrides the applier's attempt budget when positive.
	RetryBudget int

	// Refetch rebuilds this request from a fresh inventory snapshot. Invoked
	// once when the device reports a resource conflict (409), on the
	// assumption the local view went stale.
	Refetch func() (ApplyRequest, error)
}

// interfaceBody is the IOS-XE native interface list entry. Shutdown is
// modeled the way the YANG encodes an empty leaf: present as [null] when the
// interface is administratively down, absent otherwise.
type interfaceBody struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Shutdown    []any          `json:"shutdown,omitempty"`
	MTU         int            `json:"mtu,omitempty"`
	IP          *ipContainer   `json:"ip,omitempty"`
	IPv6        *ipv6Container `json:"ipv6,omitempty"`
}

type ipContainer struct {
	Address *ipAddressContainer `json:"address,omitempty"`
}

type ipAddressContainer struct {
	Primary   *primaryAddress    `json:"primary,omitempty"`
	Secondary []secondaryAddress `json:"secondary,omitempty"`
}

type primaryAddress struct {
	Address string `json:"address"`
	Mask    string `json:"mask"`
}

type secondaryAddress struct {
	Address   string `json:"address"`
	Mask      string `json:"mask"`
	Secondary []any  `json:"secondary"`
}

type ipv6Container struct {
	Address *ipv6AddressContainer `json:"address,omitempty"`
}

type ipv6AddressContainer struct {
	PrefixList []ipv6Prefix `json:"prefix-list,omitempty"`
}

type ipv6Prefix struct {
	Prefix string `json:"prefix"`
}

// InterfaceURL returns the RESTCONF resource path for one interface on one
// device.
func InterfaceURL(deviceAddress string, ref ifname.Ref) string {
	return fmt.Sprintf("https://%s/restconf/data/%s/%s", deviceAddress, nativeRoot, ref.PathSegment())
}

// NewReplaceRequest builds the full-resource PUT that makes the device match
// the desired state. The dialect is declarative: the body is the complete
// interface subtree, and anything not present is removed by the device.
func NewReplaceRequest(deviceAddress string, ref ifname.Ref, st intent.DesiredState) (ApplyRequest, error) {
	body, err := encodeInterface(ref, st)
	if err != nil {
		return ApplyRequest{}, err
	}
	return ApplyRequest{
		Ref:        ref,
		Method:     http.MethodPut,
		TargetPath: InterfaceURL(deviceAddress, ref),
		Body:       body,
	}, nil
}

// NewAddressDeleteRequest builds the DELETE that removes one address from an
// interface, targeting the exact node the address occupies. A plain PATCH is
// a merge and can never remove data, so removal must name the subtree.
func NewAddressDeleteRequest(deviceAddress string, ref ifname.Ref, addr intent.Address) (ApplyRequest, error) {
	var subtree string
	switch {
	case !addr.Prefix.Addr().Is4():
		subtree = "ipv6/address/prefix-list=" + url.PathEscape(addr.Prefix.String())
	case addr.Primary():
		subtree = "ip/address/primary"
	default:
		ip, _, err := addrAndMask(addr)
		if err != nil {
			return ApplyRequest{}, err
		}
		subtree = "ip/address/secondary=" + ip
	}
	return ApplyRequest{
		Ref:        ref,
		Method:     http.MethodDelete,
		TargetPath: InterfaceURL(deviceAddress, ref) + "/" + subtree,
	}, nil
}

// NewTeardownRequest builds the DELETE that removes the whole interface
// subtree from the device configuration.
func NewTeardownRequest(deviceAddress string, ref ifname.Ref) ApplyRequest {
	return ApplyRequest{
		Ref:        ref,
		Method:     http.MethodDelete,
		TargetPath: InterfaceURL(deviceAddress, ref),
	}
}

func encodeInterface(ref ifname.Ref, st intent.DesiredState) ([]byte, error) {
	body := interfaceBody{
		Name:        ref.Unit,
		Description: st.Description,
		MTU:         st.MTU,
	}
	if !st.Enabled {
		body.Shutdown = []any{nil}
	}

	ip := &ipAddressContainer{}
	if primary, ok := st.Primary4(); ok {
		addr, mask, err := addrAndMask(primary)
		if err != nil {
			return nil, err
		}
		ip.Primary = &primaryAddress{Address: addr, Mask: mask}
	}
	for _, sec := range st.Secondaries4() {
		addr, mask, err := addrAndMask(sec)
		if err != nil {
			return nil, err
		}
		ip.Secondary = append(ip.Secondary, secondaryAddress{
			Address:   addr,
			Mask:      mask,
			Secondary: []any{nil},
		})
	}
	if ip.Primary != nil || len(ip.Secondary) > 0 {
		body.IP = &ipContainer{Address: ip}
	}

	if v6 := st.V6(); len(v6) > 0 {
		c := &ipv6AddressContainer{}
		for _, a := range v6 {
			c.PrefixList = append(c.PrefixList, ipv6Prefix{Prefix: a.Prefix.String()})
		}
		body.IPv6 = &ipv6Container{Address: c}
	}

	wrapper := map[string]interfaceBody{
		"Cisco-IOS-XE-native:" + ref.Type: body,
	}
	return json.Marshal(wrapper)
}

func addrAndMask(a intent.Address) (string, string, error) {
	ip := a.Prefix.Addr()
	if !ip.Is4() {
		return "", "", fmt.Errorf("expected IPv4 address, got %s", a.Prefix)
	}
	mask := net.CIDRMask(a.Prefix.Bits(), 32)
	return ip.String(), net.IP(mask).String(), nil
}
