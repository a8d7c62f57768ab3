package event

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

type envelope struct {
	EventKind  string          `json:"event_kind"`
	ObjectType string          `json:"object_type"`
	Data       json.RawMessage `json:"data"`
	Snapshots  *snapshots      `json:"snapshots"`
}

type snapshots struct {
	Prechange json.RawMessage `json:"prechange"`
}

// nameRef accepts either a bare string or an object with "id"/"name" keys.
// NetBox nests device references both ways depending on the serializer
// version.
type nameRef struct {
	ID   int64
	Name string
}

func (n *nameRef) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		n.Name = s
		return nil
	}
	var obj struct {
		ID   int64  `json:"id"`
		Name string `json:"name"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return err
	}
	n.ID = obj.ID
	n.Name = obj.Name
	return nil
}

// valueField accepts a bare scalar or NetBox's {"value": ..., "label": ...}
// choice-field encoding.
type valueField struct {
	raw json.RawMessage
}

func (v *valueField) UnmarshalJSON(data []byte) error {
	var obj struct {
		Value json.RawMessage `json:"value"`
	}
	if err := json.Unmarshal(data, &obj); err == nil && obj.Value != nil {
		v.raw = obj.Value
		return nil
	}
	v.raw = append(json.RawMessage(nil), data...)
	return nil
}

func (v valueField) Int() (int, bool) {
	var i int
	if v.raw == nil || json.Unmarshal(v.raw, &i) != nil {
		return 0, false
	}
	return i, true
}

func (v valueField) String() string {
	var s string
	if v.raw == nil || json.Unmarshal(v.raw, &s) != nil {
		return ""
	}
	return s
}

// Normalize validates a raw webhook body and produces the typed event for its
// object family. It is a pure transform: no lookups, no network.
func Normalize(raw []byte) (Event, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}

	switch Kind(env.EventKind) {
	case KindCreated, KindUpdated, KindDeleted:
	case "":
		return nil, fmt.Errorf("%w: missing event_kind", ErrMalformedPayload)
	default:
		return nil, fmt.Errorf("%w: unknown event_kind %q", ErrMalformedPayload, env.EventKind)
	}

	if len(env.Data) == 0 {
		return nil, fmt.Errorf("%w: missing data", ErrMalformedPayload)
	}
	if trimmed := bytes.TrimSpace(env.Data); len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, fmt.Errorf("%w: data is not an object", ErrMalformedPayload)
	}

	switch ObjectType(env.ObjectType) {
	case ObjectInterface:
		return normalizeInterface(env)
	case ObjectIPAddress:
		return normalizeAddress(env)
	case "":
		return nil, fmt.Errorf("%w: missing object_type", ErrMalformedPayload)
	default:
		return nil, fmt.Errorf("%w: unknown object_type %q", ErrMalformedPayload, env.ObjectType)
	}
}

func normalizeInterface(env envelope) (*Interface, error) {
	var data struct {
		ID          int64   `json:"id"`
		Name        string  `json:"name"`
		Device      nameRef `json:"device"`
		Enabled     *bool   `json:"enabled"`
		Description *string `json:"description"`
		MTU         *int    `json:"mtu"`
		MgmtOnly    bool    `json:"mgmt_only"`
	}
	if err := json.Unmarshal(env.Data, &data); err != nil {
		return nil, fmt.Errorf("%w: interface data: %v", ErrMalformedPayload, err)
	}
	if data.Device.Name == "" {
		return nil, fmt.Errorf("%w: interface data missing device.name", ErrMalformedPayload)
	}
	if data.Name == "" {
		return nil, fmt.Errorf("%w: interface data missing name", ErrMalformedPayload)
	}

	return &Interface{
		Kind:        Kind(env.EventKind),
		ID:          data.ID,
		DeviceID:    data.Device.ID,
		DeviceName:  data.Device.Name,
		Name:        data.Name,
		Enabled:     data.Enabled,
		Description: data.Description,
		MTU:         data.MTU,
		MgmtOnly:    data.MgmtOnly,
	}, nil
}

func normalizeAddress(env envelope) (*Address, error) {
	var data struct {
		ID                 int64      `json:"id"`
		Address            string     `json:"address"`
		Family             valueField `json:"family"`
		Role               valueField `json:"role"`
		AssignedObjectType string     `json:"assigned_object_type"`
		AssignedObjectID   int64      `json:"assigned_object_id"`
		Interface          *struct {
			Device nameRef `json:"device"`
			Name   string  `json:"name"`
		} `json:"interface"`
	}
	if err := json.Unmarshal(env.Data, &data); err != nil {
		return nil, fmt.Errorf("%w: ip_address data: %v", ErrMalformedPayload, err)
	}
	if data.Address == "" {
		return nil, fmt.Errorf("%w: ip_address data missing address", ErrMalformedPayload)
	}

	ev := &Address{
		Kind:    Kind(env.EventKind),
		ID:      data.ID,
		Address: data.Address,
		Role:    data.Role.String(),
	}

	if family, ok := data.Family.Int(); ok {
		ev.Family = family
	} else if strings.Contains(data.Address, ":") {
		ev.Family = 6
	} else {
		ev.Family = 4
	}

	switch {
	case data.Interface != nil && data.Interface.Name != "":
		if data.Interface.Device.Name == "" {
			return nil, fmt.Errorf("%w: nested interface missing device", ErrMalformedPayload)
		}
		ev.DeviceName = data.Interface.Device.Name
		ev.InterfaceName = data.Interface.Name
	case data.AssignedObjectID != 0:
		if data.AssignedObjectType != "" && data.AssignedObjectType != "dcim.interface" {
			return nil, fmt.Errorf("%w: assigned to %s", ErrUnsupportedAssignment, data.AssignedObjectType)
		}
		ev.AssignedID = data.AssignedObjectID
	default:
		return nil, ErrUnsupportedAssignment
	}

	if env.Snapshots != nil && len(env.Snapshots.Prechange) > 0 {
		var pre struct {
			AssignedObjectID int64 `json:"assigned_object_id"`
		}
		// A malformed snapshot only disables move detection, it does not
		// invalidate the event.
		if err := json.Unmarshal(env.Snapshots.Prechange, &pre); err == nil {
			ev.PriorAssignedID = pre.AssignedObjectID
		}
	}

	return ev, nil
}
