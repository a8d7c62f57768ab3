// Package event validates raw NetBox webhook bodies and turns them into a
// typed form. Nothing downstream ever touches a raw JSON map; this is the
// only place that understands the loose wire shape NetBox emits.
package event

import "errors"

var (
	// ErrMalformedPayload covers any payload missing required keys or
	// carrying the wrong shape for a key.
	ErrMalformedPayload = errors.New("malformed webhook payload")

	// ErrUnsupportedAssignment marks IP-address events whose address is not
	// assigned to a device interface (VM interfaces, FHRP groups, unassigned
	// addresses). The apply pipeline only configures device interfaces.
	ErrUnsupportedAssignment = errors.New("ip address not assigned to a device interface")
)

// Kind is the change type reported by NetBox.
type Kind string

const (
	KindCreated Kind = "created"
	KindUpdated Kind = "updated"
	KindDeleted Kind = "deleted"
)

// ObjectType selects the event family.
type ObjectType string

const (
	ObjectInterface ObjectType = "interface"
	ObjectIPAddress ObjectType = "ip_address"
)

// Event is the normalized form of one webhook delivery. Exactly two concrete
// types exist, one per object family.
type Event interface {
	EventKind() Kind
	Object() ObjectType
}

// Interface is a normalized interface-change event. Optional fields are
// pointers: nil means "not present in the payload", which downstream merge
// logic treats as "retain the current value".
type Interface struct {
	Kind        Kind
	ID          int64
	DeviceID    int64
	DeviceName  string
	Name        string
	Enabled     *bool
	Description *string
	MTU         *int
	MgmtOnly    bool
}

func (e *Interface) EventKind() Kind    { return e.Kind }
func (e *Interface) Object() ObjectType { return ObjectInterface }

// Address is a normalized ip_address-change event. The assignment is carried
// either as a nested device/interface reference or as the NetBox interface id;
// at least one is always populated after Normalize.
type Address struct {
	Kind    Kind
	ID      int64
	Address string // CIDR notation, e.g. "10.0.0.1/24"
	Family  int    // 4 or 6
	Role    string // "" means primary for the address family

	// Direct assignment reference, when the payload nests one.
	DeviceName    string
	InterfaceName string

	// NetBox interface id assignment, when the payload references by id.
	AssignedID int64

	// Interface id the address was assigned to before this change, from the
	// prechange snapshot. Zero when absent or unchanged.
	PriorAssignedID int64
}

func (e *Address) EventKind() Kind    { return e.Kind }
func (e *Address) Object() ObjectType { return ObjectIPAddress }
