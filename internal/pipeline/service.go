// Package pipeline wires normalized webhook events through interface-name
// resolution, inventory enrichment, intent resolution, and the RESTCONF
// apply. It owns the per-interface ordering guarantee: the interface lock is
// taken before the no-op check and held through the device call, so two
// events for the same interface can never interleave their applies.
package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"ifsyncd/internal/event"
	"ifsyncd/internal/ifname"
	"ifsyncd/internal/intent"
	"ifsyncd/internal/netbox"
	"ifsyncd/internal/restconf"
	"ifsyncd/internal/state"
)

// ErrNoDeviceAddress marks a device without a primary management address in
// NetBox; there is nowhere to send RESTCONF requests.
var ErrNoDeviceAddress = errors.New("device has no primary management address")

// Inventory is the lookup capability the pipeline consumes. *netbox.Client
// satisfies it; tests substitute fakes.
type Inventory interface {
	SnapshotByName(ctx context.Context, device, name string) (netbox.Snapshot, error)
	SnapshotByID(ctx context.Context, id int64) (netbox.Snapshot, error)
	GetDevice(ctx context.Context, id int64) (netbox.DeviceRecord, error)
}

// Result is the unambiguous per-event outcome handed back to the router.
type Result struct {
	Status   restconf.ApplyStatus
	Attempts int
	Err      error
}

// Service is the event-to-configuration pipeline.
type Service struct {
	inventory Inventory
	applier   *restconf.Applier
	registry  *state.Registry
	log       zerolog.Logger
}

// New builds the pipeline service.
func New(inventory Inventory, applier *restconf.Applier, registry *state.Registry, log zerolog.Logger) *Service {
	return &Service{
		inventory: inventory,
		applier:   applier,
		registry:  registry,
		log:       log,
	}
}

// SyncInterface handles one normalized interface event.
func (s *Service) SyncInterface(ctx context.Context, ev *event.Interface) Result {
	if ev.MgmtOnly {
		s.log.Info().Str("device", ev.DeviceName).Str("interface", ev.Name).
			Msg("management interface, no changes will be performed")
		return Result{Status: restconf.StatusSkipped}
	}

	ref, err := ifname.Resolve(ev.DeviceName, ev.Name)
	if err != nil {
		return Result{Status: restconf.StatusFailed, Err: err}
	}

	if ev.Kind == event.KindDeleted {
		return s.teardownInterface(ctx, ev, ref)
	}

	snap, err := s.inventory.SnapshotByName(ctx, ev.DeviceName, ev.Name)
	if err != nil {
		if errors.Is(err, netbox.ErrNotFound) {
			s.log.Info().Str("interface", ref.String()).
				Msg("interface no longer in inventory, skipping stale event")
			return Result{Status: restconf.StatusSkipped}
		}
		return Result{Status: restconf.StatusFailed, Err: fmt.Errorf("inventory lookup: %w", err)}
	}
	if snap.Interface.MgmtOnly {
		s.log.Info().Str("interface", ref.String()).
			Msg("management interface, no changes will be performed")
		return Result{Status: restconf.StatusSkipped}
	}
	if snap.DeviceAddress == "" {
		return Result{Status: restconf.StatusFailed,
			Err: fmt.Errorf("%w: %s", ErrNoDeviceAddress, ev.DeviceName)}
	}

	base, err := stateFromSnapshot(snap)
	if err != nil {
		return Result{Status: restconf.StatusFailed, Err: err}
	}
	desired := intent.Merge(base, ev)

	return s.applyDesired(ctx, ref, snap.DeviceAddress, desired, func() (netbox.Snapshot, error) {
		return s.inventory.SnapshotByName(ctx, ev.DeviceName, ev.Name)
	})
}

// SyncAddress handles one normalized ip_address event.
func (s *Service) SyncAddress(ctx context.Context, ev *event.Address) Result {
	addr, err := intent.ParseAddress(ev.Address, ev.Role)
	if err != nil {
		return Result{Status: restconf.StatusFailed,
			Err: fmt.Errorf("%w: %v", event.ErrMalformedPayload, err)}
	}

	snap, err := s.snapshotForAddress(ctx, ev)
	if err != nil {
		if errors.Is(err, netbox.ErrNotFound) {
			s.log.Info().Str("address", ev.Address).
				Msg("assigned interface no longer in inventory, skipping stale event")
			return Result{Status: restconf.StatusSkipped}
		}
		return Result{Status: restconf.StatusFailed, Err: fmt.Errorf("inventory lookup: %w", err)}
	}
	if snap.Interface.MgmtOnly {
		s.log.Info().Str("address", ev.Address).
			Msg("management interface, no changes will be performed")
		return Result{Status: restconf.StatusSkipped}
	}
	if snap.DeviceAddress == "" {
		return Result{Status: restconf.StatusFailed,
			Err: fmt.Errorf("%w: %s", ErrNoDeviceAddress, snap.Interface.DeviceName)}
	}

	ref, err := ifname.Resolve(snap.Interface.DeviceName, snap.Interface.Name)
	if err != nil {
		return Result{Status: restconf.StatusFailed, Err: err}
	}

	// An updated address may have moved between interfaces; unconfigure the
	// previous one first so the address is never live on both.
	if ev.Kind == event.KindUpdated && ev.PriorAssignedID != 0 && ev.PriorAssignedID != snap.Interface.ID {
		s.pruneMovedAddress(ctx, ev, addr)
	}

	switch ev.Kind {
	case event.KindDeleted:
		return s.removeAddress(ctx, ref, snap, addr)
	default:
		return s.addAddress(ctx, ev, ref, snap, addr)
	}
}

func (s *Service) teardownInterface(ctx context.Context, ev *event.Interface, ref ifname.Ref) Result {
	if ev.DeviceID == 0 {
		s.log.Warn().Str("interface", ref.String()).
			Msg("deleted-interface event without device id, cannot locate device")
		return Result{Status: restconf.StatusSkipped}
	}
	dev, err := s.inventory.GetDevice(ctx, ev.DeviceID)
	if err != nil {
		if errors.Is(err, netbox.ErrNotFound) {
			s.log.Info().Str("interface", ref.String()).
				Msg("device no longer in inventory, skipping teardown")
			return Result{Status: restconf.StatusSkipped}
		}
		return Result{Status: restconf.StatusFailed, Err: fmt.Errorf("inventory lookup: %w", err)}
	}
	address := netbox.HostFromCIDR(dev.PrimaryIP)
	if address == "" {
		return Result{Status: restconf.StatusFailed,
			Err: fmt.Errorf("%w: %s", ErrNoDeviceAddress, dev.Name)}
	}

	h := s.registry.Acquire(ref)
	defer h.Release()

	res := s.applier.Apply(ctx, restconf.NewTeardownRequest(address, ref))
	if res.Status == restconf.StatusApplied {
		h.Forget()
	}
	return Result{Status: res.Status, Attempts: res.Attempts, Err: res.Err}
}

func (s *Service) removeAddress(ctx context.Context, ref ifname.Ref, snap netbox.Snapshot, addr intent.Address) Result {
	h := s.registry.Acquire(ref)
	defer h.Release()

	// NetBox has already dropped the address from its records, so the
	// inventory snapshot cannot serve as the pre-delete state. Prefer the
	// last applied state; without one, assume the device still carries the
	// address.
	var base intent.DesiredState
	if last := h.LastApplied(); last != nil {
		base = *last
	} else {
		var err error
		base, err = stateFromSnapshot(snap)
		if err != nil {
			return Result{Status: restconf.StatusFailed, Err: err}
		}
		if !hasPrefix(base, addr) {
			base.Addresses = append(base.Addresses, addr)
		}
	}

	desired, err := intent.WithoutAddress(base, addr.Prefix)
	if err != nil {
		if errors.Is(err, intent.ErrStaleReference) {
			s.log.Info().Str("interface", ref.String()).Str("address", addr.Prefix.String()).
				Msg("address already absent, duplicate delete notification")
			return Result{Status: restconf.StatusSkipped}
		}
		return Result{Status: restconf.StatusFailed, Err: err}
	}

	// The delete targets the node the address occupies on the device, so the
	// role recorded in the base state wins over the one the event carries.
	target := addr
	for _, a := range base.Addresses {
		if a.Prefix == addr.Prefix {
			target = a
		}
	}

	req, err := restconf.NewAddressDeleteRequest(snap.DeviceAddress, ref, target)
	if err != nil {
		return Result{Status: restconf.StatusFailed, Err: err}
	}
	res := s.applier.Apply(ctx, req)
	if res.Status == restconf.StatusApplied || res.Status == restconf.StatusSkipped {
		h.SetLastApplied(desired)
	}
	return Result{Status: res.Status, Attempts: res.Attempts, Err: res.Err}
}

func (s *Service) addAddress(ctx context.Context, ev *event.Address, ref ifname.Ref, snap netbox.Snapshot, addr intent.Address) Result {
	base, err := stateFromSnapshot(snap)
	if err != nil {
		return Result{Status: restconf.StatusFailed, Err: err}
	}
	desired, err := intent.WithAddress(base, addr)
	if err != nil {
		return Result{Status: restconf.StatusFailed, Err: err}
	}

	refetch := func() (netbox.Snapshot, error) {
		if ev.AssignedID != 0 {
			return s.inventory.SnapshotByID(ctx, ev.AssignedID)
		}
		return s.inventory.SnapshotByName(ctx, ev.DeviceName, ev.InterfaceName)
	}
	return s.applyDesired(ctx, ref, snap.DeviceAddress, desired, refetch)
}

// applyDesired runs the serialized tail of the pipeline: no-op check under
// the interface lock, the device call, and the cache update on success.
func (s *Service) applyDesired(ctx context.Context, ref ifname.Ref, deviceAddress string,
	desired intent.DesiredState, refetch func() (netbox.Snapshot, error)) Result {

	h := s.registry.Acquire(ref)
	defer h.Release()

	if last := h.LastApplied(); last != nil && last.Equal(desired) {
		s.log.Debug().Str("interface", ref.String()).
			Msg("desired state matches last applied, skipping no-op notification")
		return Result{Status: restconf.StatusSkipped}
	}

	req, err := restconf.NewReplaceRequest(deviceAddress, ref, desired)
	if err != nil {
		return Result{Status: restconf.StatusFailed, Err: err}
	}
	if refetch != nil {
		req.Refetch = func() (restconf.ApplyRequest, error) {
			snap, err := refetch()
			if err != nil {
				return restconf.ApplyRequest{}, err
			}
			fresh, err := stateFromSnapshot(snap)
			if err != nil {
				return restconf.ApplyRequest{}, err
			}
			desired = fresh
			return restconf.NewReplaceRequest(snap.DeviceAddress, ref, fresh)
		}
	}

	res := s.applier.Apply(ctx, req)
	if res.Status == restconf.StatusApplied {
		h.SetLastApplied(desired)
	}
	return Result{Status: res.Status, Attempts: res.Attempts, Err: res.Err}
}

// pruneMovedAddress removes the address from the interface it was assigned to
// before this event. Failures here are logged and do not block configuring
// the new interface; the next event for the old interface reconverges it.
func (s *Service) pruneMovedAddress(ctx context.Context, ev *event.Address, addr intent.Address) {
	old, err := s.inventory.SnapshotByID(ctx, ev.PriorAssignedID)
	if err != nil {
		if !errors.Is(err, netbox.ErrNotFound) {
			s.log.Warn().Err(err).Int64("interface_id", ev.PriorAssignedID).
				Msg("cannot look up previous assignment, leaving it as is")
		}
		return
	}
	if old.Interface.MgmtOnly || old.DeviceAddress == "" {
		return
	}
	oldRef, err := ifname.Resolve(old.Interface.DeviceName, old.Interface.Name)
	if err != nil {
		s.log.Warn().Err(err).Msg("previous assignment has unresolvable interface name")
		return
	}

	s.log.Info().Str("address", ev.Address).
		Str("from", oldRef.String()).
		Msg("address moved, unconfiguring previous interface")

	res := s.removeAddress(ctx, oldRef, old, addr)
	if res.Status == restconf.StatusFailed {
		s.log.Warn().Err(res.Err).Str("interface", oldRef.String()).
			Msg("failed to unconfigure previous interface")
	}
}

func (s *Service) snapshotForAddress(ctx context.Context, ev *event.Address) (netbox.Snapshot, error) {
	if ev.AssignedID != 0 {
		return s.inventory.SnapshotByID(ctx, ev.AssignedID)
	}
	return s.inventory.SnapshotByName(ctx, ev.DeviceName, ev.InterfaceName)
}

// stateFromSnapshot builds the complete desired state implied by the current
// inventory view of an interface.
func stateFromSnapshot(snap netbox.Snapshot) (intent.DesiredState, error) {
	st := intent.DesiredState{
		Enabled:     snap.Interface.Enabled,
		Description: snap.Interface.Description,
		MTU:         intent.DefaultMTU,
	}
	if snap.Interface.MTU != nil {
		st.MTU = *snap.Interface.MTU
	}
	for _, rec := range snap.Addresses {
		addr, err := intent.ParseAddress(rec.Address, rec.Role)
		if err != nil {
			return intent.DesiredState{}, err
		}
		st, err = intent.WithAddress(st, addr)
		if err != nil {
			return intent.DesiredState{}, err
		}
	}
	return st, nil
}

func hasPrefix(st intent.DesiredState, addr intent.Address) bool {
	for _, a := range st.Addresses {
		if a.Prefix == addr.Prefix {
			return true
		}
	}
	return false
}
