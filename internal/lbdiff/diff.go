// Package lbdiff compares the desired load balancer configuration with
// the observed cloud state and produces the ordered mutation plan that
// converges the two.
package lbdiff

import (
	"fmt"
	"sort"

	"github.com/robotlb/robotlb/internal/lbspec"
	"github.com/robotlb/robotlb/internal/targets"
)

// Op is a single cloud mutation. Ops are applied strictly in plan order
// and every op is an "ensure" operation, safe to re-run.
type Op interface {
	// Describe returns a short human-readable summary for logs.
	Describe() string
}

// DetachNetworkOp removes a stale private network attachment. Always
// ordered before AttachNetworkOp: the cloud API cannot reassign an
// attachment in place.
type DetachNetworkOp struct {
	NetworkID int64
}

func (o DetachNetworkOp) Describe() string {
	return fmt.Sprintf("detach network %d", o.NetworkID)
}

// AttachNetworkOp attaches the desired network, optionally with a static
// private IP.
type AttachNetworkOp struct {
	NetworkName string
	PrivateIP   string
}

func (o AttachNetworkOp) Describe() string {
	if o.PrivateIP != "" {
		return fmt.Sprintf("attach network %s with IP %s", o.NetworkName, o.PrivateIP)
	}
	return fmt.Sprintf("attach network %s", o.NetworkName)
}

// RemoveListenerOp deletes a listener by listen port.
type RemoveListenerOp struct {
	ListenPort int
}

func (o RemoveListenerOp) Describe() string {
	return fmt.Sprintf("remove listener on port %d", o.ListenPort)
}

// UpdateListenerOp replaces the destination port, health check, and
// proxy protocol setting of an existing listener.
type UpdateListenerOp struct {
	Listener lbspec.Listener
}

func (o UpdateListenerOp) Describe() string {
	return fmt.Sprintf("update listener on port %d", o.Listener.ListenPort)
}

// AddListenerOp creates a missing listener.
type AddListenerOp struct {
	Listener lbspec.Listener
}

func (o AddListenerOp) Describe() string {
	return fmt.Sprintf("add listener %d -> %d", o.Listener.ListenPort, o.Listener.DestinationPort)
}

// RemoveTargetOp drops a backend address.
type RemoveTargetOp struct {
	Address string
}

func (o RemoveTargetOp) Describe() string {
	return fmt.Sprintf("remove target %s", o.Address)
}

// AddTargetOp registers a backend address.
type AddTargetOp struct {
	Address string
}

func (o AddTargetOp) Describe() string {
	return fmt.Sprintf("add target %s", o.Address)
}

// Plan is the ordered mutation list for one reconciliation pass. When
// Create is set the balancer does not exist yet; the ops then describe
// everything to apply on top of the freshly created resource.
type Plan struct {
	Create bool
	Ops    []Op
}

// IsNoOp reports whether the observed state already matches the desired
// state exactly.
func (p *Plan) IsNoOp() bool {
	return !p.Create && len(p.Ops) == 0
}

// ImmutableFieldError reports a desired change to a field the cloud API
// only accepts at creation time. Requires manual intervention; the pass
// applies nothing.
type ImmutableFieldError struct {
	Field   string
	Current string
	Desired string
}

func (e *ImmutableFieldError) Error() string {
	return fmt.Sprintf("field %s cannot be changed on an existing load balancer (current %q, desired %q)",
		e.Field, e.Current, e.Desired)
}

// Diff computes the plan that drives observed towards desired.
// desiredNetworkID is the resolved cloud ID of desired.Network, 0 when
// no network is desired; the caller resolves the name so the diff stays
// free of API calls.
//
// Ordering policy: network detach before attach, listener removals
// before additions, target removals before additions. Removal-first
// keeps the balancer under provider quota limits during transitions.
func Diff(desired *lbspec.DesiredLoadBalancerSpec, desiredNetworkID int64, tset targets.Set, observed *Observed) (*Plan, error) {
	plan := &Plan{}

	if observed == nil {
		plan.Create = true
		observed = &Observed{}
	} else {
		if err := checkImmutable(desired, observed); err != nil {
			return nil, err
		}
	}

	plan.Ops = append(plan.Ops, diffNetworks(desired, desiredNetworkID, observed)...)
	plan.Ops = append(plan.Ops, diffListeners(desired, observed)...)
	plan.Ops = append(plan.Ops, diffTargets(tset, observed)...)

	return plan, nil
}

// checkImmutable rejects changes to fields the cloud API fixes at
// creation time.
func checkImmutable(desired *lbspec.DesiredLoadBalancerSpec, observed *Observed) error {
	if observed.Algorithm != desired.Algorithm {
		return &ImmutableFieldError{
			Field:   "algorithm",
			Current: string(observed.Algorithm),
			Desired: string(desired.Algorithm),
		}
	}
	if observed.Type != desired.Type {
		return &ImmutableFieldError{
			Field:   "type",
			Current: observed.Type,
			Desired: desired.Type,
		}
	}
	if observed.Location != desired.Location {
		return &ImmutableFieldError{
			Field:   "location",
			Current: observed.Location,
			Desired: desired.Location,
		}
	}
	return nil
}

func diffNetworks(desired *lbspec.DesiredLoadBalancerSpec, desiredNetworkID int64, observed *Observed) []Op {
	var ops []Op

	desiredIP := ""
	if desired.PrivateIP != nil {
		desiredIP = desired.PrivateIP.String()
	}

	attached := false
	for _, net := range observed.Networks {
		if desired.Network != "" && net.ID == desiredNetworkID {
			if desiredIP == "" || net.IP == desiredIP {
				attached = true
				continue
			}
		}
		ops = append(ops, DetachNetworkOp{NetworkID: net.ID})
	}

	if desired.Network != "" && !attached {
		ops = append(ops, AttachNetworkOp{
			NetworkName: desired.Network,
			PrivateIP:   desiredIP,
		})
	}
	return ops
}

func diffListeners(desired *lbspec.DesiredLoadBalancerSpec, observed *Observed) []Op {
	byPort := make(map[int]lbspec.Listener, len(desired.Listeners))
	for _, l := range desired.Listeners {
		byPort[l.ListenPort] = l
	}

	var removals, updates, additions []Op

	seen := make(map[int]bool, len(observed.Listeners))
	for _, ol := range observed.Listeners {
		want, ok := byPort[ol.ListenPort]
		if !ok {
			removals = append(removals, RemoveListenerOp{ListenPort: ol.ListenPort})
			continue
		}
		seen[ol.ListenPort] = true
		if listenerMatches(want, desired, ol) {
			continue
		}
		updates = append(updates, UpdateListenerOp{Listener: want})
	}

	for _, l := range desired.Listeners {
		if !seen[l.ListenPort] {
			additions = append(additions, AddListenerOp{Listener: l})
		}
	}

	sortOpsByPort(removals)
	sortOpsByPort(updates)
	sortOpsByPort(additions)

	ops := make([]Op, 0, len(removals)+len(updates)+len(additions))
	ops = append(ops, removals...)
	ops = append(ops, updates...)
	ops = append(ops, additions...)
	return ops
}

// listenerMatches compares a desired listener against the observed one,
// including the health check and proxy protocol, which are replaced as a
// whole on any difference.
func listenerMatches(want lbspec.Listener, desired *lbspec.DesiredLoadBalancerSpec, ol ObservedListener) bool {
	return ol.TCP &&
		ol.DestinationPort == want.DestinationPort &&
		ol.ProxyProtocol == desired.ProxyMode &&
		ol.HealthCheckPort == want.DestinationPort &&
		ol.HealthCheck == desired.HealthCheck
}

func diffTargets(tset targets.Set, observed *Observed) []Op {
	desired := make(map[string]bool)
	for _, addr := range tset.Addresses() {
		desired[addr] = true
	}

	observedSet := make(map[string]bool, len(observed.Targets))
	var removals []Op
	for _, addr := range observed.Targets {
		observedSet[addr] = true
		if !desired[addr] {
			removals = append(removals, RemoveTargetOp{Address: addr})
		}
	}

	var additions []Op
	for _, addr := range tset.Addresses() {
		if !observedSet[addr] {
			additions = append(additions, AddTargetOp{Address: addr})
		}
	}

	sort.Slice(removals, func(i, j int) bool {
		return removals[i].(RemoveTargetOp).Address < removals[j].(RemoveTargetOp).Address
	})
	// additions inherit the stable order of tset.Addresses().

	return append(removals, additions...)
}

func sortOpsByPort(ops []Op) {
	sort.Slice(ops, func(i, j int) bool {
		return listenPortOf(ops[i]) < listenPortOf(ops[j])
	})
}

func listenPortOf(op Op) int {
	switch o := op.(type) {
	case RemoveListenerOp:
		return o.ListenPort
	case UpdateListenerOp:
		return o.Listener.ListenPort
	case AddListenerOp:
		return o.Listener.ListenPort
	default:
		return 0
	}
}
