// Package targets computes the backend target set for a service, either
// from a static node selector or from the placement of the service's
// pods.
package targets

import (
	"context"
	"fmt"
	"sort"

	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/labels"
	"sigs.k8s.io/controller-runtime/pkg/client"

	"github.com/robotlb/robotlb/internal/annotations"
	"github.com/robotlb/robotlb/internal/lbspec"
	"github.com/robotlb/robotlb/internal/nodefilter"
)

// Target is one backend entry on the cloud load balancer: the node's
// routing address and the node port traffic arrives on.
type Target struct {
	Address string
	Port    int
}

// Set is a deduplicated target set with stable ordering, so the same
// cluster state always produces the same sequence towards the cloud API.
type Set struct {
	targets map[Target]struct{}
}

// NewSet builds a Set from the given targets.
func NewSet(targets ...Target) Set {
	s := Set{targets: make(map[Target]struct{}, len(targets))}
	for _, t := range targets {
		s.targets[t] = struct{}{}
	}
	return s
}

// Add inserts a target, deduplicating by (address, port).
func (s *Set) Add(t Target) {
	if s.targets == nil {
		s.targets = make(map[Target]struct{})
	}
	s.targets[t] = struct{}{}
}

// Len returns the number of distinct targets.
func (s Set) Len() int { return len(s.targets) }

// Sorted returns the targets ordered by address, then port.
func (s Set) Sorted() []Target {
	out := make([]Target, 0, len(s.targets))
	for t := range s.targets {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Address != out[j].Address {
			return out[i].Address < out[j].Address
		}
		return out[i].Port < out[j].Port
	})
	return out
}

// Addresses returns the distinct target addresses in stable order.
func (s Set) Addresses() []string {
	seen := make(map[string]struct{}, len(s.targets))
	var out []string
	for _, t := range s.Sorted() {
		if _, ok := seen[t.Address]; ok {
			continue
		}
		seen[t.Address] = struct{}{}
		out = append(out, t.Address)
	}
	return out
}

// Equal compares two sets ignoring order.
func (s Set) Equal(other Set) bool {
	if len(s.targets) != len(other.targets) {
		return false
	}
	for t := range s.targets {
		if _, ok := other.targets[t]; !ok {
			return false
		}
	}
	return true
}

// PartialTargetsError reports nodes that had to be excluded because no
// routing address could be determined for them. The pass continues with
// the remaining targets.
type PartialTargetsError struct {
	ExcludedNodes []string
}

func (e *PartialTargetsError) Error() string {
	return fmt.Sprintf("no routing address for nodes %v, excluded from targets", e.ExcludedNodes)
}

// MissingSelectorError reports a service that cannot be resolved in the
// requested mode.
type MissingSelectorError struct {
	Mode string
}

func (e *MissingSelectorError) Error() string {
	return fmt.Sprintf("service has no %s selector, cannot resolve targets", e.Mode)
}

// Resolver computes target sets from a read-only cluster snapshot.
type Resolver struct {
	reader client.Reader
}

// NewResolver returns a Resolver reading cluster state through the given
// client.
func NewResolver(reader client.Reader) *Resolver {
	return &Resolver{reader: reader}
}

// Resolve returns the current target set for the service. A returned
// *PartialTargetsError accompanies a usable (possibly smaller) set; the
// caller records it as a warning and continues. Any other error aborts
// the pass. An empty set is a valid result.
func (r *Resolver) Resolve(ctx context.Context, svc *corev1.Service, spec *lbspec.DesiredLoadBalancerSpec) (Set, error) {
	var nodes []corev1.Node
	var err error

	switch spec.Selection.Mode {
	case lbspec.SelectionDynamic:
		nodes, err = r.nodesFromPods(ctx, svc)
	default:
		nodes, err = r.nodesFromRules(ctx, spec.Selection.Rules)
	}
	if err != nil {
		return Set{}, err
	}

	port := spec.Listeners[0].DestinationPort

	set := NewSet()
	var excluded []string
	for i := range nodes {
		addr := routingAddress(&nodes[i], spec.Network != "")
		if addr == "" {
			excluded = append(excluded, nodes[i].Name)
			continue
		}
		set.Add(Target{Address: addr, Port: port})
	}

	if len(excluded) > 0 {
		sort.Strings(excluded)
		return set, &PartialTargetsError{ExcludedNodes: excluded}
	}
	return set, nil
}

// nodesFromRules returns every node whose labels pass the rule set. An
// empty rule set matches every node.
func (r *Resolver) nodesFromRules(ctx context.Context, rules *nodefilter.Filter) ([]corev1.Node, error) {
	if rules == nil {
		rules = &nodefilter.Filter{}
	}
	nodeList := &corev1.NodeList{}
	if err := r.reader.List(ctx, nodeList); err != nil {
		return nil, fmt.Errorf("failed to list nodes: %w", err)
	}

	var matched []corev1.Node
	for _, node := range nodeList.Items {
		if rules.Matches(node.Labels) {
			matched = append(matched, node)
		}
	}
	return matched, nil
}

// nodesFromPods resolves the service's pod selector, keeps ready running
// pods, and returns the distinct set of their hosting nodes.
func (r *Resolver) nodesFromPods(ctx context.Context, svc *corev1.Service) ([]corev1.Node, error) {
	if len(svc.Spec.Selector) == 0 {
		return nil, &MissingSelectorError{Mode: "pod"}
	}

	podList := &corev1.PodList{}
	if err := r.reader.List(ctx, podList,
		client.InNamespace(svc.Namespace),
		client.MatchingLabelsSelector{Selector: labels.SelectorFromSet(svc.Spec.Selector)},
	); err != nil {
		return nil, fmt.Errorf("failed to list pods: %w", err)
	}

	nodeNames := make(map[string]struct{})
	for i := range podList.Items {
		pod := &podList.Items[i]
		if pod.Spec.NodeName == "" || !podIsReady(pod) {
			continue
		}
		nodeNames[pod.Spec.NodeName] = struct{}{}
	}

	nodeList := &corev1.NodeList{}
	if err := r.reader.List(ctx, nodeList); err != nil {
		return nil, fmt.Errorf("failed to list nodes: %w", err)
	}

	var matched []corev1.Node
	for _, node := range nodeList.Items {
		if _, ok := nodeNames[node.Name]; ok {
			matched = append(matched, node)
		}
	}
	return matched, nil
}

// routingAddress picks the address load balancer traffic is sent to.
// The robotlb/node-ip annotation wins; otherwise the internal address is
// used when the balancer sits on a private network and the external one
// when it does not.
func routingAddress(node *corev1.Node, privateNetwork bool) string {
	if addr := node.Annotations[annotations.NodeIP]; addr != "" {
		return addr
	}

	wanted := corev1.NodeExternalIP
	if privateNetwork {
		wanted = corev1.NodeInternalIP
	}
	for _, addr := range node.Status.Addresses {
		if addr.Type == wanted {
			return addr.Address
		}
	}
	return ""
}

func podIsReady(pod *corev1.Pod) bool {
	if pod.Status.Phase != corev1.PodRunning {
		return false
	}
	for _, cond := range pod.Status.Conditions {
		if cond.Type == corev1.PodReady {
			return cond.Status == corev1.ConditionTrue
		}
	}
	return false
}
