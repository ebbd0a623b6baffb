// Package annotations declares the canonical robotlb annotation and label
// keys recognized on Service and Node objects, and the labels robotlb puts
// on the cloud load balancers it owns.
package annotations

// Service annotations. All of them are optional; unset values fall back to
// the operator-wide defaults.
const (
	// BalancerName overrides the name of the cloud load balancer.
	// Defaults to the service name.
	BalancerName = "robotlb/balancer"

	// NodeSelector holds the static node selector rule string, e.g.
	// "role!=control-plane,arch=amd64". Required when the operator runs
	// with the dynamic node selector disabled.
	NodeSelector = "robotlb/node-selector"

	// Network names the cloud network the balancer should be attached to.
	Network = "robotlb/lb-network"

	// PrivateIP requests a static private IP inside the attached network.
	// Only valid together with a network.
	PrivateIP = "robotlb/lb-private-ip"

	// CheckInterval is the health check interval in seconds.
	CheckInterval = "robotlb/lb-check-interval"

	// CheckTimeout is the health check timeout in seconds.
	CheckTimeout = "robotlb/lb-timeout"

	// CheckRetries is the number of failed health checks before a target
	// is marked unhealthy.
	CheckRetries = "robotlb/lb-retries"

	// ProxyMode toggles the PROXY protocol on all listeners.
	ProxyMode = "robotlb/lb-proxy-mode"

	// Location is the cloud location code the balancer is created in.
	Location = "robotlb/lb-location"

	// BalancerType is the cloud load balancer type/tier, e.g. "lb11".
	BalancerType = "robotlb/balancer-type"

	// Algorithm selects the balancing algorithm, "round-robin" or
	// "least-connections".
	Algorithm = "robotlb/lb-algorithm"
)

// NodeIP is a Node annotation naming the address load balancer traffic
// should be routed to. It takes precedence over the node's reported
// addresses, which matters for bare-metal agents with several interfaces.
const NodeIP = "robotlb/node-ip"

// Finalizer guards service deletion until the cloud resource is gone.
const Finalizer = "robotlb/finalizer"

// Labels set on cloud load balancers to correlate them with the owning
// service. Lookups always go through these labels, never through cached
// cloud IDs, so balancers created by earlier process lifetimes are found.
const (
	LabelNamespace = "robotlb/namespace"
	LabelService   = "robotlb/service"
)

// CloudLabels returns the correlation labels for a service identity.
func CloudLabels(namespace, name string) map[string]string {
	return map[string]string{
		LabelNamespace: namespace,
		LabelService:   name,
	}
}
