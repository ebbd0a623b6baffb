package lbdiff

import (
	"github.com/hetznercloud/hcloud-go/v2/hcloud"

	"github.com/robotlb/robotlb/internal/lbspec"
)

// ObservedListener is the cloud-side view of one listener.
type ObservedListener struct {
	ListenPort      int
	DestinationPort int
	ProxyProtocol   bool
	HealthCheck     lbspec.HealthCheck
	HealthCheckPort int
	TCP             bool
}

// ObservedNetwork is one private network attachment of the balancer.
type ObservedNetwork struct {
	ID int64
	IP string
}

// Observed is the last-known cloud state of a balancer, rebuilt fresh at
// the start of every pass. The cloud is the source of truth for actual
// state; nothing here is cached across passes.
type Observed struct {
	ID        int64
	Name      string
	Algorithm lbspec.Algorithm
	Type      string
	Location  string
	Networks  []ObservedNetwork
	Listeners []ObservedListener
	Targets   []string

	PublicIPv4    string
	PublicIPv4Ptr string
	PublicIPv6    string
	PublicIPv6Ptr string
}

// FromHCloud converts the SDK load balancer object into the observed
// model the diff operates on. Returns nil for a nil input so callers can
// pass through "not found" directly.
func FromHCloud(lb *hcloud.LoadBalancer) *Observed {
	if lb == nil {
		return nil
	}

	o := &Observed{
		ID:        lb.ID,
		Name:      lb.Name,
		Algorithm: algorithmFromHCloud(lb.Algorithm.Type),
	}
	if lb.LoadBalancerType != nil {
		o.Type = lb.LoadBalancerType.Name
	}
	if lb.Location != nil {
		o.Location = lb.Location.Name
	}

	for _, pn := range lb.PrivateNet {
		net := ObservedNetwork{}
		if pn.Network != nil {
			net.ID = pn.Network.ID
		}
		if pn.IP != nil {
			net.IP = pn.IP.String()
		}
		o.Networks = append(o.Networks, net)
	}

	for _, svc := range lb.Services {
		o.Listeners = append(o.Listeners, ObservedListener{
			ListenPort:      svc.ListenPort,
			DestinationPort: svc.DestinationPort,
			ProxyProtocol:   svc.Proxyprotocol,
			HealthCheck: lbspec.HealthCheck{
				Interval: svc.HealthCheck.Interval,
				Timeout:  svc.HealthCheck.Timeout,
				Retries:  svc.HealthCheck.Retries,
			},
			HealthCheckPort: svc.HealthCheck.Port,
			TCP:             svc.Protocol == hcloud.LoadBalancerServiceProtocolTCP,
		})
	}

	for _, target := range lb.Targets {
		if target.Type != hcloud.LoadBalancerTargetTypeIP || target.IP == nil {
			continue
		}
		o.Targets = append(o.Targets, target.IP.IP)
	}

	if lb.PublicNet.IPv4.IP != nil {
		o.PublicIPv4 = lb.PublicNet.IPv4.IP.String()
		o.PublicIPv4Ptr = lb.PublicNet.IPv4.DNSPtr
	}
	if lb.PublicNet.IPv6.IP != nil {
		o.PublicIPv6 = lb.PublicNet.IPv6.IP.String()
		o.PublicIPv6Ptr = lb.PublicNet.IPv6.DNSPtr
	}

	return o
}

func algorithmFromHCloud(t hcloud.LoadBalancerAlgorithmType) lbspec.Algorithm {
	if t == hcloud.LoadBalancerAlgorithmTypeLeastConnections {
		return lbspec.AlgorithmLeastConnections
	}
	return lbspec.AlgorithmRoundRobin
}

// AlgorithmToHCloud maps the spec algorithm onto the SDK constant.
func AlgorithmToHCloud(a lbspec.Algorithm) hcloud.LoadBalancerAlgorithmType {
	if a == lbspec.AlgorithmLeastConnections {
		return hcloud.LoadBalancerAlgorithmTypeLeastConnections
	}
	return hcloud.LoadBalancerAlgorithmTypeRoundRobin
}
