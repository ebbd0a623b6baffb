// Package hcloudapi wraps the Hetzner Cloud API behind the narrow
// interface the reconciler needs: label-based load balancer lookup and
// the individual mutations of a convergence plan.
package hcloudapi

import (
	"context"
	"net"
	"time"

	"github.com/hetznercloud/hcloud-go/v2/hcloud"
)

// Listener describes one TCP forwarding rule with its health check. The
// health check always probes the destination port.
type Listener struct {
	ListenPort      int
	DestinationPort int
	ProxyProtocol   bool
	CheckInterval   time.Duration
	CheckTimeout    time.Duration
	CheckRetries    int
}

// CreateOpts holds the creation-time parameters of a load balancer.
// Listeners and targets are added afterwards, op by op.
type CreateOpts struct {
	Name      string
	Type      string
	Location  string
	Algorithm hcloud.LoadBalancerAlgorithmType
	Labels    map[string]string
}

// Client is the cloud surface of the reconciler. Every method that
// mutates state waits for the backing action to complete, so a nil
// return means the change is visible to the next read.
type Client interface {
	// FindByLabels returns the load balancer matching the label
	// selector, nil when none exists. More than one match is an
	// error: the labels are the only link between a Service and its
	// balancer, and an ambiguous link must not be acted on.
	FindByLabels(ctx context.Context, selector map[string]string) (*hcloud.LoadBalancer, error)

	// Create provisions a new load balancer and returns it fully
	// populated, public IPs included.
	Create(ctx context.Context, opts CreateOpts) (*hcloud.LoadBalancer, error)

	// Delete removes the load balancer, retrying while it is locked.
	Delete(ctx context.Context, lb *hcloud.LoadBalancer) error

	// GetNetwork resolves a private network by name, nil when absent.
	GetNetwork(ctx context.Context, name string) (*hcloud.Network, error)

	AttachNetwork(ctx context.Context, lb *hcloud.LoadBalancer, network *hcloud.Network, ip net.IP) error
	DetachNetwork(ctx context.Context, lb *hcloud.LoadBalancer, networkID int64) error

	AddListener(ctx context.Context, lb *hcloud.LoadBalancer, listener Listener) error
	UpdateListener(ctx context.Context, lb *hcloud.LoadBalancer, listener Listener) error
	RemoveListener(ctx context.Context, lb *hcloud.LoadBalancer, listenPort int) error

	AddTarget(ctx context.Context, lb *hcloud.LoadBalancer, address string) error
	RemoveTarget(ctx context.Context, lb *hcloud.LoadBalancer, address string) error
}
