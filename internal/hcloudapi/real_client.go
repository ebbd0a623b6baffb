package hcloudapi

import (
	"context"
	"fmt"
	"net"
	"sort"
	"strings"
	"time"

	"github.com/hetznercloud/hcloud-go/v2/hcloud"

	"github.com/robotlb/robotlb/internal/retry"
)

// RealClient implements Client against the Hetzner Cloud API.
type RealClient struct {
	client *hcloud.Client
}

// ClientOption configures a RealClient.
type ClientOption func(*RealClient)

// WithHCloudClient sets a custom hcloud client (useful for testing).
func WithHCloudClient(hc *hcloud.Client) ClientOption {
	return func(c *RealClient) {
		c.client = hc
	}
}

// NewRealClient creates a RealClient authenticated with the given token.
func NewRealClient(token, version string, opts ...ClientOption) *RealClient {
	c := &RealClient{
		client: hcloud.NewClient(
			hcloud.WithToken(token),
			hcloud.WithApplication("robotlb", version),
		),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// FindByLabels returns the load balancer matching the selector, nil when
// none exists, and a DuplicateLoadBalancerError when more than one does.
func (c *RealClient) FindByLabels(ctx context.Context, selector map[string]string) (lb *hcloud.LoadBalancer, err error) {
	start := time.Now()
	defer func() { observe("find_load_balancer", start, err) }()

	lbs, err := c.client.LoadBalancer.AllWithOpts(ctx, hcloud.LoadBalancerListOpts{
		ListOpts: hcloud.ListOpts{LabelSelector: labelSelectorString(selector)},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list load balancers: %w", err)
	}

	switch len(lbs) {
	case 0:
		return nil, nil
	case 1:
		return lbs[0], nil
	default:
		return nil, &DuplicateLoadBalancerError{Selector: selector, Count: len(lbs)}
	}
}

// Create provisions a load balancer and re-reads it once the creation
// action finishes, so the returned object carries the assigned public
// IPs.
func (c *RealClient) Create(ctx context.Context, opts CreateOpts) (lb *hcloud.LoadBalancer, err error) {
	start := time.Now()
	defer func() { observe("create_load_balancer", start, err) }()

	lbType, _, err := c.client.LoadBalancerType.Get(ctx, opts.Type)
	if err != nil {
		return nil, fmt.Errorf("failed to get load balancer type %q: %w", opts.Type, err)
	}
	if lbType == nil {
		return nil, hcloud.Error{Code: hcloud.ErrorCodeInvalidInput, Message: fmt.Sprintf("unknown load balancer type %q", opts.Type)}
	}
	location, _, err := c.client.Location.Get(ctx, opts.Location)
	if err != nil {
		return nil, fmt.Errorf("failed to get location %q: %w", opts.Location, err)
	}
	if location == nil {
		return nil, hcloud.Error{Code: hcloud.ErrorCodeInvalidInput, Message: fmt.Sprintf("unknown location %q", opts.Location)}
	}

	res, _, err := c.client.LoadBalancer.Create(ctx, hcloud.LoadBalancerCreateOpts{
		Name:             opts.Name,
		LoadBalancerType: lbType,
		Location:         location,
		Algorithm:        &hcloud.LoadBalancerAlgorithm{Type: opts.Algorithm},
		Labels:           opts.Labels,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create load balancer: %w", err)
	}
	if err := c.client.Action.WaitFor(ctx, res.Action); err != nil {
		return nil, fmt.Errorf("failed to wait for load balancer creation: %w", err)
	}

	// The create response carries no public IPs yet.
	created, _, err := c.client.LoadBalancer.GetByID(ctx, res.LoadBalancer.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to read back load balancer %d: %w", res.LoadBalancer.ID, err)
	}
	if created == nil {
		return nil, fmt.Errorf("load balancer %d vanished right after creation", res.LoadBalancer.ID)
	}
	return created, nil
}

// Delete removes the load balancer, retrying while a concurrent action
// holds it locked.
func (c *RealClient) Delete(ctx context.Context, lb *hcloud.LoadBalancer) (err error) {
	start := time.Now()
	defer func() { observe("delete_load_balancer", start, err) }()

	err = retry.WithExponentialBackoff(ctx, func() error {
		_, derr := c.client.LoadBalancer.Delete(ctx, lb)
		if derr == nil || IsNotFound(derr) {
			return nil
		}
		if isResourceLocked(derr) {
			return derr
		}
		return retry.Fatal(derr)
	}, retry.WithMaxRetries(4), retry.WithInitialDelay(500*time.Millisecond))
	return err
}

// GetNetwork resolves a private network by name, nil when absent.
func (c *RealClient) GetNetwork(ctx context.Context, name string) (network *hcloud.Network, err error) {
	start := time.Now()
	defer func() { observe("get_network", start, err) }()

	network, _, err = c.client.Network.Get(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("failed to get network %q: %w", name, err)
	}
	return network, nil
}

func (c *RealClient) AttachNetwork(ctx context.Context, lb *hcloud.LoadBalancer, network *hcloud.Network, ip net.IP) (err error) {
	start := time.Now()
	defer func() { observe("attach_network", start, err) }()

	action, _, err := c.client.LoadBalancer.AttachToNetwork(ctx, lb, hcloud.LoadBalancerAttachToNetworkOpts{
		Network: network,
		IP:      ip,
	})
	if err != nil {
		return fmt.Errorf("failed to attach load balancer to network %q: %w", network.Name, err)
	}
	return c.client.Action.WaitFor(ctx, action)
}

func (c *RealClient) DetachNetwork(ctx context.Context, lb *hcloud.LoadBalancer, networkID int64) (err error) {
	start := time.Now()
	defer func() { observe("detach_network", start, err) }()

	action, _, err := c.client.LoadBalancer.DetachFromNetwork(ctx, lb, hcloud.LoadBalancerDetachFromNetworkOpts{
		Network: &hcloud.Network{ID: networkID},
	})
	if err != nil {
		return fmt.Errorf("failed to detach load balancer from network %d: %w", networkID, err)
	}
	return c.client.Action.WaitFor(ctx, action)
}

func (c *RealClient) AddListener(ctx context.Context, lb *hcloud.LoadBalancer, listener Listener) (err error) {
	start := time.Now()
	defer func() { observe("add_service", start, err) }()

	action, _, err := c.client.LoadBalancer.AddService(ctx, lb, hcloud.LoadBalancerAddServiceOpts{
		Protocol:        hcloud.LoadBalancerServiceProtocolTCP,
		ListenPort:      hcloud.Ptr(listener.ListenPort),
		DestinationPort: hcloud.Ptr(listener.DestinationPort),
		Proxyprotocol:   hcloud.Ptr(listener.ProxyProtocol),
		HealthCheck: &hcloud.LoadBalancerAddServiceOptsHealthCheck{
			Protocol: hcloud.LoadBalancerServiceProtocolTCP,
			Port:     hcloud.Ptr(listener.DestinationPort),
			Interval: hcloud.Ptr(listener.CheckInterval),
			Timeout:  hcloud.Ptr(listener.CheckTimeout),
			Retries:  hcloud.Ptr(listener.CheckRetries),
		},
	})
	if err != nil {
		return fmt.Errorf("failed to add service on port %d: %w", listener.ListenPort, err)
	}
	return c.client.Action.WaitFor(ctx, action)
}

func (c *RealClient) UpdateListener(ctx context.Context, lb *hcloud.LoadBalancer, listener Listener) (err error) {
	start := time.Now()
	defer func() { observe("update_service", start, err) }()

	action, _, err := c.client.LoadBalancer.UpdateService(ctx, lb, listener.ListenPort, hcloud.LoadBalancerUpdateServiceOpts{
		DestinationPort: hcloud.Ptr(listener.DestinationPort),
		Proxyprotocol:   hcloud.Ptr(listener.ProxyProtocol),
		HealthCheck: &hcloud.LoadBalancerUpdateServiceOptsHealthCheck{
			Protocol: hcloud.LoadBalancerServiceProtocolTCP,
			Port:     hcloud.Ptr(listener.DestinationPort),
			Interval: hcloud.Ptr(listener.CheckInterval),
			Timeout:  hcloud.Ptr(listener.CheckTimeout),
			Retries:  hcloud.Ptr(listener.CheckRetries),
		},
	})
	if err != nil {
		return fmt.Errorf("failed to update service on port %d: %w", listener.ListenPort, err)
	}
	return c.client.Action.WaitFor(ctx, action)
}

func (c *RealClient) RemoveListener(ctx context.Context, lb *hcloud.LoadBalancer, listenPort int) (err error) {
	start := time.Now()
	defer func() { observe("delete_service", start, err) }()

	action, _, err := c.client.LoadBalancer.DeleteService(ctx, lb, listenPort)
	if err != nil {
		return fmt.Errorf("failed to delete service on port %d: %w", listenPort, err)
	}
	return c.client.Action.WaitFor(ctx, action)
}

func (c *RealClient) AddTarget(ctx context.Context, lb *hcloud.LoadBalancer, address string) (err error) {
	start := time.Now()
	defer func() { observe("add_target", start, err) }()

	ip := net.ParseIP(address)
	if ip == nil {
		return hcloud.Error{Code: hcloud.ErrorCodeInvalidInput, Message: fmt.Sprintf("invalid target address %q", address)}
	}
	action, _, err := c.client.LoadBalancer.AddIPTarget(ctx, lb, hcloud.LoadBalancerAddIPTargetOpts{IP: ip})
	if err != nil {
		return fmt.Errorf("failed to add target %s: %w", address, err)
	}
	return c.client.Action.WaitFor(ctx, action)
}

func (c *RealClient) RemoveTarget(ctx context.Context, lb *hcloud.LoadBalancer, address string) (err error) {
	start := time.Now()
	defer func() { observe("remove_target", start, err) }()

	ip := net.ParseIP(address)
	if ip == nil {
		return hcloud.Error{Code: hcloud.ErrorCodeInvalidInput, Message: fmt.Sprintf("invalid target address %q", address)}
	}
	action, _, err := c.client.LoadBalancer.RemoveIPTarget(ctx, lb, ip)
	if err != nil {
		return fmt.Errorf("failed to remove target %s: %w", address, err)
	}
	return c.client.Action.WaitFor(ctx, action)
}

// labelSelectorString renders a label map as the comma-joined key=value
// selector the list API expects, in deterministic order.
func labelSelectorString(labels map[string]string) string {
	parts := make([]string, 0, len(labels))
	for k, v := range labels {
		parts = append(parts, k+"="+v)
	}
	sort.Strings(parts)
	return strings.Join(parts, ",")
}
