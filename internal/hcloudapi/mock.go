package hcloudapi

import (
	"context"
	"net"

	"github.com/hetznercloud/hcloud-go/v2/hcloud"
)

// MockClient is a mock implementation of Client. Each method delegates
// to its Func field when set and returns a benign default otherwise.
// Calls records the method names in invocation order so tests can assert
// which mutations a reconciliation pass performed.
type MockClient struct {
	FindByLabelsFunc   func(ctx context.Context, selector map[string]string) (*hcloud.LoadBalancer, error)
	CreateFunc         func(ctx context.Context, opts CreateOpts) (*hcloud.LoadBalancer, error)
	DeleteFunc         func(ctx context.Context, lb *hcloud.LoadBalancer) error
	GetNetworkFunc     func(ctx context.Context, name string) (*hcloud.Network, error)
	AttachNetworkFunc  func(ctx context.Context, lb *hcloud.LoadBalancer, network *hcloud.Network, ip net.IP) error
	DetachNetworkFunc  func(ctx context.Context, lb *hcloud.LoadBalancer, networkID int64) error
	AddListenerFunc    func(ctx context.Context, lb *hcloud.LoadBalancer, listener Listener) error
	UpdateListenerFunc func(ctx context.Context, lb *hcloud.LoadBalancer, listener Listener) error
	RemoveListenerFunc func(ctx context.Context, lb *hcloud.LoadBalancer, listenPort int) error
	AddTargetFunc      func(ctx context.Context, lb *hcloud.LoadBalancer, address string) error
	RemoveTargetFunc   func(ctx context.Context, lb *hcloud.LoadBalancer, address string) error

	Calls []string
}

func (m *MockClient) record(name string) {
	m.Calls = append(m.Calls, name)
}

func (m *MockClient) FindByLabels(ctx context.Context, selector map[string]string) (*hcloud.LoadBalancer, error) {
	m.record("FindByLabels")
	if m.FindByLabelsFunc != nil {
		return m.FindByLabelsFunc(ctx, selector)
	}
	return nil, nil
}

func (m *MockClient) Create(ctx context.Context, opts CreateOpts) (*hcloud.LoadBalancer, error) {
	m.record("Create")
	if m.CreateFunc != nil {
		return m.CreateFunc(ctx, opts)
	}
	return &hcloud.LoadBalancer{ID: 1, Name: opts.Name}, nil
}

func (m *MockClient) Delete(ctx context.Context, lb *hcloud.LoadBalancer) error {
	m.record("Delete")
	if m.DeleteFunc != nil {
		return m.DeleteFunc(ctx, lb)
	}
	return nil
}

func (m *MockClient) GetNetwork(ctx context.Context, name string) (*hcloud.Network, error) {
	m.record("GetNetwork")
	if m.GetNetworkFunc != nil {
		return m.GetNetworkFunc(ctx, name)
	}
	return &hcloud.Network{ID: 1, Name: name}, nil
}

func (m *MockClient) AttachNetwork(ctx context.Context, lb *hcloud.LoadBalancer, network *hcloud.Network, ip net.IP) error {
	m.record("AttachNetwork")
	if m.AttachNetworkFunc != nil {
		return m.AttachNetworkFunc(ctx, lb, network, ip)
	}
	return nil
}

func (m *MockClient) DetachNetwork(ctx context.Context, lb *hcloud.LoadBalancer, networkID int64) error {
	m.record("DetachNetwork")
	if m.DetachNetworkFunc != nil {
		return m.DetachNetworkFunc(ctx, lb, networkID)
	}
	return nil
}

func (m *MockClient) AddListener(ctx context.Context, lb *hcloud.LoadBalancer, listener Listener) error {
	m.record("AddListener")
	if m.AddListenerFunc != nil {
		return m.AddListenerFunc(ctx, lb, listener)
	}
	return nil
}

func (m *MockClient) UpdateListener(ctx context.Context, lb *hcloud.LoadBalancer, listener Listener) error {
	m.record("UpdateListener")
	if m.UpdateListenerFunc != nil {
		return m.UpdateListenerFunc(ctx, lb, listener)
	}
	return nil
}

func (m *MockClient) RemoveListener(ctx context.Context, lb *hcloud.LoadBalancer, listenPort int) error {
	m.record("RemoveListener")
	if m.RemoveListenerFunc != nil {
		return m.RemoveListenerFunc(ctx, lb, listenPort)
	}
	return nil
}

func (m *MockClient) AddTarget(ctx context.Context, lb *hcloud.LoadBalancer, address string) error {
	m.record("AddTarget")
	if m.AddTargetFunc != nil {
		return m.AddTargetFunc(ctx, lb, address)
	}
	return nil
}

func (m *MockClient) RemoveTarget(ctx context.Context, lb *hcloud.LoadBalancer, address string) error {
	m.record("RemoveTarget")
	if m.RemoveTargetFunc != nil {
		return m.RemoveTargetFunc(ctx, lb, address)
	}
	return nil
}

// Mutations returns the recorded calls that change cloud state, in
// order. Read-only lookups are filtered out.
func (m *MockClient) Mutations() []string {
	var out []string
	for _, c := range m.Calls {
		switch c {
		case "FindByLabels", "GetNetwork":
		default:
			out = append(out, c)
		}
	}
	return out
}

var _ Client = (*MockClient)(nil)
