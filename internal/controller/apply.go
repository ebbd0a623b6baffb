package controller

import (
	"context"
	"fmt"

	"github.com/hetznercloud/hcloud-go/v2/hcloud"
	corev1 "k8s.io/api/core/v1"
	"sigs.k8s.io/controller-runtime/pkg/log"

	"github.com/robotlb/robotlb/internal/annotations"
	"github.com/robotlb/robotlb/internal/hcloudapi"
	"github.com/robotlb/robotlb/internal/lbdiff"
	"github.com/robotlb/robotlb/internal/lbspec"
)

// applyPlan executes the plan against the cloud, in order, stopping at
// the first failure. The failed pass leaves the balancer in a valid
// intermediate state; the next pass recomputes the remainder from
// scratch.
func (r *ServiceReconciler) applyPlan(ctx context.Context, svc *corev1.Service, spec *lbspec.DesiredLoadBalancerSpec, network *hcloud.Network, plan *lbdiff.Plan, lb *hcloud.LoadBalancer) (*hcloud.LoadBalancer, error) {
	logger := log.FromContext(ctx)

	if plan.Create {
		created, err := r.Cloud.Create(ctx, hcloudapi.CreateOpts{
			Name:      spec.Name,
			Type:      spec.Type,
			Location:  spec.Location,
			Algorithm: lbdiff.AlgorithmToHCloud(spec.Algorithm),
			Labels:    annotations.CloudLabels(svc.Namespace, svc.Name),
		})
		if err != nil {
			return nil, fmt.Errorf("creating load balancer %q: %w", spec.Name, err)
		}
		r.event(svc, corev1.EventTypeNormal, "Created", fmt.Sprintf("created load balancer %q", created.Name))
		lb = created
	}

	for _, op := range plan.Ops {
		logger.V(1).Info("applying op", "op", op.Describe())
		if err := r.applyOp(ctx, spec, network, lb, op); err != nil {
			return nil, fmt.Errorf("applying %q: %w", op.Describe(), err)
		}
	}
	return lb, nil
}

func (r *ServiceReconciler) applyOp(ctx context.Context, spec *lbspec.DesiredLoadBalancerSpec, network *hcloud.Network, lb *hcloud.LoadBalancer, op lbdiff.Op) error {
	switch o := op.(type) {
	case lbdiff.DetachNetworkOp:
		return r.Cloud.DetachNetwork(ctx, lb, o.NetworkID)
	case lbdiff.AttachNetworkOp:
		return r.Cloud.AttachNetwork(ctx, lb, network, spec.PrivateIP)
	case lbdiff.RemoveListenerOp:
		return r.Cloud.RemoveListener(ctx, lb, o.ListenPort)
	case lbdiff.UpdateListenerOp:
		return r.Cloud.UpdateListener(ctx, lb, apiListener(spec, o.Listener))
	case lbdiff.AddListenerOp:
		return r.Cloud.AddListener(ctx, lb, apiListener(spec, o.Listener))
	case lbdiff.RemoveTargetOp:
		return r.Cloud.RemoveTarget(ctx, lb, o.Address)
	case lbdiff.AddTargetOp:
		return r.Cloud.AddTarget(ctx, lb, o.Address)
	default:
		return fmt.Errorf("unknown op %T", op)
	}
}

// apiListener combines a listener with the spec-wide health check and
// proxy protocol settings into the wire form.
func apiListener(spec *lbspec.DesiredLoadBalancerSpec, l lbspec.Listener) hcloudapi.Listener {
	return hcloudapi.Listener{
		ListenPort:      l.ListenPort,
		DestinationPort: l.DestinationPort,
		ProxyProtocol:   spec.ProxyMode,
		CheckInterval:   spec.HealthCheck.Interval,
		CheckTimeout:    spec.HealthCheck.Timeout,
		CheckRetries:    spec.HealthCheck.Retries,
	}
}
