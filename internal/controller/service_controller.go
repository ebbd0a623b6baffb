// Package controller contains the Kubernetes controller that keeps cloud
// load balancers converged with Services of type LoadBalancer.
package controller

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-logr/logr"
	"github.com/hetznercloud/hcloud-go/v2/hcloud"
	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/client-go/tools/record"
	"k8s.io/client-go/util/workqueue"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/controller"
	"sigs.k8s.io/controller-runtime/pkg/controller/controllerutil"
	"sigs.k8s.io/controller-runtime/pkg/handler"
	"sigs.k8s.io/controller-runtime/pkg/log"
	"sigs.k8s.io/controller-runtime/pkg/reconcile"

	"github.com/robotlb/robotlb/internal/annotations"
	"github.com/robotlb/robotlb/internal/config"
	"github.com/robotlb/robotlb/internal/hcloudapi"
	"github.com/robotlb/robotlb/internal/lbdiff"
	"github.com/robotlb/robotlb/internal/lbspec"
	"github.com/robotlb/robotlb/internal/targets"
)

// Backoff bounds for failed reconciliations. Failures back off per
// service; a broken service never starves the others.
const (
	retryBaseDelay = 5 * time.Second
	retryMaxDelay  = 5 * time.Minute
)

// ServiceReconciler reconciles Services of type LoadBalancer against the
// Hetzner Cloud API.
type ServiceReconciler struct {
	client.Client
	Recorder record.EventRecorder
	Cloud    hcloudapi.Client
	Defaults config.Defaults

	log     logr.Logger
	targets *targets.Resolver
}

// Option configures a ServiceReconciler.
type Option func(*ServiceReconciler)

// WithRecorder sets the event recorder. Mainly for tests; SetupWithManager
// wires the manager's recorder otherwise.
func WithRecorder(rec record.EventRecorder) Option {
	return func(r *ServiceReconciler) {
		r.Recorder = rec
	}
}

// NewServiceReconciler creates a ServiceReconciler.
func NewServiceReconciler(c client.Client, cloud hcloudapi.Client, defaults config.Defaults, opts ...Option) *ServiceReconciler {
	r := &ServiceReconciler{
		Client:   c,
		Cloud:    cloud,
		Defaults: defaults,
		log:      ctrl.Log.WithName("service-controller"),
		targets:  targets.NewResolver(c),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// +kubebuilder:rbac:groups="",resources=services,verbs=get;list;watch;update;patch
// +kubebuilder:rbac:groups="",resources=services/status,verbs=get;update;patch
// +kubebuilder:rbac:groups="",resources=nodes,verbs=get;list;watch
// +kubebuilder:rbac:groups="",resources=pods,verbs=get;list;watch
// +kubebuilder:rbac:groups="",resources=events,verbs=create;patch

// Reconcile drives one service towards its desired cloud state. The
// whole pass is stateless: desired state is derived from the service,
// actual state is read fresh from the cloud, and the diff between the
// two is applied in order.
func (r *ServiceReconciler) Reconcile(ctx context.Context, req ctrl.Request) (ctrl.Result, error) {
	logger := log.FromContext(ctx)
	start := time.Now()

	svc := &corev1.Service{}
	if err := r.Get(ctx, req.NamespacedName, svc); err != nil {
		if apierrors.IsNotFound(err) {
			// Object gone. The finalizer guarantees the cloud side was
			// already cleaned up.
			return ctrl.Result{}, nil
		}
		return ctrl.Result{}, err
	}

	if !svc.DeletionTimestamp.IsZero() {
		return r.finalize(ctx, svc)
	}

	if svc.Spec.Type != corev1.ServiceTypeLoadBalancer {
		// The service may have been converted away from LoadBalancer
		// after we provisioned for it.
		return r.releaseIfManaged(ctx, svc)
	}

	if !controllerutil.ContainsFinalizer(svc, annotations.Finalizer) {
		controllerutil.AddFinalizer(svc, annotations.Finalizer)
		if err := r.Update(ctx, svc); err != nil {
			return ctrl.Result{}, err
		}
	}

	result, err := r.reconcile(ctx, svc)

	elapsed := time.Since(start).Seconds()
	switch {
	case err != nil:
		recordReconcile(resultTransient, elapsed)
	case result.outcome != "":
		recordReconcile(result.outcome, elapsed)
	default:
		recordReconcile(resultSuccess, elapsed)
	}
	if err != nil {
		logger.Error(err, "reconciliation failed, backing off")
		return ctrl.Result{}, err
	}
	return result.Result, nil
}

// passResult carries the queue result plus the metric outcome of one
// pass.
type passResult struct {
	ctrl.Result
	outcome string
}

// halt records a permanent failure: event, Ready=False condition, and no
// requeue beyond the periodic resync. Only the next change to the inputs
// (or the resync) triggers another attempt.
func (r *ServiceReconciler) halt(ctx context.Context, svc *corev1.Service, outcome, reason string, err error) (passResult, error) {
	log.FromContext(ctx).Info("giving up on pass", "reason", reason, "error", err)
	r.event(svc, corev1.EventTypeWarning, reason, err.Error())
	if serr := r.patchCondition(ctx, svc, conditionNotReady(svc, reason, err)); serr != nil {
		return passResult{}, serr
	}
	return passResult{Result: ctrl.Result{RequeueAfter: r.Defaults.ResyncPeriod}, outcome: outcome}, nil
}

func (r *ServiceReconciler) reconcile(ctx context.Context, svc *corev1.Service) (passResult, error) {
	logger := log.FromContext(ctx)

	spec, warnings, err := lbspec.Resolve(svc, r.Defaults)
	for _, w := range warnings {
		r.event(svc, corev1.EventTypeWarning, "PortSkipped", w)
	}
	if err != nil {
		return r.halt(ctx, svc, resultConfig, "InvalidConfiguration", err)
	}

	tset, err := r.targets.Resolve(ctx, svc, spec)
	if err != nil {
		var partial *targets.PartialTargetsError
		var missing *targets.MissingSelectorError
		switch {
		case errors.As(err, &partial):
			// Keep going with the nodes that do have an address.
			r.event(svc, corev1.EventTypeWarning, "TargetsExcluded", partial.Error())
		case errors.As(err, &missing):
			return r.halt(ctx, svc, resultConfig, "InvalidConfiguration", err)
		default:
			return passResult{}, fmt.Errorf("resolving targets: %w", err)
		}
	}

	lb, err := r.Cloud.FindByLabels(ctx, annotations.CloudLabels(svc.Namespace, svc.Name))
	if err != nil {
		var dup *hcloudapi.DuplicateLoadBalancerError
		if errors.As(err, &dup) {
			return r.halt(ctx, svc, resultPermanent, "DuplicateLoadBalancers", err)
		}
		return passResult{}, fmt.Errorf("looking up load balancer: %w", err)
	}

	var network *hcloud.Network
	if spec.Network != "" {
		network, err = r.Cloud.GetNetwork(ctx, spec.Network)
		if err != nil {
			return passResult{}, fmt.Errorf("resolving network %q: %w", spec.Network, err)
		}
		if network == nil {
			return r.halt(ctx, svc, resultPermanent, "NetworkNotFound",
				fmt.Errorf("network %q does not exist", spec.Network))
		}
	}
	var networkID int64
	if network != nil {
		networkID = network.ID
	}

	plan, err := lbdiff.Diff(spec, networkID, tset, lbdiff.FromHCloud(lb))
	if err != nil {
		var immutable *lbdiff.ImmutableFieldError
		if errors.As(err, &immutable) {
			return r.halt(ctx, svc, resultPermanent, "ImmutableFieldChanged", err)
		}
		return passResult{}, err
	}

	if !plan.IsNoOp() {
		logger.Info("applying plan", "create", plan.Create, "ops", len(plan.Ops))
		lb, err = r.applyPlan(ctx, svc, spec, network, plan, lb)
		if err != nil {
			if hcloudapi.IsPermanent(err) {
				return r.halt(ctx, svc, resultPermanent, "CloudAPIError", err)
			}
			return passResult{}, err
		}
		// Re-read so the status reflects what the ops produced.
		lb, err = r.Cloud.FindByLabels(ctx, annotations.CloudLabels(svc.Namespace, svc.Name))
		if err != nil {
			return passResult{}, fmt.Errorf("re-reading load balancer: %w", err)
		}
	}

	if err := r.patchStatus(ctx, svc, spec, lbdiff.FromHCloud(lb)); err != nil {
		return passResult{}, fmt.Errorf("patching status: %w", err)
	}
	recordTargets(serviceKey(svc), tset.Len())

	return passResult{Result: ctrl.Result{RequeueAfter: r.Defaults.ResyncPeriod}}, nil
}

// finalize tears down the cloud side before the service is allowed to
// disappear. Deleting an already-absent balancer succeeds.
func (r *ServiceReconciler) finalize(ctx context.Context, svc *corev1.Service) (ctrl.Result, error) {
	if !controllerutil.ContainsFinalizer(svc, annotations.Finalizer) {
		return ctrl.Result{}, nil
	}

	if err := r.deleteLoadBalancer(ctx, svc); err != nil {
		return ctrl.Result{}, err
	}

	controllerutil.RemoveFinalizer(svc, annotations.Finalizer)
	if err := r.Update(ctx, svc); err != nil {
		return ctrl.Result{}, err
	}
	forgetTargets(serviceKey(svc))
	recordReconcile(resultDeleted, 0)
	return ctrl.Result{}, nil
}

// releaseIfManaged handles a service that is no longer of type
// LoadBalancer but still carries our finalizer from the time it was.
func (r *ServiceReconciler) releaseIfManaged(ctx context.Context, svc *corev1.Service) (ctrl.Result, error) {
	if !controllerutil.ContainsFinalizer(svc, annotations.Finalizer) {
		return ctrl.Result{}, nil
	}

	if err := r.deleteLoadBalancer(ctx, svc); err != nil {
		return ctrl.Result{}, err
	}

	controllerutil.RemoveFinalizer(svc, annotations.Finalizer)
	svc.Status.LoadBalancer = corev1.LoadBalancerStatus{}
	if err := r.Status().Update(ctx, svc); err != nil && !apierrors.IsNotFound(err) {
		log.FromContext(ctx).Error(err, "failed to clear status")
	}
	if err := r.Update(ctx, svc); err != nil {
		return ctrl.Result{}, err
	}
	forgetTargets(serviceKey(svc))
	r.event(svc, corev1.EventTypeNormal, "Released", "cloud load balancer released, service is no longer of type LoadBalancer")
	return ctrl.Result{}, nil
}

// serviceKey is the metric label identifying a service across passes.
func serviceKey(svc *corev1.Service) string {
	return svc.Namespace + "/" + svc.Name
}

// deleteLoadBalancer removes the balancer correlated with the service,
// if any. Ambiguous correlation is reported but does not block the
// service forever: the leftover balancers need manual cleanup either
// way.
func (r *ServiceReconciler) deleteLoadBalancer(ctx context.Context, svc *corev1.Service) error {
	lb, err := r.Cloud.FindByLabels(ctx, annotations.CloudLabels(svc.Namespace, svc.Name))
	if err != nil {
		var dup *hcloudapi.DuplicateLoadBalancerError
		if errors.As(err, &dup) {
			r.event(svc, corev1.EventTypeWarning, "DuplicateLoadBalancers",
				fmt.Sprintf("not deleting automatically: %v", err))
			return nil
		}
		return fmt.Errorf("looking up load balancer for deletion: %w", err)
	}
	if lb == nil {
		return nil
	}
	if err := r.Cloud.Delete(ctx, lb); err != nil {
		return fmt.Errorf("deleting load balancer %d: %w", lb.ID, err)
	}
	r.event(svc, corev1.EventTypeNormal, "Deleted", fmt.Sprintf("deleted load balancer %q", lb.Name))
	return nil
}

func (r *ServiceReconciler) event(svc *corev1.Service, eventType, reason, message string) {
	if r.Recorder != nil {
		r.Recorder.Event(svc, eventType, reason, message)
	}
}

// SetupWithManager registers the controller. Node and pod events fan
// back in to the services whose target set they may change.
func (r *ServiceReconciler) SetupWithManager(mgr ctrl.Manager) error {
	if r.Recorder == nil {
		r.Recorder = mgr.GetEventRecorderFor("robotlb")
	}
	return ctrl.NewControllerManagedBy(mgr).
		For(&corev1.Service{}).
		Watches(&corev1.Node{}, handler.EnqueueRequestsFromMapFunc(r.nodeToServices)).
		Watches(&corev1.Pod{}, handler.EnqueueRequestsFromMapFunc(r.podToServices)).
		WithOptions(controller.Options{
			MaxConcurrentReconciles: r.Defaults.MaxConcurrentReconciles,
			RateLimiter: workqueue.NewTypedItemExponentialFailureRateLimiter[reconcile.Request](
				retryBaseDelay, retryMaxDelay),
		}).
		Complete(r)
}
