package controller

import (
	"context"

	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/api/meta"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/utils/ptr"
	"sigs.k8s.io/controller-runtime/pkg/client"

	"github.com/robotlb/robotlb/internal/lbdiff"
	"github.com/robotlb/robotlb/internal/lbspec"
)

// ConditionReady is the single condition this controller maintains on
// the service status.
const ConditionReady = "robotlb.io/Ready"

// patchStatus publishes the balancer's ingress addresses and a
// Ready=True condition on the service status.
func (r *ServiceReconciler) patchStatus(ctx context.Context, svc *corev1.Service, spec *lbspec.DesiredLoadBalancerSpec, observed *lbdiff.Observed) error {
	base := svc.DeepCopy()

	var ingress []corev1.LoadBalancerIngress
	if observed != nil {
		if observed.PublicIPv4 != "" {
			ingress = append(ingress, corev1.LoadBalancerIngress{
				IP:       observed.PublicIPv4,
				Hostname: observed.PublicIPv4Ptr,
				IPMode:   ptr.To(corev1.LoadBalancerIPModeVIP),
			})
		}
		if spec.IPv6Ingress && observed.PublicIPv6 != "" {
			ingress = append(ingress, corev1.LoadBalancerIngress{
				IP:       observed.PublicIPv6,
				Hostname: observed.PublicIPv6Ptr,
				IPMode:   ptr.To(corev1.LoadBalancerIPModeVIP),
			})
		}
	}
	svc.Status.LoadBalancer = corev1.LoadBalancerStatus{Ingress: ingress}

	meta.SetStatusCondition(&svc.Status.Conditions, metav1.Condition{
		Type:               ConditionReady,
		Status:             metav1.ConditionTrue,
		Reason:             "Reconciled",
		Message:            "load balancer is converged",
		ObservedGeneration: svc.Generation,
	})

	return r.Status().Patch(ctx, svc, client.MergeFrom(base))
}

// patchCondition updates only the Ready condition, leaving the ingress
// addresses as they were: a failed pass does not retract a previously
// published address.
func (r *ServiceReconciler) patchCondition(ctx context.Context, svc *corev1.Service, cond metav1.Condition) error {
	base := svc.DeepCopy()
	meta.SetStatusCondition(&svc.Status.Conditions, cond)
	return r.Status().Patch(ctx, svc, client.MergeFrom(base))
}

func conditionNotReady(svc *corev1.Service, reason string, err error) metav1.Condition {
	return metav1.Condition{
		Type:               ConditionReady,
		Status:             metav1.ConditionFalse,
		Reason:             reason,
		Message:            err.Error(),
		ObservedGeneration: svc.Generation,
	}
}
