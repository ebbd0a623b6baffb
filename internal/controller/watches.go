package controller

import (
	"context"

	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/labels"
	"k8s.io/apimachinery/pkg/types"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/reconcile"
)

// nodeToServices enqueues every LoadBalancer service when a node
// changes. Node labels and addresses feed into every target set, so
// there is no cheaper mapping; the work queue coalesces the burst.
func (r *ServiceReconciler) nodeToServices(ctx context.Context, _ client.Object) []reconcile.Request {
	services := &corev1.ServiceList{}
	if err := r.List(ctx, services); err != nil {
		r.log.Error(err, "failed to list services for node event")
		return nil
	}

	var reqs []reconcile.Request
	for _, svc := range services.Items {
		if svc.Spec.Type != corev1.ServiceTypeLoadBalancer {
			continue
		}
		reqs = append(reqs, reconcile.Request{NamespacedName: types.NamespacedName{
			Namespace: svc.Namespace,
			Name:      svc.Name,
		}})
	}
	return reqs
}

// podToServices enqueues the LoadBalancer services in the pod's
// namespace whose selector matches the pod. Only dynamic target
// selection cares about pods, but selection mode is a config concern
// the mapping does not know; an extra pass is a no-op.
func (r *ServiceReconciler) podToServices(ctx context.Context, obj client.Object) []reconcile.Request {
	pod, ok := obj.(*corev1.Pod)
	if !ok {
		return nil
	}

	services := &corev1.ServiceList{}
	if err := r.List(ctx, services, client.InNamespace(pod.Namespace)); err != nil {
		r.log.Error(err, "failed to list services for pod event")
		return nil
	}

	var reqs []reconcile.Request
	for _, svc := range services.Items {
		if svc.Spec.Type != corev1.ServiceTypeLoadBalancer || len(svc.Spec.Selector) == 0 {
			continue
		}
		if !labels.SelectorFromSet(svc.Spec.Selector).Matches(labels.Set(pod.Labels)) {
			continue
		}
		reqs = append(reqs, reconcile.Request{NamespacedName: types.NamespacedName{
			Namespace: svc.Namespace,
			Name:      svc.Name,
		}})
	}
	return reqs
}
