package controller

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/types"
	"sigs.k8s.io/controller-runtime/pkg/reconcile"

	"github.com/robotlb/robotlb/internal/hcloudapi"
)

func TestNodeToServices(t *testing.T) {
	clusterIP := testService(func(s *corev1.Service) {
		s.Name = "internal"
		s.Spec.Type = corev1.ServiceTypeClusterIP
	})
	f := newFixture(t, &hcloudapi.MockClient{}, testService(), clusterIP, testNode("n1", "203.0.113.10"))

	reqs := f.reconciler.nodeToServices(context.Background(), testNode("n1", "203.0.113.10"))

	assert.Equal(t, []reconcile.Request{
		{NamespacedName: types.NamespacedName{Namespace: "default", Name: "web"}},
	}, reqs, "only LoadBalancer services are enqueued")
}

func TestPodToServices(t *testing.T) {
	matching := testService(func(s *corev1.Service) {
		s.Spec.Selector = map[string]string{"app": "web"}
	})
	other := testService(func(s *corev1.Service) {
		s.Name = "api"
		s.Spec.Selector = map[string]string{"app": "api"}
	})
	pod := &corev1.Pod{
		ObjectMeta: metav1.ObjectMeta{
			Name:      "web-0",
			Namespace: "default",
			Labels:    map[string]string{"app": "web"},
		},
	}
	f := newFixture(t, &hcloudapi.MockClient{}, matching, other, pod)

	reqs := f.reconciler.podToServices(context.Background(), pod)

	assert.Equal(t, []reconcile.Request{
		{NamespacedName: types.NamespacedName{Namespace: "default", Name: "web"}},
	}, reqs, "only the selecting service is enqueued")
}
