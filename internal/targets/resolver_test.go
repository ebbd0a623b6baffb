package targets

import (
	"context"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime"
	clientgoscheme "k8s.io/client-go/kubernetes/scheme"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/client/fake"

	"github.com/robotlb/robotlb/internal/annotations"
	"github.com/robotlb/robotlb/internal/lbspec"
	"github.com/robotlb/robotlb/internal/nodefilter"
)

func testScheme(t *testing.T) *runtime.Scheme {
	t.Helper()
	scheme := runtime.NewScheme()
	require.NoError(t, clientgoscheme.AddToScheme(scheme))
	return scheme
}

func node(name string, labels map[string]string, internalIP, externalIP string, ann map[string]string) *corev1.Node {
	var addrs []corev1.NodeAddress
	if internalIP != "" {
		addrs = append(addrs, corev1.NodeAddress{Type: corev1.NodeInternalIP, Address: internalIP})
	}
	if externalIP != "" {
		addrs = append(addrs, corev1.NodeAddress{Type: corev1.NodeExternalIP, Address: externalIP})
	}
	return &corev1.Node{
		ObjectMeta: metav1.ObjectMeta{Name: name, Labels: labels, Annotations: ann},
		Status:     corev1.NodeStatus{Addresses: addrs},
	}
}

func pod(name, nodeName string, labels map[string]string, phase corev1.PodPhase, ready bool) *corev1.Pod {
	readyStatus := corev1.ConditionFalse
	if ready {
		readyStatus = corev1.ConditionTrue
	}
	return &corev1.Pod{
		ObjectMeta: metav1.ObjectMeta{Name: name, Namespace: "default", Labels: labels},
		Spec:       corev1.PodSpec{NodeName: nodeName},
		Status: corev1.PodStatus{
			Phase:      phase,
			Conditions: []corev1.PodCondition{{Type: corev1.PodReady, Status: readyStatus}},
		},
	}
}

func staticSpec(t *testing.T, selector, network string) *lbspec.DesiredLoadBalancerSpec {
	t.Helper()
	rules, err := nodefilter.Parse(selector)
	require.NoError(t, err)
	return &lbspec.DesiredLoadBalancerSpec{
		Network:   network,
		Listeners: []lbspec.Listener{{ListenPort: 80, DestinationPort: 30080}},
		Selection: lbspec.TargetSelection{Mode: lbspec.SelectionStatic, Rules: rules},
	}
}

func dynamicSpec(network string) *lbspec.DesiredLoadBalancerSpec {
	return &lbspec.DesiredLoadBalancerSpec{
		Network:   network,
		Listeners: []lbspec.Listener{{ListenPort: 80, DestinationPort: 30080}},
		Selection: lbspec.TargetSelection{Mode: lbspec.SelectionDynamic},
	}
}

func webService() *corev1.Service {
	return &corev1.Service{
		ObjectMeta: metav1.ObjectMeta{Name: "web", Namespace: "default"},
		Spec: corev1.ServiceSpec{
			Type:     corev1.ServiceTypeLoadBalancer,
			Selector: map[string]string{"app": "web"},
		},
	}
}

func TestResolver_StaticMode(t *testing.T) {
	t.Parallel()
	scheme := testScheme(t)

	n1 := node("n1", map[string]string{"role": "worker", "arch": "amd64"}, "10.0.0.1", "198.51.100.1", nil)
	n2 := node("n2", map[string]string{"role": "control-plane", "arch": "amd64"}, "10.0.0.2", "198.51.100.2", nil)
	n3 := node("n3", map[string]string{"role": "worker", "arch": "arm64"}, "10.0.0.3", "198.51.100.3", nil)

	c := fake.NewClientBuilder().WithScheme(scheme).WithObjects(n1, n2, n3).Build()
	r := NewResolver(c)

	set, err := r.Resolve(context.Background(), webService(),
		staticSpec(t, "role!=control-plane,arch=amd64", "kube-net"))
	require.NoError(t, err)

	assert.Equal(t, []Target{{Address: "10.0.0.1", Port: 30080}}, set.Sorted())
}

func TestResolver_StaticModeOrderIndependent(t *testing.T) {
	t.Parallel()
	scheme := testScheme(t)

	nodes := []client.Object{
		node("n1", map[string]string{"role": "worker"}, "10.0.0.1", "", nil),
		node("n2", map[string]string{"role": "worker"}, "10.0.0.2", "", nil),
		node("n3", map[string]string{"role": "worker"}, "10.0.0.3", "", nil),
		node("n4", map[string]string{"role": "control-plane"}, "10.0.0.4", "", nil),
	}

	var want []Target
	for _, seed := range []int64{1, 7, 42} {
		shuffled := make([]client.Object, len(nodes))
		copy(shuffled, nodes)
		rand.New(rand.NewSource(seed)).Shuffle(len(shuffled), func(i, j int) {
			shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
		})

		c := fake.NewClientBuilder().WithScheme(scheme).WithObjects(shuffled...).Build()
		set, err := NewResolver(c).Resolve(context.Background(), webService(),
			staticSpec(t, "role=worker", "kube-net"))
		require.NoError(t, err)

		if want == nil {
			want = set.Sorted()
			assert.Len(t, want, 3)
			continue
		}
		assert.Equal(t, want, set.Sorted(), "seed %d changed the result", seed)
	}
}

func TestResolver_StaticModeExternalIPWithoutNetwork(t *testing.T) {
	t.Parallel()
	scheme := testScheme(t)

	n1 := node("n1", map[string]string{"role": "worker"}, "10.0.0.1", "198.51.100.1", nil)
	c := fake.NewClientBuilder().WithScheme(scheme).WithObjects(n1).Build()

	set, err := NewResolver(c).Resolve(context.Background(), webService(),
		staticSpec(t, "role=worker", ""))
	require.NoError(t, err)
	assert.Equal(t, []Target{{Address: "198.51.100.1", Port: 30080}}, set.Sorted())
}

func TestResolver_NodeIPAnnotationWins(t *testing.T) {
	t.Parallel()
	scheme := testScheme(t)

	n1 := node("n1", map[string]string{"role": "worker"}, "10.0.0.1", "", map[string]string{
		annotations.NodeIP: "172.16.0.1",
	})
	c := fake.NewClientBuilder().WithScheme(scheme).WithObjects(n1).Build()

	set, err := NewResolver(c).Resolve(context.Background(), webService(),
		staticSpec(t, "role=worker", "kube-net"))
	require.NoError(t, err)
	assert.Equal(t, []Target{{Address: "172.16.0.1", Port: 30080}}, set.Sorted())
}

func TestResolver_DynamicMode(t *testing.T) {
	t.Parallel()
	scheme := testScheme(t)

	objs := []client.Object{
		node("node-a", nil, "10.0.0.10", "", nil),
		node("node-b", nil, "10.0.0.11", "", nil),
		node("node-c", nil, "10.0.0.12", "", nil),
		pod("web-1", "node-a", map[string]string{"app": "web"}, corev1.PodRunning, true),
		pod("web-2", "node-b", map[string]string{"app": "web"}, corev1.PodRunning, true),
		pod("web-3", "node-c", map[string]string{"app": "web"}, corev1.PodPending, false),
		pod("other", "node-c", map[string]string{"app": "other"}, corev1.PodRunning, true),
	}
	c := fake.NewClientBuilder().WithScheme(scheme).WithObjects(objs...).Build()

	set, err := NewResolver(c).Resolve(context.Background(), webService(), dynamicSpec("kube-net"))
	require.NoError(t, err)

	assert.Equal(t, []Target{
		{Address: "10.0.0.10", Port: 30080},
		{Address: "10.0.0.11", Port: 30080},
	}, set.Sorted())
}

func TestResolver_DynamicModeDeduplicatesNodes(t *testing.T) {
	t.Parallel()
	scheme := testScheme(t)

	objs := []client.Object{
		node("node-a", nil, "10.0.0.10", "", nil),
		pod("web-1", "node-a", map[string]string{"app": "web"}, corev1.PodRunning, true),
		pod("web-2", "node-a", map[string]string{"app": "web"}, corev1.PodRunning, true),
	}
	c := fake.NewClientBuilder().WithScheme(scheme).WithObjects(objs...).Build()

	set, err := NewResolver(c).Resolve(context.Background(), webService(), dynamicSpec("kube-net"))
	require.NoError(t, err)
	assert.Equal(t, 1, set.Len())
}

func TestResolver_DynamicModeWithoutSelector(t *testing.T) {
	t.Parallel()
	scheme := testScheme(t)

	svc := webService()
	svc.Spec.Selector = nil
	c := fake.NewClientBuilder().WithScheme(scheme).Build()

	_, err := NewResolver(c).Resolve(context.Background(), svc, dynamicSpec("kube-net"))
	var missing *MissingSelectorError
	require.ErrorAs(t, err, &missing)
}

func TestResolver_PartialTargets(t *testing.T) {
	t.Parallel()
	scheme := testScheme(t)

	objs := []client.Object{
		node("node-a", nil, "10.0.0.10", "", nil),
		node("node-b", nil, "", "", nil), // no usable address
		pod("web-1", "node-a", map[string]string{"app": "web"}, corev1.PodRunning, true),
		pod("web-2", "node-b", map[string]string{"app": "web"}, corev1.PodRunning, true),
	}
	c := fake.NewClientBuilder().WithScheme(scheme).WithObjects(objs...).Build()

	set, err := NewResolver(c).Resolve(context.Background(), webService(), dynamicSpec("kube-net"))

	var partial *PartialTargetsError
	require.ErrorAs(t, err, &partial)
	assert.Equal(t, []string{"node-b"}, partial.ExcludedNodes)
	assert.Equal(t, []Target{{Address: "10.0.0.10", Port: 30080}}, set.Sorted())
}

func TestResolver_EmptyResultIsNotAnError(t *testing.T) {
	t.Parallel()
	scheme := testScheme(t)

	c := fake.NewClientBuilder().WithScheme(scheme).Build()
	set, err := NewResolver(c).Resolve(context.Background(), webService(),
		staticSpec(t, "role=worker", "kube-net"))
	require.NoError(t, err)
	assert.Equal(t, 0, set.Len())
}

func TestSet_Dedup(t *testing.T) {
	t.Parallel()

	set := NewSet(
		Target{Address: "10.0.0.1", Port: 30080},
		Target{Address: "10.0.0.1", Port: 30080},
		Target{Address: "10.0.0.2", Port: 30080},
	)
	assert.Equal(t, 2, set.Len())
	assert.Equal(t, []string{"10.0.0.1", "10.0.0.2"}, set.Addresses())
	assert.True(t, set.Equal(NewSet(
		Target{Address: "10.0.0.2", Port: 30080},
		Target{Address: "10.0.0.1", Port: 30080},
	)))
}
