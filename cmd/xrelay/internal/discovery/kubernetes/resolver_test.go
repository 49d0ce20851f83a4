package kubernetes

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes/fake"

	"github.com/hasirciogluhq/xrelay/cmd/xrelay/internal/core"
)

func service(name, namespace, clusterIP string, ports ...int32) *corev1.Service {
	svc := &corev1.Service{
		ObjectMeta: metav1.ObjectMeta{Name: name, Namespace: namespace},
		Spec:       corev1.ServiceSpec{ClusterIP: clusterIP},
	}
	for _, p := range ports {
		svc.Spec.Ports = append(svc.Spec.Ports, corev1.ServicePort{Port: p})
	}
	return svc
}

func newTestResolver(t *testing.T, objs ...*corev1.Service) *K8sResolver {
	t.Helper()
	clientset := fake.NewSimpleClientset()
	for _, o := range objs {
		_, err := clientset.CoreV1().Services(o.Namespace).Create(context.Background(), o, metav1.CreateOptions{})
		require.NoError(t, err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	r, err := NewK8sResolver(ctx, clientset, "web")
	require.NoError(t, err)
	t.Cleanup(func() { r.Close() })
	return r
}

func TestResolveService(t *testing.T) {
	r := newTestResolver(t,
		service("origin", "web", "10.96.0.10", 8080, 9090),
		service("origin", "staging", "10.96.1.20", 80),
		service("db", "web", corev1.ClusterIPNone, 5432),
		service("empty", "web", "10.96.0.11"),
	)

	cases := []struct {
		target core.ProxyTarget
		want   string
	}{
		{core.ProxyTarget{Host: "origin", Port: 0}, "10.96.0.10:8080"},
		{core.ProxyTarget{Host: "origin", Port: 9090}, "10.96.0.10:9090"},
		{core.ProxyTarget{Host: "origin.staging", Port: 80}, "10.96.1.20:80"},
		{core.ProxyTarget{Host: "origin.staging.svc.cluster.local", Port: 0}, "10.96.1.20:80"},
		{core.ProxyTarget{Host: "db", Port: 0}, "db.web.svc.cluster.local:5432"},
	}
	for _, tc := range cases {
		got, err := r.Resolve(context.Background(), tc.target)
		require.NoError(t, err, tc.target.String())
		assert.Equal(t, tc.want, got, tc.target.String())
	}
}

func TestResolveErrors(t *testing.T) {
	r := newTestResolver(t,
		service("origin", "web", "10.96.0.10", 8080),
		service("empty", "web", "10.96.0.11"),
	)

	_, err := r.Resolve(context.Background(), core.ProxyTarget{Host: "missing"})
	assert.ErrorContains(t, err, "not found")

	_, err = r.Resolve(context.Background(), core.ProxyTarget{Host: "origin", Port: 1234})
	assert.ErrorContains(t, err, "no port 1234")

	_, err = r.Resolve(context.Background(), core.ProxyTarget{Host: "empty"})
	assert.ErrorContains(t, err, "no ports")
}

func TestNewResolverHonoursContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	// a cancelled context may still race a fast sync; either outcome must be clean
	r, err := NewK8sResolver(ctx, fake.NewSimpleClientset(), "")
	if err != nil {
		assert.ErrorIs(t, err, context.Canceled)
		return
	}
	assert.Equal(t, corev1.NamespaceDefault, r.namespace)
	require.NoError(t, r.Close())
}
