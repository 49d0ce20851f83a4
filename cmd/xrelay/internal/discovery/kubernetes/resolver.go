package kubernetes

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/client-go/informers"
	"k8s.io/client-go/kubernetes"
	listersv1 "k8s.io/client-go/listers/core/v1"

	"github.com/hasirciogluhq/xrelay/cmd/xrelay/internal/core"
	"github.com/hasirciogluhq/xrelay/cmd/xrelay/internal/logger"
)

const (
	resyncPeriod  = 10 * time.Minute
	clusterDomain = "svc.cluster.local"
)

// K8sResolver maps a proxy target naming a Service ("name" or
// "name.namespace") onto the Service's cluster address.
type K8sResolver struct {
	services  listersv1.ServiceLister
	namespace string
	stopCh    chan struct{}
}

// NewK8sResolver starts a Service informer and blocks until its cache has
// synced or ctx is done.
func NewK8sResolver(ctx context.Context, clientset kubernetes.Interface, namespace string) (*K8sResolver, error) {
	factory := informers.NewSharedInformerFactory(clientset, resyncPeriod)
	lister := factory.Core().V1().Services().Lister()

	// Start the informer in the background
	stopCh := make(chan struct{})
	factory.Start(stopCh)

	synced := make(chan struct{})
	go func() {
		defer close(synced)
		factory.WaitForCacheSync(stopCh)
	}()
	select {
	case <-synced:
	case <-ctx.Done():
		close(stopCh)
		return nil, fmt.Errorf("wait for service cache: %w", ctx.Err())
	}

	if namespace == "" {
		namespace = corev1.NamespaceDefault
	}
	logger.Info("Kubernetes service cache synced", "default_namespace", namespace)
	return &K8sResolver{services: lister, namespace: namespace, stopCh: stopCh}, nil
}

// Resolve implements core.TargetResolver. A zero target port selects the
// Service's first port.
func (r *K8sResolver) Resolve(ctx context.Context, target core.ProxyTarget) (string, error) {
	name, namespace := r.serviceName(target.Host)

	svc, err := r.services.Services(namespace).Get(name)
	if err != nil {
		if apierrors.IsNotFound(err) {
			return "", fmt.Errorf("service %s/%s not found", namespace, name)
		}
		return "", fmt.Errorf("get service %s/%s: %w", namespace, name, err)
	}

	port, err := servicePort(svc, target.Port)
	if err != nil {
		return "", err
	}

	host := svc.Spec.ClusterIP
	if host == "" || host == corev1.ClusterIPNone {
		// headless: let cluster DNS pick an endpoint
		host = fmt.Sprintf("%s.%s.%s", svc.Name, svc.Namespace, clusterDomain)
	}
	return net.JoinHostPort(host, strconv.Itoa(int(port))), nil
}

// Close stops the informer.
func (r *K8sResolver) Close() error {
	close(r.stopCh)
	return nil
}

func (r *K8sResolver) serviceName(host string) (name, namespace string) {
	host = strings.TrimSuffix(host, ".")
	host = strings.TrimSuffix(host, "."+clusterDomain)
	host = strings.TrimSuffix(host, ".svc")

	name, namespace, ok := strings.Cut(host, ".")
	if !ok || namespace == "" {
		return name, r.namespace
	}
	return name, namespace
}

func servicePort(svc *corev1.Service, want int) (int32, error) {
	if len(svc.Spec.Ports) == 0 {
		return 0, fmt.Errorf("service %s/%s exposes no ports", svc.Namespace, svc.Name)
	}
	if want == 0 {
		return svc.Spec.Ports[0].Port, nil
	}
	for _, p := range svc.Spec.Ports {
		if int(p.Port) == want {
			return p.Port, nil
		}
	}
	return 0, fmt.Errorf("service %s/%s has no port %d", svc.Namespace, svc.Name, want)
}
