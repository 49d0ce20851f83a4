package factory

import (
	"context"
	"fmt"
	"os"

	"github.com/hasirciogluhq/xrelay/cmd/xrelay/internal/config"
	"github.com/hasirciogluhq/xrelay/cmd/xrelay/internal/core"
	"github.com/hasirciogluhq/xrelay/cmd/xrelay/internal/discovery/dns"
	"github.com/hasirciogluhq/xrelay/cmd/xrelay/internal/discovery/kubernetes"
	"github.com/hasirciogluhq/xrelay/cmd/xrelay/internal/discovery/static"
	"github.com/hasirciogluhq/xrelay/cmd/xrelay/internal/logger"

	k8s "k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
)

// ResolverFactory creates proxy target resolvers based on configuration
type ResolverFactory struct {
	cfg *config.Config

	// newClientset builds the Kubernetes client; replaced in tests
	newClientset func() (k8s.Interface, error)
}

// NewResolverFactory creates a new resolver factory
func NewResolverFactory(cfg *config.Config) *ResolverFactory {
	f := &ResolverFactory{cfg: cfg}
	f.newClientset = f.buildClientset
	return f
}

// Create creates a target resolver based on configuration
func (f *ResolverFactory) Create(ctx context.Context) (core.TargetResolver, error) {
	switch f.cfg.DiscoveryMode {
	case config.DiscoveryDNS:
		logger.Info("Creating DNS Target Resolver")
		return dns.NewResolver(), nil
	case config.DiscoveryStatic:
		return f.createStaticResolver()
	case config.DiscoveryKubernetes:
		return f.createKubernetesResolver(ctx)
	default:
		return nil, fmt.Errorf("unknown discovery mode: %s", f.cfg.DiscoveryMode)
	}
}

func (f *ResolverFactory) createStaticResolver() (core.TargetResolver, error) {
	logger.Info("Creating Static Target Resolver", "targets", f.cfg.StaticTargets)

	resolver, err := static.NewResolver(f.cfg.StaticTargets)
	if err != nil {
		return nil, fmt.Errorf("failed to create static resolver: %w", err)
	}

	return resolver, nil
}

func (f *ResolverFactory) createKubernetesResolver(ctx context.Context) (core.TargetResolver, error) {
	logger.Info("Creating Kubernetes Target Resolver",
		"runtime", f.cfg.Runtime,
		"kubeconfig", f.cfg.KubeConfigPath,
		"context", f.cfg.KubeContext,
		"namespace", f.cfg.Namespace)

	clientset, err := f.newClientset()
	if err != nil {
		return nil, err
	}

	resolver, err := kubernetes.NewK8sResolver(ctx, clientset, f.cfg.Namespace)
	if err != nil {
		return nil, fmt.Errorf("failed to start kubernetes resolver: %w", err)
	}
	logger.Info("Kubernetes resolver created successfully")
	return resolver, nil
}

func (f *ResolverFactory) buildClientset() (k8s.Interface, error) {
	kubeconfig := f.cfg.KubeConfigPath

	// Outside a cluster fall back to the default kubeconfig location
	if f.cfg.Runtime != config.RuntimeKubernetes && kubeconfig == "" {
		if home := os.Getenv("HOME"); home != "" {
			kubeconfig = home + "/.kube/config"
		}
	}

	configOverrides := &clientcmd.ConfigOverrides{}
	if f.cfg.KubeContext != "" {
		configOverrides.CurrentContext = f.cfg.KubeContext
		logger.Info("Using specific Kubernetes context", "context", f.cfg.KubeContext)
	}

	var restConfig *rest.Config
	var err error

	// Try kubeconfig first (for VM/Container runtime or explicit config)
	if kubeconfig != "" {
		restConfig, err = clientcmd.NewNonInteractiveDeferredLoadingClientConfig(
			&clientcmd.ClientConfigLoadingRules{ExplicitPath: kubeconfig},
			configOverrides,
		).ClientConfig()

		if err != nil {
			logger.Warn("Failed to load kubeconfig, will try in-cluster config", "error", err)
		}
	}

	// Fallback to in-cluster config (for Kubernetes runtime)
	if restConfig == nil {
		logger.Info("Attempting in-cluster Kubernetes configuration")
		restConfig, err = rest.InClusterConfig()
		if err != nil {
			return nil, fmt.Errorf("failed to build kubernetes config (tried kubeconfig and in-cluster): %w", err)
		}
	}

	clientset, err := k8s.NewForConfig(restConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create kubernetes client: %w", err)
	}
	return clientset, nil
}
