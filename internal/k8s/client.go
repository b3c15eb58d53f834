// Package k8s talks to the Kubernetes API: it lists mesh-enabled namespaces
// and deploys the collector into a cluster.
package k8s

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
)

// Limiter throttles Kubernetes API calls.
type Limiter interface {
	Wait(ctx context.Context) error
}

// Client wraps a Kubernetes clientset.
type Client struct {
	clientset kubernetes.Interface
	config    *rest.Config
	limiter   Limiter
}

// NewClient creates a client from kubeconfig. With an empty path it tries the
// in-cluster config first and falls back to ~/.kube/config.
func NewClient(kubeconfig string) (*Client, error) {
	config, err := LoadConfig(kubeconfig)
	if err != nil {
		return nil, err
	}

	clientset, err := kubernetes.NewForConfig(config)
	if err != nil {
		return nil, fmt.Errorf("failed to create Kubernetes client: %w", err)
	}

	slog.Debug("connected to Kubernetes cluster", slog.String("host", config.Host))

	return &Client{
		clientset: clientset,
		config:    config,
	}, nil
}

// NewFromClientset wraps an existing clientset.
func NewFromClientset(clientset kubernetes.Interface) *Client {
	return &Client{clientset: clientset}
}

// LoadConfig resolves the REST config the same way NewClient does.
func LoadConfig(kubeconfig string) (*rest.Config, error) {
	if kubeconfig == "" {
		config, err := rest.InClusterConfig()
		if err == nil {
			return config, nil
		}
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		kubeconfig = filepath.Join(home, ".kube", "config")
	}

	config, err := clientcmd.BuildConfigFromFlags("", kubeconfig)
	if err != nil {
		return nil, fmt.Errorf("failed to load kubeconfig from %s: %w", kubeconfig, err)
	}
	return config, nil
}

// WithLimiter sets a limiter applied before every API call.
func (c *Client) WithLimiter(l Limiter) *Client {
	c.limiter = l
	return c
}

// Clientset returns the underlying clientset.
func (c *Client) Clientset() kubernetes.Interface {
	return c.clientset
}

// RESTConfig returns the REST config, or nil for wrapped clientsets.
func (c *Client) RESTConfig() *rest.Config {
	return c.config
}

func (c *Client) wait(ctx context.Context) error {
	if c.limiter == nil {
		return nil
	}
	return c.limiter.Wait(ctx)
}
