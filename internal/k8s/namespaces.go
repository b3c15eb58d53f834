package k8s

import (
	"context"
	"fmt"

	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/labels"
)

// InjectionSelector selects namespaces with sidecar injection enabled.
var InjectionSelector = labels.Set{"istio-injection": "enabled"}.AsSelector().String()

// ListMeshNamespaces returns the names of namespaces labeled
// istio-injection=enabled, in API order.
func (c *Client) ListMeshNamespaces(ctx context.Context) ([]string, error) {
	if err := c.wait(ctx); err != nil {
		return nil, err
	}

	var names []string
	opts := metav1.ListOptions{LabelSelector: InjectionSelector, Limit: 500}
	for {
		list, err := c.clientset.CoreV1().Namespaces().List(ctx, opts)
		if err != nil {
			return nil, fmt.Errorf("failed to list namespaces: %w", err)
		}
		for _, ns := range list.Items {
			names = append(names, ns.Name)
		}
		if list.Continue == "" {
			break
		}
		opts.Continue = list.Continue
		if err := c.wait(ctx); err != nil {
			return nil, err
		}
	}
	return names, nil
}
