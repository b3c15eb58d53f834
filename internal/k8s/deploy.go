package k8s

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	networkingv1 "k8s.io/api/networking/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/api/resource"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/util/intstr"
)

const (
	// DefaultName is used for every deployed object.
	DefaultName = "meshspectre"
	// DefaultImage is the collector image.
	DefaultImage = "ghcr.io/ppiankov/meshspectre:latest"
	// ServicePort is the port exposed by the Service.
	ServicePort = 80

	dataVolume = "snapshots"
	dataPath   = "/var/lib/meshspectre"
)

// DeployOptions describes one collector deployment.
type DeployOptions struct {
	Namespace   string
	Name        string
	Image       string
	Port        int32
	Env         map[string]string
	IngressHost string
}

func (o DeployOptions) normalized() DeployOptions {
	if o.Name == "" {
		o.Name = DefaultName
	}
	if o.Image == "" {
		o.Image = DefaultImage
	}
	if o.Port == 0 {
		o.Port = 5000
	}
	if o.Namespace == "" {
		o.Namespace = "default"
	}
	return o
}

// ConfigMapName is the name of the ConfigMap holding the collector settings.
func (o DeployOptions) ConfigMapName() string {
	return o.normalized().Name + "-config"
}

type deployStep struct {
	name string
	fn   func(context.Context, DeployOptions) error
}

// Deploy creates or replaces the namespace, ConfigMap, Deployment, Service
// and, when a host is given, the Ingress for the collector.
func (c *Client) Deploy(ctx context.Context, opts DeployOptions) error {
	opts = opts.normalized()

	steps := []deployStep{
		{name: "namespace", fn: c.ensureNamespace},
		{name: "configmap", fn: c.applyConfigMap},
		{name: "deployment", fn: c.applyDeployment},
		{name: "service", fn: c.applyService},
	}
	if opts.IngressHost != "" {
		steps = append(steps, deployStep{name: "ingress", fn: c.applyIngress})
	}

	for _, step := range steps {
		if err := c.wait(ctx); err != nil {
			return err
		}
		if err := step.fn(ctx, opts); err != nil {
			return fmt.Errorf("failed to apply %s: %w", step.name, err)
		}
		slog.Info("applied", slog.String("object", step.name), slog.String("namespace", opts.Namespace))
	}
	return nil
}

// WaitReady polls the Deployment until at least one replica is ready.
func (c *Client) WaitReady(ctx context.Context, namespace, name string, timeout, poll time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(poll)
	defer ticker.Stop()

	for {
		deployment, err := c.clientset.AppsV1().Deployments(namespace).Get(ctx, name, metav1.GetOptions{})
		if err != nil {
			return err
		}
		if deployment.Status.ReadyReplicas > 0 {
			return nil
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("timeout waiting for deployment %s/%s to be ready", namespace, name)
		case <-ticker.C:
		}
	}
}

func (c *Client) ensureNamespace(ctx context.Context, opts DeployOptions) error {
	ns := &corev1.Namespace{ObjectMeta: metav1.ObjectMeta{Name: opts.Namespace}}
	_, err := c.clientset.CoreV1().Namespaces().Create(ctx, ns, metav1.CreateOptions{})
	if err != nil && !apierrors.IsAlreadyExists(err) {
		return err
	}
	return nil
}

func (c *Client) applyConfigMap(ctx context.Context, opts DeployOptions) error {
	cm := &corev1.ConfigMap{
		ObjectMeta: objectMeta(opts, opts.ConfigMapName()),
		Data:       make(map[string]string, len(opts.Env)),
	}
	for k, v := range opts.Env {
		cm.Data[k] = v
	}

	configMaps := c.clientset.CoreV1().ConfigMaps(opts.Namespace)
	if err := configMaps.Delete(ctx, cm.Name, metav1.DeleteOptions{}); err != nil && !apierrors.IsNotFound(err) {
		return err
	}
	_, err := configMaps.Create(ctx, cm, metav1.CreateOptions{})
	return err
}

func (c *Client) applyDeployment(ctx context.Context, opts DeployOptions) error {
	deployments := c.clientset.AppsV1().Deployments(opts.Namespace)
	if err := deployments.Delete(ctx, opts.Name, metav1.DeleteOptions{}); err != nil && !apierrors.IsNotFound(err) {
		return err
	}
	_, err := deployments.Create(ctx, BuildDeployment(opts), metav1.CreateOptions{})
	return err
}

func (c *Client) applyService(ctx context.Context, opts DeployOptions) error {
	opts = opts.normalized()
	service := &corev1.Service{
		ObjectMeta: objectMeta(opts, opts.Name),
		Spec: corev1.ServiceSpec{
			Type: corev1.ServiceTypeClusterIP,
			Ports: []corev1.ServicePort{{
				Name:       "http",
				Port:       ServicePort,
				TargetPort: intstr.FromString("http"),
				Protocol:   corev1.ProtocolTCP,
			}},
			Selector: selectorLabels(opts),
		},
	}

	services := c.clientset.CoreV1().Services(opts.Namespace)
	if err := services.Delete(ctx, service.Name, metav1.DeleteOptions{}); err != nil && !apierrors.IsNotFound(err) {
		return err
	}
	_, err := services.Create(ctx, service, metav1.CreateOptions{})
	return err
}

func (c *Client) applyIngress(ctx context.Context, opts DeployOptions) error {
	pathType := networkingv1.PathTypePrefix
	ingress := &networkingv1.Ingress{
		ObjectMeta: objectMeta(opts, opts.Name),
		Spec: networkingv1.IngressSpec{
			Rules: []networkingv1.IngressRule{{
				Host: opts.IngressHost,
				IngressRuleValue: networkingv1.IngressRuleValue{
					HTTP: &networkingv1.HTTPIngressRuleValue{
						Paths: []networkingv1.HTTPIngressPath{{
							Path:     "/",
							PathType: &pathType,
							Backend: networkingv1.IngressBackend{
								Service: &networkingv1.IngressServiceBackend{
									Name: opts.Name,
									Port: networkingv1.ServiceBackendPort{Number: ServicePort},
								},
							},
						}},
					},
				},
			}},
		},
	}

	ingresses := c.clientset.NetworkingV1().Ingresses(opts.Namespace)
	if err := ingresses.Delete(ctx, ingress.Name, metav1.DeleteOptions{}); err != nil && !apierrors.IsNotFound(err) {
		return err
	}
	_, err := ingresses.Create(ctx, ingress, metav1.CreateOptions{})
	return err
}

// BuildDeployment returns the collector Deployment. Settings come from the
// ConfigMap as environment variables; snapshots live on an emptyDir volume.
func BuildDeployment(opts DeployOptions) *appsv1.Deployment {
	opts = opts.normalized()
	replicas := int32(1)

	probe := func(path string) *corev1.Probe {
		return &corev1.Probe{
			ProbeHandler: corev1.ProbeHandler{
				HTTPGet: &corev1.HTTPGetAction{Path: path, Port: intstr.FromString("http")},
			},
			PeriodSeconds: 10,
		}
	}

	return &appsv1.Deployment{
		ObjectMeta: objectMeta(opts, opts.Name),
		Spec: appsv1.DeploymentSpec{
			Replicas: &replicas,
			Selector: &metav1.LabelSelector{MatchLabels: selectorLabels(opts)},
			Template: corev1.PodTemplateSpec{
				ObjectMeta: metav1.ObjectMeta{
					Labels: selectorLabels(opts),
					Annotations: map[string]string{
						"sidecar.istio.io/inject": "false",
					},
				},
				Spec: corev1.PodSpec{
					Containers: []corev1.Container{{
						Name:  "meshspectre",
						Image: opts.Image,
						Args: []string{
							"serve",
							"--port", fmt.Sprint(opts.Port),
							"--data-dir", dataPath,
						},
						Ports: []corev1.ContainerPort{{Name: "http", ContainerPort: opts.Port}},
						EnvFrom: []corev1.EnvFromSource{{
							ConfigMapRef: &corev1.ConfigMapEnvSource{
								LocalObjectReference: corev1.LocalObjectReference{Name: opts.ConfigMapName()},
							},
						}},
						VolumeMounts: []corev1.VolumeMount{{Name: dataVolume, MountPath: dataPath}},
						LivenessProbe:  probe("/healthz"),
						ReadinessProbe: probe("/readyz"),
						Resources: corev1.ResourceRequirements{
							Requests: corev1.ResourceList{
								corev1.ResourceMemory: resource.MustParse("64Mi"),
								corev1.ResourceCPU:    resource.MustParse("50m"),
							},
							Limits: corev1.ResourceList{
								corev1.ResourceMemory: resource.MustParse("256Mi"),
								corev1.ResourceCPU:    resource.MustParse("500m"),
							},
						},
					}},
					Volumes: []corev1.Volume{{
						Name:         dataVolume,
						VolumeSource: corev1.VolumeSource{EmptyDir: &corev1.EmptyDirVolumeSource{}},
					}},
				},
			},
		},
	}
}

// EnvKeys returns the ConfigMap keys in sorted order.
func (o DeployOptions) EnvKeys() []string {
	keys := make([]string, 0, len(o.Env))
	for k := range o.Env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func selectorLabels(opts DeployOptions) map[string]string {
	return map[string]string{"app": opts.Name}
}

func objectMeta(opts DeployOptions, name string) metav1.ObjectMeta {
	return metav1.ObjectMeta{
		Name:      name,
		Namespace: opts.Namespace,
		Labels: map[string]string{
			"app":                          opts.Name,
			"app.kubernetes.io/managed-by": "meshspectre",
		},
	}
}
