package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"os/signal"
	"runtime"
	"strconv"
	"syscall"
	"time"

	"github.com/ppiankov/meshspectre/internal/k8s"
	"github.com/ppiankov/meshspectre/pkg/config"
	"github.com/spf13/cobra"
)

type deployOptions struct {
	k8s.DeployOptions
	port        int
	localPort   int
	portForward bool
	openBrowser bool
	waitTimeout time.Duration
}

// NewDeployCmd creates the deploy command
func NewDeployCmd() *cobra.Command {
	s := newSettings()
	opts := deployOptions{}
	var waitTimeoutStr string

	cmd := &cobra.Command{
		Use:   "deploy",
		Short: "Deploy the collector to Kubernetes",
		Long: `Deploy meshspectre serve into a Kubernetes cluster.

This command will:
  1. Create namespace (if it doesn't exist)
  2. Create ConfigMap with the collector settings
  3. Deploy the collector pod
  4. Create Service
  5. Optionally create Ingress for external access
  6. Optionally set up port-forwarding`,
		Args: cobra.NoArgs,
		PreRunE: func(cmd *cobra.Command, args []string) error {
			d, err := config.ParseDuration(waitTimeoutStr)
			if err != nil {
				return fmt.Errorf("invalid --wait-timeout duration: %w", err)
			}
			opts.waitTimeout = d
			if opts.port < 1 || opts.port > 65535 {
				return fmt.Errorf("--container-port must be between 1 and 65535, got %d", opts.port)
			}
			opts.Port = int32(opts.port)
			return s.resolve(cmd)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.Env = deployEnv(s.cfg)
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runDeploy(ctx, s.cfg, opts, cmd.OutOrStdout())
		},
	}

	s.bindMesh(cmd)
	s.bindStore(cmd)
	cmd.Flags().StringVarP(&opts.Namespace, "namespace", "n", "default", "Kubernetes namespace")
	cmd.Flags().StringVar(&opts.Name, "name", k8s.DefaultName, "Name of the deployed objects")
	cmd.Flags().StringVar(&opts.Image, "image", k8s.DefaultImage, "Collector image")
	cmd.Flags().IntVar(&opts.port, "container-port", 5000, "Dashboard port inside the pod")
	cmd.Flags().StringVar(&opts.IngressHost, "ingress-host", "", "Host for Ingress (e.g., meshspectre.example.com)")
	cmd.Flags().StringVar(&waitTimeoutStr, "wait-timeout", "2m", "How long to wait for the deployment to become ready")
	cmd.Flags().BoolVar(&opts.portForward, "port-forward", false, "Port-forward the dashboard after deploying")
	cmd.Flags().IntVarP(&opts.localPort, "local-port", "p", 8080, "Local port for port-forward")
	cmd.Flags().BoolVar(&opts.openBrowser, "open", false, "Open the dashboard in a browser (with --port-forward)")

	return cmd
}

// deployEnv returns the settings handed to the pod through its ConfigMap.
func deployEnv(cfg *config.Config) map[string]string {
	env := map[string]string{
		config.EnvMeshURL:           cfg.MeshURL,
		config.EnvDurationThreshold: strconv.FormatFloat(cfg.DurationThreshold, 'f', -1, 64),
		config.EnvScanInterval:      strconv.Itoa(int(cfg.ScanInterval / time.Second)),
		config.EnvStore:             cfg.Store,
	}
	if cfg.MeshExternalURL != "" {
		env[config.EnvMeshExternalURL] = cfg.MeshExternalURL
	}
	if cfg.Store == config.StoreClickHouse {
		env[config.EnvClickHouseDSN] = cfg.ClickHouseDSN
	}
	return env
}

// runDeploy executes the Kubernetes deployment
func runDeploy(ctx context.Context, cfg *config.Config, opts deployOptions, out io.Writer) error {
	client, err := k8s.NewClient(cfg.KubeConfig)
	if err != nil {
		return err
	}

	fmt.Fprintln(out, "🚀 MeshSpectre Kubernetes Deployment")
	fmt.Fprintf(out, "☸️  Namespace: %s\n", opts.Namespace)
	fmt.Fprintf(out, "🔭 Mesh URL: %s\n", cfg.MeshURL)
	fmt.Fprintln(out)

	if err := client.Deploy(ctx, opts.DeployOptions); err != nil {
		return err
	}

	fmt.Fprintln(out, "⏳ Waiting for deployment to be ready...")
	if err := client.WaitReady(ctx, opts.Namespace, opts.Name, opts.waitTimeout, 2*time.Second); err != nil {
		return fmt.Errorf("deployment failed to become ready: %w", err)
	}
	fmt.Fprintln(out, "✅ Deployment complete!")

	if opts.IngressHost != "" {
		fmt.Fprintf(out, "🌍 External access: http://%s\n", opts.IngressHost)
		fmt.Fprintln(out, "   (Note: DNS and Ingress controller must be configured)")
	}

	if !opts.portForward {
		return nil
	}
	return portForward(ctx, cfg.KubeConfig, opts, out)
}

// portForward runs kubectl port-forward against the Service until ctx is
// cancelled or kubectl exits.
func portForward(ctx context.Context, kubeconfig string, opts deployOptions, out io.Writer) error {
	args := []string{"port-forward", "-n", opts.Namespace,
		"svc/" + opts.Name,
		fmt.Sprintf("%d:%d", opts.localPort, k8s.ServicePort),
	}
	if kubeconfig != "" {
		args = append(args, "--kubeconfig", kubeconfig)
	}

	cmd := exec.CommandContext(ctx, "kubectl", args...)
	cmd.Stdout = out
	cmd.Stderr = os.Stderr
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start kubectl port-forward: %w", err)
	}

	url := fmt.Sprintf("http://localhost:%d", opts.localPort)
	fmt.Fprintf(out, "🔌 Port-forward at %s (Ctrl+C to stop)\n", url)

	if opts.openBrowser {
		time.Sleep(2 * time.Second)
		if err := openURL(url); err != nil {
			slog.Warn("failed to open browser", slog.String("error", err.Error()))
		}
	}

	if err := cmd.Wait(); err != nil && ctx.Err() == nil {
		return fmt.Errorf("port-forward stopped: %w", err)
	}
	return nil
}

// openURL opens a URL in the default browser
func openURL(url string) error {
	var cmd *exec.Cmd

	switch runtime.GOOS {
	case "darwin":
		cmd = exec.Command("open", url)
	case "linux":
		cmd = exec.Command("xdg-open", url)
	case "windows":
		cmd = exec.Command("rundll32", "url.dll,FileProtocolHandler", url)
	default:
		return fmt.Errorf("unsupported platform")
	}

	return cmd.Start()
}
