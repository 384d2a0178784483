package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/prevant-go/prevant/internal/config"
	"github.com/prevant-go/prevant/internal/hook"
	"github.com/prevant-go/prevant/internal/hostmeta"
	"github.com/prevant-go/prevant/internal/infra"
	"github.com/prevant-go/prevant/internal/infra/docker"
	"github.com/prevant-go/prevant/internal/infra/kube"
	"github.com/prevant-go/prevant/internal/metrics"
	"github.com/prevant-go/prevant/internal/orchestrator"
	"github.com/prevant-go/prevant/internal/queue"
	"github.com/prevant-go/prevant/internal/registry"
	"github.com/prevant-go/prevant/internal/server"
	"github.com/prevant-go/prevant/internal/template"
	"github.com/prevant-go/prevant/internal/unit"
	"github.com/prevant-go/prevant/pkg/logging"

	"k8s.io/client-go/rest"
)

// serveConfigPath points at the TOML configuration file serve loads its
// runtime, companion, hook, and registry settings from.
var serveConfigPath string

// serveTraefikDir, when set, enables the docker backend's Traefik
// file-provider dynamic configuration writer.
var serveTraefikDir string

// shutdownTimeout bounds how long serve waits for in-flight HTTP requests
// to drain before forcing the listener closed.
const shutdownTimeout = 10 * time.Second

// serveCmd starts the prevant server: it loads configuration, wires the
// configured infrastructure backend into the orchestrator, and serves the
// HTTP API until an interrupt signal arrives.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the prevant server",
	Long: `Starts prevant's HTTP API and orchestrator loop, reconciling deployment
requests against the configured infrastructure backend (Docker or
Kubernetes) until interrupted.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVar(&serveConfigPath, "config", "", "Path to the prevant TOML configuration file")
	serveCmd.Flags().StringVar(&serveTraefikDir, "traefik-dynamic-config-dir", "", "Directory Traefik's file provider watches for dynamic config (docker runtime only)")
}

func runServe(cmd *cobra.Command, args []string) error {
	logging.InitForCLI(logging.LevelInfo, os.Stderr)

	cfg, err := config.Load(serveConfigPath)
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	backend, err := newBackend(cfg)
	if err != nil {
		return fmt.Errorf("initializing infrastructure backend: %w", err)
	}

	q, err := newQueue(cmd.Context(), cfg)
	if err != nil {
		return fmt.Errorf("initializing task queue: %w", err)
	}

	resolver := registry.New(registryCredentials(cfg), registryMirrors(cfg))

	var deploymentHook *hook.Runner
	if cfg.Hooks.Deployment != "" {
		deploymentHook, err = hook.LoadDeploymentHook(cfg.Hooks.Deployment)
		if err != nil {
			return fmt.Errorf("loading deployment hook: %w", err)
		}
	}

	reg := metrics.New()

	builder := unit.New(backend, &cfg, template.New(), resolver, deploymentHook)
	orch := orchestrator.New(&cfg, backend, q, builder)
	orch.Metrics = reg

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	orch.Start(ctx)
	logging.Info("serve", "orchestrator started")

	cache := hostmeta.NewCache()
	crawler := hostmeta.NewCrawler(backend, cache, orch.Subscribe())
	crawler.Metrics = reg
	go crawler.Run(ctx)

	srv := server.New(orch, cache, &cfg, reg)
	serverErr := make(chan error, 1)
	go func() {
		serverErr <- srv.ListenAndServe(cfg.Server.Address)
	}()

	select {
	case <-ctx.Done():
		logging.Info("serve", "shutdown signal received")
	case err := <-serverErr:
		if err != nil {
			logging.Error("serve", err, "http server exited")
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logging.Error("serve", err, "shutting down http server")
	}
	orch.Shutdown()

	return nil
}

func newBackend(cfg config.Config) (infra.Backend, error) {
	switch cfg.Runtime.Type {
	case config.RuntimeKubernetes:
		restConfig, err := kubeRestConfig(cfg.Runtime)
		if err != nil {
			return nil, err
		}
		return kube.New(restConfig)
	case config.RuntimeDocker, "":
		var traefik *docker.TraefikWriter
		if serveTraefikDir != "" {
			traefik = docker.NewTraefikWriter(serveTraefikDir)
		}
		return docker.New(traefik), nil
	default:
		return nil, fmt.Errorf("unknown runtime type %q", cfg.Runtime.Type)
	}
}

func kubeRestConfig(cfg config.RuntimeConfig) (*rest.Config, error) {
	token := cfg.KubeToken
	if cfg.KubeTokenFile != "" {
		data, err := os.ReadFile(cfg.KubeTokenFile)
		if err != nil {
			return nil, fmt.Errorf("reading kube token file: %w", err)
		}
		token = string(data)
	}
	return &rest.Config{
		Host:            cfg.KubeEndpoint,
		BearerToken:     token,
		TLSClientConfig: rest.TLSClientConfig{CAFile: cfg.KubeCertPath},
	}, nil
}

func newQueue(ctx context.Context, cfg config.Config) (queue.Queue, error) {
	if cfg.Queue.DSN == "" {
		return queue.NewInMemory(), nil
	}
	return queue.NewPostgres(ctx, cfg.Queue.DSN)
}

func registryCredentials(cfg config.Config) map[string]registry.Credentials {
	out := make(map[string]registry.Credentials, len(cfg.Registries))
	for host, r := range cfg.Registries {
		out[host] = registry.Credentials{Username: r.Username, Password: r.Password}
	}
	return out
}

func registryMirrors(cfg config.Config) map[string]string {
	out := make(map[string]string, len(cfg.Registries))
	for host, r := range cfg.Registries {
		if r.Mirror != "" {
			out[host] = r.Mirror
		}
	}
	return out
}
