package docker

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/prevant-go/prevant/internal/model"
)

// dynamicConfig mirrors the subset of Traefik's file-provider dynamic
// configuration shape that prevant needs: one router and one service per
// deployed instance, keyed by a name unique across the whole proxy.
type dynamicConfig struct {
	HTTP httpConfig `yaml:"http"`
}

type httpConfig struct {
	Routers  map[string]router  `yaml:"routers,omitempty"`
	Services map[string]service `yaml:"services,omitempty"`
}

type router struct {
	Rule        string   `yaml:"rule"`
	Service     string   `yaml:"service"`
	Middlewares []string `yaml:"middlewares,omitempty"`
}

type service struct {
	LoadBalancer loadBalancer `yaml:"loadBalancer"`
}

type loadBalancer struct {
	Servers []serverURL `yaml:"servers"`
}

type serverURL struct {
	URL string `yaml:"url"`
}

// TraefikWriter publishes one dynamic-config YAML file per app into a
// directory Traefik's file provider watches, the docker backend's
// equivalent of the kube backend's IngressRoute custom resource.
type TraefikWriter struct {
	dir string
	mu  sync.Mutex
}

// NewTraefikWriter returns a writer publishing into dir. The directory must
// already be configured as a Traefik file-provider watch target.
func NewTraefikWriter(dir string) *TraefikWriter {
	return &TraefikWriter{dir: dir}
}

func (w *TraefikWriter) path(app model.AppName) string {
	return filepath.Join(w.dir, fmt.Sprintf("prevant-%s.yaml", app.ContainerPrefix()))
}

// Write regenerates the dynamic-config file for app from its currently
// deployed services, replacing any previous revision in one atomic rename.
func (w *TraefikWriter) Write(app model.AppName, services []model.DeployableService) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	cfg := dynamicConfig{HTTP: httpConfig{
		Routers:  make(map[string]router, len(services)),
		Services: make(map[string]service, len(services)),
	}}

	for _, svc := range services {
		if svc.ContainerType.IsCompanion() && svc.Route.PathPrefix == "" {
			continue
		}
		key := fmt.Sprintf("%s-%s", app.ContainerPrefix(), strings.ToLower(svc.ServiceName))
		prefix := svc.Route.PathPrefix
		if prefix == "" {
			prefix = fmt.Sprintf("/%s/%s/", app, svc.ServiceName)
		}

		cfg.HTTP.Routers[key] = router{
			Rule:        fmt.Sprintf("PathPrefix(`%s`)", prefix),
			Service:     key,
			Middlewares: svc.Middlewares,
		}
		cfg.HTTP.Services[key] = service{LoadBalancer: loadBalancer{
			Servers: []serverURL{{URL: fmt.Sprintf("http://%s:%d", containerName(app, svc.ServiceName), svc.Port)}},
		}}
	}

	out, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshaling traefik dynamic config for %s: %w", app, err)
	}

	tmp := w.path(app) + ".tmp"
	if err := os.WriteFile(tmp, out, 0o644); err != nil {
		return fmt.Errorf("writing traefik dynamic config for %s: %w", app, err)
	}
	return os.Rename(tmp, w.path(app))
}

// Remove deletes app's dynamic-config file, tearing down its routes.
func (w *TraefikWriter) Remove(app model.AppName) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := os.Remove(w.path(app)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing traefik dynamic config for %s: %w", app, err)
	}
	return nil
}
