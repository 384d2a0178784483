// Package unit implements the deployment unit builder: the seven-step
// algorithm that turns a CreateOrUpdate request into an ordered list of
// DeployableService ready for a backend to reconcile.
package unit

import (
	"context"
	"fmt"
	"sort"

	"github.com/prevant-go/prevant/internal/config"
	"github.com/prevant-go/prevant/internal/hook"
	"github.com/prevant-go/prevant/internal/infra"
	"github.com/prevant-go/prevant/internal/model"
	"github.com/prevant-go/prevant/internal/registry"
	"github.com/prevant-go/prevant/internal/template"
)

// Builder holds every collaborator the seven build steps need.
type Builder struct {
	Backend   infra.Backend
	Config    *config.Config
	Templates *template.Engine
	Registry  *registry.Resolver
	Hook      *hook.Runner
}

// New constructs a Builder from its collaborators.
func New(backend infra.Backend, cfg *config.Config, templates *template.Engine, resolver *registry.Resolver, deploymentHook *hook.Runner) *Builder {
	return &Builder{Backend: backend, Config: cfg, Templates: templates, Registry: resolver, Hook: deploymentHook}
}

// BuildRequest is the input to Build: the caller's desired service configs
// plus optional replicate-from source and user-defined parameters.
type BuildRequest struct {
	AppName               model.AppName
	ServiceConfigs        []model.ServiceConfig
	ReplicateFrom         *model.AppName
	UserDefinedParameters interface{}
}

// entry tracks one deployment-unit-in-progress config alongside the
// bookkeeping later steps need: which service (if any) a service-companion
// entry was generated from, so the templating pass can give it the right
// Context.
type entry struct {
	config        model.ServiceConfig
	originService string

	// declaredVolumes is populated by resolveImages from the image's
	// config blob, carried forward into the final DeployableService.
	declaredVolumes []string
}

// Build runs the seven-step algorithm and returns the ordered deployment
// unit plus the app's resolved ingress route.
func (b *Builder) Build(ctx context.Context, req BuildRequest) ([]model.DeployableService, *infra.Route, error) {
	if err := b.validateUserDefinedParameters(req); err != nil {
		return nil, nil, err
	}

	entries := make([]entry, 0, len(req.ServiceConfigs))
	for _, cfg := range req.ServiceConfigs {
		entries = append(entries, entry{config: cfg})
	}

	entries, err := b.replicate(ctx, req, entries)
	if err != nil {
		return nil, nil, err
	}

	entries = b.injectSecrets(req.AppName, entries)

	entries, err = b.expandCompanions(req.AppName, entries)
	if err != nil {
		return nil, nil, err
	}

	entries, err = b.resolveImages(ctx, entries)
	if err != nil {
		return nil, nil, err
	}

	deployables, err := b.renderTemplates(req.AppName, entries)
	if err != nil {
		return nil, nil, err
	}

	deployables, err = b.runHook(req.AppName.String(), deployables)
	if err != nil {
		return nil, nil, err
	}

	orderDeployables(deployables)

	route := &infra.Route{PathPrefix: fmt.Sprintf("/%s/", req.AppName)}
	return deployables, route, nil
}

// orderDeployables sorts by container-type index so companions reconcile
// before the services that depend on them: ApplicationCompanion=0,
// ServiceCompanion=1, Instance/Replica=2. Sort is stable so entries within
// the same class keep their construction order.
func orderDeployables(deployables []model.DeployableService) {
	sort.SliceStable(deployables, func(i, j int) bool {
		return deployables[i].ContainerType.Less(deployables[j].ContainerType)
	})
}
