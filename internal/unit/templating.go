package unit

import (
	"github.com/prevant-go/prevant/internal/model"
	"github.com/prevant-go/prevant/internal/template"
)

// renderTemplates implements step 5. Service-companion entries render
// against the single service they were generated from; application-companion
// entries render against the full post-merge services list; every other
// entry renders against just the application name.
func (b *Builder) renderTemplates(appName model.AppName, entries []entry) ([]model.DeployableService, error) {
	appView := template.ApplicationView{Name: appName.String()}

	views := make(map[string]template.ServiceView, len(entries))
	allServices := make([]template.ServiceView, 0, len(entries))
	for _, e := range entries {
		v := template.ServiceView{
			Name: e.config.ServiceName,
			Port: e.config.Port,
			Type: e.config.ContainerType.String(),
		}
		views[e.config.ServiceName] = v
		allServices = append(allServices, v)
	}

	out := make([]model.DeployableService, 0, len(entries))
	for _, e := range entries {
		ctx := template.Context{Application: appView}
		switch e.config.ContainerType {
		case model.ContainerTypeServiceCompanion:
			if v, ok := views[e.originService]; ok {
				ctx.Service = &v
			}
		case model.ContainerTypeApplicationCompanion:
			ctx.Services = allServices
		}

		rendered, err := template.RenderServiceConfig(b.Templates, e.config, ctx)
		if err != nil {
			return nil, err
		}

		route := model.RouterConfig{}
		if rendered.Router != nil {
			route = *rendered.Router
		}

		out = append(out, model.DeployableService{
			ServiceConfig:   rendered,
			DeclaredVolumes: e.declaredVolumes,
			Route:           route,
		})
	}

	return out, nil
}
