package server

import (
	"time"

	"github.com/prevant-go/prevant/internal/hostmeta"
	"github.com/prevant-go/prevant/internal/model"
)

// serviceView is the wire shape of a Service, carrying its host-meta
// enrichment (the read path spec.md's "enumerate apps" operation describes)
// alongside the raw observed fields.
type serviceView struct {
	ID            string              `json:"id"`
	ServiceName   string              `json:"serviceName"`
	ContainerType model.ContainerType `json:"containerType"`
	Status        string              `json:"status"`
	StartedAt     time.Time           `json:"startedAt"`
	EndpointURL   string              `json:"endpointUrl,omitempty"`
	HostMeta      *model.WebHostMeta  `json:"hostMeta,omitempty"`
}

func toServiceView(cache *hostmeta.Cache, app model.AppName, svc model.Service) serviceView {
	view := serviceView{
		ID:            svc.ID,
		ServiceName:   svc.ServiceName,
		ContainerType: svc.ContainerType,
		Status:        svc.Status.String(),
		StartedAt:     svc.StartedAt,
		EndpointURL:   svc.EndpointURL,
	}
	if cache != nil {
		if meta, ok := cache.Get(app, svc.ID); ok {
			view.HostMeta = &meta
		}
	}
	return view
}

// appView is the wire shape of an App, its services enriched per
// toServiceView.
type appView struct {
	Name                  model.AppName `json:"name"`
	Services              []serviceView `json:"services"`
	Owners                []string      `json:"owners,omitempty"`
	UserDefinedParameters interface{}   `json:"userDefinedParameters,omitempty"`
}

func toAppView(cache *hostmeta.Cache, app model.App) appView {
	services := make([]serviceView, 0, len(app.Services))
	for _, svc := range app.Services {
		services = append(services, toServiceView(cache, app.Name, svc))
	}
	return appView{
		Name:                  app.Name,
		Services:              services,
		Owners:                app.Owners,
		UserDefinedParameters: app.UserDefinedParameters,
	}
}

// createOrUpdateBody is the object-shaped alternative to a bare
// []model.ServiceConfig body.
type createOrUpdateBody struct {
	Services    []model.ServiceConfig `json:"services"`
	UserDefined interface{}           `json:"userDefined,omitempty"`
	Owners      []string              `json:"owners,omitempty"`
}

type changeStatusBody struct {
	Status string `json:"status"`
}
